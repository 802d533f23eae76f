// Package metrics exposes Prometheus counters for the proposal pipeline.
// Every method tolerates a nil receiver so call sites stay unconditional.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Recorder struct {
	proposalsCreated    prometheus.Counter
	proposalTransitions *prometheus.CounterVec
	riskBlocks          *prometheus.CounterVec
	executions          *prometheus.CounterVec
	sweptProposals      prometheus.Counter
}

func NewRecorder() *Recorder {
	return &Recorder{
		proposalsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "autopilot_proposals_created_total",
			Help: "Proposals accepted into the pipeline",
		}),
		proposalTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_proposal_transitions_total",
			Help: "Proposal status transitions by target status",
		}, []string{"to"}),
		riskBlocks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_risk_blocks_total",
			Help: "Risk gate blocks by check",
		}, []string{"check"}),
		executions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_executions_total",
			Help: "Order gateway submissions by result",
		}, []string{"result"}),
		sweptProposals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "autopilot_proposals_swept_total",
			Help: "Pending proposals expired by the sweeper",
		}),
	}
}

func (r *Recorder) ProposalCreated() {
	if r != nil {
		r.proposalsCreated.Inc()
	}
}

func (r *Recorder) Transition(to string) {
	if r != nil {
		r.proposalTransitions.WithLabelValues(to).Inc()
	}
}

func (r *Recorder) RiskBlock(check string) {
	if r != nil {
		r.riskBlocks.WithLabelValues(check).Inc()
	}
}

func (r *Recorder) Execution(result string) {
	if r != nil {
		r.executions.WithLabelValues(result).Inc()
	}
}

func (r *Recorder) Swept(n int64) {
	if r != nil && n > 0 {
		r.sweptProposals.Add(float64(n))
	}
}
