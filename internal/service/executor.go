package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autopilot/internal/config"
	"autopilot/internal/gateway"
	"autopilot/internal/metrics"
	"autopilot/internal/models"
	"autopilot/internal/notify"
	"autopilot/internal/repository"
)

// Executor submits claimed proposals to the order gateway and drives them to
// executed or failed. The proposal arrives already claimed into executing, so
// at most one Executor run is live per proposal; the transition to failed is
// the minimum guaranteed outcome on any failure past the claim.
type Executor struct {
	repo     repository.Repository
	gw       gateway.Gateway
	notifier notify.Notifier
	metrics  *metrics.Recorder
	logger   *zap.Logger
	timeout  time.Duration
}

func NewExecutor(
	repo repository.Repository,
	gw gateway.Gateway,
	notifier notify.Notifier,
	rec *metrics.Recorder,
	cfg config.GatewayConfig,
	logger *zap.Logger,
) *Executor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Executor{
		repo:     repo,
		gw:       gw,
		notifier: notifier,
		metrics:  rec,
		logger:   logger,
		timeout:  timeout,
	}
}

func (s *Executor) Execute(ctx context.Context, p *models.Proposal) (*models.Execution, error) {
	key := uuid.NewString()

	// Order parameters are validated before any gateway traffic.
	spec, err := gateway.TranslateOrder(p, "", key)
	if err != nil {
		return s.fail(ctx, p, key, "", err.Error(), err)
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	instrument, err := s.resolveInstrument(gctx, p.Symbol)
	if err != nil {
		return s.fail(ctx, p, key, "", err.Error(), err)
	}
	spec.InstrumentID = instrument.ID

	result, err := s.gw.PlaceOrder(gctx, spec)
	if err != nil {
		return s.fail(ctx, p, key, instrument.ID, err.Error(), err)
	}

	exec := &models.Execution{
		ProposalID:     p.ID,
		UserID:         p.UserID,
		IdempotencyKey: key,
		GatewayOrderID: &result.OrderID,
		InstrumentID:   instrument.ID,
		Symbol:         p.Symbol,
		Side:           p.Side,
		Size:           p.Size,
		Status:         models.ExecutionExecuted,
	}
	if err := s.repo.InsertExecution(ctx, exec); err != nil {
		// The order is live at the gateway; executed is the only truthful
		// status even though the record write failed.
		if _, casErr := s.repo.UpdateProposalStatusCAS(ctx, p.ID, models.ProposalExecuting, models.ProposalExecuted, nil); casErr != nil {
			s.warn("status write after execution-record failure", p.ID, casErr)
		}
		return nil, err
	}
	if _, err := s.repo.UpdateProposalStatusCAS(ctx, p.ID, models.ProposalExecuting, models.ProposalExecuted, nil); err != nil {
		return nil, err
	}
	p.Status = models.ProposalExecuted

	s.audit(ctx, p.ID, models.ProposalExecuting, models.ProposalExecuted, "gateway order "+result.OrderID)
	s.recordTrade(ctx, p, result.OrderID)
	s.metrics.Execution(string(models.ExecutionExecuted))
	s.metrics.Transition(string(models.ProposalExecuted))
	s.emit(ctx, notify.EventProposalExecuted, p, map[string]any{"order_id": result.OrderID})

	return exec, nil
}

func (s *Executor) resolveInstrument(ctx context.Context, symbol string) (gateway.Instrument, error) {
	instruments, err := s.gw.SearchInstrument(ctx, symbol)
	if err != nil {
		return gateway.Instrument{}, err
	}
	if len(instruments) == 0 {
		return gateway.Instrument{}, gateway.ErrContractNotFound
	}
	for _, inst := range instruments {
		if strings.EqualFold(inst.Symbol, symbol) {
			return inst, nil
		}
	}
	return instruments[0], nil
}

// fail moves the proposal to failed and records the failure. Only the status
// transition is guaranteed; the failure-Execution write and the rest of the
// bookkeeping are best-effort and never mask cause.
func (s *Executor) fail(ctx context.Context, p *models.Proposal, key, instrumentID, reason string, cause error) (*models.Execution, error) {
	ok, err := s.repo.UpdateProposalStatusCAS(ctx, p.ID, models.ProposalExecuting, models.ProposalFailed, nil)
	if err != nil {
		s.warn("failed-status write", p.ID, err)
	} else if ok {
		p.Status = models.ProposalFailed
	}

	errMsg := reason
	exec := &models.Execution{
		ProposalID:     p.ID,
		UserID:         p.UserID,
		IdempotencyKey: key,
		InstrumentID:   instrumentID,
		Symbol:         p.Symbol,
		Side:           p.Side,
		Size:           p.Size,
		Status:         models.ExecutionFailed,
		Error:          &errMsg,
	}
	if err := s.repo.InsertExecution(ctx, exec); err != nil {
		s.warn("failure-record write", p.ID, err)
	}

	s.audit(ctx, p.ID, models.ProposalExecuting, models.ProposalFailed, reason)
	s.metrics.Execution(string(models.ExecutionFailed))
	s.metrics.Transition(string(models.ProposalFailed))
	s.emit(ctx, notify.EventProposalFailed, p, map[string]any{"error": reason})

	return nil, cause
}

func (s *Executor) recordTrade(ctx context.Context, p *models.Proposal, orderID string) {
	now := time.Now().UTC()
	err := s.repo.InsertTradeRecord(ctx, &models.TradeRecord{
		UserID:         p.UserID,
		ProposalID:     &p.ID,
		Strategy:       p.Strategy,
		Symbol:         p.Symbol,
		Side:           p.Side,
		Size:           p.Size,
		GatewayOrderID: orderID,
		Status:         models.TradeOpen,
		OpenedAt:       now,
	})
	if err != nil {
		s.warn("trade-record write", p.ID, err)
	}
}

func (s *Executor) audit(ctx context.Context, id uint64, from, to models.ProposalStatus, reason string) {
	err := s.repo.InsertProposalEvent(ctx, &models.ProposalEvent{
		ProposalID: id,
		Actor:      "executor",
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
	})
	if err != nil {
		s.warn("audit write", id, err)
	}
}

func (s *Executor) emit(ctx context.Context, eventType string, p *models.Proposal, payload map[string]any) {
	s.notifier.Emit(ctx, notify.NewEvent(eventType, p.UserID, p.ID, payload))
}

func (s *Executor) warn(what string, id uint64, err error) {
	if s.logger != nil {
		s.logger.Warn(what+" failed", zap.Uint64("proposal_id", id), zap.Error(err))
	}
}
