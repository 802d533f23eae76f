// Package proposal owns the proposal lifecycle. Every status write is a
// compare-and-set on the previously observed status, so concurrent decisions,
// executions and expiry sweeps resolve with exactly one winner; the loser
// observes the post-transition status and fails with the matching error.
package proposal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autopilot/internal/config"
	"autopilot/internal/metrics"
	"autopilot/internal/models"
	"autopilot/internal/notify"
	"autopilot/internal/repository"
	"autopilot/internal/risk"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Signal is an incoming trade candidate from a strategy.
type Signal struct {
	Strategy        string           `json:"strategy"`
	Symbol          string           `json:"symbol"`
	Side            models.OrderSide `json:"side"`
	Size            decimal.Decimal  `json:"size"`
	OrderKind       models.OrderKind `json:"order_kind"`
	LimitPrice      *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice       *decimal.Decimal `json:"stop_price,omitempty"`
	TrailTicks      *int             `json:"trail_ticks,omitempty"`
	StopLossTicks   *int             `json:"stop_loss_ticks,omitempty"`
	TakeProfitTicks *int             `json:"take_profit_ticks,omitempty"`
	Reasoning       string           `json:"reasoning"`
}

// OrderExecutor places the order for a proposal that has been claimed into
// executing and drives it to its terminal status.
type OrderExecutor interface {
	Execute(ctx context.Context, p *models.Proposal) (*models.Execution, error)
}

type Machine struct {
	repo     repository.Repository
	gate     *risk.Gate
	executor OrderExecutor
	notifier notify.Notifier
	metrics  *metrics.Recorder
	logger   *zap.Logger

	ttl          time.Duration
	staleAfter   time.Duration
	recoverAfter time.Duration
	now          func() time.Time
}

func NewMachine(
	repo repository.Repository,
	gate *risk.Gate,
	executor OrderExecutor,
	notifier notify.Notifier,
	rec *metrics.Recorder,
	cfg config.PipelineConfig,
	logger *zap.Logger,
) *Machine {
	if cfg.ProposalTTL <= 0 {
		cfg.ProposalTTL = 5 * time.Minute
	}
	if cfg.StaleRecheckAfter <= 0 {
		cfg.StaleRecheckAfter = time.Minute
	}
	if cfg.ExecutingRecoveryAfter <= 0 {
		cfg.ExecutingRecoveryAfter = 10 * time.Minute
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Machine{
		repo:         repo,
		gate:         gate,
		executor:     executor,
		notifier:     notifier,
		metrics:      rec,
		logger:       logger,
		ttl:          cfg.ProposalTTL,
		staleAfter:   cfg.StaleRecheckAfter,
		recoverAfter: cfg.ExecutingRecoveryAfter,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

var validKinds = map[models.OrderKind]bool{
	models.OrderMarket:       true,
	models.OrderLimit:        true,
	models.OrderStop:         true,
	models.OrderTrailingStop: true,
	models.OrderJoinBid:      true,
	models.OrderJoinAsk:      true,
}

func validateSignal(userID string, sig Signal) error {
	if userID == "" {
		return Validationf("user id is required")
	}
	if sig.Strategy == "" {
		return Validationf("strategy is required")
	}
	if sig.Symbol == "" {
		return Validationf("symbol is required")
	}
	if sig.Side != models.SideBuy && sig.Side != models.SideSell {
		return Validationf("side must be buy or sell, got %q", sig.Side)
	}
	if !sig.Size.IsPositive() {
		return Validationf("size must be positive, got %s", sig.Size)
	}
	if !validKinds[sig.OrderKind] {
		return Validationf("unknown order kind %q", sig.OrderKind)
	}
	return nil
}

// Create runs the risk gate and inserts a pending proposal with a fixed
// expiry horizon. A blocked verdict surfaces as BlockedError and nothing is
// persisted.
func (m *Machine) Create(ctx context.Context, userID string, sig Signal) (*models.Proposal, error) {
	if err := validateSignal(userID, sig); err != nil {
		return nil, err
	}

	verdict, err := m.gate.Evaluate(ctx, risk.ProposedTrade{
		UserID:   userID,
		Strategy: sig.Strategy,
		Symbol:   sig.Symbol,
		Side:     sig.Side,
		Size:     sig.Size,
	})
	if err != nil {
		return nil, err
	}
	if verdict.Blocked {
		m.metrics.RiskBlock(verdict.Check)
		return nil, &BlockedError{Check: verdict.Check, Reason: verdict.Reason}
	}

	now := m.now()
	p := &models.Proposal{
		UserID:          userID,
		Strategy:        sig.Strategy,
		Symbol:          sig.Symbol,
		Side:            sig.Side,
		Size:            sig.Size,
		OrderKind:       sig.OrderKind,
		LimitPrice:      sig.LimitPrice,
		StopPrice:       sig.StopPrice,
		TrailTicks:      sig.TrailTicks,
		StopLossTicks:   sig.StopLossTicks,
		TakeProfitTicks: sig.TakeProfitTicks,
		Reasoning:       sig.Reasoning,
		Status:          models.ProposalPending,
		ExpiresAt:       now.Add(m.ttl),
		CreatedAt:       now,
	}
	if err := m.repo.InsertProposal(ctx, p); err != nil {
		return nil, err
	}

	m.audit(ctx, p.ID, models.ProposalDraft, models.ProposalPending, sig.Strategy, sig.Reasoning)
	m.metrics.ProposalCreated()
	m.emit(ctx, notify.EventProposalCreated, p)
	return p, nil
}

// Acknowledge applies a human or policy decision to a pending proposal. An
// approve past the staleness threshold re-runs the risk gate; a fresh block
// moves the proposal to rejected and fails with BlockedError instead of
// approving.
func (m *Machine) Acknowledge(ctx context.Context, id uint64, userID string, decision Decision, actor string) (*models.Proposal, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, Validationf("decision must be approve or reject, got %q", decision)
	}

	p, err := m.repo.GetProposalForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	if p.Status != models.ProposalPending {
		return nil, ackConflict(p.Status)
	}

	now := m.now()
	if p.ExpiresAt.Before(now) {
		ok, err := m.repo.UpdateProposalStatusCAS(ctx, id, models.ProposalPending, models.ProposalExpired, nil)
		if err != nil {
			return nil, err
		}
		if ok {
			m.audit(ctx, id, models.ProposalPending, models.ProposalExpired, actor, "expiry passed before decision")
			m.metrics.Transition(string(models.ProposalExpired))
			p.Status = models.ProposalExpired
			m.emit(ctx, notify.EventProposalExpired, p)
		}
		return nil, ErrExpired
	}

	if decision == DecisionReject {
		ok, err := m.repo.UpdateProposalStatusCAS(ctx, id, models.ProposalPending, models.ProposalRejected, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, m.ackLost(ctx, id)
		}
		p.Status = models.ProposalRejected
		m.audit(ctx, id, models.ProposalPending, models.ProposalRejected, actor, "")
		m.gate.Invalidate(ctx, userID)
		m.metrics.Transition(string(models.ProposalRejected))
		m.emit(ctx, notify.EventProposalRejected, p)
		return p, nil
	}

	if now.Sub(p.CreatedAt) > m.staleAfter {
		verdict, err := m.gate.EvaluateFresh(ctx, risk.ProposedTrade{
			UserID:   userID,
			Strategy: p.Strategy,
			Symbol:   p.Symbol,
			Side:     p.Side,
			Size:     p.Size,
		})
		if err != nil {
			return nil, err
		}
		if verdict.Blocked {
			ok, err := m.repo.UpdateProposalStatusCAS(ctx, id, models.ProposalPending, models.ProposalRejected, nil)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, m.ackLost(ctx, id)
			}
			p.Status = models.ProposalRejected
			m.audit(ctx, id, models.ProposalPending, models.ProposalRejected, actor, verdict.Reason)
			m.gate.Invalidate(ctx, userID)
			m.metrics.RiskBlock(verdict.Check)
			m.metrics.Transition(string(models.ProposalRejected))
			m.emit(ctx, notify.EventProposalRejected, p)
			return nil, &BlockedError{Check: verdict.Check, Reason: verdict.Reason}
		}
	}

	ok, err := m.repo.UpdateProposalStatusCAS(ctx, id, models.ProposalPending, models.ProposalApproved, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, m.ackLost(ctx, id)
	}
	p.Status = models.ProposalApproved
	m.audit(ctx, id, models.ProposalPending, models.ProposalApproved, actor, "")
	m.metrics.Transition(string(models.ProposalApproved))
	m.emit(ctx, notify.EventProposalApproved, p)
	return p, nil
}

// Execute claims an approved proposal into executing and delegates order
// placement to the executor, which drives the proposal to executed or failed.
// Only one of N concurrent calls wins the claim; the rest fail with
// AlreadyTerminal.
func (m *Machine) Execute(ctx context.Context, id uint64, userID, actor string) (*models.Execution, error) {
	p, err := m.repo.GetProposalForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	switch p.Status {
	case models.ProposalApproved:
	case models.ProposalDraft, models.ProposalPending:
		return nil, ErrNotApproved
	default:
		return nil, ErrAlreadyTerminal
	}

	ok, err := m.repo.UpdateProposalStatusCAS(ctx, id, models.ProposalApproved, models.ProposalExecuting, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, m.execLost(ctx, id)
	}
	m.audit(ctx, id, models.ProposalApproved, models.ProposalExecuting, actor, "")
	p.Status = models.ProposalExecuting

	return m.executor.Execute(ctx, p)
}

// Expire is the sweeper entry point: every pending proposal past its expiry
// moves to expired. Safe to run concurrently or redundantly.
func (m *Machine) Expire(ctx context.Context, now time.Time) (int64, error) {
	if now.IsZero() {
		now = m.now()
	}
	n, err := m.repo.ExpireDueProposals(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.metrics.Swept(n)
		if m.logger != nil {
			m.logger.Info("expired pending proposals", zap.Int64("count", n))
		}
	}
	return n, nil
}

// RecoverAbandoned fails executing claims with no update inside the recovery
// window. Such a claim means the process died between claiming and the
// executor's terminal write; whether an order went out cannot be verified, so
// the row is closed as failed rather than re-submitted.
func (m *Machine) RecoverAbandoned(ctx context.Context, now time.Time) (int64, error) {
	if now.IsZero() {
		now = m.now()
	}
	n, err := m.repo.FailAbandonedExecuting(ctx, now.Add(-m.recoverAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 && m.logger != nil {
		m.logger.Warn("failed abandoned executing claims", zap.Int64("count", n))
	}
	return n, nil
}

func (m *Machine) Get(ctx context.Context, id uint64, userID string) (*models.Proposal, []models.ProposalEvent, []models.Execution, error) {
	p, err := m.repo.GetProposalForUser(ctx, id, userID)
	if err != nil {
		return nil, nil, nil, err
	}
	if p == nil {
		return nil, nil, nil, ErrNotFound
	}
	events, err := m.repo.ListProposalEvents(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	execs, err := m.repo.ListExecutionsByProposalID(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return p, events, execs, nil
}

func (m *Machine) List(ctx context.Context, params repository.ListProposalsParams) ([]models.Proposal, int64, error) {
	items, err := m.repo.ListProposals(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := m.repo.CountProposals(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ackLost maps a lost acknowledge CAS to the error matching the status the
// winner left behind.
func (m *Machine) ackLost(ctx context.Context, id uint64) error {
	p, err := m.repo.GetProposalByID(ctx, id)
	if err != nil || p == nil {
		return ErrAlreadyDecided
	}
	return ackConflict(p.Status)
}

func ackConflict(status models.ProposalStatus) error {
	if status == models.ProposalExpired {
		return ErrExpired
	}
	return ErrAlreadyDecided
}

func (m *Machine) execLost(ctx context.Context, id uint64) error {
	p, err := m.repo.GetProposalByID(ctx, id)
	if err != nil || p == nil {
		return ErrAlreadyTerminal
	}
	switch p.Status {
	case models.ProposalDraft, models.ProposalPending:
		return ErrNotApproved
	case models.ProposalExpired:
		return ErrExpired
	default:
		return ErrAlreadyTerminal
	}
}

// audit is best-effort bookkeeping; failures are log-only.
func (m *Machine) audit(ctx context.Context, id uint64, from, to models.ProposalStatus, actor, reason string) {
	err := m.repo.InsertProposalEvent(ctx, &models.ProposalEvent{
		ProposalID: id,
		Actor:      actor,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
	})
	if err != nil && m.logger != nil {
		m.logger.Warn("audit write failed", zap.Uint64("proposal_id", id), zap.Error(err))
	}
}

func (m *Machine) emit(ctx context.Context, eventType string, p *models.Proposal) {
	m.notifier.Emit(ctx, notify.NewEvent(eventType, p.UserID, p.ID, map[string]any{
		"status":   string(p.Status),
		"strategy": p.Strategy,
		"symbol":   p.Symbol,
		"side":     string(p.Side),
		"size":     p.Size.String(),
	}))
}
