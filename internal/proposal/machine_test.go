package proposal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"autopilot/internal/config"
	"autopilot/internal/models"
	"autopilot/internal/repository"
	"autopilot/internal/repository/memory"
	"autopilot/internal/risk"
)

// stubExecutor drives a claimed proposal to its terminal status the way the
// real executor does, without a gateway.
type stubExecutor struct {
	mu       sync.Mutex
	calls    int
	failWith error
	repo     repository.Repository
}

func (s *stubExecutor) Execute(ctx context.Context, p *models.Proposal) (*models.Execution, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.failWith != nil {
		_, _ = s.repo.UpdateProposalStatusCAS(ctx, p.ID, models.ProposalExecuting, models.ProposalFailed, nil)
		msg := s.failWith.Error()
		_ = s.repo.InsertExecution(ctx, &models.Execution{
			ProposalID: p.ID,
			UserID:     p.UserID,
			Symbol:     p.Symbol,
			Side:       p.Side,
			Size:       p.Size,
			Status:     models.ExecutionFailed,
			Error:      &msg,
		})
		return nil, s.failWith
	}

	orderID := "gw-1"
	exec := &models.Execution{
		ProposalID:     p.ID,
		UserID:         p.UserID,
		GatewayOrderID: &orderID,
		Symbol:         p.Symbol,
		Side:           p.Side,
		Size:           p.Size,
		Status:         models.ExecutionExecuted,
	}
	if err := s.repo.InsertExecution(ctx, exec); err != nil {
		return nil, err
	}
	_, _ = s.repo.UpdateProposalStatusCAS(ctx, p.ID, models.ProposalExecuting, models.ProposalExecuted, nil)
	return exec, nil
}

func seedAllowSettings(t *testing.T, repo *memory.Store) {
	t.Helper()
	err := repo.UpsertUserSettings(context.Background(), &models.UserSettings{
		UserID:            "u1",
		AutopilotMode:     models.AutopilotFull,
		MaxDailyLossUSD:   decimal.NewFromInt(1000),
		MaxPositionSize:   decimal.NewFromInt(100),
		MaxOpenPositions:  50,
		Timezone:          "UTC",
		AccountBalanceUSD: decimal.NewFromInt(50000),
	})
	if err != nil {
		t.Fatalf("seed settings: %v", err)
	}
}

func newTestMachine(t *testing.T, repo *memory.Store) (*Machine, *stubExecutor) {
	t.Helper()
	gate := risk.NewGate(repo, risk.NewMemoryCache(30*time.Second), config.RiskConfig{}, nil)
	exec := &stubExecutor{repo: repo}
	m := NewMachine(repo, gate, exec, nil, nil, config.PipelineConfig{
		ProposalTTL:       5 * time.Minute,
		StaleRecheckAfter: time.Minute,
	}, nil)
	return m, exec
}

func marketSignal() Signal {
	return Signal{
		Strategy:  "momentum",
		Symbol:    "NQ",
		Side:      models.SideBuy,
		Size:      decimal.NewFromInt(2),
		OrderKind: models.OrderMarket,
		Reasoning: "breakout above opening range",
	}
}

func mustCreate(t *testing.T, m *Machine) *models.Proposal {
	t.Helper()
	p, err := m.Create(context.Background(), "u1", marketSignal())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return p
}

func mustApprove(t *testing.T, m *Machine, id uint64) {
	t.Helper()
	if _, err := m.Acknowledge(context.Background(), id, "u1", DecisionApprove, "u1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func TestCreateInsertsPendingWithExpiry(t *testing.T) {
	repo := memory.New()
	seedAllowSettings(t, repo)
	m, _ := newTestMachine(t, repo)

	p := mustCreate(t, m)
	if p.Status != models.ProposalPending {
		t.Fatalf("expected pending, got %s", p.Status)
	}
	if got := p.ExpiresAt.Sub(p.CreatedAt); got != 5*time.Minute {
		t.Fatalf("expected 5m horizon, got %s", got)
	}

	events, err := repo.ListProposalEvents(context.Background(), p.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one audit event, got %d (%v)", len(events), err)
	}
	if events[0].ToStatus != models.ProposalPending {
		t.Fatalf("unexpected audit event %+v", events[0])
	}
}

func TestCreateRejectsMalformedSignal(t *testing.T) {
	repo := memory.New()
	seedAllowSettings(t, repo)
	m, _ := newTestMachine(t, repo)

	sig := marketSignal()
	sig.Size = decimal.Zero
	_, err := m.Create(context.Background(), "u1", sig)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateBlockedByGate(t *testing.T) {
	repo := memory.New()
	m, _ := newTestMachine(t, repo)

	// No settings row: the gate blocks on its first check.
	_, err := m.Create(context.Background(), "u1", marketSignal())
	var berr *BlockedError
	if !errors.As(err, &berr) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if berr.Reason == "" {
		t.Fatalf("blocked error must carry a reason")
	}
}

func TestAcknowledgeApproveAndReject(t *testing.T) {
	repo := memory.New()
	seedAllowSettings(t, repo)
	m, _ := newTestMachine(t, repo)
	ctx := context.Background()

	p1 := mustCreate(t, m)
	got, err := m.Acknowledge(ctx, p1.ID, "u1", DecisionApprove, "u1")
	if err != nil || got.Status != models.ProposalApproved {
		t.Fatalf("approve: %v %+v", err, got)
	}

	p2 := mustCreate(t, m)
	got, err = m.Acknowledge(ctx, p2.ID, "u1", DecisionReject, "u1")
	if err != nil || got.Status != models.ProposalRejected {
		t.Fatalf("reject: %v %+v", err, got)
	}

	// Terminal states do not accept another decision.
	if _, err := m.Acknowledge(ctx, p2.ID, "u1", DecisionApprove, "u1"); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected AlreadyDecided, got %v", err)
	}
}

func TestAcknowledgeUnknownProposal(t *testing.T) {
	repo := memory.New()
	seedAllowSettings(t, repo)
	m, _ := newTestMachine(t, repo)

	if _, err := m.Acknowledge(context.Background(), 99, "u1", DecisionApprove, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	// A proposal owned by someone else is NotFound, not a leak.
	p := mustCreate(t, m)
	if _, err := m.Acknowledge(context.Background(), p.ID, "u2", DecisionApprove, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound for foreign owner, got %v", err)
	}
}

func TestAcknowledgePastExpiryYieldsExpired(t *testing.T) {
	repo := memory.New()
	seedAllowSettings(t, repo)
	m, _ := newTestMachine(t, repo)
	ctx := context.Background()

	p := mustCreate(t, m)
	m.now = func() time.Time { return p.ExpiresAt.Add(time.Second) }

	if _, err := m.Acknowledge(ctx, p.ID, "u1", DecisionApprove, "u1"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected Expired, got %v", err)
	}
	cur, _ := repo.GetProposalByID(ctx, p.ID)
	if cur.Status != models.ProposalExpired {
		t.Fatalf("expected lazy transition to expired, got %s", cur.Status)
	}

	// Re-acknowledge observes the terminal expired state.
	if _, err := m.Acknowledge(ctx, p.ID, "u1", DecisionReject, "u1"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected Expired on repeat, got %v", err)
	}
}

func TestStaleApproveRecheckRejectsOnFreshBlock(t *testing.T) {
	repo := memory.New()
	seedAllowSettings(t, repo)
	m, _ := newTestMachine(t, repo)
	ctx := context.Background()

	p := mustCreate(t, m)

	// The account breaches the daily loss limit after the proposal was
	// created; the approve arrives past the staleness threshold.
	pnl := decimal.NewFromInt(-2000)
	closed := time.Now().UTC()
	_ = repo.InsertTradeRecord(ctx, &models.TradeRecord{
		UserID:      "u1",
		Strategy:    "momentum",
		Symbol:      "NQ",
		Side:        models.SideSell,
		Size:        decimal.NewFromInt(1),
		Status:      models.TradeClosed,
		RealizedPnL: &pnl,
		OpenedAt:    closed.Add(-time.Hour),
		ClosedAt:    &closed,
	})
	// The allow verdict cached at create time is still live; the stale
	// re-check must consult the repository anyway.
	m.now = func() time.Time { return p.CreatedAt.Add(2 * time.Minute) }

	_, err := m.Acknowledge(ctx, p.ID, "u1", DecisionApprove, "u1")
	var berr *BlockedError
	if !errors.As(err, &berr) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	cur, _ := repo.GetProposalByID(ctx, p.ID)
	if cur.Status != models.ProposalRejected {
		t.Fatalf("stale approve with fresh block must end rejected, got %s", cur.Status)
	}
}

func TestRejectInvalidatesVerdictCache(t *testing.T) {
	repo := memory.New()
	seedAllowSettings(t, repo)
	m, _ := newTestMachine(t, repo)
	ctx := context.Background()

	p := mustCreate(t, m) // caches an allow verdict for u1

	// The loss lands after the allow was cached.
	pnl := decimal.NewFromInt(-2000)
	closed := time.Now().UTC()
	_ = repo.InsertTradeRecord(ctx, &models.TradeRecord{
		UserID:      "u1",
		Strategy:    "momentum",
		Symbol:      "NQ",
		Side:        models.SideSell,
		Size:        decimal.NewFromInt(1),
		Status:      models.TradeClosed,
		RealizedPnL: &pnl,
		OpenedAt:    closed.Add(-time.Hour),
		ClosedAt:    &closed,
	})

	if _, err := m.Acknowledge(ctx, p.ID, "u1", DecisionReject, "u1"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// The rejection invalidated the cached allow, so the next create
	// recomputes and blocks.
	_, err := m.Create(ctx, "u1", marketSignal())
	var berr *BlockedError
	if !errors.As(err, &berr) {
		t.Fatalf("expected fresh block after rejection, got %v", err)
	}
}

func TestConcurrentRejectsHaveOneWinner(t *testing.T) {
	repo := memory.New()
	seedAllowSettings(t, repo)
	m, _ := newTestMachine(t, repo)
	ctx := context.Background()

	p := mustCreate(t, m)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Acknowledge(ctx, p.ID, "u1", DecisionReject, "u1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, decided int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyDecided):
			decided++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || decided != 1 {
		t.Fatalf("expected 1 winner and 1 AlreadyDecided, got %d/%d", wins, decided)
	}
	cur, _ := repo.GetProposalByID(ctx, p.ID)
	if cur.Status != models.ProposalRejected {
		t.Fatalf("expected rejected, got %s", cur.Status)
	}
}

func TestConcurrentExecutesYieldOneExecution(t *testing.T) {
	repo := memory.New()
	seedAllowSettings(t, repo)
	m, exec := newTestMachine(t, repo)
	ctx := context.Background()

	p := mustCreate(t, m)
	mustApprove(t, m, p.ID)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Execute(ctx, p.ID, "u1", "u1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, terminal int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyTerminal):
			terminal++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || terminal != n-1 {
		t.Fatalf("expected 1 winner and %d AlreadyTerminal, got %d/%d", n-1, wins, terminal)
	}
	if exec.calls != 1 {
		t.Fatalf("executor must run exactly once, ran %d times", exec.calls)
	}

	execs, _ := repo.ListExecutionsByProposalID(ctx, p.ID)
	var executed int
	for _, e := range execs {
		if e.Status == models.ExecutionExecuted {
			executed++
		}
	}
	if executed != 1 {
		t.Fatalf("expected exactly one executed Execution, got %d", executed)
	}
	cur, _ := repo.GetProposalByID(ctx, p.ID)
	if cur.Status != models.ProposalExecuted {
		t.Fatalf("expected executed, got %s", cur.Status)
	}
}

func TestExecuteRequiresApproval(t *testing.T) {
	repo := memory.New()
	seedAllowSettings(t, repo)
	m, _ := newTestMachine(t, repo)
	ctx := context.Background()

	p := mustCreate(t, m)
	if _, err := m.Execute(ctx, p.ID, "u1", "u1"); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected NotApproved for pending, got %v", err)
	}
}

func TestExecuteFailureIsTerminal(t *testing.T) {
	repo := memory.New()
	seedAllowSettings(t, repo)
	m, exec := newTestMachine(t, repo)
	ctx := context.Background()

	p := mustCreate(t, m)
	mustApprove(t, m, p.ID)
	exec.failWith = errors.New("order rejected by broker")

	if _, err := m.Execute(ctx, p.ID, "u1", "u1"); err == nil {
		t.Fatalf("expected execution failure")
	}
	cur, _ := repo.GetProposalByID(ctx, p.ID)
	if cur.Status != models.ProposalFailed {
		t.Fatalf("expected failed, got %s", cur.Status)
	}

	// Retry after terminal failure is refused; no new proposal, no new order.
	exec.failWith = nil
	if _, err := m.Execute(ctx, p.ID, "u1", "u1"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected AlreadyTerminal, got %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("executor must not run after terminal status, ran %d times", exec.calls)
	}
}

func TestExpireSweepsOnlyDuePending(t *testing.T) {
	repo := memory.New()
	seedAllowSettings(t, repo)
	m, _ := newTestMachine(t, repo)
	ctx := context.Background()

	first := mustCreate(t, m)
	second := mustCreate(t, m)
	approved := mustCreate(t, m)
	mustApprove(t, m, approved.ID)

	sweepAt := first.ExpiresAt.Add(time.Minute)
	n, err := m.Expire(ctx, sweepAt)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 swept (both pending), got %d", n)
	}

	cur, _ := repo.GetProposalByID(ctx, second.ID)
	if cur.Status != models.ProposalExpired {
		t.Fatalf("expected expired, got %s", cur.Status)
	}
	cur, _ = repo.GetProposalByID(ctx, approved.ID)
	if cur.Status != models.ProposalApproved {
		t.Fatalf("sweep must not touch approved proposals, got %s", cur.Status)
	}

	// Idempotent: a second sweep with the same clock finds nothing.
	n, err = m.Expire(ctx, sweepAt)
	if err != nil || n != 0 {
		t.Fatalf("expected idempotent sweep, got %d (%v)", n, err)
	}
}

func TestRecoverAbandonedExecutingClaim(t *testing.T) {
	repo := memory.New()
	seedAllowSettings(t, repo)
	m, _ := newTestMachine(t, repo)
	ctx := context.Background()

	p := mustCreate(t, m)
	mustApprove(t, m, p.ID)
	ok, err := repo.UpdateProposalStatusCAS(ctx, p.ID, models.ProposalApproved, models.ProposalExecuting, nil)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	// The claim is fresh; the sweep leaves it alone.
	n, err := m.RecoverAbandoned(ctx, time.Time{})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 0 {
		t.Fatalf("fresh claim must not be recovered, got %d", n)
	}

	// Past the recovery window the orphaned claim is closed as failed.
	n, err = m.RecoverAbandoned(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("recover aged: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered claim, got %d", n)
	}
	cur, _ := repo.GetProposalByID(ctx, p.ID)
	if cur.Status != models.ProposalFailed {
		t.Fatalf("abandoned claim must end failed, got %s", cur.Status)
	}
	if _, err := m.Execute(ctx, p.ID, "u1", "u1"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected AlreadyTerminal after recovery, got %v", err)
	}
}
