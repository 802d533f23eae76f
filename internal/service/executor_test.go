package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"autopilot/internal/config"
	"autopilot/internal/gateway"
	"autopilot/internal/models"
	"autopilot/internal/proposal"
	"autopilot/internal/repository/memory"
)

type stubGateway struct {
	mu          sync.Mutex
	searches    int
	places      int
	instruments []gateway.Instrument
	searchErr   error
	placeErr    error
	lastSpec    gateway.OrderSpec
}

func (g *stubGateway) SearchInstrument(ctx context.Context, query string) ([]gateway.Instrument, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.searches++
	if g.searchErr != nil {
		return nil, g.searchErr
	}
	return g.instruments, nil
}

func (g *stubGateway) PlaceOrder(ctx context.Context, spec gateway.OrderSpec) (gateway.PlaceResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.places++
	g.lastSpec = spec
	if g.placeErr != nil {
		return gateway.PlaceResult{}, g.placeErr
	}
	return gateway.PlaceResult{OrderID: "gw-42"}, nil
}

func claimedProposal(t *testing.T, repo *memory.Store, mut func(*models.Proposal)) *models.Proposal {
	t.Helper()
	p := &models.Proposal{
		UserID:    "u1",
		Strategy:  "momentum",
		Symbol:    "NQ",
		Side:      models.SideBuy,
		Size:      decimal.NewFromInt(2),
		OrderKind: models.OrderMarket,
		Status:    models.ProposalExecuting,
		ExpiresAt: time.Now().UTC().Add(5 * time.Minute),
	}
	if mut != nil {
		mut(p)
	}
	if err := repo.InsertProposal(context.Background(), p); err != nil {
		t.Fatalf("insert proposal: %v", err)
	}
	return p
}

func newTestExecutor(repo *memory.Store, gw gateway.Gateway) *Executor {
	return NewExecutor(repo, gw, nil, nil, config.GatewayConfig{Timeout: 5 * time.Second}, nil)
}

func TestExecuteSuccess(t *testing.T) {
	repo := memory.New()
	gw := &stubGateway{instruments: []gateway.Instrument{{ID: "inst-nq", Symbol: "NQ"}}}
	p := claimedProposal(t, repo, nil)
	ctx := context.Background()

	exec, err := newTestExecutor(repo, gw).Execute(ctx, p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != models.ExecutionExecuted || exec.GatewayOrderID == nil || *exec.GatewayOrderID != "gw-42" {
		t.Fatalf("unexpected execution %+v", exec)
	}
	if gw.lastSpec.InstrumentID != "inst-nq" || gw.lastSpec.OrderType != gateway.TypeMarket {
		t.Fatalf("unexpected order spec %+v", gw.lastSpec)
	}
	if gw.lastSpec.IdempotencyKey == "" {
		t.Fatalf("idempotency key missing on submitted spec")
	}

	cur, _ := repo.GetProposalByID(ctx, p.ID)
	if cur.Status != models.ProposalExecuted {
		t.Fatalf("expected executed, got %s", cur.Status)
	}
	open, _ := repo.CountOpenPositions(ctx, "u1")
	if open != 1 {
		t.Fatalf("expected one open trade record, got %d", open)
	}
}

func TestExecuteTrailingStopWithoutTrailFailsBeforeGateway(t *testing.T) {
	repo := memory.New()
	gw := &stubGateway{instruments: []gateway.Instrument{{ID: "inst-nq", Symbol: "NQ"}}}
	p := claimedProposal(t, repo, func(p *models.Proposal) {
		p.OrderKind = models.OrderTrailingStop
		p.TrailTicks = nil
	})
	ctx := context.Background()

	_, err := newTestExecutor(repo, gw).Execute(ctx, p)
	var verr *proposal.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if gw.searches != 0 || gw.places != 0 {
		t.Fatalf("gateway must not be called on validation failure, got %d/%d", gw.searches, gw.places)
	}

	cur, _ := repo.GetProposalByID(ctx, p.ID)
	if cur.Status != models.ProposalFailed {
		t.Fatalf("expected failed, got %s", cur.Status)
	}
	execs, _ := repo.ListExecutionsByProposalID(ctx, p.ID)
	if len(execs) != 1 || execs[0].Status != models.ExecutionFailed || execs[0].Error == nil {
		t.Fatalf("expected one failed execution with error, got %+v", execs)
	}
}

func TestExecuteContractNotFound(t *testing.T) {
	repo := memory.New()
	gw := &stubGateway{}
	p := claimedProposal(t, repo, nil)
	ctx := context.Background()

	_, err := newTestExecutor(repo, gw).Execute(ctx, p)
	if !errors.Is(err, gateway.ErrContractNotFound) {
		t.Fatalf("expected ContractNotFound, got %v", err)
	}
	cur, _ := repo.GetProposalByID(ctx, p.ID)
	if cur.Status != models.ProposalFailed {
		t.Fatalf("expected failed, got %s", cur.Status)
	}
}

func TestExecuteGatewayRejection(t *testing.T) {
	repo := memory.New()
	gw := &stubGateway{
		instruments: []gateway.Instrument{{ID: "inst-nq", Symbol: "NQ"}},
		placeErr:    &gateway.Error{Status: 422, Message: "insufficient margin"},
	}
	p := claimedProposal(t, repo, nil)
	ctx := context.Background()

	_, err := newTestExecutor(repo, gw).Execute(ctx, p)
	var gerr *gateway.Error
	if !errors.As(err, &gerr) || gerr.Status != 422 {
		t.Fatalf("expected gateway error, got %v", err)
	}

	cur, _ := repo.GetProposalByID(ctx, p.ID)
	if cur.Status != models.ProposalFailed {
		t.Fatalf("expected failed, got %s", cur.Status)
	}
	execs, _ := repo.ListExecutionsByProposalID(ctx, p.ID)
	if len(execs) != 1 || execs[0].Error == nil {
		t.Fatalf("expected failed execution carrying the gateway error, got %+v", execs)
	}
	open, _ := repo.CountOpenPositions(ctx, "u1")
	if open != 0 {
		t.Fatalf("failed execution must not open a trade record, got %d", open)
	}
}

func TestResolveInstrumentPrefersExactSymbol(t *testing.T) {
	repo := memory.New()
	gw := &stubGateway{instruments: []gateway.Instrument{
		{ID: "inst-nqm", Symbol: "NQM5"},
		{ID: "inst-nq", Symbol: "nq"},
	}}
	p := claimedProposal(t, repo, nil)

	if _, err := newTestExecutor(repo, gw).Execute(context.Background(), p); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gw.lastSpec.InstrumentID != "inst-nq" {
		t.Fatalf("expected case-insensitive exact match, got %s", gw.lastSpec.InstrumentID)
	}
}
