// Package memory provides an in-memory Repository used by package tests and
// db-less development runs. Status transitions honor the same compare-and-set
// semantics as the gorm store so race behavior can be exercised without a
// database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"autopilot/internal/models"
	"autopilot/internal/repository"
)

type Store struct {
	mu sync.Mutex

	nextProposalID  uint64
	nextExecutionID uint64
	nextEventID     uint64
	nextBlindSpotID uint64
	nextTradeID     uint64
	nextAntiLagID   uint64
	nextSettingsID  uint64

	proposals  map[uint64]models.Proposal
	executions []models.Execution
	events     []models.ProposalEvent
	blindSpots map[uint64]models.BlindSpot
	settings   map[string]models.UserSettings
	trades     []models.TradeRecord
	antiLag    map[uint64]models.AntiLagEvent
}

func New() *Store {
	return &Store{
		proposals:  map[uint64]models.Proposal{},
		blindSpots: map[uint64]models.BlindSpot{},
		settings:   map[string]models.UserSettings{},
		antiLag:    map[uint64]models.AntiLagEvent{},
	}
}

var _ repository.Repository = (*Store)(nil)

// --- Proposals ---------------------------------------------------------------

func (s *Store) InsertProposal(ctx context.Context, item *models.Proposal) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProposalID++
	item.ID = s.nextProposalID
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	s.proposals[item.ID] = *item
	return nil
}

func (s *Store) GetProposalByID(ctx context.Context, id uint64) (*models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.proposals[id]; ok {
		cp := p
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) GetProposalForUser(ctx context.Context, id uint64, userID string) (*models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.proposals[id]; ok && p.UserID == strings.TrimSpace(userID) {
		cp := p
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) ListProposals(ctx context.Context, params repository.ListProposalsParams) ([]models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.filterProposals(params)
	sort.Slice(items, func(i, j int) bool {
		if params.Asc != nil && *params.Asc {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil, nil
	}
	items = items[offset:]
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) CountProposals(ctx context.Context, params repository.ListProposalsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.filterProposals(params))), nil
}

func (s *Store) filterProposals(params repository.ListProposalsParams) []models.Proposal {
	out := make([]models.Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		if params.UserID != nil && *params.UserID != "" && p.UserID != *params.UserID {
			continue
		}
		if params.Status != nil && *params.Status != "" && p.Status != *params.Status {
			continue
		}
		if params.Strategy != nil && *params.Strategy != "" && p.Strategy != *params.Strategy {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *Store) UpdateProposalStatusCAS(ctx context.Context, id uint64, from, to models.ProposalStatus, updates map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	s.proposals[id] = p
	return true, nil
}

func (s *Store) ExpireDueProposals(ctx context.Context, now time.Time) (int64, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.proposals {
		if p.Status == models.ProposalPending && p.ExpiresAt.Before(now) {
			p.Status = models.ProposalExpired
			p.UpdatedAt = time.Now().UTC()
			s.proposals[id] = p
			n++
		}
	}
	return n, nil
}

func (s *Store) FailAbandonedExecuting(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.proposals {
		if p.Status == models.ProposalExecuting && p.UpdatedAt.Before(cutoff) {
			p.Status = models.ProposalFailed
			p.UpdatedAt = time.Now().UTC()
			s.proposals[id] = p
			n++
		}
	}
	return n, nil
}

// --- Executions --------------------------------------------------------------

func (s *Store) InsertExecution(ctx context.Context, item *models.Execution) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextExecutionID++
	item.ID = s.nextExecutionID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.executions = append(s.executions, *item)
	return nil
}

func (s *Store) ListExecutionsByProposalID(ctx context.Context, proposalID uint64) ([]models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Execution
	for _, e := range s.executions {
		if e.ProposalID == proposalID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- Audit trail -------------------------------------------------------------

func (s *Store) InsertProposalEvent(ctx context.Context, item *models.ProposalEvent) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	item.ID = s.nextEventID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, *item)
	return nil
}

func (s *Store) ListProposalEvents(ctx context.Context, proposalID uint64) ([]models.ProposalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ProposalEvent
	for _, e := range s.events {
		if e.ProposalID == proposalID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- Blind spots -------------------------------------------------------------

func (s *Store) InsertBlindSpot(ctx context.Context, item *models.BlindSpot) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextBlindSpotID++
	item.ID = s.nextBlindSpotID
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	s.blindSpots[item.ID] = *item
	return nil
}

func (s *Store) GetBlindSpotByID(ctx context.Context, id uint64) (*models.BlindSpot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blindSpots[id]; ok {
		cp := b
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) ListBlindSpots(ctx context.Context, params repository.ListBlindSpotsParams) ([]models.BlindSpot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BlindSpot, 0, len(s.blindSpots))
	for _, b := range s.blindSpots {
		if params.UserID != nil && *params.UserID != "" && b.UserID != *params.UserID {
			continue
		}
		if params.Category != nil && *params.Category != "" && b.Category != *params.Category {
			continue
		}
		if params.ActiveOnly && !b.Active {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListTriggeredBlindSpots(ctx context.Context, userID string, now time.Time) ([]models.BlindSpot, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BlindSpot
	for _, b := range s.blindSpots {
		if b.UserID != strings.TrimSpace(userID) || !b.Active {
			continue
		}
		if b.TriggeredUntil == nil || !b.TriggeredUntil.After(now) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetBlindSpotActive(ctx context.Context, id uint64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blindSpots[id]; ok {
		b.Active = active
		b.UpdatedAt = time.Now().UTC()
		s.blindSpots[id] = b
	}
	return nil
}

func (s *Store) SetBlindSpotTriggeredUntil(ctx context.Context, id uint64, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blindSpots[id]; ok {
		b.TriggeredUntil = until
		b.UpdatedAt = time.Now().UTC()
		s.blindSpots[id] = b
	}
	return nil
}

func (s *Store) DeleteBlindSpot(ctx context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blindSpots[id]
	if !ok || b.GuardRailed {
		return false, nil
	}
	delete(s.blindSpots, id)
	return true, nil
}

// --- Settings ----------------------------------------------------------------

func (s *Store) GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.settings[strings.TrimSpace(userID)]; ok {
		cp := item
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) UpsertUserSettings(ctx context.Context, item *models.UserSettings) error {
	if item == nil || strings.TrimSpace(item.UserID) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		if existing, ok := s.settings[item.UserID]; ok {
			item.ID = existing.ID
		} else {
			s.nextSettingsID++
			item.ID = s.nextSettingsID
		}
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	s.settings[item.UserID] = *item
	return nil
}

// --- Trade ledger ------------------------------------------------------------

func (s *Store) InsertTradeRecord(ctx context.Context, item *models.TradeRecord) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTradeID++
	item.ID = s.nextTradeID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.trades = append(s.trades, *item)
	return nil
}

func (s *Store) SumRealizedLossSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, t := range s.trades {
		if t.UserID != strings.TrimSpace(userID) || t.Status != models.TradeClosed {
			continue
		}
		if t.ClosedAt == nil || t.ClosedAt.Before(since) {
			continue
		}
		if t.RealizedPnL != nil && t.RealizedPnL.IsNegative() {
			sum = sum.Add(t.RealizedPnL.Neg())
		}
	}
	return sum, nil
}

func (s *Store) CountOpenPositions(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.trades {
		if t.UserID == strings.TrimSpace(userID) && t.Status == models.TradeOpen {
			n++
		}
	}
	return n, nil
}

// --- Anti-lag events ---------------------------------------------------------

func (s *Store) UpsertAntiLagEvent(ctx context.Context, item *models.AntiLagEvent) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		s.nextAntiLagID++
		item.ID = s.nextAntiLagID
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.antiLag[item.ID] = *item
	return nil
}

func (s *Store) GetActiveAntiLagEvent(ctx context.Context, primary, correlated string, cutoff time.Time) (*models.AntiLagEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.AntiLagEvent
	for _, e := range s.antiLag {
		if e.PrimarySymbol != strings.TrimSpace(primary) || e.CorrelatedSymbol != strings.TrimSpace(correlated) {
			continue
		}
		if e.DetectedAt.Before(cutoff) {
			continue
		}
		if latest == nil || e.DetectedAt.After(latest.DetectedAt) {
			cp := e
			latest = &cp
		}
	}
	return latest, nil
}

func (s *Store) ListAntiLagEvents(ctx context.Context, params repository.ListAntiLagEventsParams) ([]models.AntiLagEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AntiLagEvent, 0, len(s.antiLag))
	for _, e := range s.antiLag {
		if params.PrimarySymbol != nil && *params.PrimarySymbol != "" && e.PrimarySymbol != *params.PrimarySymbol {
			continue
		}
		if params.CorrelatedSymbol != nil && *params.CorrelatedSymbol != "" && e.CorrelatedSymbol != *params.CorrelatedSymbol {
			continue
		}
		if params.Since != nil && e.DetectedAt.Before(*params.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

func (s *Store) DeleteStaleAntiLagEvents(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.antiLag {
		if e.DetectedAt.Before(before) {
			delete(s.antiLag, id)
			n++
		}
	}
	return n, nil
}
