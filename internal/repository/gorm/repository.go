package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"autopilot/internal/models"
	"autopilot/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Proposals ---------------------------------------------------------------

func (s *Store) InsertProposal(ctx context.Context, item *models.Proposal) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetProposalByID(ctx context.Context, id uint64) (*models.Proposal, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Proposal
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetProposalForUser(ctx context.Context, id uint64, userID string) (*models.Proposal, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Proposal
	err := s.db.WithContext(ctx).First(&item, "id = ? AND user_id = ?", id, strings.TrimSpace(userID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListProposals(ctx context.Context, params repository.ListProposalsParams) ([]models.Proposal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.proposalQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.Proposal
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountProposals(ctx context.Context, params repository.ListProposalsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.proposalQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) proposalQuery(ctx context.Context, params repository.ListProposalsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Proposal{})
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.Status != nil && *params.Status != "" {
		query = query.Where("status = ?", string(*params.Status))
	}
	if params.Strategy != nil && strings.TrimSpace(*params.Strategy) != "" {
		query = query.Where("strategy = ?", strings.TrimSpace(*params.Strategy))
	}
	return query
}

func (s *Store) UpdateProposalStatusCAS(ctx context.Context, id uint64, from, to models.ProposalStatus, updates map[string]any) (bool, error) {
	if s == nil || s.db == nil || id == 0 {
		return false, nil
	}
	values := map[string]any{
		"status":     string(to),
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		values[k] = v
	}
	res := s.db.WithContext(ctx).
		Model(&models.Proposal{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ExpireDueProposals(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).
		Model(&models.Proposal{}).
		Where("status = ?", string(models.ProposalPending)).
		Where("expires_at < ?", now).
		Updates(map[string]any{"status": string(models.ProposalExpired), "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

func (s *Store) FailAbandonedExecuting(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Proposal{}).
		Where("status = ?", string(models.ProposalExecuting)).
		Where("updated_at < ?", cutoff).
		Updates(map[string]any{"status": string(models.ProposalFailed), "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

// --- Executions --------------------------------------------------------------

func (s *Store) InsertExecution(ctx context.Context, item *models.Execution) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListExecutionsByProposalID(ctx context.Context, proposalID uint64) ([]models.Execution, error) {
	if s == nil || s.db == nil || proposalID == 0 {
		return nil, nil
	}
	var items []models.Execution
	if err := s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("proposal_id = ?", proposalID).
		Order("created_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Audit trail -------------------------------------------------------------

func (s *Store) InsertProposalEvent(ctx context.Context, item *models.ProposalEvent) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListProposalEvents(ctx context.Context, proposalID uint64) ([]models.ProposalEvent, error) {
	if s == nil || s.db == nil || proposalID == 0 {
		return nil, nil
	}
	var items []models.ProposalEvent
	if err := s.db.WithContext(ctx).
		Model(&models.ProposalEvent{}).
		Where("proposal_id = ?", proposalID).
		Order("created_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Blind spots -------------------------------------------------------------

func (s *Store) InsertBlindSpot(ctx context.Context, item *models.BlindSpot) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetBlindSpotByID(ctx context.Context, id uint64) (*models.BlindSpot, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.BlindSpot
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListBlindSpots(ctx context.Context, params repository.ListBlindSpotsParams) ([]models.BlindSpot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.BlindSpot{})
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.Category != nil && *params.Category != "" {
		query = query.Where("category = ?", string(*params.Category))
	}
	if params.ActiveOnly {
		query = query.Where("active = ?", true)
	}
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.BlindSpot
	if err := query.Order("created_at asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListTriggeredBlindSpots(ctx context.Context, userID string, now time.Time) ([]models.BlindSpot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var items []models.BlindSpot
	if err := s.db.WithContext(ctx).
		Model(&models.BlindSpot{}).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Where("active = ?", true).
		Where("triggered_until IS NOT NULL").
		Where("triggered_until > ?", now).
		Order("created_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetBlindSpotActive(ctx context.Context, id uint64, active bool) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.BlindSpot{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": active, "updated_at": time.Now().UTC()}).Error
}

func (s *Store) SetBlindSpotTriggeredUntil(ctx context.Context, id uint64, until *time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.BlindSpot{}).
		Where("id = ?", id).
		Updates(map[string]any{"triggered_until": until, "updated_at": time.Now().UTC()}).Error
}

func (s *Store) DeleteBlindSpot(ctx context.Context, id uint64) (bool, error) {
	if s == nil || s.db == nil || id == 0 {
		return false, nil
	}
	// Guard-railed rows are excluded by predicate, not by caller discipline.
	res := s.db.WithContext(ctx).
		Where("id = ? AND guard_railed = ?", id, false).
		Delete(&models.BlindSpot{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// --- Settings ----------------------------------------------------------------

func (s *Store) GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.UserSettings
	err := s.db.WithContext(ctx).First(&item, "user_id = ?", strings.TrimSpace(userID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertUserSettings(ctx context.Context, item *models.UserSettings) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.UserID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

// --- Trade ledger ------------------------------------------------------------

func (s *Store) InsertTradeRecord(ctx context.Context, item *models.TradeRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) SumRealizedLossSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var raw *string
	err := s.db.WithContext(ctx).
		Model(&models.TradeRecord{}).
		Select("COALESCE(SUM(-realized_pnl), 0)::text").
		Where("user_id = ?", strings.TrimSpace(userID)).
		Where("status = ?", string(models.TradeClosed)).
		Where("closed_at >= ?", since).
		Where("realized_pnl < 0").
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return decimal.Zero, nil
	}
	sum, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func (s *Store) CountOpenPositions(ctx context.Context, userID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.TradeRecord{}).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Where("status = ?", string(models.TradeOpen)).
		Count(&total).Error
	return total, err
}

// --- Anti-lag events ---------------------------------------------------------

func (s *Store) UpsertAntiLagEvent(ctx context.Context, item *models.AntiLagEvent) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) GetActiveAntiLagEvent(ctx context.Context, primary, correlated string, cutoff time.Time) (*models.AntiLagEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.AntiLagEvent
	err := s.db.WithContext(ctx).
		Where("primary_symbol = ? AND correlated_symbol = ?", strings.TrimSpace(primary), strings.TrimSpace(correlated)).
		Where("detected_at >= ?", cutoff).
		Order("detected_at desc").
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListAntiLagEvents(ctx context.Context, params repository.ListAntiLagEventsParams) ([]models.AntiLagEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.AntiLagEvent{})
	if params.PrimarySymbol != nil && strings.TrimSpace(*params.PrimarySymbol) != "" {
		query = query.Where("primary_symbol = ?", strings.TrimSpace(*params.PrimarySymbol))
	}
	if params.CorrelatedSymbol != nil && strings.TrimSpace(*params.CorrelatedSymbol) != "" {
		query = query.Where("correlated_symbol = ?", strings.TrimSpace(*params.CorrelatedSymbol))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("detected_at >= ?", *params.Since)
	}
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.AntiLagEvent
	if err := query.Order("detected_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteStaleAntiLagEvents(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if before.IsZero() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("detected_at < ?", before).
		Delete(&models.AntiLagEvent{})
	return res.RowsAffected, res.Error
}

// --- helpers -----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	dir := "desc"
	if asc != nil && *asc {
		dir = "asc"
	}
	return query.Order(column + " " + dir)
}

func normalizeLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
