package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"autopilot/internal/models"
	"autopilot/internal/proposal"
	"autopilot/internal/repository"
)

var (
	ErrBlindSpotNotFound = errors.New("blind spot not found")
	// ErrGuardRailed refuses deletion of guard-railed entries for every
	// caller, including the owning user.
	ErrGuardRailed = errors.New("blind spot is guard-railed and cannot be deleted")
)

// System defaults seeded for every user. Guard-railed: the user can toggle
// them inactive but never remove them.
var systemBlindSpots = []models.BlindSpot{
	{Name: "revenge_trading", Category: models.BlindSpotBehavioral},
	{Name: "over_trading", Category: models.BlindSpotBehavioral},
}

type BlindSpots struct {
	repo   repository.Repository
	logger *zap.Logger
}

func NewBlindSpots(repo repository.Repository, logger *zap.Logger) *BlindSpots {
	return &BlindSpots{repo: repo, logger: logger}
}

// SeedSystemDefaults inserts the guard-railed system entries the user does
// not have yet. Idempotent by name.
func (s *BlindSpots) SeedSystemDefaults(ctx context.Context, userID string) error {
	if userID == "" {
		return proposal.Validationf("user id is required")
	}
	existing, err := s.repo.ListBlindSpots(ctx, repository.ListBlindSpotsParams{UserID: &userID})
	if err != nil {
		return err
	}
	have := map[string]bool{}
	for _, b := range existing {
		if b.Source == models.BlindSpotSystem {
			have[b.Name] = true
		}
	}
	for _, def := range systemBlindSpots {
		if have[def.Name] {
			continue
		}
		item := models.BlindSpot{
			UserID:      userID,
			Name:        def.Name,
			Category:    def.Category,
			Source:      models.BlindSpotSystem,
			GuardRailed: true,
			Active:      true,
		}
		if err := s.repo.InsertBlindSpot(ctx, &item); err != nil {
			return err
		}
	}
	return nil
}

// Create adds a user-defined entry. User entries are never guard-railed.
func (s *BlindSpots) Create(ctx context.Context, userID, name string, category models.BlindSpotCategory) (*models.BlindSpot, error) {
	if userID == "" || name == "" {
		return nil, proposal.Validationf("user id and name are required")
	}
	switch category {
	case models.BlindSpotBehavioral, models.BlindSpotRisk, models.BlindSpotExecution, models.BlindSpotCustom:
	case "":
		category = models.BlindSpotCustom
	default:
		return nil, proposal.Validationf("unknown blind spot category %q", category)
	}
	item := &models.BlindSpot{
		UserID:   userID,
		Name:     name,
		Category: category,
		Source:   models.BlindSpotUser,
		Active:   true,
	}
	if err := s.repo.InsertBlindSpot(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *BlindSpots) List(ctx context.Context, params repository.ListBlindSpotsParams) ([]models.BlindSpot, error) {
	return s.repo.ListBlindSpots(ctx, params)
}

// SetActive toggles gating for an entry the user owns. Guard-railed entries
// may be deactivated, just never deleted.
func (s *BlindSpots) SetActive(ctx context.Context, userID string, id uint64, active bool) (*models.BlindSpot, error) {
	item, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetBlindSpotActive(ctx, id, active); err != nil {
		return nil, err
	}
	item.Active = active
	return item, nil
}

// SetTriggeredUntil records a trigger window decided by the behavioral
// pattern engine. Nil clears the trigger.
func (s *BlindSpots) SetTriggeredUntil(ctx context.Context, userID string, id uint64, until *time.Time) (*models.BlindSpot, error) {
	item, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetBlindSpotTriggeredUntil(ctx, id, until); err != nil {
		return nil, err
	}
	item.TriggeredUntil = until
	return item, nil
}

// Delete removes a user-defined entry. Guard-railed entries are refused here
// and, as a backstop, excluded by the repository's delete predicate.
func (s *BlindSpots) Delete(ctx context.Context, userID string, id uint64) error {
	item, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	if item.GuardRailed {
		return ErrGuardRailed
	}
	deleted, err := s.repo.DeleteBlindSpot(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrGuardRailed
	}
	if s.logger != nil {
		s.logger.Info("blind spot deleted", zap.String("user_id", userID), zap.Uint64("id", id))
	}
	return nil
}

func (s *BlindSpots) owned(ctx context.Context, userID string, id uint64) (*models.BlindSpot, error) {
	item, err := s.repo.GetBlindSpotByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil || item.UserID != userID {
		return nil, ErrBlindSpotNotFound
	}
	return item, nil
}
