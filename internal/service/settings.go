package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"autopilot/internal/models"
	"autopilot/internal/proposal"
	"autopilot/internal/repository"
)

// SettingsPatch is the typed update surface for user settings. Nil fields are
// left unchanged; there is no dynamic field-name lookup, unknown fields fail
// at compile time.
type SettingsPatch struct {
	AutopilotMode     *models.AutopilotMode        `json:"autopilot_mode,omitempty"`
	MaxDailyLossUSD   *decimal.Decimal             `json:"max_daily_loss_usd,omitempty"`
	MaxPositionSize   *decimal.Decimal             `json:"max_position_size,omitempty"`
	MaxOpenPositions  *int                         `json:"max_open_positions,omitempty"`
	SemiWindowStart   *string                      `json:"semi_window_start,omitempty"`
	SemiWindowEnd     *string                      `json:"semi_window_end,omitempty"`
	FullWindowStart   *string                      `json:"full_window_start,omitempty"`
	FullWindowEnd     *string                      `json:"full_window_end,omitempty"`
	Timezone          *string                      `json:"timezone,omitempty"`
	EnabledStrategies []string                     `json:"enabled_strategies,omitempty"`
	AntiLagPairs      map[string]models.AntiLagPair `json:"anti_lag_pairs,omitempty"`
	AccountBalanceUSD *decimal.Decimal             `json:"account_balance_usd,omitempty"`
}

type Settings struct {
	repo   repository.Repository
	logger *zap.Logger
}

func NewSettings(repo repository.Repository, logger *zap.Logger) *Settings {
	return &Settings{repo: repo, logger: logger}
}

// Get returns the user's settings, or the defaults when none are stored yet.
func (s *Settings) Get(ctx context.Context, userID string) (*models.UserSettings, error) {
	if userID == "" {
		return nil, proposal.Validationf("user id is required")
	}
	item, err := s.repo.GetUserSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		def := defaultSettings(userID)
		return &def, nil
	}
	return item, nil
}

// Update applies a patch and upserts the row. The stored row is created from
// defaults on first write.
func (s *Settings) Update(ctx context.Context, userID string, patch SettingsPatch) (*models.UserSettings, error) {
	if userID == "" {
		return nil, proposal.Validationf("user id is required")
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	item, err := s.repo.GetUserSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		def := defaultSettings(userID)
		item = &def
	}

	applyPatch(item, patch)
	if err := s.repo.UpsertUserSettings(ctx, item); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("settings updated", zap.String("user_id", userID))
	}
	return item, nil
}

func defaultSettings(userID string) models.UserSettings {
	return models.UserSettings{
		UserID:        userID,
		AutopilotMode: models.AutopilotOff,
		Timezone:      "UTC",
	}
}

func validatePatch(patch SettingsPatch) error {
	if patch.AutopilotMode != nil {
		switch *patch.AutopilotMode {
		case models.AutopilotOff, models.AutopilotSemi, models.AutopilotFull:
		default:
			return proposal.Validationf("unknown autopilot mode %q", *patch.AutopilotMode)
		}
	}
	if patch.MaxDailyLossUSD != nil && patch.MaxDailyLossUSD.IsNegative() {
		return proposal.Validationf("max daily loss cannot be negative")
	}
	if patch.MaxPositionSize != nil && patch.MaxPositionSize.IsNegative() {
		return proposal.Validationf("max position size cannot be negative")
	}
	if patch.MaxOpenPositions != nil && *patch.MaxOpenPositions < 0 {
		return proposal.Validationf("max open positions cannot be negative")
	}
	for _, clock := range []*string{patch.SemiWindowStart, patch.SemiWindowEnd, patch.FullWindowStart, patch.FullWindowEnd} {
		if clock != nil && *clock != "" {
			if _, err := time.Parse("15:04", *clock); err != nil {
				return proposal.Validationf("window bound %q is not HH:MM", *clock)
			}
		}
	}
	if patch.Timezone != nil && *patch.Timezone != "" {
		if _, err := time.LoadLocation(*patch.Timezone); err != nil {
			return proposal.Validationf("unknown timezone %q", *patch.Timezone)
		}
	}
	for strategy, pair := range patch.AntiLagPairs {
		if pair.Primary == "" || pair.Correlated == "" {
			return proposal.Validationf("anti-lag pair for %q needs both primary and correlated symbols", strategy)
		}
	}
	return nil
}

func applyPatch(item *models.UserSettings, patch SettingsPatch) {
	if patch.AutopilotMode != nil {
		item.AutopilotMode = *patch.AutopilotMode
	}
	if patch.MaxDailyLossUSD != nil {
		item.MaxDailyLossUSD = *patch.MaxDailyLossUSD
	}
	if patch.MaxPositionSize != nil {
		item.MaxPositionSize = *patch.MaxPositionSize
	}
	if patch.MaxOpenPositions != nil {
		item.MaxOpenPositions = *patch.MaxOpenPositions
	}
	if patch.SemiWindowStart != nil {
		item.SemiWindowStart = *patch.SemiWindowStart
	}
	if patch.SemiWindowEnd != nil {
		item.SemiWindowEnd = *patch.SemiWindowEnd
	}
	if patch.FullWindowStart != nil {
		item.FullWindowStart = *patch.FullWindowStart
	}
	if patch.FullWindowEnd != nil {
		item.FullWindowEnd = *patch.FullWindowEnd
	}
	if patch.Timezone != nil {
		item.Timezone = *patch.Timezone
	}
	if patch.EnabledStrategies != nil {
		data, _ := json.Marshal(patch.EnabledStrategies)
		item.EnabledStrategies = datatypes.JSON(data)
	}
	if patch.AntiLagPairs != nil {
		data, _ := json.Marshal(patch.AntiLagPairs)
		item.AntiLagPairs = datatypes.JSON(data)
	}
	if patch.AccountBalanceUSD != nil {
		item.AccountBalanceUSD = *patch.AccountBalanceUSD
	}
}
