package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type AutopilotMode string

const (
	AutopilotOff  AutopilotMode = "off"
	AutopilotSemi AutopilotMode = "semi"
	AutopilotFull AutopilotMode = "full"
)

// UserSettings holds per-user risk limits, trading windows and strategy
// configuration. Read-only input to the pipeline; mutated only through the
// settings service.
type UserSettings struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID string `gorm:"type:varchar(100);not null;uniqueIndex" json:"user_id"`

	AutopilotMode AutopilotMode `gorm:"type:varchar(10);not null;default:'off'" json:"autopilot_mode"`

	MaxDailyLossUSD  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"max_daily_loss_usd"`
	MaxPositionSize  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"max_position_size"`
	MaxOpenPositions int             `gorm:"not null;default:0" json:"max_open_positions"`

	// Trading windows as "HH:MM" wall-clock bounds in Timezone. An empty
	// start/end pair disables the window.
	SemiWindowStart string `gorm:"type:varchar(5)" json:"semi_window_start"`
	SemiWindowEnd   string `gorm:"type:varchar(5)" json:"semi_window_end"`
	FullWindowStart string `gorm:"type:varchar(5)" json:"full_window_start"`
	FullWindowEnd   string `gorm:"type:varchar(5)" json:"full_window_end"`
	Timezone        string `gorm:"type:varchar(50);not null;default:'UTC'" json:"timezone"`

	// EnabledStrategies is a JSON array of strategy names.
	EnabledStrategies datatypes.JSON `gorm:"type:jsonb" json:"enabled_strategies"`

	// AntiLagPairs maps strategy name -> {"primary": "...", "correlated": "..."}.
	// Strategies without an entry skip the anti-lag check.
	AntiLagPairs datatypes.JSON `gorm:"type:jsonb" json:"anti_lag_pairs"`

	AccountBalanceUSD decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"account_balance_usd"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (UserSettings) TableName() string {
	return "user_settings"
}

// AntiLagPair identifies the correlated-instrument pair a strategy is keyed to.
type AntiLagPair struct {
	Primary    string `json:"primary"`
	Correlated string `json:"correlated"`
}
