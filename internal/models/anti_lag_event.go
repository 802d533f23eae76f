package models

import "time"

type AntiLagEventType string

const (
	AntiLag       AntiLagEventType = "anti_lag"
	ContraAntiLag AntiLagEventType = "contra_anti_lag"
)

// AntiLagEvent is a detected synchronized volatility burst between a primary
// instrument and its correlated pair.
type AntiLagEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	PrimarySymbol    string `gorm:"type:varchar(30);not null;index:idx_antilag_pair" json:"primary_symbol"`
	CorrelatedSymbol string `gorm:"type:varchar(30);not null;index:idx_antilag_pair" json:"correlated_symbol"`

	EventType AntiLagEventType `gorm:"type:varchar(20);not null" json:"event_type"`

	PrimaryIncreasePct    float64 `gorm:"not null" json:"primary_increase_pct"`
	CorrelatedIncreasePct float64 `gorm:"not null" json:"correlated_increase_pct"`

	ConfirmingTicks int  `gorm:"not null" json:"confirming_ticks"`
	Confirmed       bool `gorm:"not null;default:false" json:"confirmed"`

	DetectedAt time.Time `gorm:"type:timestamptz;not null;index" json:"detected_at"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (AntiLagEvent) TableName() string {
	return "anti_lag_events"
}
