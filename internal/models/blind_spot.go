package models

import "time"

type BlindSpotCategory string

const (
	BlindSpotBehavioral BlindSpotCategory = "behavioral"
	BlindSpotRisk       BlindSpotCategory = "risk"
	BlindSpotExecution  BlindSpotCategory = "execution"
	BlindSpotCustom     BlindSpotCategory = "custom"
)

type BlindSpotSource string

const (
	BlindSpotSystem BlindSpotSource = "system"
	BlindSpotUser   BlindSpotSource = "user"
)

// BlindSpot is a named behavioral guard rail. Guard-railed rows can never be
// deleted, regardless of caller. TriggeredUntil is written by the external
// behavioral-pattern engine; the risk gate only reads it.
type BlindSpot struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID string `gorm:"type:varchar(100);not null;index" json:"user_id"`

	Name     string            `gorm:"type:varchar(100);not null" json:"name"`
	Category BlindSpotCategory `gorm:"type:varchar(20);not null;index" json:"category"`
	Source   BlindSpotSource   `gorm:"type:varchar(10);not null;default:'user'" json:"source"`

	GuardRailed bool `gorm:"not null;default:false" json:"guard_railed"`
	Active      bool `gorm:"not null;default:true;index" json:"active"`

	TriggeredUntil *time.Time `gorm:"type:timestamptz" json:"triggered_until,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (BlindSpot) TableName() string {
	return "blind_spots"
}
