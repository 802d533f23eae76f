package models

import "time"

// ProposalEvent is the audit trail of state-machine transitions. One row per
// observed transition, including lazy expiries and re-check rejections.
type ProposalEvent struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ProposalID uint64 `gorm:"not null;index" json:"proposal_id"`

	Actor      string         `gorm:"type:varchar(100);not null" json:"actor"`
	FromStatus ProposalStatus `gorm:"type:varchar(20);not null" json:"from_status"`
	ToStatus   ProposalStatus `gorm:"type:varchar(20);not null" json:"to_status"`
	Reason     string         `gorm:"type:text" json:"reason"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
}

func (ProposalEvent) TableName() string {
	return "proposal_events"
}
