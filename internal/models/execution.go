package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExecutionStatus string

const (
	ExecutionExecuted ExecutionStatus = "executed"
	ExecutionFailed   ExecutionStatus = "failed"
)

// Execution records one attempt to realize a Proposal as a live order.
// Rows are immutable once written; at most one executed row exists per
// proposal (enforced by the executing-status claim on the proposal itself).
type Execution struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ProposalID uint64 `gorm:"not null;index" json:"proposal_id"`
	UserID     string `gorm:"type:varchar(100);not null;index" json:"user_id"`

	// IdempotencyKey is attached to the gateway submission so a retried
	// request can be correlated with the original order.
	IdempotencyKey string `gorm:"type:varchar(64);uniqueIndex" json:"idempotency_key"`

	GatewayOrderID *string `gorm:"type:varchar(100);index" json:"gateway_order_id,omitempty"`
	InstrumentID   string  `gorm:"type:varchar(100)" json:"instrument_id"`

	Symbol string          `gorm:"type:varchar(30);not null" json:"symbol"`
	Side   OrderSide       `gorm:"type:varchar(10);not null" json:"side"`
	Size   decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"size"`

	Status ExecutionStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Error  *string         `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
}

func (Execution) TableName() string {
	return "executions"
}
