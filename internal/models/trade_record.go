package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// TradeRecord is the account/trade ledger row behind the daily-loss and
// open-position risk metrics. One row per executed autopilot order.
type TradeRecord struct {
	ID         uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     string  `gorm:"type:varchar(100);not null;index" json:"user_id"`
	ProposalID *uint64 `gorm:"index" json:"proposal_id,omitempty"`

	Strategy string    `gorm:"type:varchar(50);not null;index" json:"strategy"`
	Symbol   string    `gorm:"type:varchar(30);not null" json:"symbol"`
	Side     OrderSide `gorm:"type:varchar(10);not null" json:"side"`

	Size           decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"size"`
	GatewayOrderID string          `gorm:"type:varchar(100)" json:"gateway_order_id"`

	Status      TradeStatus      `gorm:"type:varchar(10);not null;default:'open';index" json:"status"`
	RealizedPnL *decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10)" json:"realized_pnl,omitempty"`

	OpenedAt time.Time  `gorm:"type:timestamptz;not null;index" json:"opened_at"`
	ClosedAt *time.Time `gorm:"type:timestamptz" json:"closed_at,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (TradeRecord) TableName() string {
	return "trade_records"
}
