package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProposalStatus string

const (
	ProposalDraft     ProposalStatus = "draft"
	ProposalPending   ProposalStatus = "pending"
	ProposalApproved  ProposalStatus = "approved"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalExpired   ProposalStatus = "expired"
	ProposalExecuting ProposalStatus = "executing"
	ProposalExecuted  ProposalStatus = "executed"
	ProposalFailed    ProposalStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case ProposalRejected, ProposalExpired, ProposalExecuted, ProposalFailed:
		return true
	}
	return false
}

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderKind string

const (
	OrderMarket       OrderKind = "market"
	OrderLimit        OrderKind = "limit"
	OrderStop         OrderKind = "stop"
	OrderTrailingStop OrderKind = "trailing_stop"
	OrderJoinBid      OrderKind = "join_bid"
	OrderJoinAsk      OrderKind = "join_ask"
)

// Proposal is a candidate autopilot trade awaiting disposition. Rows are never
// deleted; terminal outcomes are recorded as statuses.
type Proposal struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID string `gorm:"type:varchar(100);not null;index" json:"user_id"`

	Strategy string    `gorm:"type:varchar(50);not null;index" json:"strategy"`
	Symbol   string    `gorm:"type:varchar(30);not null" json:"symbol"`
	Side     OrderSide `gorm:"type:varchar(10);not null" json:"side"`

	Size      decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"size"`
	OrderKind OrderKind       `gorm:"type:varchar(20);not null" json:"order_kind"`

	LimitPrice *decimal.Decimal `gorm:"type:numeric(20,10)" json:"limit_price,omitempty"`
	StopPrice  *decimal.Decimal `gorm:"type:numeric(20,10)" json:"stop_price,omitempty"`
	TrailTicks *int             `json:"trail_ticks,omitempty"`

	StopLossTicks   *int `json:"stop_loss_ticks,omitempty"`
	TakeProfitTicks *int `json:"take_profit_ticks,omitempty"`

	Reasoning string         `gorm:"type:text" json:"reasoning"`
	Status    ProposalStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	ExpiresAt time.Time `gorm:"type:timestamptz;not null;index" json:"expires_at"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Proposal) TableName() string {
	return "proposals"
}
