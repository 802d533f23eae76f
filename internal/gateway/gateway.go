// Package gateway is the client side of the external brokerage capability:
// instrument search and order placement. Proposal order kinds are translated
// into the gateway's native enumerations before submission.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"autopilot/internal/models"
	"autopilot/internal/proposal"
)

// ErrContractNotFound means instrument search returned no match for the
// proposal's symbol.
var ErrContractNotFound = errors.New("contract not found")

// Error is a gateway-side order rejection or transport failure. Retryable at
// the caller only while the proposal is still approved.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("gateway: %s (status %d)", e.Message, e.Status)
	}
	return "gateway: " + e.Message
}

type Instrument struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	TickSize decimal.Decimal `json:"tick_size"`
}

// Native order enumerations.
type Action string

const (
	ActionBuy  Action = "Buy"
	ActionSell Action = "Sell"
)

type OrderType string

const (
	TypeMarket       OrderType = "Market"
	TypeLimit        OrderType = "Limit"
	TypeStop         OrderType = "Stop"
	TypeTrailingStop OrderType = "TrailingStop"
	TypeJoinBid      OrderType = "JoinBid"
	TypeJoinAsk      OrderType = "JoinAsk"
)

type Bracket struct {
	StopLossTicks   int `json:"stop_loss_ticks,omitempty"`
	TakeProfitTicks int `json:"take_profit_ticks,omitempty"`
}

type OrderSpec struct {
	InstrumentID   string           `json:"instrument_id"`
	Action         Action           `json:"action"`
	OrderType      OrderType        `json:"order_type"`
	Quantity       decimal.Decimal  `json:"quantity"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice      *decimal.Decimal `json:"stop_price,omitempty"`
	TrailTicks     *int             `json:"trail_ticks,omitempty"`
	Bracket        *Bracket         `json:"bracket,omitempty"`
	IdempotencyKey string           `json:"idempotency_key"`
}

type PlaceResult struct {
	OrderID string `json:"order_id"`
}

type Gateway interface {
	SearchInstrument(ctx context.Context, query string) ([]Instrument, error)
	PlaceOrder(ctx context.Context, spec OrderSpec) (PlaceResult, error)
}

// TranslateOrder builds the native order spec from a proposal. Order-kind
// parameter requirements are validated here, before any gateway call.
func TranslateOrder(p *models.Proposal, instrumentID, idempotencyKey string) (OrderSpec, error) {
	spec := OrderSpec{
		InstrumentID:   instrumentID,
		Quantity:       p.Size,
		IdempotencyKey: idempotencyKey,
	}

	switch p.Side {
	case models.SideBuy:
		spec.Action = ActionBuy
	case models.SideSell:
		spec.Action = ActionSell
	default:
		return OrderSpec{}, proposal.Validationf("unknown side %q", p.Side)
	}

	switch p.OrderKind {
	case models.OrderMarket:
		spec.OrderType = TypeMarket
	case models.OrderLimit:
		if p.LimitPrice == nil || !p.LimitPrice.IsPositive() {
			return OrderSpec{}, proposal.Validationf("limit order requires a positive limit price")
		}
		spec.OrderType = TypeLimit
		spec.LimitPrice = p.LimitPrice
	case models.OrderStop:
		if p.StopPrice == nil || !p.StopPrice.IsPositive() {
			return OrderSpec{}, proposal.Validationf("stop order requires a positive stop price")
		}
		spec.OrderType = TypeStop
		spec.StopPrice = p.StopPrice
	case models.OrderTrailingStop:
		if p.TrailTicks == nil || *p.TrailTicks <= 0 {
			return OrderSpec{}, proposal.Validationf("trailing stop requires a positive trail distance in ticks")
		}
		spec.OrderType = TypeTrailingStop
		spec.TrailTicks = p.TrailTicks
	case models.OrderJoinBid:
		if p.LimitPrice == nil || !p.LimitPrice.IsPositive() {
			return OrderSpec{}, proposal.Validationf("join-bid order requires a positive limit price")
		}
		spec.OrderType = TypeJoinBid
		spec.LimitPrice = p.LimitPrice
	case models.OrderJoinAsk:
		if p.LimitPrice == nil || !p.LimitPrice.IsPositive() {
			return OrderSpec{}, proposal.Validationf("join-ask order requires a positive limit price")
		}
		spec.OrderType = TypeJoinAsk
		spec.LimitPrice = p.LimitPrice
	default:
		return OrderSpec{}, proposal.Validationf("unknown order kind %q", p.OrderKind)
	}

	if p.StopLossTicks != nil || p.TakeProfitTicks != nil {
		b := &Bracket{}
		if p.StopLossTicks != nil {
			if *p.StopLossTicks <= 0 {
				return OrderSpec{}, proposal.Validationf("stop-loss offset must be positive ticks")
			}
			b.StopLossTicks = *p.StopLossTicks
		}
		if p.TakeProfitTicks != nil {
			if *p.TakeProfitTicks <= 0 {
				return OrderSpec{}, proposal.Validationf("take-profit offset must be positive ticks")
			}
			b.TakeProfitTicks = *p.TakeProfitTicks
		}
		spec.Bracket = b
	}

	return spec, nil
}
