package domain

import (
	"time"

	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
)

// OrderRole identifies which leg of a Trade an Order plays.
type OrderRole string

const (
	RoleEntry  OrderRole = "entry"
	RoleTarget OrderRole = "target"
	RoleStop   OrderRole = "safety_stop"
	// RoleMarketOut tags the synthetic market order close_trade submits
	// to take a Filled trade out immediately (spec §9's close_trade
	// resolution). It is distinct from RoleTarget so the reconciler
	// settles it by realized P&L sign instead of always treating it as
	// a target exit.
	RoleMarketOut OrderRole = "market_out"
)

// OrderCategory is the order type sent to the broker.
type OrderCategory string

const (
	OrderMarket OrderCategory = "market"
	OrderLimit  OrderCategory = "limit"
	OrderStop   OrderCategory = "stop"
)

// OrderAction is the trade direction of an individual order.
type OrderAction string

const (
	ActionBuy   OrderAction = "buy"
	ActionSell  OrderAction = "sell"
	ActionShort OrderAction = "short"
)

// TimeInForce mirrors the broker's TIF vocabulary.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
)

// OrderStatus is the local projection of broker order status.
type OrderStatus string

const (
	OrderNew             OrderStatus = "new"
	OrderPendingNew      OrderStatus = "pending_new"
	OrderAccepted        OrderStatus = "accepted"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderReplaced        OrderStatus = "replaced"
	OrderCanceled        OrderStatus = "canceled"
	OrderExpired         OrderStatus = "expired"
	OrderRejected        OrderStatus = "rejected"
	OrderStopped         OrderStatus = "stopped"
	OrderHeld            OrderStatus = "held"
	OrderUnknown         OrderStatus = "unknown"
)

// IsTerminal reports whether the status will never transition further.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderExpired, OrderRejected:
		return true
	default:
		return false
	}
}

// Order is one leg (entry, target, or safety-stop) of a Trade. Orders are
// referenced, not owned, by exactly one Trade; they mutate only via
// reconciliation or explicit modify.
type Order struct {
	ID              id.ID
	BrokerOrderID   *string
	Role            OrderRole
	UnitPrice       money.Amount
	Quantity        int64
	Category        OrderCategory
	Action          OrderAction
	TimeInForce     TimeInForce
	Status          OrderStatus
	FilledQuantity  int64
	AverageFillPrice *money.Amount
	CreatedAt       time.Time
	UpdatedAt       time.Time
	SubmittedAt     *time.Time
	FilledAt        *time.Time
}
