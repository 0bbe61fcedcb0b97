package domain

import (
	"time"

	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
)

// TradeCategory is the directional bias of a Trade.
type TradeCategory string

const (
	TradeLong  TradeCategory = "long"
	TradeShort TradeCategory = "short"
)

// TradeStatus enumerates the trade state machine's states (spec §4.7).
type TradeStatus string

const (
	StatusNew              TradeStatus = "new"
	StatusFunded           TradeStatus = "funded"
	StatusSubmitted        TradeStatus = "submitted"
	StatusPartiallyFilled  TradeStatus = "partially_filled"
	StatusFilled           TradeStatus = "filled"
	StatusCanceled         TradeStatus = "canceled"
	StatusExpired          TradeStatus = "expired"
	StatusRejected         TradeStatus = "rejected"
	StatusClosedStopLoss   TradeStatus = "closed_stop_loss"
	StatusClosedTarget     TradeStatus = "closed_target"
)

// IsTerminal reports whether the trade can no longer transition.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case StatusCanceled, StatusExpired, StatusRejected, StatusClosedStopLoss, StatusClosedTarget:
		return true
	default:
		return false
	}
}

// IsAlive reports whether the trade currently reserves capital — the
// states in which TradeBalance.funding == capital_in_market + capital_out_market
// must hold (spec §3 invariant).
func (s TradeStatus) IsAlive() bool {
	switch s {
	case StatusFunded, StatusSubmitted, StatusPartiallyFilled, StatusFilled:
		return true
	default:
		return false
	}
}

// Trade is the aggregate root of the trade lifecycle: a directional bet
// on a TradingVehicle expressed as three linked Orders and backed by a
// TradeBalance.
type Trade struct {
	ID             id.ID
	AccountID      id.ID
	VehicleSymbol  string
	VehicleBroker  string
	Category       TradeCategory
	Currency       money.Currency
	Status         TradeStatus
	EntryOrderID   id.ID
	TargetOrderID  id.ID
	StopOrderID    id.ID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClosedAt       *time.Time
}

// TradeBalance is the per-trade mirror of the account pools.
// Invariant while the trade is alive: funding = capital_in_market + capital_out_market.
type TradeBalance struct {
	TradeID          id.ID
	Currency         money.Currency
	Funding          money.Amount
	CapitalInMarket  money.Amount
	CapitalOutMarket money.Amount
	Taxed            money.Amount
	TotalPerformance money.Amount
}

// NewTradeBalance creates a zeroed TradeBalance for a newly created trade.
func NewTradeBalance(tradeID id.ID, currency money.Currency) *TradeBalance {
	return &TradeBalance{
		TradeID:          tradeID,
		Currency:         currency,
		Funding:          money.Zero(currency),
		CapitalInMarket:  money.Zero(currency),
		CapitalOutMarket: money.Zero(currency),
		Taxed:            money.Zero(currency),
		TotalPerformance: money.Zero(currency),
	}
}

// CheckInvariant verifies funding == capital_in_market + capital_out_market.
func (tb *TradeBalance) CheckInvariant() error {
	sum, err := tb.CapitalInMarket.Add(tb.CapitalOutMarket)
	if err != nil {
		return err
	}
	if tb.Funding.Cmp(sum) != 0 {
		return &InvariantViolation{
			Rule: "trade_balance.funding == capital_in_market + capital_out_market",
		}
	}
	return nil
}

// InvariantViolation signals a ledger/domain invariant failure, surfaced
// as apperr.Internal at the ledger commit boundary.
type InvariantViolation struct {
	Rule string
}

func (e *InvariantViolation) Error() string {
	return "invariant violated: " + e.Rule
}
