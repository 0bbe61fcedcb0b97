// Package statemachine implements the deterministic trade lifecycle of
// spec §4.7: legal transitions between trade states, the guards that gate
// them, and the minting of the three linked orders at creation.
package statemachine

import (
	"time"

	"github.com/aristath/trust-engine/internal/apperr"
	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
)

// legalTransitions enumerates every (from, to) pair the machine allows.
// Anything not listed here is an IllegalTransition.
var legalTransitions = map[domain.TradeStatus]map[domain.TradeStatus]bool{
	domain.StatusNew: {
		domain.StatusFunded:   true,
		domain.StatusCanceled: true,
	},
	domain.StatusFunded: {
		domain.StatusSubmitted: true,
		domain.StatusCanceled:  true,
	},
	domain.StatusSubmitted: {
		domain.StatusPartiallyFilled: true,
		domain.StatusFilled:          true,
		domain.StatusCanceled:        true,
		domain.StatusRejected:        true,
		domain.StatusExpired:         true,
		domain.StatusFunded:          true, // rollback on permanent submit error (spec §4.7)
	},
	domain.StatusPartiallyFilled: {
		domain.StatusFilled:   true,
		domain.StatusCanceled: true,
		domain.StatusRejected: true,
		domain.StatusExpired:  true,
	},
	domain.StatusFilled: {
		domain.StatusClosedStopLoss: true,
		domain.StatusClosedTarget:   true,
	},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to domain.TradeStatus) bool {
	allowed, ok := legalTransitions[from]
	return ok && allowed[to]
}

// Transition advances t.Status to to, or returns IllegalTransition.
func Transition(t *domain.Trade, to domain.TradeStatus, now time.Time) error {
	if !CanTransition(t.Status, to) {
		return apperr.New(apperr.IllegalTransition, "cannot transition trade from %s to %s", t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now
	if to == domain.StatusClosedStopLoss || to == domain.StatusClosedTarget || to == domain.StatusCanceled ||
		to == domain.StatusExpired || to == domain.StatusRejected {
		closedAt := now
		t.ClosedAt = &closedAt
	}
	return nil
}

// CreateDraft is the caller-supplied shape for minting a new trade and
// its three orders.
type CreateDraft struct {
	AccountID     id.ID
	VehicleSymbol string
	VehicleBroker string
	Category      domain.TradeCategory
	Currency      money.Currency
	EntryPrice    money.Amount
	TargetPrice   money.Amount
	StopPrice     money.Amount
	Quantity      int64
	TimeInForce   domain.TimeInForce
}

// Validate checks the directional-ordering and quantity guards of spec
// §4.7's create guard, independent of persistence or ids.
func (d CreateDraft) Validate() error {
	if d.Quantity <= 0 {
		return apperr.New(apperr.Validation, "quantity must be positive, got %d", d.Quantity)
	}
	if !d.EntryPrice.SameCurrency(d.StopPrice) || !d.EntryPrice.SameCurrency(d.TargetPrice) {
		return apperr.New(apperr.Validation, "entry/stop/target currencies must match")
	}
	switch d.Category {
	case domain.TradeLong:
		if !(d.StopPrice.Cmp(d.EntryPrice) < 0 && d.EntryPrice.Cmp(d.TargetPrice) < 0) {
			return apperr.New(apperr.Validation, "long trade requires stop < entry < target")
		}
	case domain.TradeShort:
		if !(d.TargetPrice.Cmp(d.EntryPrice) < 0 && d.EntryPrice.Cmp(d.StopPrice) < 0) {
			return apperr.New(apperr.Validation, "short trade requires target < entry < stop")
		}
	default:
		return apperr.New(apperr.Validation, "unknown trade category %q", d.Category)
	}
	return nil
}

// Create mints a new Trade in state New along with its three orders, all
// minted in status "new", per spec §4.7's create guard. It does not
// persist anything; callers (Facade) do that inside a transaction.
func Create(ids id.Generator, draft CreateDraft, now time.Time) (*domain.Trade, *domain.TradeBalance, *domain.Order, *domain.Order, *domain.Order, error) {
	if err := draft.Validate(); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	entryAction, targetAction, stopAction := actionsFor(draft.Category)

	entry := newOrder(ids, domain.RoleEntry, draft.EntryPrice, draft.Quantity, domain.OrderMarket, entryAction, draft.TimeInForce, now)
	target := newOrder(ids, domain.RoleTarget, draft.TargetPrice, draft.Quantity, domain.OrderLimit, targetAction, draft.TimeInForce, now)
	stop := newOrder(ids, domain.RoleStop, draft.StopPrice, draft.Quantity, domain.OrderStop, stopAction, draft.TimeInForce, now)

	tradeID := ids.New()
	trade := &domain.Trade{
		ID:            tradeID,
		AccountID:     draft.AccountID,
		VehicleSymbol: draft.VehicleSymbol,
		VehicleBroker: draft.VehicleBroker,
		Category:      draft.Category,
		Currency:      draft.Currency,
		Status:        domain.StatusNew,
		EntryOrderID:  entry.ID,
		TargetOrderID: target.ID,
		StopOrderID:   stop.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tb := domain.NewTradeBalance(tradeID, draft.Currency)

	return trade, tb, entry, target, stop, nil
}

func actionsFor(category domain.TradeCategory) (entry, target, stop domain.OrderAction) {
	if category == domain.TradeLong {
		return domain.ActionBuy, domain.ActionSell, domain.ActionSell
	}
	return domain.ActionShort, domain.ActionBuy, domain.ActionBuy
}

func newOrder(ids id.Generator, role domain.OrderRole, price money.Amount, qty int64, category domain.OrderCategory, action domain.OrderAction, tif domain.TimeInForce, now time.Time) *domain.Order {
	return &domain.Order{
		ID:          ids.New(),
		Role:        role,
		UnitPrice:   price,
		Quantity:    qty,
		Category:    category,
		Action:      action,
		TimeInForce: tif,
		Status:      domain.OrderNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ValidateModify checks that a replacement stop/target price still
// respects directional ordering against the entry price (or average fill
// price, if the entry has already filled), per spec §4.7.
func ValidateModify(trade *domain.Trade, role domain.OrderRole, newPrice money.Amount, referenceEntryPrice money.Amount) error {
	switch {
	case trade.Status != domain.StatusFunded && trade.Status != domain.StatusSubmitted &&
		trade.Status != domain.StatusPartiallyFilled && trade.Status != domain.StatusFilled:
		return apperr.New(apperr.IllegalTransition, "cannot modify orders while trade is %s", trade.Status)
	}

	switch trade.Category {
	case domain.TradeLong:
		if role == domain.RoleStop && newPrice.Cmp(referenceEntryPrice) >= 0 {
			return apperr.New(apperr.Validation, "long trade stop must stay below entry price")
		}
		if role == domain.RoleTarget && newPrice.Cmp(referenceEntryPrice) <= 0 {
			return apperr.New(apperr.Validation, "long trade target must stay above entry price")
		}
	case domain.TradeShort:
		if role == domain.RoleStop && newPrice.Cmp(referenceEntryPrice) <= 0 {
			return apperr.New(apperr.Validation, "short trade stop must stay above entry price")
		}
		if role == domain.RoleTarget && newPrice.Cmp(referenceEntryPrice) >= 0 {
			return apperr.New(apperr.Validation, "short trade target must stay below entry price")
		}
	}
	return nil
}
