// Package reconciler implements the broker-event consumer of spec §4.8:
// it applies broker updates idempotently, advancing the referenced
// Order's status and the owning Trade's state, and posting the ledger
// effects of any terminal fill. Every event is processed inside one
// persistence transaction serialized per trade (spec §5).
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/trust-engine/internal/apperr"
	"github.com/aristath/trust-engine/internal/clock"
	"github.com/aristath/trust-engine/internal/concurrency"
	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/ledger"
	"github.com/aristath/trust-engine/internal/money"
	"github.com/aristath/trust-engine/internal/ports"
	"github.com/aristath/trust-engine/internal/statemachine"
)

// Reconciler consumes a Broker's update stream and reconciles it against
// local state. It owns no transaction boundaries of its own beyond one
// per event: each event is (a) deduplicated by broker_execution_id when
// it carries one, (b) applied to the referenced Order, then (c) used to
// advance the owning Trade through the state machine and post whatever
// ledger effect that transition implies.
type Reconciler struct {
	store   ports.Store
	broker  ports.Broker
	ledger  *ledger.Ledger
	locks   *concurrency.TradeLocks
	clock   clock.Clock
	ids     id.Generator
	log     zerolog.Logger

	brokerName  string
	lockTimeout time.Duration
}

// Config bundles the Reconciler's tunables.
type Config struct {
	// BrokerName tags every Execution this reconciler writes and is the
	// key used to deduplicate against ports.Reader.FindExecution.
	BrokerName string
	// LockTimeout bounds how long an event waits for its trade's
	// per-trade lock before surfacing apperr.Concurrency (spec §7).
	LockTimeout time.Duration
}

// New constructs a Reconciler over the given Store/Broker/Ledger, using
// locks for per-trade serialization (spec §5).
func New(store ports.Store, broker ports.Broker, lg *ledger.Ledger, locks *concurrency.TradeLocks, clk clock.Clock, ids id.Generator, cfg Config, log zerolog.Logger) *Reconciler {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	return &Reconciler{
		store:       store,
		broker:      broker,
		ledger:      lg,
		locks:       locks,
		clock:       clk,
		ids:         ids,
		brokerName:  cfg.BrokerName,
		lockTimeout: cfg.LockTimeout,
		log:         log.With().Str("component", "reconciler").Logger(),
	}
}

// Run opens the broker's update stream and processes events until ctx is
// canceled. An event already pulled off the channel always finishes
// committing before Run observes cancellation, so the engine drains to a
// consistent point before exiting (spec §9).
func (r *Reconciler) Run(ctx context.Context) error {
	events, err := r.broker.StreamUpdates(ctx)
	if err != nil {
		return fmt.Errorf("open broker update stream: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reconciler stopping intake, no further events will be read")
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				r.log.Info().Msg("broker update stream closed")
				return nil
			}
			// A detached context lets an already-received event finish
			// committing even if ctx was canceled while it was in flight.
			if err := r.handle(context.Background(), evt); err != nil {
				r.log.Error().Err(err).
					Str("kind", string(evt.Kind)).
					Str("broker_order_id", evt.BrokerOrderID).
					Msg("failed to reconcile broker event")
			}
		}
	}
}

// HandleEvent processes a single event synchronously, bypassing Run's
// channel loop. Used by sync_trade's forced poll and by tests.
func (r *Reconciler) HandleEvent(ctx context.Context, evt ports.Event) error {
	return r.handle(ctx, evt)
}

func (r *Reconciler) handle(ctx context.Context, evt ports.Event) error {
	if evt.Kind != ports.EventTradeUpdate {
		r.log.Info().Str("kind", string(evt.Kind)).Msg("account activity event received; no local mutation defined for it")
		return nil
	}
	if evt.BrokerOrderID == "" {
		return apperr.New(apperr.Validation, "trade update event missing broker_order_id")
	}

	order, err := r.store.GetOrderByBrokerID(ctx, r.brokerName, evt.BrokerOrderID)
	if err != nil {
		return fmt.Errorf("lookup order by broker id %s: %w", evt.BrokerOrderID, err)
	}
	if order == nil {
		r.log.Warn().Str("broker_order_id", evt.BrokerOrderID).Msg("event for unknown order discarded")
		return nil
	}

	trade, err := r.store.GetTradeByOrderID(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("lookup trade for order %s: %w", order.ID, err)
	}
	if trade == nil {
		return apperr.New(apperr.Internal, "order %s has no owning trade", order.ID)
	}

	return r.locks.WithLock(ctx, trade.ID, r.lockTimeout, func() error {
		return r.store.WithTx(ctx, func(tx ports.Tx) error {
			return r.apply(ctx, tx, trade.ID, order.ID, evt)
		})
	})
}

// apply re-reads the order and trade inside the transaction (the copies
// fetched before the lock may be stale), then dedups, persists, and
// advances state.
func (r *Reconciler) apply(ctx context.Context, tx ports.Tx, tradeID, orderID id.ID, evt ports.Event) error {
	trade, err := tx.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if trade == nil {
		return apperr.New(apperr.Internal, "trade %s vanished mid-reconciliation", tradeID)
	}
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return apperr.New(apperr.Internal, "order %s vanished mid-reconciliation", orderID)
	}

	now := r.clock.Now()

	if evt.BrokerExecutionID != "" {
		existing, err := tx.FindExecution(ctx, r.brokerName, trade.AccountID, evt.BrokerExecutionID)
		if err != nil {
			return err
		}
		if existing != nil {
			r.log.Debug().Str("broker_execution_id", evt.BrokerExecutionID).Msg("duplicate execution event discarded")
			return nil
		}
	}

	wasTerminal := order.Status.IsTerminal()
	applyOrderFields(order, evt, now)
	if err := tx.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("save order: %w", err)
	}

	if evt.BrokerExecutionID != "" {
		if err := r.recordExecution(ctx, tx, trade, order, evt); err != nil {
			return err
		}
	}

	if err := tx.ClearPendingSubmission(ctx, trade.ID); err != nil {
		return fmt.Errorf("clear pending submission: %w", err)
	}

	if wasTerminal {
		// The order had already reached a terminal status before this
		// event; any trade-level effect it could cause was already
		// applied, so only the (already-deduplicated) execution record
		// and the status refresh above apply. Keeps replayed terminal
		// events a no-op (spec testable property 4).
		return nil
	}

	switch order.Role {
	case domain.RoleEntry:
		return r.advanceOnEntry(ctx, tx, trade, order, evt, now)
	case domain.RoleTarget:
		return r.advanceOnExit(ctx, tx, trade, order, evt, now, true)
	case domain.RoleStop:
		return r.advanceOnExit(ctx, tx, trade, order, evt, now, false)
	case domain.RoleMarketOut:
		return r.advanceOnMarketOut(ctx, tx, trade, order, evt, now)
	default:
		return apperr.New(apperr.Internal, "order %s has unknown role %q", order.ID, order.Role)
	}
}

func (r *Reconciler) recordExecution(ctx context.Context, tx ports.Tx, trade *domain.Trade, order *domain.Order, evt ports.Event) error {
	price := money.Zero(trade.Currency)
	if evt.FillPrice != nil {
		price = *evt.FillPrice
	}
	exec := &domain.Execution{
		ID:                r.ids.New(),
		Broker:            r.brokerName,
		AccountID:         trade.AccountID,
		BrokerExecutionID: evt.BrokerExecutionID,
		TradeID:           trade.ID,
		OrderID:           order.ID,
		Symbol:            trade.VehicleSymbol,
		Side:              executionSideFor(order.Action),
		Quantity:          evt.FilledQuantity,
		Price:             price,
		ExecutedAt:        evt.OccurredAt,
		Raw:               evt.Raw,
	}
	if err := tx.SaveExecution(ctx, exec); err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// transitionTrade advances trade to to, silently ignoring the request
// when it is not (or no longer) a legal move: an out-of-order or
// replayed broker event must be a no-op, never an error, so stream
// replay stays idempotent (spec testable property 4).
func (r *Reconciler) transitionTrade(ctx context.Context, tx ports.Tx, trade *domain.Trade, to domain.TradeStatus, now time.Time) (bool, error) {
	if trade.Status == to {
		return false, nil
	}
	if !statemachine.CanTransition(trade.Status, to) {
		r.log.Debug().
			Str("trade_id", trade.ID.String()).
			Str("from", string(trade.Status)).
			Str("to", string(to)).
			Msg("ignoring out-of-order or replayed trade transition")
		return false, nil
	}
	if err := statemachine.Transition(trade, to, now); err != nil {
		return false, err
	}
	if err := tx.SaveTrade(ctx, trade); err != nil {
		return false, fmt.Errorf("save trade: %w", err)
	}
	return true, nil
}

func (r *Reconciler) advanceOnEntry(ctx context.Context, tx ports.Tx, trade *domain.Trade, order *domain.Order, evt ports.Event, now time.Time) error {
	switch order.Status {
	case domain.OrderPartiallyFilled:
		_, err := r.transitionTrade(ctx, tx, trade, domain.StatusPartiallyFilled, now)
		return err

	case domain.OrderFilled:
		advanced, err := r.transitionTrade(ctx, tx, trade, domain.StatusFilled, now)
		if err != nil {
			return err
		}
		if !advanced {
			return nil
		}

		bal, err := tx.GetBalance(ctx, trade.AccountID, trade.Currency)
		if err != nil {
			return err
		}
		tb, err := tx.GetTradeBalance(ctx, trade.ID)
		if err != nil {
			return err
		}
		if tb == nil {
			return apperr.New(apperr.Internal, "trade %s missing trade balance", trade.ID)
		}

		if !tb.CapitalOutMarket.IsZero() {
			if err := r.ledger.OpenTrade(ctx, tx, trade.AccountID, tb, tb.CapitalOutMarket); err != nil {
				return fmt.Errorf("open trade: %w", err)
			}
		}
		return r.applyFee(ctx, tx, bal, tb, evt, true)

	case domain.OrderRejected, domain.OrderExpired, domain.OrderCanceled:
		return r.releaseUnfilledEntry(ctx, tx, trade, order, now)

	default:
		return nil
	}
}

// releaseUnfilledEntry maps a terminal, never-filled entry order onto the
// matching trade terminal status and returns the capital that had been
// reserved for it back to total_available, mirroring user-initiated
// cancel (spec §4.7).
func (r *Reconciler) releaseUnfilledEntry(ctx context.Context, tx ports.Tx, trade *domain.Trade, order *domain.Order, now time.Time) error {
	var target domain.TradeStatus
	switch order.Status {
	case domain.OrderRejected:
		target = domain.StatusRejected
	case domain.OrderExpired:
		target = domain.StatusExpired
	case domain.OrderCanceled:
		target = domain.StatusCanceled
	default:
		return nil
	}

	advanced, err := r.transitionTrade(ctx, tx, trade, target, now)
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}

	bal, err := tx.GetBalance(ctx, trade.AccountID, trade.Currency)
	if err != nil {
		return err
	}
	tb, err := tx.GetTradeBalance(ctx, trade.ID)
	if err != nil {
		return err
	}
	if tb == nil {
		return apperr.New(apperr.Internal, "trade %s missing trade balance", trade.ID)
	}
	return r.ledger.PaymentFromTrade(ctx, tx, bal, tb)
}

func (r *Reconciler) advanceOnExit(ctx context.Context, tx ports.Tx, trade *domain.Trade, order *domain.Order, evt ports.Event, now time.Time, isTarget bool) error {
	if order.Status == domain.OrderPartiallyFilled {
		r.log.Warn().
			Str("trade_id", trade.ID.String()).
			Str("role", string(order.Role)).
			Msg("partial fill on exit leg, awaiting full fill before settling")
		return nil
	}
	if order.Status != domain.OrderFilled {
		return nil
	}

	target := domain.StatusClosedTarget
	if !isTarget {
		target = domain.StatusClosedStopLoss
	}
	advanced, err := r.transitionTrade(ctx, tx, trade, target, now)
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}

	bal, err := tx.GetBalance(ctx, trade.AccountID, trade.Currency)
	if err != nil {
		return err
	}
	tb, err := tx.GetTradeBalance(ctx, trade.ID)
	if err != nil {
		return err
	}
	if tb == nil {
		return apperr.New(apperr.Internal, "trade %s missing trade balance", trade.ID)
	}

	fillPrice := order.UnitPrice
	if order.AverageFillPrice != nil {
		fillPrice = *order.AverageFillPrice
	}
	proceeds := fillPrice.MulByInteger(order.FilledQuantity)

	var result *ledger.CloseResult
	if isTarget {
		result, err = r.ledger.CloseTarget(ctx, tx, bal, tb, proceeds)
	} else {
		slippage := stopSlippage(order.UnitPrice, fillPrice, order.FilledQuantity, trade.Category)
		result, err = r.ledger.CloseSafetyStop(ctx, tx, bal, tb, proceeds, slippage)
	}
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}

	if err := r.applyFee(ctx, tx, bal, tb, evt, false); err != nil {
		return err
	}

	r.log.Info().
		Str("trade_id", trade.ID.String()).
		Str("realized_pl", result.RealizedPL.String()).
		Bool("target", isTarget).
		Msg("trade closed")
	return nil
}

// advanceOnMarketOut settles the synthetic market order close_trade
// submits to take a Filled trade out directly (spec §9's close_trade
// resolution). It cannot assume a target exit the way advanceOnExit
// does for the original OCO legs: the order's role only tells us the
// trade is being closed, not whether the result is a gain or a loss.
// So it computes the realized result itself and routes the ledger
// call by its sign — non-negative posts as close_target, negative as
// close_safety_stop. There is no stop price to measure slippage
// against for a manually-closed position, so no slippage line is
// posted either way.
func (r *Reconciler) advanceOnMarketOut(ctx context.Context, tx ports.Tx, trade *domain.Trade, order *domain.Order, evt ports.Event, now time.Time) error {
	if order.Status == domain.OrderPartiallyFilled {
		r.log.Warn().
			Str("trade_id", trade.ID.String()).
			Str("role", string(order.Role)).
			Msg("partial fill on market-out leg, awaiting full fill before settling")
		return nil
	}
	if order.Status != domain.OrderFilled {
		return nil
	}

	bal, err := tx.GetBalance(ctx, trade.AccountID, trade.Currency)
	if err != nil {
		return err
	}
	tb, err := tx.GetTradeBalance(ctx, trade.ID)
	if err != nil {
		return err
	}
	if tb == nil {
		return apperr.New(apperr.Internal, "trade %s missing trade balance", trade.ID)
	}

	fillPrice := order.UnitPrice
	if order.AverageFillPrice != nil {
		fillPrice = *order.AverageFillPrice
	}
	proceeds := fillPrice.MulByInteger(order.FilledQuantity)
	net, err := proceeds.Sub(tb.Funding)
	if err != nil {
		return err
	}
	isGain := !net.IsNegative()

	target := domain.StatusClosedTarget
	if !isGain {
		target = domain.StatusClosedStopLoss
	}
	advanced, err := r.transitionTrade(ctx, tx, trade, target, now)
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}

	var result *ledger.CloseResult
	if isGain {
		result, err = r.ledger.CloseTarget(ctx, tx, bal, tb, proceeds)
	} else {
		result, err = r.ledger.CloseSafetyStop(ctx, tx, bal, tb, proceeds, money.Zero(proceeds.Currency()))
	}
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}

	if err := r.applyFee(ctx, tx, bal, tb, evt, false); err != nil {
		return err
	}

	r.log.Info().
		Str("trade_id", trade.ID.String()).
		Str("realized_pl", result.RealizedPL.String()).
		Bool("target", isGain).
		Msg("trade closed via market-out")
	return nil
}

func (r *Reconciler) applyFee(ctx context.Context, tx ports.Tx, bal *domain.Balance, tb *domain.TradeBalance, evt ports.Event, open bool) error {
	if evt.FeeAmount == nil || evt.FeeAmount.IsZero() {
		return nil
	}
	if open {
		return r.ledger.FeeOpen(ctx, tx, bal, tb, *evt.FeeAmount)
	}
	return r.ledger.FeeClose(ctx, tx, bal, tb, *evt.FeeAmount)
}

func applyOrderFields(order *domain.Order, evt ports.Event, now time.Time) {
	order.Status = evt.Status
	if evt.FilledQuantity > order.FilledQuantity {
		order.FilledQuantity = evt.FilledQuantity
	}
	if evt.FillPrice != nil {
		order.AverageFillPrice = evt.FillPrice
	}
	order.UpdatedAt = now

	if order.SubmittedAt == nil {
		switch evt.Status {
		case domain.OrderAccepted, domain.OrderPendingNew, domain.OrderPartiallyFilled:
			t := evt.OccurredAt
			order.SubmittedAt = &t
		default:
			if evt.Status.IsTerminal() {
				t := evt.OccurredAt
				order.SubmittedAt = &t
			}
		}
	}
	if evt.Status == domain.OrderFilled && order.FilledAt == nil {
		t := evt.OccurredAt
		order.FilledAt = &t
	}
}

func executionSideFor(action domain.OrderAction) domain.ExecutionSide {
	if action == domain.ActionBuy {
		return domain.ExecutionBuy
	}
	return domain.ExecutionSell
}

// stopSlippage returns the magnitude of the adverse difference between a
// safety-stop order's intended price and its actual average fill price,
// zero when the fill was at or better than the stop (glossary:
// "Slippage"). Direction depends on trade category: a long's stop sells,
// so slippage occurs when the fill lands below the stop price; a short's
// stop buys to cover, so slippage occurs when the fill lands above it.
func stopSlippage(stopPrice, fillPrice money.Amount, qty int64, category domain.TradeCategory) money.Amount {
	var diff money.Amount
	var err error
	if category == domain.TradeShort {
		diff, err = fillPrice.Sub(stopPrice)
	} else {
		diff, err = stopPrice.Sub(fillPrice)
	}
	if err != nil {
		return money.Zero(stopPrice.Currency())
	}
	if !diff.IsNegative() && !diff.IsZero() {
		return diff.MulByInteger(qty)
	}
	return money.Zero(stopPrice.Currency())
}
