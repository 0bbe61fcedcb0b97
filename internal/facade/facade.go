// Package facade exposes the stable operation surface of spec §6: the
// only entry point callers (HTTP handlers, schedulers, tests) use to
// drive the engine. Every exported method here is one persistence
// transaction or, where broker I/O is required, the (read → validate →
// broker call → new transaction to commit results) pattern of spec §5 —
// no broker call ever happens while a transaction is open.
package facade

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/trust-engine/internal/apperr"
	"github.com/aristath/trust-engine/internal/broker"
	"github.com/aristath/trust-engine/internal/capital"
	"github.com/aristath/trust-engine/internal/clock"
	"github.com/aristath/trust-engine/internal/concurrency"
	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/events"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/journal"
	"github.com/aristath/trust-engine/internal/ledger"
	"github.com/aristath/trust-engine/internal/money"
	"github.com/aristath/trust-engine/internal/ports"
	"github.com/aristath/trust-engine/internal/reconciler"
	"github.com/aristath/trust-engine/internal/risk"
	"github.com/aristath/trust-engine/internal/statemachine"
)

// Config holds the timing knobs of spec §6's Environment struct that
// govern broker call deadlines and retry.
type Config struct {
	SubmitTimeout        time.Duration // default 10s
	CancelReplaceTimeout time.Duration // default 5s
	IndeterminatePoll    time.Duration // default 60s, total budget for post-timeout polling
	Retry                broker.RetryPolicy
}

// DefaultConfig matches spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		SubmitTimeout:        10 * time.Second,
		CancelReplaceTimeout: 5 * time.Second,
		IndeterminatePoll:    60 * time.Second,
		Retry:                broker.DefaultRetryPolicy(),
	}
}

// Facade wires statemachine, risk, ledger, capital, and the broker/
// persistence ports behind the operation surface of spec §6.
type Facade struct {
	store  ports.Store
	brk    ports.Broker
	ledger *ledger.Ledger
	locks  *concurrency.TradeLocks
	clk    clock.Clock
	ids    id.Generator
	rec    *reconciler.Reconciler
	cfg    Config
	log    zerolog.Logger
	events *events.Manager
}

// New builds a Facade. rec may be nil if the caller does not intend to
// run the reconciler's event loop or call SyncTrade through this Facade.
func New(store ports.Store, brk ports.Broker, lg *ledger.Ledger, locks *concurrency.TradeLocks, clk clock.Clock, ids id.Generator, rec *reconciler.Reconciler, cfg Config, log zerolog.Logger) *Facade {
	logger := log.With().Str("component", "facade").Logger()
	return &Facade{store: store, brk: brk, ledger: lg, locks: locks, clk: clk, ids: ids, rec: rec, cfg: cfg, log: logger, events: events.NewManager(logger)}
}

// CreateAccount registers a new account. Balances are created lazily on
// first deposit, per domain.NewBalance's convention.
func (f *Facade) CreateAccount(ctx context.Context, name, description string, env domain.Environment, taxRate, earningsRate string) (*domain.Account, error) {
	acc := &domain.Account{
		ID: f.ids.New(), Name: name, Description: description, Environment: env,
		TaxRate: taxRate, EarningsRate: earningsRate, CreatedAt: f.clk.Now(),
	}
	err := f.store.WithTx(ctx, func(tx ports.Tx) error { return tx.CreateAccount(ctx, acc) })
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "create account")
	}
	return acc, nil
}

// CreateRule installs a risk rule on an account.
func (f *Facade) CreateRule(ctx context.Context, accountID id.ID, kind domain.RuleKind, pct string, priority int, level domain.RuleLevel) (*domain.Rule, error) {
	rule := &domain.Rule{ID: f.ids.New(), AccountID: accountID, Kind: kind, Pct: pct, Priority: priority, Level: level, Active: true}
	err := f.store.WithTx(ctx, func(tx ports.Tx) error { return tx.CreateRule(ctx, rule) })
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "create rule")
	}
	return rule, nil
}

// CreateTradingVehicle registers a tradable instrument at a broker.
func (f *Facade) CreateTradingVehicle(ctx context.Context, v *domain.TradingVehicle) error {
	err := f.store.WithTx(ctx, func(tx ports.Tx) error { return tx.SaveTradingVehicle(ctx, v) })
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "create trading vehicle")
	}
	return nil
}

// Deposit increases total_balance, creating the (account, currency)
// balance row on first use.
func (f *Facade) Deposit(ctx context.Context, accountID id.ID, amount money.Amount) (*domain.Balance, error) {
	var bal *domain.Balance
	err := f.store.WithTx(ctx, func(tx ports.Tx) error {
		var err error
		bal, err = tx.GetBalance(ctx, accountID, amount.Currency())
		if err != nil {
			return apperr.Wrap(apperr.Internal, err, "load balance")
		}
		return f.ledger.Deposit(ctx, tx, bal, amount)
	})
	if err != nil {
		return nil, err
	}
	f.events.Emit(events.DepositPosted, "facade", map[string]interface{}{"account_id": accountID, "amount": amount.String()})
	return bal, nil
}

// Withdraw decreases total_balance, rejecting if it would exceed
// total_available.
func (f *Facade) Withdraw(ctx context.Context, accountID id.ID, amount money.Amount) (*domain.Balance, error) {
	var bal *domain.Balance
	err := f.store.WithTx(ctx, func(tx ports.Tx) error {
		var err error
		bal, err = tx.GetBalance(ctx, accountID, amount.Currency())
		if err != nil {
			return apperr.Wrap(apperr.Internal, err, "load balance")
		}
		return f.ledger.Withdraw(ctx, tx, bal, amount)
	})
	if err != nil {
		return nil, err
	}
	f.events.Emit(events.WithdrawPosted, "facade", map[string]interface{}{"account_id": accountID, "amount": amount.String()})
	return bal, nil
}

// CreateTrade mints a new Trade with its three linked orders in status
// New. No capital is reserved and no risk rule runs yet — that happens
// at FundTrade.
func (f *Facade) CreateTrade(ctx context.Context, draft statemachine.CreateDraft) (*domain.Trade, error) {
	trade, tb, entry, target, stop, err := statemachine.Create(f.ids, draft, f.clk.Now())
	if err != nil {
		return nil, err
	}
	err = f.store.WithTx(ctx, func(tx ports.Tx) error {
		return tx.CreateTrade(ctx, trade, tb, entry, target, stop)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "create trade")
	}
	f.events.Emit(events.TradeCreated, "facade", map[string]interface{}{"trade_id": trade.ID, "account_id": trade.AccountID, "symbol": trade.VehicleSymbol})
	return trade, nil
}

// FundTrade runs the risk validators against the account's active rules
// and, on pass, reserves capital and advances the trade to Funded.
func (f *Facade) FundTrade(ctx context.Context, tradeID id.ID) (*domain.Trade, error) {
	var trade *domain.Trade
	err := f.locks.WithLock(ctx, tradeID, f.cfg.CancelReplaceTimeout, func() error {
		return f.store.WithTx(ctx, func(tx ports.Tx) error {
			var err error
			trade, err = tx.GetTrade(ctx, tradeID)
			if err != nil {
				return apperr.Wrap(apperr.Internal, err, "load trade")
			}
			if trade == nil {
				return apperr.New(apperr.Validation, "trade %s not found", tradeID)
			}
			if !statemachine.CanTransition(trade.Status, domain.StatusFunded) {
				return apperr.New(apperr.IllegalTransition, "cannot fund trade from %s", trade.Status)
			}

			entry, err := tx.GetOrder(ctx, trade.EntryOrderID)
			if err != nil {
				return apperr.Wrap(apperr.Internal, err, "load entry order")
			}
			stop, err := tx.GetOrder(ctx, trade.StopOrderID)
			if err != nil {
				return apperr.Wrap(apperr.Internal, err, "load stop order")
			}
			tb, err := tx.GetTradeBalance(ctx, tradeID)
			if err != nil {
				return apperr.Wrap(apperr.Internal, err, "load trade balance")
			}
			bal, err := tx.GetBalance(ctx, trade.AccountID, trade.Currency)
			if err != nil {
				return apperr.Wrap(apperr.Internal, err, "load balance")
			}
			rules, err := tx.ListRules(ctx, trade.AccountID)
			if err != nil {
				return apperr.Wrap(apperr.Internal, err, "load rules")
			}

			draft := risk.Draft{Category: trade.Category, Entry: entry.UnitPrice, Stop: stop.UnitPrice, Quantity: entry.Quantity}
			result, err := risk.Evaluate(ctx, tx, trade.AccountID, bal, rules, draft, f.clk.Now())
			if err != nil {
				return err
			}
			if result.Blocked() {
				msg := "trade blocked by risk rules"
				for _, v := range result.Violations {
					msg += ": " + v.Message
				}
				f.events.Emit(events.RiskViolation, "facade", map[string]interface{}{"trade_id": tradeID, "account_id": trade.AccountID, "reason": msg})
				return apperr.New(apperr.RiskViolation, msg)
			}

			required := capital.RequiredCapital(trade.Category, entry.UnitPrice, entry.Quantity)
			if err := f.ledger.FundTrade(ctx, tx, bal, tb, required); err != nil {
				return err
			}
			if err := statemachine.Transition(trade, domain.StatusFunded, f.clk.Now()); err != nil {
				return err
			}
			return tx.SaveTrade(ctx, trade)
		})
	})
	if err != nil {
		return nil, err
	}
	f.events.Emit(events.TradeFunded, "facade", map[string]interface{}{"trade_id": trade.ID, "account_id": trade.AccountID})
	return trade, nil
}

// CancelTrade cancels outstanding broker orders best-effort, returns any
// unused reserved capital to total_available, and retires the trade.
func (f *Facade) CancelTrade(ctx context.Context, tradeID id.ID) (*domain.Trade, error) {
	var trade *domain.Trade
	err := f.locks.WithLock(ctx, tradeID, f.cfg.CancelReplaceTimeout, func() error {
		trade0, entry, target, stop, err := f.loadTradeLegs(ctx, tradeID)
		if err != nil {
			return err
		}
		if !statemachine.CanTransition(trade0.Status, domain.StatusCanceled) {
			return apperr.New(apperr.IllegalTransition, "cannot cancel trade from %s", trade0.Status)
		}

		f.bestEffortCancel(ctx, entry)
		f.bestEffortCancel(ctx, target)
		f.bestEffortCancel(ctx, stop)

		return f.store.WithTx(ctx, func(tx ports.Tx) error {
			t, err := tx.GetTrade(ctx, tradeID)
			if err != nil {
				return apperr.Wrap(apperr.Internal, err, "reload trade")
			}
			if !statemachine.CanTransition(t.Status, domain.StatusCanceled) {
				return apperr.New(apperr.IllegalTransition, "cannot cancel trade from %s", t.Status)
			}
			bal, err := tx.GetBalance(ctx, t.AccountID, t.Currency)
			if err != nil {
				return apperr.Wrap(apperr.Internal, err, "load balance")
			}
			tb, err := tx.GetTradeBalance(ctx, tradeID)
			if err != nil {
				return apperr.Wrap(apperr.Internal, err, "load trade balance")
			}
			if err := f.ledger.PaymentFromTrade(ctx, tx, bal, tb); err != nil {
				return err
			}
			if err := statemachine.Transition(t, domain.StatusCanceled, f.clk.Now()); err != nil {
				return err
			}
			if err := tx.SaveTrade(ctx, t); err != nil {
				return apperr.Wrap(apperr.Internal, err, "save trade")
			}
			trade = t
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	f.events.Emit(events.TradeCanceled, "facade", map[string]interface{}{"trade_id": trade.ID, "account_id": trade.AccountID})
	return trade, nil
}

// bestEffortCancel cancels a broker order and logs, but never fails the
// caller's operation: a trade still in Submitted/PartiallyFilled can be
// canceled locally even if the broker leg was already terminal.
func (f *Facade) bestEffortCancel(ctx context.Context, o *domain.Order) {
	if o == nil || o.BrokerOrderID == nil || o.Status.IsTerminal() {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, f.cfg.CancelReplaceTimeout)
	defer cancel()
	if err := f.brk.Cancel(cctx, *o.BrokerOrderID); err != nil {
		f.log.Warn().Err(err).Str("broker_order_id", *o.BrokerOrderID).Msg("best-effort cancel failed")
	}
}

func (f *Facade) loadTradeLegs(ctx context.Context, tradeID id.ID) (trade *domain.Trade, entry, target, stop *domain.Order, err error) {
	trade, err = f.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, nil, nil, nil, apperr.Wrap(apperr.Internal, err, "load trade")
	}
	if trade == nil {
		return nil, nil, nil, nil, apperr.New(apperr.Validation, "trade %s not found", tradeID)
	}
	if entry, err = f.store.GetOrder(ctx, trade.EntryOrderID); err != nil {
		return nil, nil, nil, nil, apperr.Wrap(apperr.Internal, err, "load entry order")
	}
	if target, err = f.store.GetOrder(ctx, trade.TargetOrderID); err != nil {
		return nil, nil, nil, nil, apperr.Wrap(apperr.Internal, err, "load target order")
	}
	if stop, err = f.store.GetOrder(ctx, trade.StopOrderID); err != nil {
		return nil, nil, nil, nil, apperr.Wrap(apperr.Internal, err, "load stop order")
	}
	return trade, entry, target, stop, nil
}

// ListTrades returns every trade on an account.
func (f *Facade) ListTrades(ctx context.Context, accountID id.ID) ([]*domain.Trade, error) {
	trades, err := f.store.ListTrades(ctx, accountID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list trades")
	}
	return trades, nil
}

// TradeDetail returns a trade with its balance and three orders.
type TradeDetail struct {
	Trade              *domain.Trade
	Balance            *domain.TradeBalance
	Entry, Target, Stop *domain.Order
}

// TradeDetail assembles the full view of a single trade.
func (f *Facade) TradeDetail(ctx context.Context, tradeID id.ID) (*TradeDetail, error) {
	trade, entry, target, stop, err := f.loadTradeLegs(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	tb, err := f.store.GetTradeBalance(ctx, tradeID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "load trade balance")
	}
	return &TradeDetail{Trade: trade, Balance: tb, Entry: entry, Target: target, Stop: stop}, nil
}

// AccountOverview summarizes an account's balance and closed-trade
// performance, per spec §6's account_overview query.
type AccountOverview struct {
	Balance            *domain.Balance
	Available          money.Amount
	OpenTrades         int
	ClosedTrades       int
	MeanReturnOnRisk   float64
	StddevReturnOnRisk float64
	SharpeRatio        float64
	SortinoRatio       float64
}

// AccountOverview computes the summary above for one account/currency.
func (f *Facade) AccountOverview(ctx context.Context, accountID id.ID, currency money.Currency) (*AccountOverview, error) {
	bal, err := f.store.GetBalance(ctx, accountID, currency)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "load balance")
	}
	avail, err := bal.TotalAvailable()
	if err != nil {
		return nil, err
	}

	trades, err := f.store.ListTrades(ctx, accountID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list trades")
	}

	overview := &AccountOverview{Balance: bal, Available: avail}
	var perfs []capital.Performance
	for _, t := range trades {
		if !t.Status.IsTerminal() {
			overview.OpenTrades++
			continue
		}
		overview.ClosedTrades++
		if t.Status != domain.StatusClosedTarget && t.Status != domain.StatusClosedStopLoss {
			continue // canceled/rejected/expired trades never risked capital
		}
		tb, err := f.store.GetTradeBalance(ctx, t.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "load trade balance")
		}
		entry, err := f.store.GetOrder(ctx, t.EntryOrderID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "load entry order")
		}
		stop, err := f.store.GetOrder(ctx, t.StopOrderID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "load stop order")
		}
		risked, err := capital.DollarsAtRisk(t.Category, entry.UnitPrice, stop.UnitPrice, entry.Quantity)
		if err != nil {
			return nil, err
		}
		perfs = append(perfs, capital.Performance{RealizedPL: tb.TotalPerformance, RiskTaken: risked})
	}
	overview.MeanReturnOnRisk, overview.StddevReturnOnRisk = capital.AggregatePerformance(perfs)
	overview.SharpeRatio = capital.SharpeRatio(perfs, 0)
	overview.SortinoRatio = capital.SortinoRatio(perfs, 0, 0)
	return overview, nil
}

// RunReconciler starts the broker event consumption loop and blocks
// until ctx is canceled or the broker stream closes.
func (f *Facade) RunReconciler(ctx context.Context) error {
	if f.rec == nil {
		return apperr.New(apperr.Internal, "reconciler not configured")
	}
	return f.rec.Run(ctx)
}

// SyncTrade force-polls the broker for every non-terminal order on a
// trade and feeds any change through the reconciler, for callers that
// cannot wait on the streaming event loop (spec §6 "force broker poll").
func (f *Facade) SyncTrade(ctx context.Context, tradeID id.ID) error {
	if f.rec == nil {
		return apperr.New(apperr.Internal, "reconciler not configured")
	}
	_, entry, target, stop, err := f.loadTradeLegs(ctx, tradeID)
	if err != nil {
		return err
	}
	for _, o := range []*domain.Order{entry, target, stop} {
		if o == nil || o.BrokerOrderID == nil || o.Status.IsTerminal() {
			continue
		}
		bo, err := f.brk.Get(ctx, *o.BrokerOrderID)
		if err != nil {
			f.log.Warn().Err(err).Str("broker_order_id", *o.BrokerOrderID).Msg("sync poll failed")
			continue
		}
		if bo.Status == o.Status && bo.FilledQuantity == o.FilledQuantity {
			continue
		}
		evt := ports.Event{
			Kind: ports.EventTradeUpdate, BrokerOrderID: bo.BrokerOrderID, Status: bo.Status,
			FilledQuantity: bo.FilledQuantity, FillPrice: bo.AverageFillPrice, OccurredAt: f.clk.Now(),
		}
		if err := f.rec.HandleEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// pendingClientOrderID derives a stable, idempotent client-order-id for
// a given trade leg so retried submit calls (same journal entry, same
// network failure) never double-place an order at the broker.
func pendingClientOrderID(tradeID id.ID, role domain.OrderRole) string {
	return tradeID.String() + ":" + string(role)
}

// writeJournal records a pending-submission journal entry before any
// broker call, per spec §5's crash-recovery protocol.
func (f *Facade) writeJournal(ctx context.Context, tradeID id.ID, role domain.OrderRole, symbol string, qty int64) error {
	intent := journal.SubmissionIntent{
		TradeID: tradeID, ClientOrderID: pendingClientOrderID(tradeID, role), Role: role,
		Symbol: symbol, Quantity: qty, WrittenAt: f.clk.Now(),
	}
	payload, err := journal.Encode(intent)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "encode submission intent")
	}
	return f.store.WithTx(ctx, func(tx ports.Tx) error {
		return tx.WritePendingSubmission(ctx, &ports.PendingSubmission{
			TradeID: tradeID, ClientOrderID: intent.ClientOrderID, Role: role, WrittenAt: intent.WrittenAt, Payload: payload,
		})
	})
}

func (f *Facade) clearJournal(ctx context.Context, tradeID id.ID) {
	err := f.store.WithTx(ctx, func(tx ports.Tx) error { return tx.ClearPendingSubmission(ctx, tradeID) })
	if err != nil {
		f.log.Warn().Err(err).Str("trade", tradeID.String()).Msg("failed to clear pending submission")
	}
}

// submitLeg submits one order leg with the retry policy, a deadline, and
// an indeterminate-poll fallback if the deadline is hit while the broker
// may still have accepted the order.
func (f *Facade) submitLeg(ctx context.Context, clientOrderID, symbol string, o *domain.Order, ocoGroup string) (*ports.BrokerOrder, error) {
	req := ports.SubmitRequest{
		ClientOrderID: clientOrderID, Symbol: symbol, Action: o.Action, Category: o.Category,
		Quantity: o.Quantity, Price: o.UnitPrice, TimeInForce: o.TimeInForce, OCOGroup: ocoGroup,
	}

	cctx, cancel := context.WithTimeout(ctx, f.cfg.SubmitTimeout)
	defer cancel()

	var bo *ports.BrokerOrder
	err := f.cfg.Retry.Do(cctx, f.log, func() error {
		var err error
		bo, err = f.brk.Submit(cctx, req)
		return err
	})
	if err == nil {
		return bo, nil
	}
	if cctx.Err() != nil {
		return f.resolveIndeterminate(ctx, req)
	}
	return nil, err
}

// resolveIndeterminate re-attempts the same idempotent submit for up to
// IndeterminatePoll before surfacing Indeterminate, per spec §5's
// cancellation & timeouts policy. Submit is idempotent on ClientOrderID
// (spec §4.4), so replaying it is safe whether or not the broker actually
// accepted the order before the deadline: a prior acceptance is echoed
// back rather than placed twice.
func (f *Facade) resolveIndeterminate(ctx context.Context, req ports.SubmitRequest) (*ports.BrokerOrder, error) {
	deadline := time.Now().Add(f.cfg.IndeterminatePoll)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		bo, err := f.brk.Submit(ctx, req)
		if err == nil && bo != nil {
			return bo, nil
		}
	}
	return nil, apperr.New(apperr.Indeterminate, "submission timed out and could not be resolved within %s", f.cfg.IndeterminatePoll)
}

// SubmitTrade places the entry order, then (only once the entry is
// accepted) the target and stop as OCO siblings. A Permanent failure on
// either sibling cancels the entry and leaves the trade Funded with funds
// still reserved (spec §4.7's submit rollback).
func (f *Facade) SubmitTrade(ctx context.Context, tradeID id.ID) (*domain.Trade, error) {
	var result *domain.Trade
	err := f.locks.WithLock(ctx, tradeID, f.cfg.CancelReplaceTimeout, func() error {
		trade, entry, target, stop, err := f.loadTradeLegs(ctx, tradeID)
		if err != nil {
			return err
		}
		if trade.Status != domain.StatusFunded {
			return apperr.New(apperr.IllegalTransition, "cannot submit trade from %s", trade.Status)
		}

		if err := f.writeJournal(ctx, tradeID, domain.RoleEntry, trade.VehicleSymbol, entry.Quantity); err != nil {
			return err
		}

		entryBO, err := f.submitLeg(ctx, pendingClientOrderID(tradeID, domain.RoleEntry), trade.VehicleSymbol, entry, "")
		if err != nil {
			// Nothing was reserved beyond the already-funded capital;
			// the trade stays Funded and the caller may retry submit.
			f.clearJournal(ctx, tradeID)
			f.events.EmitError("facade", err, map[string]interface{}{"trade_id": tradeID, "leg": "entry"})
			return err
		}

		ocoGroup := tradeID.String()
		targetBO, targetErr := f.submitLeg(ctx, pendingClientOrderID(tradeID, domain.RoleTarget), trade.VehicleSymbol, target, ocoGroup)
		stopBO, stopErr := f.submitLeg(ctx, pendingClientOrderID(tradeID, domain.RoleStop), trade.VehicleSymbol, stop, ocoGroup)

		if targetErr != nil || stopErr != nil {
			cctx, cancel := context.WithTimeout(ctx, f.cfg.CancelReplaceTimeout)
			if cancelErr := f.brk.Cancel(cctx, entryBO.BrokerOrderID); cancelErr != nil {
				f.log.Warn().Err(cancelErr).Msg("failed to roll back entry order after sibling submit failure")
			}
			cancel()
			f.clearJournal(ctx, tradeID)
			if targetErr != nil {
				f.events.Emit(events.TradeRejected, "facade", map[string]interface{}{"trade_id": tradeID, "leg": "target", "error": targetErr.Error()})
				return targetErr
			}
			f.events.Emit(events.TradeRejected, "facade", map[string]interface{}{"trade_id": tradeID, "leg": "stop", "error": stopErr.Error()})
			return stopErr
		}

		now := f.clk.Now()
		applyBrokerAccept(entry, entryBO, now)
		applyBrokerAccept(target, targetBO, now)
		applyBrokerAccept(stop, stopBO, now)

		err = f.store.WithTx(ctx, func(tx ports.Tx) error {
			t, err := tx.GetTrade(ctx, tradeID)
			if err != nil {
				return apperr.Wrap(apperr.Internal, err, "reload trade")
			}
			if err := statemachine.Transition(t, domain.StatusSubmitted, now); err != nil {
				return err
			}
			if err := tx.SaveTrade(ctx, t); err != nil {
				return apperr.Wrap(apperr.Internal, err, "save trade")
			}
			for _, o := range []*domain.Order{entry, target, stop} {
				if err := tx.SaveOrder(ctx, o); err != nil {
					return apperr.Wrap(apperr.Internal, err, "save order")
				}
			}
			if err := tx.ClearPendingSubmission(ctx, tradeID); err != nil {
				return apperr.Wrap(apperr.Internal, err, "clear pending submission")
			}
			result = t
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	f.events.Emit(events.TradeSubmitted, "facade", map[string]interface{}{"trade_id": result.ID, "account_id": result.AccountID})
	return result, nil
}

func applyBrokerAccept(o *domain.Order, bo *ports.BrokerOrder, now time.Time) {
	boID := bo.BrokerOrderID
	o.BrokerOrderID = &boID
	o.Status = bo.Status
	o.UpdatedAt = now
	o.SubmittedAt = &now
}

// ModifyStop replaces the stop order's price.
func (f *Facade) ModifyStop(ctx context.Context, tradeID id.ID, newPrice money.Amount) (*domain.Trade, error) {
	return f.modifyLeg(ctx, tradeID, domain.RoleStop, newPrice)
}

// ModifyTarget replaces the target order's price.
func (f *Facade) ModifyTarget(ctx context.Context, tradeID id.ID, newPrice money.Amount) (*domain.Trade, error) {
	return f.modifyLeg(ctx, tradeID, domain.RoleTarget, newPrice)
}

func (f *Facade) modifyLeg(ctx context.Context, tradeID id.ID, role domain.OrderRole, newPrice money.Amount) (*domain.Trade, error) {
	var result *domain.Trade
	err := f.locks.WithLock(ctx, tradeID, f.cfg.CancelReplaceTimeout, func() error {
		trade, entry, target, stop, err := f.loadTradeLegs(ctx, tradeID)
		if err != nil {
			return err
		}
		reference := entry.UnitPrice
		if entry.AverageFillPrice != nil {
			reference = *entry.AverageFillPrice
		}
		if err := statemachine.ValidateModify(trade, role, newPrice, reference); err != nil {
			return err
		}

		var leg *domain.Order
		if role == domain.RoleStop {
			leg = stop
		} else {
			leg = target
		}
		if leg.BrokerOrderID == nil {
			return apperr.New(apperr.IllegalTransition, "%s order has not been submitted to the broker yet", role)
		}

		cctx, cancel := context.WithTimeout(ctx, f.cfg.CancelReplaceTimeout)
		defer cancel()
		price := newPrice
		bo, err := f.brk.Replace(cctx, ports.ReplaceRequest{BrokerOrderID: *leg.BrokerOrderID, NewPrice: &price})
		if err != nil {
			// Permanent (or any) replace failure leaves local state untouched.
			return err
		}

		return f.store.WithTx(ctx, func(tx ports.Tx) error {
			l, err := tx.GetOrder(ctx, leg.ID)
			if err != nil {
				return apperr.Wrap(apperr.Internal, err, "reload order")
			}
			l.UnitPrice = newPrice
			l.Status = bo.Status
			l.UpdatedAt = f.clk.Now()
			if err := tx.SaveOrder(ctx, l); err != nil {
				return apperr.Wrap(apperr.Internal, err, "save order")
			}
			result = trade
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CloseTrade market-exits a filled position immediately rather than
// waiting for the stop or target to trigger naturally. Decision (DESIGN.md):
// the safety-stop leg is canceled and the target leg is re-submitted as a
// RoleMarketOut market order, so the reconciler settles its eventual fill
// by the sign of the realized result (close_target for a gain,
// close_safety_stop for a loss) instead of assuming a target exit.
func (f *Facade) CloseTrade(ctx context.Context, tradeID id.ID) (*domain.Trade, error) {
	var result *domain.Trade
	err := f.locks.WithLock(ctx, tradeID, f.cfg.CancelReplaceTimeout, func() error {
		trade, _, target, stop, err := f.loadTradeLegs(ctx, tradeID)
		if err != nil {
			return err
		}
		if trade.Status != domain.StatusFilled {
			return apperr.New(apperr.IllegalTransition, "cannot close_trade a trade in status %s", trade.Status)
		}

		f.bestEffortCancel(ctx, stop)
		f.bestEffortCancel(ctx, target)

		marketTarget := *target
		marketTarget.Category = domain.OrderMarket
		marketTarget.Status = domain.OrderNew
		marketTarget.BrokerOrderID = nil
		// Tagged distinctly from RoleTarget so the reconciler settles
		// its eventual fill by realized P&L sign (close_target vs.
		// close_safety_stop) rather than always as a target exit.
		marketTarget.Role = domain.RoleMarketOut

		clientOrderID := pendingClientOrderID(tradeID, domain.RoleMarketOut)
		bo, err := f.submitLeg(ctx, clientOrderID, trade.VehicleSymbol, &marketTarget, "")
		if err != nil {
			return err
		}

		now := f.clk.Now()
		applyBrokerAccept(&marketTarget, bo, now)

		return f.store.WithTx(ctx, func(tx ports.Tx) error {
			if err := tx.SaveOrder(ctx, &marketTarget); err != nil {
				return apperr.Wrap(apperr.Internal, err, "save order")
			}
			result = trade
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	f.events.Emit(events.TradeClosed, "facade", map[string]interface{}{"trade_id": result.ID, "account_id": result.AccountID})
	return result, nil
}
