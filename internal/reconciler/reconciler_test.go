package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trust-engine/internal/clock"
	"github.com/aristath/trust-engine/internal/concurrency"
	"github.com/aristath/trust-engine/internal/database"
	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/ledger"
	"github.com/aristath/trust-engine/internal/money"
	"github.com/aristath/trust-engine/internal/ports"
)

func newTestReconciler(t *testing.T) (*Reconciler, *database.Store, *clock.Fixed) {
	t.Helper()
	store, err := database.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now, err := time.Parse(time.RFC3339, "2026-07-15T00:00:00Z")
	require.NoError(t, err)
	fixed := clock.NewFixed(now)

	lg := ledger.New(fixed, id.NewSequential("tx"), zerolog.Nop())
	locks := concurrency.NewTradeLocks()
	r := New(store, nil, lg, locks, fixed, id.NewSequential("exec"), Config{BrokerName: "paper", LockTimeout: time.Second}, zerolog.Nop())
	return r, store, fixed
}

// seedFundedSubmittedTrade creates an account funded with 10,000 USD, a
// trade funded for 7,500 (qty 50 @ 150 entry, stop 145, target 160), and
// advances it to Submitted with all three legs carrying broker order ids.
func seedFundedSubmittedTrade(t *testing.T, store *database.Store, now time.Time) *domain.Trade {
	t.Helper()
	ctx := context.Background()

	acc := &domain.Account{ID: id.ID("acc-1"), Name: "main", Environment: domain.EnvironmentPaper, CreatedAt: now}
	trade := &domain.Trade{
		ID: id.ID("trade-1"), AccountID: acc.ID, VehicleSymbol: "AAPL", VehicleBroker: "paper",
		Category: domain.TradeLong, Currency: money.USD, Status: domain.StatusSubmitted,
		EntryOrderID: id.ID("o-entry"), TargetOrderID: id.ID("o-target"), StopOrderID: id.ID("o-stop"),
		CreatedAt: now, UpdatedAt: now,
	}
	tb := domain.NewTradeBalance(trade.ID, money.USD)
	tb.Funding = money.MustNew("7500", money.USD)
	tb.CapitalOutMarket = money.MustNew("7500", money.USD)

	entryBrokerID, targetBrokerID, stopBrokerID := "bo-entry", "bo-target", "bo-stop"
	entry := &domain.Order{
		ID: trade.EntryOrderID, BrokerOrderID: &entryBrokerID, Role: domain.RoleEntry,
		UnitPrice: money.MustNew("150.00", money.USD), Quantity: 50, Category: domain.OrderMarket,
		Action: domain.ActionBuy, TimeInForce: domain.TIFDay, Status: domain.OrderAccepted, CreatedAt: now, UpdatedAt: now,
	}
	target := &domain.Order{
		ID: trade.TargetOrderID, BrokerOrderID: &targetBrokerID, Role: domain.RoleTarget,
		UnitPrice: money.MustNew("160.00", money.USD), Quantity: 50, Category: domain.OrderLimit,
		Action: domain.ActionSell, TimeInForce: domain.TIFGTC, Status: domain.OrderAccepted, CreatedAt: now, UpdatedAt: now,
	}
	stop := &domain.Order{
		ID: trade.StopOrderID, BrokerOrderID: &stopBrokerID, Role: domain.RoleStop,
		UnitPrice: money.MustNew("145.00", money.USD), Quantity: 50, Category: domain.OrderStop,
		Action: domain.ActionSell, TimeInForce: domain.TIFGTC, Status: domain.OrderAccepted, CreatedAt: now, UpdatedAt: now,
	}

	err := store.WithTx(ctx, func(tx ports.Tx) error {
		if err := tx.CreateAccount(ctx, acc); err != nil {
			return err
		}
		bal := domain.NewBalance(acc.ID, money.USD)
		bal.TotalBalance = money.MustNew("10000", money.USD)
		bal.TotalInTrade = money.MustNew("7500", money.USD)
		if err := tx.SaveBalance(ctx, bal); err != nil {
			return err
		}
		return tx.CreateTrade(ctx, trade, tb, entry, target, stop)
	})
	require.NoError(t, err)
	return trade
}

func TestEntryFillOpensTradeAndRecordsExecution(t *testing.T) {
	r, store, clk := newTestReconciler(t)
	ctx := context.Background()
	trade := seedFundedSubmittedTrade(t, store, clk.Now())

	fillPrice := money.MustNew("150.00", money.USD)
	evt := ports.Event{
		Kind: ports.EventTradeUpdate, BrokerOrderID: "bo-entry", BrokerExecutionID: "ex-1",
		Status: domain.OrderFilled, FilledQuantity: 50, FillPrice: &fillPrice, OccurredAt: clk.Now(),
	}
	require.NoError(t, r.HandleEvent(ctx, evt))

	gotTrade, err := store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFilled, gotTrade.Status)

	gotTB, err := store.GetTradeBalance(ctx, trade.ID)
	require.NoError(t, err)
	require.True(t, gotTB.CapitalOutMarket.IsZero())
	require.Equal(t, "7500.00", gotTB.CapitalInMarket.String())

	exec, err := store.FindExecution(ctx, "paper", trade.AccountID, "ex-1")
	require.NoError(t, err)
	require.NotNil(t, exec)
	require.Equal(t, trade.EntryOrderID, exec.OrderID)
}

func TestDuplicateFillEventIsIdempotent(t *testing.T) {
	r, store, clk := newTestReconciler(t)
	ctx := context.Background()
	trade := seedFundedSubmittedTrade(t, store, clk.Now())

	fillPrice := money.MustNew("150.00", money.USD)
	evt := ports.Event{
		Kind: ports.EventTradeUpdate, BrokerOrderID: "bo-entry", BrokerExecutionID: "ex-1",
		Status: domain.OrderFilled, FilledQuantity: 50, FillPrice: &fillPrice, OccurredAt: clk.Now(),
	}
	require.NoError(t, r.HandleEvent(ctx, evt))

	tbAfterFirst, err := store.GetTradeBalance(ctx, trade.ID)
	require.NoError(t, err)

	// Replay the identical event: dedup must make this a pure no-op.
	require.NoError(t, r.HandleEvent(ctx, evt))

	tbAfterSecond, err := store.GetTradeBalance(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, tbAfterFirst.CapitalInMarket.String(), tbAfterSecond.CapitalInMarket.String())
	require.Equal(t, tbAfterFirst.CapitalOutMarket.String(), tbAfterSecond.CapitalOutMarket.String())

	gotTrade, err := store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFilled, gotTrade.Status)
}

func TestStopLossCloseWithSlippage(t *testing.T) {
	r, store, clk := newTestReconciler(t)
	ctx := context.Background()
	trade := seedFundedSubmittedTrade(t, store, clk.Now())

	entryFill := money.MustNew("150.00", money.USD)
	require.NoError(t, r.HandleEvent(ctx, ports.Event{
		Kind: ports.EventTradeUpdate, BrokerOrderID: "bo-entry", BrokerExecutionID: "ex-entry",
		Status: domain.OrderFilled, FilledQuantity: 50, FillPrice: &entryFill, OccurredAt: clk.Now(),
	}))

	stopFill := money.MustNew("144.50", money.USD)
	require.NoError(t, r.HandleEvent(ctx, ports.Event{
		Kind: ports.EventTradeUpdate, BrokerOrderID: "bo-stop", BrokerExecutionID: "ex-stop",
		Status: domain.OrderFilled, FilledQuantity: 50, FillPrice: &stopFill, OccurredAt: clk.Now(),
	}))

	gotTrade, err := store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosedStopLoss, gotTrade.Status)
	require.NotNil(t, gotTrade.ClosedAt)

	bal, err := store.GetBalance(ctx, trade.AccountID, money.USD)
	require.NoError(t, err)
	require.Equal(t, "9725.00", bal.TotalBalance.String())
	require.True(t, bal.TotalInTrade.IsZero())

	gotTB, err := store.GetTradeBalance(ctx, trade.ID)
	require.NoError(t, err)
	require.True(t, gotTB.Funding.IsZero())
	require.True(t, gotTB.CapitalInMarket.IsZero())
}

func TestTargetCloseWithoutSlippage(t *testing.T) {
	r, store, clk := newTestReconciler(t)
	ctx := context.Background()
	trade := seedFundedSubmittedTrade(t, store, clk.Now())

	entryFill := money.MustNew("150.00", money.USD)
	require.NoError(t, r.HandleEvent(ctx, ports.Event{
		Kind: ports.EventTradeUpdate, BrokerOrderID: "bo-entry", BrokerExecutionID: "ex-entry",
		Status: domain.OrderFilled, FilledQuantity: 50, FillPrice: &entryFill, OccurredAt: clk.Now(),
	}))

	targetFill := money.MustNew("160.00", money.USD)
	require.NoError(t, r.HandleEvent(ctx, ports.Event{
		Kind: ports.EventTradeUpdate, BrokerOrderID: "bo-target", BrokerExecutionID: "ex-target",
		Status: domain.OrderFilled, FilledQuantity: 50, FillPrice: &targetFill, OccurredAt: clk.Now(),
	}))

	gotTrade, err := store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosedTarget, gotTrade.Status)

	bal, err := store.GetBalance(ctx, trade.AccountID, money.USD)
	require.NoError(t, err)
	// proceeds 8000 - funding 7500 = +500 realized gain.
	require.Equal(t, "10500.00", bal.TotalBalance.String())
}

// seedFilledMarketOutTrade advances the seeded trade to Filled (entry fill
// at 150.00), then re-tags the target leg as the RoleMarketOut order
// close_trade would have submitted — mirroring facade.CloseTrade, which
// reuses the target order's id and resets its role, category, and broker
// order id.
func seedFilledMarketOutTrade(t *testing.T, store *database.Store, now time.Time, marketOutBrokerID string) *domain.Trade {
	t.Helper()
	ctx := context.Background()
	trade := seedFundedSubmittedTrade(t, store, now)

	entryFill := money.MustNew("150.00", money.USD)
	require.NoError(t, store.WithTx(ctx, func(tx ports.Tx) error {
		order, err := tx.GetOrder(ctx, trade.EntryOrderID)
		require.NoError(t, err)
		order.Status = domain.OrderFilled
		order.FilledQuantity = 50
		order.AverageFillPrice = &entryFill
		require.NoError(t, tx.SaveOrder(ctx, order))

		tb, err := tx.GetTradeBalance(ctx, trade.ID)
		require.NoError(t, err)
		tb.CapitalOutMarket = money.Zero(money.USD)
		tb.CapitalInMarket = money.MustNew("7500", money.USD)
		require.NoError(t, tx.SaveTradeBalance(ctx, tb))

		trade.Status = domain.StatusFilled
		return tx.SaveTrade(ctx, trade)
	}))

	marketOut, err := store.GetOrder(ctx, trade.TargetOrderID)
	require.NoError(t, err)
	marketOut.Role = domain.RoleMarketOut
	marketOut.Category = domain.OrderMarket
	marketOut.Status = domain.OrderNew
	marketOut.BrokerOrderID = &marketOutBrokerID
	require.NoError(t, store.WithTx(ctx, func(tx ports.Tx) error {
		return tx.SaveOrder(ctx, marketOut)
	}))
	return trade
}

func TestMarketOutCloseWithGainSettlesAsTarget(t *testing.T) {
	r, store, clk := newTestReconciler(t)
	trade := seedFilledMarketOutTrade(t, store, clk.Now(), "bo-market-out")

	fillPrice := money.MustNew("161.00", money.USD) // above target; still a RoleMarketOut fill
	require.NoError(t, r.HandleEvent(context.Background(), ports.Event{
		Kind: ports.EventTradeUpdate, BrokerOrderID: "bo-market-out", BrokerExecutionID: "ex-market-out",
		Status: domain.OrderFilled, FilledQuantity: 50, FillPrice: &fillPrice, OccurredAt: clk.Now(),
	}))

	gotTrade, err := store.GetTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosedTarget, gotTrade.Status)

	bal, err := store.GetBalance(context.Background(), trade.AccountID, money.USD)
	require.NoError(t, err)
	// proceeds 8050 - funding 7500 = +550 realized gain.
	require.Equal(t, "10550.00", bal.TotalBalance.String())
}

func TestMarketOutCloseWithLossSettlesAsSafetyStop(t *testing.T) {
	r, store, clk := newTestReconciler(t)
	trade := seedFilledMarketOutTrade(t, store, clk.Now(), "bo-market-out")

	fillPrice := money.MustNew("148.00", money.USD) // below entry, never hit the safety stop
	require.NoError(t, r.HandleEvent(context.Background(), ports.Event{
		Kind: ports.EventTradeUpdate, BrokerOrderID: "bo-market-out", BrokerExecutionID: "ex-market-out",
		Status: domain.OrderFilled, FilledQuantity: 50, FillPrice: &fillPrice, OccurredAt: clk.Now(),
	}))

	gotTrade, err := store.GetTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosedStopLoss, gotTrade.Status)

	bal, err := store.GetBalance(context.Background(), trade.AccountID, money.USD)
	require.NoError(t, err)
	// proceeds 7400 - funding 7500 = -100 realized loss; no slippage line,
	// since a market-out fill has no stop price to measure slippage against.
	require.Equal(t, "9900.00", bal.TotalBalance.String())
}

func TestEntryRejectionReleasesReservedCapital(t *testing.T) {
	r, store, clk := newTestReconciler(t)
	ctx := context.Background()
	trade := seedFundedSubmittedTrade(t, store, clk.Now())

	require.NoError(t, r.HandleEvent(ctx, ports.Event{
		Kind: ports.EventTradeUpdate, BrokerOrderID: "bo-entry",
		Status: domain.OrderRejected, OccurredAt: clk.Now(),
	}))

	gotTrade, err := store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusRejected, gotTrade.Status)

	bal, err := store.GetBalance(ctx, trade.AccountID, money.USD)
	require.NoError(t, err)
	avail, err := bal.TotalAvailable()
	require.NoError(t, err)
	require.Equal(t, "10000.00", avail.String())
	require.True(t, bal.TotalInTrade.IsZero())
}

func TestUnknownOrderEventIsDiscarded(t *testing.T) {
	r, _, clk := newTestReconciler(t)
	err := r.HandleEvent(context.Background(), ports.Event{
		Kind: ports.EventTradeUpdate, BrokerOrderID: "does-not-exist", Status: domain.OrderFilled, OccurredAt: clk.Now(),
	})
	require.NoError(t, err)
}
