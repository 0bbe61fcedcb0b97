package facade

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trust-engine/internal/broker/paper"
	"github.com/aristath/trust-engine/internal/clock"
	"github.com/aristath/trust-engine/internal/concurrency"
	"github.com/aristath/trust-engine/internal/database"
	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/ledger"
	"github.com/aristath/trust-engine/internal/money"
	"github.com/aristath/trust-engine/internal/ports"
	"github.com/aristath/trust-engine/internal/reconciler"
	"github.com/aristath/trust-engine/internal/statemachine"
)

func newTestFacade(t *testing.T) (*Facade, *database.Store, *paper.Broker, *clock.Fixed) {
	t.Helper()
	store, err := database.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now, err := time.Parse(time.RFC3339, "2026-07-15T00:00:00Z")
	require.NoError(t, err)
	fixed := clock.NewFixed(now)

	brk := paper.New(zerolog.Nop(), fixed.Now)
	lg := ledger.New(fixed, id.NewSequential("tx"), zerolog.Nop())
	locks := concurrency.NewTradeLocks()
	rec := reconciler.New(store, brk, lg, locks, fixed, id.NewSequential("exec"), reconciler.Config{BrokerName: "paper", LockTimeout: time.Second}, zerolog.Nop())

	cfg := DefaultConfig()
	cfg.SubmitTimeout = time.Second
	cfg.CancelReplaceTimeout = time.Second
	f := New(store, brk, lg, locks, fixed, id.NewSequential("facade"), rec, cfg, zerolog.Nop())
	return f, store, brk, fixed
}

func seedAccountWithBalance(t *testing.T, ctx context.Context, f *Facade, balance string) *domain.Account {
	t.Helper()
	acc, err := f.CreateAccount(ctx, "main", "", domain.EnvironmentPaper, "15", "20")
	require.NoError(t, err)
	_, err = f.Deposit(ctx, acc.ID, money.MustNew(balance, money.USD))
	require.NoError(t, err)
	return acc
}

func draftFor(accID id.ID) statemachine.CreateDraft {
	return statemachine.CreateDraft{
		AccountID: accID, VehicleSymbol: "AAPL", VehicleBroker: "paper",
		Category: domain.TradeLong, Currency: money.USD,
		EntryPrice: money.MustNew("150.00", money.USD), TargetPrice: money.MustNew("160.00", money.USD),
		StopPrice: money.MustNew("145.00", money.USD), Quantity: 50, TimeInForce: domain.TIFDay,
	}
}

func TestFullLifecycleEntryThenTargetFill(t *testing.T) {
	f, store, brk, clk := newTestFacade(t)
	ctx := context.Background()

	acc := seedAccountWithBalance(t, ctx, f, "10000")
	_, err := f.CreateRule(ctx, acc.ID, domain.RuleRiskPerTrade, "10", 1, domain.LevelError)
	require.NoError(t, err)

	trade, err := f.CreateTrade(ctx, draftFor(acc.ID))
	require.NoError(t, err)
	require.Equal(t, domain.StatusNew, trade.Status)

	trade, err = f.FundTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFunded, trade.Status)

	trade, err = f.SubmitTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSubmitted, trade.Status)

	detail, err := f.TradeDetail(ctx, trade.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Entry.BrokerOrderID)
	require.NotNil(t, detail.Target.BrokerOrderID)
	require.NotNil(t, detail.Stop.BrokerOrderID)

	fillPrice := money.MustNew("150.00", money.USD)
	brk.Simulate(ports.Event{
		Kind: ports.EventTradeUpdate, BrokerOrderID: *detail.Entry.BrokerOrderID, BrokerExecutionID: "ex-entry",
		Status: domain.OrderFilled, FilledQuantity: 50, FillPrice: &fillPrice, OccurredAt: clk.Now(),
	})
	require.NoError(t, f.SyncTrade(ctx, trade.ID))

	gotTrade, err := store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFilled, gotTrade.Status)

	targetFill := money.MustNew("160.00", money.USD)
	brk.Simulate(ports.Event{
		Kind: ports.EventTradeUpdate, BrokerOrderID: *detail.Target.BrokerOrderID, BrokerExecutionID: "ex-target",
		Status: domain.OrderFilled, FilledQuantity: 50, FillPrice: &targetFill, OccurredAt: clk.Now(),
	})
	require.NoError(t, f.SyncTrade(ctx, trade.ID))

	gotTrade, err = store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosedTarget, gotTrade.Status)

	overview, err := f.AccountOverview(ctx, acc.ID, money.USD)
	require.NoError(t, err)
	require.Equal(t, 1, overview.ClosedTrades)
	require.Equal(t, 0, overview.OpenTrades)
	require.Equal(t, "10500.00", overview.Balance.TotalBalance.String())
}

func TestFundTradeBlockedByRiskRule(t *testing.T) {
	f, _, _, _ := newTestFacade(t)
	ctx := context.Background()

	acc := seedAccountWithBalance(t, ctx, f, "10000")
	_, err := f.CreateRule(ctx, acc.ID, domain.RuleRiskPerTrade, "1", 1, domain.LevelError)
	require.NoError(t, err)

	trade, err := f.CreateTrade(ctx, draftFor(acc.ID))
	require.NoError(t, err)

	_, err = f.FundTrade(ctx, trade.ID)
	require.Error(t, err)

	gotTrade, err := f.TradeDetail(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusNew, gotTrade.Trade.Status)
}

func TestCancelFundedTradeReturnsReservedCapital(t *testing.T) {
	f, _, _, _ := newTestFacade(t)
	ctx := context.Background()

	acc := seedAccountWithBalance(t, ctx, f, "10000")
	_, err := f.CreateRule(ctx, acc.ID, domain.RuleRiskPerTrade, "10", 1, domain.LevelError)
	require.NoError(t, err)

	trade, err := f.CreateTrade(ctx, draftFor(acc.ID))
	require.NoError(t, err)
	trade, err = f.FundTrade(ctx, trade.ID)
	require.NoError(t, err)

	trade, err = f.CancelTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCanceled, trade.Status)

	overview, err := f.AccountOverview(ctx, acc.ID, money.USD)
	require.NoError(t, err)
	require.Equal(t, "10000.00", overview.Available.String())
}

func TestModifyStopRejectsWrongDirection(t *testing.T) {
	f, _, _, _ := newTestFacade(t)
	ctx := context.Background()

	acc := seedAccountWithBalance(t, ctx, f, "10000")
	_, err := f.CreateRule(ctx, acc.ID, domain.RuleRiskPerTrade, "10", 1, domain.LevelError)
	require.NoError(t, err)

	trade, err := f.CreateTrade(ctx, draftFor(acc.ID))
	require.NoError(t, err)
	trade, err = f.FundTrade(ctx, trade.ID)
	require.NoError(t, err)

	_, err = f.ModifyStop(ctx, trade.ID, money.MustNew("155.00", money.USD))
	require.Error(t, err)
}
