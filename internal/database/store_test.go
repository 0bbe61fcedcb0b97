package database

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
	"github.com/aristath/trust-engine/internal/ports"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAccountAndBalanceRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	acc := &domain.Account{
		ID: id.ID("acc-1"), Name: "main", Environment: domain.EnvironmentPaper,
		TaxRate: "15.0", EarningsRate: "10.0", CreatedAt: now,
	}

	err := store.WithTx(ctx, func(tx ports.Tx) error {
		if err := tx.CreateAccount(ctx, acc); err != nil {
			return err
		}
		bal := domain.NewBalance(acc.ID, money.USD)
		bal.TotalBalance = money.MustNew("10000.00", money.USD)
		return tx.SaveBalance(ctx, bal)
	})
	require.NoError(t, err)

	got, err := store.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "main", got.Name)

	bal, err := store.GetBalance(ctx, acc.ID, money.USD)
	require.NoError(t, err)
	require.Equal(t, 0, bal.TotalBalance.Cmp(money.MustNew("10000.00", money.USD)))
}

func TestCreateTradeWithOrdersRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	acc := &domain.Account{ID: id.ID("acc-2"), Name: "trades", Environment: domain.EnvironmentPaper, CreatedAt: now}
	trade := &domain.Trade{
		ID: id.ID("trade-1"), AccountID: acc.ID, VehicleSymbol: "AAPL", VehicleBroker: "paper",
		Category: domain.TradeLong, Currency: money.USD, Status: domain.StatusNew,
		EntryOrderID: id.ID("order-entry"), TargetOrderID: id.ID("order-target"), StopOrderID: id.ID("order-stop"),
		CreatedAt: now, UpdatedAt: now,
	}
	tb := domain.NewTradeBalance(trade.ID, money.USD)
	entry := &domain.Order{ID: trade.EntryOrderID, Role: domain.RoleEntry, UnitPrice: money.MustNew("100.00", money.USD), Quantity: 10, Category: domain.OrderMarket, Action: domain.ActionBuy, TimeInForce: domain.TIFDay, Status: domain.OrderNew, CreatedAt: now, UpdatedAt: now}
	target := &domain.Order{ID: trade.TargetOrderID, Role: domain.RoleTarget, UnitPrice: money.MustNew("110.00", money.USD), Quantity: 10, Category: domain.OrderLimit, Action: domain.ActionSell, TimeInForce: domain.TIFGTC, Status: domain.OrderNew, CreatedAt: now, UpdatedAt: now}
	stop := &domain.Order{ID: trade.StopOrderID, Role: domain.RoleStop, UnitPrice: money.MustNew("90.00", money.USD), Quantity: 10, Category: domain.OrderStop, Action: domain.ActionSell, TimeInForce: domain.TIFGTC, Status: domain.OrderNew, CreatedAt: now, UpdatedAt: now}

	err := store.WithTx(ctx, func(tx ports.Tx) error {
		if err := tx.CreateAccount(ctx, acc); err != nil {
			return err
		}
		return tx.CreateTrade(ctx, trade, tb, entry, target, stop)
	})
	require.NoError(t, err)

	gotTrade, err := store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusNew, gotTrade.Status)

	gotEntry, err := store.GetOrder(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, 0, gotEntry.UnitPrice.Cmp(money.MustNew("100.00", money.USD)))

	gotTB, err := store.GetTradeBalance(ctx, trade.ID)
	require.NoError(t, err)
	require.True(t, gotTB.Funding.IsZero())
}

func TestExecutionDedupUniqueIndex(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	acc := &domain.Account{ID: id.ID("acc-3"), Name: "dedup", Environment: domain.EnvironmentPaper, CreatedAt: now}
	trade := &domain.Trade{
		ID: id.ID("trade-2"), AccountID: acc.ID, VehicleSymbol: "MSFT", VehicleBroker: "paper",
		Category: domain.TradeLong, Currency: money.USD, Status: domain.StatusNew,
		EntryOrderID: id.ID("o1"), TargetOrderID: id.ID("o2"), StopOrderID: id.ID("o3"),
		CreatedAt: now, UpdatedAt: now,
	}
	tb := domain.NewTradeBalance(trade.ID, money.USD)
	o := func(oid id.ID, role domain.OrderRole) *domain.Order {
		return &domain.Order{ID: oid, Role: role, UnitPrice: money.MustNew("1.00", money.USD), Quantity: 1, Category: domain.OrderMarket, Action: domain.ActionBuy, TimeInForce: domain.TIFDay, Status: domain.OrderNew, CreatedAt: now, UpdatedAt: now}
	}

	err := store.WithTx(ctx, func(tx ports.Tx) error {
		if err := tx.CreateAccount(ctx, acc); err != nil {
			return err
		}
		if err := tx.CreateTrade(ctx, trade, tb, o(trade.EntryOrderID, domain.RoleEntry), o(trade.TargetOrderID, domain.RoleTarget), o(trade.StopOrderID, domain.RoleStop)); err != nil {
			return err
		}
		exec := &domain.Execution{
			ID: id.ID("exec-1"), Broker: "paper", AccountID: acc.ID, BrokerExecutionID: "be-1",
			TradeID: trade.ID, OrderID: trade.EntryOrderID, Symbol: "MSFT", Side: domain.ExecutionBuy,
			Quantity: 1, Price: money.MustNew("1.00", money.USD), ExecutedAt: now,
		}
		return tx.SaveExecution(ctx, exec)
	})
	require.NoError(t, err)

	found, err := store.FindExecution(ctx, "paper", acc.ID, "be-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, trade.ID, found.TradeID)

	notFound, err := store.FindExecution(ctx, "paper", acc.ID, "be-does-not-exist")
	require.NoError(t, err)
	require.Nil(t, notFound)
}
