package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
	"github.com/aristath/trust-engine/internal/ports"
)

type fakeReader struct {
	agg          ports.MonthAggregate
	monthStartBal money.Amount
}

func (f fakeReader) GetAccount(context.Context, id.ID) (*domain.Account, error) { return nil, nil }
func (f fakeReader) GetAccountByName(context.Context, string) (*domain.Account, error) {
	return nil, nil
}
func (f fakeReader) GetBalance(context.Context, id.ID, money.Currency) (*domain.Balance, error) {
	return nil, nil
}
func (f fakeReader) ListRules(context.Context, id.ID) ([]*domain.Rule, error) { return nil, nil }
func (f fakeReader) GetTradingVehicle(context.Context, string, string) (*domain.TradingVehicle, error) {
	return nil, nil
}
func (f fakeReader) GetTrade(context.Context, id.ID) (*domain.Trade, error) { return nil, nil }
func (f fakeReader) GetTradeByOrderID(context.Context, id.ID) (*domain.Trade, error) { return nil, nil }
func (f fakeReader) GetTradeBalance(context.Context, id.ID) (*domain.TradeBalance, error) {
	return nil, nil
}
func (f fakeReader) GetOrder(context.Context, id.ID) (*domain.Order, error) { return nil, nil }
func (f fakeReader) GetOrderByBrokerID(context.Context, string, string) (*domain.Order, error) {
	return nil, nil
}
func (f fakeReader) ListTrades(context.Context, id.ID) ([]*domain.Trade, error) { return nil, nil }
func (f fakeReader) FindExecution(context.Context, string, id.ID, string) (*domain.Execution, error) {
	return nil, nil
}
func (f fakeReader) MonthWindowAggregate(context.Context, id.ID, time.Time, time.Time) (ports.MonthAggregate, error) {
	return f.agg, nil
}
func (f fakeReader) MonthStartBalance(context.Context, id.ID, money.Currency, time.Time) (money.Amount, error) {
	return f.monthStartBal, nil
}
func (f fakeReader) PendingSubmission(context.Context, id.ID) (*ports.PendingSubmission, error) {
	return nil, nil
}

func TestRiskPerTradeBlocks(t *testing.T) {
	bal := domain.NewBalance("acc-1", money.USD)
	bal.TotalBalance = money.MustNew("10000", money.USD)
	rule := &domain.Rule{Kind: domain.RuleRiskPerTrade, Pct: "2", Level: domain.LevelError, Active: true, Priority: 1}

	draft := Draft{Category: domain.TradeLong, Entry: money.MustNew("150", money.USD), Stop: money.MustNew("145", money.USD), Quantity: 100}

	result, err := Evaluate(context.Background(), fakeReader{}, "acc-1", bal, []*domain.Rule{rule}, draft, time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, result.Blocked())
}

func TestRiskPerTradePasses(t *testing.T) {
	bal := domain.NewBalance("acc-1", money.USD)
	bal.TotalBalance = money.MustNew("10000", money.USD)
	rule := &domain.Rule{Kind: domain.RuleRiskPerTrade, Pct: "6", Level: domain.LevelError, Active: true, Priority: 1}

	draft := Draft{Category: domain.TradeLong, Entry: money.MustNew("150", money.USD), Stop: money.MustNew("145", money.USD), Quantity: 50}

	result, err := Evaluate(context.Background(), fakeReader{}, "acc-1", bal, []*domain.Rule{rule}, draft, time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, result.Blocked())
}

func TestRiskPerMonthS5(t *testing.T) {
	bal := domain.NewBalance("acc-1", money.USD)
	bal.TotalBalance = money.MustNew("10000", money.USD)
	rule := &domain.Rule{Kind: domain.RuleRiskPerMonth, Pct: "6", Level: domain.LevelError, Active: true, Priority: 1}

	reader := fakeReader{
		agg:           ports.MonthAggregate{RealizedLosses: money.MustNew("400", money.USD), AtRisk: money.Zero(money.USD)},
		monthStartBal: money.MustNew("10000", money.USD),
	}

	failingDraft := Draft{Category: domain.TradeLong, Entry: money.MustNew("100", money.USD), Stop: money.MustNew("97.50", money.USD), Quantity: 100} // risk 250
	result, err := Evaluate(context.Background(), reader, "acc-1", bal, []*domain.Rule{rule}, failingDraft, time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, result.Blocked(), "400+250 > 600 should block")

	passingDraft := Draft{Category: domain.TradeLong, Entry: money.MustNew("100", money.USD), Stop: money.MustNew("98.50", money.USD), Quantity: 100} // risk 150
	result, err = Evaluate(context.Background(), reader, "acc-1", bal, []*domain.Rule{rule}, passingDraft, time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, result.Blocked(), "400+150 <= 600 should pass")
}

func TestWarningNeverBlocks(t *testing.T) {
	bal := domain.NewBalance("acc-1", money.USD)
	bal.TotalBalance = money.MustNew("10000", money.USD)
	rule := &domain.Rule{Kind: domain.RuleRiskPerTrade, Pct: "1", Level: domain.LevelWarning, Active: true, Priority: 1}

	draft := Draft{Category: domain.TradeLong, Entry: money.MustNew("150", money.USD), Stop: money.MustNew("145", money.USD), Quantity: 100}

	result, err := Evaluate(context.Background(), fakeReader{}, "acc-1", bal, []*domain.Rule{rule}, draft, time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, result.Blocked())
	require.Len(t, result.Diagnostics, 1)
}
