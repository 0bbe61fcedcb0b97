package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trust-engine/internal/clock"
	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
	"github.com/aristath/trust-engine/internal/ports"
)

func mustParseTime() time.Time {
	t, err := time.Parse(time.RFC3339, "2026-07-01T00:00:00Z")
	if err != nil {
		panic(err)
	}
	return t
}

// fakeTx is a minimal ports.Tx double sufficient for ledger unit tests; it
// records calls instead of touching a real database.
type fakeTx struct {
	txStub
	transactions []*domain.Transaction
}

func (f *fakeTx) AppendTransaction(ctx context.Context, t *domain.Transaction) error {
	f.transactions = append(f.transactions, t)
	return nil
}

func (f *fakeTx) SaveBalance(ctx context.Context, b *domain.Balance) error      { return nil }
func (f *fakeTx) SaveTradeBalance(ctx context.Context, tb *domain.TradeBalance) error { return nil }

func newLedger() *Ledger {
	return New(clock.NewFixed(mustParseTime()), id.NewSequential("tx"), zerolog.Nop())
}

func TestDepositIncreasesAvailable(t *testing.T) {
	led := newLedger()
	tx := &fakeTx{}
	bal := domain.NewBalance("acc-1", money.USD)
	bal.TotalBalance = money.MustNew("1000", money.USD)

	err := led.Deposit(context.Background(), tx, bal, money.MustNew("500", money.USD))
	require.NoError(t, err)
	assert := require.New(t)
	assert.Equal("1500.00", bal.TotalBalance.String())
	avail, err := bal.TotalAvailable()
	require.NoError(t, err)
	assert.Equal("1500.00", avail.String())
	assert.Len(tx.transactions, 1)
	assert.Equal(domain.TxDeposit, tx.transactions[0].Category)
}

func TestWithdrawRejectsInsufficientFunds(t *testing.T) {
	led := newLedger()
	tx := &fakeTx{}
	bal := domain.NewBalance("acc-1", money.USD)
	bal.TotalBalance = money.MustNew("100", money.USD)

	err := led.Withdraw(context.Background(), tx, bal, money.MustNew("200", money.USD))
	require.Error(t, err)
}

func TestFundThenCancelReturnsToPreFundState(t *testing.T) {
	led := newLedger()
	tx := &fakeTx{}
	bal := domain.NewBalance("acc-1", money.USD)
	bal.TotalBalance = money.MustNew("10000", money.USD)
	tb := domain.NewTradeBalance("trade-1", money.USD)

	require.NoError(t, led.FundTrade(context.Background(), tx, bal, tb, money.MustNew("7500", money.USD)))
	avail, _ := bal.TotalAvailable()
	require.Equal(t, "2500.00", avail.String())

	require.NoError(t, led.PaymentFromTrade(context.Background(), tx, bal, tb))
	avail, _ = bal.TotalAvailable()
	require.Equal(t, "10000.00", avail.String())
	require.Equal(t, "10000.00", bal.TotalBalance.String())
}

func TestCloseSafetyStopWithSlippage(t *testing.T) {
	led := newLedger()
	tx := &fakeTx{}
	bal := domain.NewBalance("acc-1", money.USD)
	bal.TotalBalance = money.MustNew("10000", money.USD)
	tb := domain.NewTradeBalance("trade-1", money.USD)

	require.NoError(t, led.FundTrade(context.Background(), tx, bal, tb, money.MustNew("7500", money.USD)))
	require.NoError(t, led.OpenTrade(context.Background(), tx, "acc-1", tb, money.MustNew("7500", money.USD)))

	// 50 shares filled at 144.50 instead of the 145.00 stop: proceeds 7225,
	// slippage 25.
	proceeds := money.MustNew("7225", money.USD)
	slippage := money.MustNew("25", money.USD)
	result, err := led.CloseSafetyStop(context.Background(), tx, bal, tb, proceeds, slippage)
	require.NoError(t, err)
	require.Equal(t, "-275.00", result.RealizedPL.String())
	require.Equal(t, "9725.00", bal.TotalBalance.String())
	require.True(t, bal.TotalInTrade.IsZero())
}

type txStub struct{}

func (txStub) GetAccount(ctx context.Context, id.ID) (*domain.Account, error)            { return nil, nil }
func (txStub) GetAccountByName(ctx context.Context, string) (*domain.Account, error)     { return nil, nil }
func (txStub) GetBalance(ctx context.Context, id.ID, money.Currency) (*domain.Balance, error) {
	return nil, nil
}
func (txStub) ListRules(ctx context.Context, id.ID) ([]*domain.Rule, error) { return nil, nil }
func (txStub) GetTradingVehicle(ctx context.Context, string, string) (*domain.TradingVehicle, error) {
	return nil, nil
}
func (txStub) GetTrade(ctx context.Context, id.ID) (*domain.Trade, error) { return nil, nil }
func (txStub) GetTradeByOrderID(ctx context.Context, id.ID) (*domain.Trade, error) { return nil, nil }
func (txStub) GetTradeBalance(ctx context.Context, id.ID) (*domain.TradeBalance, error) {
	return nil, nil
}
func (txStub) GetOrder(ctx context.Context, id.ID) (*domain.Order, error) { return nil, nil }
func (txStub) GetOrderByBrokerID(ctx context.Context, string, string) (*domain.Order, error) {
	return nil, nil
}
func (txStub) ListTrades(ctx context.Context, id.ID) ([]*domain.Trade, error) { return nil, nil }
func (txStub) FindExecution(ctx context.Context, string, id.ID, string) (*domain.Execution, error) {
	return nil, nil
}
func (txStub) MonthWindowAggregate(ctx context.Context, id.ID, time.Time, time.Time) (ports.MonthAggregate, error) {
	return ports.MonthAggregate{}, nil
}
func (txStub) MonthStartBalance(ctx context.Context, id.ID, money.Currency, time.Time) (money.Amount, error) {
	return money.Amount{}, nil
}
func (txStub) PendingSubmission(ctx context.Context, id.ID) (*ports.PendingSubmission, error) {
	return nil, nil
}
func (txStub) CreateAccount(ctx context.Context, *domain.Account) error           { return nil }
func (txStub) SaveAccount(ctx context.Context, *domain.Account) error             { return nil }
func (txStub) SaveBalance(ctx context.Context, *domain.Balance) error             { return nil }
func (txStub) CreateRule(ctx context.Context, *domain.Rule) error                 { return nil }
func (txStub) SaveRule(ctx context.Context, *domain.Rule) error                   { return nil }
func (txStub) SaveTradingVehicle(ctx context.Context, *domain.TradingVehicle) error { return nil }
func (txStub) CreateTrade(ctx context.Context, *domain.Trade, *domain.TradeBalance, *domain.Order, *domain.Order, *domain.Order) error {
	return nil
}
func (txStub) SaveTrade(ctx context.Context, *domain.Trade) error               { return nil }
func (txStub) SaveTradeBalance(ctx context.Context, *domain.TradeBalance) error { return nil }
func (txStub) SaveOrder(ctx context.Context, *domain.Order) error              { return nil }
func (txStub) AppendTransaction(ctx context.Context, *domain.Transaction) error { return nil }
func (txStub) SaveExecution(ctx context.Context, *domain.Execution) error      { return nil }
func (txStub) WritePendingSubmission(ctx context.Context, *ports.PendingSubmission) error {
	return nil
}
func (txStub) ClearPendingSubmission(ctx context.Context, id.ID) error { return nil }

var _ ports.Tx = (*fakeTx)(nil)
