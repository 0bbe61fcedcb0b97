// Package ports declares the narrow interfaces the core depends on for
// I/O: the persistence store (spec §4.3) and the broker (spec §4.4). No
// concrete database or broker encoding lives here — only the contract.
package ports

import (
	"context"
	"time"

	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
)

// Store is the transactional repository contract. Any Facade operation
// commits all mutations atomically or none: callers obtain a Tx via
// WithTx and every read/write inside fn observes a single transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Direct (non-transactional) reads for query-only Facade operations
	// (list_trades, account_overview, trade_detail) that do not need
	// snapshot isolation across entities.
	Reader
}

// Reader groups the read-only operations available both on Store and on
// a Tx, so query code can be written once against either.
type Reader interface {
	GetAccount(ctx context.Context, id id.ID) (*domain.Account, error)
	GetAccountByName(ctx context.Context, name string) (*domain.Account, error)
	GetBalance(ctx context.Context, accountID id.ID, currency money.Currency) (*domain.Balance, error)
	ListRules(ctx context.Context, accountID id.ID) ([]*domain.Rule, error)
	GetTradingVehicle(ctx context.Context, symbol, broker string) (*domain.TradingVehicle, error)
	GetTrade(ctx context.Context, id id.ID) (*domain.Trade, error)
	GetTradeBalance(ctx context.Context, tradeID id.ID) (*domain.TradeBalance, error)

	// GetTradeByOrderID resolves the owning Trade of any of its three
	// linked orders, since Order holds no back-reference to Trade
	// (spec §9 "cyclic references... modeled as identifier fields owned
	// by Trade"). Used by the reconciler to go from a broker event's
	// order id to the trade it must lock and mutate.
	GetTradeByOrderID(ctx context.Context, orderID id.ID) (*domain.Trade, error)
	GetOrder(ctx context.Context, id id.ID) (*domain.Order, error)
	GetOrderByBrokerID(ctx context.Context, broker, brokerOrderID string) (*domain.Order, error)
	ListTrades(ctx context.Context, accountID id.ID) ([]*domain.Trade, error)

	// FindExecution implements the execution deduplication query of
	// spec §4.3: (broker, account, broker_execution_id) -> Option<Execution>.
	FindExecution(ctx context.Context, broker string, accountID id.ID, brokerExecutionID string) (*domain.Execution, error)

	// MonthWindowAggregate computes, for the given account and window
	// [from, to), the sum of realized losses on trades closed in the
	// window and the sum of dollars-at-risk on trades currently funded
	// or open, per the per-month rule of spec §4.6.
	MonthWindowAggregate(ctx context.Context, accountID id.ID, from, to time.Time) (MonthAggregate, error)

	// MonthStartBalance returns the total_balance snapshot taken on the
	// first transaction of the given month, or the current balance if
	// no such snapshot exists (spec §4.6).
	MonthStartBalance(ctx context.Context, accountID id.ID, currency money.Currency, monthStart time.Time) (money.Amount, error)

	// PendingSubmission returns the journal entry for a trade's
	// in-flight broker submission, if one was written before the
	// broker call per the recovery protocol of spec §5.
	PendingSubmission(ctx context.Context, tradeID id.ID) (*PendingSubmission, error)
}

// MonthAggregate is the result of MonthWindowAggregate.
type MonthAggregate struct {
	RealizedLosses money.Amount
	AtRisk         money.Amount
}

// PendingSubmission is the "pending submissions" journal entry written
// before a broker call, so that a failed commit after a successful
// broker submission can be reconstructed from the next broker event.
type PendingSubmission struct {
	TradeID        id.ID
	ClientOrderID  string
	Role           domain.OrderRole
	WrittenAt      time.Time
	Payload        []byte // msgpack-encoded submission intent
}

// Tx is a scoped handle into one persistence transaction. It commits on
// fn's successful return and rolls back on error or panic (handled by the
// Store.WithTx implementation, not by callers).
type Tx interface {
	Reader

	CreateAccount(ctx context.Context, a *domain.Account) error
	SaveAccount(ctx context.Context, a *domain.Account) error
	SaveBalance(ctx context.Context, b *domain.Balance) error
	CreateRule(ctx context.Context, r *domain.Rule) error
	SaveRule(ctx context.Context, r *domain.Rule) error
	SaveTradingVehicle(ctx context.Context, v *domain.TradingVehicle) error

	CreateTrade(ctx context.Context, t *domain.Trade, tb *domain.TradeBalance, entry, target, stop *domain.Order) error
	SaveTrade(ctx context.Context, t *domain.Trade) error
	SaveTradeBalance(ctx context.Context, tb *domain.TradeBalance) error
	SaveOrder(ctx context.Context, o *domain.Order) error

	AppendTransaction(ctx context.Context, t *domain.Transaction) error
	SaveExecution(ctx context.Context, e *domain.Execution) error

	WritePendingSubmission(ctx context.Context, p *PendingSubmission) error
	ClearPendingSubmission(ctx context.Context, tradeID id.ID) error
}
