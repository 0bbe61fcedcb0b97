// Package domain holds the entities of the Risk Validation & Trade
// Lifecycle Engine: Account, Balance, TradingVehicle, Order, Trade,
// Transaction, Rule, and Execution. Cyclic references (Trade <-> Order,
// Trade <-> TradeBalance) are modeled as identifier fields owned by Trade
// rather than back-references; resolution happens through the persistence
// port, not in-memory pointers.
package domain

import (
	"time"

	"github.com/aristath/trust-engine/internal/id"
)

// Environment tags which broker environment an Account trades against.
type Environment string

const (
	EnvironmentPaper Environment = "paper"
	EnvironmentLive  Environment = "live"
)

// Account is the top-level owner of Balances, Rules, and Trades.
type Account struct {
	ID          id.ID
	Name        string
	Description string
	Environment Environment
	TaxRate     string // decimal percentage, e.g. "15.0"
	EarningsRate string
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// IsDeleted reports whether the account has been soft-deleted.
func (a *Account) IsDeleted() bool { return a.DeletedAt != nil }
