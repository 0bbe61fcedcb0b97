package domain

import (
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
)

// Balance tracks the four stored pools for one (Account, Currency) tuple;
// TotalAvailable is derived from them. Balances are created on first
// deposit and never deleted.
type Balance struct {
	AccountID      id.ID
	Currency       money.Currency
	TotalBalance   money.Amount
	TotalInTrade   money.Amount
	Taxed          money.Amount
	TotalEarnings  money.Amount
}

// TotalAvailable is the derived INVARIANT field: total_balance minus
// total_in_trade. Never stored independently; always computed so it
// cannot drift from its definition.
func (b *Balance) TotalAvailable() (money.Amount, error) {
	return b.TotalBalance.Sub(b.TotalInTrade)
}

// NewBalance creates a zeroed balance for an account/currency pair, as
// happens on first deposit.
func NewBalance(accountID id.ID, currency money.Currency) *Balance {
	return &Balance{
		AccountID:     accountID,
		Currency:      currency,
		TotalBalance:  money.Zero(currency),
		TotalInTrade:  money.Zero(currency),
		Taxed:         money.Zero(currency),
		TotalEarnings: money.Zero(currency),
	}
}
