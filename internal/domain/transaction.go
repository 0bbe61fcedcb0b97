package domain

import (
	"time"

	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
)

// TransactionCategory enumerates every pool move the Ledger understands
// (spec §4.5). This is the complete list; no other category may exist.
type TransactionCategory string

const (
	TxDeposit                 TransactionCategory = "deposit"
	TxWithdrawal              TransactionCategory = "withdrawal"
	TxFundTrade               TransactionCategory = "fund_trade"
	TxOpenTrade               TransactionCategory = "open_trade"
	TxPaymentFromTrade        TransactionCategory = "payment_from_trade"
	TxCloseTarget             TransactionCategory = "close_target"
	TxCloseSafetyStop         TransactionCategory = "close_safety_stop"
	TxCloseSafetyStopSlippage TransactionCategory = "close_safety_stop_slippage"
	TxFeeOpen                 TransactionCategory = "fee_open"
	TxFeeClose                TransactionCategory = "fee_close"
	TxPaymentEarnings         TransactionCategory = "payment_earnings"
	TxWithdrawalEarnings      TransactionCategory = "withdrawal_earnings"
	TxPaymentTax              TransactionCategory = "payment_tax"
	TxWithdrawalTax           TransactionCategory = "withdrawal_tax"
)

// Transaction is an atomic ledger entry. The Ledger is the only component
// that creates these and the only component that mutates balances as a
// result.
type Transaction struct {
	ID        id.ID
	AccountID id.ID
	TradeID   *id.ID
	Category  TransactionCategory
	Amount    money.Amount
	CreatedAt time.Time
}
