// Package ledger is the only component that mutates balances. Each
// Transaction category has a fixed effect on the Account's Balance and,
// where applicable, the Trade's TradeBalance, per spec §4.5. Each method
// posts one Transaction, with two exceptions: a close with non-zero
// slippage adds a close_safety_stop_slippage line, and PaymentFromTrade
// posts nothing when capital_out_market is zero. Every method enforces the
// ledger invariants before returning.
package ledger

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/trust-engine/internal/apperr"
	"github.com/aristath/trust-engine/internal/clock"
	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
	"github.com/aristath/trust-engine/internal/ports"
)

// Ledger posts transactions and mutates balances inside an existing
// persistence transaction (ports.Tx). It never opens its own transaction —
// callers (Facade, Reconciler) own transaction boundaries.
type Ledger struct {
	clock clock.Clock
	ids   id.Generator
	log   zerolog.Logger
}

// New creates a Ledger.
func New(clk clock.Clock, ids id.Generator, log zerolog.Logger) *Ledger {
	return &Ledger{clock: clk, ids: ids, log: log.With().Str("component", "ledger").Logger()}
}

func (l *Ledger) post(ctx context.Context, tx ports.Tx, accountID id.ID, tradeID *id.ID, category domain.TransactionCategory, amount money.Amount) error {
	t := &domain.Transaction{
		ID:        l.ids.New(),
		AccountID: accountID,
		TradeID:   tradeID,
		Category:  category,
		Amount:    amount,
		CreatedAt: l.clock.Now(),
	}
	if err := tx.AppendTransaction(ctx, t); err != nil {
		return apperr.Wrap(apperr.Internal, err, "append transaction %s", category)
	}
	l.log.Info().
		Str("account", accountID.String()).
		Str("category", string(category)).
		Str("amount", amount.String()).
		Msg("transaction posted")
	return nil
}

func checkNonNegative(a money.Amount, field string) error {
	if a.IsNegative() {
		return apperr.New(apperr.InsufficientFunds, "%s would go negative: %s", field, a.String())
	}
	return nil
}

// Deposit increases total_balance. Available funds increase by the same
// amount since total_in_trade is unaffected.
func (l *Ledger) Deposit(ctx context.Context, tx ports.Tx, bal *domain.Balance, amount money.Amount) error {
	newTotal, err := bal.TotalBalance.Add(amount)
	if err != nil {
		return err
	}
	bal.TotalBalance = newTotal
	if err := tx.SaveBalance(ctx, bal); err != nil {
		return apperr.Wrap(apperr.Internal, err, "save balance")
	}
	return l.post(ctx, tx, bal.AccountID, nil, domain.TxDeposit, amount)
}

// Withdraw decreases total_balance, requiring total_available >= amount.
func (l *Ledger) Withdraw(ctx context.Context, tx ports.Tx, bal *domain.Balance, amount money.Amount) error {
	avail, err := bal.TotalAvailable()
	if err != nil {
		return err
	}
	if avail.Cmp(amount) < 0 {
		return apperr.New(apperr.InsufficientFunds, "withdraw %s exceeds available %s", amount.String(), avail.String())
	}
	newTotal, err := bal.TotalBalance.Sub(amount)
	if err != nil {
		return err
	}
	bal.TotalBalance = newTotal
	if err := tx.SaveBalance(ctx, bal); err != nil {
		return apperr.Wrap(apperr.Internal, err, "save balance")
	}
	return l.post(ctx, tx, bal.AccountID, nil, domain.TxWithdrawal, amount)
}

// FundTrade reserves capital: total_in_trade += a at the account level,
// funding += a and capital_out_market += a at the trade level.
func (l *Ledger) FundTrade(ctx context.Context, tx ports.Tx, bal *domain.Balance, tb *domain.TradeBalance, amount money.Amount) error {
	avail, err := bal.TotalAvailable()
	if err != nil {
		return err
	}
	if avail.Cmp(amount) < 0 {
		return apperr.New(apperr.InsufficientFunds, "fund %s exceeds available %s", amount.String(), avail.String())
	}

	newInTrade, err := bal.TotalInTrade.Add(amount)
	if err != nil {
		return err
	}
	bal.TotalInTrade = newInTrade
	if err := checkNonNegative(bal.TotalInTrade, "total_in_trade"); err != nil {
		return err
	}

	newFunding, err := tb.Funding.Add(amount)
	if err != nil {
		return err
	}
	newOutMarket, err := tb.CapitalOutMarket.Add(amount)
	if err != nil {
		return err
	}
	tb.Funding = newFunding
	tb.CapitalOutMarket = newOutMarket

	if err := tb.CheckInvariant(); err != nil {
		return apperr.Wrap(apperr.Internal, err, "trade balance invariant")
	}
	if err := tx.SaveBalance(ctx, bal); err != nil {
		return apperr.Wrap(apperr.Internal, err, "save balance")
	}
	if err := tx.SaveTradeBalance(ctx, tb); err != nil {
		return apperr.Wrap(apperr.Internal, err, "save trade balance")
	}
	return l.post(ctx, tx, bal.AccountID, &tb.TradeID, domain.TxFundTrade, amount)
}

// OpenTrade moves reserved capital from "out of market" to "in market"
// once the entry order fills. No account-level effect.
func (l *Ledger) OpenTrade(ctx context.Context, tx ports.Tx, accountID id.ID, tb *domain.TradeBalance, amount money.Amount) error {
	newOut, err := tb.CapitalOutMarket.Sub(amount)
	if err != nil {
		return err
	}
	if err := checkNonNegative(newOut, "capital_out_market"); err != nil {
		return err
	}
	newIn, err := tb.CapitalInMarket.Add(amount)
	if err != nil {
		return err
	}
	tb.CapitalOutMarket = newOut
	tb.CapitalInMarket = newIn

	if err := tb.CheckInvariant(); err != nil {
		return apperr.Wrap(apperr.Internal, err, "trade balance invariant")
	}
	if err := tx.SaveTradeBalance(ctx, tb); err != nil {
		return apperr.Wrap(apperr.Internal, err, "save trade balance")
	}
	return l.post(ctx, tx, accountID, &tb.TradeID, domain.TxOpenTrade, amount)
}

// PaymentFromTrade returns unused capital_out_market to total_available,
// used by a user-initiated cancel of a funded-but-unfilled trade.
func (l *Ledger) PaymentFromTrade(ctx context.Context, tx ports.Tx, bal *domain.Balance, tb *domain.TradeBalance) error {
	amount := tb.CapitalOutMarket
	if amount.IsZero() {
		return nil
	}

	newInTrade, err := bal.TotalInTrade.Sub(amount)
	if err != nil {
		return err
	}
	if err := checkNonNegative(newInTrade, "total_in_trade"); err != nil {
		return err
	}
	bal.TotalInTrade = newInTrade

	tb.Funding = tb.Funding.SubSame(amount)
	tb.CapitalOutMarket = money.Zero(tb.Currency)

	if err := tx.SaveBalance(ctx, bal); err != nil {
		return apperr.Wrap(apperr.Internal, err, "save balance")
	}
	if err := tx.SaveTradeBalance(ctx, tb); err != nil {
		return apperr.Wrap(apperr.Internal, err, "save trade balance")
	}
	return l.post(ctx, tx, bal.AccountID, &tb.TradeID, domain.TxPaymentFromTrade, amount)
}

// CloseResult captures the settlement of a target or stop exit so the
// caller (state machine / reconciler) can advance the Trade's status.
type CloseResult struct {
	RealizedPL money.Amount // signed: positive gain, negative loss
}

// CloseTarget settles a trade exiting at or better than target: proceeds
// (a) credit total_balance net of funding_used, total_in_trade is
// released by funding_used, and the trade balance is marked settled.
func (l *Ledger) CloseTarget(ctx context.Context, tx ports.Tx, bal *domain.Balance, tb *domain.TradeBalance, proceeds money.Amount) (*CloseResult, error) {
	return l.closeWith(ctx, tx, bal, tb, proceeds, domain.TxCloseTarget, money.Zero(proceeds.Currency()))
}

// CloseSafetyStop settles a trade exiting at the stop: realized loss
// debits total_balance. If the broker filled worse than the stop price,
// slippage is posted as an additional close_safety_stop_slippage line so
// the ledger balances even though the fill deviates from the stop.
func (l *Ledger) CloseSafetyStop(ctx context.Context, tx ports.Tx, bal *domain.Balance, tb *domain.TradeBalance, proceeds money.Amount, slippage money.Amount) (*CloseResult, error) {
	return l.closeWith(ctx, tx, bal, tb, proceeds, domain.TxCloseSafetyStop, slippage)
}

func (l *Ledger) closeWith(ctx context.Context, tx ports.Tx, bal *domain.Balance, tb *domain.TradeBalance, proceeds money.Amount, category domain.TransactionCategory, slippage money.Amount) (*CloseResult, error) {
	fundingUsed := tb.Funding

	newInTrade, err := bal.TotalInTrade.Sub(fundingUsed)
	if err != nil {
		return nil, err
	}
	if err := checkNonNegative(newInTrade, "total_in_trade"); err != nil {
		return nil, err
	}

	net, err := proceeds.Sub(fundingUsed)
	if err != nil {
		return nil, err
	}
	newTotalBalance, err := bal.TotalBalance.Add(net)
	if err != nil {
		return nil, err
	}

	bal.TotalInTrade = newInTrade
	bal.TotalBalance = newTotalBalance

	tb.CapitalInMarket = money.Zero(tb.Currency)
	tb.CapitalOutMarket = money.Zero(tb.Currency)
	tb.Funding = money.Zero(tb.Currency)
	tb.TotalPerformance, err = tb.TotalPerformance.Add(net)
	if err != nil {
		return nil, err
	}

	if err := tx.SaveBalance(ctx, bal); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "save balance")
	}
	if err := tx.SaveTradeBalance(ctx, tb); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "save trade balance")
	}
	if err := l.post(ctx, tx, bal.AccountID, &tb.TradeID, category, net); err != nil {
		return nil, err
	}
	if !slippage.IsZero() {
		if err := l.post(ctx, tx, bal.AccountID, &tb.TradeID, domain.TxCloseSafetyStopSlippage, slippage.Neg()); err != nil {
			return nil, err
		}
	}
	return &CloseResult{RealizedPL: net}, nil
}

// FeeOpen/FeeClose debit total_balance and the trade's performance pool.
func (l *Ledger) FeeOpen(ctx context.Context, tx ports.Tx, bal *domain.Balance, tb *domain.TradeBalance, fee money.Amount) error {
	return l.fee(ctx, tx, bal, tb, fee, domain.TxFeeOpen)
}

func (l *Ledger) FeeClose(ctx context.Context, tx ports.Tx, bal *domain.Balance, tb *domain.TradeBalance, fee money.Amount) error {
	return l.fee(ctx, tx, bal, tb, fee, domain.TxFeeClose)
}

func (l *Ledger) fee(ctx context.Context, tx ports.Tx, bal *domain.Balance, tb *domain.TradeBalance, fee money.Amount, category domain.TransactionCategory) error {
	newTotal, err := bal.TotalBalance.Sub(fee)
	if err != nil {
		return err
	}
	bal.TotalBalance = newTotal
	tb.TotalPerformance = tb.TotalPerformance.SubSame(fee)

	if err := tx.SaveBalance(ctx, bal); err != nil {
		return apperr.Wrap(apperr.Internal, err, "save balance")
	}
	if err := tx.SaveTradeBalance(ctx, tb); err != nil {
		return apperr.Wrap(apperr.Internal, err, "save trade balance")
	}
	return l.post(ctx, tx, bal.AccountID, &tb.TradeID, category, fee.Neg())
}

// PaymentEarnings moves funds from total_balance into the earnings pool.
func (l *Ledger) PaymentEarnings(ctx context.Context, tx ports.Tx, bal *domain.Balance, amount money.Amount) error {
	newTotal, err := bal.TotalBalance.Sub(amount)
	if err != nil {
		return err
	}
	newEarnings, err := bal.TotalEarnings.Add(amount)
	if err != nil {
		return err
	}
	bal.TotalBalance = newTotal
	bal.TotalEarnings = newEarnings
	if err := tx.SaveBalance(ctx, bal); err != nil {
		return apperr.Wrap(apperr.Internal, err, "save balance")
	}
	return l.post(ctx, tx, bal.AccountID, nil, domain.TxPaymentEarnings, amount)
}

// PaymentTax moves funds from total_balance into the taxed pool.
func (l *Ledger) PaymentTax(ctx context.Context, tx ports.Tx, bal *domain.Balance, amount money.Amount) error {
	newTotal, err := bal.TotalBalance.Sub(amount)
	if err != nil {
		return err
	}
	newTaxed, err := bal.Taxed.Add(amount)
	if err != nil {
		return err
	}
	bal.TotalBalance = newTotal
	bal.Taxed = newTaxed
	if err := tx.SaveBalance(ctx, bal); err != nil {
		return apperr.Wrap(apperr.Internal, err, "save balance")
	}
	return l.post(ctx, tx, bal.AccountID, nil, domain.TxPaymentTax, amount)
}
