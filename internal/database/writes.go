package database

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/ports"
)

func (q queries) CreateAccount(ctx context.Context, a *domain.Account) error {
	_, err := q.exec.ExecContext(ctx, `
		INSERT INTO accounts (id, name, description, environment, tax_rate, earnings_rate, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.ID), a.Name, a.Description, string(a.Environment), a.TaxRate, a.EarningsRate,
		a.CreatedAt.Format(time.RFC3339Nano), nullableTime(a.DeletedAt))
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (q queries) SaveAccount(ctx context.Context, a *domain.Account) error {
	_, err := q.exec.ExecContext(ctx, `
		UPDATE accounts SET name = ?, description = ?, environment = ?, tax_rate = ?, earnings_rate = ?, deleted_at = ?
		WHERE id = ?`,
		a.Name, a.Description, string(a.Environment), a.TaxRate, a.EarningsRate, nullableTime(a.DeletedAt), string(a.ID))
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (q queries) SaveBalance(ctx context.Context, b *domain.Balance) error {
	_, err := q.exec.ExecContext(ctx, `
		INSERT INTO balances (account_id, currency, total_balance, total_in_trade, taxed, total_earnings)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, currency) DO UPDATE SET
			total_balance = excluded.total_balance,
			total_in_trade = excluded.total_in_trade,
			taxed = excluded.taxed,
			total_earnings = excluded.total_earnings`,
		string(b.AccountID), string(b.Currency), amountText(b.TotalBalance), amountText(b.TotalInTrade),
		amountText(b.Taxed), amountText(b.TotalEarnings))
	if err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}

func (q queries) CreateRule(ctx context.Context, r *domain.Rule) error {
	active := 0
	if r.Active {
		active = 1
	}
	_, err := q.exec.ExecContext(ctx, `
		INSERT INTO rules (id, account_id, kind, pct, priority, level, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.AccountID), string(r.Kind), r.Pct, r.Priority, string(r.Level), active)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

func (q queries) SaveRule(ctx context.Context, r *domain.Rule) error {
	active := 0
	if r.Active {
		active = 1
	}
	_, err := q.exec.ExecContext(ctx, `
		UPDATE rules SET kind = ?, pct = ?, priority = ?, level = ?, active = ? WHERE id = ?`,
		string(r.Kind), r.Pct, r.Priority, string(r.Level), active, string(r.ID))
	if err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	return nil
}

func (q queries) SaveTradingVehicle(ctx context.Context, v *domain.TradingVehicle) error {
	toInt := func(b bool) int {
		if b {
			return 1
		}
		return 0
	}
	_, err := q.exec.ExecContext(ctx, `
		INSERT INTO trading_vehicles (symbol, broker, isin, category, tradable, marginable, shortable, fractionable, exchange, asset_class, asset_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, broker) DO UPDATE SET
			isin = excluded.isin, category = excluded.category, tradable = excluded.tradable,
			marginable = excluded.marginable, shortable = excluded.shortable, fractionable = excluded.fractionable,
			exchange = excluded.exchange, asset_class = excluded.asset_class, asset_status = excluded.asset_status`,
		v.Symbol, v.Broker, v.ISIN, string(v.Category), toInt(v.Tradable), toInt(v.Marginable),
		toInt(v.Shortable), toInt(v.Fractionable), v.Exchange, v.AssetClass, v.AssetStatus)
	if err != nil {
		return fmt.Errorf("save trading vehicle: %w", err)
	}
	return nil
}

func (q queries) saveOrderRow(ctx context.Context, o *domain.Order, currency string) error {
	var avgFillPrice interface{}
	if o.AverageFillPrice != nil {
		avgFillPrice = amountText(*o.AverageFillPrice)
	}
	_, err := q.exec.ExecContext(ctx, `
		INSERT INTO orders (id, broker_order_id, role, currency, unit_price, quantity, category, action, time_in_force,
		                     status, filled_quantity, average_fill_price, created_at, updated_at, submitted_at, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			broker_order_id = excluded.broker_order_id,
			role = excluded.role,
			category = excluded.category,
			status = excluded.status,
			filled_quantity = excluded.filled_quantity,
			average_fill_price = excluded.average_fill_price,
			updated_at = excluded.updated_at,
			submitted_at = excluded.submitted_at,
			filled_at = excluded.filled_at`,
		string(o.ID), nullableString(o.BrokerOrderID), string(o.Role), currency, amountText(o.UnitPrice), o.Quantity,
		string(o.Category), string(o.Action), string(o.TimeInForce), string(o.Status), o.FilledQuantity,
		avgFillPrice, o.CreatedAt.Format(time.RFC3339Nano), o.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(o.SubmittedAt), nullableTime(o.FilledAt))
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

func (q queries) SaveOrder(ctx context.Context, o *domain.Order) error {
	// SaveOrder is always called on an order that already has a row (it
	// was written by CreateTrade), so we can recover its currency rather
	// than require every caller to thread it through the port signature.
	existing, err := q.GetOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	currency := ""
	if existing != nil {
		currency = string(existing.UnitPrice.Currency())
	}
	return q.saveOrderRow(ctx, o, currency)
}

func (q queries) CreateTrade(ctx context.Context, t *domain.Trade, tb *domain.TradeBalance, entry, target, stop *domain.Order) error {
	for _, o := range []*domain.Order{entry, target, stop} {
		if err := q.saveOrderRow(ctx, o, string(t.Currency)); err != nil {
			return err
		}
	}

	_, err := q.exec.ExecContext(ctx, `
		INSERT INTO trades (id, account_id, vehicle_symbol, vehicle_broker, category, currency, status,
		                     entry_order_id, target_order_id, stop_order_id, created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(t.ID), string(t.AccountID), t.VehicleSymbol, t.VehicleBroker, string(t.Category), string(t.Currency),
		string(t.Status), string(t.EntryOrderID), string(t.TargetOrderID), string(t.StopOrderID),
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano), nullableTime(t.ClosedAt))
	if err != nil {
		return fmt.Errorf("create trade: %w", err)
	}

	if err := q.SaveTradeBalance(ctx, tb); err != nil {
		return err
	}
	return nil
}

func (q queries) SaveTrade(ctx context.Context, t *domain.Trade) error {
	_, err := q.exec.ExecContext(ctx, `
		UPDATE trades SET status = ?, updated_at = ?, closed_at = ? WHERE id = ?`,
		string(t.Status), t.UpdatedAt.Format(time.RFC3339Nano), nullableTime(t.ClosedAt), string(t.ID))
	if err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	return nil
}

func (q queries) SaveTradeBalance(ctx context.Context, tb *domain.TradeBalance) error {
	_, err := q.exec.ExecContext(ctx, `
		INSERT INTO trade_balances (trade_id, currency, funding, capital_in_market, capital_out_market, taxed, total_performance)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trade_id) DO UPDATE SET
			funding = excluded.funding,
			capital_in_market = excluded.capital_in_market,
			capital_out_market = excluded.capital_out_market,
			taxed = excluded.taxed,
			total_performance = excluded.total_performance`,
		string(tb.TradeID), string(tb.Currency), amountText(tb.Funding), amountText(tb.CapitalInMarket),
		amountText(tb.CapitalOutMarket), amountText(tb.Taxed), amountText(tb.TotalPerformance))
	if err != nil {
		return fmt.Errorf("save trade balance: %w", err)
	}
	return nil
}

func (q queries) AppendTransaction(ctx context.Context, t *domain.Transaction) error {
	var tradeID interface{}
	if t.TradeID != nil {
		tradeID = string(*t.TradeID)
	}
	_, err := q.exec.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, trade_id, category, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(t.ID), string(t.AccountID), tradeID, string(t.Category), amountText(t.Amount),
		t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}

	if err := q.maybeSnapshotMonthStart(ctx, t); err != nil {
		return err
	}
	return nil
}

// maybeSnapshotMonthStart records the account's balance the first time a
// transaction lands in a calendar month it has not already snapshotted,
// implementing the month-start-snapshot policy of spec §4.6.
func (q queries) maybeSnapshotMonthStart(ctx context.Context, t *domain.Transaction) error {
	monthStart := time.Date(t.CreatedAt.Year(), t.CreatedAt.Month(), 1, 0, 0, 0, 0, t.CreatedAt.UTC().Location())

	rows, err := q.exec.QueryContext(ctx, `SELECT currency, total_balance FROM balances WHERE account_id = ?`, string(t.AccountID))
	if err != nil {
		return fmt.Errorf("list balances for month-start snapshot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var currency, totalBalance string
		if err := rows.Scan(&currency, &totalBalance); err != nil {
			return fmt.Errorf("scan balance for month-start snapshot: %w", err)
		}
		_, err := q.exec.ExecContext(ctx, `
			INSERT OR IGNORE INTO month_start_snapshots (account_id, currency, month_start, total_balance)
			VALUES (?, ?, ?, ?)`,
			string(t.AccountID), currency, monthStart.Format(time.RFC3339Nano), totalBalance)
		if err != nil {
			return fmt.Errorf("insert month-start snapshot: %w", err)
		}
	}
	return rows.Err()
}

func (q queries) SaveExecution(ctx context.Context, e *domain.Execution) error {
	raw := e.Raw
	if raw == nil {
		raw = []byte("{}")
	}
	_, err := q.exec.ExecContext(ctx, `
		INSERT INTO executions (id, broker, account_id, broker_execution_id, trade_id, order_id, symbol, side, quantity, price, executed_at, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), e.Broker, string(e.AccountID), e.BrokerExecutionID, string(e.TradeID), string(e.OrderID),
		e.Symbol, string(e.Side), e.Quantity, amountText(e.Price), e.ExecutedAt.Format(time.RFC3339Nano), string(raw))
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

func (q queries) WritePendingSubmission(ctx context.Context, p *ports.PendingSubmission) error {
	_, err := q.exec.ExecContext(ctx, `
		INSERT INTO pending_submissions (trade_id, client_order_id, role, written_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (trade_id) DO UPDATE SET
			client_order_id = excluded.client_order_id,
			role = excluded.role,
			written_at = excluded.written_at,
			payload = excluded.payload`,
		string(p.TradeID), p.ClientOrderID, string(p.Role), p.WrittenAt.Format(time.RFC3339Nano), p.Payload)
	if err != nil {
		return fmt.Errorf("write pending submission: %w", err)
	}
	return nil
}

func (q queries) ClearPendingSubmission(ctx context.Context, tradeID id.ID) error {
	_, err := q.exec.ExecContext(ctx, `DELETE FROM pending_submissions WHERE trade_id = ?`, string(tradeID))
	if err != nil {
		return fmt.Errorf("clear pending submission: %w", err)
	}
	return nil
}
