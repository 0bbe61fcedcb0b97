package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
	"github.com/aristath/trust-engine/internal/ports"
)

// dbtx is the subset of *sql.DB and *sql.Tx that queries needs, so the
// same Reader/Tx implementation runs unchanged inside or outside a
// transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries implements ports.Reader (and, with the write methods in
// writes.go, ports.Tx) against whichever dbtx it was handed.
type queries struct {
	exec dbtx
}

func amountText(a money.Amount) string { return a.StringPrecision(8) }

func parseAmount(text string, currency money.Currency) (money.Amount, error) {
	return money.New(text, currency)
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func (q queries) GetAccount(ctx context.Context, accID id.ID) (*domain.Account, error) {
	row := q.exec.QueryRowContext(ctx, `
		SELECT id, name, description, environment, tax_rate, earnings_rate, created_at, deleted_at
		FROM accounts WHERE id = ?`, string(accID))
	return scanAccount(row)
}

func (q queries) GetAccountByName(ctx context.Context, name string) (*domain.Account, error) {
	row := q.exec.QueryRowContext(ctx, `
		SELECT id, name, description, environment, tax_rate, earnings_rate, created_at, deleted_at
		FROM accounts WHERE name = ?`, name)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	var accID, createdAt string
	var deletedAt sql.NullString
	err := row.Scan(&accID, &a.Name, &a.Description, &a.Environment, &a.TaxRate, &a.EarningsRate, &createdAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.ID = id.ID(accID)
	a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse account.created_at: %w", err)
	}
	a.DeletedAt, err = parseNullableTime(deletedAt)
	if err != nil {
		return nil, fmt.Errorf("parse account.deleted_at: %w", err)
	}
	return &a, nil
}

func (q queries) GetBalance(ctx context.Context, accID id.ID, currency money.Currency) (*domain.Balance, error) {
	row := q.exec.QueryRowContext(ctx, `
		SELECT total_balance, total_in_trade, taxed, total_earnings
		FROM balances WHERE account_id = ? AND currency = ?`, string(accID), string(currency))

	var totalBalance, totalInTrade, taxed, totalEarnings string
	err := row.Scan(&totalBalance, &totalInTrade, &taxed, &totalEarnings)
	if errors.Is(err, sql.ErrNoRows) {
		b := domain.NewBalance(accID, currency)
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan balance: %w", err)
	}

	b := &domain.Balance{AccountID: accID, Currency: currency}
	if b.TotalBalance, err = parseAmount(totalBalance, currency); err != nil {
		return nil, err
	}
	if b.TotalInTrade, err = parseAmount(totalInTrade, currency); err != nil {
		return nil, err
	}
	if b.Taxed, err = parseAmount(taxed, currency); err != nil {
		return nil, err
	}
	if b.TotalEarnings, err = parseAmount(totalEarnings, currency); err != nil {
		return nil, err
	}
	return b, nil
}

func (q queries) ListRules(ctx context.Context, accID id.ID) ([]*domain.Rule, error) {
	rows, err := q.exec.QueryContext(ctx, `
		SELECT id, account_id, kind, pct, priority, level, active
		FROM rules WHERE account_id = ? AND active = 1
		ORDER BY priority ASC`, string(accID))
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []*domain.Rule
	for rows.Next() {
		var r domain.Rule
		var rID, rAccID string
		var active int
		if err := rows.Scan(&rID, &rAccID, &r.Kind, &r.Pct, &r.Priority, &r.Level, &active); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.ID = id.ID(rID)
		r.AccountID = id.ID(rAccID)
		r.Active = active != 0
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (q queries) GetTradingVehicle(ctx context.Context, symbol, broker string) (*domain.TradingVehicle, error) {
	row := q.exec.QueryRowContext(ctx, `
		SELECT symbol, broker, isin, category, tradable, marginable, shortable, fractionable, exchange, asset_class, asset_status
		FROM trading_vehicles WHERE symbol = ? AND broker = ?`, symbol, broker)

	var v domain.TradingVehicle
	var tradable, marginable, shortable, fractionable int
	err := row.Scan(&v.Symbol, &v.Broker, &v.ISIN, &v.Category, &tradable, &marginable, &shortable, &fractionable, &v.Exchange, &v.AssetClass, &v.AssetStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan trading vehicle: %w", err)
	}
	v.Tradable, v.Marginable, v.Shortable, v.Fractionable = tradable != 0, marginable != 0, shortable != 0, fractionable != 0
	return &v, nil
}

func (q queries) GetOrder(ctx context.Context, orderID id.ID) (*domain.Order, error) {
	row := q.exec.QueryRowContext(ctx, orderSelect+` WHERE id = ?`, string(orderID))
	return scanOrder(row)
}

func (q queries) GetOrderByBrokerID(ctx context.Context, broker, brokerOrderID string) (*domain.Order, error) {
	// broker is part of the port signature for future multi-broker order
	// tables; today broker_order_id alone is globally unique per adapter.
	_ = broker
	row := q.exec.QueryRowContext(ctx, orderSelect+` WHERE broker_order_id = ?`, brokerOrderID)
	return scanOrder(row)
}

const orderSelect = `
	SELECT id, broker_order_id, role, currency, unit_price, quantity, category, action, time_in_force,
	       status, filled_quantity, average_fill_price, created_at, updated_at, submitted_at, filled_at
	FROM orders`

func scanOrder(row *sql.Row) (*domain.Order, error) {
	var o domain.Order
	var oID, currencyText, unitPrice, createdAt, updatedAt string
	var brokerOrderID, avgFillPrice sql.NullString
	var submittedAt, filledAt sql.NullString

	err := row.Scan(&oID, &brokerOrderID, &o.Role, &currencyText, &unitPrice, &o.Quantity, &o.Category, &o.Action, &o.TimeInForce,
		&o.Status, &o.FilledQuantity, &avgFillPrice, &createdAt, &updatedAt, &submittedAt, &filledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.ID = id.ID(oID)
	if brokerOrderID.Valid {
		v := brokerOrderID.String
		o.BrokerOrderID = &v
	}
	currency := money.Currency(currencyText)
	if o.UnitPrice, err = money.New(unitPrice, currency); err != nil {
		return nil, fmt.Errorf("parse order.unit_price: %w", err)
	}
	if avgFillPrice.Valid {
		amt, err := money.New(avgFillPrice.String, currency)
		if err != nil {
			return nil, fmt.Errorf("parse order.average_fill_price: %w", err)
		}
		o.AverageFillPrice = &amt
	}
	if o.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse order.created_at: %w", err)
	}
	if o.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse order.updated_at: %w", err)
	}
	if o.SubmittedAt, err = parseNullableTime(submittedAt); err != nil {
		return nil, err
	}
	if o.FilledAt, err = parseNullableTime(filledAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (q queries) GetTrade(ctx context.Context, tradeID id.ID) (*domain.Trade, error) {
	row := q.exec.QueryRowContext(ctx, `
		SELECT id, account_id, vehicle_symbol, vehicle_broker, category, currency, status,
		       entry_order_id, target_order_id, stop_order_id, created_at, updated_at, closed_at
		FROM trades WHERE id = ?`, string(tradeID))
	return scanTrade(row)
}

func scanTrade(row *sql.Row) (*domain.Trade, error) {
	var t domain.Trade
	var tID, accID, entryID, targetID, stopID, createdAt, updatedAt string
	var closedAt sql.NullString

	err := row.Scan(&tID, &accID, &t.VehicleSymbol, &t.VehicleBroker, &t.Category, &t.Currency, &t.Status,
		&entryID, &targetID, &stopID, &createdAt, &updatedAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}

	t.ID, t.AccountID = id.ID(tID), id.ID(accID)
	t.EntryOrderID, t.TargetOrderID, t.StopOrderID = id.ID(entryID), id.ID(targetID), id.ID(stopID)
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse trade.created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse trade.updated_at: %w", err)
	}
	if t.ClosedAt, err = parseNullableTime(closedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (q queries) GetTradeByOrderID(ctx context.Context, orderID id.ID) (*domain.Trade, error) {
	row := q.exec.QueryRowContext(ctx, `
		SELECT id, account_id, vehicle_symbol, vehicle_broker, category, currency, status,
		       entry_order_id, target_order_id, stop_order_id, created_at, updated_at, closed_at
		FROM trades WHERE entry_order_id = ? OR target_order_id = ? OR stop_order_id = ?`,
		string(orderID), string(orderID), string(orderID))
	return scanTrade(row)
}

func (q queries) GetTradeBalance(ctx context.Context, tradeID id.ID) (*domain.TradeBalance, error) {
	row := q.exec.QueryRowContext(ctx, `
		SELECT currency, funding, capital_in_market, capital_out_market, taxed, total_performance
		FROM trade_balances WHERE trade_id = ?`, string(tradeID))

	var currency, funding, capIn, capOut, taxed, perf string
	err := row.Scan(&currency, &funding, &capIn, &capOut, &taxed, &perf)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan trade_balance: %w", err)
	}

	cur := money.Currency(currency)
	tb := &domain.TradeBalance{TradeID: tradeID, Currency: cur}
	if tb.Funding, err = parseAmount(funding, cur); err != nil {
		return nil, err
	}
	if tb.CapitalInMarket, err = parseAmount(capIn, cur); err != nil {
		return nil, err
	}
	if tb.CapitalOutMarket, err = parseAmount(capOut, cur); err != nil {
		return nil, err
	}
	if tb.Taxed, err = parseAmount(taxed, cur); err != nil {
		return nil, err
	}
	if tb.TotalPerformance, err = parseAmount(perf, cur); err != nil {
		return nil, err
	}
	return tb, nil
}

func (q queries) ListTrades(ctx context.Context, accID id.ID) ([]*domain.Trade, error) {
	rows, err := q.exec.QueryContext(ctx, `
		SELECT id, account_id, vehicle_symbol, vehicle_broker, category, currency, status,
		       entry_order_id, target_order_id, stop_order_id, created_at, updated_at, closed_at
		FROM trades WHERE account_id = ? ORDER BY created_at DESC`, string(accID))
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var tID, accIDCol, entryID, targetID, stopID, createdAt, updatedAt string
		var closedAt sql.NullString
		if err := rows.Scan(&tID, &accIDCol, &t.VehicleSymbol, &t.VehicleBroker, &t.Category, &t.Currency, &t.Status,
			&entryID, &targetID, &stopID, &createdAt, &updatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.ID, t.AccountID = id.ID(tID), id.ID(accIDCol)
		t.EntryOrderID, t.TargetOrderID, t.StopOrderID = id.ID(entryID), id.ID(targetID), id.ID(stopID)
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse trade.created_at: %w", err)
		}
		if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parse trade.updated_at: %w", err)
		}
		if t.ClosedAt, err = parseNullableTime(closedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (q queries) FindExecution(ctx context.Context, broker string, accID id.ID, brokerExecutionID string) (*domain.Execution, error) {
	row := q.exec.QueryRowContext(ctx, `
		SELECT e.id, e.broker, e.account_id, e.broker_execution_id, e.trade_id, e.order_id, t.currency,
		       e.symbol, e.side, e.quantity, e.price, e.executed_at, e.raw
		FROM executions e
		JOIN trades t ON t.id = e.trade_id
		WHERE e.broker = ? AND e.account_id = ? AND e.broker_execution_id = ?`,
		broker, string(accID), brokerExecutionID)

	var e domain.Execution
	var eID, eAccID, tradeID, orderID, currencyText, priceText, executedAt, raw string
	err := row.Scan(&eID, &e.Broker, &eAccID, &e.BrokerExecutionID, &tradeID, &orderID, &currencyText,
		&e.Symbol, &e.Side, &e.Quantity, &priceText, &executedAt, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	e.ID, e.AccountID, e.TradeID, e.OrderID = id.ID(eID), id.ID(eAccID), id.ID(tradeID), id.ID(orderID)
	if e.Price, err = money.New(priceText, money.Currency(currencyText)); err != nil {
		return nil, fmt.Errorf("parse execution.price: %w", err)
	}
	if e.ExecutedAt, err = time.Parse(time.RFC3339Nano, executedAt); err != nil {
		return nil, fmt.Errorf("parse execution.executed_at: %w", err)
	}
	e.Raw = json.RawMessage(raw)
	return &e, nil
}

func (q queries) MonthStartBalance(ctx context.Context, accID id.ID, currency money.Currency, monthStart time.Time) (money.Amount, error) {
	row := q.exec.QueryRowContext(ctx, `
		SELECT total_balance FROM month_start_snapshots
		WHERE account_id = ? AND currency = ? AND month_start = ?`,
		string(accID), string(currency), monthStart.Format(time.RFC3339Nano))

	var text string
	err := row.Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		bal, err := q.GetBalance(ctx, accID, currency)
		if err != nil {
			return money.Amount{}, err
		}
		return bal.TotalBalance, nil
	}
	if err != nil {
		return money.Amount{}, fmt.Errorf("scan month_start_snapshot: %w", err)
	}
	return parseAmount(text, currency)
}

func (q queries) MonthWindowAggregate(ctx context.Context, accID id.ID, from, to time.Time) (ports.MonthAggregate, error) {
	fromS, toS := from.Format(time.RFC3339Nano), to.Format(time.RFC3339Nano)

	// Sum in Go rather than SQL: SUM() on a TEXT column would force a cast
	// through sqlite's floating-point REAL type, which is exactly the
	// precision loss money.Amount exists to avoid.
	lossRows, err := q.exec.QueryContext(ctx, `
		SELECT t.currency, tr.amount
		FROM transactions tr
		JOIN trades t ON t.id = tr.trade_id
		WHERE tr.account_id = ? AND tr.created_at >= ? AND tr.created_at < ?
		  AND tr.category = 'close_safety_stop'`,
		string(accID), fromS, toS)
	if err != nil {
		return ports.MonthAggregate{}, fmt.Errorf("aggregate realized losses: %w", err)
	}
	defer lossRows.Close()

	var lossCurrency money.Currency
	losses := money.Amount{}
	haveLosses := false
	for lossRows.Next() {
		var curText, amtText string
		if err := lossRows.Scan(&curText, &amtText); err != nil {
			return ports.MonthAggregate{}, fmt.Errorf("scan realized loss row: %w", err)
		}
		cur := money.Currency(curText)
		amt, err := money.New(amtText, cur)
		if err != nil {
			return ports.MonthAggregate{}, err
		}
		// close_safety_stop carries the signed net result (negative for a
		// loss), slippage included; the aggregate reports its magnitude.
		amt = amt.Abs()
		if !haveLosses {
			lossCurrency, losses, haveLosses = cur, amt, true
			continue
		}
		if losses, err = losses.Add(amt); err != nil {
			return ports.MonthAggregate{}, err
		}
	}
	if err := lossRows.Err(); err != nil {
		return ports.MonthAggregate{}, err
	}

	rows, err := q.exec.QueryContext(ctx, `
		SELECT tb.currency, tb.capital_in_market, tb.capital_out_market
		FROM trade_balances tb
		JOIN trades t ON t.id = tb.trade_id
		WHERE t.account_id = ? AND t.status IN ('funded', 'submitted', 'partially_filled', 'filled')`,
		string(accID))
	if err != nil {
		return ports.MonthAggregate{}, fmt.Errorf("aggregate at-risk: %w", err)
	}
	defer rows.Close()

	var currency money.Currency
	atRisk := money.Amount{}
	first := true
	for rows.Next() {
		var curText, capIn, capOut string
		if err := rows.Scan(&curText, &capIn, &capOut); err != nil {
			return ports.MonthAggregate{}, fmt.Errorf("scan trade_balance row: %w", err)
		}
		cur := money.Currency(curText)
		in, err := money.New(capIn, cur)
		if err != nil {
			return ports.MonthAggregate{}, err
		}
		out, err := money.New(capOut, cur)
		if err != nil {
			return ports.MonthAggregate{}, err
		}
		total, err := in.Add(out)
		if err != nil {
			return ports.MonthAggregate{}, err
		}
		if first {
			currency, atRisk, first = cur, total, false
			continue
		}
		atRisk, err = atRisk.Add(total)
		if err != nil {
			return ports.MonthAggregate{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return ports.MonthAggregate{}, err
	}
	if first {
		currency = lossCurrency
		atRisk = money.Zero(currency)
	}
	if !haveLosses {
		losses = money.Zero(currency)
	}

	return ports.MonthAggregate{RealizedLosses: losses, AtRisk: atRisk}, nil
}

func (q queries) PendingSubmission(ctx context.Context, tradeID id.ID) (*ports.PendingSubmission, error) {
	row := q.exec.QueryRowContext(ctx, `
		SELECT trade_id, client_order_id, role, written_at, payload
		FROM pending_submissions WHERE trade_id = ?`, string(tradeID))

	var tID, clientOrderID, role, writtenAt string
	var payload []byte
	err := row.Scan(&tID, &clientOrderID, &role, &writtenAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan pending_submission: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, writtenAt)
	if err != nil {
		return nil, fmt.Errorf("parse pending_submission.written_at: %w", err)
	}

	return &ports.PendingSubmission{
		TradeID:       id.ID(tID),
		ClientOrderID: clientOrderID,
		Role:          domain.OrderRole(role),
		WrittenAt:     ts,
		Payload:       payload,
	}, nil
}
