package database

// schemaStatements is the complete sqlite schema, applied in order and
// made idempotent with IF NOT EXISTS so Open can run against an existing
// database unattended. Monetary columns are TEXT: every Amount round-trips
// through its fixed-point decimal string, never a float column.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL UNIQUE,
		description   TEXT NOT NULL DEFAULT '',
		environment   TEXT NOT NULL,
		tax_rate      TEXT NOT NULL DEFAULT '0',
		earnings_rate TEXT NOT NULL DEFAULT '0',
		created_at    TEXT NOT NULL,
		deleted_at    TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS balances (
		account_id      TEXT NOT NULL,
		currency        TEXT NOT NULL,
		total_balance   TEXT NOT NULL,
		total_in_trade  TEXT NOT NULL,
		taxed           TEXT NOT NULL,
		total_earnings  TEXT NOT NULL,
		PRIMARY KEY (account_id, currency),
		FOREIGN KEY (account_id) REFERENCES accounts(id)
	)`,

	`CREATE TABLE IF NOT EXISTS rules (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		kind       TEXT NOT NULL,
		pct        TEXT NOT NULL,
		priority   INTEGER NOT NULL,
		level      TEXT NOT NULL,
		active     INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY (account_id) REFERENCES accounts(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_account ON rules(account_id, active)`,

	`CREATE TABLE IF NOT EXISTS trading_vehicles (
		symbol        TEXT NOT NULL,
		broker        TEXT NOT NULL,
		isin          TEXT NOT NULL DEFAULT '',
		category      TEXT NOT NULL,
		tradable      INTEGER NOT NULL DEFAULT 1,
		marginable    INTEGER NOT NULL DEFAULT 0,
		shortable     INTEGER NOT NULL DEFAULT 0,
		fractionable  INTEGER NOT NULL DEFAULT 0,
		exchange      TEXT NOT NULL DEFAULT '',
		asset_class   TEXT NOT NULL DEFAULT '',
		asset_status  TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (symbol, broker)
	)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id                 TEXT PRIMARY KEY,
		broker_order_id    TEXT,
		role               TEXT NOT NULL,
		currency           TEXT NOT NULL,
		unit_price         TEXT NOT NULL,
		quantity           INTEGER NOT NULL,
		category           TEXT NOT NULL,
		action             TEXT NOT NULL,
		time_in_force      TEXT NOT NULL,
		status             TEXT NOT NULL,
		filled_quantity    INTEGER NOT NULL DEFAULT 0,
		average_fill_price TEXT,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL,
		submitted_at       TEXT,
		filled_at          TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_broker_id ON orders(broker_order_id) WHERE broker_order_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS trades (
		id              TEXT PRIMARY KEY,
		account_id      TEXT NOT NULL,
		vehicle_symbol  TEXT NOT NULL,
		vehicle_broker  TEXT NOT NULL,
		category        TEXT NOT NULL,
		currency        TEXT NOT NULL,
		status          TEXT NOT NULL,
		entry_order_id  TEXT NOT NULL,
		target_order_id TEXT NOT NULL,
		stop_order_id   TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		closed_at       TEXT,
		FOREIGN KEY (account_id) REFERENCES accounts(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account_id, status)`,

	`CREATE TABLE IF NOT EXISTS trade_balances (
		trade_id           TEXT PRIMARY KEY,
		currency           TEXT NOT NULL,
		funding            TEXT NOT NULL,
		capital_in_market  TEXT NOT NULL,
		capital_out_market TEXT NOT NULL,
		taxed              TEXT NOT NULL,
		total_performance  TEXT NOT NULL,
		FOREIGN KEY (trade_id) REFERENCES trades(id)
	)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		trade_id   TEXT,
		category   TEXT NOT NULL,
		amount     TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (account_id) REFERENCES accounts(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_account_created ON transactions(account_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_trade ON transactions(trade_id)`,

	`CREATE TABLE IF NOT EXISTS executions (
		id                  TEXT PRIMARY KEY,
		broker              TEXT NOT NULL,
		account_id          TEXT NOT NULL,
		broker_execution_id TEXT NOT NULL,
		trade_id            TEXT NOT NULL,
		order_id            TEXT NOT NULL,
		symbol              TEXT NOT NULL,
		side                TEXT NOT NULL,
		quantity            INTEGER NOT NULL,
		price               TEXT NOT NULL,
		executed_at         TEXT NOT NULL,
		raw                 TEXT NOT NULL DEFAULT '{}'
	)`,
	// Enforces the dedup key of spec §4.3/§4.8: (broker, account, broker_execution_id).
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_dedup ON executions(broker, account_id, broker_execution_id)`,

	`CREATE TABLE IF NOT EXISTS pending_submissions (
		trade_id      TEXT PRIMARY KEY,
		client_order_id TEXT NOT NULL,
		role          TEXT NOT NULL,
		written_at    TEXT NOT NULL,
		payload       BLOB NOT NULL
	)`,

	// month_start_snapshots records the account balance observed on the
	// first transaction of each calendar month, per spec §4.6's
	// month-start-snapshot policy for risk_per_month.
	`CREATE TABLE IF NOT EXISTS month_start_snapshots (
		account_id   TEXT NOT NULL,
		currency     TEXT NOT NULL,
		month_start  TEXT NOT NULL,
		total_balance TEXT NOT NULL,
		PRIMARY KEY (account_id, currency, month_start)
	)`,
}
