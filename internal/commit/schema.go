// Package commit implements the execution store: an async batched writer
// that upserts execution reports into SQLite via jmoiron/sqlx.
package commit

// ExecutionRecord is the durable row shape for one execution report.
type ExecutionRecord struct {
	ExecID          string `db:"exec_id"`
	TakerOrderID    string `db:"taker_order_id"`
	MakerOrderID    string `db:"maker_order_id"`
	Symbol          string `db:"symbol"`
	Side            string `db:"side"`
	Price           int64  `db:"price"`
	Quantity        uint64 `db:"quantity"`
	TakerFee        int64  `db:"taker_fee"`
	MakerFee        int64  `db:"maker_fee"`
	TransactionTime int64  `db:"transaction_time"`
}

// OrderRecord is the durable row shape for the order audit trail. A row is
// rewritten on every state transition, so the table always holds the
// latest known state per order_id.
type OrderRecord struct {
	OrderID        string `db:"order_id"`
	ClientID       string `db:"client_id"`
	Symbol         string `db:"symbol"`
	Side           string `db:"side"`
	OrderType      string `db:"order_type"`
	Price          int64  `db:"price"`
	Quantity       uint64 `db:"quantity"`
	FilledQuantity uint64 `db:"filled_quantity"`
	Status         string `db:"status"`
	CreatedAt      int64  `db:"created_at"`
	UpdatedAt      int64  `db:"updated_at"`
}

// BalanceRecord is a point-in-time balance snapshot row.
type BalanceRecord struct {
	ClientID string `db:"client_id"`
	Asset    string `db:"asset"`
	Balance  uint64 `db:"balance"`
}

// AuditLog is a generic append-only event row.
type AuditLog struct {
	ID         int64  `db:"id"`
	EventType  string `db:"event_type"`
	EntityType string `db:"entity_type"`
	EntityID   string `db:"entity_id"`
	Details    string `db:"details"`
	Timestamp  int64  `db:"timestamp"`
}

// Schema is the DDL applied on startup. The upsert statements in the
// repository rely on exec_id / order_id / (client_id, asset) being primary
// keys.
const Schema = `
CREATE TABLE IF NOT EXISTS executions (
	exec_id           TEXT PRIMARY KEY,
	taker_order_id    TEXT NOT NULL,
	maker_order_id    TEXT NOT NULL,
	symbol            TEXT NOT NULL,
	side              TEXT NOT NULL,
	price             INTEGER NOT NULL,
	quantity          INTEGER NOT NULL,
	taker_fee         INTEGER NOT NULL,
	maker_fee         INTEGER NOT NULL,
	transaction_time  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_symbol ON executions(symbol);
CREATE INDEX IF NOT EXISTS idx_executions_transaction_time ON executions(transaction_time);

CREATE TABLE IF NOT EXISTS orders (
	order_id        TEXT PRIMARY KEY,
	client_id       TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	order_type      TEXT NOT NULL,
	price           INTEGER NOT NULL,
	quantity        INTEGER NOT NULL,
	filled_quantity INTEGER NOT NULL,
	status          TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_client_id ON orders(client_id);
CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);

CREATE TABLE IF NOT EXISTS balances (
	client_id TEXT NOT NULL,
	asset     TEXT NOT NULL,
	balance   INTEGER NOT NULL,
	PRIMARY KEY (client_id, asset)
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type  TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	details     TEXT,
	timestamp   INTEGER NOT NULL
);
`
