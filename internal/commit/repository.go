package commit

import (
	"context"
	"fmt"

	"fenrir/internal/common"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Repository wraps the sqlite handle used by the commit manager.
type Repository struct {
	db *sqlx.DB
}

// Open connects to a sqlite database at dsn and applies Schema. Failure
// here is fatal: without a reachable execution store nothing can be made
// durable.
func Open(dsn string) (*Repository, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", common.ErrStorageFatal, err)
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("%w: apply schema: %v", common.ErrStorageFatal, err)
	}
	return &Repository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error { return r.db.Close() }

// UpsertExecutions writes a batch of execution records in a single
// transaction, upserting by exec_id so a replayed report never produces
// a duplicate row.
func (r *Repository) UpsertExecutions(ctx context.Context, records []ExecutionRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", common.ErrStorageTransient, err)
	}
	defer tx.Rollback()

	const stmt = `
INSERT INTO executions (exec_id, taker_order_id, maker_order_id, symbol, side, price, quantity, taker_fee, maker_fee, transaction_time)
VALUES (:exec_id, :taker_order_id, :maker_order_id, :symbol, :side, :price, :quantity, :taker_fee, :maker_fee, :transaction_time)
ON CONFLICT(exec_id) DO UPDATE SET
	taker_order_id=excluded.taker_order_id, maker_order_id=excluded.maker_order_id,
	symbol=excluded.symbol, side=excluded.side, price=excluded.price,
	quantity=excluded.quantity, taker_fee=excluded.taker_fee, maker_fee=excluded.maker_fee,
	transaction_time=excluded.transaction_time`

	for _, rec := range records {
		if _, err := tx.NamedExecContext(ctx, stmt, rec); err != nil {
			return fmt.Errorf("%w: upsert exec_id=%s: %v", common.ErrStorageTransient, rec.ExecID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", common.ErrStorageTransient, err)
	}
	return nil
}

// UpsertOrders writes a batch of order state rows in a single transaction,
// upserting by order_id so the table always reflects the latest known
// state per order.
func (r *Repository) UpsertOrders(ctx context.Context, records []OrderRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", common.ErrStorageTransient, err)
	}
	defer tx.Rollback()

	const stmt = `
INSERT INTO orders (order_id, client_id, symbol, side, order_type, price, quantity, filled_quantity, status, created_at, updated_at)
VALUES (:order_id, :client_id, :symbol, :side, :order_type, :price, :quantity, :filled_quantity, :status, :created_at, :updated_at)
ON CONFLICT(order_id) DO UPDATE SET
	filled_quantity=excluded.filled_quantity, status=excluded.status,
	updated_at=excluded.updated_at`

	for _, rec := range records {
		if _, err := tx.NamedExecContext(ctx, stmt, rec); err != nil {
			return fmt.Errorf("%w: upsert order_id=%s: %v", common.ErrStorageTransient, rec.OrderID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", common.ErrStorageTransient, err)
	}
	return nil
}

// UpsertBalance writes a single balance snapshot row, upserting by
// (client_id, asset).
func (r *Repository) UpsertBalance(ctx context.Context, rec BalanceRecord) error {
	const stmt = `
INSERT INTO balances (client_id, asset, balance) VALUES (:client_id, :asset, :balance)
ON CONFLICT(client_id, asset) DO UPDATE SET balance=excluded.balance`
	_, err := r.db.NamedExecContext(ctx, stmt, rec)
	return err
}

// AppendAudit records a free-form audit event.
func (r *Repository) AppendAudit(ctx context.Context, eventType, entityType, entityID, details string, ts int64) error {
	const stmt = `INSERT INTO audit_logs (event_type, entity_type, entity_id, details, timestamp) VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, stmt, eventType, entityType, entityID, details, ts)
	return err
}
