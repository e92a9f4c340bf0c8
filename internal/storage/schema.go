// Package storage implements the sqlite repositories behind the engine's
// persistence interfaces: queues, order logs, and accounts.
package storage

import (
	"database/sql"
	"fmt"
)

// schema is applied idempotently at startup. Queue and order-log rows are
// an audit trail: they are never deleted, only transitioned.
const schema = `
CREATE TABLE IF NOT EXISTS queues (
	id            TEXT PRIMARY KEY,
	account_alias TEXT NOT NULL,
	portfolio_id  INTEGER NOT NULL,
	mode          TEXT NOT NULL,
	status        TEXT NOT NULL,
	basket        BLOB,
	note          TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queues_account_status ON queues(account_alias, status);

CREATE TABLE IF NOT EXISTS order_logs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	queue_id     TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	leg_type     TEXT NOT NULL,
	status       TEXT NOT NULL,
	order_no     TEXT,
	shares       INTEGER NOT NULL,
	order_price  REAL NOT NULL,
	market_price REAL NOT NULL,
	concluded_at INTEGER,
	error_msg    TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	FOREIGN KEY (queue_id) REFERENCES queues(id)
);
CREATE INDEX IF NOT EXISTS idx_order_logs_queue ON order_logs(queue_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_order_logs_order_no ON order_logs(order_no) WHERE order_no IS NOT NULL AND order_no != '';

CREATE TABLE IF NOT EXISTS portfolios (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_weights (
	portfolio_id INTEGER NOT NULL,
	symbol       TEXT NOT NULL,
	weight       REAL NOT NULL,
	PRIMARY KEY (portfolio_id, symbol),
	FOREIGN KEY (portfolio_id) REFERENCES portfolios(id)
);

CREATE TABLE IF NOT EXISTS accounts (
	alias             TEXT PRIMARY KEY,
	account_number    TEXT NOT NULL,
	vendor            TEXT NOT NULL,
	status            TEXT NOT NULL,
	account_type      TEXT NOT NULL,
	risk_grade        INTEGER NOT NULL DEFAULT 0,
	emphasis          TEXT NOT NULL DEFAULT 'weight_first',
	portfolio_id      INTEGER NOT NULL DEFAULT 0,
	allow_minus_gross INTEGER NOT NULL DEFAULT 0,
	updated_at        INTEGER NOT NULL
);
`

// Migrate applies the engine schema. Safe to call repeatedly.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply storage schema: %w", err)
	}
	return nil
}

// nullString converts an empty string to NULL for nullable columns.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
