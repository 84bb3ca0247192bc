// Package sqlite is a concrete, swappable reference implementation of the
// Persistence Facade (C10), grounded on the teacher's internal/database
// connection wrapper: WAL mode, profile-driven PRAGMAs, a bounded
// connection pool.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go sqlite driver
)

// Config controls how the underlying file is opened.
type Config struct {
	Path string // filesystem path, or "file::memory:?cache=shared" for tests
}

// DB wraps *sql.DB with the PRAGMAs and pool tuning the risk monitor needs:
// moderate durability (this is operational state, not a ledger) and a
// healthy read concurrency since every owner's tick reads its own rows.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if necessary) the sqlite database at cfg.Path and
// applies the schema.
func Open(cfg Config) (*DB, error) {
	path := cfg.Path
	if !strings.HasPrefix(path, "file:") {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		path = absPath
	}

	connStr := buildConnectionString(path)
	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(16)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{conn: conn, path: cfg.Path}
	if err := db.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

func buildConnectionString(path string) string {
	connStr := path + "?_pragma=journal_mode(WAL)"
	connStr += "&_pragma=synchronous(NORMAL)"
	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=busy_timeout(5000)"
	connStr += "&_pragma=cache_size(-32000)" // 32MB
	return connStr
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return err
	}
	return tx.Commit()
}

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	protocol TEXT NOT NULL,
	chain INTEGER NOT NULL,
	kind TEXT NOT NULL,
	legs_json TEXT NOT NULL,
	entry_snapshot_json TEXT,
	last_refresh INTEGER NOT NULL,
	protocol_payload_json TEXT,
	archived INTEGER NOT NULL DEFAULT 0,
	zero_amount_ticks INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_positions_owner ON positions(owner);

CREATE TABLE IF NOT EXISTS risk_metrics (
	position_id TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	factors_json TEXT NOT NULL,
	overall REAL NOT NULL,
	level TEXT NOT NULL,
	confidence REAL NOT NULL,
	PRIMARY KEY (position_id, timestamp)
);
CREATE INDEX IF NOT EXISTS idx_risk_metrics_position ON risk_metrics(position_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS threshold_rules (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	position_id TEXT,
	factor TEXT NOT NULL,
	comparator TEXT NOT NULL,
	value REAL NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_threshold_rules_owner ON threshold_rules(owner);

CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	position_id TEXT,
	threshold_id TEXT NOT NULL,
	factor TEXT NOT NULL,
	crossed_value REAL NOT NULL,
	current_value REAL NOT NULL,
	severity TEXT NOT NULL,
	state TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	resolved_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_alerts_owner ON alerts(owner);

CREATE TABLE IF NOT EXISTS price_history (
	chain INTEGER NOT NULL,
	address TEXT NOT NULL,
	price_usd TEXT NOT NULL,
	confidence REAL NOT NULL,
	deviation_percent REAL NOT NULL,
	source_count INTEGER NOT NULL,
	anomaly_flag INTEGER NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_history_token_ts ON price_history(chain, address, timestamp DESC);
`
