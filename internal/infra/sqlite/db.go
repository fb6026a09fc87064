// Package sqlite provides SQLite-based persistent storage for the payout
// ledger. Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/ledger.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "ledger.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// One row per successful completion.
		`CREATE TABLE IF NOT EXISTS payouts (
			id           TEXT PRIMARY KEY,
			session      TEXT NOT NULL,
			epoch        INTEGER NOT NULL,
			unit         INTEGER NOT NULL,
			validator_id INTEGER NOT NULL,
			work_id      TEXT NOT NULL,
			category     TEXT NOT NULL,
			price        REAL NOT NULL,
			reward       REAL NOT NULL,
			created_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payouts_session ON payouts(session, epoch, unit)`,

		// Double-entry bookkeeping: DEBIT curve, CREDIT validator:<id>.
		`CREATE TABLE IF NOT EXISTS ledger (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			payout_id  TEXT NOT NULL REFERENCES payouts(id),
			timestamp  INTEGER NOT NULL,
			session    TEXT NOT NULL,
			epoch      INTEGER NOT NULL,
			entry_type TEXT NOT NULL,
			account    TEXT NOT NULL,
			amount     REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_session ON ledger(session, epoch)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger(account)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Meta ───────────────────────────────────────────────────────────────────

// SetMeta stores a key-value pair.
func (d *DB) SetMeta(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetMeta retrieves a value. Missing keys return "".
func (d *DB) GetMeta(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
