// Package cache provides a SQLite-backed cache of fetched ledger
// transactions so a dry run and the apply run that follows it do not
// refetch the same data. It caches inputs only; the engine itself
// holds no state between invocations.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fintally/tally/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Cache stores fetched ledger transactions keyed by budget and
// account, with a freshness window.
type Cache struct {
	db     *sql.DB
	maxAge time.Duration
}

const schema = `
CREATE TABLE IF NOT EXISTS ledger_transactions (
	budget_id    TEXT NOT NULL,
	account_id   TEXT NOT NULL,
	txn_id       TEXT NOT NULL,
	date         TEXT NOT NULL,
	amount_milli INTEGER NOT NULL,
	payee_name   TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL DEFAULT '',
	memo         TEXT NOT NULL DEFAULT '',
	import_id    TEXT NOT NULL DEFAULT '',
	cleared      TEXT NOT NULL,
	approved     INTEGER NOT NULL,
	PRIMARY KEY (budget_id, account_id, txn_id)
);
CREATE TABLE IF NOT EXISTS fetch_log (
	budget_id  TEXT NOT NULL,
	account_id TEXT NOT NULL,
	fetched_at TEXT NOT NULL,
	PRIMARY KEY (budget_id, account_id)
);`

// New opens (and if necessary creates) a cache database.
func New(dbPath string, maxAge time.Duration) (*Cache, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}

	return &Cache{db: db, maxAge: maxAge}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns cached transactions for the account, or ok=false when
// the cache is empty or stale.
func (c *Cache) Get(ctx context.Context, budgetID, accountID string) ([]model.LedgerTransaction, bool, error) {
	var fetchedAt string
	err := c.db.QueryRowContext(ctx,
		`SELECT fetched_at FROM fetch_log WHERE budget_id = ? AND account_id = ?`,
		budgetID, accountID).Scan(&fetchedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read fetch log: %w", err)
	}

	at, err := time.Parse(time.RFC3339, fetchedAt)
	if err != nil || time.Since(at) > c.maxAge {
		return nil, false, nil
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT txn_id, date, amount_milli, payee_name, category, memo, import_id, cleared, approved
		 FROM ledger_transactions WHERE budget_id = ? AND account_id = ? ORDER BY date`,
		budgetID, accountID)
	if err != nil {
		return nil, false, fmt.Errorf("read cached transactions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var txns []model.LedgerTransaction
	for rows.Next() {
		var t model.LedgerTransaction
		var date string
		var cleared string
		var approved int
		if err := rows.Scan(&t.ID, &date, &t.AmountMilli, &t.PayeeName, &t.CategoryName, &t.Memo, &t.ImportID, &cleared, &approved); err != nil {
			return nil, false, fmt.Errorf("scan cached transaction: %w", err)
		}
		t.Date, err = time.Parse("2006-01-02", date)
		if err != nil {
			return nil, false, fmt.Errorf("cached transaction has invalid date %q: %w", date, err)
		}
		t.Cleared = model.ClearedStatus(cleared)
		t.Approved = approved != 0
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return txns, true, nil
}

// Put replaces the cached transactions for an account.
func (c *Cache) Put(ctx context.Context, budgetID, accountID string, txns []model.LedgerTransaction) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ledger_transactions WHERE budget_id = ? AND account_id = ?`,
		budgetID, accountID); err != nil {
		return fmt.Errorf("clear cached transactions: %w", err)
	}

	for _, t := range txns {
		approved := 0
		if t.Approved {
			approved = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_transactions
			 (budget_id, account_id, txn_id, date, amount_milli, payee_name, category, memo, import_id, cleared, approved)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			budgetID, accountID, t.ID, t.Date.Format("2006-01-02"), t.AmountMilli,
			t.PayeeName, t.CategoryName, t.Memo, t.ImportID, string(t.Cleared), approved); err != nil {
			return fmt.Errorf("cache transaction %s: %w", t.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fetch_log (budget_id, account_id, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT (budget_id, account_id) DO UPDATE SET fetched_at = excluded.fetched_at`,
		budgetID, accountID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record fetch time: %w", err)
	}

	return tx.Commit()
}

// Invalidate drops cached data for an account. Called after any write
// so the next run refetches.
func (c *Cache) Invalidate(ctx context.Context, budgetID, accountID string) error {
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM fetch_log WHERE budget_id = ? AND account_id = ?`,
		budgetID, accountID); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	return nil
}
