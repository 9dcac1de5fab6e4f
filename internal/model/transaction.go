// Package model defines the domain types shared across the
// reconciliation engine: statement and ledger transactions, match
// results, balance figures, and the analysis snapshot.
package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// ClearedStatus mirrors the ledger's three-state cleared flag.
type ClearedStatus string

const (
	// StatusUncleared marks a transaction not yet seen on a statement.
	StatusUncleared ClearedStatus = "uncleared"
	// StatusCleared marks a transaction confirmed by a statement.
	StatusCleared ClearedStatus = "cleared"
	// StatusReconciled marks a transaction locked by a completed
	// reconciliation; the engine never modifies reconciled entries.
	StatusReconciled ClearedStatus = "reconciled"
)

// BankTransaction is a raw line item parsed from a bank statement.
// Immutable once created; ID is synthetic and only meaningful within
// one analysis run.
type BankTransaction struct {
	Date        time.Time
	ID          string
	Payee       string
	Memo        string
	AmountMilli int64 // signed milliunits, outflows negative
	OriginalRow int   // 1-based row in the source file
}

// LedgerTransaction is an entry already recorded in the budget ledger.
// The engine treats it as read-only input except for the fields it
// proposes to change (cleared status, date).
type LedgerTransaction struct {
	Date         time.Time
	ID           string
	PayeeName    string
	CategoryName string
	Memo         string
	ImportID     string
	Cleared      ClearedStatus
	Approved     bool
	AmountMilli  int64
}

// NormalizePayee lowercases a payee and strips punctuation and
// repeated whitespace so textual comparison sees "EVO CAR share*123"
// and "evo car share" as the same merchant.
func NormalizePayee(payee string) string {
	var b strings.Builder
	b.Grow(len(payee))
	lastSpace := true
	for _, r := range strings.ToLower(payee) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// ImportID derives a deterministic import identifier for a draft built
// from a bank transaction, so re-running reconciliation is naturally
// idempotent against ledger-side duplicate detection.
func ImportID(accountID string, date time.Time, amountMilli int64, payee string) string {
	data := fmt.Sprintf("%s:%s:%d:%s",
		accountID,
		date.Format("2006-01-02"),
		amountMilli,
		NormalizePayee(payee))
	sum := sha256.Sum256([]byte(data))
	return fmt.Sprintf("tally:v1:%x", sum[:8])
}
