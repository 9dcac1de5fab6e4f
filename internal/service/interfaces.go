// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/fintally/tally/internal/model"
)

// AccountSnapshot is the ledger's view of one account at a point in
// time. Balances are milliunits.
type AccountSnapshot struct {
	ID                    string
	Name                  string
	ClearedBalanceMilli   int64
	UnclearedBalanceMilli int64
	BalanceMilli          int64
}

// TransactionDraft is a ledger entry the executor proposes to create.
// ImportID must be set before submission; it is what makes re-runs
// idempotent against ledger-side duplicate detection.
type TransactionDraft struct {
	Date        time.Time
	AccountID   string
	PayeeName   string
	Memo        string
	ImportID    string
	Cleared     model.ClearedStatus
	Approved    bool
	AmountMilli int64
}

// TransactionUpdate is a partial update to an existing ledger entry.
// Nil fields are left untouched.
type TransactionUpdate struct {
	Cleared *model.ClearedStatus
	Date    *time.Time
	ID      string
}

// BulkCreateResult is the ledger's response to a batch creation call.
// DuplicateImportIDs lists drafts the ledger rejected as already
// imported; Created holds the server-assigned entities for the rest.
type BulkCreateResult struct {
	Created            []model.LedgerTransaction
	DuplicateImportIDs []string
}

// LedgerAccess defines the contract with the budget ledger API. All
// calls are suspension points; everything else in the engine is
// synchronous and in-memory.
type LedgerAccess interface {
	GetAccount(ctx context.Context, budgetID, accountID string) (*AccountSnapshot, error)
	GetTransactions(ctx context.Context, budgetID, accountID string, since *time.Time) ([]model.LedgerTransaction, error)
	CreateTransaction(ctx context.Context, budgetID string, draft TransactionDraft) (*model.LedgerTransaction, error)
	CreateTransactions(ctx context.Context, budgetID string, drafts []TransactionDraft) (*BulkCreateResult, error)
	UpdateTransactions(ctx context.Context, budgetID string, updates []TransactionUpdate) ([]model.LedgerTransaction, error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
