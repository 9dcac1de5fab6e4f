// Package executor applies the corrective actions a reconciliation
// analysis calls for: creating missing ledger entries, clearing
// matched ones, and un-clearing stale ones. Execution is a single pass
// ordered newest-to-oldest, tracking the running cleared-balance delta
// and halting the moment it falls within tolerance.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/money"
	"github.com/fintally/tally/internal/service"
)

// ActionType labels one taken or simulated action.
type ActionType string

const (
	// ActionCreate is a ledger entry creation.
	ActionCreate ActionType = "create_transaction"
	// ActionCreateFailed is a creation that the ledger rejected.
	ActionCreateFailed ActionType = "create_failed"
	// ActionUpdateCleared marks an entry cleared (and optionally
	// adjusts its date).
	ActionUpdateCleared ActionType = "update_cleared"
	// ActionUpdateFailed records a planned status or date update the
	// ledger rejected.
	ActionUpdateFailed ActionType = "update_failed"
	// ActionUnclear resets a stale cleared flag.
	ActionUnclear ActionType = "unclear_transaction"
	// ActionBulkFallback records a whole-chunk bulk failure that fell
	// back to sequential creation.
	ActionBulkFallback ActionType = "bulk_fallback"
)

// ActionRecord is one taken or simulated action.
type ActionRecord struct {
	Transaction    *model.LedgerTransaction
	Type           ActionType
	Reason         string
	CorrelationKey string
	BulkChunkIndex int // -1 when the action was not part of a bulk chunk
	Duplicate      bool
}

// BulkDetails counts chunking, bulk vs. sequential outcomes,
// duplicates, and failures. FailedTransactions mirrors the canonical
// TransactionFailures counter and always equals it at the end of
// execution.
type BulkDetails struct {
	ChunksSubmitted     int
	BulkCreated         int
	SequentialCreated   int
	Duplicates          int
	SequentialFallbacks int
	TransactionFailures int
	FailedTransactions  int
}

// Summary holds the headline counts for one execution.
type Summary struct {
	TransactionsCreated   int
	TransactionsUpdated   int
	TransactionsUncleared int
	Duplicates            int
	Failures              int
	CheckpointReached     bool
	DryRun                bool
}

// Result is the outcome handed to the report layer.
type Result struct {
	Before          *service.AccountSnapshot
	After           *service.AccountSnapshot
	Bulk            *BulkDetails
	BalanceReport   *BalanceReport
	Summary         Summary
	Actions         []ActionRecord
	Recommendations []string
}

// Params are the execution flags for one run. Tolerances are
// milliunits; the single AmountToleranceMilli drives both draft
// matching and the balance checkpoint.
type Params struct {
	StatementDate           *time.Time
	BudgetID                string
	AccountID               string
	Currency                string
	StatementBalanceMilli   int64
	AmountToleranceMilli    int64
	DryRun                  bool
	AutoCreateTransactions  bool
	AutoUpdateClearedStatus bool
	AutoUnclearMissing      bool
	AutoAdjustDates         bool
}

// Executor performs writes against the ledger. It holds no state
// between runs.
type Executor struct {
	ledger    service.LedgerAccess
	chunkSize int
}

// DefaultChunkSize caps how many drafts go into one bulk creation call.
const DefaultChunkSize = 50

// New creates an executor over the given ledger access.
func New(ledger service.LedgerAccess) *Executor {
	return &Executor{ledger: ledger, chunkSize: DefaultChunkSize}
}

// NewWithChunkSize creates an executor with a custom bulk chunk cap.
func NewWithChunkSize(ledger service.LedgerAccess, chunkSize int) *Executor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Executor{ledger: ledger, chunkSize: chunkSize}
}

// run carries the mutable state of one execution pass.
type run struct {
	result       *Result
	params       Params
	clearedDelta int64 // current cleared balance minus statement target
	tolerance    int64
}

func (r *run) aligned() bool {
	return money.Abs(r.clearedDelta) <= r.tolerance
}

// Execute applies (or, in dry-run mode, simulates) the reconciliation
// phases. A fatal ledger error aborts the run and propagates; every
// other failure is accumulated into the result.
func (e *Executor) Execute(ctx context.Context, analysis *model.ReconciliationAnalysis, params Params, before *service.AccountSnapshot) (*Result, error) {
	if before == nil {
		return nil, fmt.Errorf("initial account snapshot is required")
	}
	tolerance := params.AmountToleranceMilli
	if tolerance <= 0 {
		tolerance = money.MilliPerCent
	}

	r := &run{
		result: &Result{
			Before:  before,
			Summary: Summary{DryRun: params.DryRun},
		},
		params:       params,
		clearedDelta: before.ClearedBalanceMilli - params.StatementBalanceMilli,
		tolerance:    tolerance,
	}

	slog.Info("starting execution",
		"dry_run", params.DryRun,
		"initial_delta", money.Format(r.clearedDelta),
		"tolerance", money.Format(tolerance))

	if params.AutoCreateTransactions && !r.aligned() {
		if err := e.createMissing(ctx, r, analysis.UnmatchedBank); err != nil {
			return nil, err
		}
	}
	if params.AutoUpdateClearedStatus && !r.aligned() {
		if err := e.clearMatched(ctx, r, analysis.AutoMatches); err != nil {
			return nil, err
		}
	}
	if params.AutoUnclearMissing && !r.aligned() {
		if err := e.unclearStale(ctx, r, analysis.UnmatchedLedger); err != nil {
			return nil, err
		}
	}

	r.result.Summary.CheckpointReached = r.aligned()

	if params.StatementDate != nil {
		report, err := e.balanceReport(ctx, params)
		if err != nil {
			// The snapshot is best-effort; only fatal errors abort.
			slog.Warn("balance report unavailable", "error", err)
		} else {
			r.result.BalanceReport = report
		}
	}

	e.finishSnapshot(ctx, r)
	r.result.Recommendations = e.recommendations(r)

	if r.result.Bulk != nil {
		// Backward-compatible mirror; consumers read either field.
		r.result.Bulk.FailedTransactions = r.result.Bulk.TransactionFailures
	}

	slog.Info("execution complete",
		"created", r.result.Summary.TransactionsCreated,
		"updated", r.result.Summary.TransactionsUpdated,
		"uncleared", r.result.Summary.TransactionsUncleared,
		"failures", r.result.Summary.Failures,
		"checkpoint", r.result.Summary.CheckpointReached)

	return r.result, nil
}

// clearMatched batch-updates auto-matched ledger entries that need a
// cleared-status and/or date correction.
func (e *Executor) clearMatched(ctx context.Context, r *run, matches []model.TransactionMatch) error {
	ordered := make([]model.TransactionMatch, len(matches))
	copy(ordered, matches)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Bank.Date.After(ordered[j].Bank.Date)
	})

	var updates []service.TransactionUpdate
	var deltaApplied int64
	actionStart := len(r.result.Actions)
	for _, m := range ordered {
		if r.aligned() {
			break
		}
		best := m.Best()
		if best == nil {
			continue
		}
		lt := best.Ledger
		needsClear := lt.Cleared == model.StatusUncleared
		needsDate := r.params.AutoAdjustDates && !sameDay(lt.Date, m.Bank.Date)
		if !needsClear && !needsDate {
			continue
		}

		update := service.TransactionUpdate{ID: lt.ID}
		reason := ""
		if needsClear {
			cleared := model.StatusCleared
			update.Cleared = &cleared
			reason = "matched to statement; marking cleared"
			// Clearing moves the amount from uncleared to cleared.
			r.clearedDelta += lt.AmountMilli
			deltaApplied += lt.AmountMilli
		}
		if needsDate {
			date := m.Bank.Date
			update.Date = &date
			if reason == "" {
				reason = "aligning date with statement"
			}
		}
		updates = append(updates, update)
		r.result.Actions = append(r.result.Actions, ActionRecord{
			Type:           ActionUpdateCleared,
			Transaction:    &lt,
			Reason:         reason,
			BulkChunkIndex: -1,
		})
		r.result.Summary.TransactionsUpdated++
	}

	if len(updates) == 0 || r.params.DryRun {
		return nil
	}

	if _, err := e.ledger.UpdateTransactions(ctx, r.params.BudgetID, updates); err != nil {
		return e.recordBatchUpdateFailure(r, err, "cleared-status update", deltaApplied, actionStart)
	}
	return nil
}

// unclearStale batch-updates unmatched-but-cleared ledger entries back
// to uncleared; they are in the ledger but absent from the statement.
func (e *Executor) unclearStale(ctx context.Context, r *run, unmatched []model.LedgerTransaction) error {
	ordered := make([]model.LedgerTransaction, len(unmatched))
	copy(ordered, unmatched)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.After(ordered[j].Date)
	})

	var updates []service.TransactionUpdate
	var deltaApplied int64
	actionStart := len(r.result.Actions)
	for _, lt := range ordered {
		if r.aligned() {
			break
		}
		if lt.Cleared != model.StatusCleared {
			// Reconciled entries are locked; uncleared need nothing.
			continue
		}
		uncleared := model.StatusUncleared
		updates = append(updates, service.TransactionUpdate{ID: lt.ID, Cleared: &uncleared})
		r.clearedDelta -= lt.AmountMilli
		deltaApplied -= lt.AmountMilli
		lt := lt
		r.result.Actions = append(r.result.Actions, ActionRecord{
			Type:           ActionUnclear,
			Transaction:    &lt,
			Reason:         "cleared in ledger but absent from statement",
			BulkChunkIndex: -1,
		})
		r.result.Summary.TransactionsUncleared++
	}

	if len(updates) == 0 || r.params.DryRun {
		return nil
	}

	if _, err := e.ledger.UpdateTransactions(ctx, r.params.BudgetID, updates); err != nil {
		return e.recordBatchUpdateFailure(r, err, "unclear update", deltaApplied, actionStart)
	}
	return nil
}

// recordBatchUpdateFailure undoes the optimistic state for a failed
// batch update, or propagates when the error is fatal. The balance
// delta the batch would have shifted is subtracted back out, the
// per-entry counters are decremented, and the planned action records
// are rewritten as failures so the checkpoint reflects what the ledger
// actually accepted.
func (e *Executor) recordBatchUpdateFailure(r *run, err error, what string, deltaApplied int64, actionStart int) error {
	if isFatal(err) {
		return err
	}
	count := len(r.result.Actions) - actionStart
	slog.Warn("batch update failed", "what", what, "count", count, "error", err)
	r.clearedDelta -= deltaApplied
	for i := actionStart; i < len(r.result.Actions); i++ {
		a := &r.result.Actions[i]
		switch a.Type {
		case ActionUpdateCleared:
			r.result.Summary.TransactionsUpdated--
		case ActionUnclear:
			r.result.Summary.TransactionsUncleared--
		}
		a.Type = ActionUpdateFailed
		a.Reason = fmt.Sprintf("batch update failed: %v", err)
	}
	r.result.Summary.Failures += count
	return nil
}

// finishSnapshot fills in the after-execution account snapshot. A live
// run refetches; a dry run projects from the before snapshot and the
// simulated delta.
func (e *Executor) finishSnapshot(ctx context.Context, r *run) {
	if !r.params.DryRun {
		after, err := e.ledger.GetAccount(ctx, r.params.BudgetID, r.params.AccountID)
		if err == nil {
			r.result.After = after
			return
		}
		slog.Warn("could not refresh account snapshot", "error", err)
	}

	projected := *r.result.Before
	projected.ClearedBalanceMilli = r.params.StatementBalanceMilli + r.clearedDelta
	projected.BalanceMilli += projected.ClearedBalanceMilli - r.result.Before.ClearedBalanceMilli
	r.result.After = &projected
}

// recommendations derives free-text advisories from the final summary.
func (e *Executor) recommendations(r *run) []string {
	var recs []string
	s := r.result.Summary

	if delta := r.result.After.ClearedBalanceMilli - r.result.Before.ClearedBalanceMilli; delta != 0 {
		verb := "changed"
		if r.params.DryRun {
			verb = "would change"
		}
		recs = append(recs, fmt.Sprintf("Cleared balance %s by %s.", verb,
			money.FormatWithCurrency(delta, currencySymbol(r.params.Currency))))
	}
	if s.CheckpointReached {
		recs = append(recs, "Ledger now agrees with the statement within tolerance.")
	} else {
		recs = append(recs, fmt.Sprintf("Remaining discrepancy: %s. Review the unmatched transactions.",
			money.Format(r.clearedDelta)))
	}
	if s.Failures > 0 {
		recs = append(recs, fmt.Sprintf("%d operation(s) failed; see actions for details and re-run to retry.", s.Failures))
	}
	if s.Duplicates > 0 {
		recs = append(recs, fmt.Sprintf("%d draft(s) were already imported and were skipped.", s.Duplicates))
	}
	if r.params.DryRun {
		recs = append(recs, "Dry run only - re-run without --dry-run to apply these changes.")
	}
	return recs
}

func currencySymbol(currency string) string {
	switch currency {
	case "", "USD", "CAD", "AUD":
		return "$"
	case "EUR":
		return "€"
	case "GBP":
		return "£"
	default:
		return currency + " "
	}
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
