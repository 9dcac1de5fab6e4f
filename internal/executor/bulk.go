package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/fintally/tally/internal/ledger"
	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/service"
)

func isFatal(err error) bool {
	return ledger.IsFatal(err)
}

// createMissing builds ledger-entry drafts for unmatched bank
// transactions, newest first, stopping the moment the projected
// cleared balance falls within tolerance. Two or more drafts go
// through chunked bulk creation with sequential fallback; a single
// residual draft goes straight to sequential creation.
func (e *Executor) createMissing(ctx context.Context, r *run, unmatched []model.BankTransaction) error {
	ordered := make([]model.BankTransaction, len(unmatched))
	copy(ordered, unmatched)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.After(ordered[j].Date)
	})

	var drafts []service.TransactionDraft
	for _, bt := range ordered {
		if r.aligned() {
			break
		}
		draft := service.TransactionDraft{
			AccountID:   r.params.AccountID,
			Date:        bt.Date,
			AmountMilli: bt.AmountMilli,
			PayeeName:   bt.Payee,
			Memo:        bt.Memo,
			Cleared:     model.StatusCleared,
			Approved:    true,
			ImportID:    model.ImportID(r.params.AccountID, bt.Date, bt.AmountMilli, bt.Payee),
		}
		if err := validateDraft(draft); err != nil {
			r.recordCreateFailure(nil, draft.ImportID, -1, err.Error())
			continue
		}
		drafts = append(drafts, draft)
		// Simulated step: a created entry lands cleared, moving the
		// running delta toward the statement.
		r.clearedDelta += bt.AmountMilli
	}

	if len(drafts) == 0 {
		return nil
	}

	r.result.Bulk = &BulkDetails{}

	if r.params.DryRun {
		e.simulateCreates(r, drafts)
		return nil
	}

	if len(drafts) == 1 {
		return e.createSequential(ctx, r, drafts, -1)
	}
	return e.createBulk(ctx, r, drafts)
}

// validateDraft catches malformed payloads before submission; these
// are never retried.
func validateDraft(d service.TransactionDraft) error {
	if d.AccountID == "" {
		return fmt.Errorf("draft missing account id")
	}
	if d.Date.IsZero() {
		return fmt.Errorf("draft missing date")
	}
	if d.AmountMilli == 0 {
		return fmt.Errorf("draft has zero amount")
	}
	return nil
}

// simulateCreates records the actions a live run would take without
// calling any write operation.
func (e *Executor) simulateCreates(r *run, drafts []service.TransactionDraft) {
	chunks := (len(drafts) + e.chunkSize - 1) / e.chunkSize
	if len(drafts) == 1 {
		chunks = 0
	}
	r.result.Bulk.ChunksSubmitted = chunks

	for _, d := range drafts {
		entry := draftToTransaction(d)
		r.result.Actions = append(r.result.Actions, ActionRecord{
			Type:           ActionCreate,
			Transaction:    &entry,
			Reason:         "missing from ledger (dry run)",
			CorrelationKey: d.ImportID,
			BulkChunkIndex: -1,
		})
		r.result.Summary.TransactionsCreated++
		if chunks > 0 {
			r.result.Bulk.BulkCreated++
		} else {
			r.result.Bulk.SequentialCreated++
		}
	}
}

// createBulk submits drafts in chunks, correlating each chunk's
// response back to its drafts by import id. A whole-chunk non-fatal
// failure falls back to sequential creation for just that chunk.
func (e *Executor) createBulk(ctx context.Context, r *run, drafts []service.TransactionDraft) error {
	for start := 0; start < len(drafts); start += e.chunkSize {
		end := start + e.chunkSize
		if end > len(drafts) {
			end = len(drafts)
		}
		chunk := drafts[start:end]
		chunkIndex := start / e.chunkSize
		r.result.Bulk.ChunksSubmitted++

		res, err := e.ledger.CreateTransactions(ctx, r.params.BudgetID, chunk)
		if err != nil {
			if isFatal(err) {
				return err
			}
			slog.Warn("bulk chunk failed, falling back to sequential creation",
				"chunk", chunkIndex, "size", len(chunk), "error", err)
			r.result.Bulk.SequentialFallbacks++
			r.result.Actions = append(r.result.Actions, ActionRecord{
				Type:           ActionBulkFallback,
				Reason:         fmt.Sprintf("bulk chunk %d failed: %v", chunkIndex, err),
				BulkChunkIndex: chunkIndex,
			})
			if err := e.createSequential(ctx, r, chunk, chunkIndex); err != nil {
				return err
			}
			continue
		}

		e.correlateChunk(r, chunk, res, chunkIndex)
	}
	return nil
}

// correlateChunk classifies each draft in a submitted chunk as
// created, duplicate, or failed based on the bulk response.
func (e *Executor) correlateChunk(r *run, chunk []service.TransactionDraft, res *service.BulkCreateResult, chunkIndex int) {
	createdByImportID := make(map[string]model.LedgerTransaction, len(res.Created))
	for _, t := range res.Created {
		createdByImportID[t.ImportID] = t
	}
	duplicates := make(map[string]bool, len(res.DuplicateImportIDs))
	for _, id := range res.DuplicateImportIDs {
		duplicates[id] = true
	}

	for _, d := range chunk {
		switch {
		case duplicates[d.ImportID]:
			entry := draftToTransaction(d)
			r.result.Actions = append(r.result.Actions, ActionRecord{
				Type:           ActionCreate,
				Transaction:    &entry,
				Reason:         "already imported; ledger-side duplicate detection",
				CorrelationKey: d.ImportID,
				BulkChunkIndex: chunkIndex,
				Duplicate:      true,
			})
			r.result.Summary.Duplicates++
			r.result.Bulk.Duplicates++
		default:
			created, ok := createdByImportID[d.ImportID]
			if !ok {
				r.recordCreateFailure(&d, d.ImportID, chunkIndex, "not present in bulk response")
				continue
			}
			r.result.Actions = append(r.result.Actions, ActionRecord{
				Type:           ActionCreate,
				Transaction:    &created,
				Reason:         "missing from ledger",
				CorrelationKey: d.ImportID,
				BulkChunkIndex: chunkIndex,
			})
			r.result.Summary.TransactionsCreated++
			r.result.Bulk.BulkCreated++
		}
	}
}

// createSequential creates drafts one at a time. An individual failure
// is recorded and does not stop the remaining items unless it is
// independently fatal.
func (e *Executor) createSequential(ctx context.Context, r *run, drafts []service.TransactionDraft, chunkIndex int) error {
	for _, d := range drafts {
		created, err := e.ledger.CreateTransaction(ctx, r.params.BudgetID, d)
		if err != nil {
			if isFatal(err) {
				return err
			}
			d := d
			r.recordCreateFailure(&d, d.ImportID, chunkIndex, err.Error())
			continue
		}
		r.result.Actions = append(r.result.Actions, ActionRecord{
			Type:           ActionCreate,
			Transaction:    created,
			Reason:         "missing from ledger",
			CorrelationKey: d.ImportID,
			BulkChunkIndex: chunkIndex,
		})
		r.result.Summary.TransactionsCreated++
		r.result.Bulk.SequentialCreated++
	}
	return nil
}

// recordCreateFailure records one draft the ledger did not create. A
// nil draft means the failure happened before the draft was queued and
// the running delta never moved; otherwise the planned shift is
// subtracted back out so the checkpoint reflects what the ledger
// actually accepted.
func (r *run) recordCreateFailure(d *service.TransactionDraft, correlationKey string, chunkIndex int, reason string) {
	record := ActionRecord{
		Type:           ActionCreateFailed,
		Reason:         reason,
		CorrelationKey: correlationKey,
		BulkChunkIndex: chunkIndex,
	}
	if d != nil {
		entry := draftToTransaction(*d)
		record.Transaction = &entry
		r.clearedDelta -= d.AmountMilli
	}
	r.result.Actions = append(r.result.Actions, record)
	r.result.Summary.Failures++
	if r.result.Bulk != nil {
		r.result.Bulk.TransactionFailures++
	}
}

func draftToTransaction(d service.TransactionDraft) model.LedgerTransaction {
	return model.LedgerTransaction{
		Date:        d.Date,
		PayeeName:   d.PayeeName,
		Memo:        d.Memo,
		ImportID:    d.ImportID,
		Cleared:     d.Cleared,
		Approved:    d.Approved,
		AmountMilli: d.AmountMilli,
	}
}
