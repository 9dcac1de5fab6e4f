package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintally/tally/internal/ledger"
	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/service"
)

// manyUnmatched builds n distinct unmatched bank transactions of
// amountMilli each, all on the same day.
func manyUnmatched(n int, amountMilli int64) []model.BankTransaction {
	out := make([]model.BankTransaction, n)
	for i := range out {
		out[i] = bankTxn(fmt.Sprintf("b%d", i), day(10), amountMilli, fmt.Sprintf("Merchant %d", i))
	}
	return out
}

func TestCreateBulk_HappyPath(t *testing.T) {
	fake := newFakeLedger(0)
	e := NewWithChunkSize(fake, 5)

	analysis := &model.ReconciliationAnalysis{
		UnmatchedBank: manyUnmatched(12, -1000),
	}
	params := baseParams()
	params.StatementBalanceMilli = -12000
	params.AutoCreateTransactions = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(0))
	require.NoError(t, err)

	assert.Equal(t, 12, result.Summary.TransactionsCreated)
	assert.True(t, result.Summary.CheckpointReached)
	assert.Equal(t, 3, fake.bulkCalls)
	assert.Equal(t, 0, fake.createCalls)

	require.NotNil(t, result.Bulk)
	assert.Equal(t, 3, result.Bulk.ChunksSubmitted)
	assert.Equal(t, 12, result.Bulk.BulkCreated)
	assert.Equal(t, 0, result.Bulk.SequentialCreated)
	assert.Equal(t, 0, result.Bulk.SequentialFallbacks)

	// Every create action carries its chunk index for correlation.
	for _, a := range result.Actions {
		require.Equal(t, ActionCreate, a.Type)
		assert.GreaterOrEqual(t, a.BulkChunkIndex, 0)
		assert.Less(t, a.BulkChunkIndex, 3)
		assert.NotEmpty(t, a.CorrelationKey)
	}
}

func TestCreateBulk_FallsBackSequentially(t *testing.T) {
	fake := newFakeLedger(0)
	fake.bulkErr = errors.New("connection reset by peer")
	e := New(fake)

	analysis := &model.ReconciliationAnalysis{
		UnmatchedBank: manyUnmatched(20, -1000),
	}
	params := baseParams()
	params.StatementBalanceMilli = -20000
	params.AutoCreateTransactions = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(0))
	require.NoError(t, err)

	assert.Equal(t, 20, result.Summary.TransactionsCreated)
	assert.True(t, result.Summary.CheckpointReached)
	assert.Equal(t, 1, fake.bulkCalls)
	assert.Equal(t, 20, fake.createCalls)

	require.NotNil(t, result.Bulk)
	assert.Equal(t, 1, result.Bulk.ChunksSubmitted)
	assert.Equal(t, 1, result.Bulk.SequentialFallbacks)
	assert.Equal(t, 0, result.Bulk.BulkCreated)
	assert.Equal(t, 20, result.Bulk.SequentialCreated)

	var fallback *ActionRecord
	for i := range result.Actions {
		if result.Actions[i].Type == ActionBulkFallback {
			fallback = &result.Actions[i]
		}
	}
	require.NotNil(t, fallback)
	assert.Equal(t, 0, fallback.BulkChunkIndex)
}

func TestCreateBulk_FatalErrorAborts(t *testing.T) {
	fake := newFakeLedger(0)
	fake.bulkErr = &ledger.Error{Message: "unauthorized", StatusCode: 401, Fatal: true}
	e := New(fake)

	analysis := &model.ReconciliationAnalysis{
		UnmatchedBank: manyUnmatched(5, -1000),
	}
	params := baseParams()
	params.StatementBalanceMilli = -5000
	params.AutoCreateTransactions = true

	_, err := e.Execute(context.Background(), analysis, params, snapshot(0))
	require.Error(t, err)
	assert.True(t, ledger.IsFatal(err))
	assert.Equal(t, 0, fake.createCalls, "no sequential fallback after a fatal error")
}

func TestCreateBulk_RerunSkipsDuplicates(t *testing.T) {
	fake := newFakeLedger(0)
	e := New(fake)

	analysis := &model.ReconciliationAnalysis{
		UnmatchedBank: manyUnmatched(3, -1000),
	}
	params := baseParams()
	params.StatementBalanceMilli = -3000
	params.AutoCreateTransactions = true

	first, err := e.Execute(context.Background(), analysis, params, snapshot(0))
	require.NoError(t, err)
	assert.Equal(t, 3, first.Summary.TransactionsCreated)
	assert.Equal(t, 0, first.Summary.Duplicates)

	// Re-running against a stale snapshot resubmits the same drafts;
	// the ledger's import-id screen rejects all of them.
	second, err := e.Execute(context.Background(), analysis, params, snapshot(0))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Summary.TransactionsCreated)
	assert.Equal(t, 3, second.Summary.Duplicates)
	assert.Equal(t, 3, second.Bulk.Duplicates)
	assert.Equal(t, 0, second.Summary.Failures)

	for _, a := range second.Actions {
		assert.True(t, a.Duplicate)
	}
	assert.Len(t, fake.transactions, 3, "nothing was created twice")
}

func TestCreateSequential_RecordsNonFatalFailures(t *testing.T) {
	fake := newFakeLedger(0)
	fake.createErr = errors.New("temporary failure")
	e := New(fake)

	analysis := &model.ReconciliationAnalysis{
		UnmatchedBank: manyUnmatched(1, -1000),
	}
	params := baseParams()
	params.StatementBalanceMilli = -1000
	params.AutoCreateTransactions = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(0))
	require.NoError(t, err)

	assert.Equal(t, 0, result.Summary.TransactionsCreated)
	assert.Equal(t, 1, result.Summary.Failures)
	require.NotNil(t, result.Bulk)
	assert.Equal(t, 1, result.Bulk.TransactionFailures)
	assert.Equal(t, result.Bulk.TransactionFailures, result.Bulk.FailedTransactions)

	// Nothing was created, so the balance gap is still open.
	assert.False(t, result.Summary.CheckpointReached)

	require.Len(t, result.Actions, 1)
	assert.Equal(t, ActionCreateFailed, result.Actions[0].Type)
}

func TestCreateBulk_MissingFromResponseKeepsGapOpen(t *testing.T) {
	fake := newFakeLedger(0)
	fake.dropFromBulkResponse = 2
	e := NewWithChunkSize(fake, 5)

	analysis := &model.ReconciliationAnalysis{
		UnmatchedBank: manyUnmatched(4, -1000),
	}
	params := baseParams()
	params.StatementBalanceMilli = -4000
	params.AutoCreateTransactions = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(0))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Summary.TransactionsCreated)
	assert.Equal(t, 2, result.Summary.Failures)
	assert.False(t, result.Summary.CheckpointReached)
}

func TestCreateMissing_RejectsInvalidDrafts(t *testing.T) {
	fake := newFakeLedger(0)
	e := New(fake)

	analysis := &model.ReconciliationAnalysis{
		UnmatchedBank: []model.BankTransaction{
			bankTxn("b1", day(10), 0, "Zero Amount"),
		},
	}
	params := baseParams()
	params.StatementBalanceMilli = -5000
	params.AutoCreateTransactions = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(0))
	require.NoError(t, err)

	assert.Equal(t, 0, fake.writeCalls())
	assert.Equal(t, 1, result.Summary.Failures)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, ActionCreateFailed, result.Actions[0].Type)
	assert.Equal(t, -1, result.Actions[0].BulkChunkIndex)
}

func TestDraftToTransaction(t *testing.T) {
	d := service.TransactionDraft{
		Date:        day(10),
		AccountID:   "acct-1",
		PayeeName:   "Merchant",
		ImportID:    "tally:v1:deadbeef00000000",
		Cleared:     model.StatusCleared,
		Approved:    true,
		AmountMilli: -1000,
	}
	got := draftToTransaction(d)
	assert.Equal(t, d.Date, got.Date)
	assert.Equal(t, d.PayeeName, got.PayeeName)
	assert.Equal(t, d.AmountMilli, got.AmountMilli)
	assert.Equal(t, d.ImportID, got.ImportID)
	assert.Equal(t, model.StatusCleared, got.Cleared)
	assert.True(t, got.Approved)
}
