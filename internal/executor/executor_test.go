package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintally/tally/internal/ledger"
	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/service"
)

func day(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

func bankTxn(id string, d time.Time, amountMilli int64, payee string) model.BankTransaction {
	return model.BankTransaction{ID: id, Date: d, AmountMilli: amountMilli, Payee: payee}
}

func snapshot(clearedMilli int64) *service.AccountSnapshot {
	return &service.AccountSnapshot{
		ID:                  "acct-1",
		Name:                "Chequing",
		ClearedBalanceMilli: clearedMilli,
		BalanceMilli:        clearedMilli,
	}
}

func baseParams() Params {
	return Params{
		BudgetID:  "budget-1",
		AccountID: "acct-1",
	}
}

func autoMatch(bank model.BankTransaction, lt model.LedgerTransaction) model.TransactionMatch {
	return model.TransactionMatch{
		Bank:  bank,
		Tier:  model.TierHigh,
		Score: 100,
		Candidates: []model.MatchCandidate{
			{Ledger: lt, Confidence: 100},
		},
	}
}

func TestExecute_RequiresSnapshot(t *testing.T) {
	e := New(newFakeLedger(0))
	_, err := e.Execute(context.Background(), &model.ReconciliationAnalysis{}, baseParams(), nil)
	require.Error(t, err)
}

func TestExecute_SingleCreateReachesCheckpoint(t *testing.T) {
	fake := newFakeLedger(100000)
	e := New(fake)

	analysis := &model.ReconciliationAnalysis{
		UnmatchedBank: []model.BankTransaction{
			bankTxn("b1", day(15), 22220, "EvoCarShare Payout"),
		},
	}
	params := baseParams()
	params.StatementBalanceMilli = 122220
	params.AutoCreateTransactions = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(100000))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Summary.TransactionsCreated)
	assert.True(t, result.Summary.CheckpointReached)
	assert.Equal(t, 0, result.Summary.Failures)

	// A single residual draft skips bulk entirely.
	assert.Equal(t, 1, fake.createCalls)
	assert.Equal(t, 0, fake.bulkCalls)
	require.NotNil(t, result.Bulk)
	assert.Equal(t, 1, result.Bulk.SequentialCreated)
	assert.Equal(t, 0, result.Bulk.ChunksSubmitted)

	require.Len(t, result.Actions, 1)
	action := result.Actions[0]
	assert.Equal(t, ActionCreate, action.Type)
	assert.Equal(t, -1, action.BulkChunkIndex)
	wantImportID := model.ImportID("acct-1", day(15), 22220, "EvoCarShare Payout")
	assert.Equal(t, wantImportID, action.CorrelationKey)

	require.NotNil(t, result.After)
	assert.Equal(t, int64(122220), result.After.ClearedBalanceMilli)
	require.NotEmpty(t, result.Recommendations)
	assert.Contains(t, result.Recommendations[0], "22.22")
}

func TestExecute_AlreadyAlignedSkipsAllPhases(t *testing.T) {
	fake := newFakeLedger(50000)
	e := New(fake)

	analysis := &model.ReconciliationAnalysis{
		UnmatchedBank: []model.BankTransaction{
			bankTxn("b1", day(10), -9990, "Coffee"),
		},
		UnmatchedLedger: []model.LedgerTransaction{
			{ID: "l1", Date: day(9), AmountMilli: -4000, Cleared: model.StatusCleared},
		},
	}
	params := baseParams()
	params.StatementBalanceMilli = 50000
	params.AutoCreateTransactions = true
	params.AutoUpdateClearedStatus = true
	params.AutoUnclearMissing = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(50000))
	require.NoError(t, err)

	assert.True(t, result.Summary.CheckpointReached)
	assert.Empty(t, result.Actions)
	assert.Nil(t, result.Bulk)
	assert.Equal(t, 0, fake.writeCalls())
}

func TestExecute_NewestFirstStopsAtCheckpoint(t *testing.T) {
	fake := newFakeLedger(0)
	e := New(fake)

	analysis := &model.ReconciliationAnalysis{
		UnmatchedBank: []model.BankTransaction{
			bankTxn("b-old", day(10), -10000, "Old"),
			bankTxn("b-mid", day(11), -10000, "Mid"),
			bankTxn("b-new", day(12), -10000, "New"),
		},
	}
	params := baseParams()
	params.StatementBalanceMilli = -10000
	params.AutoCreateTransactions = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(0))
	require.NoError(t, err)

	// One creation covers the gap; the newest transaction is chosen.
	require.Equal(t, 1, result.Summary.TransactionsCreated)
	assert.True(t, result.Summary.CheckpointReached)
	assert.Equal(t, 1, fake.createCalls)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, day(12), result.Actions[0].Transaction.Date)
}

func TestExecute_DryRunWritesNothing(t *testing.T) {
	fake := newFakeLedger(0)
	e := New(fake)

	analysis := &model.ReconciliationAnalysis{
		UnmatchedBank: []model.BankTransaction{
			bankTxn("b1", day(10), -10000, "A"),
			bankTxn("b2", day(11), -15000, "B"),
			bankTxn("b3", day(12), -25000, "C"),
		},
	}
	params := baseParams()
	params.StatementBalanceMilli = -50000
	params.AutoCreateTransactions = true
	params.AutoUpdateClearedStatus = true
	params.AutoUnclearMissing = true
	params.DryRun = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(0))
	require.NoError(t, err)

	assert.Equal(t, 0, fake.writeCalls())
	assert.Equal(t, 0, fake.getAccountCalls, "dry run projects the after snapshot")

	assert.True(t, result.Summary.DryRun)
	assert.Equal(t, 3, result.Summary.TransactionsCreated)
	assert.True(t, result.Summary.CheckpointReached)

	require.NotNil(t, result.Bulk)
	assert.Equal(t, 1, result.Bulk.ChunksSubmitted)
	assert.Equal(t, 3, result.Bulk.BulkCreated)
	assert.Equal(t, 0, result.Bulk.FailedTransactions)

	require.NotNil(t, result.After)
	assert.Equal(t, int64(-50000), result.After.ClearedBalanceMilli)
	assert.Contains(t, result.Recommendations[len(result.Recommendations)-1], "dry-run")
}

func TestExecute_ClearMatched(t *testing.T) {
	fake := newFakeLedger(0)
	l1 := model.LedgerTransaction{ID: "l1", Date: day(10), AmountMilli: -15000, PayeeName: "A", Cleared: model.StatusUncleared}
	l2 := model.LedgerTransaction{ID: "l2", Date: day(11), AmountMilli: -15000, PayeeName: "B", Cleared: model.StatusUncleared}
	fake.transactions = []model.LedgerTransaction{l1, l2}

	e := New(fake)
	analysis := &model.ReconciliationAnalysis{
		AutoMatches: []model.TransactionMatch{
			autoMatch(bankTxn("b1", day(10), -15000, "A"), l1),
			autoMatch(bankTxn("b2", day(11), -15000, "B"), l2),
		},
	}
	params := baseParams()
	params.StatementBalanceMilli = -30000
	params.AutoUpdateClearedStatus = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(0))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Summary.TransactionsUpdated)
	assert.True(t, result.Summary.CheckpointReached)
	assert.Equal(t, 1, fake.updateCalls, "updates go out as one batch")
	assert.Equal(t, int64(-30000), result.After.ClearedBalanceMilli)

	for _, a := range result.Actions {
		assert.Equal(t, ActionUpdateCleared, a.Type)
	}
}

func TestExecute_ClearMatchedSkipsAlreadyCleared(t *testing.T) {
	fake := newFakeLedger(-15000)
	l1 := model.LedgerTransaction{ID: "l1", Date: day(10), AmountMilli: -15000, PayeeName: "A", Cleared: model.StatusCleared}
	fake.transactions = []model.LedgerTransaction{l1}

	e := New(fake)
	analysis := &model.ReconciliationAnalysis{
		AutoMatches: []model.TransactionMatch{
			autoMatch(bankTxn("b1", day(10), -15000, "A"), l1),
		},
	}
	params := baseParams()
	params.StatementBalanceMilli = -20000
	params.AutoUpdateClearedStatus = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(-15000))
	require.NoError(t, err)

	assert.Equal(t, 0, result.Summary.TransactionsUpdated)
	assert.Equal(t, 0, fake.updateCalls)
	assert.False(t, result.Summary.CheckpointReached)
}

func TestExecute_AdjustDates(t *testing.T) {
	fake := newFakeLedger(-15000)
	l1 := model.LedgerTransaction{ID: "l1", Date: day(10), AmountMilli: -15000, PayeeName: "A", Cleared: model.StatusCleared}
	fake.transactions = []model.LedgerTransaction{l1}

	e := New(fake)
	analysis := &model.ReconciliationAnalysis{
		AutoMatches: []model.TransactionMatch{
			autoMatch(bankTxn("b1", day(12), -15000, "A"), l1),
		},
	}
	params := baseParams()
	params.StatementBalanceMilli = -20000
	params.AutoUpdateClearedStatus = true
	params.AutoAdjustDates = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(-15000))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Summary.TransactionsUpdated)
	assert.Equal(t, 1, fake.updateCalls)
	assert.Equal(t, day(12), fake.transactions[0].Date)
	// Date alignment alone moves no money.
	assert.Equal(t, int64(-15000), fake.clearedMilli)
}

func TestExecute_UnclearStale(t *testing.T) {
	fake := newFakeLedger(-5000)
	stale := model.LedgerTransaction{ID: "l1", Date: day(8), AmountMilli: -5000, PayeeName: "Gone", Cleared: model.StatusCleared}
	locked := model.LedgerTransaction{ID: "l2", Date: day(9), AmountMilli: -7000, PayeeName: "Locked", Cleared: model.StatusReconciled}
	pending := model.LedgerTransaction{ID: "l3", Date: day(10), AmountMilli: -2000, PayeeName: "Pending", Cleared: model.StatusUncleared}
	fake.transactions = []model.LedgerTransaction{stale, locked, pending}

	e := New(fake)
	analysis := &model.ReconciliationAnalysis{
		UnmatchedLedger: []model.LedgerTransaction{stale, locked, pending},
	}
	params := baseParams()
	params.StatementBalanceMilli = 0
	params.AutoUnclearMissing = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(-5000))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Summary.TransactionsUncleared)
	assert.True(t, result.Summary.CheckpointReached)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, ActionUnclear, result.Actions[0].Type)
	assert.Equal(t, "l1", result.Actions[0].Transaction.ID)
	assert.Equal(t, model.StatusUncleared, fake.transactions[0].Cleared)
	assert.Equal(t, model.StatusReconciled, fake.transactions[1].Cleared)
}

func TestExecute_BatchUpdateFailureIsNonFatal(t *testing.T) {
	fake := newFakeLedger(0)
	l1 := model.LedgerTransaction{ID: "l1", Date: day(10), AmountMilli: -15000, PayeeName: "A", Cleared: model.StatusUncleared}
	fake.transactions = []model.LedgerTransaction{l1}
	fake.updateErr = &ledger.Error{Message: "temporarily unavailable", StatusCode: 408}

	e := New(fake)
	analysis := &model.ReconciliationAnalysis{
		AutoMatches: []model.TransactionMatch{
			autoMatch(bankTxn("b1", day(10), -15000, "A"), l1),
		},
	}
	params := baseParams()
	params.StatementBalanceMilli = -15000
	params.AutoUpdateClearedStatus = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(0))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.Failures)

	// The rejected batch must not be reported as applied.
	assert.Equal(t, 0, result.Summary.TransactionsUpdated)
	assert.False(t, result.Summary.CheckpointReached)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, ActionUpdateFailed, result.Actions[0].Type)
	assert.Contains(t, result.Actions[0].Reason, "temporarily unavailable")
	assert.Equal(t, model.StatusUncleared, fake.transactions[0].Cleared)
}

func TestExecute_UnclearBatchFailureRollsBack(t *testing.T) {
	fake := newFakeLedger(-5000)
	stale := model.LedgerTransaction{ID: "l1", Date: day(8), AmountMilli: -5000, PayeeName: "Gone", Cleared: model.StatusCleared}
	fake.transactions = []model.LedgerTransaction{stale}
	fake.updateErr = &ledger.Error{Message: "temporarily unavailable", StatusCode: 408}

	e := New(fake)
	analysis := &model.ReconciliationAnalysis{
		UnmatchedLedger: []model.LedgerTransaction{stale},
	}
	params := baseParams()
	params.StatementBalanceMilli = 0
	params.AutoUnclearMissing = true

	result, err := e.Execute(context.Background(), analysis, params, snapshot(-5000))
	require.NoError(t, err)

	assert.Equal(t, 0, result.Summary.TransactionsUncleared)
	assert.Equal(t, 1, result.Summary.Failures)
	assert.False(t, result.Summary.CheckpointReached)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, ActionUpdateFailed, result.Actions[0].Type)
	assert.Equal(t, model.StatusCleared, fake.transactions[0].Cleared)
}

func TestExecute_FatalUpdateErrorPropagates(t *testing.T) {
	fake := newFakeLedger(0)
	l1 := model.LedgerTransaction{ID: "l1", Date: day(10), AmountMilli: -15000, PayeeName: "A", Cleared: model.StatusUncleared}
	fake.transactions = []model.LedgerTransaction{l1}
	fake.updateErr = &ledger.Error{Message: "unauthorized", StatusCode: 401, Fatal: true}

	e := New(fake)
	analysis := &model.ReconciliationAnalysis{
		AutoMatches: []model.TransactionMatch{
			autoMatch(bankTxn("b1", day(10), -15000, "A"), l1),
		},
	}
	params := baseParams()
	params.StatementBalanceMilli = -15000
	params.AutoUpdateClearedStatus = true

	_, err := e.Execute(context.Background(), analysis, params, snapshot(0))
	require.Error(t, err)
	assert.True(t, ledger.IsFatal(err))
}

func TestExecute_BalanceReport(t *testing.T) {
	fake := newFakeLedger(-10000)
	fake.transactions = []model.LedgerTransaction{
		{ID: "l1", Date: day(10), AmountMilli: -10000, Cleared: model.StatusCleared},
		{ID: "l2", Date: day(20), AmountMilli: -5000, Cleared: model.StatusCleared},
		{ID: "l3", Date: day(10), AmountMilli: -3000, Cleared: model.StatusUncleared},
	}

	e := New(fake)
	cutoff := day(15)

	t.Run("perfect", func(t *testing.T) {
		params := baseParams()
		params.StatementDate = &cutoff
		params.StatementBalanceMilli = -10000

		result, err := e.Execute(context.Background(), &model.ReconciliationAnalysis{}, params, snapshot(-10000))
		require.NoError(t, err)
		require.NotNil(t, result.BalanceReport)
		assert.Equal(t, BalancePerfect, result.BalanceReport.Status)
		assert.Equal(t, int64(-10000), result.BalanceReport.ComputedClearedMilli)
		assert.Empty(t, result.BalanceReport.LikelyCauses)
	})

	t.Run("discrepancy", func(t *testing.T) {
		params := baseParams()
		params.StatementDate = &cutoff
		params.StatementBalanceMilli = -30000

		result, err := e.Execute(context.Background(), &model.ReconciliationAnalysis{}, params, snapshot(-10000))
		require.NoError(t, err)
		require.NotNil(t, result.BalanceReport)
		assert.Equal(t, BalanceDiscrepant, result.BalanceReport.Status)
		assert.Equal(t, int64(20000), result.BalanceReport.DiscrepancyMilli)
		assert.NotEmpty(t, result.BalanceReport.LikelyCauses)
	})
}
