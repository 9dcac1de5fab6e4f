// Package report renders analysis and execution results as plain text
// for the CLI.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fintally/tally/internal/executor"
	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/money"
)

// WriteAnalysis renders a reconciliation analysis.
func WriteAnalysis(w io.Writer, a *model.ReconciliationAnalysis) {
	fmt.Fprintf(w, "Reconciliation Analysis\n")
	fmt.Fprintf(w, "=======================\n\n")

	s := a.Summary
	fmt.Fprintf(w, "Statement lines:     %d\n", s.BankTotal)
	fmt.Fprintf(w, "Ledger transactions: %d\n", s.LedgerTotal)
	fmt.Fprintf(w, "Auto-matched:        %d\n", s.AutoMatched)
	fmt.Fprintf(w, "Suggested:           %d\n", s.Suggested)
	fmt.Fprintf(w, "Unmatched (bank):    %d\n", s.UnmatchedBank)
	fmt.Fprintf(w, "Unmatched (ledger):  %d\n\n", s.UnmatchedLedger)

	b := a.Balance
	fmt.Fprintf(w, "Cleared balance:     %s\n", money.Format(b.ClearedMilli))
	fmt.Fprintf(w, "Statement balance:   %s\n", money.Format(b.TargetMilli))
	fmt.Fprintf(w, "Discrepancy:         %s", money.Format(b.DiscrepancyMilli))
	if b.OnTrack {
		fmt.Fprintf(w, " (on track)")
	}
	fmt.Fprintf(w, "\n\n")

	if len(a.SuggestedMatches) > 0 {
		fmt.Fprintf(w, "Suggested matches:\n")
		for _, m := range a.SuggestedMatches {
			label := "single"
			if m.IsCombination() {
				label = fmt.Sprintf("%d-way combination", len(m.CombinationIDs))
			}
			fmt.Fprintf(w, "  - %s %s (%s, score %d): %s\n",
				m.Bank.Date.Format("2006-01-02"), m.Bank.Payee, label, m.Score, m.Reason)
		}
		fmt.Fprintln(w)
	}

	if len(a.UnmatchedBank) > 0 {
		fmt.Fprintf(w, "Unmatched bank transactions:\n")
		for _, bt := range a.UnmatchedBank {
			fmt.Fprintf(w, "  - %s %s %s (row %d)\n",
				bt.Date.Format("2006-01-02"), money.Format(bt.AmountMilli), bt.Payee, bt.OriginalRow)
		}
		fmt.Fprintln(w)
	}

	if len(a.Insights) > 0 {
		fmt.Fprintf(w, "Insights:\n")
		for _, ins := range a.Insights {
			fmt.Fprintf(w, "  [%s] %s\n", strings.ToUpper(string(ins.Severity)), ins.Message)
		}
		fmt.Fprintln(w)
	}

	if len(a.NextSteps) > 0 {
		fmt.Fprintf(w, "Next steps:\n")
		for _, step := range a.NextSteps {
			fmt.Fprintf(w, "  - %s\n", step)
		}
	}
}

// WriteResult renders an execution result.
func WriteResult(w io.Writer, res *executor.Result) {
	fmt.Fprintf(w, "\nExecution Result")
	if res.Summary.DryRun {
		fmt.Fprintf(w, " (dry run)")
	}
	fmt.Fprintf(w, "\n================\n\n")

	fmt.Fprintf(w, "Created:   %d\n", res.Summary.TransactionsCreated)
	fmt.Fprintf(w, "Updated:   %d\n", res.Summary.TransactionsUpdated)
	fmt.Fprintf(w, "Uncleared: %d\n", res.Summary.TransactionsUncleared)
	fmt.Fprintf(w, "Duplicates: %d\n", res.Summary.Duplicates)
	fmt.Fprintf(w, "Failures:  %d\n\n", res.Summary.Failures)

	if res.Before != nil && res.After != nil {
		fmt.Fprintf(w, "Cleared balance: %s -> %s\n\n",
			money.Format(res.Before.ClearedBalanceMilli),
			money.Format(res.After.ClearedBalanceMilli))
	}

	if res.Bulk != nil {
		fmt.Fprintf(w, "Bulk operation: %d chunk(s), %d bulk, %d sequential, %d fallback(s), %d failure(s)\n\n",
			res.Bulk.ChunksSubmitted, res.Bulk.BulkCreated, res.Bulk.SequentialCreated,
			res.Bulk.SequentialFallbacks, res.Bulk.TransactionFailures)
	}

	if len(res.Actions) > 0 {
		fmt.Fprintf(w, "Actions:\n")
		for _, act := range res.Actions {
			line := fmt.Sprintf("  [%s] %s", act.Type, act.Reason)
			if act.Transaction != nil {
				line = fmt.Sprintf("  [%s] %s %s %s: %s", act.Type,
					act.Transaction.Date.Format("2006-01-02"),
					money.Format(act.Transaction.AmountMilli),
					act.Transaction.PayeeName, act.Reason)
			}
			if act.Duplicate {
				line += " (duplicate)"
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}

	if res.BalanceReport != nil {
		br := res.BalanceReport
		fmt.Fprintf(w, "Balance check as of %s: %s (computed %s vs statement %s)\n",
			br.StatementDate.Format("2006-01-02"), br.Status,
			money.Format(br.ComputedClearedMilli), money.Format(br.StatementBalanceMilli))
		for _, cause := range br.LikelyCauses {
			fmt.Fprintf(w, "  possible cause: %s\n", cause)
		}
		fmt.Fprintln(w)
	}

	for _, rec := range res.Recommendations {
		fmt.Fprintf(w, "* %s\n", rec)
	}
}
