package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/money"
)

// BalanceReportStatus labels the independent balance recomputation.
type BalanceReportStatus string

const (
	// BalancePerfect means the recomputed cleared balance equals the
	// statement balance exactly.
	BalancePerfect BalanceReportStatus = "perfect"
	// BalanceDiscrepant means a gap remains; LikelyCauses carries
	// best-effort heuristics.
	BalanceDiscrepant BalanceReportStatus = "discrepancy"
)

// BalanceReport is the independent cleared-balance recomputation as of
// the statement date, produced when a statement date and balance were
// supplied.
type BalanceReport struct {
	StatementDate         time.Time
	Status                BalanceReportStatus
	LikelyCauses          []string
	StatementBalanceMilli int64
	ComputedClearedMilli  int64
	DiscrepancyMilli      int64
}

// balanceReport recomputes the ledger's cleared balance as of the
// statement date from transaction history, independent of the account
// snapshot, and attaches likely-cause heuristics for any gap.
func (e *Executor) balanceReport(ctx context.Context, params Params) (*BalanceReport, error) {
	txns, err := e.ledger.GetTransactions(ctx, params.BudgetID, params.AccountID, nil)
	if err != nil {
		return nil, err
	}

	cutoff := *params.StatementDate
	var cleared int64
	for _, t := range txns {
		if t.Date.After(cutoff) {
			continue
		}
		if t.Cleared == model.StatusCleared || t.Cleared == model.StatusReconciled {
			cleared += t.AmountMilli
		}
	}

	report := &BalanceReport{
		StatementDate:         cutoff,
		StatementBalanceMilli: params.StatementBalanceMilli,
		ComputedClearedMilli:  cleared,
		DiscrepancyMilli:      cleared - params.StatementBalanceMilli,
	}
	if report.DiscrepancyMilli == 0 {
		report.Status = BalancePerfect
	} else {
		report.Status = BalanceDiscrepant
		report.LikelyCauses = likelyCauses(report.DiscrepancyMilli)
	}
	return report, nil
}

// likelyCauses guesses at common explanations for a cleared-balance
// gap. Best effort only; the report labels them as guesses.
func likelyCauses(discrepancyMilli int64) []string {
	var causes []string
	gap := money.Abs(discrepancyMilli)

	if money.IsRoundAmount(discrepancyMilli) {
		causes = append(causes, fmt.Sprintf("gap is a round %s; possibly a bank fee, transfer, or service charge", money.Format(gap)))
	}
	if gap < 1000 {
		causes = append(causes, "gap is under one unit; possibly rounding or a small interest posting")
	}
	if discrepancyMilli > 0 {
		causes = append(causes, "ledger cleared balance is higher than the statement; an entry may be cleared prematurely")
	} else {
		causes = append(causes, "ledger cleared balance is lower than the statement; a statement line may be missing from the ledger")
	}
	return causes
}
