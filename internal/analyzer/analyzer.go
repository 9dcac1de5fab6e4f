// Package analyzer orchestrates one reconciliation analysis: pairwise
// matching, combination matching over the residuals, balance
// computation, insight detection, and optional recommendations.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fintally/tally/internal/insight"
	"github.com/fintally/tally/internal/matcher"
	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/money"
	"github.com/fintally/tally/internal/recommend"
)

// DefaultBalanceToleranceMilli is one cent: the window within which the
// cleared balance counts as on track.
const DefaultBalanceToleranceMilli = money.MilliPerCent

// Input is everything one analysis needs. It is assembled once per
// invocation; the analyzer holds no state across runs.
type Input struct {
	Bank                  []model.BankTransaction
	Ledger                []model.LedgerTransaction
	Config                matcher.Config
	Currency              string
	AccountID             string
	BudgetID              string
	StatementBalanceMilli int64
	BalanceToleranceMilli int64
	InvertBankAmounts     bool
}

// Analyzer produces reconciliation analyses. The recommendation engine
// is injected so callers can substitute their own.
type Analyzer struct {
	recommender recommend.Engine
}

// New creates an analyzer with the given recommendation engine.
func New(recommender recommend.Engine) *Analyzer {
	return &Analyzer{recommender: recommender}
}

// Analyze runs the full pipeline and returns an immutable snapshot.
// The pipeline is in-memory; the context gates the run as a whole
// rather than any individual call.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (*model.ReconciliationAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := in.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching config: %w", err)
	}
	if in.BalanceToleranceMilli <= 0 {
		in.BalanceToleranceMilli = DefaultBalanceToleranceMilli
	}

	bank := in.Bank
	if in.InvertBankAmounts {
		bank = invertAmounts(bank)
	}

	matches := matcher.Match(bank, in.Ledger, in.Config)

	var auto, suggested []model.TransactionMatch
	var unmatchedBank []model.BankTransaction
	matchedLedger := make(map[string]bool)

	for _, m := range matches {
		switch m.Tier {
		case model.TierHigh:
			auto = append(auto, m)
			matchedLedger[m.Best().Ledger.ID] = true
		case model.TierMedium:
			suggested = append(suggested, m)
			matchedLedger[m.Best().Ledger.ID] = true
		default:
			unmatchedBank = append(unmatchedBank, m.Bank)
		}
	}

	var unmatchedLedger []model.LedgerTransaction
	for _, lt := range in.Ledger {
		if !matchedLedger[lt.ID] {
			unmatchedLedger = append(unmatchedLedger, lt)
		}
	}

	// Combination matching runs over the residual unmatched sets; its
	// matches join the suggested pool but the underlying transactions
	// stay in the unmatched sets until a human confirms the split.
	finder := matcher.NewFinder(in.Config)
	combos := finder.FindCombinations(unmatchedBank, unmatchedLedger)
	suggested = append(suggested, combos.Matches...)

	balance := computeBalance(in.Ledger, in.StatementBalanceMilli, in.BalanceToleranceMilli)

	summary := model.AnalysisSummary{
		BankTotal:       len(bank),
		LedgerTotal:     len(in.Ledger),
		AutoMatched:     len(auto),
		Suggested:       len(suggested),
		UnmatchedBank:   len(unmatchedBank),
		UnmatchedLedger: len(unmatchedLedger),
	}

	insights := insight.Detect(insight.Input{
		Matches:             matches,
		UnmatchedBank:       unmatchedBank,
		Balance:             balance,
		AutoMatchThreshold:  in.Config.AutoMatchThreshold,
		SuggestionThreshold: in.Config.SuggestionThreshold,
	})
	insights = append(combos.Insights, insights...)
	if len(insights) > 5 {
		insights = insights[:5]
	}

	analysis := &model.ReconciliationAnalysis{
		Summary:          summary,
		Balance:          balance,
		AutoMatches:      auto,
		SuggestedMatches: suggested,
		UnmatchedBank:    unmatchedBank,
		UnmatchedLedger:  unmatchedLedger,
		Insights:         insights,
		NextSteps:        nextSteps(summary, balance),
		Currency:         in.Currency,
		AccountID:        in.AccountID,
		BudgetID:         in.BudgetID,
	}

	// Recommendations are explicit opt-in: both identifiers must be
	// present. Their absence is not an error.
	if in.AccountID != "" && in.BudgetID != "" && a.recommender != nil {
		analysis.Recommendations = a.recommender.Recommend(recommend.Input{
			AccountID:     in.AccountID,
			BudgetID:      in.BudgetID,
			AutoMatches:   auto,
			Suggested:     suggested,
			UnmatchedBank: unmatchedBank,
			Insights:      insights,
		})
	}

	slog.Info("analysis complete",
		"bank", summary.BankTotal,
		"ledger", summary.LedgerTotal,
		"auto_matched", summary.AutoMatched,
		"suggested", summary.Suggested,
		"unmatched_bank", summary.UnmatchedBank,
		"discrepancy", money.Format(balance.DiscrepancyMilli))

	return analysis, nil
}

func invertAmounts(bank []model.BankTransaction) []model.BankTransaction {
	inverted := make([]model.BankTransaction, len(bank))
	for i, bt := range bank {
		bt.AmountMilli = -bt.AmountMilli
		inverted[i] = bt
	}
	return inverted
}

// computeBalance sums the ledger by cleared status and measures the
// gap against the statement target.
func computeBalance(ledger []model.LedgerTransaction, targetMilli, toleranceMilli int64) model.BalanceInfo {
	var cleared, uncleared int64
	for _, lt := range ledger {
		switch lt.Cleared {
		case model.StatusCleared, model.StatusReconciled:
			cleared += lt.AmountMilli
		default:
			uncleared += lt.AmountMilli
		}
	}
	discrepancy := cleared - targetMilli
	return model.BalanceInfo{
		ClearedMilli:     cleared,
		UnclearedMilli:   uncleared,
		TotalMilli:       cleared + uncleared,
		TargetMilli:      targetMilli,
		DiscrepancyMilli: discrepancy,
		OnTrack:          money.Abs(discrepancy) < toleranceMilli,
	}
}

func nextSteps(s model.AnalysisSummary, b model.BalanceInfo) []string {
	var steps []string
	if b.OnTrack && s.UnmatchedBank == 0 {
		steps = append(steps, "Balances agree and every statement line is matched; nothing to do.")
		return steps
	}
	if s.UnmatchedBank > 0 {
		steps = append(steps, fmt.Sprintf("Review %d unmatched bank transaction(s); run with --auto-create to add them to the ledger.", s.UnmatchedBank))
	}
	if s.Suggested > 0 {
		steps = append(steps, fmt.Sprintf("Confirm %d suggested match(es) before applying cleared-status updates.", s.Suggested))
	}
	if !b.OnTrack {
		steps = append(steps, fmt.Sprintf("Cleared balance is off by %s from the statement.", money.Format(b.DiscrepancyMilli)))
	}
	if s.UnmatchedLedger > 0 {
		steps = append(steps, fmt.Sprintf("%d ledger transaction(s) have no statement counterpart; --auto-unclear will reset stale cleared flags.", s.UnmatchedLedger))
	}
	return steps
}
