// Package insight scans match results and unmatched sets for patterns
// worth surfacing: repeated amounts, near-miss matches, and balance
// anomalies.
package insight

import (
	"fmt"
	"sort"

	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/money"
)

const (
	maxInsights         = 5
	maxNearMatches      = 3
	nearMatchWindow     = 5
	repeatCriticalAt    = 4
	bulkMissingAt       = 5
	bulkMissingSevereAt = 10
)

// Input carries everything the detectors need from one analysis.
type Input struct {
	Matches             []model.TransactionMatch
	UnmatchedBank       []model.BankTransaction
	Balance             model.BalanceInfo
	AutoMatchThreshold  int
	SuggestionThreshold int
}

// Detect runs the three detectors and merges their output, de-duplicated
// by ID and capped at five insights.
func Detect(in Input) []model.ReconciliationInsight {
	var insights []model.ReconciliationInsight
	insights = append(insights, detectRepeatAmounts(in.UnmatchedBank)...)
	insights = append(insights, detectNearMatches(in)...)
	insights = append(insights, detectAnomalies(in)...)

	seen := make(map[string]bool, len(insights))
	merged := make([]model.ReconciliationInsight, 0, len(insights))
	for _, ins := range insights {
		if seen[ins.ID] {
			continue
		}
		seen[ins.ID] = true
		merged = append(merged, ins)
		if len(merged) == maxInsights {
			break
		}
	}
	return merged
}

// detectRepeatAmounts groups unmatched bank transactions by exact
// amount and reports the largest group of two or more.
func detectRepeatAmounts(unmatched []model.BankTransaction) []model.ReconciliationInsight {
	groups := make(map[int64][]model.BankTransaction)
	for _, bt := range unmatched {
		groups[bt.AmountMilli] = append(groups[bt.AmountMilli], bt)
	}

	var bestAmount int64
	var best []model.BankTransaction
	for amount, group := range groups {
		if len(group) < 2 {
			continue
		}
		if len(group) > len(best) || (len(group) == len(best) && amount < bestAmount) {
			best = group
			bestAmount = amount
		}
	}
	if best == nil {
		return nil
	}

	severity := model.SeverityWarning
	if len(best) >= repeatCriticalAt {
		severity = model.SeverityCritical
	}

	ids := make([]string, len(best))
	for i, bt := range best {
		ids[i] = bt.ID
	}
	sort.Strings(ids)

	return []model.ReconciliationInsight{{
		ID:       fmt.Sprintf("repeat-%d", bestAmount),
		Type:     model.InsightRepeatAmount,
		Severity: severity,
		Message: fmt.Sprintf("%d unmatched bank transactions share the amount %s; possibly a recurring charge missing from the ledger",
			len(best), money.Format(bestAmount)),
		Evidence: map[string]any{
			"amount_milli": bestAmount,
			"bank_ids":     ids,
			"occurrences":  len(best),
		},
	}}
}

// detectNearMatches flags matches sitting just below a threshold so a
// human can push them over the line.
func detectNearMatches(in Input) []model.ReconciliationInsight {
	var insights []model.ReconciliationInsight
	for _, m := range in.Matches {
		if m.Tier == model.TierHigh {
			continue
		}
		best := m.Best()
		if best == nil {
			continue
		}

		near := false
		switch m.Tier {
		case model.TierMedium:
			near = best.Confidence >= in.AutoMatchThreshold-nearMatchWindow
		case model.TierLow, model.TierNone:
			near = best.Confidence >= in.SuggestionThreshold
		}
		if !near {
			continue
		}

		insights = append(insights, model.ReconciliationInsight{
			ID:       "near-" + m.Bank.ID,
			Type:     model.InsightNearMatch,
			Severity: model.SeverityWarning,
			Message: fmt.Sprintf("bank transaction %q scored %d, just below the %s threshold; confirm manually",
				m.Bank.Payee, best.Confidence, thresholdName(m.Tier)),
			Evidence: map[string]any{
				"bank_id":   m.Bank.ID,
				"ledger_id": best.Ledger.ID,
				"score":     best.Confidence,
			},
		})
		if len(insights) == maxNearMatches {
			break
		}
	}
	return insights
}

func thresholdName(tier model.ConfidenceTier) string {
	if tier == model.TierMedium {
		return "auto-match"
	}
	return "suggestion"
}

// detectAnomalies reports balance gaps and bulk-missing blocks.
func detectAnomalies(in Input) []model.ReconciliationInsight {
	var insights []model.ReconciliationInsight

	if gap := money.Abs(in.Balance.DiscrepancyMilli); gap >= money.MilliPerCent {
		severity := model.SeverityWarning
		if gap >= 100*1000 { // $100 or more
			severity = model.SeverityCritical
		}
		insights = append(insights, model.ReconciliationInsight{
			ID:       "balance-gap",
			Type:     model.InsightBalanceGap,
			Severity: severity,
			Message: fmt.Sprintf("cleared balance differs from the statement by %s",
				money.Format(in.Balance.DiscrepancyMilli)),
			Evidence: map[string]any{
				"discrepancy_milli": in.Balance.DiscrepancyMilli,
			},
		})
	}

	if n := len(in.UnmatchedBank); n >= bulkMissingAt {
		severity := model.SeverityWarning
		if n >= bulkMissingSevereAt {
			severity = model.SeverityCritical
		}
		insights = append(insights, model.ReconciliationInsight{
			ID:       "bulk-missing",
			Type:     model.InsightBulkMissing,
			Severity: severity,
			Message: fmt.Sprintf("%d bank transactions have no ledger counterpart; an import may have been skipped", n),
			Evidence: map[string]any{
				"unmatched_bank": n,
			},
		})
	}

	return insights
}
