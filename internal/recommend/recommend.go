// Package recommend turns unmatched and near-match reconciliation data
// into prioritized, typed action suggestions.
package recommend

import (
	"fmt"
	"time"

	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/money"
)

// Engine produces actionable recommendations from an analysis in
// progress. The analyzer invokes it only when both account and budget
// identifiers are supplied.
type Engine interface {
	Recommend(in Input) []model.ActionableRecommendation
}

// Input is the recommendation engine's view of the analysis.
type Input struct {
	AccountID     string
	BudgetID      string
	AutoMatches   []model.TransactionMatch
	Suggested     []model.TransactionMatch
	UnmatchedBank []model.BankTransaction
	Insights      []model.ReconciliationInsight
}

// HeuristicEngine is the shipped Engine implementation. It is
// stateless; every invocation derives recommendations fresh.
type HeuristicEngine struct {
	now func() time.Time
}

// NewHeuristicEngine creates the default recommendation engine.
func NewHeuristicEngine() *HeuristicEngine {
	return &HeuristicEngine{now: time.Now}
}

// Recommend derives typed suggestions: create_transaction for missing
// entries, update_cleared for confident matches still uncleared,
// review_duplicate for repeat-amount clusters, manual_review for
// medium-confidence matches.
func (e *HeuristicEngine) Recommend(in Input) []model.ActionableRecommendation {
	now := e.now()
	var recs []model.ActionableRecommendation

	for _, bt := range in.UnmatchedBank {
		recs = append(recs, model.ActionableRecommendation{
			ID:         "create-" + bt.ID,
			Type:       model.RecommendCreate,
			Priority:   model.PriorityHigh,
			Confidence: 85,
			Title:      fmt.Sprintf("Create ledger entry for %q (%s)", bt.Payee, money.Format(bt.AmountMilli)),
			Parameters: map[string]any{
				"account_id":   in.AccountID,
				"date":         bt.Date.Format("2006-01-02"),
				"amount_milli": bt.AmountMilli,
				"payee_name":   bt.Payee,
				"import_id":    model.ImportID(in.AccountID, bt.Date, bt.AmountMilli, bt.Payee),
			},
			CreatedAt: now,
		})
	}

	for _, m := range in.AutoMatches {
		best := m.Best()
		if best == nil || best.Ledger.Cleared != model.StatusUncleared {
			continue
		}
		recs = append(recs, model.ActionableRecommendation{
			ID:         "clear-" + best.Ledger.ID,
			Type:       model.RecommendUpdateCleared,
			Priority:   model.PriorityMedium,
			Confidence: best.Confidence,
			Title:      fmt.Sprintf("Mark %q cleared (matched at %d/100)", best.Ledger.PayeeName, best.Confidence),
			Parameters: map[string]any{
				"transaction_id": best.Ledger.ID,
				"cleared":        string(model.StatusCleared),
			},
			CreatedAt: now,
		})
	}

	for _, ins := range in.Insights {
		if ins.Type != model.InsightRepeatAmount {
			continue
		}
		recs = append(recs, model.ActionableRecommendation{
			ID:         "dup-" + ins.ID,
			Type:       model.RecommendReviewDuplicate,
			Priority:   model.PriorityMedium,
			Confidence: 70,
			Title:      "Review repeated amounts for duplicate charges",
			Parameters: map[string]any{"evidence": ins.Evidence},
			CreatedAt:  now,
		})
	}

	for _, m := range in.Suggested {
		if m.Tier != model.TierMedium {
			continue
		}
		recs = append(recs, model.ActionableRecommendation{
			ID:         "review-" + m.Bank.ID,
			Type:       model.RecommendManualReview,
			Priority:   model.PriorityLow,
			Confidence: m.Score,
			Title:      fmt.Sprintf("Verify suggested match for %q", m.Bank.Payee),
			Parameters: map[string]any{
				"bank_id": m.Bank.ID,
				"score":   m.Score,
			},
			CreatedAt: now,
		})
	}

	return recs
}
