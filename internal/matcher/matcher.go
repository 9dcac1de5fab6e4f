package matcher

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/money"
)

// Score components. Amount and date are gates: a pair failing either
// cannot match at any confidence. Payee similarity earns partial
// credit above the configured threshold.
const (
	amountScore      = 50
	exactAmountBonus = 5
	dateScoreMax     = 25
	dateScoreMin     = 10
	payeeScoreMax    = 20
)

// Match scores every (bank, ledger) pair and assigns each bank
// transaction its best candidate set. Exactly one TransactionMatch is
// returned per bank transaction, with candidates sorted by descending
// confidence.
func Match(bank []model.BankTransaction, ledger []model.LedgerTransaction, cfg Config) []model.TransactionMatch {
	matches := make([]model.TransactionMatch, 0, len(bank))

	for _, bt := range bank {
		var candidates []model.MatchCandidate
		for _, lt := range ledger {
			if c, ok := scorePair(bt, lt, cfg); ok {
				candidates = append(candidates, c)
			}
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Confidence > candidates[j].Confidence
		})

		m := model.TransactionMatch{
			Bank:       bt,
			Candidates: candidates,
		}
		if best := m.Best(); best != nil {
			m.Score = best.Confidence
			m.Reason = fmt.Sprintf("best candidate %s: %d/100", best.Ledger.ID, best.Confidence)
		} else {
			m.Reason = "no ledger transaction within amount and date tolerance"
		}
		m.Tier = model.TierForScore(m.Score, cfg.AutoMatchThreshold, cfg.SuggestionThreshold, len(candidates) > 0)
		m.ActionHint = hintForTier(m.Tier)
		matches = append(matches, m)
	}

	slog.Debug("pairwise matching complete",
		"bank_transactions", len(bank),
		"ledger_transactions", len(ledger))

	return matches
}

// scorePair evaluates a single (bank, ledger) pair. The amount and
// date windows are binary gates; only a pair passing both receives a
// score.
func scorePair(bt model.BankTransaction, lt model.LedgerTransaction, cfg Config) (model.MatchCandidate, bool) {
	if !money.WithinTolerance(bt.AmountMilli, lt.AmountMilli, cfg.AmountToleranceMilli) {
		return model.MatchCandidate{}, false
	}
	daysApart := money.DaysApart(bt.Date, lt.Date)
	if daysApart > cfg.DateToleranceDays {
		return model.MatchCandidate{}, false
	}

	var reasons []string
	score := amountScore
	if bt.AmountMilli == lt.AmountMilli {
		score += exactAmountBonus
		reasons = append(reasons, "exact amount match")
	} else {
		reasons = append(reasons, "amount within tolerance")
	}

	score += dateProximityScore(daysApart, cfg.DateToleranceDays)
	if daysApart == 0 {
		reasons = append(reasons, "same date")
	} else {
		reasons = append(reasons, fmt.Sprintf("%d day(s) apart", daysApart))
	}

	if sim := PayeeSimilarity(bt.Payee, lt.PayeeName); sim >= cfg.DescriptionSimilarityThreshold {
		score += int(sim * payeeScoreMax)
		reasons = append(reasons, fmt.Sprintf("payee similarity %.0f%%", sim*100))
	}

	if score > 100 {
		score = 100
	}

	return model.MatchCandidate{
		Ledger:     lt,
		Confidence: score,
		Reasons:    reasons,
	}, true
}

// dateProximityScore decays linearly from the same-day maximum to the
// minimum at the edge of the tolerance window.
func dateProximityScore(daysApart, toleranceDays int) int {
	if toleranceDays == 0 || daysApart == 0 {
		return dateScoreMax
	}
	span := dateScoreMax - dateScoreMin
	return dateScoreMax - span*daysApart/toleranceDays
}

func hintForTier(tier model.ConfidenceTier) string {
	switch tier {
	case model.TierHigh:
		return "safe to mark cleared automatically"
	case model.TierMedium:
		return "review suggested candidate before accepting"
	case model.TierLow:
		return "weak candidates only; verify manually"
	default:
		return "no candidates; likely missing from ledger"
	}
}
