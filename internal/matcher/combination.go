package matcher

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/money"
)

// Combination confidence bands. Combinations are intentionally never
// auto-matchable: they always land in the medium tier so a human
// confirms the split before anything is written.
const (
	pairBaseScore   = 75
	tripleBaseScore = 70
	comboScoreFloor = 65
	comboScoreCeil  = 80
	maxSubsetSize   = 3
)

// CombinationResult bundles the matches and insights produced by one
// combination search.
type CombinationResult struct {
	Matches  []model.TransactionMatch
	Insights []model.ReconciliationInsight
}

// Finder searches for multi-item ledger subsets that sum to a single
// bank transaction. It remembers every subset signature it has emitted
// so the same subset is never reported twice within one analysis.
type Finder struct {
	seen map[string]bool
	used map[string]bool
	cfg  Config
}

// NewFinder creates a combination finder for one analysis run.
func NewFinder(cfg Config) *Finder {
	return &Finder{
		seen: make(map[string]bool),
		used: make(map[string]bool),
		cfg:  cfg,
	}
}

type subset struct {
	ledger    []model.LedgerTransaction
	diffMilli int64
}

// FindCombinations considers all same-sign 2- and 3-element subsets of
// the unmatched ledger transactions for each unmatched bank
// transaction, emitting the best viable subset per distinct size.
func (f *Finder) FindCombinations(unmatchedBank []model.BankTransaction, unmatchedLedger []model.LedgerTransaction) CombinationResult {
	var result CombinationResult

	for _, bt := range unmatchedBank {
		// Only ledger entries near the bank date and on the same side
		// of zero can participate.
		pool := make([]model.LedgerTransaction, 0, len(unmatchedLedger))
		for _, lt := range unmatchedLedger {
			if f.used[lt.ID] {
				continue
			}
			if !money.SameSign(bt.AmountMilli, lt.AmountMilli) {
				continue
			}
			if !money.WithinDays(bt.Date, lt.Date, f.cfg.DateToleranceDays) {
				continue
			}
			pool = append(pool, lt)
		}
		if len(pool) < 2 {
			continue
		}

		for size := 2; size <= maxSubsetSize; size++ {
			best := f.bestSubset(bt, pool, size)
			if best == nil {
				continue
			}
			sig := signature(best.ledger)
			if f.seen[sig] {
				continue
			}
			f.seen[sig] = true
			for _, lt := range best.ledger {
				f.used[lt.ID] = true
			}

			match, insight := f.emit(bt, best)
			result.Matches = append(result.Matches, match)
			result.Insights = append(result.Insights, insight)
		}
	}

	if len(result.Matches) > 0 {
		slog.Debug("combination matching complete",
			"combinations", len(result.Matches))
	}

	return result
}

// bestSubset returns the viable subset of exactly n elements with the
// smallest absolute difference, excluding members already emitted.
func (f *Finder) bestSubset(bt model.BankTransaction, pool []model.LedgerTransaction, n int) *subset {
	var best *subset

	var walk func(start int, chosen []model.LedgerTransaction, sum int64)
	walk = func(start int, chosen []model.LedgerTransaction, sum int64) {
		if len(chosen) == n {
			diff := money.Abs(sum - bt.AmountMilli)
			if diff > f.cfg.AmountToleranceMilli {
				return
			}
			if best == nil || diff < best.diffMilli {
				members := make([]model.LedgerTransaction, n)
				copy(members, chosen)
				best = &subset{ledger: members, diffMilli: diff}
			}
			return
		}
		for i := start; i <= len(pool)-(n-len(chosen)); i++ {
			if f.used[pool[i].ID] {
				continue
			}
			walk(i+1, append(chosen, pool[i]), sum+pool[i].AmountMilli)
		}
	}
	walk(0, make([]model.LedgerTransaction, 0, n), 0)

	return best
}

// emit turns a chosen subset into a suggested match plus its insight.
func (f *Finder) emit(bt model.BankTransaction, s *subset) (model.TransactionMatch, model.ReconciliationInsight) {
	score := f.scoreSubset(len(s.ledger), s.diffMilli)

	ids := make([]string, len(s.ledger))
	candidates := make([]model.MatchCandidate, len(s.ledger))
	for i, lt := range s.ledger {
		ids[i] = lt.ID
		candidates[i] = model.MatchCandidate{
			Ledger:     lt,
			Confidence: score,
			Reasons:    []string{fmt.Sprintf("part of %d-way combination", len(s.ledger))},
		}
	}

	match := model.TransactionMatch{
		Bank:           bt,
		Tier:           model.TierMedium,
		Score:          score,
		Reason:         fmt.Sprintf("%d ledger transactions sum within %s of this charge", len(s.ledger), money.Format(s.diffMilli)),
		ActionHint:     "confirm the split before accepting",
		Candidates:     candidates,
		CombinationIDs: ids,
	}

	insight := model.ReconciliationInsight{
		// Size is part of the id: a 2-way and a 3-way split of the same
		// bank transaction are distinct findings.
		ID:       fmt.Sprintf("combo-%d-%s", len(s.ledger), bt.ID),
		Type:     model.InsightCombinationMatch,
		Severity: model.SeverityInfo,
		Message: fmt.Sprintf("%d ledger transactions appear to combine into bank transaction %q (%s)",
			len(s.ledger), bt.Payee, money.Format(bt.AmountMilli)),
		Evidence: map[string]any{
			"bank_id":          bt.ID,
			"ledger_ids":       ids,
			"difference_milli": s.diffMilli,
		},
	}

	return match, insight
}

// scoreSubset starts from the size-specific base and nudges up to five
// points either way depending on how close the difference sits to the
// tolerance boundary, clamped to the combination band.
func (f *Finder) scoreSubset(size int, diffMilli int64) int {
	base := pairBaseScore
	if size > 2 {
		base = tripleBaseScore
	}

	nudge := 5
	if f.cfg.AmountToleranceMilli > 0 {
		closeness := 1 - float64(diffMilli)/float64(f.cfg.AmountToleranceMilli)
		nudge = int(closeness*10) - 5
	}

	score := base + nudge
	if score < comboScoreFloor {
		score = comboScoreFloor
	}
	if score > comboScoreCeil {
		score = comboScoreCeil
	}
	return score
}

// signature builds a stable dedup key from the sorted member IDs.
func signature(ledger []model.LedgerTransaction) string {
	ids := make([]string, len(ledger))
	for i, lt := range ledger {
		ids[i] = lt.ID
	}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}
