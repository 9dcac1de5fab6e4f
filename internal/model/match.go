package model

// ConfidenceTier is the discrete bucket a match falls into based on its
// numeric score and the configured thresholds.
type ConfidenceTier string

const (
	// TierHigh marks matches at or above the auto-match threshold.
	TierHigh ConfidenceTier = "high"
	// TierMedium marks matches at or above the suggestion threshold.
	TierMedium ConfidenceTier = "medium"
	// TierLow marks matches with candidates below both thresholds.
	TierLow ConfidenceTier = "low"
	// TierNone marks bank transactions with no viable candidate.
	TierNone ConfidenceTier = "none"
)

// MatchCandidate is one ranked possibility for a bank transaction.
type MatchCandidate struct {
	Ledger     LedgerTransaction
	Reasons    []string
	Confidence int // 0-100
}

// TransactionMatch is the matching outcome for a single bank
// transaction. Exactly one exists per bank transaction; Candidates are
// sorted by descending confidence.
type TransactionMatch struct {
	Bank           BankTransaction
	Tier           ConfidenceTier
	Reason         string
	ActionHint     string
	Candidates     []MatchCandidate
	Score          int
	CombinationIDs []string // ledger IDs when this is a combination match
}

// Best returns the top candidate, or nil when none exist.
func (m *TransactionMatch) Best() *MatchCandidate {
	if len(m.Candidates) == 0 {
		return nil
	}
	return &m.Candidates[0]
}

// IsCombination reports whether this match pairs the bank transaction
// with a multi-item ledger subset rather than a single entry.
func (m *TransactionMatch) IsCombination() bool {
	return len(m.CombinationIDs) > 0
}

// TierForScore maps a confidence score onto a tier given the two
// configured thresholds. A score below the suggestion threshold is
// "low" when any candidate exists and "none" otherwise; callers pass
// hasCandidates to make that distinction.
func TierForScore(score, autoThreshold, suggestThreshold int, hasCandidates bool) ConfidenceTier {
	switch {
	case score >= autoThreshold:
		return TierHigh
	case score >= suggestThreshold:
		return TierMedium
	case hasCandidates:
		return TierLow
	default:
		return TierNone
	}
}
