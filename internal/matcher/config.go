// Package matcher implements confidence-scored pairwise matching of
// bank transactions against ledger transactions, and combination
// matching for split or aggregated charges.
package matcher

import "fmt"

// Config controls tolerance windows and confidence thresholds. It is
// an explicit struct constructed once per invocation; nothing in this
// package consults ambient defaults after construction.
type Config struct {
	DateToleranceDays              int
	AmountToleranceMilli           int64
	DescriptionSimilarityThreshold float64 // 0.0-1.0
	AutoMatchThreshold             int     // score at/above which a match is "high"
	SuggestionThreshold            int     // score at/above which a match is "medium"
}

// DefaultConfig returns the default matching configuration.
func DefaultConfig() Config {
	return Config{
		DateToleranceDays:              3,
		AmountToleranceMilli:           10, // one cent
		DescriptionSimilarityThreshold: 0.6,
		AutoMatchThreshold:             90,
		SuggestionThreshold:            60,
	}
}

// Validate checks the configuration for values that would make
// matching meaningless.
func (c Config) Validate() error {
	if c.DateToleranceDays < 0 {
		return fmt.Errorf("date tolerance must be non-negative, got %d", c.DateToleranceDays)
	}
	if c.AmountToleranceMilli < 0 {
		return fmt.Errorf("amount tolerance must be non-negative, got %d", c.AmountToleranceMilli)
	}
	if c.DescriptionSimilarityThreshold < 0 || c.DescriptionSimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in [0,1], got %.2f", c.DescriptionSimilarityThreshold)
	}
	if c.SuggestionThreshold > c.AutoMatchThreshold {
		return fmt.Errorf("suggestion threshold %d exceeds auto-match threshold %d",
			c.SuggestionThreshold, c.AutoMatchThreshold)
	}
	return nil
}
