package model

import "time"

// InsightSeverity grades how urgently an insight needs attention.
type InsightSeverity string

const (
	// SeverityInfo is informational only.
	SeverityInfo InsightSeverity = "info"
	// SeverityWarning indicates something worth reviewing.
	SeverityWarning InsightSeverity = "warning"
	// SeverityCritical indicates a problem blocking reconciliation.
	SeverityCritical InsightSeverity = "critical"
)

// InsightType categorizes a reconciliation insight.
type InsightType string

const (
	// InsightCombinationMatch flags a multi-item ledger subset that
	// sums to one bank transaction.
	InsightCombinationMatch InsightType = "combination_match"
	// InsightRepeatAmount flags several unmatched bank transactions
	// sharing an exact amount.
	InsightRepeatAmount InsightType = "repeat_amount"
	// InsightNearMatch flags a match just below a threshold that a
	// human should confirm.
	InsightNearMatch InsightType = "near_match"
	// InsightBalanceGap flags a cleared-balance discrepancy.
	InsightBalanceGap InsightType = "balance_gap"
	// InsightBulkMissing flags a large block of statement activity
	// absent from the ledger.
	InsightBulkMissing InsightType = "bulk_missing"
)

// ReconciliationInsight is one observation produced while scanning the
// matched and unmatched sets.
type ReconciliationInsight struct {
	Evidence map[string]any
	ID       string
	Message  string
	Type     InsightType
	Severity InsightSeverity
}

// BalanceInfo captures the ledger balances against the statement
// target. DiscrepancyMilli = ClearedMilli - TargetMilli always holds,
// and OnTrack is true iff |DiscrepancyMilli| < the configured
// tolerance.
type BalanceInfo struct {
	ClearedMilli     int64
	UnclearedMilli   int64
	TotalMilli       int64
	TargetMilli      int64
	DiscrepancyMilli int64
	OnTrack          bool
}

// AnalysisSummary aggregates headline counts for the run.
type AnalysisSummary struct {
	BankTotal       int
	LedgerTotal     int
	AutoMatched     int
	Suggested       int
	UnmatchedBank   int
	UnmatchedLedger int
}

// RecommendationType enumerates the actionable recommendation kinds.
type RecommendationType string

const (
	// RecommendCreate proposes creating a missing ledger entry.
	RecommendCreate RecommendationType = "create_transaction"
	// RecommendUpdateCleared proposes marking an entry cleared.
	RecommendUpdateCleared RecommendationType = "update_cleared"
	// RecommendReviewDuplicate proposes reviewing likely duplicates.
	RecommendReviewDuplicate RecommendationType = "review_duplicate"
	// RecommendManualReview proposes human review of an uncertain match.
	RecommendManualReview RecommendationType = "manual_review"
)

// RecommendationPriority orders recommendations for presentation.
type RecommendationPriority string

const (
	// PriorityHigh should be acted on first.
	PriorityHigh RecommendationPriority = "high"
	// PriorityMedium is routine follow-up.
	PriorityMedium RecommendationPriority = "medium"
	// PriorityLow is optional cleanup.
	PriorityLow RecommendationPriority = "low"
)

// ActionableRecommendation is a typed, prioritized suggestion derived
// from unmatched and near-match data.
type ActionableRecommendation struct {
	CreatedAt  time.Time
	Parameters map[string]any
	ID         string
	Title      string
	Type       RecommendationType
	Priority   RecommendationPriority
	Confidence int
}

// ReconciliationAnalysis is the immutable snapshot produced once per
// analyzer invocation.
type ReconciliationAnalysis struct {
	Summary          AnalysisSummary
	Balance          BalanceInfo
	AutoMatches      []TransactionMatch
	SuggestedMatches []TransactionMatch
	UnmatchedBank    []BankTransaction
	UnmatchedLedger  []LedgerTransaction
	Insights         []ReconciliationInsight
	NextSteps        []string
	Recommendations  []ActionableRecommendation
	Currency         string
	AccountID        string
	BudgetID         string
}
