// Package money provides exact integer arithmetic over currency
// milliunits (thousandths of the major unit) and the tolerance windows
// used when comparing statement amounts and dates. No floating point is
// used anywhere in a comparison path.
package money

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MilliPerCent is the number of milliunits in one cent.
const MilliPerCent = 10

// ParseMilli converts a decimal string (e.g. "-42.17") into milliunits.
// Non-numeric and non-finite literals are errors, never zero.
func ParseMilli(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty amount")
	}
	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "nan") || strings.Contains(lower, "inf") {
		return 0, fmt.Errorf("non-finite amount %q", s)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts a decimal amount into milliunits, rejecting
// values that cannot be represented exactly in int64 milliunits.
func FromDecimal(d decimal.Decimal) (int64, error) {
	milli := d.Mul(decimal.NewFromInt(1000))
	if !milli.IsInteger() {
		// Sub-milliunit precision is truncated toward zero; bank
		// statements never carry it, but a crafted file might.
		milli = milli.Truncate(0)
	}
	if !milli.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s overflows milliunits", d)
	}
	return milli.BigInt().Int64(), nil
}

// FromFloat converts a float amount (dollars) into milliunits. Values
// that are NaN or infinite are errors.
func FromFloat(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite amount %v", f)
	}
	return FromDecimal(decimal.NewFromFloat(f))
}

// CentsToMilli converts a cent count (the external tolerance unit) into
// milliunits, the engine's single internal representation.
func CentsToMilli(cents int64) int64 {
	return cents * MilliPerCent
}

// Format renders milliunits as a plain decimal string ("-42.17").
func Format(milli int64) string {
	return decimal.New(milli, -3).StringFixed(2)
}

// FormatWithCurrency renders milliunits with a currency symbol.
func FormatWithCurrency(milli int64, symbol string) string {
	if milli < 0 {
		return "-" + symbol + decimal.New(-milli, -3).StringFixed(2)
	}
	return symbol + decimal.New(milli, -3).StringFixed(2)
}

// Abs returns the absolute value of a milliunit amount.
func Abs(milli int64) int64 {
	if milli < 0 {
		return -milli
	}
	return milli
}

// WithinTolerance reports whether two amounts differ by at most
// toleranceMilli.
func WithinTolerance(a, b, toleranceMilli int64) bool {
	return Abs(a-b) <= toleranceMilli
}

// SameSign reports whether two amounts are both inflows or both
// outflows. Zero matches either sign.
func SameSign(a, b int64) bool {
	if a == 0 || b == 0 {
		return true
	}
	return (a > 0) == (b > 0)
}

// DaysApart returns the absolute number of calendar days between two
// dates, ignoring time-of-day.
func DaysApart(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(ad.Sub(bd).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// WithinDays reports whether two dates fall within toleranceDays of
// each other.
func WithinDays(a, b time.Time, toleranceDays int) bool {
	return DaysApart(a, b) <= toleranceDays
}

// IsRoundAmount reports whether a milliunit amount is a whole number of
// major units. Used by discrepancy heuristics: round gaps frequently
// turn out to be bank fees or transfers.
func IsRoundAmount(milli int64) bool {
	return milli%1000 == 0
}
