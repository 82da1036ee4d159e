package models

import "github.com/shopspring/decimal"

const (
	// MoneyScale is the number of fractional digits money is stored with
	MoneyScale int32 = 2
	// CostScale is the precision of weighted average unit costs
	CostScale int32 = 4
	// RateScale is the precision of derived ratios such as tax rates
	RateScale int32 = 10
)

// Tolerance is the largest rounding drift accepted when reconciling amounts
var Tolerance = decimal.New(1, -MoneyScale)

// RoundMoney rounds half away from zero to MoneyScale digits
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// WithinTolerance reports whether a and b differ by no more than Tolerance
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// MinorUnits converts an amount to an integer count of cents, used for counters
func MinorUnits(d decimal.Decimal) int64 {
	return d.Shift(MoneyScale).Round(0).IntPart()
}

// MaxZero clamps negative amounts to zero
func MaxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
