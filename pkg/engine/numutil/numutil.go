// Package numutil is the single rounding vocabulary of the engine: every
// price, volume and balance is scaled here with per-asset accuracy.
package numutil

import "github.com/shopspring/decimal"

// MaxScale bounds intermediate division results before they are rounded to an
// asset accuracy.
const MaxScale = 16

var delta = decimal.New(1, -9)

// Scale rounds v to accuracy fractional digits. roundUp rounds away from
// zero, otherwise towards zero.
func Scale(v decimal.Decimal, accuracy int32, roundUp bool) decimal.Decimal {
	if roundUp {
		return v.RoundUp(accuracy)
	}
	return v.RoundDown(accuracy)
}

// ScaleHalfUp rounds v to accuracy fractional digits, ties away from zero.
func ScaleHalfUp(v decimal.Decimal, accuracy int32) decimal.Decimal {
	return v.Round(accuracy)
}

// DivideMaxScale divides a by b at MaxScale precision.
func DivideMaxScale(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, MaxScale)
}

// CheckScale reports whether v carries no more than accuracy fractional
// digits.
func CheckScale(v decimal.Decimal, accuracy int32) bool {
	return v.Equal(v.Truncate(accuracy))
}

// EqualsWithDelta reports whether a and b differ by less than the default
// tolerance.
func EqualsWithDelta(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(delta)
}

// IsZeroWithDelta reports whether v is zero within the default tolerance.
func IsZeroWithDelta(v decimal.Decimal) bool {
	return v.Abs().LessThan(delta)
}
