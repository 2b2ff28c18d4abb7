// Package money converts between major-unit decimals used at the edges and
// the integer minor units (satang) used for all arithmetic.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorPerMajor is the number of minor units in one major unit.
const MinorPerMajor = 100

var (
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrNegativeAmount   = errors.New("negative_amount")
	ErrFractionalAmount = errors.New("fractional_minor_unit")
)

var scale = decimal.NewFromInt(MinorPerMajor)

// ToMinor converts a major-unit amount to minor units. Amounts finer than
// one minor unit are rejected rather than rounded.
func ToMinor(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	minor := amount.Mul(scale)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrFractionalAmount
	}
	return minor.IntPart(), nil
}

// FromMinor converts minor units back to a major-unit decimal.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// ParseMajor parses a user-supplied major-unit string such as "650" or "20.50".
func ParseMajor(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return ToMinor(amount)
}

// FormatMajor renders minor units with two decimals, e.g. 65000 -> "650.00".
func FormatMajor(minor int64) string {
	return FromMinor(minor).StringFixed(2)
}
