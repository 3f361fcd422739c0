// Package money holds the minor-unit (kobo) helpers. Amounts are int64
// minor units everywhere; decimals appear only at the edges.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
	ErrInvalidPercent  = errors.New("percentage must be between 0 and 100")
)

var hundred = decimal.NewFromInt(100)

// ParseMinor converts a major-unit string such as "1500.50" into minor units.
func ParseMinor(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if value.Exponent() < -2 && !value.Equal(value.Round(2)) {
		return 0, ErrTooManyDecimals
	}
	minor := value.Mul(hundred)
	if !minor.IsInteger() {
		return 0, ErrTooManyDecimals
	}
	if minor.Abs().GreaterThan(decimal.NewFromInt(1 << 53)) {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

// ParsePositiveMinor is ParseMinor restricted to amounts greater than zero.
func ParsePositiveMinor(input string) (int64, error) {
	minor, err := ParseMinor(input)
	if err != nil {
		return 0, err
	}
	if minor <= 0 {
		return 0, ErrInvalidAmount
	}
	return minor, nil
}

func FormatMinor(value int64) string {
	negative := value < 0
	if negative {
		value = -value
	}
	formatted := fmt.Sprintf("%d.%02d", value/100, value%100)
	if negative {
		return "-" + formatted
	}
	return formatted
}

// ParsePercent parses a percentage in [0, 100] with at most two decimals.
func ParsePercent(raw string) (decimal.Decimal, error) {
	pct, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, ErrInvalidPercent
	}
	if err := ValidatePercent(pct); err != nil {
		return decimal.Zero, err
	}
	return pct, nil
}

func ValidatePercent(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) || !pct.Equal(pct.Round(2)) {
		return ErrInvalidPercent
	}
	return nil
}

// PercentOf returns round(amount * pct / 100), rounding halves away from zero.
func PercentOf(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
}

// Split divides amount into the pct share and what is left of it.
func Split(amount int64, pct decimal.Decimal) (share, rest int64) {
	share = PercentOf(amount, pct)
	return share, amount - share
}
