package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned when a decimal amount cannot be parsed into minor units.
var ErrInvalidAmount = errors.New("domain: invalid amount")

// ApplyRate multiplies an amount in minor units by a fractional rate, rounding half away from zero.
func ApplyRate(amount int64, rate float64) int64 {
	if amount == 0 || rate == 0 {
		return 0
	}
	return int64(math.Round(float64(amount) * rate))
}

// FormatMinor renders minor units as a decimal string with the given scale, e.g. 44900 -> "449.00".
func FormatMinor(amount int64, scale int) string {
	if scale <= 0 {
		return strconv.FormatInt(amount, 10)
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	unit := pow10(scale)
	return fmt.Sprintf("%s%d.%0*d", sign, amount/unit, scale, amount%unit)
}

// ParseMinor parses a decimal string into minor units at the given scale. Extra fractional
// digits beyond the scale are rejected rather than rounded.
func ParseMinor(value string, scale int) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	negative := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")

	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > scale {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, value, scale)
	}
	frac += strings.Repeat("0", scale-len(frac))

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	var f int64
	if scale > 0 {
		f, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
		}
	}
	out := w*pow10(scale) + f
	if negative {
		out = -out
	}
	return out, nil
}

func pow10(n int) int64 {
	out := int64(1)
	for i := 0; i < n; i++ {
		out *= 10
	}
	return out
}
