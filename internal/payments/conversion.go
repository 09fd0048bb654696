package payments

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

// ratePrecision is the number of fractional digits carried by a FixedRate.
const ratePrecision = 6

const rateScale = 1_000_000

// maxRateWholeDigits keeps whole × rateScale inside int64.
const maxRateWholeDigits = 12

// FixedRate is an exchange rate stored as an integer number of millionths.
type FixedRate int64

// ParseFixedRate parses a decimal rate such as "0.087" with at most six fractional digits.
func ParseFixedRate(value string) (FixedRate, error) {
	value = strings.TrimSpace(value)
	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("payments: empty exchange rate")
	}
	if len(frac) > ratePrecision {
		return 0, fmt.Errorf("payments: exchange rate %q exceeds %d decimals", value, ratePrecision)
	}
	if len(whole) > maxRateWholeDigits || !allDigits(whole) || !allDigits(frac) {
		return 0, fmt.Errorf("payments: invalid exchange rate %q", value)
	}
	if whole == "" {
		whole = "0"
	}
	frac += strings.Repeat("0", ratePrecision-len(frac))
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("payments: invalid exchange rate %q", value)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("payments: invalid exchange rate %q", value)
	}
	rate := FixedRate(w*rateScale + f)
	if rate <= 0 {
		return 0, fmt.Errorf("payments: exchange rate must be positive")
	}
	return rate, nil
}

func allDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String renders the rate with six decimals.
func (r FixedRate) String() string {
	return fmt.Sprintf("%d.%06d", int64(r)/rateScale, int64(r)%rateScale)
}

// Convert moves an amount between currencies with different minor-unit scales:
// target = amount × rate × 10^(toScale−fromScale), rounded half up.
func (r FixedRate) Convert(amount int64, fromScale, toScale int) int64 {
	num := amount * int64(r)
	den := int64(rateScale)
	for i := fromScale; i < toScale; i++ {
		num *= 10
	}
	for i := toScale; i < fromScale; i++ {
		den *= 10
	}
	if num < 0 {
		return -((-num + den/2) / den)
	}
	return (num + den/2) / den
}

// CurrencyScale returns the number of minor-unit digits for an ISO 4217 code.
func CurrencyScale(code string) (int, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("payments: unknown currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale, nil
}
