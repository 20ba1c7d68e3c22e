package wallet

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Amount is a currency value in integer minor units (cents).
type Amount int64

var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]{1,2})?$`)

// ParseAmount converts user input such as "25.50" into minor units. Only
// unsigned decimals with at most two fractional digits are accepted and the
// result must be positive; nothing is rounded.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if !amountPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
	}
	a, err := decimalToMinor(s, false)
	if err != nil {
		return 0, err
	}
	if a <= 0 {
		return 0, fmt.Errorf("%w: %w", ErrValidation, ErrAmountNotPositive)
	}
	return a, nil
}

// ParseBalance converts a ledger-reported decimal (possibly signed, possibly
// with more than two fractional digits) into minor units. Extra precision is
// truncated toward zero so a reported balance is never overstated.
func ParseBalance(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if intPart, frac, ok := strings.Cut(s, "."); ok && len(frac) > 2 {
		s = intPart + "." + frac[:2]
	}
	if s == "" || strings.Trim(s, "0123456789.") != "" || strings.Count(s, ".") > 1 {
		return 0, fmt.Errorf("%w: invalid balance %q", ErrValidation, s)
	}
	a, err := decimalToMinor(s, true)
	if err != nil {
		return 0, err
	}
	if neg {
		a = -a
	}
	return a, nil
}

// AmountFromMajor converts a whole-unit count (e.g. the configured maximum of
// 10000) into minor units.
func AmountFromMajor(units int64) Amount {
	return Amount(units * 100)
}

func decimalToMinor(s string, lenient bool) (Amount, error) {
	intPart, frac, _ := strings.Cut(s, ".")
	if intPart == "" {
		if !lenient {
			return 0, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
		}
		intPart = "0"
	}
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil || whole > math.MaxInt64/100-1 {
		return 0, fmt.Errorf("%w: amount out of range %q", ErrValidation, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
	}
	return Amount(whole*100 + cents), nil
}

// Major returns the whole-unit part.
func (a Amount) Major() int64 { return int64(a) / 100 }

// String renders the amount with exactly two decimals, e.g. "25.50".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Format renders the amount with a currency symbol, e.g. "R25.50".
func (a Amount) Format(symbol string) string {
	if a < 0 {
		return "-" + symbol + (-a).String()
	}
	return symbol + a.String()
}

// Float64 is only for wire formats that insist on JSON numbers.
func (a Amount) Float64() float64 {
	return float64(a) / 100
}
