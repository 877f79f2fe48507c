package aggregate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// groupDigits inserts thousands separators into a plain digit run.
func groupDigits(digits string) string {
	n := len(digits)
	if n <= 3 {
		return digits
	}
	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// GroupInt renders an integer with thousands separators.
func GroupInt(v int64) string {
	s := strconv.FormatInt(v, 10)
	if strings.HasPrefix(s, "-") {
		return "-" + groupDigits(s[1:])
	}
	return groupDigits(s)
}

// FormatAmount renders an optional amount, "N/A" when missing.
func FormatAmount(v *int64) string {
	if v == nil {
		return "N/A"
	}
	return GroupInt(*v)
}

// FormatPerShare renders net cash per share with thousands separators and
// two decimals ("15,710.49"). Decimal division keeps the rounding exact where
// a float64 quotient could drift on large won amounts. "N/A" unless both
// inputs are present and shares is positive.
func FormatPerShare(netCash, shares *int64) string {
	if netCash == nil || shares == nil || *shares <= 0 {
		return "N/A"
	}
	q := decimal.NewFromInt(*netCash).Div(decimal.NewFromInt(*shares)).Round(2)
	fixed := q.StringFixed(2)

	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}
	intPart, fracPart, _ := strings.Cut(fixed, ".")
	return sign + groupDigits(intPart) + "." + fracPart
}

// FormatRatio renders a percentage ratio with two decimals, "N/A" when nil.
func FormatRatio(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", *v)
}
