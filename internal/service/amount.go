package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Amounts are stored as DECIMAL(14,2).
const amountScale = 2

var maxAmount = decimal.RequireFromString("999999999999.99")

// ParseAmount parses user input exactly. Blank, non-numeric, non-positive
// and sub-cent values are rejected with ErrInvalidAmount.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, invalidAmount("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalidAmount("%q is not a number", s)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount checks that d is positive, fits the column and has at most
// two fractional digits (trailing zeros beyond that are fine).
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return invalidAmount("amount must be greater than 0")
	}
	if !d.Equal(d.Truncate(amountScale)) {
		return invalidAmount("amount %s has more than %d decimal places", d.String(), amountScale)
	}
	if d.GreaterThan(maxAmount) {
		return invalidAmount("amount %s exceeds the maximum %s", d.String(), maxAmount.StringFixed(amountScale))
	}
	return nil
}

// Breakdown maps a denomination (e.g. "500") to the number of notes.
type Breakdown map[string]int64

type denomination struct {
	name  string
	value decimal.Decimal
	count int64
}

func (b Breakdown) parse() ([]denomination, error) {
	out := make([]denomination, 0, len(b))
	for name, count := range b {
		value, err := decimal.NewFromString(strings.TrimSpace(name))
		if err != nil || !value.IsPositive() || !value.Equal(value.Truncate(amountScale)) {
			return nil, invalidAmount("denomination %q is not a valid note value", name)
		}
		if count < 0 {
			return nil, invalidAmount("number of %s notes cannot be negative", name)
		}
		out = append(out, denomination{name: name, value: value, count: count})
	}
	// largest note first, which is also how the memo reads
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].value.Cmp(out[j].value); c != 0 {
			return c > 0
		}
		return out[i].name < out[j].name
	})
	return out, nil
}

// Total is the exact sum of value × count over all denominations.
func (b Breakdown) Total() (decimal.Decimal, error) {
	denoms, err := b.parse()
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, d := range denoms {
		total = total.Add(d.value.Mul(decimal.NewFromInt(d.count)))
	}
	return total, nil
}

// Describe renders the breakdown the way it appears in deposit memos,
// e.g. "1×500 + 0×200 + 1×100".
func (b Breakdown) Describe() string {
	denoms, err := b.parse()
	if err != nil {
		return ""
	}
	parts := make([]string, 0, len(denoms))
	for _, d := range denoms {
		parts = append(parts, fmt.Sprintf("%d×%s", d.count, d.value.String()))
	}
	return strings.Join(parts, " + ")
}

// CheckBreakdown verifies that a supplied breakdown sums to amount exactly.
// A nil breakdown means none was supplied and always passes.
func CheckBreakdown(amount decimal.Decimal, b Breakdown) error {
	if b == nil {
		return nil
	}
	total, err := b.Total()
	if err != nil {
		return err
	}
	if !total.Equal(amount) {
		return &AmountMismatchError{Stated: amount, Calculated: total}
	}
	return nil
}
