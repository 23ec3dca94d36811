// Package money holds the exact-decimal arithmetic shared by rollups and encoders.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/entrysync/internal/model"
)

// ErrMalformedAmount is returned when an upstream monetary string cannot be parsed.
var ErrMalformedAmount = errors.New("malformed amount")

// Parse converts an upstream monetary string to a decimal. Empty input is
// zero. Thousands separators and accounting parentheses are accepted;
// anything else that is not a plain decimal fails.
func Parse(s string) (decimal.Decimal, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return decimal.Zero, nil
	}
	neg := false
	if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		neg = true
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	v = strings.ReplaceAll(v, ",", "")
	if v == "" || strings.ContainsAny(v, "eE") {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// Split divides a net amount into the payable and refund buckets:
// max(0, v) and abs(min(0, v)). Exactly one bucket is non-zero unless v
// is zero, in which case both are zero.
func Split(v decimal.Decimal) (payable, refund decimal.Decimal) {
	switch v.Sign() {
	case 1:
		return v, decimal.Zero
	case -1:
		return decimal.Zero, v.Neg()
	default:
		return decimal.Zero, decimal.Zero
	}
}

// Accumulator sums line amounts per line type. Each type has its own
// bucket so the sign convention lives in one place.
type Accumulator struct {
	corrections model.Amounts
	adjustments model.Amounts
	lines       int
}

// Add folds one line's amounts into the bucket for its type.
func (a *Accumulator) Add(t model.LineType, amt model.Amounts) {
	switch t {
	case model.Adjustment:
		a.adjustments = a.adjustments.Add(amt)
	default:
		a.corrections = a.corrections.Add(amt)
	}
	a.lines++
}

// Lines returns how many lines were folded in.
func (a *Accumulator) Lines() int { return a.lines }

// Total returns corrections minus adjustments.
func (a *Accumulator) Total() model.Amounts {
	return a.corrections.Sub(a.adjustments)
}

// Corrections returns the natural-sign bucket.
func (a *Accumulator) Corrections() model.Amounts { return a.corrections }

// Adjustments returns the inverted-sign bucket before inversion.
func (a *Accumulator) Adjustments() model.Amounts { return a.adjustments }

// Fixed renders v with exactly scale digits after the point and never
// produces "-0.00".
func Fixed(v decimal.Decimal, scale int32) string {
	r := v.Round(scale)
	if r.IsZero() {
		r = decimal.Zero
	}
	return r.StringFixed(scale)
}
