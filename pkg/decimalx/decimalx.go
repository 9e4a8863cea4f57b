// Package decimalx provides the decimal-string value objects used at every
// persisted or wire boundary in the bot: prices, sizes, and basis-point
// metrics. Prices and sizes are never floats on the wire — only internal
// pure computations convert to float64 for arithmetic, per the Decimal
// Arithmetic design note: the canonical form is always the string.
package decimalx

import (
	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = false
}

// Price is a decimal string with at least 8 fractional digits of precision.
type Price = decimal.Decimal

// Size is a decimal string with at least 6 fractional digits of precision.
type Size = decimal.Decimal

// Bps is a decimal string (basis points, 1/10000) with at least 4 fractional digits.
type Bps = decimal.Decimal

// Zero is the additive identity, handy as a default value object.
var Zero = decimal.Zero

// ParseOrZero parses s and returns decimal Zero on any malformed input.
// Pure components must never panic on bad exchange data; a parse failure
// is treated as "missing", not as a crash.
func ParseOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseOK parses s, reporting whether it was well-formed. Callers that need
// to distinguish "absent" from "zero" (e.g. markPx/indexPx) should use this.
func ParseOK(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ToFloat converts a decimal to float64 for internal arithmetic. NaN/Inf
// never escape this boundary because decimal.Decimal cannot represent them.
func ToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// FromFloat converts an internal float64 result back to the canonical
// decimal-string form at the given precision (number of fractional digits).
func FromFloat(f float64, precision int32) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(precision)
}

// New constructs a Price/Size/Bps from a plain string, clamped to Zero on
// malformed input — used when ingesting adapter payloads defensively.
func New(s string) decimal.Decimal {
	return ParseOrZero(s)
}
