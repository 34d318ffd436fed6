package pricing

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value in whole currency units (VND has no minor unit).
type Money = decimal.Decimal

func init() {
	// Storefront clients read totals as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Zero is the zero Money value.
var Zero = decimal.Zero

// FromInt builds a Money value from an integer amount.
func FromInt(v int64) Money {
	return decimal.NewFromInt(v)
}

// NonNegative clamps m to zero when it is negative.
func NonNegative(m Money) Money {
	if m.IsNegative() {
		return Zero
	}
	return m
}

// Round formats m to whole currency units for display.
func Round(m Money) Money {
	return m.Round(0)
}

// Amount is a nullable money value decoded leniently from backend payloads.
// Numbers and numeric strings are accepted; null, empty strings and anything
// unparsable leave the amount invalid instead of failing the whole document.
type Amount struct {
	Value Money
	Valid bool
}

// NewAmount returns a valid Amount holding v.
func NewAmount(v int64) Amount {
	return Amount{Value: decimal.NewFromInt(v), Valid: true}
}

// AmountOf wraps an existing Money value.
func AmountOf(m Money) Amount {
	return Amount{Value: m, Valid: true}
}

// Positive reports whether the amount is present and strictly greater than zero.
func (a Amount) Positive() bool {
	return a.Valid && a.Value.IsPositive()
}

// OrZero returns the value when valid or zero otherwise.
func (a Amount) OrZero() Money {
	if !a.Valid {
		return Zero
	}
	return a.Value
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	*a = Amount{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	raw := string(trimmed)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	if raw == "" {
		return nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	a.Value = v
	a.Valid = true
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return []byte(a.Value.String()), nil
}

// Parse reads a decimal money value such as "150000" or "12500.50".
func Parse(s string) (Money, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}
