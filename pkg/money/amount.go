// Package money provides the fixed-point decimal Amount type used
// throughout the wallet engine for balances and transaction magnitudes.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// internalScale is the precision carried through intermediate arithmetic
// (holds, debits, refunds) before a value is persisted or displayed.
const internalScale = 12

// displayScale is the number of fractional digits a balance is quoted at.
const displayScale = 2

// Amount is a money value. Stored transaction amounts are always positive
// magnitudes, and callers derive direction (credit vs debit) from the
// Transaction type, per the ledger's sign convention; negative Amounts
// appear only as signed balance deltas (see Neg and
// WalletRepository.ApplyDelta).
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero Amount.
var Zero = Amount{d: decimal.Zero}

// NewFromString parses a decimal string (e.g. "100.00") into an Amount.
func NewFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{d: d.Truncate(internalScale)}, nil
}

// NewFromFloat builds an Amount from a float64. Prefer NewFromString for
// values originating from JSON or user input.
func NewFromFloat(f float64) Amount {
	return Amount{d: decimal.NewFromFloat(f).Truncate(internalScale)}
}

// MustNewFromString is NewFromString, panicking on parse failure. Intended
// for constants and tests, never for caller-supplied input.
func MustNewFromString(s string) Amount {
	a, err := NewFromString(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a.d.Sign() > 0
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.d.Sign() == 0
}

// IsNegative reports whether the amount is strictly less than zero.
func (a Amount) IsNegative() bool {
	return a.d.Sign() < 0
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{d: a.d.Add(b.d).Truncate(internalScale)}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{d: a.d.Sub(b.d).Truncate(internalScale)}
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	return Amount{d: a.d.Neg()}
}

// Abs returns the absolute value of a.
func (a Amount) Abs() Amount {
	return Amount{d: a.d.Abs()}
}

// Cmp compares a to b: -1 if a<b, 0 if a==b, 1 if a>b.
func (a Amount) Cmp(b Amount) int {
	return a.d.Cmp(b.d)
}

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool {
	return a.d.LessThan(b.d)
}

// GreaterThanOrEqual reports whether a >= b.
func (a Amount) GreaterThanOrEqual(b Amount) bool {
	return a.d.GreaterThanOrEqual(b.d)
}

// String renders the amount at display scale (2 fractional digits);
// digits beyond the display scale are truncated, not rounded.
func (a Amount) String() string {
	return a.d.Truncate(displayScale).StringFixed(displayScale)
}

// Raw returns the full-precision decimal string, used for storage.
func (a Amount) Raw() string {
	return a.d.String()
}

// MarshalJSON renders the amount as a quoted decimal string, matching the
// webhook and facade wire formats (spec amounts travel as decimal strings,
// never floats, to avoid float rounding on money).
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted decimal string or a bare JSON
// number, matching the two shapes seen across caller-supplied payloads.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := NewFromString(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer for database/sql.
func (a Amount) Value() (driver.Value, error) {
	return a.Raw(), nil
}

// Scan implements sql.Scanner for database/sql.
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		parsed, err := NewFromString(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		parsed, err := NewFromString(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case int64:
		*a = Amount{d: decimal.NewFromInt(v)}
		return nil
	case nil:
		*a = Zero
		return nil
	default:
		return fmt.Errorf("money: unsupported scan source %T", src)
	}
}
