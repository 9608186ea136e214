// Package money provides arbitrary-precision, currency-safe integer
// accounting in minor units (USD cents, Bitcoin satoshis).
package money

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
)

// Currency identifies the unit a Money value is denominated in.
type Currency string

const (
	USD  Currency = "USD"
	SATS Currency = "SATS"
)

var dollarPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

// Money is a non-negative integer amount of minor units of a single
// Currency. The zero value is not valid; use FromCents/FromSatoshis/
// FromDollars to construct one.
type Money struct {
	minorUnits *big.Int
	currency   Currency
}

// FromDollars parses a decimal dollar string of the form `d(.d{1,2})?`
// and returns the equivalent USD cent amount. It is the only supported
// entry point for human-typed dollar amounts; constructing Money from a
// float is intentionally not exposed, since floats round unpredictably
// at the cent boundary.
func FromDollars(s string) (Money, error) {
	if !dollarPattern.MatchString(s) {
		return Money{}, fmt.Errorf("money: invalid dollar amount %q", s)
	}
	whole, frac, _ := cutOnce(s, '.')
	for len(frac) < 2 {
		frac += "0"
	}
	cents := new(big.Int)
	cents.SetString(whole+frac, 10)
	return Money{minorUnits: cents, currency: USD}, nil
}

// FromCents builds a USD Money value from a non-negative cent count.
func FromCents(n int64) Money {
	if n < 0 {
		panic("money: negative cents")
	}
	return Money{minorUnits: big.NewInt(n), currency: USD}
}

// FromCentsBig builds a USD Money value from an arbitrary-precision
// non-negative cent count.
func FromCentsBig(n *big.Int) Money {
	if n.Sign() < 0 {
		panic("money: negative cents")
	}
	return Money{minorUnits: new(big.Int).Set(n), currency: USD}
}

// FromSatoshis builds a SATS Money value from a non-negative sat count.
func FromSatoshis(n int64) Money {
	if n < 0 {
		panic("money: negative satoshis")
	}
	return Money{minorUnits: big.NewInt(n), currency: SATS}
}

// Currency reports the denomination of m.
func (m Money) Currency() Currency { return m.currency }

// MinorUnits reports the raw integer amount (cents for USD, sats for SATS).
func (m Money) MinorUnits() *big.Int {
	if m.minorUnits == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(m.minorUnits)
}

func (m Money) units() *big.Int {
	if m.minorUnits == nil {
		return big.NewInt(0)
	}
	return m.minorUnits
}

func mustSameCurrency(a, b Money) {
	if a.currency != b.currency {
		panic(fmt.Sprintf("money: currency mismatch %s vs %s", a.currency, b.currency))
	}
}

// Add returns a+b. Mixing currencies is a programmer error and panics.
func (a Money) Add(b Money) Money {
	mustSameCurrency(a, b)
	return Money{minorUnits: new(big.Int).Add(a.units(), b.units()), currency: a.currency}
}

// Subtract returns a-b. b must not exceed a. Mixing currencies or
// subtracting past zero is a programmer error and panics.
func (a Money) Subtract(b Money) Money {
	mustSameCurrency(a, b)
	if a.units().Cmp(b.units()) < 0 {
		panic("money: subtraction would go negative")
	}
	return Money{minorUnits: new(big.Int).Sub(a.units(), b.units()), currency: a.currency}
}

// GreaterThan reports whether a > b.
func (a Money) GreaterThan(b Money) bool {
	mustSameCurrency(a, b)
	return a.units().Cmp(b.units()) > 0
}

// GreaterThanOrEqual reports whether a >= b.
func (a Money) GreaterThanOrEqual(b Money) bool {
	mustSameCurrency(a, b)
	return a.units().Cmp(b.units()) >= 0
}

// Equals reports whether a and b denote the same currency and amount.
func (a Money) Equals(b Money) bool {
	return a.currency == b.currency && a.units().Cmp(b.units()) == 0
}

// IsZero reports whether the amount is zero.
func (a Money) IsZero() bool {
	return a.units().Sign() == 0
}

// String renders the amount for display: "$d.cc" for USD, "<n> sats" for SATS.
func (m Money) String() string {
	switch m.currency {
	case SATS:
		return fmt.Sprintf("%s sats", m.units().String())
	default:
		units := m.units()
		whole := new(big.Int)
		frac := new(big.Int)
		whole.QuoRem(units, big.NewInt(100), frac)
		if frac.Sign() < 0 {
			frac.Neg(frac)
		}
		return fmt.Sprintf("$%s.%02d", whole.String(), frac.Int64())
	}
}

type jsonForm struct {
	MinorUnits string   `json:"minorUnits"`
	Currency   Currency `json:"currency"`
}

// MarshalJSON round-trips (minorUnits, currency) byte-for-byte.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonForm{MinorUnits: m.units().String(), Currency: m.currency})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Money) UnmarshalJSON(data []byte) error {
	var f jsonForm
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	n, ok := new(big.Int).SetString(f.MinorUnits, 10)
	if !ok {
		return fmt.Errorf("money: invalid minorUnits %q", f.MinorUnits)
	}
	m.minorUnits = n
	m.currency = f.Currency
	return nil
}

func cutOnce(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// CeilDivCents divides an atomic integer amount (e.g. USDC's 10^6-per-dollar
// atomic units) by divisor, rounding up, with a floor of 1 for any positive
// dividend. divisor must be positive.
func CeilDivCents(atomic *big.Int, divisor int64) Money {
	if atomic.Sign() <= 0 {
		return FromCents(0)
	}
	d := big.NewInt(divisor)
	q, r := new(big.Int).QuoRem(atomic, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	if q.Sign() == 0 {
		q.SetInt64(1)
	}
	return FromCentsBig(q)
}
