// Package money implements fixed-point decimal arithmetic for monetary
// values. Faithful translation from the Python decimal.Decimal accounting
// used throughout the original portfolio engine: no IEEE floats, no silent
// precision loss.
package money

import (
	"fmt"
	"math/big"
)

// scale is the number of fractional digits every Amount carries internally.
// 8 digits satisfies spec's "at least 8 significant fractional digits".
const scale = 8

var scaleFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(scale), nil)

// Currency is a three-letter currency tag.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	BTC Currency = "BTC"
)

// Amount is a fixed-point decimal value tagged with a currency. The zero
// value is 0 in an unset currency and should not be used directly; always
// construct via New/Zero.
type Amount struct {
	unscaled *big.Int // value * 10^scale
	currency Currency
}

// Zero returns a zero Amount in the given currency.
func Zero(currency Currency) Amount {
	return Amount{unscaled: big.NewInt(0), currency: currency}
}

// New builds an Amount from a decimal string, e.g. "150.00". Returns an
// error if the string is not a valid decimal.
func New(decimal string, currency Currency) (Amount, error) {
	r, ok := new(big.Rat).SetString(decimal)
	if !ok {
		return Amount{}, fmt.Errorf("money: invalid decimal %q", decimal)
	}
	return fromRat(r, currency), nil
}

// MustNew panics on an invalid decimal string; for use with literal
// constants in tests and fixtures.
func MustNew(decimal string, currency Currency) Amount {
	a, err := New(decimal, currency)
	if err != nil {
		panic(err)
	}
	return a
}

// FromInt builds an Amount representing a whole number of currency units.
func FromInt(units int64, currency Currency) Amount {
	return Amount{
		unscaled: new(big.Int).Mul(big.NewInt(units), scaleFactor),
		currency: currency,
	}
}

func fromRat(r *big.Rat, currency Currency) Amount {
	num := new(big.Int).Mul(r.Num(), scaleFactor)
	unscaled := new(big.Int).Quo(num, r.Denom())
	return Amount{unscaled: unscaled, currency: currency}
}

// Currency returns the Amount's currency tag.
func (a Amount) Currency() Currency { return a.currency }

// CurrencyMismatch is returned whenever two Amounts in different
// currencies are combined.
type CurrencyMismatch struct {
	A, B Currency
}

func (e *CurrencyMismatch) Error() string {
	return fmt.Sprintf("money: currency mismatch: %s vs %s", e.A, e.B)
}

func (a Amount) checkCurrency(b Amount) error {
	if a.currency != b.currency {
		return &CurrencyMismatch{A: a.currency, B: b.currency}
	}
	return nil
}

// Add returns a+b. Fails with CurrencyMismatch if currencies differ.
func (a Amount) Add(b Amount) (Amount, error) {
	if err := a.checkCurrency(b); err != nil {
		return Amount{}, err
	}
	return Amount{unscaled: new(big.Int).Add(a.unscaled, b.unscaled), currency: a.currency}, nil
}

// Sub returns a-b. Fails with CurrencyMismatch if currencies differ.
func (a Amount) Sub(b Amount) (Amount, error) {
	if err := a.checkCurrency(b); err != nil {
		return Amount{}, err
	}
	return Amount{unscaled: new(big.Int).Sub(a.unscaled, b.unscaled), currency: a.currency}, nil
}

// MulByInteger returns a*n in the same currency.
func (a Amount) MulByInteger(n int64) Amount {
	return Amount{unscaled: new(big.Int).Mul(a.unscaled, big.NewInt(n)), currency: a.currency}
}

// MulByRatio returns a*(numerator/denominator), rounding toward positive
// infinity when roundUp is true (used by risk calculations, which must
// never understate risk) and truncating otherwise.
func (a Amount) MulByRatio(numerator, denominator int64, roundUp bool) Amount {
	n := new(big.Int).Mul(a.unscaled, big.NewInt(numerator))
	d := big.NewInt(denominator)
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if roundUp && r.Sign() != 0 {
		if (n.Sign() > 0) == (d.Sign() > 0) {
			q.Add(q, big.NewInt(1))
		}
	}
	return Amount{unscaled: q, currency: a.currency}
}

// SubSame is Sub without the error return, for call sites that have
// already established both operands share a currency (e.g. within a
// single TradeBalance). Panics on mismatch, like Cmp.
func (a Amount) SubSame(b Amount) Amount {
	r, err := a.Sub(b)
	if err != nil {
		panic(err)
	}
	return r
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	return Amount{unscaled: new(big.Int).Neg(a.unscaled), currency: a.currency}
}

// Abs returns |a|.
func (a Amount) Abs() Amount {
	return Amount{unscaled: new(big.Int).Abs(a.unscaled), currency: a.currency}
}

// Cmp compares a and b, returning -1/0/1. Panics on currency mismatch —
// callers that can receive mismatched currencies must check first with
// SameCurrency.
func (a Amount) Cmp(b Amount) int {
	if a.currency != b.currency {
		panic(&CurrencyMismatch{A: a.currency, B: b.currency})
	}
	return a.unscaled.Cmp(b.unscaled)
}

// SameCurrency reports whether a and b share a currency.
func (a Amount) SameCurrency(b Amount) bool { return a.currency == b.currency }

// IsZero reports whether a is exactly zero.
func (a Amount) IsZero() bool { return a.unscaled.Sign() == 0 }

// IsNegative reports whether a is strictly less than zero.
func (a Amount) IsNegative() bool { return a.unscaled.Sign() < 0 }

// CeilToCent rounds a up to the nearest cent (away from zero for positive
// values), used by risk calculations per the "round ties in favor of
// safety" rule.
func (a Amount) CeilToCent() Amount {
	centScale := new(big.Int).Exp(big.NewInt(10), big.NewInt(scale-2), nil)
	q, r := new(big.Int).QuoRem(a.unscaled, centScale, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return Amount{unscaled: new(big.Int).Mul(q, centScale), currency: a.currency}
}

// String renders the Amount as a fixed-point decimal string with 2
// fractional digits, the convention used for display. Persistence stores
// StringPrecision(8) instead, so no fractional digit is lost.
func (a Amount) String() string {
	return a.StringPrecision(2)
}

// StringPrecision renders the Amount with the given number of fractional
// digits (0..scale).
func (a Amount) StringPrecision(digits int) string {
	if digits < 0 || digits > scale {
		digits = scale
	}
	neg := a.unscaled.Sign() < 0
	abs := new(big.Int).Abs(a.unscaled)
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(scale-int64(digits)), nil)
	rounded := new(big.Int).Quo(abs, div)

	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	whole := new(big.Int).Quo(rounded, unit)
	frac := new(big.Int).Mod(rounded, unit)

	sign := ""
	if neg {
		sign = "-"
	}
	if digits == 0 {
		return fmt.Sprintf("%s%s", sign, whole.String())
	}
	return fmt.Sprintf("%s%s.%0*s", sign, whole.String(), digits, frac.String())
}

// MarshalText implements encoding.TextMarshaler so Amount can round-trip
// through the persistence port's strings-for-decimals convention.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.StringPrecision(scale)), nil
}
