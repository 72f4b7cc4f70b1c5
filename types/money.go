// Package types provides value types shared by the Bursar packages.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when an amount arrives without a currency.
const DefaultCurrency = "kes"

// ErrInvalidAmount is returned by ParseMoney for text that is not a plain
// decimal amount.
var ErrInvalidAmount = errors.New("types: invalid amount")

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Money is a fee or payment amount in the smallest currency unit.
// Arithmetic is integer-only.
//
// Examples:
//   - KES(2500000) = KSh 25,000.00
//   - UGX(150000)  = USh 150,000
type Money struct {
	Amount   int64  `json:"amount"`   // minor units (cents)
	Currency string `json:"currency"` // ISO 4217 lowercase
}

// KES creates a Money value in Kenyan shillings (cents).
func KES(cents int64) Money { return Money{Amount: cents, Currency: "kes"} }

// UGX creates a Money value in Ugandan shillings (no minor unit).
func UGX(shillings int64) Money { return Money{Amount: shillings, Currency: "ugx"} }

// TZS creates a Money value in Tanzanian shillings (cents).
func TZS(cents int64) Money { return Money{Amount: cents, Currency: "tzs"} }

// USD creates a Money value in US dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// Zero returns a zero Money value in the given currency. An empty currency
// means DefaultCurrency.
func Zero(currency string) Money {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Currency: strings.ToLower(currency)}
}

// Major builds a Money value from a whole number of major units, e.g.
// Major(25000, "kes") is KSh 25,000.00.
func Major(units int64, currency string) Money {
	m := Zero(currency)
	m.Amount = units * pow10(currencyDecimals(m.Currency))
	return m
}

// ParseMoney parses a human or API amount such as "25000", "25,000.50" or
// "KSh 1,200" into minor units. More decimal places than the currency
// carries is an error; so is a negative amount.
func ParseMoney(s, currency string) (Money, error) {
	m := Zero(currency)
	clean := strings.TrimSpace(s)
	for _, prefix := range []string{"ksh.", "ksh", "kes", "ush", "ugx", "tsh", "tzs", "usd", "$"} {
		if len(clean) >= len(prefix) && strings.EqualFold(clean[:len(prefix)], prefix) {
			clean = strings.TrimSpace(clean[len(prefix):])
			break
		}
	}
	clean = strings.ReplaceAll(clean, ",", "")
	clean = strings.ReplaceAll(clean, " ", "")
	if clean == "" {
		return m, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return m, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return m, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}

	places := currencyDecimals(m.Currency)
	if -d.Exponent() > int32(places) && !d.Equal(d.Truncate(int32(places))) {
		return m, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, s, places)
	}

	minor := d.Shift(int32(places))
	if !minor.IsInteger() || minor.GreaterThan(maxMinor) {
		return m, fmt.Errorf("%w: %q is out of range", ErrInvalidAmount, s)
	}
	m.Amount = minor.IntPart()
	return m, nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -int32(currencyDecimals(m.Currency)))
}

// Add adds two Money values. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Subtract subtracts another Money value. Panics if currencies don't match.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Multiply multiplies the Money by a quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal returns true if both Money values are equal (same amount and currency).
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// LessThan returns true if this Money is less than other. Panics if currencies don't match.
func (m Money) LessThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount < other.Amount
}

// ClampZero returns m, or zero in m's currency when m is negative.
func (m Money) ClampZero() Money {
	if m.Amount < 0 {
		return Money{Currency: m.Currency}
	}
	return m
}

// FormatMajor returns the amount in major units with thousands separators
// and no symbol: "25,000.00" for KES(2500000), "150,000" for UGX(150000).
func (m Money) FormatMajor() string {
	decimals := currencyDecimals(m.Currency)

	neg := m.Amount < 0
	abs := m.Amount
	if neg {
		abs = -abs
	}

	divisor := pow10(decimals)
	out := groupThousands(abs / divisor)
	if decimals > 0 {
		out += fmt.Sprintf(".%0*d", decimals, abs%divisor)
	}
	if neg {
		return "-" + out
	}
	return out
}

// String returns a human-readable amount, e.g. "KSh 25,000.00".
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// UnmarshalJSON accepts the object form written by MarshalJSON.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Money{Amount: raw.Amount, Currency: strings.ToLower(raw.Currency)}
	if m.Currency == "" {
		m.Currency = DefaultCurrency
	}
	return nil
}

func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

func currencySymbol(currency string) string {
	symbols := map[string]string{
		"kes": "KSh ",
		"ugx": "USh ",
		"tzs": "TSh ",
		"usd": "$",
	}
	if sym, ok := symbols[strings.ToLower(currency)]; ok {
		return sym
	}
	return strings.ToUpper(currency) + " "
}

func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "ugx", "rwf", "jpy":
		return 0
	default:
		return 2
	}
}

func pow10(n int) int64 {
	p := int64(1)
	for range n {
		p *= 10
	}
	return p
}

func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// Sum adds up values in the given currency. An empty list sums to zero.
func Sum(currency string, values ...Money) Money {
	total := Zero(currency)
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
