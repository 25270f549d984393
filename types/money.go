// Package types provides common value types used across Bookkeeper.
package types

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Money represents a monetary value in the smallest currency unit:
// New(50000, "usd") is $500.00, New(100, "jpy") is ¥100.
type Money struct {
	Amount   int64  `json:"amount"`   // Smallest unit (cents, pence, etc)
	Currency string `json:"currency"` // ISO 4217 lowercase: "usd", "eur", "gbp"
}

// New creates a Money value, normalizing the currency code to lowercase.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToLower(currency)}
}

// Equal returns true if both values have the same amount and currency.
// Currency codes compare case-insensitively.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && strings.EqualFold(m.Currency, other.Currency)
}

// ErrInvalidAmount is returned by ParseMinorUnits for text that is not a
// non-negative amount representable in the currency's minor units.
var ErrInvalidAmount = errors.New("money: invalid amount")

// ParseMinorUnits converts a processor amount string into minor units.
//
// Digits-only text is taken as minor units already ("50000" -> 50000).
// Text with a decimal point is read as major units and scaled by the
// currency exponent ("500.00" USD -> 50000, "500" JPY -> 500). Extra
// fractional digits are accepted only when they are zeros.
func ParseMinorUnits(text, currency string) (int64, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	whole, frac, hasPoint := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}

	if !hasPoint {
		return parseDigits(whole, text)
	}

	decimals := Decimals(currency)
	if len(frac) > decimals {
		if strings.Trim(frac[decimals:], "0") != "" {
			return 0, fmt.Errorf("%w: %q has more precision than %s allows", ErrInvalidAmount, text, currency)
		}
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	if whole == "" {
		whole = "0"
	}
	return parseDigits(whole+frac, text)
}

// ParseMoney is ParseMinorUnits returning a Money in the given currency.
func ParseMoney(text, currency string) (Money, error) {
	amount, err := ParseMinorUnits(text, currency)
	if err != nil {
		return Money{}, err
	}
	return New(amount, currency), nil
}

// Decimals returns the number of minor-unit digits for a currency.
func Decimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "vnd", "clp", "pyg", "idr":
		return 0
	default:
		return 2
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func parseDigits(digits, original string) (int64, error) {
	var n int64
	for i := 0; i < len(digits); i++ {
		d := int64(digits[i] - '0')
		if n > (math.MaxInt64-d)/10 {
			return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, original)
		}
		n = n*10 + d
	}
	return n, nil
}
