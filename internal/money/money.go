// Package money provides fixed-point minor-currency-unit amounts.
//
// All amounts in the bid engine are integral cents. Decimal strings are
// accepted only at the API boundary and converted immediately; no floating
// point is used anywhere in pricing or settlement.
package money

import (
	"errors"
	"fmt"
	"strings"
)

// Cents is an amount in minor currency units (e.g. 3750 = $37.50).
type Cents int64

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrTooPrecise    = errors.New("amount has more than two decimal places")
)

// Parse converts a decimal string with at most two fractional digits
// into Cents. Accepts "37.50", "37.5", "37", and "0.05".
func Parse(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, ErrInvalidAmount
	}
	if len(frac) > 2 {
		return 0, ErrTooPrecise
	}
	// Pad "5" to "50" so .5 means 50 cents.
	for len(frac) < 2 {
		frac += "0"
	}

	var total int64
	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, ErrInvalidAmount
			}
			total = total*10 + int64(r-'0')
			if total < 0 {
				return 0, ErrInvalidAmount // overflow
			}
		}
	}
	if neg {
		total = -total
	}
	return Cents(total), nil
}

// MustParse is Parse but panics on error. For tests and constants only.
func MustParse(s string) Cents {
	c, err := Parse(s)
	if err != nil {
		panic("money: " + err.Error())
	}
	return c
}

// String formats c as a two-place decimal ("37.50").
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Int64 returns the raw minor-unit value.
func (c Cents) Int64() int64 { return int64(c) }
