// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package money implements fixed-point decimal amounts with exactly two
// fractional digits. Amounts are stored as int64 minor units (cents), so all
// arithmetic is exact; binary floating point is never involved. The wire and
// database representations are the string form ("10.00") and the raw minor
// units respectively.
package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a monetary value in minor units (hundredths).
type Amount int64

// ErrInvalidAmount indicates a string that is not a valid two-decimal amount.
var ErrInvalidAmount = errors.New("invalid decimal amount")

// Parse converts a decimal string such as "10", "7.5" or "27.50" into an
// Amount. At most two fractional digits are accepted.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}

	negative := false
	if s[0] == '-' {
		negative = true
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" || len(frac) > 2 {
		return 0, ErrInvalidAmount
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	cents := int64(0)
	if frac != "" {
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, ErrInvalidAmount
		}
		if len(frac) == 1 {
			cents *= 10
		}
	}

	total := units*100 + cents
	if negative {
		total = -total
	}
	return Amount(total), nil
}

// MustParse parses s and panics on error. For tests and constants only.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("money: %q: %v", s, err))
	}
	return a
}

// String renders the amount with exactly two fractional digits.
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return a + b
}

// MulInt returns the amount multiplied by an integer quantity.
func (a Amount) MulInt(n int64) Amount {
	return Amount(int64(a) * n)
}

// Minor returns the raw minor-unit value for persistence.
func (a Amount) Minor() int64 {
	return int64(a)
}

// FromMinor builds an Amount from persisted minor units.
func FromMinor(v int64) Amount {
	return Amount(v)
}

// MarshalJSON renders the amount as a JSON string ("27.50").
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts a JSON string holding a two-decimal amount.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
