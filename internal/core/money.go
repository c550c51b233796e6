// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from user input
// and formatting them for display.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a user-entered decimal string to a positive amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Unlike
// cents-based parsing it keeps every fractional digit, so crypto balances
// like 0.00002 survive unchanged. Returns ErrInvalidAmount for invalid
// formats, signed values, or zero.
//
// Examples:
//
//	ParseAmount("12.34")   -> 12.34, nil
//	ParseAmount("12,34")   -> 12.34, nil
//	ParseAmount("0.00002") -> 0.00002, nil
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, p := range parts {
		for _, r := range p {
			if !unicode.IsDigit(r) {
				return decimal.Zero, ErrInvalidAmount
			}
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseSignedAmount is ParseAmount for balances, which may be zero or negative.
func ParseSignedAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	if strings.Trim(strings.ReplaceAll(s, ",", "."), "0.") == "" && s != "" {
		return decimal.Zero, nil
	}
	d, err := ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	if neg {
		return d.Neg(), nil
	}
	return d, nil
}

// FormatAmount renders an amount with two decimals and an optional symbol,
// e.g. "€12.34" or "-$5.00".
func FormatAmount(d decimal.Decimal, symbol string) string {
	if d.IsNegative() {
		return "-" + symbol + d.Neg().StringFixed(2)
	}
	return symbol + d.StringFixed(2)
}
