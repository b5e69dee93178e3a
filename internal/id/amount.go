package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// NormalizeAmount accepts exactly one of a base-unit integer string or a
// decimal string and returns the positive base-unit amount plus its decimal
// rendering. No floating point is involved.
func NormalizeAmount(baseUnits, decimal string, decimals int) (*big.Int, string, error) {
	baseUnits = strings.TrimSpace(baseUnits)
	decimal = strings.TrimSpace(decimal)
	if baseUnits != "" && decimal != "" {
		return nil, "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if baseUnits == "" && decimal == "" {
		return nil, "", clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return nil, "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		n, ok := new(big.Int).SetString(baseUnits, 10)
		if !ok || strings.HasPrefix(baseUnits, "-") {
			return nil, "", clierr.New(clierr.CodeUsage, "--amount must be a positive integer string")
		}
		if n.Sign() <= 0 {
			return nil, "", clierr.New(clierr.CodeUsage, "--amount must be greater than zero")
		}
		return n, FormatDecimal(n, decimals), nil
	}

	if !decimalPattern.MatchString(decimal) {
		return nil, "", clierr.New(clierr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
	}
	n, err := decimalToBaseUnits(decimal, decimals)
	if err != nil {
		return nil, "", err
	}
	if n.Sign() <= 0 {
		return nil, "", clierr.New(clierr.CodeUsage, "--amount-decimal must be greater than zero")
	}
	return n, FormatDecimal(n, decimals), nil
}

// FormatDecimal renders base units as a decimal string with trailing zeros trimmed.
func FormatDecimal(n *big.Int, decimals int) string {
	if n == nil {
		return "0"
	}
	if decimals == 0 {
		return n.String()
	}
	neg := n.Sign() < 0
	s := new(big.Int).Abs(n).String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	out := intPart
	if fracPart != "" {
		out = intPart + "." + fracPart
	}
	if neg {
		return "-" + out
	}
	return out
}

func decimalToBaseUnits(decimal string, decimals int) (*big.Int, error) {
	parts := strings.SplitN(decimal, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > decimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	combined := strings.TrimLeft(intPart+fracPart+strings.Repeat("0", decimals-len(fracPart)), "0")
	if combined == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return n, nil
}
