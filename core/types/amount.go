package types

import (
	"errors"
	"strings"

	"github.com/holiman/uint256"
)

// AmountBits is the width of every token amount handled by the ledger.
const AmountBits = 128

var (
	ErrAmountEmpty     = errors.New("types: amount must not be empty")
	ErrAmountSyntax    = errors.New("types: amount must be a base-10 unsigned integer")
	ErrAmountOverflow  = errors.New("types: amount exceeds 128 bits")
	ErrAmountUnderflow = errors.New("types: amount underflow")
)

// ParseAmount decodes a decimal string into a 128-bit amount.
func ParseAmount(s string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, ErrAmountEmpty
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return nil, ErrAmountSyntax
		}
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, ErrAmountOverflow
	}
	if !FitsAmount(value) {
		return nil, ErrAmountOverflow
	}
	return value, nil
}

// MustAmount is ParseAmount for constants and tests.
func MustAmount(s string) *uint256.Int {
	value, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return value
}

// FitsAmount reports whether v is non-nil and representable in 128 bits.
func FitsAmount(v *uint256.Int) bool {
	return v != nil && v.BitLen() <= AmountBits
}

// CloneAmount copies v, mapping nil to zero.
func CloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// CheckedAdd returns a+b, failing when the sum leaves the 128-bit range.
func CheckedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(CloneAmount(a), CloneAmount(b))
	if overflow || !FitsAmount(sum) {
		return nil, ErrAmountOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b, failing when b exceeds a.
func CheckedSub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(CloneAmount(a), CloneAmount(b))
	if underflow {
		return nil, ErrAmountUnderflow
	}
	return diff, nil
}

// FormatAmount renders v as a decimal string; nil renders as "0".
func FormatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
