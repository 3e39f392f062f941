package core

import (
	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
)

// ParseAmount parses a base-10 integer amount in the asset's smallest unit.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid amount %q", s)
	}
	return v, nil
}

// AmountOrZero returns a copy of v, or zero when v is nil.
func AmountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// Add returns a+b, failing with ErrAmountOverflow past 2^256-1.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, errors.Wrapf(ErrAmountOverflow, "%s + %s", a.Dec(), b.Dec())
	}
	return sum, nil
}

// Sub returns a-b, failing with ErrInsufficientBalance when b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, errors.Wrapf(ErrInsufficientBalance, "have %s, need %s", a.Dec(), b.Dec())
	}
	return diff, nil
}

// Ether converts a whole number of 18-decimal units into base units.
func Ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}
