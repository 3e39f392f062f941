// Package core holds the types shared by the ledger, the order book and the
// settlement engine: asset references, amounts, error kinds and notifications.
package core

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
)

// Asset identifies either the native currency or an external token contract.
// The zero address is reserved for the native currency.
type Asset common.Address

// Native is the reserved sentinel for the native currency.
var Native = Asset{}

// AssetFromAddress wraps a token contract address.
func AssetFromAddress(addr common.Address) Asset {
	return Asset(addr)
}

// ParseAsset accepts a 0x-prefixed contract address, or "native"/"eth" for
// the native currency.
func ParseAsset(s string) (Asset, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "native", "eth", "ether":
		return Native, nil
	}
	if !common.IsHexAddress(s) {
		return Asset{}, errors.Newf("invalid asset reference %q", s)
	}
	return Asset(common.HexToAddress(s)), nil
}

// IsNative reports whether a is the native currency sentinel.
func (a Asset) IsNative() bool {
	return a == Native
}

// Address returns the underlying contract address (zero for native).
func (a Asset) Address() common.Address {
	return common.Address(a)
}

// Hex returns the EIP-55 checksummed address.
func (a Asset) Hex() string {
	return common.Address(a).Hex()
}

func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return a.Hex()
}

// MarshalText encodes the asset as its hex address so the sentinel stays
// unambiguous on the wire.
func (a Asset) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Asset) UnmarshalText(b []byte) error {
	parsed, err := ParseAsset(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
