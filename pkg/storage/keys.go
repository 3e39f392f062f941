package storage

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core"
)

// Key schema:
//
//	bal:<asset>:<account>  -> 32-byte big-endian amount
//	ord:<id %020d>         -> order JSON
//	trade:<seq %020d>      -> trade JSON
//	nonce:<account>        -> 8-byte big-endian last used nonce
//	meta:orders            -> order count
//	meta:trades            -> trade count
//
// Fixed-width ids keep the iteration order numeric.
const (
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixTrade   = "trade:"
	prefixNonce   = "nonce:"
)

var (
	keyOrderCount = []byte("meta:orders")
	keyTradeCount = []byte("meta:trades")
)

// Format: "bal:{asset}:{account}"
func balanceKey(asset core.Asset, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), account.Hex()))
}

func balanceKeyFromBytes(key []byte) (core.Asset, common.Address, error) {
	rest := strings.TrimPrefix(string(key), prefixBalance)
	assetHex, accountHex, ok := strings.Cut(rest, ":")
	if !ok || !common.IsHexAddress(assetHex) || !common.IsHexAddress(accountHex) {
		return core.Asset{}, common.Address{}, errors.Newf("invalid balance key %q", key)
	}
	return core.AssetFromAddress(common.HexToAddress(assetHex)), common.HexToAddress(accountHex), nil
}

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func tradeKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixTrade, seq))
}

func nonceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNonce, addr.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
