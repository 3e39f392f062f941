// Package token describes the external fungible-asset capability the ledger
// relies on, and ships an in-process ERC-20 used by tests and the dev node.
package token

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/app/core"
)

// ErrUnknownToken is returned by a Registry for assets it cannot resolve.
var ErrUnknownToken = errors.New("unknown token contract")

// Contract is the ERC-20 subset the ledger calls. A returned error is a
// revert: the contract made no state change.
//
// Implementations may call back into the exchange while a transfer is in
// flight; they must pass the received context through when they do.
type Contract interface {
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
	// Transfer moves amount from the calling account (from) to to.
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	// TransferFrom moves amount from from to to, spending spender's allowance.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
}

// Registry resolves asset references to contracts.
type Registry interface {
	Contract(asset core.Asset) (Contract, error)
}

// MemoryRegistry is a Registry over a fixed set of contracts.
type MemoryRegistry struct {
	mu        sync.RWMutex
	contracts map[core.Asset]Contract
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{contracts: make(map[core.Asset]Contract)}
}

// Register binds asset to c. The native sentinel cannot be registered.
func (r *MemoryRegistry) Register(asset core.Asset, c Contract) error {
	if asset.IsNative() {
		return errors.Wrap(core.ErrNativeAssetNotAllowed, "register token")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts[asset] = c
	return nil
}

func (r *MemoryRegistry) Contract(asset core.Asset) (Contract, error) {
	if asset.IsNative() {
		return nil, core.ErrNativeAssetNotAllowed
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[asset]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownToken, "asset %s", asset.Hex())
	}
	return c, nil
}

// Assets lists registered assets.
func (r *MemoryRegistry) Assets() []core.Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Asset, 0, len(r.contracts))
	for a := range r.contracts {
		out = append(out, a)
	}
	return out
}
