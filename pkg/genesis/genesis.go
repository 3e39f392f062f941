// Package genesis seeds a dev node's in-process host chain: token
// contracts with balances and allowances toward custody, and native funds.
//
//	native:
//	  "0xB0b...": "50000000000000000000"
//	tokens:
//	  - symbol: GEM
//	    name: Gem
//	    address: "0x...06e3"
//	    balances:
//	      "0xA11ce...": "100000000000000000000"
//	    approvals:
//	      "0xA11ce...": "100000000000000000000"
package genesis

import (
	"context"
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/custodex/pkg/app/core"
	"github.com/uhyunpark/custodex/pkg/app/core/token"
)

type Token struct {
	Name    string `yaml:"name"`
	Symbol  string `yaml:"symbol"`
	Address string `yaml:"address"`
	// account → amount, base-10 smallest units
	Balances map[string]string `yaml:"balances"`
	// account → allowance granted to the custody account
	Approvals map[string]string `yaml:"approvals"`
}

type Genesis struct {
	Native map[string]string `yaml:"native"`
	Tokens []Token           `yaml:"tokens"`
}

// Host is the seeded chain the exchange talks to.
type Host struct {
	Tokens *token.MemoryRegistry
	Bank   *token.MemoryToken
	// Symbols maps registered assets to their ticker.
	Symbols map[core.Asset]string

	minted map[core.Asset]*token.MemoryToken
}

func Load(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read genesis file")
	}
	return Parse(data)
}

func Parse(data []byte) (*Genesis, error) {
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, errors.Wrap(err, "failed to parse genesis")
	}
	return &g, nil
}

// Empty is a host with no tokens and no native funds.
func Empty() *Host {
	return &Host{
		Tokens:  token.NewMemoryRegistry(),
		Bank:    token.NewMemoryToken("Ether", "ETH"),
		Symbols: make(map[core.Asset]string),
		minted:  make(map[core.Asset]*token.MemoryToken),
	}
}

// Build mints every balance and sets every approval toward custody.
func (g *Genesis) Build(custody common.Address) (*Host, error) {
	h := Empty()
	if err := mint(h.Bank, g.Native); err != nil {
		return nil, errors.Wrap(err, "native")
	}

	for i, t := range g.Tokens {
		if !common.IsHexAddress(t.Address) {
			return nil, errors.Newf("token %d (%s): invalid address %q", i, t.Symbol, t.Address)
		}
		asset := core.AssetFromAddress(common.HexToAddress(t.Address))
		if asset.IsNative() {
			return nil, errors.Wrapf(core.ErrNativeAssetNotAllowed, "token %s", t.Symbol)
		}
		if _, dup := h.Symbols[asset]; dup {
			return nil, errors.Newf("token %s: address %s registered twice", t.Symbol, asset.Hex())
		}

		mt := token.NewMemoryToken(t.Name, t.Symbol)
		if err := mint(mt, t.Balances); err != nil {
			return nil, errors.Wrapf(err, "token %s", t.Symbol)
		}
		for _, owner := range sortedKeys(t.Approvals) {
			addr, amount, err := entry(owner, t.Approvals[owner])
			if err != nil {
				return nil, errors.Wrapf(err, "token %s approval", t.Symbol)
			}
			mt.Approve(addr, custody, amount)
		}
		if err := h.Tokens.Register(asset, mt); err != nil {
			return nil, err
		}
		h.Symbols[asset] = t.Symbol
		h.minted[asset] = mt
	}
	return h, nil
}

// Backfill mints into custody whatever it lacks to cover owed. The host is
// rebuilt from genesis on every start while the ledger is restored from
// disk, so custody starts out without the funds depositors left with it.
func (h *Host) Backfill(ctx context.Context, custody common.Address, owed map[core.Asset]*uint256.Int) error {
	for asset, amount := range owed {
		t := h.Bank
		if !asset.IsNative() {
			mt, ok := h.minted[asset]
			if !ok {
				return errors.Wrapf(token.ErrUnknownToken, "backfill %s", asset.Hex())
			}
			t = mt
		}
		held, err := t.BalanceOf(ctx, custody)
		if err != nil {
			return err
		}
		if held.Cmp(amount) >= 0 {
			continue
		}
		if err := t.Mint(custody, new(uint256.Int).Sub(amount, held)); err != nil {
			return errors.Wrapf(err, "backfill %s", asset.Hex())
		}
	}
	return nil
}

func mint(t *token.MemoryToken, balances map[string]string) error {
	for _, owner := range sortedKeys(balances) {
		addr, amount, err := entry(owner, balances[owner])
		if err != nil {
			return err
		}
		if err := t.Mint(addr, amount); err != nil {
			return errors.Wrapf(err, "mint to %s", addr.Hex())
		}
	}
	return nil
}

func entry(owner, amount string) (common.Address, *uint256.Int, error) {
	if !common.IsHexAddress(owner) {
		return common.Address{}, nil, errors.Newf("invalid account %q", owner)
	}
	v, err := core.ParseAmount(amount)
	if err != nil {
		return common.Address{}, nil, err
	}
	return common.HexToAddress(owner), v, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
