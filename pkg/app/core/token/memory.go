package token

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrTransferExceedsBalance   = errors.New("transfer amount exceeds balance")
	ErrTransferExceedsAllowance = errors.New("transfer amount exceeds allowance")
	ErrZeroAddress              = errors.New("transfer to the zero address")
)

// MemoryToken is an in-process ERC-20 with 18 decimals by default.
type MemoryToken struct {
	Name     string
	Symbol   string
	Decimals uint8

	mu         sync.Mutex
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[[2]common.Address]*uint256.Int
}

func NewMemoryToken(name, symbol string) *MemoryToken {
	return &MemoryToken{
		Name:       name,
		Symbol:     symbol,
		Decimals:   18,
		supply:     new(uint256.Int),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[[2]common.Address]*uint256.Int),
	}
}

// Mint creates amount new units owned by to.
func (t *MemoryToken) Mint(to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	supply, overflow := new(uint256.Int).AddOverflow(t.supply, amount)
	if overflow {
		return errors.New("mint overflows total supply")
	}
	t.supply = supply
	t.balances[to] = new(uint256.Int).Add(t.balanceLocked(to), amount)
	return nil
}

// Approve sets spender's allowance over owner's funds.
func (t *MemoryToken) Approve(owner, spender common.Address, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[[2]common.Address{owner, spender}] = new(uint256.Int).Set(amount)
}

func (t *MemoryToken) TotalSupply() *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(uint256.Int).Set(t.supply)
}

func (t *MemoryToken) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(uint256.Int).Set(t.balanceLocked(owner)), nil
}

func (t *MemoryToken) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(uint256.Int).Set(t.allowanceLocked(owner, spender)), nil
}

func (t *MemoryToken) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moveLocked(from, to, amount)
}

func (t *MemoryToken) TransferFrom(_ context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	allowed := t.allowanceLocked(from, spender)
	if allowed.Lt(amount) {
		return errors.Wrapf(ErrTransferExceedsAllowance, "%s: allowance %s, need %s", t.Symbol, allowed.Dec(), amount.Dec())
	}
	if err := t.moveLocked(from, to, amount); err != nil {
		return err
	}
	t.allowances[[2]common.Address{from, spender}] = new(uint256.Int).Sub(allowed, amount)
	return nil
}

func (t *MemoryToken) moveLocked(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	have := t.balanceLocked(from)
	if have.Lt(amount) {
		return errors.Wrapf(ErrTransferExceedsBalance, "%s: balance %s, need %s", t.Symbol, have.Dec(), amount.Dec())
	}
	t.balances[from] = new(uint256.Int).Sub(have, amount)
	t.balances[to] = new(uint256.Int).Add(t.balanceLocked(to), amount)
	return nil
}

func (t *MemoryToken) balanceLocked(owner common.Address) *uint256.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(uint256.Int)
}

func (t *MemoryToken) allowanceLocked(owner, spender common.Address) *uint256.Int {
	if a, ok := t.allowances[[2]common.Address{owner, spender}]; ok {
		return a
	}
	return new(uint256.Int)
}

// Vault pays native currency out of the custody account of a bank token.
type Vault struct {
	Bank    *MemoryToken
	Custody common.Address
}

// Payout sends amount from custody to to.
func (v *Vault) Payout(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return v.Bank.Transfer(ctx, v.Custody, to, amount)
}
