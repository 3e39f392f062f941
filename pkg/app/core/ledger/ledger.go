// Package ledger is the custodial balance book: (asset, account) -> amount.
//
// The ledger is not safe for concurrent use; the exchange serializes calls.
// Every mutation is journaled so a failed call can be rolled back to a
// snapshot with no observable change.
package ledger

import (
	"context"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/app/core"
	"github.com/uhyunpark/custodex/pkg/app/core/token"
)

// NativeVault pays native currency out of custody.
type NativeVault interface {
	Payout(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// Balance is one ledger entry.
type Balance struct {
	Asset   core.Asset
	Account common.Address
	Amount  *uint256.Int
}

type Ledger struct {
	custody common.Address
	tokens  token.Registry
	vault   NativeVault

	balances map[key]*uint256.Int
	journal  journal

	// checkpoint runs after a withdrawal's debit and before the asset leaves
	// custody.
	checkpoint func(ctx context.Context) error
}

// New creates an empty ledger. custody is the account that holds deposited
// tokens and that depositors approve as spender.
func New(custody common.Address, tokens token.Registry, vault NativeVault) *Ledger {
	return &Ledger{
		custody:  custody,
		tokens:   tokens,
		vault:    vault,
		balances: make(map[key]*uint256.Int),
	}
}

// SetCheckpoint installs fn to run between a withdrawal's debit and its
// external transfer. An error aborts the withdrawal before anything is paid
// out.
func (l *Ledger) SetCheckpoint(fn func(ctx context.Context) error) {
	l.checkpoint = fn
}

// Custody returns the custody account.
func (l *Ledger) Custody() common.Address {
	return l.custody
}

// BalanceOf returns a copy of the stored amount, zero if never touched.
func (l *Ledger) BalanceOf(asset core.Asset, account common.Address) *uint256.Int {
	return core.AmountOrZero(l.balances[key{asset, account}])
}

// Credit adds amount and returns the new balance.
func (l *Ledger) Credit(asset core.Asset, account common.Address, amount *uint256.Int) (*uint256.Int, error) {
	k := key{asset, account}
	prev := l.balances[k]
	next, err := core.Add(core.AmountOrZero(prev), amount)
	if err != nil {
		return nil, errors.Wrapf(err, "credit %s to %s", asset, account.Hex())
	}
	l.journal.append(k, prev)
	l.balances[k] = next
	return new(uint256.Int).Set(next), nil
}

// Debit subtracts amount and returns the new balance. It fails with
// core.ErrInsufficientBalance rather than going negative.
func (l *Ledger) Debit(asset core.Asset, account common.Address, amount *uint256.Int) (*uint256.Int, error) {
	k := key{asset, account}
	prev := l.balances[k]
	next, err := core.Sub(core.AmountOrZero(prev), amount)
	if err != nil {
		return nil, errors.Wrapf(err, "debit %s from %s", asset, account.Hex())
	}
	l.journal.append(k, prev)
	l.balances[k] = next
	return new(uint256.Int).Set(next), nil
}

// Snapshot returns an id to pass to RevertToSnapshot.
func (l *Ledger) Snapshot() int {
	return l.journal.length()
}

// RevertToSnapshot undoes every mutation made after the snapshot was taken.
func (l *Ledger) RevertToSnapshot(id int) {
	l.journal.revert(l.balances, id)
}

// Pending returns the entries changed since the previous commit with their
// current amounts. Entries a revert put back are included; a zero amount
// means the entry is gone.
func (l *Ledger) Pending() []Balance {
	keys := l.journal.touched()
	out := make([]Balance, 0, len(keys))
	for _, k := range keys {
		out = append(out, Balance{Asset: k.asset, Account: k.account, Amount: l.BalanceOf(k.asset, k.account)})
	}
	return out
}

// Commit forgets the journal once Pending has been persisted. Snapshots
// taken before it are no longer valid.
func (l *Ledger) Commit() {
	l.journal.reset()
}

// Restore loads a persisted entry without journaling it.
func (l *Ledger) Restore(b Balance) {
	if b.Amount == nil || b.Amount.IsZero() {
		delete(l.balances, key{b.Asset, b.Account})
		return
	}
	l.balances[key{b.Asset, b.Account}] = new(uint256.Int).Set(b.Amount)
}

// Balances returns every non-zero entry ordered by asset then account.
func (l *Ledger) Balances() []Balance {
	out := make([]Balance, 0, len(l.balances))
	for k, v := range l.balances {
		if v.IsZero() {
			continue
		}
		out = append(out, Balance{Asset: k.asset, Account: k.account, Amount: new(uint256.Int).Set(v)})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := strings.Compare(out[i].Asset.Hex(), out[j].Asset.Hex()); c != 0 {
			return c < 0
		}
		return strings.Compare(out[i].Account.Hex(), out[j].Account.Hex()) < 0
	})
	return out
}
