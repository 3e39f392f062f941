package ledger

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/app/core"
)

// DepositNative credits the native amount attached to the caller's call.
func (l *Ledger) DepositNative(_ context.Context, caller common.Address, amount *uint256.Int) (*core.DepositEvent, error) {
	balance, err := l.Credit(core.Native, caller, amount)
	if err != nil {
		return nil, err
	}
	return &core.DepositEvent{
		Asset:   core.Native,
		Account: caller,
		Amount:  new(uint256.Int).Set(amount),
		Balance: balance,
	}, nil
}

// DepositToken pulls amount of asset from the caller into custody and
// credits it. External balance and allowance are checked here, before the
// transfer, so the two failures stay distinguishable.
func (l *Ledger) DepositToken(ctx context.Context, caller common.Address, asset core.Asset, amount *uint256.Int) (*core.DepositEvent, error) {
	if asset.IsNative() {
		return nil, errors.Wrap(core.ErrNativeAssetNotAllowed, "cannot deposit native currency as a token")
	}
	c, err := l.tokens.Contract(asset)
	if err != nil {
		return nil, err
	}

	have, err := c.BalanceOf(ctx, caller)
	if err != nil {
		return nil, external(err, "balanceOf", asset)
	}
	if have.Lt(amount) {
		return nil, errors.Wrapf(core.ErrInsufficientExternalBalance, "%s holds %s of %s, deposit needs %s", caller.Hex(), have.Dec(), asset.Hex(), amount.Dec())
	}
	allowed, err := c.Allowance(ctx, caller, l.custody)
	if err != nil {
		return nil, external(err, "allowance", asset)
	}
	if allowed.Lt(amount) {
		return nil, errors.Wrapf(core.ErrInsufficientAllowance, "%s approved %s of %s, deposit needs %s", caller.Hex(), allowed.Dec(), asset.Hex(), amount.Dec())
	}
	if _, err := core.Add(l.BalanceOf(asset, caller), amount); err != nil {
		return nil, err
	}

	if err := c.TransferFrom(ctx, l.custody, caller, l.custody, amount); err != nil {
		return nil, external(err, "transferFrom", asset)
	}
	balance, err := l.Credit(asset, caller, amount)
	if err != nil {
		// A re-entrant credit pushed the balance to the limit while the pull was
		// in flight; hand the tokens back.
		if rerr := c.Transfer(ctx, l.custody, caller, amount); rerr != nil {
			return nil, errors.CombineErrors(err, external(rerr, "refund", asset))
		}
		return nil, err
	}
	return &core.DepositEvent{
		Asset:   asset,
		Account: caller,
		Amount:  new(uint256.Int).Set(amount),
		Balance: balance,
	}, nil
}

// WithdrawNative debits the caller and then pays the native amount out.
func (l *Ledger) WithdrawNative(ctx context.Context, caller common.Address, amount *uint256.Int) (*core.WithdrawEvent, error) {
	snap := l.Snapshot()
	if _, err := l.Debit(core.Native, caller, amount); err != nil {
		return nil, errors.Wrap(err, "not enough native balance")
	}
	if err := l.beforeTransfer(ctx); err != nil {
		l.RevertToSnapshot(snap)
		return nil, err
	}
	if err := l.vault.Payout(ctx, caller, amount); err != nil {
		l.RevertToSnapshot(snap)
		return nil, external(err, "payout", core.Native)
	}
	return &core.WithdrawEvent{
		Asset:   core.Native,
		Account: caller,
		Amount:  new(uint256.Int).Set(amount),
		Balance: l.BalanceOf(core.Native, caller),
	}, nil
}

// WithdrawToken debits the caller and then transfers the tokens out of
// custody. The debit happens first so a re-entrant call made by the token
// contract sees the reduced balance.
func (l *Ledger) WithdrawToken(ctx context.Context, caller common.Address, asset core.Asset, amount *uint256.Int) (*core.WithdrawEvent, error) {
	if asset.IsNative() {
		return nil, errors.Wrap(core.ErrNativeAssetNotAllowed, "cannot withdraw native currency as a token")
	}
	c, err := l.tokens.Contract(asset)
	if err != nil {
		return nil, err
	}

	snap := l.Snapshot()
	if _, err := l.Debit(asset, caller, amount); err != nil {
		return nil, errors.Wrap(err, "not enough token balance")
	}
	if err := l.beforeTransfer(ctx); err != nil {
		l.RevertToSnapshot(snap)
		return nil, err
	}
	if err := c.Transfer(ctx, l.custody, caller, amount); err != nil {
		l.RevertToSnapshot(snap)
		return nil, external(err, "transfer", asset)
	}
	return &core.WithdrawEvent{
		Asset:   asset,
		Account: caller,
		Amount:  new(uint256.Int).Set(amount),
		Balance: l.BalanceOf(asset, caller),
	}, nil
}

func (l *Ledger) beforeTransfer(ctx context.Context) error {
	if l.checkpoint == nil {
		return nil
	}
	return l.checkpoint(ctx)
}

func external(err error, op string, asset core.Asset) error {
	return errors.Mark(errors.Wrapf(err, "%s on %s", op, asset), core.ErrExternalCallFailed)
}
