package exchange

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/app/core"
	"github.com/uhyunpark/custodex/pkg/app/core/orderbook"
)

// DepositNative credits native currency the caller has already handed to
// custody.
func (x *Exchange) DepositNative(ctx context.Context, caller common.Address, amount *uint256.Int) (*core.DepositEvent, error) {
	var out *core.DepositEvent
	err := x.run(ctx, "deposit_native", func(ctx context.Context) (core.Event, error) {
		ev, err := x.ledger.DepositNative(ctx, caller, amount)
		out = ev
		return ev, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (x *Exchange) WithdrawNative(ctx context.Context, caller common.Address, amount *uint256.Int) (*core.WithdrawEvent, error) {
	var out *core.WithdrawEvent
	err := x.run(ctx, "withdraw_native", func(ctx context.Context) (core.Event, error) {
		ev, err := x.ledger.WithdrawNative(ctx, caller, amount)
		out = ev
		return ev, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DepositToken pulls tokens the caller approved to the custody account.
func (x *Exchange) DepositToken(ctx context.Context, caller common.Address, asset core.Asset, amount *uint256.Int) (*core.DepositEvent, error) {
	var out *core.DepositEvent
	err := x.run(ctx, "deposit_token", func(ctx context.Context) (core.Event, error) {
		ev, err := x.ledger.DepositToken(ctx, caller, asset, amount)
		out = ev
		return ev, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (x *Exchange) WithdrawToken(ctx context.Context, caller common.Address, asset core.Asset, amount *uint256.Int) (*core.WithdrawEvent, error) {
	var out *core.WithdrawEvent
	err := x.run(ctx, "withdraw_token", func(ctx context.Context) (core.Event, error) {
		ev, err := x.ledger.WithdrawToken(ctx, caller, asset, amount)
		out = ev
		return ev, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MakeOrder records an order and returns its id.
func (x *Exchange) MakeOrder(ctx context.Context, owner common.Address, buyAsset core.Asset, buyAmount *uint256.Int, sellAsset core.Asset, sellAmount *uint256.Int) (uint64, error) {
	var id uint64
	err := x.run(ctx, "make_order", func(context.Context) (core.Event, error) {
		o, ev, err := x.book.Make(owner, buyAsset, buyAmount, sellAsset, sellAmount)
		if err != nil {
			return nil, err
		}
		id = o.ID
		return ev, nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (x *Exchange) CancelOrder(ctx context.Context, caller common.Address, id uint64) (*core.CancelEvent, error) {
	var out *core.CancelEvent
	err := x.run(ctx, "cancel_order", func(context.Context) (core.Event, error) {
		ev, err := x.book.Cancel(caller, id)
		out = ev
		return ev, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (x *Exchange) FillOrder(ctx context.Context, filler common.Address, id uint64) (*core.TradeEvent, error) {
	var out *core.TradeEvent
	err := x.run(ctx, "fill_order", func(context.Context) (core.Event, error) {
		ev, err := x.engine.Fill(filler, id)
		out = ev
		return ev, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (x *Exchange) BalanceOf(ctx context.Context, asset core.Asset, account common.Address) *uint256.Int {
	defer x.view(ctx)()
	return x.ledger.BalanceOf(asset, account)
}

// Balances lists every non-zero ledger entry.
func (x *Exchange) Balances(ctx context.Context) []BalanceView {
	defer x.view(ctx)()
	all := x.ledger.Balances()
	out := make([]BalanceView, len(all))
	for i, b := range all {
		out[i] = BalanceView{Asset: b.Asset, Account: b.Account, Amount: b.Amount}
	}
	return out
}

// Holdings totals the ledger per asset: what custody owes its depositors.
func (x *Exchange) Holdings(ctx context.Context) (map[core.Asset]*uint256.Int, error) {
	defer x.view(ctx)()
	out := make(map[core.Asset]*uint256.Int)
	for _, b := range x.ledger.Balances() {
		sum, err := core.Add(core.AmountOrZero(out[b.Asset]), b.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "total %s", b.Asset)
		}
		out[b.Asset] = sum
	}
	return out, nil
}

// BalanceView is a ledger entry as exposed to callers.
type BalanceView struct {
	Asset   core.Asset     `json:"asset"`
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

func (x *Exchange) OrderCount(ctx context.Context) uint64 {
	defer x.view(ctx)()
	return x.book.Count()
}

// Order returns a copy of the order record; ok is false for unknown ids.
func (x *Exchange) Order(ctx context.Context, id uint64) (*orderbook.Order, bool) {
	defer x.view(ctx)()
	return x.book.Order(id)
}

func (x *Exchange) CancelledOrder(ctx context.Context, id uint64) bool {
	defer x.view(ctx)()
	return x.book.Cancelled(id)
}

func (x *Exchange) FilledOrder(ctx context.Context, id uint64) bool {
	defer x.view(ctx)()
	return x.book.Filled(id)
}

// RecentTrades returns up to limit fills, newest first.
func (x *Exchange) RecentTrades(ctx context.Context, limit int) ([]*core.TradeEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	defer x.view(ctx)()
	if x.store != nil {
		return x.store.RecentTrades(limit)
	}
	out := make([]*core.TradeEvent, 0, min(limit, len(x.recent)))
	for i := len(x.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, x.recent[i])
	}
	return out, nil
}
