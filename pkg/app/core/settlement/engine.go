// Package settlement fills open orders: it moves both legs of a trade and
// the fee through the ledger as one unit.
package settlement

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/app/core"
	"github.com/uhyunpark/custodex/pkg/app/core/ledger"
	"github.com/uhyunpark/custodex/pkg/app/core/orderbook"
)

const MaxFeePercent = 100

type Engine struct {
	ledger *ledger.Ledger
	book   *orderbook.Book

	feeAccount common.Address
	feePercent *uint256.Int
}

// New fails with core.ErrInvalidFeePercent when feePercent > 100.
func New(l *ledger.Ledger, b *orderbook.Book, feeAccount common.Address, feePercent uint64) (*Engine, error) {
	if feePercent > MaxFeePercent {
		return nil, errors.Wrapf(core.ErrInvalidFeePercent, "got %d", feePercent)
	}
	return &Engine{
		ledger:     l,
		book:       b,
		feeAccount: feeAccount,
		feePercent: uint256.NewInt(feePercent),
	}, nil
}

func (e *Engine) FeeAccount() common.Address { return e.feeAccount }

func (e *Engine) FeePercent() uint64 { return e.feePercent.Uint64() }

// Fee is floor(buyAmount * feePercent / 100), charged to the filler in the
// order's buy asset.
func (e *Engine) Fee(buyAmount *uint256.Int) *uint256.Int {
	// the product is taken at 512 bits; with percent <= 100 the quotient fits
	fee, _ := new(uint256.Int).MulDivOverflow(buyAmount, e.feePercent, uint256.NewInt(100))
	return fee
}

// Fill settles order id against filler. The filler pays BuyAmount plus the
// fee in the buy asset and receives SellAmount of the sell asset from the
// owner. Balances are checked here because orders are not escrowed.
func (e *Engine) Fill(filler common.Address, id uint64) (*core.TradeEvent, error) {
	o, ok := e.book.Order(id)
	if !ok {
		return nil, errors.Wrapf(core.ErrOrderNotFound, "order %d (count %d)", id, e.book.Count())
	}
	if o.Status != orderbook.Open {
		return nil, errors.Wrapf(core.ErrOrderAlreadyFinalized, "order %d is %s", id, o.Status)
	}

	fee := e.Fee(o.BuyAmount)
	cost, err := core.Add(o.BuyAmount, fee)
	if err != nil {
		return nil, errors.Wrapf(core.ErrInsufficientBalance, "not enough tokens: order %d costs more than any balance", id)
	}
	if have := e.ledger.BalanceOf(o.BuyAsset, filler); have.Lt(cost) {
		return nil, errors.Wrapf(core.ErrInsufficientBalance, "not enough tokens: filler has %s of %s, needs %s", have.Dec(), o.BuyAsset, cost.Dec())
	}
	if have := e.ledger.BalanceOf(o.SellAsset, o.Owner); have.Lt(o.SellAmount) {
		return nil, errors.Wrapf(core.ErrInsufficientBalance, "not enough tokens: maker has %s of %s, order sells %s", have.Dec(), o.SellAsset, o.SellAmount.Dec())
	}

	ls, bs := e.ledger.Snapshot(), e.book.Snapshot()
	filled, err := e.settle(o, filler, cost, fee)
	if err != nil {
		e.ledger.RevertToSnapshot(ls)
		e.book.RevertToSnapshot(bs)
		return nil, err
	}
	return &core.TradeEvent{
		ID:         filled.ID,
		Owner:      filled.Owner,
		BuyAsset:   filled.BuyAsset,
		BuyAmount:  filled.BuyAmount,
		SellAsset:  filled.SellAsset,
		SellAmount: filled.SellAmount,
		Filler:     filler,
		Fee:        fee,
		Timestamp:  filled.ClosedAt,
	}, nil
}

func (e *Engine) settle(o *orderbook.Order, filler common.Address, cost, fee *uint256.Int) (*orderbook.Order, error) {
	if _, err := e.ledger.Debit(o.BuyAsset, filler, cost); err != nil {
		return nil, err
	}
	if _, err := e.ledger.Credit(o.BuyAsset, o.Owner, o.BuyAmount); err != nil {
		return nil, err
	}
	if _, err := e.ledger.Credit(o.BuyAsset, e.feeAccount, fee); err != nil {
		return nil, err
	}
	if _, err := e.ledger.Debit(o.SellAsset, o.Owner, o.SellAmount); err != nil {
		return nil, err
	}
	if _, err := e.ledger.Credit(o.SellAsset, filler, o.SellAmount); err != nil {
		return nil, err
	}
	return e.book.MarkFilled(o.ID, filler)
}
