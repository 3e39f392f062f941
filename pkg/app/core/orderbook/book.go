// Package orderbook keeps the registry of orders and their lifecycle.
//
// Orders are addressed by a dense id starting at 1. Funds are not escrowed:
// making an order only checks the owner's balance at that moment, so an open
// order may later be unfillable.
package orderbook

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/app/core"
	"github.com/uhyunpark/custodex/pkg/util"
)

// BalanceReader is the ledger read the book needs when accepting an order.
type BalanceReader interface {
	BalanceOf(asset core.Asset, account common.Address) *uint256.Int
}

// entry undoes one mutation: prev == nil means the order was created.
type entry struct {
	id   uint64
	prev *Order
}

type Book struct {
	balances BalanceReader
	clock    util.Clock

	orders  []*Order // orders[i].ID == i+1
	journal []entry
	dirty   map[uint64]struct{} // ids touched since the last commit, reverts included
}

func New(balances BalanceReader, clock util.Clock) *Book {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Book{balances: balances, clock: clock, dirty: make(map[uint64]struct{})}
}

// Make records a new open order owned by owner and returns it with its
// creation notification.
func (b *Book) Make(owner common.Address, buyAsset core.Asset, buyAmount *uint256.Int, sellAsset core.Asset, sellAmount *uint256.Int) (*Order, *core.OrderEvent, error) {
	have := b.balances.BalanceOf(sellAsset, owner)
	if have.Lt(sellAmount) {
		return nil, nil, errors.Wrapf(core.ErrInsufficientBalance, "not enough tokens: have %s of %s, order sells %s", have.Dec(), sellAsset, sellAmount.Dec())
	}
	o := &Order{
		ID:         uint64(len(b.orders)) + 1,
		Owner:      owner,
		BuyAsset:   buyAsset,
		BuyAmount:  core.AmountOrZero(buyAmount),
		SellAsset:  sellAsset,
		SellAmount: core.AmountOrZero(sellAmount),
		CreatedAt:  b.clock.Now().Unix(),
		Status:     Open,
	}
	b.orders = append(b.orders, o)
	b.record(entry{id: o.ID})
	return o.clone(), o.OrderEvent(), nil
}

// Cancel closes an open order on behalf of its owner.
func (b *Book) Cancel(caller common.Address, id uint64) (*core.CancelEvent, error) {
	o, err := b.lookup(id)
	if err != nil {
		return nil, err
	}
	if o.Owner != caller {
		return nil, errors.Wrapf(core.ErrNotOrderOwner, "order %d is owned by %s", id, o.Owner.Hex())
	}
	if o.Status != Open {
		return nil, errors.Wrapf(core.ErrOrderAlreadyFinalized, "order %d is %s", id, o.Status)
	}
	now := b.clock.Now().Unix()
	b.close(o, Cancelled, common.Address{}, now)
	return o.cancelEvent(now), nil
}

// MarkFilled moves an open order to Filled. The settlement engine calls it
// after the balance transfers succeed.
func (b *Book) MarkFilled(id uint64, filler common.Address) (*Order, error) {
	o, err := b.lookup(id)
	if err != nil {
		return nil, err
	}
	if o.Status != Open {
		return nil, errors.Wrapf(core.ErrOrderAlreadyFinalized, "order %d is %s", id, o.Status)
	}
	b.close(o, Filled, filler, b.clock.Now().Unix())
	return b.orders[id-1].clone(), nil
}

func (b *Book) close(o *Order, status Status, filler common.Address, at int64) {
	b.record(entry{id: o.ID, prev: o})
	next := o.clone()
	next.Status = status
	next.Filler = filler
	next.ClosedAt = at
	b.orders[o.ID-1] = next
}

func (b *Book) lookup(id uint64) (*Order, error) {
	if id == 0 || id > uint64(len(b.orders)) {
		return nil, errors.Wrapf(core.ErrOrderNotFound, "order %d (count %d)", id, len(b.orders))
	}
	return b.orders[id-1], nil
}

// Count is the number of orders ever made; also the id of the newest one.
func (b *Book) Count() uint64 {
	return uint64(len(b.orders))
}

// Order returns a copy of the record for id.
func (b *Book) Order(id uint64) (*Order, bool) {
	o, err := b.lookup(id)
	if err != nil {
		return nil, false
	}
	return o.clone(), true
}

func (b *Book) Status(id uint64) (Status, bool) {
	o, err := b.lookup(id)
	if err != nil {
		return Open, false
	}
	return o.Status, true
}

// Cancelled reports false for unknown ids.
func (b *Book) Cancelled(id uint64) bool {
	s, ok := b.Status(id)
	return ok && s == Cancelled
}

// Filled reports false for unknown ids.
func (b *Book) Filled(id uint64) bool {
	s, ok := b.Status(id)
	return ok && s == Filled
}

func (b *Book) Snapshot() int {
	return len(b.journal)
}

// RevertToSnapshot undoes every make and status change after the snapshot.
func (b *Book) RevertToSnapshot(id int) {
	for i := len(b.journal) - 1; i >= id; i-- {
		e := b.journal[i]
		if e.prev == nil {
			// creations are appended in id order, so this is always the tail
			b.orders = b.orders[:e.id-1]
			continue
		}
		b.orders[e.id-1] = e.prev
	}
	b.journal = b.journal[:id]
}

func (b *Book) record(e entry) {
	b.journal = append(b.journal, e)
	b.dirty[e.id] = struct{}{}
}

// Pending returns copies of the orders created or changed since the
// previous commit, in id order, and the ids of orders that were created and
// then reverted away.
func (b *Book) Pending() (changed []*Order, dropped []uint64) {
	for id := range b.dirty {
		if id > uint64(len(b.orders)) {
			dropped = append(dropped, id)
			continue
		}
		changed = append(changed, b.orders[id-1].clone())
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].ID < changed[j].ID })
	sort.Slice(dropped, func(i, j int) bool { return dropped[i] < dropped[j] })
	return changed, dropped
}

// Commit clears the journal once Pending has been persisted.
func (b *Book) Commit() {
	b.journal = b.journal[:0]
	clear(b.dirty)
}

// Restore replaces the book with persisted orders. The ids must be dense
// from 1.
func (b *Book) Restore(orders []*Order) error {
	sorted := make([]*Order, len(orders))
	copy(sorted, orders)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for i, o := range sorted {
		if o.ID != uint64(i)+1 {
			return errors.Newf("order ids not dense: expected %d, found %d", i+1, o.ID)
		}
	}
	b.orders = b.orders[:0]
	for _, o := range sorted {
		b.orders = append(b.orders, o.clone())
	}
	b.Commit()
	return nil
}
