// Package storage persists committed exchange state.
//
// Every successful exchange call hands its changes to Commit as one
// ChangeSet, which is written atomically. Reopening a store and replaying
// LoadState yields the state as of the last commit.
package storage

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core"
	"github.com/uhyunpark/custodex/pkg/app/core/ledger"
	"github.com/uhyunpark/custodex/pkg/app/core/orderbook"
)

// ChangeSet is everything one call changed.
type ChangeSet struct {
	Balances []ledger.Balance
	Orders   []*orderbook.Order
	// DroppedOrders are ids written by an earlier flush of the same call
	// whose creation was then rolled back. They are always the newest ids.
	DroppedOrders []uint64
	Trades        []*core.TradeEvent
}

func (cs *ChangeSet) Empty() bool {
	return cs == nil || len(cs.Balances)+len(cs.Orders)+len(cs.DroppedOrders)+len(cs.Trades) == 0
}

// State is the full persisted book, used to rebuild the in-memory state.
type State struct {
	Balances   []ledger.Balance
	Orders     []*orderbook.Order
	TradeCount uint64
}

type Store interface {
	Commit(cs *ChangeSet) error
	LoadState() (*State, error)
	// RecentTrades returns up to limit trades, newest first.
	RecentTrades(limit int) ([]*core.TradeEvent, error)

	// Nonce is the last nonce accepted for addr, zero if none.
	Nonce(addr common.Address) (uint64, error)
	SetNonce(addr common.Address, nonce uint64) error

	Close() error
}
