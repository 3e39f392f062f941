package storage

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core"
	"github.com/uhyunpark/custodex/pkg/app/core/ledger"
	"github.com/uhyunpark/custodex/pkg/app/core/orderbook"
)

type balanceID struct {
	asset   core.Asset
	account common.Address
}

// MemoryStore keeps committed state in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[balanceID]ledger.Balance
	orders   map[uint64]*orderbook.Order
	trades   []*core.TradeEvent
	nonces   map[common.Address]uint64

	// FailCommit, when set, is returned by Commit.
	FailCommit error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[balanceID]ledger.Balance),
		orders:   make(map[uint64]*orderbook.Order),
		nonces:   make(map[common.Address]uint64),
	}
}

func (s *MemoryStore) Commit(cs *ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCommit != nil {
		return s.FailCommit
	}
	if cs.Empty() {
		return nil
	}
	for _, b := range cs.Balances {
		id := balanceID{b.Asset, b.Account}
		if b.Amount == nil || b.Amount.IsZero() {
			delete(s.balances, id)
			continue
		}
		s.balances[id] = ledger.Balance{Asset: b.Asset, Account: b.Account, Amount: core.AmountOrZero(b.Amount)}
	}
	for _, o := range cs.Orders {
		cp := *o
		s.orders[o.ID] = &cp
	}
	for _, id := range cs.DroppedOrders {
		delete(s.orders, id)
	}
	s.trades = append(s.trades, cs.Trades...)
	return nil
}

func (s *MemoryStore) LoadState() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &State{TradeCount: uint64(len(s.trades))}
	for _, b := range s.balances {
		st.Balances = append(st.Balances, b)
	}
	for _, o := range s.orders {
		cp := *o
		st.Orders = append(st.Orders, &cp)
	}
	sort.Slice(st.Orders, func(i, j int) bool { return st.Orders[i].ID < st.Orders[j].ID })
	return st, nil
}

func (s *MemoryStore) RecentTrades(limit int) ([]*core.TradeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.TradeEvent
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.trades[i])
	}
	return out, nil
}

func (s *MemoryStore) Nonce(addr common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonces[addr], nil
}

func (s *MemoryStore) SetNonce(addr common.Address, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[addr] = nonce
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
