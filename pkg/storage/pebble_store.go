package storage

import (
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core"
	"github.com/uhyunpark/custodex/pkg/app/core/ledger"
	"github.com/uhyunpark/custodex/pkg/app/core/orderbook"
)

type PebbleStore struct {
	db *pebble.DB

	mu     sync.Mutex
	trades uint64 // trades persisted so far, next trade key is trades+1
}

// OpenPebble opens (or creates) a store at path.
func OpenPebble(path string) (*PebbleStore, error) {
	cache := pebble.NewCache(64 << 20)
	defer cache.Unref()
	opts := &pebble.Options{
		Cache:                    cache,
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble db at %s", path)
	}
	s := &PebbleStore{db: db}
	if s.trades, err = s.counter(keyTradeCount); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Commit writes cs in one synced batch. Zero balances are deleted.
func (s *PebbleStore) Commit(cs *ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, b := range cs.Balances {
		k := balanceKey(b.Asset, b.Account)
		if b.Amount == nil || b.Amount.IsZero() {
			if err := batch.Delete(k, nil); err != nil {
				return errors.Wrap(err, "delete balance")
			}
			continue
		}
		if err := batch.Set(k, encodeAmount(b.Amount), nil); err != nil {
			return errors.Wrap(err, "set balance")
		}
	}

	var maxID uint64
	for _, o := range cs.Orders {
		data, err := o.Encode()
		if err != nil {
			return err
		}
		if err := batch.Set(orderKey(o.ID), data, nil); err != nil {
			return errors.Wrap(err, "set order")
		}
		maxID = max(maxID, o.ID)
	}
	for _, id := range cs.DroppedOrders {
		if err := batch.Delete(orderKey(id), nil); err != nil {
			return errors.Wrap(err, "delete order")
		}
	}
	if maxID > 0 || len(cs.DroppedOrders) > 0 {
		stored, err := s.counter(keyOrderCount)
		if err != nil {
			return err
		}
		count := max(stored, maxID)
		if len(cs.DroppedOrders) > 0 {
			count = min(count, slices.Min(cs.DroppedOrders)-1)
		}
		if count != stored {
			if err := batch.Set(keyOrderCount, encodeUint64(count), nil); err != nil {
				return errors.Wrap(err, "set order count")
			}
		}
	}

	seq := s.trades
	for _, t := range cs.Trades {
		data, err := encodeTrade(t)
		if err != nil {
			return errors.Wrap(err, "encode trade")
		}
		seq++
		if err := batch.Set(tradeKey(seq), data, nil); err != nil {
			return errors.Wrap(err, "set trade")
		}
	}
	if seq != s.trades {
		if err := batch.Set(keyTradeCount, encodeUint64(seq), nil); err != nil {
			return errors.Wrap(err, "set trade count")
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "commit batch")
	}
	s.trades = seq
	return nil
}

// LoadState reads every balance and order.
func (s *PebbleStore) LoadState() (*State, error) {
	st := &State{}

	err := s.scan([]byte(prefixBalance), func(k, v []byte) error {
		asset, account, err := balanceKeyFromBytes(k)
		if err != nil {
			return err
		}
		amount, err := decodeAmount(v)
		if err != nil {
			return errors.Wrapf(err, "balance %s", k)
		}
		st.Balances = append(st.Balances, ledger.Balance{Asset: asset, Account: account, Amount: amount})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan([]byte(prefixOrder), func(_, v []byte) error {
		o, err := orderbook.DecodeOrder(v)
		if err != nil {
			return err
		}
		st.Orders = append(st.Orders, o)
		return nil
	})
	if err != nil {
		return nil, err
	}

	count, err := s.counter(keyOrderCount)
	if err != nil {
		return nil, err
	}
	if count != uint64(len(st.Orders)) {
		return nil, errors.Newf("order count %d does not match %d stored orders", count, len(st.Orders))
	}

	s.mu.Lock()
	st.TradeCount = s.trades
	s.mu.Unlock()
	return st, nil
}

func (s *PebbleStore) RecentTrades(limit int) ([]*core.TradeEvent, error) {
	prefix := []byte(prefixTrade)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open trade iterator")
	}
	defer iter.Close()

	var trades []*core.TradeEvent
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		t, err := decodeTrade(iter.Value())
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, iter.Error()
}

func (s *PebbleStore) Nonce(addr common.Address) (uint64, error) {
	return s.counter(nonceKey(addr))
}

func (s *PebbleStore) SetNonce(addr common.Address, nonce uint64) error {
	if err := s.db.Set(nonceKey(addr), encodeUint64(nonce), pebble.Sync); err != nil {
		return errors.Wrap(err, "save nonce")
	}
	return nil
}

// counter reads an 8-byte value, zero when absent.
func (s *PebbleStore) counter(key []byte) (uint64, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "get %s", key)
	}
	defer closer.Close()
	return decodeUint64(val)
}

func (s *PebbleStore) scan(prefix []byte, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return errors.Wrapf(err, "open %s iterator", prefix)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

var _ Store = (*PebbleStore)(nil)
