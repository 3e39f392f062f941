// Package exchange is the single entry point to the custodial exchange.
//
// An Exchange owns the ledger, the order book and the settlement engine and
// runs every public call as one serialized unit: the call either commits
// (state persisted, notifications published) or leaves no trace.
//
// Token contracts invoked during deposits and withdrawals may call back into
// the exchange. They must pass along the context they were given; such a
// call runs inside the outer one on the already-debited state instead of
// waiting for the lock.
package exchange

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/app/core"
	"github.com/uhyunpark/custodex/pkg/app/core/ledger"
	"github.com/uhyunpark/custodex/pkg/app/core/orderbook"
	"github.com/uhyunpark/custodex/pkg/app/core/settlement"
	"github.com/uhyunpark/custodex/pkg/app/core/token"
	"github.com/uhyunpark/custodex/pkg/events"
	"github.com/uhyunpark/custodex/pkg/storage"
	"github.com/uhyunpark/custodex/pkg/util"
)

// recentTradeCap bounds the in-memory trade history kept without a store.
const recentTradeCap = 1000

type Config struct {
	Custody    common.Address
	FeeAccount common.Address
	FeePercent uint64

	Tokens token.Registry
	Vault  ledger.NativeVault

	// Optional.
	Store  storage.Store
	Sink   events.Sink
	Clock  util.Clock
	Logger *zap.Logger
}

type Exchange struct {
	mu sync.Mutex

	custody common.Address
	ledger  *ledger.Ledger
	book    *orderbook.Book
	engine  *settlement.Engine

	store storage.Store
	sink  events.Sink
	log   *zap.Logger

	pending []core.Event
	seq     uint64
	recent  []*core.TradeEvent
	halted  error

	// current is the call holding mu; a context only counts as re-entrant
	// while the call that issued it is still running.
	current atomic.Pointer[inflight]

	// durable marks the journal positions already on disk within the
	// current call; flushed is set once a checkpoint wrote anything.
	durable struct{ ledger, book int }
	flushed bool
}

type inflight struct {
	x *Exchange
}

// New builds an exchange and, when a store is configured, restores the
// last committed state from it.
func New(cfg Config) (*Exchange, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("exchange: token registry is required")
	}
	if cfg.Vault == nil {
		return nil, errors.New("exchange: native vault is required")
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	l := ledger.New(cfg.Custody, cfg.Tokens, cfg.Vault)
	b := orderbook.New(l, cfg.Clock)
	engine, err := settlement.New(l, b, cfg.FeeAccount, cfg.FeePercent)
	if err != nil {
		return nil, err
	}
	x := &Exchange{
		custody: cfg.Custody,
		ledger:  l,
		book:    b,
		engine:  engine,
		store:   cfg.Store,
		sink:    cfg.Sink,
		log:     cfg.Logger,
	}
	l.SetCheckpoint(x.checkpoint)
	if x.store != nil {
		if err := x.restore(); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func (x *Exchange) restore() error {
	st, err := x.store.LoadState()
	if err != nil {
		return errors.Wrap(err, "load state")
	}
	for _, bal := range st.Balances {
		x.ledger.Restore(bal)
	}
	if err := x.book.Restore(st.Orders); err != nil {
		return errors.Wrap(err, "restore orders")
	}
	x.log.Info("state_restored",
		zap.Int("balances", len(st.Balances)),
		zap.Int("orders", len(st.Orders)),
		zap.Uint64("trades", st.TradeCount),
	)
	return nil
}

type callKey struct{}

// reentrant reports whether ctx belongs to the call currently running on x.
func (x *Exchange) reentrant(ctx context.Context) bool {
	c, _ := ctx.Value(callKey{}).(*inflight)
	return c != nil && c == x.current.Load()
}

// run executes fn as one unit. The outermost call takes the lock and
// commits; a re-entrant call only snapshots so that its failure reverts its
// own effects.
func (x *Exchange) run(ctx context.Context, op string, fn func(ctx context.Context) (core.Event, error)) error {
	if x.reentrant(ctx) {
		return x.step(ctx, op, fn)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	call := &inflight{x: x}
	x.current.Store(call)
	defer x.current.Store(nil)

	if err := x.step(context.WithValue(ctx, callKey{}, call), op, fn); err != nil {
		if x.flushed && x.halted == nil {
			// a checkpoint wrote state that has since been rolled back
			if cerr := x.commit(op); cerr != nil {
				return errors.CombineErrors(err, cerr)
			}
		}
		x.resetCall()
		return err
	}
	return x.commit(op)
}

func (x *Exchange) step(ctx context.Context, op string, fn func(ctx context.Context) (core.Event, error)) error {
	if x.halted != nil {
		return errors.Mark(errors.Wrapf(x.halted, "%s refused", op), core.ErrHalted)
	}
	ls, bs, ps := x.ledger.Snapshot(), x.book.Snapshot(), len(x.pending)
	ev, err := fn(ctx)
	if err != nil {
		x.ledger.RevertToSnapshot(ls)
		x.book.RevertToSnapshot(bs)
		x.pending = x.pending[:ps]
		x.durable.ledger = min(x.durable.ledger, ls)
		x.durable.book = min(x.durable.book, bs)
		x.log.Debug("call_reverted", zap.String("op", op), zap.String("kind", core.KindOf(err)), zap.Error(err))
		return err
	}
	x.pending = append(x.pending, ev)
	return nil
}

func (x *Exchange) changes(withTrades bool) *storage.ChangeSet {
	cs := &storage.ChangeSet{Balances: x.ledger.Pending()}
	cs.Orders, cs.DroppedOrders = x.book.Pending()
	if withTrades {
		for _, ev := range x.pending {
			if t, ok := ev.(*core.TradeEvent); ok {
				cs.Trades = append(cs.Trades, t)
			}
		}
	}
	return cs
}

// checkpoint persists the call's changes so far. The ledger runs it before
// an asset leaves custody, so nothing is paid out against a debit that is
// not on disk.
func (x *Exchange) checkpoint(ctx context.Context) error {
	if x.store == nil {
		return nil
	}
	if x.halted != nil {
		return errors.Mark(errors.Wrap(x.halted, "checkpoint refused"), core.ErrHalted)
	}
	if err := x.store.Commit(x.changes(false)); err != nil {
		return x.halt("checkpoint", err)
	}
	x.durable.ledger, x.durable.book = x.ledger.Snapshot(), x.book.Snapshot()
	x.flushed = true
	return nil
}

// commit persists the call's changes and publishes its notifications. If
// persisting fails, memory is rolled back to what storage holds and the
// exchange halts.
func (x *Exchange) commit(op string) error {
	cs := x.changes(true)
	if x.store != nil {
		if err := x.store.Commit(cs); err != nil {
			x.ledger.RevertToSnapshot(x.durable.ledger)
			x.book.RevertToSnapshot(x.durable.book)
			x.pending = x.pending[:0]
			x.resetCall()
			return x.halt(op, err)
		}
	}
	x.resetCall()
	x.remember(cs.Trades)

	for _, ev := range x.pending {
		x.seq++
		x.sink.Publish(events.NewEnvelope(x.seq, ev))
	}
	x.log.Debug("call_committed",
		zap.String("op", op),
		zap.Int("events", len(x.pending)),
		zap.Int("balances", len(cs.Balances)),
		zap.Int("orders", len(cs.Orders)),
	)
	x.pending = x.pending[:0]
	return nil
}

// resetCall forgets the journals; the state they describe is settled.
func (x *Exchange) resetCall() {
	x.ledger.Commit()
	x.book.Commit()
	x.durable.ledger, x.durable.book = 0, 0
	x.flushed = false
}

// halt stops all further mutation: memory and storage can no longer be
// trusted to agree.
func (x *Exchange) halt(op string, err error) error {
	x.halted = err
	x.log.Error("persist_failed_halting", zap.String("op", op), zap.Error(err))
	return errors.Mark(errors.Wrapf(err, "%s: persist state", op), core.ErrHalted)
}

func (x *Exchange) remember(trades []*core.TradeEvent) {
	if x.store != nil || len(trades) == 0 {
		return
	}
	x.recent = append(x.recent, trades...)
	if n := len(x.recent) - recentTradeCap; n > 0 {
		x.recent = append(x.recent[:0:0], x.recent[n:]...)
	}
}

// view locks for a read unless ctx is already inside a call.
func (x *Exchange) view(ctx context.Context) (unlock func()) {
	if x.reentrant(ctx) {
		return func() {}
	}
	x.mu.Lock()
	return x.mu.Unlock
}

// Halted returns the persistence error that stopped the exchange, if any.
func (x *Exchange) Halted() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.halted
}

func (x *Exchange) Custody() common.Address { return x.custody }

func (x *Exchange) FeeAccount() common.Address { return x.engine.FeeAccount() }

func (x *Exchange) FeePercent() uint64 { return x.engine.FeePercent() }

// Fee quotes the fee a filler pays on an order with this buy amount.
func (x *Exchange) Fee(buyAmount *uint256.Int) *uint256.Int { return x.engine.Fee(buyAmount) }
