package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/custodex/pkg/app/core"
	"github.com/uhyunpark/custodex/pkg/app/core/token"
	"github.com/uhyunpark/custodex/pkg/events"
	"github.com/uhyunpark/custodex/pkg/storage"
	"github.com/uhyunpark/custodex/pkg/util"
)

var (
	custody = common.HexToAddress("0xc057")
	feeAcct = common.HexToAddress("0xfee")
	userA   = common.HexToAddress("0xa")
	userB   = common.HexToAddress("0xb")
	gemAddr = common.HexToAddress("0x6e3")
	gem     = core.AssetFromAddress(gemAddr)
)

// hookToken runs onTransfer, once, while a Transfer out of custody is in
// flight, and then fails the transfer if fail is set. It stands in for a token contract that calls back into the
// exchange.
type hookToken struct {
	*token.MemoryToken
	onTransfer func(ctx context.Context)
	fail       bool
}

func (h *hookToken) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if hook := h.onTransfer; hook != nil {
		h.onTransfer = nil
		hook(ctx)
	}
	if h.fail {
		return errors.New("token reverted")
	}
	return h.MemoryToken.Transfer(ctx, from, to, amount)
}

type harness struct {
	x     *Exchange
	gem   *hookToken
	bank  *token.MemoryToken
	sink  *events.Recorder
	store storage.Store
	cfg   Config
}

func newHarness(t *testing.T, store storage.Store) *harness {
	t.Helper()
	gemTok := &hookToken{MemoryToken: token.NewMemoryToken("Gem", "GEM")}
	require.NoError(t, gemTok.Mint(userA, core.Ether(1000)))
	require.NoError(t, gemTok.Mint(userB, core.Ether(1000)))

	reg := token.NewMemoryRegistry()
	require.NoError(t, reg.Register(gem, gemTok))

	bank := token.NewMemoryToken("Native", "ETH")
	require.NoError(t, bank.Mint(custody, core.Ether(1000)))

	sink := &events.Recorder{}
	cfg := Config{
		Custody:    custody,
		FeeAccount: feeAcct,
		FeePercent: 10,
		Tokens:     reg,
		Vault:      &token.Vault{Bank: bank, Custody: custody},
		Store:      store,
		Sink:       sink,
		Clock:      util.NewManualClock(time.Unix(1_700_000_000, 0)),
	}
	x, err := New(cfg)
	require.NoError(t, err)
	return &harness{x: x, gem: gemTok, bank: bank, sink: sink, store: store, cfg: cfg}
}

func (h *harness) depositGem(t *testing.T, who common.Address, amount *uint256.Int) {
	t.Helper()
	h.gem.Approve(who, custody, amount)
	_, err := h.x.DepositToken(context.Background(), who, gem, amount)
	require.NoError(t, err)
}

func TestNewRejectsBadFee(t *testing.T) {
	_, err := New(Config{FeePercent: 101, Tokens: token.NewMemoryRegistry(), Vault: &token.Vault{}})
	require.ErrorIs(t, err, core.ErrInvalidFeePercent)
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	x := h.x

	_, err := x.DepositNative(ctx, userB, core.Ether(50))
	require.NoError(t, err)
	id, err := x.MakeOrder(ctx, userB, gem, core.Ether(20), core.Native, core.Ether(10))
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	o, ok := x.Order(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, userB, o.Owner)
	assert.Equal(t, core.Ether(20), o.BuyAmount)
	assert.Equal(t, core.Ether(10), o.SellAmount)

	h.depositGem(t, userA, core.Ether(100))
	trade, err := x.FillOrder(ctx, userA, 1)
	require.NoError(t, err)
	assert.Equal(t, core.Ether(2), trade.Fee)

	assert.Equal(t, core.Ether(78), x.BalanceOf(ctx, gem, userA))
	assert.Equal(t, core.Ether(20), x.BalanceOf(ctx, gem, userB))
	assert.Equal(t, core.Ether(10), x.BalanceOf(ctx, core.Native, userA))
	assert.Equal(t, core.Ether(40), x.BalanceOf(ctx, core.Native, userB))
	assert.Equal(t, core.Ether(2), x.BalanceOf(ctx, gem, feeAcct))
	assert.True(t, x.FilledOrder(ctx, 1))
	assert.False(t, x.CancelledOrder(ctx, 1))

	assert.Equal(t, []string{"Deposit", "Order", "Deposit", "Trade"}, h.sink.Types())
	for i, env := range h.sink.Envelopes() {
		assert.Equal(t, uint64(i+1), env.Seq)
	}

	trades, err := x.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, userA, trades[0].Filler)
}

func TestOverWithdrawLeavesBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.x.DepositNative(ctx, userA, uint256.NewInt(25))
	require.NoError(t, err)
	_, err = h.x.WithdrawNative(ctx, userA, uint256.NewInt(30))
	require.ErrorIs(t, err, core.ErrInsufficientBalance)
	assert.Equal(t, uint64(25), h.x.BalanceOf(ctx, core.Native, userA).Uint64())
	assert.Equal(t, []string{"Deposit"}, h.sink.Types(), "failed calls emit nothing")

	w, err := h.x.WithdrawNative(ctx, userA, uint256.NewInt(25))
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
	paid, _ := h.bank.BalanceOf(ctx, userA)
	assert.Equal(t, uint64(25), paid.Uint64())
}

func TestCancelErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	_, err := h.x.DepositNative(ctx, userB, core.Ether(10))
	require.NoError(t, err)
	_, err = h.x.MakeOrder(ctx, userB, gem, core.Ether(1), core.Native, core.Ether(10))
	require.NoError(t, err)

	_, err = h.x.CancelOrder(ctx, userA, 1)
	require.ErrorIs(t, err, core.ErrNotOrderOwner)
	_, err = h.x.CancelOrder(ctx, userB, 2)
	require.ErrorIs(t, err, core.ErrOrderNotFound)

	ev, err := h.x.CancelOrder(ctx, userB, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.ID)
	assert.True(t, h.x.CancelledOrder(ctx, 1))

	_, err = h.x.CancelOrder(ctx, userB, 1)
	require.ErrorIs(t, err, core.ErrOrderAlreadyFinalized)
	_, err = h.x.FillOrder(ctx, userA, 1)
	require.ErrorIs(t, err, core.ErrOrderAlreadyFinalized)
}

func TestOrderIDsIncreaseByOne(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	_, err := h.x.DepositNative(ctx, userA, core.Ether(5))
	require.NoError(t, err)

	for want := uint64(1); want <= 5; want++ {
		id, err := h.x.MakeOrder(ctx, userA, gem, core.Ether(1), core.Native, core.Ether(1))
		require.NoError(t, err)
		assert.Equal(t, want, id)

		_, err = h.x.MakeOrder(ctx, userA, gem, core.Ether(1), core.Native, core.Ether(6))
		require.ErrorIs(t, err, core.ErrInsufficientBalance)
	}
	assert.Equal(t, uint64(5), h.x.OrderCount(ctx))
}

func TestFillExactlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	_, err := h.x.DepositNative(ctx, userB, core.Ether(20))
	require.NoError(t, err)
	_, err = h.x.MakeOrder(ctx, userB, gem, core.Ether(10), core.Native, core.Ether(10))
	require.NoError(t, err)
	h.depositGem(t, userA, core.Ether(100))

	_, err = h.x.FillOrder(ctx, userA, 1)
	require.NoError(t, err)
	_, err = h.x.FillOrder(ctx, userA, 1)
	require.ErrorIs(t, err, core.ErrOrderAlreadyFinalized)
	assert.Equal(t, core.Ether(89), h.x.BalanceOf(ctx, gem, userA))
}

func TestStaleOrderFailsAtFill(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	_, err := h.x.DepositNative(ctx, userB, core.Ether(10))
	require.NoError(t, err)
	_, err = h.x.MakeOrder(ctx, userB, gem, core.Ether(10), core.Native, core.Ether(10))
	require.NoError(t, err)
	_, err = h.x.WithdrawNative(ctx, userB, core.Ether(5))
	require.NoError(t, err)

	h.depositGem(t, userA, core.Ether(100))
	_, err = h.x.FillOrder(ctx, userA, 1)
	require.ErrorIs(t, err, core.ErrInsufficientBalance)
	assert.False(t, h.x.FilledOrder(ctx, 1))
	assert.Equal(t, core.Ether(100), h.x.BalanceOf(ctx, gem, userA))
}

func TestTokenPathRejectsNative(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	_, err := h.x.DepositToken(ctx, userA, core.Native, uint256.NewInt(1))
	require.ErrorIs(t, err, core.ErrNativeAssetNotAllowed)
	_, err = h.x.WithdrawToken(ctx, userA, core.Native, uint256.NewInt(1))
	require.ErrorIs(t, err, core.ErrNativeAssetNotAllowed)
	assert.Equal(t, "NativeAssetNotAllowed", core.KindOf(err))
}

func TestReentrantWithdrawSeesDebitedBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.depositGem(t, userA, core.Ether(100))

	var innerErr error
	h.gem.onTransfer = func(ctx context.Context) {
		_, innerErr = h.x.WithdrawToken(ctx, userA, gem, core.Ether(100))
	}

	_, err := h.x.WithdrawToken(ctx, userA, gem, core.Ether(100))
	require.NoError(t, err)
	require.ErrorIs(t, innerErr, core.ErrInsufficientBalance)

	assert.True(t, h.x.BalanceOf(ctx, gem, userA).IsZero())
	held, _ := h.gem.BalanceOf(ctx, userA)
	assert.Equal(t, core.Ether(1000), held, "only the deposited amount came back")
	assert.Equal(t, []string{"Deposit", "Withdraw"}, h.sink.Types())
}

func TestReentrantCallCommitsWithOuter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.depositGem(t, userA, core.Ether(100))

	h.gem.onTransfer = func(ctx context.Context) {
		_, err := h.x.WithdrawToken(ctx, userA, gem, core.Ether(10))
		require.NoError(t, err)
	}
	_, err := h.x.WithdrawToken(ctx, userA, gem, core.Ether(40))
	require.NoError(t, err)

	assert.Equal(t, core.Ether(50), h.x.BalanceOf(ctx, gem, userA))
	envs := h.sink.Envelopes()
	require.Len(t, envs, 3)
	inner := envs[1].Data.(*core.WithdrawEvent)
	outer := envs[2].Data.(*core.WithdrawEvent)
	assert.Equal(t, core.Ether(10), inner.Amount)
	assert.Equal(t, core.Ether(40), outer.Amount)
	assert.Equal(t, core.Ether(50), outer.Balance)
}

func TestExternalFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.depositGem(t, userA, core.Ether(100))

	h.gem.fail = true
	_, err := h.x.WithdrawToken(ctx, userA, gem, core.Ether(30))
	require.ErrorIs(t, err, core.ErrExternalCallFailed)
	assert.Equal(t, core.Ether(100), h.x.BalanceOf(ctx, gem, userA))
	assert.Equal(t, []string{"Deposit"}, h.sink.Types())
}

func TestDepositTokenChecks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	h.gem.Approve(userA, custody, core.Ether(5))
	_, err := h.x.DepositToken(ctx, userA, gem, core.Ether(10))
	require.ErrorIs(t, err, core.ErrInsufficientAllowance)

	h.gem.Approve(userA, custody, core.Ether(5000))
	_, err = h.x.DepositToken(ctx, userA, gem, core.Ether(2000))
	require.ErrorIs(t, err, core.ErrInsufficientExternalBalance)
	assert.True(t, h.x.BalanceOf(ctx, gem, userA).IsZero())
}

// stored reads a balance back from what the store has committed.
func stored(t *testing.T, s storage.Store, asset core.Asset, who common.Address) *uint256.Int {
	t.Helper()
	st, err := s.LoadState()
	require.NoError(t, err)
	for _, b := range st.Balances {
		if b.Asset == asset && b.Account == who {
			return b.Amount
		}
	}
	return new(uint256.Int)
}

func TestPersistenceFailureHalts(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	h := newHarness(t, store)

	_, err := h.x.DepositNative(ctx, userA, uint256.NewInt(10))
	require.NoError(t, err)

	store.FailCommit = errors.New("disk full")
	_, err = h.x.WithdrawNative(ctx, userA, uint256.NewInt(4))
	require.ErrorIs(t, err, core.ErrHalted)
	require.Error(t, h.x.Halted())

	paid, err := h.bank.BalanceOf(ctx, userA)
	require.NoError(t, err)
	assert.True(t, paid.IsZero(), "nothing leaves custody when the debit cannot be stored")
	assert.Equal(t, uint256.NewInt(10), h.x.BalanceOf(ctx, core.Native, userA))
	assert.Equal(t, uint256.NewInt(10), stored(t, store, core.Native, userA))

	store.FailCommit = nil
	_, err = h.x.DepositNative(ctx, userA, uint256.NewInt(1))
	require.ErrorIs(t, err, core.ErrHalted)
	_, err = h.x.MakeOrder(ctx, userA, gem, uint256.NewInt(1), core.Native, uint256.NewInt(1))
	require.ErrorIs(t, err, core.ErrHalted)
	assert.Equal(t, []string{"Deposit"}, h.sink.Types())
}

func TestFailedCommitRollsBackMemory(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	h := newHarness(t, store)
	h.depositGem(t, userB, core.Ether(5))

	store.FailCommit = errors.New("disk full")
	_, err := h.x.DepositNative(ctx, userA, uint256.NewInt(5))
	require.ErrorIs(t, err, core.ErrHalted)

	assert.True(t, h.x.BalanceOf(ctx, core.Native, userA).IsZero())
	assert.Equal(t, core.Ether(5), h.x.BalanceOf(ctx, gem, userB))
	assert.Equal(t, uint64(0), h.x.OrderCount(ctx))
	assert.Equal(t, []string{"Deposit"}, h.sink.Types(), "only the first deposit was published")
}

func TestWithdrawPersistsDebitBeforeTransfer(t *testing.T) {
	ctx := context.Background()
	store, err := storage.OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	h := newHarness(t, store)
	h.depositGem(t, userA, core.Ether(100))

	var onDisk *uint256.Int
	h.gem.onTransfer = func(context.Context) {
		onDisk = stored(t, store, gem, userA)
	}
	_, err = h.x.WithdrawToken(ctx, userA, gem, core.Ether(30))
	require.NoError(t, err)
	assert.Equal(t, core.Ether(70), onDisk)
	assert.Equal(t, core.Ether(70), stored(t, store, gem, userA))
}

func TestFailedTransferRestoresStoredBalance(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	h := newHarness(t, store)
	h.depositGem(t, userA, core.Ether(100))
	_, err := h.x.MakeOrder(ctx, userA, core.Native, uint256.NewInt(1), gem, core.Ether(1))
	require.NoError(t, err)

	h.gem.fail = true
	_, err = h.x.WithdrawToken(ctx, userA, gem, core.Ether(30))
	require.ErrorIs(t, err, core.ErrExternalCallFailed)

	assert.Nil(t, h.x.Halted())
	assert.Equal(t, core.Ether(100), h.x.BalanceOf(ctx, gem, userA))
	assert.Equal(t, core.Ether(100), stored(t, store, gem, userA))

	again, err := New(h.cfg)
	require.NoError(t, err)
	assert.Equal(t, h.x.Balances(ctx), again.Balances(ctx))
	assert.Equal(t, uint64(1), again.OrderCount(ctx))
}

func TestRevertedReentrantOrderIsDropped(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	h := newHarness(t, store)
	h.depositGem(t, userA, core.Ether(100))

	// the nested withdrawal stores the callback's order before its own
	// transfer fails; the outer transfer then fails as well
	h.gem.onTransfer = func(ctx context.Context) {
		_, err := h.x.MakeOrder(ctx, userA, core.Native, uint256.NewInt(1), gem, core.Ether(1))
		require.NoError(t, err)
		h.gem.fail = true
		_, err = h.x.WithdrawToken(ctx, userA, gem, core.Ether(10))
		require.ErrorIs(t, err, core.ErrExternalCallFailed)
		st, err := store.LoadState()
		require.NoError(t, err)
		require.Len(t, st.Orders, 1)
	}
	_, err := h.x.WithdrawToken(ctx, userA, gem, core.Ether(30))
	require.ErrorIs(t, err, core.ErrExternalCallFailed)

	assert.Nil(t, h.x.Halted())
	assert.Equal(t, uint64(0), h.x.OrderCount(ctx))
	st, err := store.LoadState()
	require.NoError(t, err)
	assert.Empty(t, st.Orders)
	assert.Equal(t, core.Ether(100), stored(t, store, gem, userA))
	assert.Equal(t, core.Ether(100), h.x.BalanceOf(ctx, gem, userA))
}

func TestRetainedContextTakesTheLock(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	h := newHarness(t, store)
	h.depositGem(t, userA, core.Ether(10))

	var retained context.Context
	h.gem.onTransfer = func(ctx context.Context) { retained = ctx }
	_, err := h.x.WithdrawToken(ctx, userA, gem, core.Ether(10))
	require.NoError(t, err)
	require.NotNil(t, retained)

	_, err = h.x.DepositNative(retained, userB, uint256.NewInt(7))
	require.NoError(t, err)

	assert.Equal(t, []string{"Deposit", "Withdraw", "Deposit"}, h.sink.Types(), "the late call committed on its own")
	assert.Equal(t, uint256.NewInt(7), stored(t, store, core.Native, userB))
	assert.Equal(t, uint256.NewInt(7), h.x.BalanceOf(retained, core.Native, userB))
}

func TestReopenRestoresState(t *testing.T) {
	ctx := context.Background()
	store, err := storage.OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	h := newHarness(t, store)
	_, err = h.x.DepositNative(ctx, userB, core.Ether(50))
	require.NoError(t, err)
	_, err = h.x.MakeOrder(ctx, userB, gem, core.Ether(20), core.Native, core.Ether(10))
	require.NoError(t, err)
	_, err = h.x.MakeOrder(ctx, userB, gem, core.Ether(1), core.Native, core.Ether(1))
	require.NoError(t, err)
	_, err = h.x.CancelOrder(ctx, userB, 2)
	require.NoError(t, err)
	h.depositGem(t, userA, core.Ether(100))
	_, err = h.x.FillOrder(ctx, userA, 1)
	require.NoError(t, err)

	again, err := New(h.cfg)
	require.NoError(t, err)

	assert.Equal(t, h.x.Balances(ctx), again.Balances(ctx))
	assert.Equal(t, uint64(2), again.OrderCount(ctx))
	assert.True(t, again.FilledOrder(ctx, 1))
	assert.True(t, again.CancelledOrder(ctx, 2))
	o1, _ := h.x.Order(ctx, 1)
	r1, _ := again.Order(ctx, 1)
	assert.Equal(t, o1, r1)

	trades, err := again.RecentTrades(ctx, 5)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, core.Ether(2), trades[0].Fee)

	id, err := again.MakeOrder(ctx, userB, gem, core.Ether(1), core.Native, core.Ether(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)
}
