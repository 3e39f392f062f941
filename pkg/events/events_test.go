package events

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/app/core"
)

var alice = common.HexToAddress("0xa11ce")

func deposit(amount uint64) core.Event {
	return &core.DepositEvent{Asset: core.Native, Account: alice, Amount: uint256.NewInt(amount), Balance: uint256.NewInt(amount)}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	sink := Multi{&a, Discard{}, &b}

	sink.Publish(NewEnvelope(1, deposit(1)))
	sink.Publish(NewEnvelope(2, &core.WithdrawEvent{Asset: core.Native, Account: alice}))

	assert.Equal(t, []string{"Deposit", "Withdraw"}, a.Types())
	assert.Equal(t, a.Envelopes(), b.Envelopes())
}

func TestKafkaSinkDrainsOnClose(t *testing.T) {
	w := &fakeWriter{}
	s := newKafkaSink(w, zap.NewNop())
	for seq := uint64(1); seq <= 3; seq++ {
		s.Publish(NewEnvelope(seq, deposit(seq)))
	}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	require.Len(t, w.msgs, 3)
	assert.True(t, w.closed)
	assert.Equal(t, alice.Bytes(), w.msgs[0].Key)

	var got struct {
		Seq  uint64 `json:"seq"`
		Type string `json:"type"`
		Data struct {
			Amount string `json:"amount"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.msgs[2].Value, &got))
	assert.Equal(t, uint64(3), got.Seq)
	assert.Equal(t, "Deposit", got.Type)
	assert.Equal(t, "3", got.Data.Amount)
}

func TestFileSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	s := NewFileSink(path, zap.NewNop())
	s.Publish(NewEnvelope(1, deposit(5)))
	s.Publish(NewEnvelope(2, deposit(6)))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var seqs []uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var env struct {
			Seq uint64 `json:"seq"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &env))
		seqs = append(seqs, env.Seq)
	}
	assert.Equal(t, []uint64{1, 2}, seqs)
}
