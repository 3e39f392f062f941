// Package events fans committed exchange notifications out to sinks.
//
// The exchange publishes an Envelope per notification only after the call
// that produced it has committed, in emission order, with a strictly
// increasing Seq.
package events

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core"
)

type Envelope struct {
	Seq  uint64     `json:"seq"`
	Type string     `json:"type"`
	Data core.Event `json:"data"`
}

func NewEnvelope(seq uint64, ev core.Event) Envelope {
	return Envelope{Seq: seq, Type: ev.EventName(), Data: ev}
}

// Accounts lists the accounts the notification concerns.
func (e Envelope) Accounts() []common.Address {
	return core.Accounts(e.Data)
}

// Sink receives committed notifications. Publish is called with the exchange
// lock held and must not block or call back into the exchange.
type Sink interface {
	Publish(env Envelope)
}

// Multi publishes to every sink in order.
type Multi []Sink

func (m Multi) Publish(env Envelope) {
	for _, s := range m {
		s.Publish(env)
	}
}

// Discard drops everything.
type Discard struct{}

func (Discard) Publish(Envelope) {}

// Recorder keeps every envelope in memory.
type Recorder struct {
	mu   sync.Mutex
	envs []Envelope
}

func (r *Recorder) Publish(env Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.envs))
	copy(out, r.envs)
	return out
}

// Types returns the notification names in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.envs))
	for i, e := range r.envs {
		out[i] = e.Type
	}
	return out
}
