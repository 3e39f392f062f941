package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/app/core"
)

type key struct {
	asset   core.Asset
	account common.Address
}

// change records the value a key held before a mutation; prev == nil means
// the key was absent.
type change struct {
	key  key
	prev *uint256.Int
}

// journal is an undo log of balance mutations since the last commit. dirty
// keeps every key touched since then, including ones a revert restored, so
// storage can be brought back in line after a mid-call flush.
type journal struct {
	changes []change
	dirty   []key
	seen    map[key]struct{}
}

func (j *journal) append(k key, prev *uint256.Int) {
	j.changes = append(j.changes, change{key: k, prev: prev})
	if j.seen == nil {
		j.seen = make(map[key]struct{})
	}
	if _, ok := j.seen[k]; !ok {
		j.seen[k] = struct{}{}
		j.dirty = append(j.dirty, k)
	}
}

func (j *journal) length() int {
	return len(j.changes)
}

// revert undoes changes newer than snapshot, newest first.
func (j *journal) revert(balances map[key]*uint256.Int, snapshot int) {
	for i := len(j.changes) - 1; i >= snapshot; i-- {
		c := j.changes[i]
		if c.prev == nil {
			delete(balances, c.key)
		} else {
			balances[c.key] = c.prev
		}
	}
	j.changes = j.changes[:snapshot]
}

// touched returns the keys changed since the last reset in first-touch
// order, reverted ones included.
func (j *journal) touched() []key {
	return j.dirty
}

func (j *journal) reset() {
	j.changes = j.changes[:0]
	j.dirty = j.dirty[:0]
	clear(j.seen)
}
