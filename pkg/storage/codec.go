package storage

import (
	"encoding/binary"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/app/core"
)

func encodeAmount(v *uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}

func decodeAmount(b []byte) (*uint256.Int, error) {
	if len(b) != 32 {
		return nil, errors.Newf("amount must be 32 bytes, got %d", len(b))
	}
	return new(uint256.Int).SetBytes32(b), nil
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.Newf("counter must be 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func encodeTrade(t *core.TradeEvent) ([]byte, error) {
	return json.Marshal(t)
}

func decodeTrade(b []byte) (*core.TradeEvent, error) {
	var t core.TradeEvent
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, errors.Wrap(err, "decode trade")
	}
	return &t, nil
}
