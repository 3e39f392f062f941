package orderbook

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/app/core"
)

// Status is the lifecycle state of an order. Open is the only non-terminal
// state.
type Status uint8

const (
	Open Status = iota
	Cancelled
	Filled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Cancelled:
		return "cancelled"
	case Filled:
		return "filled"
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "open":
		*s = Open
	case "cancelled":
		*s = Cancelled
	case "filled":
		*s = Filled
	default:
		return errors.Newf("unknown order status %q", b)
	}
	return nil
}

// Order is a standing offer: the owner gives SellAmount of SellAsset for
// BuyAmount of BuyAsset. Only the status fields change after creation.
type Order struct {
	ID         uint64         `json:"id"`
	Owner      common.Address `json:"owner"`
	BuyAsset   core.Asset     `json:"buyAsset"`
	BuyAmount  *uint256.Int   `json:"buyAmount"`
	SellAsset  core.Asset     `json:"sellAsset"`
	SellAmount *uint256.Int   `json:"sellAmount"`
	CreatedAt  int64          `json:"createdAt"`

	Status   Status         `json:"status"`
	Filler   common.Address `json:"filler"`
	ClosedAt int64          `json:"closedAt,omitempty"`
}

func (o *Order) clone() *Order {
	cp := *o
	cp.BuyAmount = core.AmountOrZero(o.BuyAmount)
	cp.SellAmount = core.AmountOrZero(o.SellAmount)
	return &cp
}

// Encode is the persisted form.
func (o *Order) Encode() ([]byte, error) {
	return json.Marshal(o)
}

func DecodeOrder(b []byte) (*Order, error) {
	var o Order
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return &o, nil
}

// OrderEvent returns the creation notification for o.
func (o *Order) OrderEvent() *core.OrderEvent {
	return &core.OrderEvent{
		ID:         o.ID,
		Owner:      o.Owner,
		BuyAsset:   o.BuyAsset,
		BuyAmount:  core.AmountOrZero(o.BuyAmount),
		SellAsset:  o.SellAsset,
		SellAmount: core.AmountOrZero(o.SellAmount),
		Timestamp:  o.CreatedAt,
	}
}

func (o *Order) cancelEvent(at int64) *core.CancelEvent {
	return &core.CancelEvent{
		ID:         o.ID,
		Owner:      o.Owner,
		BuyAsset:   o.BuyAsset,
		BuyAmount:  core.AmountOrZero(o.BuyAmount),
		SellAsset:  o.SellAsset,
		SellAmount: core.AmountOrZero(o.SellAmount),
		Timestamp:  at,
	}
}
