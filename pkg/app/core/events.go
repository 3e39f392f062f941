package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Event is a notification emitted by exactly one successful mutating call.
type Event interface {
	EventName() string
}

// DepositEvent: Deposit(asset, account, amount, newBalance)
type DepositEvent struct {
	Asset   Asset          `json:"asset"`
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

// WithdrawEvent: Withdraw(asset, account, amount, newBalance)
type WithdrawEvent struct {
	Asset   Asset          `json:"asset"`
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

// OrderEvent carries the full record of a newly created order.
type OrderEvent struct {
	ID         uint64         `json:"id"`
	Owner      common.Address `json:"owner"`
	BuyAsset   Asset          `json:"buyAsset"`
	BuyAmount  *uint256.Int   `json:"buyAmount"`
	SellAsset  Asset          `json:"sellAsset"`
	SellAmount *uint256.Int   `json:"sellAmount"`
	Timestamp  int64          `json:"timestamp"`
}

// CancelEvent carries the cancelled record and the cancellation time.
type CancelEvent struct {
	ID         uint64         `json:"id"`
	Owner      common.Address `json:"owner"`
	BuyAsset   Asset          `json:"buyAsset"`
	BuyAmount  *uint256.Int   `json:"buyAmount"`
	SellAsset  Asset          `json:"sellAsset"`
	SellAmount *uint256.Int   `json:"sellAmount"`
	Timestamp  int64          `json:"timestamp"`
}

// TradeEvent is emitted when an order is filled.
type TradeEvent struct {
	ID         uint64         `json:"id"`
	Owner      common.Address `json:"owner"`
	BuyAsset   Asset          `json:"buyAsset"`
	BuyAmount  *uint256.Int   `json:"buyAmount"`
	SellAsset  Asset          `json:"sellAsset"`
	SellAmount *uint256.Int   `json:"sellAmount"`
	Filler     common.Address `json:"filler"`
	Fee        *uint256.Int   `json:"fee"`
	Timestamp  int64          `json:"timestamp"`
}

func (*DepositEvent) EventName() string  { return "Deposit" }
func (*WithdrawEvent) EventName() string { return "Withdraw" }
func (*OrderEvent) EventName() string    { return "Order" }
func (*CancelEvent) EventName() string   { return "Cancel" }
func (*TradeEvent) EventName() string    { return "Trade" }

// Accounts returns the accounts an event concerns, for per-account fan-out.
func Accounts(ev Event) []common.Address {
	switch e := ev.(type) {
	case *DepositEvent:
		return []common.Address{e.Account}
	case *WithdrawEvent:
		return []common.Address{e.Account}
	case *OrderEvent:
		return []common.Address{e.Owner}
	case *CancelEvent:
		return []common.Address{e.Owner}
	case *TradeEvent:
		if e.Owner == e.Filler {
			return []common.Address{e.Owner}
		}
		return []common.Address{e.Owner, e.Filler}
	}
	return nil
}
