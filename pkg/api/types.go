package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/app/core"
)

// ErrorResponse is the body of every non-2xx reply. Kind is the stable
// error kind name when the exchange rejected the call.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

type ExchangeInfo struct {
	Custody    common.Address `json:"custody"`
	FeeAccount common.Address `json:"feeAccount"`
	FeePercent uint64         `json:"feePercent"`
	OrderCount uint64         `json:"orderCount"`
	ChainID    string         `json:"chainId"`
	Halted     bool           `json:"halted"`
}

type BalanceResponse struct {
	Asset   core.Asset     `json:"asset"`
	Account common.Address `json:"account"`
	Balance *uint256.Int   `json:"balance"`
}

type CountResponse struct {
	Count uint64 `json:"count"`
}

// FeeQuote is what filling an order would cost the filler in its buy asset.
type FeeQuote struct {
	OrderID   uint64       `json:"orderId"`
	BuyAmount *uint256.Int `json:"buyAmount"`
	Fee       *uint256.Int `json:"fee"`
	Total     *uint256.Int `json:"total"`
}

// ActionResponse echoes the accepted action with the exchange's result:
// the notification it emitted, or the new order id.
type ActionResponse struct {
	Action  string `json:"action"`
	Account string `json:"account"`
	Nonce   uint64 `json:"nonce"`
	OrderID uint64 `json:"orderId,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// WSSubscribeRequest is sent by websocket clients.
//
//	{"op": "subscribe", "channels": ["trades", "account:0x..."]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// WSMessage is pushed to subscribers.
type WSMessage struct {
	Channel string `json:"channel"`
	Seq     uint64 `json:"seq"`
	Type    string `json:"type"`
	Data    any    `json:"data"`
}
