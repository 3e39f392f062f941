package transaction

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/app/core"
	"github.com/uhyunpark/custodex/pkg/crypto"
)

// ErrMalformedAction marks payloads that fail to parse.
var ErrMalformedAction = errors.New("malformed action")

// ActionType names the exchange operation a signed action invokes.
type ActionType string

const (
	ActionDepositNative  ActionType = "depositNative"
	ActionWithdrawNative ActionType = "withdrawNative"
	ActionDepositToken   ActionType = "depositToken"
	ActionWithdrawToken  ActionType = "withdrawToken"
	ActionMakeOrder      ActionType = "makeOrder"
	ActionCancelOrder    ActionType = "cancelOrder"
	ActionFillOrder      ActionType = "fillOrder"
)

// SignedAction is the wire envelope accepted by the API.
type SignedAction struct {
	Payload   ActionPayload `json:"payload"`
	Signature string        `json:"signature"` // 0x-prefixed 65 bytes
}

// ActionPayload carries amounts as base-10 strings and assets as 0x
// addresses ("native" for the native currency).
type ActionPayload struct {
	Action     ActionType `json:"action"`
	Account    string     `json:"account"`
	Asset      string     `json:"asset,omitempty"`
	Amount     string     `json:"amount,omitempty"`
	OrderID    uint64     `json:"orderId,omitempty"`
	BuyAsset   string     `json:"buyAsset,omitempty"`
	BuyAmount  string     `json:"buyAmount,omitempty"`
	SellAsset  string     `json:"sellAsset,omitempty"`
	SellAmount string     `json:"sellAmount,omitempty"`
	Nonce      uint64     `json:"nonce"`
}

// Action is a parsed payload.
type Action struct {
	Type       ActionType
	Account    common.Address
	Asset      core.Asset
	Amount     *uint256.Int
	OrderID    uint64
	BuyAsset   core.Asset
	BuyAmount  *uint256.Int
	SellAsset  core.Asset
	SellAmount *uint256.Int
	Nonce      uint64
}

func Deserialize(data []byte) (*SignedAction, error) {
	var tx SignedAction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, errors.Wrap(err, "unmarshal signed action")
	}
	return &tx, nil
}

func (tx *SignedAction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Parse validates the payload for its action type.
func (p *ActionPayload) Parse() (*Action, error) {
	if !common.IsHexAddress(p.Account) {
		return nil, errors.Mark(errors.Newf("invalid account %q", p.Account), ErrMalformedAction)
	}
	a := &Action{Type: p.Action, Account: common.HexToAddress(p.Account), OrderID: p.OrderID, Nonce: p.Nonce}

	var err error
	switch p.Action {
	case ActionDepositNative, ActionWithdrawNative:
		a.Amount, err = core.ParseAmount(p.Amount)
	case ActionDepositToken, ActionWithdrawToken:
		if a.Asset, err = core.ParseAsset(p.Asset); err == nil {
			a.Amount, err = core.ParseAmount(p.Amount)
		}
	case ActionMakeOrder:
		err = p.parseOrder(a)
	case ActionCancelOrder, ActionFillOrder:
		if p.OrderID == 0 {
			err = errors.New("missing orderId")
		}
	case "":
		err = errors.New("missing action")
	default:
		err = errors.Newf("unknown action %q", p.Action)
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "invalid %s payload", p.Action), ErrMalformedAction)
	}
	return a, nil
}

func (p *ActionPayload) parseOrder(a *Action) error {
	var err error
	if a.BuyAsset, err = core.ParseAsset(p.BuyAsset); err != nil {
		return err
	}
	if a.BuyAmount, err = core.ParseAmount(p.BuyAmount); err != nil {
		return err
	}
	if a.SellAsset, err = core.ParseAsset(p.SellAsset); err != nil {
		return err
	}
	a.SellAmount, err = core.ParseAmount(p.SellAmount)
	return err
}

// Payload renders a back to its wire form.
func (a *Action) Payload() ActionPayload {
	p := ActionPayload{Action: a.Type, Account: a.Account.Hex(), OrderID: a.OrderID, Nonce: a.Nonce}
	switch a.Type {
	case ActionDepositToken, ActionWithdrawToken:
		p.Asset = a.Asset.Hex()
		p.Amount = decimal(a.Amount)
	case ActionDepositNative, ActionWithdrawNative:
		p.Amount = decimal(a.Amount)
	case ActionMakeOrder:
		p.BuyAsset, p.BuyAmount = a.BuyAsset.Hex(), decimal(a.BuyAmount)
		p.SellAsset, p.SellAmount = a.SellAsset.Hex(), decimal(a.SellAmount)
	}
	return p
}

// EIP712 is the typed message the account signs.
func (a *Action) EIP712() *crypto.ActionEIP712 {
	return &crypto.ActionEIP712{
		Action:     string(a.Type),
		Account:    a.Account,
		Asset:      a.Asset.Address(),
		Amount:     a.Amount,
		OrderID:    a.OrderID,
		BuyAsset:   a.BuyAsset.Address(),
		BuyAmount:  a.BuyAmount,
		SellAsset:  a.SellAsset.Address(),
		SellAmount: a.SellAmount,
		Nonce:      a.Nonce,
	}
}

func decimal(v *uint256.Int) string {
	return core.AmountOrZero(v).Dec()
}
