package crypto

import (
	"encoding/json"
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
)

// EIP712Domain separates signatures between deployments. VerifyingContract
// is the exchange's custody account.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func DefaultDomain(custody common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              "Custodex",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: custody,
	}
}

// ActionEIP712 is the typed message a wallet signs to drive one exchange
// operation. Fields that the action does not use are zero.
type ActionEIP712 struct {
	Action     string
	Account    common.Address
	Asset      common.Address
	Amount     *uint256.Int
	OrderID    uint64
	BuyAsset   common.Address
	BuyAmount  *uint256.Int
	SellAsset  common.Address
	SellAmount *uint256.Int
	Nonce      uint64
}

var actionTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Action": []apitypes.Type{
		{Name: "action", Type: "string"},
		{Name: "account", Type: "address"},
		{Name: "asset", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "orderId", Type: "uint256"},
		{Name: "buyAsset", Type: "address"},
		{Name: "buyAmount", Type: "uint256"},
		{Name: "sellAsset", Type: "address"},
		{Name: "sellAmount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
}

type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func (e *EIP712Signer) typedData(a *ActionEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       actionTypes,
		PrimaryType: "Action",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"action":     a.Action,
			"account":    a.Account.Hex(),
			"asset":      a.Asset.Hex(),
			"amount":     dec(a.Amount),
			"orderId":    new(big.Int).SetUint64(a.OrderID).String(),
			"buyAsset":   a.BuyAsset.Hex(),
			"buyAmount":  dec(a.BuyAmount),
			"sellAsset":  a.SellAsset.Hex(),
			"sellAmount": dec(a.SellAmount),
			"nonce":      new(big.Int).SetUint64(a.Nonce).String(),
		},
	}
}

// HashAction returns keccak256("\x19\x01" || domainSeparator || hashStruct(action)).
func (e *EIP712Signer) HashAction(a *ActionEIP712) ([]byte, error) {
	td := e.typedData(a)
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, errors.Wrap(err, "hash domain")
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, errors.Wrap(err, "hash action")
	}
	raw := make([]byte, 0, 2+32+32)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

func (e *EIP712Signer) SignAction(signer *Signer, a *ActionEIP712) ([]byte, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return nil, err
	}
	return signer.Sign(hash)
}

// RecoverActionSigner returns the address that signed a.
func (e *EIP712Signer) RecoverActionSigner(a *ActionEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// ActionToJSON renders the typed data in the eth_signTypedData_v4 layout.
func (e *EIP712Signer) ActionToJSON(a *ActionEIP712) (string, error) {
	b, err := json.MarshalIndent(e.typedData(a), "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal typed data")
	}
	return string(b), nil
}
