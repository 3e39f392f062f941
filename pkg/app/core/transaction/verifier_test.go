package transaction

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/custodex/pkg/app/core"
	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/storage"
)

var gem = core.AssetFromAddress(common.HexToAddress("0x6e3"))

func setup(t *testing.T) (*Verifier, *crypto.EIP712Signer, *crypto.Signer) {
	t.Helper()
	domain := crypto.DefaultDomain(common.HexToAddress("0xc057"))
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewVerifier(domain, storage.NewMemoryStore()), crypto.NewEIP712Signer(domain), key
}

func TestVerifyRoundTrip(t *testing.T) {
	v, e, key := setup(t)

	actions := []*Action{
		{Type: ActionDepositToken, Account: key.Address(), Asset: gem, Amount: core.Ether(5), Nonce: 1},
		{Type: ActionWithdrawNative, Account: key.Address(), Amount: uint256.NewInt(7), Nonce: 2},
		{Type: ActionMakeOrder, Account: key.Address(), BuyAsset: gem, BuyAmount: core.Ether(20), SellAsset: core.Native, SellAmount: core.Ether(10), Nonce: 3},
		{Type: ActionFillOrder, Account: key.Address(), OrderID: 1, Nonce: 4},
	}
	for _, a := range actions {
		t.Run(string(a.Type), func(t *testing.T) {
			tx, err := Sign(e, key, a)
			require.NoError(t, err)

			raw, err := tx.Serialize()
			require.NoError(t, err)
			decoded, err := Deserialize(raw)
			require.NoError(t, err)

			got, err := v.Verify(decoded)
			require.NoError(t, err)
			assert.Equal(t, a.Type, got.Type)
			assert.Equal(t, a.Nonce, got.Nonce)
			assert.Equal(t, a.Account, got.Account)
		})
	}
}

func TestVerifyRejectsReplay(t *testing.T) {
	v, e, key := setup(t)
	tx, err := Sign(e, key, &Action{Type: ActionCancelOrder, Account: key.Address(), OrderID: 1, Nonce: 5})
	require.NoError(t, err)

	_, err = v.Verify(tx)
	require.NoError(t, err)
	_, err = v.Verify(tx)
	require.ErrorIs(t, err, ErrNonceUsed)

	older, err := Sign(e, key, &Action{Type: ActionCancelOrder, Account: key.Address(), OrderID: 1, Nonce: 4})
	require.NoError(t, err)
	_, err = v.Verify(older)
	require.ErrorIs(t, err, ErrNonceUsed)
}

func TestVerifyRejectsForgery(t *testing.T) {
	v, e, key := setup(t)
	victim := common.HexToAddress("0xb0b")

	// signed by key but claims to act for victim
	tx, err := Sign(e, key, &Action{Type: ActionWithdrawNative, Account: victim, Amount: uint256.NewInt(1), Nonce: 1})
	require.NoError(t, err)
	_, err = v.Verify(tx)
	require.ErrorIs(t, err, ErrSignerMismatch)

	tx, err = Sign(e, key, &Action{Type: ActionWithdrawNative, Account: key.Address(), Amount: uint256.NewInt(1), Nonce: 1})
	require.NoError(t, err)
	tx.Payload.Amount = "1000"
	_, err = v.Verify(tx)
	require.Error(t, err)

	tx.Signature = "0x1234"
	_, err = v.Verify(tx)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestPayloadParse(t *testing.T) {
	account := common.HexToAddress("0xa").Hex()
	tests := []struct {
		name    string
		payload ActionPayload
		wantErr bool
	}{
		{"native deposit", ActionPayload{Action: ActionDepositNative, Account: account, Amount: "10"}, false},
		{"token by name", ActionPayload{Action: ActionDepositToken, Account: account, Asset: "native", Amount: "1"}, false},
		{"bad amount", ActionPayload{Action: ActionDepositNative, Account: account, Amount: "-1"}, true},
		{"bad account", ActionPayload{Action: ActionDepositNative, Account: "bob", Amount: "1"}, true},
		{"missing order id", ActionPayload{Action: ActionFillOrder, Account: account}, true},
		{"unknown action", ActionPayload{Action: "swap", Account: account}, true},
		{"order missing sell asset", ActionPayload{Action: ActionMakeOrder, Account: account, BuyAsset: "native", BuyAmount: "1", SellAmount: "1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.payload.Parse()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
