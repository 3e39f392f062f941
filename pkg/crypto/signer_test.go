package crypto

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
	if n := len(signer.PrivateKeyHex()); n != 64 {
		t.Errorf("private key hex length = %d, want 64", n)
	}
	if n := len(signer.PublicKeyHex()); n != 130 {
		t.Errorf("public key hex length = %d, want 130", n)
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()

	for _, key := range []string{signer1.PrivateKeyHex(), "0x" + signer1.PrivateKeyHex()} {
		signer2, err := FromPrivateKeyHex(key)
		if err != nil {
			t.Fatalf("failed to load key: %v", err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}

	if _, err := FromPrivateKeyHex("zz"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, _ := GenerateKey()
	message := []byte("custodex")

	signature, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != 65 {
		t.Errorf("signature length = %d, want 65", len(signature))
	}

	hash := eth_crypto.Keccak256(message)
	if !VerifySignature(signer.Address(), hash, signature) {
		t.Error("signature verification failed")
	}
	if VerifySignature(common.HexToAddress("0x1"), hash, signature) {
		t.Error("verification should fail for another address")
	}

	// wallets send V as 27/28
	wallet := append([]byte(nil), signature...)
	wallet[64] += 27
	got, err := RecoverAddress(hash, wallet)
	if err != nil {
		t.Fatalf("recover with wallet V: %v", err)
	}
	if got != signer.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}

	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("expected error for non-32-byte hash")
	}
}

func testAction(account common.Address) *ActionEIP712 {
	return &ActionEIP712{
		Action:     "makeOrder",
		Account:    account,
		BuyAsset:   common.HexToAddress("0x6e3"),
		BuyAmount:  uint256.NewInt(20),
		SellAmount: uint256.NewInt(10),
		Nonce:      1,
	}
}

func TestActionSignature(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain(common.HexToAddress("0xc057")))
	action := testAction(signer.Address())

	sig, err := e.SignAction(signer, action)
	if err != nil {
		t.Fatalf("sign action: %v", err)
	}
	got, err := e.RecoverActionSigner(action, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != signer.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}

	tampered := *action
	tampered.SellAmount = uint256.NewInt(11)
	got, err = e.RecoverActionSigner(&tampered, sig)
	if err == nil && got == signer.Address() {
		t.Error("tampered action recovered the original signer")
	}
}

func TestActionHashBindsDomain(t *testing.T) {
	signer, _ := GenerateKey()
	action := testAction(signer.Address())

	h1, err := NewEIP712Signer(DefaultDomain(common.HexToAddress("0xc057"))).HashAction(action)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := NewEIP712Signer(DefaultDomain(common.HexToAddress("0xc058"))).HashAction(action)
	if err != nil {
		t.Fatal(err)
	}
	if string(h1) == string(h2) {
		t.Error("digest does not depend on the verifying contract")
	}
	if len(h1) != 32 {
		t.Errorf("digest length = %d, want 32", len(h1))
	}
}

func TestActionToJSON(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain(common.HexToAddress("0xc057")))
	out, err := e.ActionToJSON(testAction(common.HexToAddress("0xa")))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"primaryType": "Action"`, `"sellAmount"`, `"Custodex"`} {
		if !strings.Contains(out, want) {
			t.Errorf("typed data JSON missing %s", want)
		}
	}
}
