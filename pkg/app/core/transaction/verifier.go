package transaction

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/custodex/pkg/crypto"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignerMismatch   = errors.New("signer is not the action account")
	ErrNonceUsed        = errors.New("nonce too low")
)

// NonceStore persists the last accepted nonce per account.
type NonceStore interface {
	Nonce(addr common.Address) (uint64, error)
	SetNonce(addr common.Address, nonce uint64) error
}

// Verifier authenticates signed actions and enforces strictly increasing
// nonces per account. A nonce is spent once the signature checks out, even
// if the exchange later rejects the action.
type Verifier struct {
	signer *crypto.EIP712Signer

	mu     sync.Mutex
	nonces NonceStore
}

func NewVerifier(domain crypto.EIP712Domain, nonces NonceStore) *Verifier {
	return &Verifier{signer: crypto.NewEIP712Signer(domain), nonces: nonces}
}

func (v *Verifier) Domain() crypto.EIP712Domain { return v.signer.Domain() }

// Verify parses tx, checks that its account signed it and consumes the
// nonce.
func (v *Verifier) Verify(tx *SignedAction) (*Action, error) {
	action, err := tx.Payload.Parse()
	if err != nil {
		return nil, err
	}
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidSignature)
	}
	signer, err := v.signer.RecoverActionSigner(action.EIP712(), sig)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "recover signer"), ErrInvalidSignature)
	}
	if signer != action.Account {
		return nil, errors.Wrapf(ErrSignerMismatch, "signed by %s, account %s", signer.Hex(), action.Account.Hex())
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	last, err := v.nonces.Nonce(action.Account)
	if err != nil {
		return nil, errors.Wrap(err, "load nonce")
	}
	if action.Nonce <= last {
		return nil, errors.Wrapf(ErrNonceUsed, "got %d, last used %d", action.Nonce, last)
	}
	if err := v.nonces.SetNonce(action.Account, action.Nonce); err != nil {
		return nil, errors.Wrap(err, "save nonce")
	}
	return action, nil
}

// Sign produces the envelope for a, for clients and tests.
func Sign(e *crypto.EIP712Signer, s *crypto.Signer, a *Action) (*SignedAction, error) {
	sig, err := e.SignAction(s, a.EIP712())
	if err != nil {
		return nil, err
	}
	return &SignedAction{Payload: a.Payload(), Signature: hexutil.Encode(sig)}, nil
}

func decodeSignature(sig string) ([]byte, error) {
	b, err := hexutil.Decode(sig)
	if err != nil {
		return nil, errors.Wrap(err, "invalid hex signature")
	}
	if len(b) != 65 {
		return nil, errors.Newf("signature must be 65 bytes, got %d", len(b))
	}
	return b, nil
}
