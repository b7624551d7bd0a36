package xrp

import (
	"crypto/ed25519"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

const ed25519Prefix = 0xed

// SignedTx is the result of signing: the wire blob for submit and the
// transaction id.
type SignedTx struct {
	Blob   []byte
	TxHash string
}

// PublicKeyForAccount derives the ledger public key from a 32-byte private
// key. Both ledger key types use 32-byte secrets, so the account address
// disambiguates: if the secp256k1-derived address matches, the key is
// secp256k1; otherwise it is treated as an ed25519 seed.
func PublicKeyForAccount(privateKey []byte, account string) ([]byte, error) {
	if len(privateKey) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(privateKey))
	}

	priv, _ := btcec.PrivKeyFromBytes(privateKey)
	secpPub := priv.PubKey().SerializeCompressed()
	addr, err := DeriveAddress(secpPub)
	if err != nil {
		return nil, err
	}
	if addr == account {
		return secpPub, nil
	}

	edPriv := ed25519.NewKeyFromSeed(privateKey)
	edPub := edPriv.Public().(ed25519.PublicKey)
	return append([]byte{ed25519Prefix}, edPub...), nil
}

// SignTransaction fills in SigningPubKey and TxnSignature and returns the
// signed blob plus transaction id. The transaction is modified in place.
func SignTransaction(t *Transaction, privateKey []byte) (*SignedTx, error) {
	pubKey, err := PublicKeyForAccount(privateKey, t.Account)
	if err != nil {
		return nil, err
	}
	t.SigningPubKey = pubKey

	payload, err := SigningPayload(t)
	if err != nil {
		return nil, err
	}

	if pubKey[0] == ed25519Prefix {
		// ed25519 signs the payload directly, without pre-hashing
		edPriv := ed25519.NewKeyFromSeed(privateKey)
		t.TxnSignature = ed25519.Sign(edPriv, payload)
	} else {
		priv, _ := btcec.PrivKeyFromBytes(privateKey)
		digest := sha512Half(payload)
		t.TxnSignature = btcecdsa.Sign(priv, digest).Serialize()
	}

	blob, err := Serialize(t, false)
	if err != nil {
		return nil, err
	}
	return &SignedTx{Blob: blob, TxHash: TxHash(blob)}, nil
}

// VerifySignature checks a transaction's signature against its SigningPubKey.
func VerifySignature(t *Transaction) (bool, error) {
	if len(t.SigningPubKey) == 0 || len(t.TxnSignature) == 0 {
		return false, fmt.Errorf("transaction is not signed")
	}

	payload, err := SigningPayload(t)
	if err != nil {
		return false, err
	}

	if t.SigningPubKey[0] == ed25519Prefix {
		if len(t.SigningPubKey) != 33 {
			return false, fmt.Errorf("invalid ed25519 public key length")
		}
		return ed25519.Verify(ed25519.PublicKey(t.SigningPubKey[1:]), payload, t.TxnSignature), nil
	}

	pub, err := btcec.ParsePubKey(t.SigningPubKey)
	if err != nil {
		return false, fmt.Errorf("invalid public key: %w", err)
	}
	sig, err := btcecdsa.ParseDERSignature(t.TxnSignature)
	if err != nil {
		return false, fmt.Errorf("invalid signature: %w", err)
	}
	return sig.Verify(sha512Half(payload), pub), nil
}
