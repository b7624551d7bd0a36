// Package xrp implements the XRP Ledger primitives the wallet needs: classic
// address encoding, the canonical binary transaction format, transaction
// signing for both key types the ledger accepts, and a rippled JSON-RPC
// client.
package xrp

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
)

// rippleAlphabet is the base58 dictionary the XRP Ledger uses. It differs
// from Bitcoin's.
const rippleAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

const accountIDPrefix = 0x00

// DeriveAddress computes the classic address for a public key. The key is
// either a 33-byte compressed secp256k1 key or a 33-byte 0xED-prefixed
// ed25519 key.
func DeriveAddress(publicKey []byte) (string, error) {
	if len(publicKey) != 33 {
		return "", fmt.Errorf("public key must be 33 bytes, got %d", len(publicKey))
	}
	return encodeBase58Check(accountIDPrefix, accountIDFromPubKey(publicKey)), nil
}

// DecodeAccountID parses a classic address into its 20-byte account id.
func DecodeAccountID(address string) ([]byte, error) {
	payload, err := decodeBase58Check(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if len(payload) != 21 || payload[0] != accountIDPrefix {
		return nil, fmt.Errorf("invalid address %q: wrong payload shape", address)
	}
	return payload[1:], nil
}

// ValidateAddress reports whether address is a well-formed classic address.
func ValidateAddress(address string) error {
	_, err := DecodeAccountID(address)
	return err
}

func accountIDFromPubKey(publicKey []byte) []byte {
	// ripemd160 over sha256, the same construction Bitcoin uses
	return btcutil.Hash160(publicKey)
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}

func encodeBase58Check(prefix byte, body []byte) string {
	payload := append([]byte{prefix}, body...)
	payload = append(payload, checksum(payload)...)
	return encodeBase58(payload)
}

func decodeBase58Check(s string) ([]byte, error) {
	raw, err := decodeBase58(s)
	if err != nil {
		return nil, err
	}
	if len(raw) < 5 {
		return nil, fmt.Errorf("too short")
	}
	payload, check := raw[:len(raw)-4], raw[len(raw)-4:]
	if !bytes.Equal(check, checksum(payload)) {
		return nil, fmt.Errorf("checksum mismatch")
	}
	return payload, nil
}

func encodeBase58(input []byte) string {
	zeros := 0
	for zeros < len(input) && input[zeros] == 0 {
		zeros++
	}

	num := new(big.Int).SetBytes(input)
	base := big.NewInt(58)
	mod := new(big.Int)

	var out []byte
	for num.Sign() > 0 {
		num.DivMod(num, base, mod)
		out = append(out, rippleAlphabet[mod.Int64()])
	}
	for i := 0; i < zeros; i++ {
		out = append(out, rippleAlphabet[0])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func decodeBase58(s string) ([]byte, error) {
	var index [256]int
	for i := range index {
		index[i] = -1
	}
	for i := 0; i < len(rippleAlphabet); i++ {
		index[rippleAlphabet[i]] = i
	}

	num := new(big.Int)
	base := big.NewInt(58)
	for i := 0; i < len(s); i++ {
		d := index[s[i]]
		if d < 0 {
			return nil, fmt.Errorf("invalid base58 character %q", s[i])
		}
		num.Mul(num, base)
		num.Add(num, big.NewInt(int64(d)))
	}

	zeros := 0
	for zeros < len(s) && s[zeros] == rippleAlphabet[0] {
		zeros++
	}

	body := num.Bytes()
	out := make([]byte, zeros+len(body))
	copy(out[zeros:], body)
	return out, nil
}
