// Package keys provides wallet key generation and encryption for custodial key
// management. Private keys are held encrypted at rest (AES-256-GCM under a
// server master key) and only decrypted in memory when a transaction is signed.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/hkdf"
)

const privateKeySize = 32

// KeyPair is a secp256k1 signing keypair. BTC and DOGE addresses always use
// secp256k1; XRP accounts created by this wallet use it as well.
type KeyPair struct {
	PublicKey  []byte // 33-byte compressed secp256k1 public key
	PrivateKey []byte // 32-byte secp256k1 private key
}

// GenerateKeyPair generates a new random secp256k1 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secp256k1 keypair: %w", err)
	}

	return &KeyPair{
		PublicKey:  privateKey.PubKey().SerializeCompressed(),
		PrivateKey: privateKey.Serialize(),
	}, nil
}

// KeyPairFromPrivateKey reconstructs a keypair from a stored 32-byte private key.
func KeyPairFromPrivateKey(privateKey []byte) (*KeyPair, error) {
	if len(privateKey) != privateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", privateKeySize, len(privateKey))
	}

	priv, _ := btcec.PrivKeyFromBytes(privateKey)
	return &KeyPair{
		PublicKey:  priv.PubKey().SerializeCompressed(),
		PrivateKey: priv.Serialize(),
	}, nil
}

// DeriveKeyPair deterministically derives a keypair from a server seed and a
// derivation label (chain type plus account index). The same seed and label
// always regenerate the same keypair. Uses HKDF with SHA-256.
func DeriveKeyPair(serverSeed []byte, label string) (*KeyPair, error) {
	if len(serverSeed) < 32 {
		return nil, fmt.Errorf("server seed must be at least 32 bytes")
	}

	info := []byte("wallet-key-" + label)
	hkdfReader := hkdf.New(sha256.New, serverSeed, nil, info)

	privateKeyBytes := make([]byte, privateKeySize)
	if _, err := io.ReadFull(hkdfReader, privateKeyBytes); err != nil {
		return nil, fmt.Errorf("failed to derive key seed: %w", err)
	}

	return KeyPairFromPrivateKey(privateKeyBytes)
}

// PublicKeyHex returns the public key as a hex string (for display/logging)
func (kp *KeyPair) PublicKeyHex() string {
	return fmt.Sprintf("%x", kp.PublicKey)
}

// PublicKeyBase64 returns the public key as a base64 string
func (kp *KeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(kp.PublicKey)
}

// Sign signs a message with the private key using ECDSA over SHA-256.
// Returns the signature in DER format.
func (kp *KeyPair) Sign(message []byte) ([]byte, error) {
	priv, _ := btcec.PrivKeyFromBytes(kp.PrivateKey)
	hash := sha256.Sum256(message)
	sig := ecdsa.Sign(priv, hash[:])
	return sig.Serialize(), nil
}

// Verify verifies a DER signature against a message.
func (kp *KeyPair) Verify(message, signature []byte) bool {
	pub, err := btcec.ParsePubKey(kp.PublicKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	hash := sha256.Sum256(message)
	return sig.Verify(hash[:], pub)
}

// encryptPrivateKey encrypts a private key using AES-256-GCM with the provided
// master key. Returns base64 of: nonce || ciphertext || tag
func encryptPrivateKey(privateKey []byte, masterKey []byte) (string, error) {
	if len(masterKey) != 32 {
		return "", fmt.Errorf("master key must be 32 bytes (AES-256)")
	}

	if len(privateKey) != privateKeySize {
		return "", fmt.Errorf("private key must be %d bytes", privateKeySize)
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, privateKey, nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptPrivateKey decrypts an encrypted private key using AES-256-GCM.
// The encrypted string should be base64-encoded containing: nonce || ciphertext || tag
func decryptPrivateKey(encrypted string, masterKey []byte) ([]byte, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (AES-256)")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	if len(plaintext) != privateKeySize {
		return nil, fmt.Errorf("decrypted key has wrong size: got %d, want %d", len(plaintext), privateKeySize)
	}

	return plaintext, nil
}

// GenerateMasterKey generates a new random 32-byte master key for encrypting
// wallet keys. This should be stored securely (environment variable, secrets
// manager, etc.)
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	return key, nil
}

// MasterKeyFromBase64 decodes a base64-encoded master key
func MasterKeyFromBase64(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// MasterKeyToBase64 encodes a master key as base64 for storage
func MasterKeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
