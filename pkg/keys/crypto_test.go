package keys

import (
	"bytes"
	"encoding/base64"
	"testing"
)

const (
	secp256k1PrivateKeySize = 32 // secp256k1 private key is 32 bytes
	secp256k1PublicKeySize  = 33 // Compressed secp256k1 public key is 33 bytes
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	// Check key sizes
	if len(kp.PublicKey) != secp256k1PublicKeySize {
		t.Errorf("Expected public key size %d, got %d", secp256k1PublicKeySize, len(kp.PublicKey))
	}
	if len(kp.PrivateKey) != secp256k1PrivateKeySize {
		t.Errorf("Expected private key size %d, got %d", secp256k1PrivateKeySize, len(kp.PrivateKey))
	}

	// Verify the keypair works for signing
	message := []byte("test message")
	signature, err := kp.Sign(message)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if !kp.Verify(message, signature) {
		t.Error("Signature verification failed")
	}
}

func TestDeriveKeyPair(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}

	// Derive keypair twice - should get same result
	kp1, err := DeriveKeyPair(seed, "BTC/0")
	if err != nil {
		t.Fatalf("DeriveKeyPair failed: %v", err)
	}

	kp2, err := DeriveKeyPair(seed, "BTC/0")
	if err != nil {
		t.Fatalf("DeriveKeyPair (2nd call) failed: %v", err)
	}

	// Keys should be identical
	if kp1.PublicKeyHex() != kp2.PublicKeyHex() {
		t.Error("Derived public keys don't match")
	}

	// Different label should give different key
	kp3, err := DeriveKeyPair(seed, "DOGE/0")
	if err != nil {
		t.Fatalf("DeriveKeyPair (different label) failed: %v", err)
	}
	if kp1.PublicKeyHex() == kp3.PublicKeyHex() {
		t.Error("Different labels produced same key")
	}
}

func TestDeriveKeyPairShortSeed(t *testing.T) {
	shortSeed := make([]byte, 16)
	_, err := DeriveKeyPair(shortSeed, "BTC/0")
	if err == nil {
		t.Error("Expected error for short seed, got nil")
	}
}

func TestKeyPairFromPrivateKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	restored, err := KeyPairFromPrivateKey(kp.PrivateKey)
	if err != nil {
		t.Fatalf("KeyPairFromPrivateKey failed: %v", err)
	}
	if !bytes.Equal(restored.PublicKey, kp.PublicKey) {
		t.Error("Restored public key does not match original")
	}

	_, err = KeyPairFromPrivateKey([]byte("short"))
	if err == nil {
		t.Error("Expected error for wrong-size private key")
	}
}

func TestEncryptDecryptPrivateKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	masterKey, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey failed: %v", err)
	}

	encrypted, err := encryptPrivateKey(kp.PrivateKey, masterKey)
	if err != nil {
		t.Fatalf("encryptPrivateKey failed: %v", err)
	}

	// Should be base64 encoded
	_, err = base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		t.Errorf("Encrypted key is not valid base64: %v", err)
	}

	decrypted, err := decryptPrivateKey(encrypted, masterKey)
	if err != nil {
		t.Fatalf("decryptPrivateKey failed: %v", err)
	}

	if !bytes.Equal(decrypted, kp.PrivateKey) {
		t.Error("Decrypted key does not match original")
	}

	// Decrypted key should still work for signing
	message := []byte("test message")
	decryptedKP, err := KeyPairFromPrivateKey(decrypted)
	if err != nil {
		t.Fatalf("KeyPairFromPrivateKey failed: %v", err)
	}
	signature, err := decryptedKP.Sign(message)
	if err != nil {
		t.Fatalf("Sign with decrypted key failed: %v", err)
	}
	if !kp.Verify(message, signature) {
		t.Error("Signature with decrypted key failed verification")
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	kp, _ := GenerateKeyPair()
	masterKey1, _ := GenerateMasterKey()
	masterKey2, _ := GenerateMasterKey()

	encrypted, err := encryptPrivateKey(kp.PrivateKey, masterKey1)
	if err != nil {
		t.Fatalf("encryptPrivateKey failed: %v", err)
	}

	_, err = decryptPrivateKey(encrypted, masterKey2)
	if err == nil {
		t.Error("Expected error decrypting with wrong key, got nil")
	}
}

func TestEncryptInvalidMasterKeySize(t *testing.T) {
	kp, _ := GenerateKeyPair()

	shortKey := make([]byte, 16)
	_, err := encryptPrivateKey(kp.PrivateKey, shortKey)
	if err == nil {
		t.Error("Expected error for short master key")
	}

	longKey := make([]byte, 64)
	_, err = encryptPrivateKey(kp.PrivateKey, longKey)
	if err == nil {
		t.Error("Expected error for long master key")
	}
}

func TestMasterKeyConversion(t *testing.T) {
	masterKey, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey failed: %v", err)
	}

	b64 := MasterKeyToBase64(masterKey)

	recovered, err := MasterKeyFromBase64(b64)
	if err != nil {
		t.Fatalf("MasterKeyFromBase64 failed: %v", err)
	}

	if !bytes.Equal(recovered, masterKey) {
		t.Error("Recovered key does not match original")
	}
}

func TestMasterKeyFromBase64Invalid(t *testing.T) {
	// Invalid base64
	_, err := MasterKeyFromBase64("not-valid-base64!!!")
	if err == nil {
		t.Error("Expected error for invalid base64")
	}

	// Valid base64 but wrong length
	shortB64 := base64.StdEncoding.EncodeToString([]byte("short"))
	_, err = MasterKeyFromBase64(shortB64)
	if err == nil {
		t.Error("Expected error for wrong key length")
	}
}

func TestPublicKeyEncodings(t *testing.T) {
	kp, _ := GenerateKeyPair()

	hex := kp.PublicKeyHex()
	if len(hex) != secp256k1PublicKeySize*2 {
		t.Errorf("Hex encoding length wrong: got %d, want %d", len(hex), secp256k1PublicKeySize*2)
	}

	b64 := kp.PublicKeyBase64()
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Errorf("Base64 decoding failed: %v", err)
	}
	if len(decoded) != secp256k1PublicKeySize {
		t.Errorf("Decoded length wrong: got %d, want %d", len(decoded), secp256k1PublicKeySize)
	}
}
