package keys

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// KeyStore provides an interface for retrieving and storing wallet signing keys
type KeyStore interface {
	// GetKey retrieves and decrypts the private key for an address.
	// Returns a 32-byte secp256k1 private key, or wallet.ErrKeyNotFound.
	GetKey(ctx context.Context, address string) ([]byte, error)

	// AddKey encrypts and stores the private key for an address.
	// Expects a 32-byte secp256k1 private key.
	AddKey(ctx context.Context, address string, privateKey []byte) error

	// HasKey checks whether a key is stored for an address
	HasKey(ctx context.Context, address string) (bool, error)
}

// keyBackend is the persistence surface the Postgres-backed store needs.
// Satisfied by *store.Store.
type keyBackend interface {
	GetWalletKey(ctx context.Context, address string) (string, error)
	SetWalletKey(ctx context.Context, address, encryptedKey string) error
}

// PgKeyStore implements KeyStore on top of the wallet_keys table. Decrypted
// keys are kept in a bounded in-memory cache so the monitor's signing loop
// does not pay a decrypt per submission.
type PgKeyStore struct {
	db        keyBackend
	masterKey []byte

	mu        sync.Mutex
	cache     map[string][]byte
	cacheKeys []string // insertion order, oldest first
	cacheSize int
}

// NewPgKeyStore creates a new PgKeyStore. cacheSize bounds the number of
// decrypted keys held in memory; 0 disables caching.
func NewPgKeyStore(db keyBackend, masterKey []byte, cacheSize int) (*PgKeyStore, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (AES-256)")
	}
	return &PgKeyStore{
		db:        db,
		masterKey: masterKey,
		cache:     make(map[string][]byte),
		cacheSize: cacheSize,
	}, nil
}

// GetKey retrieves and decrypts the private key for an address
func (s *PgKeyStore) GetKey(ctx context.Context, address string) ([]byte, error) {
	s.mu.Lock()
	if cached, ok := s.cache[address]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	encryptedKey, err := s.db.GetWalletKey(ctx, address)
	if err != nil {
		return nil, err
	}

	privateKey, err := decryptPrivateKey(encryptedKey, s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key for %s: %w", address, err)
	}

	s.cachePut(address, privateKey)
	return privateKey, nil
}

// AddKey encrypts and stores the private key for an address
func (s *PgKeyStore) AddKey(ctx context.Context, address string, privateKey []byte) error {
	if len(privateKey) != privateKeySize {
		return fmt.Errorf("private key must be %d bytes", privateKeySize)
	}

	encryptedKey, err := encryptPrivateKey(privateKey, s.masterKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt key: %w", err)
	}

	if err := s.db.SetWalletKey(ctx, address, encryptedKey); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	// invalidate rather than populate, so a re-added key is re-read from the DB
	s.mu.Lock()
	delete(s.cache, address)
	s.mu.Unlock()

	return nil
}

// HasKey checks whether a key is stored for an address
func (s *PgKeyStore) HasKey(ctx context.Context, address string) (bool, error) {
	s.mu.Lock()
	if _, ok := s.cache[address]; ok {
		s.mu.Unlock()
		return true, nil
	}
	s.mu.Unlock()

	_, err := s.db.GetWalletKey(ctx, address)
	if errors.Is(err, wallet.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PgKeyStore) cachePut(address string, privateKey []byte) {
	if s.cacheSize <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cache[address]; ok {
		s.cache[address] = privateKey
		return
	}
	for len(s.cacheKeys) >= s.cacheSize {
		oldest := s.cacheKeys[0]
		s.cacheKeys = s.cacheKeys[1:]
		delete(s.cache, oldest)
	}
	s.cache[address] = privateKey
	s.cacheKeys = append(s.cacheKeys, address)
}

// MemoryKeyStore implements KeyStore using in-memory storage (for testing)
type MemoryKeyStore struct {
	mu   sync.Mutex
	keys map[string][]byte
}

// NewMemoryKeyStore creates a new in-memory key store (for testing)
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string][]byte)}
}

// GetKey retrieves the private key for an address (from memory)
func (s *MemoryKeyStore) GetKey(ctx context.Context, address string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[address]
	if !ok {
		return nil, wallet.ErrKeyNotFound
	}
	return key, nil
}

// AddKey stores the private key for an address (in memory)
func (s *MemoryKeyStore) AddKey(ctx context.Context, address string, privateKey []byte) error {
	if len(privateKey) != privateKeySize {
		return fmt.Errorf("private key must be %d bytes", privateKeySize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[address] = privateKey
	return nil
}

// HasKey checks whether a key is stored for an address (in memory)
func (s *MemoryKeyStore) HasKey(ctx context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[address]
	return ok, nil
}

// ResolveKeyPair looks up an address's private key in the store and
// reconstructs a full KeyPair.
func ResolveKeyPair(ctx context.Context, ks KeyStore, address string) (*KeyPair, error) {
	privKey, err := ks.GetKey(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("key store lookup: %w", err)
	}
	return KeyPairFromPrivateKey(privKey)
}
