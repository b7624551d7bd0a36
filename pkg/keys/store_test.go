package keys

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// mockKeyBackend is a func-field mock of the wallet_keys persistence surface.
type mockKeyBackend struct {
	getWalletKeyFunc func(ctx context.Context, address string) (string, error)
	setWalletKeyFunc func(ctx context.Context, address, encryptedKey string) error

	getCalls int
	setCalls int
}

func (m *mockKeyBackend) GetWalletKey(ctx context.Context, address string) (string, error) {
	m.getCalls++
	return m.getWalletKeyFunc(ctx, address)
}

func (m *mockKeyBackend) SetWalletKey(ctx context.Context, address, encryptedKey string) error {
	m.setCalls++
	return m.setWalletKeyFunc(ctx, address, encryptedKey)
}

func TestPgKeyStore_AddAndGetKey(t *testing.T) {
	masterKey, err := GenerateMasterKey()
	require.NoError(t, err)

	stored := make(map[string]string)
	backend := &mockKeyBackend{
		getWalletKeyFunc: func(ctx context.Context, address string) (string, error) {
			enc, ok := stored[address]
			if !ok {
				return "", wallet.ErrKeyNotFound
			}
			return enc, nil
		},
		setWalletKeyFunc: func(ctx context.Context, address, encryptedKey string) error {
			stored[address] = encryptedKey
			return nil
		},
	}

	ks, err := NewPgKeyStore(backend, masterKey, 4)
	require.NoError(t, err)

	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	ctx := context.Background()
	addr := "mzVz3yDyBcTuqPJhT2DN2KZH1TgqWGKiot"

	require.NoError(t, ks.AddKey(ctx, addr, kp.PrivateKey))

	// stored value must be ciphertext, not the raw key
	assert.NotEqual(t, string(kp.PrivateKey), stored[addr])

	got, err := ks.GetKey(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, kp.PrivateKey, got)

	has, err := ks.HasKey(ctx, addr)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = ks.HasKey(ctx, "unknown-address")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestPgKeyStore_GetKeyNotFound(t *testing.T) {
	masterKey, err := GenerateMasterKey()
	require.NoError(t, err)

	backend := &mockKeyBackend{
		getWalletKeyFunc: func(ctx context.Context, address string) (string, error) {
			return "", wallet.ErrKeyNotFound
		},
	}
	ks, err := NewPgKeyStore(backend, masterKey, 4)
	require.NoError(t, err)

	_, err = ks.GetKey(context.Background(), "nobody")
	assert.True(t, errors.Is(err, wallet.ErrKeyNotFound))
}

func TestPgKeyStore_CachesDecryptedKeys(t *testing.T) {
	masterKey, err := GenerateMasterKey()
	require.NoError(t, err)

	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	encrypted, err := encryptPrivateKey(kp.PrivateKey, masterKey)
	require.NoError(t, err)

	backend := &mockKeyBackend{
		getWalletKeyFunc: func(ctx context.Context, address string) (string, error) {
			return encrypted, nil
		},
	}
	ks, err := NewPgKeyStore(backend, masterKey, 4)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := ks.GetKey(ctx, "addr")
		require.NoError(t, err)
		assert.Equal(t, kp.PrivateKey, got)
	}
	assert.Equal(t, 1, backend.getCalls, "repeated reads should be served from cache")
}

func TestPgKeyStore_CacheEviction(t *testing.T) {
	masterKey, err := GenerateMasterKey()
	require.NoError(t, err)

	stored := make(map[string]string)
	backend := &mockKeyBackend{
		getWalletKeyFunc: func(ctx context.Context, address string) (string, error) {
			return stored[address], nil
		},
		setWalletKeyFunc: func(ctx context.Context, address, encryptedKey string) error {
			stored[address] = encryptedKey
			return nil
		},
	}
	ks, err := NewPgKeyStore(backend, masterKey, 2)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		kp, err := GenerateKeyPair()
		require.NoError(t, err)
		addr := fmt.Sprintf("addr-%d", i)
		require.NoError(t, ks.AddKey(ctx, addr, kp.PrivateKey))
		_, err = ks.GetKey(ctx, addr)
		require.NoError(t, err)
	}

	// addr-0 was evicted, a fresh read hits the backend again
	reads := backend.getCalls
	_, err = ks.GetKey(ctx, "addr-0")
	require.NoError(t, err)
	assert.Equal(t, reads+1, backend.getCalls)
}

func TestPgKeyStore_AddKeyInvalidatesCache(t *testing.T) {
	masterKey, err := GenerateMasterKey()
	require.NoError(t, err)

	stored := make(map[string]string)
	backend := &mockKeyBackend{
		getWalletKeyFunc: func(ctx context.Context, address string) (string, error) {
			return stored[address], nil
		},
		setWalletKeyFunc: func(ctx context.Context, address, encryptedKey string) error {
			stored[address] = encryptedKey
			return nil
		},
	}
	ks, err := NewPgKeyStore(backend, masterKey, 4)
	require.NoError(t, err)

	ctx := context.Background()
	kp1, _ := GenerateKeyPair()
	kp2, _ := GenerateKeyPair()

	require.NoError(t, ks.AddKey(ctx, "addr", kp1.PrivateKey))
	got, err := ks.GetKey(ctx, "addr")
	require.NoError(t, err)
	assert.Equal(t, kp1.PrivateKey, got)

	require.NoError(t, ks.AddKey(ctx, "addr", kp2.PrivateKey))
	got, err = ks.GetKey(ctx, "addr")
	require.NoError(t, err)
	assert.Equal(t, kp2.PrivateKey, got, "replacing a key must drop the cached copy")
}

func TestPgKeyStore_RejectsBadMasterKey(t *testing.T) {
	_, err := NewPgKeyStore(&mockKeyBackend{}, []byte("too short"), 4)
	assert.Error(t, err)
}

func TestMemoryKeyStore(t *testing.T) {
	ks := NewMemoryKeyStore()
	ctx := context.Background()

	_, err := ks.GetKey(ctx, "addr")
	assert.True(t, errors.Is(err, wallet.ErrKeyNotFound))

	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, ks.AddKey(ctx, "addr", kp.PrivateKey))

	got, err := ks.GetKey(ctx, "addr")
	require.NoError(t, err)
	assert.Equal(t, kp.PrivateKey, got)

	has, err := ks.HasKey(ctx, "addr")
	require.NoError(t, err)
	assert.True(t, has)

	resolved, err := ResolveKeyPair(ctx, ks, "addr")
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, resolved.PublicKey)
}
