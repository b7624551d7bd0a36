package xrp

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The ledger's well-known root account, derived from "masterpassphrase".
const (
	rootAccountPubKey  = "0330E7FC9D56BB25D6893BA3F317AE5BCF33B3291BD63DB32654A313222F7FD020"
	rootAccountAddress = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
)

var testPrivKey = func() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}()

func secpAccount(t *testing.T, privKey []byte) string {
	t.Helper()
	priv, _ := btcec.PrivKeyFromBytes(privKey)
	addr, err := DeriveAddress(priv.PubKey().SerializeCompressed())
	require.NoError(t, err)
	return addr
}

func TestDeriveAddress_KnownVector(t *testing.T) {
	pubKey, err := hex.DecodeString(rootAccountPubKey)
	require.NoError(t, err)

	addr, err := DeriveAddress(pubKey)
	require.NoError(t, err)
	assert.Equal(t, rootAccountAddress, addr)
}

func TestDecodeAccountID_RoundTrip(t *testing.T) {
	accountID, err := DecodeAccountID(rootAccountAddress)
	require.NoError(t, err)
	assert.Len(t, accountID, 20)

	// re-encode and compare
	addr := encodeBase58Check(accountIDPrefix, accountID)
	assert.Equal(t, rootAccountAddress, addr)
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(rootAccountAddress))
	assert.Error(t, ValidateAddress("rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTX"), "corrupted checksum")
	assert.Error(t, ValidateAddress("not-an-address"))
	assert.Error(t, ValidateAddress(""))
}

func TestDeriveAddress_BadLength(t *testing.T) {
	_, err := DeriveAddress([]byte{1, 2, 3})
	assert.Error(t, err)
}

func paymentFixture(t *testing.T) *Transaction {
	t.Helper()
	return &Transaction{
		TransactionType:    TypePayment,
		Account:            secpAccount(t, testPrivKey),
		Destination:        rootAccountAddress,
		Amount:             big.NewInt(1_000_000),
		Fee:                big.NewInt(12),
		Sequence:           7,
		LastLedgerSequence: 100,
	}
}

func TestSerialize_FieldLayout(t *testing.T) {
	tx := paymentFixture(t)
	tx.Memos = []Memo{{Data: []byte("ref-1")}}
	_, err := SignTransaction(tx, testPrivKey)
	require.NoError(t, err)

	blob, err := Serialize(tx, false)
	require.NoError(t, err)

	// TransactionType: UInt16 field 2 -> 0x12, Payment = 0
	assert.Equal(t, []byte{0x12, 0x00, 0x00}, blob[:3])
	// Sequence: UInt32 field 4 -> 0x24
	assert.Equal(t, []byte{0x24, 0x00, 0x00, 0x00, 0x07}, blob[3:8])
	// LastLedgerSequence: UInt32 field 27 -> two-byte header 0x20 0x1B
	assert.Equal(t, []byte{0x20, 0x1b, 0x00, 0x00, 0x00, 0x64}, blob[8:14])
	// Amount: field 0x61, native positive bit plus 1,000,000 drops
	assert.Equal(t, byte(0x61), blob[14])
	assert.Equal(t, []byte{0x40, 0x00, 0x00, 0x00, 0x00, 0x0f, 0x42, 0x40}, blob[15:23])
	// Fee: field 0x68
	assert.Equal(t, byte(0x68), blob[23])
	// SigningPubKey: blob field 3 -> 0x73, VL 33
	assert.Equal(t, []byte{0x73, 0x21}, blob[32:34])
	// memo array framing: 0xF9 (Memos) ... 0xEA (Memo) 0x7D (MemoData) ... 0xE1 0xF1
	assert.Equal(t, byte(0xf1), blob[len(blob)-1])
	assert.Equal(t, byte(0xe1), blob[len(blob)-2])
}

func TestSerialize_SigningFormOmitsSignature(t *testing.T) {
	tx := paymentFixture(t)
	_, err := SignTransaction(tx, testPrivKey)
	require.NoError(t, err)

	signed, err := Serialize(tx, false)
	require.NoError(t, err)
	signing, err := Serialize(tx, true)
	require.NoError(t, err)
	assert.Less(t, len(signing), len(signed))
}

func TestSerialize_AmountOutOfRange(t *testing.T) {
	tx := paymentFixture(t)
	tx.Amount = new(big.Int).Lsh(big.NewInt(1), 62)
	_, err := Serialize(tx, true)
	assert.Error(t, err)
}

func TestSignTransaction_Secp256k1(t *testing.T) {
	tx := paymentFixture(t)

	signed, err := SignTransaction(tx, testPrivKey)
	require.NoError(t, err)
	assert.Len(t, signed.TxHash, 64)
	assert.NotEmpty(t, signed.Blob)

	ok, err := VerifySignature(tx)
	require.NoError(t, err)
	assert.True(t, ok)

	// tampering must break the signature
	tx.Amount = big.NewInt(2_000_000)
	ok, err = VerifySignature(tx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignTransaction_Ed25519(t *testing.T) {
	edPriv := ed25519.NewKeyFromSeed(testPrivKey)
	edPub := edPriv.Public().(ed25519.PublicKey)
	account, err := DeriveAddress(append([]byte{ed25519Prefix}, edPub...))
	require.NoError(t, err)

	tx := &Transaction{
		TransactionType:    TypeAccountDelete,
		Account:            account,
		Destination:        rootAccountAddress,
		Fee:                big.NewInt(2_000_000),
		Sequence:           42,
		LastLedgerSequence: 500,
	}

	signed, err := SignTransaction(tx, testPrivKey)
	require.NoError(t, err)
	assert.Equal(t, byte(ed25519Prefix), tx.SigningPubKey[0])
	assert.Len(t, signed.TxHash, 64)

	ok, err := VerifySignature(tx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignTransaction_HashMatchesReserialization(t *testing.T) {
	tx := paymentFixture(t)
	signed, err := SignTransaction(tx, testPrivKey)
	require.NoError(t, err)

	blob, err := Serialize(tx, false)
	require.NoError(t, err)
	assert.Equal(t, signed.TxHash, TxHash(blob))
}

func TestTransaction_JSONRoundTrip(t *testing.T) {
	tx := paymentFixture(t)
	tx.Memos = []Memo{{Data: []byte{0xde, 0xad}}}
	_, err := SignTransaction(tx, testPrivKey)
	require.NoError(t, err)

	raw, err := json.Marshal(tx)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"TransactionType":"Payment"`)
	assert.Contains(t, string(raw), `"Amount":"1000000"`)
	assert.Contains(t, string(raw), `"MemoData":"DEAD"`)

	var decoded Transaction
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, tx.Account, decoded.Account)
	assert.Equal(t, 0, tx.Amount.Cmp(decoded.Amount))
	assert.Equal(t, tx.SigningPubKey, decoded.SigningPubKey)
	assert.Equal(t, tx.TxnSignature, decoded.TxnSignature)
	assert.Equal(t, tx.Memos, decoded.Memos)

	// the round-tripped transaction still verifies
	ok, err := VerifySignature(&decoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTransaction_JSONAccountDeleteOmitsAmount(t *testing.T) {
	tx := &Transaction{
		TransactionType:    TypeAccountDelete,
		Account:            secpAccount(t, testPrivKey),
		Destination:        rootAccountAddress,
		Fee:                big.NewInt(2_000_000),
		Sequence:           1,
		LastLedgerSequence: 10,
	}
	raw, err := json.Marshal(tx)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"Amount"`)

	var decoded Transaction
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Nil(t, decoded.Amount)
}

func TestWriteVL_Boundaries(t *testing.T) {
	var short, longer bytes.Buffer
	writeVL(&short, make([]byte, 192))
	writeVL(&longer, make([]byte, 193))

	assert.Equal(t, 193, short.Len(), "single length byte expected")
	assert.Equal(t, 195, longer.Len(), "two length bytes expected")
	assert.Equal(t, byte(193), longer.Bytes()[0])
	assert.Equal(t, byte(0), longer.Bytes()[1])
}
