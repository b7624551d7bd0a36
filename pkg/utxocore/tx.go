package utxocore

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// rbfSequence opts every input into replace-by-fee (BIP 125).
const rbfSequence = wire.MaxTxInSequenceNum - 2

// InputUTXO is a previous output being spent: its outpoint, value, and the
// locking script needed to sign.
type InputUTXO struct {
	TxHash string
	Vout   uint32
	Value  *big.Int
	Script []byte
}

// Payment is a destination output.
type Payment struct {
	Address string
	Value   *big.Int
}

// BuildTransaction assembles an unsigned transaction spending inputs into
// payments, returning the remainder minus fee to changeAddress. Change below
// the chain's dust limit is folded into the fee instead of producing an
// unspendable output.
func BuildTransaction(chain wallet.ChainType, inputs []InputUTXO, payments []Payment, changeAddress string, fee *big.Int) (*wire.MsgTx, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs")
	}
	if len(payments) == 0 {
		return nil, fmt.Errorf("no payments")
	}

	tx := wire.NewMsgTx(wire.TxVersion)

	totalIn := new(big.Int)
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.TxHash)
		if err != nil {
			return nil, fmt.Errorf("invalid input tx hash %q: %w", in.TxHash, err)
		}
		txIn := wire.NewTxIn(wire.NewOutPoint(hash, in.Vout), nil, nil)
		txIn.Sequence = rbfSequence
		tx.AddTxIn(txIn)
		totalIn.Add(totalIn, in.Value)
	}

	dust := wallet.DustAmount(chain)
	totalOut := new(big.Int)
	for _, p := range payments {
		if p.Value.Cmp(dust) < 0 {
			return nil, &wallet.LessThanDustAmountError{Amount: p.Value, Dust: dust}
		}
		addr, err := DecodeAddress(chain, p.Address)
		if err != nil {
			return nil, err
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to build output script: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(p.Value.Int64(), script))
		totalOut.Add(totalOut, p.Value)
	}

	change := new(big.Int).Sub(totalIn, totalOut)
	change.Sub(change, fee)
	if change.Sign() < 0 {
		return nil, &wallet.NotEnoughUTXOsError{
			Available: totalIn,
			Needed:    new(big.Int).Add(totalOut, fee),
		}
	}

	if change.Cmp(dust) >= 0 {
		addr, err := DecodeAddress(chain, changeAddress)
		if err != nil {
			return nil, err
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to build change script: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(change.Int64(), script))
	}

	return tx, nil
}

// AddReference appends a zero-value OP_RETURN output carrying a payment
// note. Must be called before signing.
func AddReference(tx *wire.MsgTx, note []byte) error {
	script, err := txscript.NullDataScript(note)
	if err != nil {
		return fmt.Errorf("invalid payment reference: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(0, script))
	return nil
}

// SignTransaction signs every input of tx with the given private key. Inputs
// must be in the same order passed to BuildTransaction.
func SignTransaction(tx *wire.MsgTx, inputs []InputUTXO, privateKey []byte) error {
	if len(tx.TxIn) != len(inputs) {
		return fmt.Errorf("input count mismatch: tx has %d, got %d", len(tx.TxIn), len(inputs))
	}

	priv, _ := btcec.PrivKeyFromBytes(privateKey)
	for i, in := range inputs {
		sigScript, err := txscript.SignatureScript(tx, i, in.Script, txscript.SigHashAll, priv, true)
		if err != nil {
			return fmt.Errorf("failed to sign input %d: %w", i, err)
		}
		tx.TxIn[i].SignatureScript = sigScript
	}
	return nil
}

// SerializeTx returns the wire encoding of tx.
func SerializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeTx decodes a wire-encoded transaction.
func DeserializeTx(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %w", err)
	}
	return tx, nil
}

// TxHashHex returns the transaction id as the hex string nodes and explorers
// display.
func TxHashHex(tx *wire.MsgTx) string {
	return tx.TxHash().String()
}

// SerializeTxHex returns the raw transaction as a hex string for sendtx.
func SerializeTxHex(tx *wire.MsgTx) (string, error) {
	raw, err := SerializeTx(tx)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// EstimateFee computes the fee for a transaction shape at the given fee rate
// per kilobyte, rounding the per-byte product up.
func EstimateFee(numInputs, numOutputs int, feePerKB *big.Int) *big.Int {
	size := wallet.EstimateTxSize(numInputs, numOutputs)
	return wallet.MulRatio(feePerKB, size, 1000)
}
