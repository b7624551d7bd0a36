package xrp

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Hash prefixes from the ledger's binary format. The signing payload and the
// transaction id are domain-separated by these four bytes.
var (
	prefixTxSign = []byte{0x53, 0x54, 0x58, 0x00} // "STX\0"
	prefixTxID   = []byte{0x54, 0x58, 0x4e, 0x00} // "TXN\0"
)

// Serial field ids (type code, field code) in canonical order. Fields must be
// emitted sorted by type code, then field code.
const (
	typeUInt16    = 1
	typeUInt32    = 2
	typeAmount    = 6
	typeBlob      = 7
	typeAccountID = 8
	typeSTObject  = 14
	typeSTArray   = 15
)

const (
	fieldTransactionType    = 2  // UInt16
	fieldSequence           = 4  // UInt32
	fieldLastLedgerSequence = 27 // UInt32
	fieldAmount             = 1  // Amount
	fieldFee                = 8  // Amount
	fieldSigningPubKey      = 3  // Blob
	fieldTxnSignature       = 4  // Blob
	fieldAccount            = 1  // AccountID
	fieldDestination        = 3  // AccountID
	fieldMemos              = 9  // STArray
	fieldMemo               = 10 // STObject
	fieldMemoData           = 13 // Blob
	fieldObjectEnd          = 1  // STObject end marker
	fieldArrayEnd           = 1  // STArray end marker
)

// Serialize encodes the transaction in the ledger's canonical binary format.
// With forSigning set, TxnSignature is omitted; that form, prefixed with the
// signing hash prefix, is what gets signed.
func Serialize(t *Transaction, forSigning bool) ([]byte, error) {
	typeCode, err := t.typeCode()
	if err != nil {
		return nil, err
	}
	if t.Fee == nil {
		return nil, fmt.Errorf("transaction has no fee")
	}
	if t.IsPayment() && t.Amount == nil {
		return nil, fmt.Errorf("payment has no amount")
	}

	var buf bytes.Buffer

	writeFieldHeader(&buf, typeUInt16, fieldTransactionType)
	binary.Write(&buf, binary.BigEndian, typeCode)

	writeFieldHeader(&buf, typeUInt32, fieldSequence)
	binary.Write(&buf, binary.BigEndian, t.Sequence)

	writeFieldHeader(&buf, typeUInt32, fieldLastLedgerSequence)
	binary.Write(&buf, binary.BigEndian, t.LastLedgerSequence)

	if t.Amount != nil {
		writeFieldHeader(&buf, typeAmount, fieldAmount)
		if err := writeNativeAmount(&buf, t.Amount); err != nil {
			return nil, fmt.Errorf("amount: %w", err)
		}
	}

	writeFieldHeader(&buf, typeAmount, fieldFee)
	if err := writeNativeAmount(&buf, t.Fee); err != nil {
		return nil, fmt.Errorf("fee: %w", err)
	}

	writeFieldHeader(&buf, typeBlob, fieldSigningPubKey)
	writeVL(&buf, t.SigningPubKey)

	if !forSigning && len(t.TxnSignature) > 0 {
		writeFieldHeader(&buf, typeBlob, fieldTxnSignature)
		writeVL(&buf, t.TxnSignature)
	}

	account, err := DecodeAccountID(t.Account)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	writeFieldHeader(&buf, typeAccountID, fieldAccount)
	writeVL(&buf, account)

	destination, err := DecodeAccountID(t.Destination)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	writeFieldHeader(&buf, typeAccountID, fieldDestination)
	writeVL(&buf, destination)

	if len(t.Memos) > 0 {
		writeFieldHeader(&buf, typeSTArray, fieldMemos)
		for _, m := range t.Memos {
			writeFieldHeader(&buf, typeSTObject, fieldMemo)
			writeFieldHeader(&buf, typeBlob, fieldMemoData)
			writeVL(&buf, m.Data)
			writeFieldHeader(&buf, typeSTObject, fieldObjectEnd)
		}
		writeFieldHeader(&buf, typeSTArray, fieldArrayEnd)
	}

	return buf.Bytes(), nil
}

// SigningPayload returns the bytes a signature must cover.
func SigningPayload(t *Transaction) ([]byte, error) {
	blob, err := Serialize(t, true)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, prefixTxSign...), blob...), nil
}

// TxHash computes the transaction id of a signed transaction blob.
func TxHash(signedBlob []byte) string {
	payload := append(append([]byte{}, prefixTxID...), signedBlob...)
	hash := sha512Half(payload)
	return hexUpper(hash)
}

// sha512Half is the ledger's standard hash: the first 32 bytes of SHA-512.
func sha512Half(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:32]
}

func writeFieldHeader(buf *bytes.Buffer, typeCode, fieldCode int) {
	switch {
	case typeCode < 16 && fieldCode < 16:
		buf.WriteByte(byte(typeCode<<4 | fieldCode))
	case typeCode < 16:
		buf.WriteByte(byte(typeCode << 4))
		buf.WriteByte(byte(fieldCode))
	default:
		buf.WriteByte(byte(fieldCode))
		buf.WriteByte(byte(typeCode))
	}
}

// writeNativeAmount encodes an XRP drop amount: 62 bits of value with the
// "positive, native" bit set.
func writeNativeAmount(buf *bytes.Buffer, v *big.Int) error {
	if v.Sign() < 0 || v.BitLen() > 62 {
		return fmt.Errorf("value %s out of range for a drop amount", v)
	}
	return binary.Write(buf, binary.BigEndian, v.Uint64()|0x4000000000000000)
}

func writeVL(buf *bytes.Buffer, data []byte) {
	l := len(data)
	switch {
	case l <= 192:
		buf.WriteByte(byte(l))
	case l <= 12480:
		l -= 193
		buf.WriteByte(byte(193 + l>>8))
		buf.WriteByte(byte(l & 0xff))
	default:
		l -= 12481
		buf.WriteByte(byte(241 + l>>16))
		buf.WriteByte(byte(l >> 8 & 0xff))
		buf.WriteByte(byte(l & 0xff))
	}
	buf.Write(data)
}

// DecodeTxHashHex normalizes a hex transaction hash to the upper-case form
// rippled reports.
func DecodeTxHashHex(s string) (string, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return "", fmt.Errorf("invalid transaction hash %q", s)
	}
	return hexUpper(b), nil
}
