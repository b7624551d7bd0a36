package xrp

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
)

// Transaction type codes on the ledger.
const (
	txTypePayment       uint16 = 0
	txTypeAccountDelete uint16 = 21
)

const (
	TypePayment       = "Payment"
	TypeAccountDelete = "AccountDelete"
)

// Memo carries a transaction reference on-ledger.
type Memo struct {
	Data []byte
}

// Transaction is a Payment or AccountDelete in the ledger's terms. Amount is
// nil for AccountDelete. The JSON form follows the ledger's field names so
// stored raw transactions read like rippled output.
type Transaction struct {
	TransactionType    string
	Account            string
	Destination        string
	Amount             *big.Int
	Fee                *big.Int
	Sequence           uint32
	LastLedgerSequence uint32
	SigningPubKey      []byte
	TxnSignature       []byte
	Memos              []Memo
}

// IsPayment reports whether the transaction carries an amount.
func (t *Transaction) IsPayment() bool {
	return t.TransactionType == TypePayment
}

func (t *Transaction) typeCode() (uint16, error) {
	switch t.TransactionType {
	case TypePayment:
		return txTypePayment, nil
	case TypeAccountDelete:
		return txTypeAccountDelete, nil
	default:
		return 0, fmt.Errorf("unsupported transaction type %q", t.TransactionType)
	}
}

type txJSON struct {
	TransactionType    string     `json:"TransactionType"`
	Account            string     `json:"Account"`
	Destination        string     `json:"Destination"`
	Amount             string     `json:"Amount,omitempty"`
	Fee                string     `json:"Fee,omitempty"`
	Sequence           uint32     `json:"Sequence"`
	LastLedgerSequence uint32     `json:"LastLedgerSequence"`
	SigningPubKey      string     `json:"SigningPubKey,omitempty"`
	TxnSignature       string     `json:"TxnSignature,omitempty"`
	Memos              []memoJSON `json:"Memos,omitempty"`
}

type memoJSON struct {
	Memo struct {
		MemoData string `json:"MemoData"`
	} `json:"Memo"`
}

// MarshalJSON renders the transaction in the ledger's JSON conventions:
// drop amounts as decimal strings, binary fields as upper-case hex.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	out := txJSON{
		TransactionType:    t.TransactionType,
		Account:            t.Account,
		Destination:        t.Destination,
		Sequence:           t.Sequence,
		LastLedgerSequence: t.LastLedgerSequence,
	}
	if t.Amount != nil {
		out.Amount = t.Amount.String()
	}
	if t.Fee != nil {
		out.Fee = t.Fee.String()
	}
	if len(t.SigningPubKey) > 0 {
		out.SigningPubKey = hexUpper(t.SigningPubKey)
	}
	if len(t.TxnSignature) > 0 {
		out.TxnSignature = hexUpper(t.TxnSignature)
	}
	for _, m := range t.Memos {
		var mj memoJSON
		mj.Memo.MemoData = hexUpper(m.Data)
		out.Memos = append(out.Memos, mj)
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the ledger JSON form produced by MarshalJSON.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var in txJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	*t = Transaction{
		TransactionType:    in.TransactionType,
		Account:            in.Account,
		Destination:        in.Destination,
		Sequence:           in.Sequence,
		LastLedgerSequence: in.LastLedgerSequence,
	}
	if in.Amount != "" {
		v, ok := new(big.Int).SetString(in.Amount, 10)
		if !ok {
			return fmt.Errorf("invalid amount %q", in.Amount)
		}
		t.Amount = v
	}
	if in.Fee != "" {
		v, ok := new(big.Int).SetString(in.Fee, 10)
		if !ok {
			return fmt.Errorf("invalid fee %q", in.Fee)
		}
		t.Fee = v
	}
	if in.SigningPubKey != "" {
		b, err := hex.DecodeString(in.SigningPubKey)
		if err != nil {
			return fmt.Errorf("invalid signing pub key: %w", err)
		}
		t.SigningPubKey = b
	}
	if in.TxnSignature != "" {
		b, err := hex.DecodeString(in.TxnSignature)
		if err != nil {
			return fmt.Errorf("invalid signature: %w", err)
		}
		t.TxnSignature = b
	}
	for _, mj := range in.Memos {
		b, err := hex.DecodeString(mj.Memo.MemoData)
		if err != nil {
			return fmt.Errorf("invalid memo data: %w", err)
		}
		t.Memos = append(t.Memos, Memo{Data: b})
	}
	return nil
}

func hexUpper(b []byte) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0x0f]
	}
	return string(out)
}
