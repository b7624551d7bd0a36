package dao

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// UTXODao is a data access object that maps directly to the 'utxos' table in
// PostgreSQL. One row per tracked output of a wallet address.
type UTXODao struct {
	bun.BaseModel `bun:"table:utxos,alias:ux"`
	ID            int64     `bun:"id,pk,autoincrement"`
	MintTxHash    string    `bun:"mint_tx_hash,notnull,type:varchar(128)"`
	Position      int64     `bun:"position,notnull"`
	Source        string    `bun:"source,notnull,type:varchar(128)"`
	Value         string    `bun:"value,notnull,type:numeric(30,0)"`
	Script        *string   `bun:"script,type:text"`
	SpentState    string    `bun:"spent_state,notnull,type:varchar(16)"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,default:current_timestamp"`
}

// TransactionInputDao joins transactions to the utxos consumed as their
// inputs.
type TransactionInputDao struct {
	bun.BaseModel `bun:"table:transaction_inputs,alias:ti"`
	ID            int64 `bun:"id,pk,autoincrement"`
	TransactionID int64 `bun:"transaction_id,notnull"`
	UTXOID        int64 `bun:"utxo_id,notnull"`
}

// TransactionOutputDao records outputs of transactions we signed ourselves.
type TransactionOutputDao struct {
	bun.BaseModel   `bun:"table:transaction_outputs,alias:txo"`
	ID              int64  `bun:"id,pk,autoincrement"`
	TransactionID   int64  `bun:"transaction_id,notnull"`
	TransactionHash string `bun:"transaction_hash,notnull,type:varchar(128)"`
	Vout            int64  `bun:"vout,notnull"`
	Value           string `bun:"value,notnull,type:numeric(30,0)"`
	Script          string `bun:"script,notnull,type:text"`
}

// ToUTXODao converts a wallet.UTXO to UTXODao.
func ToUTXODao(u *wallet.UTXO) *UTXODao {
	dao := &UTXODao{
		ID:         u.ID,
		MintTxHash: u.MintTxHash,
		Position:   int64(u.Position),
		Source:     u.Source,
		Value:      u.Value.String(),
		SpentState: string(u.SpentState),
		UpdatedAt:  u.UpdatedAt,
	}
	if u.Script != "" {
		dao.Script = &u.Script
	}
	return dao
}

// ToUTXO converts a UTXODao to wallet.UTXO.
func ToUTXO(dao *UTXODao) (*wallet.UTXO, error) {
	value, err := stringToBig(&dao.Value)
	if err != nil {
		return nil, err
	}
	u := &wallet.UTXO{
		ID:         dao.ID,
		MintTxHash: dao.MintTxHash,
		Position:   uint32(dao.Position),
		Source:     dao.Source,
		Value:      value,
		SpentState: wallet.SpentState(dao.SpentState),
		UpdatedAt:  dao.UpdatedAt,
	}
	if dao.Script != nil {
		u.Script = *dao.Script
	}
	return u, nil
}

// ToTransactionOutputDao converts a wallet.TransactionOutput to its DAO.
func ToTransactionOutputDao(out *wallet.TransactionOutput) *TransactionOutputDao {
	return &TransactionOutputDao{
		ID:              out.ID,
		TransactionID:   out.TransactionID,
		TransactionHash: out.TransactionHash,
		Vout:            int64(out.Vout),
		Value:           out.Value.String(),
		Script:          out.Script,
	}
}

// ToTransactionOutput converts a TransactionOutputDao to the domain type.
func ToTransactionOutput(dao *TransactionOutputDao) (*wallet.TransactionOutput, error) {
	value, err := stringToBig(&dao.Value)
	if err != nil {
		return nil, err
	}
	return &wallet.TransactionOutput{
		ID:              dao.ID,
		TransactionID:   dao.TransactionID,
		TransactionHash: dao.TransactionHash,
		Vout:            uint32(dao.Vout),
		Value:           value,
		Script:          dao.Script,
	}, nil
}
