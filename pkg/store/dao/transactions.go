// Package dao holds the data access objects mapping wallet domain types to
// PostgreSQL tables.
package dao

import (
	"math/big"
	"time"

	"github.com/uptrace/bun"

	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// TransactionDao is a data access object that maps directly to the
// 'transactions' table in PostgreSQL.
type TransactionDao struct {
	bun.BaseModel         `bun:"table:transactions,alias:t"`
	ID                    int64      `bun:"id,pk,autoincrement"`
	ChainType             string     `bun:"chain_type,notnull,type:varchar(16)"`
	Source                string     `bun:"source,notnull,type:varchar(128)"`
	Destination           string     `bun:"destination,notnull,type:varchar(128)"`
	Amount                *string    `bun:"amount,type:numeric(30,0)"`
	Fee                   *string    `bun:"fee,type:numeric(30,0)"`
	MaxFee                *string    `bun:"max_fee,type:numeric(30,0)"`
	Reference             *string    `bun:"reference,type:varchar(256)"`
	ExecuteUntilBlock     *int64     `bun:"execute_until_block"`
	ExecuteUntilTimestamp *string    `bun:"execute_until_timestamp,type:varchar(64)"`
	Raw                   []byte     `bun:"raw,type:bytea"`
	TransactionHash       *string    `bun:"transaction_hash,type:varchar(128)"`
	SubmittedInBlock      *int64     `bun:"submitted_in_block"`
	Status                string     `bun:"status,notnull,type:varchar(24)"`
	ErrorReason           *string    `bun:"error_reason,type:text"`
	ReplacedByID          *int64     `bun:"replaced_by_id"`
	CreatedAt             time.Time  `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt             time.Time  `bun:"updated_at,nullzero,default:current_timestamp"`
	SubmittedAt           *time.Time `bun:"submitted_at"`
	ReachedPendingAt      *time.Time `bun:"reached_pending_at"`
	AcceptedMempoolAt     *time.Time `bun:"accepted_mempool_at"`
	FinalizedAt           *time.Time `bun:"finalized_at"`
}

// ToTransactionDao converts a wallet.TransactionRecord to TransactionDao.
func ToTransactionDao(rec *wallet.TransactionRecord) *TransactionDao {
	dao := &TransactionDao{
		ID:          rec.ID,
		ChainType:   string(rec.ChainType),
		Source:      rec.Source,
		Destination: rec.Destination,
		Raw:         rec.Raw,
		Status:      string(rec.Status),
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}

	dao.Amount = bigToString(rec.Amount)
	dao.Fee = bigToString(rec.Fee)
	dao.MaxFee = bigToString(rec.MaxFee)
	if rec.Reference != "" {
		dao.Reference = &rec.Reference
	}
	if rec.ExecuteUntilBlock != 0 {
		block := int64(rec.ExecuteUntilBlock)
		dao.ExecuteUntilBlock = &block
	}
	if !rec.ExecuteUntilTimestamp.IsZero() {
		ts := wallet.FormatStoredTimestamp(rec.ExecuteUntilTimestamp)
		dao.ExecuteUntilTimestamp = &ts
	}
	if rec.TransactionHash != "" {
		dao.TransactionHash = &rec.TransactionHash
	}
	if rec.SubmittedInBlock != 0 {
		block := int64(rec.SubmittedInBlock)
		dao.SubmittedInBlock = &block
	}
	if rec.ErrorReason != "" {
		dao.ErrorReason = &rec.ErrorReason
	}
	if rec.ReplacedByID != 0 {
		dao.ReplacedByID = &rec.ReplacedByID
	}
	dao.SubmittedAt = timeToPtr(rec.SubmittedAt)
	dao.ReachedPendingAt = timeToPtr(rec.ReachedPendingAt)
	dao.AcceptedMempoolAt = timeToPtr(rec.AcceptedMempoolAt)
	dao.FinalizedAt = timeToPtr(rec.FinalizedAt)

	return dao
}

// ToTransactionRecord converts a TransactionDao to wallet.TransactionRecord.
func ToTransactionRecord(dao *TransactionDao) (*wallet.TransactionRecord, error) {
	rec := &wallet.TransactionRecord{
		ID:          dao.ID,
		ChainType:   wallet.ChainType(dao.ChainType),
		Source:      dao.Source,
		Destination: dao.Destination,
		Raw:         dao.Raw,
		Status:      wallet.TransactionStatus(dao.Status),
		CreatedAt:   dao.CreatedAt,
		UpdatedAt:   dao.UpdatedAt,
	}

	var err error
	if rec.Amount, err = stringToBig(dao.Amount); err != nil {
		return nil, err
	}
	if rec.Fee, err = stringToBig(dao.Fee); err != nil {
		return nil, err
	}
	if rec.MaxFee, err = stringToBig(dao.MaxFee); err != nil {
		return nil, err
	}
	if dao.Reference != nil {
		rec.Reference = *dao.Reference
	}
	if dao.ExecuteUntilBlock != nil {
		rec.ExecuteUntilBlock = uint64(*dao.ExecuteUntilBlock)
	}
	if dao.ExecuteUntilTimestamp != nil {
		if rec.ExecuteUntilTimestamp, err = wallet.ParseStoredTimestamp(*dao.ExecuteUntilTimestamp); err != nil {
			return nil, err
		}
	}
	if dao.TransactionHash != nil {
		rec.TransactionHash = *dao.TransactionHash
	}
	if dao.SubmittedInBlock != nil {
		rec.SubmittedInBlock = uint64(*dao.SubmittedInBlock)
	}
	if dao.ErrorReason != nil {
		rec.ErrorReason = *dao.ErrorReason
	}
	if dao.ReplacedByID != nil {
		rec.ReplacedByID = *dao.ReplacedByID
	}
	rec.SubmittedAt = ptrToTime(dao.SubmittedAt)
	rec.ReachedPendingAt = ptrToTime(dao.ReachedPendingAt)
	rec.AcceptedMempoolAt = ptrToTime(dao.AcceptedMempoolAt)
	rec.FinalizedAt = ptrToTime(dao.FinalizedAt)

	return rec, nil
}

func bigToString(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func stringToBig(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil, &numericDecodeError{value: *s}
	}
	return v, nil
}

type numericDecodeError struct {
	value string
}

func (e *numericDecodeError) Error() string {
	return "invalid numeric value in store: " + e.value
}

func timeToPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func ptrToTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
