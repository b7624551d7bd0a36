package dao

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// MonitoringStateDao is a data access object that maps directly to the
// 'monitoring_state' table in PostgreSQL. One row per chain, acting as the
// monitor lease.
type MonitoringStateDao struct {
	bun.BaseModel `bun:"table:monitoring_state,alias:ms"`
	ChainType     string     `bun:"chain_type,pk,type:varchar(16)"`
	LastPingAt    *time.Time `bun:"last_ping_at"`
	ProcessOwner  *string    `bun:"process_owner,type:varchar(64)"`
}

// ToMonitoringStateDao converts a wallet.MonitoringState to its DAO.
func ToMonitoringStateDao(st *wallet.MonitoringState) *MonitoringStateDao {
	dao := &MonitoringStateDao{ChainType: string(st.ChainType)}
	if !st.LastPingAt.IsZero() {
		dao.LastPingAt = &st.LastPingAt
	}
	if st.ProcessOwner != "" {
		dao.ProcessOwner = &st.ProcessOwner
	}
	return dao
}

// ToMonitoringState converts a MonitoringStateDao to the domain type.
func ToMonitoringState(dao *MonitoringStateDao) *wallet.MonitoringState {
	st := &wallet.MonitoringState{ChainType: wallet.ChainType(dao.ChainType)}
	if dao.LastPingAt != nil {
		st.LastPingAt = *dao.LastPingAt
	}
	if dao.ProcessOwner != nil {
		st.ProcessOwner = *dao.ProcessOwner
	}
	return st
}

// WalletKeyDao is a data access object that maps directly to the
// 'wallet_keys' table in PostgreSQL, holding AES-256-GCM encrypted private
// keys keyed by address.
type WalletKeyDao struct {
	bun.BaseModel `bun:"table:wallet_keys,alias:wk"`
	Address       string    `bun:"address,pk,type:varchar(128)"`
	EncryptedKey  string    `bun:"encrypted_key,notnull,type:text"`
	CreatedAt     time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

// FeeHistoryDao is a data access object that maps directly to the
// 'fee_history' table in PostgreSQL. One row per (chain, block).
type FeeHistoryDao struct {
	bun.BaseModel  `bun:"table:fee_history,alias:fh"`
	ID             int64      `bun:"id,pk,autoincrement"`
	ChainType      string     `bun:"chain_type,notnull,type:varchar(16)"`
	BlockHeight    int64      `bun:"block_height,notnull"`
	AvgFeePerKB    *string    `bun:"avg_fee_per_kb,type:numeric(30,0)"`
	BlockTimestamp *time.Time `bun:"block_timestamp"`
}

// ToFeeHistoryDao converts a wallet.FeeHistoryItem to its DAO.
func ToFeeHistoryDao(item *wallet.FeeHistoryItem) *FeeHistoryDao {
	dao := &FeeHistoryDao{
		ChainType:   string(item.ChainType),
		BlockHeight: int64(item.BlockHeight),
	}
	dao.AvgFeePerKB = bigToString(item.AvgFeePerKB)
	if !item.BlockTimestamp.IsZero() {
		dao.BlockTimestamp = &item.BlockTimestamp
	}
	return dao
}

// ToFeeHistoryItem converts a FeeHistoryDao to the domain type.
func ToFeeHistoryItem(dao *FeeHistoryDao) (*wallet.FeeHistoryItem, error) {
	item := &wallet.FeeHistoryItem{
		ChainType:   wallet.ChainType(dao.ChainType),
		BlockHeight: uint64(dao.BlockHeight),
	}
	var err error
	if item.AvgFeePerKB, err = stringToBig(dao.AvgFeePerKB); err != nil {
		return nil, err
	}
	if dao.BlockTimestamp != nil {
		item.BlockTimestamp = *dao.BlockTimestamp
	}
	return item, nil
}
