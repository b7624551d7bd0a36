package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/flarelabs/simple-wallet/pkg/store/dao"
	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// FetchMonitoringState loads the per-chain lease row, returning nil when no
// monitor has ever run for the chain.
func (s *Store) FetchMonitoringState(ctx context.Context, chain wallet.ChainType) (*wallet.MonitoringState, error) {
	d := new(dao.MonitoringStateDao)
	err := s.db.NewSelect().
		Model(d).
		Where("chain_type = ?", string(chain)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch monitoring state: %w", err)
	}
	return dao.ToMonitoringState(d), nil
}

// UpsertMonitoringState creates or overwrites the per-chain lease row
func (s *Store) UpsertMonitoringState(ctx context.Context, st *wallet.MonitoringState) error {
	d := dao.ToMonitoringStateDao(st)
	_, err := s.db.NewInsert().
		Model(d).
		On("CONFLICT (chain_type) DO UPDATE").
		Set("last_ping_at = EXCLUDED.last_ping_at").
		Set("process_owner = EXCLUDED.process_owner").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert monitoring state: %w", err)
	}
	return nil
}

// UpdateMonitoringState applies mutate to the lease row inside a row-locked
// transaction; used for heartbeat renewal and release.
func (s *Store) UpdateMonitoringState(ctx context.Context, chain wallet.ChainType, mutate func(*wallet.MonitoringState) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		d := new(dao.MonitoringStateDao)
		err := tx.NewSelect().
			Model(d).
			Where("chain_type = ?", string(chain)).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("monitoring state for %s not found", chain)
			}
			return fmt.Errorf("failed to load monitoring state for update: %w", err)
		}
		st := dao.ToMonitoringState(d)
		if err := mutate(st); err != nil {
			return err
		}
		updated := dao.ToMonitoringStateDao(st)
		if _, err := tx.NewUpdate().Model(updated).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("failed to update monitoring state: %w", err)
		}
		return nil
	})
}

// UpsertFeeHistory records one block's fee statistics, overwriting any
// previous row for the same (chain, height).
func (s *Store) UpsertFeeHistory(ctx context.Context, item *wallet.FeeHistoryItem) error {
	d := dao.ToFeeHistoryDao(item)
	_, err := s.db.NewInsert().
		Model(d).
		On("CONFLICT (chain_type, block_height) DO UPDATE").
		Set("avg_fee_per_kb = EXCLUDED.avg_fee_per_kb").
		Set("block_timestamp = EXCLUDED.block_timestamp").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert fee history: %w", err)
	}
	return nil
}

// FeeHistory lists the most recent persisted fee statistics, newest first
func (s *Store) FeeHistory(ctx context.Context, chain wallet.ChainType, limit int) ([]*wallet.FeeHistoryItem, error) {
	var daos []dao.FeeHistoryDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("chain_type = ?", string(chain)).
		Order("block_height DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list fee history: %w", err)
	}
	items := make([]*wallet.FeeHistoryItem, len(daos))
	for i := range daos {
		item, err := dao.ToFeeHistoryItem(&daos[i])
		if err != nil {
			return nil, err
		}
		items[i] = item
	}
	return items, nil
}

// PruneFeeHistory deletes persisted statistics below the given height
func (s *Store) PruneFeeHistory(ctx context.Context, chain wallet.ChainType, belowHeight uint64) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*dao.FeeHistoryDao)(nil)).
		Where("chain_type = ?", string(chain)).
		Where("block_height < ?", int64(belowHeight)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to prune fee history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetWalletKey returns the encrypted private key stored for an address
func (s *Store) GetWalletKey(ctx context.Context, address string) (string, error) {
	d := new(dao.WalletKeyDao)
	err := s.db.NewSelect().
		Model(d).
		Where("address = ?", address).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", wallet.ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get wallet key: %w", err)
	}
	return d.EncryptedKey, nil
}

// SetWalletKey stores the encrypted private key for an address
func (s *Store) SetWalletKey(ctx context.Context, address, encryptedKey string) error {
	d := &dao.WalletKeyDao{Address: address, EncryptedKey: encryptedKey}
	_, err := s.db.NewInsert().
		Model(d).
		On("CONFLICT (address) DO UPDATE").
		Set("encrypted_key = EXCLUDED.encrypted_key").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set wallet key: %w", err)
	}
	return nil
}
