// Package store provides the PostgreSQL-backed persistence layer for wallet
// transaction records, UTXO bookkeeping, monitoring leases and fee history.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/flarelabs/simple-wallet/pkg/store/dao"
	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// Store wraps a bun.DB with wallet-domain operations. All mutations of
// transaction records go through transactional read-modify-write so the
// monitor loop and API callers never lose updates to each other.
type Store struct {
	db *bun.DB
}

// New creates a Store over an established database connection
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for health checks and migrations
func (s *Store) DB() *bun.DB {
	return s.db
}

// CreateTransaction persists a new record and returns its assigned id.
// The record starts in StatusCreated unless a status is already set
// (resubmission bookkeeping sets none).
func (s *Store) CreateTransaction(ctx context.Context, rec *wallet.TransactionRecord) (int64, error) {
	if rec.Status == "" {
		rec.Status = wallet.StatusCreated
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	d := dao.ToTransactionDao(rec)
	d.ID = 0
	_, err := s.db.NewInsert().
		Model(d).
		Returning("id").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to create transaction: %w", err)
	}
	rec.ID = d.ID
	return d.ID, nil
}

// FetchTransaction loads one record by id
func (s *Store) FetchTransaction(ctx context.Context, id int64) (*wallet.TransactionRecord, error) {
	d := new(dao.TransactionDao)
	err := s.db.NewSelect().
		Model(d).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wallet.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to fetch transaction %d: %w", id, err)
	}
	return dao.ToTransactionRecord(d)
}

// UpdateTransaction applies mutate to a freshly re-read record inside one
// database transaction, holding a row lock for the duration. The mutated
// record is written back and returned.
func (s *Store) UpdateTransaction(ctx context.Context, id int64, mutate func(*wallet.TransactionRecord) error) (*wallet.TransactionRecord, error) {
	var result *wallet.TransactionRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		d := new(dao.TransactionDao)
		err := tx.NewSelect().
			Model(d).
			Where("id = ?", id).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return wallet.ErrTransactionNotFound
			}
			return fmt.Errorf("failed to load transaction %d for update: %w", id, err)
		}

		rec, err := dao.ToTransactionRecord(d)
		if err != nil {
			return err
		}
		if err := mutate(rec); err != nil {
			return err
		}
		rec.UpdatedAt = time.Now()

		updated := dao.ToTransactionDao(rec)
		if _, err := tx.NewUpdate().Model(updated).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("failed to update transaction %d: %w", id, err)
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TransactionsByStatus lists a chain's records in the given status, oldest
// first so the monitor drains work in creation order.
func (s *Store) TransactionsByStatus(ctx context.Context, chain wallet.ChainType, status wallet.TransactionStatus) ([]*wallet.TransactionRecord, error) {
	var daos []dao.TransactionDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("chain_type = ?", string(chain)).
		Where("status = ?", string(status)).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s transactions: %w", status, err)
	}
	records := make([]*wallet.TransactionRecord, len(daos))
	for i := range daos {
		rec, err := dao.ToTransactionRecord(&daos[i])
		if err != nil {
			return nil, err
		}
		records[i] = rec
	}
	return records, nil
}

// HasOpenAccountDelete reports whether the address has a live account-delete
// transaction (amount IS NULL, non-terminal status). Payments from such an
// address are rejected until the deletion settles.
func (s *Store) HasOpenAccountDelete(ctx context.Context, chain wallet.ChainType, source string) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*dao.TransactionDao)(nil)).
		Where("chain_type = ?", string(chain)).
		Where("source = ?", source).
		Where("amount IS NULL").
		Where("status NOT IN (?)", bun.In([]string{
			string(wallet.StatusSuccess),
			string(wallet.StatusFailed),
			string(wallet.StatusReplaced),
		})).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check account delete state: %w", err)
	}
	return exists, nil
}

// TransactionByHash looks up a record by its signed transaction hash
func (s *Store) TransactionByHash(ctx context.Context, chain wallet.ChainType, hash string) (*wallet.TransactionRecord, error) {
	d := new(dao.TransactionDao)
	err := s.db.NewSelect().
		Model(d).
		Where("chain_type = ?", string(chain)).
		Where("transaction_hash = ?", hash).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wallet.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to fetch transaction by hash: %w", err)
	}
	return dao.ToTransactionRecord(d)
}

// ReplacementTip follows the replaced_by chain from the given record to the
// record currently carrying the lineage.
func (s *Store) ReplacementTip(ctx context.Context, rec *wallet.TransactionRecord) (*wallet.TransactionRecord, error) {
	tip := rec
	for tip.ReplacedByID != 0 {
		next, err := s.FetchTransaction(ctx, tip.ReplacedByID)
		if err != nil {
			return nil, err
		}
		tip = next
	}
	return tip, nil
}
