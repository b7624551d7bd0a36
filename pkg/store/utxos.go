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

// StoreUTXOs inserts newly discovered outputs for an address, skipping any
// (mint_tx_hash, position) pairs already tracked.
func (s *Store) StoreUTXOs(ctx context.Context, utxos []*wallet.UTXO) error {
	if len(utxos) == 0 {
		return nil
	}
	daos := make([]dao.UTXODao, len(utxos))
	for i, u := range utxos {
		if u.SpentState == "" {
			u.SpentState = wallet.SpentStateUnspent
		}
		daos[i] = *dao.ToUTXODao(u)
		daos[i].ID = 0
	}
	_, err := s.db.NewInsert().
		Model(&daos).
		On("CONFLICT (mint_tx_hash, position) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to store UTXOs: %w", err)
	}
	return nil
}

// UnspentUTXOs lists an address's selectable outputs, largest first.
// Outputs consumed by in-flight transactions carry state "sent" and are
// excluded unless includeSent is set (used when building a replacement that
// deliberately re-spends the original's inputs).
func (s *Store) UnspentUTXOs(ctx context.Context, source string, includeSent bool) ([]*wallet.UTXO, error) {
	states := []string{string(wallet.SpentStateUnspent)}
	if includeSent {
		states = append(states, string(wallet.SpentStateSent))
	}
	var daos []dao.UTXODao
	err := s.db.NewSelect().
		Model(&daos).
		Where("source = ?", source).
		Where("spent_state IN (?)", bun.In(states)).
		OrderExpr("value::numeric DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unspent UTXOs: %w", err)
	}
	utxos := make([]*wallet.UTXO, len(daos))
	for i := range daos {
		u, err := dao.ToUTXO(&daos[i])
		if err != nil {
			return nil, err
		}
		utxos[i] = u
	}
	return utxos, nil
}

// UpdateUTXO applies mutate to one output identified by mint hash and
// position, inside a row-locked transaction.
func (s *Store) UpdateUTXO(ctx context.Context, mintTxHash string, position uint32, mutate func(*wallet.UTXO) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		d := new(dao.UTXODao)
		err := tx.NewSelect().
			Model(d).
			Where("mint_tx_hash = ?", mintTxHash).
			Where("position = ?", int64(position)).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("UTXO %s:%d not found", mintTxHash, position)
			}
			return fmt.Errorf("failed to load UTXO for update: %w", err)
		}
		u, err := dao.ToUTXO(d)
		if err != nil {
			return err
		}
		if err := mutate(u); err != nil {
			return err
		}
		u.UpdatedAt = time.Now()
		updated := dao.ToUTXODao(u)
		if _, err := tx.NewUpdate().Model(updated).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("failed to update UTXO: %w", err)
		}
		return nil
	})
}

// ReserveUTXOs links the selected outputs to a transaction record as its
// inputs. The link is the local double-spend guard: selection excludes
// outputs whose state has moved past unspent, and submission flips linked
// outputs to sent.
func (s *Store) ReserveUTXOs(ctx context.Context, txID int64, utxos []*wallet.UTXO) error {
	if len(utxos) == 0 {
		return nil
	}
	links := make([]dao.TransactionInputDao, len(utxos))
	for i, u := range utxos {
		links[i] = dao.TransactionInputDao{TransactionID: txID, UTXOID: u.ID}
	}
	_, err := s.db.NewInsert().Model(&links).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to reserve UTXOs for transaction %d: %w", txID, err)
	}
	return nil
}

// ReleaseUTXOs removes a transaction's input links without touching the
// outputs' spent state (used when a build attempt is rolled back to created).
func (s *Store) ReleaseUTXOs(ctx context.Context, txID int64) error {
	_, err := s.db.NewDelete().
		Model((*dao.TransactionInputDao)(nil)).
		Where("transaction_id = ?", txID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to release UTXOs for transaction %d: %w", txID, err)
	}
	return nil
}

// UTXOsByTransaction lists the outputs reserved as inputs of a record
func (s *Store) UTXOsByTransaction(ctx context.Context, txID int64) ([]*wallet.UTXO, error) {
	var daos []dao.UTXODao
	err := s.db.NewSelect().
		Model(&daos).
		Join("JOIN transaction_inputs AS ti ON ti.utxo_id = ux.id").
		Where("ti.transaction_id = ?", txID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list UTXOs for transaction %d: %w", txID, err)
	}
	utxos := make([]*wallet.UTXO, len(daos))
	for i := range daos {
		u, err := dao.ToUTXO(&daos[i])
		if err != nil {
			return nil, err
		}
		utxos[i] = u
	}
	return utxos, nil
}

// SetTransactionInputStates flips the spent state of every output reserved
// by a record: sent on submission, spent on confirmation, unspent on
// terminal rejection.
func (s *Store) SetTransactionInputStates(ctx context.Context, txID int64, state wallet.SpentState) error {
	_, err := s.db.NewUpdate().
		Model((*dao.UTXODao)(nil)).
		Set("spent_state = ?", string(state)).
		Set("updated_at = NOW()").
		Where("id IN (SELECT utxo_id FROM transaction_inputs WHERE transaction_id = ?)", txID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set input states for transaction %d: %w", txID, err)
	}
	return nil
}

// ReconcileUTXOs trues up the local set for an address against the indexer's
// view: outputs the indexer no longer reports as unspent are marked spent,
// previously unknown outputs are inserted.
func (s *Store) ReconcileUTXOs(ctx context.Context, source string, live []*wallet.UTXO) error {
	known := make(map[string]struct{}, len(live))
	for _, u := range live {
		known[fmt.Sprintf("%s:%d", u.MintTxHash, u.Position)] = struct{}{}
	}

	tracked, err := s.UnspentUTXOs(ctx, source, true)
	if err != nil {
		return err
	}
	for _, u := range tracked {
		if _, ok := known[fmt.Sprintf("%s:%d", u.MintTxHash, u.Position)]; ok {
			continue
		}
		err := s.UpdateUTXO(ctx, u.MintTxHash, u.Position, func(ux *wallet.UTXO) error {
			ux.SpentState = wallet.SpentStateSpent
			return nil
		})
		if err != nil {
			return err
		}
	}
	return s.StoreUTXOs(ctx, live)
}

// CreateTransactionOutputs records the outputs of a transaction we signed
func (s *Store) CreateTransactionOutputs(ctx context.Context, outputs []*wallet.TransactionOutput) error {
	if len(outputs) == 0 {
		return nil
	}
	daos := make([]dao.TransactionOutputDao, len(outputs))
	for i, out := range outputs {
		daos[i] = *dao.ToTransactionOutputDao(out)
		daos[i].ID = 0
	}
	_, err := s.db.NewInsert().Model(&daos).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create transaction outputs: %w", err)
	}
	return nil
}

// OutputScript resolves the locking script of one of our own outputs, if known
func (s *Store) OutputScript(ctx context.Context, txHash string, vout uint32) (string, error) {
	d := new(dao.TransactionOutputDao)
	err := s.db.NewSelect().
		Model(d).
		Where("transaction_hash = ?", txHash).
		Where("vout = ?", int64(vout)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to fetch output script: %w", err)
	}
	return d.Script, nil
}

// TransactionDescendants walks the local mempool chain rooted at the given
// hash: records from the same source, still in flight, that spend outputs of
// the root or of another descendant. Needed to price a replacement above the
// whole chain it evicts.
func (s *Store) TransactionDescendants(ctx context.Context, txHash, source string) ([]*wallet.TransactionRecord, error) {
	var result []*wallet.TransactionRecord
	frontier := []string{txHash}
	seen := map[string]struct{}{txHash: {}}

	for len(frontier) > 0 {
		var daos []dao.TransactionDao
		err := s.db.NewSelect().
			Model(&daos).
			Join("JOIN transaction_inputs AS ti ON ti.transaction_id = t.id").
			Join("JOIN utxos AS ux ON ux.id = ti.utxo_id").
			Where("ux.mint_tx_hash IN (?)", bun.In(frontier)).
			Where("t.source = ?", source).
			Where("t.status IN (?)", bun.In([]string{
				string(wallet.StatusSubmitted),
				string(wallet.StatusPending),
			})).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list transaction descendants: %w", err)
		}

		frontier = frontier[:0]
		for i := range daos {
			rec, err := dao.ToTransactionRecord(&daos[i])
			if err != nil {
				return nil, err
			}
			if rec.TransactionHash != "" {
				if _, ok := seen[rec.TransactionHash]; ok {
					continue
				}
				seen[rec.TransactionHash] = struct{}{}
				frontier = append(frontier, rec.TransactionHash)
			}
			result = append(result, rec)
		}
	}
	return result, nil
}
