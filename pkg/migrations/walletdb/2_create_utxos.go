package walletdb

import (
	"context"
	"log"

	mghelper "github.com/flarelabs/simple-wallet/pkg/pgutil/migrations"
	"github.com/flarelabs/simple-wallet/pkg/store/dao"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating utxos and transaction input/output tables...")
		if err := mghelper.CreateSchema(ctx, db,
			&dao.UTXODao{}, &dao.TransactionInputDao{}, &dao.TransactionOutputDao{}); err != nil {
			return err
		}
		// one row per output; selection and reconciliation key on the pair
		if _, err := db.NewCreateIndex().
			Model(&dao.UTXODao{}).
			Index("idx_utxos_mint_tx_hash_position").
			Column("mint_tx_hash", "position").
			Unique().
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, db, &dao.UTXODao{}, "source", "spent_state"); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, db, &dao.TransactionInputDao{}, "transaction_id", "utxo_id"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &dao.TransactionOutputDao{}, "transaction_hash")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping utxos and transaction input/output tables...")
		return mghelper.DropTables(ctx, db,
			&dao.TransactionOutputDao{}, &dao.TransactionInputDao{}, &dao.UTXODao{})
	})
}
