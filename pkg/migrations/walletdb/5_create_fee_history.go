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
		log.Println("creating fee_history table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.FeeHistoryDao{}); err != nil {
			return err
		}
		_, err := db.NewCreateIndex().
			Model(&dao.FeeHistoryDao{}).
			Index("idx_fee_history_chain_type_block_height").
			Column("chain_type", "block_height").
			Unique().
			IfNotExists().
			Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping fee_history table...")
		return mghelper.DropTables(ctx, db, &dao.FeeHistoryDao{})
	})
}
