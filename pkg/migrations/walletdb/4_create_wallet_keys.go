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
		log.Println("creating wallet_keys table...")
		return mghelper.CreateSchema(ctx, db, &dao.WalletKeyDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping wallet_keys table...")
		return mghelper.DropTables(ctx, db, &dao.WalletKeyDao{})
	})
}
