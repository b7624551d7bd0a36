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
		log.Println("creating monitoring_state table...")
		return mghelper.CreateSchema(ctx, db, &dao.MonitoringStateDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping monitoring_state table...")
		return mghelper.DropTables(ctx, db, &dao.MonitoringStateDao{})
	})
}
