package migrations

import (
	"context"
	"testing"

	"github.com/flarelabs/simple-wallet/pkg/migrations/walletdb"
	mghelper "github.com/flarelabs/simple-wallet/pkg/pgutil"
	"github.com/uptrace/bun/migrate"
)

func TestWalletDBMigrations_Apply(t *testing.T) {
	mghelper.RequireDockerAccess(t)
	db, cleanup := mghelper.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, walletdb.Migrations)

	err := migrator.Init(ctx)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if group.IsZero() {
		t.Error("Expected migrations to run, but none were applied")
	}

	expectedTables := []string{
		"transactions",
		"utxos",
		"transaction_inputs",
		"transaction_outputs",
		"monitoring_state",
		"wallet_keys",
		"fee_history",
		"bun_migrations",
	}

	for _, table := range expectedTables {
		mghelper.AssertTableExists(t, db, table)
	}

	mghelper.AssertIndexExists(t, db, "idx_transactions_status")
	mghelper.AssertIndexExists(t, db, "idx_transactions_source")
	mghelper.AssertIndexExists(t, db, "idx_utxos_mint_tx_hash_position")
	mghelper.AssertIndexExists(t, db, "idx_fee_history_chain_type_block_height")
}

func TestWalletDBMigrations_Idempotency(t *testing.T) {
	mghelper.RequireDockerAccess(t)
	db, cleanup := mghelper.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, walletdb.Migrations)

	err := migrator.Init(ctx)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	_, err = migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("First Migrate() failed: %v", err)
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Second Migrate() failed: %v", err)
	}
	if !group.IsZero() {
		t.Error("Expected no new migrations on second run")
	}

	mghelper.AssertTableExists(t, db, "transactions")
	mghelper.AssertTableExists(t, db, "utxos")
}

func TestWalletDBMigrations_Rollback(t *testing.T) {
	mghelper.RequireDockerAccess(t)
	db, cleanup := mghelper.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, walletdb.Migrations)

	err := migrator.Init(ctx)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	_, err = migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	mghelper.AssertTableExists(t, db, "transactions")
	mghelper.AssertTableExists(t, db, "fee_history")

	// all migrations run in one group, so Rollback drops everything
	group, err := migrator.Rollback(ctx)
	if err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if group.IsZero() {
		t.Error("Expected rollback to process a migration")
	}

	mghelper.AssertTableNotExists(t, db, "fee_history")
	mghelper.AssertTableNotExists(t, db, "wallet_keys")
	mghelper.AssertTableNotExists(t, db, "monitoring_state")
	mghelper.AssertTableNotExists(t, db, "utxos")
	mghelper.AssertTableNotExists(t, db, "transactions")
}
