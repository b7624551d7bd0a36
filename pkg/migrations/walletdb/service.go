// Package walletdb holds all the migrations for the wallet database
package walletdb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the registry all numbered migration files register into
var Migrations = migrate.NewMigrations()
