package main

import (
	"flag"
	"log"

	"github.com/flarelabs/simple-wallet/pkg/config"
	"github.com/flarelabs/simple-wallet/pkg/migrations/walletdb"
	"github.com/flarelabs/simple-wallet/pkg/pgutil"
	mghelper "github.com/flarelabs/simple-wallet/pkg/pgutil/migrations"

	"github.com/uptrace/bun/migrate"
)

func main() {
	cfgPath := flag.String("config", "config.example.yaml", "Path to configuration file")
	flag.Usage = mghelper.Usage
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("error reading configuration file: %s", err.Error())
	}

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		log.Fatalf("error connecting to database: %s", err.Error())
	}
	defer db.Close()

	log.Printf("Running migrations for wallet database (%s)...\n", cfg.Database.Database)

	migrator := migrate.NewMigrator(db, walletdb.Migrations)

	err = mghelper.RunMigrations(migrator, flag.Args()...)
	if err != nil {
		mghelper.Exitf(err.Error())
	}
}
