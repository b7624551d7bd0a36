package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/flarelabs/simple-wallet/pkg/app/walletd"
	"github.com/flarelabs/simple-wallet/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := walletd.NewServer(cfg).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "wallet daemon failed: %v\n", err)
		os.Exit(1)
	}
}
