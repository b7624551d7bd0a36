// Package walletd implements app.Runner for the wallet daemon process.
package walletd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	apphttp "github.com/flarelabs/simple-wallet/pkg/app/http"
	"github.com/flarelabs/simple-wallet/pkg/blockbook"
	"github.com/flarelabs/simple-wallet/pkg/config"
	"github.com/flarelabs/simple-wallet/pkg/engine"
	"github.com/flarelabs/simple-wallet/pkg/feeoracle"
	"github.com/flarelabs/simple-wallet/pkg/keys"
	"github.com/flarelabs/simple-wallet/pkg/monitor"
	"github.com/flarelabs/simple-wallet/pkg/pgutil"
	"github.com/flarelabs/simple-wallet/pkg/store"
	"github.com/flarelabs/simple-wallet/pkg/wallet"
	"github.com/flarelabs/simple-wallet/pkg/xrp"
)

// Server holds cfg to init the wallet daemon.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new wallet daemon Server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run wires the store, per-chain engines and monitors, and the admin HTTP
// surface, then blocks until an OS shutdown signal is received or the server
// fails. Shutdown order: monitors and fee oracles first so in-flight passes
// finish while health checks still answer, then the HTTP server.
func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("nil config")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting wallet daemon")

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect wallet db: %w", err)
	}
	defer func() { _ = db.Close() }()
	logger.Info("Database connection established",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database))

	st := store.New(db)

	masterKey, err := keys.MasterKeyFromBase64(cfg.Keys.MasterKeyBase64)
	if err != nil {
		return fmt.Errorf("invalid master key: %w", err)
	}
	keyStore, err := keys.NewPgKeyStore(st, masterKey, cfg.Keys.CacheSize)
	if err != nil {
		return fmt.Errorf("create key store: %w", err)
	}

	engines := make(map[wallet.ChainType]engine.WalletEngine, len(cfg.Chains))
	var chains []wallet.ChainType
	var monitors []*monitor.Monitor
	var oracles []*feeoracle.Oracle

	for i := range cfg.Chains {
		cc := &cfg.Chains[i]
		chain, err := wallet.ParseChainType(cc.ChainType)
		if err != nil {
			return fmt.Errorf("chain config %d: %w", i, err)
		}
		if _, dup := engines[chain]; dup {
			return fmt.Errorf("duplicate chain config for %s", chain)
		}

		eng, oracle, err := s.buildEngine(ctx, chain, cc, st, keyStore, logger)
		if err != nil {
			return err
		}
		if oracle != nil {
			oracles = append(oracles, oracle)
		}
		engines[chain] = eng
		chains = append(chains, chain)

		m := monitor.New(eng, st, logger)
		if err := m.Start(ctx); err != nil {
			if errors.Is(err, monitor.ErrLeaseHeld) {
				logger.Warn("monitoring lease held elsewhere, serving API only",
					zap.String("chain", string(chain)))
			} else {
				return fmt.Errorf("start %s monitor: %w", chain, err)
			}
		}
		monitors = append(monitors, m)
	}

	router := s.newRouter(db, st, engines, chains, logger)

	// A child context for the HTTP server lets us drain background work
	// before the listener goes away.
	serverCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received, stopping monitors")
		for _, m := range monitors {
			m.Stop(context.Background())
		}
		for _, o := range oracles {
			o.Stop()
		}
		cancel()
	}()

	return apphttp.ServeAndWait(serverCtx, router, logger, &cfg.Server)
}

// buildEngine constructs the chain family's client, fee oracle (UTXO only)
// and lifecycle engine. The returned oracle is nil for account chains.
func (s *Server) buildEngine(
	ctx context.Context,
	chain wallet.ChainType,
	cc *config.ChainConfig,
	st *store.Store,
	keyStore keys.KeyStore,
	logger *zap.Logger,
) (engine.WalletEngine, *feeoracle.Oracle, error) {
	if chain.IsUTXO() {
		client := blockbook.New(cc.Endpoints, cc.APIKey, cc.RequestTimeout, logger)
		oracle := feeoracle.New(chain, client, st, cc.FeeHistoryBlocks, cc.FeePollInterval, logger)
		if err := oracle.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("start %s fee oracle: %w", chain, err)
		}
		eng, err := engine.NewUTXOEngine(chain, st, keyStore, client, oracle, logger)
		if err != nil {
			oracle.Stop()
			return nil, nil, fmt.Errorf("create %s engine: %w", chain, err)
		}
		eng.OverrideStuckParams(cc.BlockOffset, cc.FeeIncrease, cc.ExecutionBlockOffset, cc.EnoughConfirmations)
		return eng, oracle, nil
	}

	client := xrp.New(cc.Endpoints, cc.APIKey, cc.RequestTimeout, logger)
	eng, err := engine.NewXRPEngine(chain, st, keyStore, client, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s engine: %w", chain, err)
	}
	eng.OverrideStuckParams(cc.BlockOffset, cc.FeeIncrease, cc.ExecutionBlockOffset, cc.EnoughConfirmations)
	return eng, nil, nil
}
