package walletd

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	apphttp "github.com/flarelabs/simple-wallet/pkg/app/http"
	"github.com/flarelabs/simple-wallet/pkg/engine"
	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

const defaultRequestTimeout = 60 * time.Second

func (s *Server) newRouter(
	db *bun.DB,
	leases leaseReader,
	engines map[wallet.ChainType]engine.WalletEngine,
	chains []wallet.ChainType,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultRequestTimeout))

	// Liveness
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Readiness: the daemon is useless without its database
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		pingCtx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})

	r.Handle("/metrics", promhttp.Handler())

	h := newAPIHandler(leases, engines, chains, logger)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/transactions", apphttp.HandleError(h.createTransaction))
		r.Get("/transactions/{id}", apphttp.HandleError(h.getTransaction))
		r.Get("/monitoring", apphttp.HandleError(h.getMonitoring))
	})

	return r
}
