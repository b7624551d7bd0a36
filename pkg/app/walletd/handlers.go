package walletd

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/flarelabs/simple-wallet/pkg/app/errors"
	"github.com/flarelabs/simple-wallet/pkg/engine"
	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// leaseReader exposes the monitoring lease rows to the status endpoint.
type leaseReader interface {
	FetchMonitoringState(ctx context.Context, chain wallet.ChainType) (*wallet.MonitoringState, error)
}

type apiHandler struct {
	leases  leaseReader
	engines map[wallet.ChainType]engine.WalletEngine
	chains  []wallet.ChainType
	log     *zap.Logger
}

func newAPIHandler(
	leases leaseReader,
	engines map[wallet.ChainType]engine.WalletEngine,
	chains []wallet.ChainType,
	logger *zap.Logger,
) *apiHandler {
	return &apiHandler{
		leases:  leases,
		engines: engines,
		chains:  chains,
		log:     logger,
	}
}

type createTransactionRequest struct {
	ChainType   string `json:"chainType"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	// Amount in the chain's minor unit (satoshi, drops) as a decimal string.
	Amount string `json:"amount"`
	Fee    string `json:"fee,omitempty"`
	MaxFee string `json:"maxFee,omitempty"`
	// DeleteAccount requests an account close instead of a payment; Amount
	// is ignored when set.
	DeleteAccount bool `json:"deleteAccount,omitempty"`

	Reference             string     `json:"reference,omitempty"`
	ExecuteUntilBlock     uint64     `json:"executeUntilBlock,omitempty"`
	ExecuteUntilTimestamp *time.Time `json:"executeUntilTimestamp,omitempty"`
}

type createTransactionResponse struct {
	ID int64 `json:"id"`
}

func (h *apiHandler) createTransaction(w http.ResponseWriter, r *http.Request) error {
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.BadRequestError(err, "invalid request body")
	}

	chain, err := wallet.ParseChainType(req.ChainType)
	if err != nil {
		return apperrors.BadRequestError(err, "unknown chain type")
	}
	eng, ok := h.engines[chain]
	if !ok {
		return apperrors.BadRequestError(nil, "chain not configured: "+req.ChainType)
	}
	if req.Source == "" || req.Destination == "" {
		return apperrors.BadRequestError(nil, "source and destination are required")
	}

	opts := engine.TxOptions{
		Reference:         req.Reference,
		ExecuteUntilBlock: req.ExecuteUntilBlock,
	}
	if req.ExecuteUntilTimestamp != nil {
		opts.ExecuteUntilTimestamp = *req.ExecuteUntilTimestamp
	}
	if opts.Fee, err = parseAmount(req.Fee); err != nil {
		return apperrors.BadRequestError(err, "invalid fee")
	}
	if opts.MaxFee, err = parseAmount(req.MaxFee); err != nil {
		return apperrors.BadRequestError(err, "invalid maxFee")
	}

	var id int64
	if req.DeleteAccount {
		id, err = eng.CreateDeleteAccountTransaction(r.Context(), req.Source, req.Destination, opts)
	} else {
		var amount *big.Int
		if amount, err = parseAmount(req.Amount); err != nil {
			return apperrors.BadRequestError(err, "invalid amount")
		}
		if amount == nil || amount.Sign() <= 0 {
			return apperrors.BadRequestError(nil, "amount must be a positive integer")
		}
		id, err = eng.CreatePaymentTransaction(r.Context(), req.Source, req.Destination, amount, opts)
	}
	if err != nil {
		if errors.Is(err, wallet.ErrAccountDeleting) {
			return apperrors.ConflictError(err, "source account is being deleted")
		}
		h.log.Error("failed to create transaction", zap.Error(err))
		return apperrors.GeneralError(err)
	}

	return writeJSON(w, http.StatusCreated, createTransactionResponse{ID: id})
}

func (h *apiHandler) getTransaction(w http.ResponseWriter, r *http.Request) error {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid transaction id")
	}

	// Info reads are chain-agnostic: every engine shares the store, so any
	// of them can follow the replacement chain.
	info, err := h.anyEngine().GetTransactionInfo(r.Context(), id)
	if err != nil {
		if errors.Is(err, wallet.ErrTransactionNotFound) {
			return apperrors.ResourceNotFoundError(err, "transaction not found")
		}
		h.log.Error("failed to read transaction", zap.Int64("id", id), zap.Error(err))
		return apperrors.GeneralError(err)
	}

	return writeJSON(w, http.StatusOK, info)
}

type monitoringStatus struct {
	ChainType    wallet.ChainType `json:"chainType"`
	ProcessOwner string           `json:"processOwner,omitempty"`
	LastPingAt   *time.Time       `json:"lastPingAt,omitempty"`
	Live         bool             `json:"live"`
}

func (h *apiHandler) getMonitoring(w http.ResponseWriter, r *http.Request) error {
	statuses := make([]monitoringStatus, 0, len(h.chains))
	for _, chain := range h.chains {
		st, err := h.leases.FetchMonitoringState(r.Context(), chain)
		if err != nil {
			h.log.Error("failed to read monitoring state",
				zap.String("chain", string(chain)), zap.Error(err))
			return apperrors.DependencyFailureError(err, "monitoring state unavailable")
		}
		status := monitoringStatus{ChainType: chain}
		if st != nil {
			status.ProcessOwner = st.ProcessOwner
			ping := st.LastPingAt
			status.LastPingAt = &ping
			status.Live = st.ProcessOwner != "" && time.Since(st.LastPingAt) < wallet.LeaseExpiration
		}
		statuses = append(statuses, status)
	}
	return writeJSON(w, http.StatusOK, map[string]any{"monitoring": statuses})
}

func (h *apiHandler) anyEngine() engine.WalletEngine {
	return h.engines[h.chains[0]]
}

// parseAmount parses a decimal minor-unit string, with "" meaning unset.
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("not a base-10 integer: " + s)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already flushed, so an encode failure cannot become an
	// error response anymore.
	_ = json.NewEncoder(w).Encode(body)
	return nil
}
