package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flarelabs/simple-wallet/internal/metrics"
	"github.com/flarelabs/simple-wallet/pkg/keys"
	"github.com/flarelabs/simple-wallet/pkg/wallet"
	"github.com/flarelabs/simple-wallet/pkg/xrp"
)

// XRPClient is the slice of the rippled client the engine calls.
type XRPClient interface {
	GetLedgerIndex(ctx context.Context) (uint64, error)
	GetAccountSequence(ctx context.Context, account string) (uint32, error)
	CurrentFee(ctx context.Context, isPayment bool) (*big.Int, error)
	Submit(ctx context.Context, blob []byte) (*xrp.SubmitResult, error)
	GetTransaction(ctx context.Context, txHash string) (*xrp.TxResult, error)
}

// XRPEngine drives the transaction lifecycle for XRP. Sequence numbers are
// fetched fresh at preparation time, never cached, so transactions submitted
// by other means cannot open a gap.
type XRPEngine struct {
	base
	client XRPClient
}

// NewXRPEngine creates an engine for an XRP network.
func NewXRPEngine(chain wallet.ChainType, store TransactionStore, ks keys.KeyStore, client XRPClient, log *zap.Logger) (*XRPEngine, error) {
	if chain.IsUTXO() {
		return nil, fmt.Errorf("chain %s is not an account-based chain", chain)
	}
	return &XRPEngine{
		base:   newBase(chain, store, ks, log),
		client: client,
	}, nil
}

// ProcessCreated prepares and submits a freshly created record.
func (e *XRPEngine) ProcessCreated(ctx context.Context, rec *wallet.TransactionRecord) error {
	ledger, err := e.client.GetLedgerIndex(ctx)
	if err != nil {
		return err
	}
	if e.windowExpired(rec, ledger, wallet.AverageBlockTime(e.chain)) {
		return e.fail(ctx, rec.ID, expiredReason(rec, ledger))
	}

	kp, err := e.resolveKey(ctx, rec)
	if err != nil {
		if errors.Is(err, wallet.ErrKeyNotFound) {
			return e.fail(ctx, rec.ID, err.Error())
		}
		return err
	}

	prepared, err := e.prepare(ctx, rec, ledger)
	if err != nil || prepared == nil {
		return err
	}
	return e.signAndSubmit(ctx, prepared, kp)
}

// ProcessPrepared retries sign+submit for a prepared record. AccountDelete
// records park here until the ledger reaches their earliest legal deletion.
func (e *XRPEngine) ProcessPrepared(ctx context.Context, rec *wallet.TransactionRecord) error {
	kp, err := e.resolveKey(ctx, rec)
	if err != nil {
		if errors.Is(err, wallet.ErrKeyNotFound) {
			return e.fail(ctx, rec.ID, err.Error())
		}
		return err
	}
	return e.signAndSubmit(ctx, rec, kp)
}

// ProcessSubmitted finalizes a record once the ledger validates its
// transaction, or abandons it once LastLedgerSequence has passed.
func (e *XRPEngine) ProcessSubmitted(ctx context.Context, rec *wallet.TransactionRecord) error {
	res, err := e.client.GetTransaction(ctx, rec.TransactionHash)
	if err == nil && res.Validated {
		_, terr := e.transition(ctx, rec.ID, wallet.StatusSuccess, func(r *wallet.TransactionRecord) {
			if res.LedgerIndex > 0 {
				r.SubmittedInBlock = res.LedgerIndex
			}
		})
		return terr
	}
	if err != nil && !isXRPTxNotFound(err) {
		return err
	}

	ledger, lerr := e.client.GetLedgerIndex(ctx)
	if lerr != nil {
		return lerr
	}
	if e.windowExpired(rec, ledger, wallet.AverageBlockTime(e.chain)) {
		return e.fail(ctx, rec.ID, expiredReason(rec, ledger))
	}
	return nil
}

// ProcessSubmissionFailed replaces a fee-rejected record with a bumped-fee
// successor carrying a freshly fetched sequence.
func (e *XRPEngine) ProcessSubmissionFailed(ctx context.Context, rec *wallet.TransactionRecord) error {
	ledger, err := e.client.GetLedgerIndex(ctx)
	if err != nil {
		return err
	}
	if e.windowExpired(rec, ledger, wallet.AverageBlockTime(e.chain)) {
		return e.fail(ctx, rec.ID, expiredReason(rec, ledger))
	}

	kp, err := e.resolveKey(ctx, rec)
	if err != nil {
		if errors.Is(err, wallet.ErrKeyNotFound) {
			return e.fail(ctx, rec.ID, err.Error())
		}
		return err
	}

	oldFee := rec.Fee
	if oldFee == nil {
		oldFee, err = e.client.CurrentFee(ctx, rec.Amount != nil)
		if err != nil {
			return err
		}
	}
	newFee := new(big.Int).Mul(oldFee, big.NewInt(e.params.FeeIncrease))
	if rec.MaxFee != nil && newFee.Cmp(rec.MaxFee) > 0 {
		ferr := &wallet.FeeCeilingError{Computed: newFee, Ceiling: rec.MaxFee}
		return e.fail(ctx, rec.ID, ferr.Error())
	}

	newRec := replacementOf(rec, newFee)
	if _, err := e.store.CreateTransaction(ctx, newRec); err != nil {
		return err
	}
	if err := e.linkReplacement(ctx, rec.ID, newRec.ID); err != nil {
		return err
	}

	prepared, err := e.prepare(ctx, newRec, ledger)
	if err != nil || prepared == nil {
		return err
	}
	return e.signAndSubmit(ctx, prepared, kp)
}

// ProcessPending re-checks a record whose broadcast outcome is uncertain,
// re-broadcasting the same signed blob after the propagation wait window.
func (e *XRPEngine) ProcessPending(ctx context.Context, rec *wallet.TransactionRecord) error {
	res, err := e.client.GetTransaction(ctx, rec.TransactionHash)
	if err == nil {
		if res.Validated {
			_, terr := e.transition(ctx, rec.ID, wallet.StatusSuccess, func(r *wallet.TransactionRecord) {
				if res.LedgerIndex > 0 {
					r.SubmittedInBlock = res.LedgerIndex
				}
			})
			return terr
		}
		_, terr := e.transition(ctx, rec.ID, wallet.StatusSubmitted, nil)
		return terr
	}
	if !isXRPTxNotFound(err) {
		return err
	}

	pendingSince := rec.ReachedPendingAt
	if pendingSince.IsZero() {
		pendingSince = rec.UpdatedAt
	}
	if time.Since(pendingSince) < wallet.MempoolWaitTime {
		return nil // still propagating
	}

	ledger, lerr := e.client.GetLedgerIndex(ctx)
	if lerr != nil {
		return lerr
	}
	if e.windowExpired(rec, ledger, wallet.AverageBlockTime(e.chain)) {
		return e.fail(ctx, rec.ID, expiredReason(rec, ledger))
	}

	var t xrp.Transaction
	if err := json.Unmarshal(rec.Raw, &t); err != nil {
		return fmt.Errorf("stored transaction %d is corrupt: %w", rec.ID, err)
	}
	if len(t.TxnSignature) == 0 {
		return fmt.Errorf("stored transaction %d is unsigned", rec.ID)
	}
	blob, err := xrp.Serialize(&t, false)
	if err != nil {
		return err
	}
	sres, serr := e.client.Submit(ctx, blob)
	return e.classifySubmit(ctx, rec, sres, serr)
}

// prepare builds the ledger transaction for a record and moves it to
// prepared. The sequence is fetched fresh; AccountDelete validity windows are
// bounded below by the network's minimum deletion ledger.
func (e *XRPEngine) prepare(ctx context.Context, rec *wallet.TransactionRecord, ledger uint64) (*wallet.TransactionRecord, error) {
	seq, err := e.client.GetAccountSequence(ctx, rec.Source)
	if err != nil {
		return nil, err
	}

	isPayment := rec.Amount != nil
	fee := wallet.CloneBig(rec.Fee)
	if fee == nil {
		fee, err = e.client.CurrentFee(ctx, isPayment)
		if err != nil {
			return nil, err
		}
	}
	if rec.MaxFee != nil && fee.Cmp(rec.MaxFee) > 0 {
		ferr := &wallet.FeeCeilingError{Computed: fee, Ceiling: rec.MaxFee}
		return nil, e.fail(ctx, rec.ID, ferr.Error())
	}

	executeUntil := rec.ExecuteUntilBlock
	if isPayment {
		if executeUntil == 0 {
			executeUntil = ledger + e.params.BlockOffset
		}
	} else {
		// The network refuses deletions before Sequence + DeleteAccountOffset.
		floor := uint64(seq) + wallet.DeleteAccountOffset
		if ledger > floor {
			floor = ledger
		}
		floor += e.params.BlockOffset
		if executeUntil < floor {
			executeUntil = floor
		}
	}

	t := &xrp.Transaction{
		TransactionType:    xrp.TypeAccountDelete,
		Account:            rec.Source,
		Destination:        rec.Destination,
		Fee:                fee,
		Sequence:           seq,
		LastLedgerSequence: uint32(executeUntil),
	}
	if isPayment {
		t.TransactionType = xrp.TypePayment
		t.Amount = wallet.CloneBig(rec.Amount)
	}
	if rec.Reference != "" {
		t.Memos = []xrp.Memo{{Data: []byte(rec.Reference)}}
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return e.transition(ctx, rec.ID, wallet.StatusPrepared, func(r *wallet.TransactionRecord) {
		r.Raw = raw
		r.Fee = fee
		r.ExecuteUntilBlock = executeUntil
	})
}

// signAndSubmit signs the stored transaction, persists the signed blob and
// hash before broadcasting, then classifies the engine result.
func (e *XRPEngine) signAndSubmit(ctx context.Context, rec *wallet.TransactionRecord, kp *keys.KeyPair) error {
	var t xrp.Transaction
	if err := json.Unmarshal(rec.Raw, &t); err != nil {
		return fmt.Errorf("stored transaction %d is corrupt: %w", rec.ID, err)
	}

	if !t.IsPayment() {
		ledger, err := e.client.GetLedgerIndex(ctx)
		if err != nil {
			return err
		}
		if uint64(t.Sequence)+wallet.DeleteAccountOffset > ledger {
			// Too early to delete; refresh the prepared timestamp and park.
			e.log.Info("Account delete not yet allowed",
				zap.Int64("id", rec.ID),
				zap.Uint64("earliest_ledger", uint64(t.Sequence)+wallet.DeleteAccountOffset),
				zap.Uint64("current_ledger", ledger))
			_, uerr := e.store.UpdateTransaction(ctx, rec.ID, func(r *wallet.TransactionRecord) error {
				return nil
			})
			return uerr
		}
	}

	signed, err := xrp.SignTransaction(&t, kp.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to sign transaction %d: %w", rec.ID, err)
	}

	signedRaw, err := json.Marshal(&t)
	if err != nil {
		return err
	}
	rec, err = e.store.UpdateTransaction(ctx, rec.ID, func(r *wallet.TransactionRecord) error {
		r.Raw = signedRaw
		r.TransactionHash = signed.TxHash
		return nil
	})
	if err != nil {
		return err
	}

	res, err := e.client.Submit(ctx, signed.Blob)
	return e.classifySubmit(ctx, rec, res, err)
}

// classifySubmit maps the submit response onto the state machine. The engine
// result is provisional, so acceptance still goes through the submitted-state
// validation check before the record can succeed.
func (e *XRPEngine) classifySubmit(ctx context.Context, rec *wallet.TransactionRecord, res *xrp.SubmitResult, err error) error {
	chain := string(e.chain)

	if err != nil {
		var rpcErr *xrp.RPCError
		if errors.As(err, &rpcErr) {
			metrics.TransactionsSubmitted.WithLabelValues(chain, "rejected").Inc()
			return e.fail(ctx, rec.ID, rpcErr.Error())
		}
		// Transport trouble: the blob may have reached a validator anyway.
		e.log.Warn("Submit transport error", zap.Int64("id", rec.ID), zap.Error(err))
		if rec.Status != wallet.StatusPending {
			if _, terr := e.transition(ctx, rec.ID, wallet.StatusPending, nil); terr != nil {
				return terr
			}
		}
		return nil
	}

	switch {
	case strings.Contains(res.EngineResult, "INSUF_FEE"):
		metrics.TransactionsSubmitted.WithLabelValues(chain, "fee_too_low").Inc()
		_, terr := e.transition(ctx, rec.ID, wallet.StatusSubmissionFailed, func(r *wallet.TransactionRecord) {
			r.ErrorReason = engineResultText(res)
		})
		return terr

	case strings.HasPrefix(res.EngineResult, "tes"):
		metrics.TransactionsSubmitted.WithLabelValues(chain, "accepted").Inc()
		_, terr := e.transition(ctx, rec.ID, wallet.StatusSubmitted, func(r *wallet.TransactionRecord) {
			r.SubmittedInBlock = res.ValidatedLedgerIndex
		})
		return terr

	default:
		metrics.TransactionsSubmitted.WithLabelValues(chain, "rejected").Inc()
		return e.fail(ctx, rec.ID, engineResultText(res))
	}
}

func engineResultText(res *xrp.SubmitResult) string {
	if res.EngineResultMessage == "" {
		return res.EngineResult
	}
	return fmt.Sprintf("%s: %s", res.EngineResult, res.EngineResultMessage)
}

// isXRPTxNotFound reports whether a tx lookup failed because the ledger does
// not know the hash yet.
func isXRPTxNotFound(err error) bool {
	var rpcErr *xrp.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == "txnNotFound"
}
