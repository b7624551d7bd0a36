package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/flarelabs/simple-wallet/internal/metrics"
	"github.com/flarelabs/simple-wallet/pkg/blockbook"
	"github.com/flarelabs/simple-wallet/pkg/keys"
	"github.com/flarelabs/simple-wallet/pkg/rpcfallback"
	"github.com/flarelabs/simple-wallet/pkg/utxocore"
	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// UTXOStore extends the shared record store with output bookkeeping.
// Satisfied by *store.Store.
type UTXOStore interface {
	TransactionStore

	StoreUTXOs(ctx context.Context, utxos []*wallet.UTXO) error
	UnspentUTXOs(ctx context.Context, source string, includeSent bool) ([]*wallet.UTXO, error)
	UpdateUTXO(ctx context.Context, mintTxHash string, position uint32, mutate func(*wallet.UTXO) error) error
	OutputScript(ctx context.Context, txHash string, vout uint32) (string, error)
	ReserveUTXOs(ctx context.Context, txID int64, utxos []*wallet.UTXO) error
	ReleaseUTXOs(ctx context.Context, txID int64) error
	UTXOsByTransaction(ctx context.Context, txID int64) ([]*wallet.UTXO, error)
	SetTransactionInputStates(ctx context.Context, txID int64, state wallet.SpentState) error
	ReconcileUTXOs(ctx context.Context, source string, live []*wallet.UTXO) error
	CreateTransactionOutputs(ctx context.Context, outputs []*wallet.TransactionOutput) error
	TransactionDescendants(ctx context.Context, txHash, source string) ([]*wallet.TransactionRecord, error)
}

// UTXOIndexer is the slice of the blockbook client the engine calls.
type UTXOIndexer interface {
	GetBlockHeight(ctx context.Context) (uint64, error)
	GetAddressUTXOs(ctx context.Context, address string, confirmed bool) ([]blockbook.UTXO, error)
	GetTransaction(ctx context.Context, txID string) (*blockbook.Tx, error)
	SendTransaction(ctx context.Context, rawHex string) (string, error)
}

// FeeSource provides fee and timing estimates. Satisfied by
// *feeoracle.Oracle.
type FeeSource interface {
	FeePerKB() *big.Int
	AvgBlockTime() time.Duration
	CurrentBlockHeight() uint64
}

// UTXOEngine drives the transaction lifecycle for bitcoin-family chains.
type UTXOEngine struct {
	base
	store  UTXOStore
	client UTXOIndexer
	oracle FeeSource
}

// NewUTXOEngine creates an engine for one UTXO chain.
func NewUTXOEngine(chain wallet.ChainType, store UTXOStore, ks keys.KeyStore, client UTXOIndexer, oracle FeeSource, log *zap.Logger) (*UTXOEngine, error) {
	if !chain.IsUTXO() {
		return nil, fmt.Errorf("chain %s is not a UTXO chain", chain)
	}
	return &UTXOEngine{
		base:   newBase(chain, store, ks, log),
		store:  store,
		client: client,
		oracle: oracle,
	}, nil
}

// currentHeight prefers the fee oracle's polled height and falls back to the
// indexer while the oracle is still warming up.
func (e *UTXOEngine) currentHeight(ctx context.Context) (uint64, error) {
	if h := e.oracle.CurrentBlockHeight(); h > 0 {
		return h, nil
	}
	return e.client.GetBlockHeight(ctx)
}

// ProcessCreated prepares and submits a freshly created record: checks the
// execution window, selects inputs, enforces the fee ceiling, persists the
// unsigned transaction and then signs and broadcasts it in one go.
func (e *UTXOEngine) ProcessCreated(ctx context.Context, rec *wallet.TransactionRecord) error {
	height, err := e.currentHeight(ctx)
	if err != nil {
		return err
	}
	if e.windowExpired(rec, height, e.oracle.AvgBlockTime()) {
		return e.fail(ctx, rec.ID, expiredReason(rec, height))
	}

	kp, err := e.resolveKey(ctx, rec)
	if err != nil {
		if errors.Is(err, wallet.ErrKeyNotFound) {
			return e.fail(ctx, rec.ID, err.Error())
		}
		return err
	}

	if err := e.syncUTXOs(ctx, rec.Source); err != nil {
		// Selection can still run on the last known set.
		e.log.Warn("UTXO sync failed", zap.String("source", rec.Source), zap.Error(err))
	}

	prepared, err := e.prepare(ctx, rec, height, nil)
	if err != nil || prepared == nil {
		return err
	}
	return e.signAndSubmit(ctx, prepared, kp)
}

// ProcessPrepared retries sign+submit for a record whose broadcast did not
// settle on the previous pass.
func (e *UTXOEngine) ProcessPrepared(ctx context.Context, rec *wallet.TransactionRecord) error {
	height, err := e.currentHeight(ctx)
	if err != nil {
		return err
	}
	if e.windowExpired(rec, height, e.oracle.AvgBlockTime()) {
		if serr := e.store.SetTransactionInputStates(ctx, rec.ID, wallet.SpentStateUnspent); serr != nil {
			return serr
		}
		return e.fail(ctx, rec.ID, expiredReason(rec, height))
	}

	kp, err := e.resolveKey(ctx, rec)
	if err != nil {
		if errors.Is(err, wallet.ErrKeyNotFound) {
			return e.fail(ctx, rec.ID, err.Error())
		}
		return err
	}
	return e.signAndSubmit(ctx, rec, kp)
}

// ProcessSubmitted checks confirmation depth and finalizes the record or
// abandons it once the execution window has passed.
func (e *UTXOEngine) ProcessSubmitted(ctx context.Context, rec *wallet.TransactionRecord) error {
	tx, err := e.client.GetTransaction(ctx, rec.TransactionHash)
	if err == nil && tx.Confirmations >= e.params.EnoughConfirmations {
		_, terr := e.transition(ctx, rec.ID, wallet.StatusSuccess, func(r *wallet.TransactionRecord) {
			if tx.BlockHeight > 0 {
				r.SubmittedInBlock = uint64(tx.BlockHeight)
			}
		})
		if terr != nil {
			return terr
		}
		return e.store.SetTransactionInputStates(ctx, rec.ID, wallet.SpentStateSpent)
	}
	if err != nil && !isTxNotFound(err) {
		return err
	}

	height, herr := e.currentHeight(ctx)
	if herr != nil {
		return herr
	}
	if !e.windowExpired(rec, height, e.oracle.AvgBlockTime()) {
		return nil // re-checked next pass
	}
	if err != nil {
		// Dropped from the mempool without confirming; inputs are free again.
		if serr := e.store.SetTransactionInputStates(ctx, rec.ID, wallet.SpentStateUnspent); serr != nil {
			return serr
		}
	}
	return e.fail(ctx, rec.ID, expiredReason(rec, height))
}

// ProcessSubmissionFailed replaces a fee-rejected record with a bumped-fee
// successor. The new fee must outbid the whole local mempool chain the
// replacement evicts, so descendant fees are folded in before the multiplier.
func (e *UTXOEngine) ProcessSubmissionFailed(ctx context.Context, rec *wallet.TransactionRecord) error {
	height, err := e.currentHeight(ctx)
	if err != nil {
		return err
	}
	if e.windowExpired(rec, height, e.oracle.AvgBlockTime()) {
		return e.fail(ctx, rec.ID, expiredReason(rec, height))
	}

	kp, err := e.resolveKey(ctx, rec)
	if err != nil {
		if errors.Is(err, wallet.ErrKeyNotFound) {
			return e.fail(ctx, rec.ID, err.Error())
		}
		return err
	}

	newFee, err := e.bumpedFee(ctx, rec)
	if err != nil {
		return err
	}
	if rec.MaxFee != nil && newFee.Cmp(rec.MaxFee) > 0 {
		ferr := &wallet.FeeCeilingError{Computed: newFee, Ceiling: rec.MaxFee}
		return e.fail(ctx, rec.ID, ferr.Error())
	}

	return e.replaceAndSubmit(ctx, rec, newFee, height, kp)
}

// ProcessPending re-checks a record whose broadcast outcome is uncertain. If
// the transaction shows up it advances; after the mempool wait window the
// same signed bytes are re-broadcast unchanged.
func (e *UTXOEngine) ProcessPending(ctx context.Context, rec *wallet.TransactionRecord) error {
	tx, err := e.client.GetTransaction(ctx, rec.TransactionHash)
	if err == nil {
		if tx.Confirmations >= e.params.EnoughConfirmations {
			_, terr := e.transition(ctx, rec.ID, wallet.StatusSuccess, func(r *wallet.TransactionRecord) {
				if tx.BlockHeight > 0 {
					r.SubmittedInBlock = uint64(tx.BlockHeight)
				}
			})
			if terr != nil {
				return terr
			}
			return e.store.SetTransactionInputStates(ctx, rec.ID, wallet.SpentStateSpent)
		}
		height, herr := e.currentHeight(ctx)
		if herr != nil {
			return herr
		}
		_, terr := e.transition(ctx, rec.ID, wallet.StatusSubmitted, func(r *wallet.TransactionRecord) {
			r.SubmittedInBlock = height
			r.AcceptedMempoolAt = time.Now()
		})
		return terr
	}
	if !isTxNotFound(err) {
		return err
	}

	pendingSince := rec.ReachedPendingAt
	if pendingSince.IsZero() {
		pendingSince = rec.UpdatedAt
	}
	if time.Since(pendingSince) < wallet.MempoolWaitTime {
		return nil // still propagating
	}

	height, herr := e.currentHeight(ctx)
	if herr != nil {
		return herr
	}
	if e.windowExpired(rec, height, e.oracle.AvgBlockTime()) {
		if serr := e.store.SetTransactionInputStates(ctx, rec.ID, wallet.SpentStateUnspent); serr != nil {
			return serr
		}
		return e.fail(ctx, rec.ID, expiredReason(rec, height))
	}

	// Identical-fee retry: the transaction may simply not have propagated.
	signed, derr := utxocore.DeserializeTx(rec.Raw)
	if derr != nil {
		return fmt.Errorf("stored transaction %d is corrupt: %w", rec.ID, derr)
	}
	rawHex, serr := utxocore.SerializeTxHex(signed)
	if serr != nil {
		return serr
	}
	_, err = e.client.SendTransaction(ctx, rawHex)
	return e.classifySubmit(ctx, rec, err)
}

// syncUTXOs trues up the local output set against the indexer's mempool view.
func (e *UTXOEngine) syncUTXOs(ctx context.Context, source string) error {
	live, err := e.client.GetAddressUTXOs(ctx, source, false)
	if err != nil {
		return err
	}
	tracked := make([]*wallet.UTXO, 0, len(live))
	for _, u := range live {
		value, verr := u.ValueBig()
		if verr != nil {
			return verr
		}
		tracked = append(tracked, &wallet.UTXO{
			MintTxHash: u.TxID,
			Position:   u.Vout,
			Source:     source,
			Value:      value,
			SpentState: wallet.SpentStateUnspent,
		})
	}
	metrics.UTXOsTracked.WithLabelValues(string(e.chain), string(wallet.SpentStateUnspent)).Set(float64(len(tracked)))
	return e.store.ReconcileUTXOs(ctx, source, tracked)
}

// resolveScripts fills in missing locking scripts on selected outputs, first
// from our own recorded outputs, then from the indexer. Resolved scripts are
// persisted so the lookup happens once per output.
func (e *UTXOEngine) resolveScripts(ctx context.Context, selected []*wallet.UTXO) error {
	for _, u := range selected {
		if u.Script != "" {
			continue
		}
		script, err := e.store.OutputScript(ctx, u.MintTxHash, u.Position)
		if err != nil {
			return err
		}
		if script == "" {
			tx, terr := e.client.GetTransaction(ctx, u.MintTxHash)
			if terr != nil {
				return terr
			}
			if int(u.Position) >= len(tx.Vout) {
				return fmt.Errorf("output %s:%d does not exist", u.MintTxHash, u.Position)
			}
			script = tx.Vout[u.Position].Hex
		}
		if script == "" {
			return fmt.Errorf("no locking script for output %s:%d", u.MintTxHash, u.Position)
		}
		u.Script = script
		err = e.store.UpdateUTXO(ctx, u.MintTxHash, u.Position, func(ux *wallet.UTXO) error {
			ux.Script = script
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// selectInputs greedily accumulates outputs until amount plus a fee buffer is
// covered. The buffer prices the transaction at a bumped fee so a later
// replacement does not need extra inputs. seed outputs (a replaced
// transaction's inputs) are always included first.
func (e *UTXOEngine) selectInputs(ctx context.Context, rec *wallet.TransactionRecord, seed []*wallet.UTXO) ([]*wallet.UTXO, error) {
	feePerKB := e.oracle.FeePerKB()

	selected := make([]*wallet.UTXO, 0, len(seed)+4)
	total := new(big.Int)
	have := make(map[int64]struct{})
	for _, u := range seed {
		selected = append(selected, u)
		total.Add(total, u.Value)
		have[u.ID] = struct{}{}
	}

	// An account drain (nil amount) spends everything the address holds; the
	// greedy target only applies to ordinary payments.
	if rec.Amount == nil {
		candidates, err := e.store.UnspentUTXOs(ctx, rec.Source, false)
		if err != nil {
			return nil, err
		}
		for _, u := range candidates {
			if _, ok := have[u.ID]; ok {
				continue
			}
			selected = append(selected, u)
			total.Add(total, u.Value)
		}
		if len(selected) == 0 {
			return nil, &wallet.NotEnoughUTXOsError{Address: rec.Source, Available: total, Needed: big.NewInt(1)}
		}
		return selected, nil
	}

	needed := func() *big.Int {
		fee := wallet.CloneBig(rec.Fee)
		if fee == nil {
			est := utxocore.EstimateFee(len(selected), 2, feePerKB)
			fee = new(big.Int).Mul(est, big.NewInt(e.params.FeeIncrease))
		}
		return new(big.Int).Add(rec.Amount, fee)
	}

	if total.Cmp(needed()) >= 0 {
		return selected, nil
	}

	candidates, err := e.store.UnspentUTXOs(ctx, rec.Source, false)
	if err != nil {
		return nil, err
	}
	for _, u := range candidates {
		if _, ok := have[u.ID]; ok {
			continue
		}
		selected = append(selected, u)
		total.Add(total, u.Value)
		if total.Cmp(needed()) >= 0 {
			return selected, nil
		}
	}
	return nil, &wallet.NotEnoughUTXOsError{Address: rec.Source, Available: total, Needed: needed()}
}

// prepare builds the unsigned transaction for a record and moves it to
// prepared. A nil record return without error means the record should be
// retried on a later pass (typically not enough spendable outputs yet).
func (e *UTXOEngine) prepare(ctx context.Context, rec *wallet.TransactionRecord, height uint64, seed []*wallet.UTXO) (*wallet.TransactionRecord, error) {
	selected, err := e.selectInputs(ctx, rec, seed)
	if err != nil {
		var insufficient *wallet.NotEnoughUTXOsError
		if errors.As(err, &insufficient) {
			e.log.Warn("Not enough UTXOs, will retry",
				zap.Int64("id", rec.ID),
				zap.String("available", insufficient.Available.String()),
				zap.String("needed", insufficient.Needed.String()))
			return nil, nil
		}
		return nil, err
	}
	if err := e.resolveScripts(ctx, selected); err != nil {
		return nil, err
	}

	fee := wallet.CloneBig(rec.Fee)
	if fee == nil {
		numOutputs := 2
		if rec.Amount == nil {
			numOutputs = 1 // drain pays to a single output, no change
		}
		fee = utxocore.EstimateFee(len(selected), numOutputs, e.oracle.FeePerKB())
	}
	if rec.MaxFee != nil && fee.Cmp(rec.MaxFee) > 0 {
		ferr := &wallet.FeeCeilingError{Computed: fee, Ceiling: rec.MaxFee}
		return nil, e.fail(ctx, rec.ID, ferr.Error())
	}

	amount := wallet.CloneBig(rec.Amount)
	if amount == nil {
		// Account drain: the whole balance minus the fee leaves the address.
		total := new(big.Int)
		for _, u := range selected {
			total.Add(total, u.Value)
		}
		amount = total.Sub(total, fee)
		if amount.Sign() <= 0 {
			e.log.Warn("Balance does not cover the drain fee, will retry",
				zap.Int64("id", rec.ID),
				zap.String("fee", fee.String()))
			return nil, nil
		}
	}

	inputs := toInputUTXOs(selected)
	tx, err := utxocore.BuildTransaction(e.chain, inputs,
		[]utxocore.Payment{{Address: rec.Destination, Value: amount}},
		rec.Source, fee)
	if err != nil {
		var dust *wallet.LessThanDustAmountError
		if errors.As(err, &dust) {
			return nil, e.fail(ctx, rec.ID, dust.Error())
		}
		var insufficient *wallet.NotEnoughUTXOsError
		if errors.As(err, &insufficient) {
			return nil, nil
		}
		return nil, err
	}
	if rec.Reference != "" {
		if err := utxocore.AddReference(tx, []byte(rec.Reference)); err != nil {
			return nil, e.fail(ctx, rec.ID, err.Error())
		}
	}

	raw, err := utxocore.SerializeTx(tx)
	if err != nil {
		return nil, err
	}
	if err := e.store.ReserveUTXOs(ctx, rec.ID, selected); err != nil {
		return nil, err
	}

	executeUntil := rec.ExecuteUntilBlock
	if executeUntil == 0 {
		executeUntil = height + e.params.BlockOffset
	}
	return e.transition(ctx, rec.ID, wallet.StatusPrepared, func(r *wallet.TransactionRecord) {
		r.Raw = raw
		r.Fee = fee
		r.ExecuteUntilBlock = executeUntil
	})
}

// signAndSubmit signs the stored transaction, persists the hash before
// broadcasting so a crash between send and persist can be reconciled by hash
// lookup, then classifies the node's verdict.
func (e *UTXOEngine) signAndSubmit(ctx context.Context, rec *wallet.TransactionRecord, kp *keys.KeyPair) error {
	tx, err := utxocore.DeserializeTx(rec.Raw)
	if err != nil {
		return fmt.Errorf("stored transaction %d is corrupt: %w", rec.ID, err)
	}

	reserved, err := e.store.UTXOsByTransaction(ctx, rec.ID)
	if err != nil {
		return err
	}
	inputs, err := inputsInTxOrder(tx, reserved)
	if err != nil {
		return err
	}
	if err := utxocore.SignTransaction(tx, inputs, kp.PrivateKey); err != nil {
		return fmt.Errorf("failed to sign transaction %d: %w", rec.ID, err)
	}

	signedRaw, err := utxocore.SerializeTx(tx)
	if err != nil {
		return err
	}
	txHash := utxocore.TxHashHex(tx)

	rec, err = e.store.UpdateTransaction(ctx, rec.ID, func(r *wallet.TransactionRecord) error {
		r.Raw = signedRaw
		r.TransactionHash = txHash
		return nil
	})
	if err != nil {
		return err
	}
	if err := e.recordOwnOutputs(ctx, rec); err != nil {
		return err
	}

	rawHex := hex.EncodeToString(signedRaw)
	_, err = e.client.SendTransaction(ctx, rawHex)
	return e.classifySubmit(ctx, rec, err)
}

// classifySubmit maps the node's response to a broadcast onto the state
// machine. The match is on the node's error text; blockbook relays bitcoind
// and dogecoind reject-reasons verbatim.
func (e *UTXOEngine) classifySubmit(ctx context.Context, rec *wallet.TransactionRecord, err error) error {
	chain := string(e.chain)

	if err == nil {
		metrics.TransactionsSubmitted.WithLabelValues(chain, "accepted").Inc()
		if rec.Status != wallet.StatusPending {
			if _, terr := e.transition(ctx, rec.ID, wallet.StatusPending, nil); terr != nil {
				return terr
			}
		}
		if serr := e.store.SetTransactionInputStates(ctx, rec.ID, wallet.SpentStateSent); serr != nil {
			return serr
		}
		return e.waitForMempool(ctx, rec)
	}

	msg := err.Error()
	var httpErr *rpcfallback.HTTPError
	nodeVerdict := errors.As(err, &httpErr)

	switch {
	case strings.Contains(msg, "too-long-mempool-chain"):
		// Ancestor limit; retried untouched once the chain confirms.
		e.log.Warn("Mempool chain too long, will retry", zap.Int64("id", rec.ID))
		return nil

	case strings.Contains(msg, "transaction already in block chain"),
		strings.Contains(msg, "already known"):
		metrics.TransactionsSubmitted.WithLabelValues(chain, "accepted").Inc()
		if rec.Status != wallet.StatusPending {
			if _, terr := e.transition(ctx, rec.ID, wallet.StatusPending, nil); terr != nil {
				return terr
			}
		}
		return e.store.SetTransactionInputStates(ctx, rec.ID, wallet.SpentStateSent)

	case strings.Contains(msg, "insufficient fee"),
		strings.Contains(msg, "min relay fee not met"),
		strings.Contains(msg, "mempool min fee not met"):
		metrics.TransactionsSubmitted.WithLabelValues(chain, "fee_too_low").Inc()
		_, terr := e.transition(ctx, rec.ID, wallet.StatusSubmissionFailed, func(r *wallet.TransactionRecord) {
			r.ErrorReason = msg
		})
		return terr

	case strings.Contains(msg, "bad-txns-inputs-"):
		// Our input view is stale; rebuild from scratch.
		e.log.Warn("Inputs rejected, reconciling UTXO set", zap.Int64("id", rec.ID), zap.String("node_error", msg))
		if serr := e.syncUTXOs(ctx, rec.Source); serr != nil {
			return serr
		}
		if rerr := e.store.ReleaseUTXOs(ctx, rec.ID); rerr != nil {
			return rerr
		}
		_, terr := e.transition(ctx, rec.ID, wallet.StatusCreated, func(r *wallet.TransactionRecord) {
			r.Raw = nil
			r.TransactionHash = ""
		})
		return terr

	case nodeVerdict:
		metrics.TransactionsSubmitted.WithLabelValues(chain, "rejected").Inc()
		if serr := e.store.SetTransactionInputStates(ctx, rec.ID, wallet.SpentStateUnspent); serr != nil {
			return serr
		}
		if rerr := e.store.ReleaseUTXOs(ctx, rec.ID); rerr != nil {
			return rerr
		}
		return e.fail(ctx, rec.ID, msg)

	default:
		// Transport trouble; the broadcast may or may not have landed, so the
		// record stays where it is and is retried next pass.
		e.log.Warn("Broadcast transport error, will retry", zap.Int64("id", rec.ID), zap.Error(err))
		return nil
	}
}

// waitForMempool polls the indexer until the broadcast transaction appears,
// then advances the record to submitted. A transaction that does not appear
// within the wait window stays pending and is handled by ProcessPending.
func (e *UTXOEngine) waitForMempool(ctx context.Context, rec *wallet.TransactionRecord) error {
	deadline := time.Now().Add(wallet.MempoolWaitTime)
	ticker := time.NewTicker(wallet.MempoolPollInterval)
	defer ticker.Stop()

	for {
		tx, err := e.client.GetTransaction(ctx, rec.TransactionHash)
		if err == nil {
			height, herr := e.currentHeight(ctx)
			if herr != nil {
				return herr
			}
			_, terr := e.transition(ctx, rec.ID, wallet.StatusSubmitted, func(r *wallet.TransactionRecord) {
				r.SubmittedInBlock = height
				r.AcceptedMempoolAt = time.Now()
				if tx.BlockHeight > 0 {
					r.SubmittedInBlock = uint64(tx.BlockHeight)
				}
			})
			return terr
		}
		if !isTxNotFound(err) {
			return err
		}
		if time.Now().After(deadline) {
			e.log.Warn("Transaction not in mempool after wait", zap.Int64("id", rec.ID), zap.String("hash", rec.TransactionHash))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// bumpedFee prices a replacement: the fee of the replaced transaction plus
// every in-flight same-source descendant it would evict, times the chain's
// bump multiplier.
func (e *UTXOEngine) bumpedFee(ctx context.Context, rec *wallet.TransactionRecord) (*big.Int, error) {
	total := new(big.Int)
	if rec.Fee != nil {
		total.Set(rec.Fee)
	}
	if rec.TransactionHash != "" {
		descendants, err := e.store.TransactionDescendants(ctx, rec.TransactionHash, rec.Source)
		if err != nil {
			return nil, err
		}
		for _, d := range descendants {
			if d.Fee != nil {
				total.Add(total, d.Fee)
			}
		}
	}
	if total.Sign() == 0 {
		total = utxocore.EstimateFee(2, 2, e.oracle.FeePerKB())
	}
	return total.Mul(total, big.NewInt(e.params.FeeIncrease)), nil
}

// replaceAndSubmit creates, prepares and broadcasts the bumped-fee successor
// of rec, re-spending the original's inputs so the replacement actually
// evicts it.
func (e *UTXOEngine) replaceAndSubmit(ctx context.Context, rec *wallet.TransactionRecord, newFee *big.Int, height uint64, kp *keys.KeyPair) error {
	seed, err := e.store.UTXOsByTransaction(ctx, rec.ID)
	if err != nil {
		return err
	}

	newRec := replacementOf(rec, newFee)
	newID, err := e.store.CreateTransaction(ctx, newRec)
	if err != nil {
		return err
	}
	if err := e.linkReplacement(ctx, rec.ID, newID); err != nil {
		return err
	}

	prepared, err := e.prepare(ctx, newRec, height, seed)
	if err != nil || prepared == nil {
		return err
	}
	return e.signAndSubmit(ctx, prepared, kp)
}

// recordOwnOutputs stores the outputs we just signed so replacement builds
// can resolve scripts without an indexer round-trip, and the change output
// becomes selectable once the transaction confirms.
func (e *UTXOEngine) recordOwnOutputs(ctx context.Context, rec *wallet.TransactionRecord) error {
	msgTx, err := utxocore.DeserializeTx(rec.Raw)
	if err != nil {
		return err
	}
	outputs := make([]*wallet.TransactionOutput, len(msgTx.TxOut))
	for i, out := range msgTx.TxOut {
		outputs[i] = &wallet.TransactionOutput{
			TransactionID:   rec.ID,
			TransactionHash: rec.TransactionHash,
			Vout:            uint32(i),
			Value:           big.NewInt(out.Value),
			Script:          hex.EncodeToString(out.PkScript),
		}
	}
	return e.store.CreateTransactionOutputs(ctx, outputs)
}

// inputsInTxOrder arranges the reserved outputs to match the transaction's
// input order, which signing requires.
func inputsInTxOrder(tx *wire.MsgTx, reserved []*wallet.UTXO) ([]utxocore.InputUTXO, error) {
	byOutpoint := make(map[string]*wallet.UTXO, len(reserved))
	for _, u := range reserved {
		byOutpoint[fmt.Sprintf("%s:%d", u.MintTxHash, u.Position)] = u
	}
	inputs := make([]utxocore.InputUTXO, len(tx.TxIn))
	for i, in := range tx.TxIn {
		key := fmt.Sprintf("%s:%d", in.PreviousOutPoint.Hash.String(), in.PreviousOutPoint.Index)
		u, ok := byOutpoint[key]
		if !ok {
			return nil, fmt.Errorf("input %s is not reserved for this transaction", key)
		}
		script, err := hex.DecodeString(u.Script)
		if err != nil {
			return nil, fmt.Errorf("invalid stored script for %s: %w", key, err)
		}
		inputs[i] = utxocore.InputUTXO{
			TxHash: u.MintTxHash,
			Vout:   u.Position,
			Value:  u.Value,
			Script: script,
		}
	}
	return inputs, nil
}

// toInputUTXOs converts tracked outputs into signing inputs.
func toInputUTXOs(utxos []*wallet.UTXO) []utxocore.InputUTXO {
	inputs := make([]utxocore.InputUTXO, len(utxos))
	for i, u := range utxos {
		script, _ := hex.DecodeString(u.Script)
		inputs[i] = utxocore.InputUTXO{
			TxHash: u.MintTxHash,
			Vout:   u.Position,
			Value:  u.Value,
			Script: script,
		}
	}
	return inputs
}

// isTxNotFound reports whether an indexer error means the transaction is
// simply not known yet, as opposed to the lookup itself failing.
func isTxNotFound(err error) bool {
	var httpErr *rpcfallback.HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.StatusCode == 400 || httpErr.StatusCode == 404
}
