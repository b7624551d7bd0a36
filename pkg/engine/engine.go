// Package engine implements the per-chain transaction lifecycle engines. An
// engine turns a persisted payment intent into a signed, submitted,
// confirmed-or-failed on-chain transaction, driven one status batch at a time
// by the monitor. All state lives in the store so any process holding the
// monitoring lease can pick up where another left off.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/flarelabs/simple-wallet/internal/metrics"
	"github.com/flarelabs/simple-wallet/pkg/keys"
	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// TransactionStore defines the record persistence surface shared by all
// engines. Satisfied by *store.Store.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, rec *wallet.TransactionRecord) (int64, error)
	FetchTransaction(ctx context.Context, id int64) (*wallet.TransactionRecord, error)
	UpdateTransaction(ctx context.Context, id int64, mutate func(*wallet.TransactionRecord) error) (*wallet.TransactionRecord, error)
	TransactionsByStatus(ctx context.Context, chain wallet.ChainType, status wallet.TransactionStatus) ([]*wallet.TransactionRecord, error)
	HasOpenAccountDelete(ctx context.Context, chain wallet.ChainType, source string) (bool, error)
	TransactionByHash(ctx context.Context, chain wallet.ChainType, hash string) (*wallet.TransactionRecord, error)
	ReplacementTip(ctx context.Context, rec *wallet.TransactionRecord) (*wallet.TransactionRecord, error)
}

// TxOptions are the caller-tunable fields of a new transaction. The zero
// value means: auto-compute the fee, no fee ceiling, no reference, derive the
// execution window at submission time.
type TxOptions struct {
	Fee                   *big.Int
	MaxFee                *big.Int
	Reference             string
	ExecuteUntilBlock     uint64
	ExecuteUntilTimestamp time.Time
}

// WalletEngine is the lifecycle surface the monitor and the API drive. The
// Create/Get methods are the public contract; the Process methods are
// invoked by the monitor for each record in the corresponding status and must
// be safe to retry.
type WalletEngine interface {
	ChainType() wallet.ChainType

	CreatePaymentTransaction(ctx context.Context, source, destination string, amount *big.Int, opts TxOptions) (int64, error)
	CreateDeleteAccountTransaction(ctx context.Context, source, destination string, opts TxOptions) (int64, error)
	GetTransactionInfo(ctx context.Context, id int64) (*wallet.TransactionInfo, error)

	ProcessCreated(ctx context.Context, rec *wallet.TransactionRecord) error
	ProcessPrepared(ctx context.Context, rec *wallet.TransactionRecord) error
	ProcessSubmitted(ctx context.Context, rec *wallet.TransactionRecord) error
	ProcessSubmissionFailed(ctx context.Context, rec *wallet.TransactionRecord) error
	ProcessPending(ctx context.Context, rec *wallet.TransactionRecord) error
}

// base carries the pieces both engine families share: record creation, the
// info read path, status transitions and execution-window arithmetic.
type base struct {
	chain  wallet.ChainType
	store  TransactionStore
	keys   keys.KeyStore
	params wallet.StuckParams
	log    *zap.Logger
}

func newBase(chain wallet.ChainType, store TransactionStore, ks keys.KeyStore, log *zap.Logger) base {
	return base{
		chain:  chain,
		store:  store,
		keys:   ks,
		params: wallet.StuckParamsFor(chain),
		log:    log.With(zap.String("chain", string(chain))),
	}
}

// ChainType returns the chain this engine instance operates on.
func (b *base) ChainType() wallet.ChainType {
	return b.chain
}

// OverrideStuckParams replaces the chain's default resubmission parameters
// with any non-zero deployment overrides.
func (b *base) OverrideStuckParams(blockOffset uint64, feeIncrease int64, executionBlockOffset, enoughConfirmations uint64) {
	if blockOffset > 0 {
		b.params.BlockOffset = blockOffset
	}
	if feeIncrease > 0 {
		b.params.FeeIncrease = feeIncrease
	}
	if executionBlockOffset > 0 {
		b.params.ExecutionBlockOffset = executionBlockOffset
	}
	if enoughConfirmations > 0 {
		b.params.EnoughConfirmations = enoughConfirmations
	}
}

// CreatePaymentTransaction persists a payment intent and returns its id. It
// never touches the network; the monitor picks the record up asynchronously.
func (b *base) CreatePaymentTransaction(ctx context.Context, source, destination string, amount *big.Int, opts TxOptions) (int64, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, fmt.Errorf("payment amount must be positive")
	}
	deleting, err := b.store.HasOpenAccountDelete(ctx, b.chain, source)
	if err != nil {
		return 0, err
	}
	if deleting {
		return 0, wallet.ErrAccountDeleting
	}
	return b.createTransaction(ctx, source, destination, wallet.CloneBig(amount), opts)
}

// CreateDeleteAccountTransaction persists an account-close intent. The nil
// amount marks the record as a deletion and blocks further payments from the
// source until it settles.
func (b *base) CreateDeleteAccountTransaction(ctx context.Context, source, destination string, opts TxOptions) (int64, error) {
	return b.createTransaction(ctx, source, destination, nil, opts)
}

func (b *base) createTransaction(ctx context.Context, source, destination string, amount *big.Int, opts TxOptions) (int64, error) {
	if source == "" || destination == "" {
		return 0, fmt.Errorf("source and destination are required")
	}
	rec := &wallet.TransactionRecord{
		ChainType:             b.chain,
		Source:                source,
		Destination:           destination,
		Amount:                amount,
		Fee:                   wallet.CloneBig(opts.Fee),
		MaxFee:                wallet.CloneBig(opts.MaxFee),
		Reference:             opts.Reference,
		ExecuteUntilBlock:     opts.ExecuteUntilBlock,
		ExecuteUntilTimestamp: opts.ExecuteUntilTimestamp,
	}
	id, err := b.store.CreateTransaction(ctx, rec)
	if err != nil {
		return 0, err
	}
	metrics.TransactionsCreated.WithLabelValues(string(b.chain)).Inc()
	b.log.Info("Created transaction",
		zap.Int64("id", id),
		zap.String("source", source),
		zap.String("destination", destination),
		zap.Bool("account_delete", amount == nil))
	return id, nil
}

// GetTransactionInfo reports the status of the record carrying the lineage
// the queried id belongs to: a replaced record reports its replacement's
// progress, since that is the transaction actually in flight.
func (b *base) GetTransactionInfo(ctx context.Context, id int64) (*wallet.TransactionInfo, error) {
	rec, err := b.store.FetchTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	tip, err := b.store.ReplacementTip(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &wallet.TransactionInfo{
		ID:              rec.ID,
		Status:          tip.Status,
		TransactionHash: tip.TransactionHash,
		ReplacedByID:    rec.ReplacedByID,
		ErrorReason:     tip.ErrorReason,
	}, nil
}

// transition moves a record to a new status, applying extra mutations and
// stamping the transition timestamp. Terminal records are never modified.
func (b *base) transition(ctx context.Context, id int64, to wallet.TransactionStatus, extra func(*wallet.TransactionRecord)) (*wallet.TransactionRecord, error) {
	now := time.Now()
	rec, err := b.store.UpdateTransaction(ctx, id, func(r *wallet.TransactionRecord) error {
		if r.Status.IsTerminal() {
			return fmt.Errorf("transaction %d is already %s", id, r.Status)
		}
		r.Status = to
		switch to {
		case wallet.StatusSubmitted:
			r.SubmittedAt = now
		case wallet.StatusPending:
			r.ReachedPendingAt = now
		case wallet.StatusSuccess, wallet.StatusFailed, wallet.StatusReplaced:
			r.FinalizedAt = now
		}
		if extra != nil {
			extra(r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.TransactionStatusChanges.WithLabelValues(string(b.chain), string(to)).Inc()
	if to.IsTerminal() && !rec.CreatedAt.IsZero() {
		metrics.TimeToFinality.WithLabelValues(string(b.chain), string(to)).
			Observe(now.Sub(rec.CreatedAt).Seconds())
	}
	b.log.Info("Transaction status changed",
		zap.Int64("id", id),
		zap.String("status", string(to)))
	return rec, nil
}

// fail moves a record to the terminal failed state with a reason.
func (b *base) fail(ctx context.Context, id int64, reason string) error {
	_, err := b.transition(ctx, id, wallet.StatusFailed, func(r *wallet.TransactionRecord) {
		r.ErrorReason = reason
	})
	if err != nil {
		return err
	}
	b.log.Warn("Transaction failed", zap.Int64("id", id), zap.String("reason", reason))
	return nil
}

// windowExpired reports whether submission is no longer worth attempting:
// the remaining height (or time) before the execution ceiling is within the
// chain's safety margin. Records with neither bound configured never expire.
func (b *base) windowExpired(rec *wallet.TransactionRecord, currentHeight uint64, avgBlockTime time.Duration) bool {
	if rec.ExecuteUntilBlock > 0 && currentHeight+b.params.ExecutionBlockOffset >= rec.ExecuteUntilBlock {
		return true
	}
	if !rec.ExecuteUntilTimestamp.IsZero() {
		horizon := time.Now().Add(time.Duration(b.params.ExecutionBlockOffset) * avgBlockTime)
		if !horizon.Before(rec.ExecuteUntilTimestamp) {
			return true
		}
	}
	return false
}

// expiredReason formats the terminal error for an expired execution window.
func expiredReason(rec *wallet.TransactionRecord, currentHeight uint64) string {
	if rec.ExecuteUntilBlock > 0 {
		return fmt.Sprintf("execution window expired: height %d, execute until %d", currentHeight, rec.ExecuteUntilBlock)
	}
	return fmt.Sprintf("execution window expired: execute until %s", rec.ExecuteUntilTimestamp.UTC().Format(time.RFC3339))
}

// resolveKey loads and decrypts the source's signing key. A missing key is a
// terminal condition for the record: creation accepted the intent, but the
// wallet cannot sign for an address it does not custody.
func (b *base) resolveKey(ctx context.Context, rec *wallet.TransactionRecord) (*keys.KeyPair, error) {
	kp, err := keys.ResolveKeyPair(ctx, b.keys, rec.Source)
	if err != nil {
		return nil, fmt.Errorf("no signing key for %s: %w", rec.Source, err)
	}
	return kp, nil
}

// replacementOf builds the successor record for a resubmission: same
// parties, amount and ceilings, new fee.
func replacementOf(rec *wallet.TransactionRecord, newFee *big.Int) *wallet.TransactionRecord {
	return &wallet.TransactionRecord{
		ChainType:             rec.ChainType,
		Source:                rec.Source,
		Destination:           rec.Destination,
		Amount:                wallet.CloneBig(rec.Amount),
		Fee:                   wallet.CloneBig(newFee),
		MaxFee:                wallet.CloneBig(rec.MaxFee),
		Reference:             rec.Reference,
		ExecuteUntilBlock:     rec.ExecuteUntilBlock,
		ExecuteUntilTimestamp: rec.ExecuteUntilTimestamp,
	}
}

// linkReplacement persists the forward pointer from the superseded record to
// its successor and retires the old record.
func (b *base) linkReplacement(ctx context.Context, oldID, newID int64) error {
	_, err := b.transition(ctx, oldID, wallet.StatusReplaced, func(r *wallet.TransactionRecord) {
		r.ReplacedByID = newID
	})
	if err != nil {
		return fmt.Errorf("failed to link replacement %d -> %d: %w", oldID, newID, err)
	}
	metrics.FeeBumps.WithLabelValues(string(b.chain)).Inc()
	return nil
}
