// Package feeoracle maintains a rolling window of per-block fee statistics
// for the UTXO chains. The window is fed from the indexer, persisted so a
// restart does not begin with an empty history, and queried by the engine for
// the current fee rate and the observed block cadence.
package feeoracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flarelabs/simple-wallet/internal/metrics"
	"github.com/flarelabs/simple-wallet/pkg/blockbook"
	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

const (
	feeDecilesCount = 11

	// maxDBHistoryBlocks bounds how far back persisted fee rows are kept.
	maxDBHistoryBlocks = 1000

	// dbPruneInterval is how often old fee rows are deleted.
	dbPruneInterval = time.Hour
)

// BlockStats is one block's worth of fee observations.
type BlockStats struct {
	BlockHeight            uint64
	BlockTime              time.Time
	TimeSincePreviousBlock time.Duration
	AverageFeePerKB        *big.Int
	DecilesFeePerKB        []*big.Int
}

// FeeStats is the oracle's current view.
type FeeStats struct {
	AverageFeePerKB          *big.Int
	DecilesFeePerKB          []*big.Int
	MovingAverageWeightedFee *big.Int
}

// historyStore is the persistence surface the oracle needs. Satisfied by
// *store.Store.
type historyStore interface {
	UpsertFeeHistory(ctx context.Context, item *wallet.FeeHistoryItem) error
	FeeHistory(ctx context.Context, chain wallet.ChainType, limit int) ([]*wallet.FeeHistoryItem, error)
	PruneFeeHistory(ctx context.Context, chain wallet.ChainType, belowHeight uint64) (int64, error)
}

// indexer is the part of the blockbook client the oracle uses.
type indexer interface {
	GetBlockHeight(ctx context.Context) (uint64, error)
	GetFeeStats(ctx context.Context, blockHeight uint64) (*blockbook.FeeStats, error)
	GetBlock(ctx context.Context, blockHeight uint64) (*blockbook.Block, error)
}

// Oracle tracks fees for one chain.
type Oracle struct {
	chain        wallet.ChainType
	client       indexer
	store        historyStore
	log          *zap.Logger
	historySize  int
	pollInterval time.Duration

	mu      sync.RWMutex
	history []BlockStats // oldest first

	stopCh    chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	lastPrune time.Time
}

// New creates a fee oracle for chain. historySize is the number of blocks the
// rolling window holds.
func New(chain wallet.ChainType, client indexer, store historyStore, historySize int, pollInterval time.Duration, log *zap.Logger) *Oracle {
	return &Oracle{
		chain:        chain,
		client:       client,
		store:        store,
		log:          log.With(zap.String("chain", string(chain))),
		historySize:  historySize,
		pollInterval: pollInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start seeds the window and begins polling for new blocks. It returns once
// the initial history is in place; polling continues in the background until
// Stop.
func (o *Oracle) Start(ctx context.Context) error {
	o.log.Info("Starting fee oracle",
		zap.Int("history_size", o.historySize),
		zap.Duration("poll_interval", o.pollInterval))

	o.seedFromStore(ctx)
	o.setupHistory(ctx)

	o.wg.Add(1)
	go o.pollLoop(ctx)
	return nil
}

// Stop halts polling. Safe to call more than once.
func (o *Oracle) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
	})
	o.wg.Wait()
	o.log.Info("Fee oracle stopped")
}

// LatestFeeStats returns the newest block's fees plus a recency-weighted
// moving average over the window.
func (o *Oracle) LatestFeeStats() FeeStats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	totalBlocks := len(o.history)
	if totalBlocks == 0 {
		return FeeStats{
			AverageFeePerKB:          big.NewInt(0),
			MovingAverageWeightedFee: big.NewInt(0),
		}
	}

	weightedSum := new(big.Int)
	totalWeight := int64(0)
	for i, block := range o.history {
		weight := int64(totalBlocks - i)
		weightedSum.Add(weightedSum, new(big.Int).Mul(block.AverageFeePerKB, big.NewInt(weight)))
		totalWeight += weight
	}

	latest := o.history[totalBlocks-1]
	return FeeStats{
		AverageFeePerKB:          wallet.CloneBig(latest.AverageFeePerKB),
		DecilesFeePerKB:          latest.DecilesFeePerKB,
		MovingAverageWeightedFee: weightedSum.Div(weightedSum, big.NewInt(totalWeight)),
	}
}

// FeePerKB returns the fee rate the engine should use for new transactions.
// Falls back to the chain default while the window is empty.
func (o *Oracle) FeePerKB() *big.Int {
	stats := o.LatestFeeStats()
	if stats.MovingAverageWeightedFee.Sign() > 0 {
		return stats.MovingAverageWeightedFee
	}
	return wallet.DefaultFeePerKB(o.chain)
}

// AvgBlockTime returns the observed block cadence, falling back to the
// chain's nominal block time until enough history exists.
func (o *Oracle) AvgBlockTime() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var total time.Duration
	samples := 0
	for _, block := range o.history {
		if block.TimeSincePreviousBlock > 0 {
			total += block.TimeSincePreviousBlock
			samples++
		}
	}
	if samples == 0 {
		return wallet.AverageBlockTime(o.chain)
	}
	return total / time.Duration(samples)
}

// CurrentBlockHeight returns the newest block the oracle has seen, 0 while
// the window is empty.
func (o *Oracle) CurrentBlockHeight() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.history) == 0 {
		return 0
	}
	return o.history[len(o.history)-1].BlockHeight
}

// seedFromStore preloads the window from persisted rows. Only the run of
// consecutive blocks ending at the newest row is usable; a gap means the
// process was down and the intervening blocks are gone.
func (o *Oracle) seedFromStore(ctx context.Context) {
	items, err := o.store.FeeHistory(ctx, o.chain, o.historySize)
	if err != nil {
		o.log.Warn("Failed to load fee history from store", zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}

	// items are newest first; keep the consecutive prefix
	consecutive := []*wallet.FeeHistoryItem{items[0]}
	for i := 1; i < len(items); i++ {
		if items[i].BlockHeight != items[i-1].BlockHeight-1 {
			break
		}
		consecutive = append(consecutive, items[i])
	}

	o.mu.Lock()
	o.history = o.history[:0]
	for i := len(consecutive) - 1; i >= 0; i-- {
		item := consecutive[i]
		o.history = append(o.history, BlockStats{
			BlockHeight:     item.BlockHeight,
			BlockTime:       item.BlockTimestamp,
			AverageFeePerKB: wallet.CloneBig(item.AvgFeePerKB),
		})
	}
	o.recomputeIntervals()
	o.mu.Unlock()

	o.log.Info("Seeded fee history from store", zap.Int("blocks", len(consecutive)))
}

// setupHistory fills the window from the indexer up to the current height.
func (o *Oracle) setupHistory(ctx context.Context) {
	currentHeight, err := o.client.GetBlockHeight(ctx)
	if err != nil {
		o.log.Warn("Failed to get block height for history setup", zap.Error(err))
		return
	}

	for i := o.historySize - 1; i >= 0; i-- {
		height := currentHeight - uint64(i)
		if o.hasBlock(height) {
			continue
		}
		stats := o.fetchBlockStats(ctx, height)
		if stats == nil {
			continue
		}
		o.appendBlock(ctx, *stats)
	}
}

func (o *Oracle) pollLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

func (o *Oracle) poll(ctx context.Context) {
	height, err := o.client.GetBlockHeight(ctx)
	if err != nil {
		o.log.Warn("Failed to fetch block height", zap.Error(err))
		return
	}
	if height == 0 || height == o.CurrentBlockHeight() {
		return
	}

	stats := o.fetchBlockStats(ctx, height)
	if stats == nil {
		return
	}
	o.appendBlock(ctx, *stats)

	metrics.FeePerKB.WithLabelValues(string(o.chain)).Set(float64(o.FeePerKB().Int64()))

	if time.Since(o.lastPrune) >= dbPruneInterval {
		o.lastPrune = time.Now()
		if height > maxDBHistoryBlocks {
			if n, err := o.store.PruneFeeHistory(ctx, o.chain, height-maxDBHistoryBlocks); err != nil {
				o.log.Warn("Failed to prune fee history", zap.Error(err))
			} else if n > 0 {
				o.log.Info("Pruned fee history", zap.Int64("rows", n))
			}
		}
	}
}

// fetchBlockStats reads one block's fee stats and time from the indexer.
// Returns nil when the block's data is unusable (empty deciles, zero fee or
// missing time), matching the rule that only complete observations enter the
// window.
func (o *Oracle) fetchBlockStats(ctx context.Context, height uint64) *BlockStats {
	feeStats, err := o.client.GetFeeStats(ctx, height)
	if err != nil {
		o.log.Warn("Failed to fetch fee stats", zap.Uint64("height", height), zap.Error(err))
		return nil
	}
	block, err := o.client.GetBlock(ctx, height)
	if err != nil {
		o.log.Warn("Failed to fetch block", zap.Uint64("height", height), zap.Error(err))
		return nil
	}

	if len(feeStats.DecilesFeePerKb) != feeDecilesCount || feeStats.AverageFeePerKb <= 0 || block.Time <= 0 {
		return nil
	}

	deciles := make([]*big.Int, 0, len(feeStats.DecilesFeePerKb))
	for _, d := range feeStats.DecilesFeePerKb {
		if d >= 0 {
			deciles = append(deciles, big.NewInt(d))
		}
	}

	return &BlockStats{
		BlockHeight:     height,
		BlockTime:       time.Unix(block.Time, 0),
		AverageFeePerKB: big.NewInt(feeStats.AverageFeePerKb),
		DecilesFeePerKB: deciles,
	}
}

func (o *Oracle) hasBlock(height uint64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, b := range o.history {
		if b.BlockHeight == height {
			return true
		}
	}
	return false
}

// appendBlock adds a block to the window, evicting the oldest past capacity,
// and persists it.
func (o *Oracle) appendBlock(ctx context.Context, stats BlockStats) {
	o.mu.Lock()
	if len(o.history) >= o.historySize {
		o.history = o.history[1:]
	}
	o.history = append(o.history, stats)
	o.recomputeIntervals()
	o.mu.Unlock()

	item := &wallet.FeeHistoryItem{
		ChainType:      o.chain,
		BlockHeight:    stats.BlockHeight,
		AvgFeePerKB:    stats.AverageFeePerKB,
		BlockTimestamp: stats.BlockTime,
	}
	if err := o.store.UpsertFeeHistory(ctx, item); err != nil {
		o.log.Warn("Failed to persist fee history", zap.Uint64("height", stats.BlockHeight), zap.Error(err))
	}
}

// recomputeIntervals refreshes TimeSincePreviousBlock; callers hold the lock.
func (o *Oracle) recomputeIntervals() {
	for i := 1; i < len(o.history); i++ {
		o.history[i].TimeSincePreviousBlock = o.history[i].BlockTime.Sub(o.history[i-1].BlockTime)
	}
}
