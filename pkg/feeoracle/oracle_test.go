package feeoracle

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flarelabs/simple-wallet/pkg/blockbook"
	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

type mockIndexer struct {
	getBlockHeightFunc func(ctx context.Context) (uint64, error)
	getFeeStatsFunc    func(ctx context.Context, h uint64) (*blockbook.FeeStats, error)
	getBlockFunc       func(ctx context.Context, h uint64) (*blockbook.Block, error)
}

func (m *mockIndexer) GetBlockHeight(ctx context.Context) (uint64, error) {
	return m.getBlockHeightFunc(ctx)
}

func (m *mockIndexer) GetFeeStats(ctx context.Context, h uint64) (*blockbook.FeeStats, error) {
	return m.getFeeStatsFunc(ctx, h)
}

func (m *mockIndexer) GetBlock(ctx context.Context, h uint64) (*blockbook.Block, error) {
	return m.getBlockFunc(ctx, h)
}

type mockHistoryStore struct {
	mu     sync.Mutex
	items  map[uint64]*wallet.FeeHistoryItem
	seed   []*wallet.FeeHistoryItem
	pruned uint64
}

func newMockHistoryStore() *mockHistoryStore {
	return &mockHistoryStore{items: make(map[uint64]*wallet.FeeHistoryItem)}
}

func (m *mockHistoryStore) UpsertFeeHistory(ctx context.Context, item *wallet.FeeHistoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.BlockHeight] = item
	return nil
}

func (m *mockHistoryStore) FeeHistory(ctx context.Context, chain wallet.ChainType, limit int) ([]*wallet.FeeHistoryItem, error) {
	return m.seed, nil
}

func (m *mockHistoryStore) PruneFeeHistory(ctx context.Context, chain wallet.ChainType, belowHeight uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned = belowHeight
	return 3, nil
}

func healthyIndexer(height uint64, feePerKB int64) *mockIndexer {
	deciles := make([]int64, 11)
	return &mockIndexer{
		getBlockHeightFunc: func(ctx context.Context) (uint64, error) { return height, nil },
		getFeeStatsFunc: func(ctx context.Context, h uint64) (*blockbook.FeeStats, error) {
			return &blockbook.FeeStats{AverageFeePerKb: feePerKB + int64(h), DecilesFeePerKb: deciles}, nil
		},
		getBlockFunc: func(ctx context.Context, h uint64) (*blockbook.Block, error) {
			return &blockbook.Block{Height: h, Time: 1_700_000_000 + int64(h)*600}, nil
		},
	}
}

func newOracle(client indexer, store historyStore, size int) *Oracle {
	return New(wallet.ChainBTC, client, store, size, time.Hour, zap.NewNop())
}

func TestSetupHistoryFillsWindow(t *testing.T) {
	store := newMockHistoryStore()
	o := newOracle(healthyIndexer(100, 1000), store, 3)

	o.setupHistory(context.Background())

	assert.Equal(t, uint64(100), o.CurrentBlockHeight())
	stats := o.LatestFeeStats()
	assert.Equal(t, big.NewInt(1100), stats.AverageFeePerKB)
	// blocks 98, 99, 100 all persisted
	assert.Len(t, store.items, 3)
}

func TestLatestFeeStats_WeightedAverage(t *testing.T) {
	o := newOracle(nil, newMockHistoryStore(), 3)
	o.history = []BlockStats{
		{BlockHeight: 1, AverageFeePerKB: big.NewInt(100)},
		{BlockHeight: 2, AverageFeePerKB: big.NewInt(200)},
		{BlockHeight: 3, AverageFeePerKB: big.NewInt(400)},
	}

	stats := o.LatestFeeStats()
	assert.Equal(t, big.NewInt(400), stats.AverageFeePerKB)
	// weights 3,2,1 oldest to newest: (100*3 + 200*2 + 400*1) / 6 = 183
	assert.Equal(t, big.NewInt(183), stats.MovingAverageWeightedFee)
}

func TestFeePerKB_FallsBackToDefault(t *testing.T) {
	o := newOracle(nil, newMockHistoryStore(), 3)
	assert.Equal(t, wallet.DefaultFeePerKB(wallet.ChainBTC), o.FeePerKB())
}

func TestAvgBlockTime(t *testing.T) {
	o := newOracle(nil, newMockHistoryStore(), 5)

	// no history: nominal chain cadence
	assert.Equal(t, wallet.AverageBlockTime(wallet.ChainBTC), o.AvgBlockTime())

	base := time.Unix(1_700_000_000, 0)
	o.history = []BlockStats{
		{BlockHeight: 1, BlockTime: base, AverageFeePerKB: big.NewInt(1)},
		{BlockHeight: 2, BlockTime: base.Add(8 * time.Minute), AverageFeePerKB: big.NewInt(1)},
		{BlockHeight: 3, BlockTime: base.Add(20 * time.Minute), AverageFeePerKB: big.NewInt(1)},
	}
	o.recomputeIntervals()
	assert.Equal(t, 10*time.Minute, o.AvgBlockTime())
}

func TestSeedFromStore_ConsecutiveRunOnly(t *testing.T) {
	store := newMockHistoryStore()
	// newest first, with a gap between 99 and 96
	store.seed = []*wallet.FeeHistoryItem{
		{ChainType: wallet.ChainBTC, BlockHeight: 100, AvgFeePerKB: big.NewInt(500), BlockTimestamp: time.Unix(1000, 0)},
		{ChainType: wallet.ChainBTC, BlockHeight: 99, AvgFeePerKB: big.NewInt(400), BlockTimestamp: time.Unix(400, 0)},
		{ChainType: wallet.ChainBTC, BlockHeight: 96, AvgFeePerKB: big.NewInt(300), BlockTimestamp: time.Unix(100, 0)},
	}
	o := newOracle(nil, store, 5)

	o.seedFromStore(context.Background())

	assert.Equal(t, uint64(100), o.CurrentBlockHeight())
	o.mu.RLock()
	defer o.mu.RUnlock()
	require.Len(t, o.history, 2, "the row behind the gap must be dropped")
	assert.Equal(t, uint64(99), o.history[0].BlockHeight)
}

func TestPollAppendsAndEvicts(t *testing.T) {
	store := newMockHistoryStore()
	o := newOracle(healthyIndexer(100, 1000), store, 3)
	o.setupHistory(context.Background())
	require.Equal(t, uint64(100), o.CurrentBlockHeight())

	o.client = healthyIndexer(101, 1000)
	o.poll(context.Background())

	assert.Equal(t, uint64(101), o.CurrentBlockHeight())
	o.mu.RLock()
	assert.Len(t, o.history, 3, "window stays at capacity")
	assert.Equal(t, uint64(99), o.history[0].BlockHeight)
	o.mu.RUnlock()

	// same height again is a no-op
	o.poll(context.Background())
	assert.Equal(t, uint64(101), o.CurrentBlockHeight())
}

func TestPollPrunesOldRows(t *testing.T) {
	store := newMockHistoryStore()
	o := newOracle(healthyIndexer(5000, 1000), store, 2)
	o.setupHistory(context.Background())

	o.client = healthyIndexer(5001, 1000)
	o.lastPrune = time.Now().Add(-2 * dbPruneInterval)
	o.poll(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, uint64(5001-maxDBHistoryBlocks), store.pruned)
}

func TestIncompleteObservationsAreSkipped(t *testing.T) {
	store := newMockHistoryStore()
	client := healthyIndexer(50, 1000)
	client.getFeeStatsFunc = func(ctx context.Context, h uint64) (*blockbook.FeeStats, error) {
		// empty deciles: pruned node without fee index
		return &blockbook.FeeStats{AverageFeePerKb: 1000}, nil
	}
	o := newOracle(client, store, 3)

	o.setupHistory(context.Background())
	assert.Equal(t, uint64(0), o.CurrentBlockHeight())
	assert.Empty(t, store.items)
}

func TestStartStop(t *testing.T) {
	store := newMockHistoryStore()
	o := New(wallet.ChainBTC, healthyIndexer(10, 100), store, 2, 10*time.Millisecond, zap.NewNop())

	require.NoError(t, o.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	o.Stop()
	o.Stop() // idempotent
}
