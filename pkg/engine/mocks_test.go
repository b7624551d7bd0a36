package engine

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/flarelabs/simple-wallet/pkg/blockbook"
	"github.com/flarelabs/simple-wallet/pkg/wallet"
	"github.com/flarelabs/simple-wallet/pkg/xrp"
)

// memStore is an in-memory UTXOStore with the same semantics as the
// Postgres-backed store, so lifecycle tests can drive full state machine
// paths without a database.
type memStore struct {
	mu      sync.Mutex
	txSeq   int64
	utxoSeq int64
	txs     map[int64]*wallet.TransactionRecord
	utxos   map[int64]*wallet.UTXO
	inputs  map[int64][]int64
	outputs []*wallet.TransactionOutput
}

func newMemStore() *memStore {
	return &memStore{
		txs:    make(map[int64]*wallet.TransactionRecord),
		utxos:  make(map[int64]*wallet.UTXO),
		inputs: make(map[int64][]int64),
	}
}

func cloneRecord(r *wallet.TransactionRecord) *wallet.TransactionRecord {
	c := *r
	c.Amount = wallet.CloneBig(r.Amount)
	c.Fee = wallet.CloneBig(r.Fee)
	c.MaxFee = wallet.CloneBig(r.MaxFee)
	c.Raw = append([]byte(nil), r.Raw...)
	return &c
}

func cloneUTXO(u *wallet.UTXO) *wallet.UTXO {
	c := *u
	c.Value = wallet.CloneBig(u.Value)
	return &c
}

func (s *memStore) CreateTransaction(_ context.Context, rec *wallet.TransactionRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Status == "" {
		rec.Status = wallet.StatusCreated
	}
	s.txSeq++
	rec.ID = s.txSeq
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.txs[rec.ID] = cloneRecord(rec)
	return rec.ID, nil
}

func (s *memStore) FetchTransaction(_ context.Context, id int64) (*wallet.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.txs[id]
	if !ok {
		return nil, wallet.ErrTransactionNotFound
	}
	return cloneRecord(rec), nil
}

func (s *memStore) UpdateTransaction(_ context.Context, id int64, mutate func(*wallet.TransactionRecord) error) (*wallet.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.txs[id]
	if !ok {
		return nil, wallet.ErrTransactionNotFound
	}
	updated := cloneRecord(rec)
	if err := mutate(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now()
	s.txs[id] = cloneRecord(updated)
	return updated, nil
}

func (s *memStore) TransactionsByStatus(_ context.Context, chain wallet.ChainType, status wallet.TransactionStatus) ([]*wallet.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*wallet.TransactionRecord
	for _, rec := range s.txs {
		if rec.ChainType == chain && rec.Status == status {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) HasOpenAccountDelete(_ context.Context, chain wallet.ChainType, source string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.txs {
		if rec.ChainType == chain && rec.Source == source && rec.Amount == nil && !rec.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) TransactionByHash(_ context.Context, chain wallet.ChainType, hash string) (*wallet.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.txs {
		if rec.ChainType == chain && rec.TransactionHash == hash {
			return cloneRecord(rec), nil
		}
	}
	return nil, wallet.ErrTransactionNotFound
}

func (s *memStore) ReplacementTip(ctx context.Context, rec *wallet.TransactionRecord) (*wallet.TransactionRecord, error) {
	tip := rec
	for tip.ReplacedByID != 0 {
		next, err := s.FetchTransaction(ctx, tip.ReplacedByID)
		if err != nil {
			return nil, err
		}
		tip = next
	}
	return tip, nil
}

func (s *memStore) StoreUTXOs(_ context.Context, utxos []*wallet.UTXO) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range utxos {
		if s.findUTXO(u.MintTxHash, u.Position) != nil {
			continue
		}
		if u.SpentState == "" {
			u.SpentState = wallet.SpentStateUnspent
		}
		s.utxoSeq++
		u.ID = s.utxoSeq
		s.utxos[u.ID] = cloneUTXO(u)
	}
	return nil
}

func (s *memStore) findUTXO(mintTxHash string, position uint32) *wallet.UTXO {
	for _, u := range s.utxos {
		if u.MintTxHash == mintTxHash && u.Position == position {
			return u
		}
	}
	return nil
}

func (s *memStore) UnspentUTXOs(_ context.Context, source string, includeSent bool) ([]*wallet.UTXO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*wallet.UTXO
	for _, u := range s.utxos {
		if u.Source != source {
			continue
		}
		if u.SpentState == wallet.SpentStateUnspent || (includeSent && u.SpentState == wallet.SpentStateSent) {
			out = append(out, cloneUTXO(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value.Cmp(out[j].Value) > 0 })
	return out, nil
}

func (s *memStore) UpdateUTXO(_ context.Context, mintTxHash string, position uint32, mutate func(*wallet.UTXO) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findUTXO(mintTxHash, position)
	if u == nil {
		return fmt.Errorf("UTXO %s:%d not found", mintTxHash, position)
	}
	updated := cloneUTXO(u)
	if err := mutate(updated); err != nil {
		return err
	}
	updated.UpdatedAt = time.Now()
	s.utxos[u.ID] = updated
	return nil
}

func (s *memStore) ReserveUTXOs(_ context.Context, txID int64, utxos []*wallet.UTXO) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range utxos {
		s.inputs[txID] = append(s.inputs[txID], u.ID)
	}
	return nil
}

func (s *memStore) ReleaseUTXOs(_ context.Context, txID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inputs, txID)
	return nil
}

func (s *memStore) UTXOsByTransaction(_ context.Context, txID int64) ([]*wallet.UTXO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*wallet.UTXO
	for _, id := range s.inputs[txID] {
		if u, ok := s.utxos[id]; ok {
			out = append(out, cloneUTXO(u))
		}
	}
	return out, nil
}

func (s *memStore) SetTransactionInputStates(_ context.Context, txID int64, state wallet.SpentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.inputs[txID] {
		if u, ok := s.utxos[id]; ok {
			u.SpentState = state
		}
	}
	return nil
}

func (s *memStore) ReconcileUTXOs(ctx context.Context, source string, live []*wallet.UTXO) error {
	known := make(map[string]struct{}, len(live))
	for _, u := range live {
		known[fmt.Sprintf("%s:%d", u.MintTxHash, u.Position)] = struct{}{}
	}
	tracked, err := s.UnspentUTXOs(ctx, source, true)
	if err != nil {
		return err
	}
	for _, u := range tracked {
		if _, ok := known[fmt.Sprintf("%s:%d", u.MintTxHash, u.Position)]; ok {
			continue
		}
		err := s.UpdateUTXO(ctx, u.MintTxHash, u.Position, func(ux *wallet.UTXO) error {
			ux.SpentState = wallet.SpentStateSpent
			return nil
		})
		if err != nil {
			return err
		}
	}
	return s.StoreUTXOs(ctx, live)
}

func (s *memStore) CreateTransactionOutputs(_ context.Context, outputs []*wallet.TransactionOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range outputs {
		c := *out
		c.Value = wallet.CloneBig(out.Value)
		s.outputs = append(s.outputs, &c)
	}
	return nil
}

func (s *memStore) OutputScript(_ context.Context, txHash string, vout uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range s.outputs {
		if out.TransactionHash == txHash && out.Vout == vout {
			return out.Script, nil
		}
	}
	return "", nil
}

func (s *memStore) TransactionDescendants(_ context.Context, txHash, source string) ([]*wallet.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*wallet.TransactionRecord
	frontier := map[string]struct{}{txHash: {}}
	seen := map[string]struct{}{txHash: {}}
	for len(frontier) > 0 {
		next := make(map[string]struct{})
		for id, rec := range s.txs {
			if rec.Source != source {
				continue
			}
			if rec.Status != wallet.StatusSubmitted && rec.Status != wallet.StatusPending {
				continue
			}
			spendsFrontier := false
			for _, utxoID := range s.inputs[id] {
				if u, ok := s.utxos[utxoID]; ok {
					if _, in := frontier[u.MintTxHash]; in {
						spendsFrontier = true
						break
					}
				}
			}
			if !spendsFrontier {
				continue
			}
			if rec.TransactionHash != "" {
				if _, dup := seen[rec.TransactionHash]; dup {
					continue
				}
				seen[rec.TransactionHash] = struct{}{}
				next[rec.TransactionHash] = struct{}{}
			}
			result = append(result, cloneRecord(rec))
		}
		frontier = next
	}
	return result, nil
}

// mockIndexer is a mock implementation of UTXOIndexer.
type mockIndexer struct {
	GetBlockHeightFunc  func(ctx context.Context) (uint64, error)
	GetAddressUTXOsFunc func(ctx context.Context, address string, confirmed bool) ([]blockbook.UTXO, error)
	GetTransactionFunc  func(ctx context.Context, txID string) (*blockbook.Tx, error)
	SendTransactionFunc func(ctx context.Context, rawHex string) (string, error)
}

func (m *mockIndexer) GetBlockHeight(ctx context.Context) (uint64, error) {
	if m.GetBlockHeightFunc != nil {
		return m.GetBlockHeightFunc(ctx)
	}
	return 0, nil
}

func (m *mockIndexer) GetAddressUTXOs(ctx context.Context, address string, confirmed bool) ([]blockbook.UTXO, error) {
	if m.GetAddressUTXOsFunc != nil {
		return m.GetAddressUTXOsFunc(ctx, address, confirmed)
	}
	return nil, nil
}

func (m *mockIndexer) GetTransaction(ctx context.Context, txID string) (*blockbook.Tx, error) {
	if m.GetTransactionFunc != nil {
		return m.GetTransactionFunc(ctx, txID)
	}
	return nil, nil
}

func (m *mockIndexer) SendTransaction(ctx context.Context, rawHex string) (string, error) {
	if m.SendTransactionFunc != nil {
		return m.SendTransactionFunc(ctx, rawHex)
	}
	return "", nil
}

// mockXRPClient is a mock implementation of XRPClient.
type mockXRPClient struct {
	GetLedgerIndexFunc     func(ctx context.Context) (uint64, error)
	GetAccountSequenceFunc func(ctx context.Context, account string) (uint32, error)
	CurrentFeeFunc         func(ctx context.Context, isPayment bool) (*big.Int, error)
	SubmitFunc             func(ctx context.Context, blob []byte) (*xrp.SubmitResult, error)
	GetTransactionFunc     func(ctx context.Context, txHash string) (*xrp.TxResult, error)
}

func (m *mockXRPClient) GetLedgerIndex(ctx context.Context) (uint64, error) {
	if m.GetLedgerIndexFunc != nil {
		return m.GetLedgerIndexFunc(ctx)
	}
	return 0, nil
}

func (m *mockXRPClient) GetAccountSequence(ctx context.Context, account string) (uint32, error) {
	if m.GetAccountSequenceFunc != nil {
		return m.GetAccountSequenceFunc(ctx, account)
	}
	return 0, nil
}

func (m *mockXRPClient) CurrentFee(ctx context.Context, isPayment bool) (*big.Int, error) {
	if m.CurrentFeeFunc != nil {
		return m.CurrentFeeFunc(ctx, isPayment)
	}
	return big.NewInt(10), nil
}

func (m *mockXRPClient) Submit(ctx context.Context, blob []byte) (*xrp.SubmitResult, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, blob)
	}
	return &xrp.SubmitResult{EngineResult: "tesSUCCESS"}, nil
}

func (m *mockXRPClient) GetTransaction(ctx context.Context, txHash string) (*xrp.TxResult, error) {
	if m.GetTransactionFunc != nil {
		return m.GetTransactionFunc(ctx, txHash)
	}
	return nil, &xrp.RPCError{Code: "txnNotFound"}
}

// mockFeeSource is a fixed-value FeeSource.
type mockFeeSource struct {
	feePerKB  *big.Int
	blockTime time.Duration
	height    uint64
}

func (m *mockFeeSource) FeePerKB() *big.Int {
	if m.feePerKB != nil {
		return m.feePerKB
	}
	return big.NewInt(100_000)
}

func (m *mockFeeSource) AvgBlockTime() time.Duration {
	if m.blockTime > 0 {
		return m.blockTime
	}
	return 10 * time.Minute
}

func (m *mockFeeSource) CurrentBlockHeight() uint64 {
	return m.height
}
