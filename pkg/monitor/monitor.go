// Package monitor drives transaction progress for one chain. A monitor
// acquires a database lease so that only one process advances a chain's
// transactions at a time, then repeatedly scans the store for actionable
// records and hands each one to the lifecycle engine.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flarelabs/simple-wallet/internal/metrics"
	"github.com/flarelabs/simple-wallet/pkg/engine"
	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// ErrLeaseHeld is returned from Start when another live process owns the
// chain's monitoring lease.
var ErrLeaseHeld = errors.New("monitoring lease held by another process")

// passOrder is the per-pass processing order. Stuck and uncertain records go
// first so fee bumps and retries are not starved by a backlog of new ones.
var passOrder = []wallet.TransactionStatus{
	wallet.StatusPrepared,
	wallet.StatusSubmissionFailed,
	wallet.StatusPending,
	wallet.StatusCreated,
	wallet.StatusSubmitted,
}

// Store is the slice of the persistent store the monitor needs: the lease
// row and status scans.
type Store interface {
	FetchMonitoringState(ctx context.Context, chain wallet.ChainType) (*wallet.MonitoringState, error)
	UpsertMonitoringState(ctx context.Context, st *wallet.MonitoringState) error
	UpdateMonitoringState(ctx context.Context, chain wallet.ChainType, mutate func(*wallet.MonitoringState) error) error
	TransactionsByStatus(ctx context.Context, chain wallet.ChainType, status wallet.TransactionStatus) ([]*wallet.TransactionRecord, error)
}

// Monitor is the per-chain polling loop. One Monitor instance serves one
// chain; separate chains run separate monitors concurrently.
type Monitor struct {
	chain  wallet.ChainType
	engine engine.WalletEngine
	store  Store
	log    *zap.Logger
	owner  string

	passInterval    time.Duration
	pingInterval    time.Duration
	leaseExpiration time.Duration
	claimJitterMax  time.Duration
	restartDelay    time.Duration

	mu           sync.Mutex
	running      bool
	stopOnce     *sync.Once
	teardownOnce *sync.Once
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// New builds a monitor with a fresh lease-owner id and the chain's default
// timing parameters.
func New(eng engine.WalletEngine, store Store, log *zap.Logger) *Monitor {
	chain := eng.ChainType()
	return &Monitor{
		chain:           chain,
		engine:          eng,
		store:           store,
		log:             log.With(zap.String("chain", string(chain))),
		owner:           uuid.NewString(),
		passInterval:    wallet.MonitorPassInterval,
		pingInterval:    wallet.PingInterval,
		leaseExpiration: wallet.LeaseExpiration,
		claimJitterMax:  wallet.ClaimJitterMax,
		restartDelay:    wallet.RestartAfterError,
	}
}

// Running reports whether the polling loop is live.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start claims the chain's lease and launches the heartbeat and polling
// goroutines. Returns ErrLeaseHeld when another live process owns the lease.
// Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.stopCh = make(chan struct{})
	m.stopOnce = new(sync.Once)
	m.teardownOnce = new(sync.Once)
	m.mu.Unlock()

	claimed, err := m.claimLease(ctx)
	if err != nil {
		return fmt.Errorf("failed to claim monitoring lease: %w", err)
	}
	if !claimed {
		return ErrLeaseHeld
	}

	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	metrics.MonitoringLeaseHeld.WithLabelValues(string(m.chain)).Set(1)
	m.log.Info("monitoring started", zap.String("owner", m.owner))

	m.wg.Add(2)
	go m.heartbeat(ctx)
	go m.run(ctx)
	go func() {
		// Internal shutdowns (heartbeat loss, context cancellation) get the
		// same teardown Stop performs.
		m.wg.Wait()
		m.teardown(context.Background())
	}()
	return nil
}

// Stop flips the stop flag, waits for the in-flight pass to finish and
// releases the lease. Idempotent.
func (m *Monitor) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.requestStop()
	m.wg.Wait()
	m.teardown(ctx)
}

func (m *Monitor) requestStop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// teardown releases the lease and clears the running flag exactly once per
// Start. Concurrent callers block until the first finishes.
func (m *Monitor) teardown(ctx context.Context) {
	m.teardownOnce.Do(func() {
		m.releaseLease(ctx)
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		m.log.Info("monitoring stopped")
	})
}

// claimLease implements the double-check claim: write our owner id, wait out
// a buffer plus random jitter so a simultaneous claimant's write becomes
// visible, then re-read and confirm the row still names us.
func (m *Monitor) claimLease(ctx context.Context) (bool, error) {
	st, err := m.store.FetchMonitoringState(ctx, m.chain)
	if err != nil {
		return false, err
	}
	if st != nil && st.ProcessOwner != m.owner && time.Since(st.LastPingAt) < m.leaseExpiration {
		m.log.Info("lease held by another process",
			zap.String("owner", st.ProcessOwner),
			zap.Time("last_ping", st.LastPingAt))
		return false, nil
	}

	claim := &wallet.MonitoringState{
		ChainType:    m.chain,
		LastPingAt:   time.Now(),
		ProcessOwner: m.owner,
	}
	if err := m.store.UpsertMonitoringState(ctx, claim); err != nil {
		return false, err
	}

	jitter := time.Duration(rand.Int63n(int64(m.claimJitterMax) + 1))
	if !m.sleep(ctx, m.pingInterval+jitter) {
		return false, ctx.Err()
	}

	st, err = m.store.FetchMonitoringState(ctx, m.chain)
	if err != nil {
		return false, err
	}
	if st == nil || st.ProcessOwner != m.owner {
		m.log.Info("lost simultaneous lease claim")
		return false, nil
	}
	return true, nil
}

// heartbeat renews the lease every ping interval. A store failure means the
// lease can no longer be defended, so the whole monitor shuts down.
func (m *Monitor) heartbeat(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := m.store.UpdateMonitoringState(ctx, m.chain, func(st *wallet.MonitoringState) error {
			if st.ProcessOwner != m.owner {
				return fmt.Errorf("lease taken over by %s", st.ProcessOwner)
			}
			st.LastPingAt = time.Now()
			return nil
		})
		if err != nil {
			m.log.Error("heartbeat failed, stopping monitor", zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues("monitor", "heartbeat").Inc()
			m.requestStop()
			return
		}
	}
}

// run is the polling loop. Pass errors and panics never escape: they are
// logged and the loop continues after the restart delay.
func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := m.pass(ctx); err != nil {
			m.log.Error("monitoring pass failed", zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues("monitor", "pass").Inc()
			if !m.sleep(ctx, m.restartDelay) {
				return
			}
			continue
		}
		metrics.MonitoringPasses.WithLabelValues(string(m.chain)).Inc()

		if !m.sleep(ctx, m.passInterval) {
			return
		}
	}
}

// pass scans each actionable status in order and processes records
// sequentially, which keeps the chain's UTXO selection and sequence
// assignment race-free. A per-record engine error is logged and the pass
// moves on; a store scan error aborts the pass.
func (m *Monitor) pass(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitoring pass panicked: %v", r)
		}
	}()

	for _, status := range passOrder {
		records, err := m.store.TransactionsByStatus(ctx, m.chain, status)
		if err != nil {
			return fmt.Errorf("failed to list %s transactions: %w", status, err)
		}
		for _, rec := range records {
			if stopped := m.stopRequested(ctx); stopped {
				return nil
			}
			if err := m.process(ctx, status, rec); err != nil {
				m.log.Warn("failed to process transaction",
					zap.Int64("id", rec.ID),
					zap.String("status", string(status)),
					zap.Error(err))
				metrics.ErrorsTotal.WithLabelValues("monitor", "process").Inc()
			}
		}
	}
	return nil
}

func (m *Monitor) process(ctx context.Context, status wallet.TransactionStatus, rec *wallet.TransactionRecord) error {
	switch status {
	case wallet.StatusCreated:
		return m.engine.ProcessCreated(ctx, rec)
	case wallet.StatusPrepared:
		return m.engine.ProcessPrepared(ctx, rec)
	case wallet.StatusSubmitted:
		return m.engine.ProcessSubmitted(ctx, rec)
	case wallet.StatusSubmissionFailed:
		return m.engine.ProcessSubmissionFailed(ctx, rec)
	case wallet.StatusPending:
		return m.engine.ProcessPending(ctx, rec)
	default:
		return fmt.Errorf("no processor for status %s", status)
	}
}

// releaseLease clears the owner so another process can claim immediately
// instead of waiting out the staleness window.
func (m *Monitor) releaseLease(ctx context.Context) {
	err := m.store.UpdateMonitoringState(ctx, m.chain, func(st *wallet.MonitoringState) error {
		if st.ProcessOwner != m.owner {
			return nil
		}
		st.ProcessOwner = ""
		return nil
	})
	if err != nil {
		m.log.Warn("failed to release monitoring lease", zap.Error(err))
	}
	metrics.MonitoringLeaseHeld.WithLabelValues(string(m.chain)).Set(0)
}

func (m *Monitor) stopRequested(ctx context.Context) bool {
	select {
	case <-m.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// sleep waits for d unless stopped or cancelled first. Reports whether the
// full duration elapsed.
func (m *Monitor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-m.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
