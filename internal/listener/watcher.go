/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"refund-relay-go/internal/chain"
	"refund-relay-go/internal/metrics"
	"refund-relay-go/internal/models"
	"refund-relay-go/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	DefaultPollingInterval = 4 * time.Second
	DefaultBackfillBlocks  = 5000
)

// DepositWatcherConfig contains configuration for DepositWatcher
type DepositWatcherConfig struct {
	Client          chain.Client
	Fetcher         *chain.LogFetcher
	PollingInterval time.Duration
	BackfillBlocks  uint64
	RPCTimeout      time.Duration
	Metrics         *metrics.RelayMetrics
}

// DepositWatcher keeps each session's deposit ledger in step with the chain.
// A session is backfilled once, then polled by its own goroutine until a
// poll fails or the watcher is stopped.
type DepositWatcher struct {
	client          chain.Client
	fetcher         *chain.LogFetcher
	pollingInterval time.Duration
	backfillBlocks  uint64
	rpcTimeout      time.Duration
	metrics         *metrics.RelayMetrics

	// Poll goroutines outlive the request that started them.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mutex     sync.Mutex
	syncLocks map[common.Address]*sync.Mutex
}

// NewDepositWatcher creates a new deposit watcher
func NewDepositWatcher(cfg DepositWatcherConfig) *DepositWatcher {
	pollingInterval := cfg.PollingInterval
	if pollingInterval <= 0 {
		pollingInterval = DefaultPollingInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DepositWatcher{
		client:          cfg.Client,
		fetcher:         cfg.Fetcher,
		pollingInterval: pollingInterval,
		backfillBlocks:  cfg.BackfillBlocks,
		rpcTimeout:      cfg.RPCTimeout,
		metrics:         cfg.Metrics,
		baseCtx:         ctx,
		cancel:          cancel,
		syncLocks:       make(map[common.Address]*sync.Mutex),
	}
}

// pollHandle is the store.WatcherHandle of a running poll goroutine.
type pollHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the poll loop without waiting for it; a cycle already in
// flight may still merge its results.
func (h *pollHandle) Stop() {
	h.cancel()
}

func (w *DepositWatcher) syncLock(address common.Address) *sync.Mutex {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	lock, ok := w.syncLocks[address]
	if !ok {
		lock = &sync.Mutex{}
		w.syncLocks[address] = lock
	}
	return lock
}

// Ensure brings the session's ledger up to the current head. A live session
// gets a catch-up sync; an idle or failed one is backfilled and gets a new
// poll loop. Concurrent calls for one session are serialized.
func (w *DepositWatcher) Ensure(ctx context.Context, session *store.Session) error {
	if err := w.baseCtx.Err(); err != nil {
		return fmt.Errorf("deposit watcher closed: %w", err)
	}

	lock := w.syncLock(session.Address())
	lock.Lock()
	defer lock.Unlock()

	if session.WatcherState() == models.WatcherLive {
		err := w.sync(ctx, session)
		w.metrics.ObservePoll("catch_up", err)
		if err != nil {
			return fmt.Errorf("failed to catch up deposits: %w", err)
		}
		return nil
	}

	session.SetWatcherState(models.WatcherBackfilling)
	zap.L().Info("Backfilling deposits",
		zap.String("account", session.Address().Hex()))

	err := w.sync(ctx, session)
	w.metrics.ObservePoll("backfill", err)
	if err != nil {
		session.SetWatcherState(models.WatcherError)
		zap.L().Error("Deposit backfill failed",
			zap.String("account", session.Address().Hex()),
			zap.Error(err))
		return fmt.Errorf("failed to backfill deposits: %w", err)
	}

	w.start(session)
	return nil
}

func (w *DepositWatcher) start(session *store.Session) {
	ctx, cancel := context.WithCancel(w.baseCtx)
	handle := &pollHandle{cancel: cancel, done: make(chan struct{})}

	session.AttachWatcher(handle)
	session.SetWatcherState(models.WatcherLive)
	w.metrics.WatcherStarted()

	w.wg.Add(1)
	go w.pollLoop(ctx, session, handle)

	cursor, _ := session.LastSyncedBlock()
	zap.L().Info("Deposit watcher live",
		zap.String("account", session.Address().Hex()),
		zap.Uint64("last_synced_block", cursor),
		zap.Duration("polling_interval", w.pollingInterval))
}

// pollLoop runs one session's polling loop
func (w *DepositWatcher) pollLoop(ctx context.Context, session *store.Session, handle *pollHandle) {
	defer w.wg.Done()
	defer close(handle.done)
	defer w.metrics.WatcherStopped()

	ticker := time.NewTicker(w.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := w.poll(ctx, session); err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.L().Error("Deposit poll failed, watcher stopped",
				zap.String("account", session.Address().Hex()),
				zap.Error(err))
			if session.DetachWatcher(handle) {
				session.SetWatcherState(models.WatcherError)
			}
			handle.cancel()
			return
		}
	}
}

func (w *DepositWatcher) poll(ctx context.Context, session *store.Session) error {
	lock := w.syncLock(session.Address())
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	err := w.sync(ctx, session)
	w.metrics.ObservePoll("poll", err)
	return err
}

// StopAll stops every session's poll loop and waits for them to exit.
func (w *DepositWatcher) StopAll(sessions []*store.Session) {
	zap.L().Info("Stopping deposit watchers", zap.Int("sessions", len(sessions)))
	for _, session := range sessions {
		session.StopWatcher()
	}
	w.cancel()
	w.wg.Wait()
	zap.L().Info("Deposit watchers stopped")
}
