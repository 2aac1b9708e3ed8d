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
	"math/big"
	"sort"

	"refund-relay-go/internal/chain"
	"refund-relay-go/internal/models"
	"refund-relay-go/internal/store"

	"go.uber.org/zap"
)

// startBlock returns the first block to scan: one past the cursor, or the
// backfill window below head for a session that has never synced.
func (w *DepositWatcher) startBlock(session *store.Session, head uint64) uint64 {
	if cursor, ok := session.LastSyncedBlock(); ok {
		return cursor + 1
	}
	if head < w.backfillBlocks {
		return 0
	}
	return head - w.backfillBlocks
}

// sync fetches transfers into the session from its start block to head and
// merges them. The session is only touched after every remote call has
// succeeded, so a failure leaves the ledger and cursor as they were.
func (w *DepositWatcher) sync(ctx context.Context, session *store.Session) error {
	head, err := w.blockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get head block: %w", err)
	}

	from := w.startBlock(session, head)
	if from > head {
		return nil
	}

	transfers, err := w.fetcher.FetchTransfers(ctx, session.Address(), from, head)
	if err != nil {
		return err
	}

	records, err := w.toRecords(ctx, transfers)
	if err != nil {
		return err
	}

	syncedTo := head
	for _, rec := range records {
		if rec.BlockNumber > syncedTo {
			syncedTo = rec.BlockNumber
		}
	}

	added := session.Merge(records, syncedTo)
	for _, rec := range added {
		w.metrics.ObserveDeposit(rec.Ready)
		zap.L().Info("Deposit recorded",
			zap.String("account", session.Address().Hex()),
			zap.String("sender", rec.Sender.Hex()),
			zap.String("amount", rec.Amount.String()),
			zap.String("tx_hash", rec.TxHash.Hex()),
			zap.Uint("log_index", rec.LogIndex),
			zap.Bool("ready", rec.Ready))
	}
	w.metrics.ObserveSyncedBlock(syncedTo)

	zap.L().Debug("Deposits synced",
		zap.String("account", session.Address().Hex()),
		zap.Uint64("from", from),
		zap.Uint64("to", head),
		zap.Int("transfers", len(transfers)),
		zap.Int("new", len(added)))

	return nil
}

// toRecords converts transfers to ledger records in (block, log index)
// order. Each block's timestamp is fetched once per batch.
func (w *DepositWatcher) toRecords(ctx context.Context, transfers []chain.TransferLog) ([]models.DepositRecord, error) {
	sorted := make([]chain.TransferLog, len(transfers))
	copy(sorted, transfers)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].BlockNumber != sorted[j].BlockNumber {
			return sorted[i].BlockNumber < sorted[j].BlockNumber
		}
		return sorted[i].LogIndex < sorted[j].LogIndex
	})

	timestamps := make(map[uint64]uint64)
	records := make([]models.DepositRecord, 0, len(sorted))
	for _, tr := range sorted {
		ts, ok := timestamps[tr.BlockNumber]
		if !ok {
			var err error
			ts, err = w.blockTime(ctx, tr.BlockNumber)
			if err != nil {
				return nil, fmt.Errorf("failed to get timestamp of block %d: %w", tr.BlockNumber, err)
			}
			timestamps[tr.BlockNumber] = ts
		}

		records = append(records, models.DepositRecord{
			Sender:         tr.From,
			Amount:         tr.Value,
			TxHash:         tr.TxHash,
			LogIndex:       tr.LogIndex,
			BlockNumber:    tr.BlockNumber,
			BlockTimestamp: ts,
		})
	}
	return records, nil
}

func (w *DepositWatcher) blockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()
	return w.client.BlockNumber(ctx)
}

func (w *DepositWatcher) blockTime(ctx context.Context, number uint64) (uint64, error) {
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()
	header, err := w.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

func (w *DepositWatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.rpcTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.rpcTimeout)
}
