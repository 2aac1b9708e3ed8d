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

package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"refund-relay-go/internal/chain"
	"refund-relay-go/internal/common"
	"refund-relay-go/internal/config"
	"refund-relay-go/internal/database"
	"refund-relay-go/internal/listener"
	"refund-relay-go/internal/models"
	"refund-relay-go/internal/store"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

func printDeposit(d models.DepositRecord, attempts []models.RefundAttempt, decimals int32, symbol string, isLast bool) {
	status := "pending"
	switch {
	case d.Refunded:
		status = "refunded"
	case d.Ready:
		status = "ready"
	}

	fmt.Printf("%s %20s %-6s from %s  [%s]\n",
		common.BoxPrefix(isLast),
		common.FormatTokenAmount(d.Amount, decimals),
		symbol,
		common.ShortHex(d.Sender.Hex()),
		status)
	fmt.Printf("%s   block %d at %s, tx %s:%d\n",
		common.BoxDetailPrefix(isLast),
		d.BlockNumber,
		time.Unix(int64(d.BlockTimestamp), 0).UTC().Format("2006-01-02 15:04:05"),
		common.ShortHex(d.TxHash.Hex()),
		d.LogIndex)
	if len(attempts) > 0 {
		last := attempts[len(attempts)-1]
		fmt.Printf("%s   %d refund attempt(s), last %s at %s\n",
			common.BoxDetailPrefix(isLast),
			len(attempts),
			last.Outcome,
			last.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}

func printAttempts(attempts []models.RefundAttempt) {
	fmt.Printf("\n┌─ Refund attempts: %d\n", len(attempts))
	common.PrintBoxSeparator(common.DefaultWidth - 2)
	for i, a := range attempts {
		isLast := i == len(attempts)-1
		tx := a.SettlementTx
		if tx == "" {
			tx = "none"
		}
		fmt.Printf("%s %-18s %s deposit %s:%d tx %s\n",
			common.BoxPrefix(isLast),
			a.Outcome,
			a.CreatedAt.Format("2006-01-02 15:04:05"),
			common.ShortHex(a.DepositTx),
			a.LogIndex,
			common.ShortHex(tx))
	}
}

func main() {
	addressFlag := flag.String("address", "", "Account address to report on (required)")
	attemptsFlag := flag.Int("attempts", 10, "Number of journaled refund attempts to show")
	flag.Parse()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	if !ethcommon.IsHexAddress(*addressFlag) {
		logger.Fatal("A valid --address is required", zap.String("address", *addressFlag))
	}
	account := ethcommon.HexToAddress(*addressFlag)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx := context.Background()
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	registry := store.NewRegistry(store.LedgerPolicy{
		MinDeposit:  cfg.Refund.MinDeposit,
		MaxDeposits: cfg.Refund.MaxDeposits,
	})
	session := registry.Upsert(account, "report")

	network := services.Network
	watcher := listener.NewDepositWatcher(listener.DepositWatcherConfig{
		Client:         services.Chain,
		Fetcher:        chain.NewLogFetcher(services.Chain, network.TokenAddress(), cfg.Listener.MaxBlockSpan, cfg.Chain.RPCTimeout),
		BackfillBlocks: cfg.Listener.BackfillBlocks,
		RPCTimeout:     cfg.Chain.RPCTimeout,
	})

	logger.Info("Backfilling deposits",
		zap.String("account", account.Hex()),
		zap.Uint64("backfill_blocks", cfg.Listener.BackfillBlocks))
	err = watcher.Ensure(ctx, session)
	watcher.StopAll(registry.List())
	if err != nil {
		logger.Fatal("Failed to backfill deposits", zap.Error(err))
	}

	snapshot := session.Snapshot()
	common.PrintHeader(fmt.Sprintf("DEPOSIT REPORT: %s", account.Hex()), common.WideWidth)

	ready := 0
	for i, d := range snapshot.Deposits {
		if d.Ready && !d.Refunded {
			ready++
		}
		attempts := depositAttempts(ctx, services.Journal, d, logger)
		printDeposit(d, attempts, network.Token.Decimals, network.Token.Symbol, i == len(snapshot.Deposits)-1)
	}

	if services.Journal != nil {
		reportAttempts(ctx, services.Journal, account, *attemptsFlag, logger)
	}

	var syncedTo uint64
	if snapshot.LastSyncedBlock != nil {
		syncedTo = *snapshot.LastSyncedBlock
	}
	summary := fmt.Sprintf("SUMMARY: %d deposits, %d ready for refund (synced to block %d)",
		len(snapshot.Deposits), ready, syncedTo)
	common.PrintFooter(summary, common.WideWidth)
}

// depositAttempts returns the journaled attempts against d, oldest first.
func depositAttempts(ctx context.Context, journal *database.Service, d models.DepositRecord, logger *zap.Logger) []models.RefundAttempt {
	if journal == nil {
		return nil
	}
	attempts, err := journal.DepositAttempts(ctx, d.TxHash.Hex(), d.LogIndex)
	if err != nil {
		logger.Warn("Failed to list deposit attempts",
			zap.String("tx_hash", d.TxHash.Hex()),
			zap.Error(err))
		return nil
	}
	return attempts
}

func reportAttempts(ctx context.Context, journal *database.Service, account ethcommon.Address, limit int, logger *zap.Logger) {
	attempts, err := journal.ListAttempts(ctx, account.Hex(), limit)
	if err != nil {
		logger.Error("Failed to list refund attempts", zap.Error(err))
		return
	}
	printAttempts(attempts)
}
