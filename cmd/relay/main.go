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
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"refund-relay-go/internal/api"
	"refund-relay-go/internal/chain"
	"refund-relay-go/internal/common"
	"refund-relay-go/internal/config"
	"refund-relay-go/internal/listener"
	"refund-relay-go/internal/metrics"
	"refund-relay-go/internal/refund"
	"refund-relay-go/internal/store"

	"go.uber.org/zap"
)

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting refund relay")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	network := services.Network
	relayMetrics := metrics.Relay()

	registry := store.NewRegistry(store.LedgerPolicy{
		MinDeposit:  cfg.Refund.MinDeposit,
		MaxDeposits: cfg.Refund.MaxDeposits,
	})

	fetcher := chain.NewLogFetcher(services.Chain, network.TokenAddress(), cfg.Listener.MaxBlockSpan, cfg.Chain.RPCTimeout)
	watcher := listener.NewDepositWatcher(listener.DepositWatcherConfig{
		Client:          services.Chain,
		Fetcher:         fetcher,
		PollingInterval: cfg.Listener.PollingInterval,
		BackfillBlocks:  cfg.Listener.BackfillBlocks,
		RPCTimeout:      cfg.Chain.RPCTimeout,
		Metrics:         relayMetrics,
	})

	beneficiary := network.BeneficiaryAddress(services.Chain.Relayer())
	submitter := chain.NewSubmitter(services.Chain, network.EntryPointAddress(), beneficiary, cfg.Chain.ReceiptTimeout)
	provisioner := chain.NewProvisioner(services.Chain, network.FactoryAddress(), cfg.Chain.FundingAmount, cfg.Chain.ReceiptTimeout)

	validatorCfg := refund.ValidatorConfig{
		Registry:  registry,
		Token:     network.TokenAddress(),
		Submitter: submitter,
		Metrics:   relayMetrics,
	}
	if services.Journal != nil {
		validatorCfg.Journal = services.Journal
	}
	validator := refund.NewValidator(validatorCfg)

	relay := api.NewRelayService(api.RelayServiceConfig{
		Registry:      registry,
		Provisioner:   provisioner,
		Watcher:       watcher,
		Refunder:      validator,
		Nonces:        submitter,
		Head:          services.Chain,
		TokenDecimals: network.Token.Decimals,
	})

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      api.NewRouter(relay),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		zap.L().Info("HTTP server listening",
			zap.String("addr", cfg.Server.ListenAddr),
			zap.String("token", network.Token.Symbol),
			zap.String("entry_point", submitter.EntryPoint().Hex()),
			zap.String("beneficiary", beneficiary.Hex()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		zap.L().Info("Shutdown signal received, stopping relay...")
	case err := <-serverErr:
		zap.L().Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("HTTP server did not shut down cleanly", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		watcher.StopAll(registry.List())
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("All watchers stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
