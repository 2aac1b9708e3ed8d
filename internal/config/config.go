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

package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"refund-relay-go/internal/models"

	"github.com/ethereum/go-ethereum/common/math"
)

func Load() (*models.Config, error) {
	rpcTimeout, err := getEnvDuration("RPC_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	receiptPollInterval, err := getEnvDuration("RECEIPT_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}

	receiptTimeout, err := getEnvDuration("RECEIPT_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, err
	}

	fundingAmount, err := getEnvBigInt("FUNDING_AMOUNT", big.NewInt(0))
	if err != nil {
		return nil, err
	}

	pollingInterval, err := getEnvDuration("LISTENER_POLLING_INTERVAL", 4*time.Second)
	if err != nil {
		return nil, err
	}

	backfillBlocks, err := getEnvUint64("BACKFILL_BLOCKS", 5000)
	if err != nil {
		return nil, err
	}

	maxBlockSpan, err := getEnvUint64("MAX_BLOCK_SPAN", 1000)
	if err != nil {
		return nil, err
	}
	if maxBlockSpan == 0 {
		return nil, fmt.Errorf("MAX_BLOCK_SPAN must be positive")
	}

	minDeposit, err := getEnvBigInt("MIN_DEPOSIT", big.NewInt(1_000_000))
	if err != nil {
		return nil, err
	}

	maxDeposits := getEnvInt("MAX_DEPOSITS", 20)
	if maxDeposits <= 0 {
		return nil, fmt.Errorf("MAX_DEPOSITS must be positive, got %d", maxDeposits)
	}

	readTimeout, err := getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	writeTimeout, err := getEnvDuration("SERVER_WRITE_TIMEOUT", 3*time.Minute)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Chain: models.ChainConfig{
			RPCURL:              getEnvString("RPC_URL", "https://sepolia.base.org"),
			NetworkFile:         getEnvString("NETWORK_FILE", "network.yaml"),
			RelayerKey:          os.Getenv("RELAYER_KEY"),
			RPCTimeout:          rpcTimeout,
			ReceiptPollInterval: receiptPollInterval,
			ReceiptTimeout:      receiptTimeout,
			FundingAmount:       fundingAmount,
		},
		Listener: models.ListenerConfig{
			PollingInterval: pollingInterval,
			BackfillBlocks:  backfillBlocks,
			MaxBlockSpan:    maxBlockSpan,
		},
		Refund: models.RefundConfig{
			MinDeposit:  minDeposit,
			MaxDeposits: maxDeposits,
		},
		Server: models.ServerConfig{
			ListenAddr:   getEnvString("LISTEN_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		Database: models.DatabaseConfig{
			Path:         os.Getenv("DATABASE_PATH"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 4),
			PingTimeout:  pingTimeout,
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) (uint64, error) {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid unsigned integer for %s: %q (%w)", key, value, err)
		}
		return parsed, nil
	}
	return defaultValue, nil
}

// getEnvBigInt accepts decimal or 0x-prefixed hex token amounts.
func getEnvBigInt(key string, defaultValue *big.Int) (*big.Int, error) {
	if value := os.Getenv(key); value != "" {
		parsed, ok := math.ParseBig256(value)
		if !ok || parsed.Sign() < 0 {
			return nil, fmt.Errorf("invalid amount for %s: %q", key, value)
		}
		return parsed, nil
	}
	return new(big.Int).Set(defaultValue), nil
}
