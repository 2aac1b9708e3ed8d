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

package api

import (
	"context"
	"fmt"
	"math/big"

	"refund-relay-go/internal/chain"
	"refund-relay-go/internal/refund"
	"refund-relay-go/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

type Provisioner interface {
	Provision(ctx context.Context, x, y *big.Int) (*chain.Provisioned, error)
}

type Watcher interface {
	Ensure(ctx context.Context, session *store.Session) error
}

type Refunder interface {
	Refund(ctx context.Context, req *refund.Request) (common.Hash, error)
}

type NonceReader interface {
	Nonce(ctx context.Context, account common.Address) (uint64, error)
}

type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// RelayServiceConfig contains the collaborators of RelayService
type RelayServiceConfig struct {
	Registry      *store.Registry
	Provisioner   Provisioner
	Watcher       Watcher
	Refunder      Refunder
	Nonces        NonceReader
	Head          HeadReader
	TokenDecimals int32
}

// RelayService orchestrates account creation, deposit reads and refunds
type RelayService struct {
	registry      *store.Registry
	provisioner   Provisioner
	watcher       Watcher
	refunder      Refunder
	nonces        NonceReader
	head          HeadReader
	tokenDecimals int32
}

func NewRelayService(cfg RelayServiceConfig) *RelayService {
	return &RelayService{
		registry:      cfg.Registry,
		provisioner:   cfg.Provisioner,
		watcher:       cfg.Watcher,
		refunder:      cfg.Refunder,
		nonces:        cfg.Nonces,
		head:          cfg.Head,
		tokenDecimals: cfg.TokenDecimals,
	}
}

func (s *RelayService) HealthCheck(ctx context.Context) error {
	if s.head == nil {
		return nil
	}
	if _, err := s.head.BlockNumber(ctx); err != nil {
		return fmt.Errorf("chain health check failed: %w", err)
	}
	return nil
}
