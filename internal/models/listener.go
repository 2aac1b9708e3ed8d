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

package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WatcherState is the lifecycle state of a per-account deposit watcher
type WatcherState string

const (
	WatcherIdle        WatcherState = "idle"
	WatcherBackfilling WatcherState = "backfilling"
	WatcherLive        WatcherState = "live"
	WatcherError       WatcherState = "error"
)

// DepositRecord is one observed token transfer into a managed account
type DepositRecord struct {
	Sender         common.Address
	Amount         *big.Int
	TxHash         common.Hash
	LogIndex       uint
	BlockNumber    uint64
	BlockTimestamp uint64
	Ready          bool
	Refunded       bool
	RefundTxHash   *common.Hash
}

// DepositKey uniquely identifies a deposit within an account ledger
type DepositKey struct {
	TxHash   common.Hash
	LogIndex uint
}

// Key returns the dedup key of the record.
func (d DepositRecord) Key() DepositKey {
	return DepositKey{TxHash: d.TxHash, LogIndex: d.LogIndex}
}

// Clone returns a copy that shares no pointers with d.
func (d DepositRecord) Clone() DepositRecord {
	out := d
	if d.Amount != nil {
		out.Amount = new(big.Int).Set(d.Amount)
	}
	if d.RefundTxHash != nil {
		h := *d.RefundTxHash
		out.RefundTxHash = &h
	}
	return out
}

// DepositRef is the caller's claim about which deposit a refund returns
type DepositRef struct {
	TxHash   common.Hash
	LogIndex uint
	Sender   common.Address
	Amount   *big.Int
}

// Key returns the dedup key the reference points at.
func (r DepositRef) Key() DepositKey {
	return DepositKey{TxHash: r.TxHash, LogIndex: r.LogIndex}
}

// SessionSnapshot is a point-in-time copy of an account session
type SessionSnapshot struct {
	Address         common.Address
	CredentialId    string
	Deposits        []DepositRecord
	State           WatcherState
	LastSyncedBlock *uint64
}
