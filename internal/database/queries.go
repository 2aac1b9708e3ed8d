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

package database

const (
	schemaRefundAttempts = `
	-- Append-only audit of refund settlement attempts
	CREATE TABLE IF NOT EXISTS refund_attempts (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL DEFAULT '',
		account TEXT NOT NULL,
		deposit_tx TEXT NOT NULL,
		log_index INTEGER NOT NULL,
		recipient TEXT NOT NULL,
		amount TEXT NOT NULL,
		outcome TEXT NOT NULL,
		settlement_tx TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Create index for per-account history
	CREATE INDEX IF NOT EXISTS idx_refund_attempts_account ON refund_attempts(LOWER(account), created_at);
	-- Create index for per-deposit lookups
	CREATE INDEX IF NOT EXISTS idx_refund_attempts_deposit ON refund_attempts(deposit_tx, log_index);
	`

	queryInsertRefundAttempt = `
		INSERT INTO refund_attempts (id, request_id, account, deposit_tx, log_index, recipient, amount, outcome, settlement_tx, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryListRefundAttempts = `
		SELECT id, request_id, account, deposit_tx, log_index, recipient, amount, outcome, settlement_tx, error, created_at
		FROM refund_attempts
		WHERE LOWER(account) = LOWER(?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	queryListDepositAttempts = `
		SELECT id, request_id, account, deposit_tx, log_index, recipient, amount, outcome, settlement_tx, error, created_at
		FROM refund_attempts
		WHERE deposit_tx = ? AND log_index = ?
		ORDER BY created_at, rowid`
)
