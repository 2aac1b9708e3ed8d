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

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"refund-relay-go/internal/models"
	"refund-relay-go/internal/refund"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy refund.Journal.
var _ refund.Journal = (*Service)(nil)

// Service is the SQLite refund journal. Rows are written for audit and are
// never read back to rebuild ledger state.
type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite journal", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := newService(db)
	if err := service.initSchema(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Refund journal initialized successfully")
	return service, nil
}

func newService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaRefundAttempts)
	return err
}

// RecordAttempt appends one settlement attempt. Missing ids and timestamps
// are filled in.
func (s *Service) RecordAttempt(ctx context.Context, attempt models.RefundAttempt) error {
	if attempt.Id == "" {
		attempt.Id = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, queryInsertRefundAttempt,
		attempt.Id,
		attempt.RequestId,
		attempt.Account,
		attempt.DepositTx,
		attempt.LogIndex,
		attempt.Recipient,
		attempt.Amount,
		attempt.Outcome,
		attempt.SettlementTx,
		attempt.Error,
		attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record refund attempt: %w", err)
	}

	zap.L().Debug("Refund attempt journaled",
		zap.String("attempt_id", attempt.Id),
		zap.String("outcome", attempt.Outcome))
	return nil
}

// ListAttempts returns an account's most recent attempts, newest first.
func (s *Service) ListAttempts(ctx context.Context, account string, limit int) ([]models.RefundAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, queryListRefundAttempts, account, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list refund attempts: %w", err)
	}
	return scanAttempts(rows)
}

// DepositAttempts returns every attempt against one deposit, oldest first.
func (s *Service) DepositAttempts(ctx context.Context, depositTx string, logIndex uint) ([]models.RefundAttempt, error) {
	rows, err := s.db.QueryContext(ctx, queryListDepositAttempts, depositTx, logIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposit attempts: %w", err)
	}
	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) ([]models.RefundAttempt, error) {
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}()

	var attempts []models.RefundAttempt
	for rows.Next() {
		var a models.RefundAttempt
		if err := rows.Scan(
			&a.Id,
			&a.RequestId,
			&a.Account,
			&a.DepositTx,
			&a.LogIndex,
			&a.Recipient,
			&a.Amount,
			&a.Outcome,
			&a.SettlementTx,
			&a.Error,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan refund attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate refund attempts: %w", err)
	}
	return attempts, nil
}
