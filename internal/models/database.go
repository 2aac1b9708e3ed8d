package models

import (
	"time"
)

// Refund attempt outcomes recorded in the journal
const (
	RefundConfirmed        = "confirmed"
	RefundReverted         = "reverted"
	RefundSimulationFailed = "simulation_failed"
	RefundFailed           = "failed"
)

// RefundAttempt is an append-only audit row for one settlement attempt
type RefundAttempt struct {
	Id           string    `db:"id"`
	RequestId    string    `db:"request_id"`
	Account      string    `db:"account"`
	DepositTx    string    `db:"deposit_tx"`
	LogIndex     uint      `db:"log_index"`
	Recipient    string    `db:"recipient"`
	Amount       string    `db:"amount"`
	Outcome      string    `db:"outcome"`
	SettlementTx string    `db:"settlement_tx"`
	Error        string    `db:"error"`
	CreatedAt    time.Time `db:"created_at"`
}
