package models

import "fmt"

// ReasonCode is a stable, machine-readable rejection reason
type ReasonCode string

const (
	ReasonInvalidRequest     ReasonCode = "invalid_request"
	ReasonSessionNotFound    ReasonCode = "session_not_found"
	ReasonCredentialMismatch ReasonCode = "credential_mismatch"
	ReasonDepositNotFound    ReasonCode = "deposit_not_found"
	ReasonAlreadyRefunded    ReasonCode = "already_refunded"
	ReasonBelowMinimum       ReasonCode = "below_minimum_amount"
	ReasonSenderMismatch     ReasonCode = "sender_mismatch"
	ReasonUnsupportedCall    ReasonCode = "unsupported_call"
	ReasonEmptyBatch         ReasonCode = "empty_batch"
	ReasonTargetMismatch     ReasonCode = "target_mismatch"
	ReasonNativeValue        ReasonCode = "native_value_not_zero"
	ReasonNotTokenTransfer   ReasonCode = "not_token_transfer"
	ReasonRecipientMismatch  ReasonCode = "recipient_mismatch"
	ReasonAmountMismatch     ReasonCode = "amount_mismatch"
	ReasonRefundInProgress   ReasonCode = "refund_in_progress"
)

// Rejection is a client error. It is never retried and never mutates state.
type Rejection struct {
	Code    ReasonCode
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Reject builds a Rejection with a formatted message.
func Reject(code ReasonCode, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Message: fmt.Sprintf(format, args...)}
}
