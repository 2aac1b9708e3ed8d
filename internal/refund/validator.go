package refund

import (
	"context"
	"errors"
	"fmt"

	"refund-relay-go/internal/chain"
	"refund-relay-go/internal/metrics"
	"refund-relay-go/internal/models"
	"refund-relay-go/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Submitter settles an assembled operation on chain.
type Submitter interface {
	Submit(ctx context.Context, op chain.UserOperation) (*chain.Receipt, error)
}

// Journal records settlement attempts for audit. It is never read back.
type Journal interface {
	RecordAttempt(ctx context.Context, attempt models.RefundAttempt) error
}

// ValidatorConfig contains configuration for Validator
type ValidatorConfig struct {
	Registry  *store.Registry
	Token     common.Address
	Submitter Submitter
	Journal   Journal
	Metrics   *metrics.RelayMetrics
}

// Validator checks refund requests against the deposit ledger and relays
// the approved ones.
type Validator struct {
	registry  *store.Registry
	token     common.Address
	submitter Submitter
	journal   Journal
	metrics   *metrics.RelayMetrics
}

func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{
		registry:  cfg.Registry,
		token:     cfg.Token,
		submitter: cfg.Submitter,
		journal:   cfg.Journal,
		metrics:   cfg.Metrics,
	}
}

// Approval is a request that passed every check.
type Approval struct {
	Session  *store.Session
	Deposit  models.DepositRecord
	Transfer TokenTransfer
}

// Validate runs the refund checks in order and returns the first failure as
// a *models.Rejection. It never mutates state.
func (v *Validator) Validate(req *Request) (*Approval, error) {
	session, ok := v.registry.Get(req.Account)
	if !ok {
		return nil, models.Reject(models.ReasonSessionNotFound, "no session for %s", req.Account.Hex())
	}
	if !session.CredentialMatches(req.CredentialId) {
		return nil, models.Reject(models.ReasonCredentialMismatch, "credential does not match account")
	}

	deposit, ok := session.Find(req.Deposit)
	if !ok {
		return nil, models.Reject(models.ReasonDepositNotFound, "no deposit %s:%d from %s of %s",
			req.Deposit.TxHash.Hex(), req.Deposit.LogIndex, req.Deposit.Sender.Hex(), req.Deposit.Amount)
	}
	if deposit.Refunded {
		return nil, models.Reject(models.ReasonAlreadyRefunded, "deposit already refunded")
	}
	if !deposit.Ready {
		return nil, models.Reject(models.ReasonBelowMinimum, "deposit of %s is below the refund minimum", deposit.Amount)
	}
	if req.Operation.Sender != req.Account {
		return nil, models.Reject(models.ReasonSenderMismatch, "operation sender %s is not %s",
			req.Operation.Sender.Hex(), req.Account.Hex())
	}

	calls, err := DecodeExecuteBatch(req.Operation.CallData)
	if err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, models.Reject(models.ReasonEmptyBatch, "executeBatch has no calls")
	}

	// Only the first call is evaluated.
	call := calls[0]
	if call.Target != v.token {
		return nil, models.Reject(models.ReasonTargetMismatch, "call target %s is not the token contract", call.Target.Hex())
	}
	if call.Value != nil && call.Value.Sign() != 0 {
		return nil, models.Reject(models.ReasonNativeValue, "call attaches %s wei", call.Value)
	}

	transfer, err := DecodeTransfer(call.Data)
	if err != nil {
		return nil, err
	}
	if transfer.Recipient != deposit.Sender {
		return nil, models.Reject(models.ReasonRecipientMismatch, "recipient %s is not the depositor %s",
			transfer.Recipient.Hex(), deposit.Sender.Hex())
	}
	if transfer.Amount.Cmp(deposit.Amount) != 0 {
		return nil, models.Reject(models.ReasonAmountMismatch, "transfer amount %s does not equal deposit %s",
			transfer.Amount, deposit.Amount)
	}

	return &Approval{Session: session, Deposit: deposit, Transfer: transfer}, nil
}

// Refund validates req, submits the assembled operation and marks the
// deposit refunded once settlement is confirmed. A failed submission leaves
// the deposit eligible for another attempt.
func (v *Validator) Refund(ctx context.Context, req *Request) (common.Hash, error) {
	approval, err := v.Validate(req)
	if err != nil {
		v.observeRejection(err)
		return common.Hash{}, err
	}

	op := req.Operation
	op.Nonce = req.Nonce
	op.Signature, err = EncodeSignature(req.OwnerIndex, req.Signature)
	if err != nil {
		rejection := models.Reject(models.ReasonInvalidRequest, "%v", err)
		v.observeRejection(rejection)
		return common.Hash{}, rejection
	}

	key := approval.Deposit.Key()
	if err := approval.Session.BeginRefund(key); err != nil {
		rejection := reservationRejection(err)
		v.observeRejection(rejection)
		return common.Hash{}, rejection
	}

	attempt := models.RefundAttempt{
		Id:        uuid.NewString(),
		RequestId: models.GetRequestId(ctx),
		Account:   req.Account.Hex(),
		DepositTx: key.TxHash.Hex(),
		LogIndex:  key.LogIndex,
		Recipient: approval.Transfer.Recipient.Hex(),
		Amount:    approval.Transfer.Amount.String(),
	}

	zap.L().Info("Submitting refund",
		zap.String("attempt_id", attempt.Id),
		zap.String("request_id", attempt.RequestId),
		zap.String("account", attempt.Account),
		zap.String("deposit_tx", attempt.DepositTx),
		zap.Uint("log_index", attempt.LogIndex),
		zap.String("recipient", attempt.Recipient),
		zap.String("amount", attempt.Amount))

	receipt, err := v.submitter.Submit(ctx, op)
	if err != nil {
		approval.Session.AbortRefund(key)

		attempt.Outcome = failureOutcome(err)
		attempt.Error = err.Error()
		v.record(ctx, attempt)

		zap.L().Error("Refund settlement failed",
			zap.String("attempt_id", attempt.Id),
			zap.String("outcome", attempt.Outcome),
			zap.Error(err))
		return common.Hash{}, fmt.Errorf("failed to settle refund: %w", err)
	}

	if err := approval.Session.CompleteRefund(key, receipt.TxHash); err != nil {
		// Settled on chain but the record is gone from the ledger.
		zap.L().Error("Refund settled but deposit could not be marked",
			zap.String("attempt_id", attempt.Id),
			zap.String("tx_hash", receipt.TxHash.Hex()),
			zap.Error(err))
	}

	attempt.Outcome = models.RefundConfirmed
	attempt.SettlementTx = receipt.TxHash.Hex()
	v.record(ctx, attempt)

	zap.L().Info("Refund confirmed",
		zap.String("attempt_id", attempt.Id),
		zap.String("tx_hash", receipt.TxHash.Hex()),
		zap.Uint64("block", receipt.BlockNumber))

	return receipt.TxHash, nil
}

func (v *Validator) record(ctx context.Context, attempt models.RefundAttempt) {
	v.metrics.ObserveRefund(attempt.Outcome)
	if v.journal == nil {
		return
	}
	if err := v.journal.RecordAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		zap.L().Warn("Failed to journal refund attempt",
			zap.String("attempt_id", attempt.Id),
			zap.Error(err))
	}
}

func (v *Validator) observeRejection(err error) {
	var rejection *models.Rejection
	if errors.As(err, &rejection) {
		v.metrics.ObserveRefund(string(rejection.Code))
		zap.L().Info("Refund rejected",
			zap.String("code", string(rejection.Code)),
			zap.String("reason", rejection.Message))
	}
}

func reservationRejection(err error) *models.Rejection {
	switch {
	case errors.Is(err, store.ErrAlreadyRefunded):
		return models.Reject(models.ReasonAlreadyRefunded, "deposit already refunded")
	case errors.Is(err, store.ErrRefundInProgress):
		return models.Reject(models.ReasonRefundInProgress, "a refund for this deposit is in progress")
	default:
		return models.Reject(models.ReasonDepositNotFound, "deposit no longer tracked")
	}
}

func failureOutcome(err error) string {
	switch {
	case errors.Is(err, chain.ErrSimulationFailed):
		return models.RefundSimulationFailed
	case errors.Is(err, chain.ErrExecutionReverted):
		return models.RefundReverted
	default:
		return models.RefundFailed
	}
}
