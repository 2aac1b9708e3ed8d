package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Receipt summarises a mined handleOps transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Submitter relays user operations through the EntryPoint from the relayer
// account. Every submission is simulated before it is broadcast.
type Submitter struct {
	client         Client
	entryPoint     common.Address
	beneficiary    common.Address
	receiptTimeout time.Duration
}

func NewSubmitter(client Client, entryPoint, beneficiary common.Address, receiptTimeout time.Duration) *Submitter {
	return &Submitter{
		client:         client,
		entryPoint:     entryPoint,
		beneficiary:    beneficiary,
		receiptTimeout: receiptTimeout,
	}
}

// EntryPoint returns the EntryPoint address operations are sent to.
func (s *Submitter) EntryPoint() common.Address {
	return s.entryPoint
}

// Nonce returns the account's current EntryPoint nonce for key 0.
func (s *Submitter) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := GetNonce(ctx, s.client, s.entryPoint, account)
	if err != nil {
		return 0, err
	}
	if !nonce.IsUint64() {
		return 0, fmt.Errorf("nonce %s out of range", nonce)
	}
	return nonce.Uint64(), nil
}

// Submit simulates, broadcasts and waits for op. A failed simulation is never
// broadcast and wraps ErrSimulationFailed. A mined transaction that reverted,
// or that lacks a successful UserOperationEvent for the sender, wraps
// ErrExecutionReverted.
func (s *Submitter) Submit(ctx context.Context, op UserOperation) (*Receipt, error) {
	data, err := PackHandleOps(op, s.beneficiary)
	if err != nil {
		return nil, err
	}

	prepared, err := s.client.Simulate(ctx, Call{To: s.entryPoint, Data: data})
	if err != nil {
		zap.L().Warn("User operation simulation failed",
			zap.String("sender", op.Sender.Hex()),
			zap.Error(err))
		return nil, err
	}

	hash, err := s.client.Broadcast(ctx, prepared)
	if err != nil {
		return nil, err
	}

	waitCtx := ctx
	if s.receiptTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.receiptTimeout)
		defer cancel()
	}

	receipt, err := s.client.WaitForReceipt(waitCtx, hash)
	if err != nil {
		return nil, err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: transaction %s", ErrExecutionReverted, hash.Hex())
	}
	success, found := userOperationOutcome(receipt, s.entryPoint, op.Sender)
	if !found {
		return nil, fmt.Errorf("%w: no user operation event for %s in %s", ErrExecutionReverted, op.Sender.Hex(), hash.Hex())
	}
	if !success {
		return nil, fmt.Errorf("%w: user operation in %s", ErrExecutionReverted, hash.Hex())
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}

	zap.L().Info("User operation settled",
		zap.String("sender", op.Sender.Hex()),
		zap.String("tx_hash", hash.Hex()),
		zap.Uint64("block", block),
		zap.Uint64("gas_used", receipt.GasUsed))

	return &Receipt{
		TxHash:      hash,
		BlockNumber: block,
		GasUsed:     receipt.GasUsed,
	}, nil
}
