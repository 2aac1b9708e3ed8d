package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// UserOperation is an ERC-4337 v0.6 user operation. Field names match the
// EntryPoint tuple so it can be ABI packed directly.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// PackHandleOps encodes EntryPoint.handleOps([op], beneficiary).
func PackHandleOps(op UserOperation, beneficiary common.Address) ([]byte, error) {
	data, err := EntryPointABI.Pack("handleOps", []UserOperation{op}, beneficiary)
	if err != nil {
		return nil, fmt.Errorf("failed to pack handleOps: %w", err)
	}
	return data, nil
}

// GetNonce reads EntryPoint.getNonce(sender, 0).
func GetNonce(ctx context.Context, client Client, entryPoint, sender common.Address) (*big.Int, error) {
	data, err := EntryPointABI.Pack("getNonce", sender, new(big.Int))
	if err != nil {
		return nil, fmt.Errorf("failed to pack getNonce: %w", err)
	}

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &entryPoint, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call getNonce: %w", err)
	}

	values, err := EntryPointABI.Unpack("getNonce", out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getNonce: %w", err)
	}
	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getNonce result type %T", values[0])
	}
	return nonce, nil
}

// userOperationOutcome returns the success flag of the UserOperationEvent
// emitted for sender, and whether such an event was found.
func userOperationOutcome(receipt *types.Receipt, entryPoint, sender common.Address) (bool, bool) {
	senderTopic := common.BytesToHash(sender.Bytes())
	for _, lg := range receipt.Logs {
		if lg.Address != entryPoint || len(lg.Topics) < 3 || lg.Topics[0] != UserOperationEventID {
			continue
		}
		if lg.Topics[2] != senderTopic {
			continue
		}
		values, err := EntryPointABI.Unpack("UserOperationEvent", lg.Data)
		if err != nil || len(values) < 2 {
			continue
		}
		success, ok := values[1].(bool)
		if !ok {
			continue
		}
		return success, true
	}
	return false, false
}
