package refund

import (
	"math/big"

	"refund-relay-go/internal/chain"
	"refund-relay-go/internal/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// BatchCall is one entry of an executeBatch call.
type BatchCall struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// TokenTransfer is a decoded transfer(address,uint256) call.
type TokenTransfer struct {
	Recipient common.Address
	Amount    *big.Int
}

// DecodeExecuteBatch decodes account calldata that must be
// executeBatch((address,uint256,bytes)[]).
func DecodeExecuteBatch(callData []byte) ([]BatchCall, error) {
	if len(callData) < 4 {
		return nil, models.Reject(models.ReasonUnsupportedCall, "call data has no selector")
	}

	method, err := chain.AccountABI.MethodById(callData[:4])
	if err != nil || method.Name != "executeBatch" {
		return nil, models.Reject(models.ReasonUnsupportedCall, "selector %x is not executeBatch", callData[:4])
	}

	values, err := method.Inputs.Unpack(callData[4:])
	if err != nil || len(values) != 1 {
		return nil, models.Reject(models.ReasonUnsupportedCall, "malformed executeBatch arguments")
	}

	calls := *abi.ConvertType(values[0], new([]BatchCall)).(*[]BatchCall)
	return calls, nil
}

// DecodeTransfer decodes a nested call that must be transfer(address,uint256).
func DecodeTransfer(data []byte) (TokenTransfer, error) {
	if len(data) < 4 {
		return TokenTransfer{}, models.Reject(models.ReasonNotTokenTransfer, "nested call has no selector")
	}

	method, err := chain.ERC20ABI.MethodById(data[:4])
	if err != nil || method.Name != "transfer" {
		return TokenTransfer{}, models.Reject(models.ReasonNotTokenTransfer, "selector %x is not transfer", data[:4])
	}

	values, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(values) != 2 {
		return TokenTransfer{}, models.Reject(models.ReasonNotTokenTransfer, "malformed transfer arguments")
	}

	recipient, ok := values[0].(common.Address)
	if !ok {
		return TokenTransfer{}, models.Reject(models.ReasonNotTokenTransfer, "malformed transfer recipient")
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return TokenTransfer{}, models.Reject(models.ReasonNotTokenTransfer, "malformed transfer amount")
	}
	return TokenTransfer{Recipient: recipient, Amount: amount}, nil
}

// PackExecuteBatch builds executeBatch calldata.
func PackExecuteBatch(calls []BatchCall) ([]byte, error) {
	return chain.AccountABI.Pack("executeBatch", calls)
}

// PackTransfer builds transfer(address,uint256) calldata.
func PackTransfer(recipient common.Address, amount *big.Int) ([]byte, error) {
	return chain.ERC20ABI.Pack("transfer", recipient, amount)
}
