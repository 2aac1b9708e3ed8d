package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Sentinel errors distinguishing execution failures from transport failures.
var (
	ErrSimulationFailed  = errors.New("simulation failed")
	ErrExecutionReverted = errors.New("execution reverted")
)

// Call is a contract call the relayer intends to send.
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// PreparedTx is a simulated call with gas and fees fixed, ready to sign.
type PreparedTx struct {
	Call
	Nonce     uint64
	Gas       uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
}

// Client is the remote ledger as seen by the relay.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)

	// Simulate dry-runs call from the relayer account. Reverts are reported
	// as ErrSimulationFailed.
	Simulate(ctx context.Context, call Call) (*PreparedTx, error)
	// Broadcast signs and sends a prepared transaction.
	Broadcast(ctx context.Context, tx *PreparedTx) (common.Hash, error)
	// WaitForReceipt blocks until the transaction is mined or ctx is done.
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}
