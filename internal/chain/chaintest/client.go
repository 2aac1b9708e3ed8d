// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"sort"
	"sync"

	"refund-relay-go/internal/chain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// GenesisTime is the timestamp of block 0; each block adds BlockTime seconds.
const (
	GenesisTime = 1_700_000_000
	BlockTime   = 12
)

var _ chain.Client = (*Client)(nil)

// Client is a scripted ledger. All fields are guarded by the mutex; use the
// setters when a test races with background goroutines.
type Client struct {
	mu sync.Mutex

	head     uint64
	headErr  error
	logs     []types.Log
	code     map[common.Address][]byte
	balances map[common.Address]*big.Int
	txCount  uint64

	filterHook func(q ethereum.FilterQuery) error
	headerErr  error

	// CallContractFunc answers eth_call. Nil returns an error.
	CallContractFunc func(msg ethereum.CallMsg) ([]byte, error)
	// SimulateFunc overrides the default successful simulation.
	SimulateFunc func(call chain.Call) (*chain.PreparedTx, error)
	// BroadcastFunc overrides the default broadcast.
	BroadcastFunc func(tx *chain.PreparedTx) (common.Hash, error)
	// ReceiptFunc overrides the default successful receipt, which carries a
	// successful UserOperationEvent for every operation in a handleOps call.
	ReceiptFunc func(hash common.Hash) (*types.Receipt, error)

	filterCalls []chain.BlockRange
	headerCalls []uint64
	simulated   []chain.Call
	broadcasts  []*chain.PreparedTx
	sent        map[common.Hash]*chain.PreparedTx
}

func NewClient(head uint64) *Client {
	return &Client{
		head:     head,
		code:     make(map[common.Address][]byte),
		balances: make(map[common.Address]*big.Int),
		sent:     make(map[common.Hash]*chain.PreparedTx),
	}
}

func (c *Client) SetHead(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
}

// SetHeadError makes BlockNumber fail until cleared with nil.
func (c *Client) SetHeadError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headErr = err
}

// SetHeaderError makes HeaderByNumber fail until cleared with nil.
func (c *Client) SetHeaderError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headerErr = err
}

// SetFilterHook runs before every FilterLogs; a non-nil error fails the call.
func (c *Client) SetFilterHook(hook func(q ethereum.FilterQuery) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filterHook = hook
}

func (c *Client) SetCode(account common.Address, code []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code[account] = code
}

func (c *Client) SetBalance(account common.Address, balance *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] = balance
}

// AddLog appends a raw log.
func (c *Client) AddLog(lg types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, lg)
}

// AddTransfer appends an ERC-20 Transfer log and returns it.
func (c *Client) AddTransfer(token, from, to common.Address, value *big.Int, block uint64, logIndex uint) types.Log {
	lg := TransferLog(token, from, to, value, block, logIndex)
	c.AddLog(lg)
	return lg
}

// TransferLog builds an ERC-20 Transfer log with a tx hash derived from the
// block and index.
func TransferLog(token, from, to common.Address, value *big.Int, block uint64, logIndex uint) types.Log {
	var seed [16]byte
	binary.BigEndian.PutUint64(seed[:8], block)
	binary.BigEndian.PutUint64(seed[8:], uint64(logIndex))

	return types.Log{
		Address: token,
		Topics: []common.Hash{
			chain.TransferEventID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		BlockNumber: block,
		TxHash:      crypto.Keccak256Hash(seed[:]),
		Index:       logIndex,
	}
}

// FilterCalls returns the ranges requested so far.
func (c *Client) FilterCalls() []chain.BlockRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chain.BlockRange(nil), c.filterCalls...)
}

// HeaderCalls returns the block numbers passed to HeaderByNumber.
func (c *Client) HeaderCalls() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.headerCalls...)
}

// Simulated returns the calls passed to Simulate.
func (c *Client) Simulated() []chain.Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chain.Call(nil), c.simulated...)
}

// Broadcasts returns the transactions passed to Broadcast.
func (c *Client) Broadcasts() []*chain.PreparedTx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*chain.PreparedTx(nil), c.broadcasts...)
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headErr != nil {
		return 0, c.headErr
	}
	return c.head, nil
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headerErr != nil {
		return nil, c.headerErr
	}
	n := c.head
	if number != nil {
		n = number.Uint64()
	}
	c.headerCalls = append(c.headerCalls, n)
	if n > c.head {
		return nil, ethereum.NotFound
	}
	return &types.Header{
		Number:  new(big.Int).SetUint64(n),
		Time:    GenesisTime + n*BlockTime,
		BaseFee: big.NewInt(1_000_000_000),
	}, nil
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	hook := c.filterHook
	c.filterCalls = append(c.filterCalls, chain.BlockRange{From: q.FromBlock.Uint64(), To: q.ToBlock.Uint64()})
	c.mu.Unlock()

	if hook != nil {
		if err := hook(q); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []types.Log
	for _, lg := range c.logs {
		if q.FromBlock != nil && lg.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if !matchAddress(q.Addresses, lg.Address) || !matchTopics(q.Topics, lg.Topics) {
			continue
		}
		out = append(out, lg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

func matchAddress(filter []common.Address, addr common.Address) bool {
	if len(filter) == 0 {
		return true
	}
	for _, a := range filter {
		if a == addr {
			return true
		}
	}
	return false
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	if len(filter) > len(topics) {
		return false
	}
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		found := false
		for _, t := range alternatives {
			if t == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.CallContractFunc == nil {
		return nil, errors.New("call contract not scripted")
	}
	return c.CallContractFunc(msg)
}

func (c *Client) CodeAt(ctx context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code[account], nil
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *Client) Simulate(ctx context.Context, call chain.Call) (*chain.PreparedTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.simulated = append(c.simulated, call)
	c.mu.Unlock()

	if c.SimulateFunc != nil {
		return c.SimulateFunc(call)
	}
	return &chain.PreparedTx{
		Call:      call,
		Gas:       200_000,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
	}, nil
}

func (c *Client) Broadcast(ctx context.Context, tx *chain.PreparedTx) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	c.mu.Lock()
	c.broadcasts = append(c.broadcasts, tx)
	c.txCount++
	count := c.txCount
	c.mu.Unlock()

	var hash common.Hash
	if c.BroadcastFunc != nil {
		var err error
		if hash, err = c.BroadcastFunc(tx); err != nil {
			return common.Hash{}, err
		}
	} else {
		var seed [8]byte
		binary.BigEndian.PutUint64(seed[:], count)
		hash = crypto.Keccak256Hash([]byte("tx"), seed[:], tx.Data)
	}

	c.mu.Lock()
	c.sent[hash] = tx
	c.mu.Unlock()
	return hash, nil
}

func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.ReceiptFunc != nil {
		return c.ReceiptFunc(hash)
	}
	c.mu.Lock()
	head := c.head
	tx := c.sent[hash]
	c.mu.Unlock()

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(head),
		GasUsed:     150_000,
	}
	if tx != nil {
		for _, op := range handleOps(tx.Data) {
			lg, err := UserOperationEventLog(tx.To, op.Sender, op.Nonce, true)
			if err != nil {
				return nil, err
			}
			lg.TxHash = hash
			lg.BlockNumber = head
			receipt.Logs = append(receipt.Logs, lg)
		}
	}
	return receipt, nil
}

// UserOperationEventLog builds the EntryPoint event reporting the outcome of
// sender's operation.
func UserOperationEventLog(entryPoint, sender common.Address, nonce *big.Int, success bool) (*types.Log, error) {
	if nonce == nil {
		nonce = new(big.Int)
	}
	data, err := chain.EntryPointABI.Events["UserOperationEvent"].Inputs.NonIndexed().Pack(
		nonce, success, big.NewInt(1), big.NewInt(1))
	if err != nil {
		return nil, err
	}
	return &types.Log{
		Address: entryPoint,
		Topics: []common.Hash{
			chain.UserOperationEventID,
			crypto.Keccak256Hash(sender.Bytes(), nonce.Bytes()),
			common.BytesToHash(sender.Bytes()),
			{},
		},
		Data: data,
	}, nil
}

// handleOps returns the operations of a handleOps call, or nil for any other
// call data.
func handleOps(data []byte) []chain.UserOperation {
	if len(data) < 4 {
		return nil
	}
	method, err := chain.EntryPointABI.MethodById(data[:4])
	if err != nil || method.Name != "handleOps" {
		return nil
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(values) == 0 {
		return nil
	}
	return *abi.ConvertType(values[0], new([]chain.UserOperation)).(*[]chain.UserOperation)
}
