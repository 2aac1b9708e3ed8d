package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

var ownerArguments = abi.Arguments{
	{Type: mustNewType("uint256")},
	{Type: mustNewType("uint256")},
}

// Provisioned is the outcome of preparing a passkey account.
type Provisioned struct {
	Address   common.Address
	DeployTx  *common.Hash
	FundingTx *common.Hash
}

// Provisioner derives, deploys and funds passkey accounts through the factory.
type Provisioner struct {
	client         Client
	factory        common.Address
	fundingAmount  *big.Int
	receiptTimeout time.Duration
}

func NewProvisioner(client Client, factory common.Address, fundingAmount *big.Int, receiptTimeout time.Duration) *Provisioner {
	return &Provisioner{
		client:         client,
		factory:        factory,
		fundingAmount:  fundingAmount,
		receiptTimeout: receiptTimeout,
	}
}

// EncodeOwner returns the factory owner encoding of a P-256 public key.
func EncodeOwner(x, y *big.Int) ([]byte, error) {
	owner, err := ownerArguments.Pack(x, y)
	if err != nil {
		return nil, fmt.Errorf("failed to encode owner: %w", err)
	}
	return owner, nil
}

// AccountAddress returns the counterfactual account for a public key.
func (p *Provisioner) AccountAddress(ctx context.Context, x, y *big.Int) (common.Address, error) {
	owner, err := EncodeOwner(x, y)
	if err != nil {
		return common.Address{}, err
	}

	data, err := FactoryABI.Pack("getAddress", [][]byte{owner}, new(big.Int))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack getAddress: %w", err)
	}

	out, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &p.factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to call getAddress: %w", err)
	}

	values, err := FactoryABI.Unpack("getAddress", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack getAddress: %w", err)
	}
	address, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected getAddress result type %T", values[0])
	}
	return address, nil
}

// Provision returns the account for a public key, deploying it when it has no
// code and topping up its native balance to the funding amount. Both steps
// are skipped when already satisfied, so repeated calls are idempotent.
func (p *Provisioner) Provision(ctx context.Context, x, y *big.Int) (*Provisioned, error) {
	address, err := p.AccountAddress(ctx, x, y)
	if err != nil {
		return nil, err
	}
	result := &Provisioned{Address: address}

	code, err := p.client.CodeAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read account code: %w", err)
	}
	if len(code) == 0 {
		owner, err := EncodeOwner(x, y)
		if err != nil {
			return nil, err
		}
		data, err := FactoryABI.Pack("createAccount", [][]byte{owner}, new(big.Int))
		if err != nil {
			return nil, fmt.Errorf("failed to pack createAccount: %w", err)
		}
		hash, err := p.send(ctx, Call{To: p.factory, Data: data})
		if err != nil {
			return nil, fmt.Errorf("failed to deploy account: %w", err)
		}
		result.DeployTx = &hash
		zap.L().Info("Account deployed",
			zap.String("address", address.Hex()),
			zap.String("tx_hash", hash.Hex()))
	}

	if p.fundingAmount == nil || p.fundingAmount.Sign() <= 0 {
		return result, nil
	}

	balance, err := p.client.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read account balance: %w", err)
	}
	if balance.Cmp(p.fundingAmount) >= 0 {
		return result, nil
	}

	topUp := new(big.Int).Sub(p.fundingAmount, balance)
	hash, err := p.send(ctx, Call{To: address, Value: topUp})
	if err != nil {
		return nil, fmt.Errorf("failed to fund account: %w", err)
	}
	result.FundingTx = &hash
	zap.L().Info("Account funded",
		zap.String("address", address.Hex()),
		zap.String("amount", topUp.String()),
		zap.String("tx_hash", hash.Hex()))

	return result, nil
}

func (p *Provisioner) send(ctx context.Context, call Call) (common.Hash, error) {
	prepared, err := p.client.Simulate(ctx, call)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := p.client.Broadcast(ctx, prepared)
	if err != nil {
		return common.Hash{}, err
	}

	waitCtx := ctx
	if p.receiptTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.receiptTimeout)
		defer cancel()
	}
	receipt, err := p.client.WaitForReceipt(waitCtx, hash)
	if err != nil {
		return common.Hash{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("%w: transaction %s", ErrExecutionReverted, hash.Hex())
	}
	return hash, nil
}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("failed to build ABI type %s: %v", t, err))
	}
	return typ
}
