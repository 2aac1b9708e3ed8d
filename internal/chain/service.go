package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"refund-relay-go/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Compile-time check: *Service must satisfy Client.
var _ Client = (*Service)(nil)

// Service is the JSON-RPC backed Client. It signs with the relayer key.
type Service struct {
	*ethclient.Client

	chainId             *big.Int
	relayerKey          *ecdsa.PrivateKey
	relayer             common.Address
	receiptPollInterval time.Duration
}

func NewService(ctx context.Context, cfg models.ChainConfig) (*Service, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url cannot be empty")
	}
	if cfg.RelayerKey == "" {
		return nil, fmt.Errorf("relayer key cannot be empty")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.RelayerKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer key: %w", err)
	}

	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	rpcClient, err := rpc.DialOptions(ctx, cfg.RPCURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to dial rpc: %w", err)
	}
	client := ethclient.NewClient(rpcClient)

	chainId, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to get chain id: %w", err)
	}

	pollInterval := cfg.ReceiptPollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	relayer := crypto.PubkeyToAddress(key.PublicKey)
	zap.L().Info("Chain client initialized",
		zap.String("chain_id", chainId.String()),
		zap.String("relayer", relayer.Hex()))

	return &Service{
		Client:              client,
		chainId:             chainId,
		relayerKey:          key,
		relayer:             relayer,
		receiptPollInterval: pollInterval,
	}, nil
}

func createCustomHttpClient() (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

// Relayer returns the address paying for broadcast transactions.
func (s *Service) Relayer() common.Address {
	return s.relayer
}

// ChainId returns the connected chain id.
func (s *Service) ChainId() *big.Int {
	return new(big.Int).Set(s.chainId)
}

func (s *Service) Simulate(ctx context.Context, call Call) (*PreparedTx, error) {
	to := call.To
	msg := ethereum.CallMsg{
		From:  s.relayer,
		To:    &to,
		Data:  call.Data,
		Value: call.Value,
	}

	if _, err := s.Client.CallContract(ctx, msg, nil); err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %v", ErrSimulationFailed, err)
		}
		return nil, fmt.Errorf("unable to simulate call: %w", err)
	}

	gas, err := s.EstimateGas(ctx, msg)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %v", ErrSimulationFailed, err)
		}
		return nil, fmt.Errorf("unable to estimate gas: %w", err)
	}

	nonce, err := s.PendingNonceAt(ctx, s.relayer)
	if err != nil {
		return nil, fmt.Errorf("unable to get relayer nonce: %w", err)
	}

	tip, err := s.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to get gas tip: %w", err)
	}

	head, err := s.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to get head: %w", err)
	}

	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	zap.L().Debug("Call simulated",
		zap.String("to", call.To.Hex()),
		zap.Uint64("gas", gas),
		zap.Uint64("nonce", nonce),
		zap.String("fee_cap", feeCap.String()))

	return &PreparedTx{
		Call:      call,
		Nonce:     nonce,
		Gas:       gas + gas/5,
		GasTipCap: tip,
		GasFeeCap: feeCap,
	}, nil
}

func (s *Service) Broadcast(ctx context.Context, prepared *PreparedTx) (common.Hash, error) {
	to := prepared.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainId,
		Nonce:     prepared.Nonce,
		GasTipCap: prepared.GasTipCap,
		GasFeeCap: prepared.GasFeeCap,
		Gas:       prepared.Gas,
		To:        &to,
		Value:     prepared.Value,
		Data:      prepared.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainId), s.relayerKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("unable to sign transaction: %w", err)
	}

	if err := s.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("unable to send transaction: %w", err)
	}

	zap.L().Info("Transaction broadcast",
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", prepared.Nonce))

	return signed.Hash(), nil
}

// WaitForReceipt polls until the receipt exists. Transient lookup errors are
// retried because the transaction may already be in flight.
func (s *Service) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			zap.L().Warn("Receipt lookup failed, retrying",
				zap.String("tx_hash", hash.Hex()),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func isRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
