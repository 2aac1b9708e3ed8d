package models

import (
	"math/big"
	"time"
)

// Config represents the application configuration
type Config struct {
	Chain    ChainConfig
	Listener ListenerConfig
	Refund   RefundConfig
	Server   ServerConfig
	Database DatabaseConfig
}

// ChainConfig holds RPC and relayer settings
type ChainConfig struct {
	RPCURL              string
	NetworkFile         string
	RelayerKey          string
	RPCTimeout          time.Duration
	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration
	FundingAmount       *big.Int
}

// ListenerConfig holds deposit watcher settings
type ListenerConfig struct {
	PollingInterval time.Duration
	BackfillBlocks  uint64
	MaxBlockSpan    uint64
}

// RefundConfig holds deposit classification and retention settings
type RefundConfig struct {
	MinDeposit  *big.Int
	MaxDeposits int
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds refund journal settings. An empty Path disables the journal.
type DatabaseConfig struct {
	Path         string
	MaxOpenConns int
	PingTimeout  time.Duration
}
