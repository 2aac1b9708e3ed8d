package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// DefaultMaxBlockSpan is the eth_getLogs range most public providers accept.
const DefaultMaxBlockSpan = 1000

// BlockRange is a closed interval of block numbers.
type BlockRange struct {
	From uint64
	To   uint64
}

// TransferLog is a decoded ERC-20 Transfer event.
type TransferLog struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
}

// ChunkRanges splits [from, to] into consecutive closed ranges of at most
// span blocks. Each range starts at the previous To + 1.
func ChunkRanges(from, to, span uint64) []BlockRange {
	if from > to {
		return nil
	}
	if span == 0 {
		span = DefaultMaxBlockSpan
	}

	var ranges []BlockRange
	for start := from; ; {
		end := start + span - 1
		if end > to || end < start {
			end = to
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			return ranges
		}
		start = end + 1
	}
}

// LogFetcher retrieves token transfers into an account over ranges wider
// than the provider's per-query limit.
type LogFetcher struct {
	client  Client
	token   common.Address
	maxSpan uint64
	timeout time.Duration
}

func NewLogFetcher(client Client, token common.Address, maxSpan uint64, timeout time.Duration) *LogFetcher {
	if maxSpan == 0 {
		maxSpan = DefaultMaxBlockSpan
	}
	return &LogFetcher{
		client:  client,
		token:   token,
		maxSpan: maxSpan,
		timeout: timeout,
	}
}

// FetchTransfers returns every Transfer(_, account, _) in [from, to], in
// chain order. A failing sub-range fails the whole call; no partial result
// is returned.
func (f *LogFetcher) FetchTransfers(ctx context.Context, account common.Address, from, to uint64) ([]TransferLog, error) {
	ranges := ChunkRanges(from, to, f.maxSpan)
	if len(ranges) == 0 {
		return nil, nil
	}

	accountTopic := common.BytesToHash(account.Bytes())
	var transfers []TransferLog
	for _, r := range ranges {
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(r.From),
			ToBlock:   new(big.Int).SetUint64(r.To),
			Addresses: []common.Address{f.token},
			Topics:    [][]common.Hash{{TransferEventID}, nil, {accountTopic}},
		}

		logs, err := f.filterLogs(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch logs for blocks %d-%d: %w", r.From, r.To, err)
		}

		for _, lg := range logs {
			transfer, ok := DecodeTransferLog(lg)
			if !ok {
				zap.L().Debug("Skipping undecodable transfer log",
					zap.String("tx_hash", lg.TxHash.Hex()),
					zap.Uint("log_index", lg.Index))
				continue
			}
			if transfer.To != account {
				continue
			}
			transfers = append(transfers, transfer)
		}
	}

	zap.L().Debug("Fetched transfer logs",
		zap.String("account", account.Hex()),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("chunks", len(ranges)),
		zap.Int("count", len(transfers)))

	return transfers, nil
}

func (f *LogFetcher) filterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return f.client.FilterLogs(ctx, query)
}

// DecodeTransferLog decodes a standard ERC-20 Transfer log. Removed logs and
// logs with a non-standard layout (e.g. ERC-721, which indexes the value)
// are rejected.
func DecodeTransferLog(lg types.Log) (TransferLog, bool) {
	if lg.Removed || len(lg.Topics) != 3 || lg.Topics[0] != TransferEventID || len(lg.Data) != 32 {
		return TransferLog{}, false
	}
	return TransferLog{
		From:        common.BytesToAddress(lg.Topics[1].Bytes()),
		To:          common.BytesToAddress(lg.Topics[2].Bytes()),
		Value:       new(big.Int).SetBytes(lg.Data),
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
	}, true
}
