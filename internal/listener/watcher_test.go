package listener

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"refund-relay-go/internal/chain"
	"refund-relay-go/internal/chain/chaintest"
	"refund-relay-go/internal/models"
	"refund-relay-go/internal/store"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	testToken   = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	testAccount = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSender  = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// setupWatcher creates a watcher over a fake chain and a registry with one
// session for testAccount.
func setupWatcher(t *testing.T, head uint64, pollingInterval time.Duration) (*DepositWatcher, *chaintest.Client, *store.Registry, *store.Session) {
	t.Helper()

	client := chaintest.NewClient(head)
	watcher := NewDepositWatcher(DepositWatcherConfig{
		Client:          client,
		Fetcher:         chain.NewLogFetcher(client, testToken, 10_000, time.Second),
		PollingInterval: pollingInterval,
		BackfillBlocks:  DefaultBackfillBlocks,
		RPCTimeout:      time.Second,
	})
	registry := store.NewRegistry(store.LedgerPolicy{MinDeposit: big.NewInt(1_000_000), MaxDeposits: 20})
	session := registry.Upsert(testAccount, "cred")

	t.Cleanup(func() {
		watcher.StopAll(registry.List())
	})
	return watcher, client, registry, session
}

func TestEnsure_BackfillsWindowBelowHead(t *testing.T) {
	watcher, client, _, session := setupWatcher(t, 10_000, time.Hour)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(1_000_000), 4_999, 0)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(2_000_000), 5_000, 0)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(500_000), 9_000, 4)

	require.NoError(t, watcher.Ensure(context.Background(), session))

	snap := session.Snapshot()
	require.Equal(t, models.WatcherLive, snap.State)
	require.NotNil(t, snap.LastSyncedBlock)
	require.Equal(t, uint64(10_000), *snap.LastSyncedBlock)

	require.Len(t, snap.Deposits, 2)
	require.Equal(t, uint64(9_000), snap.Deposits[0].BlockNumber)
	require.False(t, snap.Deposits[0].Ready)
	require.Equal(t, uint64(chaintest.GenesisTime+9_000*chaintest.BlockTime), snap.Deposits[0].BlockTimestamp)
	require.Equal(t, uint64(5_000), snap.Deposits[1].BlockNumber)
	require.True(t, snap.Deposits[1].Ready)

	require.Equal(t, []chain.BlockRange{{From: 5_000, To: 10_000}}, client.FilterCalls())
}

func TestEnsure_BackfillFloorsAtGenesis(t *testing.T) {
	watcher, client, _, session := setupWatcher(t, 100, time.Hour)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(1_000_000), 0, 0)

	require.NoError(t, watcher.Ensure(context.Background(), session))
	require.Len(t, session.Snapshot().Deposits, 1)
	require.Equal(t, []chain.BlockRange{{From: 0, To: 100}}, client.FilterCalls())
}

func TestEnsure_OrdersNewestFirst(t *testing.T) {
	watcher, client, _, session := setupWatcher(t, 200, time.Hour)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(1), 150, 2)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(2), 120, 0)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(3), 150, 1)

	require.NoError(t, watcher.Ensure(context.Background(), session))

	deposits := session.Snapshot().Deposits
	require.Len(t, deposits, 3)
	require.Equal(t, int64(1), deposits[0].Amount.Int64())
	require.Equal(t, int64(3), deposits[1].Amount.Int64())
	require.Equal(t, int64(2), deposits[2].Amount.Int64())
	require.Equal(t, deposits[0].BlockTimestamp, deposits[1].BlockTimestamp)
}

func TestEnsure_FetchesEachBlockTimestampOnce(t *testing.T) {
	watcher, client, _, session := setupWatcher(t, 200, time.Hour)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(1), 150, 0)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(2), 150, 3)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(3), 150, 7)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(4), 170, 1)

	require.NoError(t, watcher.Ensure(context.Background(), session))

	require.Equal(t, []uint64{150, 170}, client.HeaderCalls())

	deposits := session.Snapshot().Deposits
	require.Len(t, deposits, 4)
	for _, d := range deposits {
		require.Equal(t, uint64(chaintest.GenesisTime)+d.BlockNumber*chaintest.BlockTime, d.BlockTimestamp)
	}
}

func TestEnsure_BackfillFailure(t *testing.T) {
	watcher, client, _, session := setupWatcher(t, 1_000, time.Hour)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(1_000_000), 900, 0)

	boom := errors.New("provider unavailable")
	client.SetFilterHook(func(ethereum.FilterQuery) error { return boom })

	err := watcher.Ensure(context.Background(), session)
	require.ErrorIs(t, err, boom)

	snap := session.Snapshot()
	require.Equal(t, models.WatcherError, snap.State)
	require.Nil(t, snap.LastSyncedBlock)
	require.Empty(t, snap.Deposits)

	client.SetFilterHook(nil)
	require.NoError(t, watcher.Ensure(context.Background(), session))
	require.Equal(t, models.WatcherLive, session.WatcherState())
	require.Len(t, session.Snapshot().Deposits, 1)
}

func TestEnsure_HeaderFailureLeavesLedgerUntouched(t *testing.T) {
	watcher, client, _, session := setupWatcher(t, 1_000, time.Hour)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(1_000_000), 900, 0)
	client.SetHeaderError(errors.New("header unavailable"))

	require.Error(t, watcher.Ensure(context.Background(), session))
	snap := session.Snapshot()
	require.Empty(t, snap.Deposits)
	require.Nil(t, snap.LastSyncedBlock)
}

func TestEnsure_CatchUpWhenLive(t *testing.T) {
	watcher, client, _, session := setupWatcher(t, 1_000, time.Hour)
	require.NoError(t, watcher.Ensure(context.Background(), session))
	require.Empty(t, session.Snapshot().Deposits)

	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(1_000_000), 1_005, 0)
	client.SetHead(1_010)

	require.NoError(t, watcher.Ensure(context.Background(), session))

	snap := session.Snapshot()
	require.Equal(t, models.WatcherLive, snap.State)
	require.Len(t, snap.Deposits, 1)
	require.Equal(t, uint64(1_010), *snap.LastSyncedBlock)
	require.Equal(t, []chain.BlockRange{{From: 0, To: 1_000}, {From: 1_001, To: 1_010}}, client.FilterCalls())
}

func TestEnsure_ConcurrentCallsBackfillOnce(t *testing.T) {
	watcher, client, _, session := setupWatcher(t, 1_000, time.Hour)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(1_000_000), 900, 0)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- watcher.Ensure(context.Background(), session)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, session.Snapshot().Deposits, 1)
	require.Len(t, client.FilterCalls(), 1)
}

func TestPollLoop_RecordsNewDeposits(t *testing.T) {
	watcher, client, _, session := setupWatcher(t, 1_000, 10*time.Millisecond)
	require.NoError(t, watcher.Ensure(context.Background(), session))

	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(1_000_000), 1_001, 0)
	client.SetHead(1_001)

	require.Eventually(t, func() bool {
		return len(session.Snapshot().Deposits) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cursor, ok := session.LastSyncedBlock()
	require.True(t, ok)
	require.Equal(t, uint64(1_001), cursor)
}

func TestPollLoop_FailureStopsWatcher(t *testing.T) {
	watcher, client, _, session := setupWatcher(t, 1_000, 10*time.Millisecond)
	require.NoError(t, watcher.Ensure(context.Background(), session))

	client.SetHeadError(errors.New("connection refused"))
	client.SetHead(1_050)

	require.Eventually(t, func() bool {
		return session.WatcherState() == models.WatcherError
	}, 2*time.Second, 10*time.Millisecond)

	cursor, _ := session.LastSyncedBlock()
	require.Equal(t, uint64(1_000), cursor)

	// No automatic reconnect: the next Ensure restarts from the cursor.
	client.SetHeadError(nil)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(1_000_000), 1_020, 0)
	require.NoError(t, watcher.Ensure(context.Background(), session))
	require.Equal(t, models.WatcherLive, session.WatcherState())
	require.Len(t, session.Snapshot().Deposits, 1)

	calls := client.FilterCalls()
	require.Equal(t, chain.BlockRange{From: 1_001, To: 1_050}, calls[len(calls)-1])
}

func TestStopWatcher_KeepsRecords(t *testing.T) {
	watcher, client, _, session := setupWatcher(t, 1_000, 10*time.Millisecond)
	client.AddTransfer(testToken, testSender, testAccount, big.NewInt(1_000_000), 900, 0)
	require.NoError(t, watcher.Ensure(context.Background(), session))

	session.StopWatcher()
	session.StopWatcher()

	require.Equal(t, models.WatcherIdle, session.WatcherState())
	require.Len(t, session.Snapshot().Deposits, 1)
}

func TestEnsure_AfterStopAllFails(t *testing.T) {
	watcher, _, registry, session := setupWatcher(t, 1_000, time.Hour)
	require.NoError(t, watcher.Ensure(context.Background(), session))

	watcher.StopAll(registry.List())
	require.Equal(t, models.WatcherIdle, session.WatcherState())
	require.Error(t, watcher.Ensure(context.Background(), session))
}
