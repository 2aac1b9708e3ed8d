package store

import (
	"fmt"
	"math/big"
	"sync"
	"testing"

	"refund-relay-go/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	testAccount = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSender  = common.HexToAddress("0xAAAaAAaAaaaAaaAaaAaAaAAaAaaAaAAAaAaAaAaa")
)

func newTestRegistry(maxDeposits int) *Registry {
	return NewRegistry(LedgerPolicy{MinDeposit: big.NewInt(1_000_000), MaxDeposits: maxDeposits})
}

func deposit(tx string, logIndex uint, block uint64, amount int64) models.DepositRecord {
	return models.DepositRecord{
		Sender:      testSender,
		Amount:      big.NewInt(amount),
		TxHash:      common.HexToHash(tx),
		LogIndex:    logIndex,
		BlockNumber: block,
	}
}

func TestRegistry_UpsertIsCaseInsensitive(t *testing.T) {
	r := newTestRegistry(20)

	lower := common.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")
	upper := common.HexToAddress("0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD")

	first := r.Upsert(lower, "cred-1")
	second := r.Upsert(upper, "cred-1")
	require.Same(t, first, second)
	require.Len(t, r.List(), 1)

	got, ok := r.Get(upper)
	require.True(t, ok)
	require.Same(t, first, got)
}

func TestRegistry_RebindKeepsLedger(t *testing.T) {
	r := newTestRegistry(20)

	s := r.Upsert(testAccount, "cred-1")
	require.True(t, s.Record(deposit("0x01", 0, 10, 2_000_000)))

	rebound := r.Upsert(testAccount, "cred-2")
	require.Same(t, s, rebound)
	require.Equal(t, "cred-2", rebound.CredentialId())
	require.True(t, rebound.CredentialMatches("cred-2"))
	require.False(t, rebound.CredentialMatches("cred-1"))
	require.Len(t, rebound.Snapshot().Deposits, 1)
}

func TestRegistry_GetMissing(t *testing.T) {
	r := newTestRegistry(20)
	_, ok := r.Get(testAccount)
	require.False(t, ok)
}

func TestSession_RecordDedup(t *testing.T) {
	r := newTestRegistry(20)
	s := r.Upsert(testAccount, "cred")

	require.True(t, s.Record(deposit("0x01", 0, 10, 5)))
	require.True(t, s.Record(deposit("0x01", 1, 10, 5)), "same tx, different log index is a distinct deposit")
	require.True(t, s.Record(deposit("0x02", 0, 11, 5)))
	require.False(t, s.Record(deposit("0x01", 0, 10, 5)))
	require.False(t, s.Record(deposit("0x01", 0, 10, 999)), "amount of an existing record is immutable")

	snap := s.Snapshot()
	require.Len(t, snap.Deposits, 3)
	require.Equal(t, int64(5), snap.Deposits[2].Amount.Int64())
}

func TestSession_RecordDedupConcurrent(t *testing.T) {
	r := newTestRegistry(50)
	s := r.Upsert(testAccount, "cred")

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				s.Record(deposit(fmt.Sprintf("0x%02x", i+1), 0, uint64(i), 1_000_000))
			}
		}()
	}
	wg.Wait()

	require.Len(t, s.Snapshot().Deposits, 10)
}

func TestSession_ReadyThreshold(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		ready  bool
	}{
		{"exactly minimum", 1_000_000, true},
		{"one below minimum", 999_999, false},
		{"above minimum", 1_000_001, true},
		{"half of minimum", 500_000, false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestRegistry(20).Upsert(testAccount, "cred")
			rec := deposit(fmt.Sprintf("0x%02x", i+1), 0, 1, tt.amount)
			rec.Ready = !tt.ready // caller-supplied flag is ignored
			s.Record(rec)
			require.Equal(t, tt.ready, s.Snapshot().Deposits[0].Ready)
		})
	}
}

func TestSession_NewestFirstAndEviction(t *testing.T) {
	s := newTestRegistry(3).Upsert(testAccount, "cred")

	s.Record(deposit("0x01", 0, 1, 100))       // not ready, oldest
	s.Record(deposit("0x02", 0, 2, 2_000_000)) // ready
	s.Record(deposit("0x03", 0, 3, 100))
	s.Record(deposit("0x04", 0, 4, 100))

	snap := s.Snapshot()
	require.Len(t, snap.Deposits, 3)
	require.Equal(t, common.HexToHash("0x04"), snap.Deposits[0].TxHash)
	require.Equal(t, common.HexToHash("0x03"), snap.Deposits[1].TxHash)
	require.Equal(t, common.HexToHash("0x02"), snap.Deposits[2].TxHash)
	require.True(t, snap.Deposits[2].Ready, "ready record survives while the older non-ready one is evicted")

	s.Record(deposit("0x05", 0, 5, 100))
	snap = s.Snapshot()
	require.Equal(t, common.HexToHash("0x03"), snap.Deposits[2].TxHash)
}

func TestSession_RefundLifecycle(t *testing.T) {
	s := newTestRegistry(20).Upsert(testAccount, "cred")
	rec := deposit("0x01", 0, 1, 1_000_000)
	s.Record(rec)
	key := rec.Key()

	require.NoError(t, s.BeginRefund(key))
	require.ErrorIs(t, s.BeginRefund(key), ErrRefundInProgress)

	s.AbortRefund(key)
	require.False(t, s.Snapshot().Deposits[0].Refunded)

	require.NoError(t, s.BeginRefund(key))
	settlement := common.HexToHash("0xfeed")
	require.NoError(t, s.CompleteRefund(key, settlement))

	got := s.Snapshot().Deposits[0]
	require.True(t, got.Refunded)
	require.Equal(t, settlement, *got.RefundTxHash)

	require.ErrorIs(t, s.BeginRefund(key), ErrAlreadyRefunded)
	require.ErrorIs(t, s.CompleteRefund(key, common.HexToHash("0xbeef")), ErrAlreadyRefunded)
	require.Equal(t, settlement, *s.Snapshot().Deposits[0].RefundTxHash, "settlement hash is never overwritten")

	require.ErrorIs(t, s.BeginRefund(models.DepositKey{TxHash: common.HexToHash("0x99")}), ErrDepositNotFound)
}

func TestSession_FindRequiresExactMatch(t *testing.T) {
	s := newTestRegistry(20).Upsert(testAccount, "cred")
	s.Record(deposit("0x01", 2, 1, 1_000_000))

	ref := models.DepositRef{
		TxHash:   common.HexToHash("0x01"),
		LogIndex: 2,
		Sender:   testSender,
		Amount:   big.NewInt(1_000_000),
	}
	_, ok := s.Find(ref)
	require.True(t, ok)

	wrongAmount := ref
	wrongAmount.Amount = big.NewInt(1_000_001)
	_, ok = s.Find(wrongAmount)
	require.False(t, ok)

	wrongSender := ref
	wrongSender.Sender = testAccount
	_, ok = s.Find(wrongSender)
	require.False(t, ok)

	wrongIndex := ref
	wrongIndex.LogIndex = 0
	_, ok = s.Find(wrongIndex)
	require.False(t, ok)
}

func TestSession_SnapshotDoesNotAlias(t *testing.T) {
	s := newTestRegistry(20).Upsert(testAccount, "cred")
	s.Record(deposit("0x01", 0, 1, 1_000_000))

	snap := s.Snapshot()
	snap.Deposits[0].Amount.SetInt64(1)

	require.Equal(t, int64(1_000_000), s.Snapshot().Deposits[0].Amount.Int64())
}

func TestSession_CursorIsMonotonic(t *testing.T) {
	s := newTestRegistry(20).Upsert(testAccount, "cred")

	_, ok := s.LastSyncedBlock()
	require.False(t, ok)

	require.Empty(t, s.Merge(nil, 100))
	require.Empty(t, s.Merge(nil, 50))
	cursor, ok := s.LastSyncedBlock()
	require.True(t, ok)
	require.Equal(t, uint64(100), cursor)

	added := s.Merge([]models.DepositRecord{deposit("0x01", 0, 120, 1)}, 90)
	require.Len(t, added, 1)
	cursor, _ = s.LastSyncedBlock()
	require.Equal(t, uint64(100), cursor)
}

type countingHandle struct{ stops int }

func (h *countingHandle) Stop() { h.stops++ }

func TestSession_WatcherHandle(t *testing.T) {
	s := newTestRegistry(20).Upsert(testAccount, "cred")

	first := &countingHandle{}
	second := &countingHandle{}
	s.AttachWatcher(first)
	s.AttachWatcher(second)
	require.Equal(t, 1, first.stops, "replacing a watcher stops the previous one")

	require.False(t, s.DetachWatcher(first))
	s.SetWatcherState(models.WatcherLive)
	s.StopWatcher()
	require.Equal(t, 1, second.stops)
	require.Equal(t, models.WatcherIdle, s.WatcherState())
	require.False(t, s.DetachWatcher(second))
}
