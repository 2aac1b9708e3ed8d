package store

import (
	"crypto/subtle"
	"sync"

	"refund-relay-go/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// Session is the per-account state: bound credential, deposit ledger and
// watcher bookkeeping. All fields are guarded by mu; callers never perform
// remote I/O while holding it.
type Session struct {
	address common.Address
	policy  LedgerPolicy

	mu           sync.Mutex
	credentialId string
	deposits     []models.DepositRecord // newest first
	state        models.WatcherState
	synced       bool
	lastSynced   uint64
	watcher      WatcherHandle
	inFlight     map[models.DepositKey]struct{}
}

// Address returns the account address.
func (s *Session) Address() common.Address {
	return s.address
}

// CredentialId returns the currently bound credential.
func (s *Session) CredentialId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credentialId
}

// CredentialMatches compares in constant time.
func (s *Session) CredentialMatches(credentialId string) bool {
	s.mu.Lock()
	bound := s.credentialId
	s.mu.Unlock()
	return subtle.ConstantTimeCompare([]byte(bound), []byte(credentialId)) == 1
}

// Record merges one deposit into the ledger. It returns false when a record
// with the same (tx hash, log index) already exists.
func (s *Session) Record(rec models.DepositRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(rec)
}

// Merge records deposits in the given order and advances the sync cursor to
// syncedTo. It returns copies of the records that were new.
func (s *Session) Merge(recs []models.DepositRecord, syncedTo uint64) []models.DepositRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []models.DepositRecord
	for _, rec := range recs {
		if s.recordLocked(rec) {
			added = append(added, s.deposits[0].Clone())
		}
	}
	s.advanceLocked(syncedTo)
	return added
}

func (s *Session) recordLocked(rec models.DepositRecord) bool {
	key := rec.Key()
	for _, existing := range s.deposits {
		if existing.Key() == key {
			return false
		}
	}

	rec = rec.Clone()
	rec.Ready = rec.Amount != nil && rec.Amount.Cmp(s.policy.MinDeposit) >= 0
	rec.Refunded = false
	rec.RefundTxHash = nil

	s.deposits = append(s.deposits, models.DepositRecord{})
	copy(s.deposits[1:], s.deposits)
	s.deposits[0] = rec

	// Evict strictly from the tail: the oldest insertion goes first.
	for len(s.deposits) > s.policy.MaxDeposits {
		s.deposits = s.deposits[:len(s.deposits)-1]
	}
	return true
}

// Find returns a copy of the record exactly matching ref on tx hash, log
// index, sender and amount.
func (s *Session) Find(ref models.DepositRef) (models.DepositRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.deposits {
		if rec.TxHash != ref.TxHash || rec.LogIndex != ref.LogIndex {
			continue
		}
		if rec.Sender != ref.Sender || ref.Amount == nil || rec.Amount.Cmp(ref.Amount) != 0 {
			return models.DepositRecord{}, false
		}
		return rec.Clone(), true
	}
	return models.DepositRecord{}, false
}

// BeginRefund reserves the deposit for a single settlement attempt.
func (s *Session) BeginRefund(key models.DepositKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.lookupLocked(key)
	if rec == nil {
		return ErrDepositNotFound
	}
	if rec.Refunded {
		return ErrAlreadyRefunded
	}
	if _, busy := s.inFlight[key]; busy {
		return ErrRefundInProgress
	}
	s.inFlight[key] = struct{}{}
	return nil
}

// AbortRefund releases a reservation without touching the record.
func (s *Session) AbortRefund(key models.DepositKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

// CompleteRefund marks the deposit refunded with the settlement tx hash. A
// refunded record is never overwritten.
func (s *Session) CompleteRefund(key models.DepositKey, settlement common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, key)
	rec := s.lookupLocked(key)
	if rec == nil {
		return ErrDepositNotFound
	}
	if rec.Refunded {
		return ErrAlreadyRefunded
	}
	rec.Refunded = true
	rec.RefundTxHash = &settlement
	return nil
}

func (s *Session) lookupLocked(key models.DepositKey) *models.DepositRecord {
	for i := range s.deposits {
		if s.deposits[i].Key() == key {
			return &s.deposits[i]
		}
	}
	return nil
}

// LastSyncedBlock returns the sync cursor, if one has been set.
func (s *Session) LastSyncedBlock() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSynced, s.synced
}

func (s *Session) advanceLocked(block uint64) {
	if !s.synced || block > s.lastSynced {
		s.lastSynced = block
		s.synced = true
	}
}

// WatcherState returns the current watcher state.
func (s *Session) WatcherState() models.WatcherState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetWatcherState records a watcher state transition.
func (s *Session) SetWatcherState(state models.WatcherState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// AttachWatcher installs h as the active watcher, stopping any previous one.
func (s *Session) AttachWatcher(h WatcherHandle) {
	s.mu.Lock()
	prev := s.watcher
	s.watcher = h
	s.mu.Unlock()

	if prev != nil && prev != h {
		prev.Stop()
	}
}

// DetachWatcher clears h if it is still the active watcher and reports
// whether it was.
func (s *Session) DetachWatcher(h WatcherHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != h {
		return false
	}
	s.watcher = nil
	return true
}

// StopWatcher stops and clears the active watcher, if any.
func (s *Session) StopWatcher() {
	s.mu.Lock()
	h := s.watcher
	s.watcher = nil
	if s.state == models.WatcherLive {
		s.state = models.WatcherIdle
	}
	s.mu.Unlock()

	if h != nil {
		h.Stop()
	}
}

// Snapshot returns a deep copy of the session state.
func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	deposits := make([]models.DepositRecord, len(s.deposits))
	for i, rec := range s.deposits {
		deposits[i] = rec.Clone()
	}
	snap := models.SessionSnapshot{
		Address:      s.address,
		CredentialId: s.credentialId,
		Deposits:     deposits,
		State:        s.state,
	}
	if s.synced {
		cursor := s.lastSynced
		snap.LastSyncedBlock = &cursor
	}
	return snap
}
