package store

import (
	"errors"
	"math/big"
	"sync"

	"refund-relay-go/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors returned by session ledger operations.
var (
	ErrDepositNotFound  = errors.New("deposit not found")
	ErrAlreadyRefunded  = errors.New("deposit already refunded")
	ErrRefundInProgress = errors.New("refund already in progress")
)

// DefaultMaxDeposits is used when a policy does not set a retention bound.
const DefaultMaxDeposits = 20

// LedgerPolicy fixes how deposits are classified and retained.
type LedgerPolicy struct {
	MinDeposit  *big.Int
	MaxDeposits int
}

// WatcherHandle stops a running watcher. Stop must be idempotent.
type WatcherHandle interface {
	Stop()
}

// Registry owns every account session. Addresses are compared as 20-byte
// values, so lookups are case-insensitive regardless of the hex form used.
type Registry struct {
	mu       sync.RWMutex
	sessions map[common.Address]*Session
	policy   LedgerPolicy
}

// NewRegistry creates an empty registry applying policy to every ledger.
func NewRegistry(policy LedgerPolicy) *Registry {
	if policy.MaxDeposits <= 0 {
		policy.MaxDeposits = DefaultMaxDeposits
	}
	if policy.MinDeposit == nil {
		policy.MinDeposit = new(big.Int)
	}
	return &Registry{
		sessions: make(map[common.Address]*Session),
		policy:   policy,
	}
}

// Upsert creates the session for address, or rebinds the credential of an
// existing one while keeping its ledger and watcher.
func (r *Registry) Upsert(address common.Address, credentialId string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[address]; ok {
		s.mu.Lock()
		s.credentialId = credentialId
		s.mu.Unlock()
		return s
	}

	s := &Session{
		address:      address,
		credentialId: credentialId,
		policy:       r.policy,
		state:        models.WatcherIdle,
		inFlight:     make(map[models.DepositKey]struct{}),
	}
	r.sessions[address] = s
	return s
}

// Get returns the session for address.
func (r *Registry) Get(address common.Address) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[address]
	return s, ok
}

// List returns every session in no particular order.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
