package checkin

import (
	"context"
	"sync"
	"time"
)

// PendingMint is the ledger progress of an attempt whose mint was submitted
// but whose check-in is not recorded yet.
type PendingMint struct {
	UserID        string    `json:"user_id"`
	EventID       string    `json:"event_id"`
	WalletAddress string    `json:"wallet_address"`
	TxRef         string    `json:"tx_ref"`
	TokenID       string    `json:"token_id,omitempty"`
	Token         *Token    `json:"token,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PendingStore keeps pending mints across process restarts so a later Start
// resumes the submitted transaction instead of minting again.
type PendingStore interface {
	// LoadPending returns nil when nothing is pending for the pair
	LoadPending(ctx context.Context, userID, eventID string) (*PendingMint, error)
	SavePending(ctx context.Context, p PendingMint) error
	DeletePending(ctx context.Context, userID, eventID string) error
}

func pendingFrom(s Snapshot) PendingMint {
	p := PendingMint{
		UserID:        s.UserID,
		EventID:       s.EventID,
		WalletAddress: s.WalletAddress,
		TxRef:         s.TxRef,
		TokenID:       s.TokenID,
		UpdatedAt:     s.UpdatedAt,
	}
	if s.Token != nil {
		t := *s.Token
		p.Token = &t
	}
	return p
}

// MemoryPending is a process-local PendingStore
type MemoryPending struct {
	mu      sync.Mutex
	pending map[string]PendingMint
}

func NewMemoryPending() *MemoryPending {
	return &MemoryPending{pending: make(map[string]PendingMint)}
}

func (m *MemoryPending) LoadPending(_ context.Context, userID, eventID string) (*PendingMint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[attemptKey(userID, eventID)]
	if !ok {
		return nil, nil
	}
	if p.Token != nil {
		t := *p.Token
		p.Token = &t
	}
	return &p, nil
}

func (m *MemoryPending) SavePending(_ context.Context, p PendingMint) error {
	if p.Token != nil {
		t := *p.Token
		p.Token = &t
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[attemptKey(p.UserID, p.EventID)] = p
	return nil
}

func (m *MemoryPending) DeletePending(_ context.Context, userID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, attemptKey(userID, eventID))
	return nil
}
