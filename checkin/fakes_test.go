package checkin

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const testTokenType = "0x00000000000000000000000000000000000000aa::ProofOfPresence"

type fakeIdentity struct {
	addr string
}

func (f fakeIdentity) Address() string { return f.addr }

func (f fakeIdentity) Sign(_ context.Context, digest []byte) ([]byte, error) {
	return make([]byte, 65), nil
}

type fakeLedger struct {
	mu sync.Mutex

	submits int
	awaits  int
	calls   []MintCall

	// block, when set, holds SubmitMintCall until it is closed
	block chan struct{}
	// awaitBlock, when set, holds AwaitFinality until it is closed
	awaitBlock chan struct{}
	submitErr  error
	awaitErr   error
	reverted   bool
	tokenID    string
	extractErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{tokenID: "1001"}
}

func (l *fakeLedger) SubmitMintCall(ctx context.Context, signer SigningIdentity, call MintCall) (string, error) {
	if l.block != nil {
		<-l.block
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submits++
	l.calls = append(l.calls, call)
	if l.submitErr != nil {
		return "", l.submitErr
	}
	return fmt.Sprintf("0xtx%d", l.submits), nil
}

func (l *fakeLedger) AwaitFinality(ctx context.Context, txRef string, timeout time.Duration) (TxResult, error) {
	if l.awaitBlock != nil {
		<-l.awaitBlock
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.awaits++
	if l.awaitErr != nil {
		return TxResult{}, l.awaitErr
	}
	res := TxResult{TxRef: txRef, Success: !l.reverted, BlockNumber: 7}
	if l.tokenID != "" {
		res.CreatedObjects = []CreatedObject{{Type: testTokenType, ObjectID: l.tokenID}}
	}
	return res, nil
}

func (l *fakeLedger) ExtractCreatedObjectID(ctx context.Context, txRef, expectedType string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.extractErr != nil {
		return "", l.extractErr
	}
	if l.tokenID == "" || expectedType != testTokenType {
		return "", ErrObjectNotFound
	}
	return l.tokenID, nil
}

func (l *fakeLedger) set(fn func(l *fakeLedger)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l)
}

func (l *fakeLedger) counts() (submits, awaits int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submits, l.awaits
}

type fakeRecorder struct {
	mu sync.Mutex

	records     map[string]*Record
	gets        int
	creates     int
	failCreates int
	getErr      error
	// getEntered receives the ctx of each GetCheckIn; getBlock then holds it
	getEntered chan context.Context
	getBlock   chan struct{}
	// beforeCreate runs under the lock ahead of each create
	beforeCreate func(r *fakeRecorder)
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{records: make(map[string]*Record)}
}

func (r *fakeRecorder) GetCheckIn(ctx context.Context, userID, eventID string) (*Record, error) {
	if r.getEntered != nil {
		r.getEntered <- ctx
	}
	if r.getBlock != nil {
		<-r.getBlock
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.getErr != nil {
		return nil, r.getErr
	}
	rec, ok := r.records[attemptKey(userID, eventID)]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (r *fakeRecorder) CreateCheckIn(ctx context.Context, req CreateRequest) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.beforeCreate != nil {
		r.beforeCreate(r)
	}
	if r.failCreates > 0 {
		r.failCreates--
		return nil, fmt.Errorf("request timed out: %w", ErrTransient)
	}
	key := attemptKey(req.UserID, req.EventID)
	if existing, ok := r.records[key]; ok {
		out := *existing
		if existing.TokenID == req.TokenID && existing.TxRef == req.TxRef {
			return &out, nil
		}
		return nil, &ConflictError{Existing: &out}
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		ID:            fmt.Sprintf("rec-%d", len(r.records)+1),
		UserID:        req.UserID,
		EventID:       req.EventID,
		WalletAddress: req.WalletAddress,
		TokenID:       req.TokenID,
		TxRef:         req.TxRef,
		CheckedInAt:   now,
		CreatedAt:     now,
	}
	r.records[key] = rec
	out := *rec
	return &out, nil
}

func (r *fakeRecorder) put(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[attemptKey(rec.UserID, rec.EventID)] = &rec
}

func (r *fakeRecorder) set(fn func(r *fakeRecorder)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
