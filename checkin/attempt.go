package checkin

import (
	"context"
	"sync"
	"time"
)

// State is a step of the check-in state machine
type State string

const (
	StateIdle             State = "idle"
	StateVerifying        State = "verifying"
	StateMinting          State = "minting"
	StateAwaitingFinality State = "awaiting_finality"
	StateRecording        State = "recording"
	StateSuccess          State = "success"
	StateError            State = "error"
)

// Terminal reports whether no further transitions follow s
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateError
}

// Token is the proof-of-presence token as observed on the ledger
type Token struct {
	TokenID             string `json:"token_id"`
	OwnerAddress        string `json:"owner_address"`
	EventID             string `json:"event_id"`
	EventName           string `json:"event_name"`
	EventLocationLabel  string `json:"event_location_label"`
	MintedAtEpochMillis int64  `json:"minted_at_epoch_millis"`
}

// Snapshot is an immutable view of an attempt at one point in time
type Snapshot struct {
	EventID       string
	UserID        string
	WalletAddress string
	State         State
	Err           *Error
	TxRef         string
	TokenID       string
	Token         *Token
	Record        *Record
	// AlreadyCheckedIn is set when the terminal outcome came from an existing record
	AlreadyCheckedIn bool
	Warnings         []ErrorKind
	UpdatedAt        time.Time
}

// ErrorKind returns the kind of the last error, or "" when there is none
func (s Snapshot) ErrorKind() ErrorKind {
	if s.Err == nil {
		return ""
	}
	return s.Err.Kind
}

const subscriberBuffer = 16

// Attempt is one check-in invocation for a (user, event) pair. Its state is
// published to subscribers as a stream of snapshots.
type Attempt struct {
	mu   sync.Mutex
	snap Snapshot
	subs []chan Snapshot
	done chan struct{}
	now  func() time.Time
}

func newAttempt(userID, eventID, wallet string, now func() time.Time) *Attempt {
	return &Attempt{
		snap: Snapshot{
			EventID:       eventID,
			UserID:        userID,
			WalletAddress: wallet,
			State:         StateIdle,
			UpdatedAt:     now(),
		},
		done: make(chan struct{}),
		now:  now,
	}
}

// resumeAttempt starts a fresh attempt that carries the ledger facts already
// obtained for the pair, so the retry never submits a second mint.
func resumeAttempt(prev PendingMint, now func() time.Time) *Attempt {
	a := newAttempt(prev.UserID, prev.EventID, prev.WalletAddress, now)
	a.snap.TxRef = prev.TxRef
	a.snap.TokenID = prev.TokenID
	if prev.Token != nil {
		t := *prev.Token
		a.snap.Token = &t
	}
	return a
}

// resumable reports whether a failed attempt holds ledger state a retry must reuse
func (s Snapshot) resumable() bool {
	return s.State == StateError && s.TxRef != ""
}

// Snapshot returns the current state of the attempt
func (a *Attempt) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap.clone()
}

// Subscribe returns a channel that first yields the current snapshot and then
// every transition. A slow reader may miss intermediate snapshots, but the
// last value before the channel closes is always the terminal one. The
// returned func unsubscribes early.
func (a *Attempt) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	a.mu.Lock()
	defer a.mu.Unlock()

	ch <- a.snap.clone()
	if a.snap.State.Terminal() {
		close(ch)
		return ch, func() {}
	}
	a.subs = append(a.subs, ch)

	return ch, func() { a.unsubscribe(ch) }
}

// Done is closed when the attempt reaches a terminal state
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the attempt is terminal or ctx is done. Cancelling ctx
// stops the wait only; the attempt keeps running.
func (a *Attempt) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-a.done:
		return a.Snapshot(), nil
	case <-ctx.Done():
		return a.Snapshot(), ctx.Err()
	}
}

func (a *Attempt) unsubscribe(ch chan Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, sub := range a.subs {
		if sub == ch {
			a.subs = append(a.subs[:i], a.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// update applies fn to the snapshot and publishes the result
func (a *Attempt) update(fn func(s *Snapshot)) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.snap.State.Terminal() {
		return a.snap.clone()
	}
	fn(&a.snap)
	a.snap.UpdatedAt = a.now()
	out := a.snap.clone()

	terminal := out.State.Terminal()
	for _, sub := range a.subs {
		publish(sub, out, terminal)
	}
	if terminal {
		for _, sub := range a.subs {
			close(sub)
		}
		a.subs = nil
		close(a.done)
	}
	return out
}

// publish sends s without blocking. A full buffer drops s, unless s is
// terminal, in which case the oldest buffered snapshot makes room for it.
// Callers hold a.mu, so no other send races for the freed slot.
func publish(sub chan Snapshot, s Snapshot, terminal bool) {
	select {
	case sub <- s:
		return
	default:
	}
	if !terminal {
		return
	}
	select {
	case <-sub:
	default:
	}
	select {
	case sub <- s:
	default:
	}
}

func (a *Attempt) transition(state State) Snapshot {
	return a.update(func(s *Snapshot) {
		s.State = state
		if !state.Terminal() {
			s.Err = nil
		}
	})
}

func (a *Attempt) fail(err *Error) Snapshot {
	return a.update(func(s *Snapshot) {
		s.State = StateError
		s.Err = err
	})
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Warnings != nil {
		out.Warnings = append([]ErrorKind(nil), s.Warnings...)
	}
	if s.Token != nil {
		t := *s.Token
		out.Token = &t
	}
	if s.Record != nil {
		r := *s.Record
		out.Record = &r
	}
	return out
}
