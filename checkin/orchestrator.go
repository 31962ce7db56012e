package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"presence-backend/geo"
)

// DefaultFinalityTimeout bounds the wait for a submitted mint to finalize
const DefaultFinalityTimeout = 45 * time.Second

// Config holds the orchestrator settings.
type Config struct {
	// ExpectedTokenType is the created-object type of a proof-of-presence token
	ExpectedTokenType string
	// Clock is passed as the clock argument of every mint call
	Clock           string
	FinalityTimeout time.Duration
	Geofence        geo.Policy
	Retry           RetryConfig
}

// Request describes one check-in action
type Request struct {
	UserID             string
	EventID            string
	EventName          string
	EventLocationLabel string
	ImageURL           string
	Identity           SigningIdentity
	// UserCoordinate is nil when the device location could not be obtained
	UserCoordinate *geo.Coordinate
	// EventLocation is nil when the event has no geofence
	EventLocation *geo.Location
}

// Status is the result of a status query
type Status struct {
	AlreadyCheckedIn bool
	Record           *Record
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics enables the Prometheus collectors
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer overrides the tracer derived from the global provider
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithPendingStore sets where submitted but unrecorded mints are kept.
// Without it they live only as long as the Orchestrator.
func WithPendingStore(p PendingStore) Option {
	return func(o *Orchestrator) { o.pending = p }
}

// WithClock sets the time source used for snapshots and token timestamps
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator drives check-in attempts from geofence verification to a
// durable record. It is safe for concurrent use.
type Orchestrator struct {
	ledger   Ledger
	recorder Recorder
	cfg      Config

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
	pending PendingStore

	status singleflight.Group

	mu       sync.Mutex
	inflight map[string]*Attempt
}

// New creates an orchestrator over the given ledger and recorder
func New(ledger Ledger, recorder Recorder, cfg Config, opts ...Option) (*Orchestrator, error) {
	if ledger == nil || recorder == nil {
		return nil, errors.New("ledger and recorder are required")
	}
	if cfg.ExpectedTokenType == "" {
		return nil, errors.New("expected token type is required")
	}
	if cfg.FinalityTimeout <= 0 {
		cfg.FinalityTimeout = DefaultFinalityTimeout
	}
	if cfg.Geofence == "" {
		cfg.Geofence = geo.PolicyEnforce
	}
	cfg.Retry = cfg.Retry.withDefaults()

	o := &Orchestrator{
		ledger:   ledger,
		recorder: recorder,
		cfg:      cfg,
		logger:   slog.Default(),
		tracer:   otel.Tracer("presence-backend/checkin"),
		now:      time.Now,
		pending:  NewMemoryPending(),
		inflight: make(map[string]*Attempt),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func attemptKey(userID, eventID string) string {
	return userID + "|" + eventID
}

// QueryStatus reports whether the user already holds a check-in for the
// event. Concurrent identical queries share one recorder call, which is not
// tied to any single caller's cancellation.
func (o *Orchestrator) QueryStatus(ctx context.Context, userID, eventID string) (Status, error) {
	if userID == "" || eventID == "" {
		return Status{}, errors.New("user id and event id are required")
	}
	shared := context.WithoutCancel(ctx)
	ch := o.status.DoChan(attemptKey(userID, eventID), func() (interface{}, error) {
		rec, err := o.recorder.GetCheckIn(shared, userID, eventID)
		if err != nil {
			return Status{}, err
		}
		return Status{AlreadyCheckedIn: rec != nil, Record: rec}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Status{}, fmt.Errorf("query check-in status: %w", res.Err)
		}
		return res.Val.(Status), nil
	case <-ctx.Done():
		return Status{}, fmt.Errorf("query check-in status: %w", ctx.Err())
	}
}

// Pending returns the submitted but unrecorded mint for a pair, or nil. A
// Start for the pair resumes it instead of minting again.
func (o *Orchestrator) Pending(ctx context.Context, userID, eventID string) (*PendingMint, error) {
	key := attemptKey(userID, eventID)
	o.mu.Lock()
	defer o.mu.Unlock()
	if a, ok := o.inflight[key]; ok {
		o.settleLocked(ctx, key, a)
	}
	return o.pending.LoadPending(ctx, userID, eventID)
}

// Start begins a check-in attempt and returns immediately. While an attempt
// for the same user and event is in flight, Start returns that attempt.
// The attempt outlives ctx; cancel only stops observers.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Attempt, error) {
	if req.UserID == "" || req.EventID == "" {
		return nil, errors.New("user id and event id are required")
	}
	key := attemptKey(req.UserID, req.EventID)

	wallet := ""
	if req.Identity != nil {
		wallet = req.Identity.Address()
	}

	o.mu.Lock()
	if a, ok := o.inflight[key]; ok && !o.settleLocked(ctx, key, a) {
		o.mu.Unlock()
		o.metrics.observeCoalesced()
		o.logger.Debug("joined in-flight check-in", "event_id", req.EventID, "user_id", req.UserID)
		return a, nil
	}
	prev, err := o.pending.LoadPending(ctx, req.UserID, req.EventID)
	if err != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("load pending check-in: %w", err)
	}
	var a *Attempt
	if prev != nil {
		a = resumeAttempt(*prev, o.now)
		o.logger.Info("resuming check-in", "event_id", req.EventID, "user_id", req.UserID, "tx_ref", prev.TxRef, "token_id", prev.TokenID)
	} else {
		a = newAttempt(req.UserID, req.EventID, wallet, o.now)
	}
	o.inflight[key] = a
	o.mu.Unlock()

	go o.run(context.WithoutCancel(ctx), key, a, req)
	return a, nil
}

func (o *Orchestrator) run(ctx context.Context, key string, a *Attempt, req Request) {
	ctx, span := o.tracer.Start(ctx, "checkin.attempt", trace.WithAttributes(
		attribute.String("event_id", req.EventID),
		attribute.String("user_id", req.UserID),
	))
	defer span.End()

	o.execute(ctx, a, req)

	final := a.Snapshot()
	if final.Err != nil {
		span.SetStatus(codes.Error, string(final.Err.Kind))
		o.logger.Warn("check-in failed", "event_id", final.EventID, "user_id", final.UserID,
			"kind", final.Err.Kind, "tx_ref", final.TxRef, "error", final.Err)
	} else {
		o.logger.Info("check-in complete", "event_id", final.EventID, "user_id", final.UserID,
			"token_id", final.TokenID, "already_checked_in", final.AlreadyCheckedIn)
	}
	o.metrics.observeOutcome(final)

	o.mu.Lock()
	if o.inflight[key] == a {
		o.settleLocked(ctx, key, a)
	}
	o.mu.Unlock()
}

// settleLocked moves a terminal in-flight attempt out of the in-flight map,
// keeping its pending mint when a later Start must resume it. It reports
// whether a was terminal. o.mu must be held.
func (o *Orchestrator) settleLocked(ctx context.Context, key string, a *Attempt) bool {
	final := a.Snapshot()
	if !final.State.Terminal() {
		return false
	}
	delete(o.inflight, key)

	var err error
	if retainable(final) {
		err = o.pending.SavePending(ctx, pendingFrom(final))
	} else {
		err = o.pending.DeletePending(ctx, final.UserID, final.EventID)
	}
	if err != nil {
		o.logger.Error("failed to update pending check-in", "event_id", final.EventID, "user_id", final.UserID,
			"tx_ref", final.TxRef, "error", err)
	}
	return true
}

// savePending persists the ledger progress of a running attempt. The mint
// has already happened, so a failure is logged and the attempt continues.
func (o *Orchestrator) savePending(ctx context.Context, a *Attempt) {
	snap := a.Snapshot()
	if err := o.pending.SavePending(ctx, pendingFrom(snap)); err != nil {
		o.logger.Error("failed to persist pending mint", "event_id", snap.EventID, "user_id", snap.UserID,
			"tx_ref", snap.TxRef, "error", err)
	}
}

// retainable reports whether a failed attempt left an unknown or unrecorded
// ledger outcome behind.
func retainable(s Snapshot) bool {
	if !s.resumable() {
		return false
	}
	switch s.Err.Kind {
	case KindTransactionTimeout, KindNetwork:
		return true
	}
	return false
}

func (o *Orchestrator) execute(ctx context.Context, a *Attempt, req Request) {
	o.enter(a, StateVerifying)

	status, err := o.QueryStatus(ctx, req.UserID, req.EventID)
	if err != nil {
		a.fail(newError(KindNetwork, "status check failed", err))
		return
	}
	if status.AlreadyCheckedIn {
		a.update(func(s *Snapshot) {
			s.State = StateSuccess
			s.AlreadyCheckedIn = true
			s.Record = status.Record
			s.TokenID = status.Record.TokenID
			if s.TxRef == "" {
				s.TxRef = status.Record.TxRef
			}
		})
		return
	}

	snap := a.Snapshot()
	switch {
	case snap.TokenID != "":
		o.record(ctx, a)
		return
	case snap.TxRef != "":
		if o.finalize(ctx, a, req, snap.TxRef) {
			o.record(ctx, a)
		}
		return
	}

	if req.Identity == nil || req.Identity.Address() == "" {
		a.fail(newError(KindWalletNotConnected, "no signing identity", nil))
		return
	}
	if !o.checkGeofence(a, req) {
		return
	}

	txRef, ok := o.mint(ctx, a, req)
	if !ok {
		return
	}
	if o.finalize(ctx, a, req, txRef) {
		o.record(ctx, a)
	}
}

func (o *Orchestrator) enter(a *Attempt, state State) {
	a.transition(state)
	o.metrics.observeTransition(state)
}

// checkGeofence applies the configured policy and reports whether the
// attempt may proceed to minting.
func (o *Orchestrator) checkGeofence(a *Attempt, req Request) bool {
	if o.cfg.Geofence == geo.PolicyOff || req.EventLocation == nil {
		return true
	}

	var kind ErrorKind
	var msg string
	switch {
	case req.UserCoordinate == nil:
		kind, msg = KindGeoUnavailable, "user location unavailable"
	case geo.Validate(*req.UserCoordinate) != nil:
		kind, msg = KindGeoUnavailable, "user location invalid"
	case !req.EventLocation.Contains(*req.UserCoordinate):
		d := geo.DistanceMeters(*req.UserCoordinate, req.EventLocation.Coordinate)
		kind, msg = KindOutOfRange, fmt.Sprintf("%.0fm from event, radius %.0fm", d, req.EventLocation.Radius())
	default:
		return true
	}

	if o.cfg.Geofence == geo.PolicyWarn {
		a.update(func(s *Snapshot) { s.Warnings = append(s.Warnings, kind) })
		o.logger.Info("geofence warning", "event_id", req.EventID, "user_id", req.UserID, "kind", kind, "detail", msg)
		return true
	}
	a.fail(newError(kind, msg, nil))
	return false
}

func (o *Orchestrator) mint(ctx context.Context, a *Attempt, req Request) (string, bool) {
	o.enter(a, StateMinting)

	ctx, span := o.tracer.Start(ctx, "checkin.mint")
	defer span.End()

	txRef, err := o.ledger.SubmitMintCall(ctx, req.Identity, MintCall{
		EventID:            req.EventID,
		EventName:          req.EventName,
		EventLocationLabel: req.EventLocationLabel,
		ImageURL:           req.ImageURL,
		Clock:              o.cfg.Clock,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		if errors.Is(err, ErrRejected) {
			a.fail(newError(KindTransactionRejected, "mint rejected", err))
		} else {
			a.fail(newError(KindNetwork, "mint submission failed", err))
		}
		return "", false
	}
	span.SetAttributes(attribute.String("tx_ref", txRef))

	a.update(func(s *Snapshot) { s.TxRef = txRef })
	o.savePending(ctx, a)
	o.logger.Info("mint submitted", "event_id", req.EventID, "user_id", req.UserID, "tx_ref", txRef)
	return txRef, true
}

// finalize waits for the mint to finalize and extracts the token id.
func (o *Orchestrator) finalize(ctx context.Context, a *Attempt, req Request, txRef string) bool {
	o.enter(a, StateAwaitingFinality)

	ctx, span := o.tracer.Start(ctx, "checkin.finality", trace.WithAttributes(attribute.String("tx_ref", txRef)))
	defer span.End()

	started := time.Now()
	result, err := o.ledger.AwaitFinality(ctx, txRef, o.cfg.FinalityTimeout)
	o.metrics.observeFinality(time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "not finalized")
		a.fail(newError(KindTransactionTimeout, "finality not observed; the outcome is unknown", err))
		return false
	}
	if !result.Success {
		span.SetStatus(codes.Error, "reverted")
		a.fail(newError(KindTransactionRejected, "mint reverted", nil))
		return false
	}

	tokenID, err := o.ledger.ExtractCreatedObjectID(ctx, txRef, o.cfg.ExpectedTokenType)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrObjectNotFound) {
			a.fail(newError(KindMintVerificationFailed, "no "+o.cfg.ExpectedTokenType+" created", err))
		} else {
			a.fail(newError(KindNetwork, "reading created objects failed", err))
		}
		return false
	}
	span.SetAttributes(attribute.String("token_id", tokenID))

	owner := a.Snapshot().WalletAddress
	mintedAt := o.now().UnixMilli()
	a.update(func(s *Snapshot) {
		s.TokenID = tokenID
		s.Token = &Token{
			TokenID:             tokenID,
			OwnerAddress:        owner,
			EventID:             req.EventID,
			EventName:           req.EventName,
			EventLocationLabel:  req.EventLocationLabel,
			MintedAtEpochMillis: mintedAt,
		}
	})
	o.savePending(ctx, a)
	o.logger.Info("mint finalized", "event_id", req.EventID, "user_id", req.UserID, "tx_ref", txRef, "token_id", tokenID)
	return true
}

// record writes the check-in, retrying transient failures. It never mints.
func (o *Orchestrator) record(ctx context.Context, a *Attempt) {
	o.enter(a, StateRecording)
	snap := a.Snapshot()

	ctx, span := o.tracer.Start(ctx, "checkin.record", trace.WithAttributes(attribute.String("token_id", snap.TokenID)))
	defer span.End()

	req := CreateRequest{
		UserID:        snap.UserID,
		EventID:       snap.EventID,
		WalletAddress: snap.WalletAddress,
		TokenID:       snap.TokenID,
		TxRef:         snap.TxRef,
	}

	var rec *Record
	calls, err := retry(ctx, o.cfg.Retry, func(ctx context.Context, attempt int) error {
		var err error
		rec, err = o.recorder.CreateCheckIn(ctx, req)
		if err != nil && Retryable(err) {
			o.logger.Warn("recording failed", "event_id", req.EventID, "user_id", req.UserID, "attempt", attempt, "error", err)
		}
		return err
	})
	o.metrics.observeRetries(calls)
	span.SetAttributes(attribute.Int("calls", calls))

	var conflict *ConflictError
	switch {
	case err == nil:
		a.update(func(s *Snapshot) {
			s.State = StateSuccess
			s.Record = rec
		})
	case errors.As(err, &conflict):
		span.SetStatus(codes.Error, "conflict")
		a.update(func(s *Snapshot) {
			s.State = StateError
			s.Err = newError(KindBackendConflict, "already checked in", err)
			s.Record = conflict.Existing
			s.AlreadyCheckedIn = conflict.Existing != nil
		})
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "record failed")
		a.fail(newError(KindNetwork, fmt.Sprintf("recording failed after %d attempts", calls), err))
	}
}
