package checkin

import (
	"context"
	"time"
)

// SigningIdentity is the wallet the user signs ledger transactions with.
// It is passed explicitly so the orchestrator never reads ambient wallet state.
type SigningIdentity interface {
	Address() string
	// Sign returns a recoverable signature over a 32-byte digest
	Sign(ctx context.Context, digest []byte) ([]byte, error)
}

// MintCall carries the event metadata embedded as mint arguments
type MintCall struct {
	EventID            string
	EventName          string
	EventLocationLabel string
	ImageURL           string
	// Clock is the canonical clock object the mint function requires
	Clock string
}

// CreatedObject is one object created by a finalized transaction
type CreatedObject struct {
	Type     string
	ObjectID string
}

// TxResult is the typed effect set of a finalized transaction
type TxResult struct {
	TxRef          string
	Success        bool
	BlockNumber    uint64
	CreatedObjects []CreatedObject
}

// Created returns the ids of created objects whose type equals objectType
func (r TxResult) Created(objectType string) []string {
	var ids []string
	for _, obj := range r.CreatedObjects {
		if obj.Type == objectType {
			ids = append(ids, obj.ObjectID)
		}
	}
	return ids
}

// Ledger is the adapter to the distributed ledger. SubmitMintCall is not
// idempotent; AwaitFinality and ExtractCreatedObjectID may be retried.
type Ledger interface {
	SubmitMintCall(ctx context.Context, signer SigningIdentity, call MintCall) (string, error)
	AwaitFinality(ctx context.Context, txRef string, timeout time.Duration) (TxResult, error)
	ExtractCreatedObjectID(ctx context.Context, txRef, expectedType string) (string, error)
}

// Record is the durable check-in held by the system of record
type Record struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	EventID       string    `json:"event_id"`
	WalletAddress string    `json:"wallet_address"`
	TokenID       string    `json:"token_id"`
	TxRef         string    `json:"tx_ref"`
	CheckedInAt   time.Time `json:"checked_in_at"`
	CreatedAt     time.Time `json:"created_at"`
	EventName     string    `json:"event_name,omitempty"`
	EventImage    string    `json:"event_image,omitempty"`
}

// CreateRequest is the payload recorded once a token has been observed
type CreateRequest struct {
	UserID        string
	EventID       string
	WalletAddress string
	TokenID       string
	TxRef         string
}

// Recorder is the adapter to the system of record. CreateCheckIn must be
// idempotent for identical requests and return *ConflictError when another
// token is already recorded for the same user and event.
type Recorder interface {
	GetCheckIn(ctx context.Context, userID, eventID string) (*Record, error)
	CreateCheckIn(ctx context.Context, req CreateRequest) (*Record, error)
}
