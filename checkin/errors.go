package checkin

import (
	"errors"
	"fmt"
)

// ErrorKind is the normalized failure taxonomy surfaced to the UI
type ErrorKind string

const (
	KindGeoUnavailable         ErrorKind = "geo_unavailable"
	KindOutOfRange             ErrorKind = "out_of_range"
	KindWalletNotConnected     ErrorKind = "wallet_not_connected"
	KindTransactionRejected    ErrorKind = "transaction_rejected"
	KindTransactionTimeout     ErrorKind = "transaction_timeout"
	KindMintVerificationFailed ErrorKind = "mint_verification_failed"
	KindBackendConflict        ErrorKind = "backend_conflict"
	KindNetwork                ErrorKind = "network_error"
)

// Sentinel errors returned (optionally wrapped) by ledger and recorder adapters.
var (
	// ErrRejected means the signer or the ledger refused the transaction
	ErrRejected = errors.New("transaction rejected")
	// ErrNotFinalized means finality was not observed in time; the outcome is unknown
	ErrNotFinalized = errors.New("transaction not finalized")
	// ErrObjectNotFound means a finalized transaction created no object of the expected type
	ErrObjectNotFound = errors.New("created object not found")
	// ErrTransient marks a retryable network or availability failure
	ErrTransient = errors.New("transient failure")
)

// Error is the terminal error of an attempt
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the kind of an attempt error, or "" if err is not one
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ConflictError is returned by a Recorder when a different check-in already
// exists for the same user and event.
type ConflictError struct {
	Existing *Record
}

func (e *ConflictError) Error() string {
	if e.Existing == nil {
		return "check-in already recorded"
	}
	return fmt.Sprintf("check-in already recorded with token %s", e.Existing.TokenID)
}

// Retryable reports whether a recording error is worth another attempt
func Retryable(err error) bool {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return false
	}
	return errors.Is(err, ErrTransient)
}
