package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/livesync/internal/entity"
	"github.com/roach88/livesync/internal/ir"
)

// ErrStopped is returned by Sync once the engine's queue is closed.
var ErrStopped = errors.New("engine stopped")

// SyncError represents an inbound change the engine could not apply.
//
// Sync errors include:
//   - Sequence gap: an event was missed
//   - Unknown record: update/delete of an id the cache does not hold
//   - Needs resync: the cache is waiting for a snapshot
//   - Stale event: the event was already applied
//   - Malformed event: the event is missing its variant's fields
//
// None of these corrupt live query results: the affected results keep their
// last consistent contents until the next snapshot.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Seq is the sequence number of the rejected event.
	Seq int64

	// RecordID identifies the record the event targeted, if any.
	RecordID ir.RecordID

	// Err is the underlying store error.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeSequenceGap indicates a missed event.
	ErrCodeSequenceGap SyncErrorCode = "SEQUENCE_GAP"

	// ErrCodeUnknownRecord indicates an update or delete of an unknown id.
	ErrCodeUnknownRecord SyncErrorCode = "UNKNOWN_RECORD"

	// ErrCodeNeedsResync indicates the event arrived while waiting for a snapshot.
	ErrCodeNeedsResync SyncErrorCode = "NEEDS_RESYNC"

	// ErrCodeStaleEvent indicates an already applied seq.
	ErrCodeStaleEvent SyncErrorCode = "STALE_EVENT"

	// ErrCodeMalformedEvent indicates an invalid event payload.
	ErrCodeMalformedEvent SyncErrorCode = "MALFORMED_EVENT"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("%s: seq %d (record=%s): %v", e.Code, e.Seq, e.RecordID, e.Err)
	}
	return fmt.Sprintf("%s: seq %d: %v", e.Code, e.Seq, e.Err)
}

// Unwrap exposes the store sentinel so errors.Is(err, entity.ErrSequenceGap)
// works through a SyncError.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// newSyncError classifies a store error.
func newSyncError(ev ir.ChangeEvent, err error) *SyncError {
	code := ErrCodeMalformedEvent
	switch {
	case errors.Is(err, entity.ErrSequenceGap):
		code = ErrCodeSequenceGap
	case errors.Is(err, entity.ErrUnknownRecord):
		code = ErrCodeUnknownRecord
	case errors.Is(err, entity.ErrNeedsResync):
		code = ErrCodeNeedsResync
	case errors.Is(err, entity.ErrStaleEvent):
		code = ErrCodeStaleEvent
	}
	return &SyncError{Code: code, Seq: ev.Seq, RecordID: ev.TargetID(), Err: err}
}

// IsResyncError reports whether err left the cache waiting for a snapshot.
// Uses errors.As to handle wrapped errors.
func IsResyncError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code != ErrCodeStaleEvent
	}
	return false
}

// IsStaleError reports whether err is a harmless duplicate delivery.
func IsStaleError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeStaleEvent
	}
	return false
}
