package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrSequenceGap means an event arrived out of order: at least one event
	// was missed and the store can no longer be trusted without a snapshot.
	ErrSequenceGap = errors.New("sequence gap")

	// ErrUnknownRecord means an update or delete referenced an id the store
	// does not hold.
	ErrUnknownRecord = errors.New("unknown record")

	// ErrNeedsResync is returned by Apply while the store waits for a
	// snapshot. Nothing is mutated.
	ErrNeedsResync = errors.New("store needs resync")

	// ErrStaleEvent means the event's seq was already applied (or covered by
	// the last snapshot). It is ignored without affecting the store.
	ErrStaleEvent = errors.New("stale event")

	// ErrMalformedEvent means the event is missing its variant's fields.
	ErrMalformedEvent = errors.New("malformed event")
)

// SequenceGapError reports the expected and received sequence numbers.
type SequenceGapError struct {
	Expected int64
	Got      int64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("%s: expected seq %d, got %d", ErrSequenceGap, e.Expected, e.Got)
}

func (e *SequenceGapError) Unwrap() error {
	return ErrSequenceGap
}

// IsResyncTrigger reports whether err put the store into NeedsResync.
func IsResyncTrigger(err error) bool {
	return errors.Is(err, ErrSequenceGap) ||
		errors.Is(err, ErrUnknownRecord) ||
		errors.Is(err, ErrMalformedEvent)
}
