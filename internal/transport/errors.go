package transport

import (
	"errors"
	"fmt"
)

// ErrTransport matches every connectivity failure (errors.Is).
//
// Transport errors are never returned to callers of the live query API. They
// surface only as connection-status transitions and in logs.
var ErrTransport = errors.New("transport error")

// Error describes one failed connection operation.
type Error struct {
	// Op is the failed operation: "dial", "read", or "write".
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every *Error match ErrTransport.
func (e *Error) Is(target error) bool {
	return target == ErrTransport
}

// IsTransportError reports whether err is a connectivity failure.
func IsTransportError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}
