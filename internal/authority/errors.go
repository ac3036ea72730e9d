package authority

import (
	"errors"
	"fmt"
)

// ErrInvalidRecord is returned for writes whose fields do not satisfy the
// collection schema.
var ErrInvalidRecord = errors.New("invalid record")

// ProtocolError reports a client frame the authority refused. It is sent
// back to the client as an error frame; the session stays open.
type ProtocolError struct {
	Op      string
	QueryID string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.QueryID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.QueryID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
