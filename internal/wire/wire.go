// Package wire defines the JSON messages exchanged between a livesync client
// and the authority over a WebSocket connection.
//
// Client to authority:
//
//	{"type":"subscribe","query_id":"…","query":{…}}
//	{"type":"unsubscribe","query_id":"…"}
//	{"type":"snapshot_request"}
//
// Authority to client:
//
//	{"type":"snapshot","snapshot":{"seq":7,"records":[…]}}
//	{"type":"event","event":{"seq":8,"kind":"update","id":"…","deltas":{…}}}
//	{"type":"error","error":"…"}
//
// Subscribe and unsubscribe are keyed by query id and idempotent, so a client
// may resend them after every reconnect.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/predicate"
)

// ErrMalformedMessage is returned by Decode for frames that are not valid
// protocol messages.
var ErrMalformedMessage = errors.New("malformed wire message")

// Type tags a message.
type Type string

const (
	TypeSubscribe       Type = "subscribe"
	TypeUnsubscribe     Type = "unsubscribe"
	TypeSnapshotRequest Type = "snapshot_request"
	TypeSnapshot        Type = "snapshot"
	TypeEvent           Type = "event"
	TypeError           Type = "error"
)

// Message is one protocol frame. Which fields are set depends on Type.
type Message struct {
	Type     Type             `json:"type"`
	QueryID  string           `json:"query_id,omitempty"`
	Query    *predicate.Query `json:"query,omitempty"`
	Snapshot *ir.Snapshot     `json:"snapshot,omitempty"`
	Event    *ir.ChangeEvent  `json:"event,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Subscribe registers a query under id.
func Subscribe(id string, q predicate.Query) Message {
	return Message{Type: TypeSubscribe, QueryID: id, Query: &q}
}

// Unsubscribe withdraws the query registered under id.
func Unsubscribe(id string) Message {
	return Message{Type: TypeUnsubscribe, QueryID: id}
}

// SnapshotRequest asks for a snapshot of every subscribed query.
func SnapshotRequest() Message {
	return Message{Type: TypeSnapshotRequest}
}

// SnapshotMessage carries a snapshot.
func SnapshotMessage(snap ir.Snapshot) Message {
	return Message{Type: TypeSnapshot, Snapshot: &snap}
}

// EventMessage carries one change event.
func EventMessage(ev ir.ChangeEvent) Message {
	return Message{Type: TypeEvent, Event: &ev}
}

// ErrorMessage reports a protocol error to the peer.
func ErrorMessage(format string, args ...any) Message {
	return Message{Type: TypeError, Error: fmt.Sprintf(format, args...)}
}

// Validate checks that the fields required by m.Type are present.
func (m Message) Validate() error {
	switch m.Type {
	case TypeSubscribe:
		if m.QueryID == "" || m.Query == nil {
			return fmt.Errorf("%w: subscribe requires query_id and query", ErrMalformedMessage)
		}
		if m.Query.Collection == "" {
			return fmt.Errorf("%w: subscribe query has no collection", ErrMalformedMessage)
		}
	case TypeUnsubscribe:
		if m.QueryID == "" {
			return fmt.Errorf("%w: unsubscribe requires query_id", ErrMalformedMessage)
		}
	case TypeSnapshotRequest:
	case TypeSnapshot:
		if m.Snapshot == nil {
			return fmt.Errorf("%w: snapshot message without snapshot", ErrMalformedMessage)
		}
	case TypeEvent:
		if m.Event == nil {
			return fmt.Errorf("%w: event message without event", ErrMalformedMessage)
		}
		if err := m.Event.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	case TypeError:
		if m.Error == "" {
			return fmt.Errorf("%w: error message without text", ErrMalformedMessage)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, m.Type)
	}
	return nil
}

// Encode validates and serializes m.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses and validates one frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
