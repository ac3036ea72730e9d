package ir

import (
	"encoding/json"
	"fmt"
)

// RecordID is the stable identity of a record, assigned by the authority.
type RecordID string

// Record is one typed entity in a collection.
type Record struct {
	ID         RecordID `json:"id"`
	Collection string   `json:"collection"`
	Fields     IRObject `json:"fields"`
	Version    int64    `json:"version"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.Fields = r.Fields.Clone()
	return r
}

// ChangeKind tags the variant carried by a ChangeEvent.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is one sequence-numbered mutation pushed by the authority.
//
//   - insert: Record is set (ID is taken from Record.ID)
//   - update: ID and Deltas are set; an IRNull delta removes the field
//   - delete: ID is set
//
// Seq is strictly increasing per connection. A gap means an event was missed.
type ChangeEvent struct {
	Seq    int64      `json:"seq"`
	Kind   ChangeKind `json:"kind"`
	ID     RecordID   `json:"id,omitempty"`
	Record *Record    `json:"record,omitempty"`
	Deltas IRObject   `json:"deltas,omitempty"`
}

// Insert builds an insert event.
func Insert(seq int64, r Record) ChangeEvent {
	return ChangeEvent{Seq: seq, Kind: ChangeInsert, ID: r.ID, Record: &r}
}

// Update builds an update event.
func Update(seq int64, id RecordID, deltas IRObject) ChangeEvent {
	return ChangeEvent{Seq: seq, Kind: ChangeUpdate, ID: id, Deltas: deltas}
}

// Delete builds a delete event.
func Delete(seq int64, id RecordID) ChangeEvent {
	return ChangeEvent{Seq: seq, Kind: ChangeDelete, ID: id}
}

// TargetID returns the id of the record the event touches.
func (e ChangeEvent) TargetID() RecordID {
	if e.Kind == ChangeInsert && e.Record != nil {
		return e.Record.ID
	}
	return e.ID
}

// Validate checks the variant's required fields.
func (e ChangeEvent) Validate() error {
	switch e.Kind {
	case ChangeInsert:
		if e.Record == nil {
			return fmt.Errorf("insert event %d: record is required", e.Seq)
		}
		if e.Record.ID == "" {
			return fmt.Errorf("insert event %d: record id is required", e.Seq)
		}
	case ChangeUpdate:
		if e.ID == "" {
			return fmt.Errorf("update event %d: id is required", e.Seq)
		}
	case ChangeDelete:
		if e.ID == "" {
			return fmt.Errorf("delete event %d: id is required", e.Seq)
		}
	default:
		return fmt.Errorf("event %d: unknown kind %q", e.Seq, e.Kind)
	}
	return nil
}

// Snapshot is the full state the authority holds for a client's
// subscriptions as of Seq. Records are in authority insertion order.
type Snapshot struct {
	Seq     int64    `json:"seq"`
	Records []Record `json:"records"`
}

// MarshalJSON keeps a nil record list encoded as [] so that an empty snapshot
// is distinguishable from a missing one on the wire.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type alias Snapshot
	if s.Records == nil {
		s.Records = []Record{}
	}
	return json.Marshal(alias(s))
}

// FieldSchema declares the kind of one field in a collection.
type FieldSchema struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// CollectionSchema declares the typed fields of a collection.
type CollectionSchema struct {
	Name   string        `json:"name"`
	Fields []FieldSchema `json:"fields"`
}

// Field returns the declared field named name.
func (c CollectionSchema) Field(name string) (FieldSchema, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// Check reports fields whose value kind does not match the declaration.
// Undeclared fields and nulls are allowed.
func (c CollectionSchema) Check(fields IRObject) error {
	for _, name := range fields.SortedKeys() {
		decl, ok := c.Field(name)
		if !ok {
			continue
		}
		got := KindOf(fields[name])
		if got != KindNull && got != decl.Kind {
			return fmt.Errorf("collection %s: field %q is %s, declared %s", c.Name, name, got, decl.Kind)
		}
	}
	return nil
}
