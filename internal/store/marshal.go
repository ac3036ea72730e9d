package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/livesync/internal/ir"
)

// marshalFields converts an IRObject to canonical JSON TEXT for storage.
func marshalFields(fields ir.IRObject) (string, error) {
	if fields == nil {
		fields = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses canonical JSON TEXT to IRObject. Integers go through
// json.Number, so values above 2^53 survive.
func unmarshalFields(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var fields ir.IRObject
	if err := fields.UnmarshalJSON([]byte(data)); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return fields, nil
}

// marshalImage encodes one side of a change (fields plus version). A nil
// record stores SQL NULL.
func marshalImage(r *ir.Record) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	fields := r.Fields
	if fields == nil {
		fields = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(ir.IRObject{
		"fields":  fields,
		"version": ir.IRInt(r.Version),
	})
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal image: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalImage(id ir.RecordID, collection string, data sql.NullString) (*ir.Record, error) {
	if !data.Valid {
		return nil, nil
	}
	var obj ir.IRObject
	if err := obj.UnmarshalJSON([]byte(data.String)); err != nil {
		return nil, fmt.Errorf("unmarshal image: %w", err)
	}
	fields, _ := obj["fields"].(ir.IRObject)
	version, ok := obj["version"].(ir.IRInt)
	if !ok {
		return nil, fmt.Errorf("unmarshal image: version missing for %s", id)
	}
	if fields == nil {
		fields = ir.IRObject{}
	}
	return &ir.Record{ID: id, Collection: collection, Fields: fields, Version: int64(version)}, nil
}
