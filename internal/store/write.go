package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/livesync/internal/ir"
)

// Change is one row of the change log: a committed mutation with the record
// image before and after it. Before is nil for inserts, After for deletes.
type Change struct {
	Seq        int64
	Kind       ir.ChangeKind
	Collection string
	RecordID   ir.RecordID
	Before     *ir.Record
	After      *ir.Record
}

// Deltas returns the field deltas of an update, or nil for other kinds.
func (c Change) Deltas() ir.IRObject {
	if c.Before == nil || c.After == nil {
		return nil
	}
	return ir.Diff(c.Before.Fields, c.After.Fields)
}

// Put inserts rec or replaces the fields of the existing record with the same
// id. Null fields are not stored. The stored version starts at 1 and is bumped on every effective
// change; rec.Version is ignored.
//
// Writing fields equal to the stored ones is a no-op and reports false.
func (s *Store) Put(ctx context.Context, rec ir.Record) (Change, bool, error) {
	if rec.ID == "" {
		return Change{}, false, fmt.Errorf("put: record id is required")
	}
	if rec.Collection == "" {
		return Change{}, false, fmt.Errorf("put %s: collection is required", rec.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Change{}, false, fmt.Errorf("put %s: begin: %w", rec.ID, err)
	}
	defer tx.Rollback()

	before, err := getRecord(ctx, tx, rec.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		change, err := insertRecord(ctx, tx, rec)
		if err != nil {
			return Change{}, false, fmt.Errorf("put %s: %w", rec.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return Change{}, false, fmt.Errorf("put %s: commit: %w", rec.ID, err)
		}
		return change, true, nil
	case err != nil:
		return Change{}, false, fmt.Errorf("put %s: %w", rec.ID, err)
	}

	if before.Collection != rec.Collection {
		return Change{}, false, fmt.Errorf("put %s: stored in %s, not %s: %w",
			rec.ID, before.Collection, rec.Collection, ErrCollectionMismatch)
	}

	change, changed, err := updateRecord(ctx, tx, before, rec.Fields)
	if err != nil || !changed {
		return change, false, err
	}
	if err := tx.Commit(); err != nil {
		return Change{}, false, fmt.Errorf("put %s: commit: %w", rec.ID, err)
	}
	return change, true, nil
}

// Patch applies field deltas to an existing record. An IRNull delta removes
// the field. Returns ErrNotFound for an unknown id; deltas that change
// nothing report false.
func (s *Store) Patch(ctx context.Context, id ir.RecordID, deltas ir.IRObject) (Change, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Change{}, false, fmt.Errorf("patch %s: begin: %w", id, err)
	}
	defer tx.Rollback()

	before, err := getRecord(ctx, tx, id)
	if err != nil {
		return Change{}, false, fmt.Errorf("patch %s: %w", id, err)
	}

	change, changed, err := updateRecord(ctx, tx, before, ir.ApplyDeltas(before.Fields, deltas))
	if err != nil || !changed {
		return change, false, err
	}
	if err := tx.Commit(); err != nil {
		return Change{}, false, fmt.Errorf("patch %s: commit: %w", id, err)
	}
	return change, true, nil
}

// Delete removes a record. Returns ErrNotFound for an unknown id.
func (s *Store) Delete(ctx context.Context, id ir.RecordID) (Change, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Change{}, fmt.Errorf("delete %s: begin: %w", id, err)
	}
	defer tx.Rollback()

	before, err := getRecord(ctx, tx, id)
	if err != nil {
		return Change{}, fmt.Errorf("delete %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, string(id)); err != nil {
		return Change{}, fmt.Errorf("delete %s: %w", id, err)
	}

	change := Change{
		Kind:       ir.ChangeDelete,
		Collection: before.Collection,
		RecordID:   id,
		Before:     &before,
	}
	if change.Seq, err = appendChange(ctx, tx, change); err != nil {
		return Change{}, fmt.Errorf("delete %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Change{}, fmt.Errorf("delete %s: commit: %w", id, err)
	}
	return change, nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec ir.Record) (Change, error) {
	after := ir.Record{ID: rec.ID, Collection: rec.Collection, Fields: ir.WithoutNulls(rec.Fields), Version: 1}
	fieldsJSON, err := marshalFields(after.Fields)
	if err != nil {
		return Change{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (id, collection, fields, version, position)
		VALUES (?, ?, ?, 1, (SELECT COALESCE(MAX(position), 0) + 1 FROM records))
	`, string(rec.ID), rec.Collection, fieldsJSON)
	if err != nil {
		return Change{}, fmt.Errorf("insert record: %w", err)
	}

	change := Change{
		Kind:       ir.ChangeInsert,
		Collection: rec.Collection,
		RecordID:   rec.ID,
		After:      &after,
	}
	if change.Seq, err = appendChange(ctx, tx, change); err != nil {
		return Change{}, err
	}
	return change, nil
}

func updateRecord(ctx context.Context, tx *sql.Tx, before ir.Record, fields ir.IRObject) (Change, bool, error) {
	fields = ir.WithoutNulls(fields)
	if ir.Equal(before.Fields, fields) {
		return Change{}, false, nil
	}

	fieldsJSON, err := marshalFields(fields)
	if err != nil {
		return Change{}, false, err
	}

	after := ir.Record{ID: before.ID, Collection: before.Collection, Fields: fields.Clone(), Version: before.Version + 1}
	_, err = tx.ExecContext(ctx, `
		UPDATE records SET fields = ?, version = ? WHERE id = ?
	`, fieldsJSON, after.Version, string(before.ID))
	if err != nil {
		return Change{}, false, fmt.Errorf("update record %s: %w", before.ID, err)
	}

	change := Change{
		Kind:       ir.ChangeUpdate,
		Collection: before.Collection,
		RecordID:   before.ID,
		Before:     &before,
		After:      &after,
	}
	if change.Seq, err = appendChange(ctx, tx, change); err != nil {
		return Change{}, false, err
	}
	return change, true, nil
}

func appendChange(ctx context.Context, tx *sql.Tx, c Change) (int64, error) {
	beforeJSON, err := marshalImage(c.Before)
	if err != nil {
		return 0, err
	}
	afterJSON, err := marshalImage(c.After)
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO changes (kind, record_id, collection, before, after)
		VALUES (?, ?, ?, ?, ?)
	`, string(c.Kind), string(c.RecordID), c.Collection, beforeJSON, afterJSON)
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	return seq, nil
}
