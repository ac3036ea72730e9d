package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/livesync/internal/ir"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns the current version of a record, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id ir.RecordID) (ir.Record, error) {
	rec, err := getRecord(ctx, s.db, id)
	if err != nil {
		return ir.Record{}, fmt.Errorf("get %s: %w", id, err)
	}
	return rec, nil
}

func getRecord(ctx context.Context, q queryer, id ir.RecordID) (ir.Record, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, collection, fields, version
		FROM records
		WHERE id = ?
	`, string(id))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Record{}, ErrNotFound
	}
	return rec, err
}

// Records returns every record of a collection in insertion order.
// Returns an empty slice (not nil) for an empty or unknown collection.
func (s *Store) Records(ctx context.Context, collection string) ([]ir.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, fields, version
		FROM records
		WHERE collection = ?
		ORDER BY position ASC
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return collectRecords(rows)
}

// All returns every record across collections in insertion order.
func (s *Store) All(ctx context.Context) ([]ir.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, fields, version
		FROM records
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return collectRecords(rows)
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func collectRecords(rows *sql.Rows) ([]ir.Record, error) {
	defer rows.Close()

	records := []ir.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (ir.Record, error) {
	var (
		rec        ir.Record
		id         string
		fieldsJSON string
	)
	if err := sc.Scan(&id, &rec.Collection, &fieldsJSON, &rec.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Record{}, err
		}
		return ir.Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.ID = ir.RecordID(id)

	fields, err := unmarshalFields(fieldsJSON)
	if err != nil {
		return ir.Record{}, fmt.Errorf("record %s: %w", id, err)
	}
	rec.Fields = fields
	return rec, nil
}
