package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/livesync/internal/ir"
)

// Changes returns up to limit log entries with seq > afterSeq, ORDER BY seq
// ASC. A limit <= 0 returns everything.
func (s *Store) Changes(ctx context.Context, afterSeq int64, limit int) ([]Change, error) {
	query := `
		SELECT seq, kind, record_id, collection, before, after
		FROM changes
		WHERE seq > ?
		ORDER BY seq ASC`
	args := []any{afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	return collectChanges(rows)
}

// History returns every logged change to one record, oldest first.
func (s *Store) History(ctx context.Context, id ir.RecordID) ([]Change, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, record_id, collection, before, after
		FROM changes
		WHERE record_id = ?
		ORDER BY seq ASC
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return collectChanges(rows)
}

// LastSeq returns the seq of the newest change, or 0 for an empty log.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM changes`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

func collectChanges(rows *sql.Rows) ([]Change, error) {
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var (
			c             Change
			kind, id      string
			before, after sql.NullString
		)
		if err := rows.Scan(&c.Seq, &kind, &id, &c.Collection, &before, &after); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Kind = ir.ChangeKind(kind)
		c.RecordID = ir.RecordID(id)

		var err error
		if c.Before, err = unmarshalImage(c.RecordID, c.Collection, before); err != nil {
			return nil, fmt.Errorf("change %d: %w", c.Seq, err)
		}
		if c.After, err = unmarshalImage(c.RecordID, c.Collection, after); err != nil {
			return nil, fmt.Errorf("change %d: %w", c.Seq, err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}
