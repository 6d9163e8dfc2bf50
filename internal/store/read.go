package store

import (
	"context"
	"fmt"
)

// Entry is one key value from one flush.
type Entry struct {
	Seq   int64
	Key   string
	Value any
}

// History returns flushed values ordered by seq ASC, key ASC. An empty key
// returns every key.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) History(ctx context.Context, key string) ([]Entry, error) {
	query := `
		SELECT seq, key, value FROM flush_values
		ORDER BY seq ASC, key COLLATE BINARY ASC
	`
	args := []any{}
	if key != "" {
		query = `
			SELECT seq, key, value FROM flush_values
			WHERE key = ?
			ORDER BY seq ASC, key COLLATE BINARY ASC
		`
		args = append(args, key)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e   Entry
			raw string
		)
		if err := rows.Scan(&e.Seq, &e.Key, &raw); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if e.Value, err = unmarshalValue(raw); err != nil {
			return nil, fmt.Errorf("history seq %d key %q: %w", e.Seq, e.Key, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// Latest returns the most recently flushed value of every key and the
// highest stored seq. Used to restore a model after restart.
func (s *Store) Latest(ctx context.Context) (map[string]any, int64, error) {
	var maxSeq int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM flushes`,
	).Scan(&maxSeq); err != nil {
		return nil, 0, fmt.Errorf("query max seq: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.key, v.value FROM flush_values v
		WHERE v.seq = (SELECT MAX(seq) FROM flush_values WHERE key = v.key)
		ORDER BY v.key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, 0, fmt.Errorf("query latest: %w", err)
	}
	defer rows.Close()

	values := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, 0, fmt.Errorf("scan latest: %w", err)
		}
		v, err := unmarshalValue(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("latest key %q: %w", key, err)
		}
		values[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate latest: %w", err)
	}
	return values, maxSeq, nil
}

// Embeds returns every embed attempt in insertion order.
func (s *Store) Embeds(ctx context.Context) ([]EmbedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, mount, status, error, selections, params, seq
		FROM embeds
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query embeds: %w", err)
	}
	defer rows.Close()

	records := []EmbedRecord{}
	for rows.Next() {
		var (
			rec          EmbedRecord
			sels, params string
		)
		if err := rows.Scan(&rec.Session, &rec.Mount, &rec.Status, &rec.Error, &sels, &params, &rec.Seq); err != nil {
			return nil, fmt.Errorf("scan embed: %w", err)
		}
		if rec.Selections, err = unmarshalNames(sels); err != nil {
			return nil, fmt.Errorf("embed %s: %w", rec.Session, err)
		}
		if rec.Params, err = unmarshalNames(params); err != nil {
			return nil, fmt.Errorf("embed %s: %w", rec.Session, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeds: %w", err)
	}
	return records, nil
}
