package store

import (
	"context"
	"fmt"

	"github.com/roach88/chartsync/internal/model"
)

// Embed statuses.
const (
	EmbedLive   = "live"
	EmbedFailed = "error"
)

// EmbedRecord is one embed attempt.
type EmbedRecord struct {
	Session    string
	Mount      string
	Status     string
	Error      string
	Selections []string
	Params     []string
	Seq        int64
}

// Push appends a flush to the log. Implements model.Sink.
//
// A flush whose seq is already stored is ignored, so replaying the same
// flush is harmless.
func (s *Store) Push(ctx context.Context, f model.Flush) error {
	keys := f.Keys()
	keysJSON, err := marshalNames(keys)
	if err != nil {
		return fmt.Errorf("push flush %d: %w", f.Seq, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("push flush %d: %w", f.Seq, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO flushes (seq, keys) VALUES (?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, f.Seq, keysJSON)
	if err != nil {
		return fmt.Errorf("push flush %d: %w", f.Seq, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	for _, k := range keys {
		v, err := marshalValue(f.Values[k])
		if err != nil {
			return fmt.Errorf("push flush %d key %q: %w", f.Seq, k, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO flush_values (seq, key, value) VALUES (?, ?, ?)
		`, f.Seq, k, v); err != nil {
			return fmt.Errorf("push flush %d key %q: %w", f.Seq, k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("push flush %d: %w", f.Seq, err)
	}
	return nil
}

// RecordEmbed appends an embed attempt. Implements bridge.Journal.
func (s *Store) RecordEmbed(ctx context.Context, rec EmbedRecord) error {
	if rec.Status != EmbedLive && rec.Status != EmbedFailed {
		return fmt.Errorf("record embed %s: invalid status %q", rec.Session, rec.Status)
	}
	sels, err := marshalNames(rec.Selections)
	if err != nil {
		return fmt.Errorf("record embed %s: %w", rec.Session, err)
	}
	params, err := marshalNames(rec.Params)
	if err != nil {
		return fmt.Errorf("record embed %s: %w", rec.Session, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embeds (session, mount, status, error, selections, params, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.Session, rec.Mount, rec.Status, rec.Error, sels, params, rec.Seq)
	if err != nil {
		return fmt.Errorf("record embed %s: %w", rec.Session, err)
	}
	return nil
}
