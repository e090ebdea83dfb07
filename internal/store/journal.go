package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/roach88/mutate/internal/channel"
	"github.com/roach88/mutate/internal/ir"
)

// WriteEntry appends a channel entry to the journal. Writing the same seq
// twice is a no-op, so a journal can be re-fed after a crash.
func (s *Store) WriteEntry(ctx context.Context, e channel.Entry) error {
	payload, err := marshalObject(e.Action.Payload)
	if err != nil {
		return fmt.Errorf("write entry %d: %w", e.Seq, err)
	}
	meta, err := marshalMeta(e.Action.Meta)
	if err != nil {
		return fmt.Errorf("write entry %d: %w", e.Seq, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO journal
		(seq, id, type, fetch, resource, correlation, payload, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		e.Seq,
		e.ID,
		e.Action.Type,
		e.Action.Meta.Fetch,
		nullableResource(e.Action.Meta.Resource),
		e.Action.Correlation,
		payload,
		meta,
	)
	if err != nil {
		return fmt.Errorf("write entry %d: %w", e.Seq, err)
	}
	return nil
}

const journalColumns = `seq, id, type, correlation, payload, meta`

// ReadJournal returns every entry in seq order. Empty journals yield an
// empty (non-nil) slice.
func (s *Store) ReadJournal(ctx context.Context) ([]channel.Entry, error) {
	return s.queryEntries(ctx, `
		SELECT `+journalColumns+`
		FROM journal
		ORDER BY seq ASC
	`)
}

// ReadCorrelation returns the entries of one runtime call in seq order.
func (s *Store) ReadCorrelation(ctx context.Context, correlation string) ([]channel.Entry, error) {
	return s.queryEntries(ctx, `
		SELECT `+journalColumns+`
		FROM journal
		WHERE correlation = ?
		ORDER BY seq ASC
	`, correlation)
}

// ReadFetch returns the entries for one operation in seq order.
func (s *Store) ReadFetch(ctx context.Context, fetch string) ([]channel.Entry, error) {
	return s.queryEntries(ctx, `
		SELECT `+journalColumns+`
		FROM journal
		WHERE fetch = ?
		ORDER BY seq ASC
	`, fetch)
}

// LastSeq returns the highest journaled seq, or 0 for an empty journal.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM journal`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// Correlations lists distinct correlation IDs in order of first appearance.
func (s *Store) Correlations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT correlation
		FROM journal
		WHERE correlation != ''
		GROUP BY correlation
		ORDER BY MIN(seq) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query correlations: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan correlation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate correlations: %w", err)
	}
	return out, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]channel.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []channel.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (channel.Entry, error) {
	var (
		e                    channel.Entry
		payloadJSON, metaRaw string
	)
	if err := rows.Scan(&e.Seq, &e.ID, &e.Action.Type, &e.Action.Correlation, &payloadJSON, &metaRaw); err != nil {
		return channel.Entry{}, fmt.Errorf("scan entry: %w", err)
	}

	payload, err := unmarshalObject(payloadJSON)
	if err != nil {
		return channel.Entry{}, fmt.Errorf("entry %d: %w", e.Seq, err)
	}
	meta, err := unmarshalMeta(metaRaw)
	if err != nil {
		return channel.Entry{}, fmt.Errorf("entry %d: %w", e.Seq, err)
	}
	e.Action.Payload = payload
	e.Action.Meta = meta
	return e, nil
}

// JournalMiddleware persists every committed entry. A failed write is
// logged and dispatch continues; the channel stays authoritative in
// memory.
func JournalMiddleware(s *Store, logger *slog.Logger) channel.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next channel.DispatchFunc) channel.DispatchFunc {
		return func(a ir.Action) channel.Entry {
			e := next(a)
			if err := s.WriteEntry(context.Background(), e); err != nil {
				logger.Error("journal write failed",
					"seq", e.Seq,
					"type", a.Type,
					"fetch", a.Meta.Fetch,
					"correlation", a.Correlation,
					"error", err,
				)
			}
			return e
		}
	}
}

// ResumeClock returns a channel clock positioned after the journal's last
// entry, so a channel built with it continues the sequence.
func (s *Store) ResumeClock(ctx context.Context) (*channel.Clock, error) {
	last, err := s.LastSeq(ctx)
	if err != nil {
		return nil, err
	}
	return channel.NewClockAt(last), nil
}
