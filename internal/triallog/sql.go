package triallog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/olfacto/internal/trial"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name   string
	ddl    string
	holder func(n int) string
}

// SQLStore persists rows in a "trials" table. It only ever inserts.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	if _, err := db.ExecContext(ctx, d.ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create trials table (%s): %w", d.name, err)
	}
	return &SQLStore{db: db, d: d}, nil
}

// Append inserts one row.
func (s *SQLStore) Append(ctx context.Context, rec *trial.Record) error {
	r := FromRecord(rec)
	holders := make([]string, 11)
	for i := range holders {
		holders[i] = s.d.holder(i + 1)
	}
	query := `INSERT INTO trials (id, rig, subject, level, first_stim, second_stim, trial_type, start_ms, end_ms, licks_time, score) VALUES (` +
		strings.Join(holders, ", ") + `)`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Rig, r.Subject, r.Level, r.FirstStim, r.SecondStim, string(r.Type),
		r.Start.UnixMilli(), r.End.UnixMilli(), formatLicks(r.LickTimes), string(r.Score))
	if err != nil {
		return fmt.Errorf("insert trial %s (%s): %w", r.ID, s.d.name, err)
	}
	return nil
}

// List returns rows in insertion order.
func (s *SQLStore) List(ctx context.Context, f Filter) ([]Row, error) {
	var (
		where []string
		args  []any
	)
	if f.Subject != "" {
		args = append(args, f.Subject)
		where = append(where, "subject = "+s.d.holder(len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since.UnixMilli())
		where = append(where, "start_ms >= "+s.d.holder(len(args)))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until.UnixMilli())
		where = append(where, "start_ms < "+s.d.holder(len(args)))
	}
	query := `SELECT id, rig, subject, level, first_stim, second_stim, trial_type, start_ms, end_ms, licks_time, score FROM trials`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trials (%s): %w", s.d.name, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r              Row
			typ, score     string
			licks          string
			startMs, endMs int64
		)
		if err := rows.Scan(&r.ID, &r.Rig, &r.Subject, &r.Level, &r.FirstStim, &r.SecondStim, &typ, &startMs, &endMs, &licks, &score); err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		r.Type = trial.Type(typ)
		r.Score = trial.Score(score)
		r.Start = time.UnixMilli(startMs)
		r.End = time.UnixMilli(endMs)
		if r.LickTimes, err = parseLicks(licks); err != nil {
			return nil, fmt.Errorf("trial %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests.
func (s *SQLStore) DB() *sql.DB { return s.db }
