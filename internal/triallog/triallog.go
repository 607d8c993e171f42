// Package triallog persists completed trials. Every backend is append-only:
// rows are inserted once and never updated or truncated.
package triallog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/olfacto/internal/trial"
)

// Row is the persisted form of a trial record.
type Row struct {
	ID         string          `json:"trial_id"`
	Rig        string          `json:"rig"`
	Subject    string          `json:"mouse_id"`
	Level      string          `json:"level"`
	FirstStim  int             `json:"first_stim"`
	SecondStim int             `json:"second_stim"`
	Type       trial.Type      `json:"value"`
	Start      time.Time       `json:"start_time"`
	End        time.Time       `json:"end_time"`
	LickTimes  []time.Duration `json:"licks_time"`
	Score      trial.Score     `json:"score"`
}

// FromRecord flattens a trial record.
func FromRecord(rec *trial.Record) Row {
	return Row{
		ID:         rec.ID,
		Rig:        rec.Rig,
		Subject:    rec.SubjectTag(),
		Level:      rec.SubjectLevel(),
		FirstStim:  rec.FirstStim,
		SecondStim: rec.SecondStim,
		Type:       rec.Type,
		Start:      rec.StartTime,
		End:        rec.EndTime,
		LickTimes:  append([]time.Duration(nil), rec.LickTimes...),
		Score:      rec.Score,
	}
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Subject string
	Since   time.Time
	Until   time.Time // exclusive
}

func (f Filter) match(r Row) bool {
	if f.Subject != "" && r.Subject != f.Subject {
		return false
	}
	if !f.Since.IsZero() && r.Start.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.Start.Before(f.Until) {
		return false
	}
	return true
}

// Sink appends trial records.
type Sink interface {
	Append(ctx context.Context, rec *trial.Record) error
	Close() error
}

// Reader lists persisted rows in insertion order.
type Reader interface {
	List(ctx context.Context, f Filter) ([]Row, error)
}

// Store is a Sink that can also be read back.
type Store interface {
	Sink
	Reader
}

// Config selects a backend.
type Config struct {
	Driver string // csv, sqlite, postgres
	Path   string
	DSN    string
}

// Open returns the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "csv":
		return OpenCSV(cfg.Path)
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	}
	return nil, fmt.Errorf("unknown trial log driver %q", cfg.Driver)
}

// formatLicks renders lick times as a list of seconds, e.g. "[0.12, 0.4]".
func formatLicks(licks []time.Duration) string {
	parts := make([]string, len(licks))
	for i, d := range licks {
		parts[i] = strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func parseLicks(s string) ([]time.Duration, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []time.Duration
	for _, p := range strings.Split(s, ",") {
		secs, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid lick time %q: %w", p, err)
		}
		out = append(out, time.Duration(secs*float64(time.Second)).Round(time.Microsecond))
	}
	return out, nil
}
