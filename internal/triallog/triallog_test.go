package triallog

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/olfacto/internal/trial"
)

var t0 = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func makeRecord(tag string, start time.Time, score trial.Score) *trial.Record {
	rec := &trial.Record{Subject: &trial.Subject{Tag: tag, Level: "L1"}}
	rec.Begin("rig-a", start)
	rec.FirstStim = 5
	rec.SecondStim = 9
	rec.Type = trial.Go
	rec.AddLick(240 * time.Millisecond)
	rec.AddLick(480 * time.Millisecond)
	rec.Score = score
	rec.EndTime = start.Add(6 * time.Second)
	return rec
}

func TestLicksRoundTrip(t *testing.T) {
	licks := []time.Duration{120 * time.Millisecond, 1500 * time.Millisecond}
	s := formatLicks(licks)
	assert.Equal(t, "[0.12, 1.5]", s)

	back, err := parseLicks(s)
	require.NoError(t, err)
	assert.Equal(t, licks, back)

	empty, err := parseLicks("[]")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = parseLicks("[0.1, soon]")
	assert.Error(t, err)
}

func TestCSVStore_AppendOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trials.txt")

	s, err := OpenCSV(path)
	require.NoError(t, err)
	first := makeRecord("M17", t0, trial.Hit)
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Close())

	// Reopening must keep existing rows and not repeat the header.
	s, err = OpenCSV(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Append(ctx, makeRecord("M18", t0.Add(time.Minute), trial.Miss)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(Header, ","), lines[0])
	assert.Equal(t, 1, strings.Count(string(data), ColSubject))

	rows, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	got := rows[0]
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "M17", got.Subject)
	assert.Equal(t, "L1", got.Level)
	assert.Equal(t, 5, got.FirstStim)
	assert.Equal(t, 9, got.SecondStim)
	assert.Equal(t, trial.Go, got.Type)
	assert.Equal(t, trial.Hit, got.Score)
	assert.True(t, t0.Equal(got.Start))
	assert.Equal(t, []time.Duration{240 * time.Millisecond, 480 * time.Millisecond}, got.LickTimes)
	assert.Equal(t, "M18", rows[1].Subject)
}

func TestCSVStore_Filter(t *testing.T) {
	ctx := context.Background()
	s, err := OpenCSV(filepath.Join(t.TempDir(), "trials.txt"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(ctx, makeRecord("M17", t0, trial.Hit)))
	require.NoError(t, s.Append(ctx, makeRecord("M18", t0.Add(time.Hour), trial.Miss)))
	require.NoError(t, s.Append(ctx, makeRecord("M17", t0.Add(2*time.Hour), trial.FalseAlarm)))

	rows, err := s.List(ctx, Filter{Subject: "M17"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.List(ctx, Filter{Since: t0.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.List(ctx, Filter{Subject: "M17", Since: t0.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, trial.FalseAlarm, rows[0].Score)

	rows, err = s.List(ctx, Filter{Since: t0, Until: t0.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, rows, 1, "until is exclusive")
	assert.Equal(t, trial.Hit, rows[0].Score)
}

func TestReadCSV_MissingFile(t *testing.T) {
	rows, err := ReadCSV(filepath.Join(t.TempDir(), "absent.txt"), Filter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadCSV_MissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trials.txt")
	require.NoError(t, os.WriteFile(path, []byte("mouse ID,score\nM17,hit\n"), 0644))
	_, err := ReadCSV(path, Filter{})
	assert.ErrorContains(t, err, `missing column "trial ID"`)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trials.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	first := makeRecord("M17", t0, trial.Hit)
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Append(ctx, makeRecord("M18", t0.Add(time.Hour), trial.CorrectRejection)))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 2, "reopening must not drop rows")
	assert.Equal(t, first.ID, rows[0].ID)
	assert.True(t, t0.Equal(rows[0].Start))
	assert.Equal(t, []time.Duration{240 * time.Millisecond, 480 * time.Millisecond}, rows[0].LickTimes)

	rows, err = s.List(ctx, Filter{Subject: "M18", Since: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, trial.CorrectRejection, rows[0].Score)

	rows, err = s.List(ctx, Filter{Until: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "M17", rows[0].Subject)

	err = s.Append(ctx, first)
	assert.Error(t, err, "a trial ID is written at most once")
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, Config{Driver: "csv", Path: filepath.Join(dir, "trials.txt")})
	require.NoError(t, err)
	assert.IsType(t, &CSVStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(dir, "trials.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Driver: "postgres"})
	assert.ErrorContains(t, err, "dsn is required")

	_, err = Open(ctx, Config{Driver: "parquet"})
	assert.ErrorContains(t, err, `unknown trial log driver "parquet"`)
}

func TestFormatTable(t *testing.T) {
	var buf bytes.Buffer
	n := FormatTable(&buf, nil, "trials.txt")
	assert.Equal(t, 0, n)
	assert.Contains(t, buf.String(), "No trials found in 'trials.txt'")

	buf.Reset()
	rows := []Row{FromRecord(makeRecord("M17", t0, trial.Hit))}
	n = FormatTable(&buf, rows, "trials.txt")
	assert.Equal(t, 1, n)
	out := buf.String()
	assert.Contains(t, out, "MOUSE")
	assert.Contains(t, out, "M17")
	assert.Contains(t, out, "5>9")
	assert.Contains(t, out, "hit")
	assert.Contains(t, out, "1 trial found")
}

func TestFormatJSONL(t *testing.T) {
	var buf bytes.Buffer
	rows := []Row{
		FromRecord(makeRecord("M17", t0, trial.Hit)),
		FromRecord(makeRecord("M18", t0, trial.Miss)),
	}
	require.NoError(t, FormatJSONL(&buf, rows))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, "M17", decoded["mouse_id"])
	assert.Equal(t, "hit", decoded["score"])
	assert.Equal(t, []interface{}{0.24, 0.48}, decoded["licks_time"])
}
