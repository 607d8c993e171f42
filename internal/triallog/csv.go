package triallog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dyluth/olfacto/internal/trial"
)

// CSV column names. Start and end times are RFC3339; licks_time lists lick
// times in seconds relative to the start of the response window.
const (
	ColTrialID    = "trial ID"
	ColRig        = "rig"
	ColSubject    = "mouse ID"
	ColLevel      = "level"
	ColFirstStim  = "first stim"
	ColSecondStim = "second stim"
	ColValue      = "value"
	ColStart      = "start time"
	ColEnd        = "end time"
	ColLicks      = "licks_time"
	ColScore      = "score"
)

// Header is the CSV header row.
var Header = []string{ColTrialID, ColRig, ColSubject, ColLevel, ColFirstStim, ColSecondStim, ColValue, ColStart, ColEnd, ColLicks, ColScore}

// CSVStore appends rows to a CSV file. The header is written once, when the
// file is empty.
type CSVStore struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// OpenCSV opens path for appending, creating it if needed.
func OpenCSV(path string) (*CSVStore, error) {
	if path == "" {
		return nil, fmt.Errorf("csv trial log: path is required")
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trial log %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat trial log %s: %w", path, err)
	}
	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(Header); err != nil {
			f.Close()
			return nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("write trial log header: %w", err)
		}
	}
	return &CSVStore{path: path, f: f}, nil
}

// Append writes one row and syncs it to disk.
func (s *CSVStore) Append(ctx context.Context, rec *trial.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := FromRecord(rec)
	s.mu.Lock()
	defer s.mu.Unlock()

	w := csv.NewWriter(s.f)
	if err := w.Write(toCSV(r)); err != nil {
		return fmt.Errorf("append trial %s: %w", r.ID, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("append trial %s: %w", r.ID, err)
	}
	return s.f.Sync()
}

// List reads the file back.
func (s *CSVStore) List(ctx context.Context, f Filter) ([]Row, error) {
	return ReadCSV(s.path, f)
}

func (s *CSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

func toCSV(r Row) []string {
	return []string{
		r.ID,
		r.Rig,
		r.Subject,
		r.Level,
		strconv.Itoa(r.FirstStim),
		strconv.Itoa(r.SecondStim),
		string(r.Type),
		r.Start.Format(time.RFC3339Nano),
		r.End.Format(time.RFC3339Nano),
		formatLicks(r.LickTimes),
		string(r.Score),
	}
}

// ReadCSV lists the rows of a CSV trial log. A missing file has no rows.
func ReadCSV(path string, f Filter) ([]Row, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open trial log %s: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trial log header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	for _, name := range Header {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("trial log %s: missing column %q", path, name)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("trial log %s line %d: %w", path, line, err)
		}
		row, err := fromCSV(rec, col)
		if err != nil {
			return nil, fmt.Errorf("trial log %s line %d: %w", path, line, err)
		}
		if f.match(row) {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func fromCSV(rec []string, col map[string]int) (Row, error) {
	get := func(name string) string { return rec[col[name]] }
	row := Row{
		ID:      get(ColTrialID),
		Rig:     get(ColRig),
		Subject: get(ColSubject),
		Level:   get(ColLevel),
		Type:    trial.Type(get(ColValue)),
		Score:   trial.Score(get(ColScore)),
	}
	var err error
	if row.FirstStim, err = strconv.Atoi(get(ColFirstStim)); err != nil {
		return Row{}, fmt.Errorf("%s: %w", ColFirstStim, err)
	}
	if row.SecondStim, err = strconv.Atoi(get(ColSecondStim)); err != nil {
		return Row{}, fmt.Errorf("%s: %w", ColSecondStim, err)
	}
	if row.Start, err = time.Parse(time.RFC3339Nano, get(ColStart)); err != nil {
		return Row{}, fmt.Errorf("%s: %w", ColStart, err)
	}
	if row.End, err = time.Parse(time.RFC3339Nano, get(ColEnd)); err != nil {
		return Row{}, fmt.Errorf("%s: %w", ColEnd, err)
	}
	if row.LickTimes, err = parseLicks(get(ColLicks)); err != nil {
		return Row{}, err
	}
	return row, nil
}
