package registry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dyluth/olfacto/internal/trial"
)

// Level table column names.
const (
	ColLevel      = "Level Name"
	ColFirstOdor  = "First Odor"
	ColSecondOdor = "Second Odor"
	ColValue      = "value"
	ColPFirst     = "P(first)"
	ColPSecond    = "P(second)"
	ColIndex      = "index"
)

// Columns lists the level table header in file order.
var Columns = []string{ColLevel, ColFirstOdor, ColSecondOdor, ColValue, ColPFirst, ColPSecond, ColIndex}

var (
	ErrUnknownLevel = errors.New("unknown level")
	ErrUnknownOdor  = errors.New("odor has no supply valve")
)

// StimulusRow is one candidate odor pair of a level.
type StimulusRow struct {
	Level      string
	FirstOdor  int
	SecondOdor int
	Type       trial.Type
	PFirst     float64
	PSecond    float64
	Index      int
}

// LevelTable holds the stimulus rows of every level, ordered by index.
type LevelTable struct {
	levels map[string][]StimulusRow
	order  []string
}

// LoadLevels reads a level table from a .csv file or the first sheet of an
// .xlsx workbook.
func LoadLevels(path string) (*LevelTable, error) {
	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx":
		rows, err = readXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported level table type %q (want .csv or .xlsx)", ext)
	}
	if err != nil {
		return nil, err
	}
	t, err := ParseLevels(rows)
	if err != nil {
		return nil, fmt.Errorf("level table %s: %w", path, err)
	}
	log.Printf("[INFO] Loaded level table %s (%d levels)", path, len(t.order))
	return t, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open level table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read level table CSV: %w", err)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open level table workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

// ParseLevels builds a table from raw rows; the first row is the header.
func ParseLevels(rows [][]string) (*LevelTable, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("must have a header row and at least one data row")
	}

	col := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		col[strings.TrimSpace(h)] = i
	}
	for _, name := range Columns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	t := &LevelTable{levels: map[string][]StimulusRow{}}
	for n, raw := range rows[1:] {
		line := n + 2
		cell := func(name string) string {
			i := col[name]
			if i >= len(raw) {
				return ""
			}
			return strings.TrimSpace(raw[i])
		}
		if blank(raw) {
			continue
		}

		row := StimulusRow{Level: cell(ColLevel)}
		if row.Level == "" {
			return nil, fmt.Errorf("row %d: %s is empty", line, ColLevel)
		}
		var err error
		if row.FirstOdor, err = strconv.Atoi(cell(ColFirstOdor)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", line, ColFirstOdor, err)
		}
		if row.SecondOdor, err = strconv.Atoi(cell(ColSecondOdor)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", line, ColSecondOdor, err)
		}
		if row.Type, err = trial.ParseType(cell(ColValue)); err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		if row.PFirst, err = parseWeight(cell(ColPFirst)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", line, ColPFirst, err)
		}
		if row.PSecond, err = parseWeight(cell(ColPSecond)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", line, ColPSecond, err)
		}
		if row.Index, err = strconv.Atoi(cell(ColIndex)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", line, ColIndex, err)
		}

		if _, seen := t.levels[row.Level]; !seen {
			t.order = append(t.order, row.Level)
		}
		t.levels[row.Level] = append(t.levels[row.Level], row)
	}
	if len(t.order) == 0 {
		return nil, fmt.Errorf("no stimulus rows")
	}

	for _, rows := range t.levels {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Index < rows[j].Index })
	}
	return t, nil
}

func parseWeight(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("weight must be >= 0, got %g", v)
	}
	return v, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Levels returns level names in the order they first appear.
func (t *LevelTable) Levels() []string {
	return append([]string(nil), t.order...)
}

// Rows returns the rows of a level ordered by index.
func (t *LevelTable) Rows(level string) ([]StimulusRow, error) {
	rows, ok := t.levels[level]
	if !ok || len(rows) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}
	return rows, nil
}

// CheckOdors verifies that every odor in the table has a supply valve line.
func (t *LevelTable) CheckOdors(lines map[int]int) error {
	var errs []error
	for _, level := range t.order {
		for _, row := range t.levels[level] {
			for _, odor := range []int{row.FirstOdor, row.SecondOdor} {
				if _, ok := lines[odor]; !ok {
					errs = append(errs, fmt.Errorf("level %s index %d: odor %d: %w", level, row.Index, odor, ErrUnknownOdor))
				}
			}
		}
	}
	return errors.Join(errs...)
}
