package registry

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dyluth/olfacto/internal/trial"
)

const levelsCSV = `Level Name,First Odor,Second Odor,value,P(first),P(second),index
L1,5,9,go,1,0.5,2
L1,5,5,no-go,0,0.5,1
L2,9,5,catch,1,1,1

L3,5,9,go,0,0,1
L3,9,5,no-go,0,0,2
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadSubjects(t *testing.T) {
	path := writeFile(t, "subjects.yml", `subjects:
  - tag: "M17"
    level: "L1"
  - tag: "M18 "
    level: "L2"
`)
	r, err := LoadSubjects(path)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	s, ok := r.Lookup("M17")
	require.True(t, ok)
	assert.Equal(t, "L1", s.Level)

	_, ok = r.Lookup("M18")
	assert.True(t, ok, "tags are trimmed on load")

	_, ok = r.Lookup("M99")
	assert.False(t, ok)
}

func TestLoadSubjects_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"empty", "subjects: []\n", "no subjects defined"},
		{"duplicate", "subjects:\n  - {tag: M1, level: L1}\n  - {tag: M1, level: L2}\n", "duplicate subject tag 'M1'"},
		{"missing level", "subjects:\n  - {tag: M1}\n", "level is required"},
		{"bad yaml", "subjects: [", "failed to parse subjects YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSubjects(writeFile(t, "subjects.yml", tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := LoadSubjects("/nonexistent/subjects.yml")
	assert.ErrorContains(t, err, "failed to read subjects")
}

func TestLoadLevels_CSV(t *testing.T) {
	table, err := LoadLevels(writeFile(t, "levels.csv", levelsCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"L1", "L2", "L3"}, table.Levels())

	rows, err := table.Rows("L1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Index, "rows are ordered by index")
	assert.Equal(t, trial.NoGo, rows[0].Type)
	assert.Equal(t, StimulusRow{Level: "L1", FirstOdor: 5, SecondOdor: 9, Type: trial.Go, PFirst: 1, PSecond: 0.5, Index: 2}, rows[1])

	_, err = table.Rows("L9")
	assert.ErrorIs(t, err, ErrUnknownLevel)
}

func TestLoadLevels_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "levels.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"L1", 5, 9, "go", 1, 1, 1}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	table, err := LoadLevels(path)
	require.NoError(t, err)
	rows, err := table.Rows("L1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 9, rows[0].SecondOdor)
	assert.Equal(t, trial.Go, rows[0].Type)
}

func TestParseLevels_Errors(t *testing.T) {
	header := []string{"Level Name", "First Odor", "Second Odor", "value", "P(first)", "P(second)", "index"}
	tests := []struct {
		name    string
		rows    [][]string
		wantErr string
	}{
		{"header only", [][]string{header}, "header row and at least one data row"},
		{"missing column", [][]string{header[:6], {"L1", "5", "9", "go", "1", "1"}}, `missing column "index"`},
		{"bad odor", [][]string{header, {"L1", "five", "9", "go", "1", "1", "1"}}, "row 2: First Odor"},
		{"bad type", [][]string{header, {"L1", "5", "9", `go\no-go`, "1", "1", "1"}}, "unknown trial type"},
		{"negative weight", [][]string{header, {"L1", "5", "9", "go", "-1", "1", "1"}}, "weight must be >= 0"},
		{"empty level", [][]string{header, {"", "5", "9", "go", "1", "1", "1"}}, "Level Name is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLevels(tt.rows)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := LoadLevels("levels.json")
	assert.ErrorContains(t, err, "unsupported level table type")
}

func TestLevelTable_CheckOdors(t *testing.T) {
	table, err := LoadLevels(writeFile(t, "levels.csv", levelsCSV))
	require.NoError(t, err)

	assert.NoError(t, table.CheckOdors(map[int]int{5: 5, 9: 6}))

	err = table.CheckOdors(map[int]int{5: 5})
	assert.ErrorIs(t, err, ErrUnknownOdor)
}

func TestRegistry_CheckLevels(t *testing.T) {
	table, err := LoadLevels(writeFile(t, "levels.csv", levelsCSV))
	require.NoError(t, err)
	r, err := NewRegistry([]Subject{{Tag: "M1", Level: "L1"}, {Tag: "M2", Level: "L7"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"M2"}, r.CheckLevels(table))
}

func TestSelector_Select(t *testing.T) {
	table, err := LoadLevels(writeFile(t, "levels.csv", levelsCSV))
	require.NoError(t, err)

	t.Run("weights steer both stages", func(t *testing.T) {
		s := NewSelector(table, rand.NewPCG(1, 2))
		counts := map[trial.Type]int{}
		for i := 0; i < 2000; i++ {
			sel, err := s.Select("L1")
			require.NoError(t, err)
			assert.Equal(t, 5, sel.FirstOdor, "only odor 5 can be first in L1")
			counts[sel.Type]++
		}
		assert.InDelta(t, 1000, counts[trial.Go], 150)
		assert.InDelta(t, 1000, counts[trial.NoGo], 150)
	})

	t.Run("zero weights fall back to uniform", func(t *testing.T) {
		s := NewSelector(table, rand.NewPCG(3, 4))
		firsts := map[int]int{}
		for i := 0; i < 2000; i++ {
			sel, err := s.Select("L3")
			require.NoError(t, err)
			firsts[sel.FirstOdor]++
		}
		assert.InDelta(t, 1000, firsts[5], 150)
		assert.InDelta(t, 1000, firsts[9], 150)
	})

	t.Run("second stage only considers the drawn first odor", func(t *testing.T) {
		s := NewSelector(table, rand.NewPCG(5, 6))
		for i := 0; i < 200; i++ {
			sel, err := s.Select("L3")
			require.NoError(t, err)
			if sel.FirstOdor == 5 {
				assert.Equal(t, trial.Go, sel.Type)
			} else {
				assert.Equal(t, trial.NoGo, sel.Type)
			}
		}
	})

	t.Run("unknown level", func(t *testing.T) {
		s := NewSelector(table, nil)
		_, err := s.Select("L9")
		assert.ErrorIs(t, err, ErrUnknownLevel)
	})
}
