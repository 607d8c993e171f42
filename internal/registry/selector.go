package registry

import (
	"math/rand/v2"

	"github.com/dyluth/olfacto/internal/trial"
)

// Selection is the stimulus pair drawn for a trial.
type Selection struct {
	FirstOdor  int
	SecondOdor int
	Type       trial.Type
	Row        StimulusRow
}

// Selector draws stimulus pairs. Draws are independent across trials.
type Selector struct {
	table *LevelTable
	rng   *rand.Rand
}

// NewSelector draws from table using src; nil src seeds from the runtime.
func NewSelector(table *LevelTable, src rand.Source) *Selector {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Selector{table: table, rng: rand.New(src)}
}

// Select draws the first odor weighted by P(first) over the level's rows,
// then the pair among rows sharing that first odor weighted by P(second).
func (s *Selector) Select(level string) (Selection, error) {
	rows, err := s.table.Rows(level)
	if err != nil {
		return Selection{}, err
	}

	first := rows[s.pick(rows, func(r StimulusRow) float64 { return r.PFirst })].FirstOdor

	var candidates []StimulusRow
	for _, r := range rows {
		if r.FirstOdor == first {
			candidates = append(candidates, r)
		}
	}
	row := candidates[s.pick(candidates, func(r StimulusRow) float64 { return r.PSecond })]

	return Selection{
		FirstOdor:  row.FirstOdor,
		SecondOdor: row.SecondOdor,
		Type:       row.Type,
		Row:        row,
	}, nil
}

// pick returns a weighted random index; all-zero weights draw uniformly.
func (s *Selector) pick(rows []StimulusRow, weight func(StimulusRow) float64) int {
	var total float64
	for _, r := range rows {
		total += weight(r)
	}
	if total <= 0 {
		return s.rng.IntN(len(rows))
	}
	x := s.rng.Float64() * total
	last := 0
	for i, r := range rows {
		w := weight(r)
		if w <= 0 {
			continue
		}
		last = i
		if x -= w; x < 0 {
			return i
		}
	}
	return last
}
