// Package monitor publishes rig state to the live dashboard.
//
// The state machine reports through the Observer interface. Implementations
// must not block: the Redis publisher queues events and sends them from its
// own goroutine.
package monitor

import "sync"

// Indicator names shown on the dashboard.
const (
	IndicatorIR   = "ir"
	IndicatorStim = "stim"
	IndicatorLick = "lick"
)

// Observer receives rig state changes.
type Observer interface {
	StateEntered(state string)
	Subject(tag, level string)
	TrialValue(value string)
	Score(score string)
	Indicator(name string, on bool)
	// Reset clears subject, trial value, score and indicators.
	Reset()
}

// Nop discards everything.
type Nop struct{}

func (Nop) StateEntered(string)    {}
func (Nop) Subject(string, string) {}
func (Nop) TrialValue(string)      {}
func (Nop) Score(string)           {}
func (Nop) Indicator(string, bool) {}
func (Nop) Reset()                 {}

// Multi fans out to several observers.
type Multi []Observer

func (m Multi) StateEntered(state string) {
	for _, o := range m {
		o.StateEntered(state)
	}
}

func (m Multi) Subject(tag, level string) {
	for _, o := range m {
		o.Subject(tag, level)
	}
}

func (m Multi) TrialValue(value string) {
	for _, o := range m {
		o.TrialValue(value)
	}
}

func (m Multi) Score(score string) {
	for _, o := range m {
		o.Score(score)
	}
}

func (m Multi) Indicator(name string, on bool) {
	for _, o := range m {
		o.Indicator(name, on)
	}
}

func (m Multi) Reset() {
	for _, o := range m {
		o.Reset()
	}
}

// Recorder keeps the latest dashboard view in memory. It backs the health
// endpoint and tests.
type Recorder struct {
	mu         sync.Mutex
	state      string
	tag        string
	level      string
	value      string
	score      string
	indicators map[string]bool
	states     []string
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{indicators: map[string]bool{}}
}

func (r *Recorder) StateEntered(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.states = append(r.states, state)
}

func (r *Recorder) Subject(tag, level string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tag, r.level = tag, level
}

func (r *Recorder) TrialValue(value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = value
}

func (r *Recorder) Score(score string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.score = score
}

func (r *Recorder) Indicator(name string, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indicators[name] = on
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tag, r.level, r.value, r.score = "", "", "", ""
	for name := range r.indicators {
		r.indicators[name] = false
	}
}

// Snapshot is a point-in-time copy of a Recorder.
type Snapshot struct {
	State      string          `json:"state"`
	Tag        string          `json:"tag,omitempty"`
	Level      string          `json:"level,omitempty"`
	Value      string          `json:"value,omitempty"`
	Score      string          `json:"score,omitempty"`
	Indicators map[string]bool `json:"indicators,omitempty"`
}

// Snapshot returns the current view.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	ind := make(map[string]bool, len(r.indicators))
	for k, v := range r.indicators {
		ind[k] = v
	}
	return Snapshot{State: r.state, Tag: r.tag, Level: r.level, Value: r.value, Score: r.score, Indicators: ind}
}

// States returns every state entered, in order.
func (r *Recorder) States() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}
