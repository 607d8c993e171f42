package hardware

import (
	"sync"
	"time"

	"github.com/dyluth/olfacto/internal/clock"
)

// Write is one entry in the Sim output journal.
type Write struct {
	Line  int
	Level Level
	At    time.Time
}

// Sim is an in-memory rig: output writes are journalled, inputs are scripted
// and tag lines are injected with SendTag. It implements Lines and TagReader.
type Sim struct {
	clk clock.Clock

	mu      sync.Mutex
	outputs map[int]Level
	inputs  map[int]Level
	queued  map[int][]Level
	journal []Write
	tags    lineBuffer
	failFn  func(line int, level Level) error
	onWrite func(line int, level Level)
	flushes int
	closed  bool
}

// NewSim returns a simulator that timestamps writes with clk.
func NewSim(clk clock.Clock) *Sim {
	return &Sim{
		clk:     clk,
		outputs: map[int]Level{},
		inputs:  map[int]Level{},
		queued:  map[int][]Level{},
	}
}

// SetOutput records the write, applying any injected failure first.
func (s *Sim) SetOutput(line int, level Level) error {
	s.mu.Lock()
	fail, hook := s.failFn, s.onWrite
	s.mu.Unlock()

	if fail != nil {
		if err := fail(line, level); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.outputs[line] = level
	s.journal = append(s.journal, Write{Line: line, Level: level, At: s.clk.Now()})
	s.mu.Unlock()

	if hook != nil {
		hook(line, level)
	}
	return nil
}

// ReadInput pops the next queued level for line, or returns its steady level.
func (s *Sim) ReadInput(line int) (Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q := s.queued[line]; len(q) > 0 {
		s.queued[line] = q[1:]
		return q[0], nil
	}
	return s.inputs[line], nil
}

// ReadLine returns the next injected tag line.
func (s *Sim) ReadLine() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags.next()
}

// Flush discards injected tag input that has not been read.
func (s *Sim) Flush() error {
	s.mu.Lock()
	s.tags.reset()
	s.flushes++
	s.mu.Unlock()
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// SetInput sets the steady level of an input line.
func (s *Sim) SetInput(line int, level Level) {
	s.mu.Lock()
	s.inputs[line] = level
	s.mu.Unlock()
}

// QueueInputs scripts the next reads of line, one level per read. After the
// queue drains reads fall back to the steady level.
func (s *Sim) QueueInputs(line int, levels ...Level) {
	s.mu.Lock()
	s.queued[line] = append(s.queued[line], levels...)
	s.mu.Unlock()
}

// SendTag injects a newline-terminated tag line.
func (s *Sim) SendTag(tag string) {
	s.SendRaw([]byte(tag + "\r\n"))
}

// SendRaw injects raw serial bytes.
func (s *Sim) SendRaw(p []byte) {
	s.mu.Lock()
	s.tags.write(p)
	s.mu.Unlock()
}

// FailWrites installs fn to decide whether a write fails. nil clears it.
func (s *Sim) FailWrites(fn func(line int, level Level) error) {
	s.mu.Lock()
	s.failFn = fn
	s.mu.Unlock()
}

// OnWrite installs a hook run after each successful write.
func (s *Sim) OnWrite(fn func(line int, level Level)) {
	s.mu.Lock()
	s.onWrite = fn
	s.mu.Unlock()
}

// Output returns the last level written to line.
func (s *Sim) Output(line int) Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[line]
}

// Journal returns a copy of all writes so far.
func (s *Sim) Journal() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.journal))
	copy(out, s.journal)
	return out
}

// Flushes counts calls to Flush.
func (s *Sim) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// Closed reports whether Close was called.
func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
