// Package hardware owns the rig's digital I/O lines and the serial tag reader.
//
// A single Controller holds both backends. Reads are unrestricted; writes go
// through a Writer handle of which at most one exists at a time, so the
// coordinating state machine is the only code able to energise a valve.
package hardware

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Level is a digital line state.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

var (
	// ErrDecode is returned for a tag line that is not valid UTF-8.
	ErrDecode = errors.New("tag line is not valid UTF-8")
	// ErrLineTooLong is returned when unterminated serial input overflows the line buffer.
	ErrLineTooLong = errors.New("tag line exceeds buffer")
	// ErrWriterHeld is returned by AcquireWriter while another Writer is outstanding.
	ErrWriterHeld = errors.New("hardware writer already held")
	// ErrWriterReleased is returned when a released Writer is used.
	ErrWriterReleased = errors.New("hardware writer released")
	// ErrUnknownLine is returned for a line that was not claimed.
	ErrUnknownLine = errors.New("line not claimed")
)

// Lines is a digital I/O backend.
type Lines interface {
	SetOutput(line int, level Level) error
	ReadInput(line int) (Level, error)
	Close() error
}

// TagReader is a line-oriented radio tag reader.
type TagReader interface {
	// ReadLine returns the next complete line if one is available within a
	// short bounded wait. ok is false when no line is ready.
	ReadLine() (line string, ok bool, err error)
	// Flush discards pending input.
	Flush() error
	Close() error
}

// LineMap names the rig's digital roles.
type LineMap struct {
	RewardValve    int
	PresenceSensor int
	LickSensor     int
	DeliveryValve  int
	Odors          map[int]int // odor number -> supply valve line
}

// Outputs returns every output line in ascending order.
func (m LineMap) Outputs() []int {
	out := []int{m.RewardValve, m.DeliveryValve}
	for _, line := range m.Odors {
		out = append(out, line)
	}
	sort.Ints(out)
	return out
}

// Inputs returns the sensor lines.
func (m LineMap) Inputs() []int {
	return []int{m.PresenceSensor, m.LickSensor}
}

// OdorLine returns the supply valve line for an odor.
func (m LineMap) OdorLine(odor int) (int, error) {
	line, ok := m.Odors[odor]
	if !ok {
		return 0, fmt.Errorf("odor %d has no supply valve: %w", odor, ErrUnknownLine)
	}
	return line, nil
}

// Controller is the single owned handle on the rig hardware.
type Controller struct {
	lines Lines
	tags  TagReader
	m     LineMap

	mu   sync.Mutex
	held bool
}

// NewController wraps already-opened backends.
func NewController(lines Lines, tags TagReader, m LineMap) *Controller {
	return &Controller{lines: lines, tags: tags, m: m}
}

// LineMap returns the configured line roles.
func (c *Controller) LineMap() LineMap {
	return c.m
}

// AcquireWriter hands out the write handle. Only one may be outstanding.
func (c *Controller) AcquireWriter() (*Writer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held {
		return nil, ErrWriterHeld
	}
	c.held = true
	return &Writer{c: c}, nil
}

// Reader returns a read-only view of the hardware.
func (c *Controller) Reader() Reader {
	return Reader{c: c}
}

// AllOff forces every output line LOW, attempting all of them even if some fail.
func (c *Controller) AllOff() error {
	var errs []error
	for _, line := range c.m.Outputs() {
		if err := c.lines.SetOutput(line, Low); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
		}
	}
	return errors.Join(errs...)
}

// Close forces all outputs off and releases both backends.
func (c *Controller) Close() error {
	return errors.Join(c.AllOff(), c.lines.Close(), c.tags.Close())
}

func (c *Controller) release() {
	c.mu.Lock()
	c.held = false
	c.mu.Unlock()
}

// Writer is the exclusive handle for driving output lines.
type Writer struct {
	c        *Controller
	mu       sync.Mutex
	released bool
}

// Set drives a line to level.
func (w *Writer) Set(line int, level Level) error {
	w.mu.Lock()
	released := w.released
	w.mu.Unlock()
	if released {
		return ErrWriterReleased
	}
	if err := w.c.lines.SetOutput(line, level); err != nil {
		return fmt.Errorf("set line %d %s: %w", line, level, err)
	}
	return nil
}

// On drives a line HIGH.
func (w *Writer) On(line int) error { return w.Set(line, High) }

// Off drives a line LOW.
func (w *Writer) Off(line int) error { return w.Set(line, Low) }

// AllOff forces every output LOW.
func (w *Writer) AllOff() error {
	return w.c.AllOff()
}

// Release returns the handle to the controller. Further writes fail.
func (w *Writer) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return
	}
	w.released = true
	w.c.release()
}

// Reader gives observational access to sensors and the tag reader.
type Reader struct {
	c *Controller
}

// Presence reads the presence (IR) sensor.
func (r Reader) Presence() (Level, error) {
	return r.c.lines.ReadInput(r.c.m.PresenceSensor)
}

// Lick reads the lick sensor.
func (r Reader) Lick() (Level, error) {
	return r.c.lines.ReadInput(r.c.m.LickSensor)
}

// ReadTag returns the next tag line, if any.
func (r Reader) ReadTag() (string, bool, error) {
	return r.c.tags.ReadLine()
}

// FlushTags discards pending serial input.
func (r Reader) FlushTags() error {
	return r.c.tags.Flush()
}
