// Package rig runs the trial state machine: Idle -> InPort -> Trial -> Idle.
//
// Machine.Run is the only goroutine that writes to the hardware or touches the
// trial record. While idle, a tag poller and the maintenance scheduler run
// alongside it; both are observational and are joined before Idle returns.
package rig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/olfacto/internal/audio"
	"github.com/dyluth/olfacto/internal/clock"
	"github.com/dyluth/olfacto/internal/config"
	"github.com/dyluth/olfacto/internal/hardware"
	"github.com/dyluth/olfacto/internal/maintenance"
	"github.com/dyluth/olfacto/internal/metrics"
	"github.com/dyluth/olfacto/internal/monitor"
	"github.com/dyluth/olfacto/internal/registry"
	"github.com/dyluth/olfacto/internal/trial"
	"github.com/dyluth/olfacto/internal/triallog"
)

// State is the machine's current phase.
type State string

const (
	StateIdle   State = "idle"
	StateInPort State = "in_port"
	StateTrial  State = "trial"
)

// Fixed timings.
const (
	idlePoll        = 50 * time.Millisecond
	inPortTimeout   = 15 * time.Second
	presencePoll    = 90 * time.Millisecond
	irPulse         = 100 * time.Millisecond
	lickPoll        = 80 * time.Millisecond
	lickPulse       = 80 * time.Millisecond
	minInterOdor    = time.Second
	trialOverSettle = 500 * time.Millisecond
	leaveSettle     = time.Second
)

// Deps are the collaborators of a Machine. Optional fields may be nil.
type Deps struct {
	Rig        string
	Experiment config.ExperimentConfig
	Hardware   *hardware.Controller
	Subjects   *registry.Registry
	Levels     *registry.LevelTable
	TrialLog   triallog.Sink

	Selector    *registry.Selector     // default: seeded from the runtime
	Punisher    *audio.Punisher        // default: no punishment
	Observer    monitor.Observer       // default: monitor.Nop
	Metrics     *metrics.Recorder      // default: none
	Maintenance *maintenance.Scheduler // default: none
	Diagnoser   maintenance.Diagnoser  // default: none
	Clock       clock.Clock            // default: clock.Real
}

// Option adjusts a Machine.
type Option func(*Machine)

// WithInPortTimeout overrides how long InPort waits for presence.
func WithInPortTimeout(d time.Duration) Option {
	return func(m *Machine) { m.inPortTimeout = d }
}

// WithIdlePoll overrides the tag polling interval.
func WithIdlePoll(d time.Duration) Option {
	return func(m *Machine) { m.idlePoll = d }
}

// Machine is the trial state machine.
type Machine struct {
	rig      string
	exp      config.ExperimentConfig
	hw       *hardware.Controller
	reader   hardware.Reader
	subjects *registry.Registry
	selector *registry.Selector
	sink     triallog.Sink
	punisher *audio.Punisher
	obs      monitor.Observer
	metrics  *metrics.Recorder
	maint    *maintenance.Scheduler
	diag     maintenance.Diagnoser
	clk      clock.Clock

	inPortTimeout time.Duration
	idlePoll      time.Duration

	// Owned by the Run goroutine.
	w   *hardware.Writer
	rec trial.Record

	paused atomic.Bool
	trials atomic.Int64

	mu         sync.Mutex
	state      State
	stateSince time.Time
}

// New validates deps and builds a Machine.
func New(deps Deps, opts ...Option) (*Machine, error) {
	switch {
	case deps.Rig == "":
		return nil, fmt.Errorf("rig name is required")
	case deps.Hardware == nil:
		return nil, fmt.Errorf("hardware is required")
	case deps.Subjects == nil:
		return nil, fmt.Errorf("subject registry is required")
	case deps.Levels == nil:
		return nil, fmt.Errorf("level table is required")
	case deps.TrialLog == nil:
		return nil, fmt.Errorf("trial log is required")
	}
	if err := deps.Experiment.Validate(); err != nil {
		return nil, err
	}
	if err := deps.Levels.CheckOdors(deps.Hardware.LineMap().Odors); err != nil {
		return nil, err
	}
	if missing := deps.Subjects.CheckLevels(deps.Levels); len(missing) > 0 {
		log.Printf("[WARN] [Rig] Subjects with unknown levels will not run trials: %v", missing)
	}

	m := &Machine{
		rig:           deps.Rig,
		exp:           deps.Experiment,
		hw:            deps.Hardware,
		reader:        deps.Hardware.Reader(),
		subjects:      deps.Subjects,
		selector:      deps.Selector,
		sink:          deps.TrialLog,
		punisher:      deps.Punisher,
		obs:           deps.Observer,
		metrics:       deps.Metrics,
		maint:         deps.Maintenance,
		diag:          deps.Diagnoser,
		clk:           deps.Clock,
		inPortTimeout: inPortTimeout,
		idlePoll:      idlePoll,
		state:         StateIdle,
	}
	if m.selector == nil {
		m.selector = registry.NewSelector(deps.Levels, nil)
	}
	if m.obs == nil {
		m.obs = monitor.Nop{}
	}
	if m.clk == nil {
		m.clk = clock.Real{}
	}
	if m.punisher == nil {
		m.punisher = audio.NewPunisher(nil, nil, m.clk)
	}
	for _, opt := range opts {
		opt(m)
	}
	m.stateSince = m.clk.Now()
	return m, nil
}

// Run drives the state machine until ctx is cancelled. All outputs are
// forced off before it returns.
func (m *Machine) Run(ctx context.Context) error {
	w, err := m.hw.AcquireWriter()
	if err != nil {
		return fmt.Errorf("failed to acquire hardware: %w", err)
	}
	m.w = w
	defer w.Release()
	defer func() {
		if err := w.AllOff(); err != nil {
			log.Printf("[ERROR] [Rig] Failed to switch outputs off at shutdown: %v", err)
		}
	}()

	log.Printf("[Rig] Starting rig '%s'", m.rig)

	state := StateIdle
	for {
		if ctx.Err() != nil {
			log.Printf("[Rig] Shutting down...")
			return nil
		}
		m.enter(state)

		var next State
		switch state {
		case StateIdle:
			next, err = m.runIdle(ctx)
		case StateInPort:
			next, err = m.runInPort(ctx)
		case StateTrial:
			next, err = m.runTrial(ctx)
		default:
			err = fmt.Errorf("unknown state %q", state)
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("[Rig] Shutting down...")
				return nil
			}
			log.Printf("[ERROR] [Rig] %s: %v", state, err)
			next = StateIdle
		}
		state = next
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetPaused suspends or resumes tag polling. Trials in progress are unaffected.
func (m *Machine) SetPaused(paused bool) {
	if m.paused.Swap(paused) != paused {
		log.Printf("[INFO] [Rig] Paused=%v", paused)
	}
	m.metrics.SetPaused(paused)
}

// Paused reports whether tag polling is suspended.
func (m *Machine) Paused() bool {
	return m.paused.Load()
}

// Status summarises the machine for health reporting.
type Status struct {
	Rig        string
	State      State
	Paused     bool
	StateSince time.Time
	Trials     int64
}

// Status returns a snapshot safe to call from any goroutine.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Rig:        m.rig,
		State:      m.state,
		Paused:     m.paused.Load(),
		StateSince: m.stateSince,
		Trials:     m.trials.Load(),
	}
}

func (m *Machine) enter(s State) {
	m.mu.Lock()
	m.state = s
	m.stateSince = m.clk.Now()
	m.mu.Unlock()

	m.metrics.Transition(string(s))
	m.obs.StateEntered(string(s))
	m.logEvent("state_entered", map[string]interface{}{"state": string(s)})
}

// sleep waits on the machine clock.
func (m *Machine) sleep(ctx context.Context, d time.Duration) error {
	return m.clk.Sleep(ctx, d)
}

// pulse shows an indicator on the dashboard for d.
func (m *Machine) pulse(ctx context.Context, name string, d time.Duration) error {
	m.obs.Indicator(name, true)
	defer m.obs.Indicator(name, false)
	return m.sleep(ctx, d)
}

func (m *Machine) presence() (bool, error) {
	lvl, err := m.reader.Presence()
	if err != nil {
		return false, fmt.Errorf("presence sensor: %w", err)
	}
	return lvl == hardware.High, nil
}

// logEvent logs a structured event in JSON format.
func (m *Machine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = m.clk.Now().UTC().Format(time.RFC3339Nano)
	data["level"] = "info"
	data["component"] = "rig"
	data["event_type"] = eventType
	data["rig"] = m.rig

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Rig] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}

var errNoSubject = errors.New("trial started without a recognised subject")
