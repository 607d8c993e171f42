package rig

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/olfacto/internal/clock"
	"github.com/dyluth/olfacto/internal/hardware"
	"github.com/dyluth/olfacto/internal/maintenance"
	"github.com/dyluth/olfacto/internal/monitor"
	"github.com/dyluth/olfacto/internal/trial"
	"github.com/dyluth/olfacto/internal/triallog"
)

// runTrial runs one trial and always returns to Idle. Any error or panic
// before the record is persisted aborts the trial: outputs are forced off and
// nothing is written to the trial log.
func (m *Machine) runTrial(ctx context.Context) (next State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err == nil {
			return
		}
		next = StateIdle
		if offErr := m.w.AllOff(); offErr != nil {
			log.Printf("[ERROR] [Rig] Failed to switch outputs off: %v", offErr)
		}
		if ctx.Err() != nil {
			return
		}
		m.failTrial(err)
		err = nil
	}()

	maintenance.LogDiagnostics(m.diag, "trial start")

	if m.rec.Subject == nil {
		return StateIdle, errNoSubject
	}
	m.rec.Begin(m.rig, m.clk.Now())

	sel, err := m.selector.Select(m.rec.Subject.Level)
	if err != nil {
		return StateIdle, err
	}
	m.rec.FirstStim = sel.FirstOdor
	m.rec.SecondStim = sel.SecondOdor
	m.rec.Type = sel.Type
	m.obs.TrialValue(string(sel.Type))
	m.logEvent("trial_started", map[string]interface{}{
		"trial_id":    m.rec.ID,
		"subject":     m.rec.SubjectTag(),
		"level":       m.rec.SubjectLevel(),
		"first_stim":  sel.FirstOdor,
		"second_stim": sel.SecondOdor,
		"value":       string(sel.Type),
	})

	if err := m.stimulate(ctx, sel.FirstOdor, sel.SecondOdor); err != nil {
		return StateIdle, fmt.Errorf("stimulation: %w", err)
	}

	responded, err := m.collectResponse(ctx)
	if err != nil {
		return StateIdle, fmt.Errorf("response window: %w", err)
	}

	if err := m.score(ctx, responded); err != nil {
		return StateIdle, err
	}

	return m.trialOver(ctx)
}

func (m *Machine) failTrial(err error) {
	log.Printf("[ERROR] [Rig] Trial %s aborted: %v", m.rec.ID, err)
	m.metrics.TrialFailed()
	m.logEvent("trial_failed", map[string]interface{}{
		"trial_id": m.rec.ID,
		"subject":  m.rec.SubjectTag(),
		"error":    err.Error(),
	})
}

// stimulate presents the odor pair. Only one supply valve is open at a
// time, and every valve is closed again on return whatever happened.
func (m *Machine) stimulate(ctx context.Context, first, second int) (err error) {
	lines := m.hw.LineMap()
	firstLine, err := lines.OdorLine(first)
	if err != nil {
		return err
	}
	secondLine, err := lines.OdorLine(second)
	if err != nil {
		return err
	}
	delivery := lines.DeliveryValve
	load, _ := m.exp.LoadOdorDuration.Get()
	open, _ := m.exp.OpenOdorDuration.Get()

	defer func() {
		m.obs.Indicator(monitor.IndicatorStim, false)
		if offErr := errors.Join(m.w.Off(delivery), m.w.Off(firstLine), m.w.Off(secondLine)); offErr != nil {
			err = errors.Join(err, offErr)
		}
	}()

	// First odor: load the supply line, then deliver.
	if err := m.w.On(firstLine); err != nil {
		return err
	}
	if err := m.sleep(ctx, load.Duration()); err != nil {
		return err
	}
	if err := m.deliver(ctx, delivery, open.Duration()); err != nil {
		return err
	}
	if err := m.w.Off(firstLine); err != nil {
		return err
	}

	// Second odor. The inter-odor interval never drops below a second.
	if err := m.w.On(secondLine); err != nil {
		return err
	}
	gap := load.Duration()
	if gap > minInterOdor {
		log.Printf("[INFO] [Rig] Inter-odor interval %s", gap)
	} else {
		gap = minInterOdor
	}
	if err := m.sleep(ctx, gap); err != nil {
		return err
	}
	return m.deliver(ctx, delivery, open.Duration())
}

// deliver opens the delivery valve for d with the stim indicator lit.
func (m *Machine) deliver(ctx context.Context, delivery int, d time.Duration) error {
	if err := m.w.On(delivery); err != nil {
		return err
	}
	m.obs.Indicator(monitor.IndicatorStim, true)
	if err := m.sleep(ctx, d); err != nil {
		return err
	}
	m.obs.Indicator(monitor.IndicatorStim, false)
	return m.w.Off(delivery)
}

// collectResponse counts rising lick edges during the response window and
// reports whether the lick threshold was reached. Counting stops at the
// threshold; with no threshold the response is never achieved.
func (m *Machine) collectResponse(ctx context.Context) (bool, error) {
	if d, ok := m.exp.LickTimeBinSize.Get(); ok {
		if err := m.sleep(ctx, d.Duration()); err != nil {
			return false, err
		}
	}
	window, _ := m.exp.TimeToLickAfterStim.Get()
	threshold, hasThreshold := m.exp.LickThreshold.Get()

	start := m.clk.Now()
	prev := hardware.Low
	licks := 0
	for m.clk.Now().Sub(start) < window.Duration() {
		lvl, err := m.reader.Lick()
		if err != nil {
			return false, fmt.Errorf("lick sensor: %w", err)
		}
		if lvl == hardware.High && prev == hardware.Low {
			licks++
			m.rec.AddLick(m.clk.Now().Sub(start))
			if err := m.pulse(ctx, monitor.IndicatorLick, lickPulse); err != nil {
				return false, err
			}
			if hasThreshold && licks >= threshold {
				log.Printf("[INFO] [Rig] Lick threshold %d reached", threshold)
				return true, nil
			}
		}
		prev = lvl
		if err := m.sleep(ctx, lickPoll); err != nil {
			return false, err
		}
	}
	return false, nil
}

// score evaluates the trial and delivers the reward or punishment.
func (m *Machine) score(ctx context.Context, responded bool) error {
	s, err := trial.Evaluate(m.rec.Type, responded)
	if err != nil {
		return err
	}
	if err := m.rec.SetScore(s); err != nil {
		return err
	}
	m.obs.Score(string(s))
	log.Printf("[INFO] [Rig] Trial %s scored %s (%d licks)", m.rec.ID, s, len(m.rec.LickTimes))

	switch s {
	case trial.Hit:
		return m.reward(ctx)
	case trial.FalseAlarm:
		m.punish(ctx)
	}
	return nil
}

// reward pulses the reward valve. An unset duration skips the pulse.
func (m *Machine) reward(ctx context.Context) (err error) {
	d, ok := m.exp.OpenValveDuration.Get()
	if !ok {
		log.Printf("[WARN] [Rig] open_valve_duration is not set; no reward delivered")
		return nil
	}
	valve := m.hw.LineMap().RewardValve
	if err := m.w.On(valve); err != nil {
		return err
	}
	defer func() {
		if offErr := m.w.Off(valve); offErr != nil {
			err = errors.Join(err, offErr)
		}
	}()
	return m.sleep(ctx, d.Duration())
}

// punish plays the noise and holds the timeout. Audio failures are logged;
// the trial is still recorded.
func (m *Machine) punish(ctx context.Context) {
	timeout, _ := m.exp.TimeoutPunishment.Get()
	if err := m.punisher.Punish(ctx, timeout.Duration()); err != nil && ctx.Err() == nil {
		log.Printf("[WARN] [Rig] Punishment failed: %v", err)
	}
}

// trialOver persists the record and waits out the inter-trial interval.
// Without an ITI it waits for the subject to leave the port.
func (m *Machine) trialOver(ctx context.Context) (State, error) {
	if err := m.sleep(ctx, trialOverSettle); err != nil {
		return StateIdle, err
	}
	m.rec.EndTime = m.clk.Now()

	if err := m.sink.Append(ctx, &m.rec); err != nil {
		log.Printf("[ERROR] [Rig] Failed to persist trial %s: %v", m.rec.ID, err)
	} else {
		m.trials.Add(1)
	}
	m.metrics.TrialScored(string(m.rec.Score), len(m.rec.LickTimes))
	row := triallog.FromRecord(&m.rec)
	m.logEvent("trial_over", map[string]interface{}{
		"trial_id": row.ID,
		"subject":  row.Subject,
		"level":    row.Level,
		"value":    string(row.Type),
		"score":    string(row.Score),
		"licks":    len(row.LickTimes),
	})

	if iti, ok := m.exp.ITITime.Get(); ok {
		return StateIdle, m.sleep(ctx, iti.Duration())
	}

	waiter := clock.Waiter{Clock: m.clk, Interval: presencePoll}
	if _, err := waiter.Until(ctx, 0, func() (bool, error) {
		present, err := m.presence()
		return !present, err
	}); err != nil {
		// The record is already persisted; a sensor fault here only cuts the wait short.
		if ctx.Err() != nil {
			return StateIdle, ctx.Err()
		}
		log.Printf("[WARN] [Rig] Waiting for subject to leave: %v", err)
		return StateIdle, nil
	}
	return StateIdle, m.sleep(ctx, leaveSettle)
}
