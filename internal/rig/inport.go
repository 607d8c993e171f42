package rig

import (
	"context"
	"log"

	"github.com/dyluth/olfacto/internal/clock"
	"github.com/dyluth/olfacto/internal/monitor"
)

// runInPort waits for the presence sensor. A timeout returns to Idle.
func (m *Machine) runInPort(ctx context.Context) (State, error) {
	waiter := clock.Waiter{Clock: m.clk, Interval: presencePoll}
	present, err := waiter.Until(ctx, m.inPortTimeout, m.presence)
	if err != nil {
		return StateIdle, err
	}
	if !present {
		log.Printf("[INFO] [Rig] Subject %s did not enter within %s", m.rec.SubjectTag(), m.inPortTimeout)
		m.metrics.InPortTimeout()
		m.logEvent("in_port_timeout", map[string]interface{}{"subject": m.rec.SubjectTag()})
		return StateIdle, nil
	}

	log.Printf("[INFO] [Rig] Subject %s entered the port", m.rec.SubjectTag())
	if err := m.pulse(ctx, monitor.IndicatorIR, irPulse); err != nil {
		return StateIdle, err
	}
	if d, ok := m.exp.StartTrialTime.Get(); ok {
		if err := m.sleep(ctx, d.Duration()); err != nil {
			return StateIdle, err
		}
	}
	return StateTrial, nil
}
