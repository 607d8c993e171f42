package rig

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/dyluth/olfacto/internal/hardware"
	"github.com/dyluth/olfacto/internal/metrics"
)

// runIdle waits for a recognised tag. Unknown tags are logged and ignored.
func (m *Machine) runIdle(ctx context.Context) (State, error) {
	if err := m.reader.FlushTags(); err != nil {
		log.Printf("[WARN] [Rig] Failed to flush tag reader: %v", err)
	}
	m.rec.Reset()
	m.obs.Reset()

	idleCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	tags := make(chan string)
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.pollTags(idleCtx, tags)
	}()

	if m.maint != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.maint.Run(idleCtx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return StateIdle, ctx.Err()
		case tag := <-tags:
			subject, ok := m.subjects.Lookup(tag)
			if !ok {
				log.Printf("[WARN] [Rig] Unrecognised tag '%s'", tag)
				m.metrics.TagRead(metrics.TagUnrecognized)
				continue
			}
			m.metrics.TagRead(metrics.TagRecognized)
			m.rec.Subject = subject
			m.obs.Subject(subject.Tag, subject.Level)
			log.Printf("[INFO] [Rig] Subject %s (level %s) at the port", subject.Tag, subject.Level)
			m.logEvent("tag_read", map[string]interface{}{
				"subject": subject.Tag,
				"level":   subject.Level,
			})
			return StateInPort, nil
		}
	}
}

// pollTags reads the tag reader until ctx is done, sending each non-empty
// line on out. No read happens while the machine is paused.
func (m *Machine) pollTags(ctx context.Context, out chan<- string) {
	for {
		if !m.Paused() {
			line, ok, err := m.reader.ReadTag()
			switch {
			case errors.Is(err, hardware.ErrDecode), errors.Is(err, hardware.ErrLineTooLong):
				log.Printf("[WARN] [Rig] Discarding unreadable tag: %v", err)
				m.metrics.TagRead(metrics.TagDecodeError)
			case err != nil:
				log.Printf("[WARN] [Rig] Tag reader error: %v", err)
				m.metrics.TagRead(metrics.TagReadError)
			case ok && line != "":
				select {
				case out <- line:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := m.sleep(ctx, m.idlePoll); err != nil {
			return
		}
	}
}
