package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueSize      = 64
	publishTimeout = 2 * time.Second
)

// Event is the JSON payload published on the events channel.
type Event struct {
	Type        string `json:"type"` // state, subject, trial_value, score, indicator, reset
	Rig         string `json:"rig"`
	State       string `json:"state,omitempty"`
	Tag         string `json:"tag,omitempty"`
	Level       string `json:"level,omitempty"`
	Value       string `json:"value,omitempty"`
	Score       string `json:"score,omitempty"`
	Indicator   string `json:"indicator,omitempty"`
	On          *bool  `json:"on,omitempty"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// fields returns the status hash fields the event updates.
func (e Event) fields() map[string]interface{} {
	f := map[string]interface{}{"updated_ms": e.TimestampMs}
	switch e.Type {
	case "state":
		f["state"] = e.State
	case "subject":
		f["tag"] = e.Tag
		f["level"] = e.Level
	case "trial_value":
		f["value"] = e.Value
	case "score":
		f["score"] = e.Score
	case "indicator":
		f["indicator:"+e.Indicator] = boolField(*e.On)
	case "reset":
		f["tag"], f["level"], f["value"], f["score"] = "", "", "", ""
		for _, name := range []string{IndicatorIR, IndicatorStim, IndicatorLick} {
			f["indicator:"+name] = "0"
		}
	}
	return f
}

func boolField(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// Redis is an Observer that mirrors rig state into Redis. Events are queued
// and written by a background goroutine; a full queue drops the event.
type Redis struct {
	rdb *redis.Client
	rig string
	now func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedis connects to Redis and starts the publishing goroutine.
func NewRedis(opts *redis.Options, rig string) (*Redis, error) {
	if rig == "" {
		return nil, fmt.Errorf("rig name cannot be empty")
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Redis{
		rdb:    redis.NewClient(opts),
		rig:    rig,
		now:    time.Now,
		queue:  make(chan Event, queueSize),
		cancel: cancel,
	}
	r.wg.Add(1)
	go r.run(ctx)
	return r, nil
}

// NewRedisFromURL parses a redis:// URL and calls NewRedis.
func NewRedisFromURL(url, rig string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedis(opts, rig)
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close drains queued events and closes the connection.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
	return r.rdb.Close()
}

func (r *Redis) run(ctx context.Context) {
	defer r.wg.Done()
	for e := range r.queue {
		if err := r.publish(ctx, e); err != nil {
			log.Printf("[WARN] [Monitor] Failed to publish %s event: %v", e.Type, err)
		}
	}
}

func (r *Redis) publish(ctx context.Context, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := r.rdb.HSet(ctx, StatusKey(r.rig), e.fields()).Err(); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.rdb.Publish(ctx, EventsChannel(r.rig), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (r *Redis) enqueue(e Event) {
	e.Rig = r.rig
	e.TimestampMs = r.now().UnixMilli()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		log.Printf("[WARN] [Monitor] Event queue full, dropped %s event", e.Type)
	}
}

func (r *Redis) StateEntered(state string) {
	r.enqueue(Event{Type: "state", State: state})
}

func (r *Redis) Subject(tag, level string) {
	r.enqueue(Event{Type: "subject", Tag: tag, Level: level})
}

func (r *Redis) TrialValue(value string) {
	r.enqueue(Event{Type: "trial_value", Value: value})
}

func (r *Redis) Score(score string) {
	r.enqueue(Event{Type: "score", Score: score})
}

func (r *Redis) Indicator(name string, on bool) {
	r.enqueue(Event{Type: "indicator", Indicator: name, On: &on})
}

func (r *Redis) Reset() {
	r.enqueue(Event{Type: "reset"})
}

// Pauser is the part of the state machine driven by control commands.
type Pauser interface {
	SetPaused(paused bool)
}

// ControlSubscription listens for pause/resume commands.
type ControlSubscription struct {
	cancel func()
	done   chan struct{}
	once   sync.Once
}

// Close stops listening and waits for the listener to exit.
func (s *ControlSubscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

// SubscribeControl subscribes to the control channel and applies "pause" and
// "resume" commands to p. The subscription is confirmed before returning.
func (r *Redis) SubscribeControl(ctx context.Context, p Pauser) (*ControlSubscription, error) {
	pubsub := r.rdb.Subscribe(ctx, ControlChannel(r.rig))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to control channel: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &ControlSubscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				switch cmd := strings.ToLower(strings.TrimSpace(msg.Payload)); cmd {
				case "pause":
					log.Printf("[INFO] [Monitor] Pause requested")
					p.SetPaused(true)
				case "resume":
					log.Printf("[INFO] [Monitor] Resume requested")
					p.SetPaused(false)
				default:
					log.Printf("[WARN] [Monitor] Ignoring unknown control command %q", cmd)
				}
			}
		}
	}()

	return sub, nil
}
