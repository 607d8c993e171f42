package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Optional holds a configuration value that may be absent. An absent or null
// YAML value leaves it unset, which callers treat as "skip this step".
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// Get returns the value and whether it was set.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether a value is present.
func (o Optional[T]) IsSet() bool {
	return o.set
}

// UnmarshalYAML decodes the wrapped value; null leaves the Optional unset.
func (o *Optional[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null" {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := node.Decode(&v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// Seconds is a duration written in YAML either as a number of seconds
// (0.05, 15) or as a Go duration string ("50ms", "1m").
type Seconds time.Duration

// Duration converts to time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s)
}

func (s Seconds) String() string {
	return time.Duration(s).String()
}

// UnmarshalYAML accepts numeric seconds or a duration string.
func (s *Seconds) UnmarshalYAML(node *yaml.Node) error {
	var secs float64
	if err := node.Decode(&secs); err == nil {
		*s = Seconds(secs * float64(time.Second))
		return nil
	}
	var str string
	if err := node.Decode(&str); err != nil {
		return fmt.Errorf("line %d: invalid duration: %w", node.Line, err)
	}
	d, err := time.ParseDuration(str)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, str, err)
	}
	*s = Seconds(d)
	return nil
}
