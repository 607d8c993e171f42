// Package audio plays the white-noise punishment stimulus.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sync"
	"time"

	"github.com/sbinet/npyio/npz"

	"github.com/dyluth/olfacto/internal/clock"
)

// Noise is a mono waveform.
type Noise struct {
	Samples []float32
	Rate    int
}

// Duration returns the playback length.
func (n *Noise) Duration() time.Duration {
	if n == nil || n.Rate <= 0 {
		return 0
	}
	return time.Duration(len(n.Samples)) * time.Second / time.Duration(n.Rate)
}

// LoadNoise reads an .npz archive holding a "noise" sample array and an "Fs"
// sample rate. A missing file is reported with fs.ErrNotExist.
func LoadNoise(path string) (*Noise, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("noise file %s: %w", path, err)
	}
	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open noise archive %s: %w", path, err)
	}
	defer r.Close()

	samples, err := readSamples(r)
	if err != nil {
		return nil, fmt.Errorf("noise archive %s (keys %v): %w", path, r.Keys(), err)
	}
	rate, err := readRate(r)
	if err != nil {
		return nil, fmt.Errorf("noise archive %s (keys %v): %w", path, r.Keys(), err)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("noise archive %s: invalid sample rate %d", path, rate)
	}
	return &Noise{Samples: samples, Rate: rate}, nil
}

func readSamples(r *npz.Reader) ([]float32, error) {
	var f32 []float32
	if err := r.Read("noise", &f32); err == nil {
		return f32, nil
	}
	var f64 []float64
	if err := r.Read("noise", &f64); err != nil {
		return nil, fmt.Errorf("read noise samples: %w", err)
	}
	out := make([]float32, len(f64))
	for i, v := range f64 {
		out[i] = float32(v)
	}
	return out, nil
}

func readRate(r *npz.Reader) (int, error) {
	var i64 int64
	if err := r.Read("Fs", &i64); err == nil {
		return int(i64), nil
	}
	var f64 float64
	if err := r.Read("Fs", &f64); err != nil {
		return 0, fmt.Errorf("read sample rate Fs: %w", err)
	}
	return int(f64), nil
}

// LoadNoiseOptional loads the noise resource, returning nil with a warning
// when the file does not exist.
func LoadNoiseOptional(path string) (*Noise, error) {
	n, err := LoadNoise(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("[WARN] Noise file %s not found, punishment disabled", path)
		return nil, nil
	}
	return n, err
}

// Output plays mono float samples.
type Output interface {
	// Play blocks until the samples have been played or ctx is done.
	Play(ctx context.Context, samples []float32, rate int) error
	// Stop halts any playback in progress.
	Stop() error
}

// Punisher serialises punishment playback across trials.
type Punisher struct {
	mu    sync.Mutex
	noise *Noise
	out   Output
	clk   clock.Clock
}

// NewPunisher returns a punisher for noise on out. Without noise or output
// every Punish call is a no-op.
func NewPunisher(noise *Noise, out Output, clk clock.Clock) *Punisher {
	if noise == nil || out == nil {
		log.Printf("[WARN] Punishment noise unavailable, fa trials will not be punished")
	}
	return &Punisher{noise: noise, out: out, clk: clk}
}

// Enabled reports whether Punish does anything.
func (p *Punisher) Enabled() bool {
	return p.noise != nil && p.out != nil
}

// Punish stops any previous playback, plays the noise to completion, stops
// the output and waits timeout, all while holding the punishment lock.
func (p *Punisher) Punish(ctx context.Context, timeout time.Duration) error {
	if !p.Enabled() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.out.Stop(); err != nil {
		log.Printf("[WARN] Failed to stop previous playback: %v", err)
	}
	playErr := p.out.Play(ctx, p.noise.Samples, p.noise.Rate)
	if err := p.out.Stop(); err != nil {
		log.Printf("[WARN] Failed to stop playback: %v", err)
	}
	if playErr != nil {
		return fmt.Errorf("play punishment noise: %w", playErr)
	}
	if timeout > 0 {
		return p.clk.Sleep(ctx, timeout)
	}
	return nil
}
