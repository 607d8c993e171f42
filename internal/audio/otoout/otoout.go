// Package otoout plays audio through the system sound device.
package otoout

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

const pollInterval = 10 * time.Millisecond

// Output is an audio.Output backed by an oto context. A process may hold one
// oto context, so the sample rate is fixed at construction.
type Output struct {
	ctx  *oto.Context
	rate int

	mu     sync.Mutex
	player *oto.Player
}

// New opens the sound device for mono float32 playback at rate.
func New(rate int) (*Output, error) {
	c, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready
	return &Output{ctx: c, rate: rate}, nil
}

// Play encodes samples and blocks until the player drains or ctx is done.
func (o *Output) Play(ctx context.Context, samples []float32, rate int) error {
	if rate != o.rate {
		return fmt.Errorf("sample rate %d does not match device rate %d", rate, o.rate)
	}

	p := o.ctx.NewPlayer(bytes.NewReader(encode(samples)))
	o.mu.Lock()
	o.player = p
	o.mu.Unlock()

	p.Play()
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for p.IsPlaying() {
		select {
		case <-ctx.Done():
			p.Pause()
			return ctx.Err()
		case <-t.C:
		}
	}
	return p.Err()
}

// Stop pauses and closes the current player.
func (o *Output) Stop() error {
	o.mu.Lock()
	p := o.player
	o.player = nil
	o.mu.Unlock()
	if p == nil {
		return nil
	}
	p.Pause()
	return p.Close()
}

func encode(samples []float32) []byte {
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(s))
	}
	return buf
}
