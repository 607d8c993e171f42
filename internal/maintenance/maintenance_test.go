package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/olfacto/internal/clock"
)

var epoch = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

type fakeUploader struct {
	clk   clock.Clock
	err   error
	mu    sync.Mutex
	times []time.Time
	stop  func(n int)
}

func (f *fakeUploader) Name() string { return "fake" }

func (f *fakeUploader) Upload(ctx context.Context, files []string) error {
	f.mu.Lock()
	f.times = append(f.times, f.clk.Now())
	n := len(f.times)
	f.mu.Unlock()
	if f.stop != nil {
		f.stop(n)
	}
	return f.err
}

type fakeDiagnoser struct{ calls int }

func (f *fakeDiagnoser) Diagnose() (Diagnostics, error) {
	f.calls++
	return Diagnostics{RSS: 64 << 20, Threads: 8, Goroutines: 5}, nil
}

type fakeReporter struct {
	mu   sync.Mutex
	runs []string
}

func (f *fakeReporter) MaintenanceRun(task, result string) {
	f.mu.Lock()
	f.runs = append(f.runs, task+":"+result)
	f.mu.Unlock()
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ResultOK, Classify(nil))
	assert.Equal(t, ResultPermission, Classify(fmt.Errorf("open: %w", fs.ErrPermission)))
	assert.Equal(t, ResultMissing, Classify(errors.Join(errors.New("x"), &fs.PathError{Op: "open", Path: "a", Err: fs.ErrNotExist})))
	assert.Equal(t, ResultOther, Classify(errors.New("network unreachable")))
}

func TestScheduler_Cadence(t *testing.T) {
	clk := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	up := &fakeUploader{clk: clk, stop: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	diag := &fakeDiagnoser{}
	rep := &fakeReporter{}
	s := &Scheduler{
		Clock:            clk,
		Tick:             time.Minute,
		UploadEvery:      30,
		DiagnosticsEvery: 5,
		Uploader:         up,
		Files:            []string{"trials.txt"},
		Diagnoser:        diag,
		Reporter:         rep,
	}
	s.Run(ctx)
	s.inflight.Wait()

	require.Len(t, up.times, 2)
	assert.Equal(t, 30*time.Minute, up.times[0].Sub(epoch))
	assert.Equal(t, 60*time.Minute, up.times[1].Sub(epoch))
	assert.Equal(t, 12, diag.calls, "diagnostics every 5 ticks up to tick 60")
	assert.Contains(t, rep.runs, "upload:ok")
}

// stoppingClock cancels the run after a fixed number of sleeps.
type stoppingClock struct {
	*clock.Fake
	after  int
	sleeps int
	cancel context.CancelFunc
}

func (c *stoppingClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := c.Fake.Sleep(ctx, d); err != nil {
		return err
	}
	c.sleeps++
	if c.sleeps == c.after {
		c.cancel()
	}
	return nil
}

func TestScheduler_CountRestartsEachRun(t *testing.T) {
	fake := clock.NewFake(epoch)
	up := &fakeUploader{clk: fake}

	idle := func(ticks int) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		clk := &stoppingClock{Fake: fake, after: ticks, cancel: cancel}
		s := &Scheduler{Clock: clk, Tick: time.Minute, UploadEvery: 30, Uploader: up, Files: []string{"a"}}
		s.Run(ctx)
		s.inflight.Wait()
	}

	// Two idle periods of 20 ticks never reach the 30 tick upload point.
	idle(20)
	idle(20)
	assert.Empty(t, up.times)

	idle(40)
	require.Len(t, up.times, 1)
	assert.Equal(t, 70*time.Minute, up.times[0].Sub(epoch))
}

func TestScheduler_UploadFailureIsNotFatal(t *testing.T) {
	clk := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := &fakeReporter{}
	up := &fakeUploader{
		clk: clk,
		err: &fs.PathError{Op: "open", Path: "trials.txt", Err: os.ErrPermission},
		stop: func(n int) {
			if n == 2 {
				cancel()
			}
		},
	}
	s := &Scheduler{Clock: clk, Tick: time.Minute, UploadEvery: 1, Uploader: up, Files: []string{"trials.txt"}, Reporter: rep}
	s.Run(ctx)
	s.inflight.Wait()

	assert.Len(t, up.times, 2, "scheduler keeps running after a failed upload")
	assert.Equal(t, []string{"upload:permission", "upload:permission"}, rep.runs)
}

func TestScheduler_SingleRunner(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := &Scheduler{Clock: clk, Tick: time.Minute}
	s.running.Store(true)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Run should return immediately")
	}
}

// hangingUploader blocks until release is closed, ignoring ctx like a
// stalled network mount.
type hangingUploader struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newHangingUploader() *hangingUploader {
	return &hangingUploader{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (h *hangingUploader) Name() string { return "hanging" }

func (h *hangingUploader) Upload(context.Context, []string) error {
	h.calls.Add(1)
	h.started <- struct{}{}
	<-h.release
	return nil
}

func TestScheduler_HungUploadDoesNotBlockRun(t *testing.T) {
	up := newHangingUploader()
	rep := &fakeReporter{}
	s := &Scheduler{Clock: clock.NewFake(epoch), Tick: time.Minute, UploadEvery: 1, Uploader: up, Files: []string{"a"}, Reporter: rep}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	<-up.started
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return while the upload hangs")
	}

	// The next idle period skips uploads while the first is still running.
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	clk := &stoppingClock{Fake: clock.NewFake(epoch), after: 3, cancel: cancel2}
	s.Clock = clk
	s.Run(ctx2)
	assert.Equal(t, int32(1), up.calls.Load())

	close(up.release)
	s.inflight.Wait()
	rep.mu.Lock()
	defer rep.mu.Unlock()
	assert.Contains(t, rep.runs, "upload:"+ResultBusy)
	assert.Contains(t, rep.runs, "upload:"+ResultOK)
}

func TestProcess_Diagnose(t *testing.T) {
	p, err := NewProcess()
	require.NoError(t, err)
	d, err := p.Diagnose()
	require.NoError(t, err)
	assert.NotZero(t, d.RSS)
	assert.NotZero(t, d.Threads)
	assert.NotZero(t, d.Goroutines)
	assert.Contains(t, d.String(), "rss=")
}
