// Package maintenance runs periodic housekeeping while the rig is idle:
// uploading data files and logging process diagnostics.
package maintenance

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/olfacto/internal/clock"
	"github.com/dyluth/olfacto/internal/upload"
)

// Upload failure classes.
const (
	ResultOK         = "ok"
	ResultPermission = "permission"
	ResultMissing    = "missing"
	ResultOther      = "other"
	ResultBusy       = "busy"
)

// Classify maps an upload error to a failure class.
func Classify(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, fs.ErrPermission):
		return ResultPermission
	case errors.Is(err, fs.ErrNotExist):
		return ResultMissing
	}
	return ResultOther
}

// Reporter receives maintenance outcomes, e.g. for metrics.
type Reporter interface {
	MaintenanceRun(task, result string)
}

// Scheduler counts ticks while idle and runs uploads and diagnostics every
// N ticks. The count starts from zero on each Run.
type Scheduler struct {
	Clock            clock.Clock
	Tick             time.Duration
	UploadEvery      int // 0 disables uploads
	DiagnosticsEvery int // 0 disables diagnostics
	Uploader         upload.Uploader
	Files            []string
	Diagnoser        Diagnoser
	Reporter         Reporter

	running   atomic.Bool
	uploading atomic.Bool
	inflight  sync.WaitGroup
}

// Run ticks until ctx is done. A second concurrent Run returns immediately.
// Run returns once ctx is done even if an upload is still in flight; that
// upload finishes in the background and later upload ticks are skipped
// until it does.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		log.Printf("[WARN] [Maintenance] Scheduler already running")
		return
	}
	defer s.running.Store(false)

	for tick := 1; ; tick++ {
		if err := s.Clock.Sleep(ctx, s.Tick); err != nil {
			return
		}
		if s.UploadEvery > 0 && tick%s.UploadEvery == 0 {
			s.upload(ctx)
		}
		if s.DiagnosticsEvery > 0 && tick%s.DiagnosticsEvery == 0 {
			LogDiagnostics(s.Diagnoser, "idle")
			s.report("diagnostics", ResultOK)
		}
	}
}

func (s *Scheduler) upload(ctx context.Context) {
	if s.Uploader == nil || len(s.Files) == 0 {
		return
	}
	if !s.uploading.CompareAndSwap(false, true) {
		log.Printf("[WARN] [Maintenance] Previous upload still in progress, skipping")
		s.report("upload", ResultBusy)
		return
	}

	done := make(chan struct{})
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer close(done)
		defer s.uploading.Store(false)
		s.runUpload(ctx)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("[WARN] [Maintenance] Leaving idle with upload to %s in progress", s.Uploader.Name())
	}
}

func (s *Scheduler) runUpload(ctx context.Context) {
	log.Printf("[INFO] [Maintenance] Uploading %d files to %s", len(s.Files), s.Uploader.Name())
	err := s.Uploader.Upload(ctx, s.Files)
	result := Classify(err)
	switch result {
	case ResultOK:
		log.Printf("[INFO] [Maintenance] Upload complete")
	case ResultPermission:
		log.Printf("[WARN] [Maintenance] Upload failed, permission denied: %v", err)
	case ResultMissing:
		log.Printf("[WARN] [Maintenance] Upload failed, file not found: %v", err)
	default:
		log.Printf("[ERROR] [Maintenance] Upload failed: %v", err)
	}
	s.report("upload", result)
}

func (s *Scheduler) report(task, result string) {
	if s.Reporter != nil {
		s.Reporter.MaintenanceRun(task, result)
	}
}
