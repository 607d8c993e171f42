package maintenance

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// Diagnostics is a snapshot of process resource usage.
type Diagnostics struct {
	RSS        uint64
	VMS        uint64
	Threads    int32
	Goroutines int
	HeapAlloc  uint64
}

func (d Diagnostics) String() string {
	return fmt.Sprintf("rss=%.1fMiB vms=%.1fMiB threads=%d goroutines=%d heap=%.1fMiB",
		mib(d.RSS), mib(d.VMS), d.Threads, d.Goroutines, mib(d.HeapAlloc))
}

func mib(b uint64) float64 { return float64(b) / (1 << 20) }

// Diagnoser samples resource usage.
type Diagnoser interface {
	Diagnose() (Diagnostics, error)
}

// Process samples the current process through gopsutil.
type Process struct {
	proc *process.Process
}

// NewProcess returns a Diagnoser for this process.
func NewProcess() (*Process, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("inspect process: %w", err)
	}
	return &Process{proc: p}, nil
}

// Diagnose reads memory and thread counts.
func (p *Process) Diagnose() (Diagnostics, error) {
	var d Diagnostics
	mem, err := p.proc.MemoryInfo()
	if err != nil {
		return d, fmt.Errorf("memory info: %w", err)
	}
	d.RSS, d.VMS = mem.RSS, mem.VMS
	if d.Threads, err = p.proc.NumThreads(); err != nil {
		return d, fmt.Errorf("thread count: %w", err)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	d.HeapAlloc = ms.HeapAlloc
	d.Goroutines = runtime.NumGoroutine()
	return d, nil
}

// LogDiagnostics writes one diagnostics line tagged with where it was taken.
func LogDiagnostics(d Diagnoser, where string) {
	if d == nil {
		return
	}
	snap, err := d.Diagnose()
	if err != nil {
		log.Printf("[WARN] [Diagnostics] %s: %v", where, err)
		return
	}
	log.Printf("[INFO] [Diagnostics] %s: %s", where, snap)
}
