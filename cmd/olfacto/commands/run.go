package commands

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/olfacto/internal/clock"
	"github.com/dyluth/olfacto/internal/health"
	"github.com/dyluth/olfacto/internal/maintenance"
	"github.com/dyluth/olfacto/internal/metrics"
	"github.com/dyluth/olfacto/internal/monitor"
	"github.com/dyluth/olfacto/internal/printer"
	"github.com/dyluth/olfacto/internal/registry"
	"github.com/dyluth/olfacto/internal/rig"
	"github.com/dyluth/olfacto/internal/triallog"
)

var (
	runConfigPath string
	runSimulate   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the rig until interrupted",
	Long: `Run the trial state machine on the configured rig.

The rig waits for a known tag, confirms presence at the port, runs one trial
and appends it to the trial log. SIGINT or SIGTERM stops the rig; every
valve is closed before the command exits.

With --simulate no hardware is touched. Lines typed on stdin drive the
simulated rig:
  M17     a tag read
  !in     subject enters the port
  !out    subject leaves the port
  !lick   one lick

Examples:
  # Run the rig
  olfacto run --config rig.yml

  # Try a configuration without hardware
  olfacto run --config rig.yml --simulate`,
	RunE: runRig,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "rig.yml", "Path to rig.yml")
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "Use simulated hardware driven from stdin")
	rootCmd.AddCommand(runCmd)
}

func runRig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(runConfigPath)
	if err != nil {
		return err
	}

	if cfg.Files.DiagnosticsLog != "" {
		f, err := os.OpenFile(cfg.Files.DiagnosticsLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return printer.Error(
				"diagnostics log unavailable",
				fmt.Sprintf("Could not open %s: %v", cfg.Files.DiagnosticsLog, err),
				[]string{"Fix the path or remove files.diagnostics_log from rig.yml"},
			)
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, f))
		defer log.SetOutput(os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hw, sim, err := openHardware(cfg.Hardware, runSimulate, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			log.Printf("[WARN] Failed to release hardware: %v", err)
		}
	}()

	subjects, err := registry.LoadSubjects(cfg.Files.Subjects)
	if err != nil {
		return printer.Error("subject registry unreadable", err.Error(), nil)
	}
	levels, err := registry.LoadLevels(cfg.Files.Levels)
	if err != nil {
		return printer.Error(
			"level table unreadable",
			err.Error(),
			[]string{fmt.Sprintf("Validate it first:\n  olfacto levels --file %s", cfg.Files.Levels)},
		)
	}

	store, err := triallog.Open(ctx, triallog.Config{
		Driver: cfg.TrialLog.Driver,
		Path:   cfg.TrialLog.Path,
		DSN:    cfg.TrialLog.DSN,
	})
	if err != nil {
		return printer.ErrorWithContext(
			"trial log unavailable",
			err.Error(),
			map[string]string{"driver": cfg.TrialLog.Driver, "path": cfg.TrialLog.Path},
			nil,
		)
	}
	defer store.Close()

	recorder := metrics.New(cfg.Rig)

	observers := monitor.Multi{}
	var redisMonitor *monitor.Redis
	if cfg.Monitor.RedisURL != "" {
		redisMonitor, err = monitor.NewRedisFromURL(cfg.Monitor.RedisURL, cfg.Rig)
		if err != nil {
			log.Printf("[WARN] Live monitor disabled: %v", err)
		} else {
			defer redisMonitor.Close()
			observers = append(observers, redisMonitor)
		}
	}

	var diag maintenance.Diagnoser
	if p, err := maintenance.NewProcess(); err != nil {
		log.Printf("[WARN] Process diagnostics unavailable: %v", err)
	} else {
		diag = p
	}

	uploader, err := openUploader(ctx, cfg.Upload)
	if err != nil {
		return printer.Error("upload target unavailable", err.Error(), nil)
	}

	machine, err := rig.New(rig.Deps{
		Rig:        cfg.Rig,
		Experiment: cfg.Experiment,
		Hardware:   hw,
		Subjects:   subjects,
		Levels:     levels,
		TrialLog:   store,
		Punisher:   openPunisher(cfg.Files.Noise),
		Observer:   observers,
		Metrics:    recorder,
		Maintenance: &maintenance.Scheduler{
			Clock:            clock.Real{},
			Tick:             cfg.Maintenance.Tick.Duration(),
			UploadEvery:      *cfg.Maintenance.UploadEvery,
			DiagnosticsEvery: *cfg.Maintenance.DiagnosticsEvery,
			Uploader:         uploader,
			Files:            dataFiles(cfg),
			Diagnoser:        diag,
			Reporter:         recorder,
		},
		Diagnoser: diag,
	})
	if err != nil {
		return printer.Error("rig setup failed", err.Error(), nil)
	}

	if redisMonitor != nil {
		sub, err := redisMonitor.SubscribeControl(ctx, machine)
		if err != nil {
			log.Printf("[WARN] Pause control unavailable: %v", err)
		} else {
			defer sub.Close()
		}
	}

	var srv *health.Server
	if cfg.HTTP.Addr != "-" {
		var pinger health.Pinger
		if redisMonitor != nil {
			pinger = redisMonitor
		}
		srv = health.NewServer(cfg.HTTP.Addr, func() health.RigStatus {
			st := machine.Status()
			return health.RigStatus{
				Rig:        st.Rig,
				State:      string(st.State),
				Paused:     st.Paused,
				StateSince: st.StateSince,
				Trials:     st.Trials,
			}
		}, pinger, recorder.Handler())
		if err := srv.Start(); err != nil {
			log.Printf("[WARN] Health server disabled: %v", err)
			srv = nil
		}
	}

	if sim != nil {
		printer.Step("Simulated rig: type a tag, or !in, !out, !lick\n")
		go func() {
			if err := feedSimulator(ctx, os.Stdin, sim, hw.LineMap(), func() bool {
				return machine.State() == rig.StateTrial
			}); err != nil {
				log.Printf("[WARN] Simulator input: %v", err)
			}
		}()
	}

	printer.Success("Rig '%s' running: %d subjects, %d levels\n", cfg.Rig, subjects.Len(), len(levels.Levels()))
	runErr := machine.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] Health server shutdown: %v", err)
		}
	}

	if runErr != nil {
		return printer.Error("rig stopped", runErr.Error(), nil)
	}
	printer.Success("Rig '%s' stopped, all outputs off\n", cfg.Rig)
	return nil
}
