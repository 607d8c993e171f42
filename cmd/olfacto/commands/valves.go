package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/olfacto/internal/clock"
	"github.com/dyluth/olfacto/internal/hardware"
	"github.com/dyluth/olfacto/internal/printer"
)

var (
	valvesConfigPath string
	valvesLine       int
	valvesPeriod     time.Duration
	valvesCount      int
	valvesSimulate   bool
)

var valvesCmd = &cobra.Command{
	Use:   "valves",
	Short: "Bench-test one output line",
	Long: `Toggle one output line on and off to check valve wiring.

The line is switched HIGH for --period, then LOW for --period, --count
times (0 = until interrupted). Every output is switched off on exit.

Examples:
  # Click the delivery valve ten times
  olfacto valves --line 21 --count 10

  # Slow toggle of odor valve line 5
  olfacto valves --line 5 --period 2s`,
	RunE: runValves,
}

func init() {
	valvesCmd.Flags().StringVarP(&valvesConfigPath, "config", "c", "rig.yml", "Path to rig.yml")
	valvesCmd.Flags().IntVar(&valvesLine, "line", -1, "Output line to toggle (required)")
	valvesCmd.Flags().DurationVar(&valvesPeriod, "period", time.Second, "Time spent in each state")
	valvesCmd.Flags().IntVar(&valvesCount, "count", 0, "Number of on/off cycles (0 = until interrupted)")
	valvesCmd.Flags().BoolVar(&valvesSimulate, "simulate", false, "Use simulated hardware")
	rootCmd.AddCommand(valvesCmd)
}

func runValves(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(valvesConfigPath)
	if err != nil {
		return err
	}

	outputs := lineMap(cfg.Hardware).Outputs()
	if !slices.Contains(outputs, valvesLine) {
		return printer.Error(
			"invalid --line",
			fmt.Sprintf("Line %d is not a configured output.", valvesLine),
			[]string{fmt.Sprintf("Choose one of: %v", outputs)},
		)
	}
	if valvesPeriod <= 0 {
		return printer.Error("invalid --period", "The period must be positive.", nil)
	}

	hw, _, err := openHardware(cfg.Hardware, valvesSimulate, false)
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			log.Printf("[WARN] Failed to release hardware: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cycles, err := toggleLine(ctx, hw, clock.Real{}, valvesLine, valvesPeriod, valvesCount)
	printer.Info("Completed %d cycles on line %d\n", cycles, valvesLine)
	if err != nil && ctx.Err() == nil {
		return printer.Error("valve test failed", err.Error(), nil)
	}
	printer.Success("All outputs off\n")
	return nil
}

// toggleLine cycles line count times (0 = until ctx is done) and returns
// the number of completed cycles. Every output is LOW on return.
func toggleLine(ctx context.Context, hw *hardware.Controller, clk clock.Clock, line int, period time.Duration, count int) (cycles int, err error) {
	w, err := hw.AcquireWriter()
	if err != nil {
		return 0, err
	}
	defer w.Release()
	defer func() {
		if offErr := w.AllOff(); offErr != nil && err == nil {
			err = offErr
		}
	}()

	for count == 0 || cycles < count {
		if err := w.On(line); err != nil {
			return cycles, err
		}
		log.Printf("[INFO] Line %d HIGH", line)
		if err := clk.Sleep(ctx, period); err != nil {
			return cycles, err
		}
		if err := w.Off(line); err != nil {
			return cycles, err
		}
		log.Printf("[INFO] Line %d LOW", line)
		if err := clk.Sleep(ctx, period); err != nil {
			return cycles, err
		}
		cycles++
	}
	return cycles, nil
}
