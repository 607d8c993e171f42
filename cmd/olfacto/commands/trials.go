package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/olfacto/internal/printer"
	"github.com/dyluth/olfacto/internal/timespec"
	"github.com/dyluth/olfacto/internal/triallog"
)

var (
	trialsConfigPath string
	trialsDriver     string
	trialsPath       string
	trialsDSN        string
	trialsSubject    string
	trialsSince      string
	trialsUntil      string
	trialsJSONL      bool
)

var trialsCmd = &cobra.Command{
	Use:   "trials",
	Short: "List persisted trials",
	Long: `List trials from the trial log as a table or JSONL stream.

The log is taken from --config, or from --driver with --path / --dsn.

Time Filters:
  --since  - trials started at or after this time
  --until  - trials started before this time
  Both accept a duration ("2h"), days ("3d"), a date or RFC3339.

Examples:
  # Today's trials for one subject
  olfacto trials --config rig.yml --subject M17 --since 24h

  # Export a sqlite log for analysis
  olfacto trials --driver sqlite --path trials.db --jsonl | jq .score`,
	RunE: runTrials,
}

func init() {
	trialsCmd.Flags().StringVarP(&trialsConfigPath, "config", "c", "", "rig.yml to take the trial log from")
	trialsCmd.Flags().StringVar(&trialsDriver, "driver", "csv", "Trial log driver: csv, sqlite or postgres")
	trialsCmd.Flags().StringVar(&trialsPath, "path", "trials.txt", "Trial log file (csv, sqlite)")
	trialsCmd.Flags().StringVar(&trialsDSN, "dsn", "", "Postgres DSN")
	trialsCmd.Flags().StringVar(&trialsSubject, "subject", "", "Only this subject tag")
	trialsCmd.Flags().StringVar(&trialsSince, "since", "", "Show trials after time (duration or RFC3339)")
	trialsCmd.Flags().StringVar(&trialsUntil, "until", "", "Show trials before time (duration or RFC3339)")
	trialsCmd.Flags().BoolVar(&trialsJSONL, "jsonl", false, "Output line-delimited JSON")
	rootCmd.AddCommand(trialsCmd)
}

func runTrials(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	logCfg := triallog.Config{Driver: trialsDriver, Path: trialsPath, DSN: trialsDSN}
	if trialsConfigPath != "" {
		cfg, err := loadConfig(trialsConfigPath)
		if err != nil {
			return err
		}
		logCfg = triallog.Config{Driver: cfg.TrialLog.Driver, Path: cfg.TrialLog.Path, DSN: cfg.TrialLog.DSN}
	}

	span, err := timespec.ParseRange(trialsSince, trialsUntil, time.Now())
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), []string{"Examples: --since 2h, --since 3d, --since 2024-03-01"})
	}
	filter := triallog.Filter{Subject: trialsSubject, Since: span.Since, Until: span.Until}

	var rows []triallog.Row
	source := logCfg.Path
	if logCfg.Driver == "" || logCfg.Driver == "csv" {
		// Read without opening for append so listing never creates the file.
		rows, err = triallog.ReadCSV(logCfg.Path, filter)
	} else {
		if logCfg.Driver == "postgres" {
			source = "postgres"
		}
		var store triallog.Store
		store, err = triallog.Open(ctx, logCfg)
		if err == nil {
			defer store.Close()
			rows, err = store.List(ctx, filter)
		}
	}
	if err != nil {
		return printer.ErrorWithContext(
			"failed to read trial log",
			err.Error(),
			map[string]string{"driver": logCfg.Driver, "source": source},
			nil,
		)
	}

	if trialsJSONL {
		if err := triallog.FormatJSONL(cmd.OutOrStdout(), rows); err != nil {
			return fmt.Errorf("failed to write JSONL: %w", err)
		}
		return nil
	}
	triallog.FormatTable(cmd.OutOrStdout(), rows, source)
	return nil
}
