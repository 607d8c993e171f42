package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dyluth/olfacto/internal/config"
	"github.com/dyluth/olfacto/internal/printer"
	"github.com/dyluth/olfacto/internal/registry"
)

var (
	levelsFile       string
	levelsConfigPath string
)

var levelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "Validate and print a level table",
	Long: `Load a level table (.csv or .xlsx) and print its stimulus rows per level.

With --config the odors are also checked against hardware.odors and the
subject registry is checked for levels missing from the table.

Examples:
  olfacto levels --file levels.csv
  olfacto levels --file levels.xlsx --config rig.yml`,
	RunE: runLevels,
}

func init() {
	levelsCmd.Flags().StringVarP(&levelsFile, "file", "f", "", "Level table (.csv or .xlsx); defaults to files.levels from --config")
	levelsCmd.Flags().StringVarP(&levelsConfigPath, "config", "c", "", "rig.yml to check odors and subjects against")
	rootCmd.AddCommand(levelsCmd)
}

func runLevels(cmd *cobra.Command, args []string) error {
	var cfg *config.RigConfig
	if levelsConfigPath != "" {
		var err error
		if cfg, err = loadConfig(levelsConfigPath); err != nil {
			return err
		}
		if levelsFile == "" {
			levelsFile = cfg.Files.Levels
		}
	}
	if levelsFile == "" {
		return printer.Error("no level table", "Pass --file or --config.", nil)
	}

	table, err := registry.LoadLevels(levelsFile)
	if err != nil {
		return printer.Error("invalid level table", err.Error(), nil)
	}

	out := cmd.OutOrStdout()
	for _, level := range table.Levels() {
		rows, _ := table.Rows(level)
		fmt.Fprintf(out, "Level %s (%d rows)\n", level, len(rows))
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  INDEX\tFIRST\tSECOND\tVALUE\tP(FIRST)\tP(SECOND)")
		for _, r := range rows {
			fmt.Fprintf(tw, "  %d\t%d\t%d\t%s\t%g\t%g\n", r.Index, r.FirstOdor, r.SecondOdor, r.Type, r.PFirst, r.PSecond)
		}
		tw.Flush()
		fmt.Fprintln(out)
	}

	if cfg != nil {
		if err := table.CheckOdors(cfg.Hardware.Odors); err != nil {
			return printer.Error("odors without a valve", err.Error(), []string{"Add the odors to hardware.odors in rig.yml"})
		}
		subjects, err := registry.LoadSubjects(cfg.Files.Subjects)
		if err != nil {
			return printer.Error("subject registry unreadable", err.Error(), nil)
		}
		if missing := subjects.CheckLevels(table); len(missing) > 0 {
			printer.Warning("Subjects with levels missing from the table: %v\n", missing)
		}
	}

	printer.Success("%d levels OK\n", len(table.Levels()))
	return nil
}
