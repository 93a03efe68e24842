package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"hippovol/pkg/config"
	"hippovol/pkg/logging"
	"hippovol/pkg/nifti"
	"hippovol/pkg/report"
	"hippovol/pkg/store"
	"hippovol/pkg/study"
)

type analyzeFlags struct {
	treatedBaseline string
	treatedMonth6   string
	treatedMonth12  string
	controlBaseline string
	controlMonth6   string
	controlMonth12  string

	workers    int
	skipFailed bool
	alignment  string
	welch      bool
	format     string
	plotFile   string
	database   string
	logLevel   string
}

func newAnalyzeCommand(configPath *string) *cobra.Command {
	var flags analyzeFlags

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Measure all six cohort folders and compare volume changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			applyAnalyzeFlags(cmd, cfg, &flags)

			logger, err := logging.New(cmd.ErrOrStderr(), logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
			})
			if err != nil {
				return err
			}

			s, err := study.NewStudy(study.Params{Config: cfg, Loader: nifti.Loader{}, Logger: logger})
			if err != nil {
				return err
			}
			result, err := s.Run(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := report.Write(out, result, report.Options{
				Format: cfg.Output.Format,
				Color:  shouldColorize(out),
			}); err != nil {
				return fmt.Errorf("write report: %w", err)
			}

			if cfg.Output.PlotFile != "" {
				if err := report.SavePlot(cfg.Output.PlotFile, result); err != nil {
					logger.Warn("box plot not written", "path", cfg.Output.PlotFile, "error", err)
				} else {
					logger.Info("box plot written", "path", cfg.Output.PlotFile)
				}
			}

			if cfg.Output.Database != "" {
				db, err := store.Open(cfg.Output.Database)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := db.SaveReport(cmd.Context(), result); err != nil {
					return fmt.Errorf("store results: %w", err)
				}
				logger.Info("results stored", "database", cfg.Output.Database, "run_id", result.RunID.String())
			}

			if failed := result.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d of %d timepoints could not be reported", len(failed), len(result.Timepoints))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.treatedBaseline, "treated-baseline", "", "Treated cohort baseline scan folder")
	f.StringVar(&flags.treatedMonth6, "treated-6m", "", "Treated cohort 6-month scan folder")
	f.StringVar(&flags.treatedMonth12, "treated-12m", "", "Treated cohort 12-month scan folder")
	f.StringVar(&flags.controlBaseline, "control-baseline", "", "Control cohort baseline scan folder")
	f.StringVar(&flags.controlMonth6, "control-6m", "", "Control cohort 6-month scan folder")
	f.StringVar(&flags.controlMonth12, "control-12m", "", "Control cohort 12-month scan folder")
	f.IntVarP(&flags.workers, "workers", "w", 0, "Number of scans processed concurrently")
	f.BoolVar(&flags.skipFailed, "skip-failed", false, "Log and omit scans that cannot be processed")
	f.StringVar(&flags.alignment, "alignment", "", "Pair baseline and follow-up scans by subject or position")
	f.BoolVar(&flags.welch, "welch", false, "Use Welch's t-test instead of the pooled-variance test")
	f.StringVarP(&flags.format, "format", "f", "", "Output format: text, table or json")
	f.StringVar(&flags.plotFile, "plot", "", "Write a box plot of the volume changes to this PNG file")
	f.StringVar(&flags.database, "db", "", "Append results to this SQLite database")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	return cmd
}

// applyAnalyzeFlags overrides configuration values with explicitly set flags.
func applyAnalyzeFlags(cmd *cobra.Command, cfg *config.Config, flags *analyzeFlags) {
	changed := cmd.Flags().Changed
	setString := func(name string, dst *string, v string) {
		if changed(name) {
			*dst = v
		}
	}

	setString("treated-baseline", &cfg.Cohorts.Treated.Baseline, flags.treatedBaseline)
	setString("treated-6m", &cfg.Cohorts.Treated.Month6, flags.treatedMonth6)
	setString("treated-12m", &cfg.Cohorts.Treated.Month12, flags.treatedMonth12)
	setString("control-baseline", &cfg.Cohorts.Control.Baseline, flags.controlBaseline)
	setString("control-6m", &cfg.Cohorts.Control.Month6, flags.controlMonth6)
	setString("control-12m", &cfg.Cohorts.Control.Month12, flags.controlMonth12)
	setString("alignment", &cfg.Statistics.Alignment, flags.alignment)
	setString("format", &cfg.Output.Format, flags.format)
	setString("plot", &cfg.Output.PlotFile, flags.plotFile)
	setString("db", &cfg.Output.Database, flags.database)
	setString("log-level", &cfg.Logging.Level, flags.logLevel)

	if changed("workers") {
		cfg.Processing.Workers = flags.workers
	}
	if changed("skip-failed") {
		cfg.Processing.SkipFailed = flags.skipFailed
	}
	if changed("welch") {
		cfg.Statistics.EqualVariance = !flags.welch
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
