package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hippovol/pkg/config"
	"hippovol/pkg/logging"
	"hippovol/pkg/nifti"
	"hippovol/pkg/study"
)

func newVolumeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "volume <scan.nii[.gz]>...",
		Short: "Segment single scans and print their hippocampal volume",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cmd.ErrOrStderr(), logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
			})
			if err != nil {
				return err
			}
			analyzer, err := study.NewAnalyzer(cfg, nifti.Loader{}, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, path := range args {
				file, err := analyzer.ScanFile(path)
				if err != nil {
					return err
				}
				m, err := analyzer.Measure(file)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: subject=%s, threshold=%g, pixels=%d, volume=%g mm3\n",
					m.Path, m.Subject, m.Threshold, m.ForegroundPixels, m.Volume)
			}
			return nil
		},
	}
}
