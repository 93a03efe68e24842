// Package study runs the longitudinal hippocampal volume comparison: every
// cohort folder is measured, follow-up volumes are paired with their baseline
// and the treated and control changes are compared per timepoint.
package study

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hippovol/internal/models"
	"hippovol/pkg/cohort"
	"hippovol/pkg/comparison"
	"hippovol/pkg/config"
	"hippovol/pkg/segmentation"
)

// Group names used in reports.
const (
	Treated = "treated"
	Control = "control"

	baselineLabel = "baseline"
)

// Params holds what a study run needs.
type Params struct {
	// Config carries the cohort folders and processing options
	Config *config.Config

	// Loader reads scan files
	Loader cohort.Loader

	// Logger receives progress output; nil uses slog.Default
	Logger *slog.Logger
}

// CohortRun is the measured series of one cohort folder.
type CohortRun struct {
	Group     string
	Timepoint string
	Folder    string
	Series    models.Series
	Err       error
}

// TimepointResult is the treated-versus-control comparison at one follow-up.
type TimepointResult struct {
	Label   string
	Treated models.ChangeSeries
	Control models.ChangeSeries
	Result  comparison.Result

	// Err is set when the comparison could not be produced or its statistic
	// is undefined
	Err error
}

// Report collects everything a study run produced.
type Report struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	Duration   time.Duration
	Cohorts    []CohortRun
	Timepoints []TimepointResult
}

// Failed returns the timepoints that could not be reported.
func (r *Report) Failed() []TimepointResult {
	var failed []TimepointResult
	for _, tp := range r.Timepoints {
		if tp.Err != nil {
			failed = append(failed, tp)
		}
	}
	return failed
}

// Study drives a full comparison run.
type Study struct {
	params    Params
	analyzer  *cohort.Analyzer
	alignment comparison.Alignment
}

// NewStudy validates the configuration and wires the segmentation pipeline.
func NewStudy(params Params) (*Study, error) {
	cfg := params.Config
	if cfg == nil {
		return nil, fmt.Errorf("study needs a configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}

	analyzer, err := NewAnalyzer(cfg, params.Loader, params.Logger)
	if err != nil {
		return nil, err
	}
	alignment, err := comparison.ParseAlignment(cfg.Statistics.Alignment)
	if err != nil {
		return nil, err
	}

	return &Study{params: params, analyzer: analyzer, alignment: alignment}, nil
}

// NewAnalyzer builds a cohort analyzer from the processing section of cfg.
func NewAnalyzer(cfg *config.Config, loader cohort.Loader, logger *slog.Logger) (*cohort.Analyzer, error) {
	conn, err := segmentation.ParseConnectivity(cfg.Processing.Connectivity)
	if err != nil {
		return nil, err
	}
	subjects, err := cohort.NewSubjectMatcher(cfg.Processing.SubjectPattern)
	if err != nil {
		return nil, err
	}

	segmenter := segmentation.NewSegmenter(segmentation.Params{
		HistogramBins: cfg.Processing.HistogramBins,
		MinObjectSize: cfg.Processing.MinObjectSize,
		MinHoleArea:   cfg.Processing.MinHoleArea,
		Connectivity:  conn,
	})

	return cohort.NewAnalyzer(cohort.Params{
		Loader:     loader,
		Segmenter:  segmenter,
		Subjects:   subjects,
		Workers:    cfg.Processing.Workers,
		SkipFailed: cfg.Processing.SkipFailed,
		Logger:     logger,
	}), nil
}

// Run measures all six cohort folders and compares both timepoints. Failures
// are recorded per timepoint so that unaffected timepoints are still
// reported; the returned error is only set when the context is cancelled.
func (s *Study) Run(ctx context.Context) (*Report, error) {
	cfg := s.params.Config
	logger := s.params.Logger

	report := &Report{RunID: uuid.New(), StartedAt: time.Now()}
	logger = logger.With("run_id", report.RunID.String())

	// Step 1: measure every cohort folder
	logger.Info("measuring cohorts")
	folders := []struct {
		group, timepoint, dir string
	}{
		{Treated, baselineLabel, cfg.Cohorts.Treated.Baseline},
		{Treated, "6 months", cfg.Cohorts.Treated.Month6},
		{Treated, "12 months", cfg.Cohorts.Treated.Month12},
		{Control, baselineLabel, cfg.Cohorts.Control.Baseline},
		{Control, "6 months", cfg.Cohorts.Control.Month6},
		{Control, "12 months", cfg.Cohorts.Control.Month12},
	}

	report.Cohorts = make([]CohortRun, 0, len(folders))
	runs := make(map[string]*CohortRun, len(folders))
	for _, f := range folders {
		series, err := s.analyzer.AnalyzeFolder(ctx, f.dir)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			logger.Error("cohort analysis failed", "group", f.group, "timepoint", f.timepoint, "dir", f.dir, "error", err)
		} else {
			logger.Info("cohort measured", "group", f.group, "timepoint", f.timepoint, "scans", len(series))
		}
		report.Cohorts = append(report.Cohorts, CohortRun{
			Group:     f.group,
			Timepoint: f.timepoint,
			Folder:    f.dir,
			Series:    series,
			Err:       err,
		})
		runs[f.group+"/"+f.timepoint] = &report.Cohorts[len(report.Cohorts)-1]
	}

	// Step 2: compare changes per timepoint
	logger.Info("comparing timepoints", "alignment", string(s.alignment))
	for _, tp := range cfg.Timepoints() {
		result := s.compareTimepoint(tp.Label, runs)
		if result.Err != nil {
			logger.Error("timepoint comparison failed", "timepoint", tp.Label, "error", result.Err)
		}
		report.Timepoints = append(report.Timepoints, result)
	}

	report.Duration = time.Since(report.StartedAt)
	return report, nil
}

// compareTimepoint pairs both groups' follow-up with their baseline and runs
// the t-test on the resulting changes.
func (s *Study) compareTimepoint(label string, runs map[string]*CohortRun) TimepointResult {
	result := TimepointResult{Label: label}

	changes := make(map[string]models.ChangeSeries, 2)
	for _, group := range []string{Treated, Control} {
		base := runs[group+"/"+baselineLabel]
		follow := runs[group+"/"+label]
		if base.Err != nil {
			result.Err = fmt.Errorf("%s %s: %w", group, baselineLabel, base.Err)
			return result
		}
		if follow.Err != nil {
			result.Err = fmt.Errorf("%s %s: %w", group, label, follow.Err)
			return result
		}

		deltas, err := comparison.Align(base.Series, follow.Series, s.alignment)
		if err != nil {
			result.Err = fmt.Errorf("%s %s: %w", group, label, err)
			return result
		}
		changes[group] = deltas
	}
	result.Treated = changes[Treated]
	result.Control = changes[Control]

	res, err := comparison.TwoSampleTTest(result.Treated.Changes(), result.Control.Changes(),
		s.params.Config.Statistics.EqualVariance)
	result.Result = res
	if err != nil {
		result.Err = fmt.Errorf("t-test: %w", err)
	}
	return result
}
