// Package cohort turns a folder of scans into an ordered series of volume
// measurements.
package cohort

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"hippovol/internal/models"
	"hippovol/pkg/segmentation"
	"hippovol/pkg/volume"
)

// ErrScanLoadFailure wraps errors raised while reading a scan file.
var ErrScanLoadFailure = errors.New("scan load failure")

// Loader reads one scan from a source path.
type Loader interface {
	Load(path string) (*models.Scan, error)
}

// Params configures an Analyzer.
type Params struct {
	// Loader reads scan files
	Loader Loader

	// Segmenter produces the mask of each scan
	Segmenter *segmentation.Segmenter

	// Subjects derives subject identifiers from filenames; nil uses the file stem
	Subjects *SubjectMatcher

	// Workers bounds how many scans are processed concurrently
	Workers int

	// SkipFailed logs and omits failing scans instead of failing the cohort
	SkipFailed bool

	// Logger receives progress and skipped-scan warnings
	Logger *slog.Logger
}

// Analyzer measures every scan of a cohort.
type Analyzer struct {
	params Params
}

// NewAnalyzer creates an analyzer. Missing workers default to the number of
// CPUs and a missing logger to slog.Default.
func NewAnalyzer(params Params) *Analyzer {
	if params.Workers <= 0 {
		params.Workers = runtime.NumCPU()
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	if params.Segmenter == nil {
		params.Segmenter = segmentation.NewSegmenter(segmentation.DefaultParams())
	}
	return &Analyzer{params: params}
}

// AnalyzeFolder discovers the scans in dir and analyzes them.
func (a *Analyzer) AnalyzeFolder(ctx context.Context, dir string) (models.Series, error) {
	files, err := Discover(dir, a.params.Subjects)
	if err != nil {
		return nil, err
	}
	a.params.Logger.Info("discovered scans", "dir", dir, "count", len(files))
	return a.AnalyzeCohort(ctx, files)
}

// AnalyzeCohort measures each scan and returns the measurements in input
// order. Scans run on up to Workers goroutines; a failure cancels the scans
// not yet started and the error of the earliest failing scan is returned.
func (a *Analyzer) AnalyzeCohort(parent context.Context, files []ScanFile) (models.Series, error) {
	if a.params.Loader == nil {
		return nil, fmt.Errorf("cohort analyzer has no scan loader")
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	type processingResult struct {
		index       int
		measurement models.Measurement
		err         error
	}
	resultChan := make(chan processingResult, len(files))
	sem := make(chan struct{}, a.params.Workers)

	for i, file := range files {
		go func(index int, file ScanFile) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				resultChan <- processingResult{index: index, err: ctx.Err()}
				return
			}
			if err := ctx.Err(); err != nil {
				resultChan <- processingResult{index: index, err: err}
				return
			}

			m, err := a.Measure(file)
			resultChan <- processingResult{index: index, measurement: m, err: err}
		}(i, file)
	}

	measurements := make([]models.Measurement, len(files))
	errs := make([]error, len(files))
	for range files {
		res := <-resultChan
		if res.err != nil {
			errs[res.index] = res.err
			if !a.params.SkipFailed {
				cancel()
			}
			continue
		}
		measurements[res.index] = res.measurement
		a.params.Logger.Debug("measured scan",
			"subject", res.measurement.Subject,
			"volume_mm3", res.measurement.Volume,
			"threshold", res.measurement.Threshold)
	}

	if err := parent.Err(); err != nil {
		return nil, err
	}
	if !a.params.SkipFailed {
		if err := firstRealError(errs); err != nil {
			return nil, err
		}
	}

	series := make(models.Series, 0, len(files))
	for i, err := range errs {
		if err != nil {
			a.params.Logger.Warn("skipping scan", "path", files[i].Path, "error", err)
			continue
		}
		series = append(series, measurements[i])
	}
	return series, nil
}

// firstRealError returns the error of the earliest scan that failed on its
// own rather than through cancellation.
func firstRealError(errs []error) error {
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// ScanFile resolves the subject of a single scan path with the analyzer's
// subject matcher.
func (a *Analyzer) ScanFile(path string) (ScanFile, error) {
	subject, err := a.params.Subjects.Subject(path)
	if err != nil {
		return ScanFile{}, err
	}
	return ScanFile{Path: path, Subject: subject}, nil
}

// Measure loads, segments and measures a single scan.
func (a *Analyzer) Measure(file ScanFile) (models.Measurement, error) {
	scan, err := a.params.Loader.Load(file.Path)
	if err != nil {
		return models.Measurement{}, fmt.Errorf("%w: %s: %w", ErrScanLoadFailure, file.Path, err)
	}
	if scan == nil {
		return models.Measurement{}, fmt.Errorf("%w: %s: loader returned no scan", ErrScanLoadFailure, file.Path)
	}
	scan.Subject = file.Subject

	res, err := a.params.Segmenter.Segment(scan)
	if err != nil {
		return models.Measurement{}, fmt.Errorf("segment %s: %w", file.Path, err)
	}

	vol, err := volume.Estimate(res.Volume, scan.VoxelSize)
	if err != nil {
		return models.Measurement{}, fmt.Errorf("estimate volume of %s: %w", file.Path, err)
	}

	return models.Measurement{
		Subject:          file.Subject,
		Path:             file.Path,
		Threshold:        res.Threshold,
		ForegroundPixels: res.Mask.Count(),
		Volume:           vol,
	}, nil
}
