// Package comparison computes longitudinal volume changes and compares them
// between cohorts with an independent two-sample t-test.
package comparison

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"hippovol/internal/models"
)

var (
	// ErrMismatchedCohortSize is returned when baseline and follow-up series
	// cannot be paired one to one.
	ErrMismatchedCohortSize = errors.New("mismatched cohort size")

	// ErrInsufficientSampleSize is returned when the t statistic is undefined:
	// fewer than two deltas in a group or zero pooled variance.
	ErrInsufficientSampleSize = errors.New("insufficient sample size")
)

// Alignment selects how baseline and follow-up measurements are paired.
type Alignment string

const (
	// AlignBySubject joins measurements on their subject identifier.
	AlignBySubject Alignment = "subject"

	// AlignByPosition pairs measurements by their index in discovery order.
	AlignByPosition Alignment = "position"
)

// ParseAlignment validates an alignment name.
func ParseAlignment(s string) (Alignment, error) {
	switch Alignment(strings.ToLower(strings.TrimSpace(s))) {
	case AlignBySubject, "":
		return AlignBySubject, nil
	case AlignByPosition:
		return AlignByPosition, nil
	default:
		return "", fmt.Errorf("unknown alignment %q (want subject or position)", s)
	}
}

// Align pairs the series with the given strategy.
func Align(baseline, followUp models.Series, alignment Alignment) (models.ChangeSeries, error) {
	if alignment == AlignByPosition {
		return Compare(baseline, followUp)
	}
	return CompareBySubject(baseline, followUp)
}

// Compare pairs the series by index and returns followUp[i] - baseline[i].
// The series must have the same length.
func Compare(baseline, followUp models.Series) (models.ChangeSeries, error) {
	if len(baseline) != len(followUp) {
		return nil, fmt.Errorf("%w: %d baseline vs %d follow-up scans",
			ErrMismatchedCohortSize, len(baseline), len(followUp))
	}

	deltas := make(models.ChangeSeries, len(baseline))
	for i := range baseline {
		deltas[i] = models.Delta{
			Subject:  baseline[i].Subject,
			Baseline: baseline[i].Volume,
			FollowUp: followUp[i].Volume,
			Change:   followUp[i].Volume - baseline[i].Volume,
		}
	}
	return deltas, nil
}

// CompareBySubject joins the series on subject and returns the deltas in
// baseline order. Every subject must appear exactly once in each series.
func CompareBySubject(baseline, followUp models.Series) (models.ChangeSeries, error) {
	base, err := indexBySubject(baseline, "baseline")
	if err != nil {
		return nil, err
	}
	follow, err := indexBySubject(followUp, "follow-up")
	if err != nil {
		return nil, err
	}

	var missing, extra []string
	for subject := range base {
		if _, ok := follow[subject]; !ok {
			missing = append(missing, subject)
		}
	}
	for subject := range follow {
		if _, ok := base[subject]; !ok {
			extra = append(extra, subject)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		sort.Strings(missing)
		sort.Strings(extra)
		return nil, fmt.Errorf("%w: missing follow-up for %v, no baseline for %v",
			ErrMismatchedCohortSize, missing, extra)
	}

	deltas := make(models.ChangeSeries, len(baseline))
	for i, m := range baseline {
		f := followUp[follow[m.Subject]]
		deltas[i] = models.Delta{
			Subject:  m.Subject,
			Baseline: m.Volume,
			FollowUp: f.Volume,
			Change:   f.Volume - m.Volume,
		}
	}
	return deltas, nil
}

func indexBySubject(series models.Series, label string) (map[string]int, error) {
	index := make(map[string]int, len(series))
	for i, m := range series {
		if m.Subject == "" {
			return nil, fmt.Errorf("%w: %s scan %s has no subject", ErrMismatchedCohortSize, label, m.Path)
		}
		if _, dup := index[m.Subject]; dup {
			return nil, fmt.Errorf("%w: subject %q appears twice in %s", ErrMismatchedCohortSize, m.Subject, label)
		}
		index[m.Subject] = i
	}
	return index, nil
}
