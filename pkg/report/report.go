// Package report renders study results for people (text lines, a summary
// table) and for machines (JSON), and draws the optional box plot.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gonum.org/v1/gonum/stat"

	"hippovol/pkg/comparison"
	"hippovol/pkg/study"
)

// Output formats.
const (
	FormatText  = "text"
	FormatTable = "table"
	FormatJSON  = "json"
)

// Options controls rendering.
type Options struct {
	// Format is text, table or json
	Format string

	// Color enables the coloured table style
	Color bool
}

// Write renders r to w in the requested format.
func Write(w io.Writer, r *study.Report, opts Options) error {
	switch strings.ToLower(opts.Format) {
	case FormatJSON:
		return writeJSON(w, r)
	case FormatTable:
		return writeTable(w, r, opts.Color)
	case FormatText, "":
		return writeText(w, r)
	default:
		return fmt.Errorf("unsupported output format %q", opts.Format)
	}
}

// writeText prints one line per timepoint.
func writeText(w io.Writer, r *study.Report) error {
	for _, tp := range r.Timepoints {
		var err error
		switch {
		case errors.Is(tp.Err, comparison.ErrInsufficientSampleSize):
			_, err = fmt.Fprintf(w, "%s: t=nan, p=nan (%v)\n", tp.Label, tp.Err)
		case tp.Err != nil:
			_, err = fmt.Fprintf(w, "%s: not reported: %v\n", tp.Label, tp.Err)
		default:
			_, err = fmt.Fprintf(w, "%s: t=%g, p=%g\n", tp.Label, tp.Result.Statistic, tp.Result.PValue)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// writeTable renders a summary table of both timepoints.
func writeTable(w io.Writer, r *study.Report, color bool) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	if color {
		tw.SetStyle(table.StyleColoredBright)
	} else {
		tw.SetStyle(table.StyleRounded)
	}
	tw.SetTitle("Hippocampal volume change, treated vs control")

	tw.AppendHeader(table.Row{"Timepoint", "n treated", "n control", "mean Δ treated (mm³)", "mean Δ control (mm³)", "t", "df", "p", "Status"})
	for _, tp := range r.Timepoints {
		status := "ok"
		if tp.Err != nil {
			status = tp.Err.Error()
		}
		tw.AppendRow(table.Row{
			tp.Label,
			len(tp.Treated),
			len(tp.Control),
			formatFloat(meanOf(tp.Treated.Changes())),
			formatFloat(meanOf(tp.Control.Changes())),
			formatFloat(tp.Result.Statistic),
			formatFloat(tp.Result.DF),
			formatFloat(tp.Result.PValue),
			status,
		})
	}

	columns := make([]table.ColumnConfig, 0, 7)
	for i := 2; i <= 8; i++ {
		columns = append(columns, table.ColumnConfig{Number: i, Align: text.AlignRight})
	}
	tw.SetColumnConfigs(columns)
	tw.SetCaption("run %s, %d cohort folders, %s", r.RunID, len(r.Cohorts), r.Duration.Round(time.Millisecond))

	tw.Render()
	return nil
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return stat.Mean(values, nil)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return fmt.Sprintf("%.4g", v)
}

type jsonDelta struct {
	Subject  string  `json:"subject"`
	Baseline float64 `json:"baseline_mm3"`
	FollowUp float64 `json:"follow_up_mm3"`
	Change   float64 `json:"change_mm3"`
}

type jsonTimepoint struct {
	Label     string      `json:"label"`
	Method    string      `json:"method,omitempty"`
	Statistic *float64    `json:"statistic"`
	PValue    *float64    `json:"p_value"`
	DF        *float64    `json:"df"`
	Treated   []jsonDelta `json:"treated"`
	Control   []jsonDelta `json:"control"`
	Error     string      `json:"error,omitempty"`
}

type jsonCohort struct {
	Group     string            `json:"group"`
	Timepoint string            `json:"timepoint"`
	Folder    string            `json:"folder"`
	Scans     []jsonMeasurement `json:"scans"`
	Error     string            `json:"error,omitempty"`
}

type jsonMeasurement struct {
	Subject          string  `json:"subject"`
	Path             string  `json:"path"`
	Threshold        float64 `json:"threshold"`
	ForegroundPixels int     `json:"foreground_pixels"`
	Volume           float64 `json:"volume_mm3"`
}

type jsonReport struct {
	RunID      string          `json:"run_id"`
	StartedAt  string          `json:"started_at"`
	DurationMS int64           `json:"duration_ms"`
	Cohorts    []jsonCohort    `json:"cohorts"`
	Timepoints []jsonTimepoint `json:"timepoints"`
}

// finite maps NaN and infinities to null, which JSON cannot represent.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func toJSONDeltas(deltas []jsonDelta) []jsonDelta {
	if deltas == nil {
		return []jsonDelta{}
	}
	return deltas
}

func writeJSON(w io.Writer, r *study.Report) error {
	out := jsonReport{
		RunID:      r.RunID.String(),
		StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
		DurationMS: r.Duration.Milliseconds(),
	}

	for _, c := range r.Cohorts {
		jc := jsonCohort{
			Group:     c.Group,
			Timepoint: c.Timepoint,
			Folder:    c.Folder,
			Scans:     []jsonMeasurement{},
			Error:     errString(c.Err),
		}
		for _, m := range c.Series {
			jc.Scans = append(jc.Scans, jsonMeasurement{
				Subject:          m.Subject,
				Path:             m.Path,
				Threshold:        m.Threshold,
				ForegroundPixels: m.ForegroundPixels,
				Volume:           m.Volume,
			})
		}
		out.Cohorts = append(out.Cohorts, jc)
	}

	for _, tp := range r.Timepoints {
		jt := jsonTimepoint{
			Label:     tp.Label,
			Method:    string(tp.Result.Method),
			Statistic: finite(tp.Result.Statistic),
			PValue:    finite(tp.Result.PValue),
			DF:        finite(tp.Result.DF),
			Error:     errString(tp.Err),
		}
		var treated, control []jsonDelta
		for _, d := range tp.Treated {
			treated = append(treated, jsonDelta(d))
		}
		for _, d := range tp.Control {
			control = append(control, jsonDelta(d))
		}
		jt.Treated = toJSONDeltas(treated)
		jt.Control = toJSONDeltas(control)
		out.Timepoints = append(out.Timepoints, jt)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
