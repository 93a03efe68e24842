package models

// Measurement is the hippocampal volume estimated for one scan.
type Measurement struct {
	// Subject identifies the patient the scan belongs to
	Subject string

	// Path is the scan file the measurement was computed from
	Path string

	// Threshold is the Otsu threshold chosen for the middle slice
	Threshold float64

	// ForegroundPixels is the number of mask pixels after cleanup
	ForegroundPixels int

	// Volume is the segmented volume in mm³
	Volume float64
}

// Series is an ordered list of measurements for one cohort at one timepoint,
// in scan discovery order.
type Series []Measurement

// Volumes returns the bare volume values in series order.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, m := range s {
		out[i] = m.Volume
	}
	return out
}

// Delta is the volume change of one subject between baseline and follow-up.
type Delta struct {
	Subject  string
	Baseline float64
	FollowUp float64
	Change   float64
}

// ChangeSeries is an ordered list of per-subject deltas.
type ChangeSeries []Delta

// Changes returns the bare change values in series order.
func (c ChangeSeries) Changes() []float64 {
	out := make([]float64, len(c))
	for i, d := range c {
		out[i] = d.Change
	}
	return out
}
