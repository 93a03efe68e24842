package segmentation

import (
	"fmt"
	"math"

	"hippovol/internal/models"
)

// DefaultHistogramBins is the number of histogram bins used for the Otsu search.
const DefaultHistogramBins = 256

// ComputeOtsuThreshold returns the global threshold that maximises the
// between-class variance of the slice intensities.
//
// The intensities are binned into an equal-width histogram spanning [min, max]
// (the last bin is closed). For every split between bin i and i+1 the
// between-class variance w1*w2*(m1-m2)^2 is evaluated and the centre of the
// first maximising bin is returned. Foreground is then everything strictly
// above the returned value.
//
// A slice with constant intensity has no valid threshold and yields
// ErrDegenerateSlice.
func ComputeOtsuThreshold(slice models.Slice, bins int) (float64, error) {
	if bins < 2 {
		return 0, fmt.Errorf("histogram needs at least 2 bins, got %d", bins)
	}
	if slice.Len() == 0 || len(slice.Data) < slice.Len() {
		return 0, fmt.Errorf("%w: %dx%d slice", ErrInvalidScanShape, slice.Width, slice.Height)
	}

	lo, hi, err := intensityRange(slice.Data[:slice.Len()])
	if err != nil {
		return 0, err
	}

	counts, centers := histogram(slice.Data[:slice.Len()], bins, lo, hi)

	// Cumulative class weights and means from the low end (w1, m1) and from
	// the high end (w2, m2).
	w1 := make([]float64, bins)
	m1 := make([]float64, bins)
	var weight, moment float64
	for i := 0; i < bins; i++ {
		weight += counts[i]
		moment += counts[i] * centers[i]
		w1[i] = weight
		if weight > 0 {
			m1[i] = moment / weight
		}
	}

	w2 := make([]float64, bins)
	m2 := make([]float64, bins)
	weight, moment = 0, 0
	for i := bins - 1; i >= 0; i-- {
		weight += counts[i]
		moment += counts[i] * centers[i]
		w2[i] = weight
		if weight > 0 {
			m2[i] = moment / weight
		}
	}

	best := 0
	bestVariance := math.Inf(-1)
	for i := 0; i < bins-1; i++ {
		diff := m1[i] - m2[i+1]
		variance := w1[i] * w2[i+1] * diff * diff
		if variance > bestVariance {
			bestVariance = variance
			best = i
		}
	}

	return centers[best], nil
}

// intensityRange returns the min and max of data, rejecting non-finite and
// constant input.
func intensityRange(data []float64) (float64, float64, error) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, fmt.Errorf("%w: non-finite intensity %v", ErrDegenerateSlice, v)
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return 0, 0, fmt.Errorf("%w: constant intensity %g", ErrDegenerateSlice, lo)
	}
	return lo, hi, nil
}

// histogram bins data into equal-width bins over [lo, hi] and returns the
// counts together with the bin centres.
func histogram(data []float64, bins int, lo, hi float64) ([]float64, []float64) {
	edges := make([]float64, bins+1)
	step := (hi - lo) / float64(bins)
	for i := range edges {
		edges[i] = lo + float64(i)*step
	}
	edges[bins] = hi

	centers := make([]float64, bins)
	for i := 0; i < bins; i++ {
		centers[i] = (edges[i] + edges[i+1]) / 2
	}

	counts := make([]float64, bins)
	norm := float64(bins) / (hi - lo)
	for _, v := range data {
		idx := int((v - lo) * norm)
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		// Rounding in the scaled index can land one bin off; settle it
		// against the actual edges.
		if v < edges[idx] && idx > 0 {
			idx--
		} else if idx < bins-1 && v >= edges[idx+1] {
			idx++
		}
		counts[idx]++
	}

	return counts, centers
}

// Binarize marks every pixel strictly above threshold as foreground.
func Binarize(slice models.Slice, threshold float64) models.Mask {
	mask := models.NewMask(slice.Width, slice.Height)
	for i := 0; i < slice.Len(); i++ {
		mask.Bits[i] = slice.Data[i] > threshold
	}
	return mask
}
