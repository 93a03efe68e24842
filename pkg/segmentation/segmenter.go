// Package segmentation extracts the hippocampal region from the middle slice of
// a volumetric scan using a global Otsu threshold followed by morphological
// cleanup.
//
// Only the slice at Depth/2 is segmented. The resulting volume therefore
// measures a single slice worth of voxels rather than the full 3D structure.
package segmentation

import (
	"errors"
	"fmt"

	"hippovol/internal/models"
)

var (
	// ErrInvalidScanShape is returned when a scan has no voxels along one of
	// its axes, so no middle slice exists.
	ErrInvalidScanShape = errors.New("invalid scan shape")

	// ErrDegenerateSlice is returned when the middle slice has constant (or
	// non-finite) intensity and no threshold separates two classes.
	ErrDegenerateSlice = errors.New("degenerate slice")
)

const (
	// DefaultMinObjectSize is the smallest foreground component kept, in pixels.
	DefaultMinObjectSize = 64

	// DefaultMinHoleArea is the smallest background region left unfilled, in pixels.
	DefaultMinHoleArea = 64
)

// Params controls the segmentation. The zero value is not usable; start from
// DefaultParams.
type Params struct {
	// HistogramBins is the number of bins of the Otsu histogram
	HistogramBins int

	// MinObjectSize removes foreground components with fewer pixels
	MinObjectSize int

	// MinHoleArea fills background components with fewer pixels
	MinHoleArea int

	// Connectivity used for both components and holes
	Connectivity Connectivity
}

// DefaultParams returns 256 histogram bins, 64-pixel cleanup and 8-connectivity.
func DefaultParams() Params {
	return Params{
		HistogramBins: DefaultHistogramBins,
		MinObjectSize: DefaultMinObjectSize,
		MinHoleArea:   DefaultMinHoleArea,
		Connectivity:  Connectivity8,
	}
}

// Result carries the segmentation together with the intermediate values
// callers may want to report.
type Result struct {
	Volume    models.SegmentedVolume
	Mask      models.Mask
	Threshold float64
}

// Segmenter turns scans into segmented volumes. It holds no state besides its
// parameters and is safe for concurrent use.
type Segmenter struct {
	params Params
}

// NewSegmenter creates a segmenter with the given parameters.
func NewSegmenter(params Params) *Segmenter {
	if params.HistogramBins == 0 {
		params.HistogramBins = DefaultHistogramBins
	}
	if params.Connectivity == 0 {
		params.Connectivity = Connectivity8
	}
	return &Segmenter{params: params}
}

// Params returns the parameters the segmenter was built with.
func (s *Segmenter) Params() Params {
	return s.params
}

// Segment runs threshold, binarisation and cleanup on the middle slice and
// embeds the mask into an otherwise empty volume of the scan's shape.
func (s *Segmenter) Segment(scan *models.Scan) (Result, error) {
	if scan == nil || scan.Width <= 0 || scan.Height <= 0 || scan.Depth <= 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidScanShape, shapeOf(scan))
	}

	z := scan.MiddleIndex()
	slice, err := scan.SliceAt(z)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidScanShape, err)
	}

	threshold, err := ComputeOtsuThreshold(slice, s.params.HistogramBins)
	if err != nil {
		return Result{}, fmt.Errorf("otsu threshold on slice %d: %w", z, err)
	}

	mask := Binarize(slice, threshold)

	// Islands go first so that holes left by them are not filled.
	mask = RemoveSmallComponents(mask, s.params.MinObjectSize, s.params.Connectivity)
	mask = RemoveSmallHoles(mask, s.params.MinHoleArea, s.params.Connectivity)

	return Result{
		Volume:    Embed(mask, scan.Width, scan.Height, scan.Depth, z),
		Mask:      mask,
		Threshold: threshold,
	}, nil
}

// Embed places mask at index z of an all-zero volume.
func Embed(mask models.Mask, width, height, depth, z int) models.SegmentedVolume {
	size := width * height
	vol := models.SegmentedVolume{
		Data:       make([]uint8, size*depth),
		Width:      width,
		Height:     height,
		Depth:      depth,
		SliceIndex: z,
	}
	offset := z * size
	for i, b := range mask.Bits {
		if b {
			vol.Data[offset+i] = 1
		}
	}
	return vol
}

func shapeOf(scan *models.Scan) string {
	if scan == nil {
		return "nil scan"
	}
	return fmt.Sprintf("%dx%dx%d", scan.Width, scan.Height, scan.Depth)
}
