// Package volume converts segmentations into physical volumes.
package volume

import (
	"errors"
	"fmt"
	"math"

	"hippovol/internal/models"
)

// ErrInvalidSpacing is returned when a voxel spacing component is not a
// positive number.
var ErrInvalidSpacing = errors.New("invalid voxel spacing")

// ValidateSpacing checks that every spacing component is positive and finite.
func ValidateSpacing(spacing models.VoxelSize) error {
	for _, c := range []struct {
		axis  string
		value float64
	}{{"x", spacing.X}, {"y", spacing.Y}, {"z", spacing.Z}} {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) || c.value <= 0 {
			return fmt.Errorf("%w: %s spacing %v", ErrInvalidSpacing, c.axis, c.value)
		}
	}
	return nil
}

// Estimate returns the number of foreground voxels times the voxel volume, in
// the cube of the spacing unit (mm³ for NIfTI scans).
func Estimate(seg models.SegmentedVolume, spacing models.VoxelSize) (float64, error) {
	if err := ValidateSpacing(spacing); err != nil {
		return 0, err
	}
	return float64(seg.CountNonZero()) * spacing.Volume(), nil
}
