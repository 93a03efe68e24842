package models

import "fmt"

// VoxelSize is the physical size of one voxel along each axis in mm.
type VoxelSize struct {
	X, Y, Z float64
}

// Volume returns the physical volume of a single voxel in mm³.
func (v VoxelSize) Volume() float64 {
	return v.X * v.Y * v.Z
}

// String formats the spacing as "XxYxZ mm".
func (v VoxelSize) String() string {
	return fmt.Sprintf("%gx%gx%g mm", v.X, v.Y, v.Z)
}

// Scan represents a single volumetric brain scan as handed over by the loader.
// The core only ever reads it.
type Scan struct {
	// Data is the 3D intensity array as a 1D array in row-major order
	// (index = z*Width*Height + y*Width + x).
	Data []float64

	// Width is the extent of the first axis in voxels
	Width int

	// Height is the extent of the second axis in voxels
	Height int

	// Depth is the extent of the third axis in voxels
	Depth int

	// VoxelSize is the physical spacing of the voxel grid
	VoxelSize VoxelSize

	// Path is the file the scan was loaded from, if any
	Path string

	// Subject identifies the patient the scan belongs to
	Subject string
}

// MiddleIndex returns the index of the slice segmented along the third axis.
// For even depths this is the slice just past the centre.
func (s *Scan) MiddleIndex() int {
	return s.Depth / 2
}

// At returns the intensity at voxel (x, y, z).
func (s *Scan) At(x, y, z int) float64 {
	return s.Data[z*s.Width*s.Height+y*s.Width+x]
}

// SliceAt returns a read-only view of the XY plane at index z.
func (s *Scan) SliceAt(z int) (Slice, error) {
	if z < 0 || z >= s.Depth {
		return Slice{}, fmt.Errorf("position %d exceeds depth %d", z, s.Depth)
	}
	size := s.Width * s.Height
	if len(s.Data) < (z+1)*size {
		return Slice{}, fmt.Errorf("scan data holds %d voxels, want at least %d", len(s.Data), (z+1)*size)
	}
	return Slice{
		Data:   s.Data[z*size : (z+1)*size],
		Width:  s.Width,
		Height: s.Height,
	}, nil
}

// Slice is a 2D view into a Scan. Data must not be modified.
type Slice struct {
	Data   []float64
	Width  int
	Height int
}

// Len returns the number of pixels in the slice.
func (s Slice) Len() int {
	return s.Width * s.Height
}

// Mask is a binary foreground mask with the shape of a Slice.
// An all-false mask is a valid result.
type Mask struct {
	Bits   []bool
	Width  int
	Height int
}

// NewMask allocates an all-false mask of the given shape.
func NewMask(width, height int) Mask {
	return Mask{
		Bits:   make([]bool, width*height),
		Width:  width,
		Height: height,
	}
}

// Clone returns a deep copy of the mask.
func (m Mask) Clone() Mask {
	bits := make([]bool, len(m.Bits))
	copy(bits, m.Bits)
	return Mask{Bits: bits, Width: m.Width, Height: m.Height}
}

// Count returns the number of true pixels.
func (m Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// SegmentedVolume holds a segmentation with the shape of its source scan.
// Every non-zero voxel lies on SliceIndex.
type SegmentedVolume struct {
	// Data is stored in the same row-major order as Scan.Data
	Data []uint8

	Width, Height, Depth int

	// SliceIndex is the only populated index along the third axis
	SliceIndex int
}

// CountNonZero returns the number of foreground voxels.
func (v SegmentedVolume) CountNonZero() int {
	n := 0
	for _, b := range v.Data {
		if b != 0 {
			n++
		}
	}
	return n
}
