package nifti

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"hippovol/internal/models"
)

// Extensions recognised as NIfTI-1 scans.
var Extensions = []string{".nii", ".nii.gz"}

// HasScanExtension reports whether name ends in a recognised extension,
// ignoring case.
func HasScanExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range Extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// TrimScanExtension strips a recognised extension from name.
func TrimScanExtension(name string) string {
	lower := strings.ToLower(name)
	// Longest first so ".nii.gz" is not left as ".gz".
	for i := len(Extensions) - 1; i >= 0; i-- {
		if strings.HasSuffix(lower, Extensions[i]) {
			return name[:len(name)-len(Extensions[i])]
		}
	}
	return name
}

// Loader loads NIfTI-1 files from disk.
type Loader struct{}

// Load implements the scan loader used by the cohort analyzer.
func (Loader) Load(path string) (*models.Scan, error) {
	return ReadFile(path)
}

// ReadFile loads a .nii or .nii.gz file. Gzip compression is detected from the
// file extension.
func ReadFile(path string) (*models.Scan, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var r io.Reader = bufio.NewReader(file)
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	scan, err := Read(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	scan.Path = path
	return scan, nil
}

// Read decodes an uncompressed single-file NIfTI-1 stream. For files with more
// than three dimensions only the first 3D volume is returned.
func Read(r io.Reader) (*models.Scan, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	h, order, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}

	offset := int64(h.VoxOffset)
	if offset < headerSize {
		offset = defaultVoxOffset
	}
	if _, err := io.CopyN(io.Discard, r, offset-headerSize); err != nil {
		return nil, fmt.Errorf("skip to voxel offset %d: %w", offset, err)
	}

	width, height, depth := h.spatialDims()
	need := int64(width) * int64(height) * int64(depth) * int64(bytesPerVoxel(h.Datatype))
	if need > math.MaxInt {
		return nil, fmt.Errorf("%w: %dx%dx%d voxels exceed addressable memory", ErrInvalidHeader, width, height, depth)
	}
	count := width * height * depth

	// Buffer only what the stream holds; the dimensions may be corrupt.
	raw, err = io.ReadAll(io.LimitReader(r, need))
	if err != nil {
		return nil, fmt.Errorf("read %d voxels: %w", count, err)
	}
	if int64(len(raw)) < need {
		return nil, fmt.Errorf("%w: dimensions %dx%dx%d need %d voxel bytes, stream holds %d",
			ErrInvalidHeader, width, height, depth, need, len(raw))
	}

	data := decodeVoxels(raw, count, h.Datatype, order)

	// A zero or non-finite slope means the stored values are used as-is.
	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	if slope != 0 && !math.IsNaN(slope) && !math.IsInf(slope, 0) {
		if math.IsNaN(inter) || math.IsInf(inter, 0) {
			inter = 0
		}
		if slope != 1 || inter != 0 {
			for i := range data {
				data[i] = data[i]*slope + inter
			}
		}
	}

	return &models.Scan{
		Data:   data,
		Width:  width,
		Height: height,
		Depth:  depth,
		VoxelSize: models.VoxelSize{
			X: float64(h.Pixdim[1]),
			Y: float64(h.Pixdim[2]),
			Z: float64(h.Pixdim[3]),
		},
	}, nil
}

// decodeVoxels converts raw voxel bytes into float64 intensities.
func decodeVoxels(raw []byte, count int, datatype int16, order binary.ByteOrder) []float64 {
	data := make([]float64, count)
	switch datatype {
	case DTUint8:
		for i := range data {
			data[i] = float64(raw[i])
		}
	case DTInt8:
		for i := range data {
			data[i] = float64(int8(raw[i]))
		}
	case DTInt16:
		for i := range data {
			data[i] = float64(int16(order.Uint16(raw[2*i:])))
		}
	case DTUint16:
		for i := range data {
			data[i] = float64(order.Uint16(raw[2*i:]))
		}
	case DTInt32:
		for i := range data {
			data[i] = float64(int32(order.Uint32(raw[4*i:])))
		}
	case DTUint32:
		for i := range data {
			data[i] = float64(order.Uint32(raw[4*i:]))
		}
	case DTFloat32:
		for i := range data {
			data[i] = float64(math.Float32frombits(order.Uint32(raw[4*i:])))
		}
	case DTFloat64:
		for i := range data {
			data[i] = math.Float64frombits(order.Uint64(raw[8*i:]))
		}
	}
	return data
}
