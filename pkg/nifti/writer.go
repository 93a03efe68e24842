package nifti

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"hippovol/internal/models"
)

// Write encodes scan as a little-endian float32 single-file NIfTI-1 stream.
func Write(w io.Writer, scan *models.Scan) error {
	if scan == nil {
		return fmt.Errorf("nil scan")
	}
	count := scan.Width * scan.Height * scan.Depth
	if len(scan.Data) != count {
		return fmt.Errorf("scan data holds %d voxels, dimensions need %d", len(scan.Data), count)
	}

	h := header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  DTFloat32,
		Bitpix:    32,
		VoxOffset: defaultVoxOffset,
		SclSlope:  1,
		XyztUnits: 2, // NIFTI_UNITS_MM
	}
	h.Dim = [8]int16{3, int16(scan.Width), int16(scan.Height), int16(scan.Depth), 1, 1, 1, 1}
	h.Pixdim = [8]float32{1, float32(scan.VoxelSize.X), float32(scan.VoxelSize.Y), float32(scan.VoxelSize.Z), 1, 1, 1, 1}
	copy(h.Magic[:], magicSingleFile)

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	// Empty extension block between header and voxel data.
	if _, err := w.Write(make([]byte, defaultVoxOffset-headerSize)); err != nil {
		return fmt.Errorf("write extension: %w", err)
	}

	buf := make([]byte, 4*count)
	for i, v := range scan.Data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write voxels: %w", err)
	}
	return nil
}

// WriteFile writes scan to path, gzip-compressing it when the path ends in .gz.
func WriteFile(path string, scan *models.Scan) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(file)
	var w io.Writer = bw
	var gz *gzip.Writer
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz = gzip.NewWriter(bw)
		w = gz
	}

	if err := Write(w, scan); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("close gzip stream: %w", err)
		}
	}
	return bw.Flush()
}
