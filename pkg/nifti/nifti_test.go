package nifti

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hippovol/internal/models"
)

// gradientScan returns a small scan with distinct voxel values
func gradientScan() *models.Scan {
	w, h, d := 4, 3, 2
	data := make([]float64, w*h*d)
	for i := range data {
		data[i] = float64(i) * 1.5
	}
	return &models.Scan{
		Data:      data,
		Width:     w,
		Height:    h,
		Depth:     d,
		VoxelSize: models.VoxelSize{X: 0.9, Y: 0.9, Z: 1.2},
	}
}

// rawHeader builds an encoded header with the given layout and byte order
func rawHeader(t *testing.T, order binary.ByteOrder, dims []int16, datatype, bitpix int16, slope, inter float32) []byte {
	t.Helper()
	h := header{
		SizeofHdr: headerSize,
		Datatype:  datatype,
		Bitpix:    bitpix,
		VoxOffset: defaultVoxOffset,
		SclSlope:  slope,
		SclInter:  inter,
	}
	h.Dim[0] = int16(len(dims))
	copy(h.Dim[1:], dims)
	h.Pixdim = [8]float32{1, 2, 2, 3, 1, 1, 1, 1}
	copy(h.Magic[:], magicSingleFile)

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, order, &h))
	buf.Write(make([]byte, defaultVoxOffset-headerSize))
	return buf.Bytes()
}

func TestWriteThenRead(t *testing.T) {
	scan := gradientScan()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, scan))
	assert.Equal(t, defaultVoxOffset+4*len(scan.Data), buf.Len())

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, scan.Width, got.Width)
	assert.Equal(t, scan.Height, got.Height)
	assert.Equal(t, scan.Depth, got.Depth)
	assert.InDelta(t, 0.9, got.VoxelSize.X, 1e-6)
	assert.InDelta(t, 1.2, got.VoxelSize.Z, 1e-6)
	assert.InDeltaSlice(t, scan.Data, got.Data, 1e-6)
}

func TestReadFileGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub-01.nii.gz")
	require.NoError(t, WriteFile(path, gradientScan()))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, got.Path)
	assert.Len(t, got.Data, 24)
	assert.InDelta(t, 34.5, got.Data[23], 1e-6)
}

func TestReadBigEndianScaledInt16(t *testing.T) {
	raw := rawHeader(t, binary.BigEndian, []int16{2, 2, 1}, DTInt16, 16, 2, 10)
	voxels := make([]byte, 8)
	for i, v := range []int16{-1, 0, 1, 300} {
		binary.BigEndian.PutUint16(voxels[2*i:], uint16(v))
	}

	got, err := Read(bytes.NewReader(append(raw, voxels...)))
	require.NoError(t, err)
	assert.Equal(t, []float64{8, 10, 12, 610}, got.Data)
	assert.Equal(t, models.VoxelSize{X: 2, Y: 2, Z: 3}, got.VoxelSize)
}

func TestReadUsesFirstVolumeOf4D(t *testing.T) {
	raw := rawHeader(t, binary.LittleEndian, []int16{2, 1, 1, 3}, DTUint8, 8, 0, 0)
	got, err := Read(bytes.NewReader(append(raw, 5, 6, 7, 8, 9, 10)))
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, got.Data)
	assert.Equal(t, 1, got.Depth)
}

func TestReadErrors(t *testing.T) {
	t.Run("truncated header", func(t *testing.T) {
		_, err := Read(bytes.NewReader(make([]byte, 100)))
		require.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("wrong sizeof_hdr", func(t *testing.T) {
		_, err := Read(bytes.NewReader(make([]byte, 400)))
		require.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("detached pair magic", func(t *testing.T) {
		raw := rawHeader(t, binary.LittleEndian, []int16{1, 1, 1}, DTUint8, 8, 0, 0)
		copy(raw[344:], magicDetachedPair)
		_, err := Read(bytes.NewReader(append(raw, 0)))
		require.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("complex datatype", func(t *testing.T) {
		raw := rawHeader(t, binary.LittleEndian, []int16{1, 1, 1}, 32, 64, 0, 0)
		_, err := Read(bytes.NewReader(raw))
		require.ErrorIs(t, err, ErrUnsupportedDatatype)
	})

	t.Run("truncated voxels", func(t *testing.T) {
		raw := rawHeader(t, binary.LittleEndian, []int16{4, 4, 4}, DTFloat32, 32, 0, 0)
		_, err := Read(bytes.NewReader(raw))
		require.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("dimensions larger than the data", func(t *testing.T) {
		raw := rawHeader(t, binary.LittleEndian, []int16{32767, 32767, 32767}, DTFloat64, 64, 0, 0)
		_, err := Read(bytes.NewReader(append(raw, 0, 0, 0, 0)))
		require.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("dimensions larger than the gzip file", func(t *testing.T) {
		raw := rawHeader(t, binary.LittleEndian, []int16{32767, 32767, 32767}, DTInt16, 16, 0, 0)
		path := filepath.Join(t.TempDir(), "corrupt.nii.gz")
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, err := gz.Write(append(raw, make([]byte, 64)...))
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

		_, err = ReadFile(path)
		require.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadFile(filepath.Join(t.TempDir(), "absent.nii"))
		require.Error(t, err)
	})
}

func TestScanExtensions(t *testing.T) {
	assert.True(t, HasScanExtension("a.nii"))
	assert.True(t, HasScanExtension("B.NII.GZ"))
	assert.False(t, HasScanExtension("notes.txt"))
	assert.False(t, HasScanExtension("a.nii.bak"))

	assert.Equal(t, "sub-01", TrimScanExtension("sub-01.nii"))
	assert.Equal(t, "sub-02", TrimScanExtension("sub-02.nii.gz"))
	assert.Equal(t, "other", TrimScanExtension("other"))
}
