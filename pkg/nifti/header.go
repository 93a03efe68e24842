// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz).
//
// Only what the volume pipeline needs is decoded: the dimensions, the voxel
// spacing, the intensity scaling and the voxel data of the first 3D volume.
// Orientation (qform/sform) is ignored on read and left unset on write.
package nifti

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	headerSize        = 348
	defaultVoxOffset  = 352
	magicSingleFile   = "n+1\x00"
	magicDetachedPair = "ni1\x00"
)

var (
	// ErrInvalidHeader is returned when the 348 byte header cannot be decoded.
	ErrInvalidHeader = errors.New("invalid NIfTI-1 header")

	// ErrUnsupportedDatatype is returned for voxel datatypes the reader does
	// not decode (complex, RGB, 128-bit types).
	ErrUnsupportedDatatype = errors.New("unsupported NIfTI datatype")
)

// Datatype codes from nifti1.h.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
)

// bytesPerVoxel returns the storage size of a datatype, or 0 if unsupported.
func bytesPerVoxel(datatype int16) int {
	switch datatype {
	case DTUint8, DTInt8:
		return 1
	case DTInt16, DTUint16:
		return 2
	case DTInt32, DTUint32, DTFloat32:
		return 4
	case DTFloat64:
		return 8
	default:
		return 0
	}
}

// header mirrors the on-disk nifti_1_header layout field by field.
type header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DbName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// decodeHeader detects the byte order from sizeof_hdr and decodes the header.
func decodeHeader(raw []byte) (*header, binary.ByteOrder, error) {
	if len(raw) < headerSize {
		return nil, nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidHeader, len(raw), headerSize)
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(raw[:4]) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(raw[:4]) == headerSize:
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("%w: sizeof_hdr is not %d", ErrInvalidHeader, headerSize)
	}

	h := &header{}
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, h); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	switch string(h.Magic[:]) {
	case magicSingleFile:
	case magicDetachedPair:
		return nil, nil, fmt.Errorf("%w: detached .hdr/.img pairs are not supported", ErrInvalidHeader)
	default:
		return nil, nil, fmt.Errorf("%w: bad magic %q", ErrInvalidHeader, h.Magic[:])
	}

	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return nil, nil, fmt.Errorf("%w: dim[0]=%d", ErrInvalidHeader, h.Dim[0])
	}
	for i := 1; i <= int(h.Dim[0]); i++ {
		if h.Dim[i] < 0 {
			return nil, nil, fmt.Errorf("%w: dim[%d]=%d", ErrInvalidHeader, i, h.Dim[i])
		}
	}
	if bytesPerVoxel(h.Datatype) == 0 {
		return nil, nil, fmt.Errorf("%w: code %d", ErrUnsupportedDatatype, h.Datatype)
	}

	return h, order, nil
}

// spatialDims returns the extents of the three spatial axes. Missing axes
// count as 1.
func (h *header) spatialDims() (int, int, int) {
	dims := [3]int{1, 1, 1}
	for i := 0; i < 3 && i < int(h.Dim[0]); i++ {
		dims[i] = int(h.Dim[i+1])
	}
	return dims[0], dims[1], dims[2]
}
