package cohort

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hippovol/internal/models"
	"hippovol/pkg/nifti"
	"hippovol/pkg/segmentation"
)

// discardLogger keeps test output quiet
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// squareScan returns a 16x16x3 scan whose middle slice holds a bright square
// of side pixels on a dark background
func squareScan(side int, spacing models.VoxelSize) *models.Scan {
	w, h, d := 16, 16, 3
	data := make([]float64, w*h*d)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			data[1*w*h+y*w+x] = 100
		}
	}
	return &models.Scan{Data: data, Width: w, Height: h, Depth: d, VoxelSize: spacing}
}

// fakeLoader serves scans from memory
type fakeLoader struct {
	scans map[string]*models.Scan
	calls atomic.Int32
}

func (f *fakeLoader) Load(path string) (*models.Scan, error) {
	f.calls.Add(1)
	scan, ok := f.scans[path]
	if !ok {
		return nil, fmt.Errorf("no such scan %q", path)
	}
	return scan, nil
}

func newTestAnalyzer(loader Loader, workers int, skip bool) *Analyzer {
	return NewAnalyzer(Params{
		Loader:     loader,
		Segmenter:  segmentation.NewSegmenter(segmentation.DefaultParams()),
		Workers:    workers,
		SkipFailed: skip,
		Logger:     discardLogger(),
	})
}

func TestDiscoverSortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"sub-03.nii", "sub-01.nii.gz", "README.txt", "sub-02.NII"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.nii"), 0755))

	files, err := Discover(dir, nil)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "sub-01", files[0].Subject)
	assert.Equal(t, "sub-02", files[1].Subject)
	assert.Equal(t, "sub-03", files[2].Subject)
	assert.Equal(t, filepath.Join(dir, "sub-03.nii"), files[2].Path)
}

func TestDiscoverMissingDirectory(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "absent"), nil)
	require.Error(t, err)
}

func TestSubjectMatcher(t *testing.T) {
	m, err := NewSubjectMatcher(`^(sub-\d+)_`)
	require.NoError(t, err)

	subject, err := m.Subject("/data/sub-07_6months.nii.gz")
	require.NoError(t, err)
	assert.Equal(t, "sub-07", subject)

	_, err = m.Subject("baseline.nii")
	assert.Error(t, err)

	_, err = NewSubjectMatcher("(")
	assert.Error(t, err)
}

func TestAnalyzeCohortPreservesOrder(t *testing.T) {
	spacing := models.VoxelSize{X: 1, Y: 1, Z: 2}
	loader := &fakeLoader{scans: map[string]*models.Scan{}}
	var files []ScanFile
	sides := []int{12, 8, 10, 9, 11, 13}
	for i, side := range sides {
		path := fmt.Sprintf("scan-%d.nii", i)
		loader.scans[path] = squareScan(side, spacing)
		files = append(files, ScanFile{Path: path, Subject: fmt.Sprintf("s%d", i)})
	}

	series, err := newTestAnalyzer(loader, 4, false).AnalyzeCohort(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, series, len(sides))
	for i, side := range sides {
		assert.Equal(t, fmt.Sprintf("s%d", i), series[i].Subject)
		assert.Equal(t, side*side, series[i].ForegroundPixels)
		assert.InDelta(t, float64(side*side)*2, series[i].Volume, 1e-9)
	}
}

func TestAnalyzeCohortFailsWholeCohort(t *testing.T) {
	loader := &fakeLoader{scans: map[string]*models.Scan{
		"a.nii": squareScan(10, models.VoxelSize{X: 1, Y: 1, Z: 1}),
		"c.nii": squareScan(10, models.VoxelSize{X: 1, Y: 1, Z: 1}),
	}}
	files := []ScanFile{{Path: "a.nii", Subject: "a"}, {Path: "b.nii", Subject: "b"}, {Path: "c.nii", Subject: "c"}}

	series, err := newTestAnalyzer(loader, 1, false).AnalyzeCohort(context.Background(), files)
	require.ErrorIs(t, err, ErrScanLoadFailure)
	assert.Nil(t, series)
}

func TestAnalyzeCohortSkipFailed(t *testing.T) {
	loader := &fakeLoader{scans: map[string]*models.Scan{
		"a.nii": squareScan(10, models.VoxelSize{X: 1, Y: 1, Z: 1}),
		"b.nii": squareScan(10, models.VoxelSize{X: 0, Y: 1, Z: 1}),
		"c.nii": squareScan(9, models.VoxelSize{X: 1, Y: 1, Z: 1}),
	}}
	files := []ScanFile{{Path: "a.nii", Subject: "a"}, {Path: "b.nii", Subject: "b"}, {Path: "c.nii", Subject: "c"}}

	series, err := newTestAnalyzer(loader, 2, true).AnalyzeCohort(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "a", series[0].Subject)
	assert.Equal(t, "c", series[1].Subject)
}

func TestAnalyzeCohortPropagatesCoreErrors(t *testing.T) {
	constant := &models.Scan{Data: make([]float64, 4*4*3), Width: 4, Height: 4, Depth: 3,
		VoxelSize: models.VoxelSize{X: 1, Y: 1, Z: 1}}
	loader := &fakeLoader{scans: map[string]*models.Scan{"flat.nii": constant}}

	_, err := newTestAnalyzer(loader, 1, false).AnalyzeCohort(context.Background(),
		[]ScanFile{{Path: "flat.nii", Subject: "flat"}})
	require.ErrorIs(t, err, segmentation.ErrDegenerateSlice)
}

func TestAnalyzeCohortCancelled(t *testing.T) {
	loader := &fakeLoader{scans: map[string]*models.Scan{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestAnalyzer(loader, 1, false).AnalyzeCohort(ctx, []ScanFile{{Path: "a.nii"}})
	require.True(t, errors.Is(err, context.Canceled))
}

func TestAnalyzeFolderReadsNifti(t *testing.T) {
	dir := t.TempDir()
	spacing := models.VoxelSize{X: 0.5, Y: 0.5, Z: 1}
	require.NoError(t, nifti.WriteFile(filepath.Join(dir, "sub-02.nii.gz"), squareScan(9, spacing)))
	require.NoError(t, nifti.WriteFile(filepath.Join(dir, "sub-01.nii"), squareScan(12, spacing)))

	series, err := newTestAnalyzer(nifti.Loader{}, 2, false).AnalyzeFolder(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "sub-01", series[0].Subject)
	assert.InDelta(t, 144*0.25, series[0].Volume, 1e-9)
	assert.Equal(t, "sub-02", series[1].Subject)
	assert.InDelta(t, 81*0.25, series[1].Volume, 1e-9)
}

func TestMeasureRejectsNilScan(t *testing.T) {
	loader := &fakeLoader{scans: map[string]*models.Scan{"empty.nii": nil}}

	_, err := newTestAnalyzer(loader, 1, false).Measure(ScanFile{Path: "empty.nii", Subject: "empty"})
	require.ErrorIs(t, err, ErrScanLoadFailure)
}

func TestAnalyzeFolderCorruptDimensions(t *testing.T) {
	dir := t.TempDir()
	spacing := models.VoxelSize{X: 1, Y: 1, Z: 1}
	require.NoError(t, nifti.WriteFile(filepath.Join(dir, "sub-01.nii"), squareScan(10, spacing)))

	// sub-02 claims 32767^3 voxels but holds a 16x16x3 payload
	corrupt := filepath.Join(dir, "sub-02.nii")
	require.NoError(t, nifti.WriteFile(corrupt, squareScan(10, spacing)))
	raw, err := os.ReadFile(corrupt)
	require.NoError(t, err)
	for axis := 1; axis <= 3; axis++ {
		binary.LittleEndian.PutUint16(raw[40+2*axis:], 32767)
	}
	require.NoError(t, os.WriteFile(corrupt, raw, 0644))

	_, err = newTestAnalyzer(nifti.Loader{}, 2, false).AnalyzeFolder(context.Background(), dir)
	require.ErrorIs(t, err, ErrScanLoadFailure)
	require.ErrorIs(t, err, nifti.ErrInvalidHeader)

	series, err := newTestAnalyzer(nifti.Loader{}, 2, true).AnalyzeFolder(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "sub-01", series[0].Subject)
}

func TestScanFileUsesSubjectPattern(t *testing.T) {
	matcher, err := NewSubjectMatcher(`^(sub-\d+)_`)
	require.NoError(t, err)
	a := NewAnalyzer(Params{Loader: &fakeLoader{}, Subjects: matcher, Logger: discardLogger()})

	file, err := a.ScanFile(filepath.Join("scans", "sub-07_T1w.nii.gz"))
	require.NoError(t, err)
	assert.Equal(t, "sub-07", file.Subject)

	_, err = a.ScanFile("other.nii")
	assert.Error(t, err)
}
