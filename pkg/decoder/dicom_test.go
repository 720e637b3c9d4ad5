package decoder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxview/internal/models"
	"voxview/internal/testutil"
)

func axialImage(name string, z float64, instance int, fill float64) *dicomImage {
	return &dicomImage{
		file:         name,
		rows:         2,
		cols:         3,
		frames:       [][]float64{{fill, fill, fill, fill, fill, fill}},
		instance:     instance,
		position:     []float64{0, 0, z},
		orientation:  []float64{1, 0, 0, 0, 1, 0},
		pixelSpacing: []float64{0.5, 0.8},
	}
}

// TestAssembleSeriesSortsByPosition verifies slices are stacked along the
// normal regardless of file order
func TestAssembleSeriesSortsByPosition(t *testing.T) {
	images := []*dicomImage{
		axialImage("c", 5, 1, 50),
		axialImage("a", 1, 3, 10),
		axialImage("b", 3, 2, 30),
	}
	vol, affine, err := assembleSeries(images)
	require.NoError(t, err)
	assert.Equal(t, models.Size{X: 3, Y: 2, Z: 3}, vol.Size())
	assert.Equal(t, 10.0, vol.At(0, 0, 0))
	assert.Equal(t, 30.0, vol.At(2, 1, 1))
	assert.Equal(t, 50.0, vol.At(1, 0, 2))

	require.NotNil(t, affine)
	sx, sy, sz := affine.Spacing()
	assert.InDelta(t, 0.8, sx, 1e-12)
	assert.InDelta(t, 0.5, sy, 1e-12)
	assert.InDelta(t, 2.0, sz, 1e-12)

	r, ok := affine.AspectRatio(models.Axial)
	require.True(t, ok)
	assert.InDelta(t, 0.625, r, 1e-12)
	r, ok = affine.AspectRatio(models.Coronal)
	require.True(t, ok)
	assert.InDelta(t, 2.5, r, 1e-12)

	assert.Equal(t, [3]float64{0, 0, 1}, affine.Apply(0, 0, 0))
}

func TestAssembleSeriesFallbacks(t *testing.T) {
	a := axialImage("a", 0, 2, 1)
	b := axialImage("b", 0, 1, 2)
	a.position, b.position = nil, nil
	a.sliceThickness, b.sliceThickness = 2.5, 2.5

	vol, affine, err := assembleSeries([]*dicomImage{a, b})
	require.NoError(t, err)
	// instance numbers decide the order without positions
	assert.Equal(t, 2.0, vol.At(0, 0, 0))
	assert.Equal(t, 1.0, vol.At(0, 0, 1))
	_, _, sz := affine.Spacing()
	assert.InDelta(t, 2.5, sz, 1e-12)

	c := axialImage("c", 0, 1, 7)
	c.pixelSpacing = nil
	vol, affine, err = assembleSeries([]*dicomImage{c})
	require.NoError(t, err)
	assert.Nil(t, affine)
	assert.Equal(t, 1, vol.Depth)
}

func TestAssembleSeriesRejectsMixedSizes(t *testing.T) {
	a := axialImage("a", 0, 1, 1)
	b := axialImage("b", 1, 2, 1)
	b.rows = 4
	_, _, err := assembleSeries([]*dicomImage{a, b})
	assert.Error(t, err)

	_, _, err = assembleSeries(nil)
	assert.Error(t, err)
}

func TestLooksLikeDICOMDir(t *testing.T) {
	root := t.TempDir()

	series := filepath.Join(root, "series")
	require.NoError(t, os.Mkdir(series, 0755))
	assert.True(t, LooksLikeDICOMDir(series))

	withFiles := filepath.Join(root, "scan.d")
	testutil.WriteFile(t, withFiles, "IM0001.dcm", []byte{0})
	assert.True(t, LooksLikeDICOMDir(withFiles))

	other := filepath.Join(root, "notes.d")
	testutil.WriteFile(t, other, "readme.txt", []byte("hi"))
	assert.False(t, LooksLikeDICOMDir(other))
}

func TestDICOMRejectsUnreadableInput(t *testing.T) {
	dir := t.TempDir()
	d := NewDICOM(2, nil)

	bare := testutil.WriteFile(t, dir, "noext", []byte("plain bytes"))
	_, err := d.Decode(bare, nil)
	assert.Error(t, err)

	garbage := testutil.WriteFile(t, dir, "bad.dcm", []byte("definitely not dicom"))
	_, err = d.Decode(garbage, nil)
	assert.Error(t, err)

	series := filepath.Join(dir, "series")
	testutil.WriteFile(t, series, "1.dcm", []byte("junk"))
	testutil.WriteFile(t, series, "2.dcm", []byte("junk"))
	_, err = d.Decode(series, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no readable DICOM images")
	assert.Contains(t, err.Error(), "parsing 1.dcm")
	assert.Contains(t, err.Error(), "parsing 2.dcm")
}

func ctSlice(instance int, z float64, first uint16) testutil.DICOMSlice {
	pixels := make([]uint16, 6)
	for i := range pixels {
		pixels[i] = first + uint16(i)
	}
	return testutil.DICOMSlice{
		Rows:         2,
		Cols:         3,
		Pixels:       pixels,
		Instance:     instance,
		Position:     [3]float64{0, 0, z},
		PixelSpacing: [2]float64{0.5, 0.8},
		Slope:        2,
		Intercept:    -1,
	}
}

func TestDICOMSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteDICOM(t, dir, "IM1.dcm", ctSlice(1, 4, 0))

	res, err := NewDICOM(1, nil).Decode(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "dicom", res.Decoder)
	assert.Equal(t, models.Size{X: 3, Y: 2, Z: 1}, res.Volume.Size())
	assert.Equal(t, []float64{-1, 1, 3, 5, 7, 9}, res.Volume.Data)

	require.NotNil(t, res.Affine)
	sx, sy, _ := res.Affine.Spacing()
	assert.InDelta(t, 0.8, sx, 1e-12)
	assert.InDelta(t, 0.5, sy, 1e-12)
	assert.Equal(t, [3]float64{0, 0, 4}, res.Affine.Apply(0, 0, 0))
}

// TestDICOMSeriesFromFiles verifies a directory series is sorted by
// position, rescaled and given the spacing between slices
func TestDICOMSeriesFromFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "series")
	testutil.WriteDICOM(t, dir, "a.dcm", ctSlice(2, 2, 100))
	testutil.WriteDICOM(t, dir, "b.dcm", ctSlice(1, 0, 0))
	testutil.WriteFile(t, dir, "c.dcm", []byte("not an image"))
	testutil.WriteFile(t, dir, "notes.txt", []byte("ignored"))

	res, err := Default(Options{DICOMWorkers: 2}).Decode(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "dicom", res.Decoder)

	vol := res.Volume
	assert.Equal(t, models.Size{X: 3, Y: 2, Z: 2}, vol.Size())
	assert.Equal(t, []float64{-1, 1, 3, 5, 7, 9}, vol.Data[:6])
	assert.Equal(t, []float64{199, 201, 203, 205, 207, 209}, vol.Data[6:])
	assert.Equal(t, 203.0, vol.At(2, 0, 1))

	require.NotNil(t, res.Affine)
	sx, sy, sz := res.Affine.Spacing()
	assert.InDelta(t, 0.8, sx, 1e-12)
	assert.InDelta(t, 0.5, sy, 1e-12)
	assert.InDelta(t, 2.0, sz, 1e-12)
}
