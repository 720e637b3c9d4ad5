package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxview/internal/models"
	"voxview/internal/testutil"
)

func TestNumPyDtypes(t *testing.T) {
	dir := t.TempDir()
	data := testutil.Ramp(24)

	for _, descr := range []string{"<f8", "<f4", "<i2", "<i4", "|u1"} {
		path := testutil.WriteNPY(t, dir, "v.npy", testutil.NPY{Descr: descr, Shape: []int{2, 3, 4}, Data: data})
		res, err := NumPy{}.Decode(path, nil)
		require.NoError(t, err, descr)
		assert.Equal(t, models.Size{X: 4, Y: 3, Z: 2}, res.Volume.Size(), descr)
		assert.Equal(t, data, res.Volume.Data, descr)
	}
}

func TestNumPyFortranOrder(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteNPY(t, dir, "f.npy", testutil.NPY{
		Descr:   "<f8",
		Shape:   []int{2, 3, 4},
		Fortran: true,
		Data:    testutil.ColumnMajor(2, 3, 4, subscript),
	})
	res, err := NumPy{}.Decode(path, nil)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				assert.Equal(t, subscript(i, j, k), res.Volume.At(k, j, i))
			}
		}
	}
}

func TestNumPyOneDimensionalNeedsHint(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteNPY(t, dir, "flat.npy", testutil.NPY{Descr: "<f4", Shape: []int{24}, Data: testutil.Ramp(24)})

	_, err := NumPy{}.Decode(path, nil)
	assert.Error(t, err)

	res, err := NumPy{}.Decode(path, &models.Size{X: 4, Y: 3, Z: 2})
	require.NoError(t, err)
	assert.Equal(t, models.Size{X: 4, Y: 3, Z: 2}, res.Volume.Size())
}

// TestNumPyRejectsOversizedShapes verifies headers claiming more samples
// than the file holds fail before any allocation
func TestNumPyRejectsOversizedShapes(t *testing.T) {
	dir := t.TempDir()

	wrapped := testutil.WriteNPY(t, dir, "wrap.npy", testutil.NPY{Descr: "<f8", Shape: []int{1 << 21, 1 << 21, 1 << 22}})
	_, err := NumPy{}.Decode(wrapped, nil)
	assert.ErrorContains(t, err, "overflows")

	_, err = Default(Options{}).Decode(wrapped, nil)
	assert.ErrorIs(t, err, ErrNoDecoder)

	big := testutil.NPY{Name: "big", Descr: "<f4", Shape: []int{1000, 1000, 1000}, Data: testutil.Ramp(8)}
	_, err = NumPy{}.Decode(testutil.WriteNPY(t, dir, "big.npy", big), nil)
	assert.ErrorContains(t, err, "bytes available")

	_, err = NumPy{}.Decode(testutil.WriteNPZ(t, dir, "big.npz", big), nil)
	assert.ErrorContains(t, err, "bytes available")
}

// TestNumPyArchiveUsesFirstMember verifies archive order, not name order
func TestNumPyArchiveUsesFirstMember(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteNPZ(t, dir, "pair.npz",
		testutil.NPY{Name: "b", Descr: "<f8", Shape: []int{2, 2}, Data: []float64{9, 9, 9, 9}},
		testutil.NPY{Name: "a", Descr: "<f8", Shape: []int{1, 2, 2}, Data: []float64{1, 2, 3, 4}},
	)
	res, err := NumPy{}.Decode(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 9, 9, 9}, res.Volume.Data)

	bad := testutil.WriteFile(t, dir, "bad.npz", []byte("PK but not really"))
	_, err = NumPy{}.Decode(bad, nil)
	assert.Error(t, err)
}
