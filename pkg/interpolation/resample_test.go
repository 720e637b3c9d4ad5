package interpolation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestDisplaySize(t *testing.T) {
	tests := []struct {
		rows, cols int
		ratio      float64
		wantR      int
		wantC      int
	}{
		{10, 20, 1, 10, 20},
		{10, 20, 2.5, 25, 20},
		{10, 20, 0.5, 10, 40},
		{10, 20, 0, 10, 20},
	}
	for _, tt := range tests {
		r, c := DisplaySize(tt.rows, tt.cols, tt.ratio)
		assert.Equal(t, tt.wantR, r, "ratio %v", tt.ratio)
		assert.Equal(t, tt.wantC, c, "ratio %v", tt.ratio)
	}
}

// TestResampleLinearRamp verifies a linear ramp stays linear when stretched
func TestResampleLinearRamp(t *testing.T) {
	src := mat.NewDense(2, 3, []float64{
		0, 1, 2,
		10, 11, 12,
	})
	dst, err := Resample(src, 3, 5)
	require.NoError(t, err)

	want := []float64{
		0, 0.5, 1, 1.5, 2,
		5, 5.5, 6, 6.5, 7,
		10, 10.5, 11, 11.5, 12,
	}
	r, c := dst.Dims()
	require.Equal(t, 3, r)
	require.Equal(t, 5, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.InDelta(t, want[i*c+j], dst.At(i, j), 1e-12)
		}
	}
}

func TestResampleSameSizeCopies(t *testing.T) {
	src := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	dst, err := Resample(src, 2, 2)
	require.NoError(t, err)
	assert.True(t, mat.Equal(src, dst))
	dst.Set(0, 0, 9)
	assert.Equal(t, 1.0, src.At(0, 0))

	_, err = Resample(src, 0, 2)
	assert.Error(t, err)

	one, err := Resample(mat.NewDense(1, 1, []float64{7}), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 7.0, one.At(1, 1))
}
