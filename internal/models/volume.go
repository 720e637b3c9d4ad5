package models

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Volume represents a decoded 3D data volume.
// A Volume is never modified once a decoder has returned it.
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major (z, y, x) order
	Data []float64

	// Width is the number of voxels along x (the fastest varying axis)
	Width int

	// Height is the number of voxels along y
	Height int

	// Depth is the number of voxels along z (the axial slice axis)
	Depth int
}

// NewVolume wraps data with the given dimensions, checking that they agree.
func NewVolume(data []float64, width, height, depth int) (*Volume, error) {
	if width <= 0 || height <= 0 || depth <= 0 {
		return nil, fmt.Errorf("invalid volume dimensions %dx%dx%d", width, height, depth)
	}
	n, ok := Product(width, height, depth)
	if !ok {
		return nil, fmt.Errorf("volume dimensions %dx%dx%d overflow", width, height, depth)
	}
	if len(data) != n {
		return nil, fmt.Errorf("volume data has %d samples, dimensions %dx%dx%d need %d",
			len(data), width, height, depth, n)
	}
	return &Volume{Data: data, Width: width, Height: height, Depth: depth}, nil
}

// Index returns the offset of voxel (x, y, z) in Data.
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the sample at voxel (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Size returns the dimensions in (x, y, z) order.
func (v *Volume) Size() Size {
	return Size{X: v.Width, Y: v.Height, Z: v.Depth}
}

// Extent returns the number of slices along the axis that o indexes.
func (v *Volume) Extent(o Orientation) int {
	switch o {
	case Coronal:
		return v.Height
	case Sagittal:
		return v.Width
	default:
		return v.Depth
	}
}

// Size is a 3-tuple of voxel counts in (x, y, z) order. It doubles as the
// caller supplied shape hint for formats that do not describe themselves.
type Size struct {
	X, Y, Z int
}

// Voxels returns X*Y*Z. It is only meaningful for a Valid size.
func (s Size) Voxels() int {
	return s.X * s.Y * s.Z
}

// Valid reports whether every dimension is positive and X*Y*Z fits in an int.
func (s Size) Valid() bool {
	if s.X <= 0 || s.Y <= 0 || s.Z <= 0 {
		return false
	}
	_, ok := Product(s.X, s.Y, s.Z)
	return ok
}

// Product multiplies dims. ok is false when a dimension is negative or the
// product does not fit in an int.
func Product(dims ...int) (n int, ok bool) {
	p := uint64(1)
	for _, d := range dims {
		if d < 0 {
			return 0, false
		}
		hi, lo := bits.Mul64(p, uint64(d))
		if hi != 0 || lo > math.MaxInt {
			return 0, false
		}
		p = lo
	}
	return int(p), true
}

func (s Size) String() string {
	return fmt.Sprintf("(%d,%d,%d)", s.X, s.Y, s.Z)
}

// ParseSize reads "X,Y,Z" or "XxYxZ", optionally wrapped in parentheses.
func ParseSize(s string) (Size, error) {
	t := strings.Trim(strings.TrimSpace(s), "()")
	sep := ","
	if !strings.Contains(t, ",") {
		sep = "x"
	}
	parts := strings.Split(strings.ToLower(t), sep)
	if len(parts) != 3 {
		return Size{}, fmt.Errorf("invalid size %q: want three dimensions like 256,256,128", s)
	}
	var dims [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return Size{}, fmt.Errorf("invalid size %q: dimension %q must be a positive integer", s, p)
		}
		dims[i] = n
	}
	size := Size{X: dims[0], Y: dims[1], Z: dims[2]}
	if !size.Valid() {
		return Size{}, fmt.Errorf("invalid size %q: too many voxels", s)
	}
	return size, nil
}

// Affine maps homogeneous voxel indices (x, y, z, 1) to physical coordinates.
type Affine struct {
	m *mat.Dense
}

// NewAffine builds an affine from the three voxel step vectors and the origin.
func NewAffine(stepX, stepY, stepZ, origin [3]float64) *Affine {
	m := mat.NewDense(4, 4, nil)
	for r := 0; r < 3; r++ {
		m.Set(r, 0, stepX[r])
		m.Set(r, 1, stepY[r])
		m.Set(r, 2, stepZ[r])
		m.Set(r, 3, origin[r])
	}
	m.Set(3, 3, 1)
	return &Affine{m: m}
}

// DiagonalAffine builds an axis aligned affine from per-axis spacing.
func DiagonalAffine(sx, sy, sz float64, origin [3]float64) *Affine {
	return NewAffine([3]float64{sx, 0, 0}, [3]float64{0, sy, 0}, [3]float64{0, 0, sz}, origin)
}

// Matrix returns a copy of the 4x4 matrix.
func (a *Affine) Matrix() *mat.Dense {
	return mat.DenseCopyOf(a.m)
}

// Spacing returns the physical length of one voxel step along x, y and z.
// For axis aligned volumes this is the absolute diagonal of the linear part.
func (a *Affine) Spacing() (sx, sy, sz float64) {
	col := make([]float64, 4)
	norm := func(j int) float64 {
		mat.Col(col, j, a.m)
		return floats.Norm(col[:3], 2)
	}
	return norm(0), norm(1), norm(2)
}

// Apply maps a voxel index to physical coordinates.
func (a *Affine) Apply(x, y, z float64) [3]float64 {
	in := mat.NewVecDense(4, []float64{x, y, z, 1})
	var out mat.VecDense
	out.MulVec(a.m, in)
	return [3]float64{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

// AspectRatio returns the displayed pixel height over width for a slice
// taken at orientation o. ok is false when the spacing is degenerate.
func (a *Affine) AspectRatio(o Orientation) (ratio float64, ok bool) {
	sx, sy, sz := a.Spacing()
	var h, w float64
	switch o {
	case Coronal:
		h, w = sz, sx
	case Sagittal:
		h, w = sz, sy
	default:
		h, w = sy, sx
	}
	if w == 0 || math.IsNaN(h) || math.IsNaN(w) {
		return 0, false
	}
	return h / w, true
}
