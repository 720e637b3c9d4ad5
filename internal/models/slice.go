package models

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Orientation selects one of the three orthogonal viewing planes and the
// volume axis a slice index runs along.
type Orientation int

const (
	// Axial slices run along z and show the (y, x) plane
	Axial Orientation = iota
	// Coronal slices run along y and show the (z, x) plane
	Coronal
	// Sagittal slices run along x and show the (z, y) plane, mirrored left-right
	Sagittal
)

func (o Orientation) String() string {
	switch o {
	case Axial:
		return "axial"
	case Coronal:
		return "coronal"
	case Sagittal:
		return "sagittal"
	default:
		return fmt.Sprintf("orientation(%d)", int(o))
	}
}

// Valid reports whether o is one of the three known planes.
func (o Orientation) Valid() bool {
	return o >= Axial && o <= Sagittal
}

// DefaultFlipY reports whether the plane is conventionally displayed with
// its vertical axis pointing up.
func (o Orientation) DefaultFlipY() bool {
	return o == Coronal || o == Sagittal
}

// ParseOrientation accepts plane names, axis letters or the numeric values.
func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "axial", "z", "0", "":
		return Axial, nil
	case "coronal", "y", "1":
		return Coronal, nil
	case "sagittal", "x", "2":
		return Sagittal, nil
	}
	return Axial, fmt.Errorf("invalid orientation: %q (must be axial, coronal or sagittal)", s)
}

// SliceStats summarizes the sample values of a 2D slice
type SliceStats struct {
	Min, Max   float64
	Mean       float64
	StdDev     float64
	Rows, Cols int
}

// ComputeSliceStats gathers value statistics over a slice.
func ComputeSliceStats(s *mat.Dense) SliceStats {
	rows, cols := s.Dims()
	values := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		values = append(values, s.RawRowView(r)...)
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		std = 0
	}
	return SliceStats{
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Mean:   mean,
		StdDev: std,
		Rows:   rows,
		Cols:   cols,
	}
}
