package decoder

import (
	"errors"
	"fmt"

	"voxview/internal/models"
	"voxview/pkg/matfile"
)

var matExtensions = []string{".mat"}

// DoseCube reads treatment planning exports where a struct variable holds
// a "cube" field, either directly numeric or a cell whose first element
// is. MATLAB stores the cube as (y, x, z), so it is rotated to (z, y, x).
type DoseCube struct{}

func (DoseCube) Name() string         { return "matlab-dosecube" }
func (DoseCube) Extensions() []string { return matExtensions }

func (d DoseCube) Decode(path string, _ *models.Size) (*Result, error) {
	mf, err := matfile.Open(path)
	if err != nil {
		return nil, err
	}
	cube, err := findCube(mf)
	if err != nil {
		return nil, err
	}

	dims := cube.Dims
	if len(dims) == 2 {
		dims = append(dims, 1)
	}
	if len(dims) != 3 {
		return nil, fmt.Errorf("cube has unsupported dims %v", cube.Dims)
	}
	rows, cols, slices := dims[0], dims[1], dims[2]

	out := make([]float64, len(cube.Real))
	for z := 0; z < slices; z++ {
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				out[z*rows*cols+y*cols+x] = cube.Real[y+rows*(x+cols*z)]
			}
		}
	}
	vol, err := models.NewVolume(out, cols, rows, slices)
	if err != nil {
		return nil, err
	}
	return &Result{Volume: vol, Decoder: d.Name()}, nil
}

func findCube(mf *matfile.File) (*matfile.Array, error) {
	var candidates []*matfile.Array
	for _, name := range []string{"ct", "dose"} {
		if v, ok := mf.Var(name); ok && v.Class == matfile.ClassStruct {
			candidates = append(candidates, v)
		}
	}
	for _, v := range mf.Vars {
		if v.Class == matfile.ClassStruct {
			candidates = append(candidates, v)
		}
	}

	for _, s := range candidates {
		field, ok := s.Field("cube")
		if !ok {
			continue
		}
		if field.Class == matfile.ClassCell {
			if len(field.Cells) == 0 {
				continue
			}
			field = field.Cells[0]
		}
		if field.Class.Numeric() && field.Numel() > 0 {
			return field, nil
		}
	}
	return nil, errors.New("no struct variable with a numeric cube field")
}

// MATLAB reads the first top-level numeric variable of rank 2 or 3.
type MATLAB struct{}

func (MATLAB) Name() string         { return "matlab" }
func (MATLAB) Extensions() []string { return matExtensions }

func (d MATLAB) Decode(path string, hint *models.Size) (*Result, error) {
	mf, err := matfile.Open(path)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, v := range mf.Vars {
		if !v.Class.Numeric() || v.Numel() == 0 {
			continue
		}
		data := columnMajorToRowMajor(v.Real, v.Dims)
		vol, err := volumeFromDims(v.Dims, data, hint)
		if err != nil {
			errs = append(errs, fmt.Errorf("variable %q: %w", v.Name, err))
			continue
		}
		return &Result{Volume: vol, Decoder: d.Name()}, nil
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no numeric variables among %d", len(mf.Vars))
	}
	return nil, errors.Join(errs...)
}
