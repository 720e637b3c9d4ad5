// Package decoder turns volumetric image files into models.Volume values.
//
// Each supported format is a Decoder that declares the file extensions it
// handles. A Registry tries its decoders in a fixed priority order and
// returns the first successful result, collecting every failure otherwise.
package decoder

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"voxview/internal/models"
)

var (
	// ErrFormatMismatch means a decoder does not handle the path's extension.
	// It never leaves the registry.
	ErrFormatMismatch = errors.New("format mismatch")

	// ErrDecodeFailed marks a decoder that accepted a path but could not parse it.
	ErrDecodeFailed = errors.New("decode failed")

	// ErrNotFound means the path did not exist when decoding started.
	ErrNotFound = errors.New("path not found")

	// ErrNoDecoder means every applicable decoder failed.
	ErrNoDecoder = errors.New("no decoder succeeded")
)

// Result is a decoded volume plus whatever geometry the format carried.
type Result struct {
	Volume *models.Volume

	// Affine is nil when the format has no physical spacing
	Affine *models.Affine

	// Decoder is the name of the decoder that produced the result
	Decoder string
}

// Decoder is one file format.
type Decoder interface {
	// Name identifies the decoder in errors, logs and metrics.
	Name() string

	// Extensions lists the lower-case extensions handled, including the
	// leading dot. The empty string stands for paths without an extension.
	Extensions() []string

	// Decode parses path. hint is the caller supplied (x,y,z) size and may
	// be nil; only formats that cannot describe their own shape use it.
	Decode(path string, hint *models.Size) (*Result, error)
}

// DecodeError records why a single decoder failed.
type DecodeError struct {
	Decoder string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Decoder, e.Err)
}

// Unwrap exposes both ErrDecodeFailed and the underlying cause.
func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecodeFailed, e.Err}
}

// NoDecoderError is returned once every applicable decoder has failed.
type NoDecoderError struct {
	Path string

	// Bytes is the file size, or 0 for directories. It is reported so users
	// can work out a manual size hint.
	Bytes int64

	// Failures holds one error per decoder that was attempted
	Failures []error
}

func (e *NoDecoderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "could not load volume from %s (%d bytes)", e.Path, e.Bytes)
	for _, f := range e.Failures {
		b.WriteString("\n  ")
		b.WriteString(f.Error())
	}
	return b.String()
}

// Unwrap exposes ErrNoDecoder followed by the individual failures.
func (e *NoDecoderError) Unwrap() []error {
	return append([]error{ErrNoDecoder}, e.Failures...)
}

// Ext returns the lower-cased extension of path, including the dot.
// Leading dots of the base name do not start an extension, so ".hidden"
// has none.
func Ext(path string) string {
	base := strings.TrimLeft(filepath.Base(path), ".")
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(base[i:])
}

// Accepts reports whether d handles the extension of path.
func Accepts(d Decoder, path string) bool {
	ext := Ext(path)
	for _, e := range d.Extensions() {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

func failed(name string, err error) error {
	return &DecodeError{Decoder: name, Err: err}
}

// volumeFromDims builds a volume from row-major data with dims ordered
// slowest to fastest. Rank 3 is (z,y,x), rank 2 is a single (y,x) slice
// and rank 1 needs a size hint. Extra leading or trailing unit dimensions
// are squeezed first.
func volumeFromDims(dims []int, data []float64, hint *models.Size) (*models.Volume, error) {
	dims = squeeze(dims)
	switch len(dims) {
	case 3:
		return models.NewVolume(data, dims[2], dims[1], dims[0])
	case 2:
		return models.NewVolume(data, dims[1], dims[0], 1)
	case 1:
		if hint == nil {
			return nil, fmt.Errorf("1-D array of %d samples needs a size hint", len(data))
		}
		if !hint.Valid() {
			return nil, fmt.Errorf("invalid size hint %v", *hint)
		}
		if hint.Voxels() != len(data) {
			return nil, fmt.Errorf("size hint %v needs %d samples, array has %d", *hint, hint.Voxels(), len(data))
		}
		return models.NewVolume(data, hint.X, hint.Y, hint.Z)
	case 0:
		return nil, errors.New("array is empty")
	}
	return nil, fmt.Errorf("unsupported array rank %d (dims %v)", len(dims), dims)
}

func squeeze(dims []int) []int {
	out := append([]int(nil), dims...)
	for len(out) > 3 && out[0] == 1 {
		out = out[1:]
	}
	for len(out) > 3 && out[len(out)-1] == 1 {
		out = out[:len(out)-1]
	}
	return out
}

// columnMajorToRowMajor reorders data stored with the first index varying
// fastest into C order for the same logical dims.
func columnMajorToRowMajor(data []float64, dims []int) []float64 {
	if len(dims) < 2 {
		return data
	}
	n := 1
	for _, d := range dims {
		n *= d
	}
	out := make([]float64, n)
	idx := make([]int, len(dims))
	for i := 0; i < n; i++ {
		// i walks C order; compute the Fortran offset of the same subscript
		off, stride := 0, 1
		for k := 0; k < len(dims); k++ {
			off += idx[k] * stride
			stride *= dims[k]
		}
		out[i] = data[off]
		for k := len(dims) - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < dims[k] {
				break
			}
			idx[k] = 0
		}
	}
	return out
}
