package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"voxview/internal/models"
	"voxview/pkg/binio"
)

var rawExtensions = []string{"", ".bin", ".raw"}

// CommonShapes are (x,y,z) volume sizes seen in legacy experiment output,
// tried in order when a raw file carries no header and no hint is given.
var CommonShapes = []models.Size{
	{X: 256, Y: 256, Z: 256}, // iso volume
	{X: 40, Y: 40, Z: 1},     // fluence map
	{X: 140, Y: 110, Z: 65},  // calc bbox
	{X: 140, Y: 100, Z: 134}, // calc box (body contour)
	{X: 502, Y: 502, Z: 502}, // full max bev size
	{X: 248, Y: 248, Z: 248}, // max bev size
	{X: 210, Y: 155, Z: 210}, // pillar grid test
}

// HeaderedRaw decodes files that start with a little-endian (X,Y,Z) uint32
// header followed by exactly X*Y*Z float32 samples.
type HeaderedRaw struct{}

func (HeaderedRaw) Name() string         { return "raw-header" }
func (HeaderedRaw) Extensions() []string { return rawExtensions }

func (d HeaderedRaw) Decode(path string, _ *models.Size) (*Result, error) {
	f, size, err := openRegular(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	const headerBytes = 12
	if size < headerBytes {
		return nil, fmt.Errorf("file of %d bytes is too short for a shape header", size)
	}
	header := make([]byte, headerBytes)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("reading shape header: %w", err)
	}
	x := binary.LittleEndian.Uint32(header[0:4])
	y := binary.LittleEndian.Uint32(header[4:8])
	z := binary.LittleEndian.Uint32(header[8:12])

	want, ok := binio.Product(uint64(x), uint64(y), uint64(z))
	if !ok {
		return nil, fmt.Errorf("header shape (%d,%d,%d) is not a valid volume", x, y, z)
	}
	have, ok := binio.CountFor(size-headerBytes, binio.Float32)
	if !ok || have != want {
		return nil, fmt.Errorf("header shape (%d,%d,%d) needs %d float32 samples, payload is %d bytes",
			x, y, z, want, size-headerBytes)
	}

	payload := make([]byte, size-headerBytes)
	if _, err := io.ReadFull(f, payload); err != nil {
		return nil, fmt.Errorf("reading samples: %w", err)
	}
	data, err := binio.Decode(payload, binio.Float32, binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	vol, err := models.NewVolume(data, int(x), int(y), int(z))
	if err != nil {
		return nil, err
	}
	return &Result{Volume: vol, Decoder: d.Name()}, nil
}

// HintedRaw decodes headerless files using the caller's size hint, as
// float32 samples first and float64 second.
type HintedRaw struct{}

func (HintedRaw) Name() string         { return "raw-hint" }
func (HintedRaw) Extensions() []string { return rawExtensions }

func (d HintedRaw) Decode(path string, hint *models.Size) (*Result, error) {
	if hint == nil {
		return nil, errors.New("size hint required")
	}
	if !hint.Valid() {
		return nil, fmt.Errorf("invalid size hint %v", *hint)
	}
	size, err := regularSize(path)
	if err != nil {
		return nil, err
	}
	for _, t := range []binio.SampleType{binio.Float32, binio.Float64} {
		if n, ok := binio.CountFor(size, t); ok && n == uint64(hint.Voxels()) {
			vol, err := readVolume(path, *hint, t)
			if err != nil {
				return nil, err
			}
			return &Result{Volume: vol, Decoder: d.Name()}, nil
		}
	}
	return nil, fmt.Errorf("size hint %v (%d voxels) matches neither float32 nor float64 samples, file has %d bytes",
		*hint, hint.Voxels(), size)
}

// CommonShape scans a fixed list of shapes for one whose float32 byte
// count equals the file size. The first match wins.
type CommonShape struct {
	Shapes []models.Size
}

// NewCommonShape returns a scanner over CommonShapes followed by extra.
func NewCommonShape(extra ...models.Size) *CommonShape {
	shapes := append(append([]models.Size(nil), CommonShapes...), extra...)
	return &CommonShape{Shapes: shapes}
}

func (*CommonShape) Name() string         { return "raw-common" }
func (*CommonShape) Extensions() []string { return rawExtensions }

func (d *CommonShape) Decode(path string, _ *models.Size) (*Result, error) {
	size, err := regularSize(path)
	if err != nil {
		return nil, err
	}
	n, ok := binio.CountFor(size, binio.Float32)
	if ok {
		for _, s := range d.Shapes {
			if s.Valid() && uint64(s.Voxels()) == n {
				vol, err := readVolume(path, s, binio.Float32)
				if err != nil {
					return nil, err
				}
				return &Result{Volume: vol, Decoder: d.Name()}, nil
			}
		}
	}
	return nil, fmt.Errorf("image size %d bytes did not match any common shape; supply a size hint", size)
}

// CTI decodes 16-bit "CTI" slices stored as int16 at the hinted size with
// the two in-plane axes swapped.
type CTI struct{}

func (CTI) Name() string         { return "cti" }
func (CTI) Extensions() []string { return []string{".cti", ".ctislice", ".seg"} }

func (d CTI) Decode(path string, hint *models.Size) (*Result, error) {
	if hint == nil {
		return nil, errors.New("size hint required")
	}
	if !hint.Valid() {
		return nil, fmt.Errorf("invalid size hint %v", *hint)
	}
	size, err := regularSize(path)
	if err != nil {
		return nil, err
	}
	if n, ok := binio.CountFor(size, binio.Int16); !ok || n != uint64(hint.Voxels()) {
		return nil, fmt.Errorf("size hint %v (%d voxels) does not match int16 samples, file has %d bytes",
			*hint, hint.Voxels(), size)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	samples, err := binio.Decode(raw, binio.Int16, binary.LittleEndian)
	if err != nil {
		return nil, err
	}

	nx, ny, nz := hint.X, hint.Y, hint.Z
	out := make([]float64, len(samples))
	for z := 0; z < nz; z++ {
		for b := 0; b < ny; b++ {
			for a := 0; a < nx; a++ {
				out[z*nx*ny+a*ny+b] = samples[z*ny*nx+b*nx+a]
			}
		}
	}
	vol, err := models.NewVolume(out, ny, nx, nz)
	if err != nil {
		return nil, err
	}
	return &Result{Volume: vol, Decoder: d.Name()}, nil
}

func openRegular(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is not a regular file", path)
	}
	return f, fi.Size(), nil
}

func regularSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !fi.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", path)
	}
	return fi.Size(), nil
}

func readVolume(path string, s models.Size, t binio.SampleType) (*models.Volume, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err := binio.Decode(raw, t, binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	return models.NewVolume(data, s.X, s.Y, s.Z)
}
