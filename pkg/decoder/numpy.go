package decoder

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/sbinet/npyio"

	"voxview/internal/models"
)

// NumPy reads .npy arrays and the first array of an .npz archive.
type NumPy struct{}

func (NumPy) Name() string         { return "numpy" }
func (NumPy) Extensions() []string { return []string{".npy", ".npz"} }

func (d NumPy) Decode(path string, hint *models.Size) (*Result, error) {
	var (
		dims []int
		data []float64
		err  error
	)
	if Ext(path) == ".npz" {
		dims, data, err = readFirstNPZ(path)
	} else {
		var f *os.File
		var size int64
		f, size, err = openRegular(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		dims, data, err = readNPY(f, size)
	}
	if err != nil {
		return nil, err
	}
	vol, err := volumeFromDims(dims, data, hint)
	if err != nil {
		return nil, err
	}
	return &Result{Volume: vol, Decoder: d.Name()}, nil
}

// readFirstNPZ opens the archive and decodes its first member in archive
// order.
func readFirstNPZ(path string) ([]int, []float64, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening npz archive: %w", err)
	}
	defer zr.Close()

	for _, member := range zr.File {
		if !strings.HasSuffix(member.Name, ".npy") {
			continue
		}
		rc, err := member.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("npz member %s: %w", member.Name, err)
		}
		dims, data, err := readNPY(rc, memberLimit(member))
		rc.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("npz member %s: %w", member.Name, err)
		}
		return dims, data, nil
	}
	return nil, nil, errors.New("npz archive holds no arrays")
}

// deflate cannot expand data by more than this factor
const maxDeflateRatio = 1032

// memberLimit bounds how many bytes a zip member can really hold, whatever
// its header claims.
func memberLimit(member *zip.File) int64 {
	limit := member.UncompressedSize64
	if member.Method == zip.Deflate {
		if bound := member.CompressedSize64 * maxDeflateRatio; bound < limit {
			limit = bound
		}
	}
	if limit > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(limit)
}

// readNPY decodes one array. limit is the number of bytes available to r;
// headers claiming more samples than fit are rejected before allocating.
func readNPY(r io.Reader, limit int64) ([]int, []float64, error) {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading npy header: %w", err)
	}
	dims := append([]int(nil), nr.Header.Descr.Shape...)
	n, ok := models.Product(dims...)
	if !ok {
		return nil, nil, fmt.Errorf("array shape %v overflows", dims)
	}

	descr := nr.Header.Descr.Type
	if len(descr) < 2 {
		return nil, nil, fmt.Errorf("unsupported dtype %q", descr)
	}
	itemSize := int64(descr[len(descr)-1] - '0')
	if itemSize < 1 || itemSize > 8 {
		return nil, nil, fmt.Errorf("unsupported dtype %q", descr)
	}
	if int64(n) > limit/itemSize {
		return nil, nil, fmt.Errorf("array shape %v of %s needs more than the %d bytes available", dims, descr, limit)
	}
	var data []float64
	switch kind := descr[len(descr)-2:]; kind {
	case "f4":
		data, err = readAs[float32](nr, n)
	case "f8":
		data, err = readAs[float64](nr, n)
	case "i1":
		data, err = readAs[int8](nr, n)
	case "i2":
		data, err = readAs[int16](nr, n)
	case "i4":
		data, err = readAs[int32](nr, n)
	case "i8":
		data, err = readAs[int64](nr, n)
	case "u1":
		data, err = readAs[uint8](nr, n)
	case "u2":
		data, err = readAs[uint16](nr, n)
	case "u4":
		data, err = readAs[uint32](nr, n)
	case "u8":
		data, err = readAs[uint64](nr, n)
	case "b1":
		flags := make([]bool, n)
		if err = nr.Read(&flags); err == nil {
			data = make([]float64, n)
			for i, b := range flags {
				if b {
					data[i] = 1
				}
			}
		}
	default:
		return nil, nil, fmt.Errorf("unsupported dtype %q", descr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s samples: %w", descr, err)
	}
	if nr.Header.Descr.Fortran {
		data = columnMajorToRowMajor(data, dims)
	}
	return dims, data, nil
}

type sample interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

func readAs[T sample](nr *npyio.Reader, n int) ([]float64, error) {
	values := make([]T, n)
	if err := nr.Read(&values); err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out, nil
}
