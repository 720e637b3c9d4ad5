// Package testutil writes small volume fixtures in every supported format
// for use by package tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	hdf5 "github.com/robert-malhotra/go-hdf5/hdf5"
	"github.com/stretchr/testify/require"
)

// Ramp returns n samples 0, 1, 2, ... n-1.
func Ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

// WriteFile writes raw bytes to name inside dir and returns the full path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

// Pack encodes values little-endian. values must be a slice of fixed-size
// numbers as accepted by binary.Write.
func Pack(t testing.TB, values ...any) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, v := range values {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}
	return buf.Bytes()
}

// Float32s converts samples for packing.
func Float32s(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}

// WriteHeaderedRaw writes a (X,Y,Z) uint32 header followed by float32
// samples in (z,y,x) order.
func WriteHeaderedRaw(t testing.TB, dir, name string, x, y, z int, data []float64) string {
	t.Helper()
	header := []uint32{uint32(x), uint32(y), uint32(z)}
	return WriteFile(t, dir, name, Pack(t, header, Float32s(data)))
}

// WriteHDF5 writes a single one dimensional float32 dataset.
func WriteHDF5(t testing.TB, dir, name, dataset string, data []float64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := hdf5.Create(path)
	require.NoError(t, err)
	_, err = f.Root().CreateDataset(dataset, Float32s(data))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return path
}

// NPY describes one array for WriteNPY and WriteNPZ. Descr is a numpy
// dtype string such as "<f8", "<f4", "<i2" or "|u1".
type NPY struct {
	Name    string
	Descr   string
	Shape   []int
	Fortran bool
	Data    []float64
}

// EncodeNPY renders a version 1.0 .npy stream.
func EncodeNPY(t testing.TB, a NPY) []byte {
	t.Helper()
	dims := make([]string, len(a.Shape))
	for i, d := range a.Shape {
		dims[i] = fmt.Sprint(d)
	}
	shape := "(" + strings.Join(dims, ", ") + ")"
	if len(a.Shape) == 1 {
		shape = "(" + dims[0] + ",)"
	}
	fortran := "False"
	if a.Fortran {
		fortran = "True"
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': %s, 'shape': %s, }", a.Descr, fortran, shape)
	// magic(6) + version(2) + length(2) + dict + padding + newline is a multiple of 64
	total := 10 + len(dict) + 1
	if rem := total % 64; rem != 0 {
		dict += strings.Repeat(" ", 64-rem)
	}
	dict += "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(len(dict))))
	buf.WriteString(dict)

	order := binary.ByteOrder(binary.LittleEndian)
	if strings.HasPrefix(a.Descr, ">") {
		order = binary.BigEndian
	}
	for _, v := range a.Data {
		var err error
		switch a.Descr[1:] {
		case "f8":
			err = binary.Write(&buf, order, v)
		case "f4":
			err = binary.Write(&buf, order, float32(v))
		case "i2":
			err = binary.Write(&buf, order, int16(v))
		case "i4":
			err = binary.Write(&buf, order, int32(v))
		case "u1":
			err = buf.WriteByte(uint8(v))
		case "u2":
			err = binary.Write(&buf, order, uint16(v))
		default:
			t.Fatalf("testutil: unsupported npy descr %q", a.Descr)
		}
		require.NoError(t, err)
	}
	return buf.Bytes()
}

// WriteNPY writes a single array file.
func WriteNPY(t testing.TB, dir, name string, a NPY) string {
	t.Helper()
	return WriteFile(t, dir, name, EncodeNPY(t, a))
}

// WriteNPZ writes an uncompressed archive holding the arrays in order.
func WriteNPZ(t testing.TB, dir, name string, arrays ...NPY) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, a := range arrays {
		w, err := zw.Create(a.Name + ".npy")
		require.NoError(t, err)
		_, err = w.Write(EncodeNPY(t, a))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return WriteFile(t, dir, name, buf.Bytes())
}
