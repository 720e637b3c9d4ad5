package testutil

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

const (
	miINT8       = 1
	miINT32      = 5
	miUINT32     = 6
	miDOUBLE     = 9
	miMATRIX     = 14
	miCOMPRESSED = 15

	mxCELL   = 1
	mxSTRUCT = 2
	mxDOUBLE = 6
)

// MatValue is a MATLAB value that can be written into a MAT-file fixture.
type MatValue struct {
	name   string
	class  uint32
	dims   []int
	real   []float64
	cells  []MatValue
	fields []string
	values []MatValue
}

// MatNumeric is a double array. data is in MATLAB column-major order.
func MatNumeric(name string, dims []int, data []float64) MatValue {
	return MatValue{name: name, class: mxDOUBLE, dims: dims, real: data}
}

// MatCell is a cell array with the given elements in column-major order.
func MatCell(name string, dims []int, cells ...MatValue) MatValue {
	return MatValue{name: name, class: mxCELL, dims: dims, cells: cells}
}

// MatStruct is a 1x1 struct whose fields hold values.
func MatStruct(name string, fields []string, values ...MatValue) MatValue {
	return MatValue{name: name, class: mxSTRUCT, dims: []int{1, 1}, fields: fields, values: values}
}

// WithDims returns v with its stored dimensions replaced, leaving the
// contents as they are.
func (v MatValue) WithDims(dims ...int) MatValue {
	v.dims = dims
	return v
}

// ColumnMajor flattens a value function over MATLAB subscripts (i,j,k)
// into column-major order.
func ColumnMajor(d0, d1, d2 int, f func(i, j, k int) float64) []float64 {
	out := make([]float64, 0, d0*d1*d2)
	for k := 0; k < d2; k++ {
		for j := 0; j < d1; j++ {
			for i := 0; i < d0; i++ {
				out = append(out, f(i, j, k))
			}
		}
	}
	return out
}

// EncodeMAT renders a little-endian Level 5 MAT-file.
func EncodeMAT(t testing.TB, compress bool, vars ...MatValue) []byte {
	t.Helper()
	var buf bytes.Buffer
	desc := "MATLAB 5.0 MAT-file, Platform: GLNXA64, Created by: voxview tests"
	buf.WriteString(desc + strings.Repeat(" ", 116-len(desc)))
	buf.Write(make([]byte, 8))
	buf.Write([]byte{0x00, 0x01, 'I', 'M'})

	for _, v := range vars {
		elem := matrixElement(v)
		if !compress {
			buf.Write(elem)
			continue
		}
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		_, err := zw.Write(elem)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		writeTag(&buf, miCOMPRESSED, z.Len())
		buf.Write(z.Bytes())
	}
	return buf.Bytes()
}

// WriteMAT writes a MAT-file fixture to dir/name.
func WriteMAT(t testing.TB, dir, name string, compress bool, vars ...MatValue) string {
	t.Helper()
	return WriteFile(t, dir, name, EncodeMAT(t, compress, vars...))
}

func writeTag(buf *bytes.Buffer, typ uint32, n int) {
	var tag [8]byte
	binary.LittleEndian.PutUint32(tag[0:4], typ)
	binary.LittleEndian.PutUint32(tag[4:8], uint32(n))
	buf.Write(tag[:])
}

func element(typ uint32, data []byte) []byte {
	var buf bytes.Buffer
	if len(data) > 0 && len(data) <= 4 {
		var tag [4]byte
		binary.LittleEndian.PutUint32(tag[:], uint32(len(data))<<16|typ)
		buf.Write(tag[:])
		buf.Write(data)
		buf.Write(make([]byte, 4-len(data)))
		return buf.Bytes()
	}
	writeTag(&buf, typ, len(data))
	buf.Write(data)
	if rem := len(data) % 8; rem != 0 {
		buf.Write(make([]byte, 8-rem))
	}
	return buf.Bytes()
}

func matrixElement(v MatValue) []byte {
	var body bytes.Buffer

	flags := make([]byte, 8)
	binary.LittleEndian.PutUint32(flags[0:4], v.class)
	body.Write(element(miUINT32, flags))

	dims := make([]byte, 4*len(v.dims))
	for i, d := range v.dims {
		binary.LittleEndian.PutUint32(dims[4*i:], uint32(d))
	}
	body.Write(element(miINT32, dims))
	body.Write(element(miINT8, []byte(v.name)))

	switch v.class {
	case mxDOUBLE:
		data := make([]byte, 8*len(v.real))
		for i, x := range v.real {
			binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(x))
		}
		body.Write(element(miDOUBLE, data))
	case mxCELL:
		for _, c := range v.cells {
			body.Write(matrixElement(c))
		}
	case mxSTRUCT:
		const width = 32
		length := make([]byte, 4)
		binary.LittleEndian.PutUint32(length, width)
		body.Write(element(miINT32, length))
		names := make([]byte, width*len(v.fields))
		for i, f := range v.fields {
			copy(names[i*width:], f)
		}
		body.Write(element(miINT8, names))
		for _, fv := range v.values {
			fv.name = ""
			body.Write(matrixElement(fv))
		}
	}

	var out bytes.Buffer
	writeTag(&out, miMATRIX, body.Len())
	out.Write(body.Bytes())
	return out.Bytes()
}
