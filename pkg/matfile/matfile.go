// Package matfile reads MATLAB Level 5 MAT-files.
//
// Only what is needed to pull numeric arrays out of a file is supported:
// numeric and char arrays, cell arrays, structs and zlib compressed
// variables. Sparse matrices and objects are reported with their class but
// carry no data.
package matfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
	"os"

	"github.com/klauspost/compress/zlib"

	"voxview/pkg/binio"
)

// ErrNotMAT is returned when the header does not describe a Level 5 MAT-file.
var ErrNotMAT = errors.New("matfile: not a level 5 MAT-file")

const headerSize = 128

// Data element types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
	miUTF8       = 16
	miUTF16      = 17
	miUTF32      = 18
)

// Class is the MATLAB array class stored in the array flags.
type Class uint8

const (
	ClassCell   Class = 1
	ClassStruct Class = 2
	ClassObject Class = 3
	ClassChar   Class = 4
	ClassSparse Class = 5
	ClassDouble Class = 6
	ClassSingle Class = 7
	ClassInt8   Class = 8
	ClassUint8  Class = 9
	ClassInt16  Class = 10
	ClassUint16 Class = 11
	ClassInt32  Class = 12
	ClassUint32 Class = 13
	ClassInt64  Class = 14
	ClassUint64 Class = 15
)

// Numeric reports whether the class holds plain numeric data.
func (c Class) Numeric() bool {
	return c >= ClassDouble && c <= ClassUint64
}

func (c Class) String() string {
	switch c {
	case ClassCell:
		return "cell"
	case ClassStruct:
		return "struct"
	case ClassObject:
		return "object"
	case ClassChar:
		return "char"
	case ClassSparse:
		return "sparse"
	case ClassDouble:
		return "double"
	case ClassSingle:
		return "single"
	case ClassInt8:
		return "int8"
	case ClassUint8:
		return "uint8"
	case ClassInt16:
		return "int16"
	case ClassUint16:
		return "uint16"
	case ClassInt32:
		return "int32"
	case ClassUint32:
		return "uint32"
	case ClassInt64:
		return "int64"
	case ClassUint64:
		return "uint64"
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// Array is one MATLAB variable or nested value.
type Array struct {
	Name  string
	Class Class
	// Dims are the MATLAB dimensions; element order is column-major
	Dims    []int
	Complex bool

	// Real and Imag hold numeric data for numeric classes
	Real []float64
	Imag []float64

	// Text holds char array contents
	Text string

	// Cells holds the elements of a cell array in column-major order
	Cells []*Array

	// Fields lists struct field names in file order; Structs holds one
	// map per struct element and is empty when there are no fields
	Fields  []string
	Structs []map[string]*Array
}

// Numel returns the number of elements described by Dims. Parsed arrays
// always have a Numel that fits in an int.
func (a *Array) Numel() int {
	n, _ := numel(a.Dims)
	return n
}

// numel multiplies dims, reporting false on overflow.
func numel(dims []int) (int, bool) {
	if len(dims) == 0 {
		return 0, true
	}
	p := uint64(1)
	for _, d := range dims {
		hi, lo := bits.Mul64(p, uint64(d))
		if hi != 0 || lo > math.MaxInt {
			return 0, false
		}
		p = lo
	}
	return int(p), true
}

// each nested matrix is at least one 8 byte tag
const minChildBytes = 8

// Field returns field name of the first struct element.
func (a *Array) Field(name string) (*Array, bool) {
	if a.Class != ClassStruct || len(a.Structs) == 0 {
		return nil, false
	}
	v, ok := a.Structs[0][name]
	return v, ok && v != nil
}

// File is a parsed MAT-file.
type File struct {
	// Description is the text portion of the header
	Description string
	Order       binary.ByteOrder
	Vars        []*Array
}

// Var looks up a top-level variable by name.
func (f *File) Var(name string) (*Array, bool) {
	for _, v := range f.Vars {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}

// Open reads and parses the MAT-file at path.
func Open(path string) (*File, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(buf)
}

// Parse decodes a complete MAT-file held in memory.
func Parse(buf []byte) (*File, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrNotMAT, len(buf))
	}
	var order binary.ByteOrder
	switch string(buf[126:128]) {
	case "IM":
		order = binary.LittleEndian
	case "MI":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad endian indicator %q", ErrNotMAT, buf[126:128])
	}
	if v := order.Uint16(buf[124:126]); v != 0x0100 {
		return nil, fmt.Errorf("%w: unsupported version 0x%04x", ErrNotMAT, v)
	}

	f := &File{
		Description: string(bytes.TrimRight(buf[:116], " \x00")),
		Order:       order,
	}

	r := binio.NewReader(buf, order)
	if err := r.Seek(headerSize); err != nil {
		return nil, err
	}
	for r.Len() >= 8 {
		typ, data, err := readElement(r)
		if err != nil {
			return nil, fmt.Errorf("matfile: reading variable %d: %w", len(f.Vars), err)
		}
		switch typ {
		case miCOMPRESSED:
			inner, err := inflate(data)
			if err != nil {
				return nil, fmt.Errorf("matfile: variable %d: %w", len(f.Vars), err)
			}
			ir := binio.NewReader(inner, order)
			ityp, idata, err := readElement(ir)
			if err != nil {
				return nil, fmt.Errorf("matfile: compressed variable %d: %w", len(f.Vars), err)
			}
			if ityp != miMATRIX {
				continue
			}
			arr, err := parseMatrix(idata, order)
			if err != nil {
				return nil, err
			}
			f.Vars = append(f.Vars, arr)
		case miMATRIX:
			arr, err := parseMatrix(data, order)
			if err != nil {
				return nil, err
			}
			f.Vars = append(f.Vars, arr)
		}
	}
	return f, nil
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening compressed element: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("inflating compressed element: %w", err)
	}
	return out, nil
}

// readElement reads one tagged data element and skips its padding.
func readElement(r *binio.Reader) (uint32, []byte, error) {
	tag, err := r.ReadUint32()
	if err != nil {
		return 0, nil, err
	}
	if n := tag >> 16; n != 0 {
		// small data element: type and size share the tag, data fits in 4 bytes
		if n > 4 {
			return 0, nil, fmt.Errorf("small data element claims %d bytes", n)
		}
		payload, err := r.ReadBytes(4)
		if err != nil {
			return 0, nil, err
		}
		return tag & 0xffff, payload[:n], nil
	}
	n, err := r.ReadUint32()
	if err != nil {
		return 0, nil, err
	}
	data, err := r.ReadBytes(int(n))
	if err != nil {
		return 0, nil, err
	}
	if tag != miCOMPRESSED {
		skipPadding(r)
	}
	return tag, data, nil
}

func skipPadding(r *binio.Reader) {
	if rem := r.Pos() % 8; rem != 0 {
		pad := 8 - rem
		if pad > r.Len() {
			pad = r.Len()
		}
		_ = r.Skip(pad)
	}
}

func sampleType(typ uint32) (binio.SampleType, bool) {
	switch typ {
	case miINT8:
		return binio.Int8, true
	case miUINT8, miUTF8:
		return binio.Uint8, true
	case miINT16:
		return binio.Int16, true
	case miUINT16, miUTF16:
		return binio.Uint16, true
	case miINT32:
		return binio.Int32, true
	case miUINT32, miUTF32:
		return binio.Uint32, true
	case miSINGLE:
		return binio.Float32, true
	case miDOUBLE:
		return binio.Float64, true
	case miINT64:
		return binio.Int64, true
	case miUINT64:
		return binio.Uint64, true
	}
	return 0, false
}

func readNumeric(r *binio.Reader, order binary.ByteOrder) ([]float64, error) {
	typ, data, err := readElement(r)
	if err != nil {
		return nil, err
	}
	st, ok := sampleType(typ)
	if !ok {
		return nil, fmt.Errorf("unexpected data element type %d", typ)
	}
	return binio.Decode(data, st, order)
}

func parseMatrix(data []byte, order binary.ByteOrder) (*Array, error) {
	arr := &Array{}
	if len(data) == 0 {
		// empty cell or struct entry
		return arr, nil
	}
	r := binio.NewReader(data, order)

	typ, flags, err := readElement(r)
	if err != nil {
		return nil, fmt.Errorf("matfile: array flags: %w", err)
	}
	if typ != miUINT32 || len(flags) < 4 {
		return nil, fmt.Errorf("matfile: malformed array flags (type %d, %d bytes)", typ, len(flags))
	}
	word := order.Uint32(flags[:4])
	arr.Class = Class(word & 0xff)
	arr.Complex = word&0x0800 != 0

	dims, err := readNumeric(r, order)
	if err != nil {
		return nil, fmt.Errorf("matfile: dimensions: %w", err)
	}
	arr.Dims = make([]int, len(dims))
	for i, d := range dims {
		if d < 0 {
			return nil, fmt.Errorf("matfile: negative dimension %v", d)
		}
		if d > math.MaxInt32 {
			return nil, fmt.Errorf("matfile: dimension %v out of range", d)
		}
		arr.Dims[i] = int(d)
	}
	if _, ok := numel(arr.Dims); !ok {
		return nil, fmt.Errorf("matfile: dims %v overflow", arr.Dims)
	}

	_, name, err := readElement(r)
	if err != nil {
		return nil, fmt.Errorf("matfile: array name: %w", err)
	}
	arr.Name = string(name)

	switch {
	case arr.Class.Numeric():
		if arr.Real, err = readNumeric(r, order); err != nil {
			return nil, fmt.Errorf("matfile: %s real part: %w", arr.Name, err)
		}
		if len(arr.Real) != arr.Numel() {
			return nil, fmt.Errorf("matfile: %s has %d values for dims %v", arr.Name, len(arr.Real), arr.Dims)
		}
		if arr.Complex {
			if arr.Imag, err = readNumeric(r, order); err != nil {
				return nil, fmt.Errorf("matfile: %s imaginary part: %w", arr.Name, err)
			}
		}
	case arr.Class == ClassChar:
		codes, err := readNumeric(r, order)
		if err != nil {
			return nil, fmt.Errorf("matfile: %s text: %w", arr.Name, err)
		}
		runes := make([]rune, len(codes))
		for i, c := range codes {
			runes[i] = rune(c)
		}
		arr.Text = string(runes)
	case arr.Class == ClassCell:
		n := arr.Numel()
		if n > r.Len()/minChildBytes {
			return nil, fmt.Errorf("matfile: %s claims %d cells in %d bytes", arr.Name, n, r.Len())
		}
		arr.Cells = make([]*Array, 0, n)
		for i := 0; i < n; i++ {
			cell, err := readChild(r, order)
			if err != nil {
				return nil, fmt.Errorf("matfile: %s cell %d: %w", arr.Name, i, err)
			}
			arr.Cells = append(arr.Cells, cell)
		}
	case arr.Class == ClassStruct:
		if err := parseStruct(arr, r, order); err != nil {
			return nil, err
		}
	}
	return arr, nil
}

func readChild(r *binio.Reader, order binary.ByteOrder) (*Array, error) {
	typ, data, err := readElement(r)
	if err != nil {
		return nil, err
	}
	if typ != miMATRIX {
		return nil, fmt.Errorf("expected matrix element, found type %d", typ)
	}
	return parseMatrix(data, order)
}

func parseStruct(arr *Array, r *binio.Reader, order binary.ByteOrder) error {
	lengths, err := readNumeric(r, order)
	if err != nil {
		return fmt.Errorf("matfile: %s field name length: %w", arr.Name, err)
	}
	if len(lengths) != 1 || lengths[0] <= 0 || lengths[0] > math.MaxInt32 {
		return fmt.Errorf("matfile: %s has invalid field name length %v", arr.Name, lengths)
	}
	width := int(lengths[0])

	_, names, err := readElement(r)
	if err != nil {
		return fmt.Errorf("matfile: %s field names: %w", arr.Name, err)
	}
	for off := 0; off+width <= len(names); off += width {
		arr.Fields = append(arr.Fields, string(bytes.TrimRight(names[off:off+width], "\x00")))
	}

	if len(arr.Fields) == 0 {
		return nil
	}
	n := arr.Numel()
	if n > r.Len()/minChildBytes/len(arr.Fields) {
		return fmt.Errorf("matfile: %s claims %d elements of %d fields in %d bytes",
			arr.Name, n, len(arr.Fields), r.Len())
	}
	arr.Structs = make([]map[string]*Array, n)
	for i := 0; i < n; i++ {
		elem := make(map[string]*Array, len(arr.Fields))
		for _, field := range arr.Fields {
			v, err := readChild(r, order)
			if err != nil {
				return fmt.Errorf("matfile: %s(%d).%s: %w", arr.Name, i+1, field, err)
			}
			v.Name = field
			elem[field] = v
		}
		arr.Structs[i] = elem
	}
	return nil
}
