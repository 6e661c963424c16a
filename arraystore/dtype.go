package arraystore

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/sbinet/npyio"
	"github.com/usnistgov/datasaver/getbytes"
)

// DType is a numpy-style element type descriptor.
type DType string

// Supported element types.
const (
	Float64 DType = "<f8"
	Float32 DType = "<f4"
	Int64   DType = "<i8"
	Int32   DType = "<i4"
	Int16   DType = "<i2"
	Int8    DType = "|i1"
	Uint64  DType = "<u8"
	Uint32  DType = "<u4"
	Uint16  DType = "<u2"
	Uint8   DType = "|u1"
	Bool    DType = "|b1"
)

var dtypeNames = map[string]DType{
	"float64": Float64, "f8": Float64, "double": Float64,
	"float32": Float32, "f4": Float32, "float": Float32,
	"int64": Int64, "i8": Int64,
	"int32": Int32, "i4": Int32,
	"int16": Int16, "i2": Int16,
	"int8": Int8, "i1": Int8,
	"uint64": Uint64, "u8": Uint64,
	"uint32": Uint32, "u4": Uint32,
	"uint16": Uint16, "u2": Uint16,
	"uint8": Uint8, "u1": Uint8,
	"bool": Bool, "b1": Bool, "?": Bool,
}

// ParseDType accepts either a descriptor ("<f8", "|u1") or a numpy type name
// ("float64", "uint8"). The empty string means Float64.
func ParseDType(s string) (DType, error) {
	if s == "" {
		return Float64, nil
	}
	if dt, ok := dtypeNames[strings.ToLower(s)]; ok {
		return dt, nil
	}
	switch dt := DType(s); dt {
	case Float64, Float32, Int64, Int32, Int16, Int8, Uint64, Uint32, Uint16, Uint8, Bool:
		return dt, nil
	}
	// "=" and a bare byte order are accepted for the single-byte types too.
	if len(s) == 3 && strings.ContainsRune("<=|", rune(s[0])) {
		if dt, ok := dtypeNames[s[1:]]; ok {
			return dt, nil
		}
	}
	return "", fmt.Errorf("%w: dtype %q", ErrUnsupportedType, s)
}

func convert[T getbytes.Number](v []float64) []T {
	out := make([]T, len(v))
	for i, x := range v {
		out[i] = T(x)
	}
	return out
}

func widen[T getbytes.Number](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func readAs[T getbytes.Number](r io.Reader) ([]float64, error) {
	var v []T
	if err := npyio.Read(r, &v); err != nil {
		return nil, err
	}
	return widen(v), nil
}

// encodeChunk stores a chunk buffer as an npy blob of type dt.
func encodeChunk(dt DType, buf []float64) ([]byte, error) {
	var b bytes.Buffer
	var err error
	switch dt {
	case Float64:
		err = npyio.Write(&b, buf)
	case Float32:
		err = npyio.Write(&b, convert[float32](buf))
	case Int64:
		err = npyio.Write(&b, convert[int64](buf))
	case Int32:
		err = npyio.Write(&b, convert[int32](buf))
	case Int16:
		err = npyio.Write(&b, convert[int16](buf))
	case Int8:
		err = npyio.Write(&b, convert[int8](buf))
	case Uint64:
		err = npyio.Write(&b, convert[uint64](buf))
	case Uint32:
		err = npyio.Write(&b, convert[uint32](buf))
	case Uint16:
		err = npyio.Write(&b, convert[uint16](buf))
	case Uint8:
		err = npyio.Write(&b, convert[uint8](buf))
	case Bool:
		bools := make([]bool, len(buf))
		for i, x := range buf {
			bools[i] = x != 0
		}
		err = npyio.Write(&b, bools)
	default:
		return nil, fmt.Errorf("%w: dtype %q", ErrUnsupportedType, dt)
	}
	if err != nil {
		return nil, fmt.Errorf("encode chunk: %w", err)
	}
	return b.Bytes(), nil
}

// decodeChunk is the inverse of encodeChunk. The chunk must hold n elements.
func decodeChunk(dt DType, payload []byte, n int) ([]float64, error) {
	r := bytes.NewReader(payload)
	var out []float64
	var err error
	switch dt {
	case Float64:
		err = npyio.Read(r, &out)
	case Float32:
		out, err = readAs[float32](r)
	case Int64:
		out, err = readAs[int64](r)
	case Int32:
		out, err = readAs[int32](r)
	case Int16:
		out, err = readAs[int16](r)
	case Int8:
		out, err = readAs[int8](r)
	case Uint64:
		out, err = readAs[uint64](r)
	case Uint32:
		out, err = readAs[uint32](r)
	case Uint16:
		out, err = readAs[uint16](r)
	case Uint8:
		out, err = readAs[uint8](r)
	case Bool:
		var bools []bool
		if err = npyio.Read(r, &bools); err == nil {
			out = make([]float64, len(bools))
			for i, b := range bools {
				if b {
					out[i] = 1
				}
			}
		}
	default:
		return nil, fmt.Errorf("%w: dtype %q", ErrUnsupportedType, dt)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode chunk: %v", ErrCorrupt, err)
	}
	if len(out) != n {
		return nil, fmt.Errorf("%w: chunk holds %d elements, want %d", ErrCorrupt, len(out), n)
	}
	return out, nil
}

func readTyped[T getbytes.Number](nr *npyio.Reader) ([]float64, error) {
	var v []T
	if err := nr.Read(&v); err != nil {
		return nil, err
	}
	return widen(v), nil
}

// ReadNpy reads a whole C-ordered npy stream of any supported dtype,
// widened to float64, with its shape.
func ReadNpy(r io.Reader) ([]float64, []int, error) {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	if nr.Header.Descr.Fortran {
		return nil, nil, fmt.Errorf("%w: fortran-ordered npy data", ErrUnsupportedType)
	}
	dt, err := ParseDType(nr.Header.Descr.Type)
	if err != nil {
		return nil, nil, err
	}
	var out []float64
	switch dt {
	case Float64:
		err = nr.Read(&out)
	case Float32:
		out, err = readTyped[float32](nr)
	case Int64:
		out, err = readTyped[int64](nr)
	case Int32:
		out, err = readTyped[int32](nr)
	case Int16:
		out, err = readTyped[int16](nr)
	case Int8:
		out, err = readTyped[int8](nr)
	case Uint64:
		out, err = readTyped[uint64](nr)
	case Uint32:
		out, err = readTyped[uint32](nr)
	case Uint16:
		out, err = readTyped[uint16](nr)
	case Uint8:
		out, err = readTyped[uint8](nr)
	case Bool:
		var bools []bool
		if err = nr.Read(&bools); err == nil {
			out = make([]float64, len(bools))
			for i, b := range bools {
				if b {
					out[i] = 1
				}
			}
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read npy data: %w", err)
	}
	return out, cloneInts(nr.Header.Descr.Shape), nil
}
