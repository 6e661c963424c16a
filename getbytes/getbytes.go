// Package getbytes converts numeric slices to and from their in-memory byte
// representation. These functions use unsafe.Slice, so the byte order is the
// host's (little-endian on every platform we run on).
package getbytes

import (
	"fmt"
	"unsafe"
)

// Number is the set of fixed-size numeric element types.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// FromSlice converts a []T to []byte using unsafe. The result aliases d.
func FromSlice[T Number](d []T) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	outlength := uintptr(len(d)) * unsafe.Sizeof(d[0])
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), outlength)
}

// ToSlice copies b into a new []T. The length of b must be a multiple of the
// size of T.
func ToSlice[T Number](b []byte) ([]T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(b)%size != 0 {
		return nil, fmt.Errorf("getbytes: %d bytes is not a multiple of element size %d", len(b), size)
	}
	out := make([]T, len(b)/size)
	copy(FromSlice(out), b)
	return out, nil
}

// FromFloat64 converts a float64 to []byte.
func FromFloat64(x float64) []byte {
	return append([]byte(nil), FromSlice([]float64{x})...)
}

// FromInt64 converts an int64 to []byte.
func FromInt64(x int64) []byte {
	return append([]byte(nil), FromSlice([]int64{x})...)
}
