// Package npyappend streams rows of numbers into a .npy file whose row
// count is not known until the end. The header is rewritten on Close.
package npyappend

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/usnistgov/datasaver/getbytes"
)

// headerLen is the fixed size of the npy header we write, magic included.
// It leaves room for any shape we are likely to see.
const headerLen = 128

const magic = "\x93NUMPY\x01\x00"

// Appender writes rows of T to a .npy file.
type Appender[T getbytes.Number] struct {
	filename string
	file     *os.File
	w        *bufio.Writer
	descr    string
	rowShape []int
	rowLen   int
	rows     int
}

// New creates filename and writes a header for zero rows of rowShape. An
// empty descr is derived from T; pass "|b1" with T=uint8 for booleans.
func New[T getbytes.Number](filename, descr string, rowShape []int) (*Appender[T], error) {
	if descr == "" {
		descr = DescrOf[T]()
	}
	rowLen := 1
	for _, n := range rowShape {
		rowLen *= n
	}
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	a := &Appender[T]{
		filename: filename,
		file:     file,
		descr:    descr,
		rowShape: append([]int{}, rowShape...),
		rowLen:   rowLen,
	}
	if err := a.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}
	a.w = bufio.NewWriter(file)
	return a, nil
}

// Append writes one row, which must hold the product of rowShape values.
func (a *Appender[T]) Append(row []T) error {
	if len(row) != a.rowLen {
		return fmt.Errorf("%s: row of %d values, want %d", a.filename, len(row), a.rowLen)
	}
	if _, err := a.w.Write(getbytes.FromSlice(row)); err != nil {
		return err
	}
	a.rows++
	return nil
}

// Rows returns the number of rows appended so far.
func (a *Appender[T]) Rows() int { return a.rows }

// Shape returns the shape the file will have once closed.
func (a *Appender[T]) Shape() []int {
	return append([]int{a.rows}, a.rowShape...)
}

// Close flushes buffered rows, records the final row count in the header
// and closes the file.
func (a *Appender[T]) Close() error {
	if err := a.w.Flush(); err != nil {
		a.file.Close()
		return err
	}
	if err := a.writeHeader(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}

func (a *Appender[T]) header() ([]byte, error) {
	shape := a.Shape()
	dims := make([]string, len(shape))
	for i, n := range shape {
		dims[i] = strconv.Itoa(n)
	}
	tuple := strings.Join(dims, ", ")
	if len(shape) == 1 {
		tuple += ","
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", a.descr, tuple)
	n := headerLen - len(magic) - 2
	if len(dict)+1 > n {
		return nil, fmt.Errorf("%s: npy header for shape %v does not fit", a.filename, shape)
	}
	b := make([]byte, 0, headerLen)
	b = append(b, magic...)
	b = binary.LittleEndian.AppendUint16(b, uint16(n))
	b = append(b, dict...)
	b = append(b, strings.Repeat(" ", n-len(dict)-1)...)
	return append(b, '\n'), nil
}

func (a *Appender[T]) writeHeader() error {
	h, err := a.header()
	if err != nil {
		return err
	}
	_, err = a.file.WriteAt(h, 0)
	return err
}

// DescrOf returns the little-endian npy type descriptor of T.
func DescrOf[T getbytes.Number]() string {
	var zero T
	switch any(zero).(type) {
	case int8:
		return "|i1"
	case int16:
		return "<i2"
	case int32:
		return "<i4"
	case int64:
		return "<i8"
	case uint8:
		return "|u1"
	case uint16:
		return "<u2"
	case uint32:
		return "<u4"
	case uint64:
		return "<u8"
	case float32:
		return "<f4"
	}
	return "<f8"
}
