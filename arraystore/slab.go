package arraystore

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Slab selects a rectangular region of an array: Count elements along each
// axis starting at Start.
type Slab struct {
	Start []int
	Count []int
}

// Whole selects every element of an array of the given shape.
func Whole(shape []int) Slab {
	return Slab{Start: make([]int, len(shape)), Count: cloneInts(shape)}
}

func (sl Slab) end() []int {
	e := make([]int, len(sl.Start))
	for i := range e {
		e[i] = sl.Start[i] + sl.Count[i]
	}
	return e
}

func (sl Slab) check(name string, shape []int) error {
	if len(sl.Start) != len(shape) || len(sl.Count) != len(shape) {
		return fmt.Errorf("%w: slab %v+%v on array %q of rank %d", ErrShapeMismatch, sl.Start, sl.Count, name, len(shape))
	}
	for i := range shape {
		if sl.Start[i] < 0 || sl.Count[i] < 0 || sl.Start[i]+sl.Count[i] > shape[i] {
			return fmt.Errorf("%w: slab %v+%v on array %q of shape %v", ErrOutOfBounds, sl.Start, sl.Count, name, shape)
		}
	}
	return nil
}

// WriteSlab stores data into the selected region of the named array. Data
// is a scalar, a numeric or bool slice, or a mat.Matrix, laid out row-major;
// its length must equal the number of selected elements.
func (s *Store) WriteSlab(name string, slab Slab, data any) error {
	values, err := Flatten(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	return s.inTx(func(tx *sql.Tx) error {
		info, err := loadInfo(tx, name)
		if err != nil {
			return err
		}
		if err := slab.check(name, info.Shape); err != nil {
			return err
		}
		if n := volume(slab.Count); n != len(values) {
			return fmt.Errorf("%w: %d values for %d selected elements of %q", ErrShapeMismatch, len(values), n, name)
		}
		if len(values) == 0 {
			return nil
		}
		lo := make([]int, len(slab.Start))
		hi := make([]int, len(slab.Start))
		end := slab.end()
		for i := range lo {
			lo[i] = slab.Start[i] / info.Chunks[i]
			hi[i] = (end[i] + info.Chunks[i] - 1) / info.Chunks[i]
		}
		cst := strides(info.Chunks)
		sst := strides(slab.Count)
		return walk(lo, hi, func(cc []int) error {
			buf, err := loadChunk(tx, info, cc)
			if err != nil {
				return err
			}
			origin := chunkOrigin(cc, info.Chunks)
			a := make([]int, len(origin))
			b := make([]int, len(origin))
			for i := range origin {
				a[i] = max(origin[i], slab.Start[i])
				b[i] = min(origin[i]+info.Chunks[i], end[i])
			}
			_ = walk(a, b, func(idx []int) error {
				buf[offset(idx, origin, cst)] = values[offset(idx, slab.Start, sst)]
				return nil
			})
			return saveChunk(tx, info, cc, buf)
		})
	})
}

// Read returns the whole array, row-major, widened to float64, with its shape.
func (s *Store) Read(name string) ([]float64, []int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(false); err != nil {
		return nil, nil, err
	}
	info, err := loadInfo(s.db, name)
	if err != nil {
		return nil, nil, err
	}
	out := make([]float64, volume(info.Shape))
	coords, err := chunkCoords(s.db, name)
	if err != nil {
		return nil, nil, err
	}
	ost := strides(info.Shape)
	cst := strides(info.Chunks)
	for _, cc := range coords {
		origin := chunkOrigin(cc, info.Chunks)
		if outside(origin, info.Shape) {
			continue
		}
		buf, err := loadChunk(s.db, info, cc)
		if err != nil {
			return nil, nil, err
		}
		end := chunkEnd(origin, info.Chunks)
		for i := range end {
			end[i] = min(end[i], info.Shape[i])
		}
		_ = walk(origin, end, func(idx []int) error {
			out[offset(idx, nil, ost)] = buf[offset(idx, origin, cst)]
			return nil
		})
	}
	return out, cloneInts(info.Shape), nil
}

// ReadMatrix reads a non-empty 1-D or 2-D array as a matrix. A 1-D array
// becomes a column vector.
func (s *Store) ReadMatrix(name string) (*mat.Dense, error) {
	data, shape, err := s.Read(name)
	if err != nil {
		return nil, err
	}
	switch {
	case len(shape) == 1 && shape[0] > 0:
		return mat.NewDense(shape[0], 1, data), nil
	case len(shape) == 2 && shape[0] > 0 && shape[1] > 0:
		return mat.NewDense(shape[0], shape[1], data), nil
	}
	return nil, fmt.Errorf("%w: array %q of shape %v is not a non-empty matrix", ErrShapeMismatch, name, shape)
}

// Flatten converts write data to a row-major []float64.
func Flatten(data any) ([]float64, error) {
	switch v := data.(type) {
	case []float64:
		return v, nil
	case mat.Matrix:
		r, c := v.Dims()
		out := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				out = append(out, v.At(i, j))
			}
		}
		return out, nil
	}
	rv := reflect.ValueOf(data)
	if x, ok := scalarFloat(rv); ok {
		return []float64{x}, nil
	}
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]float64, rv.Len())
		for i := range out {
			x, ok := scalarFloat(rv.Index(i))
			if !ok {
				return nil, fmt.Errorf("%w: write data of type %T", ErrUnsupportedType, data)
			}
			out[i] = x
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: write data of type %T", ErrUnsupportedType, data)
}

func scalarFloat(rv reflect.Value) (float64, bool) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Bool:
		if rv.Bool() {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func volume(shape []int) int {
	n := 1
	for _, v := range shape {
		n *= v
	}
	return n
}

// strides returns row-major strides for shape.
func strides(shape []int) []int {
	st := make([]int, len(shape))
	n := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = n
		n *= shape[i]
	}
	return st
}

// offset is the flat position of idx within a box starting at origin
// (nil means the zero origin) with the given strides.
func offset(idx, origin, st []int) int {
	n := 0
	for i, v := range idx {
		if origin != nil {
			v -= origin[i]
		}
		n += v * st[i]
	}
	return n
}

// walk calls fn for every index in the box [lo, hi), last axis fastest. The
// slice passed to fn is reused between calls.
func walk(lo, hi []int, fn func(idx []int) error) error {
	for i := range lo {
		if lo[i] >= hi[i] {
			return nil
		}
	}
	idx := append([]int{}, lo...)
	for {
		if err := fn(idx); err != nil {
			return err
		}
		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < hi[i] {
				break
			}
			idx[i] = lo[i]
		}
		if i < 0 {
			return nil
		}
	}
}

func chunkOrigin(cc, chunks []int) []int {
	o := make([]int, len(cc))
	for i := range cc {
		o[i] = cc[i] * chunks[i]
	}
	return o
}

func chunkEnd(origin, chunks []int) []int {
	e := make([]int, len(origin))
	for i := range origin {
		e[i] = origin[i] + chunks[i]
	}
	return e
}

// outside reports whether idx lies beyond shape along any axis.
func outside(idx, shape []int) bool {
	for i := range idx {
		if idx[i] >= shape[i] {
			return true
		}
	}
	return false
}

// straddles reports whether the chunk at origin extends past shape.
func straddles(origin, chunks, shape []int) bool {
	for i := range origin {
		if origin[i]+chunks[i] > shape[i] {
			return true
		}
	}
	return false
}

// chunkKey joins chunk grid coordinates with "." as zarr does.
func chunkKey(cc []int) string {
	parts := make([]string, len(cc))
	for i, v := range cc {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}

func parseChunkKey(key string) ([]int, error) {
	parts := strings.Split(key, ".")
	cc := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk key %q", ErrCorrupt, key)
		}
		cc[i] = v
	}
	return cc, nil
}

func chunkCoords(q execer, name string) ([][]int, error) {
	keys, err := queryStrings(q, `SELECT coord FROM chunks WHERE array = ?`, name)
	if err != nil {
		return nil, err
	}
	coords := make([][]int, 0, len(keys))
	for _, k := range keys {
		cc, err := parseChunkKey(k)
		if err != nil {
			return nil, err
		}
		coords = append(coords, cc)
	}
	return coords, nil
}

// loadChunk returns the chunk at cc, or a zero-filled buffer if it was never
// written.
func loadChunk(q execer, info ArrayInfo, cc []int) ([]float64, error) {
	n := volume(info.Chunks)
	var payload []byte
	err := q.QueryRow(`SELECT payload FROM chunks WHERE array = ? AND coord = ?`, info.Name, chunkKey(cc)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return make([]float64, n), nil
	}
	if err != nil {
		return nil, err
	}
	return decodeChunk(info.DType, payload, n)
}

func saveChunk(q execer, info ArrayInfo, cc []int, buf []float64) error {
	payload, err := encodeChunk(info.DType, buf)
	if err != nil {
		return err
	}
	_, err = q.Exec(`INSERT INTO chunks(array, coord, payload) VALUES(?,?,?)
		ON CONFLICT(array, coord) DO UPDATE SET payload = excluded.payload`, info.Name, chunkKey(cc), payload)
	return err
}
