package arraystore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ArraySpec holds the arguments to CreateArray.
type ArraySpec struct {
	Shape []int
	// MaxShape is nil for a fixed-size array. A resizable array may later
	// be resized anywhere within MaxShape.
	MaxShape []int
	// Chunks is the per-axis chunk size. Nil means automatic chunking for a
	// resizable array and a single chunk for a fixed-size one.
	Chunks []int
	DType  DType
}

// ArrayInfo describes an array in the store.
type ArrayInfo struct {
	Name     string
	Shape    []int
	MaxShape []int
	Chunks   []int
	DType    DType
}

// Resizable reports whether the array was created with a maximum shape.
func (a ArrayInfo) Resizable() bool { return a.MaxShape != nil }

// Rank is the number of axes.
func (a ArrayInfo) Rank() int { return len(a.Shape) }

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}

// CreateArray adds a new zero-filled array to the store.
func (s *Store) CreateArray(name string, spec ArraySpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	info, err := s.newArrayInfo(name, spec)
	if err != nil {
		return err
	}
	if exists, err := objectExists(s.db, "/"+name); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: %q", ErrExists, name)
	}
	var maxshape any
	if info.MaxShape != nil {
		maxshape = encodeShape(info.MaxShape)
	}
	_, err = s.db.Exec(`INSERT INTO arrays(name, dtype, shape, maxshape, chunks) VALUES(?,?,?,?,?)`,
		name, string(info.DType), encodeShape(info.Shape), maxshape, encodeShape(info.Chunks))
	if err != nil {
		return fmt.Errorf("create array %q: %w", name, err)
	}
	return nil
}

func (s *Store) newArrayInfo(name string, spec ArraySpec) (ArrayInfo, error) {
	if !validName(name) {
		return ArrayInfo{}, fmt.Errorf("%w: bad array name %q", ErrInvalidSpec, name)
	}
	rank := len(spec.Shape)
	if rank == 0 {
		return ArrayInfo{}, fmt.Errorf("%w: array %q has no axes", ErrInvalidSpec, name)
	}
	for _, n := range spec.Shape {
		if n < 0 {
			return ArrayInfo{}, fmt.Errorf("%w: array %q shape %v", ErrInvalidSpec, name, spec.Shape)
		}
	}
	dt, err := ParseDType(string(spec.DType))
	if err != nil {
		return ArrayInfo{}, err
	}
	info := ArrayInfo{Name: name, Shape: cloneInts(spec.Shape), DType: dt}
	if spec.MaxShape != nil {
		if len(spec.MaxShape) != rank {
			return ArrayInfo{}, fmt.Errorf("%w: array %q max shape %v has rank %d, want %d",
				ErrInvalidSpec, name, spec.MaxShape, len(spec.MaxShape), rank)
		}
		for i, n := range spec.MaxShape {
			if n < spec.Shape[i] {
				return ArrayInfo{}, fmt.Errorf("%w: array %q max shape %v smaller than shape %v",
					ErrInvalidSpec, name, spec.MaxShape, spec.Shape)
			}
		}
		info.MaxShape = cloneInts(spec.MaxShape)
	}
	switch {
	case spec.Chunks != nil:
		if len(spec.Chunks) != rank {
			return ArrayInfo{}, fmt.Errorf("%w: array %q chunks %v have rank %d, want %d",
				ErrInvalidSpec, name, spec.Chunks, len(spec.Chunks), rank)
		}
		for _, n := range spec.Chunks {
			if n < 1 {
				return ArrayInfo{}, fmt.Errorf("%w: array %q chunks %v", ErrInvalidSpec, name, spec.Chunks)
			}
		}
		info.Chunks = cloneInts(spec.Chunks)
	case info.MaxShape != nil:
		info.Chunks = autoChunks(info.MaxShape, s.opts.chunkBudget)
	default:
		info.Chunks = autoChunks(info.Shape, 0)
	}
	return info, nil
}

// autoChunks picks a chunk shape no larger than shape holding at most budget
// elements, cutting the leading axes first so rows stay contiguous. A budget
// of 0 means one chunk for the whole array.
func autoChunks(shape []int, budget int) []int {
	chunks := make([]int, len(shape))
	for i, n := range shape {
		chunks[i] = max(n, 1)
	}
	if budget <= 0 {
		return chunks
	}
	for i := range chunks {
		v := volume(chunks)
		if v <= budget {
			break
		}
		rest := v / chunks[i]
		chunks[i] = max(budget/rest, 1)
	}
	return chunks
}

// Info describes the named array.
func (s *Store) Info(name string) (ArrayInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(false); err != nil {
		return ArrayInfo{}, err
	}
	return loadInfo(s.db, name)
}

func loadInfo(q execer, name string) (ArrayInfo, error) {
	var dtype, shape, chunks string
	var maxshape sql.NullString
	err := q.QueryRow(`SELECT dtype, shape, maxshape, chunks FROM arrays WHERE name = ?`, name).
		Scan(&dtype, &shape, &maxshape, &chunks)
	if errors.Is(err, sql.ErrNoRows) {
		return ArrayInfo{}, fmt.Errorf("%w: array %q", ErrNotFound, name)
	}
	if err != nil {
		return ArrayInfo{}, fmt.Errorf("load array %q: %w", name, err)
	}
	info := ArrayInfo{Name: name, DType: DType(dtype)}
	if info.Shape, err = decodeShape(shape); err != nil {
		return ArrayInfo{}, err
	}
	if info.Chunks, err = decodeShape(chunks); err != nil {
		return ArrayInfo{}, err
	}
	if maxshape.Valid {
		if info.MaxShape, err = decodeShape(maxshape.String); err != nil {
			return ArrayInfo{}, err
		}
	}
	return info, nil
}

// Arrays lists the names of all arrays, sorted.
func (s *Store) Arrays() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(false); err != nil {
		return nil, err
	}
	return queryStrings(s.db, `SELECT name FROM arrays ORDER BY name`)
}

// ResizeArray changes the current shape of a resizable array. Chunks left
// wholly outside the new shape are dropped and cells of edge chunks that fall
// outside it are reset to zero, so growing the array again exposes zeros.
func (s *Store) ResizeArray(name string, shape []int) error {
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
		if !info.Resizable() {
			return fmt.Errorf("%w: %q", ErrNotResizable, name)
		}
		if len(shape) != info.Rank() {
			return fmt.Errorf("%w: resize %q to %v, array has rank %d", ErrShapeMismatch, name, shape, info.Rank())
		}
		for i, n := range shape {
			if n < 0 || n > info.MaxShape[i] {
				return fmt.Errorf("%w: resize %q to %v, max shape %v", ErrOutOfBounds, name, shape, info.MaxShape)
			}
		}
		coords, err := chunkCoords(tx, name)
		if err != nil {
			return err
		}
		for _, cc := range coords {
			origin := chunkOrigin(cc, info.Chunks)
			if outside(origin, shape) {
				if _, err := tx.Exec(`DELETE FROM chunks WHERE array = ? AND coord = ?`, name, chunkKey(cc)); err != nil {
					return err
				}
				continue
			}
			if !straddles(origin, info.Chunks, shape) {
				continue
			}
			buf, err := loadChunk(tx, info, cc)
			if err != nil {
				return err
			}
			cst := strides(info.Chunks)
			_ = walk(origin, chunkEnd(origin, info.Chunks), func(idx []int) error {
				if outside(idx, shape) {
					buf[offset(idx, origin, cst)] = 0
				}
				return nil
			})
			if err := saveChunk(tx, info, cc, buf); err != nil {
				return err
			}
		}
		_, err = tx.Exec(`UPDATE arrays SET shape = ? WHERE name = ?`, encodeShape(shape), name)
		return err
	})
}

// DeleteArray removes an array with its chunks, attributes and dimension
// labels. Axes of other arrays bound to it as a scale become unbound.
func (s *Store) DeleteArray(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	return s.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM arrays WHERE name = ?`, name)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: array %q", ErrNotFound, name)
		}
		stmts := []string{
			`DELETE FROM chunks WHERE array = ?`,
			`DELETE FROM dims WHERE array = ?`,
			`UPDATE dims SET scale = NULL WHERE scale = ?`,
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt, name); err != nil {
				return err
			}
		}
		_, err = tx.Exec(`DELETE FROM attributes WHERE object = ?`, "/"+name)
		return err
	})
}

func encodeShape(shape []int) string {
	b, _ := json.Marshal(shape)
	return string(b)
}

func decodeShape(s string) ([]int, error) {
	var shape []int
	if err := json.Unmarshal([]byte(s), &shape); err != nil {
		return nil, fmt.Errorf("%w: shape %q: %v", ErrCorrupt, s, err)
	}
	return shape, nil
}

func cloneInts(v []int) []int {
	if v == nil {
		return nil
	}
	return append([]int{}, v...)
}

func queryStrings(q execer, query string, args ...any) ([]string, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
