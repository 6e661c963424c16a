package arraystore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"reflect"
	"slices"
	"strings"

	"github.com/usnistgov/datasaver/getbytes"
	"gonum.org/v1/gonum/mat"
)

// Empty is an attribute that is present but carries no value.
type Empty struct{}

// Attribute kinds as recorded in the container.
const (
	kindEmpty   = "empty"
	kindBool    = "bool"
	kindInt     = "int"
	kindUint    = "uint"
	kindFloat   = "float"
	kindString  = "string"
	kindBools   = "bool[]"
	kindInts    = "int[]"
	kindUints   = "uint[]"
	kindFloats  = "float[]"
	kindStrings = "string[]"
)

// objectPath canonicalizes an object name: "/" is the root, groups and
// arrays are "/name" or "/a/b".
func objectPath(object string) string {
	return path.Clean("/" + object)
}

func objectExists(q execer, p string) (bool, error) {
	if p == "/" {
		return true, nil
	}
	var n int
	err := q.QueryRow(`SELECT count(*) FROM groups WHERE path = ?`, p).Scan(&n)
	if err != nil || n > 0 {
		return n > 0, err
	}
	if strings.Count(p, "/") != 1 {
		return false, nil
	}
	err = q.QueryRow(`SELECT count(*) FROM arrays WHERE name = ?`, p[1:]).Scan(&n)
	return n > 0, err
}

func isArray(q execer, p string) (bool, error) {
	if strings.Count(p, "/") != 1 || p == "/" {
		return false, nil
	}
	var n int
	err := q.QueryRow(`SELECT count(*) FROM arrays WHERE name = ?`, p[1:]).Scan(&n)
	return n > 0, err
}

// CreateGroup creates the group at p and any missing parent groups. An
// existing group is not an error; a path naming an array is.
func (s *Store) CreateGroup(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	p = objectPath(p)
	if p == "/" {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		parts := strings.Split(p[1:], "/")
		for i := range parts {
			sub := "/" + strings.Join(parts[:i+1], "/")
			if arr, err := isArray(tx, sub); err != nil {
				return err
			} else if arr {
				return fmt.Errorf("%w: %q is an array", ErrExists, sub)
			}
			if _, err := tx.Exec(`INSERT OR IGNORE INTO groups(path) VALUES(?)`, sub); err != nil {
				return fmt.Errorf("create group %q: %w", sub, err)
			}
		}
		return nil
	})
}

// Groups lists all group paths, sorted.
func (s *Store) Groups() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(false); err != nil {
		return nil, err
	}
	return queryStrings(s.db, `SELECT path FROM groups`)
}

// SetAttribute sets key on object ("/", a group path or an array name).
// Accepted values are Empty, nil (stored as Empty), bools, strings, Go
// numbers, slices of those, []any whose elements are all bools, all strings
// or all numbers, and mat.Matrix (stored flattened, row-major).
func (s *Store) SetAttribute(object, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	return s.setAttribute(s.db, objectPath(object), key, value)
}

func (s *Store) setAttribute(q execer, object, key string, value any) error {
	if key == "" {
		return fmt.Errorf("%w: empty attribute key on %q", ErrInvalidSpec, object)
	}
	if ok, err := objectExists(q, object); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, object)
	}
	kind, payload, shape, err := encodeAttribute(value)
	if err != nil {
		return fmt.Errorf("attribute %q on %q: %w", key, object, err)
	}
	if len(payload) > s.opts.maxAttributeSize {
		return fmt.Errorf("%w: attribute %q on %q needs %d bytes, limit is %d",
			ErrAttributeTooLarge, key, object, len(payload), s.opts.maxAttributeSize)
	}
	var encShape any
	if shape != nil {
		encShape = encodeShape(shape)
	}
	_, err = q.Exec(`INSERT INTO attributes(object, key, kind, payload, shape) VALUES(?,?,?,?,?)
		ON CONFLICT(object, key) DO UPDATE SET kind = excluded.kind, payload = excluded.payload,
			shape = excluded.shape`,
		object, key, kind, payload, encShape)
	return err
}

// Attribute returns the decoded value of key on object. Integers come back
// as int64 or uint64, floats as float64, sequences as typed slices.
func (s *Store) Attribute(object, key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(false); err != nil {
		return nil, err
	}
	object = objectPath(object)
	var kind string
	var payload []byte
	err := s.db.QueryRow(`SELECT kind, payload FROM attributes WHERE object = ? AND key = ?`, object, key).
		Scan(&kind, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: attribute %q on %q", ErrNotFound, key, object)
	}
	if err != nil {
		return nil, err
	}
	return decodeAttribute(kind, payload)
}

// AttributeShape returns the shape of a multi-dimensional attribute, one
// stored from a mat.Matrix or a regular nested sequence. It is nil for
// scalars and flat sequences.
func (s *Store) AttributeShape(object, key string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(false); err != nil {
		return nil, err
	}
	object = objectPath(object)
	var shape sql.NullString
	err := s.db.QueryRow(`SELECT shape FROM attributes WHERE object = ? AND key = ?`, object, key).
		Scan(&shape)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: attribute %q on %q", ErrNotFound, key, object)
	}
	if err != nil || !shape.Valid {
		return nil, err
	}
	return decodeShape(shape.String)
}

// Attributes returns every attribute of object.
func (s *Store) Attributes(object string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(false); err != nil {
		return nil, err
	}
	object = objectPath(object)
	if ok, err := objectExists(s.db, object); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, object)
	}
	rows, err := s.db.Query(`SELECT key, kind, payload FROM attributes WHERE object = ?`, object)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := map[string]any{}
	for rows.Next() {
		var key, kind string
		var payload []byte
		if err := rows.Scan(&key, &kind, &payload); err != nil {
			return nil, err
		}
		v, err := decodeAttribute(kind, payload)
		if err != nil {
			return nil, fmt.Errorf("attribute %q on %q: %w", key, object, err)
		}
		out[key] = v
	}
	return out, rows.Err()
}

type category int

const (
	catOther category = iota
	catBool
	catString
	catInt
	catUint
	catFloat
)

func categorize(k reflect.Kind) category {
	switch k {
	case reflect.Bool:
		return catBool
	case reflect.String:
		return catString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return catInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return catUint
	case reflect.Float32, reflect.Float64:
		return catFloat
	}
	return catOther
}

func encodeAttribute(value any) (string, []byte, []int, error) {
	switch v := value.(type) {
	case nil, Empty:
		return kindEmpty, nil, nil, nil
	case mat.Matrix:
		r, c := v.Dims()
		data, _ := Flatten(v)
		return kindFloats, getbytes.FromSlice(data), []int{r, c}, nil
	}
	rv := reflect.ValueOf(value)
	switch categorize(rv.Kind()) {
	case catBool:
		if rv.Bool() {
			return kindBool, []byte{1}, nil, nil
		}
		return kindBool, []byte{0}, nil, nil
	case catString:
		return kindString, []byte(rv.String()), nil, nil
	case catInt:
		return kindInt, getbytes.FromInt64(rv.Int()), nil, nil
	case catUint:
		return kindUint, getbytes.FromSlice([]uint64{rv.Uint()}), nil, nil
	case catFloat:
		return kindFloat, getbytes.FromFloat64(rv.Float()), nil, nil
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return "", nil, nil, fmt.Errorf("%w: %T", ErrUnsupportedType, value)
	}
	leaves, shape, ok := flattenNested(rv)
	if !ok {
		return "", nil, nil, fmt.Errorf("%w: ragged sequence %T", ErrUnsupportedType, value)
	}
	if len(shape) < 2 {
		shape = nil
	}
	kind, payload, err := encodeList(leaves, value)
	return kind, payload, shape, err
}

// flattenNested returns the leaves of a sequence of sequences in row-major
// order with the nesting's shape. ok is false when sibling sequences differ
// in shape.
func flattenNested(v reflect.Value) (leaves []reflect.Value, shape []int, ok bool) {
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if !v.IsValid() || (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) {
		return []reflect.Value{v}, nil, true
	}
	var inner []int
	for i := 0; i < v.Len(); i++ {
		l, s, ok := flattenNested(v.Index(i))
		if !ok || (i > 0 && !slices.Equal(s, inner)) {
			return nil, nil, false
		}
		inner = s
		leaves = append(leaves, l...)
	}
	return leaves, append([]int{v.Len()}, inner...), true
}

// encodeList stores a homogeneous sequence. Mixed numeric sequences are
// promoted to float if any element is a float, otherwise to int unless every
// element is unsigned.
func encodeList(items []reflect.Value, value any) (string, []byte, error) {
	if len(items) == 0 {
		return kindFloats, nil, nil
	}
	seen := map[category]bool{}
	for _, it := range items {
		c := catOther
		if it.IsValid() {
			c = categorize(it.Kind())
		}
		if c == catOther {
			return "", nil, fmt.Errorf("%w: sequence element in %T", ErrUnsupportedType, value)
		}
		seen[c] = true
	}
	numeric := !seen[catBool] && !seen[catString]
	switch {
	case len(seen) == 1 && seen[catBool]:
		b := make([]byte, len(items))
		for i, it := range items {
			if it.Bool() {
				b[i] = 1
			}
		}
		return kindBools, b, nil
	case len(seen) == 1 && seen[catString]:
		ss := make([]string, len(items))
		for i, it := range items {
			ss[i] = it.String()
		}
		b, err := json.Marshal(ss)
		return kindStrings, b, err
	case numeric && seen[catFloat]:
		fs := make([]float64, len(items))
		for i, it := range items {
			fs[i], _ = scalarFloat(it)
		}
		return kindFloats, getbytes.FromSlice(fs), nil
	case numeric && seen[catInt]:
		is := make([]int64, len(items))
		for i, it := range items {
			if it.CanInt() {
				is[i] = it.Int()
			} else {
				is[i] = int64(it.Uint())
			}
		}
		return kindInts, getbytes.FromSlice(is), nil
	case numeric:
		us := make([]uint64, len(items))
		for i, it := range items {
			us[i] = it.Uint()
		}
		return kindUints, getbytes.FromSlice(us), nil
	}
	return "", nil, fmt.Errorf("%w: mixed sequence %T", ErrUnsupportedType, value)
}

func decodeAttribute(kind string, payload []byte) (any, error) {
	one := func(n int, err error) error {
		if err == nil && n != 1 {
			err = fmt.Errorf("%w: scalar attribute holds %d values", ErrCorrupt, n)
		}
		return err
	}
	switch kind {
	case kindEmpty:
		return Empty{}, nil
	case kindBool:
		if len(payload) != 1 {
			return nil, fmt.Errorf("%w: bool attribute of %d bytes", ErrCorrupt, len(payload))
		}
		return payload[0] != 0, nil
	case kindString:
		return string(payload), nil
	case kindInt:
		v, err := getbytes.ToSlice[int64](payload)
		if err := one(len(v), err); err != nil {
			return nil, err
		}
		return v[0], nil
	case kindUint:
		v, err := getbytes.ToSlice[uint64](payload)
		if err := one(len(v), err); err != nil {
			return nil, err
		}
		return v[0], nil
	case kindFloat:
		v, err := getbytes.ToSlice[float64](payload)
		if err := one(len(v), err); err != nil {
			return nil, err
		}
		return v[0], nil
	case kindBools:
		out := make([]bool, len(payload))
		for i, b := range payload {
			out[i] = b != 0
		}
		return out, nil
	case kindStrings:
		var out []string
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return out, nil
	case kindInts:
		return getbytes.ToSlice[int64](payload)
	case kindUints:
		return getbytes.ToSlice[uint64](payload)
	case kindFloats:
		return getbytes.ToSlice[float64](payload)
	}
	return nil, fmt.Errorf("%w: attribute kind %q", ErrCorrupt, kind)
}
