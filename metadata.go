package datasaver

import (
	"errors"
	"fmt"
	"path"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/davecgh/go-spew/spew"
	"gonum.org/v1/gonum/mat"

	"github.com/usnistgov/datasaver/arraystore"
)

// Kind is the closed set of shapes a metadata value can take.
type Kind int

// Metadata kinds.
const (
	KindEmpty Kind = iota
	KindNumber
	KindText
	KindBool
	KindArray
	KindSequence
	KindMapping
)

var kindNames = [...]string{"empty", "number", "text", "bool", "array", "sequence", "mapping"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Value is one node of a metadata tree. Leaves carry the caller's value;
// sequences and mappings carry classified children.
type Value struct {
	kind   Kind
	leaf   any
	items  []Value
	fields map[string]Value
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// Len returns the number of children of a sequence or mapping.
func (v Value) Len() int { return len(v.items) + len(v.fields) }

// raw rebuilds a plain Go value, the form handed to the store.
func (v Value) raw() any {
	switch v.kind {
	case KindEmpty:
		return arraystore.Empty{}
	case KindSequence:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.raw()
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(v.fields))
		for k, f := range v.fields {
			out[k] = f.raw()
		}
		return out
	}
	return v.leaf
}

// Classify converts a Go value into a metadata Value. Maps become mappings
// (keys formatted with fmt), slices of two or more numbers become arrays,
// other slices become sequences, and sets (maps to struct{}) become sorted
// sequences. A matrix is always an array.
func Classify(x any) (Value, error) {
	return classify("", x)
}

func classify(key string, x any) (Value, error) {
	switch v := x.(type) {
	case nil, arraystore.Empty:
		return Value{kind: KindEmpty}, nil
	case Value:
		return v, nil
	case mat.Matrix:
		return Value{kind: KindArray, leaf: v}, nil
	case time.Time:
		return Value{kind: KindText, leaf: v.Format(time.RFC3339Nano)}, nil
	case time.Duration:
		return Value{kind: KindText, leaf: v.String()}, nil
	}
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Bool:
		return Value{kind: KindBool, leaf: x}, nil
	case reflect.String:
		return Value{kind: KindText, leaf: rv.String()}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return Value{kind: KindNumber, leaf: x}, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Value{kind: KindEmpty}, nil
		}
		return classify(key, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		// Shorter numeric slices follow the sequence rules, so []int{5}
		// is stored as 5.
		if numeric(rv.Type().Elem().Kind()) && rv.Len() > 1 {
			return Value{kind: KindArray, leaf: x}, nil
		}
		items := make([]Value, rv.Len())
		for i := range items {
			item, err := classify(joinKey(key, strconv.Itoa(i)), rv.Index(i).Interface())
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return Value{kind: KindSequence, items: items}, nil
	case reflect.Map:
		if rv.Type().Elem().Size() == 0 {
			return classifySet(key, rv)
		}
		fields := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			f, err := classify(joinKey(key, k), iter.Value().Interface())
			if err != nil {
				return Value{}, err
			}
			fields[k] = f
		}
		return Value{kind: KindMapping, fields: fields}, nil
	}
	return Value{}, &TypeUnsupportedError{Key: key, Value: x}
}

// classifySet orders a set's members by their formatted form.
func classifySet(key string, rv reflect.Value) (Value, error) {
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	items := make([]Value, len(keys))
	for i, k := range keys {
		item, err := classify(joinKey(key, strconv.Itoa(i)), k.Interface())
		if err != nil {
			return Value{}, err
		}
		items[i] = item
	}
	return Value{kind: KindSequence, items: items}, nil
}

func numeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Bool:
		return true
	}
	return false
}

func joinKey(parent, key string) string {
	if parent == "" {
		return key
	}
	return path.Join(parent, key)
}

// groupPath turns a caller's group name into a store object path.
func groupPath(group string) string {
	return path.Clean("/" + group)
}

// metadataCoder writes metadata trees as attributes and groups.
type metadataCoder struct {
	store   ArrayStore
	metrics *saverMetrics
}

// writeTree writes the keys of tree in sorted order. The first failure stops
// the walk; keys already written stay written.
func (c metadataCoder) writeTree(group string, tree map[string]any) error {
	object := groupPath(group)
	if object != "/" {
		if err := c.store.CreateGroup(object); err != nil {
			return fmt.Errorf("create metadata group %q: %w", object, err)
		}
	}
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := classify(joinKey(object, k), tree[k])
		if err != nil {
			var tu *TypeUnsupportedError
			if errors.As(err, &tu) {
				ProblemLogger.Printf("Metadata %q cannot be stored:\n%s", tu.Key, spew.Sdump(tu.Value))
			}
			return err
		}
		if err := c.write(object, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (c metadataCoder) writeFields(object string, fields map[string]Value) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.write(object, k, fields[k]); err != nil {
			return err
		}
	}
	return nil
}

func (c metadataCoder) write(object, key string, v Value) error {
	switch v.kind {
	case KindMapping:
		child := path.Join(object, key)
		if err := c.store.CreateGroup(child); err != nil {
			return fmt.Errorf("create metadata group %q: %w", child, err)
		}
		return c.writeFields(child, v.fields)
	case KindSequence:
		return c.writeSequence(object, key, v.items)
	case KindEmpty, KindNumber, KindText, KindBool, KindArray:
		return c.set(object, key, v.raw())
	}
	return fmt.Errorf("metadata %q has unknown kind %v", path.Join(object, key), v.kind)
}

// writeSequence stores an empty sequence as an empty list and a
// one-element sequence as its element. A homogeneous sequence is stored
// whole; anything else becomes a group keyed by position.
func (c metadataCoder) writeSequence(object, key string, items []Value) error {
	switch {
	case len(items) == 0:
		return c.set(object, key, []any{})
	case len(items) == 1:
		return c.write(object, key, items[0])
	case homogeneous(items):
		leaves := make([]any, len(items))
		for i, item := range items {
			leaves[i] = item.raw()
		}
		return c.set(object, key, leaves)
	}
	fields := make(map[string]Value, len(items))
	for i, item := range items {
		fields[strconv.Itoa(i)] = item
	}
	return c.write(object, key, Value{kind: KindMapping, fields: fields})
}

// homogeneous reports whether items are all numbers, or all share one kind
// and leaf type.
func homogeneous(items []Value) bool {
	first := items[0]
	for _, item := range items[1:] {
		if item.kind != first.kind {
			return false
		}
		if first.kind != KindNumber && reflect.TypeOf(item.leaf) != reflect.TypeOf(first.leaf) {
			return false
		}
	}
	return true
}

// set stores one attribute, translating store refusals into the errors
// callers act on.
func (c metadataCoder) set(object, key string, value any) error {
	err := c.translate(object, key, value, c.store.SetAttribute(object, key, value))
	c.metrics.recordMetadata(err)
	return err
}

func (c metadataCoder) translate(object, key string, value any, err error) error {
	if err == nil {
		return nil
	}
	name := path.Join(object, key)
	switch {
	case errors.Is(err, arraystore.ErrAttributeTooLarge):
		ProblemLogger.Printf("Metadata %q is too large for an attribute: %v", name, err)
		return &ValueTooLargeError{Key: name, Err: err}
	case errors.Is(err, arraystore.ErrUnsupportedType):
		ProblemLogger.Printf("Metadata %q cannot be stored:\n%s", name, spew.Sdump(value))
		return &TypeUnsupportedError{Key: name, Value: value, Err: err}
	}
	return fmt.Errorf("set metadata %q: %w", name, err)
}
