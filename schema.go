package datasaver

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/usnistgov/datasaver/arraystore"
)

type chunkMode int

const (
	chunkAuto chunkMode = iota
	chunkFixed
	chunkExplicit
)

// Chunking selects how a dataset is laid out. The zero value is AutoChunks.
type Chunking struct {
	mode  chunkMode
	sizes []int
}

var (
	// AutoChunks makes a resizable dataset with chunk sizes chosen by the store.
	AutoChunks = Chunking{mode: chunkAuto}
	// FixedSize makes a dataset that is never resized. It is expected to be
	// written once, in full, and is never trimmed.
	FixedSize = Chunking{mode: chunkFixed}
)

// ChunkSizes makes a resizable dataset with an explicit chunk size per axis.
func ChunkSizes(sizes ...int) Chunking {
	return Chunking{mode: chunkExplicit, sizes: append([]int{}, sizes...)}
}

// Resizable reports whether datasets with this chunking are trimmed at the
// end of a session.
func (c Chunking) Resizable() bool { return c.mode != chunkFixed }

// Sizes returns the explicit chunk sizes, or nil.
func (c Chunking) Sizes() []int {
	if c.mode != chunkExplicit {
		return nil
	}
	return append([]int{}, c.sizes...)
}

func (c Chunking) String() string {
	switch c.mode {
	case chunkFixed:
		return "fixed"
	case chunkExplicit:
		return fmt.Sprint(c.sizes)
	}
	return "auto"
}

// ParseChunking reads the chunks entry of a configuration file: true or
// "auto" for automatic chunking, false or "fixed" for a fixed-size dataset,
// or a list of per-axis chunk sizes.
func ParseChunking(v any) (Chunking, error) {
	switch c := v.(type) {
	case nil:
		return AutoChunks, nil
	case bool:
		if c {
			return AutoChunks, nil
		}
		return FixedSize, nil
	case string:
		switch strings.ToLower(c) {
		case "auto", "true":
			return AutoChunks, nil
		case "fixed", "false":
			return FixedSize, nil
		}
	case []int:
		return ChunkSizes(c...), nil
	case []any:
		sizes := make([]int, len(c))
		for i, s := range c {
			n, ok := toInt(s)
			if !ok {
				return Chunking{}, fmt.Errorf("chunk size %v is not an integer", s)
			}
			sizes[i] = n
		}
		return ChunkSizes(sizes...), nil
	}
	return Chunking{}, fmt.Errorf("cannot use %v (%T) as chunking", v, v)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}

// DatasetSpec declares one dataset.
type DatasetSpec struct {
	// Shape is the largest extent the dataset may reach along each axis.
	Shape  []int
	Chunks Chunking
	// DType is a numpy-style type ("float64", "<i4"); empty means float64.
	DType string
	// Dims optionally labels each axis. A label naming another dataset of
	// the schema binds that dataset to the axis as its scale.
	Dims  []string
	Units string
}

// Schema maps dataset names to their specifications.
type Schema map[string]DatasetSpec

// resolvedSchema is a validated Schema with its coordinates identified.
type resolvedSchema struct {
	specs       map[string]DatasetSpec
	dtypes      map[string]arraystore.DType
	coordinates map[string]bool
	// order lists coordinates first, so they exist before anything binds them.
	order []string
}

// findCoordinates returns the schema keys used as a dimension label by any
// dataset.
func findCoordinates(schema Schema) map[string]bool {
	coordinates := map[string]bool{}
	for _, spec := range schema {
		for _, label := range spec.Dims {
			if _, ok := schema[label]; ok {
				coordinates[label] = true
			}
		}
	}
	return coordinates
}

func resolveSchema(schema Schema) (*resolvedSchema, error) {
	if len(schema) == 0 {
		return nil, &SchemaError{Reason: "no datasets declared"}
	}
	r := &resolvedSchema{
		specs:       make(map[string]DatasetSpec, len(schema)),
		dtypes:      make(map[string]arraystore.DType, len(schema)),
		coordinates: findCoordinates(schema),
	}
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)
	var others []string
	for _, name := range names {
		spec := schema[name]
		if r.coordinates[name] {
			r.order = append(r.order, name)
			// A coordinate is itself a scale; it cannot be scaled by anything.
			spec.Dims = nil
		} else {
			others = append(others, name)
		}
		if err := validateSpec(name, spec); err != nil {
			return nil, err
		}
		dt, err := arraystore.ParseDType(spec.DType)
		if err != nil {
			return nil, &SchemaError{Dataset: name, Reason: "bad dtype", Err: err}
		}
		spec.Shape = append([]int{}, spec.Shape...)
		spec.Dims = append([]string(nil), spec.Dims...)
		r.specs[name] = spec
		r.dtypes[name] = dt
	}
	r.order = append(r.order, others...)
	return r, nil
}

func validateSpec(name string, spec DatasetSpec) error {
	if name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
		return &SchemaError{Dataset: name, Reason: "dataset names must be non-empty and contain no '/'"}
	}
	rank := len(spec.Shape)
	if rank == 0 {
		return &SchemaError{Dataset: name, Reason: "shape must have at least one axis"}
	}
	for _, n := range spec.Shape {
		if n < 1 {
			return &SchemaError{Dataset: name, Reason: fmt.Sprintf("shape %v must be positive along every axis", spec.Shape)}
		}
	}
	if sizes := spec.Chunks.Sizes(); sizes != nil {
		if len(sizes) != rank {
			return &SchemaError{Dataset: name, Reason: fmt.Sprintf("chunks %v must have one entry per axis of shape %v", sizes, spec.Shape)}
		}
		for i, n := range sizes {
			if n < 1 || n > spec.Shape[i] {
				return &SchemaError{Dataset: name, Reason: fmt.Sprintf("chunks %v must be positive and fit within shape %v", sizes, spec.Shape)}
			}
		}
	}
	if spec.Dims != nil && len(spec.Dims) != rank {
		return &SchemaError{Dataset: name, Reason: fmt.Sprintf("dims %v must have one label per axis of shape %v", spec.Dims, spec.Shape)}
	}
	return nil
}

// Coordinates lists the coordinate datasets, sorted.
func (r *resolvedSchema) Coordinates() []string {
	out := make([]string, 0, len(r.coordinates))
	for name := range r.coordinates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *resolvedSchema) arraySpec(name string) arraystore.ArraySpec {
	spec := r.specs[name]
	as := arraystore.ArraySpec{Shape: append([]int{}, spec.Shape...), DType: r.dtypes[name]}
	if spec.Chunks.Resizable() {
		// The declared shape is the maximum; trimming shrinks it later.
		as.MaxShape = append([]int{}, spec.Shape...)
		as.Chunks = spec.Chunks.Sizes()
	}
	return as
}

// create makes every array in the store, then labels axes and binds scales.
func (r *resolvedSchema) create(store ArrayStore) error {
	for _, name := range r.order {
		spec := r.specs[name]
		if err := store.CreateArray(name, r.arraySpec(name)); err != nil {
			return &SchemaError{Dataset: name, Reason: "cannot create dataset", Err: err}
		}
		if spec.Units != "" {
			if err := store.SetAttribute(name, "units", spec.Units); err != nil {
				return &SchemaError{Dataset: name, Reason: "cannot set units", Err: err}
			}
		}
		UpdateLogger.Printf("Created dataset %q with shape %v, chunks %v, dtype %s, units %q.",
			name, spec.Shape, spec.Chunks, r.dtypes[name], spec.Units)
	}
	for _, name := range r.order {
		for axis, label := range r.specs[name].Dims {
			if err := store.LabelAxis(name, axis, label); err != nil {
				return &SchemaError{Dataset: name, Reason: fmt.Sprintf("cannot label axis %d", axis), Err: err}
			}
			if r.coordinates[label] {
				if err := store.BindScale(name, axis, label); err != nil {
					return &SchemaError{Dataset: name, Reason: fmt.Sprintf("cannot bind axis %d to %q", axis, label), Err: err}
				}
			}
		}
	}
	return nil
}
