package datasaver

import (
	"sort"
)

// extentTracker records, per resizable dataset, the high-water mark written
// along each axis during one session. Marks only grow: a write below the
// mark leaves it unchanged.
type extentTracker struct {
	shapes  map[string][]int
	extents map[string][]int
}

func newExtentTracker(r *resolvedSchema) *extentTracker {
	t := &extentTracker{shapes: map[string][]int{}, extents: map[string][]int{}}
	for name, spec := range r.specs {
		if spec.Chunks.Resizable() {
			t.shapes[name] = append([]int{}, spec.Shape...)
			t.extents[name] = make([]int, len(spec.Shape))
		}
	}
	return t
}

func (t *extentTracker) tracks(name string) bool {
	_, ok := t.extents[name]
	return ok
}

// update raises the marks of name for a write at ix. Marks are exclusive
// bounds, so a write at position i marks the axis as filled up to i+1.
func (t *extentTracker) update(name string, ix Index) error {
	shape, ok := t.shapes[name]
	if !ok {
		return nil
	}
	if _, err := ix.slab(name, shape); err != nil {
		return err
	}
	ext := t.extents[name]
	if ix.full {
		copy(ext, shape)
		return nil
	}
	for axis, s := range ix.sel {
		switch s.kind {
		case selFrom:
			ext[axis] = shape[axis]
		case selSpan:
			ext[axis] = max(ext[axis], s.stop)
		case selPos:
			ext[axis] = max(ext[axis], s.start+1)
		}
	}
	return nil
}

func (t *extentTracker) extent(name string) ([]int, bool) {
	ext, ok := t.extents[name]
	if !ok {
		return nil, false
	}
	return append([]int{}, ext...), true
}

func (t *extentTracker) shape(name string) []int {
	return append([]int{}, t.shapes[name]...)
}

func (t *extentTracker) names() []string {
	out := make([]string, 0, len(t.extents))
	for name := range t.extents {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
