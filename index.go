package datasaver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/usnistgov/datasaver/arraystore"
)

type selectorKind int

const (
	selNone selectorKind = iota
	selPos
	selSpan
	selFrom
)

// Selector picks positions along one axis of a dataset.
type Selector struct {
	kind        selectorKind
	start, stop int
}

// Pos selects the single position i. The axis is collapsed, so the written
// data has one axis fewer.
func Pos(i int) Selector { return Selector{kind: selPos, start: i} }

// Span selects positions start through stop-1.
func Span(start, stop int) Selector { return Selector{kind: selSpan, start: start, stop: stop} }

// From selects every position from start to the end of the axis.
func From(start int) Selector { return Selector{kind: selFrom, start: start} }

// All selects the whole axis.
func All() Selector { return From(0) }

func (s Selector) String() string {
	switch s.kind {
	case selPos:
		return strconv.Itoa(s.start)
	case selSpan:
		return fmt.Sprintf("%d:%d", s.start, s.stop)
	case selFrom:
		if s.start == 0 {
			return ":"
		}
		return fmt.Sprintf("%d:", s.start)
	}
	return "?"
}

// ParseSelector reads the slice notation used in run files: "3", "2:5",
// "4:" and ":".
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	lo, hi, isRange := strings.Cut(s, ":")
	if !isRange {
		i, err := strconv.Atoi(s)
		if err != nil {
			return Selector{}, fmt.Errorf("bad selector %q", s)
		}
		return Pos(i), nil
	}
	start := 0
	if lo = strings.TrimSpace(lo); lo != "" {
		var err error
		if start, err = strconv.Atoi(lo); err != nil {
			return Selector{}, fmt.Errorf("bad selector %q", s)
		}
	}
	if hi = strings.TrimSpace(hi); hi == "" {
		return From(start), nil
	}
	stop, err := strconv.Atoi(hi)
	if err != nil {
		return Selector{}, fmt.Errorf("bad selector %q", s)
	}
	return Span(start, stop), nil
}

// Index addresses the region of a dataset a write fills: either Full, the
// whole dataset, or exactly one Selector per axis.
type Index struct {
	full bool
	sel  []Selector
}

// Full writes the entire dataset at once.
var Full = Index{full: true}

// At builds a hyperslab index with one selector per axis.
func At(sel ...Selector) Index { return Index{sel: append([]Selector{}, sel...)} }

// ParseIndex reads a run-file index: "..." for Full, otherwise one
// selector per axis.
func ParseIndex(parts []string) (Index, error) {
	if len(parts) == 1 && strings.TrimSpace(parts[0]) == "..." {
		return Full, nil
	}
	sel := make([]Selector, len(parts))
	for i, p := range parts {
		var err error
		if sel[i], err = ParseSelector(p); err != nil {
			return Index{}, err
		}
	}
	return At(sel...), nil
}

// IsFull reports whether ix is the whole-dataset wildcard.
func (ix Index) IsFull() bool { return ix.full }

func (ix Index) String() string {
	if ix.full {
		return "[...]"
	}
	parts := make([]string, len(ix.sel))
	for i, s := range ix.sel {
		parts[i] = s.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// slab checks ix against a dataset's declared shape and converts it to the
// store's start/count form.
func (ix Index) slab(name string, shape []int) (arraystore.Slab, error) {
	if ix.full {
		return arraystore.Whole(shape), nil
	}
	fail := func(format string, args ...any) (arraystore.Slab, error) {
		return arraystore.Slab{}, &IndexError{Dataset: name, Index: ix, Reason: fmt.Sprintf(format, args...)}
	}
	if len(ix.sel) == 0 {
		return fail("index must be Full or hold one selector per axis")
	}
	if len(ix.sel) != len(shape) {
		return fail("index has %d selectors but dataset has %d axes", len(ix.sel), len(shape))
	}
	slab := arraystore.Slab{Start: make([]int, len(shape)), Count: make([]int, len(shape))}
	for axis, s := range ix.sel {
		n := shape[axis]
		switch s.kind {
		case selPos:
			if s.start < 0 || s.start >= n {
				return fail("position %d outside axis %d of length %d", s.start, axis, n)
			}
			slab.Start[axis], slab.Count[axis] = s.start, 1
		case selSpan:
			if s.start < 0 || s.stop < s.start || s.stop > n {
				return fail("range %v outside axis %d of length %d", s, axis, n)
			}
			slab.Start[axis], slab.Count[axis] = s.start, s.stop-s.start
		case selFrom:
			if s.start < 0 || s.start > n {
				return fail("range %v outside axis %d of length %d", s, axis, n)
			}
			slab.Start[axis], slab.Count[axis] = s.start, n-s.start
		default:
			return fail("axis %d has no selector", axis)
		}
	}
	return slab, nil
}
