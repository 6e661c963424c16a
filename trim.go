package datasaver

import (
	"errors"
	"fmt"
	"slices"
)

// trim shrinks each resizable dataset to its high-water mark. A dataset
// never written is deleted; one written to its full shape is left alone.
func trim(store ArrayStore, extents *extentTracker, m *saverMetrics) error {
	var errs []error
	for _, name := range extents.names() {
		ext, _ := extents.extent(name)
		shape := extents.shape(name)
		switch {
		case !slices.ContainsFunc(ext, func(n int) bool { return n > 0 }):
			if err := store.DeleteArray(name); err != nil {
				m.trims.WithLabelValues(trimFailed).Inc()
				errs = append(errs, fmt.Errorf("delete unwritten dataset %q: %w", name, err))
				continue
			}
			m.trims.WithLabelValues(trimDeleted).Inc()
			UpdateLogger.Printf("Deleted dataset %q, nothing was written into it.", name)
		case !slices.Equal(ext, shape):
			if err := store.ResizeArray(name, ext); err != nil {
				m.trims.WithLabelValues(trimFailed).Inc()
				errs = append(errs, fmt.Errorf("resize dataset %q to %v: %w", name, ext, err))
				continue
			}
			m.trims.WithLabelValues(trimResized).Inc()
			UpdateLogger.Printf("Resized dataset %q from %v to %v.", name, shape, ext)
		default:
			m.trims.WithLabelValues(trimKept).Inc()
		}
	}
	return errors.Join(errs...)
}
