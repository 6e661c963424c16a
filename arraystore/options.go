package arraystore

import "time"

// DefaultMaxAttributeSize is the largest encoded attribute value accepted by
// default. It matches the HDF5 limit for compact attribute storage.
const DefaultMaxAttributeSize = 64 * 1024

// DefaultChunkBudget is the target number of elements per automatic chunk.
const DefaultChunkBudget = 64 * 1024

type options struct {
	maxAttributeSize int
	chunkBudget      int
	busyTimeout      time.Duration
}

func defaultOptions() options {
	return options{
		maxAttributeSize: DefaultMaxAttributeSize,
		chunkBudget:      DefaultChunkBudget,
		busyTimeout:      5 * time.Second,
	}
}

// Option configures a Store.
type Option func(*options)

// WithMaxAttributeSize sets the largest encoded attribute value, in bytes.
func WithMaxAttributeSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttributeSize = n
		}
	}
}

// WithChunkBudget sets the target number of elements per automatic chunk.
func WithChunkBudget(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkBudget = n
		}
	}
}

// WithBusyTimeout sets how long a reader or writer waits on a locked file.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}
