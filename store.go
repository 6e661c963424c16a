package datasaver

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/usnistgov/datasaver/arraystore"
)

// ArrayStore is the container a Saver writes into. *arraystore.Store is the
// implementation used unless WithStore says otherwise.
type ArrayStore interface {
	CreateArray(name string, spec arraystore.ArraySpec) error
	WriteSlab(name string, slab arraystore.Slab, data any) error
	ResizeArray(name string, shape []int) error
	DeleteArray(name string) error
	LabelAxis(name string, axis int, label string) error
	BindScale(name string, axis int, coordinate string) error
	CreateGroup(path string) error
	SetAttribute(object, key string, value any) error
	Flush() error
	Close() error
}

// StoreFuncs tells a Saver how to create, reopen and remove its container.
type StoreFuncs struct {
	// Create must fail with an error wrapping arraystore.ErrExists if
	// something already exists at path.
	Create func(path string) (ArrayStore, error)
	Open   func(path string) (ArrayStore, error)
	Remove func(path string) error
}

type options struct {
	store     *StoreFuncs
	storeOpts []arraystore.Option
	registry  prometheus.Registerer
}

// Option configures a Saver.
type Option func(*options)

// WithStoreOptions passes options to the default arraystore container.
func WithStoreOptions(opts ...arraystore.Option) Option {
	return func(o *options) {
		o.storeOpts = append(o.storeOpts, opts...)
	}
}

// WithStore replaces the default arraystore container.
func WithStore(funcs StoreFuncs) Option {
	return func(o *options) {
		o.store = &funcs
	}
}

// WithRegistry registers the saver's metrics on reg. Without it the metrics
// are kept but not exported.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = reg
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		storeOpts := o.storeOpts
		o.store = &StoreFuncs{
			Create: func(path string) (ArrayStore, error) {
				return arraystore.Create(path, storeOpts...)
			},
			Open: func(path string) (ArrayStore, error) {
				return arraystore.Open(path, arraystore.ReadWrite, storeOpts...)
			},
			Remove: arraystore.Remove,
		}
	}
	return o
}
