package datasaver

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/usnistgov/datasaver/arraystore"
)

// Root attributes written on every data file.
const (
	VersionAttr  = "datasaver_version"
	CreationAttr = "creation_time"
	SessionAttr  = "session_id"
)

// Saver owns one data file. New lays out every dataset the schema declares;
// Start opens the file's single write session.
type Saver struct {
	path    string
	schema  *resolvedSchema
	opts    options
	state   WritingState
	metrics *saverMetrics
}

// New validates schema, then creates the data file at path with every
// declared dataset. It fails with a *SchemaError for a bad schema, leaving
// no file behind, and with a *SessionError if path already exists.
func New(path string, schema Schema, opts ...Option) (*Saver, error) {
	o := buildOptions(opts)
	resolved, err := resolveSchema(schema)
	if err != nil {
		ProblemLogger.Printf("Refusing to create %s: %v", path, err)
		return nil, err
	}
	store, err := o.store.Create(path)
	if err != nil {
		if errors.Is(err, arraystore.ErrExists) {
			return nil, &SessionError{Path: path, Reason: "already exists, choose a new file name", Err: err}
		}
		return nil, fmt.Errorf("create data file %s: %w", path, err)
	}
	err = initialize(store, resolved)
	if closeErr := store.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close data file %s: %w", path, closeErr))
	}
	if err != nil {
		ProblemLogger.Printf("Could not lay out %s, removing it: %v", path, err)
		if rmErr := o.store.Remove(path); rmErr != nil {
			ProblemLogger.Printf("Could not remove %s: %v", path, rmErr)
		}
		return nil, err
	}
	UpdateLogger.Printf("Created data file %s with %d datasets, coordinates %v.",
		path, len(resolved.specs), resolved.Coordinates())
	return &Saver{path: path, schema: resolved, opts: o, metrics: newSaverMetrics(o.registry)}, nil
}

func initialize(store ArrayStore, r *resolvedSchema) error {
	if err := r.create(store); err != nil {
		return err
	}
	if err := store.SetAttribute("/", VersionAttr, Build.Version); err != nil {
		return err
	}
	if err := store.SetAttribute("/", CreationAttr, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return store.Flush()
}

// Path returns the data file's path.
func (sv *Saver) Path() string { return sv.path }

// Coordinates returns the dataset names that label another dataset's axes.
func (sv *Saver) Coordinates() []string { return sv.schema.Coordinates() }

// Locked reports whether the file's session has already closed.
func (sv *Saver) Locked() bool { return sv.state.IsLocked() }

// State returns a snapshot of the file's writing state.
func (sv *Saver) State() WritingStatus { return sv.state.ComputeState() }

// Start opens the file's write session. A file gets one session only: a
// second call, or a call while a session is open, fails with a *SessionError
// and touches nothing.
func (sv *Saver) Start() (*Session, error) {
	id := ulid.Make().String()
	if err := sv.state.Start(sv.path, id); err != nil {
		ProblemLogger.Printf("Refusing session on %s: %v", sv.path, err)
		return nil, &SessionError{Path: sv.path, Reason: err.Error()}
	}
	store, err := sv.opts.store.Open(sv.path)
	if err != nil {
		sv.state.Cancel()
		return nil, &SessionError{Path: sv.path, Reason: "cannot open for writing", Err: err}
	}
	if err := store.SetAttribute("/", SessionAttr, id); err != nil {
		_ = store.Close()
		sv.state.Cancel()
		return nil, &SessionError{Path: sv.path, Reason: "cannot record session id", Err: err}
	}
	sv.metrics.sessions.WithLabelValues("active").Inc()
	UpdateLogger.Printf("Started session %s on %s.", id, sv.path)
	return &Session{saver: sv, store: store, id: id, extents: newExtentTracker(sv.schema)}, nil
}

// Run starts the session, hands it to fn and closes it however fn exits,
// including by panic. A panic is re-raised after the file is locked.
func (sv *Saver) Run(fn func(*Session) error) (err error) {
	s, err := sv.Start()
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(s)
}

// Session is the single write session of a data file. Its methods are not
// safe for concurrent use.
type Session struct {
	saver   *Saver
	store   ArrayStore
	id      string
	extents *extentTracker
	closed  bool
}

// ID returns the session's identifier, also stored in the file's root
// attributes.
func (s *Session) ID() string { return s.id }

func (s *Session) errClosed() error {
	return &SessionError{Path: s.saver.path, Reason: "session is closed, writes must happen inside a session"}
}

// Write stores data into the region of dataset name selected by index. The
// write is flushed before Write returns. Only successful writes count
// toward the extent the dataset is trimmed to on Close.
func (s *Session) Write(name string, data any, index Index) error {
	if s.closed {
		return s.errClosed()
	}
	spec, ok := s.saver.schema.specs[name]
	if !ok {
		return &SessionError{Path: s.saver.path, Reason: fmt.Sprintf("dataset %q was not declared", name)}
	}
	slab, err := index.slab(name, spec.Shape)
	if err != nil {
		ProblemLogger.Print(err)
		return err
	}
	start := time.Now()
	err = s.writeSlab(name, slab, data, index)
	s.saver.metrics.recordWrite(name, err, time.Since(start).Seconds())
	if err != nil {
		return err
	}
	s.saver.state.countWrite()
	return s.extents.update(name, index)
}

func (s *Session) writeSlab(name string, slab arraystore.Slab, data any, index Index) error {
	if err := s.store.WriteSlab(name, slab, data); err != nil {
		return fmt.Errorf("write %v into dataset %q: %w", index, name, err)
	}
	if err := s.store.Flush(); err != nil {
		return fmt.Errorf("flush after writing dataset %q: %w", name, err)
	}
	return nil
}

// WriteMetadata stores tree as attributes of group, which is created if
// needed; "" and "/" mean the root. Nested mappings become child groups.
func (s *Session) WriteMetadata(group string, tree map[string]any) error {
	if s.closed {
		return s.errClosed()
	}
	c := metadataCoder{store: s.store, metrics: s.saver.metrics}
	if err := c.writeTree(group, tree); err != nil {
		return err
	}
	return s.store.Flush()
}

// Extent returns the high-water mark written so far into a resizable
// dataset. The second result is false for fixed or unknown datasets.
func (s *Session) Extent(name string) ([]int, bool) {
	return s.extents.extent(name)
}

// Close trims every resizable dataset to what was written, deleting those
// never written, then closes and locks the file. A failure on one dataset
// does not stop the others; all failures are returned together. Closing
// again is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if err := trim(s.store, s.extents, s.saver.metrics); err != nil {
		ProblemLogger.Printf("Trimming %s: %v", s.saver.path, err)
		errs = append(errs, err)
	}
	if err := s.store.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush %s: %w", s.saver.path, err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", s.saver.path, err))
	}
	s.saver.state.Stop()
	s.saver.metrics.sessions.WithLabelValues("active").Dec()
	s.saver.metrics.sessions.WithLabelValues("locked").Inc()
	UpdateLogger.Printf("Closed session %s, %s is now locked.", s.id, s.saver.path)
	return errors.Join(errs...)
}
