// Package arraystore keeps named multi-dimensional arrays, nested groups and
// their attributes inside one SQLite container file.
//
// Arrays are split into fixed-size chunks; each chunk is stored as an npy blob
// in the array's element type. The container is kept in WAL mode, so a store
// opened ReadOnly may follow a file while a single ReadWrite store is still
// writing to it.
package arraystore

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Mode selects how an existing container is opened.
type Mode int

// Open modes.
const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS arrays (
		name     TEXT PRIMARY KEY,
		dtype    TEXT NOT NULL,
		shape    TEXT NOT NULL,
		maxshape TEXT,
		chunks   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		array   TEXT NOT NULL,
		coord   TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (array, coord)
	)`,
	`CREATE TABLE IF NOT EXISTS groups (
		path TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS attributes (
		object  TEXT NOT NULL,
		key     TEXT NOT NULL,
		kind    TEXT NOT NULL,
		payload BLOB,
		shape   TEXT,
		PRIMARY KEY (object, key)
	)`,
	`CREATE TABLE IF NOT EXISTS dims (
		array TEXT NOT NULL,
		axis  INTEGER NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		scale TEXT,
		PRIMARY KEY (array, axis)
	)`,
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store is an open container file.
type Store struct {
	db     *sql.DB
	path   string
	mode   Mode
	opts   options
	mu     sync.Mutex
	closed bool
}

// Create makes a new, empty container at path, creating any missing parent
// directories. It fails with ErrExists if anything already exists at path.
func Create(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o775); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o664)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	s, err := open(path, ReadWrite, opts)
	if err != nil {
		_ = Remove(path)
		return nil, err
	}
	for _, stmt := range schemaDDL {
		if _, err := s.db.Exec(stmt); err != nil {
			_ = s.db.Close()
			_ = Remove(path)
			return nil, fmt.Errorf("create container tables: %w", err)
		}
	}
	return s, nil
}

// Open opens an existing container created by Create.
func Open(path string, mode Mode, opts ...Option) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	s, err := open(path, mode, opts)
	if err != nil {
		return nil, err
	}
	var n int
	if err := s.db.QueryRow(`SELECT count(*) FROM arrays`).Scan(&n); err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return s, nil
}

func open(path string, mode Mode, opts []Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	pragmas := []string{fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeout.Milliseconds())}
	if mode == ReadWrite {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return &Store{db: db, path: path, mode: mode, opts: o}, nil
}

// Remove deletes the container at path together with its WAL side files.
// Missing files are not an error.
func Remove(path string) error {
	var errs []error
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Path returns the container's file path.
func (s *Store) Path() string { return s.path }

// Mode returns the mode the store was opened with.
func (s *Store) Mode() Mode { return s.mode }

// check must be called with s.mu held.
func (s *Store) check(write bool) error {
	if s.closed {
		return ErrClosed
	}
	if write && s.mode != ReadWrite {
		return ErrReadOnly
	}
	return nil
}

// Flush moves committed writes from the WAL into the main database file.
// Committed writes are already visible to readers; Flush makes the file
// self-contained.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(false); err != nil {
		return err
	}
	if s.mode != ReadWrite {
		return nil
	}
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(PASSIVE)`); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	return nil
}

// Close flushes and closes the store. Closing a closed store is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if s.mode == ReadWrite {
		if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", s.path, err))
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// inTx runs fn inside a transaction, committing only if fn succeeds.
func (s *Store) inTx(fn func(tx *sql.Tx) error) (retErr error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
