package datasaver

import (
	"fmt"
)

// SchemaError reports a malformed dataset specification. No usable file
// exists when New returns one.
type SchemaError struct {
	Dataset string
	Reason  string
	Err     error
}

func (e *SchemaError) Error() string {
	msg := "invalid dataset specification"
	if e.Dataset != "" {
		msg += fmt.Sprintf(" for %q", e.Dataset)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaError) Unwrap() error { return e.Err }

// SessionError reports a write outside an active session, a second session
// on a locked file, an unknown dataset name, or a data file that already
// exists.
type SessionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *SessionError) Error() string {
	msg := fmt.Sprintf("data file %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionError) Unwrap() error { return e.Err }

// IndexError reports an index that does not fit the target dataset.
type IndexError struct {
	Dataset string
	Index   Index
	Reason  string
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %v for dataset %q: %s", e.Index, e.Dataset, e.Reason)
}

// ValueTooLargeError reports a metadata value too large to be stored as an
// attribute. Such values belong in a dataset.
type ValueTooLargeError struct {
	Key string
	Err error
}

func (e *ValueTooLargeError) Error() string {
	return fmt.Sprintf("metadata %q is too large for an attribute, save it as a dataset instead: %v", e.Key, e.Err)
}

func (e *ValueTooLargeError) Unwrap() error { return e.Err }

// TypeUnsupportedError reports a metadata value the store cannot encode.
type TypeUnsupportedError struct {
	Key   string
	Value any
	Err   error
}

func (e *TypeUnsupportedError) Error() string {
	msg := fmt.Sprintf("metadata %q has unsupported value of type %T", e.Key, e.Value)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TypeUnsupportedError) Unwrap() error { return e.Err }
