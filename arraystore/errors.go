package arraystore

import "errors"

// Errors returned by Store methods. They are wrapped with context, so test
// for them with errors.Is.
var (
	ErrExists            = errors.New("arraystore: object already exists")
	ErrNotFound          = errors.New("arraystore: object not found")
	ErrClosed            = errors.New("arraystore: store is closed")
	ErrReadOnly          = errors.New("arraystore: store is read-only")
	ErrInvalidSpec       = errors.New("arraystore: invalid array specification")
	ErrNotResizable      = errors.New("arraystore: array is not resizable")
	ErrShapeMismatch     = errors.New("arraystore: shape mismatch")
	ErrOutOfBounds       = errors.New("arraystore: selection out of bounds")
	ErrUnsupportedType   = errors.New("arraystore: unsupported value type")
	ErrAttributeTooLarge = errors.New("arraystore: attribute value too large")
	ErrCorrupt           = errors.New("arraystore: corrupt container")
)
