package table

import "errors"

var (
	// ErrTupleNotFound is returned when a tuple-id does not resolve to a
	// live slot on its page.
	ErrTupleNotFound = errors.New("tuple not found")

	// ErrSchemaMismatch is returned when a value set does not match the
	// table's schema.
	ErrSchemaMismatch = errors.New("tuple does not match table schema")
)
