package catalog

import "errors"

var (
	// ErrTableExists is returned when creating a table whose name is
	// already registered.
	ErrTableExists = errors.New("table already exists")

	// ErrTableNotFound is returned when looking up a name the catalog has
	// no entry for.
	ErrTableNotFound = errors.New("table not found")
)
