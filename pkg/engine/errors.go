package engine

import "errors"

// ErrEngineClosed is returned by NewIndex and by Context transaction
// operations attempted after the engine's Close.
var ErrEngineClosed = errors.New("storage engine is closed")
