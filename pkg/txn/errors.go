package txn

import "errors"

var (
	// ErrInvalidTxn is returned when an operation references a txn id the
	// manager has no record of (never started, or already finished).
	ErrInvalidTxn = errors.New("invalid transaction id")
	// ErrPageLocked is returned by TouchPage when another transaction
	// already holds the page.
	ErrPageLocked = errors.New("page is already locked by a different transaction")
)
