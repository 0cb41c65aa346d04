package storage

import "errors"

var (
	// ErrIOShort is returned when a page read or write transfers fewer
	// than PageSize bytes.
	ErrIOShort = errors.New("short page read or write")

	// ErrNoFreeFrame is returned when the buffer pool is full and no
	// frame is evictable.
	ErrNoFreeFrame = errors.New("no free frame available")

	// ErrPageNotResident is returned when an operation expects a page
	// to already be pinned in the buffer pool.
	ErrPageNotResident = errors.New("page not resident in buffer pool")
)
