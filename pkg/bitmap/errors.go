package bitmap

import "errors"

var (
	// ErrCapacity is returned when a size overflows or exceeds the configured
	// bound. The registry is not modified.
	ErrCapacity = errors.New("bitmap: invalid capacity")
	// ErrNotFound is returned by Lookup for an unknown id or an id whose
	// capacity is smaller than requested.
	ErrNotFound = errors.New("bitmap: not found")
	// ErrAllocation is returned when shared memory cannot be created, mapped
	// or shared. Partial regions are closed and nothing is registered.
	ErrAllocation = errors.New("bitmap: shared memory allocation failed")
	// ErrDuplicateID is returned when a generated id is already registered.
	ErrDuplicateID = errors.New("bitmap: duplicate id")
	// ErrLeaked is returned by Close when bitmaps are still registered.
	ErrLeaked = errors.New("bitmap: registry closed with live bitmaps")
)
