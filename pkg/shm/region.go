package shm

import (
	"errors"
	"fmt"
)

var (
	ErrCreate       = errors.New("shm: create failed")
	ErrMap          = errors.New("shm: map failed")
	ErrShare        = errors.New("shm: share failed")
	ErrHandleClosed = errors.New("shm: handle already closed")
	ErrInvalidSize  = errors.New("shm: invalid region size")
)

// Region is a shared-memory object mapped into this process.
//
// Region is not safe for concurrent mutation; the bitmap registry serializes
// Create, Share and Close under its lock.
type Region struct {
	alloc Allocator
	desc  Descriptor
	mem   []byte
}

// Create makes and maps a new region. Nothing is left open on failure.
func Create(a Allocator, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	d, err := a.Create(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreate, err)
	}
	mem, err := a.Map(d, size)
	if err != nil {
		_ = a.Close(d)
		return nil, fmt.Errorf("%w: %w", ErrMap, err)
	}
	return &Region{alloc: a, desc: d, mem: mem}, nil
}

// Open maps size bytes of an existing object. Open takes ownership of d and
// closes it if mapping fails.
func Open(a Allocator, d Descriptor, size int) (*Region, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: invalid descriptor", ErrMap)
	}
	if size <= 0 {
		_ = a.Close(d)
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	mem, err := a.Map(d, size)
	if err != nil {
		_ = a.Close(d)
		return nil, fmt.Errorf("%w: %w", ErrMap, err)
	}
	return &Region{alloc: a, desc: d, mem: mem}, nil
}

// Bytes returns the mapping, or nil once the region is closed.
func (r *Region) Bytes() []byte { return r.mem }

// Size returns the mapped length.
func (r *Region) Size() int { return len(r.mem) }

// Share returns a descriptor transferable to process pid. The handle must
// still be open.
func (r *Region) Share(pid int32) (Descriptor, error) {
	if !r.desc.Valid() {
		return InvalidDescriptor, ErrHandleClosed
	}
	d, err := r.alloc.Share(r.desc, pid)
	if err != nil {
		return InvalidDescriptor, fmt.Errorf("%w: %w", ErrShare, err)
	}
	return d, nil
}

// CloseHandle closes the descriptor while keeping the mapping.
func (r *Region) CloseHandle() error {
	if !r.desc.Valid() {
		return nil
	}
	d := r.desc
	r.desc = InvalidDescriptor
	return r.alloc.Close(d)
}

// Close closes the handle if still open and unmaps the region. Closing twice
// is a no-op.
func (r *Region) Close() error {
	herr := r.CloseHandle()
	if r.mem == nil {
		return herr
	}
	mem := r.mem
	r.mem = nil
	return errors.Join(herr, r.alloc.Unmap(mem))
}
