package shm

import (
	internalshm "github.com/srediag/shared-bitmap/internal/shm"
)

// Descriptor is the platform handle of a shared-memory object (a file
// descriptor on Linux).
type Descriptor int

// InvalidDescriptor is the null handle.
const InvalidDescriptor Descriptor = -1

// Valid reports whether d refers to an object.
func (d Descriptor) Valid() bool { return d >= 0 }

// Allocator is the platform shared-memory contract. Implementations must be
// safe for concurrent use.
type Allocator interface {
	// Create makes a new object of size bytes.
	Create(size int) (Descriptor, error)
	// Map maps size bytes of d read-write.
	Map(d Descriptor, size int) ([]byte, error)
	// Share returns a descriptor for d transferable to process pid.
	Share(d Descriptor, pid int32) (Descriptor, error)
	// Close releases a descriptor. Mappings of the object stay valid.
	Close(d Descriptor) error
	// Unmap releases a mapping returned by Map.
	Unmap(mem []byte) error
}

// OSAllocator is the Allocator backed by anonymous memfd objects.
type OSAllocator struct {
	name string
}

// NewOSAllocator returns an allocator whose objects carry name in /proc.
func NewOSAllocator(name string) *OSAllocator {
	if name == "" {
		name = "shared-bitmap"
	}
	return &OSAllocator{name: name}
}

func (a *OSAllocator) Create(size int) (Descriptor, error) {
	fd, err := internalshm.Create(a.name, size)
	if err != nil {
		return InvalidDescriptor, err
	}
	return Descriptor(fd), nil
}

func (a *OSAllocator) Map(d Descriptor, size int) ([]byte, error) {
	return internalshm.Map(internalshm.MapOptions{Fd: int(d), Size: size})
}

// Share duplicates d. Moving the duplicate into process pid is the job of
// the worker channel (SCM_RIGHTS on Linux).
func (a *OSAllocator) Share(d Descriptor, pid int32) (Descriptor, error) {
	fd, err := internalshm.Dup(int(d))
	if err != nil {
		return InvalidDescriptor, err
	}
	return Descriptor(fd), nil
}

func (a *OSAllocator) Close(d Descriptor) error {
	return internalshm.Close(int(d))
}

func (a *OSAllocator) Unmap(mem []byte) error {
	return internalshm.Unmap(mem)
}
