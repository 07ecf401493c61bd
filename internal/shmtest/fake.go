// Package shmtest provides a heap-backed shm.Allocator with failure
// injection and descriptor accounting for tests.
package shmtest

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/srediag/shared-bitmap/pkg/shm"
)

// ErrInjected is returned by a step configured to fail.
var ErrInjected = errors.New("shmtest: injected failure")

type object struct {
	mem []byte
}

// Allocator hands out descriptors into an in-memory object table. Several
// descriptors may alias the same object, like dup'ed memfds.
type Allocator struct {
	FailCreate atomic.Bool
	FailMap    atomic.Bool
	FailShare  atomic.Bool

	mu      sync.Mutex
	next    shm.Descriptor
	open    map[shm.Descriptor]*object
	mapped  int
	shares  map[int32]int
	creates int
}

func New() *Allocator {
	return &Allocator{
		next:   3,
		open:   make(map[shm.Descriptor]*object),
		shares: make(map[int32]int),
	}
}

func (a *Allocator) Create(size int) (shm.Descriptor, error) {
	if a.FailCreate.Load() {
		return shm.InvalidDescriptor, ErrInjected
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creates++
	return a.insertLocked(&object{mem: make([]byte, size)}), nil
}

func (a *Allocator) Map(d shm.Descriptor, size int) ([]byte, error) {
	if a.FailMap.Load() {
		return nil, ErrInjected
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.open[d]
	if !ok || len(o.mem) < size {
		return nil, ErrInjected
	}
	a.mapped++
	return o.mem[:size:size], nil
}

func (a *Allocator) Share(d shm.Descriptor, pid int32) (shm.Descriptor, error) {
	if a.FailShare.Load() {
		return shm.InvalidDescriptor, ErrInjected
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.open[d]
	if !ok {
		return shm.InvalidDescriptor, ErrInjected
	}
	a.shares[pid]++
	return a.insertLocked(o), nil
}

func (a *Allocator) Close(d shm.Descriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.open[d]; !ok {
		return ErrInjected
	}
	delete(a.open, d)
	return nil
}

func (a *Allocator) Unmap(mem []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mapped--
	return nil
}

// Announce creates an object as a worker would and returns its descriptor.
func (a *Allocator) Announce(size int) shm.Descriptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.insertLocked(&object{mem: make([]byte, size)})
}

// Bytes returns the object behind an open descriptor.
func (a *Allocator) Bytes(d shm.Descriptor) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if o, ok := a.open[d]; ok {
		return o.mem
	}
	return nil
}

// OpenDescriptors returns the number of descriptors not yet closed.
func (a *Allocator) OpenDescriptors() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}

// Mapped returns the number of live mappings.
func (a *Allocator) Mapped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mapped
}

// Shares returns how many descriptors were shared to pid.
func (a *Allocator) Shares(pid int32) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shares[pid]
}

func (a *Allocator) insertLocked(o *object) shm.Descriptor {
	d := a.next
	a.next++
	a.open[d] = o
	return d
}
