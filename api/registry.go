// Package api defines the contracts between the bitmap registry and the
// host components that drive it.
package api

import (
	"github.com/srediag/shared-bitmap/pkg/bitmap"
	"github.com/srediag/shared-bitmap/pkg/shm"
)

// WorkerRegistry is the part of the registry reachable from worker requests.
// *bitmap.Registry implements it.
type WorkerRegistry interface {
	// RegisterWorkerAllocation handles "I allocated <id, size, handle>".
	RegisterWorkerAllocation(id bitmap.ID, capacity int, owner bitmap.ProcessID, d shm.Descriptor) error
	// AllocateForWorker handles "allocate me one of <size>".
	AllocateForWorker(owner bitmap.ProcessID, capacity int) (bitmap.ID, shm.Descriptor, error)
	// RemoveByID handles "I'm done with <id>".
	RemoveByID(id bitmap.ID)
	ProcessObserver
}

// ProcessObserver is told when a worker process is gone. Implementations
// must tolerate repeated calls for the same process.
type ProcessObserver interface {
	RemoveByProcess(owner bitmap.ProcessID) int
}

// Counter reports the number of live bitmaps.
type Counter interface {
	Count() int
}

var (
	_ WorkerRegistry = (*bitmap.Registry)(nil)
	_ Counter        = (*bitmap.Registry)(nil)
)
