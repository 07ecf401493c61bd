// Package bitmap tracks graphics buffers shared between the host process and
// its workers.
//
// A Registry maps bitmap ids to records. Records come from three origins:
//
//   - AllocateLocal: host-only, single-use pixels. Releasing the returned
//     Handle removes the id.
//   - RegisterWorkerAllocation: a worker announces a region it created.
//   - AllocateForWorker: the host creates a region on a worker's behalf and
//     returns a descriptor to send back.
//
// Worker-owned ids are indexed by process so RemoveByProcess runs in time
// proportional to what that process owns. Every operation is synchronous and
// serialized by one lock; handle reference counts are atomic and never take
// the lock unless the handle owns its allocation.
package bitmap

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/shared-bitmap/internal/logging"
	"github.com/srediag/shared-bitmap/pkg/shm"
)

var registryLogger = logging.New("registry", nil)

// Registry is the host's store of shared bitmaps. It is created once at host
// startup, passed to every component that needs it and closed at teardown.
type Registry struct {
	mu        sync.Mutex
	bitmaps   map[ID]*record
	processes map[ProcessID]map[ID]struct{}

	conf    *Config
	alloc   shm.Allocator
	metrics *metrics
	tracer  trace.Tracer
	newID   func() ID
}

// New returns an empty registry. A nil conf means DefaultConfig().
func New(conf *Config) (*Registry, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	m, err := newMetrics(conf)
	if err != nil {
		return nil, fmt.Errorf("bitmap: registering metrics: %w", err)
	}
	return &Registry{
		bitmaps:   make(map[ID]*record),
		processes: make(map[ProcessID]map[ID]struct{}),
		conf:      conf,
		alloc:     conf.Allocator,
		metrics:   m,
		tracer:    conf.Tracer,
		newID:     NewID,
	}, nil
}

// AllocateLocal allocates host-only pixels for size. The returned Handle
// owns the allocation: releasing it removes the id from the registry.
func (r *Registry) AllocateLocal(size Size) (*Handle, error) {
	n, ok := SizeInBytes(size, r.conf.MaxBitmapBytes)
	if !ok {
		r.metrics.failed(originLocal, ErrCapacity)
		return nil, fmt.Errorf("%w: %s", ErrCapacity, size)
	}

	h, err := r.allocateLocal(n)
	if err != nil {
		r.metrics.failed(originLocal, err)
		return nil, err
	}
	r.metrics.allocated(originLocal, n)
	return h, nil
}

func (r *Registry) allocateLocal(n int) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	if _, ok := r.bitmaps[id]; ok {
		r.violationLocked("generated id %s is already registered", id)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	rec := newLocalRecord(id, n)
	r.bitmaps[id] = rec
	return newHandle(r, rec, OwningAllocation, n), nil
}

// Lookup returns a view of bitmap id sized for size. It fails with
// ErrNotFound if id is unknown or registered with fewer bytes than size
// needs. A smaller size succeeds and the view covers only its bytes.
func (r *Registry) Lookup(id ID, size Size) (*Handle, error) {
	n, ok := SizeInBytes(size, r.conf.MaxBitmapBytes)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a valid size", ErrNotFound, size)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.bitmaps[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if n > rec.capacity {
		return nil, fmt.Errorf("%w: %s holds %d bytes, %s needs %d", ErrNotFound, id, rec.capacity, size, n)
	}
	if rec.pixels() == nil {
		return nil, fmt.Errorf("%w: %s is not mapped", ErrNotFound, id)
	}
	return newHandle(r, rec, PlainView, n), nil
}

// RegisterWorkerAllocation records a region worker owner created and
// announced as id. The registry takes ownership of d: it is closed once
// mapped, or right away on failure or duplicate. Announcing an id that is
// already registered is a no-op.
func (r *Registry) RegisterWorkerAllocation(id ID, capacity int, owner ProcessID, d shm.Descriptor) error {
	_, span := r.tracer.Start(context.Background(), "bitmap.RegisterWorkerAllocation",
		trace.WithAttributes(
			attribute.String("bitmap.id", id.String()),
			attribute.Int("bitmap.capacity", capacity),
			attribute.Int("bitmap.owner", int(owner)),
		))
	defer span.End()

	added, err := r.registerWorkerAllocation(id, capacity, owner, d)
	if err != nil {
		r.metrics.failed(originWorker, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if added {
		r.metrics.allocated(originWorker, capacity)
	}
	return nil
}

func (r *Registry) registerWorkerAllocation(id ID, capacity int, owner ProcessID, d shm.Descriptor) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// a repeated announcement is ignored whatever it carries
	if _, ok := r.bitmaps[id]; ok {
		registryLogger.Debugf("bitmap %s already registered, ignoring announcement from %s", id, owner)
		r.closeDescriptor(d)
		return false, nil
	}
	if capacity <= 0 || capacity > r.conf.MaxBitmapBytes {
		r.closeDescriptor(d)
		return false, fmt.Errorf("%w: %d bytes", ErrCapacity, capacity)
	}
	region, err := shm.Open(r.alloc, d, capacity)
	if err != nil {
		registryLogger.Warnf("bitmap %s from %s: %v", id, owner, err)
		return false, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	if err := region.CloseHandle(); err != nil {
		registryLogger.Warnf("bitmap %s: closing announced handle: %v", id, err)
	}
	r.insertLocked(newSharedRecord(id, owner, capacity, region))
	return true, nil
}

// AllocateForWorker creates a region of capacity bytes for worker owner,
// registers it under a new id and returns the id with a descriptor to send
// to the worker. On failure nothing is registered and no region stays open.
func (r *Registry) AllocateForWorker(owner ProcessID, capacity int) (ID, shm.Descriptor, error) {
	_, span := r.tracer.Start(context.Background(), "bitmap.AllocateForWorker",
		trace.WithAttributes(
			attribute.Int("bitmap.capacity", capacity),
			attribute.Int("bitmap.owner", int(owner)),
		))
	defer span.End()

	id, d, err := r.allocateForWorker(owner, capacity)
	if err != nil {
		r.metrics.failed(originForWorker, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ID{}, shm.InvalidDescriptor, err
	}
	span.SetAttributes(attribute.String("bitmap.id", id.String()))
	r.metrics.allocated(originForWorker, capacity)
	return id, d, nil
}

func (r *Registry) allocateForWorker(owner ProcessID, capacity int) (ID, shm.Descriptor, error) {
	if capacity <= 0 || capacity > r.conf.MaxBitmapBytes {
		return ID{}, shm.InvalidDescriptor, fmt.Errorf("%w: %d bytes", ErrCapacity, capacity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	region, err := shm.Create(r.alloc, capacity)
	if err != nil {
		registryLogger.Errorf("cannot create shared memory buffer of %d bytes for %s: %v", capacity, owner, err)
		return ID{}, shm.InvalidDescriptor, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	id := r.newID()
	if _, ok := r.bitmaps[id]; ok {
		r.closeRegion(id, region)
		r.violationLocked("generated id %s is already registered", id)
		return ID{}, shm.InvalidDescriptor, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	d, err := region.Share(int32(owner))
	if err != nil {
		registryLogger.Errorf("cannot share shared memory buffer with %s: %v", owner, err)
		r.closeRegion(id, region)
		return ID{}, shm.InvalidDescriptor, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	if err := region.CloseHandle(); err != nil {
		registryLogger.Warnf("bitmap %s: closing local handle: %v", id, err)
	}
	r.insertLocked(newSharedRecord(id, owner, capacity, region))
	return id, d, nil
}

// RemoveByID removes id. Unknown ids are ignored. Memory held by live
// handles stays valid until they are released.
func (r *Registry) RemoveByID(id ID) {
	if r.removeByID(id) {
		r.metrics.removed(removeByID, 1)
	}
}

func (r *Registry) removeByID(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.removeLocked(id)
	if rec == nil {
		return false
	}
	rec.release()
	return true
}

// removeOwned is the release path of an OwningAllocation handle. The id is
// removed only if it still names rec.
func (r *Registry) removeOwned(id ID, rec *record) {
	removed := func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.bitmaps[id] != rec {
			return false
		}
		r.removeLocked(id).release()
		return true
	}()
	if removed {
		r.metrics.removed(removeByHandle, 1)
	}
}

// RemoveByProcess removes every bitmap owned by owner and returns how many
// there were. It is safe to call for unknown or already cleared owners.
func (r *Registry) RemoveByProcess(owner ProcessID) int {
	_, span := r.tracer.Start(context.Background(), "bitmap.RemoveByProcess",
		trace.WithAttributes(attribute.Int("bitmap.owner", int(owner))))
	defer span.End()

	n := r.removeByProcess(owner)
	span.SetAttributes(attribute.Int("bitmap.removed", n))
	if n > 0 {
		registryLogger.Infof("removed %d bitmaps of process %s", n, owner)
	}
	r.metrics.removed(removeByProcess, n)
	return n
}

func (r *Registry) removeByProcess(owner ProcessID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, ok := r.processes[owner]
	if !ok {
		return 0
	}
	delete(r.processes, owner)

	n := 0
	for id := range ids {
		rec, ok := r.bitmaps[id]
		if !ok || !rec.owned || rec.owner != owner {
			r.violationLocked("process %s indexes bitmap %s it does not own", owner, id)
			continue
		}
		delete(r.bitmaps, id)
		rec.release()
		n++
	}
	return n
}

// Count returns the number of registered bitmaps.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bitmaps)
}

// Close checks that every bitmap was removed. A leak panics in debug mode;
// otherwise it is logged and reported as ErrLeaked with the registry left
// as it was.
func (r *Registry) Close() error {
	n := r.Count()
	if n == 0 {
		return nil
	}
	if r.conf.DebugMode {
		panic(fmt.Sprintf("bitmap: %d bitmaps still registered at shutdown", n))
	}
	registryLogger.Errorf("%d bitmaps still registered at shutdown", n)
	return fmt.Errorf("%w: %d", ErrLeaked, n)
}

func (r *Registry) insertLocked(rec *record) {
	r.bitmaps[rec.id] = rec
	if !rec.owned {
		return
	}
	ids, ok := r.processes[rec.owner]
	if !ok {
		ids = make(map[ID]struct{})
		r.processes[rec.owner] = ids
	}
	ids[rec.id] = struct{}{}
}

// removeLocked unlinks id from both maps and returns its record, still
// holding the registry's reference.
func (r *Registry) removeLocked(id ID) *record {
	rec, ok := r.bitmaps[id]
	if !ok {
		return nil
	}
	delete(r.bitmaps, id)
	if !rec.owned {
		return rec
	}
	ids, ok := r.processes[rec.owner]
	if _, indexed := ids[id]; !ok || !indexed {
		r.violationLocked("bitmap %s is missing from the index of process %s", id, rec.owner)
		return rec
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(r.processes, rec.owner)
	}
	return rec
}

func (r *Registry) closeRegion(id ID, region *shm.Region) {
	if err := region.Close(); err != nil {
		registryLogger.Warnf("bitmap %s: closing region: %v", id, err)
	}
}

func (r *Registry) closeDescriptor(d shm.Descriptor) {
	if !d.Valid() {
		return
	}
	if err := r.alloc.Close(d); err != nil {
		registryLogger.Warnf("closing descriptor %d: %v", d, err)
	}
}

// violationLocked reports a broken map/index invariant. Callers hold r.mu
// with a deferred unlock.
func (r *Registry) violationLocked(format string, a ...interface{}) {
	registryLogger.Errorf(format, a...)
	if r.conf.DebugMode {
		panic(fmt.Sprintf("bitmap: "+format, a...))
	}
}
