package bitmap

import "sync/atomic"

// HandleKind tags whether releasing a Handle removes its bitmap.
type HandleKind uint8

const (
	// PlainView handles only drop their reference on Release.
	PlainView HandleKind = iota
	// OwningAllocation handles also remove their id from the registry.
	OwningAllocation
)

func (k HandleKind) String() string {
	if k == OwningAllocation {
		return "owning-allocation"
	}
	return "plain-view"
}

// Handle gives access to a bitmap's memory until Release.
//
// Any number of handles may share a bitmap. The memory stays valid while at
// least one handle holds it, even after the id was removed from the registry.
// A single Handle must not be used concurrently with its own Release.
type Handle struct {
	id     ID
	kind   HandleKind
	rec    *record
	reg    *Registry
	pixels []byte

	released atomic.Bool
}

// newHandle takes a reference on rec. size is the logical byte length and
// never exceeds rec.capacity.
func newHandle(reg *Registry, rec *record, kind HandleKind, size int) *Handle {
	rec.acquire()
	h := &Handle{id: rec.id, kind: kind, rec: rec, pixels: rec.pixels()[:size:size]}
	if kind == OwningAllocation {
		h.reg = reg
	}
	return h
}

func (h *Handle) ID() ID { return h.id }

func (h *Handle) Kind() HandleKind { return h.kind }

// Owning reports whether Release removes the bitmap from the registry.
func (h *Handle) Owning() bool { return h.kind == OwningAllocation }

// Pixels returns the bitmap memory, or nil after Release.
func (h *Handle) Pixels() []byte {
	if h.released.Load() {
		return nil
	}
	return h.pixels
}

// Len returns the logical size in bytes the handle was created for.
func (h *Handle) Len() int { return len(h.pixels) }

// Release gives up the handle. Releasing twice is a no-op.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	if h.kind == OwningAllocation {
		h.reg.removeOwned(h.id, h.rec)
	}
	h.rec.release()
}
