package bitmap

import (
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/shared-bitmap/pkg/shm"
)

// localPixels backs host-local bitmaps.
var localPixels bytebufferpool.Pool

// record is the registry's description of one buffer. Everything but refs is
// fixed at creation.
type record struct {
	id       ID
	owner    ProcessID
	owned    bool
	capacity int

	// exactly one of local and region is set
	local  *bytebufferpool.ByteBuffer
	region *shm.Region

	// refs counts the registry entry plus every live Handle. The storage is
	// released when it reaches zero.
	refs atomic.Int32
}

func newLocalRecord(id ID, capacity int) *record {
	buf := localPixels.Get()
	if cap(buf.B) < capacity {
		buf.B = make([]byte, capacity)
	} else {
		buf.B = buf.B[:capacity]
		clear(buf.B)
	}
	r := &record{id: id, capacity: capacity, local: buf}
	r.refs.Store(1)
	return r
}

func newSharedRecord(id ID, owner ProcessID, capacity int, region *shm.Region) *record {
	r := &record{id: id, owner: owner, owned: true, capacity: capacity, region: region}
	r.refs.Store(1)
	return r
}

// pixels returns the storage, or nil once it has been released.
func (r *record) pixels() []byte {
	if r.local != nil {
		return r.local.B
	}
	return r.region.Bytes()
}

func (r *record) acquire() {
	if r.refs.Add(1) <= 1 {
		panic("bitmap: acquire on released record " + r.id.String())
	}
}

// release drops one reference and frees the storage on the last one.
func (r *record) release() {
	switch n := r.refs.Add(-1); {
	case n > 0:
		return
	case n < 0:
		panic("bitmap: record " + r.id.String() + " released too many times")
	}
	if r.local != nil {
		localPixels.Put(r.local)
		return
	}
	if err := r.region.Close(); err != nil {
		registryLogger.Warnf("bitmap %s: closing region: %v", r.id, err)
	}
}
