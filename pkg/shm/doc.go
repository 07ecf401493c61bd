// Package shm provides the shared-memory primitive used by the bitmap registry.
//
// A Region is an anonymous shared-memory object mapped into this process. It
// is created by the host (Create) or opened from a descriptor a worker sent
// over its channel (Open). Share hands a duplicate descriptor to a worker
// process; the mapping stays valid until every holder has closed it.
//
// Example usage:
//
//	r, err := shm.Create(shm.NewOSAllocator("bitmap"), 1<<20)
//	if err != nil {
//		return err
//	}
//	d, err := r.Share(workerPid)
//	// send d to the worker, then
//	_ = r.CloseHandle()
//	// ... r.Bytes() stays mapped until r.Close()
//
// Platform-specific helpers are in internal/shm.
package shm
