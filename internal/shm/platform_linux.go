//go:build linux

package shm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Create makes an anonymous memfd of size bytes and returns its descriptor.
func Create(name string, size int) (int, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("ftruncate: %w", err)
	}
	return fd, nil
}

// Map maps opts.Size bytes of opts.Fd as a shared mapping.
func Map(opts MapOptions) ([]byte, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("mmap: invalid size %d", opts.Size)
	}
	var st unix.Stat_t
	if err := unix.Fstat(opts.Fd, &st); err != nil {
		return nil, fmt.Errorf("fstat: %w", err)
	}
	if st.Size < int64(opts.Size) {
		return nil, fmt.Errorf("mmap: region holds %d bytes, %d requested", st.Size, opts.Size)
	}
	prot := unix.PROT_READ | unix.PROT_WRITE
	if opts.ReadOnly {
		prot = unix.PROT_READ
	}
	addr, err := unix.Mmap(opts.Fd, 0, opts.Size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return addr, nil
}

// Unmap releases a mapping returned by Map. Unmapping twice is a no-op.
func Unmap(addr []byte) error {
	if addr == nil {
		return nil
	}
	err := unix.Munmap(addr)
	if errors.Is(err, unix.EINVAL) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

// Dup returns a new close-on-exec descriptor for the same region.
func Dup(fd int) (int, error) {
	nfd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("dup: %w", err)
	}
	return nfd, nil
}

// Close closes a descriptor. Existing mappings stay valid.
func Close(fd int) error {
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
