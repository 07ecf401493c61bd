// Package shm contains the platform calls behind shared bitmap regions.
package shm

import "errors"

// ErrUnsupported is returned on platforms without anonymous shared memory.
var ErrUnsupported = errors.New("shared memory is not supported on this platform")

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Fd       int
	Size     int
	ReadOnly bool
}

// Function implementations are provided in platform-specific files (platform_linux.go, platform_other.go).
