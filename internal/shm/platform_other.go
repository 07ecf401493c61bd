//go:build !linux

package shm

func Create(name string, size int) (int, error) { return -1, ErrUnsupported }

func Map(opts MapOptions) ([]byte, error) { return nil, ErrUnsupported }

func Unmap(addr []byte) error { return nil }

func Dup(fd int) (int, error) { return -1, ErrUnsupported }

func Close(fd int) error { return ErrUnsupported }
