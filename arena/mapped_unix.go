//go:build unix

package arena

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// NewMapped creates an arena backed by an anonymous private memory mapping rather than the Go
// heap. The mapping is made once here; no further system allocation happens for the life of the
// arena. Close unmaps it.
func NewMapped(size int) (*Arena, error) {
	err := checkSize(size)
	if err != nil {
		return nil, err
	}

	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %d bytes for arena", size)
	}

	return &Arena{buf: buf, release: unmap}, nil
}

func unmap(buf []byte) error {
	err := unix.Munmap(buf)
	if errors.Is(err, unix.EINVAL) {
		return nil
	}
	return err
}
