// Package arena owns the fixed-size byte buffer that every chunk is carved from. It has no
// allocation logic of its own beyond writing the initial free chunk.
package arena

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arena/memutils"
	"github.com/vkngwrapper/arena/memutils/chunk"
)

// DefaultHeapSize is the arena size used when none is configured
const DefaultHeapSize int = 640000

// Arena is a fixed-size backing buffer. It is never resized. The buffer is laid out as a single
// free chunk the first time Initialize is called.
type Arena struct {
	buf         []byte
	initialized bool
	release     func([]byte) error
}

func checkSize(size int) error {
	if size < chunk.MinChunkSize {
		return errors.Wrapf(memutils.ErrInvalidArgument, "arena size %d is smaller than the minimum chunk size %d", size, chunk.MinChunkSize)
	}
	if size%chunk.Granularity != 0 {
		return errors.Wrapf(memutils.ErrInvalidArgument, "arena size %d is not a multiple of %d", size, chunk.Granularity)
	}
	return nil
}

// New creates an arena backed by a Go byte slice of the given size. size must be a multiple of
// chunk.Granularity and at least chunk.MinChunkSize.
func New(size int) (*Arena, error) {
	err := checkSize(size)
	if err != nil {
		return nil, err
	}

	return &Arena{buf: make([]byte, size)}, nil
}

// Initialize lays the buffer out as one free chunk spanning the whole arena. Only the first call
// does anything; it returns true when it performed the initialization.
func (a *Arena) Initialize() bool {
	if a.initialized {
		return false
	}

	clear(a.buf)
	first := chunk.At(a.buf, 0)
	first.WriteTags(len(a.buf), chunk.Free)
	first.SetLinks(chunk.NoLink, chunk.NoLink)
	a.initialized = true

	return true
}

func (a *Arena) Initialized() bool {
	return a.initialized
}

// Reset causes the next Initialize call to lay the arena out from scratch, discarding every chunk
func (a *Arena) Reset() {
	a.initialized = false
}

// Bytes returns the backing buffer
func (a *Arena) Bytes() []byte {
	return a.buf
}

func (a *Arena) Size() int {
	return len(a.buf)
}

// Contains reports whether [offset, offset+length) lies entirely within the arena
func (a *Arena) Contains(offset, length int) bool {
	if offset < 0 || length < 0 {
		return false
	}
	end, ok := memutils.AddOverflow(offset, length)
	return ok && end <= len(a.buf)
}

// Close releases mapped backing memory. Arenas backed by a Go slice need no teardown, and Close
// is a no-op for them. The arena must not be used afterward.
func (a *Arena) Close() error {
	if a.buf == nil {
		return nil
	}

	var err error
	if a.release != nil {
		err = a.release(a.buf)
	}
	a.buf = nil
	a.initialized = false
	return err
}
