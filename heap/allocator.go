package heap

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/arena/arena"
	"github.com/vkngwrapper/arena/heap/internal/utils"
	"github.com/vkngwrapper/arena/memutils"
	"github.com/vkngwrapper/arena/memutils/chunk"
	"github.com/vkngwrapper/arena/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Handle identifies a live allocation. It is the offset of the allocation's first payload byte
// within the arena.
type Handle uint64

// Nil is the absent handle. It is never returned for a successful allocation.
const Nil Handle = 0

// Allocator hands out chunks of a single fixed-size arena. Allocations are carved from free chunks
// by best fit (or first fit, see CreateOptions.Strategy), and released chunks are merged with their
// free neighbors immediately.
//
// Unless CreateExternallySynchronized is passed, all methods are safe to call concurrently.
type Allocator struct {
	logger      *slog.Logger
	createFlags CreateFlags
	strategy    metadata.AllocationStrategy

	mutex     utils.OptionalRWMutex
	destroyed bool

	arena     *arena.Arena
	metadata  *metadata.BoundaryTagBlockMetadata
	userData  *swiss.Map[Handle, any]
	callbacks memoryCallbacks
}

func (a *Allocator) checkAlive() error {
	if a.destroyed {
		return errors.New("the allocator has already been destroyed")
	}
	return nil
}

// ensureInitialized lays out the arena on first use
func (a *Allocator) ensureInitialized() {
	if a.arena.Initialize() {
		a.metadata.Init(a.arena.Bytes())
		a.logger.Debug("  Allocator initialized arena", slog.Int("HeapSize", a.arena.Size()))
	}
}

// resolve validates a handle for read-only use. Handles into an arena that was never laid out
// cannot refer to anything.
func (a *Allocator) resolve(handle Handle) (usable int, err error) {
	if !a.arena.Initialized() {
		return 0, errors.Wrapf(memutils.ErrInvalidHandle, "handle %d: no allocations have been made", handle)
	}
	if !a.arena.Contains(int(handle), chunk.FooterSize) {
		return 0, errors.Wrapf(memutils.ErrInvalidHandle, "handle %d is outside the arena", handle)
	}

	usable, err = a.metadata.UsableSize(metadata.BlockAllocationHandle(handle))
	if errors.Is(err, memutils.ErrAlreadyFree) {
		return 0, errors.Wrapf(memutils.ErrInvalidHandle, "handle %d: %v", handle, err)
	}
	return usable, err
}

// payload returns the usable payload of a resolved handle
func (a *Allocator) payload(handle Handle, usable int) []byte {
	start := int(handle)
	end := start + usable
	return a.arena.Bytes()[start:end:end]
}

// HeapSize returns the size of the arena in bytes
func (a *Allocator) HeapSize() int {
	return a.arena.Size()
}

// Allocate reserves at least size bytes and returns a handle to them. The contents of the payload
// are unspecified. A size of 0 is valid and produces a distinct handle. Its Bytes slice is empty, but
// like any allocation it may have usable bytes when the chosen chunk had slack too small to split off.
//
// If no free chunk is large enough, an error wrapping memutils.ErrOutOfMemory is returned and the
// arena is left unchanged.
func (a *Allocator) Allocate(size int) (Handle, error) {
	a.logger.Debug("Allocator::Allocate", slog.Int("Size", size))

	a.mutex.Lock()
	defer a.mutex.Unlock()

	err := a.checkAlive()
	if err != nil {
		return Nil, err
	}

	return a.allocate(size)
}

func (a *Allocator) allocate(size int) (Handle, error) {
	if size < 0 {
		return Nil, errors.Wrapf(memutils.ErrInvalidArgument, "allocation size %d is negative", size)
	}

	a.ensureInitialized()

	success, allocRequest, err := a.metadata.CreateAllocationRequest(size, a.strategy)
	if err != nil {
		return Nil, err
	}
	if !success {
		a.logger.Debug("  Allocator::allocate FAILED",
			slog.Int("Size", size),
			slog.Int("SumFreeSize", a.metadata.SumFreeSize()),
			slog.Int("LargestFreeChunk", a.metadata.LargestFreeChunk()),
		)
		return Nil, errors.Wrapf(memutils.ErrOutOfMemory, "no free chunk can hold %d bytes", size)
	}

	err = a.metadata.Alloc(allocRequest)
	if err != nil {
		return Nil, err
	}

	handle := Handle(allocRequest.BlockAllocationHandle)
	usable, err := a.metadata.UsableSize(allocRequest.BlockAllocationHandle)
	if err != nil {
		return Nil, err
	}

	a.logger.Debug("  Allocated",
		slog.Uint64("Handle", uint64(handle)),
		slog.String("Type", allocRequest.Type.String()),
		slog.Int("ChunkSize", allocRequest.Size),
	)
	a.callbacks.Allocate(handle, usable)

	return handle, nil
}

// ZeroAllocate reserves room for count elements of elemSize bytes each, and zeroes the whole
// payload before returning. A product that overflows int returns an error wrapping
// memutils.ErrInvalidArgument without touching the arena.
func (a *Allocator) ZeroAllocate(count, elemSize int) (Handle, error) {
	a.logger.Debug("Allocator::ZeroAllocate", slog.Int("Count", count), slog.Int("ElemSize", elemSize))

	size, ok := memutils.MulOverflow(count, elemSize)
	if !ok {
		return Nil, errors.Wrapf(memutils.ErrInvalidArgument, "%d elements of %d bytes cannot be represented", count, elemSize)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	err := a.checkAlive()
	if err != nil {
		return Nil, err
	}

	handle, err := a.allocate(size)
	if err != nil {
		return Nil, err
	}

	usable, err := a.metadata.UsableSize(metadata.BlockAllocationHandle(handle))
	if err != nil {
		return Nil, err
	}

	clear(a.payload(handle, usable))
	return handle, nil
}

// Release returns an allocation to the arena. Releasing Nil, or releasing a handle that is
// already free, does nothing. A handle that does not refer to an allocation at all produces an
// error wrapping memutils.ErrInvalidHandle, and the arena is left unchanged.
func (a *Allocator) Release(handle Handle) error {
	a.logger.Debug("Allocator::Release", slog.Uint64("Handle", uint64(handle)))

	if handle == Nil {
		return nil
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	err := a.checkAlive()
	if err != nil {
		return err
	}

	return a.release(handle)
}

func (a *Allocator) release(handle Handle) error {
	if !a.arena.Initialized() {
		return errors.Wrapf(memutils.ErrInvalidHandle, "handle %d: no allocations have been made", handle)
	}
	if !a.arena.Contains(int(handle), chunk.FooterSize) {
		return errors.Wrapf(memutils.ErrInvalidHandle, "handle %d is outside the arena", handle)
	}

	mdHandle := metadata.BlockAllocationHandle(handle)
	usable, err := a.metadata.UsableSize(mdHandle)
	if errors.Is(err, memutils.ErrAlreadyFree) {
		a.logger.Debug("  Allocator::release ignored a handle that was already free", slog.Uint64("Handle", uint64(handle)))
		return nil
	} else if err != nil {
		return err
	}

	err = a.metadata.Free(mdHandle)
	if err != nil {
		return err
	}

	a.userData.Delete(handle)
	a.callbacks.Free(handle, usable)
	return nil
}

// Resize moves an allocation into a chunk that can hold newSize bytes. Resizing Nil behaves
// as Allocate.
//
// If newSize is exactly the allocation's usable size, the handle is returned unchanged. Otherwise a
// new allocation is made, the first min(usable size, newSize) bytes are copied into it, user data
// moves with it, and the old allocation is released.
//
// If the new allocation cannot be made, the original handle is returned along with the error, and
// it remains valid with its contents unchanged.
func (a *Allocator) Resize(handle Handle, newSize int) (Handle, error) {
	a.logger.Debug("Allocator::Resize", slog.Uint64("Handle", uint64(handle)), slog.Int("NewSize", newSize))

	a.mutex.Lock()
	defer a.mutex.Unlock()

	err := a.checkAlive()
	if err != nil {
		return handle, err
	}

	if handle == Nil {
		return a.allocate(newSize)
	}

	if newSize < 0 {
		return handle, errors.Wrapf(memutils.ErrInvalidArgument, "resize to negative size %d", newSize)
	}

	usable, err := a.resolve(handle)
	if err != nil {
		return handle, err
	}

	if newSize == usable {
		err = a.metadata.SetRequestedSize(metadata.BlockAllocationHandle(handle), newSize)
		return handle, err
	}

	newHandle, err := a.allocate(newSize)
	if err != nil {
		return handle, err
	}

	newUsable, err := a.metadata.UsableSize(metadata.BlockAllocationHandle(newHandle))
	if err != nil {
		return handle, err
	}

	copy(a.payload(newHandle, newUsable), a.payload(handle, min(usable, newSize)))

	userData, hasUserData := a.userData.Get(handle)
	err = a.release(handle)
	if err != nil {
		return handle, err
	}

	if hasUserData {
		a.userData.Put(newHandle, userData)
	}

	return newHandle, nil
}

// Bytes returns the payload of a live allocation. The slice's length is the size that was
// requested and its capacity is the usable size, so it may be resliced up to cap without
// touching another chunk. The slice aliases the arena and must not be used after the
// allocation is released.
func (a *Allocator) Bytes(handle Handle) ([]byte, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	err := a.checkAlive()
	if err != nil {
		return nil, err
	}

	usable, err := a.resolve(handle)
	if err != nil {
		return nil, err
	}

	requested, err := a.metadata.RequestedSize(metadata.BlockAllocationHandle(handle))
	if err != nil {
		return nil, err
	}

	return a.payload(handle, usable)[:requested], nil
}

// UsableSize returns the number of payload bytes available to an allocation. This is at least
// the size that was requested, but may be larger.
func (a *Allocator) UsableSize(handle Handle) (int, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	err := a.checkAlive()
	if err != nil {
		return 0, err
	}

	return a.resolve(handle)
}

// RequestedSize returns the size that was passed when the allocation was made
func (a *Allocator) RequestedSize(handle Handle) (int, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	err := a.checkAlive()
	if err != nil {
		return 0, err
	}

	_, err = a.resolve(handle)
	if err != nil {
		return 0, err
	}

	return a.metadata.RequestedSize(metadata.BlockAllocationHandle(handle))
}

// Validate performs internal consistency checks on the whole arena. It is expensive, and when
// the allocator is functioning correctly it should never return an error.
func (a *Allocator) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	err := a.checkAlive()
	if err != nil {
		return err
	}

	if !a.arena.Initialized() {
		if a.userData.Count() > 0 {
			return errors.New("the allocator has user data but the arena was never laid out")
		}
		return nil
	}

	err = a.metadata.Validate()
	if err != nil {
		return err
	}

	a.userData.Iter(func(handle Handle, _ any) bool {
		_, err = a.metadata.UsableSize(metadata.BlockAllocationHandle(handle))
		if err != nil {
			err = errors.Wrapf(err, "user data is stored for handle %d", handle)
			return true
		}
		return false
	})

	return err
}

// CheckCorruption verifies the boundary tags of every chunk. This can catch writes that ran past
// the end of an allocation's usable size.
func (a *Allocator) CheckCorruption() error {
	a.logger.Debug("Allocator::CheckCorruption")

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	err := a.checkAlive()
	if err != nil {
		return err
	}

	if !a.arena.Initialized() {
		return nil
	}

	return a.metadata.CheckCorruption()
}

// Reset releases every allocation at once, leaving the arena as a single free chunk with every byte
// zeroed. Free callbacks are called for each allocation that was live. Every outstanding handle
// becomes invalid.
func (a *Allocator) Reset() error {
	a.logger.Debug("Allocator::Reset")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	err := a.checkAlive()
	if err != nil {
		return err
	}

	if !a.arena.Initialized() {
		return nil
	}

	err = a.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, free bool) error {
		if !free {
			a.callbacks.Free(Handle(handle), chunk.Capacity(size))
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.arena.Reset()
	a.ensureInitialized()
	a.userData = swiss.NewMap[Handle, any](userDataCapacity)
	return nil
}

// Destroy releases the arena's backing memory. If any allocations are still live, they are
// logged at error level and an error is returned without releasing anything.
func (a *Allocator) Destroy() error {
	a.logger.Debug("Allocator::Destroy")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return nil
	}

	if a.arena.Initialized() && !a.metadata.IsEmpty() {
		err := a.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, free bool) error {
			if !free {
				a.logUnreleasedMemory(Handle(handle), offset, size)
			}
			return nil
		})
		if err != nil {
			a.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.Newf("%d allocations were not released before the destruction of the allocator", a.metadata.AllocationCount())
	}

	a.destroyed = true
	a.userData = nil
	return a.arena.Close()
}

func (a *Allocator) logUnreleasedMemory(handle Handle, offset, size int) {
	requested, _ := a.metadata.RequestedSize(metadata.BlockAllocationHandle(handle))
	userData, _ := a.userData.Get(handle)

	a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unreleased allocation",
		slog.Uint64("handle", uint64(handle)),
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.Int("requested", requested),
		slog.Any("userData", userData),
	)
}
