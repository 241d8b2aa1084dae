package defrag

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/arena/memutils/metadata"
)

const handleSetCapacity uint32 = 16

// MetadataDefragContext is the core of the defragmentation logic for memutils. It compacts a single
// arena by relocating allocations into free chunks at lower addresses, so that free space gathers
// at the end of the arena. One of these must be initialized for each defragmentation run, which
// will then consist of multiple passes.
type MetadataDefragContext struct {
	// Algorithm is the defragmentation algorithm that should be used
	Algorithm Algorithm
	// Handler is a method that will be called to complete each relocation as part of CompletePass
	Handler DefragmentOperationHandler
	// Metadata is the arena this context exists to defragment
	Metadata metadata.BlockMetadata

	moves     []DefragmentationMove
	immovable *swiss.Map[metadata.BlockAllocationHandle, struct{}]
}

// Init sets up this MetadataDefragContext to be used in a fresh defragmentation run. MetadataDefragContext can
// be reused for multiple runs, as long as this method is called prior to beginning each run, including the first
func (c *MetadataDefragContext) Init() {
	if c.Metadata == nil {
		panic("attempted to init defragmentation context without metadata")
	}
	if c.Handler == nil {
		panic("attempted to init defragmentation context without a handler")
	}

	if c.Algorithm == 0 {
		c.Algorithm = AlgorithmFull
	}

	c.moves = c.moves[:0]
	c.immovable = swiss.NewMap[metadata.BlockAllocationHandle, struct{}](handleSetCapacity)
}

// Moves returns the list of relocation operations most recently collected with CollectMoves
func (c *MetadataDefragContext) Moves() []DefragmentationMove {
	return c.moves
}

// CollectMoves will retrieve a single pass's worth of DefragmentationMove operations to be completed.
// Those operations can be retrieved from MetadataDefragContext.Moves. The destination of every move
// is allocated before this method returns. It returns true if the pass budget ran out before every
// allocation was considered.
func (c *MetadataDefragContext) CollectMoves(pass *PassContext) bool {
	switch c.Algorithm {
	case AlgorithmFast, AlgorithmFull:
	default:
		panic(fmt.Sprintf("attempted to defragment with unknown algorithm: %s", c.Algorithm.String()))
	}

	// Allocations are walked by address, and every destination lands below its source, so
	// destinations created during this walk are never visited.
	for handle := c.mustBeginAllocationList(); handle != metadata.NoAllocation; handle = c.mustFindNextAllocation(handle) {
		if _, immovable := c.immovable.Get(handle); immovable {
			continue
		}

		size := c.mustUsableSize(handle)
		counter := pass.checkCounters(size)
		switch counter {
		case defragCounterIgnore:
			continue
		case defragCounterEnd:
			return true
		case defragCounterPass:
			break
		default:
			panic(fmt.Sprintf("unexpected defrag counter status: %s", counter.String()))
		}

		if c.reallocSuballocHandler(handle, size) && pass.incrementCounters(size) {
			return true
		}
	}

	return false
}

// CompletePass should be called after CollectMoves. It calls MetadataDefragContext.Handler for each
// collected move and then frees whichever allocations the move's operation no longer needs. Moves
// whose handler returned an error are rolled back, and those errors are returned combined.
func (c *MetadataDefragContext) CompletePass(pass *PassContext) error {
	var allErrors error

	for i := range c.moves {
		move := &c.moves[i]

		err := c.Handler(move)
		if err != nil {
			allErrors = errors.CombineErrors(allErrors, err)
			move.MoveOperation = DefragmentationMoveIgnore
		}

		switch move.MoveOperation {
		case DefragmentationMoveCopy:
			c.mustFree(move.SrcAllocation)

		case DefragmentationMoveIgnore:
			c.mustFree(move.DstTmpAllocation)
			pass.Stats.BytesMoved -= move.Size
			pass.Stats.AllocationsMoved--
			c.immovable.Put(move.SrcAllocation, struct{}{})

		case DefragmentationMoveDestroy:
			c.mustFree(move.DstTmpAllocation)
			c.mustFree(move.SrcAllocation)
			pass.Stats.BytesMoved -= move.Size
			pass.Stats.AllocationsMoved--
			pass.Stats.BytesFreed += move.Size
			pass.Stats.AllocationsFreed++

		default:
			panic(fmt.Sprintf("unexpected move operation: %d", move.MoveOperation))
		}
	}

	c.moves = c.moves[:0]
	return allErrors
}

func (c *MetadataDefragContext) mustBeginAllocationList() metadata.BlockAllocationHandle {
	handle, err := c.Metadata.AllocationListBegin()
	if err != nil {
		panic(fmt.Sprintf("unexpected error when getting first allocation: %+v", err))
	}

	return handle
}

func (c *MetadataDefragContext) mustFindNextAllocation(handle metadata.BlockAllocationHandle) metadata.BlockAllocationHandle {
	handle, err := c.Metadata.FindNextAllocation(handle)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when getting next allocation: %+v", err))
	}

	return handle
}

func (c *MetadataDefragContext) mustFindOffset(handle metadata.BlockAllocationHandle) int {
	offset, err := c.Metadata.AllocationOffset(handle)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when getting allocation offset: %+v", err))
	}

	return offset
}

func (c *MetadataDefragContext) mustUsableSize(handle metadata.BlockAllocationHandle) int {
	size, err := c.Metadata.UsableSize(handle)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when getting allocation size: %+v", err))
	}

	return size
}

func (c *MetadataDefragContext) mustFree(handle metadata.BlockAllocationHandle) {
	err := c.Metadata.Free(handle)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when freeing allocation during defragment: %+v", err))
	}
}

func (c *MetadataDefragContext) allocIfLowerOffset(offset int, handle metadata.BlockAllocationHandle, size int, strategy metadata.AllocationStrategy) bool {
	success, allocRequest, err := c.Metadata.CreateAllocationRequest(size, strategy)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when populating allocation request for defrag: %+v", err))
	}

	if !success || allocRequest.Item.Offset >= offset {
		return false
	}

	requested, err := c.Metadata.RequestedSize(handle)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when getting requested size: %+v", err))
	}

	err = c.Metadata.Alloc(allocRequest)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when committing allocation request for defragment: %+v", err))
	}
	err = c.Metadata.SetRequestedSize(allocRequest.BlockAllocationHandle, requested)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when setting requested size for defragment: %+v", err))
	}

	c.moves = append(c.moves, DefragmentationMove{
		Size:             size,
		SrcAllocation:    handle,
		DstTmpAllocation: allocRequest.BlockAllocationHandle,
	})
	return true
}

func (c *MetadataDefragContext) reallocSuballocHandler(handle metadata.BlockAllocationHandle, size int) bool {
	offset := c.mustFindOffset(handle)
	if offset == 0 {
		return false
	}

	if c.Algorithm == AlgorithmFull && c.allocIfLowerOffset(offset, handle, size, metadata.AllocationStrategyMinMemory) {
		return true
	}

	return c.allocIfLowerOffset(offset, handle, size, metadata.AllocationStrategyMinOffset)
}
