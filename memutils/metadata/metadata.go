package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arena/memutils"
)

// BlockMetadata manages the chunks of a single arena. It allows allocations to be requested and
// freed, as well as enumerated and queried. Implementations keep chunk state inside the arena
// bytes; the BlockMetadata object itself only caches counters.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. buf must already be laid out as
	// a single free chunk spanning its whole length.
	Init(buf []byte)
	// Size retrieves the size in bytes that the block was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. These checks walk the entire
	// arena and are expensive. When the implementation is functioning correctly, it should not be possible
	// for this method to return an error, but this may assist in diagnosing issues with the implementation.
	Validate() error
	// AllocationCount returns the number of chunks currently in use
	AllocationCount() int
	// FreeRegionsCount returns the number of free chunks. Because adjacent free chunks are always
	// merged, this is also the number of distinct free regions.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes in the block, including the boundary tags of
	// free chunks.
	SumFreeSize() int

	// IsEmpty will return true if this block has no live allocations
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each chunk in the block, in
	// address order. handle is NoAllocation for free chunks.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, free bool) error) error
	// AllocationListBegin will retrieve the handle of the lowest-addressed allocation in the block, if any.
	// If none exist, NoAllocation will be returned.
	AllocationListBegin() (BlockAllocationHandle, error)
	// FindNextAllocation accepts a handle that maps to a live allocation within the block and returns the
	// handle for the next live allocation by address, if any. If none exist, NoAllocation will be returned.
	FindNextAllocation(allocHandle BlockAllocationHandle) (BlockAllocationHandle, error)

	// AllocationOffset returns the offset of the chunk that holds a live allocation
	AllocationOffset(allocHandle BlockAllocationHandle) (int, error)
	// UsableSize returns the number of payload bytes available to a live allocation. This may be larger
	// than the size that was requested.
	UsableSize(allocHandle BlockAllocationHandle) (int, error)
	// RequestedSize returns the payload size recorded for a live allocation
	RequestedSize(allocHandle BlockAllocationHandle) (int, error)
	// SetRequestedSize changes the payload size recorded for a live allocation. It may not exceed
	// the allocation's usable size.
	SetRequestedSize(allocHandle BlockAllocationHandle, size int) error

	// AddDetailedStatistics sums this block's allocation statistics into the statistics currently present
	// in the provided memutils.DetailedStatistics object.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's allocation statistics into the statistics currently present in the
	// provided memutils.Statistics object.
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all allocations, leaving a single free chunk
	Clear()
	// BlockJsonData populates a json object with information about this block
	BlockJsonData(json *jwriter.ObjectState)

	// CheckCorruption verifies the tags and footer of every live allocation. It returns an error wrapping
	// memutils.ErrCorrupted for the first chunk that fails.
	CheckCorruption() error

	// CreateAllocationRequest retrieves an AllocationRequest object indicating where the implementation
	// would place an allocation of allocSize payload bytes. That object can be passed to Alloc to commit
	// the allocation. The bool return is false when no free chunk is large enough.
	CreateAllocationRequest(allocSize int, strategy AllocationStrategy) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest object. The implementation must return an error if the request
	// is no longer valid- i.e. the chosen chunk no longer exists, is not free, or is too small.
	Alloc(request AllocationRequest) error

	// Free returns a live allocation to the free list and merges it with free neighbors.
	//
	// The implementation must return an error wrapping memutils.ErrAlreadyFree if the handle refers to
	// a free chunk, and memutils.ErrInvalidHandle if it does not refer to a chunk at all.
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations in the memutils module.
type BlockMetadataBase struct {
	size int
}

// Init sizes the block in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the block in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

// BlockJsonData populates a json object with information about this block
func (m *BlockMetadataBase) BlockJsonData(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
