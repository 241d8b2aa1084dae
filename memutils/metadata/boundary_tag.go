package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/arena/memutils"
	"github.com/vkngwrapper/arena/memutils/chunk"
)

// BoundaryTagBlockMetadata is a BlockMetadata implementation that keeps all of its chunk state inside
// the arena itself. Each chunk carries a header and a footer with its size and state, and free chunks
// are threaded into an address-ordered, doubly linked free list through their own headers. Adjacent
// free chunks are always merged as soon as one of them is freed.
//
// Only the head of the free list and a handful of counters are kept in Go memory.
type BoundaryTagBlockMetadata struct {
	BlockMetadataBase

	buf            []byte
	freeHead       int
	allocCount     int
	freeCount      int
	freeSize       int
	requestedBytes int
}

var _ BlockMetadata = &BoundaryTagBlockMetadata{}

func NewBoundaryTagBlockMetadata() *BoundaryTagBlockMetadata {
	return &BoundaryTagBlockMetadata{
		freeHead: chunk.NoLink,
	}
}

func (m *BoundaryTagBlockMetadata) Init(buf []byte) {
	first := chunk.At(buf, 0)
	if len(buf) < chunk.MinChunkSize || first.Size() != len(buf) || !first.IsFree() {
		panic("arena buffer must be laid out as a single free chunk before metadata is initialized")
	}

	m.BlockMetadataBase.Init(len(buf))
	m.buf = buf
	m.freeHead = 0
	m.allocCount = 0
	m.freeCount = 1
	m.freeSize = len(buf)
	m.requestedBytes = 0
}

func (m *BoundaryTagBlockMetadata) AllocationCount() int {
	return m.allocCount
}

func (m *BoundaryTagBlockMetadata) FreeRegionsCount() int {
	return m.freeCount
}

func (m *BoundaryTagBlockMetadata) SumFreeSize() int {
	return m.freeSize
}

func (m *BoundaryTagBlockMetadata) IsEmpty() bool {
	return m.allocCount == 0
}

// resolve maps a handle to the in-use chunk that owns it. Every check that can be done without
// trusting the chunk's contents is done before its size is believed.
func (m *BoundaryTagBlockMetadata) resolve(handle BlockAllocationHandle) (chunk.View, error) {
	if handle == NoAllocation || handle > BlockAllocationHandle(len(m.buf)) {
		return chunk.View{}, errors.Wrapf(memutils.ErrInvalidHandle, "handle %d is outside of the arena", handle)
	}

	offset := int(handle) - chunk.HeaderSize
	if offset < 0 || offset%chunk.Granularity != 0 || offset > len(m.buf)-chunk.MinChunkSize {
		return chunk.View{}, errors.Wrapf(memutils.ErrInvalidHandle, "handle %d does not sit behind a chunk header", handle)
	}

	view := chunk.At(m.buf, offset)
	word := view.Word()
	if chunk.StateOf(word) == chunk.Free {
		return view, errors.Wrapf(memutils.ErrAlreadyFree, "chunk at offset %d", offset)
	}

	size := chunk.ReadSize(word)
	if size < chunk.MinChunkSize || size%chunk.Granularity != 0 || size > len(m.buf)-offset {
		return chunk.View{}, errors.Wrapf(memutils.ErrInvalidHandle, "chunk at offset %d has invalid size %d", offset, size)
	}

	if view.FooterWord() != word || !view.TagValid() {
		return chunk.View{}, errors.Wrapf(memutils.ErrInvalidHandle, "chunk at offset %d failed its tag check", offset)
	}

	return view, nil
}

func (m *BoundaryTagBlockMetadata) CreateAllocationRequest(allocSize int, strategy AllocationStrategy) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if allocSize < 0 {
		return false, allocRequest, errors.Wrapf(memutils.ErrInvalidArgument, "invalid allocSize: %d", allocSize)
	}

	memutils.DebugValidate(m)

	need, ok := chunk.Geometry(allocSize)
	if !ok || need > m.freeSize {
		return false, allocRequest, nil
	}

	offset := m.findFreeChunk(need, strategy)
	if offset == chunk.NoLink {
		return false, allocRequest, nil
	}

	size := chunk.At(m.buf, offset).Size()

	allocRequest.BlockAllocationHandle = BlockAllocationHandle(offset + chunk.HeaderSize)
	allocRequest.Item = Suballocation{Offset: offset, Size: size}
	allocRequest.RequestedSize = allocSize

	if size-need >= chunk.MinChunkSize {
		allocRequest.Type = AllocationRequestSplit
		allocRequest.Size = need
	} else {
		// Slack too small to host a chunk of its own stays with the allocation
		allocRequest.Type = AllocationRequestWhole
		allocRequest.Size = size
	}

	return true, allocRequest, nil
}

func (m *BoundaryTagBlockMetadata) Alloc(req AllocationRequest) error {
	offset := req.Item.Offset
	if offset < 0 || offset%chunk.Granularity != 0 || offset > len(m.buf)-chunk.MinChunkSize {
		return errors.Errorf("allocation request has an invalid chunk offset %d", offset)
	}
	if req.BlockAllocationHandle != BlockAllocationHandle(offset+chunk.HeaderSize) {
		return errors.New("allocation request had a handle that was incompatible with its chunk offset")
	}

	view := chunk.At(m.buf, offset)
	if !view.IsFree() {
		return errors.Errorf("allocation request refers to chunk at offset %d, which is no longer free", offset)
	}
	size := view.Size()
	if size != req.Item.Size {
		return errors.Errorf("chunk at offset %d is %d bytes, but the allocation request expected %d", offset, size, req.Item.Size)
	}
	if req.RequestedSize < 0 || chunk.Capacity(req.Size) < req.RequestedSize {
		return errors.Errorf("allocation request of size %d cannot hold %d payload bytes", req.Size, req.RequestedSize)
	}

	switch req.Type {
	case AllocationRequestSplit:
		if size-req.Size < chunk.MinChunkSize {
			return errors.New("allocation request asked for a split that would leave an undersized remainder")
		}
		m.splitFreeChunk(view, req.Size)
	case AllocationRequestWhole:
		if size != req.Size {
			return errors.New("allocation request asked for a whole chunk with a mismatched size")
		}
		m.removeFreeChunk(view)
	default:
		return errors.Errorf("unknown allocation request type %d", req.Type)
	}

	view.WriteTags(req.Size, chunk.InUse)
	view.MarkInUse(req.RequestedSize)
	m.allocCount++
	m.requestedBytes += req.RequestedSize

	memutils.DebugValidate(m)
	return nil
}

func (m *BoundaryTagBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	view, err := m.resolve(allocHandle)
	if err != nil {
		return err
	}

	m.allocCount--
	m.requestedBytes -= view.Requested()
	view.WriteTags(view.Size(), chunk.Free)

	err = m.insertFreeChunk(view)
	if err != nil {
		return err
	}

	m.tryMergeForward(view)
	m.tryMergeBackward(view)

	memutils.DebugValidate(m)
	return nil
}

func (m *BoundaryTagBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	view, err := m.resolve(allocHandle)
	if err != nil {
		return 0, err
	}

	return view.Offset, nil
}

func (m *BoundaryTagBlockMetadata) UsableSize(allocHandle BlockAllocationHandle) (int, error) {
	view, err := m.resolve(allocHandle)
	if err != nil {
		return 0, err
	}

	return chunk.Capacity(view.Size()), nil
}

func (m *BoundaryTagBlockMetadata) RequestedSize(allocHandle BlockAllocationHandle) (int, error) {
	view, err := m.resolve(allocHandle)
	if err != nil {
		return 0, err
	}

	return view.Requested(), nil
}

func (m *BoundaryTagBlockMetadata) SetRequestedSize(allocHandle BlockAllocationHandle, size int) error {
	view, err := m.resolve(allocHandle)
	if err != nil {
		return err
	}

	if size < 0 || size > chunk.Capacity(view.Size()) {
		return errors.Wrapf(memutils.ErrInvalidArgument, "size %d does not fit in an allocation with %d usable bytes", size, chunk.Capacity(view.Size()))
	}

	m.requestedBytes += size - view.Requested()
	view.SetRequested(size)
	return nil
}

// walk visits every chunk in address order, stopping at the first chunk whose size is not plausible
func (m *BoundaryTagBlockMetadata) walk(visit func(view chunk.View) error) error {
	for offset := 0; offset < len(m.buf); {
		view := chunk.At(m.buf, offset)
		size := view.Size()
		if size < chunk.MinChunkSize || size%chunk.Granularity != 0 || size > len(m.buf)-offset {
			return errors.Wrapf(memutils.ErrCorrupted, "chunk at offset %d has invalid size %d", offset, size)
		}

		err := visit(view)
		if err != nil {
			return err
		}

		offset += size
	}

	return nil
}

func (m *BoundaryTagBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, free bool) error) error {
	return m.walk(func(view chunk.View) error {
		if view.IsFree() {
			return handleBlock(NoAllocation, view.Offset, view.Size(), true)
		}
		return handleBlock(BlockAllocationHandle(view.PayloadOffset()), view.Offset, view.Size(), false)
	})
}

func (m *BoundaryTagBlockMetadata) AllocationListBegin() (BlockAllocationHandle, error) {
	if m.allocCount == 0 {
		return NoAllocation, nil
	}

	for offset := 0; offset < len(m.buf); {
		view := chunk.At(m.buf, offset)
		if !view.IsFree() {
			return BlockAllocationHandle(view.PayloadOffset()), nil
		}
		offset = view.End()
	}

	return NoAllocation, errors.New("the metadata has an allocation but none could be found in the arena")
}

func (m *BoundaryTagBlockMetadata) FindNextAllocation(allocHandle BlockAllocationHandle) (BlockAllocationHandle, error) {
	start, err := m.resolve(allocHandle)
	if err != nil {
		return NoAllocation, err
	}

	for offset := start.End(); offset < len(m.buf); {
		view := chunk.At(m.buf, offset)
		if !view.IsFree() {
			return BlockAllocationHandle(view.PayloadOffset()), nil
		}
		offset = view.End()
	}

	return NoAllocation, nil
}

func (m *BoundaryTagBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.ArenaCount++
	stats.AllocationCount += m.allocCount
	stats.ArenaBytes += m.size
	stats.AllocationBytes += m.size - m.freeSize
	stats.RequestedBytes += m.requestedBytes
}

func (m *BoundaryTagBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.ArenaCount++
	stats.ArenaBytes += m.size

	_ = m.walk(func(view chunk.View) error {
		if view.IsFree() {
			stats.AddUnusedRange(view.Size())
		} else {
			stats.AddAllocation(view.Size(), view.Requested())
		}
		return nil
	})
}

// LargestFreeChunk returns the size of the biggest free chunk, or 0 if the arena is full
func (m *BoundaryTagBlockMetadata) LargestFreeChunk() int {
	largest := 0
	for offset := m.freeHead; offset != chunk.NoLink; {
		view := chunk.At(m.buf, offset)
		if view.Size() > largest {
			largest = view.Size()
		}
		offset = view.NextFree()
	}
	return largest
}

func (m *BoundaryTagBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.freeSize, m.allocCount, m.freeCount)
	json.Name("RequestedBytes").Int(m.requestedBytes)
	json.Name("LargestFreeChunk").Int(m.LargestFreeChunk())
}

func (m *BoundaryTagBlockMetadata) CheckCorruption() error {
	return m.walk(func(view chunk.View) error {
		if view.FooterWord() != view.Word() {
			return errors.Wrapf(memutils.ErrCorrupted, "chunk at offset %d has a footer that does not match its header", view.Offset)
		}
		if !view.IsFree() && !view.TagValid() {
			return errors.Wrapf(memutils.ErrCorrupted, "allocation at offset %d has lost its tag", view.Offset)
		}
		return nil
	})
}

func (m *BoundaryTagBlockMetadata) Clear() {
	clear(m.buf)
	first := chunk.At(m.buf, 0)
	first.WriteTags(len(m.buf), chunk.Free)
	first.SetLinks(chunk.NoLink, chunk.NoLink)

	m.Init(m.buf)
}

func (m *BoundaryTagBlockMetadata) Validate() error {
	if len(m.buf) != m.size {
		return errors.Wrapf(memutils.ErrCorrupted, "the metadata was initialized with %d bytes, but the arena is %d bytes", m.size, len(m.buf))
	}
	if m.freeSize > m.size {
		return errors.Wrap(memutils.ErrCorrupted, "invalid metadata free size")
	}

	var allocCount, freeCount, freeSize, requestedBytes, calculatedSize int
	expectedFree := m.freeHead
	lastFree := chunk.NoLink
	prevWasFree := false

	err := m.walk(func(view chunk.View) error {
		size := view.Size()
		calculatedSize += size

		if view.FooterWord() != view.Word() {
			return errors.Wrapf(memutils.ErrCorrupted, "chunk at offset %d has a footer that does not match its header", view.Offset)
		}

		if !view.IsFree() {
			if !view.TagValid() {
				return errors.Wrapf(memutils.ErrCorrupted, "allocation at offset %d has lost its tag", view.Offset)
			}
			requested := view.Requested()
			if requested < 0 || requested > chunk.Capacity(size) {
				return errors.Wrapf(memutils.ErrCorrupted, "allocation at offset %d records %d requested bytes but can only hold %d", view.Offset, requested, chunk.Capacity(size))
			}

			allocCount++
			requestedBytes += requested
			prevWasFree = false
			return nil
		}

		if prevWasFree {
			return errors.Wrapf(memutils.ErrCorrupted, "free chunk at offset %d follows another free chunk", view.Offset)
		}
		if view.Offset != expectedFree {
			return errors.Wrapf(memutils.ErrCorrupted, "free chunk at offset %d is not where the free list expected the next free chunk (%d)", view.Offset, expectedFree)
		}
		if view.PrevFree() != lastFree {
			return errors.Wrapf(memutils.ErrCorrupted, "free chunk at offset %d lists %d as its previous free chunk, but the reverse reference is %d", view.Offset, view.PrevFree(), lastFree)
		}

		lastFree = view.Offset
		expectedFree = view.NextFree()
		freeCount++
		freeSize += size
		prevWasFree = true
		return nil
	})
	if err != nil {
		return err
	}

	if expectedFree != chunk.NoLink {
		return errors.Wrapf(memutils.ErrCorrupted, "the free list continues to offset %d past the last free chunk", expectedFree)
	}

	if calculatedSize != m.size {
		return errors.Wrapf(memutils.ErrCorrupted, "the full size of the metadata is %d, but the chunks only added up to %d", m.size, calculatedSize)
	}

	if freeSize != m.freeSize {
		return errors.Wrapf(memutils.ErrCorrupted, "the free size of the metadata is %d, but the free chunks added up to %d", m.freeSize, freeSize)
	}

	if freeCount != m.freeCount {
		return errors.Wrapf(memutils.ErrCorrupted, "the free chunk count of the metadata is %d, but there were %d free chunks", m.freeCount, freeCount)
	}

	if allocCount != m.allocCount {
		return errors.Wrapf(memutils.ErrCorrupted, "the allocation count of the metadata is %d, but the in-use chunks added up to %d", m.allocCount, allocCount)
	}

	if requestedBytes != m.requestedBytes {
		return errors.Wrapf(memutils.ErrCorrupted, "the requested byte count of the metadata is %d, but the allocations added up to %d", m.requestedBytes, requestedBytes)
	}

	return nil
}
