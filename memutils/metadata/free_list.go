package metadata

import (
	"math"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/arena/memutils"
	"github.com/vkngwrapper/arena/memutils/chunk"
)

// findFreeChunk follows the free list, and only the free list, looking for a chunk of at least
// minSize bytes. It returns chunk.NoLink when nothing fits.
func (m *BoundaryTagBlockMetadata) findFreeChunk(minSize int, strategy AllocationStrategy) int {
	best := chunk.NoLink
	bestSize := math.MaxInt

	for offset := m.freeHead; offset != chunk.NoLink; {
		view := chunk.At(m.buf, offset)
		size := view.Size()
		offset = view.NextFree()

		if size < minSize {
			continue
		}

		if strategy&(AllocationStrategyMinTime|AllocationStrategyMinOffset) != 0 {
			return view.Offset
		}

		// Strictly smaller, so ties go to the lowest address
		if size < bestSize {
			best = view.Offset
			bestSize = size

			if size == minSize {
				break
			}
		}
	}

	return best
}

// findNextFreeChunk walks forward over chunk headers starting at offset and returns the first free
// chunk it reaches
func (m *BoundaryTagBlockMetadata) findNextFreeChunk(offset int) (int, error) {
	for offset < len(m.buf) {
		view := chunk.At(m.buf, offset)
		size := view.Size()
		if size < chunk.MinChunkSize || size > len(m.buf)-offset {
			return chunk.NoLink, errors.Wrapf(memutils.ErrCorrupted, "chunk at offset %d has invalid size %d", offset, size)
		}

		if view.IsFree() {
			return offset, nil
		}
		offset += size
	}

	return chunk.NoLink, nil
}

// findPrevFreeChunk walks backward over chunk footers starting from the chunk boundary at end and
// returns the first free chunk it reaches
func (m *BoundaryTagBlockMetadata) findPrevFreeChunk(end int) (int, error) {
	for end > 0 {
		word := chunk.FooterBefore(m.buf, end)
		size := chunk.ReadSize(word)
		if size < chunk.MinChunkSize || size > end {
			return chunk.NoLink, errors.Wrapf(memutils.ErrCorrupted, "footer ending at offset %d has invalid size %d", end, size)
		}

		end -= size
		if chunk.StateOf(word) == chunk.Free {
			return end, nil
		}
	}

	return chunk.NoLink, nil
}

// insertFreeChunk splices a newly freed chunk between its nearest free neighbors by address
func (m *BoundaryTagBlockMetadata) insertFreeChunk(view chunk.View) error {
	prev, err := m.findPrevFreeChunk(view.Offset)
	if err != nil {
		return err
	}

	next, err := m.findNextFreeChunk(view.End())
	if err != nil {
		return err
	}

	view.SetLinks(prev, next)
	if prev == chunk.NoLink {
		m.freeHead = view.Offset
	} else {
		chunk.At(m.buf, prev).SetNextFree(view.Offset)
	}

	if next != chunk.NoLink {
		chunk.At(m.buf, next).SetPrevFree(view.Offset)
	}

	m.freeCount++
	m.freeSize += view.Size()
	return nil
}

// removeFreeChunk unlinks a chunk from the free list, patching its neighbors
func (m *BoundaryTagBlockMetadata) removeFreeChunk(view chunk.View) {
	if !view.IsFree() {
		panic("provided chunk is not free")
	}

	prev, next := view.PrevFree(), view.NextFree()
	if prev == chunk.NoLink {
		if m.freeHead != view.Offset {
			panic("chunk was not in the free list at the expected location")
		}
		m.freeHead = next
	} else {
		chunk.At(m.buf, prev).SetNextFree(next)
	}

	if next != chunk.NoLink {
		chunk.At(m.buf, next).SetPrevFree(prev)
	}

	m.freeCount--
	m.freeSize -= view.Size()
}

// splitFreeChunk carves size bytes from the start of a free chunk. The remainder takes over the
// chunk's place in the free list, which keeps the list in address order. The carved chunk's tags are
// left for the caller to write.
func (m *BoundaryTagBlockMetadata) splitFreeChunk(view chunk.View, size int) {
	total := view.Size()
	prev, next := view.PrevFree(), view.NextFree()

	remainder := chunk.At(m.buf, view.Offset+size)
	remainder.WriteTags(total-size, chunk.Free)
	remainder.SetLinks(prev, next)

	if prev == chunk.NoLink {
		m.freeHead = remainder.Offset
	} else {
		chunk.At(m.buf, prev).SetNextFree(remainder.Offset)
	}

	if next != chunk.NoLink {
		chunk.At(m.buf, next).SetPrevFree(remainder.Offset)
	}

	m.freeSize -= size
}
