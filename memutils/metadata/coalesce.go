package metadata

import "github.com/vkngwrapper/arena/memutils/chunk"

// tryMergeForward absorbs the chunk's free list successor if it begins exactly where this chunk ends
func (m *BoundaryTagBlockMetadata) tryMergeForward(view chunk.View) {
	next := view.NextFree()
	if next != chunk.NoLink && view.End() == next {
		m.mergeChunks(view, chunk.At(m.buf, next))
	}
}

// tryMergeBackward folds the chunk into its free list predecessor if the predecessor ends exactly
// where this chunk begins
func (m *BoundaryTagBlockMetadata) tryMergeBackward(view chunk.View) {
	prev := view.PrevFree()
	if prev == chunk.NoLink {
		return
	}

	prevView := chunk.At(m.buf, prev)
	if prevView.End() == view.Offset {
		m.mergeChunks(prevView, view)
	}
}

// mergeChunks combines two address-adjacent free chunks into the lower one. Both must be
// neighbors in the free list. The upper chunk's header and the lower chunk's old footer are zeroed,
// so the upper chunk no longer reads as a chunk at all.
func (m *BoundaryTagBlockMetadata) mergeChunks(first, second chunk.View) {
	if first.End() != second.Offset {
		panic("cannot merge separate physical regions")
	}
	if !first.IsFree() || !second.IsFree() {
		panic("cannot merge a chunk that is in use")
	}
	if first.NextFree() != second.Offset {
		panic("cannot merge chunks that are not neighbors in the free list")
	}

	firstSize, secondSize := first.Size(), second.Size()
	next := second.NextFree()

	first.SetNextFree(next)
	if next != chunk.NoLink {
		chunk.At(m.buf, next).SetPrevFree(first.Offset)
	}

	first.ClearFooter(firstSize)
	second.ClearHeader()
	first.WriteTags(firstSize+secondSize, chunk.Free)

	m.freeCount--
}
