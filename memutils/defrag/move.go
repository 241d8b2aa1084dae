package defrag

import "github.com/vkngwrapper/arena/memutils/metadata"

// DefragmentationMoveOperation tells CompletePass how to finish a single relocation
type DefragmentationMoveOperation uint32

const (
	// DefragmentationMoveCopy indicates the payload was copied to the destination, so the source
	// allocation can be freed. This is the default.
	DefragmentationMoveCopy DefragmentationMoveOperation = iota
	// DefragmentationMoveIgnore indicates the allocation must stay where it is. The destination is
	// freed and the source will not be offered again for the rest of the run.
	DefragmentationMoveIgnore
	// DefragmentationMoveDestroy indicates the allocation is no longer needed. Both the source and the
	// destination are freed.
	DefragmentationMoveDestroy
)

var moveOperationMapping = map[DefragmentationMoveOperation]string{
	DefragmentationMoveCopy:    "DefragmentationMoveCopy",
	DefragmentationMoveIgnore:  "DefragmentationMoveIgnore",
	DefragmentationMoveDestroy: "DefragmentationMoveDestroy",
}

func (o DefragmentationMoveOperation) String() string {
	return moveOperationMapping[o]
}

// DefragmentationMove is a single relocation collected by MetadataDefragContext.CollectMoves. Both
// allocations are live while the move is pending.
type DefragmentationMove struct {
	// Size is the number of payload bytes the source can hold
	Size int
	// SrcAllocation is the allocation being relocated
	SrcAllocation metadata.BlockAllocationHandle
	// DstTmpAllocation is the lower-addressed allocation that will take its place
	DstTmpAllocation metadata.BlockAllocationHandle
	// MoveOperation may be changed by the handler before CompletePass finishes the move
	MoveOperation DefragmentationMoveOperation
}

// DefragmentOperationHandler is called once for each move in CompletePass. It should copy the payload
// from the source to the destination, or set move.MoveOperation to something other than
// DefragmentationMoveCopy. If it returns an error, the move is treated as DefragmentationMoveIgnore.
type DefragmentOperationHandler func(move *DefragmentationMove) error
