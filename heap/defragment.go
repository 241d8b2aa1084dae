package heap

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arena/memutils"
	"github.com/vkngwrapper/arena/memutils/defrag"
	"golang.org/x/exp/slog"
)

// DefragmentationInfo is used to specify options for a defragmentation run
type DefragmentationInfo struct {
	// Algorithm selects how destinations are chosen. If left at 0, defrag.AlgorithmFull is used.
	Algorithm defrag.Algorithm

	// MaxBytesPerPass is the maximum number of payload bytes to relocate in each pass. If left at 0,
	// passes are not limited by size.
	MaxBytesPerPass int
	// MaxAllocationsPerPass is the maximum number of allocations to relocate in each pass. If left
	// at 0, passes are not limited by count.
	MaxAllocationsPerPass int
}

// DefragmentationHandler is called once for each relocation, before the payload is copied. oldHandle
// stops being valid and newHandle takes its place unless something other than
// defrag.DefragmentationMoveCopy is returned. size is the number of payload bytes that will be copied.
//
// The handler is called with the allocator locked and must not call back into it.
type DefragmentationHandler func(oldHandle, newHandle Handle, size int) defrag.DefragmentationMoveOperation

// Defragment compacts the arena by moving allocations into free chunks at lower addresses, so that
// free space gathers into a single chunk at the end. Passes are run until no allocation can be moved.
//
// Every relocation is reported to handler, which may be nil if the caller tracks handles some other
// way. User data moves with the allocation. Memory callbacks are not called for relocations, except
// for the Free callback when the handler chooses defrag.DefragmentationMoveDestroy.
func (a *Allocator) Defragment(info DefragmentationInfo, handler DefragmentationHandler) (defrag.DefragmentationStats, error) {
	a.logger.Debug("Allocator::Defragment",
		slog.String("Algorithm", info.Algorithm.String()),
		slog.Int("MaxBytesPerPass", info.MaxBytesPerPass),
		slog.Int("MaxAllocationsPerPass", info.MaxAllocationsPerPass),
	)

	var stats defrag.DefragmentationStats

	if info.Algorithm > defrag.AlgorithmFull {
		return stats, errors.Wrapf(memutils.ErrInvalidArgument, "unknown defragmentation algorithm %d", info.Algorithm)
	}
	if info.MaxBytesPerPass < 0 || info.MaxAllocationsPerPass < 0 {
		return stats, errors.Wrap(memutils.ErrInvalidArgument, "defragmentation pass limits must not be negative")
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	err := a.checkAlive()
	if err != nil {
		return stats, err
	}

	if !a.arena.Initialized() {
		return stats, nil
	}

	pass := defrag.PassContext{
		MaxPassBytes:       info.MaxBytesPerPass,
		MaxPassAllocations: info.MaxAllocationsPerPass,
	}
	if pass.MaxPassBytes == 0 {
		pass.MaxPassBytes = math.MaxInt
	}
	if pass.MaxPassAllocations == 0 {
		pass.MaxPassAllocations = math.MaxInt
	}

	defragContext := defrag.MetadataDefragContext{
		Algorithm: info.Algorithm,
		Metadata:  a.metadata,
		Handler: func(move *defrag.DefragmentationMove) error {
			return a.completeMove(move, handler)
		},
	}
	defragContext.Init()

	var allErrors error
	for {
		pass.Reset()
		defragContext.CollectMoves(&pass)

		moves := len(defragContext.Moves())
		if moves == 0 {
			break
		}

		a.logger.Debug("  Allocator::Defragment pass", slog.Int("Moves", moves))
		err = defragContext.CompletePass(&pass)
		stats.Add(pass.Stats)
		allErrors = errors.CombineErrors(allErrors, err)
	}

	return stats, allErrors
}

func (a *Allocator) completeMove(move *defrag.DefragmentationMove, handler DefragmentationHandler) error {
	src := Handle(move.SrcAllocation)
	dst := Handle(move.DstTmpAllocation)

	operation := defrag.DefragmentationMoveCopy
	if handler != nil {
		operation = handler(src, dst, move.Size)
	}
	move.MoveOperation = operation

	switch operation {
	case defrag.DefragmentationMoveCopy:
		dstUsable, err := a.metadata.UsableSize(move.DstTmpAllocation)
		if err != nil {
			return err
		}
		copy(a.payload(dst, dstUsable), a.payload(src, move.Size))

		userData, hasUserData := a.userData.Get(src)
		if hasUserData {
			a.userData.Delete(src)
			a.userData.Put(dst, userData)
		}

	case defrag.DefragmentationMoveDestroy:
		a.userData.Delete(src)
		a.callbacks.Free(src, move.Size)

	case defrag.DefragmentationMoveIgnore:

	default:
		return errors.Wrapf(memutils.ErrInvalidArgument, "unknown move operation %d for handle %d", operation, src)
	}

	return nil
}
