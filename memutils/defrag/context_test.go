package defrag_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arena/arena"
	"github.com/vkngwrapper/arena/memutils/defrag"
	"github.com/vkngwrapper/arena/memutils/metadata"
)

type region struct {
	Offset int
	Size   int
	Free   bool
}

func regions(t *testing.T, md metadata.BlockMetadata) []region {
	t.Helper()

	var out []region
	err := md.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, free bool) error {
		out = append(out, region{Offset: offset, Size: size, Free: free})
		return nil
	})
	require.NoError(t, err)
	return out
}

func newMetadata(t *testing.T, size int) (*metadata.BoundaryTagBlockMetadata, []byte) {
	t.Helper()

	a, err := arena.New(size)
	require.NoError(t, err)
	require.True(t, a.Initialize())

	md := metadata.NewBoundaryTagBlockMetadata()
	md.Init(a.Bytes())
	return md, a.Bytes()
}

func alloc(t *testing.T, md metadata.BlockMetadata, buf []byte, size int, fill byte) metadata.BlockAllocationHandle {
	t.Helper()

	success, req, err := md.CreateAllocationRequest(size, metadata.AllocationStrategyMinMemory)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, md.Alloc(req))

	handle := req.BlockAllocationHandle
	copy(buf[handle:int(handle)+size], bytes.Repeat([]byte{fill}, size))
	return handle
}

func copyHandler(buf []byte) defrag.DefragmentOperationHandler {
	return func(move *defrag.DefragmentationMove) error {
		src := int(move.SrcAllocation)
		dst := int(move.DstTmpAllocation)
		copy(buf[dst:dst+move.Size], buf[src:src+move.Size])
		return nil
	}
}

func unlimitedPass() *defrag.PassContext {
	return &defrag.PassContext{
		MaxPassBytes:       math.MaxInt,
		MaxPassAllocations: math.MaxInt,
	}
}

func runToCompletion(t *testing.T, ctx *defrag.MetadataDefragContext, pass *defrag.PassContext) defrag.DefragmentationStats {
	t.Helper()

	var total defrag.DefragmentationStats
	for i := 0; i < 100; i++ {
		pass.Reset()
		ctx.CollectMoves(pass)
		if len(ctx.Moves()) == 0 {
			return total
		}

		require.NoError(t, ctx.CompletePass(pass))
		require.NoError(t, ctx.Metadata.Validate())
		total.Add(pass.Stats)
	}

	t.Fatal("defragmentation did not converge")
	return total
}

// gappedLayout leaves [free 0:72] [b 72:72] [free 144:72] [d 216:72] [free 288:736]
func gappedLayout(t *testing.T) (*metadata.BoundaryTagBlockMetadata, []byte, metadata.BlockAllocationHandle, metadata.BlockAllocationHandle) {
	t.Helper()

	md, buf := newMetadata(t, 1024)
	a := alloc(t, md, buf, 40, 0xAA)
	b := alloc(t, md, buf, 40, 0xBB)
	c := alloc(t, md, buf, 40, 0xCC)
	d := alloc(t, md, buf, 40, 0xDD)

	require.NoError(t, md.Free(a))
	require.NoError(t, md.Free(c))
	require.Equal(t, []region{
		{0, 72, true}, {72, 72, false}, {144, 72, true}, {216, 72, false}, {288, 736, true},
	}, regions(t, md))

	return md, buf, b, d
}

func TestDefragCompactsArena(t *testing.T) {
	for _, algorithm := range []defrag.Algorithm{defrag.AlgorithmFast, defrag.AlgorithmFull} {
		t.Run(algorithm.String(), func(t *testing.T) {
			md, buf, _, _ := gappedLayout(t)

			ctx := &defrag.MetadataDefragContext{
				Algorithm: algorithm,
				Handler:   copyHandler(buf),
				Metadata:  md,
			}
			ctx.Init()

			stats := runToCompletion(t, ctx, unlimitedPass())
			require.Equal(t, defrag.DefragmentationStats{
				BytesMoved:       120,
				AllocationsMoved: 3,
			}, stats)

			require.Equal(t, []region{
				{0, 72, false}, {72, 72, false}, {144, 880, true},
			}, regions(t, md))

			first, err := md.AllocationListBegin()
			require.NoError(t, err)
			require.Equal(t, metadata.BlockAllocationHandle(24), first)
			second, err := md.FindNextAllocation(first)
			require.NoError(t, err)
			require.Equal(t, metadata.BlockAllocationHandle(96), second)

			require.Equal(t, bytes.Repeat([]byte{0xBB}, 40), buf[24:64])
			require.Equal(t, bytes.Repeat([]byte{0xDD}, 40), buf[96:136])

			requested, err := md.RequestedSize(second)
			require.NoError(t, err)
			require.Equal(t, 40, requested)
		})
	}
}

func TestDefragDefaultAlgorithm(t *testing.T) {
	md, buf, _, _ := gappedLayout(t)

	ctx := &defrag.MetadataDefragContext{
		Handler:  copyHandler(buf),
		Metadata: md,
	}
	ctx.Init()
	require.Equal(t, defrag.AlgorithmFull, ctx.Algorithm)
}

func TestDefragFullPrefersBestFit(t *testing.T) {
	// [z 0:72] [free 72:136] [b 208:232] [free 440:72] [d 512:72] [free 584:440]
	build := func(t *testing.T) (*metadata.BoundaryTagBlockMetadata, []byte, metadata.BlockAllocationHandle) {
		md, buf := newMetadata(t, 1024)
		alloc(t, md, buf, 40, 0x01)
		a := alloc(t, md, buf, 100, 0x02)
		alloc(t, md, buf, 200, 0x03)
		c := alloc(t, md, buf, 40, 0x04)
		d := alloc(t, md, buf, 40, 0x05)

		require.NoError(t, md.Free(a))
		require.NoError(t, md.Free(c))
		return md, buf, d
	}

	testCases := []struct {
		algorithm defrag.Algorithm
		dst       metadata.BlockAllocationHandle
		after     []region
	}{
		{
			algorithm: defrag.AlgorithmFast,
			dst:       96,
			after: []region{
				{0, 72, false}, {72, 72, false}, {144, 64, true}, {208, 232, false}, {440, 584, true},
			},
		},
		{
			algorithm: defrag.AlgorithmFull,
			dst:       464,
			after: []region{
				{0, 72, false}, {72, 136, true}, {208, 232, false}, {440, 72, false}, {512, 512, true},
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.algorithm.String(), func(t *testing.T) {
			md, buf, d := build(t)

			ctx := &defrag.MetadataDefragContext{
				Algorithm: testCase.algorithm,
				Handler:   copyHandler(buf),
				Metadata:  md,
			}
			ctx.Init()

			pass := unlimitedPass()
			require.False(t, ctx.CollectMoves(pass))
			require.Len(t, ctx.Moves(), 1)

			move := ctx.Moves()[0]
			require.Equal(t, d, move.SrcAllocation)
			require.Equal(t, testCase.dst, move.DstTmpAllocation)
			require.Equal(t, 40, move.Size)

			require.NoError(t, ctx.CompletePass(pass))
			require.Equal(t, testCase.after, regions(t, md))

			dst := int(testCase.dst)
			require.Equal(t, bytes.Repeat([]byte{0x05}, 40), buf[dst:dst+40])
		})
	}
}

func TestDefragIgnore(t *testing.T) {
	md, _, _, _ := gappedLayout(t)
	before := regions(t, md)

	ctx := &defrag.MetadataDefragContext{
		Handler: func(move *defrag.DefragmentationMove) error {
			move.MoveOperation = defrag.DefragmentationMoveIgnore
			return nil
		},
		Metadata: md,
	}
	ctx.Init()

	pass := unlimitedPass()
	ctx.CollectMoves(pass)
	require.Len(t, ctx.Moves(), 2)
	require.Equal(t, 2, pass.Stats.AllocationsMoved)

	require.NoError(t, ctx.CompletePass(pass))
	require.Equal(t, defrag.DefragmentationStats{}, pass.Stats)
	require.Equal(t, before, regions(t, md))
	require.Equal(t, 2, md.AllocationCount())

	pass.Reset()
	ctx.CollectMoves(pass)
	require.Empty(t, ctx.Moves())
}

func TestDefragDestroy(t *testing.T) {
	md, buf, _, d := gappedLayout(t)

	copyMove := copyHandler(buf)
	ctx := &defrag.MetadataDefragContext{
		Handler: func(move *defrag.DefragmentationMove) error {
			if move.SrcAllocation == d {
				move.MoveOperation = defrag.DefragmentationMoveDestroy
				return nil
			}
			return copyMove(move)
		},
		Metadata: md,
	}
	ctx.Init()

	pass := unlimitedPass()
	ctx.CollectMoves(pass)
	require.NoError(t, ctx.CompletePass(pass))

	require.Equal(t, defrag.DefragmentationStats{
		BytesMoved:       40,
		AllocationsMoved: 1,
		BytesFreed:       40,
		AllocationsFreed: 1,
	}, pass.Stats)
	require.Equal(t, []region{{0, 72, false}, {72, 952, true}}, regions(t, md))
	require.Equal(t, 1, md.AllocationCount())
	require.NoError(t, md.Validate())
}

func TestDefragHandlerError(t *testing.T) {
	md, buf, _, d := gappedLayout(t)

	copyMove := copyHandler(buf)
	ctx := &defrag.MetadataDefragContext{
		Handler: func(move *defrag.DefragmentationMove) error {
			if move.SrcAllocation == d {
				return errors.New("cannot move d")
			}
			return copyMove(move)
		},
		Metadata: md,
	}
	ctx.Init()

	pass := unlimitedPass()
	ctx.CollectMoves(pass)
	err := ctx.CompletePass(pass)
	require.ErrorContains(t, err, "cannot move d")
	require.Equal(t, 1, pass.Stats.AllocationsMoved)

	require.Equal(t, []region{
		{0, 72, false}, {72, 144, true}, {216, 72, false}, {288, 736, true},
	}, regions(t, md))

	// d failed once and is not offered again
	pass.Reset()
	ctx.CollectMoves(pass)
	require.Empty(t, ctx.Moves())
}

func TestDefragAllocationBudget(t *testing.T) {
	md, buf, b, _ := gappedLayout(t)

	ctx := &defrag.MetadataDefragContext{
		Handler:  copyHandler(buf),
		Metadata: md,
	}
	ctx.Init()

	pass := &defrag.PassContext{
		MaxPassBytes:       math.MaxInt,
		MaxPassAllocations: 1,
	}
	require.True(t, ctx.CollectMoves(pass))
	require.Len(t, ctx.Moves(), 1)
	require.Equal(t, b, ctx.Moves()[0].SrcAllocation)
	require.NoError(t, ctx.CompletePass(pass))
}

func TestDefragByteBudget(t *testing.T) {
	md, buf, _, _ := gappedLayout(t)

	ctx := &defrag.MetadataDefragContext{
		Handler:  copyHandler(buf),
		Metadata: md,
	}
	ctx.Init()

	pass := &defrag.PassContext{
		MaxPassBytes:       30,
		MaxPassAllocations: math.MaxInt,
	}
	require.False(t, ctx.CollectMoves(pass))
	require.Empty(t, ctx.Moves())
}

func TestDefragEmptyArena(t *testing.T) {
	md, buf := newMetadata(t, 256)

	ctx := &defrag.MetadataDefragContext{
		Handler:  copyHandler(buf),
		Metadata: md,
	}
	ctx.Init()

	stats := runToCompletion(t, ctx, unlimitedPass())
	require.Equal(t, defrag.DefragmentationStats{}, stats)
}

func TestDefragInitRequiresMetadata(t *testing.T) {
	ctx := &defrag.MetadataDefragContext{
		Handler: copyHandler(nil),
	}
	require.Panics(t, ctx.Init)
}
