package heap

import (
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/arena/arena"
	"github.com/vkngwrapper/arena/heap/internal/utils"
	"github.com/vkngwrapper/arena/memutils"
	"github.com/vkngwrapper/arena/memutils/metadata"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateExternallySynchronized ensures that this allocator will not be synchronized internally.
	// The consumer must guarantee it is used from only one goroutine at a time or is synchronized by
	// some other mechanism, but performance may improve because the internal mutex is not used.
	CreateExternallySynchronized CreateFlags = 1 << iota
	// CreateMappedArena backs the arena with anonymous mapped memory instead of a Go byte slice.
	// The arena bytes are then invisible to the garbage collector. On platforms without mmap this
	// flag has no effect.
	CreateMappedArena
)

var createFlagsMapping = map[CreateFlags]string{
	CreateExternallySynchronized: "CreateExternallySynchronized",
	CreateMappedArena:            "CreateMappedArena",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit > 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, ok := createFlagsMapping[bit]
		if !ok {
			name = fmt.Sprintf("UnknownCreateFlag(0x%x)", int32(bit))
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

const userDataCapacity uint32 = 42

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// HeapSize is the size of the arena in bytes. It must be a multiple of 8 and large enough to
	// hold a single empty chunk. If left at 0, arena.DefaultHeapSize is used.
	HeapSize int
	// Strategy selects how a free chunk is chosen for new allocations. If left at 0,
	// metadata.AllocationStrategyMinMemory (best fit) is used.
	Strategy metadata.AllocationStrategy

	// MemoryCallbackOptions is an optional set of callbacks that will be executed whenever an
	// allocation is made or released through this allocator
	MemoryCallbackOptions *MemoryCallbackOptions
}

// New creates a new Allocator. The arena's backing memory is reserved immediately, but it is not
// laid out until the first operation that needs it.
//
// logger - Receives debug output for every operation, and errors for unreleased memory on Destroy.
// If nil, log output is discarded.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	heapSize := options.HeapSize
	if heapSize == 0 {
		heapSize = arena.DefaultHeapSize
	}

	strategy := options.Strategy
	if strategy == 0 {
		strategy = metadata.AllocationStrategyMinMemory
	}

	err := memutils.CheckPow2(uint32(strategy), "CreateOptions.Strategy")
	if err != nil {
		return nil, errors.Wrapf(memutils.ErrInvalidArgument, "%v", err)
	}
	if strategy > metadata.AllocationStrategyMinOffset {
		return nil, errors.Wrapf(memutils.ErrInvalidArgument, "unknown allocation strategy %d", strategy)
	}

	var backing *arena.Arena
	if options.Flags&CreateMappedArena != 0 {
		backing, err = arena.NewMapped(heapSize)
	} else {
		backing, err = arena.New(heapSize)
	}
	if err != nil {
		return nil, err
	}

	allocator := &Allocator{
		logger:      logger,
		createFlags: options.Flags,
		strategy:    strategy,
		mutex: utils.OptionalRWMutex{
			UseMutex: options.Flags&CreateExternallySynchronized == 0,
		},

		arena:    backing,
		metadata: metadata.NewBoundaryTagBlockMetadata(),
		userData: swiss.NewMap[Handle, any](userDataCapacity),
	}
	allocator.callbacks = memoryCallbacks{
		Callbacks: options.MemoryCallbackOptions,
		Allocator: allocator,
	}

	logger.Debug("Allocator::New",
		slog.Int("HeapSize", heapSize),
		slog.String("Flags", options.Flags.String()),
		slog.String("Strategy", strategy.String()),
	)

	return allocator, nil
}
