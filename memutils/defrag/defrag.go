package defrag

// Algorithm identifies which defragmentation algorithm will be used for defrag passes
type Algorithm uint32

const (
	// AlgorithmFast indicates that each allocation should be moved into the lowest-addressed free
	// chunk that can hold it. This compacts the arena toward its start in few passes, but may split
	// large free chunks that a later move could have used.
	AlgorithmFast Algorithm = iota + 1
	// AlgorithmFull indicates that each allocation should first be offered the best-fitting free chunk
	// below it, falling back to the lowest-addressed one. It is somewhat slower than AlgorithmFast but
	// leaves fewer small gaps behind.
	//
	// This is the default algorithm if none is specified.
	AlgorithmFull
)

var algorithmMapping = map[Algorithm]string{
	AlgorithmFast: "AlgorithmFast",
	AlgorithmFull: "AlgorithmFull",
}

func (a Algorithm) String() string {
	return algorithmMapping[a]
}

// DefragmentationStats contains basic metrics for defragmentation over time
type DefragmentationStats struct {
	// BytesMoved is the number of payload bytes that have been successfully relocated
	BytesMoved int
	// BytesFreed is the number of payload bytes released because a move's handler chose
	// DefragmentationMoveDestroy
	BytesFreed int
	// AllocationsMoved is the number of successful relocations
	AllocationsMoved int
	// AllocationsFreed is the number of allocations released because a move's handler chose
	// DefragmentationMoveDestroy
	AllocationsFreed int
}

func (s *DefragmentationStats) Add(stats DefragmentationStats) {
	s.BytesMoved += stats.BytesMoved
	s.BytesFreed += stats.BytesFreed
	s.AllocationsMoved += stats.AllocationsMoved
	s.AllocationsFreed += stats.AllocationsFreed
}

type defragCounterStatus uint32

const (
	defragCounterPass defragCounterStatus = iota
	defragCounterIgnore
	defragCounterEnd
)

var defragCounterStatusMapping = map[defragCounterStatus]string{
	defragCounterPass:   "defragCounterPass",
	defragCounterIgnore: "defragCounterIgnore",
	defragCounterEnd:    "defragCounterEnd",
}

func (s defragCounterStatus) String() string {
	return defragCounterStatusMapping[s]
}
