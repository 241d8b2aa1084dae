package metadata

// AllocationStrategy exposes several options for choosing the free chunk a new allocation is
// carved from. If none is chosen, AllocationStrategyMinMemory is used.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory selects the smallest free chunk that can hold the allocation (best fit)
	// to minimize fragmentation, at the cost of visiting every free chunk. Ties go to the lowest address.
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime selects the first free chunk, by address, that can hold the allocation
	// (first fit). The search stops as soon as one is found.
	AllocationStrategyMinTime
	// AllocationStrategyMinOffset selects the lowest-addressed free chunk that can hold the allocation.
	// Because the free list is kept in address order, this chooses the same chunk as
	// AllocationStrategyMinTime. It is used by defragmentation, which only cares about moving
	// allocations toward the start of the arena.
	AllocationStrategyMinOffset
)

var allocationStrategyMapping = map[AllocationStrategy]string{
	AllocationStrategyMinMemory: "AllocationStrategyMinMemory",
	AllocationStrategyMinTime:   "AllocationStrategyMinTime",
	AllocationStrategyMinOffset: "AllocationStrategyMinOffset",
}

func (s AllocationStrategy) String() string {
	return allocationStrategyMapping[s]
}
