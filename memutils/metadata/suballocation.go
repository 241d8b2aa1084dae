package metadata

// BlockAllocationHandle identifies a live allocation by the offset of its first payload byte
type BlockAllocationHandle uint64

const (
	// NoAllocation is never a valid handle, since every payload sits behind a chunk header
	NoAllocation BlockAllocationHandle = 0
)

type Suballocation struct {
	Offset int
	Size   int
}
