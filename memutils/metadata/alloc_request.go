package metadata

// AllocationRequestType is an enum that indicates the type of allocation that is being made.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestWhole indicates that the chosen free chunk will be handed out in its entirety
	AllocationRequestWhole AllocationRequestType = iota
	// AllocationRequestSplit indicates that the chosen free chunk is large enough to be split, leaving
	// the remainder in the free list
	AllocationRequestSplit
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestWhole: "Whole",
	AllocationRequestSplit: "Split",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where and how
// the metadata intends to allocate new memory. It can be committed with BlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle is the handle the allocation will have once committed
	BlockAllocationHandle BlockAllocationHandle
	// Size is the total size of the chunk that will be marked in use, including boundary tags
	Size int
	// Item is a Suballocation object indicating basic information about the chosen free chunk
	Item Suballocation
	// Type identifies whether the chosen chunk will be split
	Type AllocationRequestType
	// RequestedSize is the payload size passed into CreateAllocationRequest
	RequestedSize int
}
