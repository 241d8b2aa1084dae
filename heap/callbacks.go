package heap

// AllocateCallback is called after an allocation is made. size is the allocation's usable
// payload size.
type AllocateCallback func(
	allocator *Allocator,
	handle Handle,
	size int,
	userData interface{},
)

// FreeCallback is called after an allocation is released, including the release of the old
// allocation during a successful Resize. size is the allocation's usable payload size.
type FreeCallback func(
	allocator *Allocator,
	handle Handle,
	size int,
	userData interface{},
)

// MemoryCallbackOptions holds optional hooks for allocation and release. The callbacks run while
// the allocator is locked, so they must not call back into the allocator.
type MemoryCallbackOptions struct {
	Allocate AllocateCallback
	Free     FreeCallback
	UserData interface{}
}

type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Allocator *Allocator
}

func (c *memoryCallbacks) Allocate(
	handle Handle,
	size int,
) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Allocator, handle, size, c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) Free(
	handle Handle,
	size int,
) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Allocator, handle, size, c.Callbacks.UserData)
	}
}
