package gpu

// Device is the narrow slice of the native API this core consumes:
// create/destroy primitives, the memory requirements query, sync objects and
// device limits. Everything else (pipelines, descriptors, command recording)
// lives with the callers.
//
// All methods are expected to be called from the single submission thread.
type Device interface {
	Limits() Limits

	// AllocateMemory picks a memory type out of typeBits with the requested
	// visibility. Pass the MemoryTypeBits of the resource the memory will be
	// bound to, or MemoryTypeBitsAny for pool memory allocated up front.
	AllocateMemory(size uint64, typeBits uint32, hostVisible bool) (Memory, error)
	FreeMemory(mem Memory)
	MapMemory(mem Memory, offset, size uint64) ([]byte, error)

	CreateImage(spec ImageSpec) (Image, error)
	ImageMemoryRequirements(img Image) MemoryRequirements
	BindImageMemory(img Image, mem Memory, offset uint64) error
	CreateImageView(img Image, spec ImageSpec) (ImageView, error)

	CreateBuffer(size uint64, usage BufferUsage) (Buffer, error)
	BufferMemoryRequirements(buf Buffer) MemoryRequirements
	BindBufferMemory(buf Buffer, mem Memory, offset uint64) error

	CreateFence(signaled bool) (Fence, error)
	// WaitFence blocks until the fence signals. There is no timeout other
	// than forever; the driver is trusted to bound the wait.
	WaitFence(f Fence) error
	ResetFence(f Fence) error

	CreateSemaphore() (Semaphore, error)

	// Destroy releases any handle by kind. This is the single dispatch point
	// the deferred deleter flushes through.
	Destroy(kind ResourceKind, h Handle)

	// WaitIdle blocks until the GPU drained all submitted work. Teardown and
	// diagnostics only; never part of the steady-state frame path.
	WaitIdle() error
}

// CommandResources is one frame slot's command recording state. Reset is
// only legal once the slot's ready fence has signaled; Begin and End bracket
// recording, and only an ended buffer may be submitted.
type CommandResources interface {
	Reset() error
	Begin() error
	End() error
	Free()
}

// Queue submits one slot's recorded work. A nil wait or signal semaphore
// skips that sync point, which is how no-present frames ride an empty
// submission to cycle their fence.
type Queue interface {
	Submit(cmds CommandResources, wait, signal Semaphore, fence Fence) error
	WaitIdle() error
}

// Surface is the swapchain facade: acquire, present, recreate. Acquire
// blocks until an image is available.
type Surface interface {
	AcquireNextImage(signal Semaphore) (imageIndex uint32, state SurfaceState, err error)
	Present(wait Semaphore, imageIndex uint32) (SurfaceState, error)
	Recreate(extent Extent) error
	Extent() Extent
	ImageCount() uint32
}

// CommandFactory creates per-slot command resources. The scheduler owns one
// set per frame slot.
type CommandFactory interface {
	CreateCommandResources() (CommandResources, error)
}
