package gpu

// Handle is a raw native object handle value. The concrete meaning of the
// bits belongs to the backing API; this core only stores and returns them.
type Handle uint64

const NilHandle Handle = 0

type (
	Image     Handle
	ImageView Handle
	Buffer    Handle
	Memory    Handle
	Fence     Handle
	Semaphore Handle
)

// ResourceKind is the closed set of handle kinds the deferred deleter can
// destroy. Keeping it closed makes the destroy dispatch exhaustive instead
// of duck-typed.
type ResourceKind uint8

const (
	ResourceImage ResourceKind = iota
	ResourceImageView
	ResourceBuffer
	ResourceMemory
	ResourceSemaphore
	ResourceFence
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceImage:
		return "image"
	case ResourceImageView:
		return "image_view"
	case ResourceBuffer:
		return "buffer"
	case ResourceMemory:
		return "memory"
	case ResourceSemaphore:
		return "semaphore"
	case ResourceFence:
		return "fence"
	}
	return "unknown"
}

type Extent struct {
	Width  uint32
	Height uint32
}

func (e Extent) IsDegenerate() bool {
	return e.Width == 0 || e.Height == 0
}

type Format uint32

const (
	FormatUndefined Format = iota
	FormatB8G8R8A8Unorm
	FormatR8G8B8A8Unorm
	FormatR16G16B16A16Sfloat
	FormatD32Sfloat
	FormatD24UnormS8Uint
)

type ImageUsage uint32

const (
	ImageUsageColorAttachment ImageUsage = 1 << iota
	ImageUsageDepthStencilAttachment
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageTransferSrc
	ImageUsageTransferDst
)

type ImageSpec struct {
	Width  uint32
	Height uint32
	Format Format
	Usage  ImageUsage
}

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageIndirect
	BufferUsageVertex
)

// MemoryRequirements mirrors the native size/alignment/dedication query for
// a created-but-unbound resource.
type MemoryRequirements struct {
	Size      uint64
	Alignment uint64
	// Bitmask of device memory types the resource may be bound to. Bit i set
	// means memory type index i is acceptable.
	MemoryTypeBits uint32
	// The driver prefers a dedicated allocation for this resource.
	PrefersDedicated bool
	// The driver requires a dedicated allocation for this resource.
	RequiresDedicated bool
}

// MemoryTypeBitsAny accepts every memory type; used for pool allocations made
// before any resource's requirements are known.
const MemoryTypeBitsAny = ^uint32(0)

// Limits carries the device offset-alignment rules consumed by the region
// partitioner.
type Limits struct {
	OptimalBufferCopyOffsetAlignment uint64
	UniformBufferOffsetAlignment     uint64
	StorageBufferOffsetAlignment     uint64
}

// ImageBundle groups an image with the view and memory that travel with it.
// The deferred deleter destructures it field by field.
type ImageBundle struct {
	Handle Image
	View   ImageView
	Memory Memory
}

// SurfaceState reports the presentable surface condition after an acquire or
// present. Suboptimal and out-of-date are routine transient conditions, not
// failures.
type SurfaceState uint8

const (
	SurfaceOptimal SurfaceState = iota
	SurfaceSuboptimal
	SurfaceOutOfDate
)

func (s SurfaceState) String() string {
	switch s {
	case SurfaceOptimal:
		return "optimal"
	case SurfaceSuboptimal:
		return "suboptimal"
	case SurfaceOutOfDate:
		return "out_of_date"
	}
	return "unknown"
}
