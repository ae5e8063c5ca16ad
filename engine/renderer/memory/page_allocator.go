package memory

import (
	"fmt"

	"github.com/spaghettifunk/vortex/engine/core"
	"github.com/spaghettifunk/vortex/engine/mathx"
	"github.com/spaghettifunk/vortex/engine/renderer/gpu"
)

type PageAllocatorConfig struct {
	// Size of one bump-allocatable page in bytes.
	PageSize uint64
	// Pages reserved at construction. Running out is not an error, but every
	// on-demand page logs a warning.
	InitialPages uint32
	// Destroy and recreate page memory on Reset so stale references trip
	// validation instead of silently reading recycled memory.
	ValidationMode bool
}

type page struct {
	memory    gpu.Memory
	size      uint64
	offset    uint64
	typeBits  uint32
	dedicated bool
}

// ImageAllocation records where an image's memory lives. Page is a stable
// arena index; it survives Reset even when the page memory is recreated in
// validation mode.
type ImageAllocation struct {
	Image     gpu.Image
	Memory    gpu.Memory
	Page      int
	Offset    uint64
	Dedicated bool
}

// PageAllocator bump-allocates image memory out of fixed-size pages so
// callers never reason about native alignment or dedicated-allocation rules.
// Pages live in an arena addressed by stable indices; the available set is a
// LIFO stack, which keeps resources allocated together on the same page.
//
// The allocator has no visibility into individual resource lifetimes once
// placed: Reset may only be called after every resource placed since the
// previous Reset has been destroyed.
type PageAllocator struct {
	device gpu.Device
	cfg    PageAllocatorConfig

	pages     []page
	freeSlots []int
	available []int
	full      []int
}

func NewPageAllocator(device gpu.Device, cfg PageAllocatorConfig) (*PageAllocator, error) {
	if cfg.PageSize == 0 {
		return nil, fmt.Errorf("page size must be non-zero")
	}
	pa := &PageAllocator{
		device: device,
		cfg:    cfg,
	}
	for i := uint32(0); i < cfg.InitialPages; i++ {
		idx, err := pa.newPage(cfg.PageSize, gpu.MemoryTypeBitsAny, false)
		if err != nil {
			return nil, err
		}
		pa.available = append(pa.available, idx)
	}
	return pa, nil
}

func (pa *PageAllocator) newPage(size uint64, typeBits uint32, dedicated bool) (int, error) {
	mem, err := pa.device.AllocateMemory(size, typeBits, false)
	if err != nil {
		return 0, fmt.Errorf("page allocation of %d bytes failed: %w", size, err)
	}
	p := page{memory: mem, size: size, typeBits: typeBits, dedicated: dedicated}
	if n := len(pa.freeSlots); n > 0 {
		idx := pa.freeSlots[n-1]
		pa.freeSlots = pa.freeSlots[:n-1]
		pa.pages[idx] = p
		return idx, nil
	}
	pa.pages = append(pa.pages, p)
	return len(pa.pages) - 1, nil
}

// grabAvailable returns the most recently used available page, creating one
// on demand when the pool ran dry. Degrading to on-demand allocation beats
// failing the frame, hence warning instead of error.
func (pa *PageAllocator) grabAvailable() (int, error) {
	if len(pa.available) == 0 {
		core.LogWarn("page allocator out of reserved pages (%d in use); allocating on demand. Raise initial_pages", len(pa.full))
		idx, err := pa.newPage(pa.cfg.PageSize, gpu.MemoryTypeBitsAny, false)
		if err != nil {
			return 0, err
		}
		pa.available = append(pa.available, idx)
	}
	return pa.available[len(pa.available)-1], nil
}

// Alloc creates the image for spec and binds it either into a shared page or
// to a dedicated page of its own, following the driver's dedication
// preference. Requirement alignments are assumed to be powers of two, as the
// native API guarantees.
func (pa *PageAllocator) Alloc(spec gpu.ImageSpec) (ImageAllocation, error) {
	img, err := pa.device.CreateImage(spec)
	if err != nil {
		return ImageAllocation{}, fmt.Errorf("image creation failed: %w", err)
	}
	req := pa.device.ImageMemoryRequirements(img)

	if req.RequiresDedicated || req.PrefersDedicated || req.Size > pa.cfg.PageSize {
		// Sized exactly to the request, restricted to the image's acceptable
		// memory types and recorded straight into the full set; it will never
		// be bump-allocated into.
		idx, err := pa.newPage(req.Size, req.MemoryTypeBits, true)
		if err != nil {
			return ImageAllocation{}, err
		}
		pa.full = append(pa.full, idx)
		if err := pa.device.BindImageMemory(img, pa.pages[idx].memory, 0); err != nil {
			return ImageAllocation{}, fmt.Errorf("dedicated image bind failed: %w", err)
		}
		return ImageAllocation{Image: img, Memory: pa.pages[idx].memory, Page: idx, Dedicated: true}, nil
	}

	idx, err := pa.grabAvailable()
	if err != nil {
		return ImageAllocation{}, err
	}
	p := &pa.pages[idx]
	offset := mathx.AlignUp(p.offset, req.Alignment)
	if offset+req.Size > p.size {
		// Retire the page: cursor back to zero, move to the full set.
		p.offset = 0
		pa.full = append(pa.full, idx)
		pa.available = pa.available[:len(pa.available)-1]
		idx, err = pa.grabAvailable()
		if err != nil {
			return ImageAllocation{}, err
		}
		p = &pa.pages[idx]
		offset = mathx.AlignUp(p.offset, req.Alignment)
	}

	if err := pa.device.BindImageMemory(img, p.memory, offset); err != nil {
		return ImageAllocation{}, fmt.Errorf("image bind at offset %d failed: %w", offset, err)
	}
	p.offset = offset + req.Size

	return ImageAllocation{Image: img, Memory: p.memory, Page: idx, Offset: offset}, nil
}

// Reset reclaims every page. Non-dedicated full pages rejoin the available
// pool; dedicated pages are destroyed outright. In validation mode every
// surviving page's memory is destroyed and recreated so any stale handle
// shows up as a validation error instead of silent reuse.
//
// Precondition: every resource placed by this allocator since the previous
// Reset has already been destroyed.
func (pa *PageAllocator) Reset() error {
	for _, idx := range pa.available {
		if err := pa.refreshPage(idx); err != nil {
			return err
		}
	}
	for _, idx := range pa.full {
		p := &pa.pages[idx]
		if p.dedicated {
			pa.device.FreeMemory(p.memory)
			pa.pages[idx] = page{}
			pa.freeSlots = append(pa.freeSlots, idx)
			continue
		}
		if err := pa.refreshPage(idx); err != nil {
			return err
		}
		pa.available = append(pa.available, idx)
	}
	pa.full = pa.full[:0]
	return nil
}

func (pa *PageAllocator) refreshPage(idx int) error {
	p := &pa.pages[idx]
	if pa.cfg.ValidationMode {
		pa.device.FreeMemory(p.memory)
		mem, err := pa.device.AllocateMemory(p.size, p.typeBits, false)
		if err != nil {
			return fmt.Errorf("page refresh failed: %w", err)
		}
		p.memory = mem
	}
	p.offset = 0
	return nil
}

// Destroy frees every page. Same precondition as Reset.
func (pa *PageAllocator) Destroy() {
	for _, idx := range pa.available {
		pa.device.FreeMemory(pa.pages[idx].memory)
	}
	for _, idx := range pa.full {
		pa.device.FreeMemory(pa.pages[idx].memory)
	}
	pa.pages = nil
	pa.available = nil
	pa.full = nil
	pa.freeSlots = nil
}

// PageCount reports pages currently owned, for capacity diagnostics.
func (pa *PageAllocator) PageCount() int {
	return len(pa.available) + len(pa.full)
}
