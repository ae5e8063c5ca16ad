package target

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/vortex/engine/core"
	"github.com/spaghettifunk/vortex/engine/renderer/gpu"
	"github.com/spaghettifunk/vortex/engine/renderer/memory"
)

// Handle is a stable index into the registry. It survives every Recreate;
// the image it resolves to does not.
type Handle uint32

type Config struct {
	// Maximum number of render targets; fixed at construction.
	Capacity uint32
	// The resolution-independent coordinate system target sizes are declared
	// against.
	VirtualExtent gpu.Extent
	// A candidate extent at least this many times larger in one dimension
	// recreates immediately.
	ScaleThreshold float64
	// How long a resize must stay quiet before recreation, in milliseconds.
	QuiescenceMs float64
}

// Registry hands out stable handles to window-size-relative images. Images
// are declared against the virtual extent and materialized scaled to the
// physical output extent; Recreate rebuilds every image at a new physical
// extent while handles stay valid.
type Registry struct {
	device gpu.Device
	pages  *memory.PageAllocator
	cfg    Config

	physical gpu.Extent

	// Parallel arrays indexed by Handle.
	specs  []gpu.ImageSpec
	names  []string
	images []gpu.ImageBundle
	used   []bool
}

func NewRegistry(device gpu.Device, pages *memory.PageAllocator, cfg Config, physical gpu.Extent) (*Registry, error) {
	if cfg.Capacity == 0 {
		return nil, fmt.Errorf("render target capacity must be non-zero")
	}
	if cfg.VirtualExtent.IsDegenerate() {
		return nil, fmt.Errorf("virtual extent must be non-degenerate")
	}
	if cfg.ScaleThreshold <= 1 {
		cfg.ScaleThreshold = 8.0
	}
	if cfg.QuiescenceMs <= 0 {
		cfg.QuiescenceMs = 100.0
	}
	return &Registry{
		device:   device,
		pages:    pages,
		cfg:      cfg,
		physical: physical,
		specs:    make([]gpu.ImageSpec, 0, cfg.Capacity),
		names:    make([]string, 0, cfg.Capacity),
		images:   make([]gpu.ImageBundle, 0, cfg.Capacity),
		used:     make([]bool, 0, cfg.Capacity),
	}, nil
}

// Alloc registers a target declared at the virtual extent and materializes
// its backing image immediately at the current physical extent.
func (r *Registry) Alloc(spec gpu.ImageSpec) (Handle, error) {
	if uint32(len(r.specs)) == r.cfg.Capacity {
		return 0, fmt.Errorf("render target capacity %d exhausted", r.cfg.Capacity)
	}
	handle := Handle(len(r.specs))
	r.specs = append(r.specs, spec)
	r.names = append(r.names, uuid.New().String())
	r.images = append(r.images, gpu.ImageBundle{})
	r.used = append(r.used, false)

	if err := r.materialize(handle); err != nil {
		return 0, err
	}
	return handle, nil
}

// Get resolves a handle to its current image. The returned bundle becomes
// invalid the instant Recreate is called. Passing a handle this registry
// never issued is a contract violation.
func (r *Registry) Get(handle Handle) gpu.ImageBundle {
	if !r.valid(handle) {
		core.LogFatal("render target handle %d was never issued (%d registered)", handle, len(r.images))
	}
	r.used[handle] = true
	return r.images[handle]
}

func (r *Registry) valid(handle Handle) bool {
	return int(handle) < len(r.images)
}

// PhysicalExtent returns the output extent targets are currently
// materialized at.
func (r *Registry) PhysicalExtent() gpu.Extent {
	return r.physical
}

// ScaledExtent maps a virtual-space extent to the current physical extent,
// flooring toward zero after the floating-point scale.
func (r *Registry) ScaledExtent(virtual gpu.Extent) gpu.Extent {
	return gpu.Extent{
		Width:  uint32(float64(virtual.Width) * float64(r.physical.Width) / float64(r.cfg.VirtualExtent.Width)),
		Height: uint32(float64(virtual.Height) * float64(r.physical.Height) / float64(r.cfg.VirtualExtent.Height)),
	}
}

func (r *Registry) materialize(handle Handle) error {
	spec := r.specs[handle]
	scaled := r.ScaledExtent(gpu.Extent{Width: spec.Width, Height: spec.Height})
	spec.Width = scaled.Width
	spec.Height = scaled.Height

	alloc, err := r.pages.Alloc(spec)
	if err != nil {
		return fmt.Errorf("render target %s image allocation failed: %w", r.names[handle], err)
	}
	view, err := r.device.CreateImageView(alloc.Image, spec)
	if err != nil {
		return fmt.Errorf("render target %s view creation failed: %w", r.names[handle], err)
	}
	r.images[handle] = gpu.ImageBundle{Handle: alloc.Image, View: view, Memory: alloc.Memory}

	core.LogDebug("render target %s materialized at %dx%d", r.names[handle], spec.Width, spec.Height)
	return nil
}

// Recreate destroys every materialized image, reclaims the page allocator
// and re-materializes every handle in original allocation order at the new
// physical extent. Callers must have drained the GPU first; any previously
// fetched bundle is invalid from here on.
func (r *Registry) Recreate(newPhysical gpu.Extent) error {
	for i := range r.images {
		if !r.used[i] {
			core.LogWarn("render target %s was never used since the last recreate", r.names[i])
		}
		r.device.Destroy(gpu.ResourceImageView, gpu.Handle(r.images[i].View))
		r.device.Destroy(gpu.ResourceImage, gpu.Handle(r.images[i].Handle))
		r.images[i] = gpu.ImageBundle{}
		r.used[i] = false
	}

	// Page memory itself is reclaimed wholesale; the images placed in it
	// were destroyed just above.
	if err := r.pages.Reset(); err != nil {
		return err
	}

	r.physical = newPhysical
	for handle := range r.specs {
		if err := r.materialize(Handle(handle)); err != nil {
			return err
		}
	}

	core.LogInfo("recreated %d render targets at %dx%d", len(r.specs), newPhysical.Width, newPhysical.Height)
	return nil
}

// Suboptimal decides whether a resize to candidate warrants recreating now.
// It debounces continuous drag-resizes behind the quiescence window but
// responds immediately to drastic jumps such as a display change.
func (r *Registry) Suboptimal(resizeTimer *core.Clock, candidate gpu.Extent) bool {
	if candidate.IsDegenerate() {
		return false
	}
	if candidate == r.physical {
		return false
	}

	widthRatio := float64(candidate.Width) / float64(r.physical.Width)
	heightRatio := float64(candidate.Height) / float64(r.physical.Height)
	if widthRatio >= r.cfg.ScaleThreshold || heightRatio >= r.cfg.ScaleThreshold {
		return true
	}

	resizeTimer.Update()
	return resizeTimer.ElapsedMs() > r.cfg.QuiescenceMs
}

// Destroy tears down every image. The page allocator is left to its owner.
func (r *Registry) Destroy() {
	for i := range r.images {
		r.device.Destroy(gpu.ResourceImageView, gpu.Handle(r.images[i].View))
		r.device.Destroy(gpu.ResourceImage, gpu.Handle(r.images[i].Handle))
	}
	r.specs = nil
	r.names = nil
	r.images = nil
	r.used = nil
}
