package renderer

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/vortex/engine/config"
	"github.com/spaghettifunk/vortex/engine/core"
	"github.com/spaghettifunk/vortex/engine/platform"
	"github.com/spaghettifunk/vortex/engine/renderer/frame"
	"github.com/spaghettifunk/vortex/engine/renderer/gpu"
	"github.com/spaghettifunk/vortex/engine/renderer/memory"
	"github.com/spaghettifunk/vortex/engine/renderer/target"
	"github.com/spaghettifunk/vortex/engine/renderer/vulkan"
)

// Region names of the default shared-buffer layout.
const (
	RegionSceneGlobals = "scene_globals"
	RegionFrameUniform = "frame_uniform"
)

// Renderer is the frontend over the whole frame lifecycle: it owns the
// native backend, the slot scheduler, the page allocator, the partitioned
// uniform buffer, the render target registry and the pacer, and drives them
// once per frame. All methods run on the single submission thread.
type Renderer struct {
	platform *platform.Platform
	backend  *vulkan.Backend

	device    gpu.Device
	scheduler *frame.Scheduler
	pacer     *frame.Pacer
	pages     *memory.PageAllocator
	layout    *memory.Layout
	targets   *target.Registry

	cfg         *config.Config
	pendingCfg  *config.Config
	resizeTimer *core.Clock

	// Last framebuffer extent reported by the platform; zero until the
	// first resize event.
	candidateExtent gpu.Extent
}

func New(p *platform.Platform, cfg *config.Config) *Renderer {
	return &Renderer{
		platform:    p,
		backend:     vulkan.New(p, cfg.Renderer.ValidationMode),
		cfg:         cfg,
		resizeTimer: core.NewClock(),
	}
}

func (r *Renderer) Initialize() error {
	appCfg := r.cfg.Application
	if err := r.backend.Initialize(appCfg.Name, appCfg.StartWidth, appCfg.StartHeight); err != nil {
		return err
	}
	r.device = r.backend.Device()

	rc := r.cfg.Renderer

	scheduler, err := frame.NewScheduler(
		r.device,
		r.backend.Queue(),
		r.backend.Surface(),
		r.backend.CommandFactory(),
		rc.FramesInFlight,
		deleterConfig(rc))
	if err != nil {
		return err
	}
	r.scheduler = scheduler

	pages, err := memory.NewPageAllocator(r.device, memory.PageAllocatorConfig{
		PageSize:       rc.PageSize,
		InitialPages:   rc.InitialPages,
		ValidationMode: rc.ValidationMode,
	})
	if err != nil {
		return err
	}
	r.pages = pages

	layout, err := memory.Partition(r.device, []memory.RegionSpec{
		{Name: RegionSceneGlobals, Size: 256, Usage: gpu.BufferUsageUniform},
		{Name: RegionFrameUniform, Size: 512, Usage: gpu.BufferUsageUniform, PerFrame: true},
	}, rc.FramesInFlight, true)
	if err != nil {
		return err
	}
	r.layout = layout

	targets, err := target.NewRegistry(r.device, r.pages, target.Config{
		Capacity:       rc.RenderTargetCapacity,
		VirtualExtent:  gpu.Extent{Width: rc.VirtualWidth, Height: rc.VirtualHeight},
		ScaleThreshold: rc.ResizeScaleThreshold,
		QuiescenceMs:   rc.ResizeQuiescenceMs,
	}, r.backend.Surface().Extent())
	if err != nil {
		return err
	}
	r.targets = targets

	r.pacer = frame.NewPacer(pacerOptions(r.cfg.Pacing))

	r.platform.OnResize(r.Resized)

	core.LogInfo("renderer initialized with %d frames in flight", rc.FramesInFlight)
	return nil
}

func deleterConfig(rc config.RendererConfig) frame.DeleterConfig {
	return frame.DeleterConfig{
		Capacity:     rc.DeleteQueueCapacity,
		WarnFraction: rc.DeleteQueueWarnFraction,
	}
}

func pacerOptions(pc config.PacingConfig) frame.PacerOptions {
	return frame.PacerOptions{
		RefreshRateHz:  pc.RefreshRateHz,
		HeadroomMs:     pc.HeadroomMs,
		OvershootMs:    pc.OvershootMs,
		OvershootScale: pc.OvershootScale,
		SleepRwa:       pc.SleepRwa,
		SmoothedRwa:    pc.SmoothedRwa,
		MaxSmoothedS:   pc.MaxSmoothedS,
	}
}

// CreateRenderTarget registers a window-relative target; the handle stays
// valid across every resize.
func (r *Renderer) CreateRenderTarget(spec gpu.ImageSpec) (target.Handle, error) {
	return r.targets.Alloc(spec)
}

func (r *Renderer) RenderTarget(handle target.Handle) gpu.ImageBundle {
	return r.targets.Get(handle)
}

// Layout exposes the partitioned shared buffer.
func (r *Renderer) Layout() *memory.Layout {
	return r.layout
}

// Deleter exposes the current slot's delete queue so callers can retire
// resources the GPU may still be reading.
func (r *Renderer) Deleter() *frame.DeferredDeleter {
	return r.scheduler.Deleter()
}

func (r *Renderer) FrameNumber() uint64 {
	return r.scheduler.FrameNumber()
}

func (r *Renderer) SlotIndex() uint32 {
	return r.scheduler.SlotIndex()
}

// Resized records the latest framebuffer extent. Recreation is debounced and
// happens at a frame boundary, never here.
func (r *Renderer) Resized(width, height uint32) {
	r.candidateExtent = gpu.Extent{Width: width, Height: height}
	r.resizeTimer.Start()
}

// ApplyConfig stages a reloaded config; it takes effect at the next frame
// boundary. Safe to call from the config watcher goroutine because the value
// is only read between frames.
func (r *Renderer) ApplyConfig(cfg *config.Config) {
	r.pendingCfg = cfg
}

func (r *Renderer) applyPendingConfig() {
	cfg := r.pendingCfg
	if cfg == nil {
		return
	}
	r.pendingCfg = nil

	r.pacer = frame.NewPacer(pacerOptions(cfg.Pacing))
	if cfg.Renderer != r.cfg.Renderer {
		core.LogWarn("renderer config changes require a restart; keeping current values")
	}
	r.cfg = cfg
}

// maybeRecreateTargets runs the resize debounce. Recreation drains the GPU,
// so it only happens when the registry says the resize has settled or
// jumped drastically.
func (r *Renderer) maybeRecreateTargets() error {
	if !r.targets.Suboptimal(r.resizeTimer, r.candidateExtent) {
		return nil
	}
	if err := r.scheduler.WaitIdle(); err != nil {
		return err
	}
	if err := r.targets.Recreate(r.candidateExtent); err != nil {
		return err
	}
	r.resizeTimer.Stop()
	return nil
}

// DrawFrame runs one full frame: config and resize application, slot
// acquisition, caller recording, submission, present and pacing. The record
// callback receives the slot's command resources and the acquired image
// index; a nil callback still cycles the frame.
func (r *Renderer) DrawFrame(record func(cmds gpu.CommandResources, imageIndex uint32) error) error {
	r.applyPendingConfig()

	if err := r.maybeRecreateTargets(); err != nil {
		return err
	}

	if err := r.scheduler.BeginFrame(); err != nil {
		return err
	}

	extent := r.targets.PhysicalExtent()
	imageIndex, err := r.scheduler.AcquireImage(extent)
	if err != nil {
		return err
	}

	if record != nil {
		if err := record(r.scheduler.Commands(), imageIndex); err != nil {
			// The slot must still advance or its fence never signals.
			if endErr := r.scheduler.EndFrame(false); endErr != nil {
				core.LogError("frame abandon failed: %s", endErr)
			}
			return fmt.Errorf("frame recording failed: %w", err)
		}
	}

	return r.scheduler.EndFrame(true)
}

// Pace hands the frame's measured slack to the pacer, once per frame after
// DrawFrame.
func (r *Renderer) Pace(slop time.Duration) {
	r.pacer.Sleep(slop)
}

func (r *Renderer) SmoothedDelta() float64 {
	return r.pacer.SmoothedDelta()
}

func (r *Renderer) SleepBudgetMs() float64 {
	return r.pacer.SleepBudgetMs()
}

// Shutdown drains the GPU and tears everything down in reverse creation
// order.
func (r *Renderer) Shutdown() error {
	if r.scheduler != nil {
		if err := r.scheduler.WaitIdle(); err != nil {
			core.LogError("wait idle on shutdown failed: %s", err)
		}
	}
	if r.targets != nil {
		r.targets.Destroy()
		r.targets = nil
	}
	if r.layout != nil {
		r.layout.Destroy(r.device)
		r.layout = nil
	}
	if r.pages != nil {
		r.pages.Destroy()
		r.pages = nil
	}
	if r.scheduler != nil {
		if err := r.scheduler.Shutdown(); err != nil {
			return err
		}
		r.scheduler = nil
	}
	r.backend.Shutdown()
	core.LogInfo("renderer shut down")
	return nil
}
