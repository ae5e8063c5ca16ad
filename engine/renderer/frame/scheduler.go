package frame

import (
	"fmt"

	"github.com/spaghettifunk/vortex/engine/core"
	"github.com/spaghettifunk/vortex/engine/renderer/gpu"
)

type phase uint8

const (
	phaseIdle phase = iota
	phaseAcquiring
	phaseRecording
	phaseSubmitted
)

// How many times AcquireImage will recreate the surface before giving up.
const maxAcquireAttempts = 3

type slot struct {
	// Signals when the GPU drained this slot's previous submission. Created
	// signaled so the first frame does not wait forever on work that was
	// never submitted.
	ready gpu.Fence
	// Signaled by the swapchain when the acquired image is available.
	imageAvailable gpu.Semaphore
	// Signaled by the queue when this slot's work completes; presentation
	// waits on it.
	queueComplete gpu.Semaphore
	commands      gpu.CommandResources
	deleter       *DeferredDeleter
}

// Scheduler serializes frame boundaries over a ring of frame slots. While
// the CPU records slot N, the GPU may still be draining up to
// framesInFlight-1 earlier slots; the slot-ready fence is the only thing
// that gates reuse. All methods run on the single submission thread.
type Scheduler struct {
	device  gpu.Device
	queue   gpu.Queue
	surface gpu.Surface

	slots   []slot
	current uint32

	imageIndex  uint32
	frameNumber uint64
	phase       phase

	// Set by a suboptimal/out-of-date present; consumed by the next
	// AcquireImage, which recreates before acquiring.
	outOfDate bool
}

func NewScheduler(device gpu.Device, queue gpu.Queue, surface gpu.Surface, factory gpu.CommandFactory, framesInFlight uint32, deleterCfg DeleterConfig) (*Scheduler, error) {
	if framesInFlight == 0 {
		return nil, fmt.Errorf("frames in flight must be at least 1")
	}

	s := &Scheduler{
		device:  device,
		queue:   queue,
		surface: surface,
		slots:   make([]slot, framesInFlight),
	}

	for i := range s.slots {
		fence, err := device.CreateFence(true)
		if err != nil {
			return nil, err
		}
		imageAvailable, err := device.CreateSemaphore()
		if err != nil {
			return nil, err
		}
		queueComplete, err := device.CreateSemaphore()
		if err != nil {
			return nil, err
		}
		commands, err := factory.CreateCommandResources()
		if err != nil {
			return nil, err
		}
		s.slots[i] = slot{
			ready:          fence,
			imageAvailable: imageAvailable,
			queueComplete:  queueComplete,
			commands:       commands,
			deleter:        NewDeferredDeleter(device, deleterCfg),
		}
	}

	core.LogInfo("frame scheduler initialized with %d frames in flight", framesInFlight)
	return s, nil
}

// BeginFrame blocks until the current slot's previous GPU work has drained,
// then recycles the slot's command resources and flushes its delete queue.
// This is the one mandatory blocking point besides acquire/present.
func (s *Scheduler) BeginFrame() error {
	if s.phase != phaseIdle {
		core.LogFatal("BeginFrame called while a frame is already open (slot %d)", s.current)
	}

	sl := &s.slots[s.current]
	if err := s.device.WaitFence(sl.ready); err != nil {
		return fmt.Errorf("slot %d ready fence wait failed: %w", s.current, err)
	}

	if err := sl.commands.Reset(); err != nil {
		return fmt.Errorf("slot %d command reset failed: %w", s.current, err)
	}
	if err := sl.commands.Begin(); err != nil {
		return fmt.Errorf("slot %d command begin failed: %w", s.current, err)
	}

	// Everything appended framesInFlight frames ago is now safe to destroy.
	sl.deleter.Reset()

	s.phase = phaseAcquiring
	return nil
}

// AcquireImage obtains the next presentable image, recreating the surface
// against extent first when a previous frame flagged it out of date. A
// recoverable out-of-date result from the acquire itself triggers another
// recreation; after maxAcquireAttempts the condition is no longer treated as
// transient and the error is returned.
func (s *Scheduler) AcquireImage(extent gpu.Extent) (uint32, error) {
	if s.phase != phaseAcquiring {
		core.LogFatal("AcquireImage called outside BeginFrame/EndFrame (slot %d)", s.current)
	}

	sl := &s.slots[s.current]

	if s.outOfDate {
		core.LogDebug("surface flagged out of date, recreating at %dx%d", extent.Width, extent.Height)
		if err := s.surface.Recreate(extent); err != nil {
			return 0, fmt.Errorf("surface recreation failed: %w", err)
		}
		s.outOfDate = false
	}

	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		imageIndex, state, err := s.surface.AcquireNextImage(sl.imageAvailable)
		if err != nil {
			return 0, fmt.Errorf("swapchain image acquisition failed: %w", err)
		}
		if state == gpu.SurfaceOutOfDate {
			core.LogDebug("acquire reported %s, recreating surface", state)
			if err := s.surface.Recreate(extent); err != nil {
				return 0, fmt.Errorf("surface recreation failed: %w", err)
			}
			continue
		}
		// Suboptimal at acquire time still yields a usable image; present
		// will flag the surface for recreation next frame.
		s.imageIndex = imageIndex
		s.phase = phaseRecording
		return imageIndex, nil
	}

	return 0, fmt.Errorf("failed to acquire a swapchain image after %d surface recreations", maxAcquireAttempts)
}

// EndFrame submits the slot's recorded work and, when present is true, hands
// the acquired image back to the swapchain. With present false the slot's
// work is still submitted so the ready fence cycles once the GPU drains it.
// The slot index advances unconditionally, success or not.
func (s *Scheduler) EndFrame(present bool) error {
	if s.phase != phaseRecording && s.phase != phaseAcquiring {
		core.LogFatal("EndFrame called without BeginFrame (slot %d)", s.current)
	}
	if present && s.phase != phaseRecording {
		core.LogFatal("EndFrame(present) called without an acquired image (slot %d)", s.current)
	}
	defer s.advance()

	sl := &s.slots[s.current]

	// The buffer was begun in BeginFrame; it must be ended before the queue
	// will accept it, even when nothing was recorded into it.
	if err := sl.commands.End(); err != nil {
		return fmt.Errorf("slot %d command end failed: %w", s.current, err)
	}

	if err := s.device.ResetFence(sl.ready); err != nil {
		return fmt.Errorf("slot %d fence reset failed: %w", s.current, err)
	}

	if !present {
		// No image to wait on or to hand back; an empty submission signals
		// the slot fence once the queue drains it.
		if err := s.queue.Submit(sl.commands, gpu.Semaphore(gpu.NilHandle), gpu.Semaphore(gpu.NilHandle), sl.ready); err != nil {
			return fmt.Errorf("slot %d no-present submission failed: %w", s.current, err)
		}
		return nil
	}

	if err := s.queue.Submit(sl.commands, sl.imageAvailable, sl.queueComplete, sl.ready); err != nil {
		return fmt.Errorf("slot %d queue submission failed: %w", s.current, err)
	}
	s.phase = phaseSubmitted

	state, err := s.surface.Present(sl.queueComplete, s.imageIndex)
	if err != nil {
		return fmt.Errorf("presentation failed: %w", err)
	}
	if state == gpu.SurfaceSuboptimal || state == gpu.SurfaceOutOfDate {
		// Routine transient condition; recreate on the next acquire rather
		// than surfacing an error for a frame that already presented.
		core.LogDebug("present reported %s, scheduling surface recreation", state)
		s.outOfDate = true
	}

	return nil
}

func (s *Scheduler) advance() {
	s.current = (s.current + 1) % uint32(len(s.slots))
	s.frameNumber++
	s.phase = phaseIdle
}

// Commands returns the current slot's command resources. Valid between
// BeginFrame and EndFrame.
func (s *Scheduler) Commands() gpu.CommandResources {
	return s.slots[s.current].commands
}

// Deleter returns the current slot's delete queue. Handles appended here are
// destroyed when this slot comes around again.
func (s *Scheduler) Deleter() *DeferredDeleter {
	return s.slots[s.current].deleter
}

func (s *Scheduler) SlotIndex() uint32 {
	return s.current
}

func (s *Scheduler) FrameNumber() uint64 {
	return s.frameNumber
}

func (s *Scheduler) ImageIndex() uint32 {
	return s.imageIndex
}

func (s *Scheduler) FramesInFlight() uint32 {
	return uint32(len(s.slots))
}

// WaitIdle blocks until the GPU drained everything. Teardown and diagnostics
// only.
func (s *Scheduler) WaitIdle() error {
	return s.device.WaitIdle()
}

// Shutdown drains the GPU, flushes every slot's delete queue and destroys
// the per-slot sync objects. The scheduler is unusable afterwards.
func (s *Scheduler) Shutdown() error {
	if err := s.device.WaitIdle(); err != nil {
		return err
	}
	for i := range s.slots {
		sl := &s.slots[i]
		sl.deleter.Reset()
		sl.commands.Free()
		s.device.Destroy(gpu.ResourceSemaphore, gpu.Handle(sl.imageAvailable))
		s.device.Destroy(gpu.ResourceSemaphore, gpu.Handle(sl.queueComplete))
		s.device.Destroy(gpu.ResourceFence, gpu.Handle(sl.ready))
	}
	s.slots = nil
	return nil
}
