// Package gputest provides an in-memory Device/Surface/Queue used by the
// lifecycle packages' tests. It hands out monotonically increasing handles,
// records every destroy in order and simulates fence completion: a fence
// submitted with work signals the moment something waits on it.
package gputest

import (
	"fmt"

	"github.com/spaghettifunk/vortex/engine/renderer/gpu"
)

type DestroyRecord struct {
	Kind   gpu.ResourceKind
	Handle gpu.Handle
}

type fenceState uint8

const (
	fenceUnsignaled fenceState = iota
	fenceSignaled
	fencePending
)

type FakeDevice struct {
	DeviceLimits gpu.Limits

	// ImageRequirements overrides the default requirements query
	// (size = width*height*4, alignment 256, no dedication).
	ImageRequirements func(spec gpu.ImageSpec) gpu.MemoryRequirements

	nextHandle gpu.Handle
	fences     map[gpu.Fence]fenceState
	mappings   map[gpu.Memory][]byte
	memSizes   map[gpu.Memory]uint64
	imageSpecs map[gpu.Image]gpu.ImageSpec

	Destroyed     []DestroyRecord
	FreedMemory   []gpu.Memory
	FenceWaits    []gpu.Fence
	CreatedImages []gpu.ImageSpec
	AllocTypeBits []uint32
	IdleWaits     int
}

func NewFakeDevice() *FakeDevice {
	return &FakeDevice{
		DeviceLimits: gpu.Limits{
			OptimalBufferCopyOffsetAlignment: 4,
			UniformBufferOffsetAlignment:     256,
			StorageBufferOffsetAlignment:     64,
		},
		fences:     make(map[gpu.Fence]fenceState),
		mappings:   make(map[gpu.Memory][]byte),
		memSizes:   make(map[gpu.Memory]uint64),
		imageSpecs: make(map[gpu.Image]gpu.ImageSpec),
	}
}

func (d *FakeDevice) handle() gpu.Handle {
	d.nextHandle++
	return d.nextHandle
}

func (d *FakeDevice) Limits() gpu.Limits { return d.DeviceLimits }

func (d *FakeDevice) AllocateMemory(size uint64, typeBits uint32, hostVisible bool) (gpu.Memory, error) {
	if typeBits == 0 {
		return 0, fmt.Errorf("allocation of %d bytes with empty memory type mask", size)
	}
	d.AllocTypeBits = append(d.AllocTypeBits, typeBits)
	mem := gpu.Memory(d.handle())
	d.memSizes[mem] = size
	if hostVisible {
		d.mappings[mem] = make([]byte, size)
	}
	return mem, nil
}

func (d *FakeDevice) FreeMemory(mem gpu.Memory) {
	d.FreedMemory = append(d.FreedMemory, mem)
	delete(d.mappings, mem)
	delete(d.memSizes, mem)
}

func (d *FakeDevice) MapMemory(mem gpu.Memory, offset, size uint64) ([]byte, error) {
	backing, ok := d.mappings[mem]
	if !ok {
		return nil, fmt.Errorf("memory %d is not host visible", mem)
	}
	if offset+size > uint64(len(backing)) {
		return nil, fmt.Errorf("map of [%d, %d) exceeds allocation size %d", offset, offset+size, len(backing))
	}
	return backing[offset : offset+size], nil
}

func (d *FakeDevice) CreateImage(spec gpu.ImageSpec) (gpu.Image, error) {
	img := gpu.Image(d.handle())
	d.imageSpecs[img] = spec
	d.CreatedImages = append(d.CreatedImages, spec)
	return img, nil
}

func (d *FakeDevice) ImageMemoryRequirements(img gpu.Image) gpu.MemoryRequirements {
	spec := d.imageSpecs[img]
	if d.ImageRequirements != nil {
		return d.ImageRequirements(spec)
	}
	return gpu.MemoryRequirements{
		Size:           uint64(spec.Width) * uint64(spec.Height) * 4,
		Alignment:      256,
		MemoryTypeBits: ^uint32(0),
	}
}

func (d *FakeDevice) BindImageMemory(img gpu.Image, mem gpu.Memory, offset uint64) error {
	return nil
}

func (d *FakeDevice) CreateImageView(img gpu.Image, spec gpu.ImageSpec) (gpu.ImageView, error) {
	return gpu.ImageView(d.handle()), nil
}

func (d *FakeDevice) CreateBuffer(size uint64, usage gpu.BufferUsage) (gpu.Buffer, error) {
	buf := gpu.Buffer(d.handle())
	d.memSizes[gpu.Memory(buf)] = size
	return buf, nil
}

func (d *FakeDevice) BufferMemoryRequirements(buf gpu.Buffer) gpu.MemoryRequirements {
	return gpu.MemoryRequirements{
		Size:           d.memSizes[gpu.Memory(buf)],
		Alignment:      256,
		MemoryTypeBits: ^uint32(0),
	}
}

func (d *FakeDevice) BindBufferMemory(buf gpu.Buffer, mem gpu.Memory, offset uint64) error {
	return nil
}

func (d *FakeDevice) CreateFence(signaled bool) (gpu.Fence, error) {
	f := gpu.Fence(d.handle())
	if signaled {
		d.fences[f] = fenceSignaled
	} else {
		d.fences[f] = fenceUnsignaled
	}
	return f, nil
}

func (d *FakeDevice) WaitFence(f gpu.Fence) error {
	d.FenceWaits = append(d.FenceWaits, f)
	switch d.fences[f] {
	case fenceSignaled:
		return nil
	case fencePending:
		// The simulated GPU finishes the slot's work the moment the CPU
		// blocks on it.
		d.fences[f] = fenceSignaled
		return nil
	default:
		return fmt.Errorf("wait on fence %d with no submission pending", f)
	}
}

func (d *FakeDevice) ResetFence(f gpu.Fence) error {
	d.fences[f] = fenceUnsignaled
	return nil
}

// SubmitFence marks a fence as pending GPU completion. The fake Queue calls
// this on Submit.
func (d *FakeDevice) SubmitFence(f gpu.Fence) {
	if f != gpu.Fence(gpu.NilHandle) {
		d.fences[f] = fencePending
	}
}

func (d *FakeDevice) CreateSemaphore() (gpu.Semaphore, error) {
	return gpu.Semaphore(d.handle()), nil
}

func (d *FakeDevice) Destroy(kind gpu.ResourceKind, h gpu.Handle) {
	d.Destroyed = append(d.Destroyed, DestroyRecord{Kind: kind, Handle: h})
}

func (d *FakeDevice) WaitIdle() error {
	d.IdleWaits++
	return nil
}

type Submission struct {
	Cmds   gpu.CommandResources
	Wait   gpu.Semaphore
	Signal gpu.Semaphore
	Fence  gpu.Fence
}

type FakeQueue struct {
	device      *FakeDevice
	Submissions []Submission
}

func NewFakeQueue(device *FakeDevice) *FakeQueue {
	return &FakeQueue{device: device}
}

func (q *FakeQueue) Submit(cmds gpu.CommandResources, wait, signal gpu.Semaphore, fence gpu.Fence) error {
	if fc, ok := cmds.(*FakeCommands); ok && !fc.recorded {
		return fmt.Errorf("command buffer submitted without a closed Begin/End pair")
	}
	q.Submissions = append(q.Submissions, Submission{Cmds: cmds, Wait: wait, Signal: signal, Fence: fence})
	q.device.SubmitFence(fence)
	return nil
}

func (q *FakeQueue) WaitIdle() error { return nil }

// FakeCommands tracks the recording state machine so the fake queue can
// reject submissions of never-begun or still-open buffers, the way a
// validation layer would.
type FakeCommands struct {
	Resets int
	Begins int
	Ends   int
	Freed  bool

	open     bool
	recorded bool
}

func (c *FakeCommands) Reset() error {
	c.Resets++
	c.open = false
	c.recorded = false
	return nil
}

func (c *FakeCommands) Begin() error {
	if c.open {
		return fmt.Errorf("begin on a command buffer already recording")
	}
	c.Begins++
	c.open = true
	c.recorded = false
	return nil
}

func (c *FakeCommands) End() error {
	if !c.open {
		return fmt.Errorf("end on a command buffer that was never begun")
	}
	c.Ends++
	c.open = false
	c.recorded = true
	return nil
}

func (c *FakeCommands) Free() { c.Freed = true }

type FakeCommandFactory struct {
	Created []*FakeCommands
}

func (f *FakeCommandFactory) CreateCommandResources() (gpu.CommandResources, error) {
	c := &FakeCommands{}
	f.Created = append(f.Created, c)
	return c, nil
}

// FakeSurface simulates swapchain acquire/present. States for upcoming
// acquires and presents can be scripted by pushing onto AcquireStates and
// PresentStates; unscripted calls report SurfaceOptimal.
type FakeSurface struct {
	CurrentExtent gpu.Extent
	Images        uint32

	AcquireStates []gpu.SurfaceState
	PresentStates []gpu.SurfaceState

	// RecreateFails forces the next n Recreate calls to fail.
	RecreateFails int

	Acquired  []uint32
	Presented []uint32
	Recreates []gpu.Extent

	nextImage uint32
}

func NewFakeSurface(extent gpu.Extent) *FakeSurface {
	return &FakeSurface{CurrentExtent: extent, Images: 3}
}

func (s *FakeSurface) AcquireNextImage(signal gpu.Semaphore) (uint32, gpu.SurfaceState, error) {
	state := gpu.SurfaceOptimal
	if len(s.AcquireStates) > 0 {
		state = s.AcquireStates[0]
		s.AcquireStates = s.AcquireStates[1:]
	}
	if state == gpu.SurfaceOutOfDate {
		return 0, state, nil
	}
	idx := s.nextImage
	s.nextImage = (s.nextImage + 1) % s.Images
	s.Acquired = append(s.Acquired, idx)
	return idx, state, nil
}

func (s *FakeSurface) Present(wait gpu.Semaphore, imageIndex uint32) (gpu.SurfaceState, error) {
	s.Presented = append(s.Presented, imageIndex)
	state := gpu.SurfaceOptimal
	if len(s.PresentStates) > 0 {
		state = s.PresentStates[0]
		s.PresentStates = s.PresentStates[1:]
	}
	return state, nil
}

func (s *FakeSurface) Recreate(extent gpu.Extent) error {
	if s.RecreateFails > 0 {
		s.RecreateFails--
		return fmt.Errorf("surface recreation failed")
	}
	s.Recreates = append(s.Recreates, extent)
	s.CurrentExtent = extent
	s.nextImage = 0
	return nil
}

func (s *FakeSurface) Extent() gpu.Extent { return s.CurrentExtent }
func (s *FakeSurface) ImageCount() uint32 { return s.Images }
