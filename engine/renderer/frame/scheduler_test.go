package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vortex/engine/renderer/gpu"
	"github.com/spaghettifunk/vortex/engine/renderer/gpu/gputest"
)

func newTestScheduler(t *testing.T, framesInFlight uint32) (*Scheduler, *gputest.FakeDevice, *gputest.FakeQueue, *gputest.FakeSurface) {
	t.Helper()
	device := gputest.NewFakeDevice()
	queue := gputest.NewFakeQueue(device)
	surface := gputest.NewFakeSurface(gpu.Extent{Width: 1280, Height: 720})
	scheduler, err := NewScheduler(device, queue, surface, &gputest.FakeCommandFactory{}, framesInFlight, DeleterConfig{Capacity: 8})
	require.NoError(t, err)
	return scheduler, device, queue, surface
}

func runFrame(t *testing.T, s *Scheduler, extent gpu.Extent) {
	t.Helper()
	require.NoError(t, s.BeginFrame())
	_, err := s.AcquireImage(extent)
	require.NoError(t, err)
	require.NoError(t, s.EndFrame(true))
}

func TestSchedulerSlotSequenceRoundRobin(t *testing.T) {
	scheduler, _, _, surface := newTestScheduler(t, 2)

	var slots []uint32
	for i := 0; i < 5; i++ {
		slots = append(slots, scheduler.SlotIndex())
		runFrame(t, scheduler, surface.Extent())
	}

	assert.Equal(t, []uint32{0, 1, 0, 1, 0}, slots)
	assert.Equal(t, uint64(5), scheduler.FrameNumber())
}

func TestSchedulerBeginFrameGatesOnSlotFence(t *testing.T) {
	scheduler, device, queue, surface := newTestScheduler(t, 2)

	// The fake device fails a fence wait outright when the fence is neither
	// signaled nor pending a submission, so three clean frames prove every
	// BeginFrame found its slot's fence signaled or drainable.
	for i := 0; i < 3; i++ {
		runFrame(t, scheduler, surface.Extent())
	}

	// One wait per frame, alternating between the two slot fences.
	require.Len(t, device.FenceWaits, 3)
	assert.Equal(t, device.FenceWaits[0], device.FenceWaits[2])
	assert.NotEqual(t, device.FenceWaits[0], device.FenceWaits[1])

	// Every submission carried the slot fence so the GPU can release it.
	require.Len(t, queue.Submissions, 3)
	for _, sub := range queue.Submissions {
		assert.NotEqual(t, gpu.Fence(gpu.NilHandle), sub.Fence)
	}
}

func TestSchedulerCommandResetAndDeleterFlushOnBegin(t *testing.T) {
	device := gputest.NewFakeDevice()
	queue := gputest.NewFakeQueue(device)
	surface := gputest.NewFakeSurface(gpu.Extent{Width: 64, Height: 64})
	factory := &gputest.FakeCommandFactory{}
	scheduler, err := NewScheduler(device, queue, surface, factory, 2, DeleterConfig{Capacity: 8})
	require.NoError(t, err)

	require.NoError(t, scheduler.BeginFrame())
	_, err = scheduler.AcquireImage(surface.Extent())
	require.NoError(t, err)
	// Retire a handle during slot 0's frame.
	scheduler.Deleter().Append(gpu.ResourceBuffer, 100)
	require.NoError(t, scheduler.EndFrame(true))

	// Frame 1 runs in slot 1; slot 0's queue must stay intact.
	runFrame(t, scheduler, surface.Extent())
	assert.Empty(t, device.Destroyed)

	// Frame 2 reuses slot 0: the handle is destroyed at BeginFrame, exactly
	// framesInFlight frames after it was appended.
	require.NoError(t, scheduler.BeginFrame())
	require.Len(t, device.Destroyed, 1)
	assert.Equal(t, gputest.DestroyRecord{Kind: gpu.ResourceBuffer, Handle: 100}, device.Destroyed[0])
	_, err = scheduler.AcquireImage(surface.Extent())
	require.NoError(t, err)
	require.NoError(t, scheduler.EndFrame(true))

	// Command resources are recycled once per frame in their slot.
	require.Len(t, factory.Created, 2)
	assert.Equal(t, 2, factory.Created[0].Resets)
	assert.Equal(t, 1, factory.Created[1].Resets)
}

func TestSchedulerBeginsAndEndsCommandsEveryFrame(t *testing.T) {
	device := gputest.NewFakeDevice()
	queue := gputest.NewFakeQueue(device)
	surface := gputest.NewFakeSurface(gpu.Extent{Width: 64, Height: 64})
	factory := &gputest.FakeCommandFactory{}
	scheduler, err := NewScheduler(device, queue, surface, factory, 2, DeleterConfig{Capacity: 8})
	require.NoError(t, err)

	// One presented frame and one no-present frame; the fake queue rejects
	// any buffer without a closed Begin/End pair, so the submissions
	// succeeding proves each slot's buffer was bracketed before submit.
	runFrame(t, scheduler, surface.Extent())
	require.NoError(t, scheduler.BeginFrame())
	require.NoError(t, scheduler.EndFrame(false))

	require.Len(t, queue.Submissions, 2)
	require.Len(t, factory.Created, 2)
	for _, cmds := range factory.Created {
		assert.Equal(t, 1, cmds.Begins)
		assert.Equal(t, 1, cmds.Ends)
	}
}

func TestSchedulerRecreatesOnOutOfDateAcquire(t *testing.T) {
	scheduler, _, _, surface := newTestScheduler(t, 2)
	surface.AcquireStates = []gpu.SurfaceState{gpu.SurfaceOutOfDate}

	require.NoError(t, scheduler.BeginFrame())
	_, err := scheduler.AcquireImage(gpu.Extent{Width: 800, Height: 600})
	require.NoError(t, err)

	require.Len(t, surface.Recreates, 1)
	assert.Equal(t, gpu.Extent{Width: 800, Height: 600}, surface.Recreates[0])
	require.NoError(t, scheduler.EndFrame(true))
}

func TestSchedulerAcquireRetryIsBounded(t *testing.T) {
	scheduler, _, _, surface := newTestScheduler(t, 2)
	surface.AcquireStates = []gpu.SurfaceState{
		gpu.SurfaceOutOfDate, gpu.SurfaceOutOfDate, gpu.SurfaceOutOfDate,
	}

	require.NoError(t, scheduler.BeginFrame())
	_, err := scheduler.AcquireImage(surface.Extent())
	require.Error(t, err)
}

func TestSchedulerSuboptimalPresentSchedulesRecreation(t *testing.T) {
	scheduler, _, _, surface := newTestScheduler(t, 2)
	surface.PresentStates = []gpu.SurfaceState{gpu.SurfaceSuboptimal}

	runFrame(t, scheduler, surface.Extent())
	assert.Empty(t, surface.Recreates, "suboptimal present must not recreate mid-frame")

	// The next acquire recreates first, against the extent it is given.
	require.NoError(t, scheduler.BeginFrame())
	_, err := scheduler.AcquireImage(gpu.Extent{Width: 1920, Height: 1080})
	require.NoError(t, err)
	require.Len(t, surface.Recreates, 1)
	assert.Equal(t, gpu.Extent{Width: 1920, Height: 1080}, surface.Recreates[0])
	require.NoError(t, scheduler.EndFrame(true))
}

func TestSchedulerNoPresentFrameStillCyclesSlot(t *testing.T) {
	scheduler, _, queue, surface := newTestScheduler(t, 2)

	require.NoError(t, scheduler.BeginFrame())
	require.NoError(t, scheduler.EndFrame(false))

	// The slot advanced and the empty submission carried the fence but no
	// semaphores and no present.
	assert.Equal(t, uint32(1), scheduler.SlotIndex())
	require.Len(t, queue.Submissions, 1)
	assert.Equal(t, gpu.Semaphore(gpu.NilHandle), queue.Submissions[0].Wait)
	assert.Equal(t, gpu.Semaphore(gpu.NilHandle), queue.Submissions[0].Signal)
	assert.NotEqual(t, gpu.Fence(gpu.NilHandle), queue.Submissions[0].Fence)
	assert.Empty(t, surface.Presented)

	// The fence still cycles, so the slot can be reused normally.
	runFrame(t, scheduler, surface.Extent())
	require.NoError(t, scheduler.BeginFrame())
	require.NoError(t, scheduler.EndFrame(false))
}

func TestSchedulerShutdownDestroysSyncObjects(t *testing.T) {
	scheduler, device, _, surface := newTestScheduler(t, 2)
	runFrame(t, scheduler, surface.Extent())

	require.NoError(t, scheduler.Shutdown())
	assert.Equal(t, 1, device.IdleWaits)

	var semaphores, fences int
	for _, rec := range device.Destroyed {
		switch rec.Kind {
		case gpu.ResourceSemaphore:
			semaphores++
		case gpu.ResourceFence:
			fences++
		}
	}
	assert.Equal(t, 4, semaphores)
	assert.Equal(t, 2, fences)
}
