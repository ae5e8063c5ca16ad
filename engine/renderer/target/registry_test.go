package target

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vortex/engine/core"
	"github.com/spaghettifunk/vortex/engine/renderer/gpu"
	"github.com/spaghettifunk/vortex/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/vortex/engine/renderer/memory"
)

func newTestRegistry(t *testing.T, cfg Config, physical gpu.Extent) (*Registry, *gputest.FakeDevice) {
	t.Helper()
	device := gputest.NewFakeDevice()
	pages, err := memory.NewPageAllocator(device, memory.PageAllocatorConfig{PageSize: 1 << 26, InitialPages: 1})
	require.NoError(t, err)
	registry, err := NewRegistry(device, pages, cfg, physical)
	require.NoError(t, err)
	return registry, device
}

func TestRegistryTracksWhichHandlesWereIssued(t *testing.T) {
	registry, _ := newTestRegistry(t, Config{
		Capacity:      4,
		VirtualExtent: gpu.Extent{Width: 1920, Height: 1080},
	}, gpu.Extent{Width: 1920, Height: 1080})

	handle, err := registry.Alloc(gpu.ImageSpec{Width: 64, Height: 64, Format: gpu.FormatR8G8B8A8Unorm})
	require.NoError(t, err)

	// Get guards on this predicate before touching the parallel arrays, so a
	// stale or fabricated handle dies with a contract message instead of an
	// index panic.
	assert.True(t, registry.valid(handle))
	assert.False(t, registry.valid(handle+1))
	assert.False(t, registry.valid(Handle(99)))
}

func TestRegistryMaterializesAtScaledExtent(t *testing.T) {
	registry, device := newTestRegistry(t, Config{
		Capacity:      8,
		VirtualExtent: gpu.Extent{Width: 1920, Height: 1080},
	}, gpu.Extent{Width: 960, Height: 540})

	_, err := registry.Alloc(gpu.ImageSpec{Width: 1920, Height: 1080, Format: gpu.FormatR8G8B8A8Unorm, Usage: gpu.ImageUsageColorAttachment})
	require.NoError(t, err)
	_, err = registry.Alloc(gpu.ImageSpec{Width: 400, Height: 300, Format: gpu.FormatR8G8B8A8Unorm, Usage: gpu.ImageUsageSampled})
	require.NoError(t, err)
	// 333 * 0.5 floors to 166.
	_, err = registry.Alloc(gpu.ImageSpec{Width: 333, Height: 333, Format: gpu.FormatR8G8B8A8Unorm})
	require.NoError(t, err)

	require.Len(t, device.CreatedImages, 3)
	assert.Equal(t, uint32(960), device.CreatedImages[0].Width)
	assert.Equal(t, uint32(540), device.CreatedImages[0].Height)
	assert.Equal(t, uint32(200), device.CreatedImages[1].Width)
	assert.Equal(t, uint32(150), device.CreatedImages[1].Height)
	assert.Equal(t, uint32(166), device.CreatedImages[2].Width)
	assert.Equal(t, uint32(166), device.CreatedImages[2].Height)
}

func TestRegistryHandlesSurviveRecreate(t *testing.T) {
	registry, device := newTestRegistry(t, Config{
		Capacity:      8,
		VirtualExtent: gpu.Extent{Width: 1920, Height: 1080},
	}, gpu.Extent{Width: 960, Height: 540})

	color, err := registry.Alloc(gpu.ImageSpec{Width: 1920, Height: 1080, Format: gpu.FormatR8G8B8A8Unorm, Usage: gpu.ImageUsageColorAttachment})
	require.NoError(t, err)
	depth, err := registry.Alloc(gpu.ImageSpec{Width: 1920, Height: 1080, Format: gpu.FormatD32Sfloat, Usage: gpu.ImageUsageDepthStencilAttachment})
	require.NoError(t, err)

	oldColor := registry.Get(color)
	oldDepth := registry.Get(depth)

	require.NoError(t, registry.Recreate(gpu.Extent{Width: 1920, Height: 1080}))

	// Both old images and their views were destroyed.
	var views, images int
	for _, rec := range device.Destroyed {
		switch rec.Kind {
		case gpu.ResourceImageView:
			views++
		case gpu.ResourceImage:
			images++
		}
	}
	assert.Equal(t, 2, views)
	assert.Equal(t, 2, images)

	// The same handles now resolve to fresh images at the new extent.
	newColor := registry.Get(color)
	newDepth := registry.Get(depth)
	assert.NotEqual(t, oldColor.Handle, newColor.Handle)
	assert.NotEqual(t, oldDepth.Handle, newDepth.Handle)

	require.Len(t, device.CreatedImages, 4)
	assert.Equal(t, uint32(1920), device.CreatedImages[2].Width)
	assert.Equal(t, uint32(1080), device.CreatedImages[2].Height)
	assert.Equal(t, gpu.FormatD32Sfloat, device.CreatedImages[3].Format)
	assert.Equal(t, gpu.Extent{Width: 1920, Height: 1080}, registry.PhysicalExtent())
}

func TestRegistryAllocFailsPastCapacity(t *testing.T) {
	registry, _ := newTestRegistry(t, Config{
		Capacity:      1,
		VirtualExtent: gpu.Extent{Width: 1920, Height: 1080},
	}, gpu.Extent{Width: 1920, Height: 1080})

	_, err := registry.Alloc(gpu.ImageSpec{Width: 64, Height: 64, Format: gpu.FormatR8G8B8A8Unorm})
	require.NoError(t, err)
	_, err = registry.Alloc(gpu.ImageSpec{Width: 64, Height: 64, Format: gpu.FormatR8G8B8A8Unorm})
	assert.Error(t, err)
}

func TestRegistrySuboptimalDebouncesResizes(t *testing.T) {
	registry, _ := newTestRegistry(t, Config{
		Capacity:      1,
		VirtualExtent: gpu.Extent{Width: 1920, Height: 1080},
		QuiescenceMs:  20,
	}, gpu.Extent{Width: 800, Height: 600})

	timer := core.NewClock()

	// Unchanged or degenerate extents never trigger.
	assert.False(t, registry.Suboptimal(timer, gpu.Extent{Width: 800, Height: 600}))
	assert.False(t, registry.Suboptimal(timer, gpu.Extent{Width: 0, Height: 600}))

	// A mid-drag change with a freshly started timer stays quiet.
	timer.Start()
	assert.False(t, registry.Suboptimal(timer, gpu.Extent{Width: 810, Height: 600}))

	// Once the resize has been quiet past the window it fires.
	time.Sleep(30 * time.Millisecond)
	assert.True(t, registry.Suboptimal(timer, gpu.Extent{Width: 810, Height: 600}))
}

func TestRegistrySuboptimalScaleJumpBypassesDebounce(t *testing.T) {
	registry, _ := newTestRegistry(t, Config{
		Capacity:      1,
		VirtualExtent: gpu.Extent{Width: 1920, Height: 1080},
		QuiescenceMs:  10_000,
	}, gpu.Extent{Width: 100, Height: 100})

	timer := core.NewClock()
	timer.Start()

	// An 8x jump in either dimension recreates immediately.
	assert.True(t, registry.Suboptimal(timer, gpu.Extent{Width: 800, Height: 100}))
	assert.True(t, registry.Suboptimal(timer, gpu.Extent{Width: 100, Height: 800}))
	assert.False(t, registry.Suboptimal(timer, gpu.Extent{Width: 500, Height: 500}))
}

func TestRegistryDestroyReleasesEveryImage(t *testing.T) {
	registry, device := newTestRegistry(t, Config{
		Capacity:      4,
		VirtualExtent: gpu.Extent{Width: 1920, Height: 1080},
	}, gpu.Extent{Width: 1920, Height: 1080})

	for i := 0; i < 3; i++ {
		_, err := registry.Alloc(gpu.ImageSpec{Width: 64, Height: 64, Format: gpu.FormatR8G8B8A8Unorm})
		require.NoError(t, err)
	}

	registry.Destroy()
	assert.Len(t, device.Destroyed, 6)
}
