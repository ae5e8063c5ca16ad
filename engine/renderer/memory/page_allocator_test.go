package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vortex/engine/renderer/gpu"
	"github.com/spaghettifunk/vortex/engine/renderer/gpu/gputest"
)

// 10x10 RGBA8 under the fake device: 400 bytes, 256 alignment.
func smallSpec() gpu.ImageSpec {
	return gpu.ImageSpec{Width: 10, Height: 10, Format: gpu.FormatR8G8B8A8Unorm, Usage: gpu.ImageUsageSampled}
}

func newTestAllocator(t *testing.T, cfg PageAllocatorConfig) (*PageAllocator, *gputest.FakeDevice) {
	t.Helper()
	device := gputest.NewFakeDevice()
	pa, err := NewPageAllocator(device, cfg)
	require.NoError(t, err)
	return pa, device
}

func TestPageAllocatorOffsetsStrictlyIncreaseWithinPage(t *testing.T) {
	pa, _ := newTestAllocator(t, PageAllocatorConfig{PageSize: 1 << 20, InitialPages: 1})

	var prev int64 = -1
	for i := 0; i < 16; i++ {
		alloc, err := pa.Alloc(smallSpec())
		require.NoError(t, err)
		assert.False(t, alloc.Dedicated)
		assert.Greater(t, int64(alloc.Offset), prev)
		assert.Zero(t, alloc.Offset%256, "offset must honor the requirement alignment")
		prev = int64(alloc.Offset)
	}
}

func TestPageAllocatorDedicatedAllocationHonorsMemoryTypeBits(t *testing.T) {
	pa, device := newTestAllocator(t, PageAllocatorConfig{PageSize: 1 << 20, InitialPages: 1})

	device.ImageRequirements = func(spec gpu.ImageSpec) gpu.MemoryRequirements {
		return gpu.MemoryRequirements{Size: 4096, Alignment: 256, MemoryTypeBits: 0b10, RequiresDedicated: true}
	}
	_, err := pa.Alloc(smallSpec())
	require.NoError(t, err)

	// Reserved pool pages accept any memory type; the dedicated page must be
	// pinned to the image's acceptable-type mask.
	require.Len(t, device.AllocTypeBits, 2)
	assert.Equal(t, gpu.MemoryTypeBitsAny, device.AllocTypeBits[0])
	assert.Equal(t, uint32(0b10), device.AllocTypeBits[1])
}

func TestPageAllocatorRetiresFullPages(t *testing.T) {
	// Two 400-byte images fit (0 and 512); the third spills to a new page.
	pa, _ := newTestAllocator(t, PageAllocatorConfig{PageSize: 1024, InitialPages: 2})

	first, err := pa.Alloc(smallSpec())
	require.NoError(t, err)
	second, err := pa.Alloc(smallSpec())
	require.NoError(t, err)
	third, err := pa.Alloc(smallSpec())
	require.NoError(t, err)

	assert.Equal(t, first.Page, second.Page)
	assert.NotEqual(t, first.Page, third.Page)
	assert.Equal(t, uint64(0), third.Offset, "a fresh page starts at the top")
	assert.Equal(t, 2, pa.PageCount())
}

func TestPageAllocatorGrowsOnDemandWhenExhausted(t *testing.T) {
	pa, _ := newTestAllocator(t, PageAllocatorConfig{PageSize: 512, InitialPages: 1})

	// Each 400-byte image consumes a whole 512-byte page; the second and
	// third force on-demand pages rather than failing.
	for i := 0; i < 3; i++ {
		_, err := pa.Alloc(smallSpec())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, pa.PageCount())
}

func TestPageAllocatorDedicatedNeverSharesAPage(t *testing.T) {
	pa, device := newTestAllocator(t, PageAllocatorConfig{PageSize: 1 << 20, InitialPages: 1})
	device.ImageRequirements = func(spec gpu.ImageSpec) gpu.MemoryRequirements {
		req := gpu.MemoryRequirements{Size: uint64(spec.Width) * uint64(spec.Height) * 4, Alignment: 256, MemoryTypeBits: ^uint32(0)}
		if spec.Width >= 1000 {
			req.PrefersDedicated = true
		}
		return req
	}

	dedicated, err := pa.Alloc(gpu.ImageSpec{Width: 1000, Height: 1000, Format: gpu.FormatR8G8B8A8Unorm})
	require.NoError(t, err)
	assert.True(t, dedicated.Dedicated)
	assert.Equal(t, uint64(0), dedicated.Offset)

	shared, err := pa.Alloc(smallSpec())
	require.NoError(t, err)
	assert.False(t, shared.Dedicated)
	assert.NotEqual(t, dedicated.Memory, shared.Memory, "dedicated pages are never bump-allocated into")
	assert.NotEqual(t, dedicated.Page, shared.Page)
}

func TestPageAllocatorOversizedRequestGetsDedicatedPage(t *testing.T) {
	pa, _ := newTestAllocator(t, PageAllocatorConfig{PageSize: 1024, InitialPages: 1})

	// 100x100x4 = 40000 bytes > 1024 page size.
	alloc, err := pa.Alloc(gpu.ImageSpec{Width: 100, Height: 100, Format: gpu.FormatR8G8B8A8Unorm})
	require.NoError(t, err)
	assert.True(t, alloc.Dedicated)
}

func TestPageAllocatorResetReproducesOffsets(t *testing.T) {
	pa, _ := newTestAllocator(t, PageAllocatorConfig{PageSize: 2048, InitialPages: 2})

	specs := []gpu.ImageSpec{
		{Width: 10, Height: 10, Format: gpu.FormatR8G8B8A8Unorm},
		{Width: 8, Height: 8, Format: gpu.FormatR8G8B8A8Unorm},
		{Width: 16, Height: 16, Format: gpu.FormatR8G8B8A8Unorm},
		{Width: 10, Height: 10, Format: gpu.FormatR8G8B8A8Unorm},
	}

	var before []uint64
	for _, spec := range specs {
		alloc, err := pa.Alloc(spec)
		require.NoError(t, err)
		before = append(before, alloc.Offset)
	}

	require.NoError(t, pa.Reset())

	var after []uint64
	for _, spec := range specs {
		alloc, err := pa.Alloc(spec)
		require.NoError(t, err)
		after = append(after, alloc.Offset)
	}

	assert.Equal(t, before, after)
}

func TestPageAllocatorResetDestroysDedicatedAndRecyclesFull(t *testing.T) {
	pa, device := newTestAllocator(t, PageAllocatorConfig{PageSize: 512, InitialPages: 1})

	// Fills and retires the initial page, plus one dedicated page.
	_, err := pa.Alloc(smallSpec())
	require.NoError(t, err)
	dedicated, err := pa.Alloc(gpu.ImageSpec{Width: 100, Height: 100, Format: gpu.FormatR8G8B8A8Unorm})
	require.NoError(t, err)

	pages := pa.PageCount()
	require.NoError(t, pa.Reset())

	assert.Contains(t, device.FreedMemory, dedicated.Memory)
	assert.Equal(t, pages-1, pa.PageCount(), "only the dedicated page is destroyed")
}

func TestPageAllocatorValidationModeRefreshesPageMemory(t *testing.T) {
	pa, device := newTestAllocator(t, PageAllocatorConfig{PageSize: 1024, InitialPages: 2, ValidationMode: true})

	alloc, err := pa.Alloc(smallSpec())
	require.NoError(t, err)

	require.NoError(t, pa.Reset())
	assert.Contains(t, device.FreedMemory, alloc.Memory, "validation mode destroys and recreates page memory")

	fresh, err := pa.Alloc(smallSpec())
	require.NoError(t, err)
	assert.NotEqual(t, alloc.Memory, fresh.Memory)
	assert.Equal(t, alloc.Offset, fresh.Offset, "stable page indices keep placement deterministic")
}
