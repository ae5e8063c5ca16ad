package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vortex/engine/renderer/gpu"
	"github.com/spaghettifunk/vortex/engine/renderer/gpu/gputest"
)

func testLimits() gpu.Limits {
	return gpu.Limits{
		OptimalBufferCopyOffsetAlignment: 4,
		UniformBufferOffsetAlignment:     256,
		StorageBufferOffsetAlignment:     64,
	}
}

func TestPlanRegionsUniformThenPerFrameLayout(t *testing.T) {
	specs := []RegionSpec{
		{Name: "scene", Size: 64, Usage: gpu.BufferUsageUniform},
		{Name: "draws", Size: 16, Align: 4, Usage: gpu.BufferUsageTransferDst, PerFrame: true},
	}

	planned, total, err := PlanRegions(specs, testLimits(), 2)
	require.NoError(t, err)

	// The global uniform region sits at 0; the per-frame area is rebased to
	// the strictest alignment in the layout (256), then the two 16-byte slot
	// instances pack at their own 4-byte alignment.
	assert.Equal(t, []uint64{0}, planned[0].Offsets)
	assert.Equal(t, []uint64{256, 272}, planned[1].Offsets)
	assert.Equal(t, uint64(288), total)
}

func TestPlanRegionsInstancesNeverOverlap(t *testing.T) {
	specs := []RegionSpec{
		{Name: "globals", Size: 200, Usage: gpu.BufferUsageUniform},
		{Name: "lut", Size: 48, Align: 16, Usage: gpu.BufferUsageStorage},
		{Name: "camera", Size: 128, Usage: gpu.BufferUsageUniform, PerFrame: true},
		{Name: "lines", Size: 30, Usage: gpu.BufferUsageIndex, PerFrame: true},
		{Name: "args", Size: 20, Usage: gpu.BufferUsageIndirect, PerFrame: true},
	}
	limits := testLimits()

	planned, total, err := PlanRegions(specs, limits, 3)
	require.NoError(t, err)

	type span struct{ start, end uint64 }
	var spans []span
	for _, pr := range planned {
		align := regionAlignment(pr.Spec, limits)
		for _, off := range pr.Offsets {
			assert.Zero(t, off%align, "region %q offset %d breaks its %d alignment", pr.Spec.Name, off, align)
			assert.LessOrEqual(t, off+pr.Spec.Size, total)
			spans = append(spans, span{off, off + pr.Spec.Size})
		}
	}
	for i, a := range spans {
		for j, b := range spans {
			if i == j {
				continue
			}
			assert.True(t, a.end <= b.start || b.end <= a.start,
				"[%d,%d) overlaps [%d,%d)", a.start, a.end, b.start, b.end)
		}
	}
}

func TestPlanRegionsIsDeterministic(t *testing.T) {
	specs := []RegionSpec{
		{Name: "a", Size: 100, Usage: gpu.BufferUsageStorage},
		{Name: "b", Size: 64, Usage: gpu.BufferUsageUniform, PerFrame: true},
	}

	first, firstTotal, err := PlanRegions(specs, testLimits(), 2)
	require.NoError(t, err)
	second, secondTotal, err := PlanRegions(specs, testLimits(), 2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstTotal, secondTotal)
}

func TestPlanRegionsRejectsBadSpecs(t *testing.T) {
	limits := testLimits()

	_, _, err := PlanRegions([]RegionSpec{{Name: "", Size: 4}}, limits, 2)
	assert.Error(t, err)

	_, _, err = PlanRegions([]RegionSpec{{Name: "empty", Size: 0}}, limits, 2)
	assert.Error(t, err)

	_, _, err = PlanRegions([]RegionSpec{
		{Name: "dup", Size: 4},
		{Name: "dup", Size: 8},
	}, limits, 2)
	assert.Error(t, err)

	_, _, err = PlanRegions([]RegionSpec{{Name: "ok", Size: 4}}, limits, 0)
	assert.Error(t, err)
}

func TestPartitionHostVisibleViewsShareOneMapping(t *testing.T) {
	device := gputest.NewFakeDevice()
	specs := []RegionSpec{
		{Name: "scene", Size: 64, Usage: gpu.BufferUsageUniform},
		{Name: "draws", Size: 16, Align: 4, Usage: gpu.BufferUsageTransferDst, PerFrame: true},
	}

	layout, err := Partition(device, specs, 2, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(288), layout.Size())

	scene, ok := layout.Global("scene")
	require.True(t, ok)
	slot0, ok := layout.PerFrame("draws", 0)
	require.True(t, ok)
	slot1, ok := layout.PerFrame("draws", 1)
	require.True(t, ok)

	// One buffer backs every view.
	assert.Equal(t, layout.Buffer(), scene.Buffer)
	assert.Equal(t, layout.Buffer(), slot0.Buffer)
	assert.Equal(t, layout.Buffer(), slot1.Buffer)

	// Writes through one slot's mapping never land in another's.
	require.Len(t, slot0.Data, 16)
	require.Len(t, slot1.Data, 16)
	for i := range slot0.Data {
		slot0.Data[i] = 0xAA
	}
	for _, b := range slot1.Data {
		assert.Zero(t, b)
	}
	for _, b := range scene.Data {
		assert.Zero(t, b)
	}

	_, ok = layout.Global("missing")
	assert.False(t, ok)
	_, ok = layout.PerFrame("draws", 2)
	assert.False(t, ok)
}

func TestPartitionDeviceLocalViewsCarryNoMapping(t *testing.T) {
	device := gputest.NewFakeDevice()
	specs := []RegionSpec{
		{Name: "mesh", Size: 1024, Usage: gpu.BufferUsageVertex},
	}

	layout, err := Partition(device, specs, 1, false)
	require.NoError(t, err)

	mesh, ok := layout.Global("mesh")
	require.True(t, ok)
	assert.Nil(t, mesh.Data)
}

func TestLayoutDestroyReleasesBufferAndMemory(t *testing.T) {
	device := gputest.NewFakeDevice()
	layout, err := Partition(device, []RegionSpec{
		{Name: "scene", Size: 64, Usage: gpu.BufferUsageUniform},
	}, 1, false)
	require.NoError(t, err)

	layout.Destroy(device)

	require.Len(t, device.Destroyed, 1)
	assert.Equal(t, gpu.ResourceBuffer, device.Destroyed[0].Kind)
	assert.Len(t, device.FreedMemory, 1)
}
