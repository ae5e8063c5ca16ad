package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vortex/engine/renderer/gpu"
	"github.com/spaghettifunk/vortex/engine/renderer/gpu/gputest"
)

func TestDeleterResetDestroysEachEntryOnce(t *testing.T) {
	device := gputest.NewFakeDevice()
	deleter := NewDeferredDeleter(device, DeleterConfig{Capacity: 16, WarnFraction: 0.9})

	deleter.Append(gpu.ResourceBuffer, 10)
	deleter.Append(gpu.ResourceImage, 11)
	deleter.Append(gpu.ResourceMemory, 12)
	require.Equal(t, 3, deleter.Len())

	deleter.Reset()

	require.Len(t, device.Destroyed, 3)
	assert.Equal(t, gputest.DestroyRecord{Kind: gpu.ResourceBuffer, Handle: 10}, device.Destroyed[0])
	assert.Equal(t, gputest.DestroyRecord{Kind: gpu.ResourceImage, Handle: 11}, device.Destroyed[1])
	assert.Equal(t, gputest.DestroyRecord{Kind: gpu.ResourceMemory, Handle: 12}, device.Destroyed[2])
	assert.Equal(t, 0, deleter.Len())

	// A second flush must not double-destroy.
	deleter.Reset()
	assert.Len(t, device.Destroyed, 3)
}

func TestDeleterAppendImageDestructuresBundle(t *testing.T) {
	device := gputest.NewFakeDevice()
	deleter := NewDeferredDeleter(device, DeleterConfig{Capacity: 16})

	deleter.AppendImage(gpu.ImageBundle{Handle: 1, View: 2, Memory: 3})
	deleter.Reset()

	require.Len(t, device.Destroyed, 3)
	// View before image before memory.
	assert.Equal(t, gpu.ResourceImageView, device.Destroyed[0].Kind)
	assert.Equal(t, gpu.ResourceImage, device.Destroyed[1].Kind)
	assert.Equal(t, gpu.ResourceMemory, device.Destroyed[2].Kind)
}

func TestDeleterSkipsNilHandles(t *testing.T) {
	device := gputest.NewFakeDevice()
	deleter := NewDeferredDeleter(device, DeleterConfig{Capacity: 16})

	deleter.AppendImage(gpu.ImageBundle{Handle: 7})
	require.Equal(t, 1, deleter.Len())

	deleter.Reset()
	require.Len(t, device.Destroyed, 1)
	assert.Equal(t, gpu.ResourceImage, device.Destroyed[0].Kind)
}

func TestDeleterGrowsPastCapacityInsteadOfDropping(t *testing.T) {
	device := gputest.NewFakeDevice()
	deleter := NewDeferredDeleter(device, DeleterConfig{Capacity: 2})

	for i := gpu.Handle(1); i <= 5; i++ {
		deleter.Append(gpu.ResourceBuffer, i)
	}
	require.Equal(t, 5, deleter.Len())

	deleter.Reset()
	assert.Len(t, device.Destroyed, 5)
	// Capacity is retained across the flush.
	assert.GreaterOrEqual(t, deleter.Cap(), 5)
	assert.Equal(t, 0, deleter.Len())
}
