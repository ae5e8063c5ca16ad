package vulkan

import (
	"fmt"
	"math"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vortex/engine/core"
	"github.com/spaghettifunk/vortex/engine/renderer/gpu"
)

// Images the driver flags no preference on still go dedicated above this
// size; one huge attachment should not monopolize a shared page.
const dedicatedImageBytes = 64 * 1024 * 1024

// Device adapts the Vulkan handles in the context to the gpu.Device surface
// the frame and memory packages consume. Native handles never cross that
// boundary: each created object is registered under a plain uint64 handle and
// resolved back on use. Single submission thread, so no locking.
type Device struct {
	context *VulkanContext

	nextHandle gpu.Handle
	images     map[gpu.Image]vk.Image
	imageSpecs map[gpu.Image]gpu.ImageSpec
	views      map[gpu.ImageView]vk.ImageView
	buffers    map[gpu.Buffer]vk.Buffer
	memories   map[gpu.Memory]vk.DeviceMemory
	fences     map[gpu.Fence]vk.Fence
	semaphores map[gpu.Semaphore]vk.Semaphore
}

func NewDevice(context *VulkanContext) *Device {
	return &Device{
		context:    context,
		images:     make(map[gpu.Image]vk.Image),
		imageSpecs: make(map[gpu.Image]gpu.ImageSpec),
		views:      make(map[gpu.ImageView]vk.ImageView),
		buffers:    make(map[gpu.Buffer]vk.Buffer),
		memories:   make(map[gpu.Memory]vk.DeviceMemory),
		fences:     make(map[gpu.Fence]vk.Fence),
		semaphores: make(map[gpu.Semaphore]vk.Semaphore),
	}
}

func (d *Device) handle() gpu.Handle {
	d.nextHandle++
	return d.nextHandle
}

func (d *Device) Limits() gpu.Limits {
	return d.context.Device.Limits
}

func (d *Device) findMemoryIndex(typeBits uint32, flags vk.MemoryPropertyFlags) (uint32, error) {
	memory := d.context.Device.Memory
	for i := uint32(0); i < memory.MemoryTypeCount; i++ {
		memory.MemoryTypes[i].Deref()
		if typeBits&(1<<i) == 0 {
			continue
		}
		if memory.MemoryTypes[i].PropertyFlags&flags == flags {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no memory type matches bits 0x%x with flags 0x%x", typeBits, flags)
}

func (d *Device) AllocateMemory(size uint64, typeBits uint32, hostVisible bool) (gpu.Memory, error) {
	flags := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if hostVisible {
		flags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	index, err := d.findMemoryIndex(typeBits, flags)
	if err != nil {
		return 0, err
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: index,
	}
	var mem vk.DeviceMemory
	if res := vk.AllocateMemory(d.context.Device.LogicalDevice, &allocateInfo, d.context.Allocator, &mem); res != vk.Success {
		return 0, fmt.Errorf("memory allocation of %d bytes failed: %s", size, VulkanResultString(res))
	}

	h := gpu.Memory(d.handle())
	d.memories[h] = mem
	return h, nil
}

func (d *Device) FreeMemory(mem gpu.Memory) {
	native, ok := d.memories[mem]
	if !ok {
		return
	}
	vk.FreeMemory(d.context.Device.LogicalDevice, native, d.context.Allocator)
	delete(d.memories, mem)
}

func (d *Device) MapMemory(mem gpu.Memory, offset, size uint64) ([]byte, error) {
	native, ok := d.memories[mem]
	if !ok {
		return nil, fmt.Errorf("unknown memory handle %d", mem)
	}
	var ptr unsafe.Pointer
	if res := vk.MapMemory(d.context.Device.LogicalDevice, native, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &ptr); res != vk.Success {
		return nil, fmt.Errorf("memory map of [%d, %d) failed: %s", offset, offset+size, VulkanResultString(res))
	}
	return unsafe.Slice((*byte)(ptr), size), nil
}

func (d *Device) CreateImage(spec gpu.ImageSpec) (gpu.Image, error) {
	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  spec.Width,
			Height: spec.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        vulkanFormat(spec.Format),
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         vulkanImageUsage(spec.Usage),
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}

	var img vk.Image
	if res := vk.CreateImage(d.context.Device.LogicalDevice, &imageCreateInfo, d.context.Allocator, &img); res != vk.Success {
		return 0, fmt.Errorf("image creation %dx%d failed: %s", spec.Width, spec.Height, VulkanResultString(res))
	}

	h := gpu.Image(d.handle())
	d.images[h] = img
	d.imageSpecs[h] = spec
	return h, nil
}

func (d *Device) ImageMemoryRequirements(img gpu.Image) gpu.MemoryRequirements {
	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.context.Device.LogicalDevice, d.images[img], &req)
	req.Deref()

	return gpu.MemoryRequirements{
		Size:             uint64(req.Size),
		Alignment:        uint64(req.Alignment),
		MemoryTypeBits:   req.MemoryTypeBits,
		PrefersDedicated: uint64(req.Size) >= dedicatedImageBytes,
	}
}

func (d *Device) BindImageMemory(img gpu.Image, mem gpu.Memory, offset uint64) error {
	if res := vk.BindImageMemory(d.context.Device.LogicalDevice, d.images[img], d.memories[mem], vk.DeviceSize(offset)); res != vk.Success {
		return fmt.Errorf("image bind at offset %d failed: %s", offset, VulkanResultString(res))
	}
	return nil
}

func (d *Device) CreateImageView(img gpu.Image, spec gpu.ImageSpec) (gpu.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    d.images[img],
		ViewType: vk.ImageViewType2d,
		Format:   vulkanFormat(spec.Format),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vulkanImageAspect(spec.Usage),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	var view vk.ImageView
	if res := vk.CreateImageView(d.context.Device.LogicalDevice, &viewInfo, d.context.Allocator, &view); res != vk.Success {
		return 0, fmt.Errorf("image view creation failed: %s", VulkanResultString(res))
	}

	h := gpu.ImageView(d.handle())
	d.views[h] = view
	return h, nil
}

func (d *Device) CreateBuffer(size uint64, usage gpu.BufferUsage) (gpu.Buffer, error) {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vulkanBufferUsage(usage),
		SharingMode: vk.SharingModeExclusive,
	}

	var buf vk.Buffer
	if res := vk.CreateBuffer(d.context.Device.LogicalDevice, &bufferInfo, d.context.Allocator, &buf); res != vk.Success {
		return 0, fmt.Errorf("buffer creation of %d bytes failed: %s", size, VulkanResultString(res))
	}

	h := gpu.Buffer(d.handle())
	d.buffers[h] = buf
	return h, nil
}

func (d *Device) BufferMemoryRequirements(buf gpu.Buffer) gpu.MemoryRequirements {
	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.context.Device.LogicalDevice, d.buffers[buf], &req)
	req.Deref()

	return gpu.MemoryRequirements{
		Size:           uint64(req.Size),
		Alignment:      uint64(req.Alignment),
		MemoryTypeBits: req.MemoryTypeBits,
	}
}

func (d *Device) BindBufferMemory(buf gpu.Buffer, mem gpu.Memory, offset uint64) error {
	if res := vk.BindBufferMemory(d.context.Device.LogicalDevice, d.buffers[buf], d.memories[mem], vk.DeviceSize(offset)); res != vk.Success {
		return fmt.Errorf("buffer bind at offset %d failed: %s", offset, VulkanResultString(res))
	}
	return nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var fence vk.Fence
	if res := vk.CreateFence(d.context.Device.LogicalDevice, &fenceCreateInfo, d.context.Allocator, &fence); res != vk.Success {
		return 0, fmt.Errorf("fence creation failed: %s", VulkanResultString(res))
	}

	h := gpu.Fence(d.handle())
	d.fences[h] = fence
	return h, nil
}

func (d *Device) WaitFence(f gpu.Fence) error {
	res := vk.WaitForFences(d.context.Device.LogicalDevice, 1, []vk.Fence{d.fences[f]}, vk.True, math.MaxUint64)
	if res != vk.Success {
		return fmt.Errorf("fence wait failed: %s", VulkanResultString(res))
	}
	return nil
}

func (d *Device) ResetFence(f gpu.Fence) error {
	if res := vk.ResetFences(d.context.Device.LogicalDevice, 1, []vk.Fence{d.fences[f]}); res != vk.Success {
		return fmt.Errorf("fence reset failed: %s", VulkanResultString(res))
	}
	return nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}

	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(d.context.Device.LogicalDevice, &semaphoreCreateInfo, d.context.Allocator, &semaphore); res != vk.Success {
		return 0, fmt.Errorf("semaphore creation failed: %s", VulkanResultString(res))
	}

	h := gpu.Semaphore(d.handle())
	d.semaphores[h] = semaphore
	return h, nil
}

func (d *Device) Destroy(kind gpu.ResourceKind, h gpu.Handle) {
	dev := d.context.Device.LogicalDevice
	switch kind {
	case gpu.ResourceImage:
		if native, ok := d.images[gpu.Image(h)]; ok {
			vk.DestroyImage(dev, native, d.context.Allocator)
			delete(d.images, gpu.Image(h))
			delete(d.imageSpecs, gpu.Image(h))
		}
	case gpu.ResourceImageView:
		if native, ok := d.views[gpu.ImageView(h)]; ok {
			vk.DestroyImageView(dev, native, d.context.Allocator)
			delete(d.views, gpu.ImageView(h))
		}
	case gpu.ResourceBuffer:
		if native, ok := d.buffers[gpu.Buffer(h)]; ok {
			vk.DestroyBuffer(dev, native, d.context.Allocator)
			delete(d.buffers, gpu.Buffer(h))
		}
	case gpu.ResourceMemory:
		d.FreeMemory(gpu.Memory(h))
	case gpu.ResourceSemaphore:
		if native, ok := d.semaphores[gpu.Semaphore(h)]; ok {
			vk.DestroySemaphore(dev, native, d.context.Allocator)
			delete(d.semaphores, gpu.Semaphore(h))
		}
	case gpu.ResourceFence:
		if native, ok := d.fences[gpu.Fence(h)]; ok {
			vk.DestroyFence(dev, native, d.context.Allocator)
			delete(d.fences, gpu.Fence(h))
		}
	default:
		core.LogError("destroy of unknown resource kind %d (handle %d)", kind, h)
	}
}

func (d *Device) WaitIdle() error {
	if res := vk.DeviceWaitIdle(d.context.Device.LogicalDevice); res != vk.Success {
		return fmt.Errorf("device wait idle failed: %s", VulkanResultString(res))
	}
	return nil
}

func (d *Device) semaphore(h gpu.Semaphore) vk.Semaphore {
	if h == gpu.Semaphore(gpu.NilHandle) {
		return vk.NullSemaphore
	}
	return d.semaphores[h]
}

func (d *Device) fence(h gpu.Fence) vk.Fence {
	if h == gpu.Fence(gpu.NilHandle) {
		return vk.NullFence
	}
	return d.fences[h]
}

// GraphicsQueue adapts the device's graphics queue to the scheduler's Submit
// shape: at most one wait and one signal semaphore plus the slot fence.
type GraphicsQueue struct {
	context *VulkanContext
	device  *Device
}

func NewGraphicsQueue(context *VulkanContext, device *Device) *GraphicsQueue {
	return &GraphicsQueue{context: context, device: device}
}

func (q *GraphicsQueue) Submit(cmds gpu.CommandResources, wait, signal gpu.Semaphore, fence gpu.Fence) error {
	submitInfo := vk.SubmitInfo{
		SType: vk.StructureTypeSubmitInfo,
	}

	cb, ok := cmds.(*VulkanCommandBuffer)
	if ok && cb != nil {
		if cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
			return fmt.Errorf("command buffer submitted in state %d, expected recording ended", cb.State)
		}
		submitInfo.CommandBufferCount = 1
		submitInfo.PCommandBuffers = []vk.CommandBuffer{cb.Handle}
	}
	if wait != gpu.Semaphore(gpu.NilHandle) {
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = []vk.Semaphore{q.device.semaphore(wait)}
		// The color attachment write is the first stage that touches the
		// acquired image.
		submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		}
	}
	if signal != gpu.Semaphore(gpu.NilHandle) {
		submitInfo.SignalSemaphoreCount = 1
		submitInfo.PSignalSemaphores = []vk.Semaphore{q.device.semaphore(signal)}
	}

	if res := vk.QueueSubmit(q.context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, q.device.fence(fence)); res != vk.Success {
		return fmt.Errorf("queue submit failed: %s", VulkanResultString(res))
	}
	if ok && cb != nil {
		cb.UpdateSubmitted()
	}
	return nil
}

func (q *GraphicsQueue) WaitIdle() error {
	if res := vk.QueueWaitIdle(q.context.Device.GraphicsQueue); res != vk.Success {
		return fmt.Errorf("queue wait idle failed: %s", VulkanResultString(res))
	}
	return nil
}
