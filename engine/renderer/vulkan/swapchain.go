package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vortex/engine/core"
	"github.com/spaghettifunk/vortex/engine/mathx"
	"github.com/spaghettifunk/vortex/engine/renderer/gpu"
)

// VulkanSwapchain implements gpu.Surface on a native swapchain: acquire,
// present and wholesale recreation on resize. The swapchain owns its images;
// only the views are created and destroyed here.
type VulkanSwapchain struct {
	context *VulkanContext
	device  *Device

	ImageFormat vk.SurfaceFormat
	Handle      vk.Swapchain
	imageCount  uint32
	Images      []vk.Image
	Views       []vk.ImageView

	extent gpu.Extent
}

func SwapchainCreate(context *VulkanContext, device *Device, width, height uint32) (*VulkanSwapchain, error) {
	vs := &VulkanSwapchain{
		context: context,
		device:  device,
	}
	if err := vs.create(width, height); err != nil {
		return nil, err
	}
	return vs, nil
}

func (vs *VulkanSwapchain) AcquireNextImage(signal gpu.Semaphore) (uint32, gpu.SurfaceState, error) {
	var imageIndex uint32
	result := vk.AcquireNextImage(
		vs.context.Device.LogicalDevice,
		vs.Handle,
		math.MaxUint64,
		vs.device.semaphore(signal),
		vk.NullFence,
		&imageIndex)

	switch result {
	case vk.Success:
		return imageIndex, gpu.SurfaceOptimal, nil
	case vk.Suboptimal:
		return imageIndex, gpu.SurfaceSuboptimal, nil
	case vk.ErrorOutOfDate:
		return 0, gpu.SurfaceOutOfDate, nil
	}
	return 0, gpu.SurfaceOptimal, fmt.Errorf("failed to acquire swapchain image: %s", VulkanResultString(result))
}

func (vs *VulkanSwapchain) Present(wait gpu.Semaphore, imageIndex uint32) (gpu.SurfaceState, error) {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{vs.device.semaphore(wait)},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{imageIndex},
	}

	result := vk.QueuePresent(vs.context.Device.PresentQueue, &presentInfo)
	switch result {
	case vk.Success:
		return gpu.SurfaceOptimal, nil
	case vk.Suboptimal:
		return gpu.SurfaceSuboptimal, nil
	case vk.ErrorOutOfDate:
		return gpu.SurfaceOutOfDate, nil
	}
	return gpu.SurfaceOptimal, fmt.Errorf("failed to present swapchain image: %s", VulkanResultString(result))
}

func (vs *VulkanSwapchain) Recreate(extent gpu.Extent) error {
	vs.destroy()
	return vs.create(extent.Width, extent.Height)
}

func (vs *VulkanSwapchain) Extent() gpu.Extent {
	return vs.extent
}

func (vs *VulkanSwapchain) ImageCount() uint32 {
	return vs.imageCount
}

func (vs *VulkanSwapchain) Destroy() {
	vs.destroy()
}

func (vs *VulkanSwapchain) create(width, height uint32) error {
	context := vs.context

	// Support info goes stale across resizes, so requery every time.
	if err := DeviceQuerySwapchainSupport(context.Device.PhysicalDevice, context.Surface, &context.Device.SwapchainSupport); err != nil {
		return err
	}
	support := &context.Device.SwapchainSupport

	swapchainExtent := vk.Extent2D{Width: width, Height: height}

	// Choose a swap surface format.
	found := false
	for i := 0; i < int(support.FormatCount); i++ {
		format := support.Formats[i]
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			vs.ImageFormat = format
			found = true
		}
	}
	if !found {
		vs.ImageFormat = support.Formats[0]
	}

	presentMode := vk.PresentModeFifo
	for i := 0; i < int(support.PresentModeCount); i++ {
		if support.PresentModes[i] == vk.PresentModeMailbox {
			presentMode = vk.PresentModeMailbox
			break
		}
	}

	if support.Capabilities.CurrentExtent.Width != math.MaxUint32 {
		swapchainExtent = support.Capabilities.CurrentExtent
	}

	// Clamp to the value allowed by the GPU.
	min := support.Capabilities.MinImageExtent
	max := support.Capabilities.MaxImageExtent
	swapchainExtent.Width = mathx.Clamp(swapchainExtent.Width, min.Width, max.Width)
	swapchainExtent.Height = mathx.Clamp(swapchainExtent.Height, min.Height, max.Height)

	imageCount := support.Capabilities.MinImageCount + 1
	if support.Capabilities.MaxImageCount > 0 && imageCount > support.Capabilities.MaxImageCount {
		imageCount = support.Capabilities.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      vs.ImageFormat.Format,
		ImageColorSpace:  vs.ImageFormat.ColorSpace,
		ImageExtent:      swapchainExtent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
	}

	if context.Device.GraphicsQueueIndex != context.Device.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			uint32(context.Device.GraphicsQueueIndex),
			uint32(context.Device.PresentQueueIndex),
		}
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	swapchainCreateInfo.PreTransform = support.Capabilities.CurrentTransform
	swapchainCreateInfo.CompositeAlpha = vk.CompositeAlphaOpaqueBit
	swapchainCreateInfo.PresentMode = presentMode
	swapchainCreateInfo.Clipped = vk.True
	swapchainCreateInfo.OldSwapchain = vk.NullSwapchain

	var swapchainHandle vk.Swapchain
	if res := vk.CreateSwapchain(context.Device.LogicalDevice, &swapchainCreateInfo, context.Allocator, &swapchainHandle); res != vk.Success {
		return fmt.Errorf("failed to create swapchain: %s", VulkanResultString(res))
	}
	vs.Handle = swapchainHandle
	vs.extent = gpu.Extent{Width: swapchainExtent.Width, Height: swapchainExtent.Height}

	vs.imageCount = 0
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, vs.Handle, &vs.imageCount, nil); res != vk.Success {
		return fmt.Errorf("failed to get swapchain images: %s", VulkanResultString(res))
	}
	vs.Images = make([]vk.Image, vs.imageCount)
	vs.Views = make([]vk.ImageView, vs.imageCount)
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, vs.Handle, &vs.imageCount, vs.Images); res != vk.Success {
		return fmt.Errorf("failed to get swapchain images: %s", VulkanResultString(res))
	}

	for i := 0; i < int(vs.imageCount); i++ {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    vs.Images[i],
			ViewType: vk.ImageViewType2d,
			Format:   vs.ImageFormat.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}
		if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &vs.Views[i]); res != vk.Success {
			return fmt.Errorf("failed to create swapchain image view: %s", VulkanResultString(res))
		}
	}

	core.LogInfo("Swapchain created at %dx%d with %d images.", vs.extent.Width, vs.extent.Height, vs.imageCount)
	return nil
}

func (vs *VulkanSwapchain) destroy() {
	vk.DeviceWaitIdle(vs.context.Device.LogicalDevice)

	// Only destroy the views, not the images, since those are owned by the
	// swapchain and are thus destroyed when it is.
	for i := 0; i < int(vs.imageCount); i++ {
		vk.DestroyImageView(vs.context.Device.LogicalDevice, vs.Views[i], vs.context.Allocator)
	}
	vk.DestroySwapchain(vs.context.Device.LogicalDevice, vs.Handle, vs.context.Allocator)
	vs.Images = nil
	vs.Views = nil
	vs.imageCount = 0
}
