package vulkan

import (
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

func (d *Device) SurfaceCapabilities() (gpu.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	if err := check(vk.GetPhysicalDeviceSurfaceCapabilities(d.PhysicalDevice, d.surface, &caps), "querying surface capabilities"); err != nil {
		return gpu.SurfaceCapabilities{}, err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	return gpu.SurfaceCapabilities{
		MinImageCount: caps.MinImageCount,
		MaxImageCount: caps.MaxImageCount,
		CurrentExtent: fromVkExtent(caps.CurrentExtent),
		MinExtent:     fromVkExtent(caps.MinImageExtent),
		MaxExtent:     fromVkExtent(caps.MaxImageExtent),
	}, nil
}

// SurfaceFormats lists the formats the surface offers that the renderer knows about.
func (d *Device) SurfaceFormats() ([]gpu.SurfaceFormat, error) {
	var count uint32
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(d.PhysicalDevice, d.surface, &count, nil), "querying surface formats"); err != nil {
		return nil, err
	}
	available := make([]vk.SurfaceFormat, count)
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(d.PhysicalDevice, d.surface, &count, available), "querying surface formats"); err != nil {
		return nil, err
	}

	formats := make([]gpu.SurfaceFormat, 0, count)
	for i := range available {
		available[i].Deref()
		f, ok := fromVkFormat(available[i].Format)
		if !ok {
			continue
		}
		cs, ok := fromVkColorSpace(available[i].ColorSpace)
		if !ok {
			continue
		}
		formats = append(formats, gpu.SurfaceFormat{Format: f, ColorSpace: cs})
	}
	return formats, nil
}

func (d *Device) PresentModes() ([]gpu.PresentMode, error) {
	var count uint32
	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(d.PhysicalDevice, d.surface, &count, nil), "querying present modes"); err != nil {
		return nil, err
	}
	available := make([]vk.PresentMode, count)
	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(d.PhysicalDevice, d.surface, &count, available), "querying present modes"); err != nil {
		return nil, err
	}

	modes := make([]gpu.PresentMode, 0, count)
	for _, m := range available {
		if mode, ok := fromVkPresentMode(m); ok {
			modes = append(modes, mode)
		}
	}
	return modes, nil
}

func (d *Device) CreateSwapchain(desc gpu.SwapchainDesc) (gpu.Swapchain, []gpu.Image, error) {
	var caps vk.SurfaceCapabilities
	if err := check(vk.GetPhysicalDeviceSurfaceCapabilities(d.PhysicalDevice, d.surface, &caps), "querying surface capabilities"); err != nil {
		return gpu.NullHandle, nil, err
	}
	caps.Deref()

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    desc.ImageCount,
		ImageFormat:      toVkFormat(desc.Format.Format),
		ImageColorSpace:  toVkColorSpace(desc.Format.ColorSpace),
		ImageExtent:      toVkExtent(desc.Extent),
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      toVkPresentMode(desc.PresentMode),
		Clipped:          vk.True,
	}

	// Setup the queue family indices
	if d.GraphicsQueueIndex != d.PresentQueueIndex {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{d.GraphicsQueueIndex, d.PresentQueueIndex}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	if desc.Old != gpu.NullHandle {
		old, err := lookup(d.h.swapchains, uint64(desc.Old), "swapchain")
		if err != nil {
			return gpu.NullHandle, nil, err
		}
		createInfo.OldSwapchain = old.handle
	}

	var handle vk.Swapchain
	err := d.lockPool.SafeCall(SwapchainManagement, func() error {
		return check(vk.CreateSwapchain(d.LogicalDevice, &createInfo, nil, &handle), "creating swapchain")
	})
	if err != nil {
		return gpu.NullHandle, nil, err
	}

	var count uint32
	if err := check(vk.GetSwapchainImages(d.LogicalDevice, handle, &count, nil), "getting swapchain images"); err != nil {
		vk.DestroySwapchain(d.LogicalDevice, handle, nil)
		return gpu.NullHandle, nil, err
	}
	vkImages := make([]vk.Image, count)
	if err := check(vk.GetSwapchainImages(d.LogicalDevice, handle, &count, vkImages), "getting swapchain images"); err != nil {
		vk.DestroySwapchain(d.LogicalDevice, handle, nil)
		return gpu.NullHandle, nil, err
	}

	images := make([]gpu.Image, count)
	for i, img := range vkImages {
		images[i] = gpu.Image(d.h.images.Acquire(imageEntry{handle: img, label: "swapchain"}))
	}
	id := d.h.swapchains.Acquire(swapchainEntry{handle: handle, images: images})
	core.LogInfo("swapchain created: %dx%d, %d image(s), %s", desc.Extent.Width, desc.Extent.Height, count, desc.PresentMode)
	return gpu.Swapchain(id), images, nil
}

func (d *Device) DestroySwapchain(sc gpu.Swapchain) {
	entry, err := d.h.swapchains.Release(uint64(sc))
	if err != nil {
		core.LogWarn("destroy swapchain: %s", err)
		return
	}
	for _, img := range entry.images {
		_, _ = d.h.images.Release(uint64(img))
	}
	_ = d.lockPool.SafeCall(SwapchainManagement, func() error {
		vk.DestroySwapchain(d.LogicalDevice, entry.handle, nil)
		return nil
	})
}

// swapchainStatus maps the results acquire and present can legitimately return.
func swapchainStatus(result vk.Result, op string) (gpu.Status, error) {
	switch result {
	case vk.Success:
		return gpu.StatusSuccess, nil
	case vk.Suboptimal:
		return gpu.StatusSuboptimal, nil
	case vk.ErrorOutOfDate:
		return gpu.StatusOutOfDate, nil
	}
	return gpu.StatusSuccess, check(result, op)
}

func (d *Device) AcquireNextImage(sc gpu.Swapchain, timeout time.Duration, signal gpu.Semaphore) (uint32, gpu.Status, error) {
	entry, err := lookup(d.h.swapchains, uint64(sc), "swapchain")
	if err != nil {
		return 0, gpu.StatusSuccess, err
	}
	sem, err := lookup(d.h.semaphores, uint64(signal), "semaphore")
	if err != nil {
		return 0, gpu.StatusSuccess, err
	}

	var index uint32
	var result vk.Result
	_ = d.lockPool.SafeCall(SwapchainManagement, func() error {
		result = vk.AcquireNextImage(d.LogicalDevice, entry.handle, timeoutNanos(timeout), sem, vk.NullFence, &index)
		return nil
	})
	if result == vk.Timeout || result == vk.NotReady {
		err := errors.Newf("acquiring swapchain image: %s", VulkanResultString(result, true))
		core.LogError(err.Error())
		return 0, gpu.StatusSuccess, err
	}
	status, err := swapchainStatus(result, "acquiring swapchain image")
	return index, status, err
}

func (d *Device) Present(sc gpu.Swapchain, imageIndex uint32, wait gpu.Semaphore) (gpu.Status, error) {
	entry, err := lookup(d.h.swapchains, uint64(sc), "swapchain")
	if err != nil {
		return gpu.StatusSuccess, err
	}
	sem, err := lookup(d.h.semaphores, uint64(wait), "semaphore")
	if err != nil {
		return gpu.StatusSuccess, err
	}

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sem},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{entry.handle},
		PImageIndices:      []uint32{imageIndex},
	}

	var result vk.Result
	_ = d.lockPool.SafeQueueCall(d.PresentQueueIndex, func() error {
		result = vk.QueuePresent(d.PresentQueue, &presentInfo)
		return nil
	})
	return swapchainStatus(result, "presenting swapchain image")
}
