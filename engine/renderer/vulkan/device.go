package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

const portabilitySubset = "VK_KHR_portability_subset"

type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	GraphicsQueueIndex uint32
	PresentQueueIndex  uint32

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue

	GraphicsCommandPool vk.CommandPool

	Properties       vk.PhysicalDeviceProperties
	Features         vk.PhysicalDeviceFeatures
	memoryProperties vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format

	portability bool
}

type queueFamilyInfo struct {
	graphics, present       uint32
	hasGraphics, hasPresent bool
}

// selectPhysicalDevice scores every device that can render and present to surface, preferring
// discrete GPUs, and returns the best one.
func selectPhysicalDevice(instance vk.Instance, surface vk.Surface) (*VulkanDevice, error) {
	var count uint32
	if err := check(vk.EnumeratePhysicalDevices(instance, &count, nil), "enumerating physical devices"); err != nil {
		return nil, err
	}
	if count == 0 {
		err := errors.Wrap(gpu.ErrBackendNotAvailable, "no devices which support vulkan were found")
		core.LogError(err.Error())
		return nil, err
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check(vk.EnumeratePhysicalDevices(instance, &count, devices), "enumerating physical devices"); err != nil {
		return nil, err
	}

	var (
		best      *VulkanDevice
		bestScore = -1
	)
	for _, pd := range devices {
		vd, score := evaluateDevice(pd, surface)
		if vd != nil && score > bestScore {
			best, bestScore = vd, score
		}
	}
	if best == nil {
		err := errors.Wrap(gpu.ErrBackendNotAvailable, "no physical device meets the requirements")
		core.LogError(err.Error())
		return nil, err
	}

	best.logSelection()
	return best, nil
}

func evaluateDevice(pd vk.PhysicalDevice, surface vk.Surface) (*VulkanDevice, int) {
	vd := &VulkanDevice{PhysicalDevice: pd}
	vk.GetPhysicalDeviceProperties(pd, &vd.Properties)
	vd.Properties.Deref()
	vd.Properties.Limits.Deref()
	vk.GetPhysicalDeviceFeatures(pd, &vd.Features)
	vd.Features.Deref()
	vk.GetPhysicalDeviceMemoryProperties(pd, &vd.memoryProperties)
	vd.memoryProperties.Deref()

	name := vk.ToString(vd.Properties.DeviceName[:])

	queues := findQueueFamilies(pd, surface)
	if !queues.hasGraphics || !queues.hasPresent {
		core.LogDebug("device `%s` lacks a graphics or present queue, skipping", name)
		return nil, 0
	}
	vd.GraphicsQueueIndex = queues.graphics
	vd.PresentQueueIndex = queues.present

	extensions, ok := deviceExtensions(pd)
	if !ok || !extensions[vk.KhrSwapchainExtensionName] {
		core.LogDebug("device `%s` does not support %s, skipping", name, vk.KhrSwapchainExtensionName)
		return nil, 0
	}
	vd.portability = extensions[portabilitySubset]

	var formatCount, modeCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, nil)
	vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &modeCount, nil)
	if formatCount == 0 || modeCount == 0 {
		core.LogDebug("device `%s` has no swapchain support for the surface, skipping", name)
		return nil, 0
	}

	if !vd.detectDepthFormat() {
		core.LogDebug("device `%s` has no usable depth format, skipping", name)
		return nil, 0
	}

	score := 0
	switch vd.Properties.DeviceType {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		score += 1000
	case vk.PhysicalDeviceTypeIntegratedGpu:
		score += 100
	case vk.PhysicalDeviceTypeVirtualGpu:
		score += 10
	}
	if vd.Features.SamplerAnisotropy == vk.True {
		score += 10
	}
	if queues.graphics == queues.present {
		score++
	}
	return vd, score
}

func findQueueFamilies(pd vk.PhysicalDevice, surface vk.Surface) queueFamilyInfo {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)

	info := queueFamilyInfo{}
	for i := range families {
		families[i].Deref()
		index := uint32(i)

		graphics := families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(pd, index, surface, &supportsPresent); res != vk.Success {
			continue
		}
		present := supportsPresent == vk.True

		// A family doing both wins outright.
		if graphics && present {
			return queueFamilyInfo{graphics: index, present: index, hasGraphics: true, hasPresent: true}
		}
		if graphics && !info.hasGraphics {
			info.graphics, info.hasGraphics = index, true
		}
		if present && !info.hasPresent {
			info.present, info.hasPresent = index, true
		}
	}
	return info
}

func deviceExtensions(pd vk.PhysicalDevice) (map[string]bool, bool) {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil); res != vk.Success {
		return nil, false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, available); res != vk.Success {
		return nil, false
	}
	names := make(map[string]bool, count)
	for i := range available {
		available[i].Deref()
		names[vk.ToString(available[i].ExtensionName[:])] = true
	}
	return names, true
}

// detectDepthFormat picks the first depth-stencil format usable as an optimally tiled attachment.
func (vd *VulkanDevice) detectDepthFormat() bool {
	candidates := []vk.Format{
		vk.FormatD24UnormS8Uint,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD32Sfloat,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, f := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(vd.PhysicalDevice, f, &properties)
		properties.Deref()
		if properties.OptimalTilingFeatures&flags == flags {
			vd.DepthFormat = f
			return true
		}
	}
	return false
}

func (vd *VulkanDevice) logSelection() {
	props := vd.Properties
	core.LogInfo("selected device `%s`", vk.ToString(props.DeviceName[:]))
	switch props.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is integrated")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is discrete")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is virtual")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU")
	default:
		core.LogInfo("GPU type is unknown")
	}
	core.LogInfo(
		"driver version %d.%d.%d, vulkan API %d.%d.%d",
		vk.Version(props.DriverVersion).Major(),
		vk.Version(props.DriverVersion).Minor(),
		vk.Version(props.DriverVersion).Patch(),
		vk.Version(props.ApiVersion).Major(),
		vk.Version(props.ApiVersion).Minor(),
		vk.Version(props.ApiVersion).Patch(),
	)
	for j := uint32(0); j < vd.memoryProperties.MemoryHeapCount; j++ {
		heap := vd.memoryProperties.MemoryHeaps[j]
		heap.Deref()
		size := float64(heap.Size) / 1024 / 1024 / 1024
		if heap.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 {
			core.LogInfo("local GPU memory: %.2f GiB", size)
		} else {
			core.LogInfo("shared system memory: %.2f GiB", size)
		}
	}
	core.LogDebug("graphics family %d, present family %d", vd.GraphicsQueueIndex, vd.PresentQueueIndex)
}

// createLogical creates the logical device with one queue per distinct family, and the
// graphics command pool.
func (vd *VulkanDevice) createLogical() error {
	families := []uint32{vd.GraphicsQueueIndex}
	if vd.PresentQueueIndex != vd.GraphicsQueueIndex {
		families = append(families, vd.PresentQueueIndex)
	}
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, family := range families {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	features := vk.PhysicalDeviceFeatures{}
	if vd.Features.SamplerAnisotropy == vk.True {
		features.SamplerAnisotropy = vk.True
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if vd.portability {
		core.LogInfo("adding required extension `%s`", portabilitySubset)
		extensionNames = append(extensionNames, portabilitySubset)
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var device vk.Device
	if err := check(vk.CreateDevice(vd.PhysicalDevice, &deviceCreateInfo, nil, &device), "creating logical device"); err != nil {
		return err
	}
	vd.LogicalDevice = device
	core.LogInfo("logical device created")

	var graphics, present vk.Queue
	vk.GetDeviceQueue(device, vd.GraphicsQueueIndex, 0, &graphics)
	vk.GetDeviceQueue(device, vd.PresentQueueIndex, 0, &present)
	vd.GraphicsQueue = graphics
	vd.PresentQueue = present

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: vd.GraphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if err := check(vk.CreateCommandPool(device, &poolCreateInfo, nil, &pool), "creating graphics command pool"); err != nil {
		return err
	}
	vd.GraphicsCommandPool = pool
	core.LogDebug("graphics command pool created")
	return nil
}

func (vd *VulkanDevice) destroy() {
	if vd.LogicalDevice == nil {
		return
	}
	core.LogDebug("destroying command pool...")
	vk.DestroyCommandPool(vd.LogicalDevice, vd.GraphicsCommandPool, nil)
	core.LogDebug("destroying logical device...")
	vk.DestroyDevice(vd.LogicalDevice, nil)
	vd.LogicalDevice = nil
	vd.GraphicsQueue = nil
	vd.PresentQueue = nil
}

func (vd *VulkanDevice) heapSize(flags vk.MemoryPropertyFlags) uint64 {
	for i := uint32(0); i < vd.memoryProperties.MemoryTypeCount; i++ {
		t := vd.memoryProperties.MemoryTypes[i]
		t.Deref()
		if t.PropertyFlags&flags == flags {
			heap := vd.memoryProperties.MemoryHeaps[t.HeapIndex]
			heap.Deref()
			return uint64(heap.Size)
		}
	}
	return 0
}

func (vd *VulkanDevice) limits() gpu.DeviceLimits {
	l := vd.Properties.Limits
	depth, _ := fromVkFormat(vd.DepthFormat)
	limits := gpu.DeviceLimits{
		MinUniformBufferOffsetAlignment: uint64(l.MinUniformBufferOffsetAlignment),
		MaxImageDimension2D:             l.MaxImageDimension2D,
		MaxColorSamples:                 maxSamples(l.FramebufferColorSampleCounts, l.FramebufferDepthSampleCounts),
		DepthFormat:                     depth,
	}
	limits.HeapSizes[gpu.MemoryClassDeviceLocal] = vd.heapSize(classFlags(gpu.MemoryClassDeviceLocal))
	limits.HeapSizes[gpu.MemoryClassHostVisibleCoherent] = vd.heapSize(classFlags(gpu.MemoryClassHostVisibleCoherent))
	return limits
}
