package swapchain

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// ChooseSurfaceFormat prefers 8-bit BGRA sRGB in the sRGB non-linear color space.
func ChooseSurfaceFormat(formats []gpu.SurfaceFormat) gpu.SurfaceFormat {
	for _, f := range formats {
		// Preferred formats
		if f.Format == gpu.FormatB8G8R8A8Srgb && f.ColorSpace == gpu.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return formats[0]
}

// ChoosePresentMode takes the preferred mode when the surface supports it, then mailbox,
// then FIFO, which every surface supports.
func ChoosePresentMode(modes []gpu.PresentMode, preferred gpu.PresentMode) gpu.PresentMode {
	mailbox := false
	for _, m := range modes {
		if m == preferred {
			return m
		}
		if m == gpu.PresentModeMailbox {
			mailbox = true
		}
	}
	if mailbox {
		return gpu.PresentModeMailbox
	}
	return gpu.PresentModeFifo
}

// ChooseExtent uses the surface extent unless the surface leaves it to the swapchain, then
// clamps to what the surface allows. A surface without area, as on a minimized window, gives
// a zero extent.
func ChooseExtent(caps gpu.SurfaceCapabilities, requested gpu.Extent2D) gpu.Extent2D {
	extent := requested
	if caps.CurrentExtent.Width != gpu.ExtentUndefined {
		extent = caps.CurrentExtent
	}
	if extent.IsZero() {
		return gpu.Extent2D{}
	}

	// Clamp to the value allowed by the GPU.
	extent.Width = core.Clamp(extent.Width, caps.MinExtent.Width, caps.MaxExtent.Width)
	extent.Height = core.Clamp(extent.Height, caps.MinExtent.Height, caps.MaxExtent.Height)
	return extent
}

// ChooseImageCount asks for one image more than the minimum, bounded by the surface maximum.
func ChooseImageCount(caps gpu.SurfaceCapabilities) uint32 {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

// ChooseSamples lowers requested to the highest power of two the device supports.
func ChooseSamples(requested, deviceMax gpu.SampleCount) gpu.SampleCount {
	if requested <= gpu.SampleCount1 {
		return gpu.SampleCount1
	}
	samples := gpu.SampleCount1
	for s := gpu.SampleCount2; s <= gpu.SampleCount8; s *= 2 {
		if s > requested || s > deviceMax {
			break
		}
		samples = s
	}
	return samples
}
