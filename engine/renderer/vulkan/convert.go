package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// mapBits translates every set bit of in through table.
func mapBits[S ~uint32, D ~uint32](in S, table map[S]D) D {
	var out D
	for bit, v := range table {
		if in&bit != 0 {
			out |= v
		}
	}
	return out
}

var formats = map[gpu.Format]vk.Format{
	gpu.FormatUndefined:          vk.FormatUndefined,
	gpu.FormatB8G8R8A8Srgb:       vk.FormatB8g8r8a8Srgb,
	gpu.FormatB8G8R8A8Unorm:      vk.FormatB8g8r8a8Unorm,
	gpu.FormatR8G8B8A8Srgb:       vk.FormatR8g8b8a8Srgb,
	gpu.FormatR8G8B8A8Unorm:      vk.FormatR8g8b8a8Unorm,
	gpu.FormatD24UnormS8Uint:     vk.FormatD24UnormS8Uint,
	gpu.FormatD32SfloatS8Uint:    vk.FormatD32SfloatS8Uint,
	gpu.FormatD32Sfloat:          vk.FormatD32Sfloat,
	gpu.FormatR32G32Sfloat:       vk.FormatR32g32Sfloat,
	gpu.FormatR32G32B32Sfloat:    vk.FormatR32g32b32Sfloat,
	gpu.FormatR32G32B32A32Sfloat: vk.FormatR32g32b32a32Sfloat,
}

func toVkFormat(f gpu.Format) vk.Format {
	return formats[f]
}

func fromVkFormat(f vk.Format) (gpu.Format, bool) {
	for k, v := range formats {
		if v == f {
			return k, true
		}
	}
	return gpu.FormatUndefined, false
}

func toVkColorSpace(c gpu.ColorSpace) vk.ColorSpace {
	if c == gpu.ColorSpaceExtendedSrgbLinear {
		return vk.ColorSpaceExtendedSrgbLinear
	}
	return vk.ColorSpaceSrgbNonlinear
}

func fromVkColorSpace(c vk.ColorSpace) (gpu.ColorSpace, bool) {
	switch c {
	case vk.ColorSpaceSrgbNonlinear:
		return gpu.ColorSpaceSrgbNonlinear, true
	case vk.ColorSpaceExtendedSrgbLinear:
		return gpu.ColorSpaceExtendedSrgbLinear, true
	}
	return gpu.ColorSpaceSrgbNonlinear, false
}

var presentModes = map[gpu.PresentMode]vk.PresentMode{
	gpu.PresentModeImmediate:   vk.PresentModeImmediate,
	gpu.PresentModeMailbox:     vk.PresentModeMailbox,
	gpu.PresentModeFifo:        vk.PresentModeFifo,
	gpu.PresentModeFifoRelaxed: vk.PresentModeFifoRelaxed,
}

func toVkPresentMode(m gpu.PresentMode) vk.PresentMode {
	if v, ok := presentModes[m]; ok {
		return v
	}
	return vk.PresentModeFifo
}

func fromVkPresentMode(m vk.PresentMode) (gpu.PresentMode, bool) {
	for k, v := range presentModes {
		if v == m {
			return k, true
		}
	}
	return gpu.PresentModeFifo, false
}

var bufferUsages = map[gpu.BufferUsage]vk.BufferUsageFlags{
	gpu.BufferUsageVertex:      vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit),
	gpu.BufferUsageIndex:       vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit),
	gpu.BufferUsageUniform:     vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
	gpu.BufferUsageTransferSrc: vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
	gpu.BufferUsageTransferDst: vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
}

var imageUsages = map[gpu.ImageUsage]vk.ImageUsageFlags{
	gpu.ImageUsageTransferSrc:            vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit),
	gpu.ImageUsageTransferDst:            vk.ImageUsageFlags(vk.ImageUsageTransferDstBit),
	gpu.ImageUsageSampled:                vk.ImageUsageFlags(vk.ImageUsageSampledBit),
	gpu.ImageUsageColorAttachment:        vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
	gpu.ImageUsageDepthStencilAttachment: vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
	gpu.ImageUsageTransientAttachment:    vk.ImageUsageFlags(vk.ImageUsageTransientAttachmentBit),
}

var aspects = map[gpu.ImageAspect]vk.ImageAspectFlags{
	gpu.ImageAspectColor:   vk.ImageAspectFlags(vk.ImageAspectColorBit),
	gpu.ImageAspectDepth:   vk.ImageAspectFlags(vk.ImageAspectDepthBit),
	gpu.ImageAspectStencil: vk.ImageAspectFlags(vk.ImageAspectStencilBit),
}

var accesses = map[gpu.Access]vk.AccessFlags{
	gpu.AccessTransferWrite:               vk.AccessFlags(vk.AccessTransferWriteBit),
	gpu.AccessTransferRead:                vk.AccessFlags(vk.AccessTransferReadBit),
	gpu.AccessShaderRead:                  vk.AccessFlags(vk.AccessShaderReadBit),
	gpu.AccessVertexAttributeRead:         vk.AccessFlags(vk.AccessVertexAttributeReadBit),
	gpu.AccessIndexRead:                   vk.AccessFlags(vk.AccessIndexReadBit),
	gpu.AccessUniformRead:                 vk.AccessFlags(vk.AccessUniformReadBit),
	gpu.AccessColorAttachmentWrite:        vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	gpu.AccessDepthStencilAttachmentWrite: vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
}

var stages = map[gpu.PipelineStage]vk.PipelineStageFlags{
	gpu.PipelineStageTopOfPipe:             vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
	gpu.PipelineStageTransfer:              vk.PipelineStageFlags(vk.PipelineStageTransferBit),
	gpu.PipelineStageVertexInput:           vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
	gpu.PipelineStageVertexShader:          vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit),
	gpu.PipelineStageFragmentShader:        vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
	gpu.PipelineStageColorAttachmentOutput: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
	gpu.PipelineStageEarlyFragmentTests:    vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit),
	gpu.PipelineStageBottomOfPipe:          vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
}

var shaderStages = map[gpu.ShaderStage]vk.ShaderStageFlags{
	gpu.ShaderStageVertex:   vk.ShaderStageFlags(vk.ShaderStageVertexBit),
	gpu.ShaderStageFragment: vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
}

var commandBufferUsages = map[gpu.CommandBufferUsage]vk.CommandBufferUsageFlags{
	gpu.CommandBufferUsageOneTimeSubmit:   vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	gpu.CommandBufferUsageSimultaneousUse: vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit),
}

func toVkStages(s gpu.PipelineStage) vk.PipelineStageFlags {
	out := mapBits(s, stages)
	if out == 0 {
		// A zero mask is invalid in vkCmdPipelineBarrier.
		return vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	return out
}

var layouts = map[gpu.ImageLayout]vk.ImageLayout{
	gpu.ImageLayoutUndefined:              vk.ImageLayoutUndefined,
	gpu.ImageLayoutTransferDst:            vk.ImageLayoutTransferDstOptimal,
	gpu.ImageLayoutTransferSrc:            vk.ImageLayoutTransferSrcOptimal,
	gpu.ImageLayoutShaderReadOnly:         vk.ImageLayoutShaderReadOnlyOptimal,
	gpu.ImageLayoutColorAttachment:        vk.ImageLayoutColorAttachmentOptimal,
	gpu.ImageLayoutDepthStencilAttachment: vk.ImageLayoutDepthStencilAttachmentOptimal,
	gpu.ImageLayoutPresentSrc:             vk.ImageLayoutPresentSrc,
}

func toVkLayout(l gpu.ImageLayout) vk.ImageLayout {
	return layouts[l]
}

func toVkSamples(s gpu.SampleCount) vk.SampleCountFlagBits {
	switch s {
	case gpu.SampleCount2:
		return vk.SampleCount2Bit
	case gpu.SampleCount4:
		return vk.SampleCount4Bit
	case gpu.SampleCount8:
		return vk.SampleCount8Bit
	}
	return vk.SampleCount1Bit
}

// maxSamples picks the highest count present in both color and depth sample masks.
func maxSamples(color, depth vk.SampleCountFlags) gpu.SampleCount {
	counts := color & depth
	for _, s := range []gpu.SampleCount{gpu.SampleCount8, gpu.SampleCount4, gpu.SampleCount2} {
		if counts&vk.SampleCountFlags(toVkSamples(s)) != 0 {
			return s
		}
	}
	return gpu.SampleCount1
}

func toVkIndexType(t gpu.IndexType) vk.IndexType {
	if t == gpu.IndexTypeUint16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func toVkFilter(f gpu.Filter) vk.Filter {
	if f == gpu.FilterNearest {
		return vk.FilterNearest
	}
	return vk.FilterLinear
}

func toVkCullMode(c gpu.CullMode) vk.CullModeFlags {
	switch c {
	case gpu.CullModeBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	case gpu.CullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

func toVkDescriptorType(t gpu.DescriptorType) vk.DescriptorType {
	if t == gpu.DescriptorTypeCombinedImageSampler {
		return vk.DescriptorTypeCombinedImageSampler
	}
	return vk.DescriptorTypeUniformBuffer
}

func toVkInputRate(r gpu.VertexInputRate) vk.VertexInputRate {
	if r == gpu.VertexInputRateInstance {
		return vk.VertexInputRateInstance
	}
	return vk.VertexInputRateVertex
}

func toVkExtent(e gpu.Extent2D) vk.Extent2D {
	return vk.Extent2D{Width: e.Width, Height: e.Height}
}

func fromVkExtent(e vk.Extent2D) gpu.Extent2D {
	return gpu.Extent2D{Width: e.Width, Height: e.Height}
}
