package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

func (d *Device) CreatePipelineLayout(layouts []gpu.DescriptorSetLayout) (gpu.PipelineLayout, error) {
	setLayouts := make([]vk.DescriptorSetLayout, len(layouts))
	for i, l := range layouts {
		handle, err := lookup(d.h.setLayouts, uint64(l), "descriptor set layout")
		if err != nil {
			return gpu.NullHandle, err
		}
		setLayouts[i] = handle
	}
	createInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}

	var layout vk.PipelineLayout
	err := d.lockPool.SafeCall(PipelineManagement, func() error {
		return check(vk.CreatePipelineLayout(d.LogicalDevice, &createInfo, nil, &layout), "creating pipeline layout")
	})
	if err != nil {
		return gpu.NullHandle, err
	}
	return gpu.PipelineLayout(d.h.pipelineLayouts.Acquire(layout)), nil
}

func (d *Device) DestroyPipelineLayout(layout gpu.PipelineLayout) {
	handle, err := d.h.pipelineLayouts.Release(uint64(layout))
	if err != nil {
		core.LogWarn("destroy pipeline layout: %s", err)
		return
	}
	_ = d.lockPool.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipelineLayout(d.LogicalDevice, handle, nil)
		return nil
	})
}

// CreateGraphicsPipeline bakes viewport and scissor from desc.Extent, so pipelines are rebuilt
// with the swapchain.
func (d *Device) CreateGraphicsPipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	rp, err := lookup(d.h.renderPasses, uint64(desc.RenderPass), "render pass")
	if err != nil {
		return gpu.NullHandle, err
	}
	layout, err := lookup(d.h.pipelineLayouts, uint64(desc.Layout), "pipeline layout")
	if err != nil {
		return gpu.NullHandle, err
	}

	vert, err := d.newShaderStage(desc.VertexSPIRV, vk.ShaderStageVertexBit)
	if err != nil {
		return gpu.NullHandle, errors.Wrapf(err, "vertex shader of `%s`", desc.Label)
	}
	defer d.destroyShaderStage(vert)
	frag, err := d.newShaderStage(desc.FragmentSPIRV, vk.ShaderStageFragmentBit)
	if err != nil {
		return gpu.NullHandle, errors.Wrapf(err, "fragment shader of `%s`", desc.Label)
	}
	defer d.destroyShaderStage(frag)

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports: []vk.Viewport{{
			X:        0,
			Y:        0,
			Width:    float32(desc.Extent.Width),
			Height:   float32(desc.Extent.Height),
			MinDepth: 0,
			MaxDepth: 1,
		}},
		ScissorCount: 1,
		PScissors: []vk.Rect2D{{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: toVkExtent(desc.Extent),
		}},
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                toVkCullMode(desc.Cull),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  toVkSamples(desc.Samples),
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthWriteEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
		depthStencil.DepthBoundsTestEnable = vk.False
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         vk.True,
		SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
		DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
		DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		AlphaBlendOp:        vk.BlendOpAdd,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}

	bindings := make([]vk.VertexInputBindingDescription, len(desc.Bindings))
	for i, b := range desc.Bindings {
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: toVkInputRate(b.Rate),
		}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(desc.Attributes))
	for i, a := range desc.Attributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   toVkFormat(a.Format),
			Offset:   a.Offset,
		}
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	stages := []vk.PipelineShaderStageCreateInfo{vert.ShaderStageCreateInfo, frag.ShaderStageCreateInfo}
	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		Layout:              layout,
		RenderPass:          rp,
		Subpass:             0,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	err = d.lockPool.SafeCall(PipelineManagement, func() error {
		return check(vk.CreateGraphicsPipelines(d.LogicalDevice, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, nil, pipelines), "creating graphics pipeline")
	})
	if err != nil {
		return gpu.NullHandle, errors.Wrapf(err, "pipeline `%s`", desc.Label)
	}
	core.LogDebug("graphics pipeline `%s` created", desc.Label)
	return gpu.Pipeline(d.h.pipelines.Acquire(pipelineEntry{handle: pipelines[0], label: desc.Label})), nil
}

func (d *Device) DestroyPipeline(p gpu.Pipeline) {
	entry, err := d.h.pipelines.Release(uint64(p))
	if err != nil {
		core.LogWarn("destroy pipeline: %s", err)
		return
	}
	_ = d.lockPool.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipeline(d.LogicalDevice, entry.handle, nil)
		return nil
	})
}
