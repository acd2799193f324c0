package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// CreateRenderPass builds the single-subpass forward pass. Attachment order is color, depth
// and, when multisampled, the resolve target that gets presented.
func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	if !desc.DepthFormat.IsDepth() {
		err := errors.Newf("render pass needs a depth format, got %d", desc.DepthFormat)
		core.LogError(err.Error())
		return gpu.NullHandle, err
	}
	samples := toVkSamples(desc.Samples)
	msaa := samples != vk.SampleCount1Bit

	color := vk.AttachmentDescription{
		Format:         toVkFormat(desc.ColorFormat),
		Samples:        samples,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutPresentSrc,
	}
	if msaa {
		// The multisampled image is only a resolve source.
		color.StoreOp = vk.AttachmentStoreOpDontCare
		color.FinalLayout = vk.ImageLayoutColorAttachmentOptimal
	}

	depth := vk.AttachmentDescription{
		Format:         toVkFormat(desc.DepthFormat),
		Samples:        samples,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpDontCare,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
	}
	if desc.DepthFormat.HasStencil() {
		depth.StencilLoadOp = vk.AttachmentLoadOpClear
	}

	attachments := []vk.AttachmentDescription{color, depth}
	depthRef := vk.AttachmentReference{
		Attachment: 1,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{
			{Attachment: 0, Layout: vk.ImageLayoutColorAttachmentOptimal},
		},
		PDepthStencilAttachment: &depthRef,
	}
	if msaa {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         toVkFormat(desc.ColorFormat),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpDontCare,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutPresentSrc,
		})
		subpass.PResolveAttachments = []vk.AttachmentReference{
			{Attachment: 2, Layout: vk.ImageLayoutColorAttachmentOptimal},
		}
	}

	stageMask := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit)
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  stageMask,
		SrcAccessMask: 0,
		DstStageMask:  stageMask,
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var rp vk.RenderPass
	err := d.lockPool.SafeCall(RenderpassManagement, func() error {
		return check(vk.CreateRenderPass(d.LogicalDevice, &createInfo, nil, &rp), "creating render pass")
	})
	if err != nil {
		return gpu.NullHandle, err
	}
	core.LogDebug("render pass created with %d attachment(s), %dx MSAA", len(attachments), desc.Samples)
	return gpu.RenderPass(d.h.renderPasses.Acquire(rp)), nil
}

func (d *Device) DestroyRenderPass(rp gpu.RenderPass) {
	handle, err := d.h.renderPasses.Release(uint64(rp))
	if err != nil {
		core.LogWarn("destroy render pass: %s", err)
		return
	}
	_ = d.lockPool.SafeCall(RenderpassManagement, func() error {
		vk.DestroyRenderPass(d.LogicalDevice, handle, nil)
		return nil
	})
}
