package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

func (d *Device) CreateFramebuffer(desc gpu.FramebufferDesc) (gpu.Framebuffer, error) {
	rp, err := lookup(d.h.renderPasses, uint64(desc.RenderPass), "render pass")
	if err != nil {
		return gpu.NullHandle, err
	}
	attachments := make([]vk.ImageView, len(desc.Attachments))
	for i, v := range desc.Attachments {
		view, err := lookup(d.h.views, uint64(v), "image view")
		if err != nil {
			return gpu.NullHandle, errors.Wrapf(err, "framebuffer attachment %d", i)
		}
		attachments[i] = view
	}

	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           desc.Extent.Width,
		Height:          desc.Extent.Height,
		Layers:          1,
	}

	var fb vk.Framebuffer
	err = d.lockPool.SafeCall(RenderpassManagement, func() error {
		return check(vk.CreateFramebuffer(d.LogicalDevice, &createInfo, nil, &fb), "creating framebuffer")
	})
	if err != nil {
		return gpu.NullHandle, err
	}
	return gpu.Framebuffer(d.h.framebuffers.Acquire(fb)), nil
}

func (d *Device) DestroyFramebuffer(fb gpu.Framebuffer) {
	handle, err := d.h.framebuffers.Release(uint64(fb))
	if err != nil {
		core.LogWarn("destroy framebuffer: %s", err)
		return
	}
	_ = d.lockPool.SafeCall(RenderpassManagement, func() error {
		vk.DestroyFramebuffer(d.LogicalDevice, handle, nil)
		return nil
	})
}
