package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

func (d *Device) AllocateCommandBuffers(count int) ([]gpu.CommandBuffer, error) {
	if count <= 0 {
		return nil, nil
	}
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.GraphicsCommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}

	vkBuffers := make([]vk.CommandBuffer, count)
	err := d.lockPool.SafeCall(CommandBufferManagement, func() error {
		return check(vk.AllocateCommandBuffers(d.LogicalDevice, &allocateInfo, vkBuffers), "allocating command buffers")
	})
	if err != nil {
		return nil, err
	}

	cbs := make([]gpu.CommandBuffer, count)
	for i, cb := range vkBuffers {
		cbs[i] = gpu.CommandBuffer(d.h.commandBuffers.Acquire(cb))
	}
	return cbs, nil
}

func (d *Device) FreeCommandBuffers(cbs []gpu.CommandBuffer) {
	vkBuffers := make([]vk.CommandBuffer, 0, len(cbs))
	for _, cb := range cbs {
		handle, err := d.h.commandBuffers.Release(uint64(cb))
		if err != nil {
			core.LogWarn("free command buffer: %s", err)
			continue
		}
		vkBuffers = append(vkBuffers, handle)
	}
	if len(vkBuffers) == 0 {
		return
	}
	_ = d.lockPool.SafeCall(CommandBufferManagement, func() error {
		vk.FreeCommandBuffers(d.LogicalDevice, d.GraphicsCommandPool, uint32(len(vkBuffers)), vkBuffers)
		return nil
	})
}

// commandBuffer resolves cb for recording. Recording into an unknown buffer is a programming
// error, the call is dropped and logged.
func (d *Device) commandBuffer(cb gpu.CommandBuffer) (vk.CommandBuffer, bool) {
	handle, ok := d.h.commandBuffers.Get(uint64(cb))
	if !ok {
		core.LogError("recording into unknown command buffer %d", cb)
	}
	return handle, ok
}

func (d *Device) BeginCommandBuffer(cb gpu.CommandBuffer, usage gpu.CommandBufferUsage) error {
	handle, err := lookup(d.h.commandBuffers, uint64(cb), "command buffer")
	if err != nil {
		return err
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: mapBits(usage, commandBufferUsages),
	}
	return check(vk.BeginCommandBuffer(handle, &beginInfo), "beginning command buffer")
}

func (d *Device) EndCommandBuffer(cb gpu.CommandBuffer) error {
	handle, err := lookup(d.h.commandBuffers, uint64(cb), "command buffer")
	if err != nil {
		return err
	}
	return check(vk.EndCommandBuffer(handle), "ending command buffer")
}

func (d *Device) ResetCommandBuffer(cb gpu.CommandBuffer) error {
	handle, err := lookup(d.h.commandBuffers, uint64(cb), "command buffer")
	if err != nil {
		return err
	}
	return check(vk.ResetCommandBuffer(handle, 0), "resetting command buffer")
}

func (d *Device) CmdBeginRenderPass(cb gpu.CommandBuffer, begin gpu.RenderPassBegin) {
	handle, ok := d.commandBuffer(cb)
	if !ok {
		return
	}
	rp, ok := d.h.renderPasses.Get(uint64(begin.RenderPass))
	if !ok {
		core.LogError("begin render pass: unknown render pass %d", begin.RenderPass)
		return
	}
	fb, ok := d.h.framebuffers.Get(uint64(begin.Framebuffer))
	if !ok {
		core.LogError("begin render pass: unknown framebuffer %d", begin.Framebuffer)
		return
	}

	// Color, depth and the resolve slot; unused trailing values are ignored.
	clearValues := make([]vk.ClearValue, 3)
	clearValues[0].SetColor(begin.ClearColor[:])
	clearValues[1].SetDepthStencil(begin.ClearDepth, begin.ClearStencil)
	clearValues[2].SetColor(begin.ClearColor[:])

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: toVkExtent(begin.Extent),
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(handle, &beginInfo, vk.SubpassContentsInline)
}

func (d *Device) CmdEndRenderPass(cb gpu.CommandBuffer) {
	if handle, ok := d.commandBuffer(cb); ok {
		vk.CmdEndRenderPass(handle)
	}
}

func (d *Device) CmdBindPipeline(cb gpu.CommandBuffer, p gpu.Pipeline) {
	handle, ok := d.commandBuffer(cb)
	if !ok {
		return
	}
	entry, ok := d.h.pipelines.Get(uint64(p))
	if !ok {
		core.LogError("bind pipeline: unknown pipeline %d", p)
		return
	}
	vk.CmdBindPipeline(handle, vk.PipelineBindPointGraphics, entry.handle)
}

func (d *Device) CmdBindVertexBuffers(cb gpu.CommandBuffer, first uint32, buffers []gpu.Buffer, offsets []uint64) {
	handle, ok := d.commandBuffer(cb)
	if !ok {
		return
	}
	vkBuffers := make([]vk.Buffer, len(buffers))
	vkOffsets := make([]vk.DeviceSize, len(buffers))
	for i, b := range buffers {
		entry, ok := d.h.buffers.Get(uint64(b))
		if !ok {
			core.LogError("bind vertex buffers: unknown buffer %d", b)
			return
		}
		vkBuffers[i] = entry.handle
		if i < len(offsets) {
			vkOffsets[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(handle, first, uint32(len(vkBuffers)), vkBuffers, vkOffsets)
}

func (d *Device) CmdBindIndexBuffer(cb gpu.CommandBuffer, buf gpu.Buffer, offset uint64, indexType gpu.IndexType) {
	handle, ok := d.commandBuffer(cb)
	if !ok {
		return
	}
	entry, ok := d.h.buffers.Get(uint64(buf))
	if !ok {
		core.LogError("bind index buffer: unknown buffer %d", buf)
		return
	}
	vk.CmdBindIndexBuffer(handle, entry.handle, vk.DeviceSize(offset), toVkIndexType(indexType))
}

func (d *Device) CmdBindDescriptorSets(cb gpu.CommandBuffer, layout gpu.PipelineLayout, first uint32, sets []gpu.DescriptorSet) {
	handle, ok := d.commandBuffer(cb)
	if !ok {
		return
	}
	vkLayout, ok := d.h.pipelineLayouts.Get(uint64(layout))
	if !ok {
		core.LogError("bind descriptor sets: unknown pipeline layout %d", layout)
		return
	}
	vkSets := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		set, ok := d.h.sets.Get(uint64(s))
		if !ok {
			core.LogError("bind descriptor sets: unknown set %d", s)
			return
		}
		vkSets[i] = set
	}
	vk.CmdBindDescriptorSets(handle, vk.PipelineBindPointGraphics, vkLayout, first, uint32(len(vkSets)), vkSets, 0, nil)
}

func (d *Device) CmdDrawIndexed(cb gpu.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if handle, ok := d.commandBuffer(cb); ok {
		vk.CmdDrawIndexed(handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	}
}

func (d *Device) CmdCopyBuffer(cb gpu.CommandBuffer, src, dst gpu.Buffer, regions []gpu.BufferCopy) {
	handle, ok := d.commandBuffer(cb)
	if !ok || len(regions) == 0 {
		return
	}
	s, ok1 := d.h.buffers.Get(uint64(src))
	t, ok2 := d.h.buffers.Get(uint64(dst))
	if !ok1 || !ok2 {
		core.LogError("copy buffer: unknown buffer %d -> %d", src, dst)
		return
	}
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(handle, s.handle, t.handle, uint32(len(copies)), copies)
}

func (d *Device) CmdCopyBufferToImage(cb gpu.CommandBuffer, src gpu.Buffer, dst gpu.Image, regions []gpu.BufferImageCopy) {
	handle, ok := d.commandBuffer(cb)
	if !ok || len(regions) == 0 {
		return
	}
	s, ok1 := d.h.buffers.Get(uint64(src))
	img, ok2 := d.h.images.Get(uint64(dst))
	if !ok1 || !ok2 {
		core.LogError("copy buffer to image: unknown buffer %d or image %d", src, dst)
		return
	}
	copies := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferImageCopy{
			BufferOffset:      vk.DeviceSize(r.BufferOffset),
			BufferRowLength:   0,
			BufferImageHeight: 0,
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				MipLevel:       r.MipLevel,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			ImageExtent: vk.Extent3D{Width: r.Extent.Width, Height: r.Extent.Height, Depth: 1},
		}
	}
	vk.CmdCopyBufferToImage(handle, s.handle, img.handle, vk.ImageLayoutTransferDstOptimal, uint32(len(copies)), copies)
}

type stagePair struct {
	src, dst gpu.PipelineStage
}

// CmdPipelineBarrier records one vkCmdPipelineBarrier per distinct stage pair, in first-seen order.
func (d *Device) CmdPipelineBarrier(cb gpu.CommandBuffer, images []gpu.ImageBarrier, buffers []gpu.BufferBarrier) {
	handle, ok := d.commandBuffer(cb)
	if !ok {
		return
	}

	var order []stagePair
	imageBarriers := map[stagePair][]vk.ImageMemoryBarrier{}
	bufferBarriers := map[stagePair][]vk.BufferMemoryBarrier{}
	seen := func(p stagePair) {
		if _, ok := imageBarriers[p]; ok {
			return
		}
		if _, ok := bufferBarriers[p]; ok {
			return
		}
		order = append(order, p)
	}

	for _, b := range images {
		img, ok := d.h.images.Get(uint64(b.Image))
		if !ok {
			core.LogError("pipeline barrier: unknown image %d", b.Image)
			return
		}
		mips := b.MipCount
		if mips == 0 {
			mips = 1
		}
		aspect := b.Aspect
		if aspect == 0 {
			aspect = gpu.ImageAspectColor
		}
		p := stagePair{b.SrcStage, b.DstStage}
		seen(p)
		imageBarriers[p] = append(imageBarriers[p], vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       mapBits(b.SrcAccess, accesses),
			DstAccessMask:       mapBits(b.DstAccess, accesses),
			OldLayout:           toVkLayout(b.OldLayout),
			NewLayout:           toVkLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.handle,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     mapBits(aspect, aspects),
				BaseMipLevel:   b.BaseMipLevel,
				LevelCount:     mips,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
	}
	for _, b := range buffers {
		buf, ok := d.h.buffers.Get(uint64(b.Buffer))
		if !ok {
			core.LogError("pipeline barrier: unknown buffer %d", b.Buffer)
			return
		}
		size := vk.DeviceSize(b.Size)
		if b.Size == 0 {
			size = vk.DeviceSize(vk.WholeSize)
		}
		p := stagePair{b.SrcStage, b.DstStage}
		seen(p)
		bufferBarriers[p] = append(bufferBarriers[p], vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       mapBits(b.SrcAccess, accesses),
			DstAccessMask:       mapBits(b.DstAccess, accesses),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              buf.handle,
			Offset:              vk.DeviceSize(b.Offset),
			Size:                size,
		})
	}

	for _, p := range order {
		ib := imageBarriers[p]
		bb := bufferBarriers[p]
		vk.CmdPipelineBarrier(handle, toVkStages(p.src), toVkStages(p.dst), 0,
			0, nil,
			uint32(len(bb)), bb,
			uint32(len(ib)), ib)
	}
}

// CmdBlitImage downsamples one mip into another. The source must be in TransferSrc layout and
// the destination in TransferDst.
func (d *Device) CmdBlitImage(cb gpu.CommandBuffer, img gpu.Image, blit gpu.ImageBlit) {
	handle, ok := d.commandBuffer(cb)
	if !ok {
		return
	}
	entry, ok := d.h.images.Get(uint64(img))
	if !ok {
		core.LogError("blit image: unknown image %d", img)
		return
	}
	region := vk.ImageBlit{
		SrcSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:   blit.SrcMip,
			LayerCount: 1,
		},
		SrcOffsets: [2]vk.Offset3D{
			{X: 0, Y: 0, Z: 0},
			{X: int32(blit.SrcExtent.Width), Y: int32(blit.SrcExtent.Height), Z: 1},
		},
		DstSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:   blit.DstMip,
			LayerCount: 1,
		},
		DstOffsets: [2]vk.Offset3D{
			{X: 0, Y: 0, Z: 0},
			{X: int32(blit.DstExtent.Width), Y: int32(blit.DstExtent.Height), Z: 1},
		},
	}
	vk.CmdBlitImage(handle,
		entry.handle, vk.ImageLayoutTransferSrcOptimal,
		entry.handle, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{region}, vk.FilterLinear)
}

// Submit hands recorded work to the graphics queue.
func (d *Device) Submit(info gpu.SubmitInfo) error {
	waits := make([]vk.Semaphore, len(info.WaitSemaphores))
	waitStages := make([]vk.PipelineStageFlags, len(info.WaitSemaphores))
	for i, s := range info.WaitSemaphores {
		sem, err := lookup(d.h.semaphores, uint64(s), "semaphore")
		if err != nil {
			return err
		}
		waits[i] = sem
		stage := gpu.PipelineStageColorAttachmentOutput
		if i < len(info.WaitStages) {
			stage = info.WaitStages[i]
		}
		waitStages[i] = toVkStages(stage)
	}
	signals := make([]vk.Semaphore, len(info.SignalSemaphores))
	for i, s := range info.SignalSemaphores {
		sem, err := lookup(d.h.semaphores, uint64(s), "semaphore")
		if err != nil {
			return err
		}
		signals[i] = sem
	}
	cbs := make([]vk.CommandBuffer, len(info.CommandBuffers))
	for i, cb := range info.CommandBuffers {
		handle, err := lookup(d.h.commandBuffers, uint64(cb), "command buffer")
		if err != nil {
			return err
		}
		cbs[i] = handle
	}
	fence := vk.NullFence
	if info.Fence != gpu.NullHandle {
		f, err := lookup(d.h.fences, uint64(info.Fence), "fence")
		if err != nil {
			return err
		}
		fence = f
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   uint32(len(cbs)),
		PCommandBuffers:      cbs,
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}
	err := d.lockPool.SafeQueueCall(d.GraphicsQueueIndex, func() error {
		return check(vk.QueueSubmit(d.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence), "submitting to graphics queue")
	})
	return errors.Wrapf(err, "%d command buffer(s)", len(cbs))
}

// WaitIdle holds every queue lock; vkDeviceWaitIdle synchronizes all queues.
func (d *Device) WaitIdle() error {
	wait := func() error {
		return check(vk.DeviceWaitIdle(d.LogicalDevice), "waiting for device idle")
	}
	return d.lockPool.SafeQueueCall(d.GraphicsQueueIndex, func() error {
		if d.PresentQueueIndex == d.GraphicsQueueIndex {
			return wait()
		}
		return d.lockPool.SafeQueueCall(d.PresentQueueIndex, wait)
	})
}
