package recorder

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/swapchain"
)

// Record fills cb with the frame for imageIndex: copies, a transfer barrier, then one render
// pass that draws every group in kind order.
func Record(enc gpu.CommandEncoder, cb gpu.CommandBuffer, imageIndex int, target *swapchain.Target, scene *Scene) error {
	if imageIndex < 0 || imageIndex >= len(target.Framebuffers) {
		return errors.Newf("image index %d out of range [0, %d)", imageIndex, len(target.Framebuffers))
	}
	groups := scene.Ordered()
	for i := range groups {
		if err := groups[i].validate(len(target.Framebuffers)); err != nil {
			return err
		}
	}

	if err := enc.BeginCommandBuffer(cb, gpu.CommandBufferUsageSimultaneousUse); err != nil {
		err = errors.Wrapf(err, "beginning command buffer for image %d", imageIndex)
		core.LogError(err.Error())
		return err
	}

	if len(scene.Copies) > 0 {
		recordCopies(enc, cb, scene.Copies)
	}

	enc.CmdBeginRenderPass(cb, gpu.RenderPassBegin{
		RenderPass:  target.RenderPass,
		Framebuffer: target.Framebuffers[imageIndex],
		Extent:      target.Surface.Extent,
		ClearColor:  scene.ClearColor,
		ClearDepth:  1.0,
	})
	for _, g := range groups {
		enc.CmdBindVertexBuffers(cb, 0, g.VertexBuffers, g.VertexOffsets)
		enc.CmdBindIndexBuffer(cb, g.IndexBuffer, g.IndexOffset, g.IndexType)
		enc.CmdBindPipeline(cb, g.Pipeline)
		enc.CmdBindDescriptorSets(cb, g.Layout, 0, []gpu.DescriptorSet{g.Sets[imageIndex]})
		instances := g.InstanceCount
		if instances == 0 {
			instances = 1
		}
		enc.CmdDrawIndexed(cb, g.IndexCount, instances, 0, 0, 0)
	}
	enc.CmdEndRenderPass(cb)

	if err := enc.EndCommandBuffer(cb); err != nil {
		err = errors.Wrapf(err, "ending command buffer for image %d", imageIndex)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// RecordAll records the same scene into one command buffer per swapchain image.
func RecordAll(enc gpu.CommandEncoder, cbs []gpu.CommandBuffer, target *swapchain.Target, scene *Scene) error {
	if len(cbs) != len(target.Framebuffers) {
		return errors.Newf("%d command buffers for %d framebuffers", len(cbs), len(target.Framebuffers))
	}
	for i, cb := range cbs {
		if err := Record(enc, cb, i, target, scene); err != nil {
			return err
		}
	}
	return nil
}

// RecordTransfer records a one-time buffer of per-frame copies, ending in a barrier that makes
// the copied data visible to vertex input. The destinations may still be read by the previous
// frame's draw, so the copies wait for vertex input first.
func RecordTransfer(enc gpu.CommandEncoder, cb gpu.CommandBuffer, copies []CopyRegion) error {
	if err := enc.ResetCommandBuffer(cb); err != nil {
		return errors.Wrap(err, "resetting transfer command buffer")
	}
	if err := enc.BeginCommandBuffer(cb, gpu.CommandBufferUsageOneTimeSubmit); err != nil {
		return errors.Wrap(err, "beginning transfer command buffer")
	}
	reads := make([]gpu.BufferBarrier, len(copies))
	for i, c := range copies {
		reads[i] = gpu.BufferBarrier{
			Buffer:    c.Dst,
			Offset:    c.DstOffset,
			Size:      c.Size,
			SrcAccess: gpu.AccessVertexAttributeRead,
			DstAccess: gpu.AccessTransferWrite,
			SrcStage:  gpu.PipelineStageVertexInput,
			DstStage:  gpu.PipelineStageTransfer,
		}
	}
	enc.CmdPipelineBarrier(cb, nil, reads)
	recordCopies(enc, cb, copies)
	return enc.EndCommandBuffer(cb)
}

func recordCopies(enc gpu.CommandEncoder, cb gpu.CommandBuffer, copies []CopyRegion) {
	barriers := make([]gpu.BufferBarrier, 0, len(copies))
	for _, c := range copies {
		enc.CmdCopyBuffer(cb, c.Src, c.Dst, []gpu.BufferCopy{c.BufferCopy})
		barriers = append(barriers, gpu.BufferBarrier{
			Buffer:    c.Dst,
			Offset:    c.DstOffset,
			Size:      c.Size,
			SrcAccess: gpu.AccessTransferWrite,
			DstAccess: gpu.AccessVertexAttributeRead,
			SrcStage:  gpu.PipelineStageTransfer,
			DstStage:  gpu.PipelineStageVertexInput,
		})
	}
	if len(barriers) > 0 {
		enc.CmdPipelineBarrier(cb, nil, barriers)
	}
}

// SceneBuilder returns the scene for a freshly built target. It runs after the descriptor and
// pipeline stages, so the per-image sets and pipelines it references are current.
type SceneBuilder func(target *swapchain.Target) (*Scene, error)

// Recorder owns the per-image draw buffers and the per-slot transfer buffers. It is the
// command-buffer stage of the swapchain.
type Recorder struct {
	dev      gpu.Backend
	build    SceneBuilder
	buffers  []gpu.CommandBuffer
	transfer []gpu.CommandBuffer
	scene    *Scene
}

var _ swapchain.Dependent = (*Recorder)(nil)

func NewRecorder(dev gpu.Backend, framesInFlight int, build SceneBuilder) (*Recorder, error) {
	transfer, err := dev.AllocateCommandBuffers(framesInFlight)
	if err != nil {
		err = errors.Wrap(err, "allocating transfer command buffers")
		core.LogError(err.Error())
		return nil, err
	}
	return &Recorder{dev: dev, build: build, transfer: transfer}, nil
}

func (r *Recorder) Name() string {
	return "command-buffers"
}

// Create allocates and records one command buffer per image of target.
func (r *Recorder) Create(target *swapchain.Target, destroy *swapchain.DestroyList) error {
	scene, err := r.build(target)
	if err != nil {
		return err
	}
	cbs, err := r.dev.AllocateCommandBuffers(len(target.Framebuffers))
	if err != nil {
		return errors.Wrap(err, "allocating graphics command buffers")
	}
	destroy.Push("command-buffers", fmt.Sprintf("graphics x%d", len(cbs)), func() {
		r.dev.FreeCommandBuffers(cbs)
		r.buffers = nil
	})
	if err := RecordAll(r.dev, cbs, target, scene); err != nil {
		return err
	}
	r.buffers = cbs
	r.scene = scene
	core.LogDebug("recorded %d command buffer(s), %d draw group(s)", len(cbs), len(scene.Groups))
	return nil
}

// Buffer is the prerecorded draw buffer of imageIndex.
func (r *Recorder) Buffer(imageIndex uint32) gpu.CommandBuffer {
	return r.buffers[imageIndex]
}

func (r *Recorder) Buffers() []gpu.CommandBuffer {
	return r.buffers
}

func (r *Recorder) Scene() *Scene {
	return r.scene
}

// Transfer records copies into the transfer buffer of slot. The slot fence must have been
// waited on. It returns gpu.NullHandle when there is nothing to copy.
func (r *Recorder) Transfer(slot int, copies []CopyRegion) (gpu.CommandBuffer, error) {
	if len(copies) == 0 {
		return gpu.NullHandle, nil
	}
	cb := r.transfer[slot]
	if err := RecordTransfer(r.dev, cb, copies); err != nil {
		return gpu.NullHandle, err
	}
	return cb, nil
}

// Destroy frees the transfer buffers. The draw buffers belong to the swapchain destroy list.
func (r *Recorder) Destroy() {
	if r.transfer != nil {
		r.dev.FreeCommandBuffers(r.transfer)
		r.transfer = nil
	}
}
