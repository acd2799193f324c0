package sim

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbPending
)

func (s cbState) String() string {
	switch s {
	case cbInitial:
		return "initial"
	case cbRecording:
		return "recording"
	case cbExecutable:
		return "executable"
	case cbPending:
		return "pending"
	}
	return "unknown"
}

type commandBuffer struct {
	state      cbState
	usage      gpu.CommandBufferUsage
	submission int
	commands   []Command
}

type Op int

const (
	OpBegin Op = iota
	OpEnd
	OpBeginRenderPass
	OpEndRenderPass
	OpBindPipeline
	OpBindVertexBuffers
	OpBindIndexBuffer
	OpBindDescriptorSets
	OpDrawIndexed
	OpCopyBuffer
	OpCopyBufferToImage
	OpPipelineBarrier
	OpBlitImage
)

var opNames = map[Op]string{
	OpBegin:              "begin",
	OpEnd:                "end",
	OpBeginRenderPass:    "begin-render-pass",
	OpEndRenderPass:      "end-render-pass",
	OpBindPipeline:       "bind-pipeline",
	OpBindVertexBuffers:  "bind-vertex-buffers",
	OpBindIndexBuffer:    "bind-index-buffer",
	OpBindDescriptorSets: "bind-descriptor-sets",
	OpDrawIndexed:        "draw-indexed",
	OpCopyBuffer:         "copy-buffer",
	OpCopyBufferToImage:  "copy-buffer-to-image",
	OpPipelineBarrier:    "pipeline-barrier",
	OpBlitImage:          "blit-image",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return "unknown"
}

// Command is one captured encoder call. Only the fields relevant to Op are set.
type Command struct {
	Op             Op
	RenderPass     gpu.RenderPass
	Framebuffer    gpu.Framebuffer
	Extent         gpu.Extent2D
	Pipeline       gpu.Pipeline
	Layout         gpu.PipelineLayout
	Buffers        []gpu.Buffer
	Offsets        []uint64
	IndexType      gpu.IndexType
	Sets           []gpu.DescriptorSet
	IndexCount     uint32
	InstanceCount  uint32
	FirstIndex     uint32
	Image          gpu.Image
	Copies         []gpu.BufferCopy
	ImageCopies    []gpu.BufferImageCopy
	ImageBarriers  []gpu.ImageBarrier
	BufferBarriers []gpu.BufferBarrier
	Blit           gpu.ImageBlit
}

func (c Command) references(h gpu.Handle) bool {
	for _, b := range c.Buffers {
		if gpu.Handle(b) == h {
			return true
		}
	}
	return false
}

func (d *Device) recordingLocked(cb gpu.CommandBuffer) *commandBuffer {
	c, ok := d.cmdBuffers[cb]
	if !ok {
		d.violatef("recording into unknown command buffer %d", cb)
		return nil
	}
	if c.state != cbRecording {
		d.violatef("recording into command buffer %d in state %s", cb, c.state)
		return nil
	}
	return c
}

func (d *Device) record(cb gpu.CommandBuffer, cmd Command) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c := d.recordingLocked(cb); c != nil {
		c.commands = append(c.commands, cmd)
	}
}

func (d *Device) BeginCommandBuffer(cb gpu.CommandBuffer, usage gpu.CommandBufferUsage) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.retireLocked()
	c, ok := d.cmdBuffers[cb]
	if !ok {
		return errors.Wrapf(ErrInvalidHandle, "command buffer %d", cb)
	}
	if c.state == cbRecording || c.state == cbPending {
		return errors.Wrapf(ErrCommandBufState, "beginning command buffer %d in state %s", cb, c.state)
	}
	c.state = cbRecording
	c.usage = usage
	c.commands = []Command{{Op: OpBegin}}
	return nil
}

func (d *Device) EndCommandBuffer(cb gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := d.recordingLocked(cb)
	if c == nil {
		return errors.Wrapf(ErrCommandBufState, "ending command buffer %d", cb)
	}
	c.commands = append(c.commands, Command{Op: OpEnd})
	c.state = cbExecutable
	return nil
}

func (d *Device) ResetCommandBuffer(cb gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.retireLocked()
	c, ok := d.cmdBuffers[cb]
	if !ok {
		return errors.Wrapf(ErrInvalidHandle, "command buffer %d", cb)
	}
	if c.state == cbPending {
		return errors.Wrapf(ErrCommandBufState, "resetting command buffer %d of in-flight submission %d", cb, c.submission)
	}
	c.state = cbInitial
	c.commands = nil
	return nil
}

func (d *Device) CmdBeginRenderPass(cb gpu.CommandBuffer, begin gpu.RenderPassBegin) {
	d.record(cb, Command{Op: OpBeginRenderPass, RenderPass: begin.RenderPass, Framebuffer: begin.Framebuffer, Extent: begin.Extent})
}

func (d *Device) CmdEndRenderPass(cb gpu.CommandBuffer) {
	d.record(cb, Command{Op: OpEndRenderPass})
}

func (d *Device) CmdBindPipeline(cb gpu.CommandBuffer, p gpu.Pipeline) {
	d.record(cb, Command{Op: OpBindPipeline, Pipeline: p})
}

func (d *Device) CmdBindVertexBuffers(cb gpu.CommandBuffer, first uint32, buffers []gpu.Buffer, offsets []uint64) {
	if len(buffers) != len(offsets) {
		d.mu.Lock()
		d.violatef("binding %d vertex buffers with %d offsets", len(buffers), len(offsets))
		d.mu.Unlock()
	}
	d.record(cb, Command{Op: OpBindVertexBuffers, Buffers: slices.Clone(buffers), Offsets: slices.Clone(offsets)})
}

func (d *Device) CmdBindIndexBuffer(cb gpu.CommandBuffer, buf gpu.Buffer, offset uint64, indexType gpu.IndexType) {
	d.record(cb, Command{Op: OpBindIndexBuffer, Buffers: []gpu.Buffer{buf}, Offsets: []uint64{offset}, IndexType: indexType})
}

func (d *Device) CmdBindDescriptorSets(cb gpu.CommandBuffer, layout gpu.PipelineLayout, first uint32, sets []gpu.DescriptorSet) {
	d.record(cb, Command{Op: OpBindDescriptorSets, Layout: layout, Sets: slices.Clone(sets)})
}

func (d *Device) CmdDrawIndexed(cb gpu.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	d.record(cb, Command{Op: OpDrawIndexed, IndexCount: indexCount, InstanceCount: instanceCount, FirstIndex: firstIndex})
}

func (d *Device) CmdCopyBuffer(cb gpu.CommandBuffer, src, dst gpu.Buffer, regions []gpu.BufferCopy) {
	d.record(cb, Command{Op: OpCopyBuffer, Buffers: []gpu.Buffer{src, dst}, Copies: slices.Clone(regions)})
}

func (d *Device) CmdCopyBufferToImage(cb gpu.CommandBuffer, src gpu.Buffer, dst gpu.Image, regions []gpu.BufferImageCopy) {
	d.record(cb, Command{Op: OpCopyBufferToImage, Buffers: []gpu.Buffer{src}, Image: dst, ImageCopies: slices.Clone(regions)})
}

func (d *Device) CmdPipelineBarrier(cb gpu.CommandBuffer, images []gpu.ImageBarrier, buffers []gpu.BufferBarrier) {
	d.record(cb, Command{Op: OpPipelineBarrier, ImageBarriers: slices.Clone(images), BufferBarriers: slices.Clone(buffers)})
}

func (d *Device) CmdBlitImage(cb gpu.CommandBuffer, img gpu.Image, blit gpu.ImageBlit) {
	d.record(cb, Command{Op: OpBlitImage, Image: img, Blit: blit})
}

// executeLocked applies the side effects the host can observe: buffer copies.
func (d *Device) executeLocked(cmds []Command) {
	for _, cmd := range cmds {
		if cmd.Op != OpCopyBuffer {
			continue
		}
		src, ok := d.bufferBytesLocked(cmd.Buffers[0])
		dst, ok2 := d.bufferBytesLocked(cmd.Buffers[1])
		if !ok || !ok2 {
			d.violatef("copy between unbound buffers %d and %d", cmd.Buffers[0], cmd.Buffers[1])
			continue
		}
		for _, r := range cmd.Copies {
			if r.SrcOffset+r.Size > uint64(len(src)) || r.DstOffset+r.Size > uint64(len(dst)) {
				d.violatef("copy region %+v out of bounds", r)
				continue
			}
			copy(dst[r.DstOffset:r.DstOffset+r.Size], src[r.SrcOffset:r.SrcOffset+r.Size])
		}
	}
}

// Commands returns what was captured in cb since its last begin.
func (d *Device) Commands(cb gpu.CommandBuffer) []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cmdBuffers[cb]; ok {
		return slices.Clone(c.commands)
	}
	return nil
}

// DrawCall is a draw together with the state bound when it was issued.
type DrawCall struct {
	Pipeline      gpu.Pipeline
	Sets          []gpu.DescriptorSet
	VertexBuffers []gpu.Buffer
	IndexBuffer   gpu.Buffer
	IndexCount    uint32
	InstanceCount uint32
}

// ValidateSequence checks that cmds form a complete buffer in which every draw sits inside a
// render pass and each draw group binds vertex buffers, index buffer, pipeline and descriptor
// sets before drawing. It returns the draws in order.
func ValidateSequence(cmds []Command) ([]DrawCall, error) {
	if len(cmds) < 2 || cmds[0].Op != OpBegin || cmds[len(cmds)-1].Op != OpEnd {
		return nil, errors.New("sequence must start with begin and finish with end")
	}

	var (
		draws        []DrawCall
		inPass       bool
		passes       int
		current      DrawCall
		boundInGroup = map[Op]bool{}
	)
	groupOps := []Op{OpBindVertexBuffers, OpBindIndexBuffer, OpBindPipeline, OpBindDescriptorSets}

	for i, cmd := range cmds[1 : len(cmds)-1] {
		switch cmd.Op {
		case OpBegin, OpEnd:
			return nil, errors.Newf("command %d: nested %s", i+1, cmd.Op)
		case OpBeginRenderPass:
			if inPass {
				return nil, errors.Newf("command %d: render pass already open", i+1)
			}
			inPass = true
			passes++
		case OpEndRenderPass:
			if !inPass {
				return nil, errors.Newf("command %d: no render pass to end", i+1)
			}
			inPass = false
		case OpCopyBuffer, OpCopyBufferToImage, OpBlitImage:
			if inPass {
				return nil, errors.Newf("command %d: %s inside a render pass", i+1, cmd.Op)
			}
		case OpBindVertexBuffers:
			current.VertexBuffers = cmd.Buffers
			boundInGroup[cmd.Op] = true
		case OpBindIndexBuffer:
			current.IndexBuffer = cmd.Buffers[0]
			boundInGroup[cmd.Op] = true
		case OpBindPipeline:
			current.Pipeline = cmd.Pipeline
			boundInGroup[cmd.Op] = true
		case OpBindDescriptorSets:
			current.Sets = cmd.Sets
			boundInGroup[cmd.Op] = true
		case OpDrawIndexed:
			if !inPass {
				return nil, errors.Newf("command %d: draw outside a render pass", i+1)
			}
			for _, op := range groupOps {
				if !boundInGroup[op] {
					return nil, errors.Newf("command %d: draw group %d is missing %s", i+1, len(draws), op)
				}
			}
			current.IndexCount = cmd.IndexCount
			current.InstanceCount = cmd.InstanceCount
			draws = append(draws, current)
			current = DrawCall{}
			boundInGroup = map[Op]bool{}
		}
	}
	if inPass {
		return nil, errors.New("render pass left open")
	}
	if len(draws) > 0 && passes == 0 {
		return nil, errors.New("draws without a render pass")
	}
	return draws, nil
}
