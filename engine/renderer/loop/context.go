package loop

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/recorder"
	"github.com/spaghettifunk/prism/engine/renderer/resource"
)

// FrameContext is handed to Application.Update once per tick.
type FrameContext struct {
	Frame      uint64
	Slot       int
	ImageIndex uint32
	Delta      time.Duration
	Elapsed    time.Duration
	Extent     gpu.Extent2D

	uniforms *resource.UniformBuffer
	staging  *resource.StagingBuffer
	copies   []recorder.CopyRegion
}

// NewFrameContext builds a context outside a Loop, for applications under test.
func NewFrameContext(imageIndex uint32, uniforms *resource.UniformBuffer, staging *resource.StagingBuffer) *FrameContext {
	return &FrameContext{ImageIndex: imageIndex, uniforms: uniforms, staging: staging}
}

// WriteUniform replaces the uniform block of the claimed image.
func (c *FrameContext) WriteUniform(data []byte) error {
	if c.uniforms == nil {
		return errors.New("frame has no uniform buffer")
	}
	return c.uniforms.Write(int(c.ImageIndex), data)
}

// Upload stages data in this frame's ring space and schedules a copy to dst at dstOffset,
// submitted ahead of the draw. core.ErrRingFull means the upload was skipped.
func (c *FrameContext) Upload(dst gpu.Buffer, dstOffset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	space, err := c.staging.AllocateFrame(uint64(len(data)), 16)
	if err != nil {
		if errors.Is(err, core.ErrRingFull) {
			core.LogWarn("skipping %d byte upload in frame %d: %s", len(data), c.Frame, err)
		}
		return err
	}
	copy(space.Bytes, data)
	c.copies = append(c.copies, recorder.CopyRegion{
		Src: c.staging.Handle,
		Dst: dst,
		BufferCopy: gpu.BufferCopy{
			SrcOffset: space.Offset,
			DstOffset: dstOffset,
			Size:      uint64(len(data)),
		},
	})
	return nil
}

// Copies lists the uploads scheduled so far.
func (c *FrameContext) Copies() []recorder.CopyRegion {
	return c.copies
}
