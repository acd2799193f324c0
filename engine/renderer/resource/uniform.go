package resource

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/memutils"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/memory"
)

// UniformStride is the distance between per-image uniform blocks of size bytes. A non-zero
// configured stride is used as is once it is checked against the device alignment.
func UniformStride(size uint64, limits gpu.DeviceLimits, configured uint64) (uint64, error) {
	align := limits.MinUniformBufferOffsetAlignment
	if align == 0 {
		align = 1
	}
	if err := memutils.CheckPow2(uint(align), "minUniformBufferOffsetAlignment"); err != nil {
		return 0, core.MarkFatal(errors.Mark(err, core.ErrUniformAlignment))
	}
	if configured == 0 {
		return uint64(memutils.AlignUp(int(size), uint(align))), nil
	}
	if configured%align != 0 || configured < size {
		return 0, core.MarkFatal(errors.Wrapf(core.ErrUniformAlignment,
			"configured stride %d for a %d byte block, device alignment %d", configured, size, align))
	}
	return configured, nil
}

// UniformBuffer holds one uniform buffer per swapchain image. The host-visible region behind
// them is reserved once for the maximum image count and reused every time the buffers are
// recreated, so swapchain rebuilds never grow the arena.
type UniformBuffer struct {
	region   memory.Region
	size     uint64
	stride   uint64
	capacity int
	buffers  []*Buffer
}

func ReserveUniformBuffer(arena *memory.Arena, size uint64, limits gpu.DeviceLimits, configuredStride uint64, maxImages int) (*UniformBuffer, error) {
	stride, err := UniformStride(size, limits, configuredStride)
	if err != nil {
		return nil, err
	}
	if maxImages < 1 {
		return nil, errors.Newf("uniform buffer needs room for at least one image, got %d", maxImages)
	}
	region, err := arena.Allocate(gpu.MemoryClassHostVisibleCoherent, stride*uint64(maxImages), max(limits.MinUniformBufferOffsetAlignment, 1))
	if err != nil {
		return nil, errors.Wrap(err, "reserving uniform region")
	}
	core.LogDebug("uniform region: %d x %d bytes at %d", maxImages, stride, region.Offset)
	return &UniformBuffer{region: region, size: size, stride: stride, capacity: maxImages}, nil
}

// Create binds count buffers into the reserved region, one stride apart.
func (u *UniformBuffer) Create(dev Device, count int) error {
	if len(u.buffers) > 0 {
		return errors.New("uniform buffers already created")
	}
	if count > u.capacity {
		return errors.Newf("%d swapchain images exceed the %d reserved uniform slots", count, u.capacity)
	}
	for i := 0; i < count; i++ {
		window, err := u.region.Sub(uint64(i)*u.stride, u.stride)
		if err != nil {
			u.Destroy()
			return err
		}
		buf, err := NewBufferAt(dev, window, BufferDesc{
			BufferDesc: gpu.BufferDesc{
				Label: fmt.Sprintf("uniforms[%d]", i),
				Size:  u.size,
				Usage: gpu.BufferUsageUniform,
			},
			Class: gpu.MemoryClassHostVisibleCoherent,
		})
		if err != nil {
			u.Destroy()
			return err
		}
		u.buffers = append(u.buffers, buf)
	}
	return nil
}

// Write replaces the uniform block of image.
func (u *UniformBuffer) Write(image int, data []byte) error {
	if image < 0 || image >= len(u.buffers) {
		return errors.Newf("no uniform buffer for image %d", image)
	}
	return u.buffers[image].Write(0, data)
}

func (u *UniformBuffer) Buffer(image int) *Buffer {
	return u.buffers[image]
}

func (u *UniformBuffer) Len() int {
	return len(u.buffers)
}

func (u *UniformBuffer) Size() uint64 {
	return u.size
}

func (u *UniformBuffer) Stride() uint64 {
	return u.stride
}

func (u *UniformBuffer) Region() memory.Region {
	return u.region
}

// Destroy releases the buffers and keeps the region for the next Create.
func (u *UniformBuffer) Destroy() {
	for _, b := range u.buffers {
		b.Destroy()
	}
	u.buffers = nil
}
