package resource

import (
	"encoding/binary"
	"image/color"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/memutils"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/gpu/sim"
	"github.com/spaghettifunk/prism/engine/renderer/memory"
)

func newDevice(t *testing.T) (*sim.Device, *memory.Arena) {
	t.Helper()
	dev := sim.New(sim.DefaultOptions())
	arena, err := memory.NewArena(dev, memory.ArenaConfig{ChunkSize: 64 * memory.MiB})
	require.NoError(t, err)
	return dev, arena
}

func TestMipLevels(t *testing.T) {
	require.Equal(t, uint32(1), MipLevels(1, 1))
	require.Equal(t, uint32(10), MipLevels(512, 300))
	require.Equal(t, uint32(11), MipLevels(1024, 1024))
	require.Equal(t, uint32(12), MipLevels(3000, 2))
}

func TestUniformStride(t *testing.T) {
	limits := gpu.DeviceLimits{MinUniformBufferOffsetAlignment: 256}

	stride, err := UniformStride(100, limits, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(256), stride)

	stride, err = UniformStride(300, limits, 1024)
	require.NoError(t, err)
	require.Equal(t, uint64(1024), stride)

	for _, configured := range []uint64{384, 128} {
		_, err = UniformStride(300, limits, configured)
		require.True(t, errors.Is(err, core.ErrUniformAlignment), "stride %d", configured)
		require.True(t, core.IsFatal(err))
	}

	_, err = UniformStride(64, gpu.DeviceLimits{MinUniformBufferOffsetAlignment: 48}, 0)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	require.True(t, errors.Is(err, core.ErrUniformAlignment))
}

func TestBufferLifecycle(t *testing.T) {
	dev, arena := newDevice(t)

	host, err := NewBuffer(dev, arena, BufferDesc{
		BufferDesc: gpu.BufferDesc{Label: "host", Size: 100, Usage: gpu.BufferUsageTransferSrc},
		Class:      gpu.MemoryClassHostVisibleCoherent,
	})
	require.NoError(t, err)
	require.NoError(t, host.Write(96, []byte{1, 2, 3, 4}))
	require.Error(t, host.Write(98, []byte{1, 2, 3, 4}))
	mapped, err := host.Map()
	require.NoError(t, err)
	require.Len(t, mapped, 100)

	device, err := NewBuffer(dev, arena, BufferDesc{
		BufferDesc: gpu.BufferDesc{Label: "device", Size: 64, Usage: gpu.BufferUsageVertex},
		Class:      gpu.MemoryClassDeviceLocal,
	})
	require.NoError(t, err)
	_, err = device.Map()
	require.True(t, errors.Is(err, core.ErrNotHostVisible))

	used := arena.Used(gpu.MemoryClassHostVisibleCoherent)
	host.Destroy()
	host.Destroy()
	device.Destroy()
	require.Equal(t, used, arena.Used(gpu.MemoryClassHostVisibleCoherent))
	require.Zero(t, dev.Live(sim.KindBuffer))
	require.Empty(t, dev.Violations())
}

func TestNewBufferAtChecksRegion(t *testing.T) {
	dev, arena := newDevice(t)
	desc := BufferDesc{
		BufferDesc: gpu.BufferDesc{Label: "ubo", Size: 200, Usage: gpu.BufferUsageUniform},
		Class:      gpu.MemoryClassHostVisibleCoherent,
	}

	region, err := arena.Allocate(gpu.MemoryClassHostVisibleCoherent, 1024, 256)
	require.NoError(t, err)

	misaligned, err := region.Sub(64, 256)
	require.NoError(t, err)
	_, err = NewBufferAt(dev, misaligned, desc)
	require.Error(t, err)

	small, err := region.Sub(0, 128)
	require.NoError(t, err)
	_, err = NewBufferAt(dev, small, desc)
	require.Error(t, err)

	desc.Class = gpu.MemoryClassDeviceLocal
	_, err = NewBufferAt(dev, region, desc)
	require.Error(t, err)

	require.Zero(t, dev.Live(sim.KindBuffer))
}

func TestUniformBufferReusesRegion(t *testing.T) {
	dev, arena := newDevice(t)

	ub, err := ReserveUniformBuffer(arena, 200, dev.Limits(), 0, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(256), ub.Stride())
	used := arena.Used(gpu.MemoryClassHostVisibleCoherent)

	for _, count := range []int{3, 2, 4} {
		require.NoError(t, ub.Create(dev, count))
		require.Equal(t, count, ub.Len())
		for i := 0; i < count; i++ {
			require.NoError(t, ub.Write(i, []byte{byte(i + 1)}))
			require.Equal(t, ub.Region().Offset+uint64(i)*ub.Stride(), ub.Buffer(i).Region.Offset)
		}
		ub.Destroy()
	}
	require.Equal(t, used, arena.Used(gpu.MemoryClassHostVisibleCoherent))
	require.Error(t, ub.Create(dev, 5))
	require.Zero(t, dev.Live(sim.KindBuffer))
}

func TestStagingRingOffsets(t *testing.T) {
	dev, arena := newDevice(t)

	staging, err := NewStagingBuffer(dev, arena, 4096, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(2048), staging.UploadCapacity())
	require.Error(t, staging.Stage(2040, make([]byte, 16)))

	space, err := staging.AllocateFrame(100, 16)
	require.NoError(t, err)
	require.GreaterOrEqual(t, space.Offset, uint64(2048))
	require.Len(t, space.Bytes, 100)
	copy(space.Bytes, "instance")

	mapped, err := staging.Map()
	require.NoError(t, err)
	require.Equal(t, []byte("instance"), mapped[space.Offset:space.Offset+8])

	require.NoError(t, staging.EndFrame(0))
	staging.Release(0)
	require.Zero(t, staging.Ring().Used())
	staging.Destroy()
}

func floatAt(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}

func TestUploadMeshCopiesIntoDeviceBuffers(t *testing.T) {
	dev, arena := newDevice(t)
	staging, err := NewStagingBuffer(dev, arena, 64*1024, 2)
	require.NoError(t, err)
	uploader := NewUploader(dev, arena, staging)

	plane := assets.Plane(2, 1)
	mesh, err := uploader.UploadMesh("ground", plane)
	require.NoError(t, err)
	require.Equal(t, 2, uploader.Pending())
	require.NoError(t, uploader.Flush())
	require.Zero(t, uploader.Pending())

	vertices, err := dev.ReadBuffer(mesh.Vertices.Handle)
	require.NoError(t, err)
	require.Len(t, vertices, 4*VertexStride)
	// Second vertex: position (1, 0, 1), normal (0, 1, 0), uv (1, 1).
	second := vertices[VertexStride:]
	require.Equal(t, float32(1), floatAt(second, 0))
	require.Equal(t, float32(1), floatAt(second, 2))
	require.Equal(t, float32(1), floatAt(second, 4))
	require.Equal(t, float32(1), floatAt(second, 6))

	indices, err := dev.ReadBuffer(mesh.Indices.Handle)
	require.NoError(t, err)
	require.Equal(t, uint32(2), binary.LittleEndian.Uint32(indices[8:]))
	require.Equal(t, uint32(6), mesh.IndexCount)

	// The single-use buffer and its fence are gone once Flush returns.
	require.Zero(t, dev.Live(sim.KindCommandBuffer))
	require.Zero(t, dev.Live(sim.KindFence))
	require.Len(t, dev.Submissions(), 1)

	mesh.Destroy()
	staging.Destroy()
	require.Empty(t, dev.Violations())
}

func TestUploadFlushesWhenWindowIsFull(t *testing.T) {
	dev, arena := newDevice(t)
	staging, err := NewStagingBuffer(dev, arena, 2048, 1)
	require.NoError(t, err)
	uploader := NewUploader(dev, arena, staging)

	a, err := uploader.UploadBuffer("a", gpu.BufferUsageVertex, make([]byte, 600))
	require.NoError(t, err)
	b, err := uploader.UploadBuffer("b", gpu.BufferUsageVertex, make([]byte, 600))
	require.NoError(t, err)
	require.Len(t, dev.Submissions(), 1)
	require.Equal(t, 1, uploader.Pending())

	_, err = uploader.UploadBuffer("c", gpu.BufferUsageVertex, make([]byte, 2000))
	require.Error(t, err)

	require.NoError(t, uploader.Flush())
	require.Len(t, dev.Submissions(), 2)
	a.Destroy()
	b.Destroy()
}

func TestUploadImageRecordsMipChain(t *testing.T) {
	dev, arena := newDevice(t)
	staging, err := NewStagingBuffer(dev, arena, memory.MiB, 1)
	require.NoError(t, err)
	uploader := NewUploader(dev, arena, staging)

	board := assets.Checkerboard(64, 8, color.RGBA{A: 255}, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	tex, err := uploader.UploadImage("checker", board)
	require.NoError(t, err)
	require.Equal(t, uint32(7), tex.Image.Desc.MipLevels)

	cbs, err := dev.AllocateCommandBuffers(1)
	require.NoError(t, err)
	require.NoError(t, dev.BeginCommandBuffer(cbs[0], gpu.CommandBufferUsageOneTimeSubmit))
	require.NoError(t, uploader.ops[0](cbs[0]))
	require.NoError(t, dev.EndCommandBuffer(cbs[0]))

	var blits int
	var last gpu.ImageBarrier
	for _, cmd := range dev.Commands(cbs[0]) {
		switch cmd.Op {
		case sim.OpBlitImage:
			blits++
			require.Equal(t, cmd.Blit.SrcMip+1, cmd.Blit.DstMip)
		case sim.OpPipelineBarrier:
			last = cmd.ImageBarriers[0]
		}
	}
	require.Equal(t, 6, blits)
	require.Equal(t, uint32(6), last.BaseMipLevel)
	require.Equal(t, gpu.ImageLayoutShaderReadOnly, last.NewLayout)
	dev.FreeCommandBuffers(cbs)

	require.NoError(t, uploader.Flush())
	err = tex.Image.TransitionLayout(dev, cbs[0], gpu.ImageLayoutShaderReadOnly, gpu.ImageLayoutTransferDst)
	require.True(t, errors.Is(err, core.ErrInvalidTransition))

	tex.Destroy()
	tex.Destroy()
	require.Zero(t, dev.Live(sim.KindImage))
	require.Zero(t, dev.Live(sim.KindImageView))
	require.Zero(t, dev.Live(sim.KindSampler))
	require.Empty(t, dev.Violations())
}

func TestImageRejectsWrongRegion(t *testing.T) {
	dev, arena := newDevice(t)

	img, err := CreateImage(dev, ImageDesc{
		Label:  "depth",
		Extent: gpu.Extent2D{Width: 64, Height: 64},
		Format: gpu.FormatD24UnormS8Uint,
		Usage:  gpu.ImageUsageDepthStencilAttachment,
	})
	require.NoError(t, err)

	host, err := arena.Allocate(gpu.MemoryClassHostVisibleCoherent, img.Requirements().Size, img.Requirements().Alignment)
	require.NoError(t, err)
	require.Error(t, img.Bind(host))

	region, err := arena.Allocate(gpu.MemoryClassDeviceLocal, img.Requirements().Size, img.Requirements().Alignment)
	require.NoError(t, err)
	require.NoError(t, img.Bind(region))
	require.Error(t, img.Bind(region))
	require.NotEqual(t, gpu.ImageView(gpu.NullHandle), img.View)

	img.Destroy()
	require.Zero(t, dev.LiveTotal()-dev.Live(sim.KindMemory))
}
