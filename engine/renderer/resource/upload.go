package resource

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/memutils"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/memory"
)

// VertexStride is the size of one interleaved vertex: position, normal, texcoord.
const VertexStride = (3 + 3 + 2) * 4

// BeginSingleUse allocates a command buffer and begins a one-time recording.
func BeginSingleUse(dev Device) (gpu.CommandBuffer, error) {
	cbs, err := dev.AllocateCommandBuffers(1)
	if err != nil {
		err = errors.Wrap(err, "allocating single-use command buffer")
		core.LogError(err.Error())
		return gpu.NullHandle, err
	}
	if err := dev.BeginCommandBuffer(cbs[0], gpu.CommandBufferUsageOneTimeSubmit); err != nil {
		dev.FreeCommandBuffers(cbs)
		return gpu.NullHandle, errors.Wrap(err, "beginning single-use command buffer")
	}
	return cbs[0], nil
}

// EndSingleUse ends the recording, submits it with a fence, waits for it and frees the buffer.
func EndSingleUse(dev Device, cb gpu.CommandBuffer) error {
	defer dev.FreeCommandBuffers([]gpu.CommandBuffer{cb})

	if err := dev.EndCommandBuffer(cb); err != nil {
		return errors.Wrap(err, "ending single-use command buffer")
	}
	fence, err := dev.CreateFence(false)
	if err != nil {
		return errors.Wrap(err, "creating upload fence")
	}
	defer dev.DestroyFence(fence)

	if err := dev.Submit(gpu.SubmitInfo{CommandBuffers: []gpu.CommandBuffer{cb}, Fence: fence}); err != nil {
		err = errors.Wrap(err, "submitting single-use command buffer")
		core.LogError(err.Error())
		return err
	}
	if _, err := dev.WaitForFence(fence, gpu.TimeoutInfinite); err != nil {
		return errors.Wrap(err, "waiting for upload")
	}
	return nil
}

// InterleaveVertices packs a mesh as VertexStride sized little-endian vertices.
func InterleaveVertices(m *assets.MeshData) []byte {
	n := m.VertexCount()
	out := make([]byte, 0, n*VertexStride)
	put := func(f float32) {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	for i := 0; i < n; i++ {
		for _, f := range m.Positions[i*3 : i*3+3] {
			put(f)
		}
		for _, f := range m.Normals[i*3 : i*3+3] {
			put(f)
		}
		for _, f := range m.TexCoords[i*2 : i*2+2] {
			put(f)
		}
	}
	return out
}

func packIndices(indices []uint32) []byte {
	out := make([]byte, 0, len(indices)*4)
	for _, idx := range indices {
		out = binary.LittleEndian.AppendUint32(out, idx)
	}
	return out
}

// Mesh is an uploaded indexed mesh.
type Mesh struct {
	Vertices    *Buffer
	Indices     *Buffer
	VertexCount uint32
	IndexCount  uint32
}

func (m *Mesh) Destroy() {
	if m == nil {
		return
	}
	m.Indices.Destroy()
	m.Vertices.Destroy()
}

type uploadOp func(cb gpu.CommandBuffer) error

// Uploader stages data in the upload window of a StagingBuffer and batches the copies into
// device-local memory. Nothing it returns is usable by the GPU before Flush.
type Uploader struct {
	dev     Device
	arena   *memory.Arena
	staging *StagingBuffer

	cursor uint64
	ops    []uploadOp
}

func NewUploader(dev Device, arena *memory.Arena, staging *StagingBuffer) *Uploader {
	return &Uploader{dev: dev, arena: arena, staging: staging}
}

// stage copies data to the next free aligned offset of the upload window, flushing
// pending work first when the window is full.
func (u *Uploader) stage(data []byte, alignment uint64) (uint64, error) {
	size := uint64(len(data))
	if size > u.staging.UploadCapacity() {
		return 0, errors.Newf("upload of %d bytes exceeds the %d byte staging window", size, u.staging.UploadCapacity())
	}
	offset := uint64(memutils.AlignUp(int(u.cursor), uint(alignment)))
	if offset+size > u.staging.UploadCapacity() {
		if err := u.Flush(); err != nil {
			return 0, err
		}
		offset = 0
	}
	if err := u.staging.Stage(offset, data); err != nil {
		return 0, err
	}
	u.cursor = offset + size
	return offset, nil
}

// UploadBuffer creates a device-local buffer and schedules data to be copied into it.
func (u *Uploader) UploadBuffer(label string, usage gpu.BufferUsage, data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, errors.Newf("upload `%s` has no data", label)
	}
	buf, err := NewBuffer(u.dev, u.arena, BufferDesc{
		BufferDesc: gpu.BufferDesc{
			Label: label,
			Size:  uint64(len(data)),
			Usage: usage | gpu.BufferUsageTransferDst,
		},
		Class: gpu.MemoryClassDeviceLocal,
	})
	if err != nil {
		return nil, err
	}
	offset, err := u.stage(data, 16)
	if err != nil {
		buf.Destroy()
		return nil, err
	}

	src := u.staging.Handle
	u.ops = append(u.ops, func(cb gpu.CommandBuffer) error {
		u.dev.CmdCopyBuffer(cb, src, buf.Handle, []gpu.BufferCopy{{
			SrcOffset: offset,
			Size:      uint64(len(data)),
		}})
		return nil
	})
	return buf, nil
}

// UploadMesh uploads interleaved vertices and 32-bit indices.
func (u *Uploader) UploadMesh(label string, data *assets.MeshData) (*Mesh, error) {
	if err := data.Validate(); err != nil {
		return nil, errors.Wrapf(err, "mesh `%s`", label)
	}
	vertices, err := u.UploadBuffer(label+".vertices", gpu.BufferUsageVertex, InterleaveVertices(data))
	if err != nil {
		return nil, err
	}
	indices, err := u.UploadBuffer(label+".indices", gpu.BufferUsageIndex, packIndices(data.Indices))
	if err != nil {
		vertices.Destroy()
		return nil, err
	}
	return &Mesh{
		Vertices:    vertices,
		Indices:     indices,
		VertexCount: uint32(data.VertexCount()),
		IndexCount:  uint32(len(data.Indices)),
	}, nil
}

// UploadImage uploads RGBA pixels into a sampled sRGB image with a full mip chain.
func (u *Uploader) UploadImage(label string, data *assets.ImageData) (*Texture, error) {
	if data.Components != 4 || len(data.Pixels) != data.Width*data.Height*4 {
		return nil, errors.Newf("image `%s` must be %dx%d RGBA, got %d components and %d bytes",
			label, data.Width, data.Height, data.Components, len(data.Pixels))
	}
	extent := gpu.Extent2D{Width: uint32(data.Width), Height: uint32(data.Height)}
	mips := MipLevels(extent.Width, extent.Height)

	img, err := NewImage(u.dev, u.arena, ImageDesc{
		Label:     label,
		Extent:    extent,
		MipLevels: mips,
		Format:    gpu.FormatR8G8B8A8Srgb,
		Samples:   gpu.SampleCount1,
		Usage:     gpu.ImageUsageTransferSrc | gpu.ImageUsageTransferDst | gpu.ImageUsageSampled,
	})
	if err != nil {
		return nil, err
	}
	offset, err := u.stage(data.Pixels, 4)
	if err != nil {
		img.Destroy()
		return nil, err
	}
	sampler, err := u.dev.CreateSampler(gpu.SamplerDesc{
		Filter:     gpu.FilterLinear,
		MaxLod:     float32(mips),
		Anisotropy: 16,
	})
	if err != nil {
		img.Destroy()
		err = errors.Wrapf(err, "creating sampler for `%s`", label)
		core.LogError(err.Error())
		return nil, err
	}

	src := u.staging.Handle
	u.ops = append(u.ops, func(cb gpu.CommandBuffer) error {
		if err := img.TransitionLayout(u.dev, cb, gpu.ImageLayoutUndefined, gpu.ImageLayoutTransferDst); err != nil {
			return err
		}
		u.dev.CmdCopyBufferToImage(cb, src, img.Handle, []gpu.BufferImageCopy{{
			BufferOffset: offset,
			Extent:       extent,
			MipLevel:     0,
		}})
		img.GenerateMipmaps(u.dev, cb)
		return nil
	})
	return &Texture{Image: img, Sampler: sampler}, nil
}

// Pending is the number of copies waiting for Flush.
func (u *Uploader) Pending() int {
	return len(u.ops)
}

// Flush records every pending copy into one single-use command buffer and waits for it.
func (u *Uploader) Flush() error {
	if len(u.ops) == 0 {
		return nil
	}
	ops := u.ops
	u.ops = nil
	u.cursor = 0

	cb, err := BeginSingleUse(u.dev)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err := op(cb); err != nil {
			_ = u.dev.EndCommandBuffer(cb)
			u.dev.FreeCommandBuffers([]gpu.CommandBuffer{cb})
			return err
		}
	}
	if err := EndSingleUse(u.dev, cb); err != nil {
		return err
	}
	core.LogDebug("flushed %d upload(s)", len(ops))
	return nil
}
