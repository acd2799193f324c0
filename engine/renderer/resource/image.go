package resource

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/memory"
)

// Images are always device local.
type ImageDesc = gpu.ImageDesc

type Image struct {
	ID     uuid.UUID
	Handle gpu.Image
	View   gpu.ImageView
	Region memory.Region
	Desc   ImageDesc

	dev       Device
	reqs      gpu.MemoryRequirements
	destroyed bool
}

// MipLevels is the length of the full mip chain for a w x h image.
func MipLevels(w, h uint32) uint32 {
	return uint32(bits.Len32(max(w, h, 1)))
}

func aspectOf(f gpu.Format) gpu.ImageAspect {
	if !f.IsDepth() {
		return gpu.ImageAspectColor
	}
	if f.HasStencil() {
		return gpu.ImageAspectDepth | gpu.ImageAspectStencil
	}
	return gpu.ImageAspectDepth
}

// CreateImage creates an image without memory. Bind it before use.
func CreateImage(dev Device, desc ImageDesc) (*Image, error) {
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.Samples == 0 {
		desc.Samples = gpu.SampleCount1
	}
	handle, reqs, err := dev.CreateImage(desc)
	if err != nil {
		err = errors.Wrapf(err, "creating image `%s`", desc.Label)
		core.LogError(err.Error())
		return nil, err
	}
	return &Image{
		ID:     uuid.New(),
		Handle: handle,
		Desc:   desc,
		dev:    dev,
		reqs:   reqs,
	}, nil
}

// NewImage creates an image, binds it to a fresh device-local region and creates its view.
func NewImage(dev Device, arena *memory.Arena, desc ImageDesc) (*Image, error) {
	img, err := CreateImage(dev, desc)
	if err != nil {
		return nil, err
	}
	region, err := arena.Allocate(gpu.MemoryClassDeviceLocal, img.reqs.Size, img.reqs.Alignment)
	if err != nil {
		img.Destroy()
		return nil, errors.Wrapf(err, "allocating memory for image `%s`", desc.Label)
	}
	if err := img.Bind(region); err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

// NewImageAt is NewImage over a region the caller owns.
func NewImageAt(dev Device, region memory.Region, desc ImageDesc) (*Image, error) {
	img, err := CreateImage(dev, desc)
	if err != nil {
		return nil, err
	}
	if err := img.Bind(region); err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

func (img *Image) Requirements() gpu.MemoryRequirements {
	return img.reqs
}

// Bind attaches the image to region and creates a view over every mip level.
func (img *Image) Bind(region memory.Region) error {
	if !img.Region.IsZero() {
		return errors.Newf("image `%s` is already bound", img.Desc.Label)
	}
	if region.IsZero() || region.Heap.Class != gpu.MemoryClassDeviceLocal {
		return errors.Newf("image `%s` needs a device-local region", img.Desc.Label)
	}
	if err := checkFits(region, img.reqs); err != nil {
		return errors.Wrapf(err, "image `%s`", img.Desc.Label)
	}
	if err := img.dev.BindImageMemory(img.Handle, region.Heap.Memory, region.Offset); err != nil {
		err = errors.Wrapf(err, "binding image `%s`", img.Desc.Label)
		core.LogError(err.Error())
		return err
	}
	img.Region = region

	view, err := img.dev.CreateImageView(gpu.ImageViewDesc{
		Image:     img.Handle,
		Format:    img.Desc.Format,
		Aspect:    aspectOf(img.Desc.Format),
		MipLevels: img.Desc.MipLevels,
	})
	if err != nil {
		err = errors.Wrapf(err, "creating view for image `%s`", img.Desc.Label)
		core.LogError(err.Error())
		return err
	}
	img.View = view
	return nil
}

type layoutTransition struct {
	srcAccess, dstAccess gpu.Access
	srcStage, dstStage   gpu.PipelineStage
}

var transitions = map[[2]gpu.ImageLayout]layoutTransition{
	{gpu.ImageLayoutUndefined, gpu.ImageLayoutTransferDst}: {
		gpu.AccessNone, gpu.AccessTransferWrite,
		gpu.PipelineStageTopOfPipe, gpu.PipelineStageTransfer,
	},
	{gpu.ImageLayoutTransferDst, gpu.ImageLayoutShaderReadOnly}: {
		gpu.AccessTransferWrite, gpu.AccessShaderRead,
		gpu.PipelineStageTransfer, gpu.PipelineStageFragmentShader,
	},
}

// TransitionLayout records a barrier moving every mip level from one layout to another. Only the
// upload path is supported: undefined to transfer-dst to shader-read-only.
func (img *Image) TransitionLayout(enc gpu.CommandEncoder, cb gpu.CommandBuffer, from, to gpu.ImageLayout) error {
	t, ok := transitions[[2]gpu.ImageLayout{from, to}]
	if !ok {
		return errors.Wrapf(core.ErrInvalidTransition, "image `%s` layout %d -> %d", img.Desc.Label, from, to)
	}
	enc.CmdPipelineBarrier(cb, []gpu.ImageBarrier{{
		Image:     img.Handle,
		OldLayout: from,
		NewLayout: to,
		SrcAccess: t.srcAccess,
		DstAccess: t.dstAccess,
		SrcStage:  t.srcStage,
		DstStage:  t.dstStage,
		Aspect:    aspectOf(img.Desc.Format),
		MipCount:  img.Desc.MipLevels,
	}}, nil)
	return nil
}

// GenerateMipmaps fills levels 1..n-1 by blitting each level from the one above it. Every
// level must be in transfer-dst layout with level 0 written; all of them end up shader-read-only.
func (img *Image) GenerateMipmaps(enc gpu.CommandEncoder, cb gpu.CommandBuffer) {
	barrier := gpu.ImageBarrier{
		Image:    img.Handle,
		Aspect:   gpu.ImageAspectColor,
		MipCount: 1,
	}
	w, h := img.Desc.Extent.Width, img.Desc.Extent.Height

	for level := uint32(1); level < img.Desc.MipLevels; level++ {
		barrier.BaseMipLevel = level - 1
		barrier.OldLayout, barrier.NewLayout = gpu.ImageLayoutTransferDst, gpu.ImageLayoutTransferSrc
		barrier.SrcAccess, barrier.DstAccess = gpu.AccessTransferWrite, gpu.AccessTransferRead
		barrier.SrcStage, barrier.DstStage = gpu.PipelineStageTransfer, gpu.PipelineStageTransfer
		enc.CmdPipelineBarrier(cb, []gpu.ImageBarrier{barrier}, nil)

		next := gpu.Extent2D{Width: max(w/2, 1), Height: max(h/2, 1)}
		enc.CmdBlitImage(cb, img.Handle, gpu.ImageBlit{
			SrcMip:    level - 1,
			DstMip:    level,
			SrcExtent: gpu.Extent2D{Width: w, Height: h},
			DstExtent: next,
		})

		barrier.OldLayout, barrier.NewLayout = gpu.ImageLayoutTransferSrc, gpu.ImageLayoutShaderReadOnly
		barrier.SrcAccess, barrier.DstAccess = gpu.AccessTransferRead, gpu.AccessShaderRead
		barrier.SrcStage, barrier.DstStage = gpu.PipelineStageTransfer, gpu.PipelineStageFragmentShader
		enc.CmdPipelineBarrier(cb, []gpu.ImageBarrier{barrier}, nil)

		w, h = next.Width, next.Height
	}

	// The last level was only ever written.
	barrier.BaseMipLevel = img.Desc.MipLevels - 1
	barrier.OldLayout, barrier.NewLayout = gpu.ImageLayoutTransferDst, gpu.ImageLayoutShaderReadOnly
	barrier.SrcAccess, barrier.DstAccess = gpu.AccessTransferWrite, gpu.AccessShaderRead
	barrier.SrcStage, barrier.DstStage = gpu.PipelineStageTransfer, gpu.PipelineStageFragmentShader
	enc.CmdPipelineBarrier(cb, []gpu.ImageBarrier{barrier}, nil)
}

// Destroy releases the view and the image. The region is left to the arena.
func (img *Image) Destroy() {
	if img == nil || img.destroyed {
		return
	}
	if img.View != gpu.NullHandle {
		img.dev.DestroyImageView(img.View)
		img.View = gpu.NullHandle
	}
	img.dev.DestroyImage(img.Handle)
	img.destroyed = true
}

// Texture is a sampled image.
type Texture struct {
	Image   *Image
	Sampler gpu.Sampler
}

func (t *Texture) Destroy() {
	if t == nil {
		return
	}
	if t.Sampler != gpu.NullHandle {
		t.Image.dev.DestroySampler(t.Sampler)
		t.Sampler = gpu.NullHandle
	}
	t.Image.Destroy()
}
