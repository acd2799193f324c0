package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, gpu.MemoryRequirements, error) {
	mips := desc.MipLevels
	if mips == 0 {
		mips = 1
	}
	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     mips,
		ArrayLayers:   1,
		Format:        toVkFormat(desc.Format),
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         mapBits(desc.Usage, imageUsages),
		Samples:       toVkSamples(desc.Samples),
		SharingMode:   vk.SharingModeExclusive,
	}

	var (
		image vk.Image
		reqs  vk.MemoryRequirements
	)
	err := d.lockPool.SafeCall(ImageManagement, func() error {
		if err := check(vk.CreateImage(d.LogicalDevice, &createInfo, nil, &image), "creating image"); err != nil {
			return err
		}
		vk.GetImageMemoryRequirements(d.LogicalDevice, image, &reqs)
		reqs.Deref()
		return nil
	})
	if err != nil {
		return gpu.NullHandle, gpu.MemoryRequirements{}, errors.Wrapf(err, "image `%s`", desc.Label)
	}

	id := d.h.images.Acquire(imageEntry{handle: image, label: desc.Label, owned: true})
	return gpu.Image(id), gpu.MemoryRequirements{
		Size:           uint64(reqs.Size),
		Alignment:      uint64(reqs.Alignment),
		MemoryTypeBits: reqs.MemoryTypeBits,
	}, nil
}

func (d *Device) BindImageMemory(img gpu.Image, mem gpu.Memory, offset uint64) error {
	entry, err := lookup(d.h.images, uint64(img), "image")
	if err != nil {
		return err
	}
	block, err := lookup(d.h.memory, uint64(mem), "memory")
	if err != nil {
		return err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.LogicalDevice, entry.handle, &reqs)
	reqs.Deref()
	if err := bindable(block, reqs.MemoryTypeBits, offset, uint64(reqs.Size)); err != nil {
		err = errors.Wrapf(err, "binding image `%s`", entry.label)
		core.LogError(err.Error())
		return err
	}

	return d.lockPool.SafeCall(ImageManagement, func() error {
		return check(vk.BindImageMemory(d.LogicalDevice, entry.handle, block.handle, vk.DeviceSize(offset)), "binding image memory")
	})
}

func (d *Device) DestroyImage(img gpu.Image) {
	entry, ok := d.h.images.Get(uint64(img))
	if !ok {
		core.LogWarn("destroy image: unknown handle %d", img)
		return
	}
	if !entry.owned {
		core.LogWarn("image %d belongs to a swapchain and is released with it", img)
		return
	}
	if _, err := d.h.images.Release(uint64(img)); err != nil {
		core.LogWarn("destroy image: %s", err)
		return
	}
	_ = d.lockPool.SafeCall(ImageManagement, func() error {
		vk.DestroyImage(d.LogicalDevice, entry.handle, nil)
		return nil
	})
}

func (d *Device) CreateImageView(desc gpu.ImageViewDesc) (gpu.ImageView, error) {
	entry, err := lookup(d.h.images, uint64(desc.Image), "image")
	if err != nil {
		return gpu.NullHandle, err
	}
	mips := desc.MipLevels
	if mips == 0 {
		mips = 1
	}
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    entry.handle,
		ViewType: vk.ImageViewType2d,
		Format:   toVkFormat(desc.Format),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     mapBits(desc.Aspect, aspects),
			BaseMipLevel:   0,
			LevelCount:     mips,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	var view vk.ImageView
	err = d.lockPool.SafeCall(ImageManagement, func() error {
		return check(vk.CreateImageView(d.LogicalDevice, &viewCreateInfo, nil, &view), "creating image view")
	})
	if err != nil {
		return gpu.NullHandle, errors.Wrapf(err, "view of `%s`", entry.label)
	}
	return gpu.ImageView(d.h.views.Acquire(view)), nil
}

func (d *Device) DestroyImageView(view gpu.ImageView) {
	v, err := d.h.views.Release(uint64(view))
	if err != nil {
		core.LogWarn("destroy image view: %s", err)
		return
	}
	_ = d.lockPool.SafeCall(ImageManagement, func() error {
		vk.DestroyImageView(d.LogicalDevice, v, nil)
		return nil
	})
}

func (d *Device) CreateSampler(desc gpu.SamplerDesc) (gpu.Sampler, error) {
	anisotropy := desc.Anisotropy
	if limit := d.Properties.Limits.MaxSamplerAnisotropy; anisotropy > limit {
		anisotropy = limit
	}
	enabled := vk.False
	if anisotropy > 1 && d.Features.SamplerAnisotropy == vk.True {
		enabled = vk.True
	}
	filter := toVkFilter(desc.Filter)
	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               filter,
		MinFilter:               filter,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		AnisotropyEnable:        vk.Bool32(enabled),
		MaxAnisotropy:           anisotropy,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		MinLod:                  0,
		MaxLod:                  desc.MaxLod,
	}

	var sampler vk.Sampler
	err := d.lockPool.SafeCall(SamplerManagement, func() error {
		return check(vk.CreateSampler(d.LogicalDevice, &samplerInfo, nil, &sampler), "creating sampler")
	})
	if err != nil {
		return gpu.NullHandle, err
	}
	return gpu.Sampler(d.h.samplers.Acquire(sampler)), nil
}

func (d *Device) DestroySampler(sampler gpu.Sampler) {
	s, err := d.h.samplers.Release(uint64(sampler))
	if err != nil {
		core.LogWarn("destroy sampler: %s", err)
		return
	}
	_ = d.lockPool.SafeCall(SamplerManagement, func() error {
		vk.DestroySampler(d.LogicalDevice, s, nil)
		return nil
	})
}
