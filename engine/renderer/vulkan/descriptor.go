package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.DescriptorBinding) (gpu.DescriptorSetLayout, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  toVkDescriptorType(b.Type),
			DescriptorCount: count,
			StageFlags:      mapBits(b.Stages, shaderStages),
		}
	}
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}

	var layout vk.DescriptorSetLayout
	err := d.lockPool.SafeCall(DescriptorManagement, func() error {
		return check(vk.CreateDescriptorSetLayout(d.LogicalDevice, &createInfo, nil, &layout), "creating descriptor set layout")
	})
	if err != nil {
		return gpu.NullHandle, err
	}
	return gpu.DescriptorSetLayout(d.h.setLayouts.Acquire(layout)), nil
}

func (d *Device) DestroyDescriptorSetLayout(layout gpu.DescriptorSetLayout) {
	handle, err := d.h.setLayouts.Release(uint64(layout))
	if err != nil {
		core.LogWarn("destroy descriptor set layout: %s", err)
		return
	}
	_ = d.lockPool.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorSetLayout(d.LogicalDevice, handle, nil)
		return nil
	})
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []gpu.DescriptorPoolSize) (gpu.DescriptorPool, error) {
	poolSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		poolSizes[i] = vk.DescriptorPoolSize{
			Type:            toVkDescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}
	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}

	var pool vk.DescriptorPool
	err := d.lockPool.SafeCall(DescriptorManagement, func() error {
		return check(vk.CreateDescriptorPool(d.LogicalDevice, &createInfo, nil, &pool), "creating descriptor pool")
	})
	if err != nil {
		return gpu.NullHandle, err
	}
	return gpu.DescriptorPool(d.h.pools.Acquire(&poolEntry{handle: pool})), nil
}

func (d *Device) DestroyDescriptorPool(pool gpu.DescriptorPool) {
	entry, err := d.h.pools.Release(uint64(pool))
	if err != nil {
		core.LogWarn("destroy descriptor pool: %s", err)
		return
	}
	for _, set := range entry.sets {
		_, _ = d.h.sets.Release(uint64(set))
	}
	_ = d.lockPool.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorPool(d.LogicalDevice, entry.handle, nil)
		return nil
	})
}

func (d *Device) AllocateDescriptorSets(pool gpu.DescriptorPool, layout gpu.DescriptorSetLayout, count int) ([]gpu.DescriptorSet, error) {
	entry, err := lookup(d.h.pools, uint64(pool), "descriptor pool")
	if err != nil {
		return nil, err
	}
	handle, err := lookup(d.h.setLayouts, uint64(layout), "descriptor set layout")
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}

	layouts := make([]vk.DescriptorSetLayout, count)
	for i := range layouts {
		layouts[i] = handle
	}
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     entry.handle,
		DescriptorSetCount: uint32(count),
		PSetLayouts:        layouts,
	}

	vkSets := make([]vk.DescriptorSet, count)
	err = d.lockPool.SafeCall(DescriptorManagement, func() error {
		return check(vk.AllocateDescriptorSets(d.LogicalDevice, &allocInfo, &vkSets[0]), "allocating descriptor sets")
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%d set(s)", count)
	}

	sets := make([]gpu.DescriptorSet, count)
	for i, s := range vkSets {
		sets[i] = gpu.DescriptorSet(d.h.sets.Acquire(s))
	}
	entry.sets = append(entry.sets, sets...)
	return sets, nil
}

// UpdateDescriptorSets skips writes that name unknown handles; each skip is logged.
func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		set, ok := d.h.sets.Get(uint64(w.Set))
		if !ok {
			core.LogWarn("descriptor write to unknown set %d", w.Set)
			continue
		}
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      w.Binding,
			DstArrayElement: 0,
			DescriptorCount: 1,
			DescriptorType:  toVkDescriptorType(w.Type),
		}
		switch w.Type {
		case gpu.DescriptorTypeUniformBuffer:
			buf, ok := d.h.buffers.Get(uint64(w.Buffer))
			if !ok {
				core.LogWarn("descriptor write references unknown buffer %d", w.Buffer)
				continue
			}
			rng := vk.DeviceSize(w.Range)
			if w.Range == 0 {
				rng = vk.DeviceSize(vk.WholeSize)
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.handle,
				Offset: vk.DeviceSize(w.Offset),
				Range:  rng,
			}}
		case gpu.DescriptorTypeCombinedImageSampler:
			view, ok := d.h.views.Get(uint64(w.View))
			if !ok {
				core.LogWarn("descriptor write references unknown view %d", w.View)
				continue
			}
			sampler, ok := d.h.samplers.Get(uint64(w.Sampler))
			if !ok {
				core.LogWarn("descriptor write references unknown sampler %d", w.Sampler)
				continue
			}
			write.PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     sampler,
				ImageView:   view,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}}
		}
		vkWrites = append(vkWrites, write)
	}
	if len(vkWrites) == 0 {
		return
	}
	_ = d.lockPool.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(d.LogicalDevice, uint32(len(vkWrites)), vkWrites, 0, nil)
		return nil
	})
}
