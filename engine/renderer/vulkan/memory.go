package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

func (d *Device) AllocateMemory(class gpu.MemoryClass, size uint64) (gpu.Memory, error) {
	index := d.FindMemoryIndex(^uint32(0), classFlags(class))
	if index < 0 {
		err := errors.Newf("no %s memory type on this device", class)
		core.LogError(err.Error())
		return gpu.NullHandle, err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: uint32(index),
	}
	var mem vk.DeviceMemory
	err := d.lockPool.SafeCall(MemoryManagement, func() error {
		return check(vk.AllocateMemory(d.LogicalDevice, &allocInfo, nil, &mem), "allocating device memory")
	})
	if err != nil {
		return gpu.NullHandle, errors.Wrapf(err, "%d bytes of %s memory", size, class)
	}

	id := d.h.memory.Acquire(&memoryBlock{handle: mem, size: size, class: class, typeIndex: uint32(index)})
	core.LogDebug("allocated %d bytes of %s memory (type %d)", size, class, index)
	return gpu.Memory(id), nil
}

func (d *Device) FreeMemory(mem gpu.Memory) {
	block, err := d.h.memory.Release(uint64(mem))
	if err != nil {
		core.LogWarn("free memory: %s", err)
		return
	}
	_ = d.lockPool.SafeCall(MemoryManagement, func() error {
		if block.mapped {
			vk.UnmapMemory(d.LogicalDevice, block.handle)
		}
		vk.FreeMemory(d.LogicalDevice, block.handle, nil)
		return nil
	})
}

// MapMemory maps a window of a host-visible block. A block maps once at a time.
func (d *Device) MapMemory(mem gpu.Memory, offset, size uint64) ([]byte, error) {
	block, err := lookup(d.h.memory, uint64(mem), "memory")
	if err != nil {
		return nil, err
	}
	if block.class != gpu.MemoryClassHostVisibleCoherent {
		err := errors.Wrapf(core.ErrNotHostVisible, "memory %d is %s", mem, block.class)
		core.LogError(err.Error())
		return nil, err
	}
	if offset+size > block.size {
		err := errors.Newf("map range [%d, %d) exceeds block of %d bytes", offset, offset+size, block.size)
		core.LogError(err.Error())
		return nil, err
	}

	var data unsafe.Pointer
	err = d.lockPool.SafeCall(MemoryManagement, func() error {
		if err := check(vk.MapMemory(d.LogicalDevice, block.handle, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &data), "mapping memory"); err != nil {
			return err
		}
		block.mapped = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(data), size), nil
}

func (d *Device) UnmapMemory(mem gpu.Memory) {
	block, ok := d.h.memory.Get(uint64(mem))
	if !ok {
		return
	}
	_ = d.lockPool.SafeCall(MemoryManagement, func() error {
		if block.mapped {
			vk.UnmapMemory(d.LogicalDevice, block.handle)
			block.mapped = false
		}
		return nil
	})
}

// bindable checks that the block's memory type is one the resource accepts.
func bindable(block *memoryBlock, typeBits uint32, offset, size uint64) error {
	if typeBits&(1<<block.typeIndex) == 0 {
		return errors.Newf("memory type %d not in resource mask %b", block.typeIndex, typeBits)
	}
	if offset+size > block.size {
		return errors.Newf("binding [%d, %d) exceeds block of %d bytes", offset, offset+size, block.size)
	}
	return nil
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, gpu.MemoryRequirements, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       mapBits(desc.Usage, bufferUsages),
		SharingMode: vk.SharingModeExclusive,
	}

	var (
		buffer vk.Buffer
		reqs   vk.MemoryRequirements
	)
	err := d.lockPool.SafeCall(BufferManagement, func() error {
		if err := check(vk.CreateBuffer(d.LogicalDevice, &createInfo, nil, &buffer), "creating buffer"); err != nil {
			return err
		}
		vk.GetBufferMemoryRequirements(d.LogicalDevice, buffer, &reqs)
		reqs.Deref()
		return nil
	})
	if err != nil {
		return gpu.NullHandle, gpu.MemoryRequirements{}, errors.Wrapf(err, "buffer `%s`", desc.Label)
	}

	id := d.h.buffers.Acquire(bufferEntry{handle: buffer, label: desc.Label, size: desc.Size})
	return gpu.Buffer(id), gpu.MemoryRequirements{
		Size:           uint64(reqs.Size),
		Alignment:      uint64(reqs.Alignment),
		MemoryTypeBits: reqs.MemoryTypeBits,
	}, nil
}

func (d *Device) BindBufferMemory(buf gpu.Buffer, mem gpu.Memory, offset uint64) error {
	entry, err := lookup(d.h.buffers, uint64(buf), "buffer")
	if err != nil {
		return err
	}
	block, err := lookup(d.h.memory, uint64(mem), "memory")
	if err != nil {
		return err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.LogicalDevice, entry.handle, &reqs)
	reqs.Deref()
	if err := bindable(block, reqs.MemoryTypeBits, offset, uint64(reqs.Size)); err != nil {
		err = errors.Wrapf(err, "binding buffer `%s`", entry.label)
		core.LogError(err.Error())
		return err
	}

	return d.lockPool.SafeCall(BufferManagement, func() error {
		return check(vk.BindBufferMemory(d.LogicalDevice, entry.handle, block.handle, vk.DeviceSize(offset)), "binding buffer memory")
	})
}

func (d *Device) DestroyBuffer(buf gpu.Buffer) {
	entry, err := d.h.buffers.Release(uint64(buf))
	if err != nil {
		core.LogWarn("destroy buffer: %s", err)
		return
	}
	_ = d.lockPool.SafeCall(BufferManagement, func() error {
		vk.DestroyBuffer(d.LogicalDevice, entry.handle, nil)
		return nil
	})
}
