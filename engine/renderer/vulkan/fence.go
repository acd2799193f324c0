package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	createInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var sem vk.Semaphore
	err := d.lockPool.SafeCall(SynchronizationManagement, func() error {
		return check(vk.CreateSemaphore(d.LogicalDevice, &createInfo, nil, &sem), "creating semaphore")
	})
	if err != nil {
		return gpu.NullHandle, err
	}
	return gpu.Semaphore(d.h.semaphores.Acquire(sem)), nil
}

func (d *Device) DestroySemaphore(sem gpu.Semaphore) {
	handle, err := d.h.semaphores.Release(uint64(sem))
	if err != nil {
		core.LogWarn("destroy semaphore: %s", err)
		return
	}
	_ = d.lockPool.SafeCall(SynchronizationManagement, func() error {
		vk.DestroySemaphore(d.LogicalDevice, handle, nil)
		return nil
	})
}

// CreateFence creates a fence. A signaled fence lets the first wait on it return at once.
func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	createInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		createInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	err := d.lockPool.SafeCall(SynchronizationManagement, func() error {
		return check(vk.CreateFence(d.LogicalDevice, &createInfo, nil, &fence), "creating fence")
	})
	if err != nil {
		return gpu.NullHandle, err
	}
	return gpu.Fence(d.h.fences.Acquire(fence)), nil
}

func (d *Device) DestroyFence(fence gpu.Fence) {
	handle, err := d.h.fences.Release(uint64(fence))
	if err != nil {
		core.LogWarn("destroy fence: %s", err)
		return
	}
	_ = d.lockPool.SafeCall(SynchronizationManagement, func() error {
		vk.DestroyFence(d.LogicalDevice, handle, nil)
		return nil
	})
}

func (d *Device) WaitForFence(fence gpu.Fence, timeout time.Duration) (bool, error) {
	handle, err := lookup(d.h.fences, uint64(fence), "fence")
	if err != nil {
		return false, err
	}
	result := vk.WaitForFences(d.LogicalDevice, 1, []vk.Fence{handle}, vk.True, timeoutNanos(timeout))
	switch result {
	case vk.Success:
		return true, nil
	case vk.Timeout:
		core.LogWarn("fence wait timed out after %s", timeout)
		return false, nil
	}
	return false, check(result, "waiting for fence")
}

func (d *Device) ResetFence(fence gpu.Fence) error {
	handle, err := lookup(d.h.fences, uint64(fence), "fence")
	if err != nil {
		return err
	}
	return d.lockPool.SafeCall(SynchronizationManagement, func() error {
		return check(vk.ResetFences(d.LogicalDevice, 1, []vk.Fence{handle}), "resetting fence")
	})
}

func (d *Device) FenceSignaled(fence gpu.Fence) (bool, error) {
	handle, err := lookup(d.h.fences, uint64(fence), "fence")
	if err != nil {
		return false, err
	}
	switch result := vk.GetFenceStatus(d.LogicalDevice, handle); result {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, check(result, "querying fence status")
	}
}
