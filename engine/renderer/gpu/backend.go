package gpu

import (
	"time"
	"unsafe"
)

// MemoryAllocator hands out whole device memory blocks. Sub-allocation is the arena's job.
type MemoryAllocator interface {
	AllocateMemory(class MemoryClass, size uint64) (Memory, error)
	FreeMemory(mem Memory)
	// MapMemory returns a window over the block that stays valid until UnmapMemory.
	MapMemory(mem Memory, offset, size uint64) ([]byte, error)
	UnmapMemory(mem Memory)
}

type ResourceFactory interface {
	CreateBuffer(desc BufferDesc) (Buffer, MemoryRequirements, error)
	BindBufferMemory(buf Buffer, mem Memory, offset uint64) error
	DestroyBuffer(buf Buffer)
	CreateImage(desc ImageDesc) (Image, MemoryRequirements, error)
	BindImageMemory(img Image, mem Memory, offset uint64) error
	DestroyImage(img Image)
	CreateImageView(desc ImageViewDesc) (ImageView, error)
	DestroyImageView(view ImageView)
	CreateSampler(desc SamplerDesc) (Sampler, error)
	DestroySampler(sampler Sampler)
}

type Presenter interface {
	SurfaceCapabilities() (SurfaceCapabilities, error)
	SurfaceFormats() ([]SurfaceFormat, error)
	PresentModes() ([]PresentMode, error)
	// CreateSwapchain returns the swapchain and the images it owns. The images are
	// released with the swapchain and must not be destroyed individually.
	CreateSwapchain(desc SwapchainDesc) (Swapchain, []Image, error)
	DestroySwapchain(sc Swapchain)
	AcquireNextImage(sc Swapchain, timeout time.Duration, signal Semaphore) (uint32, Status, error)
	Present(sc Swapchain, imageIndex uint32, wait Semaphore) (Status, error)
}

type PipelineFactory interface {
	CreateRenderPass(desc RenderPassDesc) (RenderPass, error)
	DestroyRenderPass(rp RenderPass)
	CreateFramebuffer(desc FramebufferDesc) (Framebuffer, error)
	DestroyFramebuffer(fb Framebuffer)
	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout DescriptorSetLayout)
	CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPool, error)
	// DestroyDescriptorPool also releases every set allocated from the pool.
	DestroyDescriptorPool(pool DescriptorPool)
	AllocateDescriptorSets(pool DescriptorPool, layout DescriptorSetLayout, count int) ([]DescriptorSet, error)
	UpdateDescriptorSets(writes []DescriptorWrite)
	CreatePipelineLayout(layouts []DescriptorSetLayout) (PipelineLayout, error)
	DestroyPipelineLayout(layout PipelineLayout)
	CreateGraphicsPipeline(desc PipelineDesc) (Pipeline, error)
	DestroyPipeline(p Pipeline)
}

// CommandEncoder records into command buffers allocated from the Queue.
type CommandEncoder interface {
	BeginCommandBuffer(cb CommandBuffer, usage CommandBufferUsage) error
	EndCommandBuffer(cb CommandBuffer) error
	ResetCommandBuffer(cb CommandBuffer) error
	CmdBeginRenderPass(cb CommandBuffer, begin RenderPassBegin)
	CmdEndRenderPass(cb CommandBuffer)
	CmdBindPipeline(cb CommandBuffer, p Pipeline)
	CmdBindVertexBuffers(cb CommandBuffer, first uint32, buffers []Buffer, offsets []uint64)
	CmdBindIndexBuffer(cb CommandBuffer, buf Buffer, offset uint64, indexType IndexType)
	CmdBindDescriptorSets(cb CommandBuffer, layout PipelineLayout, first uint32, sets []DescriptorSet)
	CmdDrawIndexed(cb CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	CmdCopyBuffer(cb CommandBuffer, src, dst Buffer, regions []BufferCopy)
	CmdCopyBufferToImage(cb CommandBuffer, src Buffer, dst Image, regions []BufferImageCopy)
	CmdPipelineBarrier(cb CommandBuffer, images []ImageBarrier, buffers []BufferBarrier)
	CmdBlitImage(cb CommandBuffer, img Image, blit ImageBlit)
}

type SyncPrimitives interface {
	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(sem Semaphore)
	CreateFence(signaled bool) (Fence, error)
	DestroyFence(fence Fence)
	// WaitForFence reports false when the timeout elapsed before the fence signaled.
	WaitForFence(fence Fence, timeout time.Duration) (bool, error)
	ResetFence(fence Fence) error
	FenceSignaled(fence Fence) (bool, error)
}

type Queue interface {
	AllocateCommandBuffers(count int) ([]CommandBuffer, error)
	FreeCommandBuffers(cbs []CommandBuffer)
	Submit(info SubmitInfo) error
	WaitIdle() error
}

// Backend is the full capability set the renderer needs from a device.
type Backend interface {
	MemoryAllocator
	ResourceFactory
	Presenter
	PipelineFactory
	CommandEncoder
	SyncPrimitives
	Queue

	Name() string
	Limits() DeviceLimits
	Shutdown()
}

// SurfaceSource is the window side of presentation.
type SurfaceSource interface {
	RequiredInstanceExtensions() []string
	// ProcAddr is vkGetInstanceProcAddr as exposed by the windowing library.
	ProcAddr() unsafe.Pointer
	CreateSurface(instance interface{}) (uintptr, error)
	FramebufferSize() Extent2D
}

type Config struct {
	AppName    string
	Surface    SurfaceSource
	Validation bool
	Extent     Extent2D

	// Simulated device only.
	SimLatency    time.Duration
	SimImageCount uint32
}
