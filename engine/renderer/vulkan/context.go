package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type memoryBlock struct {
	handle    vk.DeviceMemory
	size      uint64
	class     gpu.MemoryClass
	typeIndex uint32
	mapped    bool
}

type bufferEntry struct {
	handle vk.Buffer
	label  string
	size   uint64
}

type imageEntry struct {
	handle vk.Image
	label  string
	// Swapchain images belong to their swapchain and are never destroyed alone.
	owned bool
}

type swapchainEntry struct {
	handle vk.Swapchain
	images []gpu.Image
}

type poolEntry struct {
	handle vk.DescriptorPool
	sets   []gpu.DescriptorSet
}

type pipelineEntry struct {
	handle vk.Pipeline
	label  string
}

// handles maps the opaque gpu handles onto live vulkan objects.
type handles struct {
	memory          *core.IdentifierPool[*memoryBlock]
	buffers         *core.IdentifierPool[bufferEntry]
	images          *core.IdentifierPool[imageEntry]
	views           *core.IdentifierPool[vk.ImageView]
	samplers        *core.IdentifierPool[vk.Sampler]
	swapchains      *core.IdentifierPool[swapchainEntry]
	renderPasses    *core.IdentifierPool[vk.RenderPass]
	framebuffers    *core.IdentifierPool[vk.Framebuffer]
	setLayouts      *core.IdentifierPool[vk.DescriptorSetLayout]
	pools           *core.IdentifierPool[*poolEntry]
	sets            *core.IdentifierPool[vk.DescriptorSet]
	pipelineLayouts *core.IdentifierPool[vk.PipelineLayout]
	pipelines       *core.IdentifierPool[pipelineEntry]
	commandBuffers  *core.IdentifierPool[vk.CommandBuffer]
	semaphores      *core.IdentifierPool[vk.Semaphore]
	fences          *core.IdentifierPool[vk.Fence]
}

func newHandles() *handles {
	return &handles{
		memory:          core.NewIdentifierPool[*memoryBlock](16),
		buffers:         core.NewIdentifierPool[bufferEntry](64),
		images:          core.NewIdentifierPool[imageEntry](16),
		views:           core.NewIdentifierPool[vk.ImageView](16),
		samplers:        core.NewIdentifierPool[vk.Sampler](4),
		swapchains:      core.NewIdentifierPool[swapchainEntry](2),
		renderPasses:    core.NewIdentifierPool[vk.RenderPass](2),
		framebuffers:    core.NewIdentifierPool[vk.Framebuffer](4),
		setLayouts:      core.NewIdentifierPool[vk.DescriptorSetLayout](4),
		pools:           core.NewIdentifierPool[*poolEntry](2),
		sets:            core.NewIdentifierPool[vk.DescriptorSet](8),
		pipelineLayouts: core.NewIdentifierPool[vk.PipelineLayout](2),
		pipelines:       core.NewIdentifierPool[pipelineEntry](8),
		commandBuffers:  core.NewIdentifierPool[vk.CommandBuffer](8),
		semaphores:      core.NewIdentifierPool[vk.Semaphore](8),
		fences:          core.NewIdentifierPool[vk.Fence](4),
	}
}

// live counts the objects the application still holds, keyed by kind.
func (h *handles) live() map[string]int {
	counts := map[string]int{
		"memory":                h.memory.Len(),
		"buffer":                h.buffers.Len(),
		"view":                  h.views.Len(),
		"sampler":               h.samplers.Len(),
		"swapchain":             h.swapchains.Len(),
		"render-pass":           h.renderPasses.Len(),
		"framebuffer":           h.framebuffers.Len(),
		"descriptor-set-layout": h.setLayouts.Len(),
		"descriptor-pool":       h.pools.Len(),
		"pipeline-layout":       h.pipelineLayouts.Len(),
		"pipeline":              h.pipelines.Len(),
		"command-buffer":        h.commandBuffers.Len(),
		"semaphore":             h.semaphores.Len(),
		"fence":                 h.fences.Len(),
	}
	owned := 0
	h.images.Each(func(_ uint64, e imageEntry) {
		if e.owned {
			owned++
		}
	})
	counts["image"] = owned
	for k, v := range counts {
		if v == 0 {
			delete(counts, k)
		}
	}
	return counts
}

// lookup resolves id in pool and logs a failure with the object kind.
func lookup[T any](pool *core.IdentifierPool[T], id uint64, kind string) (T, error) {
	v, ok := pool.Get(id)
	if !ok {
		err := errors.Newf("unknown %s handle %d", kind, id)
		core.LogError(err.Error())
		return v, err
	}
	return v, nil
}

// FindMemoryIndex returns the first memory type allowed by typeFilter carrying every property flag.
func (d *Device) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	for i := uint32(0); i < d.memoryProperties.MemoryTypeCount; i++ {
		t := d.memoryProperties.MemoryTypes[i]
		t.Deref()
		if (typeFilter&(1<<i)) != 0 && (t.PropertyFlags&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("unable to find a memory type for filter %b and flags %b", typeFilter, propertyFlags)
	return -1
}

func classFlags(class gpu.MemoryClass) vk.MemoryPropertyFlags {
	if class == gpu.MemoryClassHostVisibleCoherent {
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	return vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
}
