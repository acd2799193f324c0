package renderer

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/resource"
	"github.com/spaghettifunk/prism/engine/renderer/swapchain"
)

// ShaderSource loads SPIR-V binaries by asset name.
type ShaderSource interface {
	LoadShader(name string) ([]byte, error)
}

// uniformStage binds one frame uniform buffer per swapchain image into the reserved region.
type uniformStage struct {
	dev      gpu.Backend
	uniforms *resource.UniformBuffer
}

func (s *uniformStage) Name() string {
	return "uniforms"
}

func (s *uniformStage) Create(t *swapchain.Target, destroy *swapchain.DestroyList) error {
	if err := s.uniforms.Create(s.dev, t.Surface.ImageCount()); err != nil {
		return err
	}
	destroy.Push("uniforms", fmt.Sprintf("frame x%d", s.uniforms.Len()), s.uniforms.Destroy)
	return nil
}

// descriptorStage owns the set layout, the pool and one set per image. Binding 0 is the frame
// uniform block, binding 1 the ground texture.
type descriptorStage struct {
	dev      gpu.Backend
	uniforms *resource.UniformBuffer
	texture  func() *resource.Texture

	layout gpu.DescriptorSetLayout
	sets   []gpu.DescriptorSet
}

func (s *descriptorStage) Name() string {
	return "descriptors"
}

func (s *descriptorStage) Create(t *swapchain.Target, destroy *swapchain.DestroyList) error {
	count := t.Surface.ImageCount()

	layout, err := s.dev.CreateDescriptorSetLayout([]gpu.DescriptorBinding{
		{Binding: 0, Type: gpu.DescriptorTypeUniformBuffer, Stages: gpu.ShaderStageVertex | gpu.ShaderStageFragment, Count: 1},
		{Binding: 1, Type: gpu.DescriptorTypeCombinedImageSampler, Stages: gpu.ShaderStageFragment, Count: 1},
	})
	if err != nil {
		return errors.Wrap(err, "creating descriptor set layout")
	}
	destroy.Push("descriptor-set-layout", "frame", func() {
		s.dev.DestroyDescriptorSetLayout(layout)
	})

	pool, err := s.dev.CreateDescriptorPool(uint32(count), []gpu.DescriptorPoolSize{
		{Type: gpu.DescriptorTypeUniformBuffer, Count: uint32(count)},
		{Type: gpu.DescriptorTypeCombinedImageSampler, Count: uint32(count)},
	})
	if err != nil {
		return errors.Wrap(err, "creating descriptor pool")
	}
	destroy.Push("descriptor-pool", "frame", func() {
		s.dev.DestroyDescriptorPool(pool)
		s.sets = nil
	})

	sets, err := s.dev.AllocateDescriptorSets(pool, layout, count)
	if err != nil {
		return errors.Wrap(err, "allocating descriptor sets")
	}

	tex := s.texture()
	writes := make([]gpu.DescriptorWrite, 0, 2*count)
	for i, set := range sets {
		writes = append(writes, gpu.DescriptorWrite{
			Set:     set,
			Binding: 0,
			Type:    gpu.DescriptorTypeUniformBuffer,
			Buffer:  s.uniforms.Buffer(i).Handle,
			Range:   s.uniforms.Size(),
		})
		if tex != nil {
			writes = append(writes, gpu.DescriptorWrite{
				Set:     set,
				Binding: 1,
				Type:    gpu.DescriptorTypeCombinedImageSampler,
				View:    tex.Image.View,
				Sampler: tex.Sampler,
			})
		}
	}
	s.dev.UpdateDescriptorSets(writes)

	s.layout = layout
	s.sets = sets
	return nil
}

// pipelineStage builds the pipeline layout and one graphics pipeline per material against the
// current render pass. Shaders are read again on every build.
type pipelineStage struct {
	dev         gpu.Backend
	shaders     ShaderSource
	descriptors *descriptorStage
	materials   []Material

	layout    gpu.PipelineLayout
	pipelines map[string]gpu.Pipeline
}

func (s *pipelineStage) Name() string {
	return "pipelines"
}

func (s *pipelineStage) Create(t *swapchain.Target, destroy *swapchain.DestroyList) error {
	layout, err := s.dev.CreatePipelineLayout([]gpu.DescriptorSetLayout{s.descriptors.layout})
	if err != nil {
		return errors.Wrap(err, "creating pipeline layout")
	}
	destroy.Push("pipeline-layout", "frame", func() {
		s.dev.DestroyPipelineLayout(layout)
	})

	bindings, attributes := vertexInput()
	pipelines := make(map[string]gpu.Pipeline, len(s.materials))
	for _, m := range s.materials {
		vert, err := s.shaders.LoadShader(m.VertexShader)
		if err != nil {
			return errors.Wrapf(err, "material `%s`", m.Name)
		}
		frag, err := s.shaders.LoadShader(m.FragmentShader)
		if err != nil {
			return errors.Wrapf(err, "material `%s`", m.Name)
		}
		p, err := s.dev.CreateGraphicsPipeline(gpu.PipelineDesc{
			Label:         m.Name,
			RenderPass:    t.RenderPass,
			Layout:        layout,
			VertexSPIRV:   vert,
			FragmentSPIRV: frag,
			Bindings:      bindings,
			Attributes:    attributes,
			Extent:        t.Surface.Extent,
			Samples:       t.Samples,
			Cull:          m.Cull,
			DepthTest:     true,
		})
		if err != nil {
			return errors.Wrapf(err, "creating pipeline `%s`", m.Name)
		}
		destroy.Push("pipeline", m.Name, func() {
			s.dev.DestroyPipeline(p)
		})
		pipelines[m.Name] = p
	}

	s.layout = layout
	s.pipelines = pipelines
	core.LogDebug("built %d pipeline(s) at %dx%d", len(pipelines), t.Surface.Extent.Width, t.Surface.Extent.Height)
	return nil
}
