package renderer

import (
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/recorder"
	"github.com/spaghettifunk/prism/engine/renderer/resource"
	"github.com/spaghettifunk/prism/engine/renderer/scene"
)

const (
	MaterialInstanced = "instanced"
	MaterialStatic    = "static"
	MaterialGround    = "ground"
)

// Material is one graphics pipeline. Shader names are asset paths of SPIR-V binaries and are
// reloaded on every swapchain rebuild.
type Material struct {
	Name           string
	Kind           recorder.GroupKind
	VertexShader   string
	FragmentShader string
	Cull           gpu.CullMode
}

func DefaultMaterials() []Material {
	return []Material{
		{
			Name:           MaterialInstanced,
			Kind:           recorder.GroupInstanced,
			VertexShader:   "shaders/instanced.vert.spv",
			FragmentShader: "shaders/phong.frag.spv",
			Cull:           gpu.CullModeBack,
		},
		{
			Name:           MaterialStatic,
			Kind:           recorder.GroupStatic,
			VertexShader:   "shaders/mesh.vert.spv",
			FragmentShader: "shaders/phong.frag.spv",
			Cull:           gpu.CullModeBack,
		},
		{
			Name:           MaterialGround,
			Kind:           recorder.GroupGround,
			VertexShader:   "shaders/mesh.vert.spv",
			FragmentShader: "shaders/ground.frag.spv",
			Cull:           gpu.CullModeNone,
		},
	}
}

// vertexInput is shared by every material: interleaved vertices on binding 0 and one model
// matrix per instance on binding 1, as four vec4 columns.
func vertexInput() ([]gpu.VertexBinding, []gpu.VertexAttribute) {
	bindings := []gpu.VertexBinding{
		{Binding: 0, Stride: resource.VertexStride, Rate: gpu.VertexInputRateVertex},
		{Binding: 1, Stride: scene.InstanceStride, Rate: gpu.VertexInputRateInstance},
	}
	attributes := []gpu.VertexAttribute{
		{Location: 0, Binding: 0, Format: gpu.FormatR32G32B32Sfloat, Offset: 0},
		{Location: 1, Binding: 0, Format: gpu.FormatR32G32B32Sfloat, Offset: 12},
		{Location: 2, Binding: 0, Format: gpu.FormatR32G32Sfloat, Offset: 24},
	}
	for col := uint32(0); col < 4; col++ {
		attributes = append(attributes, gpu.VertexAttribute{
			Location: 3 + col,
			Binding:  1,
			Format:   gpu.FormatR32G32B32A32Sfloat,
			Offset:   col * 16,
		})
	}
	return bindings, attributes
}

// Model is a mesh drawn with one material, InstanceCount times.
type Model struct {
	Label         string
	Material      string
	Mesh          *resource.Mesh
	Instances     *resource.Buffer
	InstanceCount uint32
}

func (m *Model) Destroy() {
	m.Mesh.Destroy()
	m.Instances.Destroy()
}
