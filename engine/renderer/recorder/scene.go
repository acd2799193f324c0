// Package recorder turns a scene of draw groups into one prerecorded command buffer per
// swapchain image, plus the small per-frame transfer buffers that feed it.
package recorder

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// GroupKind fixes the order draw groups are recorded in.
type GroupKind int

const (
	GroupInstanced GroupKind = iota
	GroupStatic
	GroupGround
)

func (k GroupKind) String() string {
	switch k {
	case GroupInstanced:
		return "instanced"
	case GroupStatic:
		return "static"
	case GroupGround:
		return "ground"
	}
	return "unknown"
}

// DrawGroup is one pipeline plus the buffers and per-image descriptor sets it draws with.
type DrawGroup struct {
	Label    string
	Kind     GroupKind
	Pipeline gpu.Pipeline
	Layout   gpu.PipelineLayout
	// Sets holds one descriptor set per swapchain image.
	Sets          []gpu.DescriptorSet
	VertexBuffers []gpu.Buffer
	VertexOffsets []uint64
	IndexBuffer   gpu.Buffer
	IndexOffset   uint64
	IndexType     gpu.IndexType
	IndexCount    uint32
	InstanceCount uint32
}

func (g *DrawGroup) validate(imageCount int) error {
	switch {
	case g.Pipeline == gpu.NullHandle:
		return errors.Newf("draw group `%s` has no pipeline", g.Label)
	case len(g.VertexBuffers) == 0 || len(g.VertexBuffers) != len(g.VertexOffsets):
		return errors.Newf("draw group `%s` binds %d vertex buffers with %d offsets", g.Label, len(g.VertexBuffers), len(g.VertexOffsets))
	case g.IndexBuffer == gpu.NullHandle:
		return errors.Newf("draw group `%s` has no index buffer", g.Label)
	case len(g.Sets) < imageCount:
		return errors.Newf("draw group `%s` has %d descriptor sets for %d images", g.Label, len(g.Sets), imageCount)
	}
	return nil
}

// CopyRegion is a buffer to buffer copy recorded ahead of the render pass.
type CopyRegion struct {
	Src gpu.Buffer
	Dst gpu.Buffer
	gpu.BufferCopy
}

type Scene struct {
	Groups     []DrawGroup
	Copies     []CopyRegion
	ClearColor [4]float32
}

func (s *Scene) Add(g DrawGroup) {
	s.Groups = append(s.Groups, g)
}

// Ordered returns the groups sorted by kind, keeping insertion order within a kind.
func (s *Scene) Ordered() []DrawGroup {
	groups := slices.Clone(s.Groups)
	slices.SortStableFunc(groups, func(a, b DrawGroup) int {
		return int(a.Kind) - int(b.Kind)
	})
	return groups
}
