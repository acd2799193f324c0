package sim

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

const spirvMagic uint32 = 0x07230203

type poolState struct {
	maxSets uint32
	sets    []gpu.DescriptorSet
}

type setState struct {
	pool   gpu.DescriptorPool
	layout gpu.DescriptorSetLayout
	writes map[uint32]gpu.DescriptorWrite
}

func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !desc.DepthFormat.IsDepth() {
		return gpu.NullHandle, errors.Newf("sim: render pass depth format %d is not a depth format", desc.DepthFormat)
	}
	if desc.Samples == 0 || desc.Samples > d.opts.Limits.MaxColorSamples {
		return gpu.NullHandle, errors.Newf("sim: render pass sample count %d unsupported", desc.Samples)
	}
	rp := gpu.RenderPass(d.track(KindRenderPass))
	d.renderPasses[rp] = desc
	return rp, nil
}

func (d *Device) DestroyRenderPass(rp gpu.RenderPass) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for fb, desc := range d.framebuffers {
		if desc.RenderPass == rp {
			d.violatef("destroying render pass %d before framebuffer %d", rp, fb)
		}
	}
	for p, desc := range d.pipelines {
		if desc.RenderPass == rp {
			d.violatef("destroying render pass %d before pipeline %d", rp, p)
		}
	}
	if d.untrack(KindRenderPass, gpu.Handle(rp)) {
		delete(d.renderPasses, rp)
	}
}

func (d *Device) CreateFramebuffer(desc gpu.FramebufferDesc) (gpu.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rp, ok := d.renderPasses[desc.RenderPass]
	if !ok {
		return gpu.NullHandle, errors.Wrapf(ErrInvalidHandle, "render pass %d", desc.RenderPass)
	}
	want := 2
	if rp.Samples > gpu.SampleCount1 {
		want = 3
	}
	if len(desc.Attachments) != want {
		return gpu.NullHandle, errors.Newf("sim: framebuffer has %d attachments, render pass expects %d", len(desc.Attachments), want)
	}
	for _, v := range desc.Attachments {
		view, ok := d.views[v]
		if !ok {
			return gpu.NullHandle, errors.Wrapf(ErrInvalidHandle, "framebuffer attachment %d", v)
		}
		if img := d.images[view.desc.Image]; img.desc.Extent != desc.Extent {
			return gpu.NullHandle, errors.Newf("sim: attachment %d is %dx%d, framebuffer is %dx%d", v,
				img.desc.Extent.Width, img.desc.Extent.Height, desc.Extent.Width, desc.Extent.Height)
		}
	}
	for _, v := range desc.Attachments {
		d.views[v].framebuffers++
	}
	fb := gpu.Framebuffer(d.track(KindFramebuffer))
	d.framebuffers[fb] = gpu.FramebufferDesc{
		RenderPass:  desc.RenderPass,
		Attachments: slices.Clone(desc.Attachments),
		Extent:      desc.Extent,
	}
	return fb, nil
}

func (d *Device) DestroyFramebuffer(fb gpu.Framebuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.checkNotInFlightLocked(func(c Command) bool { return c.Framebuffer == fb }, "framebuffer", gpu.Handle(fb))
	desc, ok := d.framebuffers[fb]
	if d.untrack(KindFramebuffer, gpu.Handle(fb)) && ok {
		for _, v := range desc.Attachments {
			if view, ok := d.views[v]; ok {
				view.framebuffers--
			}
		}
		delete(d.framebuffers, fb)
	}
}

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.DescriptorBinding) (gpu.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[uint32]bool, len(bindings))
	for _, b := range bindings {
		if seen[b.Binding] {
			return gpu.NullHandle, errors.Newf("sim: duplicate descriptor binding %d", b.Binding)
		}
		seen[b.Binding] = true
	}
	l := gpu.DescriptorSetLayout(d.track(KindDescriptorSetLayout))
	d.setLayouts[l] = slices.Clone(bindings)
	return l, nil
}

func (d *Device) DestroyDescriptorSetLayout(layout gpu.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.untrack(KindDescriptorSetLayout, gpu.Handle(layout)) {
		delete(d.setLayouts, layout)
	}
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []gpu.DescriptorPoolSize) (gpu.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if maxSets == 0 {
		return gpu.NullHandle, errors.New("sim: descriptor pool with zero sets")
	}
	p := gpu.DescriptorPool(d.track(KindDescriptorPool))
	d.pools[p] = &poolState{maxSets: maxSets}
	return p, nil
}

func (d *Device) DestroyDescriptorPool(pool gpu.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pools[pool]
	if !ok {
		d.untrack(KindDescriptorPool, gpu.Handle(pool))
		return
	}
	for _, set := range p.sets {
		d.untrack(KindDescriptorSet, gpu.Handle(set))
		delete(d.sets, set)
	}
	d.untrack(KindDescriptorPool, gpu.Handle(pool))
	delete(d.pools, pool)
}

func (d *Device) AllocateDescriptorSets(pool gpu.DescriptorPool, layout gpu.DescriptorSetLayout, count int) ([]gpu.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pools[pool]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "descriptor pool %d", pool)
	}
	if _, ok := d.setLayouts[layout]; !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "descriptor set layout %d", layout)
	}
	if len(p.sets)+count > int(p.maxSets) {
		return nil, errors.Newf("sim: descriptor pool %d exhausted (%d of %d sets in use, %d requested)", pool, len(p.sets), p.maxSets, count)
	}
	sets := make([]gpu.DescriptorSet, count)
	for i := range sets {
		sets[i] = gpu.DescriptorSet(d.track(KindDescriptorSet))
		d.sets[sets[i]] = &setState{pool: pool, layout: layout, writes: make(map[uint32]gpu.DescriptorWrite)}
	}
	p.sets = append(p.sets, sets...)
	return sets, nil
}

func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, w := range writes {
		set, ok := d.sets[w.Set]
		if !ok {
			d.violatef("writing descriptor set %d that does not exist", w.Set)
			continue
		}
		switch w.Type {
		case gpu.DescriptorTypeUniformBuffer:
			b, ok := d.buffers[w.Buffer]
			if !ok || b.desc.Usage&gpu.BufferUsageUniform == 0 {
				d.violatef("descriptor set %d binding %d points at a non-uniform buffer %d", w.Set, w.Binding, w.Buffer)
			}
			if w.Offset%d.opts.Limits.MinUniformBufferOffsetAlignment != 0 {
				d.violatef("descriptor set %d binding %d offset %d is not aligned to %d", w.Set, w.Binding, w.Offset, d.opts.Limits.MinUniformBufferOffsetAlignment)
			}
		case gpu.DescriptorTypeCombinedImageSampler:
			if _, ok := d.views[w.View]; !ok {
				d.violatef("descriptor set %d binding %d points at unknown view %d", w.Set, w.Binding, w.View)
			}
		}
		set.writes[w.Binding] = w
	}
}

// DescriptorWrites returns the latest write per binding of a set.
func (d *Device) DescriptorWrites(set gpu.DescriptorSet) map[uint32]gpu.DescriptorWrite {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sets[set]
	if !ok {
		return nil
	}
	out := make(map[uint32]gpu.DescriptorWrite, len(s.writes))
	for k, v := range s.writes {
		out[k] = v
	}
	return out
}

func (d *Device) CreatePipelineLayout(layouts []gpu.DescriptorSetLayout) (gpu.PipelineLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, l := range layouts {
		if _, ok := d.setLayouts[l]; !ok {
			return gpu.NullHandle, errors.Wrapf(ErrInvalidHandle, "descriptor set layout %d", l)
		}
	}
	pl := gpu.PipelineLayout(d.track(KindPipelineLayout))
	d.layouts[pl] = slices.Clone(layouts)
	return pl, nil
}

func (d *Device) DestroyPipelineLayout(layout gpu.PipelineLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for p, desc := range d.pipelines {
		if desc.Layout == layout {
			d.violatef("destroying pipeline layout %d before pipeline %d", layout, p)
		}
	}
	if d.untrack(KindPipelineLayout, gpu.Handle(layout)) {
		delete(d.layouts, layout)
	}
}

func validSPIRV(code []byte) bool {
	return len(code) >= 20 && len(code)%4 == 0 && binary.LittleEndian.Uint32(code) == spirvMagic
}

func (d *Device) CreateGraphicsPipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !validSPIRV(desc.VertexSPIRV) || !validSPIRV(desc.FragmentSPIRV) {
		return gpu.NullHandle, errors.Wrapf(ErrInvalidShader, "pipeline `%s`", desc.Label)
	}
	if _, ok := d.renderPasses[desc.RenderPass]; !ok {
		return gpu.NullHandle, errors.Wrapf(ErrInvalidHandle, "pipeline `%s` render pass %d", desc.Label, desc.RenderPass)
	}
	if _, ok := d.layouts[desc.Layout]; !ok {
		return gpu.NullHandle, errors.Wrapf(ErrInvalidHandle, "pipeline `%s` layout %d", desc.Label, desc.Layout)
	}
	p := gpu.Pipeline(d.track(KindPipeline))
	d.pipelines[p] = desc
	return p, nil
}

func (d *Device) DestroyPipeline(p gpu.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.checkNotInFlightLocked(func(c Command) bool { return c.Pipeline == p }, "pipeline", gpu.Handle(p))
	if d.untrack(KindPipeline, gpu.Handle(p)) {
		delete(d.pipelines, p)
	}
}

// PipelineLabel returns the label a live pipeline was created with.
func (d *Device) PipelineLabel(p gpu.Pipeline) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipelines[p].Label
}
