package sim

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/memutils"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type memoryBlock struct {
	class  gpu.MemoryClass
	size   uint64
	data   []byte
	mapped bool
}

// bytes lazily backs the block so large device-local heaps cost nothing until used.
func (m *memoryBlock) bytes() []byte {
	if m.data == nil {
		m.data = make([]byte, m.size)
	}
	return m.data
}

type binding struct {
	memory gpu.Memory
	offset uint64
}

type bufferState struct {
	desc  gpu.BufferDesc
	reqs  gpu.MemoryRequirements
	bound *binding
}

type imageState struct {
	desc      gpu.ImageDesc
	reqs      gpu.MemoryRequirements
	bound     *binding
	swapchain gpu.Swapchain
	views     int
}

type viewState struct {
	desc         gpu.ImageViewDesc
	framebuffers int
}

func (d *Device) AllocateMemory(class gpu.MemoryClass, size uint64) (gpu.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if class < 0 || class >= gpu.MemoryClassCount {
		return gpu.NullHandle, errors.Newf("sim: unknown memory class %d", class)
	}
	var used uint64
	for _, m := range d.memory {
		if m.class == class {
			used += m.size
		}
	}
	if used+size > d.opts.Limits.HeapSizes[class] {
		return gpu.NullHandle, errors.Wrapf(ErrOutOfMemory, "%s heap: %d in use, %d requested", class, used, size)
	}

	mem := gpu.Memory(d.track(KindMemory))
	d.memory[mem] = &memoryBlock{class: class, size: size}
	return mem, nil
}

func (d *Device) FreeMemory(mem gpu.Memory) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for h, b := range d.buffers {
		if b.bound != nil && b.bound.memory == mem {
			d.violatef("freeing memory %d while buffer %d is bound to it", mem, h)
		}
	}
	for h, img := range d.images {
		if img.bound != nil && img.bound.memory == mem {
			d.violatef("freeing memory %d while image %d is bound to it", mem, h)
		}
	}
	if d.untrack(KindMemory, gpu.Handle(mem)) {
		if d.memory[mem].mapped {
			d.violatef("freeing memory %d while mapped", mem)
		}
		delete(d.memory, mem)
	}
}

func (d *Device) MapMemory(mem gpu.Memory, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.memory[mem]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "memory %d", mem)
	}
	if m.class != gpu.MemoryClassHostVisibleCoherent {
		return nil, errors.Newf("sim: memory %d of class %s cannot be mapped", mem, m.class)
	}
	if m.mapped {
		return nil, errors.Newf("sim: memory %d is already mapped", mem)
	}
	if offset+size > m.size {
		return nil, errors.Newf("sim: mapping [%d, %d) exceeds memory %d of size %d", offset, offset+size, mem, m.size)
	}
	m.mapped = true
	return m.bytes()[offset : offset+size : offset+size], nil
}

func (d *Device) UnmapMemory(mem gpu.Memory) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.memory[mem]
	if !ok || !m.mapped {
		d.violatef("unmapping memory %d that is not mapped", mem)
		return
	}
	m.mapped = false
}

func (d *Device) bufferRequirements(desc gpu.BufferDesc) gpu.MemoryRequirements {
	alignment := d.opts.BufferAlignment
	if desc.Usage&gpu.BufferUsageUniform != 0 && d.opts.Limits.MinUniformBufferOffsetAlignment > alignment {
		alignment = d.opts.Limits.MinUniformBufferOffsetAlignment
	}
	return gpu.MemoryRequirements{
		Size:           uint64(memutils.AlignUp(int(desc.Size), uint(alignment))),
		Alignment:      alignment,
		MemoryTypeBits: 0x3,
	}
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, gpu.MemoryRequirements, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.Size == 0 {
		return gpu.NullHandle, gpu.MemoryRequirements{}, errors.Newf("sim: buffer `%s` has zero size", desc.Label)
	}
	reqs := d.bufferRequirements(desc)
	buf := gpu.Buffer(d.track(KindBuffer))
	d.buffers[buf] = &bufferState{desc: desc, reqs: reqs}
	return buf, reqs, nil
}

func (d *Device) bindLocked(mem gpu.Memory, offset uint64, reqs gpu.MemoryRequirements, what string) (*binding, error) {
	m, ok := d.memory[mem]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "binding %s to memory %d", what, mem)
	}
	if offset%reqs.Alignment != 0 {
		return nil, errors.Newf("sim: %s bound at offset %d, alignment %d required", what, offset, reqs.Alignment)
	}
	if offset+reqs.Size > m.size {
		return nil, errors.Newf("sim: %s of size %d at offset %d overflows memory %d of size %d", what, reqs.Size, offset, mem, m.size)
	}
	return &binding{memory: mem, offset: offset}, nil
}

func (d *Device) BindBufferMemory(buf gpu.Buffer, mem gpu.Memory, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.buffers[buf]
	if !ok {
		return errors.Wrapf(ErrInvalidHandle, "buffer %d", buf)
	}
	if b.bound != nil {
		return errors.Newf("sim: buffer %d is already bound", buf)
	}
	bound, err := d.bindLocked(mem, offset, b.reqs, "buffer `"+b.desc.Label+"`")
	if err != nil {
		return err
	}
	b.bound = bound
	return nil
}

func (d *Device) DestroyBuffer(buf gpu.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.checkNotInFlightLocked(func(c Command) bool { return c.references(gpu.Handle(buf)) }, "buffer", gpu.Handle(buf))
	if d.untrack(KindBuffer, gpu.Handle(buf)) {
		delete(d.buffers, buf)
	}
}

func formatSize(f gpu.Format) uint64 {
	switch f {
	case gpu.FormatD32SfloatS8Uint, gpu.FormatR32G32Sfloat:
		return 8
	case gpu.FormatR32G32B32Sfloat:
		return 12
	case gpu.FormatR32G32B32A32Sfloat:
		return 16
	}
	return 4
}

func (d *Device) imageRequirements(desc gpu.ImageDesc) gpu.MemoryRequirements {
	var size uint64
	w, h := uint64(desc.Extent.Width), uint64(desc.Extent.Height)
	for level := uint32(0); level < desc.MipLevels; level++ {
		size += w * h
		w, h = max(w/2, 1), max(h/2, 1)
	}
	size *= formatSize(desc.Format) * uint64(desc.Samples)
	return gpu.MemoryRequirements{
		Size:           uint64(memutils.AlignUp(int(size), uint(d.opts.ImageAlignment))),
		Alignment:      d.opts.ImageAlignment,
		MemoryTypeBits: 0x1,
	}
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, gpu.MemoryRequirements, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.Extent.IsZero() || desc.Extent.Width > d.opts.Limits.MaxImageDimension2D || desc.Extent.Height > d.opts.Limits.MaxImageDimension2D {
		return gpu.NullHandle, gpu.MemoryRequirements{}, errors.Newf("sim: image `%s` has invalid extent %dx%d", desc.Label, desc.Extent.Width, desc.Extent.Height)
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.Samples == 0 {
		desc.Samples = gpu.SampleCount1
	}
	if desc.Samples > d.opts.Limits.MaxColorSamples {
		return gpu.NullHandle, gpu.MemoryRequirements{}, errors.Newf("sim: image `%s` asks for %d samples, device maximum is %d", desc.Label, desc.Samples, d.opts.Limits.MaxColorSamples)
	}
	reqs := d.imageRequirements(desc)
	img := gpu.Image(d.track(KindImage))
	d.images[img] = &imageState{desc: desc, reqs: reqs}
	return img, reqs, nil
}

func (d *Device) BindImageMemory(img gpu.Image, mem gpu.Memory, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, ok := d.images[img]
	if !ok || i.swapchain != gpu.NullHandle {
		return errors.Wrapf(ErrInvalidHandle, "image %d", img)
	}
	if i.bound != nil {
		return errors.Newf("sim: image %d is already bound", img)
	}
	bound, err := d.bindLocked(mem, offset, i.reqs, "image `"+i.desc.Label+"`")
	if err != nil {
		return err
	}
	i.bound = bound
	return nil
}

func (d *Device) DestroyImage(img gpu.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, ok := d.images[img]
	if ok && i.swapchain != gpu.NullHandle {
		d.violatef("destroying swapchain-owned image %d", img)
		return
	}
	if ok && i.views > 0 {
		d.violatef("destroying image %d with %d live view(s)", img, i.views)
	}
	if d.untrack(KindImage, gpu.Handle(img)) {
		delete(d.images, img)
	}
}

func (d *Device) CreateImageView(desc gpu.ImageViewDesc) (gpu.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, ok := d.images[desc.Image]
	if !ok {
		return gpu.NullHandle, errors.Wrapf(ErrInvalidHandle, "image view over image %d", desc.Image)
	}
	if img.swapchain == gpu.NullHandle && img.bound == nil {
		return gpu.NullHandle, errors.Newf("sim: image %d has no memory bound", desc.Image)
	}
	img.views++
	view := gpu.ImageView(d.track(KindImageView))
	d.views[view] = &viewState{desc: desc}
	return view, nil
}

func (d *Device) DestroyImageView(view gpu.ImageView) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.views[view]
	if ok && v.framebuffers > 0 {
		d.violatef("destroying image view %d still used by %d framebuffer(s)", view, v.framebuffers)
	}
	if d.untrack(KindImageView, gpu.Handle(view)) {
		if img, ok := d.images[v.desc.Image]; ok {
			img.views--
		}
		delete(d.views, view)
	}
}

func (d *Device) CreateSampler(desc gpu.SamplerDesc) (gpu.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := gpu.Sampler(d.track(KindSampler))
	d.samplers[s] = struct{}{}
	return s, nil
}

func (d *Device) DestroySampler(s gpu.Sampler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.untrack(KindSampler, gpu.Handle(s)) {
		delete(d.samplers, s)
	}
}

// ReadBuffer returns a copy of the bytes backing buf, after every completed copy into it.
func (d *Device) ReadBuffer(buf gpu.Buffer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.buffers[buf]
	if !ok || b.bound == nil {
		return nil, errors.Wrapf(ErrInvalidHandle, "buffer %d is not bound", buf)
	}
	m := d.memory[b.bound.memory]
	out := make([]byte, b.desc.Size)
	copy(out, m.bytes()[b.bound.offset:])
	return out, nil
}

func (d *Device) bufferBytesLocked(buf gpu.Buffer) ([]byte, bool) {
	b, ok := d.buffers[buf]
	if !ok || b.bound == nil {
		return nil, false
	}
	m := d.memory[b.bound.memory]
	return m.bytes()[b.bound.offset : b.bound.offset+b.desc.Size], true
}
