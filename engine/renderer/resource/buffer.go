// Package resource binds GPU buffers and images to arena regions.
//
// A handle is created once, bound once and destroyed once. Destroying a handle releases the
// GPU object only: arena regions are never freed, so a region can outlive the object bound
// to it and be reused by the next one.
package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/memory"
)

// Device is the part of a backend resources are built with.
type Device interface {
	gpu.ResourceFactory
	gpu.CommandEncoder
	gpu.SyncPrimitives
	gpu.Queue
}

type BufferDesc struct {
	gpu.BufferDesc
	Class gpu.MemoryClass
}

type Buffer struct {
	ID     uuid.UUID
	Handle gpu.Buffer
	Region memory.Region
	Desc   BufferDesc

	dev       Device
	mapped    bool
	destroyed bool
}

// NewBuffer creates the buffer and binds it to a fresh region of the arena heap for desc.Class.
func NewBuffer(dev Device, arena *memory.Arena, desc BufferDesc) (*Buffer, error) {
	handle, reqs, err := dev.CreateBuffer(desc.BufferDesc)
	if err != nil {
		err = errors.Wrapf(err, "creating buffer `%s`", desc.Label)
		core.LogError(err.Error())
		return nil, err
	}
	region, err := arena.Allocate(desc.Class, reqs.Size, reqs.Alignment)
	if err != nil {
		dev.DestroyBuffer(handle)
		return nil, errors.Wrapf(err, "allocating memory for buffer `%s`", desc.Label)
	}
	return bindBuffer(dev, handle, region, desc)
}

// NewBufferAt binds a new buffer into a region the caller owns. The region must start at an
// offset that satisfies the buffer's alignment and be large enough for it.
func NewBufferAt(dev Device, region memory.Region, desc BufferDesc) (*Buffer, error) {
	if region.IsZero() {
		return nil, errors.Newf("buffer `%s` needs a region", desc.Label)
	}
	if region.Heap.Class != desc.Class {
		return nil, errors.Newf("buffer `%s` wants %s memory, region is %s", desc.Label, desc.Class, region.Heap.Class)
	}
	handle, reqs, err := dev.CreateBuffer(desc.BufferDesc)
	if err != nil {
		err = errors.Wrapf(err, "creating buffer `%s`", desc.Label)
		core.LogError(err.Error())
		return nil, err
	}
	if err := checkFits(region, reqs); err != nil {
		dev.DestroyBuffer(handle)
		return nil, errors.Wrapf(err, "buffer `%s`", desc.Label)
	}
	return bindBuffer(dev, handle, region, desc)
}

func checkFits(region memory.Region, reqs gpu.MemoryRequirements) error {
	if reqs.Alignment > 0 && region.Offset%reqs.Alignment != 0 {
		return errors.Newf("region offset %d does not satisfy alignment %d", region.Offset, reqs.Alignment)
	}
	if region.Size < reqs.Size {
		return errors.Newf("region of %d bytes is smaller than the required %d", region.Size, reqs.Size)
	}
	return nil
}

func bindBuffer(dev Device, handle gpu.Buffer, region memory.Region, desc BufferDesc) (*Buffer, error) {
	if err := dev.BindBufferMemory(handle, region.Heap.Memory, region.Offset); err != nil {
		dev.DestroyBuffer(handle)
		err = errors.Wrapf(err, "binding buffer `%s`", desc.Label)
		core.LogError(err.Error())
		return nil, err
	}
	return &Buffer{
		ID:     uuid.New(),
		Handle: handle,
		Region: region,
		Desc:   desc,
		dev:    dev,
	}, nil
}

// Map returns the persistent mapping of a host-visible buffer, clipped to the buffer size.
func (b *Buffer) Map() ([]byte, error) {
	if b.destroyed {
		return nil, errors.Newf("buffer `%s` is destroyed", b.Desc.Label)
	}
	data, err := b.Region.Bytes()
	if err != nil {
		return nil, errors.Wrapf(err, "mapping buffer `%s`", b.Desc.Label)
	}
	b.mapped = true
	return data[:b.Desc.Size:b.Desc.Size], nil
}

// Unmap only clears the bookkeeping flag. The heap itself stays mapped.
func (b *Buffer) Unmap() {
	b.mapped = false
}

// Write copies data into the mapping at offset.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > b.Desc.Size {
		return errors.Newf("write of %d bytes at %d overflows buffer `%s` of %d bytes", len(data), offset, b.Desc.Label, b.Desc.Size)
	}
	mapped, err := b.Map()
	if err != nil {
		return err
	}
	copy(mapped[offset:], data)
	return nil
}

func (b *Buffer) Destroy() {
	if b == nil || b.destroyed {
		return
	}
	b.dev.DestroyBuffer(b.Handle)
	b.destroyed = true
	b.mapped = false
}

func (b *Buffer) Destroyed() bool {
	return b.destroyed
}
