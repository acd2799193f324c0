package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/memutils"

	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
)

type frameMark struct {
	slot int
	size uint64
}

// RingAllocator hands out per-frame scratch space from a fixed region. Everything a frame
// allocated is reclaimed at once by Release, after the frame's fence has been waited on.
type RingAllocator struct {
	region Region
	slots  int
	head   uint64
	used   uint64
	// bytes claimed since the last EndFrame, padding included
	current uint64
	pending *containers.RingQueue[frameMark]
}

func NewRingAllocator(region Region, slots int) (*RingAllocator, error) {
	if region.IsZero() || region.Size == 0 {
		return nil, errors.New("ring allocator needs a non-empty region")
	}
	if slots < 1 {
		return nil, errors.Newf("ring allocator needs at least one slot, got %d", slots)
	}
	return &RingAllocator{
		region:  region,
		slots:   slots,
		pending: containers.NewRingQueue[frameMark](slots),
	}, nil
}

// Allocate never straddles the end of the ring. When the space is taken by frames still in
// flight it returns core.ErrRingFull and the caller should skip the upload.
func (r *RingAllocator) Allocate(size, alignment uint64) (Region, error) {
	if alignment == 0 {
		alignment = 1
	}
	if err := memutils.CheckPow2(uint(alignment), "alignment"); err != nil {
		return Region{}, err
	}
	capacity := r.region.Size
	if size > capacity {
		return Region{}, errors.Wrapf(core.ErrRingFull, "%d bytes requested, capacity %d", size, capacity)
	}
	if r.used == 0 {
		r.head = 0
	}

	offset := r.alignedOffset(r.head, alignment)
	consumed := offset - r.head + size
	if offset > capacity || size > capacity-offset {
		// Wrap: the tail of the ring stays burned until this frame is released.
		offset = r.alignedOffset(0, alignment)
		consumed = capacity - r.head + offset + size
	}
	if offset > capacity || size > capacity-offset || consumed > capacity-r.used {
		return Region{}, errors.Wrapf(core.ErrRingFull, "%d bytes requested, %d of %d in use", size, r.used, capacity)
	}

	r.head = offset + size
	r.used += consumed
	r.current += consumed
	return r.region.Sub(offset, size)
}

// alignedOffset aligns a ring-relative offset. Alignment is relative to the heap, not the ring.
func (r *RingAllocator) alignedOffset(offset, alignment uint64) uint64 {
	base := r.region.Offset
	return uint64(memutils.AlignUp(int(base+offset), uint(alignment))) - base
}

// EndFrame closes the allocations made since the previous EndFrame under slot.
func (r *RingAllocator) EndFrame(slot int) error {
	if err := r.pending.Enqueue(frameMark{slot: slot, size: r.current}); err != nil {
		return errors.Wrapf(err, "ending frame for slot %d with %d frames pending", slot, r.pending.Len())
	}
	r.current = 0
	return nil
}

// Release frees the oldest pending frame when it belongs to slot.
func (r *RingAllocator) Release(slot int) {
	front, err := r.pending.Peek()
	if err != nil || front.slot != slot {
		return
	}
	_, _ = r.pending.Dequeue()
	r.used -= front.size
}

func (r *RingAllocator) Used() uint64 {
	return r.used
}

func (r *RingAllocator) Capacity() uint64 {
	return r.region.Size
}

func (r *RingAllocator) Region() Region {
	return r.region
}
