package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/memutils"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

const MiB uint64 = 1 << 20

type ArenaConfig struct {
	// ChunkSize is the size of the single heap allocated for every memory class.
	ChunkSize uint64
}

func DefaultArenaConfig() ArenaConfig {
	return ArenaConfig{ChunkSize: 256 * MiB}
}

// Heap is one device memory allocation. Host-visible heaps stay mapped for their lifetime.
type Heap struct {
	Class  gpu.MemoryClass
	Memory gpu.Memory
	Size   uint64
	Mapped []byte

	cursor      uint64
	allocations int
	allocated   uint64
}

// Region is a sub-range of a heap. Regions are never freed individually.
type Region struct {
	Heap   *Heap
	Offset uint64
	Size   uint64
}

func (r Region) End() uint64 {
	return r.Offset + r.Size
}

func (r Region) IsZero() bool {
	return r.Heap == nil
}

func (r Region) Overlaps(o Region) bool {
	return r.Heap == o.Heap && r.Offset < o.End() && o.Offset < r.End()
}

// Bytes returns the mapped window of a host-visible region.
func (r Region) Bytes() ([]byte, error) {
	if r.Heap == nil || r.Heap.Mapped == nil {
		return nil, errors.Wrapf(core.ErrNotHostVisible, "region [%d, %d)", r.Offset, r.End())
	}
	return r.Heap.Mapped[r.Offset:r.End():r.End()], nil
}

// Sub carves a window out of r. Offset is relative to the start of r.
func (r Region) Sub(offset, size uint64) (Region, error) {
	if offset > r.Size || size > r.Size-offset {
		return Region{}, errors.Newf("sub-region of %d bytes at %d exceeds region of size %d", size, offset, r.Size)
	}
	return Region{Heap: r.Heap, Offset: r.Offset + offset, Size: size}, nil
}

// Arena owns one heap per memory class and bump-allocates regions out of them.
type Arena struct {
	alloc gpu.MemoryAllocator
	cfg   ArenaConfig
	heaps [gpu.MemoryClassCount]*Heap
}

func NewArena(alloc gpu.MemoryAllocator, cfg ArenaConfig) (*Arena, error) {
	if cfg.ChunkSize == 0 {
		return nil, errors.New("arena chunk size must be non-zero")
	}
	a := &Arena{alloc: alloc, cfg: cfg}

	for class := gpu.MemoryClass(0); class < gpu.MemoryClassCount; class++ {
		mem, err := alloc.AllocateMemory(class, cfg.ChunkSize)
		if err != nil {
			a.Destroy()
			err = core.MarkFatal(errors.Wrapf(err, "allocating %s heap of %d bytes", class, cfg.ChunkSize))
			core.LogError(err.Error())
			return nil, err
		}
		heap := &Heap{Class: class, Memory: mem, Size: cfg.ChunkSize}
		a.heaps[class] = heap

		if class == gpu.MemoryClassHostVisibleCoherent {
			mapped, err := alloc.MapMemory(mem, 0, cfg.ChunkSize)
			if err != nil {
				a.Destroy()
				err = core.MarkFatal(errors.Wrapf(err, "mapping %s heap", class))
				core.LogError(err.Error())
				return nil, err
			}
			heap.Mapped = mapped
		}
		core.LogDebug("arena heap %s: %d MiB", class, cfg.ChunkSize/MiB)
	}
	return a, nil
}

// Allocate returns the next region of the class heap aligned to alignment. Offsets only grow.
func (a *Arena) Allocate(class gpu.MemoryClass, size, alignment uint64) (Region, error) {
	if class < 0 || class >= gpu.MemoryClassCount || a.heaps[class] == nil {
		return Region{}, errors.Newf("arena has no heap for memory class %d", class)
	}
	if alignment == 0 {
		alignment = 1
	}
	if err := memutils.CheckPow2(uint(alignment), "alignment"); err != nil {
		return Region{}, err
	}

	heap := a.heaps[class]
	next := uint64(memutils.AlignUp(int(heap.cursor), uint(alignment)))
	// next never exceeds a heap size, so the subtraction cannot wrap.
	if next > heap.Size || size > heap.Size-next {
		return Region{}, core.MarkFatal(errors.Wrapf(core.ErrArenaExhausted,
			"%s heap: %d bytes requested at offset %d, capacity %d", class, size, next, heap.Size))
	}

	heap.cursor = next + size
	heap.allocations++
	heap.allocated += size
	return Region{Heap: heap, Offset: next, Size: size}, nil
}

// Used is the high-water mark of the class heap, padding included.
func (a *Arena) Used(class gpu.MemoryClass) uint64 {
	if h := a.heap(class); h != nil {
		return h.cursor
	}
	return 0
}

func (a *Arena) Capacity(class gpu.MemoryClass) uint64 {
	if h := a.heap(class); h != nil {
		return h.Size
	}
	return 0
}

func (a *Arena) heap(class gpu.MemoryClass) *Heap {
	if class < 0 || class >= gpu.MemoryClassCount {
		return nil
	}
	return a.heaps[class]
}

// Stats sums every heap. The unused tail of a heap counts as one unused range.
func (a *Arena) Stats() memutils.DetailedStatistics {
	var total memutils.DetailedStatistics
	total.Clear()
	for _, h := range a.heaps {
		if h == nil {
			continue
		}
		var s memutils.DetailedStatistics
		s.Clear()
		s.BlockCount = 1
		s.BlockBytes = int(h.Size)
		s.AllocationCount = h.allocations
		s.AllocationBytes = int(h.allocated)
		if tail := h.Size - h.cursor; tail > 0 {
			s.AddUnusedRange(int(tail))
		}
		total.AddDetailedStatistics(&s)
	}
	return total
}

// Destroy unmaps and frees each heap exactly once.
func (a *Arena) Destroy() {
	for class, h := range a.heaps {
		if h == nil {
			continue
		}
		if h.Mapped != nil {
			a.alloc.UnmapMemory(h.Memory)
			h.Mapped = nil
		}
		a.alloc.FreeMemory(h.Memory)
		a.heaps[class] = nil
	}
}
