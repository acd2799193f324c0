package resource

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/memory"
)

// StagingBuffer is a persistently mapped transfer source. The first half is an upload window
// written at caller offsets, the second half a ring that hands out per-frame space by slot.
type StagingBuffer struct {
	*Buffer

	uploadSize uint64
	ring       *memory.RingAllocator
}

// FrameSpace is ring space in the staging buffer. Offset is relative to the buffer.
type FrameSpace struct {
	Offset uint64
	Bytes  []byte
}

func NewStagingBuffer(dev Device, arena *memory.Arena, size uint64, slots int) (*StagingBuffer, error) {
	if size < 2 {
		return nil, errors.Newf("staging buffer of %d bytes is too small", size)
	}
	buf, err := NewBuffer(dev, arena, BufferDesc{
		BufferDesc: gpu.BufferDesc{
			Label: "staging",
			Size:  size,
			Usage: gpu.BufferUsageTransferSrc,
		},
		Class: gpu.MemoryClassHostVisibleCoherent,
	})
	if err != nil {
		return nil, err
	}

	upload := size / 2
	ringRegion, err := buf.Region.Sub(upload, size-upload)
	if err != nil {
		buf.Destroy()
		return nil, err
	}
	ring, err := memory.NewRingAllocator(ringRegion, slots)
	if err != nil {
		buf.Destroy()
		return nil, err
	}
	return &StagingBuffer{Buffer: buf, uploadSize: upload, ring: ring}, nil
}

// Stage copies data verbatim at offset inside the upload window.
func (s *StagingBuffer) Stage(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > s.uploadSize {
		return errors.Newf("staging %d bytes at %d overflows the %d byte upload window", len(data), offset, s.uploadSize)
	}
	return s.Write(offset, data)
}

func (s *StagingBuffer) UploadCapacity() uint64 {
	return s.uploadSize
}

// AllocateFrame takes per-frame space from the ring. core.ErrRingFull means the frames in
// flight hold the whole ring and the upload should be skipped this frame.
func (s *StagingBuffer) AllocateFrame(size, alignment uint64) (FrameSpace, error) {
	region, err := s.ring.Allocate(size, alignment)
	if err != nil {
		return FrameSpace{}, err
	}
	data, err := region.Bytes()
	if err != nil {
		return FrameSpace{}, err
	}
	return FrameSpace{Offset: region.Offset - s.Region.Offset, Bytes: data}, nil
}

// EndFrame closes the ring allocations of the frame recorded under slot.
func (s *StagingBuffer) EndFrame(slot int) error {
	return s.ring.EndFrame(slot)
}

// Release hands the space of slot's previous frame back. Call it after the slot fence wait.
func (s *StagingBuffer) Release(slot int) {
	s.ring.Release(slot)
}

func (s *StagingBuffer) Ring() *memory.RingAllocator {
	return s.ring
}
