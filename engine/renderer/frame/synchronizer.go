// Package frame paces the host against the GPU: a small ring of in-flight frame slots plus
// the table of which slot's fence last touched each swapchain image.
package frame

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

const (
	DefaultFramesInFlight = 2
	MaxFramesInFlight     = 3
)

// Slot is the synchronization set of one in-flight frame.
type Slot struct {
	Index          int
	ImageAvailable gpu.Semaphore
	RenderFinished gpu.Semaphore
	InFlight       gpu.Fence
}

// State is the frame counter and the current slot. It is owned by the caller and passed in
// on every call.
type State struct {
	Frame uint64
	Slot  int
}

type Synchronizer struct {
	dev   gpu.Backend
	slots []Slot
	// imagesInFlight holds, per swapchain image, the fence of the last slot that rendered
	// to it. Entries alias slot fences and are never destroyed through this table.
	imagesInFlight []gpu.Fence
}

func NewSynchronizer(dev gpu.Backend, framesInFlight, imageCount int) (*Synchronizer, error) {
	if framesInFlight < 1 || framesInFlight > MaxFramesInFlight {
		return nil, errors.Newf("frames in flight must be in [1, %d], got %d", MaxFramesInFlight, framesInFlight)
	}
	s := &Synchronizer{dev: dev}

	for i := 0; i < framesInFlight; i++ {
		slot := Slot{Index: i}
		var err error
		if slot.ImageAvailable, err = dev.CreateSemaphore(); err != nil {
			s.Destroy()
			err = errors.Wrap(err, "failed to create semaphore on image available")
			core.LogError(err.Error())
			return nil, err
		}
		if slot.RenderFinished, err = dev.CreateSemaphore(); err != nil {
			dev.DestroySemaphore(slot.ImageAvailable)
			s.Destroy()
			err = errors.Wrap(err, "failed to create semaphore on render finished")
			core.LogError(err.Error())
			return nil, err
		}
		// Signaled, so the first wait on every slot returns at once.
		if slot.InFlight, err = dev.CreateFence(true); err != nil {
			dev.DestroySemaphore(slot.RenderFinished)
			dev.DestroySemaphore(slot.ImageAvailable)
			s.Destroy()
			err = errors.Wrap(err, "failed to create in-flight fence")
			core.LogError(err.Error())
			return nil, err
		}
		s.slots = append(s.slots, slot)
	}
	s.ResetImages(imageCount)
	core.LogDebug("frame synchronizer: %d slot(s), %d image(s)", framesInFlight, imageCount)
	return s, nil
}

func (s *Synchronizer) FramesInFlight() int {
	return len(s.slots)
}

func (s *Synchronizer) Slot(index int) Slot {
	return s.slots[index]
}

// Begin waits until the GPU is done with the frame last submitted from the state's slot.
// After it returns the slot's semaphores may be signaled again.
func (s *Synchronizer) Begin(state State) (Slot, error) {
	if state.Slot < 0 || state.Slot >= len(s.slots) {
		return Slot{}, errors.Newf("frame slot %d out of range [0, %d)", state.Slot, len(s.slots))
	}
	slot := s.slots[state.Slot]
	ok, err := s.dev.WaitForFence(slot.InFlight, gpu.TimeoutInfinite)
	if err != nil {
		err = core.MarkFatal(errors.Wrapf(err, "in-flight fence wait failure on slot %d", slot.Index))
		core.LogError(err.Error())
		return Slot{}, err
	}
	if !ok {
		err := errors.Newf("in-flight fence of slot %d did not signal", slot.Index)
		core.LogWarn(err.Error())
		return Slot{}, err
	}
	return slot, nil
}

// ClaimImage makes sure no earlier frame still renders to imageIndex, then hands the image to
// slot. The slot fence stays signaled until ResetFence.
func (s *Synchronizer) ClaimImage(slotIndex int, imageIndex uint32) error {
	if int(imageIndex) >= len(s.imagesInFlight) {
		return errors.Newf("image index %d out of range [0, %d)", imageIndex, len(s.imagesInFlight))
	}
	slot := s.slots[slotIndex]

	// Make sure the previous frame is not using this image.
	if prev := s.imagesInFlight[imageIndex]; prev != gpu.NullHandle && prev != slot.InFlight {
		if _, err := s.dev.WaitForFence(prev, gpu.TimeoutInfinite); err != nil {
			err = core.MarkFatal(errors.Wrapf(err, "waiting for image %d", imageIndex))
			core.LogError(err.Error())
			return err
		}
	}
	s.imagesInFlight[imageIndex] = slot.InFlight
	return nil
}

// ResetFence unsignals the slot fence. Call it right before the submit that signals it again:
// a reset fence that is never submitted blocks the next Begin on the slot forever.
func (s *Synchronizer) ResetFence(slot Slot) error {
	if err := s.dev.ResetFence(slot.InFlight); err != nil {
		err = core.MarkFatal(errors.Wrapf(err, "resetting fence of slot %d", slot.Index))
		core.LogError(err.Error())
		return err
	}
	return nil
}

// ImageFence is the fence of the last frame that claimed imageIndex, or gpu.NullHandle.
func (s *Synchronizer) ImageFence(imageIndex uint32) gpu.Fence {
	if int(imageIndex) >= len(s.imagesInFlight) {
		return gpu.NullHandle
	}
	return s.imagesInFlight[imageIndex]
}

// SubmitInfo gates cmds on the slot's acquire semaphore at color output, signals the
// present semaphore and the slot fence.
func (s *Synchronizer) SubmitInfo(slot Slot, cmds ...gpu.CommandBuffer) gpu.SubmitInfo {
	return gpu.SubmitInfo{
		WaitSemaphores:   []gpu.Semaphore{slot.ImageAvailable},
		WaitStages:       []gpu.PipelineStage{gpu.PipelineStageColorAttachmentOutput},
		CommandBuffers:   cmds,
		SignalSemaphores: []gpu.Semaphore{slot.RenderFinished},
		Fence:            slot.InFlight,
	}
}

// Next advances the frame counter and moves to the following slot.
func (s *Synchronizer) Next(state State) State {
	return State{
		Frame: state.Frame + 1,
		Slot:  (state.Slot + 1) % len(s.slots),
	}
}

// ResetImages clears the image table for a swapchain with imageCount images. The device must
// be idle.
func (s *Synchronizer) ResetImages(imageCount int) {
	s.imagesInFlight = make([]gpu.Fence, imageCount)
}

// Destroy releases every slot. The device must be idle.
func (s *Synchronizer) Destroy() {
	for i := len(s.slots) - 1; i >= 0; i-- {
		slot := s.slots[i]
		s.dev.DestroyFence(slot.InFlight)
		s.dev.DestroySemaphore(slot.RenderFinished)
		s.dev.DestroySemaphore(slot.ImageAvailable)
	}
	s.slots = nil
	s.imagesInFlight = nil
}
