package sim

import (
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type semaphoreState struct {
	signaled bool
	// Index of the last submission that waited on or signaled the semaphore, -1 if none.
	lastUse int
}

type fenceState struct {
	signaled   bool
	submission int
}

// Submission is one queue submit as seen by the mock GPU clock.
type Submission struct {
	Index            int
	At               time.Duration
	CompleteAt       time.Duration
	Completed        bool
	Fence            gpu.Fence
	WaitSemaphores   []gpu.Semaphore
	SignalSemaphores []gpu.Semaphore
	CommandBuffers   []gpu.CommandBuffer
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sem := gpu.Semaphore(d.track(KindSemaphore))
	d.semaphores[sem] = &semaphoreState{lastUse: -1}
	return sem, nil
}

func (d *Device) DestroySemaphore(sem gpu.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.semaphores[sem]; ok && s.lastUse >= 0 && !d.submissions[s.lastUse].Completed {
		d.violatef("destroying semaphore %d used by in-flight submission %d", sem, s.lastUse)
	}
	if d.untrack(KindSemaphore, gpu.Handle(sem)) {
		delete(d.semaphores, sem)
	}
}

// semaphoreForSignalLocked rejects a signal on a semaphore that is still signaled or
// referenced by a submission the GPU has not finished.
func (d *Device) semaphoreForSignalLocked(sem gpu.Semaphore) (*semaphoreState, error) {
	s, ok := d.semaphores[sem]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "semaphore %d", sem)
	}
	if s.signaled {
		return nil, errors.Wrapf(ErrSemaphoreBusy, "semaphore %d is already signaled", sem)
	}
	if s.lastUse >= 0 && !d.submissions[s.lastUse].Completed {
		return nil, errors.Wrapf(ErrSemaphoreBusy, "semaphore %d is used by in-flight submission %d", sem, s.lastUse)
	}
	return s, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f := gpu.Fence(d.track(KindFence))
	d.fences[f] = &fenceState{signaled: signaled, submission: -1}
	return f, nil
}

func (d *Device) DestroyFence(fence gpu.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if f, ok := d.fences[fence]; ok && f.submission >= 0 && !f.signaled {
		d.violatef("destroying fence %d of in-flight submission %d", fence, f.submission)
	}
	if d.untrack(KindFence, gpu.Handle(fence)) {
		delete(d.fences, fence)
	}
}

func (d *Device) WaitForFence(fence gpu.Fence, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.retireLocked()
	f, ok := d.fences[fence]
	if !ok {
		return false, errors.Wrapf(ErrInvalidHandle, "fence %d", fence)
	}
	if f.signaled {
		return true, nil
	}
	if f.submission < 0 {
		if timeout == gpu.TimeoutInfinite {
			return false, errors.Wrapf(ErrDeadlock, "fence %d was reset and never submitted", fence)
		}
		d.now += timeout
		d.retireLocked()
		return false, nil
	}

	due := d.submissions[f.submission].CompleteAt
	if timeout != gpu.TimeoutInfinite && due-d.now > timeout {
		d.now += timeout
		d.retireLocked()
		return false, nil
	}
	if due > d.now {
		d.now = due
	}
	d.retireLocked()
	return true, nil
}

func (d *Device) ResetFence(fence gpu.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.fences[fence]
	if !ok {
		return errors.Wrapf(ErrInvalidHandle, "fence %d", fence)
	}
	if !f.signaled && f.submission >= 0 {
		return errors.Wrapf(ErrFenceBusy, "resetting fence %d of in-flight submission %d", fence, f.submission)
	}
	f.signaled = false
	f.submission = -1
	return nil
}

func (d *Device) FenceSignaled(fence gpu.Fence) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.retireLocked()
	f, ok := d.fences[fence]
	if !ok {
		return false, errors.Wrapf(ErrInvalidHandle, "fence %d", fence)
	}
	return f.signaled, nil
}

func (d *Device) AllocateCommandBuffers(count int) ([]gpu.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if count <= 0 {
		return nil, errors.Newf("sim: allocating %d command buffers", count)
	}
	cbs := make([]gpu.CommandBuffer, count)
	for i := range cbs {
		cbs[i] = gpu.CommandBuffer(d.track(KindCommandBuffer))
		d.cmdBuffers[cbs[i]] = &commandBuffer{state: cbInitial, submission: -1}
	}
	return cbs, nil
}

func (d *Device) FreeCommandBuffers(cbs []gpu.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.retireLocked()
	for _, cb := range cbs {
		if c, ok := d.cmdBuffers[cb]; ok && c.state == cbPending {
			d.violatef("freeing command buffer %d of in-flight submission %d", cb, c.submission)
		}
		if d.untrack(KindCommandBuffer, gpu.Handle(cb)) {
			delete(d.cmdBuffers, cb)
		}
	}
}

func (d *Device) Submit(info gpu.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.retireLocked()
	index := len(d.submissions)

	if len(info.WaitStages) != len(info.WaitSemaphores) {
		return errors.Newf("sim: %d wait semaphores with %d wait stages", len(info.WaitSemaphores), len(info.WaitStages))
	}

	var fence *fenceState
	if info.Fence != gpu.NullHandle {
		f, ok := d.fences[info.Fence]
		if !ok {
			return errors.Wrapf(ErrInvalidHandle, "fence %d", info.Fence)
		}
		if f.signaled || f.submission >= 0 {
			return errors.Wrapf(ErrFenceBusy, "fence %d submitted without a reset", info.Fence)
		}
		fence = f
	}

	waits := make([]*semaphoreState, len(info.WaitSemaphores))
	for i, sem := range info.WaitSemaphores {
		s, ok := d.semaphores[sem]
		if !ok {
			return errors.Wrapf(ErrInvalidHandle, "semaphore %d", sem)
		}
		if !s.signaled {
			return errors.Wrapf(ErrDeadlock, "submission waits on semaphore %d that is never signaled", sem)
		}
		waits[i] = s
	}
	signals := make([]*semaphoreState, len(info.SignalSemaphores))
	for i, sem := range info.SignalSemaphores {
		s, err := d.semaphoreForSignalLocked(sem)
		if err != nil {
			return errors.Wrapf(err, "submission %d", index)
		}
		signals[i] = s
	}

	cbs := make([]*commandBuffer, len(info.CommandBuffers))
	for i, cb := range info.CommandBuffers {
		c, ok := d.cmdBuffers[cb]
		if !ok {
			return errors.Wrapf(ErrInvalidHandle, "command buffer %d", cb)
		}
		if c.state != cbExecutable {
			return errors.Wrapf(ErrCommandBufState, "submitting command buffer %d in state %s", cb, c.state)
		}
		cbs[i] = c
	}

	sub := &Submission{
		Index:            index,
		At:               d.now,
		CompleteAt:       d.now + d.opts.Latency,
		Fence:            info.Fence,
		WaitSemaphores:   slices.Clone(info.WaitSemaphores),
		SignalSemaphores: slices.Clone(info.SignalSemaphores),
		CommandBuffers:   slices.Clone(info.CommandBuffers),
	}
	d.submissions = append(d.submissions, sub)

	for _, s := range waits {
		s.signaled = false
		s.lastUse = index
	}
	for _, s := range signals {
		s.signaled = true
		s.lastUse = index
	}
	for _, c := range cbs {
		c.state = cbPending
		c.submission = index
		// Transfers take effect in submission order.
		d.executeLocked(c.commands)
	}
	if fence != nil {
		fence.submission = index
	}

	d.now += d.opts.HostStep
	d.retireLocked()
	return nil
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range d.submissions {
		if !s.Completed && s.CompleteAt > d.now {
			d.now = s.CompleteAt
		}
	}
	d.retireLocked()
	return nil
}

// retireLocked completes every submission due by the current clock.
func (d *Device) retireLocked() {
	for _, s := range d.submissions {
		if s.Completed || s.CompleteAt > d.now {
			continue
		}
		s.Completed = true
		if f, ok := d.fences[s.Fence]; ok && f.submission == s.Index {
			f.signaled = true
		}
		for _, cb := range s.CommandBuffers {
			if c, ok := d.cmdBuffers[cb]; ok && c.state == cbPending && c.submission == s.Index {
				c.state = cbExecutable
			}
		}
	}
}

func (d *Device) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Submission, len(d.submissions))
	for i, s := range d.submissions {
		out[i] = *s
	}
	return out
}

// SubmissionComplete reports whether the GPU has finished submission index.
func (d *Device) SubmissionComplete(index int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.retireLocked()
	return index >= 0 && index < len(d.submissions) && d.submissions[index].Completed
}

// checkNotInFlightLocked flags destruction of an object referenced by pending work.
func (d *Device) checkNotInFlightLocked(match func(Command) bool, what string, h gpu.Handle) {
	d.retireLocked()
	for cbh, c := range d.cmdBuffers {
		if c.state != cbPending {
			continue
		}
		for _, cmd := range c.commands {
			if match(cmd) {
				d.violatef("destroying %s %d referenced by in-flight command buffer %d", what, h, cbh)
				return
			}
		}
	}
}
