package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/gpu/sim"
)

type harness struct {
	dev       *sim.Device
	swapchain gpu.Swapchain
	cbs       []gpu.CommandBuffer
	sync      *Synchronizer
}

func newHarness(t *testing.T, framesInFlight int) *harness {
	t.Helper()
	opts := sim.DefaultOptions()
	opts.Latency = 10 * time.Millisecond
	opts.HostStep = time.Millisecond
	dev := sim.New(opts)

	sc, images, err := dev.CreateSwapchain(gpu.SwapchainDesc{
		Extent:      opts.Extent,
		ImageCount:  3,
		Format:      opts.Formats[0],
		PresentMode: gpu.PresentModeFifo,
	})
	require.NoError(t, err)

	// One prerecorded buffer per image, as the recorder does.
	cbs, err := dev.AllocateCommandBuffers(len(images))
	require.NoError(t, err)
	for _, cb := range cbs {
		require.NoError(t, dev.BeginCommandBuffer(cb, gpu.CommandBufferUsageSimultaneousUse))
		require.NoError(t, dev.EndCommandBuffer(cb))
	}

	s, err := NewSynchronizer(dev, framesInFlight, len(images))
	require.NoError(t, err)
	return &harness{dev: dev, swapchain: sc, cbs: cbs, sync: s}
}

func (h *harness) destroy(t *testing.T) {
	require.NoError(t, h.dev.WaitIdle())
	h.sync.Destroy()
	h.dev.FreeCommandBuffers(h.cbs)
	h.dev.DestroySwapchain(h.swapchain)
	require.Zero(t, h.dev.LiveTotal(), "%v", h.dev.LiveByKind())
	require.Empty(t, h.dev.Violations())
}

// frame runs one tick. check is called where the uniforms of the image would be written.
func (h *harness) frame(t *testing.T, state State, check func(slot Slot, image uint32)) State {
	t.Helper()
	slot, err := h.sync.Begin(state)
	require.NoError(t, err)

	image, status, err := h.dev.AcquireNextImage(h.swapchain, gpu.TimeoutInfinite, slot.ImageAvailable)
	require.NoError(t, err)
	require.Equal(t, gpu.StatusSuccess, status)

	require.NoError(t, h.sync.ClaimImage(slot.Index, image))
	check(slot, image)

	require.NoError(t, h.sync.ResetFence(slot))
	require.NoError(t, h.dev.Submit(h.sync.SubmitInfo(slot, h.cbs[image])))
	status, err = h.dev.Present(h.swapchain, image, slot.RenderFinished)
	require.NoError(t, err)
	require.Equal(t, gpu.StatusSuccess, status)
	return h.sync.Next(state)
}

func TestSlotFenceGuardsSemaphoreReuse(t *testing.T) {
	const frames = 12
	for _, n := range []int{1, 2, 3} {
		h := newHarness(t, n)
		state := State{}
		for f := 0; f < frames; f++ {
			state = h.frame(t, state, func(slot Slot, _ uint32) {
				// Submission f-N used this slot's semaphores last.
				if prev := f - n; prev >= 0 {
					require.True(t, h.dev.SubmissionComplete(prev), "frame %d, slot %d", f, slot.Index)
				}
			})
		}
		require.Equal(t, uint64(frames), state.Frame)
		require.Equal(t, frames%n, state.Slot)
		require.Len(t, h.dev.Submissions(), frames)
		require.Len(t, h.dev.Presents(), frames)
		h.destroy(t)
	}
}

func TestFramesOverlapOnTheGPU(t *testing.T) {
	h := newHarness(t, 2)
	state := State{}
	for f := 0; f < 4; f++ {
		state = h.frame(t, state, func(Slot, uint32) {})
	}
	subs := h.dev.Submissions()
	// With a 10ms GPU and a 1ms host, frame 1 is submitted before frame 0 completes.
	require.Less(t, subs[1].At, subs[0].CompleteAt)
	h.destroy(t)
}

func TestImageInUseWaitsForPreviousUser(t *testing.T) {
	h := newHarness(t, 2)
	// Image 0 is handed out twice in a row, to two different slots.
	h.dev.ScriptImages(0, 0, 1, 2, 1, 1)

	lastUse := map[uint32]int{}
	state := State{}
	for f := 0; f < 6; f++ {
		state = h.frame(t, state, func(slot Slot, image uint32) {
			if prev, ok := lastUse[image]; ok {
				require.True(t, h.dev.SubmissionComplete(prev), "frame %d writes image %d while submission %d runs", f, image, prev)
			}
			require.Equal(t, slot.InFlight, h.sync.ImageFence(image))
			lastUse[image] = f
		})
	}
	h.destroy(t)
}

func TestResetImagesClearsTable(t *testing.T) {
	h := newHarness(t, 2)
	state := h.frame(t, State{}, func(Slot, uint32) {})
	require.NotEqual(t, gpu.Fence(gpu.NullHandle), h.sync.ImageFence(0))

	require.NoError(t, h.dev.WaitIdle())
	h.sync.ResetImages(3)
	for i := uint32(0); i < 3; i++ {
		require.Equal(t, gpu.Fence(gpu.NullHandle), h.sync.ImageFence(i))
	}
	h.frame(t, state, func(Slot, uint32) {})
	h.destroy(t)
}

func TestClaimLeavesFenceSignaled(t *testing.T) {
	h := newHarness(t, 2)
	slot, err := h.sync.Begin(State{})
	require.NoError(t, err)
	require.NoError(t, h.sync.ClaimImage(slot.Index, 0))

	// Nothing was submitted, so waiting on the slot again must not block.
	signaled, err := h.dev.FenceSignaled(slot.InFlight)
	require.NoError(t, err)
	require.True(t, signaled)
	_, err = h.sync.Begin(State{})
	require.NoError(t, err)

	require.NoError(t, h.sync.ResetFence(slot))
	signaled, err = h.dev.FenceSignaled(slot.InFlight)
	require.NoError(t, err)
	require.False(t, signaled)
	require.NoError(t, h.dev.Submit(gpu.SubmitInfo{Fence: slot.InFlight}))
	h.destroy(t)
}

func TestSubmitInfo(t *testing.T) {
	h := newHarness(t, 2)
	slot := h.sync.Slot(1)
	info := h.sync.SubmitInfo(slot, h.cbs[2])

	require.Equal(t, []gpu.Semaphore{slot.ImageAvailable}, info.WaitSemaphores)
	require.Equal(t, []gpu.PipelineStage{gpu.PipelineStageColorAttachmentOutput}, info.WaitStages)
	require.Equal(t, []gpu.Semaphore{slot.RenderFinished}, info.SignalSemaphores)
	require.Equal(t, slot.InFlight, info.Fence)
	require.Equal(t, []gpu.CommandBuffer{h.cbs[2]}, info.CommandBuffers)
	h.destroy(t)
}

func TestInvalidArguments(t *testing.T) {
	dev := sim.New(sim.DefaultOptions())
	_, err := NewSynchronizer(dev, 0, 3)
	require.Error(t, err)
	_, err = NewSynchronizer(dev, MaxFramesInFlight+1, 3)
	require.Error(t, err)

	s, err := NewSynchronizer(dev, 2, 3)
	require.NoError(t, err)
	_, err = s.Begin(State{Slot: 2})
	require.Error(t, err)
	require.Error(t, s.ClaimImage(0, 3))

	s.Destroy()
	require.Zero(t, dev.LiveTotal())
}
