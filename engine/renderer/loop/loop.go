// Package loop drives one frame per tick: wait for the slot, acquire an image, let the
// application write its per-frame data, submit and present.
package loop

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/frame"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/recorder"
	"github.com/spaghettifunk/prism/engine/renderer/resource"
	"github.com/spaghettifunk/prism/engine/renderer/swapchain"
)

//go:generate mockgen -destination=mocks/mock_application.go -package=mocks github.com/spaghettifunk/prism/engine/renderer/loop Application

// Application supplies the per-frame data. Update runs after the image has been claimed, so
// the uniform block of ctx.ImageIndex is no longer read by the GPU.
type Application interface {
	Update(ctx *FrameContext) error
}

// State is threaded through every Tick by the caller.
type State struct {
	frame.State
	// PendingResize is applied at the top of the next tick. A zero extent suspends rendering.
	PendingResize *gpu.Extent2D
	// RebuildRequested rebuilds at the current extent, e.g. after a shader reload.
	RebuildRequested bool
	Elapsed          time.Duration
}

// Resize records a new extent to be applied at the next synchronization point.
func (s State) Resize(width, height uint32) State {
	s.PendingResize = &gpu.Extent2D{Width: width, Height: height}
	return s
}

func (s State) RequestRebuild() State {
	s.RebuildRequested = true
	return s
}

// Suspended reports whether the window has no area and ticks are skipped.
func (s State) Suspended() bool {
	return s.PendingResize != nil && s.PendingResize.IsZero()
}

// Deps are the parts of the renderer a loop drives.
type Deps struct {
	Device    gpu.Backend
	Swapchain *swapchain.Manager
	Sync      *frame.Synchronizer
	Recorder  *recorder.Recorder
	Uniforms  *resource.UniformBuffer
	Staging   *resource.StagingBuffer
	App       Application
}

type Loop struct {
	Deps

	metrics  *core.FrameMetrics
	sinceLog time.Duration
	rebuilds int
}

func New(deps Deps) *Loop {
	return &Loop{Deps: deps, metrics: core.NewFrameMetrics()}
}

func (l *Loop) Metrics() *core.FrameMetrics {
	return l.metrics
}

// Rebuilds counts completed swapchain rebuilds.
func (l *Loop) Rebuilds() int {
	return l.rebuilds
}

// Tick renders one frame. Recoverable presentation states come back as a pending resize in
// the returned State; any returned error should be checked with core.IsFatal. When the
// application fails a frame the recorded draw is still submitted and presented, so the
// returned State is usable together with the error.
func (l *Loop) Tick(state State, dt time.Duration) (State, error) {
	if state.Suspended() {
		return state, nil
	}
	if state.PendingResize != nil || state.RebuildRequested {
		next, err := l.rebuild(state)
		if err != nil || next.PendingResize != nil {
			return next, err
		}
		state = next
	}

	slot, err := l.Sync.Begin(state.State)
	if err != nil {
		return state, err
	}
	l.Staging.Release(slot.Index)

	imageIndex, status, err := l.Swapchain.Acquire(slot.ImageAvailable)
	if err != nil {
		return state, err
	}
	if status == gpu.StatusOutOfDate {
		state.PendingResize = l.currentExtent()
		return state, nil
	}

	if err := l.Sync.ClaimImage(slot.Index, imageIndex); err != nil {
		return state, err
	}

	ctx := &FrameContext{
		Frame:      state.Frame,
		Slot:       slot.Index,
		ImageIndex: imageIndex,
		Delta:      dt,
		Elapsed:    state.Elapsed + dt,
		Extent:     l.Swapchain.Surface().Extent,
		uniforms:   l.Uniforms,
		staging:    l.Staging,
	}
	cmds, prepErr := l.prepare(ctx, slot)
	if prepErr != nil {
		if core.IsFatal(prepErr) {
			return state, prepErr
		}
		// The image is acquired and its semaphore signaled. Submit the recorded draw alone so
		// the slot fence and semaphores complete; the frame shows the previous per-frame data.
		core.LogWarn("frame %d: %s", state.Frame, prepErr)
		cmds = []gpu.CommandBuffer{l.Recorder.Buffer(imageIndex)}
	}

	if err := l.Sync.ResetFence(slot); err != nil {
		return state, err
	}
	if err := l.Device.Submit(l.Sync.SubmitInfo(slot, cmds...)); err != nil {
		err = core.MarkFatal(errors.Wrapf(err, "submitting frame %d", state.Frame))
		core.LogError(err.Error())
		return state, err
	}

	status, err = l.Swapchain.Present(imageIndex, slot.RenderFinished)
	if err != nil {
		return state, err
	}

	next := State{
		State:   l.Sync.Next(state.State),
		Elapsed: state.Elapsed + dt,
	}
	if status == gpu.StatusOutOfDate || status == gpu.StatusSuboptimal {
		next.PendingResize = l.currentExtent()
	}
	l.updateMetrics(dt)
	return next, prepErr
}

// prepare lets the application write the frame and records its uploads. The returned buffers
// are submitted in order.
func (l *Loop) prepare(ctx *FrameContext, slot frame.Slot) ([]gpu.CommandBuffer, error) {
	updateErr := l.App.Update(ctx)
	// Close the ring frame even on failure so Release on this slot frees what Update took.
	if err := l.Staging.EndFrame(slot.Index); err != nil {
		return nil, errors.CombineErrors(updateErr, err)
	}
	if updateErr != nil {
		return nil, errors.Wrapf(updateErr, "updating frame %d", ctx.Frame)
	}

	cmds := make([]gpu.CommandBuffer, 0, 2)
	transfer, err := l.Recorder.Transfer(slot.Index, ctx.copies)
	if err != nil {
		return nil, err
	}
	if transfer != gpu.NullHandle {
		cmds = append(cmds, transfer)
	}
	return append(cmds, l.Recorder.Buffer(ctx.ImageIndex)), nil
}

// rebuild applies a pending resize. A zero extent keeps the resize pending.
func (l *Loop) rebuild(state State) (State, error) {
	extent := *l.currentExtent()
	if state.PendingResize != nil {
		extent = *state.PendingResize
	}
	if err := l.Swapchain.Rebuild(extent); err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			core.LogDebug("rebuild deferred at %dx%d", extent.Width, extent.Height)
			state.PendingResize = &gpu.Extent2D{}
			return state, nil
		}
		return state, err
	}
	l.Sync.ResetImages(l.Swapchain.Surface().ImageCount())
	l.rebuilds++

	state.PendingResize = nil
	state.RebuildRequested = false
	return state, nil
}

// currentExtent is the extent the surface reports now, falling back to the live swapchain.
// It is zero when neither knows.
func (l *Loop) currentExtent() *gpu.Extent2D {
	var extent gpu.Extent2D
	if surface := l.Swapchain.Surface(); surface != nil {
		extent = surface.Extent
	}
	if caps, err := l.Device.SurfaceCapabilities(); err == nil && caps.CurrentExtent.Width != gpu.ExtentUndefined {
		extent = caps.CurrentExtent
	}
	return &extent
}

func (l *Loop) updateMetrics(dt time.Duration) {
	l.metrics.Update(dt)
	l.sinceLog += dt
	if l.sinceLog >= 5*time.Second {
		l.sinceLog = 0
		fps, frameTime := l.metrics.Frame()
		core.LogDebug("%.1f fps, %s average frame time", fps, frameTime)
	}
}
