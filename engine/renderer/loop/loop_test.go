package loop_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/frame"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/gpu/sim"
	"github.com/spaghettifunk/prism/engine/renderer/loop"
	"github.com/spaghettifunk/prism/engine/renderer/loop/mocks"
	"github.com/spaghettifunk/prism/engine/renderer/memory"
	"github.com/spaghettifunk/prism/engine/renderer/recorder"
	"github.com/spaghettifunk/prism/engine/renderer/resource"
	"github.com/spaghettifunk/prism/engine/renderer/scene"
	"github.com/spaghettifunk/prism/engine/renderer/swapchain"
)

const dt = 16 * time.Millisecond

type uniformStage struct {
	dev      gpu.Backend
	uniforms *resource.UniformBuffer
}

func (u uniformStage) Name() string { return "uniforms" }

func (u uniformStage) Create(t *swapchain.Target, destroy *swapchain.DestroyList) error {
	if err := u.uniforms.Create(u.dev, t.Surface.ImageCount()); err != nil {
		return err
	}
	destroy.Push("uniforms", "frame", u.uniforms.Destroy)
	return nil
}

func buildScene(target *swapchain.Target) (*recorder.Scene, error) {
	sets := make([]gpu.DescriptorSet, target.Surface.ImageCount())
	for i := range sets {
		sets[i] = gpu.DescriptorSet(500 + i)
	}
	s := &recorder.Scene{}
	s.Add(recorder.DrawGroup{
		Label:         "cubes",
		Kind:          recorder.GroupInstanced,
		Pipeline:      1,
		Layout:        1,
		Sets:          sets,
		VertexBuffers: []gpu.Buffer{900},
		VertexOffsets: []uint64{0},
		IndexBuffer:   901,
		IndexType:     gpu.IndexTypeUint32,
		IndexCount:    36,
		InstanceCount: 8,
	})
	return s, nil
}

type fixture struct {
	dev      *sim.Device
	arena    *memory.Arena
	chain    *swapchain.Manager
	sync     *frame.Synchronizer
	rec      *recorder.Recorder
	uniforms *resource.UniformBuffer
	staging  *resource.StagingBuffer
	app      *mocks.MockApplication
	loop     *loop.Loop
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	opts := sim.DefaultOptions()
	opts.Latency = 10 * time.Millisecond
	opts.HostStep = time.Millisecond
	dev := sim.New(opts)

	arena, err := memory.NewArena(dev, memory.ArenaConfig{ChunkSize: 64 * memory.MiB})
	require.NoError(t, err)
	uniforms, err := resource.ReserveUniformBuffer(arena, scene.FrameUniformSize, dev.Limits(), 0, 3)
	require.NoError(t, err)
	staging, err := resource.NewStagingBuffer(dev, arena, memory.MiB, frame.DefaultFramesInFlight)
	require.NoError(t, err)

	chain := swapchain.NewManager(dev, arena, swapchain.Options{Samples: gpu.SampleCount4, MaxImages: 3})
	rec, err := recorder.NewRecorder(dev, frame.DefaultFramesInFlight, buildScene)
	require.NoError(t, err)
	chain.Register(swapchain.StageUniforms, uniformStage{dev: dev, uniforms: uniforms})
	chain.Register(swapchain.StageCommandBuffers, rec)
	require.NoError(t, chain.Create(opts.Extent))

	sync, err := frame.NewSynchronizer(dev, frame.DefaultFramesInFlight, chain.Surface().ImageCount())
	require.NoError(t, err)

	app := mocks.NewMockApplication(gomock.NewController(t))
	l := loop.New(loop.Deps{
		Device:    dev,
		Swapchain: chain,
		Sync:      sync,
		Recorder:  rec,
		Uniforms:  uniforms,
		Staging:   staging,
		App:       app,
	})
	return &fixture{
		dev:      dev,
		arena:    arena,
		chain:    chain,
		sync:     sync,
		rec:      rec,
		uniforms: uniforms,
		staging:  staging,
		app:      app,
		loop:     l,
	}
}

func (f *fixture) destroy(t *testing.T) {
	t.Helper()
	require.NoError(t, f.dev.WaitIdle())
	f.rec.Destroy()
	require.NoError(t, f.chain.Destroy())
	f.sync.Destroy()
	f.staging.Destroy()
	f.arena.Destroy()
	require.Zero(t, f.dev.LiveTotal(), "%v", f.dev.LiveByKind())
	require.Empty(t, f.dev.Violations())
}

func (f *fixture) tick(t *testing.T, state loop.State) loop.State {
	t.Helper()
	next, err := f.loop.Tick(state, dt)
	require.NoError(t, err)
	return next
}

func TestTicksAdvanceFrameAndSlot(t *testing.T) {
	f := newFixture(t)
	const frames = 7

	var (
		lastUse = map[uint32]int{}
		images  []uint32
	)
	f.app.EXPECT().Update(gomock.Any()).DoAndReturn(func(ctx *loop.FrameContext) error {
		// The previous submission that rendered this image must be done before its
		// uniforms are rewritten.
		if prev, ok := lastUse[ctx.ImageIndex]; ok {
			require.True(t, f.dev.SubmissionComplete(prev), "image %d still in use by submission %d", ctx.ImageIndex, prev)
		}
		require.Equal(t, int(ctx.Frame%frame.DefaultFramesInFlight), ctx.Slot)
		require.Equal(t, gpu.Extent2D{Width: 800, Height: 600}, ctx.Extent)
		require.Equal(t, time.Duration(ctx.Frame+1)*dt, ctx.Elapsed)

		u, err := scene.NewFrameUniform(scene.LightCaps{MaxDirectional: 1, MaxPoint: 1})
		require.NoError(t, err)
		u.Time = float32(ctx.Frame)
		block := make([]byte, scene.FrameUniformSize)
		require.NoError(t, u.Encode(block))
		require.NoError(t, ctx.WriteUniform(block))

		images = append(images, ctx.ImageIndex)
		return nil
	}).Times(frames)

	var state loop.State
	for i := 0; i < frames; i++ {
		state = f.tick(t, state)
		subs := f.dev.Submissions()
		lastUse[images[len(images)-1]] = len(subs) - 1
	}

	require.Equal(t, uint64(frames), state.Frame)
	require.Equal(t, frames%frame.DefaultFramesInFlight, state.Slot)
	require.Equal(t, frames*dt, state.Elapsed)
	require.Nil(t, state.PendingResize)
	require.Len(t, f.dev.Presents(), frames)
	require.Len(t, f.dev.Submissions(), frames)
	require.Zero(t, f.loop.Rebuilds())
	require.Equal(t, []uint32{0, 1, 2, 0, 1, 2, 0}, images)

	// The last write to image 0 is visible in its uniform buffer.
	data, err := f.dev.ReadBuffer(f.uniforms.Buffer(0).Handle)
	require.NoError(t, err)
	require.Len(t, data, scene.FrameUniformSize)
	require.NotEqual(t, make([]byte, 4), data[scene.FrameUniformSize-8:scene.FrameUniformSize-4])

	f.destroy(t)
}

func TestOutOfDateAcquireRebuildsAtNextTick(t *testing.T) {
	f := newFixture(t)
	f.app.EXPECT().Update(gomock.Any()).Return(nil).Times(3)

	var state loop.State
	state = f.tick(t, state)
	state = f.tick(t, state)

	resized := gpu.Extent2D{Width: 1024, Height: 768}
	f.dev.SetExtent(resized)
	before := len(f.dev.Submissions())
	frameBefore := state.Frame

	state = f.tick(t, state)
	require.NotNil(t, state.PendingResize)
	require.Equal(t, resized, *state.PendingResize)
	require.Equal(t, frameBefore, state.Frame, "an aborted tick does not advance")
	require.Len(t, f.dev.Submissions(), before)
	require.Equal(t, gpu.Extent2D{Width: 800, Height: 600}, f.chain.Surface().Extent)

	state = f.tick(t, state)
	require.Nil(t, state.PendingResize)
	require.Equal(t, 1, f.loop.Rebuilds())
	require.Equal(t, resized, f.chain.Surface().Extent)
	require.Equal(t, 3, f.chain.Surface().ImageCount())
	require.Len(t, f.rec.Buffers(), 3)
	require.Equal(t, frameBefore+1, state.Frame)
	require.Len(t, f.dev.Presents(), 3)

	f.destroy(t)
}

func TestResizeIsAppliedAtSyncPoint(t *testing.T) {
	f := newFixture(t)
	f.app.EXPECT().Update(gomock.Any()).Return(nil).Times(2)

	var state loop.State
	state = f.tick(t, state)

	// The platform reports the new size; nothing changes until the next tick.
	f.dev.SetExtent(gpu.Extent2D{Width: 1024, Height: 768})
	state = state.Resize(1024, 768)
	require.Equal(t, gpu.Extent2D{Width: 800, Height: 600}, f.chain.Surface().Extent)
	generation := f.chain.Generation()

	state = f.tick(t, state)
	require.Nil(t, state.PendingResize)
	require.Equal(t, generation+1, f.chain.Generation())
	require.Equal(t, gpu.Extent2D{Width: 1024, Height: 768}, f.chain.Surface().Extent)

	f.destroy(t)
}

func TestSuboptimalPresentSchedulesRebuild(t *testing.T) {
	f := newFixture(t)
	f.app.EXPECT().Update(gomock.Any()).Return(nil).Times(2)
	f.dev.ScriptPresent(gpu.StatusSuboptimal)

	state := f.tick(t, loop.State{})
	require.NotNil(t, state.PendingResize)
	require.Equal(t, gpu.Extent2D{Width: 800, Height: 600}, *state.PendingResize)
	require.Equal(t, uint64(1), state.Frame)

	state = f.tick(t, state)
	require.Nil(t, state.PendingResize)
	require.Equal(t, 1, f.loop.Rebuilds())

	f.destroy(t)
}

func TestMinimizedWindowSuspendsTicks(t *testing.T) {
	f := newFixture(t)
	f.app.EXPECT().Update(gomock.Any()).Return(nil).Times(2)

	state := f.tick(t, loop.State{})

	f.dev.SetExtent(gpu.Extent2D{})
	state = f.tick(t, state)
	require.True(t, state.Suspended())

	submitted := len(f.dev.Submissions())
	for i := 0; i < 3; i++ {
		state = f.tick(t, state)
	}
	require.True(t, state.Suspended())
	require.Len(t, f.dev.Submissions(), submitted)
	require.Zero(t, f.loop.Rebuilds())

	f.dev.SetExtent(gpu.Extent2D{Width: 640, Height: 480})
	state = state.Resize(640, 480)
	require.False(t, state.Suspended())
	state = f.tick(t, state)
	require.Equal(t, 1, f.loop.Rebuilds())
	require.Equal(t, gpu.Extent2D{Width: 640, Height: 480}, f.chain.Surface().Extent)
	require.Len(t, f.dev.Submissions(), submitted+1)

	f.destroy(t)
}

func TestRequestRebuild(t *testing.T) {
	f := newFixture(t)
	f.app.EXPECT().Update(gomock.Any()).Return(nil).Times(2)

	state := f.tick(t, loop.State{})
	generation := f.chain.Generation()

	state = f.tick(t, state.RequestRebuild())
	require.False(t, state.RebuildRequested)
	require.Equal(t, generation+1, f.chain.Generation())
	require.Equal(t, gpu.Extent2D{Width: 800, Height: 600}, f.chain.Surface().Extent)

	f.destroy(t)
}

func TestRebuildOnMinimizedSurfaceSuspends(t *testing.T) {
	f := newFixture(t)
	f.app.EXPECT().Update(gomock.Any()).Return(nil).Times(2)

	state := f.tick(t, loop.State{})
	generation := f.chain.Generation()

	// The window is minimized between the request and the next tick.
	f.dev.SetExtent(gpu.Extent2D{})
	state = f.tick(t, state.RequestRebuild())
	require.True(t, state.Suspended())
	require.Equal(t, swapchain.StateLive, f.chain.State())
	require.Equal(t, generation, f.chain.Generation())

	f.dev.SetExtent(gpu.Extent2D{Width: 1024, Height: 768})
	state = f.tick(t, state.Resize(1024, 768))
	require.False(t, state.Suspended())
	require.Equal(t, generation+1, f.chain.Generation())
	require.Equal(t, gpu.Extent2D{Width: 1024, Height: 768}, f.chain.Surface().Extent)
	require.Equal(t, uint64(2), state.Frame)

	f.destroy(t)
}

func TestUploadsAreCopiedBeforeTheDraw(t *testing.T) {
	f := newFixture(t)

	instances, err := resource.NewBuffer(f.dev, f.arena, resource.BufferDesc{
		BufferDesc: gpu.BufferDesc{
			Label: "instances",
			Size:  4 * scene.InstanceStride,
			Usage: gpu.BufferUsageVertex | gpu.BufferUsageTransferDst,
		},
		Class: gpu.MemoryClassDeviceLocal,
	})
	require.NoError(t, err)

	var want []byte
	f.app.EXPECT().Update(gomock.Any()).DoAndReturn(func(ctx *loop.FrameContext) error {
		transforms := scene.Spin(scene.Grid(2, 1)[:4], float32(ctx.Frame))
		want = make([]byte, 4*scene.InstanceStride)
		scene.EncodeInstances(want, transforms)
		require.NoError(t, ctx.Upload(instances.Handle, 0, want))
		require.Len(t, ctx.Copies(), 1)
		return nil
	}).Times(3)

	var state loop.State
	for i := 0; i < 3; i++ {
		state = f.tick(t, state)

		subs := f.dev.Submissions()
		last := subs[len(subs)-1]
		require.Len(t, last.CommandBuffers, 2, "transfer buffer precedes the draw buffer")
		require.Equal(t, f.rec.Buffer(f.dev.Presents()[i].ImageIndex), last.CommandBuffers[1])

		got, err := f.dev.ReadBuffer(instances.Handle)
		require.NoError(t, err)
		require.True(t, bytes.Equal(want, got[:len(want)]))
	}
	require.Equal(t, uint64(3), state.Frame)

	instances.Destroy()
	f.destroy(t)
}

func TestUploadLargerThanRingIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.app.EXPECT().Update(gomock.Any()).DoAndReturn(func(ctx *loop.FrameContext) error {
		err := ctx.Upload(gpu.Buffer(1), 0, make([]byte, 2*memory.MiB))
		require.ErrorIs(t, err, core.ErrRingFull)
		require.False(t, core.IsFatal(err))
		require.Empty(t, ctx.Copies())
		return nil
	})

	state := f.tick(t, loop.State{})
	require.Equal(t, uint64(1), state.Frame)
	subs := f.dev.Submissions()
	require.Len(t, subs[0].CommandBuffers, 1)

	f.destroy(t)
}

func TestFailedUpdateDoesNotStallNextTick(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("scene exploded")
	gomock.InOrder(
		f.app.EXPECT().Update(gomock.Any()).DoAndReturn(func(ctx *loop.FrameContext) error {
			// Staged before the failure; the copy must not reach the GPU.
			require.NoError(t, ctx.Upload(gpu.Buffer(1), 0, make([]byte, 256)))
			return boom
		}),
		f.app.EXPECT().Update(gomock.Any()).Return(nil).Times(frame.DefaultFramesInFlight+1),
	)

	state, err := f.loop.Tick(loop.State{}, dt)
	require.ErrorIs(t, err, boom)
	require.False(t, core.IsFatal(err))
	require.Equal(t, uint64(1), state.Frame)

	// The recorded draw still went out, so the slot's fence and semaphores complete.
	subs := f.dev.Submissions()
	require.Len(t, subs, 1)
	require.Equal(t, []gpu.CommandBuffer{f.rec.Buffer(f.dev.Presents()[0].ImageIndex)}, subs[0].CommandBuffers)
	require.Len(t, f.dev.Presents(), 1)

	// Every slot, the failed one included, is waited on and reused.
	for i := 0; i <= frame.DefaultFramesInFlight; i++ {
		state = f.tick(t, state)
	}
	require.Equal(t, uint64(frame.DefaultFramesInFlight+2), state.Frame)
	require.Len(t, f.dev.Presents(), frame.DefaultFramesInFlight+2)
	require.Zero(t, f.staging.Ring().Used(), "the failed frame released its staging space")

	f.destroy(t)
}
