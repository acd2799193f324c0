package swapchain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/gpu/sim"
	"github.com/spaghettifunk/prism/engine/renderer/memory"
)

// commandBuffers allocates one command buffer per swapchain image.
type commandBuffers struct {
	dev     gpu.Backend
	buffers []gpu.CommandBuffer
	creates int
}

func (c *commandBuffers) Name() string { return "command-buffers" }

func (c *commandBuffers) Create(t *Target, destroy *DestroyList) error {
	cbs, err := c.dev.AllocateCommandBuffers(t.Surface.ImageCount())
	if err != nil {
		return err
	}
	c.buffers = cbs
	c.creates++
	destroy.Push("command-buffers", "graphics", func() {
		c.dev.FreeCommandBuffers(cbs)
	})
	return nil
}

type recordingDependent struct {
	name  string
	order *[]string
}

func (r recordingDependent) Name() string { return r.name }

func (r recordingDependent) Create(t *Target, destroy *DestroyList) error {
	*r.order = append(*r.order, r.name)
	destroy.Push("test", r.name, func() {
		*r.order = append(*r.order, "~"+r.name)
	})
	return nil
}

func newManager(t *testing.T, opts sim.Options, mopts Options) (*sim.Device, *memory.Arena, *Manager) {
	t.Helper()
	dev := sim.New(opts)
	arena, err := memory.NewArena(dev, memory.ArenaConfig{ChunkSize: 64 * memory.MiB})
	require.NoError(t, err)
	return dev, arena, NewManager(dev, arena, mopts)
}

func TestChooseSurfaceFormat(t *testing.T) {
	preferred := gpu.SurfaceFormat{Format: gpu.FormatB8G8R8A8Srgb, ColorSpace: gpu.ColorSpaceSrgbNonlinear}
	other := gpu.SurfaceFormat{Format: gpu.FormatR8G8B8A8Unorm, ColorSpace: gpu.ColorSpaceSrgbNonlinear}

	require.Equal(t, preferred, ChooseSurfaceFormat([]gpu.SurfaceFormat{other, preferred}))
	require.Equal(t, other, ChooseSurfaceFormat([]gpu.SurfaceFormat{other}))
}

func TestChoosePresentMode(t *testing.T) {
	require.Equal(t, gpu.PresentModeImmediate, ChoosePresentMode(
		[]gpu.PresentMode{gpu.PresentModeFifo, gpu.PresentModeImmediate}, gpu.PresentModeImmediate))
	require.Equal(t, gpu.PresentModeMailbox, ChoosePresentMode(
		[]gpu.PresentMode{gpu.PresentModeFifo, gpu.PresentModeMailbox}, gpu.PresentModeImmediate))
	require.Equal(t, gpu.PresentModeFifo, ChoosePresentMode(
		[]gpu.PresentMode{gpu.PresentModeFifo}, gpu.PresentModeMailbox))
}

func TestChooseExtent(t *testing.T) {
	caps := gpu.SurfaceCapabilities{
		CurrentExtent: gpu.Extent2D{Width: gpu.ExtentUndefined, Height: gpu.ExtentUndefined},
		MinExtent:     gpu.Extent2D{Width: 16, Height: 16},
		MaxExtent:     gpu.Extent2D{Width: 1920, Height: 1080},
	}
	require.Equal(t, gpu.Extent2D{Width: 1920, Height: 16}, ChooseExtent(caps, gpu.Extent2D{Width: 4000, Height: 2}))

	caps.CurrentExtent = gpu.Extent2D{Width: 640, Height: 480}
	require.Equal(t, gpu.Extent2D{Width: 640, Height: 480}, ChooseExtent(caps, gpu.Extent2D{Width: 1, Height: 1}))

	// Minimized: the surface reports no area, whatever the minimum.
	caps.CurrentExtent = gpu.Extent2D{}
	require.True(t, ChooseExtent(caps, gpu.Extent2D{Width: 1024, Height: 768}).IsZero())
}

func TestChooseImageCount(t *testing.T) {
	require.Equal(t, uint32(3), ChooseImageCount(gpu.SurfaceCapabilities{MinImageCount: 2}))
	require.Equal(t, uint32(3), ChooseImageCount(gpu.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 4}))
	require.Equal(t, uint32(2), ChooseImageCount(gpu.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 2}))
}

func TestChooseSamples(t *testing.T) {
	require.Equal(t, gpu.SampleCount1, ChooseSamples(gpu.SampleCount1, gpu.SampleCount8))
	require.Equal(t, gpu.SampleCount4, ChooseSamples(gpu.SampleCount4, gpu.SampleCount8))
	require.Equal(t, gpu.SampleCount2, ChooseSamples(gpu.SampleCount8, gpu.SampleCount2))
	require.Equal(t, gpu.SampleCount4, ChooseSamples(gpu.SampleCount(6), gpu.SampleCount8))
}

func TestDestroyListRunsInReverse(t *testing.T) {
	var (
		l   DestroyList
		ran []string
	)
	for _, name := range []string{"a", "b", "c"} {
		name := name
		l.Push("test", name, func() { ran = append(ran, name) })
	}
	require.Equal(t, 3, l.Len())

	entries := l.Teardown()
	require.Equal(t, []string{"c", "b", "a"}, ran)
	require.Len(t, entries, 3)
	require.Equal(t, "c", entries[0].Label)
	require.Zero(t, l.Len())
	require.Empty(t, l.Teardown())
}

func TestCreateBuildsEverything(t *testing.T) {
	dev, _, m := newManager(t, sim.DefaultOptions(), Options{Samples: gpu.SampleCount4, PresentMode: gpu.PresentModeMailbox, MaxImages: 3})
	cbs := &commandBuffers{dev: dev}
	m.Register(StageCommandBuffers, cbs)

	require.NoError(t, m.Create(gpu.Extent2D{Width: 800, Height: 600}))
	require.Equal(t, StateLive, m.State())
	require.Equal(t, uint64(1), m.Generation())

	target := m.Target()
	require.Equal(t, 3, target.Surface.ImageCount())
	require.Equal(t, gpu.FormatB8G8R8A8Srgb, target.Surface.Format.Format)
	require.Equal(t, gpu.PresentModeMailbox, target.Surface.PresentMode)
	require.Equal(t, gpu.SampleCount4, target.Samples)
	require.NotNil(t, target.Color)
	require.Equal(t, gpu.FormatD24UnormS8Uint, target.DepthFormat)
	require.Len(t, target.Framebuffers, 3)
	require.Len(t, cbs.buffers, 3)

	attachments := target.Attachments(1)
	require.Equal(t, []gpu.ImageView{target.Color.View, target.Depth.View, target.Surface.Views[1]}, attachments)
	require.Empty(t, dev.Violations())
}

func TestCreateWithoutMSAA(t *testing.T) {
	dev, _, m := newManager(t, sim.DefaultOptions(), Options{MaxImages: 3})
	require.NoError(t, m.Create(gpu.Extent2D{Width: 800, Height: 600}))

	target := m.Target()
	require.Nil(t, target.Color)
	require.Equal(t, []gpu.ImageView{target.Surface.Views[0], target.Depth.View}, target.Attachments(0))
	require.Equal(t, 1, dev.Live(sim.KindImage))
}

func TestZeroExtentIsDeferred(t *testing.T) {
	_, _, m := newManager(t, sim.DefaultOptions(), Options{MaxImages: 3})

	err := m.Create(gpu.Extent2D{Width: 0, Height: 600})
	require.ErrorIs(t, err, core.ErrSwapchainBooting)
	require.Equal(t, StateUninitialized, m.State())

	require.NoError(t, m.Create(gpu.Extent2D{Width: 800, Height: 600}))
	generation := m.Generation()

	err = m.Rebuild(gpu.Extent2D{})
	require.ErrorIs(t, err, core.ErrSwapchainBooting)
	require.Equal(t, StateLive, m.State())
	require.Equal(t, generation, m.Generation())
}

// minimizableDevice reports a surface without area once the call budget runs out.
type minimizableDevice struct {
	*sim.Device
	// capability queries answered normally before the surface reports 0x0, -1 for never
	callsLeft int
}

func (d *minimizableDevice) SurfaceCapabilities() (gpu.SurfaceCapabilities, error) {
	caps, err := d.Device.SurfaceCapabilities()
	if d.callsLeft == 0 {
		caps.CurrentExtent = gpu.Extent2D{}
		return caps, err
	}
	if d.callsLeft > 0 {
		d.callsLeft--
	}
	return caps, err
}

func TestRebuildOnMinimizedSurfaceKeepsSwapchain(t *testing.T) {
	dev := &minimizableDevice{Device: sim.New(sim.DefaultOptions()), callsLeft: -1}
	arena, err := memory.NewArena(dev, memory.ArenaConfig{ChunkSize: 64 * memory.MiB})
	require.NoError(t, err)
	m := NewManager(dev, arena, Options{Samples: gpu.SampleCount4, MaxImages: 3})
	m.Register(StageCommandBuffers, &commandBuffers{dev: dev})
	require.NoError(t, m.Create(gpu.Extent2D{Width: 800, Height: 600}))
	baseline := dev.LiveByKind()
	generation := m.Generation()

	// The resize event had an area, the surface does not.
	dev.callsLeft = 0
	err = m.Rebuild(gpu.Extent2D{Width: 1024, Height: 768})
	require.ErrorIs(t, err, core.ErrSwapchainBooting)
	require.False(t, core.IsFatal(err))
	require.Equal(t, StateLive, m.State())
	require.NotNil(t, m.Surface())
	require.Equal(t, generation, m.Generation())
	require.Equal(t, baseline, dev.LiveByKind())

	dev.callsLeft = -1
	dev.SetExtent(gpu.Extent2D{Width: 1024, Height: 768})
	require.NoError(t, m.Rebuild(gpu.Extent2D{Width: 1024, Height: 768}))
	require.Equal(t, StateLive, m.State())
	require.Equal(t, gpu.Extent2D{Width: 1024, Height: 768}, m.Surface().Extent)

	require.NoError(t, m.Destroy())
	arena.Destroy()
	require.Zero(t, dev.LiveTotal(), "%v", dev.LiveByKind())
	require.Empty(t, dev.Violations())
}

func TestRebuildRetriesAfterSurfaceLostAreaMidBuild(t *testing.T) {
	dev := &minimizableDevice{Device: sim.New(sim.DefaultOptions()), callsLeft: -1}
	arena, err := memory.NewArena(dev, memory.ArenaConfig{ChunkSize: 64 * memory.MiB})
	require.NoError(t, err)
	m := NewManager(dev, arena, Options{Samples: gpu.SampleCount4, MaxImages: 3})
	m.Register(StageCommandBuffers, &commandBuffers{dev: dev})
	require.NoError(t, m.Create(gpu.Extent2D{Width: 800, Height: 600}))

	// The pre-teardown check passes, the swapchain creation then sees 0x0.
	dev.callsLeft = 1
	err = m.Rebuild(gpu.Extent2D{Width: 1024, Height: 768})
	require.ErrorIs(t, err, core.ErrSwapchainBooting)
	require.False(t, core.IsFatal(err))
	require.Equal(t, StateResizing, m.State())
	require.Nil(t, m.Surface())
	require.Zero(t, dev.Live(sim.KindSwapchain))

	// Minimized again: still deferred, nothing to tear down.
	dev.callsLeft = 0
	err = m.Rebuild(gpu.Extent2D{Width: 1024, Height: 768})
	require.ErrorIs(t, err, core.ErrSwapchainBooting)
	require.Equal(t, StateResizing, m.State())

	dev.callsLeft = -1
	dev.SetExtent(gpu.Extent2D{Width: 1024, Height: 768})
	require.NoError(t, m.Rebuild(gpu.Extent2D{Width: 1024, Height: 768}))
	require.Equal(t, StateLive, m.State())
	require.Equal(t, gpu.Extent2D{Width: 1024, Height: 768}, m.Surface().Extent)

	require.NoError(t, m.Destroy())
	arena.Destroy()
	require.Zero(t, dev.LiveTotal(), "%v", dev.LiveByKind())
	require.Empty(t, dev.Violations())
}

func TestRebuildIsIdempotent(t *testing.T) {
	dev, arena, m := newManager(t, sim.DefaultOptions(), Options{Samples: gpu.SampleCount4, MaxImages: 3})
	m.Register(StageCommandBuffers, &commandBuffers{dev: dev})
	extent := gpu.Extent2D{Width: 800, Height: 600}

	require.NoError(t, m.Create(extent))
	baseline := dev.LiveByKind()
	format := m.Surface().Format
	count := m.Surface().ImageCount()
	used := arena.Used(gpu.MemoryClassDeviceLocal)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Rebuild(extent))
		require.Equal(t, baseline, dev.LiveByKind())
		require.Equal(t, format, m.Surface().Format)
		require.Equal(t, count, m.Surface().ImageCount())
	}
	// Same size targets land in the region reserved by the first create.
	require.Equal(t, used, arena.Used(gpu.MemoryClassDeviceLocal))
	require.Equal(t, uint64(4), m.Generation())
	require.Empty(t, dev.Violations())
}

func TestResizeFreesOldCommandBuffersFirst(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.MinImageCount = 1
	opts.MaxImageCount = 4
	dev, _, m := newManager(t, opts, Options{MaxImages: 3})
	cbs := &commandBuffers{dev: dev}
	m.Register(StageCommandBuffers, cbs)

	require.NoError(t, m.Create(gpu.Extent2D{Width: 800, Height: 600}))
	require.Equal(t, 2, m.Surface().ImageCount())
	old := cbs.buffers

	dev.SetExtent(gpu.Extent2D{Width: 1024, Height: 768})
	_, status, err := m.Acquire(gpu.NullHandle)
	require.NoError(t, err)
	require.Equal(t, gpu.StatusOutOfDate, status)

	require.NoError(t, m.Rebuild(gpu.Extent2D{Width: 1024, Height: 768}))
	require.Equal(t, gpu.Extent2D{Width: 1024, Height: 768}, m.Surface().Extent)
	require.Len(t, cbs.buffers, 2)
	require.Equal(t, 2, cbs.creates)

	lastFree, firstAlloc := -1, -1
	for _, e := range dev.Events() {
		if e.Kind != sim.KindCommandBuffer {
			continue
		}
		for _, cb := range old {
			if e.Op == sim.EventDestroy && e.Handle == gpu.Handle(cb) {
				lastFree = e.Seq
			}
		}
		for _, cb := range cbs.buffers {
			if e.Op == sim.EventCreate && e.Handle == gpu.Handle(cb) && firstAlloc < 0 {
				firstAlloc = e.Seq
			}
		}
	}
	require.GreaterOrEqual(t, lastFree, 0)
	require.Less(t, lastFree, firstAlloc)
	require.Equal(t, len(cbs.buffers), dev.Live(sim.KindCommandBuffer))
	require.Empty(t, dev.Violations())
}

func TestResizeRebuildsFramebuffers(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.MaxImageCount = 0
	opts.MinImageCount = 2
	dev, _, m := newManager(t, opts, Options{MaxImages: 3})

	require.NoError(t, m.Create(gpu.Extent2D{Width: 800, Height: 600}))
	require.Equal(t, 3, m.Surface().ImageCount())

	dev.SetExtent(gpu.Extent2D{Width: 1024, Height: 768})
	require.NoError(t, m.Rebuild(gpu.Extent2D{Width: 1024, Height: 768}))
	require.Equal(t, 3, m.Surface().ImageCount())
	require.Len(t, m.Target().Framebuffers, 3)
}

func TestImageCountAboveMaxImagesFails(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.MinImageCount = 4
	opts.MaxImageCount = 6
	_, _, m := newManager(t, opts, Options{MaxImages: 3})

	err := m.Create(gpu.Extent2D{Width: 800, Height: 600})
	require.Error(t, err)
	require.True(t, core.IsFatal(err))
}

func TestDependentsRunInStageOrder(t *testing.T) {
	dev, _, m := newManager(t, sim.DefaultOptions(), Options{MaxImages: 3})
	var order []string
	m.Register(StageCommandBuffers, recordingDependent{"commands", &order})
	m.Register(StagePipelines, recordingDependent{"pipeline", &order})
	m.Register(StageUniforms, recordingDependent{"uniforms", &order})
	m.Register(StageDescriptors, recordingDependent{"descriptors", &order})

	require.NoError(t, m.Create(gpu.Extent2D{Width: 800, Height: 600}))
	require.Equal(t, []string{"uniforms", "descriptors", "pipeline", "commands"}, order)

	order = nil
	require.NoError(t, m.Destroy())
	require.Equal(t, []string{"~commands", "~pipeline", "~descriptors", "~uniforms"}, order)

	kinds := make([]string, 0, len(m.LastTeardown()))
	for _, e := range m.LastTeardown() {
		kinds = append(kinds, e.Kind)
	}
	require.Equal(t, "swapchain", kinds[len(kinds)-1])
	require.Empty(t, dev.Violations())
}

func TestDestroyEmptiesLedger(t *testing.T) {
	dev, arena, m := newManager(t, sim.DefaultOptions(), Options{Samples: gpu.SampleCount8, MaxImages: 3})
	m.Register(StageCommandBuffers, &commandBuffers{dev: dev})
	require.NoError(t, m.Create(gpu.Extent2D{Width: 800, Height: 600}))
	require.NoError(t, m.Rebuild(gpu.Extent2D{Width: 800, Height: 600}))

	require.NoError(t, m.Destroy())
	require.NoError(t, m.Destroy())
	require.Equal(t, StateDestroyed, m.State())

	arena.Destroy()
	require.Zero(t, dev.LiveTotal(), "%v", dev.LiveByKind())
	require.Empty(t, dev.Violations())

	err := m.Rebuild(gpu.Extent2D{Width: 800, Height: 600})
	require.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestAcquireAndPresent(t *testing.T) {
	dev, _, m := newManager(t, sim.DefaultOptions(), Options{MaxImages: 3})
	require.NoError(t, m.Create(gpu.Extent2D{Width: 800, Height: 600}))

	sem, err := dev.CreateSemaphore()
	require.NoError(t, err)
	defer dev.DestroySemaphore(sem)

	index, status, err := m.Acquire(sem)
	require.NoError(t, err)
	require.Equal(t, gpu.StatusSuccess, status)

	status, err = m.Present(index, sem)
	require.NoError(t, err)
	require.Equal(t, gpu.StatusSuccess, status)
	require.Len(t, dev.Presents(), 1)

	dev.ScriptPresent(gpu.StatusSuboptimal)
	index, _, err = m.Acquire(sem)
	require.NoError(t, err)
	status, err = m.Present(index, sem)
	require.NoError(t, err)
	require.Equal(t, gpu.StatusSuboptimal, status)
}
