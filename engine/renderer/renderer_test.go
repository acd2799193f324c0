package renderer_test

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/gpu/sim"
	"github.com/spaghettifunk/prism/engine/renderer/loop"
	"github.com/spaghettifunk/prism/engine/renderer/memory"
	"github.com/spaghettifunk/prism/engine/renderer/scene"
	"github.com/spaghettifunk/prism/engine/renderer/swapchain"
)

const dt = 16 * time.Millisecond

func spirv() []byte {
	code := make([]byte, 20)
	binary.LittleEndian.PutUint32(code, 0x07230203)
	return code
}

type shaderSource struct {
	mu     sync.Mutex
	loads  map[string]int
	broken bool
}

func (s *shaderSource) LoadShader(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loads == nil {
		s.loads = map[string]int{}
	}
	s.loads[name]++
	if s.broken {
		return []byte("not a shader"), nil
	}
	return spirv(), nil
}

func (s *shaderSource) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.loads {
		n += c
	}
	return n
}

type appFunc func(ctx *loop.FrameContext) error

func (f appFunc) Update(ctx *loop.FrameContext) error {
	return f(ctx)
}

func idle(*loop.FrameContext) error {
	return nil
}

func testOptions() renderer.Options {
	opts := renderer.DefaultOptions()
	opts.ArenaChunk = 64 * memory.MiB
	opts.StagingSize = 4 * memory.MiB
	return opts
}

func newRenderer(t *testing.T, shaders *shaderSource) (*sim.Device, *renderer.Renderer) {
	t.Helper()
	dev := sim.New(sim.DefaultOptions())
	r, err := renderer.New(dev, shaders, testOptions())
	require.NoError(t, err)
	return dev, r
}

func shutdown(t *testing.T, dev *sim.Device, r *renderer.Renderer) {
	t.Helper()
	require.NoError(t, r.Shutdown())
	require.Zero(t, dev.LiveTotal(), "%v", dev.LiveByKind())
	require.Empty(t, dev.Violations())
}

func addScene(t *testing.T, r *renderer.Renderer) {
	t.Helper()
	up := r.Uploader()

	pillar, err := up.UploadMesh("pillar", assets.Cube(1))
	require.NoError(t, err)
	_, err = r.AddModel("pillar", renderer.MaterialStatic, pillar, []mgl32.Mat4{mgl32.Translate3D(0, 2, 0)})
	require.NoError(t, err)

	ground, err := up.UploadMesh("ground", assets.Plane(20, 10))
	require.NoError(t, err)
	_, err = r.AddModel("ground", renderer.MaterialGround, ground, []mgl32.Mat4{mgl32.Ident4()})
	require.NoError(t, err)

	for _, label := range []string{"cubes", "more-cubes"} {
		cube, err := up.UploadMesh(label, assets.Cube(0.5))
		require.NoError(t, err)
		_, err = r.AddModel(label, renderer.MaterialInstanced, cube, scene.Grid(2, 1.5))
		require.NoError(t, err)
	}
}

func TestDrawsFollowMaterialOrder(t *testing.T) {
	shaders := &shaderSource{}
	dev, r := newRenderer(t, shaders)
	addScene(t, r)

	require.NoError(t, r.Start(gpu.Extent2D{Width: 800, Height: 600}, appFunc(idle)))
	require.Equal(t, 6, shaders.total(), "two shaders per material")
	require.Zero(t, r.Uploader().Pending())

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Tick(dt))
	}
	require.Equal(t, uint64(3), r.State().Frame)
	require.Len(t, dev.Presents(), 3)

	buffers := r.Recorder().Buffers()
	require.Len(t, buffers, r.Target().Surface.ImageCount())
	uniforms := map[gpu.Buffer]bool{}
	for _, cb := range buffers {
		draws, err := sim.ValidateSequence(dev.Commands(cb))
		require.NoError(t, err)
		require.Len(t, draws, 4)

		labels := make([]string, len(draws))
		for j, d := range draws {
			labels[j] = dev.PipelineLabel(d.Pipeline)
			require.Len(t, d.VertexBuffers, 2)
			require.Len(t, d.Sets, 1)
		}
		require.Equal(t, []string{
			renderer.MaterialInstanced,
			renderer.MaterialInstanced,
			renderer.MaterialStatic,
			renderer.MaterialGround,
		}, labels)
		require.Equal(t, uint32(8), draws[0].InstanceCount)
		require.Equal(t, uint32(1), draws[3].InstanceCount)

		// Every image draws with its own uniform buffer and the default texture.
		writes := dev.DescriptorWrites(draws[0].Sets[0])
		require.Equal(t, gpu.DescriptorTypeUniformBuffer, writes[0].Type)
		uniforms[writes[0].Buffer] = true
		require.NotEqual(t, gpu.ImageView(gpu.NullHandle), writes[1].View)
	}
	require.Len(t, uniforms, len(buffers))

	shutdown(t, dev, r)
}

func TestResizeEventRebuildsSwapchain(t *testing.T) {
	dev, r := newRenderer(t, &shaderSource{})
	addScene(t, r)
	bus := core.NewEventBus()
	r.Listen(bus)

	require.NoError(t, r.Start(gpu.Extent2D{Width: 800, Height: 600}, appFunc(idle)))
	require.NoError(t, r.Tick(dt))
	generation := r.Swapchain().Generation()

	dev.SetExtent(gpu.Extent2D{Width: 1024, Height: 768})
	require.False(t, bus.Fire(nil, core.EventContext{Code: core.EVENT_CODE_RESIZED, Width: 1024, Height: 768}))
	// Nothing changes before the next tick.
	require.Equal(t, gpu.Extent2D{Width: 800, Height: 600}, r.Target().Surface.Extent)

	require.NoError(t, r.Tick(dt))
	require.Equal(t, 1, r.Rebuilds())
	require.Equal(t, generation+1, r.Swapchain().Generation())
	require.Equal(t, gpu.Extent2D{Width: 1024, Height: 768}, r.Target().Surface.Extent)

	r.Unlisten(bus)
	require.False(t, bus.Fire(nil, core.EventContext{Code: core.EVENT_CODE_RESIZED, Width: 10, Height: 10}))
	require.NoError(t, r.Tick(dt))
	require.Equal(t, 1, r.Rebuilds())

	shutdown(t, dev, r)
}

func TestShaderChangeReloadsPipelines(t *testing.T) {
	shaders := &shaderSource{}
	dev, r := newRenderer(t, shaders)
	addScene(t, r)
	bus := core.NewEventBus()
	r.Listen(bus)
	defer r.Unlisten(bus)

	require.NoError(t, r.Start(gpu.Extent2D{Width: 800, Height: 600}, appFunc(idle)))
	require.NoError(t, r.Tick(dt))
	require.Equal(t, 6, shaders.total())

	bus.Fire(nil, core.EventContext{Code: core.EVENT_CODE_SHADERS_CHANGED, Paths: []string{"shaders/phong.frag.spv"}})
	require.NoError(t, r.Tick(dt))
	require.Equal(t, 12, shaders.total())
	require.Equal(t, 1, r.Rebuilds())
	require.False(t, r.State().RebuildRequested)

	// The old pipelines went with the previous build.
	require.Equal(t, len(renderer.DefaultMaterials()), dev.Live(sim.KindPipeline))

	shutdown(t, dev, r)
}

func TestStartMinimizedDefersSwapchain(t *testing.T) {
	dev, r := newRenderer(t, &shaderSource{})
	addScene(t, r)

	frames := 0
	app := appFunc(func(*loop.FrameContext) error {
		frames++
		return nil
	})
	require.NoError(t, r.Start(gpu.Extent2D{}, app))
	require.True(t, r.Suspended())
	require.NoError(t, r.Tick(dt))
	require.Equal(t, swapchain.StateUninitialized, r.Swapchain().State())

	r.Resize(800, 600)
	require.NoError(t, r.Tick(dt))
	require.Equal(t, swapchain.StateLive, r.Swapchain().State())
	require.NoError(t, r.Tick(dt))
	require.Equal(t, 1, frames)

	shutdown(t, dev, r)
}

func TestInvalidShaderFailsStart(t *testing.T) {
	dev, r := newRenderer(t, &shaderSource{broken: true})
	addScene(t, r)

	err := r.Start(gpu.Extent2D{Width: 800, Height: 600}, appFunc(idle))
	require.Error(t, err)
	require.True(t, errors.Is(err, sim.ErrInvalidShader))

	shutdown(t, dev, r)
}

func TestAddModelRejectsUnknownMaterial(t *testing.T) {
	dev, r := newRenderer(t, &shaderSource{})

	mesh, err := r.Uploader().UploadMesh("cube", assets.Cube(1))
	require.NoError(t, err)
	_, err = r.AddModel("cube", "glass", mesh, []mgl32.Mat4{mgl32.Ident4()})
	require.Error(t, err)
	_, err = r.AddModel("cube", renderer.MaterialStatic, mesh, nil)
	require.Error(t, err)

	require.NoError(t, r.Uploader().Flush())
	mesh.Destroy()
	shutdown(t, dev, r)
}

func TestLightCapsAboveUniformCapacityAreFatal(t *testing.T) {
	opts := testOptions()
	opts.Lights.MaxPoint = scene.MaxLights + 1

	_, err := renderer.New(sim.New(sim.DefaultOptions()), &shaderSource{}, opts)
	require.Error(t, err)
	require.True(t, core.IsFatal(err))
	require.True(t, errors.Is(err, core.ErrLightCapExceeded))
}

func TestTickBeforeStart(t *testing.T) {
	dev, r := newRenderer(t, &shaderSource{})
	require.Error(t, r.Tick(dt))
	shutdown(t, dev, r)
}
