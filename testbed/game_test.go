package testbed

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/gpu/sim"
	"github.com/spaghettifunk/prism/engine/renderer/loop"
	"github.com/spaghettifunk/prism/engine/renderer/scene"
)

type stubShaders struct{}

func (stubShaders) LoadShader(string) ([]byte, error) {
	code := make([]byte, 20)
	binary.LittleEndian.PutUint32(code, 0x07230203)
	return code, nil
}

type frameFunc func(ctx *loop.FrameContext) error

func (f frameFunc) Update(ctx *loop.FrameContext) error {
	return f(ctx)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Renderer.Arena.ChunkMiB = 64
	cfg.Renderer.StagingMiB = 4
	return cfg
}

func TestSceneRendersOnSim(t *testing.T) {
	cfg := testConfig()
	dev := sim.New(sim.DefaultOptions())
	r, err := renderer.New(dev, stubShaders{}, renderer.OptionsFromConfig(cfg))
	require.NoError(t, err)

	g := NewTestGame(cfg)
	require.NoError(t, g.Populate(r))
	require.Len(t, r.Models(), 4)

	extent := gpu.Extent2D{Width: 800, Height: 600}
	require.NoError(t, g.OnResize(extent.Width, extent.Height))
	require.InDelta(t, 800.0/600.0, g.Camera().Aspect, 1e-6)

	require.NoError(t, r.Start(extent, frameFunc(g.Frame)))
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Update(16*time.Millisecond))
		require.NoError(t, r.Tick(16*time.Millisecond))
	}
	require.Equal(t, uint64(5), g.Frames())

	// Each frame copies the spun grids ahead of the draw.
	subs := dev.Submissions()
	for _, sub := range subs[len(subs)-5:] {
		require.Len(t, sub.CommandBuffers, 2)
	}
	angle := float32(g.state().elapsed.Seconds())
	require.Len(t, g.state().models, 2)
	for _, m := range g.state().models {
		want := make([]byte, len(m.base)*scene.InstanceStride)
		scene.EncodeInstances(want, spinInstances(m.base, angle*m.direction))
		got, err := dev.ReadBuffer(m.model.Instances.Handle)
		require.NoError(t, err)
		require.Equal(t, want, got[:len(want)], m.model.Label)
	}

	for _, cb := range r.Recorder().Buffers() {
		draws, err := sim.ValidateSequence(dev.Commands(cb))
		require.NoError(t, err)
		require.Len(t, draws, 4)
		require.Equal(t, uint32(64), draws[0].InstanceCount)
		require.Equal(t, uint32(27), draws[1].InstanceCount)
	}

	require.NoError(t, g.Shutdown())
	require.NoError(t, r.Shutdown())
	require.Zero(t, dev.LiveTotal(), "%v", dev.LiveByKind())
	require.Empty(t, dev.Violations())
}

func TestDemoLightsRespectCaps(t *testing.T) {
	cfg := testConfig()
	cfg.Renderer.Lights.MaxPoint = 1
	dev := sim.New(sim.DefaultOptions())
	r, err := renderer.New(dev, stubShaders{}, renderer.OptionsFromConfig(cfg))
	require.NoError(t, err)

	g := NewTestGame(cfg)
	require.NoError(t, g.Populate(r))
	directional, point := g.state().uniform.Lights()
	require.Len(t, directional, 1)
	require.Len(t, point, 1)

	require.NoError(t, r.Shutdown())
	require.Zero(t, dev.LiveTotal())
}

func TestSpinInstancesKeepsPositions(t *testing.T) {
	base := scene.Grid(2, 1)
	spun := spinInstances(base, 1.2)
	require.Len(t, spun, len(base))
	for i := range base {
		require.Equal(t, base[i].Col(3), spun[i].Col(3))
	}
	// Instances turn at different rates.
	require.NotEqual(t, spun[0].Col(0), spun[1].Col(0))
	require.Equal(t, base, spinInstances(base, 0))
}

func TestPauseStopsAnimationTime(t *testing.T) {
	g := NewTestGame(nil)
	require.NoError(t, g.Update(time.Second))
	require.Equal(t, time.Second, g.state().elapsed)

	g.state().paused = true
	require.NoError(t, g.Update(time.Second))
	require.Equal(t, time.Second, g.state().elapsed)
}
