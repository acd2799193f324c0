package testbed

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/loop"
	"github.com/spaghettifunk/prism/engine/renderer/scene"
)

const (
	groundTexture = "textures/ground.png"

	moveSpeed = float32(5.0)
	turnSpeed = float32(1.5)
)

type TestGame struct {
	*engine.Game
}

// spinningModel is an instanced model whose transforms are rewritten every frame.
type spinningModel struct {
	model *renderer.Model
	base  []mgl32.Mat4
	// +1 or -1
	direction float32
	data      []byte
}

type gameState struct {
	engine *engine.Engine
	input  *core.Input
	models []*spinningModel

	WorldCamera *scene.Camera
	uniform     *scene.FrameUniform
	scratch     []byte
	elapsed     time.Duration
	frames      uint64
	paused      bool
}

func NewTestGame(cfg *config.Config) *TestGame {
	if cfg == nil {
		cfg = config.Default()
	}
	state := &gameState{
		WorldCamera: scene.NewCamera(),
		scratch:     make([]byte, scene.FrameUniformSize),
	}
	tg := &TestGame{
		Game: &engine.Game{
			Config: cfg,
			State:  state,
		},
	}
	tg.FnBoot = tg.Boot
	tg.FnUpdate = tg.Update
	tg.FnFrame = tg.Frame
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Boot(e *engine.Engine) error {
	state := g.state()
	state.engine = e
	state.input = e.Input()

	if img, err := e.Assets().LoadImage(groundTexture); err == nil {
		tex, err := e.Renderer().Uploader().UploadImage("ground", img)
		if err != nil {
			return err
		}
		e.Renderer().SetTexture(tex)
	} else {
		core.LogInfo("no %s, the ground uses the default texture", groundTexture)
	}
	return g.Populate(e.Renderer())
}

// Populate uploads the demo scene: two grids of instanced cubes, a pillar and the ground.
func (g *TestGame) Populate(r *renderer.Renderer) error {
	state := g.state()
	up := r.Uploader()

	for i, grid := range []struct {
		label   string
		size    float32
		n       int
		spacing float32
		offset  mgl32.Vec3
	}{
		{"cubes", 0.5, 4, 1.5, mgl32.Vec3{-4, 3, 0}},
		{"small-cubes", 0.25, 3, 1.0, mgl32.Vec3{4, 2, 0}},
	} {
		mesh, err := up.UploadMesh(grid.label, assets.Cube(grid.size))
		if err != nil {
			return err
		}
		transforms := scene.Grid(grid.n, grid.spacing)
		shift := mgl32.Translate3D(grid.offset.X(), grid.offset.Y(), grid.offset.Z())
		for j := range transforms {
			transforms[j] = shift.Mul4(transforms[j])
		}
		direction := float32(1)
		// Alternate grids start rotated and spin the other way.
		if i%2 == 1 {
			transforms = scene.Spin(transforms, mgl32.DegToRad(45))
			direction = -1
		}
		model, err := r.AddModel(grid.label, renderer.MaterialInstanced, mesh, transforms)
		if err != nil {
			return err
		}
		state.models = append(state.models, &spinningModel{
			model:     model,
			base:      transforms,
			direction: direction,
			data:      make([]byte, len(transforms)*scene.InstanceStride),
		})
	}

	pillar, err := up.UploadMesh("pillar", assets.Cube(1))
	if err != nil {
		return err
	}
	pillarTransform := mgl32.Translate3D(0, 1.5, -6).Mul4(mgl32.Scale3D(1, 3, 1))
	if _, err := r.AddModel("pillar", renderer.MaterialStatic, pillar, []mgl32.Mat4{pillarTransform}); err != nil {
		return err
	}

	ground, err := up.UploadMesh("ground", assets.Plane(40, 20))
	if err != nil {
		return err
	}
	if _, err := r.AddModel("ground", renderer.MaterialGround, ground, []mgl32.Mat4{mgl32.Ident4()}); err != nil {
		return err
	}

	uniform, err := scene.NewFrameUniform(renderer.OptionsFromConfig(g.Config).Lights)
	if err != nil {
		return err
	}
	state.uniform = uniform
	if err := g.addLights(); err != nil {
		return err
	}

	state.WorldCamera.SetPosition(mgl32.Vec3{0, 4, 14})
	state.WorldCamera.Pitch(mgl32.DegToRad(-12))
	return nil
}

func (g *TestGame) addLights() error {
	u := g.state().uniform
	lights := []scene.Light{
		scene.NewDirectionalLight(
			mgl32.Vec3{-0.3, 1, 0.5},
			mgl32.Vec3{0.08, 0.08, 0.1},
			mgl32.Vec3{0.6, 0.6, 0.55},
			mgl32.Vec3{0.4, 0.4, 0.4},
		),
		scene.NewPointLight(
			mgl32.Vec3{-4, 6, 3},
			mgl32.Vec3{0.02, 0.0, 0.0},
			mgl32.Vec3{0.9, 0.3, 0.2},
			mgl32.Vec3{1, 0.6, 0.5},
		),
		scene.NewPointLight(
			mgl32.Vec3{4, 4, 3},
			mgl32.Vec3{0.0, 0.0, 0.02},
			mgl32.Vec3{0.2, 0.4, 0.9},
			mgl32.Vec3{0.5, 0.6, 1},
		),
	}
	for _, l := range lights {
		if err := u.AddLight(l); err != nil {
			// A config with fewer lights than the demo is fine.
			if errors.Is(err, core.ErrLightCapExceeded) {
				core.LogWarn("light dropped: %s", err)
				continue
			}
			return err
		}
	}
	return nil
}

// Update moves the camera from the keyboard. Time stops while paused.
func (g *TestGame) Update(deltaTime time.Duration) error {
	state := g.state()
	if state.input != nil {
		g.handleInput(deltaTime)
	}
	if !state.paused {
		state.elapsed += deltaTime
	}
	return nil
}

func (g *TestGame) handleInput(deltaTime time.Duration) {
	state := g.state()
	in := state.input
	cam := state.WorldCamera
	dt := float32(deltaTime.Seconds())

	if in.KeyPressed(core.KEY_P) {
		state.paused = !state.paused
		core.LogInfo("animation paused: %t", state.paused)
	}
	if in.KeyPressed(core.KEY_R) {
		cam.Reset()
		cam.SetPosition(mgl32.Vec3{0, 4, 14})
		cam.SetAspect(state.engine.GetFramebufferSize())
	}
	if in.KeyPressed(core.KEY_F1) {
		// Rebuild everything and reload the shaders from disk.
		state.engine.Renderer().RequestRebuild()
	}

	if in.IsKeyDown(core.KEY_W) {
		cam.MoveForward(moveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_S) {
		cam.MoveBackward(moveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_A) {
		cam.MoveLeft(moveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_D) {
		cam.MoveRight(moveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_SPACE) || in.IsKeyDown(core.KEY_E) {
		cam.MoveUp(moveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_Q) {
		cam.MoveDown(moveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_LEFT) {
		cam.Yaw(turnSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_RIGHT) {
		cam.Yaw(-turnSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_UP) {
		cam.Pitch(turnSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_DOWN) {
		cam.Pitch(-turnSpeed * dt)
	}
	if in.IsButtonDown(core.BUTTON_RIGHT) {
		dx, dy := in.MouseDelta()
		cam.Yaw(-float32(dx) * 0.005)
		cam.Pitch(-float32(dy) * 0.005)
	}
}

// Frame writes the camera, the lights and the animation time into the claimed image's
// uniform block, then uploads the spun instance transforms of the cube grids.
func (g *TestGame) Frame(ctx *loop.FrameContext) error {
	state := g.state()
	u := state.uniform
	u.SetCamera(state.WorldCamera)
	u.Time = float32(state.elapsed.Seconds())

	if err := u.Encode(state.scratch); err != nil {
		return err
	}
	if err := ctx.WriteUniform(state.scratch); err != nil {
		return err
	}

	angle := float32(state.elapsed.Seconds())
	for _, m := range state.models {
		scene.EncodeInstances(m.data, spinInstances(m.base, angle*m.direction))
		if err := ctx.Upload(m.model.Instances.Handle, 0, m.data); err != nil {
			// The cubes keep last frame's pose.
			if errors.Is(err, core.ErrRingFull) {
				continue
			}
			return err
		}
	}
	state.frames++
	return nil
}

// spinInstances turns every instance around its own Y axis, each at a slightly different rate.
func spinInstances(base []mgl32.Mat4, angle float32) []mgl32.Mat4 {
	out := make([]mgl32.Mat4, len(base))
	for i, m := range base {
		rate := 0.5 + 0.05*float32(i%8)
		out[i] = m.Mul4(mgl32.HomogRotate3DY(angle * rate))
	}
	return out
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	g.state().WorldCamera.SetAspect(width, height)
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("testbed rendered %d frame(s)", g.state().frames)
	return nil
}

// Frames counts the frames whose uniforms were written.
func (g *TestGame) Frames() uint64 {
	return g.state().frames
}

func (g *TestGame) Camera() *scene.Camera {
	return g.state().WorldCamera
}
