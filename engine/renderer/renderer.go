// Package renderer wires the rendering core together: arena, staging, swapchain stages,
// command recorder, frame synchronizer and the frame loop, over any gpu.Backend.
package renderer

import (
	"image/color"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/frame"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/loop"
	"github.com/spaghettifunk/prism/engine/renderer/memory"
	"github.com/spaghettifunk/prism/engine/renderer/recorder"
	"github.com/spaghettifunk/prism/engine/renderer/resource"
	"github.com/spaghettifunk/prism/engine/renderer/scene"
	"github.com/spaghettifunk/prism/engine/renderer/swapchain"
)

type Options struct {
	FramesInFlight int
	Samples        gpu.SampleCount
	PresentMode    gpu.PresentMode
	MaxImages      uint32
	ArenaChunk     uint64
	StagingSize    uint64
	// UniformStride pins the per-image uniform stride. Zero derives it from the device.
	UniformStride uint64
	Lights        scene.LightCaps
	ClearColor    [4]float32
	Materials     []Material
}

func DefaultOptions() Options {
	return Options{
		FramesInFlight: frame.DefaultFramesInFlight,
		Samples:        gpu.SampleCount4,
		PresentMode:    gpu.PresentModeMailbox,
		MaxImages:      4,
		ArenaChunk:     256 * memory.MiB,
		StagingSize:    32 * memory.MiB,
		Lights:         scene.LightCaps{MaxDirectional: scene.MaxLights, MaxPoint: scene.MaxLights},
		ClearColor:     [4]float32{0.02, 0.02, 0.05, 1},
		Materials:      DefaultMaterials(),
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	r := cfg.Renderer
	opts.FramesInFlight = r.FramesInFlight
	opts.Samples = gpu.SampleCount(r.MSAASamples)
	if mode, ok := gpu.ParsePresentMode(r.PresentMode); ok {
		opts.PresentMode = mode
	}
	opts.MaxImages = r.MaxSwapchainImages
	opts.ArenaChunk = r.Arena.ChunkMiB * memory.MiB
	opts.StagingSize = r.StagingMiB * memory.MiB
	opts.UniformStride = r.UniformStride
	opts.Lights = scene.LightCaps{MaxDirectional: r.Lights.MaxDirectional, MaxPoint: r.Lights.MaxPoint}
	return opts
}

type Renderer struct {
	dev      gpu.Backend
	opts     Options
	arena    *memory.Arena
	staging  *resource.StagingBuffer
	uploader *resource.Uploader
	uniforms *resource.UniformBuffer

	chain       *swapchain.Manager
	descriptors *descriptorStage
	pipelines   *pipelineStage
	recorder    *recorder.Recorder
	sync        *frame.Synchronizer
	loop        *loop.Loop

	models  []*Model
	texture *resource.Texture
	app     loop.Application

	// Requests from other goroutines, folded into state at the top of Tick.
	mu            sync.Mutex
	pendingResize *gpu.Extent2D
	pendingReload bool

	state loop.State
}

// New reserves every fixed allocation of the renderer. Nothing is presented before Start.
func New(dev gpu.Backend, shaders ShaderSource, opts Options) (*Renderer, error) {
	if err := opts.Lights.Validate(); err != nil {
		return nil, err
	}
	r := &Renderer{dev: dev, opts: opts}

	arena, err := memory.NewArena(dev, memory.ArenaConfig{ChunkSize: opts.ArenaChunk})
	if err != nil {
		return nil, err
	}
	r.arena = arena

	if r.staging, err = resource.NewStagingBuffer(dev, arena, opts.StagingSize, opts.FramesInFlight); err != nil {
		r.release()
		return nil, err
	}
	r.uploader = resource.NewUploader(dev, arena, r.staging)

	if r.uniforms, err = resource.ReserveUniformBuffer(arena, scene.FrameUniformSize, dev.Limits(), opts.UniformStride, int(opts.MaxImages)); err != nil {
		r.release()
		return nil, err
	}

	if r.recorder, err = recorder.NewRecorder(dev, opts.FramesInFlight, r.buildScene); err != nil {
		r.release()
		return nil, err
	}

	r.chain = swapchain.NewManager(dev, arena, swapchain.Options{
		Samples:     opts.Samples,
		PresentMode: opts.PresentMode,
		MaxImages:   opts.MaxImages,
	})
	r.descriptors = &descriptorStage{dev: dev, uniforms: r.uniforms, texture: func() *resource.Texture { return r.texture }}
	r.pipelines = &pipelineStage{dev: dev, shaders: shaders, descriptors: r.descriptors, materials: opts.Materials}
	r.chain.Register(swapchain.StageUniforms, &uniformStage{dev: dev, uniforms: r.uniforms})
	r.chain.Register(swapchain.StageDescriptors, r.descriptors)
	r.chain.Register(swapchain.StagePipelines, r.pipelines)
	r.chain.Register(swapchain.StageCommandBuffers, r.recorder)

	core.LogInfo("renderer ready on `%s` backend (%d frames in flight, %dx MSAA requested)", dev.Name(), opts.FramesInFlight, opts.Samples)
	return r, nil
}

func (r *Renderer) Device() gpu.Backend {
	return r.dev
}

// Uploader stages static data. Uploads are flushed by Start.
func (r *Renderer) Uploader() *resource.Uploader {
	return r.uploader
}

// SetTexture sets the texture bound at descriptor binding 1. It takes effect at the next build.
func (r *Renderer) SetTexture(tex *resource.Texture) {
	r.texture = tex
}

// AddModel uploads the instance transforms of a mesh and adds it to the scene. Models added
// after Start are drawn from the next rebuild on.
func (r *Renderer) AddModel(label, material string, mesh *resource.Mesh, transforms []mgl32.Mat4) (*Model, error) {
	if !r.hasMaterial(material) {
		return nil, errors.Newf("model `%s` uses unknown material `%s`", label, material)
	}
	if len(transforms) == 0 {
		return nil, errors.Newf("model `%s` has no instances", label)
	}
	data := make([]byte, len(transforms)*scene.InstanceStride)
	scene.EncodeInstances(data, transforms)

	instances, err := r.uploader.UploadBuffer(label+".instances", gpu.BufferUsageVertex, data)
	if err != nil {
		return nil, err
	}
	m := &Model{
		Label:         label,
		Material:      material,
		Mesh:          mesh,
		Instances:     instances,
		InstanceCount: uint32(len(transforms)),
	}
	r.models = append(r.models, m)
	return m, nil
}

func (r *Renderer) hasMaterial(name string) bool {
	for _, m := range r.opts.Materials {
		if m.Name == name {
			return true
		}
	}
	return false
}

// Start flushes pending uploads, builds the swapchain at extent and prepares the loop. A zero
// extent defers the build to the first resize with an area.
func (r *Renderer) Start(extent gpu.Extent2D, app loop.Application) error {
	if r.app != nil {
		return errors.New("renderer already started")
	}
	if app == nil {
		return errors.New("renderer started without an application")
	}
	if r.texture == nil {
		tex, err := r.uploader.UploadImage("checkerboard", assets.Checkerboard(256, 8,
			color.RGBA{R: 200, G: 200, B: 200, A: 255}, color.RGBA{R: 90, G: 90, B: 90, A: 255}))
		if err != nil {
			return err
		}
		r.texture = tex
	}
	if err := r.uploader.Flush(); err != nil {
		return core.MarkFatal(errors.Wrap(err, "uploading static resources"))
	}
	r.app = app

	if extent.IsZero() {
		core.LogInfo("window has no area, deferring swapchain creation")
		r.state = r.state.Resize(0, 0)
		return nil
	}
	return r.boot(extent)
}

func (r *Renderer) boot(extent gpu.Extent2D) error {
	if err := r.chain.Create(extent); err != nil {
		return err
	}
	s, err := frame.NewSynchronizer(r.dev, r.opts.FramesInFlight, r.chain.Surface().ImageCount())
	if err != nil {
		return core.MarkFatal(err)
	}
	r.sync = s
	r.loop = loop.New(loop.Deps{
		Device:    r.dev,
		Swapchain: r.chain,
		Sync:      r.sync,
		Recorder:  r.recorder,
		Uniforms:  r.uniforms,
		Staging:   r.staging,
		App:       r.app,
	})
	return nil
}

// Tick renders one frame. Errors marked with core.ErrFatal should end the application.
func (r *Renderer) Tick(dt time.Duration) error {
	if r.app == nil {
		return errors.New("renderer not started")
	}
	r.mu.Lock()
	if r.pendingResize != nil {
		r.state.PendingResize = r.pendingResize
		r.pendingResize = nil
	}
	if r.pendingReload {
		r.state.RebuildRequested = true
		r.pendingReload = false
	}
	r.mu.Unlock()

	if r.loop == nil {
		if r.state.PendingResize == nil || r.state.PendingResize.IsZero() {
			return nil
		}
		extent := *r.state.PendingResize
		r.state.PendingResize = nil
		r.state.RebuildRequested = false
		return r.boot(extent)
	}

	next, err := r.loop.Tick(r.state, dt)
	r.state = next
	return err
}

// Resize stores a new window size for the next tick. Safe to call from any goroutine.
func (r *Renderer) Resize(width, height uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingResize = &gpu.Extent2D{Width: width, Height: height}
}

// RequestRebuild rebuilds the swapchain and reloads shaders at the next tick.
func (r *Renderer) RequestRebuild() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingReload = true
}

// Listen follows window resizes and shader changes on bus.
func (r *Renderer) Listen(bus *core.EventBus) {
	bus.Register(core.EVENT_CODE_RESIZED, r, func(_ interface{}, ctx core.EventContext) bool {
		r.Resize(ctx.Width, ctx.Height)
		return false
	})
	bus.Register(core.EVENT_CODE_SHADERS_CHANGED, r, func(_ interface{}, ctx core.EventContext) bool {
		core.LogInfo("reloading pipelines, %d shader(s) changed", len(ctx.Paths))
		r.RequestRebuild()
		return false
	})
}

func (r *Renderer) Unlisten(bus *core.EventBus) {
	bus.Unregister(core.EVENT_CODE_RESIZED, r)
	bus.Unregister(core.EVENT_CODE_SHADERS_CHANGED, r)
}

func (r *Renderer) State() loop.State {
	return r.state
}

// Suspended reports whether ticks are skipped because the window has no area.
func (r *Renderer) Suspended() bool {
	return r.state.Suspended()
}

func (r *Renderer) Target() *swapchain.Target {
	return r.chain.Target()
}

func (r *Renderer) Swapchain() *swapchain.Manager {
	return r.chain
}

func (r *Renderer) Recorder() *recorder.Recorder {
	return r.recorder
}

func (r *Renderer) Arena() *memory.Arena {
	return r.arena
}

func (r *Renderer) Models() []*Model {
	return r.models
}

func (r *Renderer) Metrics() *core.FrameMetrics {
	if r.loop == nil {
		return nil
	}
	return r.loop.Metrics()
}

func (r *Renderer) Rebuilds() int {
	if r.loop == nil {
		return 0
	}
	return r.loop.Rebuilds()
}

// buildScene draws every model with the pipelines and sets of the current build.
func (r *Renderer) buildScene(target *swapchain.Target) (*recorder.Scene, error) {
	s := &recorder.Scene{ClearColor: r.opts.ClearColor}
	for _, m := range r.models {
		var kind recorder.GroupKind
		for _, mat := range r.opts.Materials {
			if mat.Name == m.Material {
				kind = mat.Kind
			}
		}
		pipeline, ok := r.pipelines.pipelines[m.Material]
		if !ok {
			return nil, errors.Newf("no pipeline for material `%s` of model `%s`", m.Material, m.Label)
		}
		s.Add(recorder.DrawGroup{
			Label:         m.Label,
			Kind:          kind,
			Pipeline:      pipeline,
			Layout:        r.pipelines.layout,
			Sets:          r.descriptors.sets,
			VertexBuffers: []gpu.Buffer{m.Mesh.Vertices.Handle, m.Instances.Handle},
			VertexOffsets: []uint64{0, 0},
			IndexBuffer:   m.Mesh.Indices.Handle,
			IndexType:     gpu.IndexTypeUint32,
			IndexCount:    m.Mesh.IndexCount,
			InstanceCount: m.InstanceCount,
		})
	}
	return s, nil
}

// Shutdown waits for the GPU and releases everything the renderer created, in reverse order.
// The device itself belongs to the caller.
func (r *Renderer) Shutdown() error {
	if err := r.dev.WaitIdle(); err != nil {
		core.LogWarn("device did not go idle before shutdown: %s", err)
	}
	if r.chain != nil {
		if err := r.chain.Destroy(); err != nil {
			return err
		}
	}
	if r.sync != nil {
		r.sync.Destroy()
		r.sync = nil
	}
	r.release()
	core.LogInfo("renderer shut down")
	return nil
}

// release frees the allocations made by New and the models. The swapchain must be gone.
func (r *Renderer) release() {
	if r.recorder != nil {
		r.recorder.Destroy()
	}
	for _, m := range r.models {
		m.Destroy()
	}
	r.models = nil
	if r.texture != nil {
		r.texture.Destroy()
		r.texture = nil
	}
	if r.staging != nil {
		r.staging.Destroy()
		r.staging = nil
	}
	if r.arena != nil {
		r.arena.Destroy()
		r.arena = nil
	}
}
