package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/platform"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/loop"
)

// How often frame metrics are logged.
const metricsInterval = 5 * time.Second

// extentSetter is implemented by backends without a real surface, which learn the window
// size from the engine.
type extentSetter interface {
	SetExtent(extent gpu.Extent2D)
}

type Engine struct {
	currentStage Stage
	gameInstance *Game
	cfg          *config.Config

	bus          *core.EventBus
	input        *core.Input
	platform     *platform.Platform
	assetManager *assets.AssetManager
	device       gpu.Backend
	renderer     *renderer.Renderer
	clock        *core.Clock

	isRunning    atomic.Bool
	width        uint32
	height       uint32
	sinceMetrics time.Duration
	shutdownOnce sync.Once
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.FnFrame == nil {
		return nil, errors.New("game must provide a frame function")
	}
	cfg := g.Config
	if cfg == nil {
		cfg = config.Default()
		g.Config = cfg
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	core.SetLogLevel(cfg.Log.Level)

	bus := core.NewEventBus()
	input := core.NewInput(bus)

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		cfg:          cfg,
		bus:          bus,
		input:        input,
		platform:     platform.New(bus, input),
		assetManager: assets.NewAssetManager(bus),
		clock:        core.NewClock(),
		width:        cfg.App.Width,
		height:       cfg.App.Height,
	}, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return errors.Newf("engine cannot initialize while %s", e.currentStage)
	}
	e.currentStage = EngineStageInitializing
	app := e.cfg.App

	// register some events
	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.bus.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	if err := e.platform.Startup(app.Name, app.X, app.Y, app.Width, app.Height); err != nil {
		return err
	}

	if err := e.assetManager.Initialize(e.cfg.Renderer.AssetDir, e.cfg.Renderer.WatchShaders); err != nil {
		return err
	}

	dev, err := renderer.OpenBackend(e.cfg.Renderer.Backend, e.cfg.GPUConfig(e.platform))
	if err != nil {
		return err
	}
	e.device = dev

	r, err := renderer.New(dev, e.assetManager, renderer.OptionsFromConfig(e.cfg))
	if err != nil {
		return err
	}
	e.renderer = r
	r.Listen(e.bus)

	if e.gameInstance.FnBoot != nil {
		if err := e.gameInstance.FnBoot(e); err != nil {
			return err
		}
	}

	extent := e.platform.FramebufferSize()
	if setter, ok := dev.(extentSetter); ok {
		setter.SetExtent(extent)
	}
	if err := r.Start(extent, e); err != nil {
		return err
	}
	e.width, e.height = extent.Width, extent.Height

	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives the frame loop until the window closes, Stop is called or a fatal error occurs.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return errors.Newf("engine cannot run while %s", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	lastTime := e.clock.Elapsed()

	for e.isRunning.Load() {
		if !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - lastTime
		lastTime = currentTime

		if e.renderer.Suspended() {
			// Give the time back to the OS until the window has an area again.
			e.platform.Sleep(10 * time.Millisecond)
			if err := e.renderer.Tick(delta); err != nil {
				return e.fail(err)
			}
			continue
		}

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				return e.fail(errors.Wrap(err, "game update failed"))
			}
		}

		if err := e.renderer.Tick(delta); err != nil {
			if core.IsFatal(err) {
				return e.fail(err)
			}
			core.LogWarn("frame incomplete: %s", err)
		}
		e.logMetrics(delta)

		// NOTE: Input update/state copying should always be handled
		// after any input should be recorded; I.E. before this line.
		e.input.Update()
	}
	return nil
}

// Stop ends Run after the current frame. Safe to call from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) fail(err error) error {
	e.isRunning.Store(false)
	core.LogError("shutting down: %s", err)
	return err
}

func (e *Engine) logMetrics(delta time.Duration) {
	e.sinceMetrics += delta
	if e.sinceMetrics < metricsInterval {
		return
	}
	e.sinceMetrics = 0
	if m := e.renderer.Metrics(); m != nil {
		fps, frameTime := m.Frame()
		core.LogInfo("%.1f fps, %s per frame, %d rebuild(s)", fps, frameTime, e.renderer.Rebuilds())
	}
}

// Update implements loop.Application.
func (e *Engine) Update(ctx *loop.FrameContext) error {
	return e.gameInstance.FnFrame(ctx)
}

// Shutdown releases everything in reverse creation order. Calls after the first are no-ops.
func (e *Engine) Shutdown() error {
	var err error
	e.shutdownOnce.Do(func() {
		e.currentStage = EngineStageShuttingDown
		e.isRunning.Store(false)

		if e.gameInstance.FnShutdown != nil {
			if gerr := e.gameInstance.FnShutdown(); gerr != nil {
				core.LogWarn("game shutdown: %s", gerr)
			}
		}
		if e.renderer != nil {
			e.renderer.Unlisten(e.bus)
			err = e.renderer.Shutdown()
		}
		if e.device != nil {
			e.device.Shutdown()
		}
		e.assetManager.Shutdown()
		if perr := e.platform.Shutdown(); perr != nil {
			err = errors.CombineErrors(err, perr)
		}
		e.bus.Shutdown()
		e.currentStage = EngineStageShutdown
	})
	return err
}

func (e *Engine) Bus() *core.EventBus {
	return e.bus
}

func (e *Engine) Input() *core.Input {
	return e.input
}

func (e *Engine) Assets() *assets.AssetManager {
	return e.assetManager
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

// GetFramebufferSize returns the width and height (in this order) of the framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onEvent(sender interface{}, context core.EventContext) bool {
	if context.Code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.Stop()
		return true
	}
	return false
}

func (e *Engine) onKey(sender interface{}, context core.EventContext) bool {
	if context.Key == core.KEY_ESCAPE {
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		e.bus.Fire(e, core.EventContext{Code: core.EVENT_CODE_APPLICATION_QUIT})
		// Block anything else from processing this.
		return true
	}
	return false
}

func (e *Engine) onResized(sender interface{}, context core.EventContext) bool {
	width, height := context.Width, context.Height
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height

	if setter, ok := e.device.(extentSetter); ok {
		setter.SetExtent(gpu.Extent2D{Width: width, Height: height})
	}
	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending rendering.")
		return false
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
	// The renderer listens too.
	return false
}
