package engine

import (
	"time"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/renderer/loop"
)

// Game is the application the engine drives. Only FnFrame is required.
type Game struct {
	Config *config.Config
	State  interface{}

	FnBoot     Boot
	FnUpdate   Update
	FnFrame    Frame
	FnOnResize OnResize
	FnShutdown Shutdown
}

// Boot runs once the renderer exists and before the first frame, to upload static scene data.
type Boot func(e *Engine) error

// Update runs once per loop iteration on the host, before the frame is rendered.
type Update func(deltaTime time.Duration) error

// Frame writes the per-frame data of the claimed swapchain image.
type Frame func(ctx *loop.FrameContext) error

type OnResize func(width uint32, height uint32) error
type Shutdown func() error
