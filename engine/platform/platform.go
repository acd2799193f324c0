// Package platform owns the glfw window. It is the surface source of the vulkan backend and
// turns window callbacks into input state and bus events.
package platform

import (
	"runtime"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

var _ gpu.SurfaceSource = (*Platform)(nil)

type Platform struct {
	Window *glfw.Window

	bus       *core.EventBus
	input     *core.Input
	startTime float64
}

func New(bus *core.EventBus, input *core.Input) *Platform {
	return &Platform{
		bus:   bus,
		input: input,
	}
}

func (p *Platform) Startup(applicationName string, x uint32, y uint32, width uint32, height uint32) error {
	if err := glfw.Init(); err != nil {
		err = errors.Wrap(err, "failed to initialize glfw")
		core.LogError(err.Error())
		return err
	}
	if !glfw.VulkanSupported() {
		core.LogWarn("glfw found no vulkan loader, only the sim backend can open")
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		glfw.Terminate()
		err = errors.Wrap(err, "failed to create window")
		core.LogError(err.Error())
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetMouseButtonCallback(p.mouseButtonCallback)
	p.Window.SetCursorPosCallback(p.cursorPosCallback)
	p.Window.SetScrollCallback(p.scrollCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	p.startTime = glfw.GetTime()
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. It returns false once the window should close.
func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return p.Window != nil && !p.Window.ShouldClose()
}

// AbsoluteTime is the time since Startup.
func (p *Platform) AbsoluteTime() time.Duration {
	return time.Duration((glfw.GetTime() - p.startTime) * float64(time.Second))
}

func (p *Platform) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (p *Platform) RequiredInstanceExtensions() []string {
	if p.Window == nil {
		return nil
	}
	return p.Window.GetRequiredInstanceExtensions()
}

func (p *Platform) ProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (p *Platform) CreateSurface(instance interface{}) (uintptr, error) {
	if p.Window == nil {
		return 0, errors.New("window not created")
	}
	surface, err := p.Window.CreateWindowSurface(instance, nil)
	if err != nil {
		return 0, errors.Wrap(err, "creating window surface")
	}
	return surface, nil
}

func (p *Platform) FramebufferSize() gpu.Extent2D {
	if p.Window == nil {
		return gpu.Extent2D{}
	}
	w, h := p.Window.GetFramebufferSize()
	return gpu.Extent2D{Width: uint32(w), Height: uint32(h)}
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if action == glfw.Repeat {
		return
	}
	code, ok := keyCodes[key]
	if !ok {
		return
	}
	p.input.ProcessKey(code, action == glfw.Press)
}

func (p *Platform) mouseButtonCallback(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
	var b core.Button
	switch button {
	case glfw.MouseButtonLeft:
		b = core.BUTTON_LEFT
	case glfw.MouseButtonRight:
		b = core.BUTTON_RIGHT
	case glfw.MouseButtonMiddle:
		b = core.BUTTON_MIDDLE
	default:
		return
	}
	p.input.ProcessButton(b, action == glfw.Press)
}

func (p *Platform) cursorPosCallback(w *glfw.Window, xpos, ypos float64) {
	p.input.ProcessMouseMove(int32(xpos), int32(ypos))
}

func (p *Platform) scrollCallback(w *glfw.Window, xoff, yoff float64) {
	var delta int8
	if yoff > 0 {
		delta = 1
	} else if yoff < 0 {
		delta = -1
	}
	if delta != 0 {
		p.input.ProcessMouseWheel(delta)
	}
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	core.LogDebug("framebuffer resized to %dx%d", width, height)
	p.bus.Fire(p, core.EventContext{
		Code:   core.EVENT_CODE_RESIZED,
		Width:  uint32(width),
		Height: uint32(height),
	})
}

func (p *Platform) closeCallback(w *glfw.Window) {
	p.bus.Fire(p, core.EventContext{Code: core.EVENT_CODE_APPLICATION_QUIT})
}

var keyCodes = map[glfw.Key]core.KeyCode{
	glfw.KeyBackspace:    core.KEY_BACKSPACE,
	glfw.KeyTab:          core.KEY_TAB,
	glfw.KeyEnter:        core.KEY_ENTER,
	glfw.KeyEscape:       core.KEY_ESCAPE,
	glfw.KeySpace:        core.KEY_SPACE,
	glfw.KeyLeft:         core.KEY_LEFT,
	glfw.KeyUp:           core.KEY_UP,
	glfw.KeyRight:        core.KEY_RIGHT,
	glfw.KeyDown:         core.KEY_DOWN,
	glfw.KeyA:            core.KEY_A,
	glfw.KeyD:            core.KEY_D,
	glfw.KeyE:            core.KEY_E,
	glfw.KeyF:            core.KEY_F,
	glfw.KeyP:            core.KEY_P,
	glfw.KeyQ:            core.KEY_Q,
	glfw.KeyR:            core.KEY_R,
	glfw.KeyS:            core.KEY_S,
	glfw.KeyW:            core.KEY_W,
	glfw.KeyF1:           core.KEY_F1,
	glfw.KeyF2:           core.KEY_F2,
	glfw.KeyF3:           core.KEY_F3,
	glfw.KeyF4:           core.KEY_F4,
	glfw.KeyLeftShift:    core.KEY_LSHIFT,
	glfw.KeyRightShift:   core.KEY_RSHIFT,
	glfw.KeyLeftControl:  core.KEY_LCONTROL,
	glfw.KeyRightControl: core.KEY_RCONTROL,
}
