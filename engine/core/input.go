package core

import "sync"

type Button uint16

const (
	BUTTON_LEFT Button = iota
	BUTTON_RIGHT
	BUTTON_MIDDLE
	BUTTON_MAX_BUTTONS
)

// Key code definitions
type KeyCode uint16

const (
	KEY_UNKNOWN   KeyCode = 0x00
	KEY_BACKSPACE KeyCode = 0x08
	KEY_TAB       KeyCode = 0x09
	KEY_ENTER     KeyCode = 0x0D
	KEY_SHIFT     KeyCode = 0x10
	KEY_ESCAPE    KeyCode = 0x1B
	KEY_SPACE     KeyCode = 0x20
	KEY_LEFT      KeyCode = 0x25
	KEY_UP        KeyCode = 0x26
	KEY_RIGHT     KeyCode = 0x27
	KEY_DOWN      KeyCode = 0x28
	KEY_A         KeyCode = 0x41
	KEY_D         KeyCode = 0x44
	KEY_E         KeyCode = 0x45
	KEY_F         KeyCode = 0x46
	KEY_P         KeyCode = 0x50
	KEY_Q         KeyCode = 0x51
	KEY_R         KeyCode = 0x52
	KEY_S         KeyCode = 0x53
	KEY_W         KeyCode = 0x57
	KEY_F1        KeyCode = 0x70
	KEY_F2        KeyCode = 0x71
	KEY_F3        KeyCode = 0x72
	KEY_F4        KeyCode = 0x73
	KEY_LSHIFT    KeyCode = 0xA0
	KEY_RSHIFT    KeyCode = 0xA1
	KEY_LCONTROL  KeyCode = 0xA2
	KEY_RCONTROL  KeyCode = 0xA3
	KEYS_MAX_KEYS KeyCode = 0x100
)

type MouseState struct {
	X       int32
	Y       int32
	Buttons [BUTTON_MAX_BUTTONS]bool
}

type KeyboardState struct {
	Keys [KEYS_MAX_KEYS]bool
}

// Input keeps current and previous keyboard and mouse state. State changes are fired on the
// bus; the window thread writes, the frame loop reads.
type Input struct {
	mu  sync.RWMutex
	bus *EventBus

	keyboardCurrent  KeyboardState
	keyboardPrevious KeyboardState
	mouseCurrent     MouseState
	mousePrevious    MouseState
}

func NewInput(bus *EventBus) *Input {
	return &Input{bus: bus}
}

// Update rolls current state into previous. Call once per frame after the app has read input.
func (in *Input) Update() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.keyboardPrevious = in.keyboardCurrent
	in.mousePrevious = in.mouseCurrent
}

func (in *Input) IsKeyDown(key KeyCode) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return key < KEYS_MAX_KEYS && in.keyboardCurrent.Keys[key]
}

func (in *Input) WasKeyDown(key KeyCode) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return key < KEYS_MAX_KEYS && in.keyboardPrevious.Keys[key]
}

// KeyPressed reports a key that went down since the last Update.
func (in *Input) KeyPressed(key KeyCode) bool {
	return in.IsKeyDown(key) && !in.WasKeyDown(key)
}

func (in *Input) ProcessKey(key KeyCode, pressed bool) {
	if key >= KEYS_MAX_KEYS {
		return
	}
	in.mu.Lock()
	changed := in.keyboardCurrent.Keys[key] != pressed
	in.keyboardCurrent.Keys[key] = pressed
	in.mu.Unlock()

	// Only fire if the state actually changed.
	if !changed || in.bus == nil {
		return
	}
	code := EVENT_CODE_KEY_RELEASED
	if pressed {
		code = EVENT_CODE_KEY_PRESSED
	}
	in.bus.Fire(in, EventContext{Code: code, Key: key})
}

func (in *Input) IsButtonDown(button Button) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return button < BUTTON_MAX_BUTTONS && in.mouseCurrent.Buttons[button]
}

func (in *Input) ProcessButton(button Button, pressed bool) {
	if button >= BUTTON_MAX_BUTTONS {
		return
	}
	in.mu.Lock()
	changed := in.mouseCurrent.Buttons[button] != pressed
	in.mouseCurrent.Buttons[button] = pressed
	in.mu.Unlock()

	if !changed || in.bus == nil {
		return
	}
	code := EVENT_CODE_BUTTON_RELEASED
	if pressed {
		code = EVENT_CODE_BUTTON_PRESSED
	}
	in.bus.Fire(in, EventContext{Code: code, Button: button})
}

func (in *Input) MousePosition() (int32, int32) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.mouseCurrent.X, in.mouseCurrent.Y
}

// MouseDelta is the cursor movement since the last Update.
func (in *Input) MouseDelta() (int32, int32) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.mouseCurrent.X - in.mousePrevious.X, in.mouseCurrent.Y - in.mousePrevious.Y
}

func (in *Input) ProcessMouseMove(x, y int32) {
	in.mu.Lock()
	changed := in.mouseCurrent.X != x || in.mouseCurrent.Y != y
	in.mouseCurrent.X = x
	in.mouseCurrent.Y = y
	in.mu.Unlock()

	if changed && in.bus != nil {
		in.bus.Fire(in, EventContext{Code: EVENT_CODE_MOUSE_MOVED, X: x, Y: y})
	}
}

func (in *Input) ProcessMouseWheel(delta int8) {
	if in.bus != nil {
		in.bus.Fire(in, EventContext{Code: EVENT_CODE_MOUSE_WHEEL, Scroll: delta})
	}
}
