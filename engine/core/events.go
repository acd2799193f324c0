package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Keyboard key pressed / released.
	/* Context usage:
	 * key = data.Key
	 */
	EVENT_CODE_KEY_PRESSED  SystemEventCode = 0x02
	EVENT_CODE_KEY_RELEASED SystemEventCode = 0x03

	// Mouse button pressed / released.
	/* Context usage:
	 * button = data.Button
	 */
	EVENT_CODE_BUTTON_PRESSED  SystemEventCode = 0x04
	EVENT_CODE_BUTTON_RELEASED SystemEventCode = 0x05

	// Mouse moved.
	/* Context usage:
	 * x = data.X
	 * y = data.Y
	 */
	EVENT_CODE_MOUSE_MOVED SystemEventCode = 0x06

	// Mouse wheel.
	/* Context usage:
	 * delta = data.Scroll
	 */
	EVENT_CODE_MOUSE_WHEEL SystemEventCode = 0x07

	// Resized/resolution changed from the OS.
	/* Context usage:
	 * width = data.Width
	 * height = data.Height
	 */
	EVENT_CODE_RESIZED SystemEventCode = 0x08

	// One or more shader binaries changed on disk.
	/* Context usage:
	 * data.Paths holds the changed files
	 */
	EVENT_CODE_SHADERS_CHANGED SystemEventCode = 0x09

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

type EventContext struct {
	Code   SystemEventCode
	Width  uint32
	Height uint32
	Paths  []string

	Key    KeyCode
	Button Button
	X, Y   int32
	Scroll int8
}

// Should return true if handled.
type FnOnEvent func(sender interface{}, ctx EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches events to listeners. Fire is safe to call from any goroutine;
// callbacks run on the firing goroutine.
type EventBus struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[SystemEventCode][]registeredEvent),
	}
}

// Register listens for events with the given code. A listener may only register once per code.
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code `%d`", code)
			return false
		}
	}
	b.registered[code] = append(b.registered[code], registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	// Not found.
	return false
}

// Fire sends the event to every listener of ctx.Code until one reports it handled.
func (b *EventBus) Fire(sender interface{}, ctx EventContext) bool {
	b.mu.RLock()
	events := make([]registeredEvent, len(b.registered[ctx.Code]))
	copy(events, b.registered[ctx.Code])
	b.mu.RUnlock()

	for _, e := range events {
		if e.callback(sender, ctx) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	return false
}

// Shutdown drops every registration.
func (b *EventBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered = make(map[SystemEventCode][]registeredEvent)
}
