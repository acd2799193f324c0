package core

import (
	"time"

	"github.com/spaghettifunk/prism/engine/containers"
)

const AVG_COUNT int = 30

// FrameMetrics keeps a rolling frame time average and a once-per-second FPS count.
type FrameMetrics struct {
	window      *containers.RingQueue[time.Duration]
	windowTotal time.Duration
	accumulated time.Duration
	frames      int
	fps         float64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{
		window: containers.NewRingQueue[time.Duration](AVG_COUNT),
	}
}

func (m *FrameMetrics) Update(frameTime time.Duration) {
	if m.window.IsFull() {
		oldest, _ := m.window.Dequeue()
		m.windowTotal -= oldest
	}
	_ = m.window.Enqueue(frameTime)
	m.windowTotal += frameTime

	// Calculate frames per second.
	m.frames++
	m.accumulated += frameTime
	if m.accumulated >= time.Second {
		m.fps = float64(m.frames) / m.accumulated.Seconds()
		m.accumulated = 0
		m.frames = 0
	}
}

func (m *FrameMetrics) FPS() float64 {
	return m.fps
}

// FrameTime is the average over the last AVG_COUNT frames.
func (m *FrameMetrics) FrameTime() time.Duration {
	if m.window.Len() == 0 {
		return 0
	}
	return m.windowTotal / time.Duration(m.window.Len())
}

func (m *FrameMetrics) Frame() (float64, time.Duration) {
	return m.FPS(), m.FrameTime()
}
