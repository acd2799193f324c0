// Package sim is a deterministic, in-memory gpu.Backend. Work completes on a mock GPU clock
// that only moves when the host waits, so frame pacing can be asserted exactly.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

var (
	ErrSemaphoreBusy   = errors.New("sim: semaphore still pending")
	ErrFenceBusy       = errors.New("sim: fence in use")
	ErrDeadlock        = errors.New("sim: wait can never complete")
	ErrInvalidHandle   = errors.New("sim: invalid handle")
	ErrOutOfMemory     = errors.New("sim: out of device memory")
	ErrInvalidShader   = errors.New("sim: invalid SPIR-V")
	ErrCommandBufState = errors.New("sim: command buffer in wrong state")
)

var _ gpu.Backend = (*Device)(nil)

func init() {
	gpu.Register(gpu.BackendSim, func(cfg gpu.Config) (gpu.Backend, error) {
		return New(OptionsFromConfig(cfg)), nil
	})
}

type Options struct {
	// Latency is how long the GPU takes to finish a submission.
	Latency time.Duration
	// HostStep advances the clock on every submit, standing in for CPU frame time.
	HostStep time.Duration

	Extent        gpu.Extent2D
	MinImageCount uint32
	MaxImageCount uint32
	Formats       []gpu.SurfaceFormat
	PresentModes  []gpu.PresentMode

	Limits          gpu.DeviceLimits
	BufferAlignment uint64
	ImageAlignment  uint64
}

func DefaultOptions() Options {
	return Options{
		Latency:       4 * time.Millisecond,
		HostStep:      time.Millisecond,
		Extent:        gpu.Extent2D{Width: 800, Height: 600},
		MinImageCount: 2,
		MaxImageCount: 3,
		Formats: []gpu.SurfaceFormat{
			{Format: gpu.FormatR8G8B8A8Unorm, ColorSpace: gpu.ColorSpaceSrgbNonlinear},
			{Format: gpu.FormatB8G8R8A8Srgb, ColorSpace: gpu.ColorSpaceSrgbNonlinear},
		},
		PresentModes: []gpu.PresentMode{gpu.PresentModeFifo, gpu.PresentModeMailbox},
		Limits: gpu.DeviceLimits{
			MinUniformBufferOffsetAlignment: 256,
			MaxImageDimension2D:             16384,
			MaxColorSamples:                 gpu.SampleCount8,
			DepthFormat:                     gpu.FormatD24UnormS8Uint,
			HeapSizes:                       [gpu.MemoryClassCount]uint64{2 << 30, 1 << 30},
		},
		BufferAlignment: 64,
		ImageAlignment:  4096,
	}
}

func OptionsFromConfig(cfg gpu.Config) Options {
	opts := DefaultOptions()
	if cfg.SimLatency > 0 {
		opts.Latency = cfg.SimLatency
	}
	if !cfg.Extent.IsZero() {
		opts.Extent = cfg.Extent
	}
	if cfg.SimImageCount > 0 {
		opts.MaxImageCount = cfg.SimImageCount
		if opts.MinImageCount > cfg.SimImageCount {
			opts.MinImageCount = cfg.SimImageCount
		}
	}
	return opts
}

type Kind string

const (
	KindMemory              Kind = "memory"
	KindBuffer              Kind = "buffer"
	KindImage               Kind = "image"
	KindImageView           Kind = "image-view"
	KindSampler             Kind = "sampler"
	KindSwapchain           Kind = "swapchain"
	KindRenderPass          Kind = "render-pass"
	KindFramebuffer         Kind = "framebuffer"
	KindDescriptorSetLayout Kind = "descriptor-set-layout"
	KindDescriptorPool      Kind = "descriptor-pool"
	KindDescriptorSet       Kind = "descriptor-set"
	KindPipelineLayout      Kind = "pipeline-layout"
	KindPipeline            Kind = "pipeline"
	KindCommandBuffer       Kind = "command-buffer"
	KindSemaphore           Kind = "semaphore"
	KindFence               Kind = "fence"
)

type EventOp string

const (
	EventCreate  EventOp = "create"
	EventDestroy EventOp = "destroy"
)

// Event is one entry of the ledger's create/destroy log.
type Event struct {
	Seq    int
	At     time.Duration
	Op     EventOp
	Kind   Kind
	Handle gpu.Handle
}

// Device is the simulated backend. It is safe for concurrent use, although the renderer
// drives it from a single goroutine.
type Device struct {
	mu   sync.Mutex
	id   uuid.UUID
	opts Options

	now        time.Duration
	nextHandle gpu.Handle

	live       map[Kind]map[gpu.Handle]struct{}
	events     []Event
	violations []string

	memory       map[gpu.Memory]*memoryBlock
	buffers      map[gpu.Buffer]*bufferState
	images       map[gpu.Image]*imageState
	views        map[gpu.ImageView]*viewState
	samplers     map[gpu.Sampler]struct{}
	swapchains   map[gpu.Swapchain]*swapchainState
	renderPasses map[gpu.RenderPass]gpu.RenderPassDesc
	framebuffers map[gpu.Framebuffer]gpu.FramebufferDesc
	setLayouts   map[gpu.DescriptorSetLayout][]gpu.DescriptorBinding
	pools        map[gpu.DescriptorPool]*poolState
	sets         map[gpu.DescriptorSet]*setState
	layouts      map[gpu.PipelineLayout][]gpu.DescriptorSetLayout
	pipelines    map[gpu.Pipeline]gpu.PipelineDesc
	cmdBuffers   map[gpu.CommandBuffer]*commandBuffer
	semaphores   map[gpu.Semaphore]*semaphoreState
	fences       map[gpu.Fence]*fenceState

	submissions []*Submission
	presents    []Present

	acquireScript []gpu.Status
	presentScript []gpu.Status
	imageScript   []uint32
}

func New(opts Options) *Device {
	d := &Device{
		id:           uuid.New(),
		opts:         opts,
		live:         make(map[Kind]map[gpu.Handle]struct{}),
		memory:       make(map[gpu.Memory]*memoryBlock),
		buffers:      make(map[gpu.Buffer]*bufferState),
		images:       make(map[gpu.Image]*imageState),
		views:        make(map[gpu.ImageView]*viewState),
		samplers:     make(map[gpu.Sampler]struct{}),
		swapchains:   make(map[gpu.Swapchain]*swapchainState),
		renderPasses: make(map[gpu.RenderPass]gpu.RenderPassDesc),
		framebuffers: make(map[gpu.Framebuffer]gpu.FramebufferDesc),
		setLayouts:   make(map[gpu.DescriptorSetLayout][]gpu.DescriptorBinding),
		pools:        make(map[gpu.DescriptorPool]*poolState),
		sets:         make(map[gpu.DescriptorSet]*setState),
		layouts:      make(map[gpu.PipelineLayout][]gpu.DescriptorSetLayout),
		pipelines:    make(map[gpu.Pipeline]gpu.PipelineDesc),
		cmdBuffers:   make(map[gpu.CommandBuffer]*commandBuffer),
		semaphores:   make(map[gpu.Semaphore]*semaphoreState),
		fences:       make(map[gpu.Fence]*fenceState),
	}
	core.LogDebug("sim device %s created (latency=%s, images=%d..%d)", d.id, opts.Latency, opts.MinImageCount, opts.MaxImageCount)
	return d
}

func (d *Device) Name() string {
	return gpu.BackendSim
}

func (d *Device) Limits() gpu.DeviceLimits {
	return d.opts.Limits
}

// Shutdown reports every handle still alive. The ledger itself is kept for inspection.
func (d *Device) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, kind := range d.kindsLocked() {
		if n := len(d.live[kind]); n > 0 {
			core.LogWarn("sim device %s: %d %s handle(s) leaked", d.id, n, kind)
		}
	}
}

func (d *Device) track(kind Kind) gpu.Handle {
	d.nextHandle++
	h := d.nextHandle
	if d.live[kind] == nil {
		d.live[kind] = make(map[gpu.Handle]struct{})
	}
	d.live[kind][h] = struct{}{}
	d.events = append(d.events, Event{Seq: len(d.events), At: d.now, Op: EventCreate, Kind: kind, Handle: h})
	return h
}

// untrack removes h from the ledger. Releasing an unknown handle is a violation.
func (d *Device) untrack(kind Kind, h gpu.Handle) bool {
	if _, ok := d.live[kind][h]; !ok {
		d.violatef("destroying unknown or already destroyed %s %d", kind, h)
		return false
	}
	delete(d.live[kind], h)
	d.events = append(d.events, Event{Seq: len(d.events), At: d.now, Op: EventDestroy, Kind: kind, Handle: h})
	return true
}

func (d *Device) violatef(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	core.LogError("sim: %s", msg)
	d.violations = append(d.violations, msg)
}

func (d *Device) kindsLocked() []Kind {
	kinds := make([]Kind, 0, len(d.live))
	for k := range d.live {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Live is the number of live handles of the given kind.
func (d *Device) Live(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live[kind])
}

func (d *Device) IsLive(kind Kind, h gpu.Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.live[kind][h]
	return ok
}

// LiveTotal counts every live handle regardless of kind.
func (d *Device) LiveTotal() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, hs := range d.live {
		n += len(hs)
	}
	return n
}

// LiveByKind is a snapshot of the ledger counts.
func (d *Device) LiveByKind() map[Kind]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[Kind]int, len(d.live))
	for _, k := range d.kindsLocked() {
		if n := len(d.live[k]); n > 0 {
			out[k] = n
		}
	}
	return out
}

func (d *Device) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.events)
}

// Violations lists misuse the API could not report through an error return.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.violations)
}

func (d *Device) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// Advance moves the GPU clock forward, completing any work due by then.
func (d *Device) Advance(dt time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now += dt
	d.retireLocked()
}

// SetExtent changes the surface size. Swapchains built for another size go out of date.
func (d *Device) SetExtent(extent gpu.Extent2D) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.Extent = extent
}

// ScriptAcquire queues statuses returned by the next AcquireNextImage calls.
func (d *Device) ScriptAcquire(statuses ...gpu.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquireScript = append(d.acquireScript, statuses...)
}

func (d *Device) ScriptPresent(statuses ...gpu.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presentScript = append(d.presentScript, statuses...)
}

// ScriptImages forces the image indices handed out by the next successful acquires.
func (d *Device) ScriptImages(indices ...uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.imageScript = append(d.imageScript, indices...)
}
