// Package swapchain owns the presentation images and everything whose size follows them.
package swapchain

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/memutils"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/memory"
	"github.com/spaghettifunk/prism/engine/renderer/resource"
)

type State int

const (
	StateUninitialized State = iota
	StateLive
	StateResizing
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLive:
		return "live"
	case StateResizing:
		return "resizing"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

var legalTransitions = map[State][]State{
	StateUninitialized: {StateLive, StateDestroyed},
	StateLive:          {StateResizing, StateDestroyed},
	StateResizing:      {StateLive, StateDestroyed},
}

// Stage orders the dependents of a swapchain. Stages run in declaration order; framebuffers
// are created between StagePipelines and StageCommandBuffers.
type Stage int

const (
	StageUniforms Stage = iota
	StageDescriptors
	StagePipelines
	StageCommandBuffers
	stageCount
)

// Dependent builds objects that have to be recreated with the swapchain. Everything it
// creates must be pushed onto the destroy list, right after it is created.
type Dependent interface {
	Name() string
	Create(target *Target, destroy *DestroyList) error
}

type Options struct {
	Samples     gpu.SampleCount
	PresentMode gpu.PresentMode
	// MaxImages bounds the image count, it matches the reserved per-image uniform slots.
	MaxImages uint32
}

type Surface struct {
	Handle      gpu.Swapchain
	Images      []gpu.Image
	Views       []gpu.ImageView
	Format      gpu.SurfaceFormat
	Extent      gpu.Extent2D
	PresentMode gpu.PresentMode
}

func (s *Surface) ImageCount() int {
	return len(s.Images)
}

// Target is the render target of one Live period.
type Target struct {
	Surface      *Surface
	Samples      gpu.SampleCount
	DepthFormat  gpu.Format
	Depth        *resource.Image
	// Color is the multisampled color target. It is nil without MSAA.
	Color        *resource.Image
	RenderPass   gpu.RenderPass
	Framebuffers []gpu.Framebuffer
}

type Manager struct {
	dev   gpu.Backend
	arena *memory.Arena
	opts  Options

	state      State
	target     *Target
	destroy    DestroyList
	dependents [stageCount][]Dependent
	// Depth and MSAA targets share this region across rebuilds. It only grows.
	targets    memory.Region
	generation uint64
	teardown   []DestroyEntry
}

func NewManager(dev gpu.Backend, arena *memory.Arena, opts Options) *Manager {
	if opts.Samples == 0 {
		opts.Samples = gpu.SampleCount1
	}
	return &Manager{dev: dev, arena: arena, opts: opts}
}

// Register adds a dependent to a stage. Dependents of a stage run in registration order.
func (m *Manager) Register(stage Stage, dep Dependent) {
	m.dependents[stage] = append(m.dependents[stage], dep)
}

func (m *Manager) State() State {
	return m.state
}

func (m *Manager) Target() *Target {
	return m.target
}

func (m *Manager) Surface() *Surface {
	if m.target == nil {
		return nil
	}
	return m.target.Surface
}

// Generation counts completed creates. Recorded work keyed to an older generation is stale.
func (m *Manager) Generation() uint64 {
	return m.generation
}

func (m *Manager) DestroyList() *DestroyList {
	return &m.destroy
}

// LastTeardown is the order the previous teardown ran in.
func (m *Manager) LastTeardown() []DestroyEntry {
	return m.teardown
}

func (m *Manager) transition(to State) error {
	for _, s := range legalTransitions[m.state] {
		if s == to {
			core.LogDebug("swapchain %s -> %s", m.state, to)
			m.state = to
			return nil
		}
	}
	return errors.Wrapf(core.ErrInvalidTransition, "swapchain %s -> %s", m.state, to)
}

// Create builds the swapchain and all its dependents for the first time.
func (m *Manager) Create(extent gpu.Extent2D) error {
	if m.state != StateUninitialized {
		return errors.Wrapf(core.ErrInvalidTransition, "create in state %s", m.state)
	}
	if extent.IsZero() {
		return errors.Wrap(core.ErrSwapchainBooting, "window has no area")
	}
	if err := m.build(extent); err != nil {
		return err
	}
	return m.transition(StateLive)
}

// Rebuild waits for the device to go idle, tears everything down and creates it again at
// extent. When the window or the surface has no area the current swapchain is left alone and
// core.ErrSwapchainBooting is returned. A rebuild that failed after the teardown leaves the
// manager in StateResizing with no target; calling Rebuild again retries the build.
func (m *Manager) Rebuild(extent gpu.Extent2D) error {
	if extent.IsZero() {
		core.LogDebug("deferring swapchain rebuild, window has no area")
		return errors.Wrap(core.ErrSwapchainBooting, "window has no area")
	}
	caps, err := m.dev.SurfaceCapabilities()
	if err != nil {
		return errors.Wrap(err, "querying surface capabilities before rebuild")
	}
	if ChooseExtent(caps, extent).IsZero() {
		core.LogDebug("deferring swapchain rebuild, surface has no area")
		return errors.Wrap(core.ErrSwapchainBooting, "surface has no area")
	}

	if m.state != StateResizing || m.target != nil {
		if err := m.transition(StateResizing); err != nil {
			return err
		}
	}
	if err := m.dev.WaitIdle(); err != nil {
		return core.MarkFatal(errors.Wrap(err, "waiting for device idle before rebuild"))
	}
	m.teardown = m.destroy.Teardown()
	m.target = nil

	if err := m.build(extent); err != nil {
		return err
	}
	core.LogInfo("swapchain rebuilt: %dx%d, %d images", m.target.Surface.Extent.Width, m.target.Surface.Extent.Height, m.target.Surface.ImageCount())
	return m.transition(StateLive)
}

// Destroy tears everything down. Calling it again is a no-op.
func (m *Manager) Destroy() error {
	if m.state == StateDestroyed {
		return nil
	}
	if err := m.dev.WaitIdle(); err != nil {
		core.LogWarn("device did not go idle before swapchain destroy: %s", err)
	}
	m.teardown = m.destroy.Teardown()
	m.target = nil
	return m.transition(StateDestroyed)
}

// build runs every stage in order. On failure whatever was created is torn down again.
func (m *Manager) build(extent gpu.Extent2D) error {
	t := &Target{}
	steps := []struct {
		name string
		fn   func(*Target, gpu.Extent2D) error
	}{
		{"swapchain", m.createSwapchain},
		{"image views", m.createViews},
		{"targets", m.createTargets},
		{"render pass", m.createRenderPass},
		{"dependents", m.runStages(StageUniforms, StageDescriptors, StagePipelines)},
		{"framebuffers", m.createFramebuffers},
		{"command buffers", m.runStages(StageCommandBuffers)},
	}
	for _, step := range steps {
		if err := step.fn(t, extent); err != nil {
			m.destroy.Teardown()
			err = errors.Wrapf(err, "creating swapchain %s", step.name)
			// The surface lost its area in between; the caller retries once it has one.
			if errors.Is(err, core.ErrSwapchainBooting) {
				core.LogWarn(err.Error())
				return err
			}
			err = core.MarkFatal(err)
			core.LogError(err.Error())
			return err
		}
	}
	m.target = t
	m.generation++
	return nil
}

func (m *Manager) runStages(stages ...Stage) func(*Target, gpu.Extent2D) error {
	return func(t *Target, _ gpu.Extent2D) error {
		for _, stage := range stages {
			for _, dep := range m.dependents[stage] {
				if err := dep.Create(t, &m.destroy); err != nil {
					return errors.Wrapf(err, "dependent %s", dep.Name())
				}
			}
		}
		return nil
	}
}

func (m *Manager) createSwapchain(t *Target, requested gpu.Extent2D) error {
	caps, err := m.dev.SurfaceCapabilities()
	if err != nil {
		return errors.Wrap(err, "querying surface capabilities")
	}
	formats, err := m.dev.SurfaceFormats()
	if err != nil || len(formats) == 0 {
		return errors.Wrapf(err, "surface reports %d formats", len(formats))
	}
	modes, err := m.dev.PresentModes()
	if err != nil {
		return errors.Wrap(err, "querying present modes")
	}

	extent := ChooseExtent(caps, requested)
	if extent.IsZero() {
		return errors.Wrap(core.ErrSwapchainBooting, "surface has no area")
	}
	count := ChooseImageCount(caps)
	if m.opts.MaxImages > 0 && count > m.opts.MaxImages {
		if caps.MinImageCount > m.opts.MaxImages {
			return errors.Newf("surface needs at least %d images, at most %d are supported", caps.MinImageCount, m.opts.MaxImages)
		}
		count = m.opts.MaxImages
	}
	surface := &Surface{
		Format:      ChooseSurfaceFormat(formats),
		Extent:      extent,
		PresentMode: ChoosePresentMode(modes, m.opts.PresentMode),
	}

	handle, images, err := m.dev.CreateSwapchain(gpu.SwapchainDesc{
		Extent:      extent,
		ImageCount:  count,
		Format:      surface.Format,
		PresentMode: surface.PresentMode,
	})
	if err != nil {
		return err
	}
	surface.Handle = handle
	surface.Images = images
	m.destroy.Push("swapchain", fmt.Sprintf("%dx%d", extent.Width, extent.Height), func() {
		m.dev.DestroySwapchain(handle)
	})

	core.LogDebug("swapchain %dx%d, %d images, format %d, present mode %s",
		extent.Width, extent.Height, len(images), surface.Format.Format, surface.PresentMode)
	t.Surface = surface
	return nil
}

func (m *Manager) createViews(t *Target, _ gpu.Extent2D) error {
	t.Surface.Views = make([]gpu.ImageView, 0, len(t.Surface.Images))
	for i, img := range t.Surface.Images {
		view, err := m.dev.CreateImageView(gpu.ImageViewDesc{
			Image:     img,
			Format:    t.Surface.Format.Format,
			Aspect:    gpu.ImageAspectColor,
			MipLevels: 1,
		})
		if err != nil {
			return errors.Wrapf(err, "view for swapchain image %d", i)
		}
		t.Surface.Views = append(t.Surface.Views, view)
		m.destroy.Push("image-view", fmt.Sprintf("swapchain[%d]", i), func() {
			m.dev.DestroyImageView(view)
		})
	}
	return nil
}

// createTargets places the depth and MSAA color images in the reserved target region,
// growing it by half again when the new images do not fit.
func (m *Manager) createTargets(t *Target, _ gpu.Extent2D) error {
	limits := m.dev.Limits()
	t.Samples = ChooseSamples(m.opts.Samples, limits.MaxColorSamples)
	t.DepthFormat = limits.DepthFormat
	if t.DepthFormat == gpu.FormatUndefined {
		t.DepthFormat = gpu.FormatD32Sfloat
	}

	depth, err := resource.CreateImage(m.dev, resource.ImageDesc{
		Label:   "depth",
		Extent:  t.Surface.Extent,
		Format:  t.DepthFormat,
		Samples: t.Samples,
		Usage:   gpu.ImageUsageDepthStencilAttachment,
	})
	if err != nil {
		return err
	}
	m.destroy.PushID(depth.ID, "depth-target", depth.Desc.Label, depth.Destroy)
	t.Depth = depth
	images := []*resource.Image{depth}

	if t.Samples > gpu.SampleCount1 {
		color, err := resource.CreateImage(m.dev, resource.ImageDesc{
			Label:   "msaa-color",
			Extent:  t.Surface.Extent,
			Format:  t.Surface.Format.Format,
			Samples: t.Samples,
			Usage:   gpu.ImageUsageColorAttachment | gpu.ImageUsageTransientAttachment,
		})
		if err != nil {
			return err
		}
		m.destroy.PushID(color.ID, "color-target", color.Desc.Label, color.Destroy)
		t.Color = color
		images = append(images, color)
	}

	var size, alignment uint64 = 0, 1
	for _, img := range images {
		reqs := img.Requirements()
		alignment = max(alignment, reqs.Alignment)
		size = uint64(memutils.AlignUp(int(size), uint(reqs.Alignment))) + reqs.Size
	}
	if m.targets.IsZero() || m.targets.Size < size || m.targets.Offset%alignment != 0 {
		grown := size + size/2
		region, err := m.arena.Allocate(gpu.MemoryClassDeviceLocal, grown, alignment)
		if err != nil {
			return errors.Wrap(err, "reserving render target memory")
		}
		core.LogDebug("render target region: %d bytes at %d", grown, region.Offset)
		m.targets = region
	}

	var offset uint64
	for _, img := range images {
		reqs := img.Requirements()
		offset = uint64(memutils.AlignUp(int(offset), uint(reqs.Alignment)))
		window, err := m.targets.Sub(offset, reqs.Size)
		if err != nil {
			return err
		}
		if err := img.Bind(window); err != nil {
			return err
		}
		offset += reqs.Size
	}
	return nil
}

func (m *Manager) createRenderPass(t *Target, _ gpu.Extent2D) error {
	rp, err := m.dev.CreateRenderPass(gpu.RenderPassDesc{
		ColorFormat: t.Surface.Format.Format,
		DepthFormat: t.DepthFormat,
		Samples:     t.Samples,
	})
	if err != nil {
		return err
	}
	t.RenderPass = rp
	m.destroy.Push("render-pass", "forward", func() {
		m.dev.DestroyRenderPass(rp)
	})
	return nil
}

// Attachments lists the framebuffer attachments for swapchain image i, in render pass order.
func (t *Target) Attachments(i int) []gpu.ImageView {
	if t.Color != nil {
		return []gpu.ImageView{t.Color.View, t.Depth.View, t.Surface.Views[i]}
	}
	return []gpu.ImageView{t.Surface.Views[i], t.Depth.View}
}

func (m *Manager) createFramebuffers(t *Target, _ gpu.Extent2D) error {
	t.Framebuffers = make([]gpu.Framebuffer, 0, t.Surface.ImageCount())
	for i := range t.Surface.Views {
		fb, err := m.dev.CreateFramebuffer(gpu.FramebufferDesc{
			RenderPass:  t.RenderPass,
			Attachments: t.Attachments(i),
			Extent:      t.Surface.Extent,
		})
		if err != nil {
			return errors.Wrapf(err, "framebuffer %d", i)
		}
		t.Framebuffers = append(t.Framebuffers, fb)
		m.destroy.Push("framebuffer", fmt.Sprintf("swapchain[%d]", i), func() {
			m.dev.DestroyFramebuffer(fb)
		})
	}
	return nil
}

// Acquire asks for the next image. gpu.StatusOutOfDate means the tick must be abandoned.
func (m *Manager) Acquire(signal gpu.Semaphore) (uint32, gpu.Status, error) {
	if m.state != StateLive {
		return 0, gpu.StatusSuccess, errors.Wrapf(core.ErrInvalidTransition, "acquire in state %s", m.state)
	}
	index, status, err := m.dev.AcquireNextImage(m.target.Surface.Handle, gpu.TimeoutInfinite, signal)
	if err != nil {
		err = errors.Wrap(err, "acquiring swapchain image")
		core.LogError(err.Error())
		return 0, status, err
	}
	if status != gpu.StatusSuccess {
		core.LogWarn("acquire returned %s", status)
	}
	return index, status, nil
}

// Present queues image index for display once wait is signaled.
func (m *Manager) Present(index uint32, wait gpu.Semaphore) (gpu.Status, error) {
	if m.state != StateLive {
		return gpu.StatusSuccess, errors.Wrapf(core.ErrInvalidTransition, "present in state %s", m.state)
	}
	status, err := m.dev.Present(m.target.Surface.Handle, index, wait)
	if err != nil {
		err = errors.Wrap(err, "presenting swapchain image")
		core.LogError(err.Error())
		return status, err
	}
	if status != gpu.StatusSuccess {
		core.LogWarn("present returned %s", status)
	}
	return status, nil
}
