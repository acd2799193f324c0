package sim

import (
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type swapchainState struct {
	desc    gpu.SwapchainDesc
	images  []gpu.Image
	next    uint32
	retired bool
}

// Present is one successful presentation.
type Present struct {
	At         time.Duration
	Swapchain  gpu.Swapchain
	ImageIndex uint32
}

func (d *Device) SurfaceCapabilities() (gpu.SurfaceCapabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return gpu.SurfaceCapabilities{
		MinImageCount: d.opts.MinImageCount,
		MaxImageCount: d.opts.MaxImageCount,
		CurrentExtent: d.opts.Extent,
		MinExtent:     gpu.Extent2D{Width: 1, Height: 1},
		MaxExtent:     gpu.Extent2D{Width: d.opts.Limits.MaxImageDimension2D, Height: d.opts.Limits.MaxImageDimension2D},
	}, nil
}

func (d *Device) SurfaceFormats() ([]gpu.SurfaceFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.opts.Formats), nil
}

func (d *Device) PresentModes() ([]gpu.PresentMode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.opts.PresentModes), nil
}

func (d *Device) CreateSwapchain(desc gpu.SwapchainDesc) (gpu.Swapchain, []gpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.Extent.IsZero() {
		return gpu.NullHandle, nil, errors.New("sim: swapchain extent is zero")
	}
	if desc.ImageCount < d.opts.MinImageCount || (d.opts.MaxImageCount > 0 && desc.ImageCount > d.opts.MaxImageCount) {
		return gpu.NullHandle, nil, errors.Newf("sim: swapchain image count %d outside [%d, %d]", desc.ImageCount, d.opts.MinImageCount, d.opts.MaxImageCount)
	}
	if !slices.Contains(d.opts.Formats, desc.Format) {
		return gpu.NullHandle, nil, errors.Newf("sim: surface format %v is not supported", desc.Format)
	}
	if !slices.Contains(d.opts.PresentModes, desc.PresentMode) {
		return gpu.NullHandle, nil, errors.Newf("sim: present mode %s is not supported", desc.PresentMode)
	}
	if desc.Old != gpu.NullHandle {
		old, ok := d.swapchains[desc.Old]
		if !ok {
			return gpu.NullHandle, nil, errors.Wrapf(ErrInvalidHandle, "old swapchain %d", desc.Old)
		}
		old.retired = true
	}

	sc := gpu.Swapchain(d.track(KindSwapchain))
	state := &swapchainState{desc: desc, images: make([]gpu.Image, desc.ImageCount)}
	for i := range state.images {
		// Swapchain images are owned by the swapchain and stay out of the ledger.
		d.nextHandle++
		img := gpu.Image(d.nextHandle)
		d.images[img] = &imageState{
			desc: gpu.ImageDesc{
				Extent:    desc.Extent,
				MipLevels: 1,
				Format:    desc.Format.Format,
				Samples:   gpu.SampleCount1,
				Usage:     gpu.ImageUsageColorAttachment,
			},
			swapchain: sc,
		}
		state.images[i] = img
	}
	d.swapchains[sc] = state
	return sc, slices.Clone(state.images), nil
}

func (d *Device) DestroySwapchain(sc gpu.Swapchain) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.swapchains[sc]
	if ok {
		for _, img := range state.images {
			if n := d.images[img].views; n > 0 {
				d.violatef("destroying swapchain %d while image %d has %d live view(s)", sc, img, n)
			}
			delete(d.images, img)
		}
	}
	if d.untrack(KindSwapchain, gpu.Handle(sc)) {
		delete(d.swapchains, sc)
	}
}

func popStatus(script *[]gpu.Status) (gpu.Status, bool) {
	if len(*script) == 0 {
		return gpu.StatusSuccess, false
	}
	s := (*script)[0]
	*script = (*script)[1:]
	return s, true
}

func (d *Device) AcquireNextImage(sc gpu.Swapchain, timeout time.Duration, signal gpu.Semaphore) (uint32, gpu.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.retireLocked()
	state, ok := d.swapchains[sc]
	if !ok {
		return 0, gpu.StatusSuccess, errors.Wrapf(ErrInvalidHandle, "swapchain %d", sc)
	}

	status, _ := popStatus(&d.acquireScript)
	if status == gpu.StatusOutOfDate || state.retired || state.desc.Extent != d.opts.Extent {
		return 0, gpu.StatusOutOfDate, nil
	}

	sem, err := d.semaphoreForSignalLocked(signal)
	if err != nil {
		return 0, gpu.StatusSuccess, errors.Wrap(err, "acquire")
	}

	index := state.next
	if len(d.imageScript) > 0 {
		index = d.imageScript[0]
		d.imageScript = d.imageScript[1:]
		if index >= uint32(len(state.images)) {
			return 0, gpu.StatusSuccess, errors.Newf("sim: scripted image index %d out of range", index)
		}
	}
	state.next = (index + 1) % uint32(len(state.images))

	sem.signaled = true
	return index, status, nil
}

func (d *Device) Present(sc gpu.Swapchain, imageIndex uint32, wait gpu.Semaphore) (gpu.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.swapchains[sc]
	if !ok {
		return gpu.StatusSuccess, errors.Wrapf(ErrInvalidHandle, "swapchain %d", sc)
	}
	if imageIndex >= uint32(len(state.images)) {
		return gpu.StatusSuccess, errors.Newf("sim: presenting image %d of %d", imageIndex, len(state.images))
	}
	if wait != gpu.NullHandle {
		sem, ok := d.semaphores[wait]
		if !ok {
			return gpu.StatusSuccess, errors.Wrapf(ErrInvalidHandle, "semaphore %d", wait)
		}
		if !sem.signaled {
			return gpu.StatusSuccess, errors.Newf("sim: present waits on semaphore %d that is never signaled", wait)
		}
		sem.signaled = false
	}

	status, _ := popStatus(&d.presentScript)
	if state.retired || state.desc.Extent != d.opts.Extent {
		status = gpu.StatusOutOfDate
	}
	if status != gpu.StatusOutOfDate {
		d.presents = append(d.presents, Present{At: d.now, Swapchain: sc, ImageIndex: imageIndex})
	}
	return status, nil
}

func (d *Device) Presents() []Present {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.presents)
}

// SwapchainImages returns the images of a live swapchain.
func (d *Device) SwapchainImages(sc gpu.Swapchain) []gpu.Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	if state, ok := d.swapchains[sc]; ok {
		return slices.Clone(state.images)
	}
	return nil
}
