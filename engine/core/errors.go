package core

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrSwapchainBooting  = errors.New("swapchain resized or recreated, booting")
	ErrArenaExhausted    = errors.New("memory arena exhausted")
	ErrRingFull          = errors.New("ring allocator full")
	ErrNotHostVisible    = errors.New("memory is not host visible")
	ErrUniformAlignment  = errors.New("uniform stride does not satisfy device alignment")
	ErrLightCapExceeded  = errors.New("light count exceeds configured cap")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDeviceLost        = errors.New("device lost")
	ErrUnknown           = errors.New("unknown")

	// ErrFatal marks errors that must terminate the frame loop.
	ErrFatal = errors.New("fatal")
)

// MarkFatal tags err so that IsFatal reports true for it and anything wrapping it.
func MarkFatal(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrFatal)
}

func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
