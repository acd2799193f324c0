package vulkan

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type resultInfo struct {
	name   string
	detail string
}

// See https://www.khronos.org/registry/vulkan/specs/1.3-extensions/man/html/VkResult.html
var resultInfos = map[vk.Result]resultInfo{
	vk.Success:                  {"VK_SUCCESS", "command successfully completed"},
	vk.NotReady:                 {"VK_NOT_READY", "a fence or query has not yet completed"},
	vk.Timeout:                  {"VK_TIMEOUT", "a wait operation has not completed in the specified time"},
	vk.Incomplete:               {"VK_INCOMPLETE", "a return array was too small for the result"},
	vk.Suboptimal:               {"VK_SUBOPTIMAL_KHR", "the swapchain no longer matches the surface exactly"},
	vk.ErrorOutOfHostMemory:     {"VK_ERROR_OUT_OF_HOST_MEMORY", "a host memory allocation has failed"},
	vk.ErrorOutOfDeviceMemory:   {"VK_ERROR_OUT_OF_DEVICE_MEMORY", "a device memory allocation has failed"},
	vk.ErrorInitializationFailed: {"VK_ERROR_INITIALIZATION_FAILED", "initialization of an object could not be completed"},
	vk.ErrorDeviceLost:          {"VK_ERROR_DEVICE_LOST", "the logical or physical device has been lost"},
	vk.ErrorMemoryMapFailed:     {"VK_ERROR_MEMORY_MAP_FAILED", "mapping of a memory object has failed"},
	vk.ErrorLayerNotPresent:     {"VK_ERROR_LAYER_NOT_PRESENT", "a requested layer is not present"},
	vk.ErrorExtensionNotPresent: {"VK_ERROR_EXTENSION_NOT_PRESENT", "a requested extension is not supported"},
	vk.ErrorFeatureNotPresent:   {"VK_ERROR_FEATURE_NOT_PRESENT", "a requested feature is not supported"},
	vk.ErrorIncompatibleDriver:  {"VK_ERROR_INCOMPATIBLE_DRIVER", "the requested version of vulkan is not supported by the driver"},
	vk.ErrorTooManyObjects:      {"VK_ERROR_TOO_MANY_OBJECTS", "too many objects of the type have already been created"},
	vk.ErrorFormatNotSupported:  {"VK_ERROR_FORMAT_NOT_SUPPORTED", "a requested format is not supported on this device"},
	vk.ErrorFragmentedPool:      {"VK_ERROR_FRAGMENTED_POOL", "a pool allocation has failed due to fragmentation"},
	vk.ErrorSurfaceLost:         {"VK_ERROR_SURFACE_LOST_KHR", "the surface is no longer available"},
	vk.ErrorNativeWindowInUse:   {"VK_ERROR_NATIVE_WINDOW_IN_USE_KHR", "the window is already in use"},
	vk.ErrorOutOfDate:           {"VK_ERROR_OUT_OF_DATE_KHR", "the surface changed and is no longer compatible with the swapchain"},
	vk.ErrorIncompatibleDisplay: {"VK_ERROR_INCOMPATIBLE_DISPLAY_KHR", "the display is incompatible with the swapchain"},
	vk.ErrorOutOfPoolMemory:     {"VK_ERROR_OUT_OF_POOL_MEMORY", "a pool memory allocation has failed"},
	vk.ErrorFragmentation:       {"VK_ERROR_FRAGMENTATION", "a descriptor pool creation has failed due to fragmentation"},
	vk.ErrorUnknown:             {"VK_ERROR_UNKNOWN", "an unknown error has occurred"},
}

func VulkanResultString(result vk.Result, getExtended bool) string {
	info, ok := resultInfos[result]
	if !ok {
		info = resultInfos[vk.ErrorUnknown]
	}
	if getExtended {
		return info.name + " " + info.detail
	}
	return info.name
}

func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= vk.Success
}

// vkError turns a failed result into an error. Device loss is fatal and carries
// core.ErrDeviceLost; the caller is expected to log.
func vkError(result vk.Result, op string) error {
	if VulkanResultIsSuccess(result) {
		return nil
	}
	if result == vk.ErrorDeviceLost {
		return core.MarkFatal(errors.Wrapf(core.ErrDeviceLost, "%s: %s", op, VulkanResultString(result, true)))
	}
	return errors.Newf("%s: %s", op, VulkanResultString(result, true))
}

// check logs and returns the error for a failed result.
func check(result vk.Result, op string) error {
	err := vkError(result, op)
	if err != nil {
		core.LogError(err.Error())
	}
	return err
}

func timeoutNanos(timeout time.Duration) uint64 {
	if timeout == gpu.TimeoutInfinite || timeout < 0 {
		return math.MaxUint64
	}
	return uint64(timeout.Nanoseconds())
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}
