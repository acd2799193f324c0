// Package vulkan implements gpu.Backend on top of goki/vulkan. Importing the package registers
// the backend under gpu.BackendVulkan.
package vulkan

import (
	"runtime"
	"sort"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

var _ gpu.Backend = (*Device)(nil)

func init() {
	gpu.Register(gpu.BackendVulkan, func(cfg gpu.Config) (gpu.Backend, error) {
		return New(cfg)
	})
}

type Device struct {
	*VulkanDevice

	cfg      gpu.Config
	instance vk.Instance
	surface  vk.Surface
	debug    vk.DebugReportCallback

	lockPool *VulkanLockPool
	h        *handles
	limits   gpu.DeviceLimits
	closed   bool
}

// New creates the instance, the surface and the logical device. A missing loader or window
// surface is reported as gpu.ErrBackendNotAvailable so the registry can fall back.
func New(cfg gpu.Config) (*Device, error) {
	if cfg.Surface == nil {
		return nil, errors.Wrap(gpu.ErrBackendNotAvailable, "vulkan needs a window surface")
	}
	procAddr := cfg.Surface.ProcAddr()
	if procAddr == nil {
		return nil, errors.Wrap(gpu.ErrBackendNotAvailable, "GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to initialize vulkan loader"), gpu.ErrBackendNotAvailable)
	}

	d := &Device{
		cfg:      cfg,
		lockPool: NewVulkanLockPool(),
		h:        newHandles(),
	}
	if err := d.createInstance(); err != nil {
		return nil, err
	}
	if cfg.Validation {
		d.createDebugCallback()
	}

	core.LogDebug("creating vulkan surface...")
	ptr, err := cfg.Surface.CreateSurface(d.instance)
	if err != nil || ptr == 0 {
		if err == nil {
			err = errors.New("platform returned a null surface")
		}
		err = errors.Wrap(err, "failed to create vulkan surface")
		core.LogError(err.Error())
		d.Shutdown()
		return nil, err
	}
	d.surface = vk.SurfaceFromPointer(ptr)

	vd, err := selectPhysicalDevice(d.instance, d.surface)
	if err != nil {
		d.Shutdown()
		return nil, err
	}
	d.VulkanDevice = vd
	if err := vd.createLogical(); err != nil {
		d.Shutdown()
		return nil, err
	}
	d.lockPool.SetQueueFamily(vd.GraphicsQueueIndex)
	d.lockPool.SetQueueFamily(vd.PresentQueueIndex)
	d.limits = vd.limits()

	core.LogInfo("vulkan backend initialized")
	return d, nil
}

func (d *Device) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(d.cfg.AppName),
		PEngineName:        VulkanSafeString("Prism"),
	}

	extensions := map[string]bool{"VK_KHR_surface": true}
	for _, e := range d.cfg.Surface.RequiredInstanceExtensions() {
		extensions[e] = true
	}
	var flags vk.InstanceCreateFlags
	if runtime.GOOS == "darwin" {
		extensions["VK_KHR_portability_enumeration"] = true
		extensions["VK_KHR_get_physical_device_properties2"] = true
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		flags |= 1
	}
	if d.cfg.Validation {
		extensions[vk.ExtDebugReportExtensionName] = true
	}
	required := make([]string, 0, len(extensions))
	for e := range extensions {
		required = append(required, e)
	}
	sort.Strings(required)
	core.LogDebug("required instance extensions: %v", required)

	var layers []string
	if d.cfg.Validation {
		if hasInstanceLayer(validationLayer) {
			layers = append(layers, validationLayer)
			core.LogInfo("validation layers enabled")
		} else {
			core.LogWarn("validation requested but `%s` is not installed", validationLayer)
		}
	}

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		Flags:                   flags,
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(required)),
		PpEnabledExtensionNames: VulkanSafeStrings(required),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     VulkanSafeStrings(layers),
	}

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, nil, &instance); res != vk.Success {
		err := errors.Mark(vkError(res, "creating vulkan instance"), gpu.ErrBackendNotAvailable)
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(instance); err != nil {
		core.LogError(err.Error())
		vk.DestroyInstance(instance, nil)
		return err
	}
	d.instance = instance
	core.LogInfo("vulkan instance created")
	return nil
}

func hasInstanceLayer(name string) bool {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return false
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if vk.ToString(available[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

// createDebugCallback routes validation messages to the logger. Failure only costs diagnostics.
func (d *Device) createDebugCallback() {
	debugCreateInfo := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: dbgCallbackFunc,
	}
	var dbg vk.DebugReportCallback
	if err := vk.Error(vk.CreateDebugReportCallback(d.instance, &debugCreateInfo, nil, &dbg)); err != nil {
		core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
		return
	}
	d.debug = dbg
	core.LogDebug("vulkan debugger created")
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("performance: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}

func (d *Device) Name() string {
	return gpu.BackendVulkan
}

func (d *Device) Limits() gpu.DeviceLimits {
	return d.limits
}

// Shutdown waits for the device and destroys it in reverse creation order. Objects the
// application still holds are reported, not destroyed.
func (d *Device) Shutdown() {
	if d.closed {
		return
	}
	d.closed = true

	if d.VulkanDevice != nil && d.LogicalDevice != nil {
		if err := d.WaitIdle(); err != nil {
			core.LogWarn("wait idle before shutdown: %s", err)
		}
		if live := d.h.live(); len(live) > 0 {
			core.LogWarn("vulkan objects still alive at shutdown: %v", live)
		}
		d.VulkanDevice.destroy()
	}

	if d.surface != vk.NullSurface {
		core.LogDebug("destroying vulkan surface...")
		vk.DestroySurface(d.instance, d.surface, nil)
		d.surface = vk.NullSurface
	}
	if d.debug != vk.NullDebugReportCallback {
		core.LogDebug("destroying vulkan debugger...")
		vk.DestroyDebugReportCallback(d.instance, d.debug, nil)
		d.debug = vk.NullDebugReportCallback
	}
	if d.instance != nil {
		core.LogDebug("destroying vulkan instance...")
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
}
