package renderer

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// OpenBackend opens the backend registered under name, or the first available one when name
// is empty or "auto". Backends register themselves when their package is imported.
func OpenBackend(name string, cfg gpu.Config) (gpu.Backend, error) {
	core.LogDebug("registered backends: %v", gpu.Available())

	var (
		dev gpu.Backend
		err error
	)
	if name == "" || name == "auto" {
		dev, err = gpu.OpenDefault(cfg)
	} else {
		dev, err = gpu.Open(name, cfg)
	}
	if err != nil {
		err = core.MarkFatal(err)
		core.LogError(err.Error())
		return nil, err
	}
	limits := dev.Limits()
	core.LogInfo("opened `%s` backend (UBO alignment %d, max %dx MSAA)", dev.Name(), limits.MinUniformBufferOffsetAlignment, limits.MaxColorSamples)
	return dev, nil
}
