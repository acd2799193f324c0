package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// MaxLights is the hard per-kind light cap of the frame uniform.
const MaxLights = 8

type Config struct {
	App      AppConfig      `toml:"app"`
	Log      LogConfig      `toml:"log"`
	Renderer RendererConfig `toml:"renderer"`
	Sim      SimConfig      `toml:"sim"`
}

type AppConfig struct {
	// The application name used in windowing, if applicable.
	Name string `toml:"name"`
	// Window starting width, if applicable.
	Width uint32 `toml:"width"`
	// Window starting height, if applicable.
	Height uint32 `toml:"height"`
	// Window starting position x axis, if applicable.
	X uint32 `toml:"x"`
	// Window starting position y axis, if applicable.
	Y uint32 `toml:"y"`
}

type LogConfig struct {
	Level core.LogLevel `toml:"level"`
}

type RendererConfig struct {
	Backend        string `toml:"backend"`
	FramesInFlight int    `toml:"frames_in_flight"`
	MSAASamples    uint32 `toml:"msaa_samples"`
	PresentMode    string `toml:"present_mode"`
	Validation     bool   `toml:"validation"`
	StagingMiB     uint64 `toml:"staging_mib"`
	// UniformStride pins the per-image uniform stride. Zero derives it from the device.
	UniformStride      uint64 `toml:"uniform_stride"`
	MaxSwapchainImages uint32 `toml:"max_swapchain_images"`
	AssetDir           string `toml:"asset_dir"`
	WatchShaders       bool   `toml:"watch_shaders"`

	Arena  ArenaConfig `toml:"arena"`
	Lights LightConfig `toml:"lights"`
}

type ArenaConfig struct {
	ChunkMiB uint64 `toml:"chunk_mib"`
}

type LightConfig struct {
	MaxDirectional int `toml:"max_directional"`
	MaxPoint       int `toml:"max_point"`
}

type SimConfig struct {
	GPULatencyMs int    `toml:"gpu_latency_ms"`
	ImageCount   uint32 `toml:"image_count"`
}

func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:   "Prism Testbed",
			Width:  800,
			Height: 600,
			X:      100,
			Y:      100,
		},
		Log: LogConfig{Level: core.LogLevelInfo},
		Renderer: RendererConfig{
			Backend:            "",
			FramesInFlight:     2,
			MSAASamples:        4,
			PresentMode:        gpu.PresentModeMailbox.String(),
			Validation:         false,
			StagingMiB:         32,
			MaxSwapchainImages: 4,
			AssetDir:           "assets",
			WatchShaders:       false,
			Arena:              ArenaConfig{ChunkMiB: 256},
			Lights:             LightConfig{MaxDirectional: MaxLights, MaxPoint: MaxLights},
		},
		Sim: SimConfig{
			GPULatencyMs: 4,
			ImageCount:   3,
		},
	}
}

// Load reads a TOML file on top of the defaults. Keys absent from the file keep their default.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config `%s`", path)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, errors.Wrapf(err, "parsing config `%s` at %d:%d", path, row, col)
		}
		return nil, errors.Wrapf(err, "parsing config `%s`", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	r := c.Renderer
	if c.App.Width == 0 || c.App.Height == 0 {
		return errors.Newf("app size must be non-zero, got %dx%d", c.App.Width, c.App.Height)
	}
	if r.FramesInFlight < 1 || r.FramesInFlight > 3 {
		return errors.Newf("renderer.frames_in_flight must be within [1, 3], got %d", r.FramesInFlight)
	}
	switch gpu.SampleCount(r.MSAASamples) {
	case gpu.SampleCount1, gpu.SampleCount2, gpu.SampleCount4, gpu.SampleCount8:
	default:
		return errors.Newf("renderer.msaa_samples must be 1, 2, 4 or 8, got %d", r.MSAASamples)
	}
	if _, ok := gpu.ParsePresentMode(r.PresentMode); !ok {
		return errors.Newf("renderer.present_mode `%s` is unknown", r.PresentMode)
	}
	if r.Backend != "" && r.Backend != gpu.BackendVulkan && r.Backend != gpu.BackendSim {
		return errors.Newf("renderer.backend `%s` is unknown", r.Backend)
	}
	if r.Arena.ChunkMiB == 0 || r.StagingMiB == 0 {
		return errors.New("renderer arena and staging sizes must be non-zero")
	}
	if r.StagingMiB >= r.Arena.ChunkMiB {
		return errors.Newf("renderer.staging_mib (%d) must fit in renderer.arena.chunk_mib (%d)", r.StagingMiB, r.Arena.ChunkMiB)
	}
	if r.MaxSwapchainImages < 2 {
		return errors.Newf("renderer.max_swapchain_images must be at least 2, got %d", r.MaxSwapchainImages)
	}
	if r.Lights.MaxDirectional < 0 || r.Lights.MaxDirectional > MaxLights ||
		r.Lights.MaxPoint < 0 || r.Lights.MaxPoint > MaxLights {
		return errors.Mark(errors.Newf("light caps must be within [0, %d], got %d directional and %d point",
			MaxLights, r.Lights.MaxDirectional, r.Lights.MaxPoint), core.ErrLightCapExceeded)
	}
	if c.Sim.GPULatencyMs < 0 {
		return errors.Newf("sim.gpu_latency_ms must not be negative, got %d", c.Sim.GPULatencyMs)
	}
	return nil
}

// GPUConfig is the backend-facing subset of the configuration.
func (c *Config) GPUConfig(surface gpu.SurfaceSource) gpu.Config {
	return gpu.Config{
		AppName:       c.App.Name,
		Surface:       surface,
		Validation:    c.Renderer.Validation,
		Extent:        gpu.Extent2D{Width: c.App.Width, Height: c.App.Height},
		SimLatency:    time.Duration(c.Sim.GPULatencyMs) * time.Millisecond,
		SimImageCount: c.Sim.ImageCount,
	}
}
