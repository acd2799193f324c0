package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[app]
width = 1024
height = 768

[renderer]
backend = "sim"
frames_in_flight = 3

[renderer.arena]
chunk_mib = 64

[sim]
gpu_latency_ms = 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, uint32(1024), cfg.App.Width)
	require.Equal(t, "Prism Testbed", cfg.App.Name)
	require.Equal(t, "sim", cfg.Renderer.Backend)
	require.Equal(t, 3, cfg.Renderer.FramesInFlight)
	require.Equal(t, uint64(64), cfg.Renderer.Arena.ChunkMiB)
	require.Equal(t, uint64(32), cfg.Renderer.StagingMiB)

	gcfg := cfg.GPUConfig(nil)
	require.Equal(t, uint32(768), gcfg.Extent.Height)
	require.Equal(t, int64(10), gcfg.SimLatency.Milliseconds())
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"frames in flight": "[renderer]\nframes_in_flight = 4\n",
		"msaa":             "[renderer]\nmsaa_samples = 3\n",
		"present mode":     "[renderer]\npresent_mode = \"tearing\"\n",
		"backend":          "[renderer]\nbackend = \"metal\"\n",
		"staging":          "[renderer]\nstaging_mib = 512\n",
		"syntax":           "[renderer\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLightCapViolation(t *testing.T) {
	cfg := Default()
	cfg.Renderer.Lights.MaxPoint = MaxLights + 1
	err := cfg.Validate()
	require.True(t, errors.Is(err, core.ErrLightCapExceeded))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}
