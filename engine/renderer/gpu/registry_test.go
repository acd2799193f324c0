package gpu

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestRegistryOpen(t *testing.T) {
	opened := 0
	Register("test-backend", func(cfg Config) (Backend, error) {
		opened++
		require.Equal(t, "registry", cfg.AppName)
		return nil, nil
	})
	defer Unregister("test-backend")

	require.True(t, IsRegistered("test-backend"))
	require.Contains(t, Available(), "test-backend")

	_, err := Open("test-backend", Config{AppName: "registry"})
	require.NoError(t, err)
	require.Equal(t, 1, opened)

	_, err = Open("missing", Config{})
	require.True(t, errors.Is(err, ErrBackendNotAvailable))
}

func TestOpenDefaultFallsThroughPriority(t *testing.T) {
	for _, name := range backendPriority {
		if factory, ok := backends[name]; ok {
			defer Register(name, factory)
			Unregister(name)
		}
	}

	failing := errors.New("no vulkan driver")
	Register(BackendVulkan, func(Config) (Backend, error) { return nil, failing })
	defer Unregister(BackendVulkan)

	_, err := OpenDefault(Config{})
	require.True(t, errors.Is(err, ErrBackendNotAvailable))
	require.True(t, errors.Is(err, failing))

	picked := ""
	Register(BackendSim, func(Config) (Backend, error) {
		picked = BackendSim
		return nil, nil
	})
	defer Unregister(BackendSim)

	_, err = OpenDefault(Config{})
	require.NoError(t, err)
	require.Equal(t, BackendSim, picked)
}

func TestParsePresentMode(t *testing.T) {
	m, ok := ParsePresentMode("mailbox")
	require.True(t, ok)
	require.Equal(t, PresentModeMailbox, m)

	m, ok = ParsePresentMode("vsync-please")
	require.False(t, ok)
	require.Equal(t, PresentModeFifo, m)
}
