/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	_ "github.com/spaghettifunk/prism/engine/renderer/gpu/sim"
	_ "github.com/spaghettifunk/prism/engine/renderer/vulkan"
	"github.com/spaghettifunk/prism/testbed"
)

const defaultConfigPath = "config.toml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the TOML configuration")
	backend := flag.String("backend", "", "gpu backend to use (vulkan, sim), overrides the configuration")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		core.LogError(err.Error())
		os.Exit(1)
	}
	if *backend != "" {
		cfg.Renderer.Backend = *backend
		if err := cfg.Validate(); err != nil {
			core.LogError(err.Error())
			os.Exit(1)
		}
	}

	e, err := engine.New(testbed.NewTestGame(cfg).Game)
	if err != nil {
		core.LogError(err.Error())
		os.Exit(1)
	}

	if err := e.Initialize(); err != nil {
		core.LogError("failed to initialize: %s", err)
		_ = e.Shutdown()
		os.Exit(1)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		core.LogInfo("signal received, stopping")
		e.Stop()
	}()

	// run engine
	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

// loadConfig reads path. The default path may be missing, in which case the defaults apply.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultConfigPath {
		core.LogWarn("no %s found, using the default configuration", path)
		return config.Default(), nil
	}
	return config.Load(path)
}
