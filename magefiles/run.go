//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Builds the shaders and runs the testbed. PRISM_BACKEND selects the gpu backend.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	args := []string{"run", ".", "-config", "config.toml"}
	if backend := os.Getenv("PRISM_BACKEND"); backend != "" {
		args = append(args, "-backend", backend)
	}
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs(args...), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs every package test with the race detector.
func (Run) Tests() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream())
	return err
}
