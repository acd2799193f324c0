//go:build mage

package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

const shaderDir = "assets/shaders"

type Build mg.Namespace

// Compiles every GLSL stage under assets/shaders to SPIR-V next to its source.
func (Build) Shaders() error {
	return buildShaders()
}

// Tidies the module, regenerates the mocks and builds the binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	if err := goGenerate(); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("build", "-o", "bin/prism", "."), withStream())
	return err
}

func buildShaders() error {
	entries, err := os.ReadDir(shaderDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".vert" && ext != ".frag") {
			continue
		}
		src := filepath.Join(shaderDir, e.Name())
		out := src + ".spv"
		if upToDate(src, out) {
			continue
		}
		if _, err := executeCmd("glslc", withArgs("-I", shaderDir, src, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// upToDate reports whether out is newer than src and every include in the shader directory.
func upToDate(src, out string) bool {
	outInfo, err := os.Stat(out)
	if err != nil {
		return false
	}
	deps, _ := filepath.Glob(filepath.Join(shaderDir, "*.glsl"))
	for _, dep := range append(deps, src) {
		info, err := os.Stat(dep)
		if err != nil || info.ModTime().After(outInfo.ModTime()) {
			return false
		}
	}
	return true
}
