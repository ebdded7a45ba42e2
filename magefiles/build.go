//go:build mage

package main

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const shaderDir = "assets/shaders"

var shaderStages = map[string]bool{
	".vert": true,
	".frag": true,
	".comp": true,
	".geom": true,
	".tesc": true,
	".tese": true,
}

// Builds the headless driver into bin/anima.
func (Build) Binary() error {
	mg.Deps(Build.Shaders)
	// goki/vulkan loads the Vulkan loader through cgo.
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/anima", "."), withEnv("CGO_ENABLED=1"), withStream()); err != nil {
		return err
	}
	return nil
}

// Compiles every GLSL source under assets/shaders to SPIR-V next to it.
func (Build) Shaders() error {
	return buildShaders()
}

func buildShaders() error {
	return filepath.WalkDir(shaderDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !shaderStages[filepath.Ext(path)] {
			return nil
		}
		out := path + ".spv"
		if _, err := executeCmd("glslc", withArgs(path, "-o", out), withStream()); err != nil {
			return fmt.Errorf("compile %s: %w", path, err)
		}
		return nil
	})
}
