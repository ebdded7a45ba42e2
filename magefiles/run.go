//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Renders frames off-screen with config.toml and saves the resource cache.
func (Run) Headless() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run headless renderer...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "config.toml"), withStream()); err != nil {
		return err
	}
	return nil
}
