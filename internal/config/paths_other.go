//go:build !linux && !darwin

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	wd, _ := os.Getwd()
	return []string{
		filepath.Join(wd, "controller.yaml"),
	}
}
