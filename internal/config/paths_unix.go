//go:build linux || darwin

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		"/etc/rescontrol/controller.yaml",
		filepath.Join(home, ".rescontrol", "config.yaml"),
	}
}
