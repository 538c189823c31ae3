package config

import (
	"os"
	"path/filepath"
)

// Paths holds the directories searched for kvmboot.yaml.
type Paths struct {
	// ConfigDir is $XDG_CONFIG_HOME/kvmboot, or ~/.config/kvmboot.
	ConfigDir string

	// DataDir is ~/.kvmboot.
	DataDir string
}

// GetPaths returns the config search directories.
func GetPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	p := &Paths{DataDir: filepath.Join(home, ".kvmboot")}

	// Respect XDG_CONFIG_HOME if set
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		p.ConfigDir = filepath.Join(xdgConfig, "kvmboot")
	} else {
		p.ConfigDir = filepath.Join(home, ".config", "kvmboot")
	}
	return p, nil
}
