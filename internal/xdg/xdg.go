// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

// Package xdg provides XDG Base Directory paths for plugbridge.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "plugbridge"

// ConfigDir returns the XDG config directory for plugbridge.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the XDG data directory for plugbridge.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	return filepath.Join(base, appName)
}

// PluginsDir returns the directory holding installed plugins, one
// subdirectory per plugin.
func PluginsDir() string {
	return filepath.Join(DataDir(), "plugins")
}
