// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// ManifestFile is the manifest file name inside a plugin directory.
const ManifestFile = "plugin.yaml"

// DiscoveredPlugin contains a manifest and its directory.
type DiscoveredPlugin struct {
	Manifest *Manifest
	Dir      string
}

// Discover finds all valid plugins in dir, one per subdirectory holding a
// plugin.yaml. Invalid plugins are logged and skipped. A missing dir yields
// no plugins.
func Discover(dir string) ([]*DiscoveredPlugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var plugins []*DiscoveredPlugin
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(dir, entry.Name())
		m, err := LoadManifest(filepath.Join(pluginDir, ManifestFile))
		if err != nil {
			slog.Warn("skipping plugin with invalid manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		plugins = append(plugins, &DiscoveredPlugin{
			Manifest: m,
			Dir:      pluginDir,
		})
	}

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Manifest.Name < plugins[j].Manifest.Name
	})
	return plugins, nil
}
