// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/plugbridge/plugbridge/internal/plugin"
	"github.com/plugbridge/plugbridge/internal/xdg"
)

// newValidateCmd creates the validate subcommand.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [PATH...]",
		Short: "Validate plugin manifests",
		Long: `Validate plugin manifests against the schema and semantic rules.

Each PATH is a manifest file, a plugin directory holding plugin.yaml, or a
directory of plugin directories. With no PATH the installed plugins
directory (XDG_DATA_HOME/plugbridge/plugins) is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{xdg.PluginsDir()}
			}
			return runValidate(cmd, args)
		},
	}
}

func runValidate(cmd *cobra.Command, paths []string) error {
	var manifests []string
	for _, p := range paths {
		found, err := manifestPaths(p)
		if err != nil {
			return err
		}
		manifests = append(manifests, found...)
	}
	if len(manifests) == 0 {
		cmd.Println("no manifests found")
		return nil
	}

	failed := 0
	for _, path := range manifests {
		m, err := plugin.LoadManifest(path)
		if err != nil {
			failed++
			cmd.Printf("FAIL %s\n  %v\n", path, err)
			continue
		}
		cmd.Printf("ok   %s (%s %s)\n", path, m.Name, m.Version)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d manifests invalid", failed, len(manifests))
	}
	return nil
}

// manifestPaths expands path into the manifest files it names.
func manifestPaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	direct := filepath.Join(path, plugin.ManifestFile)
	if _, err := os.Stat(direct); err == nil {
		return []string{direct}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var out []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(path, entry.Name(), plugin.ManifestFile)
		if _, err := os.Stat(candidate); err == nil {
			out = append(out, candidate)
		}
	}
	return out, nil
}
