// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/plugbridge/plugbridge/internal/plugin"
	"github.com/plugbridge/plugbridge/internal/xdg"
)

// pluginInfo is one row of the plugins listing.
type pluginInfo struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Type      string   `json:"type"`
	Source    string   `json:"source"`
	Functions []string `json:"functions,omitempty"`
	Dir       string   `json:"dir"`
}

// newPluginsCmd creates the plugins subcommand.
func newPluginsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "plugins [DIR]",
		Short: "List installed plugins",
		Long: `List the valid plugins found in DIR, one per subdirectory holding a
plugin.yaml. DIR defaults to XDG_DATA_HOME/plugbridge/plugins. Invalid
plugins are skipped with a warning; use validate to see why.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := xdg.PluginsDir()
			if len(args) == 1 {
				dir = args[0]
			}
			return runPlugins(cmd, dir, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runPlugins(cmd *cobra.Command, dir string, jsonOutput bool) error {
	found, err := plugin.Discover(dir)
	if err != nil {
		return err
	}

	infos := make([]pluginInfo, 0, len(found))
	for _, p := range found {
		infos = append(infos, pluginInfo{
			Name:      p.Manifest.Name,
			Version:   p.Manifest.Version,
			Type:      string(p.Manifest.Type),
			Source:    p.Manifest.Source,
			Functions: p.Manifest.Functions,
			Dir:       p.Dir,
		})
	}

	if jsonOutput {
		data, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal plugins: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(infos) == 0 {
		cmd.Printf("no plugins in %s\n", dir)
		return nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tVERSION\tTYPE\tSOURCE")
	for _, info := range infos {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Name, info.Version, info.Type, info.Source)
	}
	_ = w.Flush()
	cmd.Print(buf.String())
	return nil
}
