// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/plugbridge/plugbridge/internal/bridge"
)

// ServerStatus holds the status reported by a running server.
type ServerStatus struct {
	Addr    string         `json:"addr"`
	Running bool           `json:"running"`
	Plugin  *bridge.Status `json:"plugin,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// newStatusCmd creates the status subcommand with all flags configured.
func newStatusCmd(deps *Deps) *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running plugbridge server",
		Long:  `Query the API of a running server (see --addr) and show plugin readiness.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg, deps)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig, deps *Deps) error {
	appCfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	status := queryServerStatus(deps.HTTPClient, appCfg.Serve.Addr)

	var output string
	if cfg.jsonOutput {
		output, err = formatStatusJSON(status)
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
	} else {
		output = formatStatusTable(status)
	}

	cmd.Println(output)
	return nil
}

// queryServerStatus queries GET /api/status on addr.
func queryServerStatus(client *http.Client, addr string) ServerStatus {
	status := ServerStatus{Addr: addr}

	resp, err := client.Get("http://" + addr + "/api/status")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		status.Error = fmt.Sprintf("unexpected response: %s", resp.Status)
		return status
	}

	var ps bridge.Status
	if err := json.NewDecoder(resp.Body).Decode(&ps); err != nil {
		status.Error = fmt.Sprintf("failed to decode status response: %v", err)
		return status
	}

	status.Running = true
	status.Plugin = &ps
	return status
}

// pluginState names the readiness snapshot.
func pluginState(s bridge.Status) string {
	switch {
	case s.IsReady:
		return "ready"
	case s.IsLoading:
		return "loading"
	default:
		return "failed"
	}
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status ServerStatus) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "SERVER\tSTATUS\tPLUGIN\tDETAIL")
	_, _ = fmt.Fprintln(w, "------\t------\t------\t------")

	switch {
	case !status.Running:
		reason := "not running"
		if status.Error != "" {
			reason = status.Error
		}
		_, _ = fmt.Fprintf(w, "%s\tstopped\t-\t%s\n", status.Addr, reason)
	default:
		detail := "-"
		if status.Plugin.Error != "" {
			detail = status.Plugin.Error
		}
		_, _ = fmt.Fprintf(w, "%s\trunning\t%s\t%s\n", status.Addr, pluginState(*status.Plugin), detail)
	}

	_ = w.Flush()
	return buf.String()
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(status ServerStatus) (string, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(data), nil
}
