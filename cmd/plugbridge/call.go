// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/plugbridge/plugbridge/internal/bridge"
)

// callFunc performs one plugin call.
type callFunc func(ctx context.Context, caller bridge.Caller) (string, error)

// newCallCmd creates the call subcommand and its per-export children.
func newCallCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Load the plugin and make a single call",
		Long: `Load the configured plugin, wait for it to become ready, make one
call and print the result.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "greet NAME",
		Short: "Call the greet export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, deps, func(ctx context.Context, c bridge.Caller) (string, error) {
				return c.Greet(ctx, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "calculate OPERATION A B",
		Short: "Call the calculate export",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid operand %q: %w", args[1], err)
			}
			b, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid operand %q: %w", args[2], err)
			}
			return runCall(cmd, deps, func(ctx context.Context, c bridge.Caller) (string, error) {
				return c.Calculate(ctx, args[0], a, b)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "process-text TEXT",
		Short: "Call the process_text export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, deps, func(ctx context.Context, c bridge.Caller) (string, error) {
				return c.ProcessText(ctx, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "scrape URL",
		Short: "Fetch a page and pass it to the scrape_website export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, deps, func(ctx context.Context, c bridge.Caller) (string, error) {
				return c.ScrapeWebsite(ctx, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add A B",
		Short: "Call the numeric add export",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseInt32(args[0])
			if err != nil {
				return err
			}
			b, err := parseInt32(args[1])
			if err != nil {
				return err
			}
			return runCall(cmd, deps, func(ctx context.Context, c bridge.Caller) (string, error) {
				return c.Add(ctx, a, b)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "function NAME [INPUT]",
		Short: "Call any export with a raw string input",
		Long: `Call any export with a raw string input. An INPUT of "-" reads the
input from standard input.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input string
			if len(args) == 2 {
				input = args[1]
			}
			if input == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read input: %w", err)
				}
				input = string(data)
			}
			return runCall(cmd, deps, func(ctx context.Context, c bridge.Caller) (string, error) {
				return c.CallFunction(ctx, args[0], input)
			})
		},
	})

	return cmd
}

func runCall(cmd *cobra.Command, deps *Deps, call callFunc) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	caller, err := deps.CallerFactory(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = caller.Close() }()

	if err := waitReady(ctx, cfg, caller); err != nil {
		return err
	}

	result, err := call(ctx, caller)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}

func parseInt32(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", s, err)
	}
	return int32(n), nil
}
