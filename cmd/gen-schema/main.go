// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

// Command gen-schema writes the plugin manifest JSON Schema.
//
// Usage: gen-schema [OUT]. OUT defaults to schemas/plugin.schema.json; "-"
// writes to standard output.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/plugbridge/plugbridge/internal/plugin"
)

const defaultOut = "schemas/plugin.schema.json"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) > 1 {
		return fmt.Errorf("usage: gen-schema [OUT]")
	}
	outPath := defaultOut
	if len(args) == 1 {
		outPath = args[0]
	}

	schema, err := plugin.GenerateSchema()
	if err != nil {
		return fmt.Errorf("generating schema: %w", err)
	}

	if outPath == "-" {
		_, err := stdout.Write(schema)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(outPath, schema, 0o600); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	_, _ = fmt.Fprintf(stdout, "Generated %s\n", outPath)
	return nil
}
