// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package wasm

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// compiledPattern holds a pattern and its compiled glob.
type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// ExportPolicy is an allow-list of export names.
//
// Patterns use gobwas/glob syntax: "process_*" matches "process_text",
// "{greet,calculate}" matches either name. A nil policy allows everything.
// ExportPolicy is immutable and safe for concurrent use.
type ExportPolicy struct {
	patterns []compiledPattern
}

// NewExportPolicy compiles the given patterns. Returns an error if any
// pattern is empty or has invalid glob syntax.
func NewExportPolicy(patterns []string) (*ExportPolicy, error) {
	compiled := make([]compiledPattern, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return nil, fmt.Errorf("export %d: empty pattern", i)
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("export %d (%q): %w", i, pattern, err)
		}
		compiled[i] = compiledPattern{pattern: pattern, glob: g}
	}
	return &ExportPolicy{patterns: compiled}, nil
}

// Allows reports whether function matches any pattern.
func (p *ExportPolicy) Allows(function string) bool {
	if p == nil {
		return true
	}
	for _, cp := range p.patterns {
		if cp.glob.Match(function) {
			return true
		}
	}
	return false
}

// Literals returns the patterns that contain no glob syntax, in order.
func (p *ExportPolicy) Literals() []string {
	if p == nil {
		return nil
	}
	var names []string
	for _, cp := range p.patterns {
		if !strings.ContainsAny(cp.pattern, `*?[]{}\`) {
			names = append(names, cp.pattern)
		}
	}
	return names
}
