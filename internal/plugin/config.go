// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package plugin

import (
	"maps"
	"slices"
	"time"
)

// RuntimeOptions tune the plugin runtime.
type RuntimeOptions struct {
	Wasi           bool
	AllowedHosts   []string
	Timeout        time.Duration
	MemoryMaxPages uint32
	GuestConfig    map[string]string
}

func (o RuntimeOptions) clone() RuntimeOptions {
	o.AllowedHosts = slices.Clone(o.AllowedHosts)
	o.GuestConfig = maps.Clone(o.GuestConfig)
	return o
}

// Config describes one plugin. It is immutable once built.
type Config struct {
	name           string
	source         string
	functions      []string
	typ            Type
	enforceExports bool
	runtime        RuntimeOptions
}

// ConfigOption configures a Config.
type ConfigOption func(*Config)

// WithName sets the plugin name used in logs and spans.
func WithName(name string) ConfigOption {
	return func(c *Config) {
		c.name = name
	}
}

// WithType selects the plugin runtime.
func WithType(t Type) ConfigOption {
	return func(c *Config) {
		c.typ = t
	}
}

// WithEnforceExports turns the function list into an allow-list.
func WithEnforceExports(enforce bool) ConfigOption {
	return func(c *Config) {
		c.enforceExports = enforce
	}
}

// WithRuntime sets runtime options.
func WithRuntime(opts RuntimeOptions) ConfigOption {
	return func(c *Config) {
		c.runtime = opts.clone()
	}
}

// NewConfig creates a plugin config. The default type is extism and the
// default name is "plugin".
func NewConfig(source string, functions []string, opts ...ConfigOption) *Config {
	c := &Config{
		name:      "plugin",
		source:    source,
		functions: slices.Clone(functions),
		typ:       TypeExtism,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the plugin name.
func (c *Config) Name() string { return c.name }

// Source returns the byte-source locator of the plugin binary.
func (c *Config) Source() string { return c.source }

// Functions returns a copy of the declared export names.
func (c *Config) Functions() []string { return slices.Clone(c.functions) }

// Type returns the plugin runtime.
func (c *Config) Type() Type { return c.typ }

// EnforceExports reports whether Functions restricts callable exports.
func (c *Config) EnforceExports() bool { return c.enforceExports }

// Runtime returns a copy of the runtime options.
func (c *Config) Runtime() RuntimeOptions { return c.runtime.clone() }
