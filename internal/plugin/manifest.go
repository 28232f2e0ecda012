// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/plugbridge/plugbridge/internal/wasm"
)

// Type identifies the plugin runtime.
type Type string

// Plugin types supported by the system.
const (
	// TypeExtism plugins run on the Extism runtime and exchange bytes.
	TypeExtism Type = "extism"
	// TypeCore plugins are plain WebAssembly modules with numeric exports.
	TypeCore Type = "core"
)

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name           string            `yaml:"name" jsonschema:"minLength=1,maxLength=64,pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$"`
	Version        string            `yaml:"version" jsonschema:"minLength=1"`
	Type           Type              `yaml:"type" jsonschema:"enum=extism,enum=core"`
	Source         string            `yaml:"source" jsonschema:"minLength=1"`
	Functions      []string          `yaml:"functions,omitempty"`
	EnforceExports bool              `yaml:"enforce-exports,omitempty"`
	Wasi           bool              `yaml:"wasi,omitempty"`
	AllowedHosts   []string          `yaml:"allowed-hosts,omitempty"`
	TimeoutMS      int               `yaml:"timeout-ms,omitempty" jsonschema:"minimum=0"`
	MemoryMaxPages uint32            `yaml:"memory-max-pages,omitempty"`
	GuestConfig    map[string]string `yaml:"config,omitempty"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// LoadManifest reads a manifest file, validates it against the schema and
// resolves a relative file source against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	if err := ValidateSchema(data); err != nil {
		return nil, fmt.Errorf("%s: %s", path, FormatSchemaError(err))
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if !isRemote(m.Source) && !filepath.IsAbs(m.Source) && !strings.HasPrefix(m.Source, "file://") {
		m.Source = filepath.Join(filepath.Dir(path), m.Source)
	}
	return m, nil
}

func isRemote(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not a semantic version: %w", m.Version, err)
	}

	switch m.Type {
	case TypeExtism, TypeCore:
	default:
		return fmt.Errorf("type must be 'extism' or 'core', got %q", m.Type)
	}

	if m.Source == "" {
		return fmt.Errorf("source is required")
	}

	if _, err := wasm.NewExportPolicy(m.Functions); err != nil {
		return fmt.Errorf("functions: %w", err)
	}
	if m.EnforceExports && len(m.Functions) == 0 {
		return fmt.Errorf("enforce-exports requires at least one function")
	}

	if m.Type == TypeCore && (m.Wasi || len(m.AllowedHosts) > 0) {
		return fmt.Errorf("wasi and allowed-hosts apply only to extism plugins")
	}
	for i, host := range m.AllowedHosts {
		if _, err := glob.Compile(host, '.'); err != nil {
			return fmt.Errorf("allowed-hosts %d (%q): %w", i, host, err)
		}
	}

	if m.TimeoutMS < 0 {
		return fmt.Errorf("timeout-ms must not be negative, got %d", m.TimeoutMS)
	}

	return nil
}

// Config builds the immutable runtime configuration for this manifest.
func (m *Manifest) Config() *Config {
	return NewConfig(m.Source, m.Functions,
		WithName(m.Name),
		WithType(m.Type),
		WithEnforceExports(m.EnforceExports),
		WithRuntime(RuntimeOptions{
			Wasi:           m.Wasi,
			AllowedHosts:   m.AllowedHosts,
			Timeout:        time.Duration(m.TimeoutMS) * time.Millisecond,
			MemoryMaxPages: m.MemoryMaxPages,
			GuestConfig:    m.GuestConfig,
		}),
	)
}
