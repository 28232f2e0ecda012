// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

// Package config loads plugbridge settings from defaults, a YAML file,
// PLUGBRIDGE_ environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/plugbridge/plugbridge/internal/fetch"
	"github.com/plugbridge/plugbridge/internal/plugin"
	"github.com/plugbridge/plugbridge/internal/xdg"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// levels: PLUGBRIDGE_BRIDGE__CALL_TIMEOUT sets bridge.call_timeout.
const EnvPrefix = "PLUGBRIDGE_"

// Bridge modes.
const (
	ModeWorker = "worker"
	ModeDirect = "direct"
)

// Config is the full service configuration.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Plugin  PluginConfig  `koanf:"plugin"`
	Bridge  BridgeConfig  `koanf:"bridge"`
	Fetch   FetchConfig   `koanf:"fetch"`
	Serve   ServeConfig   `koanf:"serve"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// PluginConfig selects the plugin. Manifest takes precedence over Source.
type PluginConfig struct {
	Manifest  string   `koanf:"manifest"`
	Source    string   `koanf:"source"`
	Type      string   `koanf:"type"`
	Functions []string `koanf:"functions"`
}

// BridgeConfig configures the call bridge.
type BridgeConfig struct {
	Mode         string        `koanf:"mode"`
	CallTimeout  time.Duration `koanf:"call_timeout"`
	ReadyTimeout time.Duration `koanf:"ready_timeout"`
}

// FetchConfig configures the byte source.
type FetchConfig struct {
	Retries  uint64        `koanf:"retries"`
	Timeout  time.Duration `koanf:"timeout"`
	MaxBytes int64         `koanf:"max_bytes"`
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig configures the observability server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Plugin: PluginConfig{
			Type: string(plugin.TypeExtism),
		},
		Bridge: BridgeConfig{
			Mode:         ModeWorker,
			CallTimeout:  30 * time.Second,
			ReadyTimeout: 30 * time.Second,
		},
		Fetch: FetchConfig{
			Timeout:  fetch.DefaultTimeout,
			MaxBytes: fetch.DefaultMaxBytes,
		},
		Serve: ServeConfig{
			Addr: "127.0.0.1:8080",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9100",
		},
	}
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"log-format":    "log.format",
	"log-level":     "log.level",
	"manifest":      "plugin.manifest",
	"source":        "plugin.source",
	"type":          "plugin.type",
	"functions":     "plugin.functions",
	"mode":          "bridge.mode",
	"call-timeout":  "bridge.call_timeout",
	"ready-timeout": "bridge.ready_timeout",
	"fetch-retries": "fetch.retries",
	"fetch-timeout": "fetch.timeout",
	"max-bytes":     "fetch.max_bytes",
	"addr":          "serve.addr",
	"metrics-addr":  "metrics.addr",
}

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// Path is an explicit config file. It must exist when set. When empty,
	// the XDG config file is read if present.
	Path string
	// Flags supplies overrides. Only flags named in FlagKeys that were
	// changed on the command line apply.
	Flags *pflag.FlagSet
}

// Load builds the configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	path := opts.Path
	if path == "" {
		if p := xdg.ConfigFile(); fileExists(p) {
			path = p
		}
	} else if !fileExists(path) {
		return nil, fmt.Errorf("config file %s not found", path)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if opts.Flags != nil {
		fs := opts.Flags
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// listKeys are split on commas when they come from the environment.
var listKeys = map[string]bool{
	"plugin.functions": true,
}

// envKey maps PLUGBRIDGE_BRIDGE__CALL_TIMEOUT to bridge.call_timeout.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func envValue(name, value string) (string, any) {
	key := envKey(name)
	if !listKeys[key] {
		return key, value
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch plugin.Type(c.Plugin.Type) {
	case plugin.TypeExtism, plugin.TypeCore:
	default:
		errs = append(errs, fmt.Errorf("plugin.type must be 'extism' or 'core', got %q", c.Plugin.Type))
	}
	if c.Bridge.Mode != ModeWorker && c.Bridge.Mode != ModeDirect {
		errs = append(errs, fmt.Errorf("bridge.mode must be 'worker' or 'direct', got %q", c.Bridge.Mode))
	}
	if c.Bridge.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("bridge.call_timeout must not be negative"))
	}
	if c.Bridge.ReadyTimeout < 0 {
		errs = append(errs, fmt.Errorf("bridge.ready_timeout must not be negative"))
	}
	if c.Fetch.Timeout < 0 {
		errs = append(errs, fmt.Errorf("fetch.timeout must not be negative"))
	}
	if c.Fetch.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("fetch.max_bytes must not be negative"))
	}

	return errors.Join(errs...)
}

// PluginSettings resolves the plugin to run: the manifest if one is set,
// otherwise Source, Type and Functions.
func (c *Config) PluginSettings() (*plugin.Config, error) {
	if c.Plugin.Manifest != "" {
		m, err := plugin.LoadManifest(c.Plugin.Manifest)
		if err != nil {
			return nil, err
		}
		return m.Config(), nil
	}
	if c.Plugin.Source == "" {
		return nil, fmt.Errorf("plugin.manifest or plugin.source is required")
	}
	return plugin.NewConfig(c.Plugin.Source, c.Plugin.Functions,
		plugin.WithType(plugin.Type(c.Plugin.Type)),
	), nil
}

// FetchOptions returns options for the default byte source.
func (c *Config) FetchOptions() fetch.Options {
	return fetch.Options{
		Timeout:  c.Fetch.Timeout,
		Retries:  c.Fetch.Retries,
		MaxBytes: c.Fetch.MaxBytes,
	}
}
