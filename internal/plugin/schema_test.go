// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package plugin_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/plugbridge/plugbridge/internal/plugin"
)

func TestValidateSchema_ValidExtismManifest(t *testing.T) {
	yaml := `
name: demo
version: 0.1.0
type: extism
source: plugin.wasm
functions: [greet, calculate, process_text, scrape_website]
wasi: true
timeout-ms: 1000
config:
  mode: demo
`
	if err := plugin.ValidateSchema([]byte(yaml)); err != nil {
		t.Errorf("ValidateSchema() error = %v, want nil", err)
	}
}

func TestValidateSchema_ValidCoreManifest(t *testing.T) {
	yaml := `
name: adder
version: 1.0.0
type: core
source: add.wasm
functions: [add]
enforce-exports: true
memory-max-pages: 16
`
	if err := plugin.ValidateSchema([]byte(yaml)); err != nil {
		t.Errorf("ValidateSchema() error = %v, want nil", err)
	}
}

func TestValidateSchema_NameTooLong(t *testing.T) {
	yaml := "name: " + strings.Repeat("a", 65) + "\nversion: 1.0.0\ntype: core\nsource: a.wasm\n"
	if err := plugin.ValidateSchema([]byte(yaml)); err == nil {
		t.Error("ValidateSchema() expected error for name exceeding 64 chars")
	}
}

func TestValidateSchema_NameExactlyMaxLength(t *testing.T) {
	yaml := "name: " + strings.Repeat("a", 64) + "\nversion: 1.0.0\ntype: core\nsource: a.wasm\n"
	if err := plugin.ValidateSchema([]byte(yaml)); err != nil {
		t.Errorf("ValidateSchema() error = %v, want nil for 64 char name", err)
	}
}

func TestValidateSchema_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing name", yaml: "version: 1.0.0\ntype: core\nsource: a.wasm\n"},
		{name: "missing version", yaml: "name: test\ntype: core\nsource: a.wasm\n"},
		{name: "missing type", yaml: "name: test\nversion: 1.0.0\nsource: a.wasm\n"},
		{name: "missing source", yaml: "name: test\nversion: 1.0.0\ntype: core\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := plugin.ValidateSchema([]byte(tt.yaml)); err == nil {
				t.Errorf("ValidateSchema() expected error for %s", tt.name)
			}
		})
	}
}

func TestValidateSchema_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown type", yaml: "name: test\nversion: 1.0.0\ntype: lua\nsource: a.wasm\n"},
		{name: "negative timeout", yaml: "name: test\nversion: 1.0.0\ntype: core\nsource: a.wasm\ntimeout-ms: -1\n"},
		{name: "unknown field", yaml: "name: test\nversion: 1.0.0\ntype: core\nsource: a.wasm\nexposedFunctions: [add]\n"},
		{name: "functions not a list", yaml: "name: test\nversion: 1.0.0\ntype: core\nsource: a.wasm\nfunctions: add\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := plugin.ValidateSchema([]byte(tt.yaml)); err == nil {
				t.Errorf("ValidateSchema() expected error for %s", tt.name)
			}
		})
	}
}

func TestValidateSchema_EmptyAndInvalidYAML(t *testing.T) {
	if err := plugin.ValidateSchema(nil); err == nil {
		t.Error("ValidateSchema() expected error for empty data")
	}
	if err := plugin.ValidateSchema([]byte("name: [")); err == nil {
		t.Error("ValidateSchema() expected error for invalid YAML")
	}
}

func TestGenerateSchema(t *testing.T) {
	data, err := plugin.GenerateSchema()
	if err != nil {
		t.Fatalf("GenerateSchema() error = %v", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	if schema["$id"] != plugin.GetSchemaID() {
		t.Errorf("$id = %v, want %s", schema["$id"], plugin.GetSchemaID())
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatal("schema has no properties")
	}
	for _, key := range []string{"name", "version", "type", "source", "functions", "enforce-exports", "timeout-ms"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema missing property %q", key)
		}
	}
}

func TestFormatSchemaError(t *testing.T) {
	if got := plugin.FormatSchemaError(nil); got != "" {
		t.Errorf("FormatSchemaError(nil) = %q, want empty", got)
	}

	err := plugin.ValidateSchema([]byte("name: test\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := plugin.FormatSchemaError(err); strings.HasPrefix(got, "schema validation failed") {
		t.Errorf("FormatSchemaError() kept prefix: %q", got)
	}
}
