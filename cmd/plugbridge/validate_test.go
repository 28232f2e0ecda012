// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlugin(t *testing.T, dir, name, content string) string {
	t.Helper()
	pluginDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(pluginDir, 0o750))
	path := filepath.Join(pluginDir, "plugin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func manifestFor(name string) string {
	return "name: " + name + "\nversion: 1.0.0\ntype: extism\nsource: plugin.wasm\nfunctions:\n  - greet\n"
}

func TestValidateCmd_ValidFile(t *testing.T) {
	path := writePlugin(t, t.TempDir(), "demo", manifestFor("demo"))

	output, err := execute(t, nil, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, output, "ok")
	assert.Contains(t, output, "demo 1.0.0")
}

func TestValidateCmd_PluginDirectory(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "demo", manifestFor("demo"))

	output, err := execute(t, nil, "validate", filepath.Join(dir, "demo"))
	require.NoError(t, err)
	assert.Contains(t, output, "demo 1.0.0")
}

func TestValidateCmd_DirectoryOfPlugins(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "alpha", manifestFor("alpha"))
	writePlugin(t, dir, "broken", manifestFor("Not Valid"))

	output, err := execute(t, nil, "validate", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 manifests invalid")
	assert.Contains(t, output, "alpha 1.0.0")
	assert.Contains(t, output, "FAIL")
}

func TestValidateCmd_MissingPath(t *testing.T) {
	_, err := execute(t, nil, "validate", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestValidateCmd_DefaultsToPluginsDir(t *testing.T) {
	isolateConfig(t)
	dataHome := t.TempDir()
	writePlugin(t, filepath.Join(dataHome, "plugbridge", "plugins"), "demo", manifestFor("demo"))

	cmd := newRootCmdWithDeps(nil)
	t.Setenv("XDG_DATA_HOME", dataHome)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetArgs([]string{"validate"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "demo 1.0.0")
}
