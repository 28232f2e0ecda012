// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package wasm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugbridge/plugbridge/internal/wasm"
)

func TestExportPolicy_Allows(t *testing.T) {
	policy, err := wasm.NewExportPolicy([]string{"greet", "process_*", "{add,calculate}"})
	require.NoError(t, err)

	tests := []struct {
		function string
		want     bool
	}{
		{"greet", true},
		{"process_text", true},
		{"add", true},
		{"calculate", true},
		{"scrape_website", false},
		{"greeting", false},
	}
	for _, tt := range tests {
		t.Run(tt.function, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Allows(tt.function))
		})
	}
}

func TestExportPolicy_NilAllowsAll(t *testing.T) {
	var policy *wasm.ExportPolicy
	assert.True(t, policy.Allows("anything"))
	assert.Nil(t, policy.Literals())
}

func TestExportPolicy_EmptyDeniesAll(t *testing.T) {
	policy, err := wasm.NewExportPolicy(nil)
	require.NoError(t, err)
	assert.False(t, policy.Allows("greet"))
}

func TestExportPolicy_InvalidPattern(t *testing.T) {
	_, err := wasm.NewExportPolicy([]string{"greet", ""})
	assert.Error(t, err)

	_, err = wasm.NewExportPolicy([]string{"[unclosed"})
	assert.Error(t, err)
}

func TestExportPolicy_Literals(t *testing.T) {
	policy, err := wasm.NewExportPolicy([]string{"greet", "process_*", "calculate"})
	require.NoError(t, err)
	assert.Equal(t, []string{"greet", "calculate"}, policy.Literals())
}
