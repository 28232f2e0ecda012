// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package plugin

import (
	"github.com/samber/oops"
)

// Error codes for plugin lifecycle and call failures.
const (
	CodeLoadFailed         = "LOAD_FAILED"
	CodeNotInitialized     = "NOT_INITIALIZED"
	CodeAlreadyInitialized = "ALREADY_INITIALIZED"
	CodeCallFailed         = "CALL_FAILED"
	CodeExportNotAllowed   = "EXPORT_NOT_ALLOWED"
)

// ErrLoadFailed wraps a fetch or runtime failure during initialization.
func ErrLoadFailed(source string, cause error) error {
	return oops.Code(CodeLoadFailed).
		In("plugin").
		With("source", source).
		Wrapf(cause, "failed to load plugin")
}

// ErrNotInitialized creates an error for calls made outside the ready state.
func ErrNotInitialized(state State) error {
	return oops.Code(CodeNotInitialized).
		In("plugin").
		With("state", state.String()).
		Errorf("plugin not initialized")
}

// ErrAlreadyInitialized creates an error for a second Initialize on a ready manager.
func ErrAlreadyInitialized() error {
	return oops.Code(CodeAlreadyInitialized).
		In("plugin").
		Errorf("plugin already initialized")
}

// ErrCallFailed wraps a host fault raised by an export.
func ErrCallFailed(function string, cause error) error {
	return oops.Code(CodeCallFailed).
		In("plugin").
		With("function", function).
		Wrapf(cause, "function %s failed", function)
}

// ErrExportNotAllowed creates an error for an export outside the allow-list.
func ErrExportNotAllowed(function string) error {
	return oops.Code(CodeExportNotAllowed).
		In("plugin").
		With("function", function).
		Errorf("function %s is not exposed by this plugin", function)
}
