// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package bridge

import (
	"time"

	"github.com/samber/oops"

	"github.com/plugbridge/plugbridge/internal/plugin"
	"github.com/plugbridge/plugbridge/internal/protocol"
)

// Error codes for bridge call failures. NOT_INITIALIZED and CALL_FAILED share
// their values with the plugin package so callers can match either mode.
const (
	CodeNotReady       = "NOT_READY"
	CodeNotInitialized = plugin.CodeNotInitialized
	CodeCallFailed     = plugin.CodeCallFailed
	CodeTimeout        = "TIMEOUT"
	CodeBridgeClosed   = "BRIDGE_CLOSED"
	CodeWorkerExited   = "WORKER_EXITED"
	CodeProtocolError  = protocol.CodeProtocolError
)

// ErrNotReady creates an error for a call made before the plugin is ready.
func ErrNotReady(status Status) error {
	b := oops.Code(CodeNotReady).In("bridge").With("loading", status.IsLoading)
	if status.Error != "" {
		return b.With("status_error", status.Error).Errorf("plugin not ready: %s", status.Error)
	}
	return b.Errorf("plugin not ready")
}

// ErrNotInitialized creates an error for a call on a closed bridge.
func ErrNotInitialized() error {
	return oops.Code(CodeNotInitialized).In("bridge").Errorf("worker not initialized")
}

// ErrCallFailed carries an error message reported by the worker.
func ErrCallFailed(kind protocol.Kind, requestID, message string) error {
	return oops.Code(CodeCallFailed).
		In("bridge").
		With("type", kind).
		With("request_id", requestID).
		Errorf("%s", message)
}

// ErrTimeout creates an error for a call that outlived the call timeout.
func ErrTimeout(kind protocol.Kind, requestID string, after time.Duration) error {
	return oops.Code(CodeTimeout).
		In("bridge").
		With("type", kind).
		With("request_id", requestID).
		Errorf("%s timed out after %s", kind, after)
}

// ErrBridgeClosed settles calls pending when the bridge closes.
func ErrBridgeClosed(requestID string) error {
	return oops.Code(CodeBridgeClosed).
		In("bridge").
		With("request_id", requestID).
		Errorf("bridge closed")
}

// ErrWorkerExited settles calls pending when the worker goes away.
func ErrWorkerExited(requestID string) error {
	return oops.Code(CodeWorkerExited).
		In("bridge").
		With("request_id", requestID).
		Errorf("worker exited")
}
