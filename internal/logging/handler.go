// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

// Package logging provides structured logging that carries OpenTelemetry
// trace context and plugin request ids from the context into each record.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Options selects the output format and minimum level.
type Options struct {
	// Format is "json" or "text". Empty means json.
	Format string
	// Level is debug, info, warn or error. Empty means info.
	Level string
}

type requestIDKey struct{}

// WithRequestID returns ctx carrying a bridge request id. Records logged
// with the returned context gain a request_id attribute.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id carried by ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// contextHandler adds per-record attributes taken from the context.
type contextHandler struct {
	slog.Handler
}

// Handle adds trace and request ids to the record.
func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RequestID(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the context handler on top of the derived handler.
func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the context handler on top of the derived handler.
func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

// ParseLevel converts a level name to slog.Level. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler returns the base handler for opts, wrapped to add context
// attributes. service and version are attached to every record.
func NewHandler(service, version string, opts Options, w io.Writer) slog.Handler {
	if w == nil {
		w = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var base slog.Handler
	if opts.Format == "text" {
		base = slog.NewTextHandler(w, handlerOpts)
	} else {
		base = slog.NewJSONHandler(w, handlerOpts)
	}

	return contextHandler{base.WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	})}
}

// Setup creates a configured slog.Logger.
// If w is nil, writes to os.Stderr.
func Setup(service, version string, opts Options, w io.Writer) *slog.Logger {
	return slog.New(NewHandler(service, version, opts, w))
}

// SetDefault sets up and installs the default logger.
func SetDefault(service, version string, opts Options) *slog.Logger {
	logger := Setup(service, version, opts, nil)
	slog.SetDefault(logger)
	return logger
}
