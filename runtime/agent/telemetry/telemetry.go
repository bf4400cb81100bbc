// Package telemetry defines the logging, metrics, and tracing interfaces the
// runtime depends on, plus no-op and Clue/OTEL-backed implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log messages keyed by alternating (key, value)
	// pairs, following the convention used throughout the runtime.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges tagged by alternating
	// (key, value) string pairs.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts spans and recovers the current span from a context.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is the subset of span operations the runtime needs.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}

	// ToolTrace records telemetry for one tool invocation observed by the
	// runtime, independent of the ordinary (tool_name, args, result) trace
	// recorded by the IPC server.
	ToolTrace struct {
		DurationMs int64
		TokensUsed int
		Model      string
		Extra      map[string]any
	}
)
