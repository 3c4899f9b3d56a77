// Package logging provides structured logging with OpenTelemetry trace
// correlation, used at every connection-pipeline state transition.
package logging

import (
    "context"
    "log/slog"
    "os"
    "time"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/codes"
    "go.opentelemetry.io/otel/trace"
)

// Logger wraps structured logging with OpenTelemetry integration,
// automatically correlating log entries with the active span.
type Logger struct {
    slogger *slog.Logger
    tracer  trace.Tracer
}

// NewLogger creates a structured logger for the named service. Output is
// JSON on stdout with a "timestamp" field in place of slog's default
// "time" key.
func NewLogger(service string) *Logger {
    handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
        Level:     slog.LevelDebug,
        AddSource: true,
        ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
            if a.Key == slog.TimeKey {
                a.Key = "timestamp"
            }
            return a
        },
    })

    return &Logger{
        slogger: slog.New(handler).With(slog.String("service", service)),
        tracer:  otel.Tracer(service),
    }
}

// Debug logs a debug-level message with trace correlation.
func (l *Logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
    l.logWithTrace(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs an informational message with trace correlation.
func (l *Logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
    l.logWithTrace(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs a recoverable-condition message with trace correlation.
func (l *Logger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
    l.logWithTrace(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs an error, marking the active span (if any) as failed.
func (l *Logger) Error(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
    if err != nil {
        attrs = append(attrs, slog.String("error", err.Error()))
        if span := trace.SpanFromContext(ctx); span.IsRecording() {
            span.SetStatus(codes.Error, err.Error())
            span.RecordError(err)
        }
    }
    l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
}

// Fatal logs an error and terminates the process. Reserved for startup
// failures (cmd/proxy uses it when tracing initialisation fails) — per §7,
// no request-handling error ever reaches this path.
func (l *Logger) Fatal(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
    if err != nil {
        attrs = append(attrs, slog.String("error", err.Error()))
    }
    l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
    os.Exit(1)
}

func (l *Logger) logWithTrace(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
    span := trace.SpanFromContext(ctx)
    if span.SpanContext().IsValid() {
        attrs = append(attrs,
            slog.String("trace_id", span.SpanContext().TraceID().String()),
            slog.String("span_id", span.SpanContext().SpanID().String()),
        )
    }
    attrs = append(attrs, slog.Time("timestamp", time.Now()))
    l.slogger.LogAttrs(ctx, level, msg, attrs...)
}

// StartSpan starts a span for one connection-pipeline stage.
func (l *Logger) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
    return l.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// WithFields returns a derived logger carrying pre-set attributes, useful
// for attaching a connection id to every subsequent log line.
func (l *Logger) WithFields(attrs ...slog.Attr) *Logger {
    anyAttrs := make([]any, len(attrs))
    for i, a := range attrs {
        anyAttrs[i] = a
    }
    return &Logger{
        slogger: l.slogger.With(anyAttrs...),
        tracer:  l.tracer,
    }
}
