// Package main is the entry point for the Trello extractor.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stacklok/trello-extractor/cmd/trello-extractor/app"
	"github.com/stacklok/trello-extractor/internal/config"
)

// slogDebugLevel enables slog debug records, which reach zap through logr as V(4).
const slogDebugLevel = zapcore.Level(-4)

// getLogLevel parses the TRELLO_EXTRACTOR_LOG_LEVEL environment variable and returns the corresponding zap level.
// Falls back to LOG_LEVEL. Defaults to info if neither is set or if the value is invalid.
func getLogLevel() zapcore.Level {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	switch strings.ToLower(levelStr) {
	case "debug":
		return slogDebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
		return zapcore.InfoLevel
	}
}

// traceHandler wraps an slog.Handler to automatically inject OpenTelemetry
// trace_id and span_id into every log record, enabling log-trace correlation.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

func newZapLogger(level zapcore.Level) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	// Keep stdout clean for commands that output data (e.g., version --format json).
	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	zapCfg.EncoderConfig.TimeKey = "time"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return zl
}

func main() {
	// Structured JSON logging through zap. slog and logr share the same core
	// so package loggers pulled from context and slog.Default agree.
	zl := newZapLogger(getLogLevel())
	defer func() { _ = zl.Sync() }()

	handler := &traceHandler{Handler: logr.ToSlogHandler(zapr.NewLogger(zl))}
	slog.SetDefault(slog.New(handler))

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
