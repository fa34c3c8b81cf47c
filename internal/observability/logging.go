package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Janar2510/driveapipe-app/internal/config"
	"github.com/Janar2510/driveapipe-app/model"
)

// NewLogger builds the service's JSON logger on stdout. An unknown level
// falls back to info.
//
// Levels: error for store failures, panics and 5xx; warn for 4xx, version
// conflicts and degraded idempotency; info for every pipeline, stage and
// deal mutation plus stale deals; debug for replays and field-level detail.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Sampling = nil
	zcfg.OutputPaths = []string{"stdout"}
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	zcfg.InitialFields = map[string]any{
		"service": "driveapipe",
		"version": Version,
	}
	return zcfg.Build()
}

type loggerKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the context logger, or fallback when there is none.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger tagged with the acting user and
// the request's correlation and trace IDs. The trace ID falls back to the
// active span when the request context carries none.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := make([]zap.Field, 0, 4)
	fields = append(fields, zap.String("actor_id", rctx.ActorID))
	if rctx.ActorName != "" {
		fields = append(fields, zap.String("actor_name", rctx.ActorName))
	}
	fields = append(fields, zap.String("correlation_id", rctx.CorrelationID))

	traceID := rctx.TraceID
	if traceID == "" {
		traceID = TraceIDFromContext(ctx)
	}
	if traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	return logger.With(fields...)
}

const redacted = "[REDACTED]"

// sensitiveCustomFields lists deal custom field keys whose values are never
// logged. Matching ignores case.
var sensitiveCustomFields = []string{
	"iban", "account_number", "card_number",
	"personal_code", "national_id", "tax_id", "ssn",
	"password", "api_key", "token",
}

// RedactCustomFields returns a copy of a deal's custom fields that is safe
// to log. Keys in sensitiveCustomFields or extra are masked at any depth,
// including inside lists. The input is never modified.
func RedactCustomFields(fields map[string]any, extra ...string) map[string]any {
	if fields == nil {
		return nil
	}
	r := make(redactor, len(sensitiveCustomFields)+len(extra))
	for _, k := range sensitiveCustomFields {
		r[k] = struct{}{}
	}
	for _, k := range extra {
		r[strings.ToLower(k)] = struct{}{}
	}
	return r.object(fields)
}

type redactor map[string]struct{}

func (r redactor) object(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, hit := r[strings.ToLower(k)]; hit {
			out[k] = redacted
			continue
		}
		out[k] = r.value(v)
	}
	return out
}

func (r redactor) value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return r.object(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = r.value(e)
		}
		return out
	default:
		return v
	}
}
