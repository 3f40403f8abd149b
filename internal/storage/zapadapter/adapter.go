// Package zapadapter routes pgx logs to a zap.Logger, tagged with the trace id of the
// HTTP request or websocket connection that issued the query.
package zapadapter

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type traceKey struct{}

// WithTraceID returns a copy of ctx carrying id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceID returns the id stored by WithTraceID.
func TraceID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traceKey{}).(string)
	return id, ok
}

type Logger struct {
	logger *zap.Logger
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (l *Logger) Log(ctx context.Context, level pgx.LogLevel, msg string, data map[string]interface{}) {
	ce := l.logger.Check(zapLevel(level), msg)
	if ce == nil {
		return
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zapcore.Field, 0, len(data)+2)
	if id, ok := TraceID(ctx); ok {
		fields = append(fields, zap.String("trace_id", id))
	}
	for _, k := range keys {
		fields = append(fields, zap.Any(k, data[k]))
	}
	// trace and unknown levels collapse into other zap levels
	if level >= pgx.LogLevelTrace || level < pgx.LogLevelNone {
		fields = append(fields, zap.Stringer("pgx_level", level))
	}

	ce.Write(fields...)
}

func zapLevel(level pgx.LogLevel) zapcore.Level {
	switch level {
	case pgx.LogLevelTrace, pgx.LogLevelDebug:
		return zapcore.DebugLevel
	case pgx.LogLevelInfo:
		return zapcore.InfoLevel
	case pgx.LogLevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
