package embeddedmqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newSlogLogger(logger *zap.Logger) *slog.Logger {
	return slog.New(&slogBridge{logger: logger.Named("mqtt")})
}

// slogBridge forwards the broker's slog records to zap.
type slogBridge struct {
	logger *zap.Logger
	attrs  []slog.Attr
}

func (h *slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.Core().Enabled(zapLevel(level))
}

func (h *slogBridge) Handle(_ context.Context, record slog.Record) error {
	fields := make([]zap.Field, 0, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		fields = append(fields, attrField(attr))
	}
	closed := false
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == "error" && isConnectionClose(attr.Value) {
			closed = true
		}
		fields = append(fields, attrField(attr))
		return true
	})
	if closed {
		h.logger.Debug("client connection closed", fields...)
		return nil
	}
	if ce := h.logger.Check(zapLevel(record.Level), record.Message); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func (h *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next = append(next, h.attrs...)
	next = append(next, attrs...)
	return &slogBridge{logger: h.logger, attrs: next}
}

func (h *slogBridge) WithGroup(name string) slog.Handler {
	return &slogBridge{logger: h.logger.Named(name), attrs: h.attrs}
}

func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelWarn:
		return zapcore.WarnLevel
	case level >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// isConnectionClose spots the EOF errors mochi logs for every client that
// disconnects.
func isConnectionClose(v slog.Value) bool {
	switch v.Kind() {
	case slog.KindString:
		msg := v.String()
		return msg == "EOF" || strings.Contains(msg, "read connection: EOF")
	case slog.KindAny:
		err, ok := v.Any().(error)
		return ok && (errors.Is(err, io.EOF) || strings.Contains(err.Error(), "read connection: EOF"))
	}
	return false
}

func attrField(attr slog.Attr) zap.Field {
	v := attr.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return zap.String(attr.Key, v.String())
	case slog.KindInt64:
		return zap.Int64(attr.Key, v.Int64())
	case slog.KindUint64:
		return zap.Uint64(attr.Key, v.Uint64())
	case slog.KindFloat64:
		return zap.Float64(attr.Key, v.Float64())
	case slog.KindBool:
		return zap.Bool(attr.Key, v.Bool())
	case slog.KindDuration:
		return zap.Duration(attr.Key, v.Duration())
	case slog.KindTime:
		return zap.Time(attr.Key, v.Time())
	default:
		return zap.Any(attr.Key, v.Any())
	}
}
