package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// Logger writes one JSON object per line:
// timestamp, level, service, hostname, request_id, action, message and an
// optional error{msg,stack}.
type Logger struct {
	service string
	slog    *slog.Logger
}

func NewLogger(service string) *Logger {
	return New(service, os.Stdout, slog.LevelDebug)
}

func New(service string, w io.Writer, level slog.Level) *Logger {
	hostname, _ := os.Hostname()
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.String("timestamp", a.Value.Time().UTC().Format(time.RFC3339))
			case slog.MessageKey:
				a.Key = "message"
			}
			return a
		},
	})
	return &Logger{
		service: service,
		slog:    slog.New(h).With("service", service, "hostname", hostname),
	}
}

// Nop discards everything; handy in tests.
func Nop() *Logger {
	return New("nop", io.Discard, slog.LevelError+1)
}

func (l *Logger) Service() string { return l.service }

func (l *Logger) Info(requestID, action, message string, args ...any) {
	l.log(slog.LevelInfo, requestID, action, message, nil, args)
}

func (l *Logger) Debug(requestID, action, message string, args ...any) {
	l.log(slog.LevelDebug, requestID, action, message, nil, args)
}

func (l *Logger) Warn(requestID, action, message string, args ...any) {
	l.log(slog.LevelWarn, requestID, action, message, nil, args)
}

func (l *Logger) Error(requestID, action, message string, err error, args ...any) {
	l.log(slog.LevelError, requestID, action, message, err, args)
}

func (l *Logger) log(level slog.Level, requestID, action, message string, err error, args []any) {
	ctx := context.Background()
	if !l.slog.Enabled(ctx, level) {
		return
	}
	attrs := make([]any, 0, len(args)+3)
	attrs = append(attrs, slog.String("request_id", requestID), slog.String("action", action))
	if err != nil {
		buf := make([]byte, 1024)
		n := runtime.Stack(buf, false)
		attrs = append(attrs, slog.Group("error",
			slog.String("msg", err.Error()),
			slog.String("stack", string(buf[:n])),
		))
	}
	attrs = append(attrs, args...)
	l.slog.Log(ctx, level, message, attrs...)
}

type requestIDKey struct{}

// WithRequestID stores the request id that service-layer log lines pick up.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
