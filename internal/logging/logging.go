// Package logging provides structured logging for salesdb.
//
// It wraps log/slog so that every component logs with the same handler,
// level and format. Components obtain a logger once at package level:
//
//	var log = logging.Component("storage")
//	log.Info("day closed", "day_id", id)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	root  atomic.Pointer[slog.Logger]
	level = new(slog.LevelVar)
)

func current() *slog.Logger {
	if l := root.Load(); l != nil {
		return l
	}
	Init(slog.LevelInfo, false)
	return root.Load()
}

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(lvl slog.Level, jsonFormat bool) {
	InitWriter(os.Stdout, lvl, jsonFormat)
}

// InitWriter is Init with a custom destination.
func InitWriter(w io.Writer, lvl slog.Level, jsonFormat bool) {
	level.Set(lvl)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
func InitWithHandler(handler slog.Handler) {
	l := slog.New(handler)
	root.Store(l)
	slog.SetDefault(l)
}

// SetLevel changes the level of the global handler at runtime.
func SetLevel(lvl slog.Level) {
	level.Set(lvl)
}

// ParseLevel maps a config string to a slog level. Unknown values yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Component returns a logger tagged with the component name.
//
// The returned logger resolves the global handler lazily, so package-level
// loggers created before Init still honor the configured handler.
func Component(name string) *slog.Logger {
	return slog.New(&lazyHandler{attrs: []slog.Attr{slog.String("component", name)}})
}

// WithContext returns a logger that includes request-scoped values.
func WithContext(ctx context.Context) *slog.Logger {
	logger := current()

	if sessionID, ok := ctx.Value(contextKeySessionID).(string); ok {
		logger = logger.With("session_id", sessionID)
	}
	if user, ok := ctx.Value(contextKeyUser).(string); ok {
		logger = logger.With("user", user)
	}
	if tag, ok := ctx.Value(contextKeyTag).(int32); ok {
		logger = logger.With("tag", tag)
	}

	return logger
}

type contextKey int

const (
	contextKeySessionID contextKey = iota
	contextKeyUser
	contextKeyTag
)

// ContextWithSessionID adds a session ID to the context for logging.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, contextKeySessionID, sessionID)
}

// ContextWithUser adds the authenticated user to the context for logging.
func ContextWithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, contextKeyUser, user)
}

// ContextWithTag adds a request tag to the context for logging.
func ContextWithTag(ctx context.Context, tag int32) context.Context {
	return context.WithValue(ctx, contextKeyTag, tag)
}

// lazyHandler forwards to the current global handler with fixed attrs.
type lazyHandler struct {
	attrs  []slog.Attr
	groups []string
}

func (h *lazyHandler) target() slog.Handler {
	th := current().Handler()
	if len(h.attrs) > 0 {
		th = th.WithAttrs(h.attrs)
	}
	for _, g := range h.groups {
		th = th.WithGroup(g)
	}
	return th
}

func (h *lazyHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return current().Handler().Enabled(ctx, l)
}

func (h *lazyHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.target().Handle(ctx, r)
}

func (h *lazyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &lazyHandler{attrs: merged, groups: h.groups}
}

func (h *lazyHandler) WithGroup(name string) slog.Handler {
	groups := append(append([]string(nil), h.groups...), name)
	return &lazyHandler{attrs: h.attrs, groups: groups}
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) { current().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { current().Info(msg, args...) }

// Warn logs at warning level.
func Warn(msg string, args ...any) { current().Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { current().Error(msg, args...) }
