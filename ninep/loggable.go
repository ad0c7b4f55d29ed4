package ninep

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLogLevel accepts debug, info, warn, error or a slog level string
// such as "debug-2".
func ParseLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return slog.LevelDebug - 4, nil
	case "warning":
		return slog.LevelWarn, nil
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, s)
	}
	return lvl, nil
}

// CreateLogger returns a logger writing records at or above level to h.
// A nil h writes text to stderr. A non-empty prefix is attached to every
// record as the "sys" attribute.
func CreateLogger(level slog.Level, prefix string, h slog.Handler) *slog.Logger {
	if h == nil {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		h = &levelHandler{level: level, h: h}
	}
	l := slog.New(h)
	if prefix != "" {
		l = l.With(slog.String("sys", prefix))
	}
	return l
}

// DiscardLogger drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

type levelHandler struct {
	level slog.Leveler
	h     slog.Handler
}

func (l *levelHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return lvl >= l.level.Level() && l.h.Enabled(ctx, lvl)
}

func (l *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return l.h.Handle(ctx, r)
}

func (l *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{l.level, l.h.WithAttrs(attrs)}
}

func (l *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{l.level, l.h.WithGroup(name)}
}
