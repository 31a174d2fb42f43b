package logger

import (
	"context"
	"log/slog"
	"os"
)

var log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Init switches to debug output outside production.
func Init(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	log.Info("logger initialized")
}

func Debug(msg string, fields map[string]any) {
	write(slog.LevelDebug, msg, fields)
}

func Info(msg string, fields map[string]any) {
	write(slog.LevelInfo, msg, fields)
}

func Warn(msg string, fields map[string]any) {
	write(slog.LevelWarn, msg, fields)
}

func Error(msg string, fields map[string]any) {
	write(slog.LevelError, msg, fields)
}

func Fatal(msg string, fields map[string]any) {
	write(slog.LevelError, msg, fields)
	os.Exit(1)
}

// SessionRef shortens a session id for log lines.
func SessionRef(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8] + "…"
}

func write(level slog.Level, msg string, fields map[string]any) {
	attrs := make([]slog.Attr, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	log.LogAttrs(context.Background(), level, msg, attrs...)
}
