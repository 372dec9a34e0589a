package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// newLogger builds the CLI logger. JSON goes through slog's own handler;
// text uses charmbracelet/log as the slog handler.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	case "text", "":
		handler := charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			Level:           charmlog.Level(lvl),
		})
		return slog.New(handler), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (expected 'text' or 'json')", format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q (expected debug, info, warn or error)", s)
	}
	return lvl, nil
}
