// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps a slog.Logger so the rest of the code base does not depend on the handler setup.
type Logger struct {
	*slog.Logger
}

// New returns a Logger writing text records of the given level and above to stderr.
func New(level slog.Level) *Logger {
	return NewLogger(level, os.Stderr)
}

// NewLogger returns a Logger writing text records of the given level and above to output.
func NewLogger(level slog.Level, output io.Writer) *Logger {
	return &Logger{slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: level}))}
}

// Err returns a slog attribute for the given error.
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}

// Subject returns the attribute naming the tracked subject.
func Subject(id string) slog.Attr {
	return slog.String("subject", id)
}

// Position groups a coordinate pair and its accuracy radius in meters.
func Position(lat, lon, accuracy float64) slog.Attr {
	return slog.Group("position", slog.Float64("lat", lat), slog.Float64("lon", lon),
		slog.Float64("accuracy", accuracy))
}
