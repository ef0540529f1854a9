// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package sensor defines the capability interface for platform position sources. The concrete sources
// live in the sub packages.
package sensor

import (
	"context"
	"fmt"

	"github.com/wneessen/livetrack/internal/track"
)

// ErrorCode mirrors the error codes of the W3C geolocation API.
type ErrorCode int

const (
	PermissionDenied    ErrorCode = 1
	PositionUnavailable ErrorCode = 2
	Timeout             ErrorCode = 3
)

// Watcher is a continuous position source. Watch starts a watch that lasts until ctx is canceled; the
// returned channel is closed once the watch has released all of its resources.
type Watcher interface {
	Name() string
	Watch(ctx context.Context) <-chan Reading
}

// Reading is either a position sample or a sensor error, never both.
type Reading struct {
	Sample track.Sample
	Err    *Error
}

// Error is a non-fatal sensor failure. It is reported on a side channel and never alters the track state.
type Error struct {
	Code    ErrorCode
	Message string
}

func (c ErrorCode) String() string {
	switch c {
	case PermissionDenied:
		return "permission denied"
	case PositionUnavailable:
		return "position unavailable"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown error code %d", int(c))
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// SampleReading wraps a sample into a Reading.
func SampleReading(s track.Sample) Reading {
	return Reading{Sample: s}
}

// ErrorReading wraps a sensor error into a Reading.
func ErrorReading(code ErrorCode, format string, args ...any) Reading {
	return Reading{Err: &Error{Code: code, Message: fmt.Sprintf(format, args...)}}
}

// Emit sends r on out unless ctx is done first. It reports whether the reading was delivered.
func Emit(ctx context.Context, out chan<- Reading, r Reading) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- r:
		return true
	}
}
