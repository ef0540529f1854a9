// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package sampler

import (
	"time"

	"github.com/wneessen/livetrack/internal/sensor"
)

// State is the lifecycle state of a Sampler.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateTracking
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateTracking:
		return "tracking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status describes what the sampler is doing, for display purposes.
type Status struct {
	State      State
	Since      time.Time
	Watcher    string
	LastError  *sensor.Error
	LastSample time.Time
	Accepted   uint64
	Rejected   uint64
}
