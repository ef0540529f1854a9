// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package sensortest provides a scriptable sensor.Watcher for tests.
package sensortest

import (
	"context"
	"sync"

	"github.com/wneessen/livetrack/internal/sensor"
)

// Watcher is a fake sensor.Watcher. Readings passed to Send are delivered to the active watch. It counts
// how often a watch was acquired and released.
type Watcher struct {
	readings chan sensor.Reading

	mu       sync.Mutex
	acquired int
	released int
	// closeAfter closes the stream of the active watch after that many readings, if positive
	closeAfter int
}

// New returns a new fake Watcher.
func New() *Watcher {
	return &Watcher{readings: make(chan sensor.Reading)}
}

// CloseAfter makes the next watches end on their own after n delivered readings.
func (w *Watcher) CloseAfter(n int) {
	w.mu.Lock()
	w.closeAfter = n
	w.mu.Unlock()
}

func (w *Watcher) Name() string {
	return "fake"
}

func (w *Watcher) Watch(ctx context.Context) <-chan sensor.Reading {
	w.mu.Lock()
	w.acquired++
	limit := w.closeAfter
	w.mu.Unlock()

	out := make(chan sensor.Reading)
	go func() {
		defer close(out)
		defer func() {
			w.mu.Lock()
			w.released++
			w.mu.Unlock()
		}()

		delivered := 0
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-w.readings:
				if !sensor.Emit(ctx, out, r) {
					return
				}
				delivered++
				if limit > 0 && delivered >= limit {
					return
				}
			}
		}
	}()
	return out
}

// Send hands a reading to the active watch. It blocks until a watch picked it up or ctx is done.
func (w *Watcher) Send(ctx context.Context, r sensor.Reading) bool {
	select {
	case <-ctx.Done():
		return false
	case w.readings <- r:
		return true
	}
}

// Acquired returns how many watches were started.
func (w *Watcher) Acquired() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.acquired
}

// Released returns how many watches released their resources.
func (w *Watcher) Released() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.released
}
