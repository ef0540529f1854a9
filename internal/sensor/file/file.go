// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package file implements a sensor.Watcher that reads coordinates from a plain text file. Each
// non-comment line holds "lat,lon" or "lat,lon,accuracy"; the first valid line wins.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/livetrack/internal/sensor"
	"github.com/wneessen/livetrack/internal/track"
)

const (
	name = "file"

	// DefaultAccuracy is used for lines without an accuracy column. A hand maintained coordinate is
	// considered as good as a GPS fix.
	DefaultAccuracy = 5
	DefaultPeriod   = time.Second * 30
)

var ErrNoCoordinates = errors.New("no valid coordinates found in geolocation file")

// Watcher polls a coordinates file and emits a sample whenever its content changes.
type Watcher struct {
	path   string
	period time.Duration
	now    func() time.Time

	locateFn func() (track.Sample, error)
}

// New returns a file Watcher for path. A period <= 0 falls back to DefaultPeriod.
func New(path string, period time.Duration) *Watcher {
	if period <= 0 {
		period = DefaultPeriod
	}
	watcher := &Watcher{
		path:   path,
		period: period,
		now:    time.Now,
	}
	watcher.locateFn = watcher.readFile
	return watcher
}

func (w *Watcher) Name() string {
	return name
}

// Watch reads the file every period. Unchanged coordinates are re-emitted with a fresh timestamp so
// that a stationary subject stays current. Read failures are reported once until the file recovers.
func (w *Watcher) Watch(ctx context.Context) <-chan sensor.Reading {
	out := make(chan sensor.Reading)
	go func() {
		defer close(out)
		failing := false
		firstRun := true

		for {
			if !firstRun {
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.period):
				}
			}
			firstRun = false

			sample, err := w.locateFn()
			if err != nil {
				if !failing {
					failing = true
					if !sensor.Emit(ctx, out, sensor.ErrorReading(sensor.PositionUnavailable, "%s", err)) {
						return
					}
				}
				continue
			}
			failing = false

			sample.Timestamp = w.now().UnixMilli()
			if !sensor.Emit(ctx, out, sensor.SampleReading(sample)) {
				return
			}
		}
	}()
	return out
}

func (w *Watcher) readFile() (track.Sample, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return track.Sample{}, fmt.Errorf("failed to read geolocation file %q: %w", w.path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		sample, ok := parseLine(line)
		if ok {
			return sample, nil
		}
	}
	return track.Sample{}, ErrNoCoordinates
}

func parseLine(line string) (track.Sample, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return track.Sample{}, false
	}
	fields := strings.Split(line, ",")
	if len(fields) < 2 || len(fields) > 3 {
		return track.Sample{}, false
	}

	values := make([]float64, len(fields))
	for i, field := range fields {
		value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return track.Sample{}, false
		}
		values[i] = value
	}

	sample := track.Sample{Latitude: values[0], Longitude: values[1], AccuracyMeters: DefaultAccuracy}
	if len(values) == 3 {
		if values[2] < 0 {
			return track.Sample{}, false
		}
		sample.AccuracyMeters = values[2]
	}
	return sample, true
}
