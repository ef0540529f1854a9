// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpsd implements a sensor.Watcher on top of a local gpsd daemon.
package gpsd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/livetrack/internal/gpspoll"
	"github.com/wneessen/livetrack/internal/logger"
	"github.com/wneessen/livetrack/internal/sensor"
	"github.com/wneessen/livetrack/internal/track"
)

const (
	name = "gpsd"

	DefaultHost            = "localhost"
	DefaultPort            = "2947"
	DefaultFirstFixTimeout = time.Second * 20
	DefaultWatchTimeout    = time.Second * 15
)

var ErrNoLogger = errors.New("a logger is required")

// Config configures the gpsd Watcher. Zero values fall back to the defaults.
type Config struct {
	Host            string
	Port            string
	FirstFixTimeout time.Duration
	WatchTimeout    time.Duration
}

// Watcher reads positions from gpsd. The first fix is polled with a dedicated timeout, after that
// the TPV stream of a gpsd session is followed until it stalls for longer than the watch timeout.
type Watcher struct {
	addr         string
	firstFix     time.Duration
	watchTimeout time.Duration
	logger       *logger.Logger

	pollFn func(ctx context.Context) (gpspoll.Fix, error)
	dialFn func(addr string) (*gpsd.Session, error)
}

// New returns a gpsd Watcher.
func New(conf Config, log *logger.Logger) (*Watcher, error) {
	if log == nil {
		return nil, ErrNoLogger
	}
	if conf.Host == "" {
		conf.Host = DefaultHost
	}
	if conf.Port == "" {
		conf.Port = DefaultPort
	}
	if conf.FirstFixTimeout <= 0 {
		conf.FirstFixTimeout = DefaultFirstFixTimeout
	}
	if conf.WatchTimeout <= 0 {
		conf.WatchTimeout = DefaultWatchTimeout
	}

	watcher := &Watcher{
		addr:         net.JoinHostPort(conf.Host, conf.Port),
		firstFix:     conf.FirstFixTimeout,
		watchTimeout: conf.WatchTimeout,
		logger:       log,
		dialFn:       gpsd.Dial,
	}
	watcher.pollFn = gpspoll.New(conf.Host, conf.Port).Poll
	return watcher, nil
}

func (w *Watcher) Name() string {
	return name
}

// Watch streams gpsd positions until ctx is canceled or the gpsd session fails. Failures are reported
// as sensor errors right before the channel is closed.
func (w *Watcher) Watch(ctx context.Context) <-chan sensor.Reading {
	out := make(chan sensor.Reading)
	go func() {
		defer close(out)
		if !w.pollFirstFix(ctx, out) {
			return
		}
		w.stream(ctx, out)
	}()
	return out
}

// pollFirstFix asks gpsd for a single report so that a position is available before the session is
// set up. It reports whether streaming should continue.
func (w *Watcher) pollFirstFix(ctx context.Context, out chan<- sensor.Reading) bool {
	ctxPoll, cancelPoll := context.WithTimeout(ctx, w.firstFix)
	defer cancelPoll()

	fix, err := w.pollFn(ctxPoll)
	switch {
	case ctx.Err() != nil:
		return false
	case errors.Is(err, context.DeadlineExceeded):
		sensor.Emit(ctx, out, sensor.ErrorReading(sensor.Timeout, "no fix from gpsd within %s", w.firstFix))
		return false
	case err != nil:
		sensor.Emit(ctx, out, sensor.ErrorReading(sensor.PositionUnavailable, "failed to poll gpsd: %s", err))
		return false
	}
	if !fix.Has2DFix() {
		w.logger.Debug("gpsd has no fix yet, waiting for stream", slog.Int("mode", fix.Mode))
		return true
	}
	return sensor.Emit(ctx, out, sensor.SampleReading(sampleFromFix(fix)))
}

func (w *Watcher) stream(ctx context.Context, out chan<- sensor.Reading) {
	session, err := w.dialFn(w.addr)
	if err != nil {
		sensor.Emit(ctx, out, sensor.ErrorReading(sensor.PositionUnavailable,
			"failed to connect to gpsd at %q: %s", w.addr, err))
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			w.logger.Debug("failed to close gpsd session", logger.Err(err))
		}
	}()

	reports := make(chan *gpsd.TPVReport)
	session.AddFilter("TPV", func(r interface{}) {
		tpv, ok := r.(*gpsd.TPVReport)
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
		case reports <- tpv:
		}
	})
	done := session.Watch()

	stall := time.NewTimer(w.watchTimeout)
	defer stall.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			sensor.Emit(ctx, out, sensor.ErrorReading(sensor.PositionUnavailable, "gpsd session at %q ended", w.addr))
			return
		case <-stall.C:
			sensor.Emit(ctx, out, sensor.ErrorReading(sensor.Timeout, "no fix from gpsd within %s", w.watchTimeout))
			return
		case tpv := <-reports:
			if tpv.Mode < gpsd.Mode2D {
				continue
			}
			stall.Reset(w.watchTimeout)
			if !sensor.Emit(ctx, out, sensor.SampleReading(sampleFromFix(fixFromTPV(tpv)))) {
				return
			}
		}
	}
}

func fixFromTPV(tpv *gpsd.TPVReport) gpspoll.Fix {
	return gpspoll.Fix{
		Lat:   tpv.Lat,
		Lon:   tpv.Lon,
		Alt:   tpv.Alt,
		Acc:   gpspoll.HorizontalAccuracy(int(tpv.Mode), 0, tpv.Epx, tpv.Epy),
		Epv:   tpv.Epv,
		Speed: tpv.Speed,
		Track: tpv.Track,
		Time:  tpv.Time,
		Mode:  int(tpv.Mode),
	}
}

// sampleFromFix converts a fix into a sample. Altitude needs a 3D fix and heading is only set
// while moving.
func sampleFromFix(fix gpspoll.Fix) track.Sample {
	sample := track.Sample{
		Latitude:       fix.Lat,
		Longitude:      fix.Lon,
		AccuracyMeters: fix.Acc,
		Speed:          track.Float(fix.Speed),
	}
	if !fix.Time.IsZero() {
		sample.Timestamp = fix.Time.UnixMilli()
	}
	if fix.Mode >= 3 {
		sample.Altitude = track.Float(fix.Alt)
		if fix.Epv > 0 {
			sample.AltitudeAccuracy = track.Float(fix.Epv)
		}
	}
	if fix.Speed > 0 {
		sample.Heading = track.Float(fix.Track)
	}
	return sample
}

