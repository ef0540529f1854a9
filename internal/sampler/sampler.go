// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package sampler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/livetrack/internal/logger"
	"github.com/wneessen/livetrack/internal/sensor"
	"github.com/wneessen/livetrack/internal/track"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

var (
	ErrNoWatcher = errors.New("a watcher is required")
	ErrNoStore   = errors.New("a track store is required")
	ErrNoLogger  = errors.New("a logger is required")
)

// Config holds the optional settings of a Sampler.
type Config struct {
	Thresholds track.Thresholds
	// OnAccept is called with every sample that made it into the store.
	OnAccept func(track.Sample)
	// OnError is called for every sensor error.
	OnError func(sensor.Error)
	// Clock stamps samples that arrive without a timestamp. Defaults to the real clock.
	Clock clockwork.Clock
}

// Sampler drives a sensor.Watcher and runs every reading through the acceptance algorithm of the
// track store. It owns at most one active watch at any time.
type Sampler struct {
	watcher    sensor.Watcher
	store      *track.Store
	logger     *logger.Logger
	thresholds track.Thresholds
	clock      clockwork.Clock
	onAccept   func(track.Sample)
	onError    func(sensor.Error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	status Status
}

// New returns a Sampler feeding store with readings from watcher.
func New(watcher sensor.Watcher, store *track.Store, log *logger.Logger, conf Config) (*Sampler, error) {
	if watcher == nil {
		return nil, ErrNoWatcher
	}
	if store == nil {
		return nil, ErrNoStore
	}
	if log == nil {
		return nil, ErrNoLogger
	}
	if conf.Thresholds == (track.Thresholds{}) {
		conf.Thresholds = track.DefaultThresholds()
	}
	if conf.Clock == nil {
		conf.Clock = clockwork.NewRealClock()
	}
	return &Sampler{
		watcher:    watcher,
		store:      store,
		logger:     log,
		thresholds: conf.Thresholds,
		clock:      conf.Clock,
		onAccept:   conf.OnAccept,
		onError:    conf.OnError,
		status:     Status{State: StateIdle, Watcher: watcher.Name()},
	}, nil
}

// Start begins continuous sampling. Calling Start on a running Sampler is a no-op. The watch ends when
// Stop is called or ctx is canceled.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.setStateLocked(StateAcquiring)

	go func() {
		defer close(done)
		defer cancel()
		s.run(watchCtx)

		s.mu.Lock()
		if s.done == done {
			s.cancel = nil
			s.done = nil
			s.setStateLocked(StateIdle)
		}
		s.mu.Unlock()
	}()
}

// Stop ends sampling and waits until the watch has been released. Calling Stop on a stopped Sampler is
// a no-op.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	if cancel != nil {
		s.setStateLocked(StateIdle)
	}
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a watch is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Status returns a copy of the current sampler status.
func (s *Sampler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.status
	if status.LastError != nil {
		e := *status.LastError
		status.LastError = &e
	}
	return status
}

// run keeps a watch open until ctx is done. If the watcher ends its stream on its own, the watch is
// reacquired with an exponential backoff.
func (s *Sampler) run(ctx context.Context) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		readings := s.safeWatch(ctx)
		if readings == nil {
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

	stream:
		for {
			select {
			case <-ctx.Done():
				s.drain(readings)
				return
			case r, ok := <-readings:
				if !ok {
					s.logger.Debug("watch ended, reacquiring", slog.String("watcher", s.watcher.Name()),
						slog.Duration("backoff", backoff))
					if !sleepOrDone(ctx, backoff) {
						return
					}
					backoff = nextBackoff(backoff)
					break stream
				}
				if s.process(r) {
					backoff = initialBackoff
				}
			}
		}
	}
}

// process handles a single reading and reports whether it was a sample.
func (s *Sampler) process(r sensor.Reading) bool {
	if r.Err != nil {
		s.logger.Warn("sensor error", slog.String("watcher", s.watcher.Name()),
			slog.Int("code", int(r.Err.Code)), slog.String("message", r.Err.Message))
		s.mu.Lock()
		e := *r.Err
		s.status.LastError = &e
		s.setStateLocked(StateError)
		s.mu.Unlock()
		if s.onError != nil {
			s.onError(*r.Err)
		}
		return false
	}

	sample := r.Sample.WithSource()
	if sample.Timestamp == 0 {
		sample.Timestamp = s.clock.Now().UnixMilli()
	}
	if err := s.store.OfferLocal(sample, s.thresholds); err != nil {
		s.logger.Debug("sample rejected", logger.Err(err), slog.String("watcher", s.watcher.Name()),
			logger.Position(sample.Latitude, sample.Longitude, sample.AccuracyMeters))
		s.mu.Lock()
		s.status.Rejected++
		s.setStateLocked(StateTracking)
		s.mu.Unlock()
		return true
	}

	s.mu.Lock()
	s.status.Accepted++
	s.status.LastSample = s.clock.Now()
	s.setStateLocked(StateTracking)
	s.mu.Unlock()
	if s.onAccept != nil {
		s.onAccept(sample)
	}
	return true
}

// safeWatch invokes the watcher and recovers from a panicking implementation.
func (s *Sampler) safeWatch(ctx context.Context) (ch <-chan sensor.Reading) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("watcher panicked", slog.String("watcher", s.watcher.Name()), slog.Any("panic", r))
			ch = nil
		}
	}()
	return s.watcher.Watch(ctx)
}

// drain waits for the watcher to close its stream, so the watch resources are released when Stop returns.
func (s *Sampler) drain(readings <-chan sensor.Reading) {
	for range readings {
	}
}

// setStateLocked must be called with s.mu held.
func (s *Sampler) setStateLocked(state State) {
	if s.status.State == state {
		return
	}
	s.status.State = state
	s.status.Since = s.clock.Now()
	if state != StateError {
		s.status.LastError = nil
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}
