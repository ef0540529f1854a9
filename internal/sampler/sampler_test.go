// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package sampler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/livetrack/internal/logger"
	"github.com/wneessen/livetrack/internal/sensor"
	"github.com/wneessen/livetrack/internal/sensor/sensortest"
	"github.com/wneessen/livetrack/internal/track"
)

const (
	testSubject = "employee-42"
	testLat     = 51.2277
	testLon     = 6.7735
)

func testSampler(t *testing.T, conf Config) (*Sampler, *sensortest.Watcher, *track.Store) {
	t.Helper()
	watcher := sensortest.New()
	store := track.NewStore(testSubject, 0)
	s, err := New(watcher, store, logger.NewLogger(slog.LevelDebug, bytes.NewBuffer(nil)), conf)
	if err != nil {
		t.Fatalf("failed to create sampler: %s", err)
	}
	return s, watcher, store
}

func TestNew(t *testing.T) {
	log := logger.NewLogger(slog.LevelDebug, bytes.NewBuffer(nil))
	store := track.NewStore(testSubject, 0)
	watcher := sensortest.New()
	tests := []struct {
		name    string
		watcher sensor.Watcher
		store   *track.Store
		log     *logger.Logger
		wantErr error
	}{
		{"missing watcher", nil, store, log, ErrNoWatcher},
		{"missing store", watcher, nil, log, ErrNoStore},
		{"missing logger", watcher, store, nil, ErrNoLogger},
		{"all set", watcher, store, log, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := New(tc.watcher, tc.store, tc.log, Config{})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			if tc.wantErr != nil {
				return
			}
			if s.thresholds != track.DefaultThresholds() {
				t.Errorf("expected default thresholds, got %+v", s.thresholds)
			}
			if s.Status().State != StateIdle {
				t.Errorf("expected new sampler to be idle, got %s", s.Status().State)
			}
		})
	}
}

func TestSampler_StartStop(t *testing.T) {
	t.Run("start and stop are idempotent and release the watch once", func(t *testing.T) {
		s, watcher, _ := testSampler(t, Config{})
		s.Stop()
		s.Start(t.Context())
		s.Start(t.Context())
		if !s.Running() {
			t.Fatal("expected sampler to be running")
		}
		s.Stop()
		s.Stop()
		s.Stop()
		if s.Running() {
			t.Fatal("expected sampler to be stopped")
		}
		if watcher.Acquired() != 1 {
			t.Errorf("expected watch to be acquired once, got %d", watcher.Acquired())
		}
		if watcher.Released() != 1 {
			t.Errorf("expected watch to be released once, got %d", watcher.Released())
		}
	})
	t.Run("sampler can be restarted after stop", func(t *testing.T) {
		s, watcher, _ := testSampler(t, Config{})
		s.Start(t.Context())
		s.Stop()
		s.Start(t.Context())
		s.Stop()
		if watcher.Acquired() != 2 || watcher.Released() != 2 {
			t.Errorf("expected 2 acquisitions and releases, got %d and %d", watcher.Acquired(),
				watcher.Released())
		}
	})
	t.Run("canceling the parent context releases the watch", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			s, watcher, _ := testSampler(t, Config{})
			s.Start(ctx)
			cancel()
			synctest.Wait()
			if s.Running() {
				t.Error("expected sampler to stop with its context")
			}
			if watcher.Released() != 1 {
				t.Errorf("expected watch to be released once, got %d", watcher.Released())
			}
			s.Stop()
		})
	})
}

func TestSampler_pipeline(t *testing.T) {
	t.Run("accepted samples reach the store and the accept hook", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			var mu sync.Mutex
			var accepted []track.Sample
			s, watcher, store := testSampler(t, Config{OnAccept: func(sample track.Sample) {
				mu.Lock()
				accepted = append(accepted, sample)
				mu.Unlock()
			}})
			s.Start(t.Context())
			defer s.Stop()

			readings := []track.Sample{
				{Latitude: testLat, Longitude: testLon, AccuracyMeters: 20, Timestamp: 1000},
				{Latitude: testLat, Longitude: testLon, AccuracyMeters: 17, Timestamp: 4000},
				{Latitude: 100, Longitude: testLon, AccuracyMeters: 5, Timestamp: 5000},
				{Latitude: testLat, Longitude: testLon, AccuracyMeters: 15, Timestamp: 6000},
			}
			for _, r := range readings {
				watcher.Send(t.Context(), sensor.SampleReading(r))
			}
			synctest.Wait()

			if store.Len() != 2 {
				t.Fatalf("expected 2 history entries, got %d", store.Len())
			}
			mu.Lock()
			defer mu.Unlock()
			if len(accepted) != 2 {
				t.Fatalf("expected 2 accepted samples, got %d", len(accepted))
			}
			if accepted[1].AccuracyMeters != 15 {
				t.Errorf("expected second accepted sample to have accuracy 15, got %f", accepted[1].AccuracyMeters)
			}
			if accepted[1].Source != track.SourceNetwork {
				t.Errorf("expected source to be %s, got %s", track.SourceNetwork, accepted[1].Source)
			}
			status := s.Status()
			if status.Accepted != 2 || status.Rejected != 2 {
				t.Errorf("expected 2 accepted and 2 rejected, got %d and %d", status.Accepted, status.Rejected)
			}
			if status.State != StateTracking {
				t.Errorf("expected state to be tracking, got %s", status.State)
			}
		})
	})
	t.Run("sensor errors are reported and do not touch the store", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			var mu sync.Mutex
			var got []sensor.Error
			s, watcher, store := testSampler(t, Config{OnError: func(e sensor.Error) {
				mu.Lock()
				got = append(got, e)
				mu.Unlock()
			}})
			s.Start(t.Context())
			defer s.Stop()

			watcher.Send(t.Context(), sensor.ErrorReading(sensor.PermissionDenied, "user denied access"))
			watcher.Send(t.Context(), sensor.ErrorReading(sensor.Timeout, "no fix within %s", time.Second))
			synctest.Wait()

			mu.Lock()
			defer mu.Unlock()
			if len(got) != 2 {
				t.Fatalf("expected 2 sensor errors, got %d", len(got))
			}
			if got[0].Code != sensor.PermissionDenied {
				t.Errorf("expected first error to be permission denied, got %s", got[0].Code)
			}
			if store.Len() != 0 {
				t.Errorf("expected store to stay empty, got %d entries", store.Len())
			}
			status := s.Status()
			if status.State != StateError {
				t.Errorf("expected state to be error, got %s", status.State)
			}
			if status.LastError == nil || status.LastError.Code != sensor.Timeout {
				t.Errorf("expected last error to be a timeout, got %v", status.LastError)
			}
			if !s.Running() {
				t.Error("expected sampler to keep running after sensor errors")
			}
		})
	})
	t.Run("samples without a timestamp are stamped with the clock", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			now := time.Date(2025, 11, 24, 10, 44, 41, 0, time.UTC)
			s, watcher, store := testSampler(t, Config{Clock: clockwork.NewFakeClockAt(now)})
			s.Start(t.Context())
			defer s.Stop()

			watcher.Send(t.Context(), sensor.SampleReading(track.Sample{
				Latitude: testLat, Longitude: testLon, AccuracyMeters: 5,
			}))
			synctest.Wait()

			last, ok := store.Last()
			if !ok {
				t.Fatal("expected a current sample")
			}
			if last.Timestamp != now.UnixMilli() {
				t.Errorf("expected timestamp to be %d, got %d", now.UnixMilli(), last.Timestamp)
			}
		})
	})
}

func TestSampler_reacquire(t *testing.T) {
	t.Run("ended watch is reacquired after a backoff", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			s, watcher, _ := testSampler(t, Config{})
			watcher.CloseAfter(1)
			s.Start(t.Context())
			defer s.Stop()

			watcher.Send(t.Context(), sensor.SampleReading(track.Sample{
				Latitude: testLat, Longitude: testLon, AccuracyMeters: 5, Timestamp: 1,
			}))
			synctest.Wait()
			if watcher.Acquired() != 1 {
				t.Fatalf("expected no reacquisition before the backoff, got %d", watcher.Acquired())
			}

			time.Sleep(initialBackoff + time.Millisecond)
			synctest.Wait()
			if watcher.Acquired() != 2 {
				t.Errorf("expected watch to be reacquired, got %d acquisitions", watcher.Acquired())
			}
		})
	})
	t.Run("panicking watcher is recovered and retried", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			watcher := &panicWatcher{}
			s, err := New(watcher, track.NewStore(testSubject, 0),
				logger.NewLogger(slog.LevelDebug, bytes.NewBuffer(nil)), Config{})
			if err != nil {
				t.Fatalf("failed to create sampler: %s", err)
			}
			s.Start(t.Context())
			synctest.Wait()
			time.Sleep(initialBackoff + initialBackoff*2 + time.Millisecond)
			synctest.Wait()
			s.Stop()

			if calls := watcher.calls.Load(); calls != 3 {
				t.Errorf("expected watcher to be called 3 times, got %d", calls)
			}
		})
	})
}

func TestNextBackoff(t *testing.T) {
	if got := nextBackoff(time.Second); got != 2*time.Second {
		t.Errorf("expected backoff to double, got %s", got)
	}
	if got := nextBackoff(20 * time.Second); got != maxBackoff {
		t.Errorf("expected backoff to be capped at %s, got %s", maxBackoff, got)
	}
}

type panicWatcher struct {
	calls atomic.Int32
}

func (p *panicWatcher) Name() string { return "panic" }

func (p *panicWatcher) Watch(context.Context) <-chan sensor.Reading {
	p.calls.Add(1)
	panic("intentionally panicking")
}
