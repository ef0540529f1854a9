// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoclue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/wneessen/livetrack/internal/logger"
	"github.com/wneessen/livetrack/internal/sensor"
	"github.com/wneessen/livetrack/internal/track"
)

func TestNew(t *testing.T) {
	t.Run("new watcher succeeds", func(t *testing.T) {
		watcher, err := New(logger.NewLogger(slog.LevelInfo, io.Discard))
		if err != nil {
			t.Fatalf("failed to create geoclue watcher: %s", err)
		}
		if watcher.Name() != name {
			t.Errorf("expected name to be %s, got %s", name, watcher.Name())
		}
	})
	t.Run("missing logger fails", func(t *testing.T) {
		if _, err := New(nil); !errors.Is(err, ErrNoLogger) {
			t.Errorf("expected error to be %s, got %v", ErrNoLogger, err)
		}
	})
}

func TestWatcher_Watch(t *testing.T) {
	t.Run("unreachable system bus is reported", func(t *testing.T) {
		watcher, err := New(logger.NewLogger(slog.LevelInfo, io.Discard))
		if err != nil {
			t.Fatalf("failed to create geoclue watcher: %s", err)
		}
		watcher.connectFn = func(context.Context) (*dbus.Conn, error) {
			return nil, errors.New("no bus")
		}

		out := watcher.Watch(t.Context())
		select {
		case r, ok := <-out:
			if !ok {
				t.Fatal("expected a sensor error before the stream closed")
			}
			if r.Err == nil || r.Err.Code != sensor.PositionUnavailable {
				t.Errorf("expected position unavailable error, got %+v", r)
			}
		case <-time.After(time.Second * 5):
			t.Fatal("timed out waiting for sensor error")
		}
		if _, ok := <-out; ok {
			t.Error("expected stream to be closed")
		}
	})
}

func TestSampleFromProperties(t *testing.T) {
	ts := time.Date(2025, 11, 24, 10, 44, 41, 500_000_000, time.UTC)
	tests := []struct {
		name    string
		props   map[string]dbus.Variant
		want    track.Sample
		wantErr error
	}{
		{
			"complete location",
			map[string]dbus.Variant{
				"Latitude":  dbus.MakeVariant(51.0),
				"Longitude": dbus.MakeVariant(7.0),
				"Accuracy":  dbus.MakeVariant(12.0),
				"Altitude":  dbus.MakeVariant(75.0),
				"Speed":     dbus.MakeVariant(1.5),
				"Heading":   dbus.MakeVariant(90.0),
				"Timestamp": dbus.MakeVariant([]interface{}{uint64(ts.Unix()), uint64(500_000)}),
			},
			track.Sample{
				Latitude: 51, Longitude: 7, AccuracyMeters: 12,
				Altitude: track.Float(75), Speed: track.Float(1.5), Heading: track.Float(90),
				Timestamp: ts.UnixMilli(),
			},
			nil,
		},
		{
			"unknown optional values",
			map[string]dbus.Variant{
				"Latitude":  dbus.MakeVariant(51.0),
				"Longitude": dbus.MakeVariant(7.0),
				"Accuracy":  dbus.MakeVariant(5000.0),
				"Altitude":  dbus.MakeVariant(-math.MaxFloat64),
				"Speed":     dbus.MakeVariant(-1.0),
				"Heading":   dbus.MakeVariant(-1.0),
			},
			track.Sample{Latitude: 51, Longitude: 7, AccuracyMeters: 5000},
			nil,
		},
		{
			"missing longitude",
			map[string]dbus.Variant{"Latitude": dbus.MakeVariant(51.0)},
			track.Sample{},
			ErrMissingCoordinate,
		},
		{
			"missing accuracy",
			map[string]dbus.Variant{"Latitude": dbus.MakeVariant(51.0), "Longitude": dbus.MakeVariant(7.0)},
			track.Sample{},
			ErrMissingAccuracy,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sampleFromProperties(tc.props)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("expected error to be %s, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("failed to parse properties: %s", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("sample mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want sensor.ErrorCode
	}{
		{"access denied", dbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"}, sensor.PermissionDenied},
		{"wrapped access denied", fmt.Errorf("failed: %w", dbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"}), sensor.PermissionDenied},
		{"pointer error", &dbus.Error{Name: "org.freedesktop.DBus.Error.NoReply"}, sensor.Timeout},
		{"deadline", context.DeadlineExceeded, sensor.Timeout},
		{"service unknown", dbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"}, sensor.PositionUnavailable},
		{"plain error", errors.New("broken"), sensor.PositionUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := errorCode(tc.err); got != tc.want {
				t.Errorf("expected error code %s, got %s", tc.want, got)
			}
		})
	}
}
