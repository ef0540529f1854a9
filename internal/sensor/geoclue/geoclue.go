// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geoclue implements a sensor.Watcher backed by the GeoClue2 location service on the
// D-Bus system bus.
package geoclue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/livetrack/internal/logger"
	"github.com/wneessen/livetrack/internal/sensor"
	"github.com/wneessen/livetrack/internal/track"
)

const (
	name = "geoclue"

	DesktopID = "livetrack"

	geoclueService   = "org.freedesktop.GeoClue2"
	managerPath      = "/org/freedesktop/GeoClue2/Manager"
	managerIface     = "org.freedesktop.GeoClue2.Manager"
	clientIface      = "org.freedesktop.GeoClue2.Client"
	locationIface    = "org.freedesktop.GeoClue2.Location"
	propertiesGetAll = "org.freedesktop.DBus.Properties.GetAll"
	locationUpdated  = "LocationUpdated"

	// accuracyLevelExact is GCLUE_ACCURACY_LEVEL_EXACT
	accuracyLevelExact uint32 = 8
	stopTimeout               = time.Second * 2
	signalBuffer              = 10
)

var (
	ErrNoLogger          = errors.New("a logger is required")
	ErrMissingCoordinate = errors.New("location has no coordinates")
	ErrMissingAccuracy   = errors.New("location has no accuracy")
)

// Watcher follows the LocationUpdated signals of a GeoClue2 client.
type Watcher struct {
	logger    *logger.Logger
	connectFn func(ctx context.Context) (*dbus.Conn, error)
}

// New returns a GeoClue2 Watcher.
func New(log *logger.Logger) (*Watcher, error) {
	if log == nil {
		return nil, ErrNoLogger
	}
	return &Watcher{
		logger: log,
		connectFn: func(ctx context.Context) (*dbus.Conn, error) {
			return dbus.ConnectSystemBus(dbus.WithContext(ctx))
		},
	}, nil
}

func (w *Watcher) Name() string {
	return name
}

// Watch registers a GeoClue2 client and streams its location updates until ctx is canceled. The
// client is stopped and the bus connection closed before the channel is closed.
func (w *Watcher) Watch(ctx context.Context) <-chan sensor.Reading {
	out := make(chan sensor.Reading)
	go func() {
		defer close(out)
		if err := w.watch(ctx, out); err != nil && ctx.Err() == nil {
			sensor.Emit(ctx, out, sensor.ErrorReading(errorCode(err), "%s", err))
		}
	}()
	return out
}

func (w *Watcher) watch(ctx context.Context, out chan<- sensor.Reading) (err error) {
	conn, err := w.connectFn(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			w.logger.Debug("failed to close system bus connection", logger.Err(closeErr))
		}
	}()

	var clientPath dbus.ObjectPath
	manager := conn.Object(geoclueService, managerPath)
	if err = manager.CallWithContext(ctx, managerIface+".GetClient", 0).Store(&clientPath); err != nil {
		return fmt.Errorf("failed to get geoclue client: %w", err)
	}
	client := conn.Object(geoclueService, clientPath)
	if err = client.SetProperty(clientIface+".DesktopId", dbus.MakeVariant(DesktopID)); err != nil {
		return fmt.Errorf("failed to set desktop id: %w", err)
	}
	if err = client.SetProperty(clientIface+".RequestedAccuracyLevel", dbus.MakeVariant(accuracyLevelExact)); err != nil {
		return fmt.Errorf("failed to set requested accuracy level: %w", err)
	}

	matchOpts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(clientPath),
		dbus.WithMatchInterface(clientIface),
		dbus.WithMatchMember(locationUpdated),
	}
	if err = conn.AddMatchSignal(matchOpts...); err != nil {
		return fmt.Errorf("failed to subscribe to location updates: %w", err)
	}
	signals := make(chan *dbus.Signal, signalBuffer)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	if err = client.CallWithContext(ctx, clientIface+".Start", 0).Err; err != nil {
		return fmt.Errorf("failed to start geoclue client: %w", err)
	}
	defer func() {
		ctxStop, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
		defer cancelStop()
		if stopErr := client.CallWithContext(ctxStop, clientIface+".Stop", 0).Err; stopErr != nil {
			w.logger.Debug("failed to stop geoclue client", logger.Err(stopErr))
		}
	}()
	w.logger.Debug("geoclue client started", slog.String("path", string(clientPath)))

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return errors.New("system bus connection closed")
			}
			if sig.Path != clientPath || sig.Name != clientIface+"."+locationUpdated || len(sig.Body) != 2 {
				continue
			}
			locationPath, ok := sig.Body[1].(dbus.ObjectPath)
			if !ok {
				continue
			}

			var props map[string]dbus.Variant
			location := conn.Object(geoclueService, locationPath)
			if err = location.CallWithContext(ctx, propertiesGetAll, 0, locationIface).Store(&props); err != nil {
				w.logger.Error("failed to read geoclue location", logger.Err(err))
				continue
			}
			sample, parseErr := sampleFromProperties(props)
			if parseErr != nil {
				w.logger.Error("failed to parse geoclue location", logger.Err(parseErr))
				continue
			}
			if !sensor.Emit(ctx, out, sensor.SampleReading(sample)) {
				return nil
			}
		}
	}
}

// sampleFromProperties converts the properties of a GeoClue2 Location object. GeoClue marks unknown
// altitude with -DBL_MAX and unknown speed or heading with -1.
func sampleFromProperties(props map[string]dbus.Variant) (track.Sample, error) {
	lat, latOK := floatProperty(props, "Latitude")
	lon, lonOK := floatProperty(props, "Longitude")
	if !latOK || !lonOK {
		return track.Sample{}, ErrMissingCoordinate
	}
	acc, ok := floatProperty(props, "Accuracy")
	if !ok {
		return track.Sample{}, ErrMissingAccuracy
	}
	sample := track.Sample{Latitude: lat, Longitude: lon, AccuracyMeters: acc}

	if alt, ok := floatProperty(props, "Altitude"); ok && alt > -math.MaxFloat64 {
		sample.Altitude = track.Float(alt)
	}
	if speed, ok := floatProperty(props, "Speed"); ok && speed >= 0 {
		sample.Speed = track.Float(speed)
	}
	if heading, ok := floatProperty(props, "Heading"); ok && heading >= 0 {
		sample.Heading = track.Float(heading)
	}
	if variant, ok := props["Timestamp"]; ok {
		if ts, ok := variant.Value().([]interface{}); ok && len(ts) == 2 {
			sec, secOK := ts[0].(uint64)
			usec, usecOK := ts[1].(uint64)
			if secOK && usecOK {
				sample.Timestamp = time.Unix(int64(sec), int64(usec)*int64(time.Microsecond)).UnixMilli()
			}
		}
	}
	return sample, nil
}

func floatProperty(props map[string]dbus.Variant, key string) (float64, bool) {
	variant, ok := props[key]
	if !ok {
		return 0, false
	}
	value, ok := variant.Value().(float64)
	return value, ok
}

// errorCode maps D-Bus failures onto sensor error codes. GeoClue refuses clients the agent did not
// authorize with AccessDenied.
func errorCode(err error) sensor.ErrorCode {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		switch dbusErr.Name {
		case "org.freedesktop.DBus.Error.AccessDenied", "org.freedesktop.DBus.Error.AuthFailed":
			return sensor.PermissionDenied
		case "org.freedesktop.DBus.Error.Timeout", "org.freedesktop.DBus.Error.NoReply":
			return sensor.Timeout
		}
	}
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) && dbusErrPtr != nil {
		return errorCode(*dbusErrPtr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sensor.Timeout
	}
	return sensor.PositionUnavailable
}
