// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package ichnaea implements a sensor.Watcher that resolves nearby WiFi access points into a
// position through an Ichnaea compatible geolocation API such as BeaconDB.
package ichnaea

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/livetrack/internal/http"
	"github.com/wneessen/livetrack/internal/logger"
	"github.com/wneessen/livetrack/internal/sensor"
	"github.com/wneessen/livetrack/internal/track"
)

const (
	name = "ichnaea"

	DefaultEndpoint = "https://api.beacondb.net/v1/geolocate"
	DefaultPeriod   = time.Minute * 2
	lookupTimeout   = time.Second * 5
)

var ErrNoHTTPClient = errors.New("http client is required")

// APIResult is the response of the geolocate endpoint.
type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

type request struct {
	ConsiderIP   bool              `json:"considerIp"`
	AccessPoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
}

// Watcher scans for access points and asks the geolocation API for a position every period.
type Watcher struct {
	endpoint string
	period   time.Duration
	http     *http.Client
	logger   *logger.Logger

	scanFn   func() ([]WirelessNetwork, error)
	locateFn func(ctx context.Context, aps []WirelessNetwork) (track.Sample, error)
}

// New returns an Ichnaea Watcher. An empty endpoint falls back to BeaconDB.
func New(client *http.Client, endpoint string, period time.Duration, log *logger.Logger) (*Watcher, error) {
	if client == nil {
		return nil, ErrNoHTTPClient
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	watcher := &Watcher{
		endpoint: endpoint,
		period:   period,
		http:     client,
		logger:   log,
	}
	watcher.scanFn = watcher.wifiAccessPoints
	watcher.locateFn = watcher.locate
	return watcher, nil
}

func (w *Watcher) Name() string {
	return name
}

// Watch looks up the position once per period until ctx is canceled.
func (w *Watcher) Watch(ctx context.Context) <-chan sensor.Reading {
	out := make(chan sensor.Reading)
	go func() {
		defer close(out)
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

			aps, err := w.scanFn()
			if err != nil {
				w.logger.Debug("wifi scan failed, falling back to IP based lookup", logger.Err(err))
			}
			sample, err := w.locateFn(ctx, aps)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !sensor.Emit(ctx, out, sensor.ErrorReading(errorCode(err), "%s", err)) {
					return
				}
				continue
			}
			if !sensor.Emit(ctx, out, sensor.SampleReading(sample)) {
				return
			}
		}
	}()
	return out
}

// wifiAccessPoints lists the access points visible to all WiFi station interfaces. Hidden networks
// and networks that opted out with the _nomap suffix are skipped.
func (w *Watcher) wifiAccessPoints() ([]WirelessNetwork, error) {
	wlan, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create wifi client: %w", err)
	}
	defer func() {
		if closeErr := wlan.Close(); closeErr != nil {
			w.logger.Debug("failed to close wifi client", logger.Err(closeErr))
		}
	}()

	ifaces, err := wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	var list []WirelessNetwork
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		aps, err := wlan.AccessPoints(iface)
		if err != nil {
			w.logger.Debug("failed to list access points", logger.Err(err), slog.String("interface", iface.Name))
			continue
		}
		for _, ap := range aps {
			if ap.SSID == "" || ap.SSID[0] == '\x00' || strings.HasSuffix(ap.SSID, "_nomap") {
				continue
			}
			list = append(list, WirelessNetwork{
				SignalStrength: ap.Signal / 100,
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}
	return list, nil
}

func (w *Watcher) locate(ctx context.Context, aps []WirelessNetwork) (track.Sample, error) {
	body := bytes.NewBuffer(nil)
	if err := json.NewEncoder(body).Encode(request{ConsiderIP: true, AccessPoints: aps}); err != nil {
		return track.Sample{}, fmt.Errorf("failed to encode wifi list to JSON: %w", err)
	}

	result := new(APIResult)
	status, err := w.http.PostWithTimeout(ctx, w.endpoint, result, body,
		map[string]string{"Content-Type": "application/json"}, lookupTimeout)
	if err != nil {
		return track.Sample{}, &lookupError{status: status, err: err}
	}
	return track.Sample{
		Latitude:       result.Location.Latitude,
		Longitude:      result.Location.Longitude,
		AccuracyMeters: result.Accuracy,
		Timestamp:      time.Now().UnixMilli(),
	}, nil
}

type lookupError struct {
	status int
	err    error
}

func (e *lookupError) Error() string {
	return fmt.Sprintf("failed to get geolocation data from API: %s", e.err)
}

func (e *lookupError) Unwrap() error {
	return e.err
}

func errorCode(err error) sensor.ErrorCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return sensor.Timeout
	}
	var lookupErr *lookupError
	if errors.As(err, &lookupErr) {
		switch lookupErr.status {
		case stdhttp.StatusUnauthorized, stdhttp.StatusForbidden:
			return sensor.PermissionDenied
		}
	}
	return sensor.PositionUnavailable
}
