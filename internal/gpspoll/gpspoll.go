// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpspoll fetches a single fix from gpsd without keeping a session open.
package gpspoll

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

const (
	fallbackAccuracy3DFix = 10  // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25  // worse than 3D, but still accurate enough
	fallbackAccuracyNoFix = 1e6 // effectively unusable
	pollTimeout           = time.Second * 2
)

var ErrNoTPV = errors.New("no TPV response received from gpsd")

// Client is a minimal gpsd client
type Client struct {
	Addr string
}

// Fix represents a single GPS fix from gpsd. Speed is in m/s, Track in degrees from true north.
type Fix struct {
	Lat   float64
	Lon   float64
	Alt   float64
	Acc   float64
	Epv   float64
	Speed float64
	Track float64
	Time  time.Time
	Mode  int
}

// tpvResponse matches the subset of a gpsd TPV report we care about.
type tpvResponse struct {
	Class string    `json:"class"`
	Mode  int       `json:"mode"`
	Time  time.Time `json:"time"`
	Lat   float64   `json:"lat"`
	Lon   float64   `json:"lon"`
	Alt   float64   `json:"alt"`
	Epx   float64   `json:"epx"`
	Epy   float64   `json:"epy"`
	Eph   float64   `json:"eph"`
	Epv   float64   `json:"epv"`
	Speed float64   `json:"speed"`
	Track float64   `json:"track"`
}

// New constructs a new Client for the given host and port.
func New(host, port string) *Client {
	return &Client{
		Addr: net.JoinHostPort(host, port),
	}
}

// Poll connects to gpsd, enables watch mode and returns the first TPV report. The connection
// is closed before returning.
func (c *Client) Poll(ctx context.Context) (Fix, error) {
	var zero Fix

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return zero, fmt.Errorf("gpspoll: dial gpsd: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(pollTimeout))
	}

	if _, err = fmt.Fprint(conn, `?WATCH={"enable":true,"json":true}`+"\n"); err != nil {
		return zero, fmt.Errorf("gpspoll: write WATCH: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		var resp tpvResponse
		if err = json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.Class != "TPV" {
			continue
		}

		return Fix{
			Lat:   resp.Lat,
			Lon:   resp.Lon,
			Alt:   resp.Alt,
			Acc:   HorizontalAccuracy(resp.Mode, resp.Eph, resp.Epx, resp.Epy),
			Epv:   resp.Epv,
			Speed: resp.Speed,
			Track: resp.Track,
			Time:  resp.Time,
			Mode:  resp.Mode,
		}, nil
	}

	if err = scanner.Err(); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return zero, fmt.Errorf("gpspoll: %w", context.DeadlineExceeded)
		}
		return zero, fmt.Errorf("failed to scan gpsd response: %w", err)
	}

	return zero, ErrNoTPV
}

// Has2DFix reports whether the fix has at least a 2D fix.
func (f Fix) Has2DFix() bool {
	return f.Mode >= 2
}

// HorizontalAccuracy estimates the horizontal error in meters from gpsd's error fields. It prefers
// eph, then combines epx and epy, and finally falls back to a typical value for the fix mode.
func HorizontalAccuracy(mode int, eph, epx, epy float64) float64 {
	switch {
	case eph > 0:
		return eph
	case epx > 0 && epy > 0:
		return math.Hypot(epx, epy)
	}
	switch mode {
	case 3:
		return fallbackAccuracy3DFix
	case 2:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}
