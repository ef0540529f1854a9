// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package track

import (
	"time"
)

// Source describes the kind of positioning that most likely produced a Sample. It is derived from the
// reported horizontal accuracy since the platform APIs do not tell us.
type Source string

const (
	SourceGPS     Source = "gps"
	SourceNetwork Source = "network"
	SourcePassive Source = "passive"
)

const (
	gpsAccuracyLimit     = 10.0
	networkAccuracyLimit = 50.0
	maxLatitude          = 90.0
	maxLongitude         = 180.0
)

// Sample is a single position reading of a tracked subject.
type Sample struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracyMeters"`

	Altitude         *float64 `json:"altitude,omitempty"`
	AltitudeAccuracy *float64 `json:"altitudeAccuracy,omitempty"`
	Heading          *float64 `json:"heading,omitempty"`
	Speed            *float64 `json:"speedMetersPerSecond,omitempty"`

	// Timestamp is in milliseconds since the Unix epoch. It comes from the device and is not trusted to be
	// monotonic.
	Timestamp int64  `json:"timestampMillis"`
	Source    Source `json:"source,omitempty"`
}

// Known reports whether s is one of the defined sources.
func (s Source) Known() bool {
	switch s {
	case SourceGPS, SourceNetwork, SourcePassive:
		return true
	default:
		return false
	}
}

// SourceFromAccuracy derives the Source from a horizontal accuracy in meters.
func SourceFromAccuracy(acc float64) Source {
	switch {
	case acc <= gpsAccuracyLimit:
		return SourceGPS
	case acc <= networkAccuracyLimit:
		return SourceNetwork
	default:
		return SourcePassive
	}
}

// ValidCoordinates reports whether latitude and longitude are within their EPSG:4326 bounds.
func (s Sample) ValidCoordinates() bool {
	return s.Latitude >= -maxLatitude && s.Latitude <= maxLatitude &&
		s.Longitude >= -maxLongitude && s.Longitude <= maxLongitude
}

// Time returns the sample timestamp as time.Time.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// WithSource returns a copy of the sample with the Source filled in if it was empty.
func (s Sample) WithSource() Sample {
	if s.Source == "" {
		s.Source = SourceFromAccuracy(s.AccuracyMeters)
	}
	return s
}

// clone returns a deep copy of the sample, so optional fields are not shared between copies.
func (s Sample) clone() Sample {
	s.Altitude = cloneFloat(s.Altitude)
	s.AltitudeAccuracy = cloneFloat(s.AltitudeAccuracy)
	s.Heading = cloneFloat(s.Heading)
	s.Speed = cloneFloat(s.Speed)
	return s
}

// Float returns a pointer to v. Handy for filling the optional Sample fields.
func Float(v float64) *float64 {
	return &v
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
