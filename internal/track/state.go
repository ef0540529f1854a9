// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package track

import (
	"fmt"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// EarthRadius is the mean earth radius in meters.
const EarthRadius = 6371008.8

// State is a point-in-time copy of a Store. History is ordered by arrival, not by sample timestamp,
// since remote updates may arrive out of order.
type State struct {
	SubjectID    string   `json:"subjectId"`
	LastAccepted *Sample  `json:"lastAccepted,omitempty"`
	History      []Sample `json:"history"`
	TrailMeters  float64  `json:"trailMeters"`
}

// Empty reports whether nothing was accepted yet.
func (s State) Empty() bool {
	return s.LastAccepted == nil
}

// FeatureCollection renders the state as GeoJSON: a LineString for the trail (only if it has at least
// two points) and a Point for the current position.
func (s State) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if len(s.History) > 1 {
		line := make(orb.LineString, 0, len(s.History))
		for _, sample := range s.History {
			line = append(line, orb.Point{sample.Longitude, sample.Latitude})
		}
		trail := geojson.NewFeature(line)
		trail.Properties["subject"] = s.SubjectID
		trail.Properties["kind"] = "trail"
		trail.Properties["meters"] = s.TrailMeters
		fc.Append(trail)
	}
	if s.LastAccepted != nil {
		last := s.LastAccepted
		point := geojson.NewFeature(orb.Point{last.Longitude, last.Latitude})
		point.Properties["subject"] = s.SubjectID
		point.Properties["kind"] = "position"
		point.Properties["accuracy"] = last.AccuracyMeters
		point.Properties["source"] = string(last.Source)
		point.Properties["timestamp"] = last.Timestamp
		fc.Append(point)
	}
	return fc
}

// GeoJSON returns the marshalled FeatureCollection.
func (s State) GeoJSON() ([]byte, error) {
	data, err := s.FeatureCollection().MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trail as GeoJSON: %w", err)
	}
	return data, nil
}

// Distance returns the great-circle distance between two samples in meters.
func Distance(a, b Sample) float64 {
	p1 := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	p2 := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return p1.Distance(p2).Radians() * EarthRadius
}

func trailLength(history []Sample) float64 {
	var meters float64
	for i := 1; i < len(history); i++ {
		meters += Distance(history[i-1], history[i])
	}
	return meters
}
