// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package track

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	DefaultMaxAccuracy      = 50.0
	DefaultImprovementRatio = 0.8
	DefaultMinInterval      = 10 * time.Second
	DefaultMaxSpeed         = 33.33
	DefaultHistoryLimit     = 100
)

var (
	// ErrMalformedSample is returned for samples with out-of-range coordinates.
	ErrMalformedSample = errors.New("sample coordinates out of range")
	// ErrLowConfidenceSample is returned for samples that are not precise enough to be trusted.
	ErrLowConfidenceSample = errors.New("sample accuracy too low")
	// ErrImplausibleSpeed is returned for samples reporting a speed no tracked subject can reach. It
	// wraps ErrLowConfidenceSample.
	ErrImplausibleSpeed = fmt.Errorf("implausible speed: %w", ErrLowConfidenceSample)
	// ErrNotUpdateWorthy is returned for admissible samples that are neither more precise nor
	// sufficiently newer than the current one.
	ErrNotUpdateWorthy = errors.New("sample is not update-worthy")
)

// Thresholds holds the tunables of the acceptance algorithm.
type Thresholds struct {
	// MaxAccuracy is the largest horizontal accuracy in meters a sample may report.
	MaxAccuracy float64
	// ImprovementRatio is the factor the accuracy has to drop below, relative to the current sample,
	// to count as a more precise fix.
	ImprovementRatio float64
	// MinInterval is the age difference after which a sample replaces the current one regardless of
	// its precision.
	MinInterval time.Duration
	// MaxSpeed in m/s. Faster samples are treated as sensor noise.
	MaxSpeed float64
}

// DefaultThresholds returns the Thresholds used when nothing else is configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxAccuracy:      DefaultMaxAccuracy,
		ImprovementRatio: DefaultImprovementRatio,
		MinInterval:      DefaultMinInterval,
		MaxSpeed:         DefaultMaxSpeed,
	}
}

// Admissible checks the coordinate range and the accuracy of a sample. Negative or NaN accuracies
// carry no confidence at all.
func (t Thresholds) Admissible(s Sample) error {
	if !s.ValidCoordinates() {
		return ErrMalformedSample
	}
	if math.IsNaN(s.AccuracyMeters) || s.AccuracyMeters < 0 || s.AccuracyMeters > t.MaxAccuracy {
		return ErrLowConfidenceSample
	}
	return nil
}

// Evaluate runs the full acceptance algorithm for a locally sampled candidate against the currently
// accepted sample prev, which is nil if nothing was accepted yet. A nil return means the candidate
// should replace prev.
func (t Thresholds) Evaluate(prev *Sample, candidate Sample) error {
	if err := t.Admissible(candidate); err != nil {
		return err
	}
	if prev == nil {
		return nil
	}
	if candidate.Speed != nil && *candidate.Speed > t.MaxSpeed {
		return ErrImplausibleSpeed
	}

	if candidate.AccuracyMeters < prev.AccuracyMeters*t.ImprovementRatio {
		return nil
	}
	if newerBy(candidate.Timestamp, prev.Timestamp, t.MinInterval) {
		return nil
	}
	return ErrNotUpdateWorthy
}

// newerBy reports whether ts is at least d after prev. Both timestamps come from devices, so the
// difference is computed without wrapping around.
func newerBy(ts, prev int64, d time.Duration) bool {
	switch {
	case prev > 0 && ts < math.MinInt64+prev:
		return false
	case prev < 0 && ts > math.MaxInt64+prev:
		return true
	}
	return ts-prev >= d.Milliseconds()
}
