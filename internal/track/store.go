// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package track

import (
	"errors"
	"sync"
)

// ErrForeignSubject is returned by MergeRemote for samples of a subject the store does not track.
var ErrForeignSubject = errors.New("sample belongs to a different subject")

// Store is the authoritative holder of the current position and the movement history of one tracked
// subject. Local samples and remote updates arrive from independent goroutines, so every mutation is
// serialized by the store's mutex.
type Store struct {
	mu      sync.RWMutex
	subject string
	limit   int
	last    *Sample
	history []Sample
}

// NewStore returns an empty Store for the given subject. The history keeps at most limit entries; a
// non-positive limit falls back to DefaultHistoryLimit.
func NewStore(subjectID string, limit int) *Store {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Store{
		subject: subjectID,
		limit:   limit,
		history: make([]Sample, 0, limit),
	}
}

// SubjectID returns the id of the tracked subject.
func (s *Store) SubjectID() string {
	return s.subject
}

// ApplyLocal makes sample the current position and appends it to the history. The caller is expected
// to have filtered the sample already; use OfferLocal to filter and apply in one step.
func (s *Store) ApplyLocal(sample Sample) {
	s.mu.Lock()
	s.apply(sample)
	s.mu.Unlock()
}

// OfferLocal runs the acceptance algorithm for a locally sampled position against the current one and
// applies it on success. Evaluation and mutation happen under the same lock.
func (s *Store) OfferLocal(sample Sample, thresholds Thresholds) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := thresholds.Evaluate(s.last, sample); err != nil {
		return err
	}
	s.apply(sample)
	return nil
}

// MergeRemote applies a sample received from a peer. Only the coordinate range is checked since there is
// no continuity between peers that the speed or staleness rules could rely on.
func (s *Store) MergeRemote(sample Sample, subjectID string) error {
	if subjectID != s.subject {
		return ErrForeignSubject
	}
	if !sample.ValidCoordinates() {
		return ErrMalformedSample
	}
	s.mu.Lock()
	s.apply(sample)
	s.mu.Unlock()
	return nil
}

// Reset drops the current position and the whole history.
func (s *Store) Reset() {
	s.mu.Lock()
	s.last = nil
	clear(s.history)
	s.history = s.history[:0]
	s.mu.Unlock()
}

// Last returns the current position, if any.
func (s *Store) Last() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Sample{}, false
	}
	return s.last.clone(), true
}

// Len returns the number of history entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Snapshot returns a read-only copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := State{
		SubjectID: s.subject,
		History:   make([]Sample, len(s.history)),
	}
	for i := range s.history {
		state.History[i] = s.history[i].clone()
	}
	if s.last != nil {
		last := s.last.clone()
		state.LastAccepted = &last
	}
	state.TrailMeters = trailLength(state.History)
	return state
}

// apply must be called with the write lock held.
func (s *Store) apply(sample Sample) {
	sample = sample.clone().WithSource()
	s.last = &sample
	s.history = append(s.history, sample)
	if over := len(s.history) - s.limit; over > 0 {
		copy(s.history, s.history[over:])
		clear(s.history[len(s.history)-over:])
		s.history = s.history[:len(s.history)-over]
	}
}
