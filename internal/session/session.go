// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package session ties the tracking pieces of a single subject together. A Session owns the track
// store, the sampler of the local position source and the presence subscription, and is the only
// place that starts and tears them down.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/wneessen/livetrack/internal/logger"
	"github.com/wneessen/livetrack/internal/presence"
	"github.com/wneessen/livetrack/internal/sampler"
	"github.com/wneessen/livetrack/internal/sensor"
	"github.com/wneessen/livetrack/internal/track"
)

var (
	ErrNoSubject = errors.New("a subject ID is required")
	ErrNoLogger  = errors.New("a logger is required")
)

// Config holds the optional settings of a Session.
type Config struct {
	Thresholds   track.Thresholds
	HistoryLimit int
	Clock        clockwork.Clock
	// OnError is called for every sensor error of the local position source.
	OnError func(sensor.Error)
}

// Status summarizes a session for presentation.
type Status struct {
	SubjectID string
	Origin    string
	Running   bool
	// Observer is true for sessions without a local position source.
	Observer       bool
	Sampler        sampler.Status
	RemoteMerged   uint64
	RemoteRejected uint64
}

// Session tracks one subject. Local samples come from an optional watcher, remote samples from the
// presence channel. Without a watcher the session only observes.
type Session struct {
	subjectID string
	origin    string
	store     *track.Store
	sampler   *sampler.Sampler
	channel   presence.Channel
	logger    *logger.Logger
	onError   func(sensor.Error)

	mu       sync.Mutex
	running  bool
	unsub    presence.Unsubscribe
	merged   uint64
	rejected uint64
}

// New returns a stopped Session for subjectID. watcher and channel may both be nil.
func New(subjectID string, watcher sensor.Watcher, channel presence.Channel, conf Config, log *logger.Logger) (*Session, error) {
	if subjectID == "" {
		return nil, ErrNoSubject
	}
	if log == nil {
		return nil, ErrNoLogger
	}

	sess := &Session{
		subjectID: subjectID,
		origin:    uuid.NewString(),
		store:     track.NewStore(subjectID, conf.HistoryLimit),
		channel:   channel,
		logger:    log,
		onError:   conf.OnError,
	}
	if watcher != nil {
		smp, err := sampler.New(watcher, sess.store, log, sampler.Config{
			Thresholds: conf.Thresholds,
			OnAccept:   sess.publish,
			OnError:    sess.handleSensorError,
			Clock:      conf.Clock,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create sampler: %w", err)
		}
		sess.sampler = smp
	}
	return sess, nil
}

// SubjectID returns the tracked subject.
func (s *Session) SubjectID() string {
	return s.subjectID
}

// Origin returns the random ID the session tags its published messages with.
func (s *Session) Origin() string {
	return s.origin
}

// Start subscribes to the presence channel and starts sampling. Calling Start on a running session
// is a no-op.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	if s.channel != nil {
		s.unsub = s.channel.Subscribe(s.subjectID, s.handleRemote)
	}
	s.mu.Unlock()

	if s.sampler != nil {
		s.sampler.Start(ctx)
	}
	s.logger.Info("tracking session started", logger.Subject(s.subjectID),
		slog.Bool("observer", s.sampler == nil))
}

// Stop releases the position source, ends the presence subscription and clears the track state. A
// replayed last position published by this session is withdrawn from the channel.
// Calling Stop on a stopped session is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if s.sampler != nil {
		s.sampler.Stop()
	}
	if unsub != nil {
		unsub()
	}
	if f, ok := s.channel.(presence.Forgetter); ok {
		f.Forget(s.subjectID, s.origin)
	}
	s.store.Reset()
	s.logger.Info("tracking session stopped", logger.Subject(s.subjectID))
}

// Reacquire releases the position source and opens a fresh watch, keeping the track state. It does
// nothing for stopped sessions and observers.
func (s *Session) Reacquire(ctx context.Context) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running || s.sampler == nil {
		return
	}

	s.sampler.Stop()
	s.sampler.Start(ctx)
	s.logger.Debug("position source reacquired", logger.Subject(s.subjectID))
}

// Reset clears the track state without stopping the session.
func (s *Session) Reset() {
	s.store.Reset()
}

// Snapshot returns a copy of the current track state.
func (s *Session) Snapshot() track.State {
	return s.store.Snapshot()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	status := Status{
		SubjectID:      s.subjectID,
		Origin:         s.origin,
		Running:        s.running,
		Observer:       s.sampler == nil,
		RemoteMerged:   s.merged,
		RemoteRejected: s.rejected,
	}
	s.mu.Unlock()
	if s.sampler != nil {
		status.Sampler = s.sampler.Status()
	}
	return status
}

// publish shares an accepted local sample with the peers of the subject.
func (s *Session) publish(sample track.Sample) {
	if s.channel == nil {
		return
	}
	s.channel.Publish(presence.NewMessage(s.subjectID, s.origin, sample))
}

// handleRemote merges a peer's sample. Echoes of our own messages are dropped, since they were applied
// locally already.
func (s *Session) handleRemote(msg presence.Message) {
	if msg.Origin == s.origin {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if err := s.store.MergeRemote(msg.Sample, msg.SubjectID); err != nil {
		s.rejected++
		s.logger.Debug("remote sample rejected", logger.Err(err), logger.Subject(msg.SubjectID),
			slog.String("origin", msg.Origin))
		return
	}
	s.merged++
}

func (s *Session) handleSensorError(e sensor.Error) {
	if s.onError != nil {
		s.onError(e)
	}
}
