// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wneessen/livetrack/internal/logger"
)

type signalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type stdLibSignalSource struct{}

func (stdLibSignalSource) Notify(c chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(c, sig...)
}

func (stdLibSignalSource) Stop(c chan<- os.Signal) {
	signal.Stop(c)
}

// HandleSignals resets the trail on SIGUSR1 and reports the tracking status on SIGUSR2.
func (s *Service) HandleSignals(ctx context.Context, sigChan chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				s.session.Reset()
				s.logger.Info("track state reset", logger.Subject(s.session.SubjectID()))
				s.printStatus(ctx)
			case syscall.SIGUSR2:
				s.logStatus()
			}
		}
	}
}

func (s *Service) logStatus() {
	status := s.session.Status()
	snap := s.session.Snapshot()
	attrs := []any{
		logger.Subject(status.SubjectID),
		slog.String("state", status.Sampler.State.String()),
		slog.Int("points", len(snap.History)),
		slog.Uint64("accepted", status.Sampler.Accepted),
		slog.Uint64("rejected", status.Sampler.Rejected),
		slog.Uint64("remote", status.RemoteMerged),
	}
	if snap.LastAccepted != nil {
		attrs = append(attrs, logger.Position(snap.LastAccepted.Latitude, snap.LastAccepted.Longitude,
			snap.LastAccepted.AccuracyMeters))
	}
	s.logger.Info("current tracking status", attrs...)
}
