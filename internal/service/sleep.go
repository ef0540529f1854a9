// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/livetrack/internal/logger"
)

const (
	login1Interface   = "org.freedesktop.login1.Manager"
	login1SleepMember = "PrepareForSleep"

	resumeDebounce   = 2 * time.Second
	signalBufferSize = 8

	busRetryDelay      = 5 * time.Second
	networkWakeupDelay = 10 * time.Second
)

// monitorSleepResume follows the logind PrepareForSleep signal and reacquires the position source
// after the system resumed, since most sensors drop their watches while suspended. Lost bus
// connections are reestablished until ctx is canceled.
func (s *Service) monitorSleepResume(ctx context.Context) {
	var lastResume time.Time
	for {
		if err := s.watchSleepSignals(ctx, &lastResume); err != nil {
			s.logger.Debug("sleep monitoring interrupted", logger.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(busRetryDelay):
		}
	}
}

func (s *Service) watchSleepSignals(ctx context.Context, lastResume *time.Time) error {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("failed to close system bus connection", logger.Err(err))
		}
	}()

	if err = conn.AddMatchSignal(dbus.WithMatchInterface(login1Interface),
		dbus.WithMatchMember(login1SleepMember)); err != nil {
		return err
	}
	signals := make(chan *dbus.Signal, signalBufferSize)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)
	s.logger.Debug("subscribed to dbus signal", slog.String("interface", login1Interface),
		slog.String("member", login1SleepMember))

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if resumed(sig) && time.Since(*lastResume) >= resumeDebounce {
				*lastResume = time.Now()
				s.handleResume(ctx)
			}
		}
	}
}

// resumed reports whether sig announces the end of a suspend.
func resumed(sig *dbus.Signal) bool {
	if sig == nil || len(sig.Body) != 1 {
		return false
	}
	sleeping, ok := sig.Body[0].(bool)
	return ok && !sleeping
}

func (s *Service) handleResume(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(networkWakeupDelay):
	}
	s.logger.Debug("resumed from sleep, reacquiring position source")
	s.session.Reacquire(ctx)
}
