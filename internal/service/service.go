// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"os"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gorilla/mux"
	"github.com/vorlif/spreak"

	"github.com/wneessen/livetrack/internal/config"
	"github.com/wneessen/livetrack/internal/http"
	"github.com/wneessen/livetrack/internal/logger"
	"github.com/wneessen/livetrack/internal/presence"
	"github.com/wneessen/livetrack/internal/presenter"
	"github.com/wneessen/livetrack/internal/sensor"
	"github.com/wneessen/livetrack/internal/sensor/file"
	"github.com/wneessen/livetrack/internal/sensor/geoclue"
	"github.com/wneessen/livetrack/internal/sensor/gpsd"
	"github.com/wneessen/livetrack/internal/sensor/ichnaea"
	"github.com/wneessen/livetrack/internal/session"
)

const shutdownTimeout = 5 * time.Second

var ErrNoLogger = errors.New("no logger provided")

type Service struct {
	SignalSrc signalSource

	config    *config.Config
	logger    *logger.Logger
	presenter *presenter.Presenter
	scheduler gocron.Scheduler
	session   *session.Session
	channel   presence.Channel
	hub       *presence.Hub
	router    *mux.Router
	output    io.Writer

	monitorSleep bool
}

func New(conf *config.Config, log *logger.Logger, loc *spreak.Localizer) (*Service, error) {
	if log == nil {
		return nil, ErrNoLogger
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	pres, err := presenter.New(conf, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to create presenter: %w", err)
	}

	service := &Service{
		SignalSrc:    stdLibSignalSource{},
		config:       conf,
		logger:       log,
		presenter:    pres,
		scheduler:    scheduler,
		router:       mux.NewRouter(),
		output:       os.Stdout,
		monitorSleep: true,
	}

	watcher, err := service.selectWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create position source: %w", err)
	}
	if err = service.selectChannel(); err != nil {
		return nil, fmt.Errorf("failed to create presence channel: %w", err)
	}

	service.session, err = session.New(conf.Subject, watcher, service.channel, session.Config{
		Thresholds:   conf.Thresholds(),
		HistoryLimit: conf.Filter.HistoryLimit,
		OnError:      service.logSensorError,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracking session: %w", err)
	}
	service.routes()

	return service, nil
}

// Run starts tracking and blocks until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.createScheduledJob(ctx, s.config.Intervals.Output, s.printStatus,
		"status_output_job"); err != nil {
		return err
	}

	var server *stdhttp.Server
	serverErr := make(chan error, 1)
	if s.config.Presence.Listen != "" {
		server = &stdhttp.Server{
			Addr:              s.config.Presence.Listen,
			Handler:           s.router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			s.logger.Info("http server listening", slog.String("address", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	s.scheduler.Start()
	s.session.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	s.SignalSrc.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		defer s.SignalSrc.Stop(sigChan)
		s.HandleSignals(ctx, sigChan)
	}()
	if s.monitorSleep {
		go s.monitorSleepResume(ctx)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		runErr = fmt.Errorf("http server failed: %w", err)
	}
	return errors.Join(runErr, s.shutdown(server))
}

func (s *Service) shutdown(server *stdhttp.Server) error {
	var errs []error
	s.session.Stop()
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down http server: %w", err))
		}
	}
	if closer, ok := s.channel.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close presence channel: %w", err))
		}
	}
	if err := s.scheduler.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down scheduler: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Service) selectWatcher() (sensor.Watcher, error) {
	conf := s.config.Sensor
	switch conf.Provider {
	case config.ProviderGPSD:
		return gpsd.New(gpsd.Config{
			Host:            conf.GPSD.Host,
			Port:            conf.GPSD.Port,
			FirstFixTimeout: conf.GPSD.FirstFixTimeout,
			WatchTimeout:    conf.GPSD.WatchTimeout,
		}, s.logger)
	case config.ProviderGeoClue:
		return geoclue.New(s.logger)
	case config.ProviderFile:
		return file.New(conf.File, conf.Period), nil
	case config.ProviderIchnaea:
		return ichnaea.New(http.New(s.logger), conf.Ichnaea.Endpoint, conf.Period, s.logger)
	case config.ProviderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported sensor provider: %s", conf.Provider)
	}
}

func (s *Service) selectChannel() error {
	switch s.config.Presence.Mode {
	case config.ModeLocal:
		bus, err := presence.NewBus(s.logger, presence.DefaultBuffer)
		if err != nil {
			return err
		}
		s.channel = bus
	case config.ModeHub:
		hub, err := presence.NewHub(s.logger, presence.DefaultBuffer)
		if err != nil {
			return err
		}
		s.hub = hub
		s.channel = hub
	case config.ModeClient:
		client, err := presence.NewClient(s.config.Presence.URL, s.logger)
		if err != nil {
			return err
		}
		s.channel = client
	default:
		return fmt.Errorf("unsupported presence mode: %s", s.config.Presence.Mode)
	}
	return nil
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// printStatus renders the tracking status and writes it as a JSON line to the output.
func (s *Service) printStatus(context.Context) {
	data := s.presenter.BuildData(s.session.Status(), s.session.Snapshot())
	output, err := s.presenter.Render(data)
	if err != nil {
		s.logger.Error("failed to render status", logger.Err(err))
		return
	}
	if err = json.NewEncoder(s.output).Encode(output); err != nil {
		s.logger.Error("failed to encode status", logger.Err(err))
	}
}

func (s *Service) logSensorError(e sensor.Error) {
	s.logger.Warn("position source reported an error", slog.String("code", e.Code.String()),
		slog.String("message", e.Message))
}
