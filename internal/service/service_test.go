// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/wneessen/livetrack/internal/config"
	"github.com/wneessen/livetrack/internal/i18n"
	"github.com/wneessen/livetrack/internal/logger"
	"github.com/wneessen/livetrack/internal/presence"
	"github.com/wneessen/livetrack/internal/presenter"
	"github.com/wneessen/livetrack/internal/track"
)

const (
	testSubject = "employee-42"
	testTimeout = 5 * time.Second
)

func TestNew(t *testing.T) {
	t.Run("new service succeeds", func(t *testing.T) {
		if _, err := testService(t, nil); err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
	})
	t.Run("new service without logger fails", func(t *testing.T) {
		conf, err := config.New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		lang, err := i18n.New("en")
		if err != nil {
			t.Fatalf("failed to create localizer: %s", err)
		}
		if _, err = New(conf, nil, lang); !errors.Is(err, ErrNoLogger) {
			t.Errorf("expected error to be %s, got %s", ErrNoLogger, err)
		}
	})
	t.Run("initializing service with different position sources", func(t *testing.T) {
		tests := []struct {
			provider string
			wantName string
			wantFail bool
		}{
			{config.ProviderGPSD, "gpsd", false},
			{config.ProviderGeoClue, "geoclue", false},
			{config.ProviderFile, "file", false},
			{config.ProviderIchnaea, "ichnaea", false},
			{config.ProviderNone, "", false},
			{"invalid", "", true},
		}
		for _, tc := range tests {
			t.Run(tc.provider, func(t *testing.T) {
				serv, err := testService(t, nil)
				if err != nil {
					t.Fatalf("failed to create service: %s", err)
				}
				serv.config.Sensor.Provider = tc.provider
				serv.config.Sensor.File = "../../testdata/geolocation"
				watcher, err := serv.selectWatcher()
				if tc.wantFail {
					if err == nil {
						t.Fatal("expected watcher selection to fail")
					}
					return
				}
				if err != nil {
					t.Fatalf("failed to select watcher: %s", err)
				}
				if tc.wantName == "" {
					if watcher != nil {
						t.Errorf("expected no watcher, got %s", watcher.Name())
					}
					return
				}
				if watcher.Name() != tc.wantName {
					t.Errorf("expected watcher %q, got %q", tc.wantName, watcher.Name())
				}
			})
		}
	})
	t.Run("initializing service with different presence modes", func(t *testing.T) {
		tests := []struct {
			name     string
			mod      func(*config.Config)
			wantHub  bool
			wantFail bool
		}{
			{"local", func(c *config.Config) { c.Presence.Mode = config.ModeLocal }, false, false},
			{"hub", func(c *config.Config) {
				c.Presence.Mode = config.ModeHub
				c.Presence.Listen = "127.0.0.1:0"
			}, true, false},
			{"client", func(c *config.Config) {
				c.Presence.Mode = config.ModeClient
				c.Presence.URL = "ws://127.0.0.1:1"
			}, false, false},
			{"client with http url", func(c *config.Config) {
				c.Presence.Mode = config.ModeClient
				c.Presence.URL = "http://127.0.0.1:1"
			}, false, true},
			{"invalid", func(c *config.Config) { c.Presence.Mode = "invalid" }, false, true},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				serv, err := testService(t, tc.mod)
				if tc.wantFail {
					if err == nil {
						t.Fatal("expected service creation to fail")
					}
					return
				}
				if err != nil {
					t.Fatalf("failed to create service: %s", err)
				}
				if (serv.hub != nil) != tc.wantHub {
					t.Errorf("expected hub to be set: %t", tc.wantHub)
				}
				if closer, ok := serv.channel.(io.Closer); ok {
					_ = closer.Close()
				}
			})
		}
	})
	t.Run("broken templates fail", func(t *testing.T) {
		_, err := testService(t, func(c *config.Config) { c.Templates.Text = "{{" })
		if err == nil {
			t.Fatal("expected service creation to fail")
		}
	})
}

func TestService_Run(t *testing.T) {
	t.Run("start the service and gracefully shut it down", func(t *testing.T) {
		serv, err := testService(t, func(c *config.Config) { c.Presence.Listen = "127.0.0.1:0" })
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)
		go func() { done <- serv.Run(ctx) }()

		waitFor(t, func() bool { return serv.session.Status().Running })
		cancel()
		select {
		case err = <-done:
			if err != nil {
				t.Errorf("failed to run service: %s", err)
			}
		case <-time.After(testTimeout):
			t.Fatal("service did not shut down")
		}
		if serv.session.Status().Running {
			t.Error("expected session to be stopped after shutdown")
		}
	})
	t.Run("service fails on an unusable listen address", func(t *testing.T) {
		serv, err := testService(t, func(c *config.Config) { c.Presence.Listen = "not-an-address" })
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		done := make(chan error, 1)
		go func() { done <- serv.Run(t.Context()) }()
		select {
		case err = <-done:
			if err == nil || !strings.Contains(err.Error(), "http server failed") {
				t.Errorf("expected http server error, got %v", err)
			}
		case <-time.After(testTimeout):
			t.Fatal("service did not fail")
		}
	})
}

func TestService_printStatus(t *testing.T) {
	t.Run("status is written as a JSON line", func(t *testing.T) {
		serv, err := testService(t, nil)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		buf := bytes.NewBuffer(nil)
		serv.output = buf
		serv.printStatus(t.Context())

		var output presenter.Output
		if err = json.Unmarshal(buf.Bytes(), &output); err != nil {
			t.Fatalf("failed to decode status output: %s", err)
		}
		if output.Class != "livetrack-idle" {
			t.Errorf("expected class %q, got %q", "livetrack-idle", output.Class)
		}
		if !strings.Contains(output.Tooltip, testSubject) {
			t.Errorf("expected tooltip to contain subject, got %q", output.Tooltip)
		}
	})
	t.Run("write errors are logged", func(t *testing.T) {
		serv, err := testService(t, nil)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		buf := &syncBuffer{buf: bytes.NewBuffer(nil)}
		serv.logger = logger.NewLogger(slog.LevelInfo, buf)
		serv.output = failWriter{}
		serv.printStatus(t.Context())
		if !strings.Contains(buf.String(), "failed to encode status") {
			t.Errorf("expected error log, got %q", buf.String())
		}
	})
}

func TestService_routes(t *testing.T) {
	serv, err := testService(t, nil)
	if err != nil {
		t.Fatalf("failed to create service: %s", err)
	}
	serv.session.Start(t.Context())
	t.Cleanup(serv.session.Stop)
	publishRemote(t, serv)

	t.Run("health", func(t *testing.T) {
		resp := serveRequest(serv, "/healthz")
		if resp.Code != stdhttp.StatusOK {
			t.Fatalf("expected status 200, got %d", resp.Code)
		}
		if !strings.Contains(resp.Body.String(), `"running":true`) {
			t.Errorf("unexpected health response: %s", resp.Body.String())
		}
	})
	t.Run("snapshot", func(t *testing.T) {
		resp := serveRequest(serv, "/subjects/"+testSubject)
		if resp.Code != stdhttp.StatusOK {
			t.Fatalf("expected status 200, got %d", resp.Code)
		}
		var state track.State
		if err := json.Unmarshal(resp.Body.Bytes(), &state); err != nil {
			t.Fatalf("failed to decode snapshot: %s", err)
		}
		if state.SubjectID != testSubject || len(state.History) != 1 {
			t.Errorf("unexpected snapshot: %+v", state)
		}
	})
	t.Run("trail", func(t *testing.T) {
		resp := serveRequest(serv, "/subjects/"+testSubject+"/trail.geojson")
		if resp.Code != stdhttp.StatusOK {
			t.Fatalf("expected status 200, got %d", resp.Code)
		}
		if ct := resp.Header().Get("Content-Type"); ct != contentTypeGeoJSON {
			t.Errorf("expected content type %q, got %q", contentTypeGeoJSON, ct)
		}
		if !strings.Contains(resp.Body.String(), `"FeatureCollection"`) {
			t.Errorf("expected a feature collection, got %s", resp.Body.String())
		}
	})
	t.Run("foreign subjects are not found", func(t *testing.T) {
		for _, path := range []string{"/subjects/someone-else", "/subjects/someone-else/trail.geojson"} {
			if resp := serveRequest(serv, path); resp.Code != stdhttp.StatusNotFound {
				t.Errorf("%s: expected status 404, got %d", path, resp.Code)
			}
		}
	})
}

func TestService_HandleSignals(t *testing.T) {
	t.Run("USR1 signal resets the trail", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		serv, err := testService(t, nil)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		serv.output = io.Discard
		serv.session.Start(ctx)
		defer serv.session.Stop()
		publishRemote(t, serv)

		sigChan := make(chan os.Signal, 1)
		serv.SignalSrc.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
		go func() {
			defer serv.SignalSrc.Stop(sigChan)
			serv.HandleSignals(ctx, sigChan)
		}()

		sigChan <- syscall.SIGUSR1
		waitFor(t, func() bool { return serv.session.Snapshot().Empty() })
	})
	t.Run("USR2 signal logs the status", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		serv, err := testService(t, nil)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		buf := &syncBuffer{buf: bytes.NewBuffer(nil)}
		serv.logger = logger.NewLogger(slog.LevelInfo, buf)
		sigChan := make(chan os.Signal, 1)
		go serv.HandleSignals(ctx, sigChan)

		sigChan <- syscall.SIGUSR2
		wantLog := fmt.Sprintf(`msg="current tracking status" subject=%s state=idle points=0`, testSubject)
		waitFor(t, func() bool { return strings.Contains(buf.String(), wantLog) })
	})
}

func TestResumed(t *testing.T) {
	tests := []struct {
		name string
		sig  *dbus.Signal
		want bool
	}{
		{"nil signal", nil, false},
		{"going to sleep", &dbus.Signal{Body: []interface{}{true}}, false},
		{"resuming", &dbus.Signal{Body: []interface{}{false}}, true},
		{"unexpected body", &dbus.Signal{Body: []interface{}{"false"}}, false},
		{"empty body", &dbus.Signal{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := resumed(tc.sig); got != tc.want {
				t.Errorf("expected %t, got %t", tc.want, got)
			}
		})
	}
}

func testService(t *testing.T, mod func(*config.Config)) (*Service, error) {
	t.Helper()
	conf, err := config.New()
	if err != nil {
		return nil, err
	}
	conf.Subject = testSubject
	conf.Locale = "en"
	conf.Sensor.Provider = config.ProviderNone
	if mod != nil {
		mod(conf)
	}

	lang, err := i18n.New(conf.Locale)
	if err != nil {
		return nil, err
	}
	serv, err := New(conf, logger.NewLogger(slog.LevelDebug, io.Discard), lang)
	if err != nil {
		return nil, err
	}
	serv.monitorSleep = false
	serv.output = io.Discard
	return serv, nil
}

// publishRemote shares a peer sample for the test subject and waits until it was merged.
func publishRemote(t *testing.T, serv *Service) {
	t.Helper()
	sample := track.Sample{Latitude: 52.52, Longitude: 13.405, AccuracyMeters: 12, Timestamp: time.Now().UnixMilli()}
	serv.channel.Publish(presence.NewMessage(testSubject, uuid.NewString(), sample))
	waitFor(t, func() bool { return !serv.session.Snapshot().Empty() })
}

func serveRequest(serv *Service, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	serv.router.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, path, nil))
	return rec
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type (
	failWriter struct{}
	syncBuffer struct {
		mu  sync.Mutex
		buf *bytes.Buffer
	}
)

func (f failWriter) Write([]byte) (int, error) { return 0, fmt.Errorf("failed to write") }

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
