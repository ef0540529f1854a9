// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"

	"github.com/wneessen/livetrack/internal/track"
)

const (
	configEnv         = "LIVETRACK"
	DefaultTextTpl    = "{{.Icon}} {{loc .State}}"
	DefaultTooltipTpl = "{{loc \"subject\"}}: {{.SubjectID}}\n" +
		"{{if .Position}}{{loc \"position\"}}: {{floatFormat .Position.Latitude 5}}, {{floatFormat .Position.Longitude 5}}\n" +
		"{{loc \"accuracy\"}}: {{distance .Position.AccuracyMeters}}\n" +
		"{{loc \"lastfix\"}}: {{since .LastFix}}\n{{end}}" +
		"{{loc \"trail\"}}: {{distance .TrailMeters}} ({{.Points}} {{loc \"points\"}})" +
		"{{if .LastError}}\n{{loc \"lasterror\"}}: {{loc .LastError}}{{end}}"

	ProviderGPSD    = "gpsd"
	ProviderGeoClue = "geoclue"
	ProviderFile    = "file"
	ProviderIchnaea = "ichnaea"
	ProviderNone    = "none"

	ModeLocal  = "local"
	ModeHub    = "hub"
	ModeClient = "client"
)

// Config represents the application's configuration structure.
type Config struct {
	// Subject is the ID of the tracked subject. Defaults to the login name.
	Subject  string     `fig:"subject"`
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Filter struct {
		MaxAccuracy      float64       `fig:"max_accuracy" default:"50"`
		ImprovementRatio float64       `fig:"improvement_ratio" default:"0.8"`
		MinInterval      time.Duration `fig:"min_interval" default:"10s"`
		MaxSpeed         float64       `fig:"max_speed" default:"33.33"`
		HistoryLimit     int           `fig:"history_limit" default:"100"`
	} `fig:"filter"`

	Sensor struct {
		// Allowed values: gpsd, geoclue, file, ichnaea, none
		Provider string `fig:"provider" default:"gpsd"`
		GPSD     struct {
			Host            string        `fig:"host" default:"localhost"`
			Port            string        `fig:"port" default:"2947"`
			FirstFixTimeout time.Duration `fig:"first_fix_timeout" default:"20s"`
			WatchTimeout    time.Duration `fig:"watch_timeout" default:"15s"`
		} `fig:"gpsd"`
		File    string `fig:"file"`
		Ichnaea struct {
			Endpoint string `fig:"endpoint" default:"https://api.beacondb.net/v1/geolocate"`
		} `fig:"ichnaea"`
		// Period is the poll interval of the file and ichnaea providers.
		Period time.Duration `fig:"period" default:"30s"`
	} `fig:"sensor"`

	Presence struct {
		// Allowed values: local, hub, client
		Mode string `fig:"mode" default:"local"`
		// Listen is the address of the HTTP server. Required in hub mode, optional otherwise.
		Listen string `fig:"listen"`
		// URL of the remote hub in client mode, e.g. ws://tracker.example.com:8742
		URL string `fig:"url"`
	} `fig:"presence"`

	Intervals struct {
		Output time.Duration `fig:"output" default:"30s"`
	} `fig:"intervals"`

	Templates struct {
		Text    string `fig:"text"`
		Tooltip string `fig:"tooltip"`
	} `fig:"templates"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if c.Subject == "" {
		c.Subject = defaultSubject()
	}
	if c.Subject == "" {
		return errors.New("subject is required")
	}
	if c.Locale == "" {
		c.Locale = getLocale()
	}

	if c.Filter.MaxAccuracy <= 0 {
		return fmt.Errorf("invalid max accuracy: %f", c.Filter.MaxAccuracy)
	}
	if c.Filter.ImprovementRatio <= 0 || c.Filter.ImprovementRatio > 1 {
		return fmt.Errorf("invalid improvement ratio: %f", c.Filter.ImprovementRatio)
	}
	if c.Filter.MinInterval < 0 {
		return fmt.Errorf("invalid min interval: %s", c.Filter.MinInterval)
	}
	if c.Filter.MaxSpeed <= 0 {
		return fmt.Errorf("invalid max speed: %f", c.Filter.MaxSpeed)
	}
	if c.Filter.HistoryLimit < 1 {
		return fmt.Errorf("invalid history limit: %d", c.Filter.HistoryLimit)
	}

	switch c.Sensor.Provider {
	case ProviderGPSD, ProviderGeoClue, ProviderIchnaea, ProviderNone:
	case ProviderFile:
		if c.Sensor.File == "" {
			home, _ := os.UserHomeDir()
			c.Sensor.File = filepath.Join(home, ".config", "livetrack", "geolocation")
		}
	default:
		return fmt.Errorf("invalid sensor provider: %s", c.Sensor.Provider)
	}
	if c.Sensor.Period <= 0 {
		return fmt.Errorf("invalid sensor period: %s", c.Sensor.Period)
	}

	switch c.Presence.Mode {
	case ModeLocal:
	case ModeHub:
		if c.Presence.Listen == "" {
			return errors.New("hub mode requires a listen address")
		}
	case ModeClient:
		if c.Presence.URL == "" {
			return errors.New("client mode requires a hub URL")
		}
	default:
		return fmt.Errorf("invalid presence mode: %s", c.Presence.Mode)
	}

	if c.Intervals.Output < time.Second {
		return fmt.Errorf("invalid output interval: %s", c.Intervals.Output)
	}
	if c.Templates.Text == "" {
		c.Templates.Text = DefaultTextTpl
	}
	if c.Templates.Tooltip == "" {
		c.Templates.Tooltip = DefaultTooltipTpl
	}

	return nil
}

// Thresholds returns the acceptance thresholds of the filter section.
func (c *Config) Thresholds() track.Thresholds {
	return track.Thresholds{
		MaxAccuracy:      c.Filter.MaxAccuracy,
		ImprovementRatio: c.Filter.ImprovementRatio,
		MinInterval:      c.Filter.MinInterval,
		MaxSpeed:         c.Filter.MaxSpeed,
	}
}

func defaultSubject() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	host, _ := os.Hostname()
	return host
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
