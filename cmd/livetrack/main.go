// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

// Package main implements the livetrack daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/wneessen/livetrack/internal/config"
	"github.com/wneessen/livetrack/internal/i18n"
	"github.com/wneessen/livetrack/internal/logger"
	"github.com/wneessen/livetrack/internal/service"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGABRT, os.Interrupt)
	defer cancel()

	confPath := flag.String("config", "", "path to the config file")
	subject := flag.String("subject", "", "ID of the tracked subject, overrides the config")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("livetrack %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}

	log := logger.New(slog.LevelError)
	conf, err := loadConfig(*confPath)
	if err != nil {
		log.Error("failed to load config", logger.Err(err))
		os.Exit(1)
	}
	if *subject != "" {
		conf.Subject = *subject
	}

	log = logger.New(conf.LogLevel)
	t, err := i18n.New(conf.Locale)
	if err != nil {
		log.Error("failed to initialize localizer", logger.Err(err))
		os.Exit(1)
	}

	serv, err := service.New(conf, log, t)
	if err != nil {
		log.Error("failed to initialize livetrack service", logger.Err(err))
		os.Exit(1)
	}

	log.Info(t.Get("starting livetrack service"), slog.String("version", version),
		slog.String("commit", commit), slog.String("date", date), logger.Subject(conf.Subject),
		slog.String("sensor", conf.Sensor.Provider), slog.String("presence", conf.Presence.Mode))
	if err = serv.Run(ctx); err != nil {
		log.Error(t.Get("failed to start livetrack service"), logger.Err(err))
	}
	log.Info(t.Get("shutting down livetrack service"))
}

// loadConfig reads the config file given on the command line, falls back to the default location
// and finally to defaults and environment only.
func loadConfig(confPath string) (*config.Config, error) {
	if confPath != "" {
		return config.NewFromFile(filepath.Dir(confPath), filepath.Base(confPath))
	}
	if path, file := findConfigFile(); path != "" && file != "" {
		return config.NewFromFile(path, file)
	}
	return config.New()
}

func findConfigFile() (string, string) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	for _, ext := range []string{"toml", "yaml", "yml", "json"} {
		path := filepath.Join(homedir, ".config", "livetrack", "config."+ext)
		if _, err = os.Stat(path); err == nil {
			return filepath.Dir(path), filepath.Base(path)
		}
	}
	return "", ""
}
