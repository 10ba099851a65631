package main

import (
	"fmt"
	fyre_go "fyre-go"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type logConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	NoColor    bool
}

type appConfig struct {
	Host   string
	Client fyre_go.Config

	Scene      string
	RenderTime float64
	GUIStyle   string
	Steps      int
	StepSize   float64
	Interval   time.Duration

	Log logConfig
}

func defaultAppConfig() appConfig {
	return appConfig{
		Host:       "localhost",
		Client:     fyre_go.DefaultConfig(),
		RenderTime: 0.02,
		GUIStyle:   "simple",
		StepSize:   0.1,
		Log: logConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

type fileLogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	NoColor    bool   `toml:"no_color"`
}

type fileConfig struct {
	Host         string        `toml:"host"`
	DialTimeout  string        `toml:"dial_timeout"`
	ReadTimeout  string        `toml:"read_timeout"`
	WriteTimeout string        `toml:"write_timeout"`
	Scene        string        `toml:"scene"`
	RenderTime   float64       `toml:"render_time"`
	GUIStyle     string        `toml:"gui_style"`
	Steps        int           `toml:"steps"`
	StepSize     float64       `toml:"step_size"`
	Interval     string        `toml:"step_interval"`
	Log          fileLogConfig `toml:"log"`
}

func loadAppConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load fyrectl config: %w", err)
	}

	if meta.IsDefined("host") {
		host := strings.TrimSpace(raw.Host)
		if host != "" {
			cfg.Host = host
		}
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"dial_timeout", raw.DialTimeout, &cfg.Client.DialTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.Client.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Client.WriteTimeout},
		{"step_interval", raw.Interval, &cfg.Interval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		if v < 0 {
			return appConfig{}, fmt.Errorf("parse %s: negative duration %v", d.key, v)
		}
		*d.dst = v
	}

	if meta.IsDefined("scene") {
		cfg.Scene = strings.TrimSpace(raw.Scene)
	}

	if meta.IsDefined("render_time") {
		if raw.RenderTime <= 0 {
			return appConfig{}, fmt.Errorf("render_time must be positive, got %v", raw.RenderTime)
		}
		cfg.RenderTime = raw.RenderTime
	}

	if meta.IsDefined("gui_style") {
		cfg.GUIStyle = strings.TrimSpace(raw.GUIStyle)
	}

	if meta.IsDefined("steps") {
		if raw.Steps < 0 {
			return appConfig{}, fmt.Errorf("steps must not be negative, got %d", raw.Steps)
		}
		cfg.Steps = raw.Steps
	}

	if meta.IsDefined("step_size") {
		cfg.StepSize = raw.StepSize
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "file") {
		cfg.Log.File = strings.TrimSpace(raw.Log.File)
	}
	if meta.IsDefined("log", "max_size_mb") {
		cfg.Log.MaxSizeMB = raw.Log.MaxSizeMB
	}
	if meta.IsDefined("log", "max_backups") {
		cfg.Log.MaxBackups = raw.Log.MaxBackups
	}
	if meta.IsDefined("log", "max_age_days") {
		cfg.Log.MaxAgeDays = raw.Log.MaxAgeDays
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}

	return cfg, nil
}
