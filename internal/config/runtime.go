// Package config loads the runtime settings of the cascade binaries.
// Precedence, highest first: environment, the YAML file named by CASCADE_CONFIG, defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

type Runtime struct {
	HTTPAddr      string
	Actor         string
	TotalTimeout  time.Duration
	TierTimeouts  map[string]time.Duration
	StoreDriver   string
	StorePath     string
	CacheMaxItems int
	ObsBuffer     int
	ModelURL      string
	ModelTimeout  time.Duration
	LogLevel      slog.Level
	// Pipelines maps a name to DOT source.
	Pipelines map[string]string
}

type fileConfig struct {
	HTTPAddr      string                   `yaml:"http_addr"`
	Actor         string                   `yaml:"actor"`
	TotalTimeout  time.Duration            `yaml:"total_timeout"`
	TierTimeouts  map[string]time.Duration `yaml:"tier_timeouts"`
	Store         storeConfig              `yaml:"store"`
	CacheMaxItems int                      `yaml:"cache_max_items"`
	ObsBuffer     int                      `yaml:"obs_buffer"`
	Model         modelConfig              `yaml:"model"`
	LogLevel      string                   `yaml:"log_level"`
	Pipelines     map[string]pipelineEntry `yaml:"pipelines"`
}

type storeConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type modelConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// pipelineEntry holds inline DOT or a file path, relative to the config file.
type pipelineEntry struct {
	DOT  string `yaml:"dot"`
	File string `yaml:"file"`
}

func defaults() Runtime {
	return Runtime{
		HTTPAddr:      ":8080",
		Actor:         "system",
		TierTimeouts:  map[string]time.Duration{},
		StoreDriver:   StoreMemory,
		StorePath:     "cascade.db",
		CacheMaxItems: 1024,
		ObsBuffer:     4096,
		ModelTimeout:  30 * time.Second,
		LogLevel:      slog.LevelInfo,
		Pipelines:     map[string]string{},
	}
}

func Load() (Runtime, error) {
	rt := defaults()
	if path := os.Getenv("CASCADE_CONFIG"); path != "" {
		if err := loadFile(path, &rt); err != nil {
			return Runtime{}, err
		}
	}

	rt.HTTPAddr = getenv("HTTP_ADDR", rt.HTTPAddr)
	rt.Actor = getenv("CASCADE_ACTOR", rt.Actor)
	rt.TotalTimeout = getenvDuration("CASCADE_TOTAL_TIMEOUT", rt.TotalTimeout)
	rt.StoreDriver = getenv("CASCADE_STORE_DRIVER", rt.StoreDriver)
	rt.StorePath = getenv("CASCADE_STORE_PATH", rt.StorePath)
	rt.CacheMaxItems = getenvInt("CASCADE_CACHE_MAX_ITEMS", rt.CacheMaxItems, 1)
	rt.ObsBuffer = getenvInt("CASCADE_OBS_BUFFER", rt.ObsBuffer, 1)
	rt.ModelURL = getenv("CASCADE_MODEL_URL", rt.ModelURL)
	rt.ModelTimeout = getenvDuration("CASCADE_MODEL_TIMEOUT", rt.ModelTimeout)
	if raw := os.Getenv("CASCADE_LOG_LEVEL"); raw != "" {
		if err := rt.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			return Runtime{}, fmt.Errorf("CASCADE_LOG_LEVEL: %w", err)
		}
	}

	switch rt.StoreDriver {
	case StoreMemory, StoreSQLite:
	default:
		return Runtime{}, fmt.Errorf("unknown store driver %q", rt.StoreDriver)
	}
	return rt, nil
}

func loadFile(path string, rt *Runtime) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if fc.HTTPAddr != "" {
		rt.HTTPAddr = fc.HTTPAddr
	}
	if fc.Actor != "" {
		rt.Actor = fc.Actor
	}
	if fc.TotalTimeout > 0 {
		rt.TotalTimeout = fc.TotalTimeout
	}
	for tier, d := range fc.TierTimeouts {
		if d <= 0 {
			return fmt.Errorf("tier_timeouts.%s must be positive", tier)
		}
		rt.TierTimeouts[tier] = d
	}
	if fc.Store.Driver != "" {
		rt.StoreDriver = fc.Store.Driver
	}
	if fc.Store.Path != "" {
		rt.StorePath = fc.Store.Path
	}
	if fc.CacheMaxItems > 0 {
		rt.CacheMaxItems = fc.CacheMaxItems
	}
	if fc.ObsBuffer > 0 {
		rt.ObsBuffer = fc.ObsBuffer
	}
	if fc.Model.URL != "" {
		rt.ModelURL = fc.Model.URL
	}
	if fc.Model.Timeout > 0 {
		rt.ModelTimeout = fc.Model.Timeout
	}
	if fc.LogLevel != "" {
		if err := rt.LogLevel.UnmarshalText([]byte(fc.LogLevel)); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}

	for name, p := range fc.Pipelines {
		switch {
		case p.DOT != "":
			rt.Pipelines[name] = p.DOT
		case p.File != "":
			file := p.File
			if !filepath.IsAbs(file) {
				file = filepath.Join(filepath.Dir(path), file)
			}
			dot, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("pipeline %s: %w", name, err)
			}
			rt.Pipelines[name] = string(dot)
		default:
			return fmt.Errorf("pipeline %s needs dot or file", name)
		}
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback, min int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		return fallback
	}
	return v
}

// getenvDuration accepts Go durations ("1.5s") or plain milliseconds ("1500").
func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(raw); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
