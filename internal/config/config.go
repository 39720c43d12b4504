package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultListenAddr     = "127.0.0.1:8090"
	defaultAPIBase        = "http://localhost:5000/api"
	defaultPollInterval   = 1200 * time.Millisecond
	defaultRequestTimeout = 2 * time.Minute
	defaultFrameInterval  = 50 * time.Millisecond

	envConfigFile      = "DESOLIDIFY_CONFIG"
	envListenAddr      = "DESOLIDIFY_LISTEN_ADDR"
	envAPIBase         = "DESOLIDIFY_API_BASE"
	envPollInterval    = "DESOLIDIFY_POLL_INTERVAL"
	envMaxPollFailures = "DESOLIDIFY_MAX_POLL_FAILURES"
	envRequestTimeout  = "DESOLIDIFY_REQUEST_TIMEOUT"
	envArtifactDB      = "DESOLIDIFY_ARTIFACT_DB"
	envFrameInterval   = "DESOLIDIFY_FRAME_INTERVAL"
	envLogLevel        = "DESOLIDIFY_LOG_LEVEL"
)

// Config holds application configuration. Values come from built-in defaults,
// then an optional TOML file, then environment variables.
type Config struct {
	ListenAddr string
	APIBase    string

	PollInterval time.Duration
	// MaxPollFailures caps consecutive failed status ticks before the job is
	// considered lost. Zero keeps polling indefinitely.
	MaxPollFailures int
	RequestTimeout  time.Duration

	// ArtifactDB is the SQLite path for artifact bytes. Empty keeps them in memory.
	ArtifactDB    string
	FrameInterval time.Duration
	LogLevel      slog.Level
}

// fileConfig mirrors Config for TOML decoding. Durations are strings such as "1.2s".
type fileConfig struct {
	ListenAddr      string `toml:"listen_addr"`
	APIBase         string `toml:"api_base"`
	PollInterval    string `toml:"poll_interval"`
	MaxPollFailures *int   `toml:"max_poll_failures"`
	RequestTimeout  string `toml:"request_timeout"`
	ArtifactDB      string `toml:"artifact_db"`
	FrameInterval   string `toml:"frame_interval"`
	LogLevel        string `toml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:     defaultListenAddr,
		APIBase:        defaultAPIBase,
		PollInterval:   defaultPollInterval,
		RequestTimeout: defaultRequestTimeout,
		FrameInterval:  defaultFrameInterval,
		LogLevel:       slog.LevelInfo,
	}
}

// Load builds the configuration. A config file named by DESOLIDIFY_CONFIG that
// cannot be read or parsed is an error; a bad individual value falls back to its
// default.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envAPIBase); v != "" {
		cfg.APIBase = v
	}
	if v := os.Getenv(envPollInterval); v != "" {
		cfg.PollInterval = parseDuration(v, cfg.PollInterval)
	}
	if v := os.Getenv(envMaxPollFailures); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxPollFailures = n
		}
	}
	if v := os.Getenv(envRequestTimeout); v != "" {
		cfg.RequestTimeout = parseDuration(v, cfg.RequestTimeout)
	}
	if v := os.Getenv(envArtifactDB); v != "" {
		cfg.ArtifactDB = v
	}
	if v := os.Getenv(envFrameInterval); v != "" {
		cfg.FrameInterval = parseDuration(v, cfg.FrameInterval)
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("decode config file: %w", err)
	}

	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.APIBase != "" {
		c.APIBase = fc.APIBase
	}
	if fc.PollInterval != "" {
		c.PollInterval = parseDuration(fc.PollInterval, c.PollInterval)
	}
	if fc.MaxPollFailures != nil && *fc.MaxPollFailures >= 0 {
		c.MaxPollFailures = *fc.MaxPollFailures
	}
	if fc.RequestTimeout != "" {
		c.RequestTimeout = parseDuration(fc.RequestTimeout, c.RequestTimeout)
	}
	if fc.ArtifactDB != "" {
		c.ArtifactDB = fc.ArtifactDB
	}
	if fc.FrameInterval != "" {
		c.FrameInterval = parseDuration(fc.FrameInterval, c.FrameInterval)
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
