// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/Nikaidou-Shinku/yur-paintboard/internal/pixel"
)

// Config holds every tunable of the serving plane.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	// Listener
	Addr string `env:"PB_ADDR" envDefault:"127.0.0.1:2895"`

	// Canvas
	Width        int    `env:"PB_WIDTH" envDefault:"1000"`
	Height       int    `env:"PB_HEIGHT" envDefault:"600"`
	DefaultColor string `env:"PB_DEFAULT_COLOR" envDefault:"#FFFFFF"`

	// Paint admission
	MinInterval time.Duration `env:"PB_MIN_INTERVAL" envDefault:"500ms"`
	BeginTime   string        `env:"PB_BEGIN_TIME"` // "15:00", empty disables the window
	EndTime     string        `env:"PB_END_TIME"`   // "20:00"

	// Connection timing
	DeltaFlush   time.Duration `env:"PB_DELTA_FLUSH" envDefault:"250ms"`
	PingInterval time.Duration `env:"PB_PING_INTERVAL" envDefault:"20s"`
	PongTimeout  time.Duration `env:"PB_PONG_TIMEOUT" envDefault:"10s"`

	// Broadcast
	BroadcastBuffer int `env:"PB_BROADCAST_BUFFER" envDefault:"65536"`

	// Snapshots
	SnapshotZstdLevel int `env:"PB_SNAPSHOT_ZSTD_LEVEL" envDefault:"19"`

	// Durability
	DBPath      string        `env:"PB_DB_PATH" envDefault:"./data.db"`
	BoardFlush  time.Duration `env:"PB_BOARD_FLUSH" envDefault:"300s"`
	ActionFlush time.Duration `env:"PB_ACTION_FLUSH" envDefault:"480s"`
	ChunkSize   int           `env:"PB_CHUNK_SIZE" envDefault:"600"`

	// Auth
	PubkeyURL string `env:"PB_PUBKEY_URL"`

	// Observability
	MetricsInterval time.Duration `env:"PB_METRICS_INTERVAL" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`

	// Parsed window bounds, populated by Validate when the window is set.
	window *Window
}

// Window is the optional wall-clock paint window.
type Window struct {
	Begin time.Duration // offset from midnight, inclusive
	End   time.Duration // offset from midnight, inclusive
}

// Contains reports whether t's local time of day falls inside the window.
func (w *Window) Contains(t time.Time) bool {
	hh, mm, ss := t.Clock()
	tod := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second
	return tod >= w.Begin && tod <= w.End
}

// PaintWindow returns the configured window, or nil when painting is
// allowed at any time.
func (c *Config) PaintWindow() *Window {
	return c.window
}

// Load reads configuration from an optional .env file and the
// environment. Priority: env vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err == nil && logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks ranges and parses the derived fields.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("PB_ADDR is required")
	}
	if c.Width < 1 || c.Width > 65536 {
		return fmt.Errorf("PB_WIDTH must be 1-65536, got %d", c.Width)
	}
	if c.Height < 1 || c.Height > 65536 {
		return fmt.Errorf("PB_HEIGHT must be 1-65536, got %d", c.Height)
	}
	if _, err := pixel.HexToColor(c.DefaultColor); err != nil {
		return fmt.Errorf("PB_DEFAULT_COLOR: %w", err)
	}
	if c.MinInterval <= 0 {
		return fmt.Errorf("PB_MIN_INTERVAL must be positive, got %s", c.MinInterval)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("PB_CHUNK_SIZE must be > 0, got %d", c.ChunkSize)
	}
	if c.BroadcastBuffer < 1 {
		return fmt.Errorf("PB_BROADCAST_BUFFER must be > 0, got %d", c.BroadcastBuffer)
	}
	if c.SnapshotZstdLevel < 0 || c.SnapshotZstdLevel > 22 {
		return fmt.Errorf("PB_SNAPSHOT_ZSTD_LEVEL must be 0-22, got %d", c.SnapshotZstdLevel)
	}

	switch {
	case c.BeginTime == "" && c.EndTime == "":
		c.window = nil
	case c.BeginTime == "" || c.EndTime == "":
		return fmt.Errorf("PB_BEGIN_TIME and PB_END_TIME must be set together")
	default:
		begin, err := parseTimeOfDay(c.BeginTime)
		if err != nil {
			return fmt.Errorf("PB_BEGIN_TIME: %w", err)
		}
		end, err := parseTimeOfDay(c.EndTime)
		if err != nil {
			return fmt.Errorf("PB_END_TIME: %w", err)
		}
		if end < begin {
			return fmt.Errorf("paint window ends (%s) before it begins (%s)", c.EndTime, c.BeginTime)
		}
		c.window = &Window{Begin: begin, End: end}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got %q)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got %q)", c.LogFormat)
	}

	return nil
}

// Default returns the color cells take when absent from the store.
// Only valid after Validate.
func (c *Config) Default() pixel.Color {
	col, _ := pixel.HexToColor(c.DefaultColor)
	return col
}

// LogConfig emits the effective configuration through the logger.
func (c *Config) LogConfig(logger zerolog.Logger) {
	ev := logger.Info().
		Str("addr", c.Addr).
		Int("width", c.Width).
		Int("height", c.Height).
		Str("default_color", c.DefaultColor).
		Dur("min_interval", c.MinInterval).
		Dur("delta_flush", c.DeltaFlush).
		Dur("ping_interval", c.PingInterval).
		Dur("pong_timeout", c.PongTimeout).
		Int("broadcast_buffer", c.BroadcastBuffer).
		Int("snapshot_zstd_level", c.SnapshotZstdLevel).
		Str("db_path", c.DBPath).
		Dur("board_flush", c.BoardFlush).
		Dur("action_flush", c.ActionFlush).
		Int("chunk_size", c.ChunkSize).
		Str("pubkey_url", c.PubkeyURL)

	if c.window != nil {
		ev = ev.Str("begin_time", c.BeginTime).Str("end_time", c.EndTime)
	}

	ev.Msg("configuration loaded")
}

func parseTimeOfDay(s string) (time.Duration, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			hh, mm, ss := t.Clock()
			return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q (want HH:MM or HH:MM:SS)", s)
}
