// Package config loads application configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Session   SessionConfig   `yaml:"session"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Interface    string        `yaml:"interface" env:"SERVER_INTERFACE"`
	Port         string        `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
}

// WebSocketConfig holds socket-level tuning.
type WebSocketConfig struct {
	// MaxFrameBytes caps a single binary frame, metadata included.
	MaxFrameBytes  int           `yaml:"max_frame_bytes" env:"WS_MAX_FRAME_BYTES"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"WS_WRITE_TIMEOUT"`
	PingInterval   time.Duration `yaml:"ping_interval" env:"WS_PING_INTERVAL"`
	PongWait       time.Duration `yaml:"pong_wait" env:"WS_PONG_WAIT"`
	SendBufferSize int           `yaml:"send_buffer_size" env:"WS_SEND_BUFFER_SIZE"`
}

// SessionConfig holds session lifecycle and queueing configuration.
type SessionConfig struct {
	// IdleTimeout closes sessions with no activity; 0 disables the reaper.
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SESSION_IDLE_TIMEOUT"`
	ReapInterval time.Duration `yaml:"reap_interval" env:"SESSION_REAP_INTERVAL"`
	// MaxSessions rejects connects over the limit; 0 means unlimited.
	MaxSessions int `yaml:"max_sessions" env:"SESSION_MAX_SESSIONS"`
	// MaxQueueDepth bounds the process-all queue; 0 means unbounded.
	MaxQueueDepth int `yaml:"max_queue_depth" env:"SESSION_MAX_QUEUE_DEPTH"`
	// MaxConsecutiveFailures escalates repeated pipeline errors to session
	// closure.
	MaxConsecutiveFailures int              `yaml:"max_consecutive_failures" env:"SESSION_MAX_CONSECUTIVE_FAILURES"`
	Similarity             SimilarityConfig `yaml:"similarity"`
}

// SimilarityConfig controls the near-duplicate frame filter for realtime
// sessions.
type SimilarityConfig struct {
	Enabled       bool    `yaml:"enabled" env:"SIMILARITY_ENABLED"`
	Threshold     float64 `yaml:"threshold" env:"SIMILARITY_THRESHOLD"`
	MaxSkipFrames int     `yaml:"max_skip_frames" env:"SIMILARITY_MAX_SKIP_FRAMES"`
}

// PipelineConfig points at the inference backend.
type PipelineConfig struct {
	URL            string        `yaml:"url" env:"PIPELINE_URL"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"PIPELINE_REQUEST_TIMEOUT"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level            string `yaml:"level" env:"LOG_LEVEL"`
	IsDev            bool   `yaml:"is_dev" env:"LOG_IS_DEV"`
	LogDir           string `yaml:"log_dir" env:"LOG_DIR"`
	MaxAgeDays       int    `yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS"`
	AlsoLogToConsole bool   `yaml:"also_log_to_console" env:"LOG_ALSO_CONSOLE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Interface:    "0.0.0.0",
			Port:         "8000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		WebSocket: WebSocketConfig{
			MaxFrameBytes:  10 << 20,
			WriteTimeout:   10 * time.Second,
			PingInterval:   30 * time.Second,
			PongWait:       60 * time.Second,
			SendBufferSize: 256,
		},
		Session: SessionConfig{
			IdleTimeout:            5 * time.Minute,
			ReapInterval:           time.Minute,
			MaxSessions:            0,
			MaxQueueDepth:          0,
			MaxConsecutiveFailures: 5,
			Similarity: SimilarityConfig{
				Enabled:       false,
				Threshold:     0.98,
				MaxSkipFrames: 10,
			},
		},
		Pipeline: PipelineConfig{
			URL:            "http://localhost:9090",
			RequestTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:            "info",
			LogDir:           "logs",
			MaxAgeDays:       7,
			AlsoLogToConsole: true,
		},
	}
}

// Load reads configuration from path (if it exists), then applies
// environment overrides and validates the result. An empty path skips the
// file step.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr("SERVER_INTERFACE", &c.Server.Interface)
	envStr("SERVER_PORT", &c.Server.Port)
	envDur("SERVER_READ_TIMEOUT", &c.Server.ReadTimeout)
	envDur("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeout)
	envDur("SERVER_IDLE_TIMEOUT", &c.Server.IdleTimeout)

	envInt("WS_MAX_FRAME_BYTES", &c.WebSocket.MaxFrameBytes)
	envDur("WS_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	envDur("WS_PING_INTERVAL", &c.WebSocket.PingInterval)
	envDur("WS_PONG_WAIT", &c.WebSocket.PongWait)
	envInt("WS_SEND_BUFFER_SIZE", &c.WebSocket.SendBufferSize)

	envDur("SESSION_IDLE_TIMEOUT", &c.Session.IdleTimeout)
	envDur("SESSION_REAP_INTERVAL", &c.Session.ReapInterval)
	envInt("SESSION_MAX_SESSIONS", &c.Session.MaxSessions)
	envInt("SESSION_MAX_QUEUE_DEPTH", &c.Session.MaxQueueDepth)
	envInt("SESSION_MAX_CONSECUTIVE_FAILURES", &c.Session.MaxConsecutiveFailures)
	envBool("SIMILARITY_ENABLED", &c.Session.Similarity.Enabled)
	envFloat("SIMILARITY_THRESHOLD", &c.Session.Similarity.Threshold)
	envInt("SIMILARITY_MAX_SKIP_FRAMES", &c.Session.Similarity.MaxSkipFrames)

	envStr("PIPELINE_URL", &c.Pipeline.URL)
	envDur("PIPELINE_REQUEST_TIMEOUT", &c.Pipeline.RequestTimeout)

	envStr("LOG_LEVEL", &c.Logging.Level)
	envBool("LOG_IS_DEV", &c.Logging.IsDev)
	envStr("LOG_DIR", &c.Logging.LogDir)
	envInt("LOG_MAX_AGE_DAYS", &c.Logging.MaxAgeDays)
	envBool("LOG_ALSO_CONSOLE", &c.Logging.AlsoLogToConsole)
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.WebSocket.MaxFrameBytes <= 0 {
		return fmt.Errorf("websocket.max_frame_bytes must be positive")
	}
	if c.WebSocket.SendBufferSize <= 0 {
		return fmt.Errorf("websocket.send_buffer_size must be positive")
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("session.max_sessions must not be negative")
	}
	if c.Session.MaxQueueDepth < 0 {
		return fmt.Errorf("session.max_queue_depth must not be negative")
	}
	if c.Session.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("session.max_consecutive_failures must be positive")
	}
	if t := c.Session.Similarity.Threshold; t < 0 || t > 1 {
		return fmt.Errorf("session.similarity.threshold must be in [0,1], got %v", t)
	}
	if c.Session.Similarity.MaxSkipFrames < 0 {
		return fmt.Errorf("session.similarity.max_skip_frames must not be negative")
	}
	if c.Session.IdleTimeout > 0 && c.Session.ReapInterval <= 0 {
		return fmt.Errorf("session.reap_interval must be positive when idle_timeout is set")
	}
	if c.Pipeline.URL == "" {
		return fmt.Errorf("pipeline.url must be set")
	}
	return nil
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return c.Server.Interface + ":" + c.Server.Port
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDur(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
