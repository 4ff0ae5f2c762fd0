package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Recording RecordingConfig `yaml:"recording"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

type BackendConfig struct {
	URL       string      `yaml:"url"`
	Timeout   string      `yaml:"timeout"`
	Autostart bool        `yaml:"autostart"`
	Command   []string    `yaml:"command"`
	Dir       string      `yaml:"dir"`
	HealthURL string      `yaml:"health_url"`
	Retry     RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts  int    `yaml:"max_attempts"`
	InitialDelay string `yaml:"initial_delay"`
	MaxDelay     string `yaml:"max_delay"`
}

type PlaybackConfig struct {
	BaseURL        string   `yaml:"base_url"`
	Candidates     []string `yaml:"candidates"`
	AttemptTimeout string   `yaml:"attempt_timeout"`
	FrameInterval  string   `yaml:"frame_interval"`
	Output         string   `yaml:"output"`
	Root           string   `yaml:"root"`
}

type RecordingConfig struct {
	Source     string `yaml:"source"`
	FileDir    string `yaml:"file_dir"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Dir     string `yaml:"dir"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse expands environment variables in data, decodes it and applies
// defaults. The result is validated.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Backend.URL == "" {
		c.Backend.URL = "http://localhost:8000"
	}
	if c.Backend.Timeout == "" {
		c.Backend.Timeout = "60s"
	}
	if c.Backend.Retry.MaxAttempts == 0 {
		c.Backend.Retry.MaxAttempts = 3
	}
	if c.Backend.Retry.InitialDelay == "" {
		c.Backend.Retry.InitialDelay = "200ms"
	}
	if c.Backend.Retry.MaxDelay == "" {
		c.Backend.Retry.MaxDelay = "5s"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Dir == "" {
		c.Server.Dir = "./audio/out"
	}
	if c.Playback.BaseURL == "" {
		c.Playback.BaseURL = "http://localhost" + c.Server.Addr
		if !strings.HasPrefix(c.Server.Addr, ":") {
			c.Playback.BaseURL = "http://" + c.Server.Addr
		}
	}
	if c.Playback.AttemptTimeout == "" {
		c.Playback.AttemptTimeout = "5s"
	}
	if c.Playback.FrameInterval == "" {
		c.Playback.FrameInterval = "16ms"
	}
	if c.Playback.Output == "" {
		c.Playback.Output = "speaker"
	}
	if c.Recording.Source == "" {
		c.Recording.Source = "microphone"
	}
	if c.Recording.FileDir == "" {
		c.Recording.FileDir = "./audio/in"
	}
	if c.Recording.SampleRate == 0 {
		c.Recording.SampleRate = 44100
	}
	if c.Recording.Channels == 0 {
		c.Recording.Channels = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	durations := map[string]string{
		"backend.timeout":             c.Backend.Timeout,
		"backend.retry.initial_delay": c.Backend.Retry.InitialDelay,
		"backend.retry.max_delay":     c.Backend.Retry.MaxDelay,
		"playback.attempt_timeout":    c.Playback.AttemptTimeout,
		"playback.frame_interval":     c.Playback.FrameInterval,
	}
	for field, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			continue
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", field, value))
		}
	}

	for i, tmpl := range c.Playback.Candidates {
		if !strings.Contains(tmpl, "{ref}") {
			errs = append(errs, fmt.Errorf("playback.candidates[%d] %q has no {ref} placeholder", i, tmpl))
		}
	}

	switch c.Playback.Output {
	case "speaker", "null":
	default:
		errs = append(errs, fmt.Errorf("playback.output must be speaker or null, got %q", c.Playback.Output))
	}

	switch c.Recording.Source {
	case "microphone", "file":
	default:
		errs = append(errs, fmt.Errorf("recording.source must be microphone or file, got %q", c.Recording.Source))
	}
	if c.Recording.SampleRate < 8000 || c.Recording.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("recording.sample_rate %d out of range", c.Recording.SampleRate))
	}
	if c.Recording.Channels < 1 || c.Recording.Channels > 2 {
		errs = append(errs, fmt.Errorf("recording.channels must be 1 or 2, got %d", c.Recording.Channels))
	}

	if c.Backend.Autostart && len(c.Backend.Command) == 0 {
		errs = append(errs, errors.New("backend.autostart requires backend.command"))
	}
	if c.Backend.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("backend.retry.max_attempts must be at least 1, got %d", c.Backend.Retry.MaxAttempts))
	}

	return errors.Join(errs...)
}

// Duration parses a validated duration field, falling back to def.
func Duration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
