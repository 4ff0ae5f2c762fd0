package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicecall/config"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Backend.URL)
	assert.Equal(t, "http://localhost:8080", cfg.Playback.BaseURL)
	assert.Equal(t, "5s", cfg.Playback.AttemptTimeout)
	assert.Equal(t, "16ms", cfg.Playback.FrameInterval)
	assert.Equal(t, "speaker", cfg.Playback.Output)
	assert.Equal(t, "microphone", cfg.Recording.Source)
	assert.Equal(t, 44100, cfg.Recording.SampleRate)
	assert.Equal(t, 1, cfg.Recording.Channels)
	assert.Equal(t, 3, cfg.Backend.Retry.MaxAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("VOICECALL_BACKEND", "http://backend:9000")

	cfg, err := config.Parse([]byte(`
backend:
  url: ${VOICECALL_BACKEND}
server:
  addr: 127.0.0.1:7000
playback:
  candidates:
    - "{base}/{ref}"
`))
	require.NoError(t, err)
	assert.Equal(t, "http://backend:9000", cfg.Backend.URL)
	assert.Equal(t, "http://127.0.0.1:7000", cfg.Playback.BaseURL)
	assert.Equal(t, []string{"{base}/{ref}"}, cfg.Playback.Candidates)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad duration", "playback:\n  attempt_timeout: soon\n", "playback.attempt_timeout"},
		{"negative duration", "playback:\n  frame_interval: -1s\n", "must be positive"},
		{"template without ref", "playback:\n  candidates: [\"/output.wav\"]\n", "{ref}"},
		{"unknown source", "recording:\n  source: telepathy\n", "recording.source"},
		{"unknown output", "playback:\n  output: hdmi\n", "playback.output"},
		{"channels", "recording:\n  channels: 6\n", "recording.channels"},
		{"autostart without command", "backend:\n  autostart: true\n", "backend.command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_ReportsAllProblems(t *testing.T) {
	_, err := config.Parse([]byte("recording:\n  source: x\n  channels: 9\n"))
	require.Error(t, err)
	assert.Equal(t, 2, strings.Count(err.Error(), "recording."))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, config.Duration("250ms", time.Second))
	assert.Equal(t, time.Second, config.Duration("nope", time.Second))
	assert.Equal(t, time.Second, config.Duration("0s", time.Second))
}
