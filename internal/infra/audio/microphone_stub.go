//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"

	"voicecall/internal/recording"
)

// Microphone stub when portaudio is not available
type Microphone struct {
	logger *slog.Logger
}

func NewMicrophone(_, _ int, logger *slog.Logger) *Microphone {
	return &Microphone{logger: logger}
}

func (m *Microphone) Acquire(_ context.Context) (recording.MediaStream, error) {
	return nil, fmt.Errorf("microphone not available: rebuild with -tags portaudio")
}

func (m *Microphone) NewCapture(_ recording.MediaStream) (recording.Capture, error) {
	return nil, fmt.Errorf("microphone not available")
}
