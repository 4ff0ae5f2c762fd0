//go:build !oto
// +build !oto

package audio

import (
	"context"
	"fmt"
	"log/slog"
)

// SpeakerOutput stub when oto is not available
type SpeakerOutput struct{}

func NewSpeakerOutput(_ *slog.Logger) (*SpeakerOutput, error) {
	return nil, fmt.Errorf("speaker output not available: rebuild with -tags oto")
}

func (o *SpeakerOutput) Open(_ context.Context, _ Format) (OutputStream, error) {
	return nil, fmt.Errorf("speaker output not available")
}
