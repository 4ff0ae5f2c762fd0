package application

import (
	"context"

	"voicecall/internal/domain"
)

// Conversation is the backend that turns user input into a response and,
// optionally, a reference to synthesized audio.
type Conversation interface {
	StartSession(ctx context.Context) (*domain.Session, error)
	SendTurn(ctx context.Context, text string, history []domain.Message, sessionID string) (*domain.Turn, error)
	SendVoice(ctx context.Context, audio *domain.CapturedAudio, history []domain.Message, sessionID string) (*domain.Turn, error)
}

type Player interface {
	Play(ctx context.Context, asset domain.AudioAsset) error
	Stop()
	State() domain.PlaybackState
	Dispose()
}

type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*domain.CapturedAudio, error)
	State() domain.RecordingState
	Dispose()
}
