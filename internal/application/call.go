package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"voicecall/internal/domain"
)

var ErrEmptyInput = errors.New("empty input")

// Call drives one conversation: it sends text or recorded voice to the
// backend, keeps the history and plays each spoken response.
type Call struct {
	conv       Conversation
	player     Player
	recorder   Recorder
	candidates *CandidateBuilder
	logger     *slog.Logger

	mu      sync.Mutex
	session *domain.Session
	history []domain.Message
}

func NewCall(
	conv Conversation,
	player Player,
	recorder Recorder,
	candidates *CandidateBuilder,
	logger *slog.Logger,
) *Call {
	return &Call{
		conv:       conv,
		player:     player,
		recorder:   recorder,
		candidates: candidates,
		logger:     logger.With("component", "call"),
	}
}

func (c *Call) Start(ctx context.Context) error {
	session, err := c.conv.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	c.mu.Lock()
	c.session = session
	c.history = nil
	c.mu.Unlock()

	c.logger.Info("call started", "session", session.ID)
	return nil
}

func (c *Call) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.ID
}

func (c *Call) History() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Message(nil), c.history...)
}

// SendText sends a typed message. The turn is returned even when playing its
// audio fails; the playback error is returned alongside it.
func (c *Call) SendText(ctx context.Context, text string) (*domain.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	history, sessionID := c.snapshot()
	turn, err := c.conv.SendTurn(ctx, text, history, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}

	c.logger.Info("response received", "chars", len(turn.ResponseText), "audio", turn.HasAudio())
	c.appendExchange(text, turn.ResponseText)

	return turn, c.speak(ctx, turn)
}

// StartVoice stops any playing response and starts recording.
func (c *Call) StartVoice(ctx context.Context) error {
	c.player.Stop()
	if err := c.recorder.Start(ctx); err != nil {
		return fmt.Errorf("starting recording: %w", err)
	}
	return nil
}

// FinishVoice stops recording and sends the captured audio. It returns a nil
// turn when nothing was being recorded.
func (c *Call) FinishVoice(ctx context.Context) (*domain.Turn, error) {
	audio, err := c.recorder.Stop(ctx)
	if err != nil {
		return nil, fmt.Errorf("stopping recording: %w", err)
	}
	if audio == nil || audio.Size() == 0 {
		c.logger.Info("no audio captured")
		return nil, nil
	}

	c.logger.Info("sending voice", "bytes", audio.Size(), "mime", audio.MIMEType)

	history, sessionID := c.snapshot()
	turn, err := c.conv.SendVoice(ctx, audio, history, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sending voice: %w", err)
	}

	transcript := turn.Transcript
	if transcript == "" {
		transcript = "Could not transcribe"
	}
	c.logger.Info("voice transcribed", "transcript", transcript)
	c.appendExchange(domain.VoicePrefix+transcript, turn.ResponseText)

	return turn, c.speak(ctx, turn)
}

func (c *Call) StopAudio() {
	c.player.Stop()
}

// Close releases the recorder and the player.
func (c *Call) Close() {
	c.recorder.Dispose()
	c.player.Dispose()
	c.logger.Info("call closed", "messages", len(c.History()))
}

func (c *Call) speak(ctx context.Context, turn *domain.Turn) error {
	if !turn.HasAudio() {
		c.logger.Debug("response has no audio")
		return nil
	}

	asset := c.candidates.Build(turn.AudioRef)
	if err := c.player.Play(ctx, asset); err != nil {
		return fmt.Errorf("playing response: %w", err)
	}
	return nil
}

func (c *Call) snapshot() ([]domain.Message, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := ""
	if c.session != nil {
		id = c.session.ID
	}
	return append([]domain.Message(nil), c.history...), id
}

func (c *Call) appendExchange(user, assistant string) {
	if assistant == "" {
		assistant = "No response"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history,
		domain.Message{Role: domain.RoleUser, Content: user},
		domain.Message{Role: domain.RoleAssistant, Content: assistant},
	)
}
