package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"voicecall/internal/application"
	"voicecall/internal/domain"
)

type mockConversation struct {
	turns      map[string]*domain.Turn
	voiceTurn  *domain.Turn
	err        error
	sessionIDs []string
	histories  [][]domain.Message
	voices     []*domain.CapturedAudio
}

func (m *mockConversation) StartSession(_ context.Context) (*domain.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Session{ID: "sess-1"}, nil
}

func (m *mockConversation) SendTurn(_ context.Context, text string, history []domain.Message, sessionID string) (*domain.Turn, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.sessionIDs = append(m.sessionIDs, sessionID)
	m.histories = append(m.histories, history)
	if turn, ok := m.turns[text]; ok {
		return turn, nil
	}
	return &domain.Turn{ResponseText: "ok"}, nil
}

func (m *mockConversation) SendVoice(_ context.Context, audio *domain.CapturedAudio, history []domain.Message, sessionID string) (*domain.Turn, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.sessionIDs = append(m.sessionIDs, sessionID)
	m.histories = append(m.histories, history)
	m.voices = append(m.voices, audio)
	return m.voiceTurn, nil
}

type mockPlayer struct {
	played   []domain.AudioAsset
	stops    int
	disposed bool
	err      error
}

func (m *mockPlayer) Play(_ context.Context, asset domain.AudioAsset) error {
	m.played = append(m.played, asset)
	return m.err
}

func (m *mockPlayer) Stop()                       { m.stops++ }
func (m *mockPlayer) State() domain.PlaybackState { return domain.PlaybackState{} }
func (m *mockPlayer) Dispose()                    { m.disposed = true }

type mockRecorder struct {
	startErr error
	audio    *domain.CapturedAudio
	starts   int
	disposed bool
}

func (m *mockRecorder) Start(_ context.Context) error {
	m.starts++
	return m.startErr
}

func (m *mockRecorder) Stop(_ context.Context) (*domain.CapturedAudio, error) {
	return m.audio, nil
}

func (m *mockRecorder) State() domain.RecordingState { return domain.RecordingState{} }
func (m *mockRecorder) Dispose()                     { m.disposed = true }

func newCall(t *testing.T, conv *mockConversation, player *mockPlayer, recorder *mockRecorder) *application.Call {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	builder, err := application.NewCandidateBuilder("http://localhost:5000", nil)
	if err != nil {
		t.Fatalf("candidate builder: %v", err)
	}
	call := application.NewCall(conv, player, recorder, builder, logger)
	if err := call.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return call
}

func TestCall_SendTextPlaysResponse(t *testing.T) {
	conv := &mockConversation{turns: map[string]*domain.Turn{
		"hello": {ResponseText: "hi there", AudioRef: "output.wav"},
	}}
	player := &mockPlayer{}
	call := newCall(t, conv, player, &mockRecorder{})

	turn, err := call.SendText(context.Background(), "  hello  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if turn.ResponseText != "hi there" {
		t.Errorf("response: got %q", turn.ResponseText)
	}

	if len(player.played) != 1 {
		t.Fatalf("played: got %d, want 1", len(player.played))
	}
	asset := player.played[0]
	if len(asset.Candidates) != 3 {
		t.Fatalf("candidates: got %d, want 3", len(asset.Candidates))
	}
	if !strings.HasPrefix(string(asset.Candidates[0]), "http://localhost:5000/output.wav?t=") {
		t.Errorf("primary candidate: got %q", asset.Candidates[0])
	}

	history := call.History()
	if len(history) != 2 {
		t.Fatalf("history: got %d messages, want 2", len(history))
	}
	if history[0].Role != domain.RoleUser || history[0].Content != "hello" {
		t.Errorf("user message: got %+v", history[0])
	}
	if history[1].Role != domain.RoleAssistant || history[1].Content != "hi there" {
		t.Errorf("assistant message: got %+v", history[1])
	}
	if conv.sessionIDs[0] != "sess-1" {
		t.Errorf("session: got %q, want sess-1", conv.sessionIDs[0])
	}
}

func TestCall_HistoryIsSentWithNextTurn(t *testing.T) {
	conv := &mockConversation{}
	call := newCall(t, conv, &mockPlayer{}, &mockRecorder{})

	for _, text := range []string{"one", "two"} {
		if _, err := call.SendText(context.Background(), text); err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
	}

	if len(conv.histories[0]) != 0 {
		t.Errorf("first turn history: got %d, want 0", len(conv.histories[0]))
	}
	if len(conv.histories[1]) != 2 {
		t.Errorf("second turn history: got %d, want 2", len(conv.histories[1]))
	}
}

func TestCall_EmptyInput(t *testing.T) {
	conv := &mockConversation{}
	call := newCall(t, conv, &mockPlayer{}, &mockRecorder{})

	if _, err := call.SendText(context.Background(), "   "); !errors.Is(err, application.ErrEmptyInput) {
		t.Errorf("got %v, want ErrEmptyInput", err)
	}
	if len(conv.histories) != 0 {
		t.Error("backend called for empty input")
	}
}

func TestCall_TextOnlyResponseSkipsPlayback(t *testing.T) {
	player := &mockPlayer{}
	call := newCall(t, &mockConversation{}, player, &mockRecorder{})

	if _, err := call.SendText(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(player.played) != 0 {
		t.Errorf("played: got %d, want 0", len(player.played))
	}
}

func TestCall_PlaybackFailureKeepsTurn(t *testing.T) {
	conv := &mockConversation{turns: map[string]*domain.Turn{
		"hello": {ResponseText: "hi", AudioRef: "output.wav"},
	}}
	player := &mockPlayer{err: &domain.ResolveError{}}
	call := newCall(t, conv, player, &mockRecorder{})

	turn, err := call.SendText(context.Background(), "hello")
	if !errors.Is(err, domain.ErrAllCandidatesFailed) {
		t.Fatalf("error: got %v, want ErrAllCandidatesFailed", err)
	}
	if turn == nil || turn.ResponseText != "hi" {
		t.Errorf("turn: got %+v, want response kept", turn)
	}
	if len(call.History()) != 2 {
		t.Errorf("history: got %d, want 2", len(call.History()))
	}
}

func TestCall_VoiceTurn(t *testing.T) {
	conv := &mockConversation{voiceTurn: &domain.Turn{
		Transcript:   "turn on the lights",
		ResponseText: "done",
		AudioRef:     "output.wav",
	}}
	player := &mockPlayer{}
	recorder := &mockRecorder{audio: &domain.CapturedAudio{Data: []byte("RIFF"), MIMEType: "audio/wav"}}
	call := newCall(t, conv, player, recorder)

	if err := call.StartVoice(context.Background()); err != nil {
		t.Fatalf("start voice: %v", err)
	}
	if player.stops != 1 {
		t.Errorf("player stops: got %d, want 1", player.stops)
	}

	turn, err := call.FinishVoice(context.Background())
	if err != nil {
		t.Fatalf("finish voice: %v", err)
	}
	if turn.Transcript != "turn on the lights" {
		t.Errorf("transcript: got %q", turn.Transcript)
	}
	if len(conv.voices) != 1 || string(conv.voices[0].Data) != "RIFF" {
		t.Errorf("voice payload not forwarded")
	}

	history := call.History()
	if len(history) != 2 || history[0].Content != domain.VoicePrefix+"turn on the lights" {
		t.Errorf("history: got %+v", history)
	}
	if len(player.played) != 1 {
		t.Errorf("played: got %d, want 1", len(player.played))
	}
}

func TestCall_FinishVoiceWithoutAudio(t *testing.T) {
	conv := &mockConversation{}
	call := newCall(t, conv, &mockPlayer{}, &mockRecorder{})

	turn, err := call.FinishVoice(context.Background())
	if err != nil || turn != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", turn, err)
	}
	if len(conv.voices) != 0 {
		t.Error("backend called without audio")
	}
}

func TestCall_StartVoicePermissionDenied(t *testing.T) {
	recorder := &mockRecorder{startErr: &domain.PermissionDeniedError{Err: errors.New("denied")}}
	call := newCall(t, &mockConversation{}, &mockPlayer{}, recorder)

	if err := call.StartVoice(context.Background()); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("got %v, want ErrPermissionDenied", err)
	}
}

func TestCall_Close(t *testing.T) {
	player := &mockPlayer{}
	recorder := &mockRecorder{}
	call := newCall(t, &mockConversation{}, player, recorder)

	call.Close()

	if !player.disposed || !recorder.disposed {
		t.Errorf("disposed: player=%v recorder=%v", player.disposed, recorder.disposed)
	}
}

func TestCall_StartFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	builder, _ := application.NewCandidateBuilder("", nil)
	call := application.NewCall(&mockConversation{err: errors.New("backend down")}, &mockPlayer{}, &mockRecorder{}, builder, logger)

	if err := call.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if call.SessionID() != "" {
		t.Errorf("session: got %q, want empty", call.SessionID())
	}
}
