package recording_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"voicecall/internal/clock"
	"voicecall/internal/domain"
	"voicecall/internal/metrics"
	"voicecall/internal/recording"
)

type mockTrack struct {
	id    string
	mu    sync.Mutex
	stops int
}

func (t *mockTrack) ID() string { return t.id }

func (t *mockTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
}

func (t *mockTrack) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops > 0
}

type mockStream struct {
	tracks []*mockTrack
}

func (s *mockStream) Tracks() []recording.Track {
	out := make([]recording.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

type mockCapture struct {
	block     chan struct{}
	entered   chan struct{}
	onChunk   func([]byte)
	pending   [][]byte
	started   bool
	finalized bool
	aborted   bool
	startErr  error
	finalErr  error
}

func (c *mockCapture) Start(onChunk func([]byte)) error {
	if c.block != nil {
		close(c.entered)
		<-c.block
	}
	if c.startErr != nil {
		return c.startErr
	}
	c.onChunk = onChunk
	c.started = true
	return nil
}

func (c *mockCapture) Finalize(_ context.Context) error {
	c.finalized = true
	for _, p := range c.pending {
		c.onChunk(p)
	}
	return c.finalErr
}

func (c *mockCapture) Abort()           { c.aborted = true }
func (c *mockCapture) MIMEType() string { return "audio/wav" }

type mockMicrophone struct {
	deny    error
	stream  *mockStream
	capture *mockCapture
	grants  int
}

func (m *mockMicrophone) Acquire(_ context.Context) (recording.MediaStream, error) {
	if m.deny != nil {
		return nil, m.deny
	}
	m.grants++
	m.stream = &mockStream{tracks: []*mockTrack{{id: "mic-0"}, {id: "mic-1"}}}
	return m.stream, nil
}

func (m *mockMicrophone) NewCapture(_ recording.MediaStream) (recording.Capture, error) {
	if m.capture == nil {
		m.capture = &mockCapture{}
	}
	return m.capture, nil
}

func newSession(mic recording.Microphone) (*recording.Session, *clock.Fake) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fake := clock.NewFake(time.Unix(0, 0))
	return recording.NewSession(mic, fake, logger, metrics.NewMetrics()), fake
}

func TestSession_StopWhileIdle(t *testing.T) {
	session, _ := newSession(&mockMicrophone{})

	audio, err := session.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if audio != nil {
		t.Error("expected no audio from an idle session")
	}

	state := session.State()
	if state.Phase != domain.RecordingIdle || state.ElapsedSeconds != 0 {
		t.Errorf("state: got %+v, want idle/0", state)
	}
}

func TestSession_RecordCycle(t *testing.T) {
	mic := &mockMicrophone{capture: &mockCapture{}}
	session, fake := newSession(mic)

	var phases []domain.RecordingPhase
	session.OnChange(func(s domain.RecordingState) { phases = append(phases, s.Phase) })

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	mic.capture.onChunk([]byte("RIFF"))
	mic.capture.onChunk(nil)
	mic.capture.pending = [][]byte{[]byte("-tail")}

	fake.Advance(3 * time.Second)

	if got := session.State().ElapsedSeconds; got != 3 {
		t.Fatalf("elapsed: got %d, want 3", got)
	}

	audio, err := session.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if audio == nil {
		t.Fatal("expected captured audio")
	}
	if !bytes.Equal(audio.Data, []byte("RIFF-tail")) {
		t.Errorf("data: got %q, want %q", audio.Data, "RIFF-tail")
	}
	if audio.Duration != 3*time.Second {
		t.Errorf("duration: got %s, want 3s", audio.Duration)
	}

	state := session.State()
	if state.Phase != domain.RecordingIdle || state.ElapsedSeconds != 0 {
		t.Errorf("state after stop: got %+v, want idle/0", state)
	}
	for _, tr := range mic.stream.tracks {
		if !tr.stopped() {
			t.Errorf("track %s not stopped", tr.id)
		}
	}
	if fake.Active() != 0 {
		t.Errorf("timer still running: %d active", fake.Active())
	}

	want := []domain.RecordingPhase{
		domain.RecordingActive,
		domain.RecordingActive, domain.RecordingActive, domain.RecordingActive,
		domain.RecordingFinalizing,
		domain.RecordingIdle,
	}
	if len(phases) != len(want) {
		t.Fatalf("phases: got %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phases: got %v, want %v", phases, want)
		}
	}
}

func TestSession_PermissionDenied(t *testing.T) {
	mic := &mockMicrophone{deny: errors.New("NotAllowedError")}
	session, fake := newSession(mic)

	err := session.Start(context.Background())
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("error: got %v, want ErrPermissionDenied", err)
	}

	var denied *domain.PermissionDeniedError
	if !errors.As(err, &denied) {
		t.Errorf("error type: got %T, want *domain.PermissionDeniedError", err)
	}

	if session.State().Phase != domain.RecordingIdle {
		t.Errorf("phase: got %s, want idle", session.State().Phase)
	}
	if fake.Active() != 0 {
		t.Error("timer started despite denial")
	}

	// Recoverable: a later attempt may succeed.
	mic.deny = nil
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start after grant: %v", err)
	}
}

func TestSession_StartTwice(t *testing.T) {
	session, _ := newSession(&mockMicrophone{})

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := session.Start(context.Background()); !errors.Is(err, domain.ErrInvalidPhase) {
		t.Errorf("second start: got %v, want ErrInvalidPhase", err)
	}
}

func TestSession_CaptureStartFailureStopsTracks(t *testing.T) {
	mic := &mockMicrophone{capture: &mockCapture{startErr: errors.New("unsupported mime")}}
	session, fake := newSession(mic)

	if err := session.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	for _, tr := range mic.stream.tracks {
		if !tr.stopped() {
			t.Errorf("track %s not stopped", tr.id)
		}
	}
	if session.State().Phase != domain.RecordingIdle || fake.Active() != 0 {
		t.Error("session did not return to idle cleanly")
	}
}

func TestSession_FinalizeErrorStillReleasesDevice(t *testing.T) {
	mic := &mockMicrophone{capture: &mockCapture{finalErr: errors.New("encoder crashed")}}
	session, fake := newSession(mic)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	audio, err := session.Stop(context.Background())
	if err == nil || audio != nil {
		t.Fatalf("stop: got (%v, %v), want finalize error", audio, err)
	}
	for _, tr := range mic.stream.tracks {
		if !tr.stopped() {
			t.Errorf("track %s not stopped", tr.id)
		}
	}
	if session.State().Phase != domain.RecordingIdle || fake.Active() != 0 {
		t.Error("session did not return to idle cleanly")
	}
}

func TestSession_DisposeWhileRecording(t *testing.T) {
	mic := &mockMicrophone{}
	session, fake := newSession(mic)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	fake.Advance(2 * time.Second)

	session.Dispose()
	session.Dispose()

	if !mic.capture.aborted {
		t.Error("capture not aborted")
	}
	for _, tr := range mic.stream.tracks {
		if !tr.stopped() {
			t.Errorf("track %s not stopped", tr.id)
		}
	}
	if fake.Active() != 0 {
		t.Errorf("timer still running: %d active", fake.Active())
	}
	if state := session.State(); state.Phase != domain.RecordingIdle || state.ElapsedSeconds != 0 {
		t.Errorf("state: got %+v, want idle/0", state)
	}
	if err := session.Start(context.Background()); !errors.Is(err, recording.ErrDisposed) {
		t.Errorf("start after dispose: got %v, want ErrDisposed", err)
	}
}

func TestSession_DisposeDuringCaptureStart(t *testing.T) {
	capture := &mockCapture{block: make(chan struct{}), entered: make(chan struct{})}
	mic := &mockMicrophone{capture: capture}
	session, fake := newSession(mic)

	started := make(chan error, 1)
	go func() { started <- session.Start(context.Background()) }()

	<-capture.entered
	session.Dispose()
	close(capture.block)

	if err := <-started; !errors.Is(err, recording.ErrDisposed) {
		t.Fatalf("start: got %v, want ErrDisposed", err)
	}

	fake.Advance(3 * time.Second)

	if state := session.State(); state.Phase != domain.RecordingIdle || state.ElapsedSeconds != 0 {
		t.Errorf("state: got %+v, want idle/0", state)
	}
	if fake.Active() != 0 {
		t.Errorf("timer still running: %d active", fake.Active())
	}
	if !capture.aborted {
		t.Error("capture not aborted")
	}
	for _, tr := range mic.stream.tracks {
		if !tr.stopped() {
			t.Errorf("track %s not stopped", tr.id)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "0:00"},
		{9, "0:09"},
		{65, "1:05"},
		{600, "10:00"},
		{-3, "0:00"},
	}
	for _, tt := range tests {
		if got := recording.FormatElapsed(tt.seconds); got != tt.want {
			t.Errorf("FormatElapsed(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}
