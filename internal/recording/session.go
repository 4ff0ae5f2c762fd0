package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voicecall/internal/clock"
	"voicecall/internal/domain"
	"voicecall/internal/metrics"
)

var ErrDisposed = errors.New("recording session disposed")

type Session struct {
	mic     Microphone
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	phase     domain.RecordingPhase
	elapsed   int
	starting  bool
	stream    MediaStream
	capture   Capture
	chunks    [][]byte
	stopTimer func()
	startedAt time.Time
	disposed  bool
	listeners []func(domain.RecordingState)
}

func NewSession(mic Microphone, c clock.Clock, logger *slog.Logger, m *metrics.Metrics) *Session {
	if c == nil {
		c = clock.Real()
	}
	return &Session{
		mic:     mic,
		clock:   c,
		logger:  logger.With("component", "recording"),
		metrics: m,
		phase:   domain.RecordingIdle,
	}
}

func (s *Session) OnChange(fn func(domain.RecordingState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) State() domain.RecordingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() domain.RecordingState {
	return domain.RecordingState{Phase: s.phase, ElapsedSeconds: s.elapsed}
}

// Start requests microphone access and begins capturing. Access failures are
// returned as *domain.PermissionDeniedError and leave the session idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.phase != domain.RecordingIdle || s.starting {
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("starting recording in phase %s: %w", phase, domain.ErrInvalidPhase)
	}
	s.starting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	stream, err := s.mic.Acquire(ctx)
	if err != nil {
		s.metrics.RecordRecordingFailed("permission")
		s.logger.Warn("microphone access refused", "error", err)
		return &domain.PermissionDeniedError{Err: err}
	}

	capture, err := s.mic.NewCapture(stream)
	if err != nil {
		stopTracks(stream)
		s.metrics.RecordRecordingFailed("capture")
		return fmt.Errorf("creating capture: %w", err)
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		stopTracks(stream)
		return ErrDisposed
	}
	s.stream = stream
	s.capture = capture
	s.chunks = nil
	s.mu.Unlock()

	if err := capture.Start(s.appendChunk); err != nil {
		s.mu.Lock()
		s.stream = nil
		s.capture = nil
		s.mu.Unlock()
		stopTracks(stream)
		s.metrics.RecordRecordingFailed("capture")
		return fmt.Errorf("starting capture: %w", err)
	}

	s.mu.Lock()
	if s.disposed {
		// Dispose ran while the capture was starting.
		s.stream = nil
		s.capture = nil
		s.mu.Unlock()
		capture.Abort()
		stopTracks(stream)
		return ErrDisposed
	}
	s.phase = domain.RecordingActive
	s.elapsed = 0
	s.startedAt = s.clock.Now()
	s.stopTimer = s.clock.Tick(time.Second, s.tick)
	state, listeners := s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.RecordRecordingStarted()
	s.logger.Info("recording started", "tracks", len(stream.Tracks()), "mime", capture.MIMEType())
	publish(state, listeners)
	return nil
}

// Stop finalizes the capture and returns the recorded audio. Calling it when
// no recording is active returns nil without error.
func (s *Session) Stop(ctx context.Context) (*domain.CapturedAudio, error) {
	s.mu.Lock()
	if s.phase != domain.RecordingActive {
		s.mu.Unlock()
		return nil, nil
	}
	s.phase = domain.RecordingFinalizing
	capture := s.capture
	stream := s.stream
	state, listeners := s.snapshotLocked()
	s.mu.Unlock()

	publish(state, listeners)

	finalizeErr := capture.Finalize(ctx)

	s.mu.Lock()
	data := bytes.Join(s.chunks, nil)
	duration := s.clock.Now().Sub(s.startedAt)
	startedAt := s.startedAt
	s.resetLocked()
	state, listeners = s.snapshotLocked()
	s.mu.Unlock()

	stopTracks(stream)
	publish(state, listeners)

	if finalizeErr != nil {
		s.metrics.RecordRecordingFailed("finalize")
		s.logger.Error("finalizing recording", "error", finalizeErr)
		return nil, fmt.Errorf("finalizing capture: %w", finalizeErr)
	}

	audio := &domain.CapturedAudio{
		Data:       data,
		MIMEType:   capture.MIMEType(),
		Duration:   duration,
		CapturedAt: startedAt,
	}
	s.metrics.RecordRecordingFinished(duration, audio.Size())
	s.logger.Info("recording finished", "bytes", audio.Size(), "duration", duration)
	return audio, nil
}

// Dispose force-stops an active recording without producing audio.
func (s *Session) Dispose() {
	s.mu.Lock()
	s.disposed = true
	if s.phase == domain.RecordingIdle && s.stream == nil {
		s.mu.Unlock()
		return
	}
	capture := s.capture
	stream := s.stream
	s.resetLocked()
	state, listeners := s.snapshotLocked()
	s.mu.Unlock()

	if capture != nil {
		capture.Abort()
	}
	stopTracks(stream)
	s.logger.Info("recording disposed")
	publish(state, listeners)
}

func (s *Session) appendChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return
	}
	s.chunks = append(s.chunks, chunk)
}

func (s *Session) tick() {
	s.mu.Lock()
	if s.phase != domain.RecordingActive {
		s.mu.Unlock()
		return
	}
	s.elapsed++
	state, listeners := s.snapshotLocked()
	s.mu.Unlock()

	publish(state, listeners)
}

func (s *Session) resetLocked() {
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
	s.phase = domain.RecordingIdle
	s.elapsed = 0
	s.stream = nil
	s.capture = nil
	s.chunks = nil
}

func (s *Session) snapshotLocked() (domain.RecordingState, []func(domain.RecordingState)) {
	listeners := make([]func(domain.RecordingState), len(s.listeners))
	copy(listeners, s.listeners)
	return s.stateLocked(), listeners
}

func publish(state domain.RecordingState, listeners []func(domain.RecordingState)) {
	for _, fn := range listeners {
		fn(state)
	}
}

func stopTracks(stream MediaStream) {
	if stream == nil {
		return
	}
	for _, t := range stream.Tracks() {
		t.Stop()
	}
}

// FormatElapsed renders seconds as m:ss.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
