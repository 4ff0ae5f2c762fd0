package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPermissionDenied         = errors.New("microphone permission denied")
	ErrAllCandidatesFailed      = errors.New("all audio candidates failed")
	ErrVisualizationUnavailable = errors.New("visualization unavailable")
	ErrPlayback                 = errors.New("playback error")
	ErrInvalidPhase             = errors.New("invalid phase for operation")
	ErrSuperseded               = errors.New("playback superseded by a newer request")
)

// PermissionDeniedError wraps the reason microphone access failed.
type PermissionDeniedError struct {
	Err error
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("microphone permission denied: %v", e.Err)
}

func (e *PermissionDeniedError) Unwrap() []error {
	return []error{ErrPermissionDenied, e.Err}
}

// AttemptError records why a single candidate location failed to load.
type AttemptError struct {
	Location CandidateLocation
	Err      error
}

// ResolveError is returned when every candidate failed or timed out.
type ResolveError struct {
	Attempts []AttemptError
}

func (e *ResolveError) Error() string {
	if len(e.Attempts) == 0 {
		return "all audio candidates failed: no candidates"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Location, a.Err))
	}
	return "all audio candidates failed: " + strings.Join(parts, "; ")
}

func (e *ResolveError) Unwrap() error {
	return ErrAllCandidatesFailed
}

// PlaybackError is reported when the sink fails mid-play.
type PlaybackError struct {
	Location CandidateLocation
	Err      error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback error on %s: %v", e.Location, e.Err)
}

func (e *PlaybackError) Unwrap() []error {
	return []error{ErrPlayback, e.Err}
}
