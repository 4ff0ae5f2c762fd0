package domain

import (
	"encoding/base64"
	"time"
)

// CandidateLocation is one of several equivalent URLs expected to serve identical audio bytes.
type CandidateLocation string

type AudioAsset struct {
	Ref        string
	Candidates []CandidateLocation
}

type PlaybackPhase string

const (
	PlaybackIdle      PlaybackPhase = "idle"
	PlaybackResolving PlaybackPhase = "resolving"
	PlaybackPlaying   PlaybackPhase = "playing"
	PlaybackFailed    PlaybackPhase = "failed"
)

// PlaybackState is what the UI reads. Volume is 0 whenever IsPlaying is false.
type PlaybackState struct {
	IsPlaying bool
	Volume    float64
}

type RecordingPhase string

const (
	RecordingIdle       RecordingPhase = "idle"
	RecordingActive     RecordingPhase = "recording"
	RecordingFinalizing RecordingPhase = "finalizing"
)

type RecordingState struct {
	Phase          RecordingPhase
	ElapsedSeconds int
}

// CapturedAudio is produced exactly once per recording cycle. Callers must not mutate Data.
type CapturedAudio struct {
	Data       []byte
	MIMEType   string
	Duration   time.Duration
	CapturedAt time.Time
}

func (c *CapturedAudio) Base64() string {
	return base64.StdEncoding.EncodeToString(c.Data)
}

func (c *CapturedAudio) Size() int {
	return len(c.Data)
}
