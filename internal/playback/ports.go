// Package playback loads, plays and visualizes synthesized voice responses.
//
// A Controller owns one Sink. Each Play resolves the asset's candidate
// locations in order, taps the sink into an analysis graph at most once for
// its lifetime, and drives a volume sampler while audio is playing. When the
// tap cannot be established the controller substitutes a synthetic volume
// signal so animations keep moving.
package playback

import (
	"context"
	"time"

	"voicecall/internal/domain"
)

// Loader loads a location into a sink and returns once it is ready to play.
// The sink's source becomes location as soon as the load begins, even if it
// then fails.
type Loader interface {
	Load(ctx context.Context, location domain.CandidateLocation) error
}

// Sink is the playable audio output element. Only the Controller mutates it.
type Sink interface {
	Loader

	// ID identifies the sink for tap binding.
	ID() string
	Source() domain.CandidateLocation

	// Play starts playback of the loaded source and returns once it has started.
	Play(ctx context.Context) error
	Pause()
	Rewind()
	Position() time.Duration
	Playing() bool

	// SetEndHandler registers fn to be called once when playback ends. err is nil
	// on natural end of stream. Passing nil detaches the handler. The sink must
	// not call fn while holding locks that Play/Pause take.
	SetEndHandler(fn func(err error))
}

// ContextState is the lifecycle state of an AnalysisContext.
type ContextState string

const (
	ContextRunning   ContextState = "running"
	ContextSuspended ContextState = "suspended"
	ContextClosed    ContextState = "closed"
)

// Node is a vertex in the analysis graph.
type Node interface {
	Connect(dst Node) error
	Disconnect()
}

// Analyser is a graph node exposing frequency data of the audio passing
// through it.
type Analyser interface {
	Node
	FFTSize() int
	FrequencyBinCount() int
	// ByteFrequencyData fills dst with magnitudes scaled to 0..255.
	ByteFrequencyData(dst []byte)
}

// AnalysisContext hosts taps and analysers.
type AnalysisContext interface {
	State() ContextState
	// CreateTap binds sink into the graph. The binding is irreversible: calling
	// it twice for the same sink is a fatal error in real media stacks, so
	// callers must remember which sinks they already tapped.
	CreateTap(sink Sink) (Node, error)
	CreateAnalyser(fftSize int) (Analyser, error)
	Destination() Node
	Close() error
}

// ContextFactory builds a new AnalysisContext.
type ContextFactory func() (AnalysisContext, error)
