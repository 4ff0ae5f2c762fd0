// Package recording captures microphone input into a single audio blob per
// cycle. Session is a state machine idle -> recording -> finalizing -> idle
// that owns the device stream and guarantees every track is stopped when a
// cycle ends, however it ends.
package recording

import "context"

// Track is one hardware-backed input of a media stream.
type Track interface {
	ID() string
	Stop()
}

type MediaStream interface {
	Tracks() []Track
}

// Capture accumulates encoded audio from a stream.
type Capture interface {
	// Start begins capturing. onChunk may be called from any goroutine until
	// Finalize returns or Abort is called.
	Start(onChunk func([]byte)) error
	// Finalize stops capturing and flushes any pending chunk before returning.
	Finalize(ctx context.Context) error
	// Abort stops capturing without flushing.
	Abort()
	MIMEType() string
}

// Microphone grants access to the capture hardware.
type Microphone interface {
	// Acquire requests access, blocking while the user or OS decides.
	Acquire(ctx context.Context) (MediaStream, error)
	NewCapture(stream MediaStream) (Capture, error)
}
