package audio

import (
	"context"
	"sync"
	"time"
)

type Format struct {
	SampleRate int
	Channels   int
}

// Output opens playback streams on an audio device.
type Output interface {
	Open(ctx context.Context, format Format) (OutputStream, error)
}

type OutputStream interface {
	// Write queues one frame of interleaved samples. It may block to keep
	// the caller at device pace.
	Write(samples []int16) error
	Close() error
}

// NullOutput discards audio. When realtime is set, writes block for the
// frame's duration so playback takes as long as it would on a speaker.
type NullOutput struct {
	realtime bool

	mu      sync.Mutex
	written int
}

func NewNullOutput(realtime bool) *NullOutput {
	return &NullOutput{realtime: realtime}
}

func (o *NullOutput) Open(_ context.Context, format Format) (OutputStream, error) {
	return &nullStream{out: o, format: format}, nil
}

// Written reports how many samples were written across all streams.
func (o *NullOutput) Written() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.written
}

type nullStream struct {
	out    *NullOutput
	format Format
}

func (s *nullStream) Write(samples []int16) error {
	s.out.mu.Lock()
	s.out.written += len(samples)
	s.out.mu.Unlock()

	if s.out.realtime && s.format.SampleRate > 0 && s.format.Channels > 0 {
		frames := len(samples) / s.format.Channels
		time.Sleep(time.Duration(frames) * time.Second / time.Duration(s.format.SampleRate))
	}
	return nil
}

func (s *nullStream) Close() error { return nil }
