package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrCaptureStopped = errors.New("capture already stopped")

// inputStream is the part of a started portaudio stream a capture drives.
// Read fills the buffer handed out when the stream was opened.
type inputStream interface {
	Read() error
	Stop() error
	Abort() error
	Close() error
}

// openFunc opens and starts an input stream, returning it with the buffer
// each Read fills.
type openFunc func() (inputStream, []int16, error)

// streamCapture reads PCM until finalized and emits it as one WAV chunk.
// Finalize and Abort may race; the first one stops the stream and the other
// becomes a no-op.
type streamCapture struct {
	open       openFunc
	sampleRate int
	channels   int

	ctl     sync.Mutex
	halted  bool
	stream  inputStream
	onChunk func([]byte)
	stop    chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	samples []int16
	readErr error
}

func newStreamCapture(open openFunc, sampleRate, channels int) *streamCapture {
	return &streamCapture{open: open, sampleRate: sampleRate, channels: channels}
}

func (c *streamCapture) MIMEType() string { return "audio/wav" }

func (c *streamCapture) Start(onChunk func([]byte)) error {
	c.ctl.Lock()
	defer c.ctl.Unlock()
	if c.halted {
		return ErrCaptureStopped
	}
	if c.stream != nil {
		return errors.New("capture already started")
	}

	stream, buf, err := c.open()
	if err != nil {
		return err
	}

	c.stream = stream
	c.onChunk = onChunk
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go c.read(stream, buf, c.stop, c.done)
	return nil
}

func (c *streamCapture) read(stream inputStream, buf []int16, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			select {
			case <-stop:
				// Read was unblocked by Abort.
			default:
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
			}
			return
		}

		c.mu.Lock()
		c.samples = append(c.samples, buf...)
		c.mu.Unlock()
	}
}

// halt stops the read loop and closes the stream exactly once. The stream is
// never closed while Read may still be running. When abort is set, or ctx
// expires first, the stream is aborted to unblock a pending Read.
func (c *streamCapture) halt(ctx context.Context, abort bool) error {
	c.ctl.Lock()
	defer c.ctl.Unlock()
	if c.halted {
		return ErrCaptureStopped
	}
	c.halted = true
	if c.stream == nil {
		return nil
	}

	close(c.stop)

	var err error
	if !abort {
		select {
		case <-c.done:
		case <-ctx.Done():
			err = ctx.Err()
			abort = true
		}
	}
	if abort {
		c.stream.Abort()
	}
	<-c.done

	if !abort {
		c.stream.Stop()
	}
	c.stream.Close()
	c.stream = nil
	return err
}

func (c *streamCapture) Finalize(ctx context.Context) error {
	if err := c.halt(ctx, false); err != nil {
		return fmt.Errorf("stopping stream: %w", err)
	}

	c.mu.Lock()
	samples, readErr := c.samples, c.readErr
	c.samples = nil
	c.mu.Unlock()

	if readErr != nil && len(samples) == 0 {
		return fmt.Errorf("reading from stream: %w", readErr)
	}

	if c.onChunk != nil {
		c.onChunk(EncodeWAV(samples, c.sampleRate, c.channels))
	}
	return nil
}

func (c *streamCapture) Abort() {
	c.halt(context.Background(), true)
}
