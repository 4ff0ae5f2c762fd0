package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"voicecall/internal/domain"
)

const frameDuration = 20 * time.Millisecond

var (
	ErrNoSource      = errors.New("no source loaded")
	ErrAlreadyTapped = errors.New("sink is already connected to a tap")
)

// TapFunc receives each played frame mixed down to mono in [-1, 1].
type TapFunc func(frame []float64, sampleRate int)

// StreamSink decodes a whole file into memory and plays it frame by frame
// through an Output. HTTP(S) locations are fetched; anything else is read
// from disk, under root when one is set.
type StreamSink struct {
	id     string
	output Output
	client *resty.Client
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	source  domain.CandidateLocation
	loads   int
	pcm     *PCM
	pos     int
	playing bool
	run     int
	cancel  context.CancelFunc
	done    chan struct{}
	onEnd   func(error)
	tap     TapFunc
	tapped  bool
}

type SinkOption func(*StreamSink)

func WithHTTPClient(c *resty.Client) SinkOption {
	return func(s *StreamSink) { s.client = c }
}

func WithRoot(dir string) SinkOption {
	return func(s *StreamSink) { s.root = dir }
}

func NewStreamSink(id string, output Output, logger *slog.Logger, opts ...SinkOption) *StreamSink {
	s := &StreamSink{
		id:     id,
		output: output,
		client: resty.New(),
		logger: logger.With("component", "sink", "sink", id),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StreamSink) ID() string { return s.id }

func (s *StreamSink) Source() domain.CandidateLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Load stops any playing source, points the sink at location and then
// fetches and decodes it. A failed load leaves location as the source with
// nothing playable. Only the most recent Load may commit decoded audio.
func (s *StreamSink) Load(ctx context.Context, location domain.CandidateLocation) error {
	s.Pause()

	s.mu.Lock()
	s.loads++
	load := s.loads
	s.source = location
	s.pcm = nil
	s.pos = 0
	s.mu.Unlock()

	data, err := s.fetch(ctx, string(location))
	if err != nil {
		return err
	}

	pcm, err := Decode(data)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", location, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.loads != load {
		current := s.source
		s.mu.Unlock()
		return fmt.Errorf("load of %s superseded by %s", location, current)
	}
	s.pcm = pcm
	s.pos = 0
	s.mu.Unlock()

	s.logger.Debug("source loaded", "location", location, "duration", pcm.Duration(),
		"sample_rate", pcm.SampleRate, "channels", pcm.Channels)
	return nil
}

func (s *StreamSink) fetch(ctx context.Context, location string) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parsing location %q: %w", location, err)
	}

	switch u.Scheme {
	case "http", "https":
		resp, err := s.client.R().SetContext(ctx).Get(location)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", location, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("fetching %s: status %d", location, resp.StatusCode())
		}
		return resp.Body(), nil
	case "file", "":
		path := filepath.FromSlash(u.Path)
		if s.root != "" {
			path = filepath.Join(s.root, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q in %s", u.Scheme, location)
	}
}

// Play starts the loaded source from the current position. ctx bounds opening
// the output only.
func (s *StreamSink) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pcm == nil {
		return ErrNoSource
	}
	if s.playing {
		return nil
	}

	stream, err := s.output.Open(ctx, Format{SampleRate: s.pcm.SampleRate, Channels: s.pcm.Channels})
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.run++
	s.playing = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(runCtx, s.run, s.pcm, stream, s.done)
	return nil
}

func (s *StreamSink) loop(ctx context.Context, run int, pcm *PCM, stream OutputStream, done chan struct{}) {
	defer close(done)

	frameLen := pcm.SampleRate * int(frameDuration) / int(time.Second)
	if frameLen < 1 {
		frameLen = 1
	}

	var playErr error
	for {
		s.mu.Lock()
		if ctx.Err() != nil || s.run != run {
			s.mu.Unlock()
			stream.Close()
			return
		}
		start := s.pos
		if start >= pcm.Frames() {
			s.mu.Unlock()
			break
		}
		end := min(start+frameLen, pcm.Frames())
		s.pos = end
		tap := s.tap
		s.mu.Unlock()

		frame := pcm.Samples[start*pcm.Channels : end*pcm.Channels]
		if err := stream.Write(frame); err != nil {
			playErr = err
			break
		}
		if tap != nil {
			tap(mixdown(frame, pcm.Channels), pcm.SampleRate)
		}
	}

	if err := stream.Close(); err != nil && playErr == nil {
		playErr = fmt.Errorf("closing output: %w", err)
	}

	s.mu.Lock()
	if s.run != run || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.playing = false
	s.cancel = nil
	onEnd := s.onEnd
	s.mu.Unlock()

	if playErr != nil {
		s.logger.Warn("playback failed", "error", playErr)
	}
	if onEnd != nil {
		onEnd(playErr)
	}
}

// Pause stops playback and waits for the play loop to exit. The position is
// kept.
func (s *StreamSink) Pause() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	s.cancel()
	s.cancel = nil
	done := s.done
	s.mu.Unlock()

	<-done
}

func (s *StreamSink) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
}

func (s *StreamSink) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pcm == nil || s.pcm.SampleRate == 0 {
		return 0
	}
	return time.Duration(s.pos) * time.Second / time.Duration(s.pcm.SampleRate)
}

func (s *StreamSink) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *StreamSink) SetEndHandler(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnd = fn
}

// Tap routes played frames to fn. A sink can be tapped once for its lifetime;
// detaching stops delivery but does not allow a second tap.
func (s *StreamSink) Tap(fn TapFunc) (detach func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tapped {
		return nil, ErrAlreadyTapped
	}
	s.tapped = true
	s.tap = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.tap = nil
			s.mu.Unlock()
		})
	}, nil
}

func mixdown(frame []int16, channels int) []float64 {
	n := len(frame) / channels
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(frame[i*channels+c])
		}
		out[i] = sum / float64(channels) / 32768
	}
	return out
}
