//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"voicecall/internal/recording"
)

const framesPerBuffer = 1024

// Microphone captures from the default input device. Each granted stream
// holds one portaudio initialization, released when its track is stopped.
type Microphone struct {
	sampleRate int
	channels   int
	logger     *slog.Logger
}

func NewMicrophone(sampleRate, channels int, logger *slog.Logger) *Microphone {
	return &Microphone{
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger.With("component", "microphone"),
	}
}

func (m *Microphone) Acquire(ctx context.Context) (recording.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("no default input device: %w", err)
	}
	if dev.MaxInputChannels < m.channels {
		portaudio.Terminate()
		return nil, fmt.Errorf("input device %q has %d channels, need %d", dev.Name, dev.MaxInputChannels, m.channels)
	}

	m.logger.Info("microphone granted", "device", dev.Name, "sample_rate", m.sampleRate)
	return &deviceStream{track: &deviceTrack{id: dev.Name}}, nil
}

func (m *Microphone) NewCapture(stream recording.MediaStream) (recording.Capture, error) {
	if _, ok := stream.(*deviceStream); !ok {
		return nil, errors.New("stream was not acquired from this microphone")
	}
	return newStreamCapture(m.openStream, m.sampleRate, m.channels), nil
}

func (m *Microphone) openStream() (inputStream, []int16, error) {
	buf := make([]int16, framesPerBuffer*m.channels)

	stream, err := portaudio.OpenDefaultStream(
		m.channels,
		0,
		float64(m.sampleRate),
		framesPerBuffer,
		buf,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("opening stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, nil, fmt.Errorf("starting stream: %w", err)
	}
	return stream, buf, nil
}

type deviceStream struct {
	track *deviceTrack
}

func (s *deviceStream) Tracks() []recording.Track {
	return []recording.Track{s.track}
}

type deviceTrack struct {
	id   string
	once sync.Once
}

func (t *deviceTrack) ID() string { return t.id }

func (t *deviceTrack) Stop() {
	t.once.Do(func() {
		portaudio.Terminate()
	})
}
