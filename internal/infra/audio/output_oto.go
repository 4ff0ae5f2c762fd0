//go:build oto
// +build oto

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// SpeakerOutput plays through the system speaker. oto allows a single context
// per process, so the first Open fixes the device format.
type SpeakerOutput struct {
	logger *slog.Logger

	once   sync.Once
	ctx    *oto.Context
	format Format
	err    error
}

func NewSpeakerOutput(logger *slog.Logger) (*SpeakerOutput, error) {
	return &SpeakerOutput{logger: logger.With("component", "speaker")}, nil
}

func (o *SpeakerOutput) Open(ctx context.Context, format Format) (OutputStream, error) {
	o.once.Do(func() {
		otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			o.err = fmt.Errorf("creating oto context: %w", err)
			return
		}
		select {
		case <-ready:
		case <-ctx.Done():
			o.err = ctx.Err()
			return
		}
		o.ctx = otoCtx
		o.format = format
		o.logger.Info("speaker ready", "sample_rate", format.SampleRate, "channels", format.Channels)
	})
	if o.err != nil {
		return nil, o.err
	}
	if format != o.format {
		return nil, fmt.Errorf("speaker opened at %d Hz/%d ch, got %d Hz/%d ch: %w",
			o.format.SampleRate, o.format.Channels, format.SampleRate, format.Channels, ErrUnsupportedFormat)
	}

	pr, pw := io.Pipe()
	player := o.ctx.NewPlayer(pr)
	player.Play()

	return &speakerStream{player: player, pw: pw, pr: pr}, nil
}

type speakerStream struct {
	player *oto.Player
	pw     *io.PipeWriter
	pr     *io.PipeReader
	buf    []byte
}

func (s *speakerStream) Write(samples []int16) error {
	if cap(s.buf) < len(samples)*2 {
		s.buf = make([]byte, len(samples)*2)
	}
	buf := s.buf[:len(samples)*2]
	for i, v := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	if _, err := s.pw.Write(buf); err != nil {
		return fmt.Errorf("writing to speaker: %w", err)
	}
	return nil
}

func (s *speakerStream) Close() error {
	s.pw.Close()
	err := s.player.Close()
	s.pr.Close()
	return err
}
