package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// Decode sniffs data and decodes WAV or MP3 into PCM.
func Decode(data []byte) (*PCM, error) {
	switch {
	case len(data) >= 4 && string(data[0:4]) == "RIFF":
		return DecodeWAV(data)
	case isMP3(data):
		return decodeMP3(data)
	default:
		return nil, fmt.Errorf("unrecognized header: %w", ErrUnsupportedFormat)
	}
}

func isMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	// MPEG audio frame sync.
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// decodeMP3 always yields stereo, which is what go-mp3 produces.
func decodeMP3(data []byte) (*PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening mp3: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decoding mp3: %w", err)
	}

	samples := make([]int16, len(raw)/4*2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}

	return &PCM{
		Samples:    samples,
		SampleRate: dec.SampleRate(),
		Channels:   2,
	}, nil
}
