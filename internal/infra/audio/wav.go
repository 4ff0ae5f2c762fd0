package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// PCM is decoded signed 16-bit audio with interleaved channels.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Frames is the number of sample frames (samples per channel).
func (p *PCM) Frames() int {
	if p.Channels == 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

func (p *PCM) Duration() time.Duration {
	if p.SampleRate == 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}

// EncodeWAV writes samples as a canonical 44-byte-header PCM16 WAV file.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	var buf bytes.Buffer

	dataSize := len(samples) * 2
	blockAlign := channels * 2

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes()
}

// DecodeWAV parses a RIFF/WAVE file holding 16-bit PCM. Unknown chunks are
// skipped. A data chunk whose declared size overruns the file is truncated,
// which is what streaming encoders leave behind.
func DecodeWAV(data []byte) (*PCM, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file: %w", ErrUnsupportedFormat)
	}

	var (
		pcm     PCM
		haveFmt bool
		bits    uint16
	)

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) || end < body {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, fmt.Errorf("short fmt chunk: %w", ErrUnsupportedFormat)
			}
			format := binary.LittleEndian.Uint16(data[body:])
			pcm.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			pcm.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = binary.LittleEndian.Uint16(data[body+14:])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("wav format %d with %d bits: %w", format, bits, ErrUnsupportedFormat)
			}
			if pcm.Channels < 1 || pcm.SampleRate < 1 {
				return nil, fmt.Errorf("wav with %d channels at %d Hz: %w", pcm.Channels, pcm.SampleRate, ErrUnsupportedFormat)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("data chunk before fmt chunk: %w", ErrUnsupportedFormat)
			}
			raw := data[body:end]
			pcm.Samples = make([]int16, len(raw)/2)
			for i := range pcm.Samples {
				pcm.Samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
			}
			// Drop a trailing partial frame.
			pcm.Samples = pcm.Samples[:len(pcm.Samples)/pcm.Channels*pcm.Channels]
			return &pcm, nil
		}

		off = end
		if size%2 == 1 {
			off++
		}
	}

	return nil, fmt.Errorf("no data chunk: %w", ErrUnsupportedFormat)
}
