package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// mp3Channels is fixed: the decoder always produces interleaved stereo
const mp3Channels = 2

// IsMP3 reports whether data starts with an ID3 tag or an MPEG audio frame sync
func IsMP3(data []byte) bool {
	switch {
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return true
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return true
	}
	return false
}

// DecodeMP3 decodes an MP3 stream into 16-bit stereo samples
func DecodeMP3(data []byte) (*PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid MP3 stream: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to read MP3 samples: %w", err)
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("MP3 stream contains no samples")
	}

	samples := make([]int, len(raw)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	}

	return &PCM{
		Samples:    samples,
		SampleRate: dec.SampleRate(),
		Channels:   mp3Channels,
		BitDepth:   16,
	}, nil
}

// Decode sniffs the container and decodes WAV or MP3 audio
func Decode(data []byte) (*PCM, error) {
	switch {
	case IsWAV(data):
		return DecodeWAV(data)
	case IsMP3(data):
		return DecodeMP3(data)
	}
	return nil, fmt.Errorf("unrecognized audio container (%s)", SniffMimeType(data, "unknown"))
}
