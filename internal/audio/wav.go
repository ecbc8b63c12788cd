package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// MimeWAV is the content type of WAV-wrapped PCM recordings
	MimeWAV = "audio/wav"

	pcmFormat = 1
)

// PCM holds decoded integer samples together with their format
type PCM struct {
	Samples    []int
	SampleRate int
	Channels   int
	BitDepth   int
}

// Duration returns the playback length in seconds
func (p *PCM) Duration() float64 {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate*p.Channels)
}

// EncodeWAV wraps little-endian PCM-16 bytes into a WAV file
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio data length must be even (got %d bytes)", len(pcm))
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if channels <= 0 {
		return nil, fmt.Errorf("channels must be positive, got %d", channels)
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	var out WriteSeekerBuffer
	enc := wav.NewEncoder(&out, sampleRate, 16, channels, pcmFormat)

	err := enc.Write(&goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		Data:           samples,
		SourceBitDepth: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write WAV data: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV file: %w", err)
	}

	return out.Bytes(), nil
}

// DecodeWAV decodes a WAV file into integer samples
func DecodeWAV(data []byte) (*PCM, error) {
	if !IsWAV(data) {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF/WAVE header")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV samples: %w", err)
	}

	return &PCM{
		Samples:    buf.Data,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		BitDepth:   int(dec.BitDepth),
	}, nil
}

// IsWAV reports whether data starts with a RIFF/WAVE header
func IsWAV(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}

// Int16Samples converts decoded samples to 16-bit, applying gain in [0, 1]
func (p *PCM) Int16Samples(gain float64) []int16 {
	shift := p.BitDepth - 16
	out := make([]int16, len(p.Samples))

	for i, s := range p.Samples {
		switch {
		case shift > 0:
			s >>= shift
		case shift < 0:
			s <<= -shift
		}

		v := float64(s) * gain
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}

	return out
}

// WriteSeekerBuffer is an in-memory io.WriteSeeker used as the WAV encoder target
type WriteSeekerBuffer struct {
	b []byte
	i int64
}

func (b *WriteSeekerBuffer) Bytes() []byte { return b.b }

func (b *WriteSeekerBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	end := b.i + int64(len(p))
	if end > int64(cap(b.b)) {
		b.b = slices.Grow(b.b, int(end-int64(len(b.b))))
	}
	if end > int64(len(b.b)) {
		b.b = b.b[:end]
	}
	copy(b.b[b.i:end], p)
	b.i = end
	return len(p), nil
}

func (b *WriteSeekerBuffer) Seek(offset int64, whence int) (int64, error) {
	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekCurrent:
		newOffset = b.i + offset
	case io.SeekEnd:
		newOffset = int64(len(b.b)) + offset
	default:
		return 0, errors.New("WriteSeekerBuffer.Seek: invalid whence")
	}
	if newOffset < 0 {
		return 0, errors.New("WriteSeekerBuffer.Seek: negative position")
	}
	b.i = newOffset
	return newOffset, nil
}
