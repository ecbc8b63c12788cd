package audio

import (
	"encoding/binary"
	"testing"
)

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestEncodeDecodeWAV(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768, 42}

	data, err := EncodeWAV(pcmBytes(samples), 16000, 1)
	if err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}

	if !IsWAV(data) {
		t.Fatal("Encoded data is missing the RIFF/WAVE header")
	}

	if len(data) != 44+len(samples)*2 {
		t.Errorf("Expected %d bytes, got %d", 44+len(samples)*2, len(data))
	}

	pcm, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("Failed to decode WAV: %v", err)
	}

	if pcm.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", pcm.SampleRate)
	}
	if pcm.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", pcm.Channels)
	}
	if pcm.BitDepth != 16 {
		t.Errorf("Expected bit depth 16, got %d", pcm.BitDepth)
	}

	if len(pcm.Samples) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(pcm.Samples))
	}

	for i, s := range samples {
		if pcm.Samples[i] != int(s) {
			t.Errorf("Sample %d mismatch: expected %d, got %d", i, s, pcm.Samples[i])
		}
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	tests := []struct {
		name       string
		pcm        []byte
		sampleRate int
		channels   int
	}{
		{"empty samples", nil, 16000, 1},
		{"odd length", []byte{1, 2, 3}, 16000, 1},
		{"zero sample rate", []byte{1, 2}, 0, 1},
		{"zero channels", []byte{1, 2}, 16000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.pcm, tt.sampleRate, tt.channels); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV([]byte("ID3 definitely not a wav file")); err == nil {
		t.Error("Expected error decoding non-WAV data")
	}
}

func TestInt16SamplesGain(t *testing.T) {
	pcm := &PCM{Samples: []int{1000, -1000, 32767}, SampleRate: 8000, Channels: 1, BitDepth: 16}

	half := pcm.Int16Samples(0.5)
	if half[0] != 500 || half[1] != -500 {
		t.Errorf("Expected half gain samples, got %v", half)
	}

	muted := pcm.Int16Samples(0)
	for i, s := range muted {
		if s != 0 {
			t.Errorf("Expected silence at %d, got %d", i, s)
		}
	}

	if pcm.Duration() != 3.0/8000 {
		t.Errorf("Unexpected duration %v", pcm.Duration())
	}
}

func TestWriteSeekerBufferOverwrite(t *testing.T) {
	var buf WriteSeekerBuffer

	buf.Write([]byte("hello world"))
	if _, err := buf.Seek(0, 0); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	buf.Write([]byte("HELLO"))

	if string(buf.Bytes()) != "HELLO world" {
		t.Errorf("Unexpected buffer contents %q", buf.Bytes())
	}

	if _, err := buf.Seek(-1, 0); err == nil {
		t.Error("Expected error for negative seek")
	}
}
