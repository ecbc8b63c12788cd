// Package device connects capture and playback to real audio hardware.
//
// The PortAudio backend is compiled only with the portaudio build tag; without
// it every opener fails with ErrUnavailable and the client falls back to file
// input. The hardware-independent parts (frame pumping, autoplay gating,
// pause and resume) live in untagged files and are tested with fake devices.
package device

import (
	"errors"
)

// ErrUnavailable is returned when the binary was built without audio hardware support
var ErrUnavailable = errors.New("device: audio hardware support not compiled in (build with -tags portaudio)")

// InputStream is an opened capture device delivering PCM-16 frames
type InputStream interface {
	Start() error
	// Read blocks until the next frame is available. The returned slice is
	// reused by the next call.
	Read() ([]int16, error)
	Stop() error
	Close() error
}

// InputOpener opens the default input device
type InputOpener func(sampleRate, channels, framesPerBuffer int) (InputStream, error)

// Sink is an opened playback device accepting PCM-16 frames
type Sink interface {
	Write(samples []int16) error
	Close() error
}

// SinkOpener opens the default output device
type SinkOpener func(sampleRate, channels, framesPerBuffer int) (Sink, error)
