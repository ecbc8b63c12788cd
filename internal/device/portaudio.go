//go:build portaudio

package device

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"
)

// Initialize starts PortAudio. The returned function terminates it.
func Initialize() (terminate func() error, err error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("error initializing portaudio: %w", err)
	}
	return func() error {
		if err := portaudio.Terminate(); err != nil {
			return fmt.Errorf("error terminating portaudio: %w", err)
		}
		return nil
	}, nil
}

type portaudioInput struct {
	stream *portaudio.Stream
	data   []int16
}

// OpenDefaultInput opens the default input device for blocking reads
func OpenDefaultInput(sampleRate, channels, framesPerBuffer int) (InputStream, error) {
	in := &portaudioInput{data: make([]int16, framesPerBuffer*channels)}
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), framesPerBuffer, &in.data)
	if err != nil {
		return nil, fmt.Errorf("error opening audio stream: %w", err)
	}
	in.stream = stream
	return in, nil
}

func (in *portaudioInput) Start() error {
	if err := in.stream.Start(); err != nil {
		return fmt.Errorf("error starting audio stream: %w", err)
	}
	return nil
}

func (in *portaudioInput) Read() ([]int16, error) {
	if err := in.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			slog.Debug("Audio input overflowed", slog.String("error", err.Error()))
			return in.data, nil
		}
		return nil, fmt.Errorf("error reading audio stream: %w", err)
	}
	return in.data, nil
}

func (in *portaudioInput) Stop() error {
	if err := in.stream.Stop(); err != nil {
		return fmt.Errorf("error stopping audio stream: %w", err)
	}
	return nil
}

func (in *portaudioInput) Close() error {
	if err := in.stream.Close(); err != nil {
		return fmt.Errorf("error closing audio stream: %w", err)
	}
	return nil
}

type portaudioSink struct {
	stream  *portaudio.Stream
	out     []int16
	started bool
}

// OpenDefaultOutput opens the default output device for blocking writes
func OpenDefaultOutput(sampleRate, channels, framesPerBuffer int) (Sink, error) {
	sink := &portaudioSink{out: make([]int16, framesPerBuffer*channels)}
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), framesPerBuffer, &sink.out)
	if err != nil {
		return nil, fmt.Errorf("error opening audio stream: %w", err)
	}
	sink.stream = stream
	return sink, nil
}

func (s *portaudioSink) Write(samples []int16) error {
	if !s.started {
		if err := s.stream.Start(); err != nil {
			return fmt.Errorf("error starting audio stream: %w", err)
		}
		s.started = true
	}

	copy(s.out, samples)
	clear(s.out[min(len(samples), len(s.out)):])
	if err := s.stream.Write(); err != nil {
		if errors.Is(err, portaudio.OutputUnderflowed) {
			slog.Debug("Audio output underflowed", slog.String("error", err.Error()))
			return nil
		}
		return fmt.Errorf("error writing audio stream: %w", err)
	}
	return nil
}

func (s *portaudioSink) Close() error {
	var err error
	if s.started {
		if e := s.stream.Stop(); e != nil {
			err = errors.Join(err, fmt.Errorf("error stopping audio stream: %w", e))
		}
	}
	if e := s.stream.Close(); e != nil {
		err = errors.Join(err, fmt.Errorf("error closing audio stream: %w", e))
	}
	return err
}
