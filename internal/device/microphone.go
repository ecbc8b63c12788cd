package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/skypro1111/voice-chat-client/internal/audio"
	"github.com/skypro1111/voice-chat-client/internal/capture"
)

// MicrophoneConfig contains input device parameters
type MicrophoneConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	// OnFrame, when set, sees every captured frame before it is buffered
	OnFrame func([]int16)
}

// Microphone is a capture.Source reading PCM from an input device. Finished
// recordings are wrapped as WAV.
type Microphone struct {
	config MicrophoneConfig
	open   InputOpener
	logger *slog.Logger
}

// NewMicrophone creates a microphone source. A nil opener uses the default
// input device.
func NewMicrophone(config MicrophoneConfig, open InputOpener, logger *slog.Logger) *Microphone {
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.Channels <= 0 {
		config.Channels = 1
	}
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = 1024
	}
	if open == nil {
		open = OpenDefaultInput
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Microphone{
		config: config,
		open:   open,
		logger: logger.With(slog.String("component", "microphone")),
	}
}

// Open acquires the input device
func (m *Microphone) Open(ctx context.Context) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in, err := m.open(m.config.SampleRate, m.config.Channels, m.config.FramesPerBuffer)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", capture.ErrNoDevice, err)
		}
		return nil, fmt.Errorf("%w: %v", capture.ErrPermissionDenied, err)
	}

	return &micStream{
		in:         in,
		sampleRate: m.config.SampleRate,
		channels:   m.config.Channels,
		onFrame:    m.config.OnFrame,
		logger:     m.logger,
	}, nil
}

type micStream struct {
	in         InputStream
	sampleRate int
	channels   int
	onFrame    func([]int16)
	logger     *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

// MimeType reports the type of the encoded recording
func (s *micStream) MimeType() string { return audio.MimeWAV }

// Start begins reading frames on a separate goroutine
func (s *micStream) Start(onData func([]byte)) error {
	if err := s.in.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.readLoop(onData)
	return nil
}

func (s *micStream) readLoop(onData func([]byte)) {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		frame, err := s.in.Read()
		if err != nil {
			select {
			case <-s.stop:
			default:
				s.logger.Warn("Input stream read failed", slog.String("error", err.Error()))
			}
			return
		}

		if s.onFrame != nil {
			s.onFrame(frame)
		}
		onData(pcmBytes(frame))
	}
}

// Stop returns after the read goroutine has delivered its last fragment
func (s *micStream) Stop() error {
	if s.stop == nil {
		return nil
	}

	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		err = s.in.Stop()
		<-s.done
	})
	return err
}

func (s *micStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.in.Close()
	})
	return s.closeErr
}

// Encode wraps the assembled PCM as WAV
func (s *micStream) Encode(data []byte) ([]byte, error) {
	return audio.EncodeWAV(data, s.sampleRate, s.channels)
}

func pcmBytes(frame []int16) []byte {
	out := make([]byte, len(frame)*2)
	for i, v := range frame {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
