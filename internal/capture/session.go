package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-chat-client/internal/audio"
	"github.com/skypro1111/voice-chat-client/internal/metrics"
)

// DefaultMimeType is used when a stream does not report its negotiated format
const DefaultMimeType = "audio/webm"

var (
	// ErrAlreadyRecording is returned by Start while a recording is active
	ErrAlreadyRecording = errors.New("capture: recording already in progress")
	// ErrPermissionDenied is returned by sources when the user refuses microphone access
	ErrPermissionDenied = errors.New("capture: microphone access denied")
	// ErrNoDevice is returned by sources when no input device exists
	ErrNoDevice = errors.New("capture: no input device available")
	// ErrEmptyRecording is returned by Stop when no audio arrived before the stream stopped
	ErrEmptyRecording = errors.New("capture: recording contains no audio")
	// ErrClosed is returned by Start after Close
	ErrClosed = errors.New("capture: session closed")
)

// PermissionError reports that the input device could not be acquired.
// It must be shown to the user; retrying needs user action.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// Source acquires an input device
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an acquired input device.
// Stop returns only after the last onData call; Close releases the device and
// must be safe to call more than once.
type Stream interface {
	MimeType() string
	Start(onData func(fragment []byte)) error
	Stop() error
	Close() error
}

// Encoder is implemented by streams whose fragments need wrapping before
// upload, e.g. raw PCM that becomes WAV.
type Encoder interface {
	Encode(data []byte) ([]byte, error)
}

// Recording is the finalized audio object produced by one Start/Stop cycle
type Recording struct {
	ID        string
	MimeType  string
	Data      []byte
	Filename  string
	Fragments int
	StartedAt time.Time
	Duration  time.Duration
}

// Len returns the recording size in bytes
func (r *Recording) Len() int {
	return len(r.Data)
}

// Options configures a Session
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// OnFinalize runs once per recording, after the fragments are assembled.
	OnFinalize func(*Recording)
}

// Stats is a snapshot of capture counters
type Stats struct {
	Active     bool              `json:"active"`
	Recordings uint64            `json:"recordings"`
	Failures   uint64            `json:"failures"`
	Buffer     audio.BufferStats `json:"buffer"`
}

// Session owns the microphone for one recording at a time
type Session struct {
	source     Source
	logger     *slog.Logger
	metrics    *metrics.Metrics
	onFinalize func(*Recording)

	active    bool
	starting  bool
	closed    bool
	stream    Stream
	buffer    *audio.Buffer
	startedAt time.Time

	recordings uint64
	failures   uint64

	mu sync.Mutex
}

// NewSession creates a capture session reading from source
func NewSession(source Source, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		source:     source,
		logger:     logger.With(slog.String("component", "capture")),
		metrics:    opts.Metrics,
		onFinalize: opts.OnFinalize,
		buffer:     audio.NewBuffer(DefaultMimeType),
	}
}

// Start acquires the device and begins buffering fragments.
// It fails with ErrAlreadyRecording while a recording is active or starting,
// and with *PermissionError when the device cannot be opened.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.active || s.starting {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	s.starting = true
	s.mu.Unlock()

	stream, err := s.source.Open(ctx)
	if err != nil {
		s.finishStart(nil, nil)
		s.recordFailure()
		s.logger.Warn("Failed to acquire microphone", slog.String("error", err.Error()))
		return &PermissionError{Err: err}
	}

	buffer := audio.NewBuffer(streamMimeType(stream))

	if err := stream.Start(buffer.Append); err != nil {
		s.releaseStream(stream)
		s.finishStart(nil, nil)
		s.recordFailure()
		return fmt.Errorf("failed to start capture: %w", err)
	}

	if !s.finishStart(stream, buffer) {
		// Closed while the device was being acquired
		_ = stream.Stop()
		s.releaseStream(stream)
		buffer.Reset()
		return ErrClosed
	}

	if s.metrics != nil {
		s.metrics.SetRecordingActive(true)
	}

	s.logger.Info("Recording started", slog.String("mime_type", buffer.MimeType()))
	return nil
}

// finishStart leaves the starting state and, when stream is non-nil, activates
// the session. It reports false if the session was closed in the meantime.
func (s *Session) finishStart(stream Stream, buffer *audio.Buffer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.starting = false
	if stream == nil {
		return true
	}
	if s.closed {
		return false
	}

	s.active = true
	s.stream = stream
	s.buffer = buffer
	s.startedAt = time.Now()
	return true
}

// Stop finalizes the active recording. It is a no-op returning (nil, nil) when
// no recording is active. The device is released on every path and the
// fragment buffer is cleared once the recording is assembled.
func (s *Session) Stop() (*Recording, error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil, nil
	}
	stream := s.stream
	buffer := s.buffer
	startedAt := s.startedAt
	s.active = false
	s.stream = nil
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetRecordingActive(false)
	}

	stopErr := stream.Stop()
	s.releaseStream(stream)

	rec, err := finalize(stream, buffer, startedAt)
	buffer.Reset()

	if stopErr != nil && err == nil {
		s.logger.Warn("Capture stream reported an error while stopping",
			slog.String("error", stopErr.Error()),
		)
	}

	if err != nil {
		s.recordFailure()
		return nil, err
	}

	s.mu.Lock()
	s.recordings++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordRecording(rec.Duration.Seconds(), rec.Len())
	}

	s.logger.Info("Recording finalized",
		slog.String("recording_id", rec.ID),
		slog.String("mime_type", rec.MimeType),
		slog.Int("bytes", rec.Len()),
		slog.Int("fragments", rec.Fragments),
		slog.Duration("duration", rec.Duration),
	)

	if s.onFinalize != nil {
		s.onFinalize(rec)
	}

	return rec, nil
}

func finalize(stream Stream, buffer *audio.Buffer, startedAt time.Time) (*Recording, error) {
	fragments := buffer.Len()
	data, err := buffer.Assemble()
	if err != nil {
		return nil, ErrEmptyRecording
	}

	mimeType := buffer.MimeType()
	if enc, ok := stream.(Encoder); ok {
		data, err = enc.Encode(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode recording: %w", err)
		}
	}

	now := time.Now()
	return &Recording{
		ID:        uuid.NewString(),
		MimeType:  mimeType,
		Data:      data,
		Filename:  fmt.Sprintf("recording_%d.%s", now.UnixMilli(), audio.ExtensionForMime(mimeType)),
		Fragments: fragments,
		StartedAt: startedAt,
		Duration:  now.Sub(startedAt),
	}, nil
}

// Close stops any active capture and releases the device. Start fails with
// ErrClosed afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	stream := s.stream
	buffer := s.buffer
	wasActive := s.active
	s.active = false
	s.stream = nil
	s.mu.Unlock()

	if !wasActive || stream == nil {
		return nil
	}

	if s.metrics != nil {
		s.metrics.SetRecordingActive(false)
	}

	stopErr := stream.Stop()
	closeErr := stream.Close()
	buffer.Reset()

	s.logger.Info("Capture session closed during recording")
	return errors.Join(stopErr, closeErr)
}

// Active reports whether a recording is in progress
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// GetStats returns capture statistics
func (s *Session) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Active:     s.active,
		Recordings: s.recordings,
		Failures:   s.failures,
		Buffer:     s.buffer.GetStats(),
	}
}

func (s *Session) releaseStream(stream Stream) {
	if err := stream.Close(); err != nil {
		s.logger.Warn("Failed to release capture device", slog.String("error", err.Error()))
	}
}

func (s *Session) recordFailure() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordCaptureFailure()
	}
}

func streamMimeType(stream Stream) string {
	if m := stream.MimeType(); m != "" {
		return m
	}
	return DefaultMimeType
}
