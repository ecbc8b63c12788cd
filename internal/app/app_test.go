package app

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/voice-chat-client/internal/audio"
	"github.com/skypro1111/voice-chat-client/internal/config"
	"github.com/skypro1111/voice-chat-client/internal/device"
	"github.com/skypro1111/voice-chat-client/internal/mockbackend"
	"github.com/skypro1111/voice-chat-client/internal/playback"
	"github.com/skypro1111/voice-chat-client/internal/voicechat"
)

type recordingSink struct {
	mu      sync.Mutex
	samples int
	closed  int
}

func (s *recordingSink) Write(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples += len(samples)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *recordingSink) written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

func writeWAV(t *testing.T) string {
	t.Helper()
	pcm := make([]byte, 8000*2)
	for i := range 8000 {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(i%512))
	}
	data, err := audio.EncodeWAV(pcm, 16000, 1)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "question.wav")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestVoiceExchangeEndToEnd(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := mockbackend.New(mockbackend.Config{Token: "tok", ToneDuration: 100 * time.Millisecond}, logger)
	ts := httptest.NewServer(backend.Handler())
	defer ts.Close()

	cfg := config.Default()
	cfg.Backend.BaseURL = ts.URL + "/api"
	cfg.Backend.Token = "tok"

	sink := &recordingSink{}
	var mu sync.Mutex
	var messages []voicechat.Message

	a, err := New(cfg, logger, Options{
		CaptureFile: writeWAV(t),
		SinkOpener:  func(int, int, int) (device.Sink, error) { return sink, nil },
		OnMessage: func(m voicechat.Message) {
			mu.Lock()
			defer mu.Unlock()
			messages = append(messages, m)
		},
	})
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = a.Conversation.Start(ctx)
	require.NoError(t, err)

	// the first keypress unlocks the speaker
	a.Gestures.Dispatch(playback.GestureKeyDown)

	_, err = a.Conversation.ToggleRecording(ctx)
	require.NoError(t, err)
	exchange, err := a.Conversation.ToggleRecording(ctx)
	require.NoError(t, err)
	require.NotNil(t, exchange)

	assert.Equal(t, "a 0.5 second voice message", exchange.UserMessage.Content)
	require.NotNil(t, exchange.AIMessage)
	assert.True(t, playback.IsObjectURL(exchange.AIMessage.AudioURL))
	assert.Empty(t, exchange.Warning)
	assert.Equal(t, 1, backend.VoiceRequests())

	require.NoError(t, a.WaitForPlayback(ctx))
	assert.GreaterOrEqual(t, sink.written(), 1600, "the whole reply tone reaches the device")
	assert.Eventually(t, func() bool { return a.Player.Store().Live() == 0 }, time.Second, 10*time.Millisecond,
		"the object URL is revoked once playback ends")

	mu.Lock()
	assert.Len(t, messages, 3)
	mu.Unlock()

	require.NoError(t, a.Close())
	assert.False(t, a.Conversation.Recording())
}

func TestPlaybackWaitsForGesture(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := mockbackend.New(mockbackend.Config{ToneDuration: 100 * time.Millisecond}, logger)
	ts := httptest.NewServer(backend.Handler())
	defer ts.Close()

	cfg := config.Default()
	cfg.Backend.BaseURL = ts.URL + "/api"

	sink := &recordingSink{}
	a, err := New(cfg, logger, Options{
		CaptureFile: writeWAV(t),
		SinkOpener:  func(int, int, int) (device.Sink, error) { return sink, nil },
	})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	_, err = a.Conversation.Start(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Conversation.StartRecording(ctx))
	exchange, err := a.Conversation.StopRecording(ctx)
	require.NoError(t, err)
	require.NotNil(t, exchange.AIMessage)

	assert.True(t, a.Player.HasPendingResume(), "autoplay is blocked until the first interaction")
	assert.Zero(t, sink.written())

	a.Gestures.Dispatch(playback.GestureClick)

	assert.False(t, a.Player.HasPendingResume())
	assert.Eventually(t, func() bool { return sink.written() >= 1600 }, 2*time.Second, 10*time.Millisecond)
}

// scriptedInput plays back frames, then blocks until stopped
type scriptedInput struct {
	mu      sync.Mutex
	frames  [][]int16
	stopped chan struct{}
	once    sync.Once
}

func (s *scriptedInput) Start() error { return nil }

func (s *scriptedInput) Read() ([]int16, error) {
	s.mu.Lock()
	if len(s.frames) > 0 {
		frame := s.frames[0]
		s.frames = s.frames[1:]
		s.mu.Unlock()
		return frame, nil
	}
	s.mu.Unlock()
	<-s.stopped
	return nil, io.EOF
}

func (s *scriptedInput) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *scriptedInput) Close() error { return s.Stop() }

func TestHandsFreeStopsAfterSilence(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := mockbackend.New(mockbackend.Config{ToneDuration: 50 * time.Millisecond}, logger)
	ts := httptest.NewServer(backend.Handler())
	defer ts.Close()

	cfg := config.Default()
	cfg.Backend.BaseURL = ts.URL + "/api"
	cfg.Capture.AutoStopSilence = 300
	cfg.Capture.MinSpeech = 100

	input := &scriptedInput{stopped: make(chan struct{})}
	for i := range 120 {
		frame := make([]int16, 160)
		if i < 40 {
			for j := range frame {
				frame[j] = 10000
				if j%2 == 1 {
					frame[j] = -10000
				}
			}
		}
		input.frames = append(input.frames, frame)
	}

	a, err := New(cfg, logger, Options{
		InputOpener: func(int, int, int) (device.InputStream, error) { return input, nil },
		SinkOpener:  func(int, int, int) (device.Sink, error) { return &recordingSink{}, nil },
	})
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Detector)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = a.Conversation.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Conversation.StartRecording(ctx))

	select {
	case <-a.AutoStop():
	case <-ctx.Done():
		t.Fatal("end of speech was not detected")
	}
	assert.True(t, a.Conversation.Recording())

	exchange, err := a.Conversation.StopRecording(ctx)
	require.NoError(t, err)
	require.NotNil(t, exchange)
	assert.NotEmpty(t, exchange.UserMessage.Content)
	assert.Equal(t, 1, backend.VoiceRequests())
	assert.False(t, a.Detector.Speaking(), "the detector is reset with the recording")
}

func TestHandsFreeDisabledForFiles(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.AutoStopSilence = 300

	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{CaptureFile: writeWAV(t)})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Detector)
}
