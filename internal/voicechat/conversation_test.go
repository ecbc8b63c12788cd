package voicechat

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/voice-chat-client/internal/capture"
	"github.com/skypro1111/voice-chat-client/internal/metrics"
	"github.com/skypro1111/voice-chat-client/internal/payload"
	"github.com/skypro1111/voice-chat-client/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRecorder struct {
	mu       sync.Mutex
	active   bool
	starts   int
	stops    int
	closed   int
	startErr error
}

func (r *fakeRecorder) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.active = true
	r.starts++
	return nil
}

func (r *fakeRecorder) Stop() (*capture.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil, nil
	}
	r.active = false
	r.stops++
	return &capture.Recording{
		ID:       "rec-1",
		MimeType: "audio/webm",
		Filename: "recording.webm",
		Data:     []byte("webm-bytes"),
	}, nil
}

func (r *fakeRecorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *fakeRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.closed++
	return nil
}

type fakePlayer struct {
	mu      sync.Mutex
	source  string
	played  []*payload.AudioPayload
	toggled []string
	playErr error
	closed  int
	next    int
}

func (p *fakePlayer) PlayPayload(_ context.Context, ap *payload.AudioPayload) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return "", p.playErr
	}
	decoded, err := payload.Decode(ap, payload.DefaultDecodeOptions())
	if err != nil {
		return "", err
	}
	p.played = append(p.played, ap)
	url := decoded.URL
	if decoded.NeedsObjectURL() {
		p.next++
		url = "blob:test/" + string(rune('0'+p.next))
	}
	p.source = url
	return url, nil
}

func (p *fakePlayer) TogglePlay(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toggled = append(p.toggled, url)
	p.source = url
	return nil
}

func (p *fakePlayer) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

func (p *fakePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

type backend struct {
	voiceCalls  atomic.Int32
	createCalls atomic.Int32
	voiceStatus int
	voiceBody   string
	createFails bool
	lastSession atomic.Value
}

func (b *backend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ai/conversations/create/", func(w http.ResponseWriter, r *http.Request) {
		b.createCalls.Add(1)
		if b.createFails {
			http.Error(w, `{"error":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id": 7, "session_id": "sess-backend", "is_voice_chat": true}`)
	})
	mux.HandleFunc("/ai/voice/", func(w http.ResponseWriter, r *http.Request) {
		b.voiceCalls.Add(1)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		b.lastSession.Store(r.FormValue("session_id"))
		if b.voiceStatus != 0 {
			w.WriteHeader(b.voiceStatus)
		}
		_, _ = io.WriteString(w, b.voiceBody)
	})
	mux.HandleFunc("/ai/chat/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"response": "Typed reply", "session_id": "sess-backend"}`)
	})
	mux.HandleFunc("/ai/conversations/history/7/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"id": 1, "sender": "user", "content": "hi", "created_at": "2025-01-02T03:04:05Z"},
			{"id": 2, "sender": "ai", "content": "hello", "audio_url": "/media/a.mp3"}
		]`)
	})
	return mux
}

type fixture struct {
	conv     *Conversation
	recorder *fakeRecorder
	player   *fakePlayer
	backend  *backend
	metrics  *metrics.Metrics
	messages []Message
}

func newFixture(t *testing.T, b *backend, config Config) *fixture {
	t.Helper()
	server := httptest.NewServer(b.handler(t))
	t.Cleanup(server.Close)

	m := metrics.NewMetrics()
	client, err := transport.NewClient(transport.Config{BaseURL: server.URL, Token: "tok"}, testLogger(), m)
	require.NoError(t, err)

	f := &fixture{recorder: &fakeRecorder{}, player: &fakePlayer{}, backend: b, metrics: m}
	var mu sync.Mutex
	f.conv, err = NewConversation(config, f.recorder, client, f.player, Options{
		Logger:  testLogger(),
		Metrics: m,
		OnMessage: func(msg Message) {
			mu.Lock()
			defer mu.Unlock()
			f.messages = append(f.messages, msg)
		},
	})
	require.NoError(t, err)
	return f
}

func audioBase64() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat("mp3-frame", 20)))
}

func TestStartCreatesSessionAndWelcomes(t *testing.T) {
	f := newFixture(t, &backend{}, Config{})

	sessionID, err := f.conv.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-backend", sessionID)

	messages := f.conv.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, SenderAI, messages[0].Sender)
	assert.Equal(t, DefaultWelcomeMessage, messages[0].Content)
	assert.Equal(t, DefaultAssistantName, messages[0].User)

	// a second Start keeps the session
	again, err := f.conv.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sessionID, again)
	assert.EqualValues(t, 1, f.backend.createCalls.Load())
}

func TestStartReusesConfiguredSession(t *testing.T) {
	f := newFixture(t, &backend{}, Config{SessionID: "existing"})

	sessionID, err := f.conv.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "existing", sessionID)
	assert.Empty(t, f.conv.Messages())
	assert.EqualValues(t, 0, f.backend.createCalls.Load())
}

func TestStartFallsBackToLocalSession(t *testing.T) {
	f := newFixture(t, &backend{createFails: true}, Config{})

	sessionID, err := f.conv.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sessionID, "voice_"))
	assert.Len(t, f.conv.Messages(), 1)
}

func TestOperationsRequireStart(t *testing.T) {
	f := newFixture(t, &backend{}, Config{})

	assert.ErrorIs(t, f.conv.StartRecording(context.Background()), ErrNotStarted)
	_, err := f.conv.SendText(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestVoiceExchangeAppendsTranscriptAndPlaysReply(t *testing.T) {
	b := &backend{voiceBody: `{"text": "hello", "response": "Hi there!", "audio_response": "` + audioBase64() + `", "session_id": "sess-backend"}`}
	f := newFixture(t, b, Config{})
	_, err := f.conv.Start(context.Background())
	require.NoError(t, err)

	_, err = f.conv.ToggleRecording(context.Background())
	require.NoError(t, err)
	assert.True(t, f.conv.Recording())

	exchange, err := f.conv.ToggleRecording(context.Background())
	require.NoError(t, err)
	require.NotNil(t, exchange)

	assert.False(t, f.conv.Recording(), "microphone is released")
	assert.EqualValues(t, 1, b.voiceCalls.Load(), "exactly one upload per recording")
	assert.Equal(t, "sess-backend", b.lastSession.Load())

	assert.Equal(t, "hello", exchange.UserMessage.Content)
	assert.Equal(t, SenderUser, exchange.UserMessage.Sender)
	assert.Equal(t, DefaultUserName, exchange.UserMessage.User)
	require.NotNil(t, exchange.AIMessage)
	assert.Equal(t, "Hi there!", exchange.AIMessage.Content)
	assert.Equal(t, "blob:test/1", exchange.AIMessage.AudioURL)
	assert.Empty(t, exchange.Warning)

	messages := f.conv.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, "hello", messages[1].Content)
	assert.Equal(t, "Hi there!", messages[2].Content)
	assert.Len(t, f.player.played, 1)
	assert.Len(t, f.messages, 3, "every appended message is reported")

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Messages.WithLabelValues("ai", "true")))
}

func TestVoiceExchangeWithoutTranscript(t *testing.T) {
	b := &backend{voiceBody: `{"response": "Sure"}`}
	f := newFixture(t, b, Config{})
	_, err := f.conv.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.conv.StartRecording(context.Background()))
	exchange, err := f.conv.StopRecording(context.Background())
	require.NoError(t, err)

	assert.Equal(t, VoiceRecordingPlaceholder, exchange.UserMessage.Content)
	require.NotNil(t, exchange.AIMessage)
	assert.Empty(t, exchange.AIMessage.AudioURL, "text-only reply")
	assert.Empty(t, f.player.played)
}

func TestVoiceExchangeWithUndecodableAudioKeepsText(t *testing.T) {
	b := &backend{voiceBody: `{"text": "q", "response": "A", "audio": "not audio at all!!!!"}`}
	f := newFixture(t, b, Config{})
	_, err := f.conv.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.conv.StartRecording(context.Background()))
	exchange, err := f.conv.StopRecording(context.Background())
	require.NoError(t, err)

	require.NotNil(t, exchange.AIMessage)
	assert.Equal(t, "A", exchange.AIMessage.Content)
	assert.Empty(t, exchange.AIMessage.AudioURL)
	assert.NotEmpty(t, exchange.Warning)
	assert.Len(t, f.conv.Messages(), 3)
	assert.EqualValues(t, 1, f.conv.GetStats().PlaybackIssues)
}

func TestVoiceExchangeFailureAppendsNothing(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusUnauthorized} {
		b := &backend{voiceStatus: status, voiceBody: `{"error": "boom"}`}
		f := newFixture(t, b, Config{})
		_, err := f.conv.Start(context.Background())
		require.NoError(t, err)

		require.NoError(t, f.conv.StartRecording(context.Background()))
		exchange, err := f.conv.StopRecording(context.Background())
		require.Error(t, err)
		assert.Nil(t, exchange)

		var terr *transport.TransportError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, status, terr.StatusCode)

		assert.False(t, f.conv.Recording(), "microphone is released on failure")
		assert.Len(t, f.conv.Messages(), 1, "only the welcome message")
		assert.EqualValues(t, 1, f.conv.GetStats().FailedExchanges)
	}
}

func TestStopWithoutRecordingIsNoop(t *testing.T) {
	b := &backend{voiceBody: `{}`}
	f := newFixture(t, b, Config{})
	_, err := f.conv.Start(context.Background())
	require.NoError(t, err)

	exchange, err := f.conv.StopRecording(context.Background())
	require.NoError(t, err)
	assert.Nil(t, exchange)
	assert.EqualValues(t, 0, b.voiceCalls.Load())
}

func TestSendText(t *testing.T) {
	f := newFixture(t, &backend{}, Config{})
	_, err := f.conv.Start(context.Background())
	require.NoError(t, err)

	reply, err := f.conv.SendText(context.Background(), "  how are you?  ")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "Typed reply", reply.Content)

	messages := f.conv.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, "how are you?", messages[1].Content)
	assert.Equal(t, SenderUser, messages[1].Sender)

	reply, err = f.conv.SendText(context.Background(), "   ")
	assert.NoError(t, err)
	assert.Nil(t, reply)
	assert.Len(t, f.conv.Messages(), 3)
}

func TestReplay(t *testing.T) {
	b := &backend{voiceBody: `{"text": "q", "response": "A", "audio": "` + audioBase64() + `"}`}
	f := newFixture(t, b, Config{})
	_, err := f.conv.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.conv.StartRecording(context.Background()))
	exchange, err := f.conv.StopRecording(context.Background())
	require.NoError(t, err)
	id := exchange.AIMessage.ID

	// current source toggles
	require.NoError(t, f.conv.Replay(context.Background(), id))
	assert.Equal(t, []string{"blob:test/1"}, f.player.toggled)

	// another source took over: the payload is decoded again
	f.player.mu.Lock()
	f.player.source = "https://cdn.example.com/other.mp3"
	f.player.mu.Unlock()

	require.NoError(t, f.conv.Replay(context.Background(), id))
	assert.Len(t, f.player.played, 2)
	messages := f.conv.Messages()
	assert.Equal(t, "blob:test/2", messages[len(messages)-1].AudioURL)

	assert.ErrorIs(t, f.conv.Replay(context.Background(), "missing"), ErrMessageNotFound)
	assert.ErrorIs(t, f.conv.Replay(context.Background(), exchange.UserMessage.ID), ErrNoAudio)
}

func TestLoadConversation(t *testing.T) {
	f := newFixture(t, &backend{}, Config{})

	require.NoError(t, f.conv.LoadConversation(context.Background(), "7", "sess-old"))
	assert.Equal(t, "sess-old", f.conv.SessionID())

	messages := f.conv.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, SenderUser, messages[0].Sender)
	assert.Equal(t, 2025, messages[0].Timestamp.Year())
	assert.Equal(t, "/media/a.mp3", messages[1].AudioURL)

	require.NoError(t, f.conv.Replay(context.Background(), messages[1].ID))
	assert.Equal(t, []string{"/media/a.mp3"}, f.player.toggled)
}

func TestNewChatClearsHistory(t *testing.T) {
	f := newFixture(t, &backend{}, Config{})
	_, err := f.conv.Start(context.Background())
	require.NoError(t, err)
	_, err = f.conv.SendText(context.Background(), "hello")
	require.NoError(t, err)

	_, err = f.conv.NewChat(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.conv.Messages(), 1)
	assert.EqualValues(t, 2, f.backend.createCalls.Load())
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newFixture(t, &backend{}, Config{})
	_, err := f.conv.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.conv.StartRecording(context.Background()))

	require.NoError(t, f.conv.Close())
	require.NoError(t, f.conv.Close())

	assert.Equal(t, 1, f.recorder.closed)
	assert.Equal(t, 1, f.player.closed)
	assert.False(t, f.conv.Recording())
	assert.ErrorIs(t, f.conv.StartRecording(context.Background()), ErrClosed)
}

func TestNewConversationValidation(t *testing.T) {
	_, err := NewConversation(Config{}, nil, nil, nil, Options{})
	assert.Error(t, err)
}
