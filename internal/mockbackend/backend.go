// Package mockbackend is an in-memory stand-in for the voice chat REST API,
// used for local development and integration tests.
package mockbackend

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skypro1111/voice-chat-client/internal/audio"
	"github.com/skypro1111/voice-chat-client/internal/transport"
)

const (
	toneSampleRate = 16000
	toneFrequency  = 440
)

type storedMessage struct {
	ID          int       `json:"id"`
	Sender      string    `json:"sender"`
	MessageType string    `json:"message_type"`
	Content     string    `json:"content"`
	AudioURL    string    `json:"audio_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type conversation struct {
	ID          int             `json:"id"`
	SessionID   string          `json:"session_id"`
	IsVoiceChat bool            `json:"is_voice_chat"`
	Status      string          `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     *time.Time      `json:"ended_at"`
	Messages    []storedMessage `json:"-"`
}

// Config contains mock backend settings
type Config struct {
	// Token, when set, must be presented as "Authorization: Token <token>"
	Token string
	// Latency is added to every voice and chat request
	Latency time.Duration
	// ToneDuration is the length of the synthesized reply audio
	ToneDuration time.Duration
}

// Backend serves the voice chat REST API from memory
type Backend struct {
	config   Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	conversations map[string]*conversation
	nextID        int
	nextMessageID int
	voiceRequests int

	mu sync.Mutex
}

// New creates a mock backend
func New(config Config, logger *slog.Logger) *Backend {
	if config.ToneDuration <= 0 {
		config.ToneDuration = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		config:        config,
		logger:        logger.With(slog.String("component", "mockbackend")),
		conversations: make(map[string]*conversation),
	}
}

// Handler returns the routed API rooted at /api
func (b *Backend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ai/voice/{$}", b.auth(b.handleVoice))
	mux.HandleFunc("POST /api/ai/chat/{$}", b.auth(b.handleChat))
	mux.HandleFunc("POST /api/ai/conversations/create/{$}", b.auth(b.handleCreate))
	mux.HandleFunc("GET /api/ai/conversations/history/{id}/{$}", b.auth(b.handleHistory))
	mux.HandleFunc("POST /api/ai/conversations/{id}/end/{$}", b.auth(b.handleEnd))
	mux.HandleFunc("GET /api/voice/voices/{$}", b.auth(b.handleVoices))
	mux.HandleFunc("POST /api/voice/test/{$}", b.auth(b.handleTestVoice))
	mux.HandleFunc("GET /api/voice/history/{$}", b.auth(b.handleVoiceHistory))
	mux.HandleFunc("GET /api/voice/stream/{$}", b.handleStream)
	return mux
}

// VoiceRequests returns the number of voice messages received
func (b *Backend) VoiceRequests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.voiceRequests
}

func (b *Backend) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if b.config.Token != "" && r.Header.Get("Authorization") != "Token "+b.config.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Invalid token."})
			return
		}
		next(w, r)
	}
}

func (b *Backend) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Error parsing form"})
		return
	}

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "audio_file is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Error reading audio file"})
		return
	}

	sessionID := r.FormValue("session_id")
	voiceID := r.FormValue("voice_id")
	contentType := header.Header.Get("Content-Type")

	b.logger.Info("Voice message received",
		slog.String("session_id", sessionID),
		slog.String("voice_id", voiceID),
		slog.String("filename", header.Filename),
		slog.String("content_type", contentType),
		slog.Int("bytes", len(data)),
	)

	b.sleep()

	transcript := describeRecording(data, contentType)
	reply := fmt.Sprintf("You said: %s", transcript)

	b.mu.Lock()
	b.voiceRequests++
	conv := b.conversationLocked(sessionID, true)
	b.appendLocked(conv, "user", "voice", transcript, "")
	b.appendLocked(conv, "ai", "voice", reply, "")
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"text":           transcript,
		"response":       reply,
		"audio_response": base64.StdEncoding.EncodeToString(b.tone()),
		"session_id":     conv.SessionID,
	})
}

func (b *Backend) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "message is required"})
		return
	}

	b.sleep()

	reply := fmt.Sprintf("You wrote: %s", req.Message)

	b.mu.Lock()
	conv := b.conversationLocked(req.SessionID, false)
	b.appendLocked(conv, "user", "text", req.Message, "")
	b.appendLocked(conv, "ai", "text", reply, "")
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"response":   reply,
		"session_id": conv.SessionID,
	})
}

func (b *Backend) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsVoiceChat bool `json:"is_voice_chat"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	conv := b.conversationLocked("", req.IsVoiceChat)
	b.mu.Unlock()

	b.logger.Info("Conversation created", slog.String("session_id", conv.SessionID))
	writeJSON(w, http.StatusCreated, conv)
}

func (b *Backend) handleHistory(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conv := b.findLocked(r.PathValue("id"))
	if conv == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, conv.Messages)
}

func (b *Backend) handleEnd(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conv := b.findLocked(r.PathValue("id"))
	if conv == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
		return
	}
	now := time.Now().UTC()
	conv.Status = "completed"
	conv.EndedAt = &now
	writeJSON(w, http.StatusOK, map[string]any{"status": conv.Status})
}

func (b *Backend) handleVoices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]any{
		{"id": "default", "name": "Default", "language": "en", "gender": "neutral", "description": "Built-in test tone"},
		{"id": "uk-female", "name": "Oksana", "language": "uk", "gender": "female"},
	})
}

func (b *Backend) handleTestVoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VoiceID string `json:"voice_id"`
		Text    string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VoiceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "voice_id is required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"voice_id": req.VoiceID,
		"audio":    base64.StdEncoding.EncodeToString(b.tone()),
	})
}

func (b *Backend) handleVoiceHistory(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	history := []map[string]any{}
	for _, conv := range b.conversations {
		if !conv.IsVoiceChat {
			continue
		}
		history = append(history, map[string]any{
			"session_id": conv.SessionID,
			"messages":   len(conv.Messages),
			"started_at": conv.StartedAt,
		})
	}
	writeJSON(w, http.StatusOK, history)
}

// handleStream acknowledges every binary frame with a JSON event and
// answers an end_of_audio control message with the final byte count
func (b *Backend) handleStream(w http.ResponseWriter, r *http.Request) {
	if b.config.Token != "" && r.URL.Query().Get("token") != b.config.Token {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Stream upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sessionID := r.URL.Query().Get("session")
	var received int
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		event := map[string]any{"session_id": sessionID}
		switch messageType {
		case websocket.BinaryMessage:
			received += len(data)
			event["type"] = "audio_received"
		case websocket.TextMessage:
			var control struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &control) != nil || control.Type != transport.StreamEndOfAudio {
				continue
			}
			event["type"] = transport.StreamComplete
		default:
			continue
		}
		event["bytes"] = received
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

func (b *Backend) sleep() {
	if b.config.Latency > 0 {
		time.Sleep(b.config.Latency)
	}
}

// conversationLocked returns the conversation for sessionID, creating it when
// unknown or empty
func (b *Backend) conversationLocked(sessionID string, voice bool) *conversation {
	if conv, ok := b.conversations[sessionID]; ok {
		return conv
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	b.nextID++
	conv := &conversation{
		ID:          b.nextID,
		SessionID:   sessionID,
		IsVoiceChat: voice,
		Status:      "active",
		StartedAt:   time.Now().UTC(),
		Messages:    []storedMessage{},
	}
	b.conversations[sessionID] = conv
	return conv
}

func (b *Backend) findLocked(id string) *conversation {
	for _, conv := range b.conversations {
		if fmt.Sprint(conv.ID) == id || conv.SessionID == id {
			return conv
		}
	}
	return nil
}

func (b *Backend) appendLocked(conv *conversation, sender, messageType, content, audioURL string) {
	b.nextMessageID++
	conv.Messages = append(conv.Messages, storedMessage{
		ID:          b.nextMessageID,
		Sender:      sender,
		MessageType: messageType,
		Content:     content,
		AudioURL:    audioURL,
		CreatedAt:   time.Now().UTC(),
	})
}

// tone synthesizes a sine beep as WAV
func (b *Backend) tone() []byte {
	samples := int(b.config.ToneDuration.Seconds() * toneSampleRate)
	pcm := make([]byte, samples*2)
	for i := range samples {
		v := 0.3 * math.Sin(2*math.Pi*toneFrequency*float64(i)/toneSampleRate)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	data, err := audio.EncodeWAV(pcm, toneSampleRate, 1)
	if err != nil {
		b.logger.Error("Failed to encode reply tone", slog.String("error", err.Error()))
		return nil
	}
	return data
}

// describeRecording stands in for speech recognition
func describeRecording(data []byte, contentType string) string {
	if audio.IsWAV(data) {
		if pcm, err := audio.DecodeWAV(data); err == nil {
			return fmt.Sprintf("a %.1f second voice message", pcm.Duration())
		}
	}
	return fmt.Sprintf("a %d byte %s recording", len(data), audio.BaseMimeType(contentType))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
