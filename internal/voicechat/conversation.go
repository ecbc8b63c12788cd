package voicechat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-chat-client/internal/capture"
	"github.com/skypro1111/voice-chat-client/internal/metrics"
	"github.com/skypro1111/voice-chat-client/internal/payload"
	"github.com/skypro1111/voice-chat-client/internal/transport"
)

const (
	// VoiceRecordingPlaceholder is shown for a voice message the backend did not transcribe
	VoiceRecordingPlaceholder = "[Voice Recording]"
	// DefaultWelcomeMessage opens every new conversation
	DefaultWelcomeMessage = "Welcome to the AI Voice Assistant. Click the microphone to begin."
	// DefaultAssistantName is the display name of AI messages
	DefaultAssistantName = "Omnifin AI"
	// DefaultUserName is the display name of user messages
	DefaultUserName = "You"
)

var (
	// ErrNotStarted is returned before Start has assigned a session
	ErrNotStarted = errors.New("voicechat: conversation not started")
	// ErrMessageNotFound is returned by Replay for an unknown message id
	ErrMessageNotFound = errors.New("voicechat: message not found")
	// ErrNoAudio is returned by Replay for a message without audio
	ErrNoAudio = errors.New("voicechat: message has no audio")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("voicechat: conversation closed")
)

// Sender identifies who wrote a message
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Message is one entry of the conversation transcript
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	AudioURL  string    `json:"audio_url,omitempty"`

	audio *payload.AudioPayload
}

// HasAudio reports whether the message can be replayed
func (m Message) HasAudio() bool {
	return m.AudioURL != "" || m.audio != nil
}

// Exchange is the outcome of one voice message round trip
type Exchange struct {
	Recording   *capture.Recording
	UserMessage Message
	AIMessage   *Message
	SessionID   string
	// Warning is set when the reply audio could not be played; the reply
	// text is still appended
	Warning string
}

// Recorder is the capture side of a conversation
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (*capture.Recording, error)
	Active() bool
	Close() error
}

// Backend is the subset of the transport client a conversation uses
type Backend interface {
	SendVoiceMessage(ctx context.Context, sessionID string, file transport.AudioFile, voiceID string) (*transport.VoiceExchangeResult, error)
	SendTextMessage(ctx context.Context, sessionID, message string, chatContext map[string]any) (*transport.ChatReply, error)
	CreateConversation(ctx context.Context, isVoiceChat bool) (*transport.Conversation, error)
	ConversationHistory(ctx context.Context, conversationID string) ([]transport.HistoryMessage, error)
}

// Player is the playback side of a conversation
type Player interface {
	PlayPayload(ctx context.Context, p *payload.AudioPayload) (string, error)
	TogglePlay(ctx context.Context, url string) error
	Source() string
	Close() error
}

// Config contains conversation settings
type Config struct {
	SessionID      string
	VoiceID        string
	UserName       string
	AssistantName  string
	WelcomeMessage string
}

// Options carries optional collaborators
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// OnMessage runs for every appended message, outside the conversation lock
	OnMessage func(Message)
}

// Stats is a snapshot for monitoring
type Stats struct {
	SessionID       string `json:"session_id"`
	Messages        int    `json:"messages"`
	Recording       bool   `json:"recording"`
	Exchanges       uint64 `json:"exchanges"`
	FailedExchanges uint64 `json:"failed_exchanges"`
	PlaybackIssues  uint64 `json:"playback_issues"`
}

// Conversation wires capture, transport and playback into a voice chat
// and keeps the in-memory transcript
type Conversation struct {
	config    Config
	recorder  Recorder
	backend   Backend
	player    Player
	logger    *slog.Logger
	metrics   *metrics.Metrics
	onMessage func(Message)

	sessionID string
	messages  []Message
	closed    bool

	exchanges       uint64
	failedExchanges uint64
	playbackIssues  uint64

	mu sync.RWMutex
}

// NewConversation creates a conversation. Start must be called before
// messages can be sent.
func NewConversation(config Config, recorder Recorder, backend Backend, player Player, opts Options) (*Conversation, error) {
	if recorder == nil {
		return nil, fmt.Errorf("recorder cannot be nil")
	}
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if player == nil {
		return nil, fmt.Errorf("player cannot be nil")
	}

	if config.VoiceID == "" {
		config.VoiceID = transport.DefaultVoiceID
	}
	if config.UserName == "" {
		config.UserName = DefaultUserName
	}
	if config.AssistantName == "" {
		config.AssistantName = DefaultAssistantName
	}
	if config.WelcomeMessage == "" {
		config.WelcomeMessage = DefaultWelcomeMessage
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Conversation{
		config:    config,
		recorder:  recorder,
		backend:   backend,
		player:    player,
		logger:    logger.With(slog.String("component", "conversation")),
		metrics:   opts.Metrics,
		onMessage: opts.OnMessage,
	}, nil
}

// Start reuses the configured session or opens a new one. A new session gets
// the welcome message. When the backend cannot create a conversation a local
// session id is used so that voice messages can still be sent.
func (c *Conversation) Start(ctx context.Context) (string, error) {
	c.mu.RLock()
	closed, current := c.closed, c.sessionID
	c.mu.RUnlock()
	if closed {
		return "", ErrClosed
	}
	if current != "" {
		return current, nil
	}

	if c.config.SessionID != "" {
		c.setSession(c.config.SessionID, nil)
		c.logger.Info("Reusing conversation session", slog.String("session_id", c.config.SessionID))
		return c.config.SessionID, nil
	}

	return c.NewChat(ctx)
}

// NewChat clears the transcript and opens a fresh session
func (c *Conversation) NewChat(ctx context.Context) (string, error) {
	sessionID, err := c.createSession(ctx)
	if err != nil {
		return "", err
	}

	welcome := c.newMessage(SenderAI, c.config.WelcomeMessage)
	c.setSession(sessionID, []Message{})
	c.append(welcome)

	c.logger.Info("Conversation started", slog.String("session_id", sessionID))
	return sessionID, nil
}

func (c *Conversation) createSession(ctx context.Context) (string, error) {
	conv, err := c.backend.CreateConversation(ctx, true)
	if err == nil {
		return conv.SessionID, nil
	}

	var terr *transport.TransportError
	if errors.As(err, &terr) && terr.IsUnauthorized() {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	sessionID := "voice_" + uuid.NewString()
	c.logger.Warn("Could not create conversation on the backend, using a local session",
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()),
	)
	return sessionID, nil
}

// LoadConversation replaces the transcript with a stored conversation
func (c *Conversation) LoadConversation(ctx context.Context, conversationID, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	history, err := c.backend.ConversationHistory(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	messages := make([]Message, 0, len(history))
	for _, h := range history {
		sender := Sender(h.Sender)
		msg := c.newMessage(sender, h.Content)
		if ts, err := time.Parse(time.RFC3339, h.CreatedAt); err == nil {
			msg.Timestamp = ts
		}
		if h.AudioURL != "" {
			msg.AudioURL = h.AudioURL
		}
		messages = append(messages, msg)
	}

	c.setSession(sessionID, messages)
	c.logger.Info("Conversation loaded",
		slog.String("session_id", sessionID),
		slog.Int("messages", len(messages)),
	)
	return nil
}

// StartRecording acquires the microphone
func (c *Conversation) StartRecording(ctx context.Context) error {
	if _, err := c.session(); err != nil {
		return err
	}
	return c.recorder.Start(ctx)
}

// StopRecording finalizes the recording and uploads it once. The microphone
// is released before the upload starts. On a transport failure nothing is
// appended and the error is returned. It returns (nil, nil) when no
// recording was active.
func (c *Conversation) StopRecording(ctx context.Context) (*Exchange, error) {
	sessionID, err := c.session()
	if err != nil {
		return nil, err
	}

	rec, err := c.recorder.Stop()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	result, err := c.backend.SendVoiceMessage(ctx, sessionID, transport.AudioFile{
		Filename:    rec.Filename,
		ContentType: rec.MimeType,
		Data:        rec.Data,
	}, c.config.VoiceID)
	if err != nil {
		c.mu.Lock()
		c.failedExchanges++
		c.mu.Unlock()

		var terr *transport.TransportError
		if errors.As(err, &terr) && terr.IsUnauthorized() {
			c.logger.Error("Backend rejected the token; sign in again", slog.String("error", err.Error()))
		} else {
			c.logger.Error("Failed to send voice message", slog.String("error", err.Error()))
		}
		return nil, err
	}

	exchange := &Exchange{Recording: rec, SessionID: sessionID}
	if result.SessionID != "" && result.SessionID != sessionID {
		c.setSessionID(result.SessionID)
		exchange.SessionID = result.SessionID
	}

	transcript := VoiceRecordingPlaceholder
	if result.TranscribedText != nil && *result.TranscribedText != "" {
		transcript = *result.TranscribedText
	}
	exchange.UserMessage = c.newMessage(SenderUser, transcript)
	c.append(exchange.UserMessage)

	if result.AIReplyText != nil && *result.AIReplyText != "" {
		aiMessage := c.newMessage(SenderAI, *result.AIReplyText)

		if result.AIReplyAudio != nil {
			url, err := c.player.PlayPayload(ctx, result.AIReplyAudio)
			if err != nil {
				exchange.Warning = fmt.Sprintf("reply audio could not be played: %v", err)
				c.mu.Lock()
				c.playbackIssues++
				c.mu.Unlock()
				c.logger.Warn("Reply audio could not be played",
					slog.String("payload", result.AIReplyAudio.String()),
					slog.String("error", err.Error()),
				)
			} else {
				aiMessage.AudioURL = url
				aiMessage.audio = result.AIReplyAudio
			}
		}

		c.append(aiMessage)
		exchange.AIMessage = &aiMessage
	}

	c.mu.Lock()
	c.exchanges++
	c.mu.Unlock()

	return exchange, nil
}

// ToggleRecording stops an active recording or starts a new one. It returns
// the exchange when a recording was stopped.
func (c *Conversation) ToggleRecording(ctx context.Context) (*Exchange, error) {
	if c.recorder.Active() {
		return c.StopRecording(ctx)
	}
	return nil, c.StartRecording(ctx)
}

// SendText appends a typed message and the AI reply. The user message stays
// in the transcript when the backend fails.
func (c *Conversation) SendText(ctx context.Context, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	sessionID, err := c.session()
	if err != nil {
		return nil, err
	}

	c.append(c.newMessage(SenderUser, text))

	reply, err := c.backend.SendTextMessage(ctx, sessionID, text, map[string]any{"voice_id": c.config.VoiceID})
	if err != nil {
		c.logger.Error("Failed to get AI response", slog.String("error", err.Error()))
		return nil, err
	}
	if reply.Response == "" {
		return nil, nil
	}

	aiMessage := c.newMessage(SenderAI, reply.Response)
	c.append(aiMessage)
	return &aiMessage, nil
}

// Replay plays a message's audio again, or toggles it when it is the
// current source
func (c *Conversation) Replay(ctx context.Context, messageID string) error {
	c.mu.RLock()
	idx := slices.IndexFunc(c.messages, func(m Message) bool { return m.ID == messageID })
	var msg Message
	if idx >= 0 {
		msg = c.messages[idx]
	}
	c.mu.RUnlock()

	if idx < 0 {
		return ErrMessageNotFound
	}
	if !msg.HasAudio() {
		return ErrNoAudio
	}

	if msg.AudioURL != "" && c.player.Source() == msg.AudioURL {
		return c.player.TogglePlay(ctx, msg.AudioURL)
	}

	// Object URLs do not outlive their playback; decode again
	if msg.audio != nil {
		url, err := c.player.PlayPayload(ctx, msg.audio)
		if err != nil {
			return err
		}
		c.mu.Lock()
		if idx < len(c.messages) && c.messages[idx].ID == messageID {
			c.messages[idx].AudioURL = url
		}
		c.mu.Unlock()
		return nil
	}

	return c.player.TogglePlay(ctx, msg.AudioURL)
}

// Messages returns a copy of the transcript
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.messages)
}

// SessionID returns the current session id, empty before Start
func (c *Conversation) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Recording reports whether the microphone is capturing
func (c *Conversation) Recording() bool {
	return c.recorder.Active()
}

// GetStats returns conversation statistics
func (c *Conversation) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		SessionID:       c.sessionID,
		Messages:        len(c.messages),
		Recording:       c.recorder.Active(),
		Exchanges:       c.exchanges,
		FailedExchanges: c.failedExchanges,
		PlaybackIssues:  c.playbackIssues,
	}
}

// Close releases the microphone and the audio output. It is safe to call
// more than once.
func (c *Conversation) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := errors.Join(c.recorder.Close(), c.player.Close())
	c.logger.Info("Conversation closed")
	return err
}

func (c *Conversation) session() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return "", ErrClosed
	}
	if c.sessionID == "" {
		return "", ErrNotStarted
	}
	return c.sessionID, nil
}

func (c *Conversation) setSession(sessionID string, messages []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	if messages != nil {
		c.messages = messages
	}
}

func (c *Conversation) setSessionID(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

func (c *Conversation) newMessage(sender Sender, content string) Message {
	user := c.config.UserName
	if sender == SenderAI {
		user = c.config.AssistantName
	}
	return Message{
		ID:        uuid.NewString(),
		Content:   content,
		Sender:    sender,
		Timestamp: time.Now(),
		User:      user,
	}
}

func (c *Conversation) append(msg Message) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordMessage(string(msg.Sender), msg.AudioURL != "")
	}
	if c.onMessage != nil {
		c.onMessage(msg)
	}
}
