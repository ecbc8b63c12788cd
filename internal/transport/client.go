package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/skypro1111/voice-chat-client/internal/metrics"
	"github.com/skypro1111/voice-chat-client/internal/payload"
)

// DefaultVoiceID is sent when the caller does not choose a voice
const DefaultVoiceID = "default"

var (
	// ErrEmptySessionID is returned when a request needs a conversation session
	ErrEmptySessionID = errors.New("transport: session id cannot be empty")
	// ErrEmptyAudio is returned when the recording carries no data
	ErrEmptyAudio = errors.New("transport: audio file is empty")
	// ErrMissingContentType is returned when the recording has no content type
	ErrMissingContentType = errors.New("transport: audio file has no content type")
)

// Config contains backend client configuration
type Config struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	UserAgent string
	// HTTPClient overrides the default client, mostly for tests
	HTTPClient *http.Client
}

// Client talks to the voice chat REST backend
type Client struct {
	config     Config
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// AudioFile is the recording sent as the audio_file part
type AudioFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// VoiceExchangeResult is the backend reply to a voice message.
// Fields the backend omitted or sent as null are nil.
type VoiceExchangeResult struct {
	TranscribedText *string
	AIReplyText     *string
	AIReplyAudio    *payload.AudioPayload
	SessionID       string
}

// ChatReply is the backend reply to a text message
type ChatReply struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// Conversation is a conversation record as stored by the backend
type Conversation struct {
	ID          json.Number      `json:"id"`
	SessionID   string           `json:"session_id"`
	IsVoiceChat bool             `json:"is_voice_chat"`
	Status      string           `json:"status"`
	StartedAt   string           `json:"started_at"`
	EndedAt     string           `json:"ended_at,omitempty"`
	Messages    []HistoryMessage `json:"messages,omitempty"`
}

// HistoryMessage is a stored conversation message
type HistoryMessage struct {
	ID          json.Number `json:"id"`
	Sender      string      `json:"sender"`
	MessageType string      `json:"message_type"`
	Content     string      `json:"content"`
	AudioURL    string      `json:"audio_url,omitempty"`
	CreatedAt   string      `json:"created_at"`
}

// Voice is a selectable TTS voice
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Language    string `json:"language,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Description string `json:"description,omitempty"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// NewClient creates a new backend HTTP client
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.UserAgent == "" {
		config.UserAgent = "voice-chat-client/1.0"
	}

	if logger == nil {
		logger = slog.Default()
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Client{
		config:     config,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "transport")),
		metrics:    m,
	}, nil
}

// BaseURL returns the normalized backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the token sent in the Authorization header
func (c *Client) Token() string {
	return c.config.Token
}

// SendVoiceMessage uploads one recording as a single multipart request.
// It is not retried; any failure is returned as *TransportError.
func (c *Client) SendVoiceMessage(ctx context.Context, sessionID string, file AudioFile, voiceID string) (*VoiceExchangeResult, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if len(file.Data) == 0 {
		return nil, ErrEmptyAudio
	}
	if file.ContentType == "" {
		return nil, ErrMissingContentType
	}
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}

	body, contentType, err := createVoiceForm(sessionID, file, voiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordUploadRequest()
	}

	startTime := time.Now()
	respBody, err := c.do(ctx, "voice upload", http.MethodPost, "/ai/voice/", body, contentType)
	elapsed := time.Since(startTime)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordUploadFailure(statusLabel(err), elapsed.Seconds())
		}
		c.logger.Warn("Voice upload failed",
			slog.String("session_id", sessionID),
			slog.Int("bytes", len(file.Data)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.RecordUploadSuccess(elapsed.Seconds())
	}

	result, err := parseVoiceResult(respBody)
	if err != nil {
		return nil, &TransportError{Op: "voice upload", Message: "invalid response body", Err: err}
	}
	if result.SessionID == "" {
		result.SessionID = sessionID
	}

	c.logger.Debug("Voice upload completed",
		slog.String("session_id", result.SessionID),
		slog.Duration("elapsed", elapsed),
		slog.Bool("has_transcript", result.TranscribedText != nil),
		slog.Bool("has_reply", result.AIReplyText != nil),
		slog.Bool("has_audio", result.AIReplyAudio != nil),
	)

	return result, nil
}

// createVoiceForm builds the multipart body: audio_file, session_id, context, voice_id
func createVoiceForm(sessionID string, file AudioFile, voiceID string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := file.Filename
	if filename == "" {
		filename = "recording"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", multipart.FileContentDisposition("audio_file", filename))
	header.Set("Content-Type", file.ContentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	voiceContext, err := json.Marshal(map[string]string{"voice_id": voiceID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode context: %w", err)
	}

	fields := []struct{ key, value string }{
		{"session_id", sessionID},
		{"context", string(voiceContext)},
		{"voice_id", voiceID},
	}
	for _, field := range fields {
		if err := writer.WriteField(field.key, field.value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", field.key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// parseVoiceResult reads the reply fields by their known aliases
func parseVoiceResult(body []byte) (*VoiceExchangeResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("response is not a JSON object")
	}

	result := &VoiceExchangeResult{
		TranscribedText: optionalString(parsed, "text", "transcript"),
		AIReplyText:     optionalString(parsed, "response"),
		SessionID:       parsed.Get("session_id").String(),
	}

	for _, key := range []string{"audio", "audio_response"} {
		value := parsed.Get(key)
		if isEmptyValue(value) {
			continue
		}
		result.AIReplyAudio = payload.FromJSON(value)
		break
	}

	return result, nil
}

func optionalString(parsed gjson.Result, keys ...string) *string {
	for _, key := range keys {
		value := parsed.Get(key)
		if !value.Exists() || value.Type == gjson.Null {
			continue
		}
		s := value.String()
		return &s
	}
	return nil
}

// isEmptyValue mirrors a falsy check: missing, null and "" fall through to the next alias
func isEmptyValue(value gjson.Result) bool {
	if !value.Exists() || value.Type == gjson.Null {
		return true
	}
	return value.Type == gjson.String && value.String() == ""
}

// SendTextMessage posts a typed message to the chat endpoint
func (c *Client) SendTextMessage(ctx context.Context, sessionID, message string, chatContext map[string]any) (*ChatReply, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("transport: message cannot be empty")
	}
	if chatContext == nil {
		chatContext = map[string]any{}
	}

	var reply ChatReply
	err := c.doJSON(ctx, "chat", http.MethodPost, "/ai/chat/", map[string]any{
		"session_id": sessionID,
		"message":    message,
		"context":    chatContext,
	}, &reply)
	if err != nil {
		return nil, err
	}
	if reply.SessionID == "" {
		reply.SessionID = sessionID
	}
	return &reply, nil
}

// CreateConversation asks the backend to open a voice conversation and
// returns the record with its session id
func (c *Client) CreateConversation(ctx context.Context, isVoiceChat bool) (*Conversation, error) {
	var conv Conversation
	err := c.doJSON(ctx, "create conversation", http.MethodPost, "/ai/conversations/create/", map[string]any{
		"application":   nil,
		"is_voice_chat": isVoiceChat,
	}, &conv)
	if err != nil {
		return nil, err
	}
	if conv.SessionID == "" {
		return nil, &TransportError{Op: "create conversation", Message: "response has no session_id"}
	}
	return &conv, nil
}

// ConversationHistory returns the stored messages of a conversation
func (c *Client) ConversationHistory(ctx context.Context, conversationID string) ([]HistoryMessage, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("transport: conversation id cannot be empty")
	}
	var messages []HistoryMessage
	path := fmt.Sprintf("/ai/conversations/history/%s/", conversationID)
	if err := c.doJSON(ctx, "conversation history", http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// EndConversation marks a conversation completed
func (c *Client) EndConversation(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("transport: conversation id cannot be empty")
	}
	path := fmt.Sprintf("/ai/conversations/%s/end/", conversationID)
	return c.doJSON(ctx, "end conversation", http.MethodPost, path, map[string]any{}, nil)
}

// ListVoices returns the voices the backend can synthesize
func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	body, err := c.do(ctx, "list voices", http.MethodGet, "/voice/voices/", nil, "")
	if err != nil {
		return nil, err
	}

	// Either a bare array or {"voices": [...]}
	list := gjson.ParseBytes(body)
	if list.IsObject() {
		list = list.Get("voices")
	}
	if !list.IsArray() {
		return nil, &TransportError{Op: "list voices", Message: "response has no voice list"}
	}

	var voices []Voice
	if err := json.Unmarshal([]byte(list.Raw), &voices); err != nil {
		return nil, &TransportError{Op: "list voices", Message: "invalid voice list", Err: err}
	}
	return voices, nil
}

// TestVoice asks the backend to synthesize a sample sentence with a voice.
// The returned payload decodes like any reply audio.
func (c *Client) TestVoice(ctx context.Context, voiceID, text string) (*payload.AudioPayload, error) {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	body, err := json.Marshal(map[string]string{"voice_id": voiceID, "text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	respBody, err := c.do(ctx, "test voice", http.MethodPost, "/voice/test/", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(respBody)
	for _, key := range []string{"audio", "audio_response", "audio_url"} {
		if value := parsed.Get(key); !isEmptyValue(value) {
			return payload.FromJSON(value), nil
		}
	}
	return nil, &TransportError{Op: "test voice", Message: "response has no audio"}
}

// VoiceHistory returns the caller's past voice exchanges as stored by the
// backend. Entries are returned as loosely typed records.
func (c *Client) VoiceHistory(ctx context.Context) ([]map[string]any, error) {
	var entries []map[string]any
	if err := c.doJSON(ctx, "voice history", http.MethodGet, "/voice/history/", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// doJSON sends an optional JSON body and decodes an optional JSON reply into out
func (c *Client) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	respBody, err := c.do(ctx, op, method, path, body, contentType)
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &TransportError{Op: op, Message: "invalid response body", Err: err}
	}
	return nil
}

// do performs a single HTTP request and returns the body of a 2xx response
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) ([]byte, error) {
	startTime := time.Now()
	c.incrementTotalRequests()

	respBody, err := c.doRequest(ctx, op, method, path, body, contentType)
	if err != nil {
		c.incrementFailedRequests()
		return nil, err
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))
	return respBody, nil
}

func (c *Client) doRequest(ctx context.Context, op, method, path string, body io.Reader, contentType string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &TransportError{Op: op, Message: "failed to create HTTP request", Err: err}
	}

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if c.config.Token != "" {
		httpReq.Header.Set("Authorization", "Token "+c.config.Token)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: op, Message: "HTTP request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Message: "failed to read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, respBody)}
	}

	return respBody, nil
}

// errorMessage picks the most useful message from an error body
func errorMessage(statusCode int, body []byte) string {
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		for _, key := range []string{"error", "detail", "message"} {
			if value := parsed.Get(key); value.Exists() && value.String() != "" {
				return value.String()
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		if len(text) > 200 {
			text = text[:200]
		}
		return text
	}
	return http.StatusText(statusCode)
}

func statusLabel(err error) string {
	var terr *TransportError
	if errors.As(err, &terr) {
		return strconv.Itoa(terr.StatusCode)
	}
	return "0"
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
	}
}
