package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Control messages and events that frame an audio stream
const (
	StreamEndOfAudio = "end_of_audio"
	StreamComplete   = "stream_complete"
)

// StreamEvent is one JSON message pushed by the voice stream endpoint
type StreamEvent struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// StreamClient is a websocket connection to the real-time voice endpoint
type StreamClient struct {
	conn   *websocket.Conn
	logger *slog.Logger
	events chan StreamEvent

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// StreamURL derives the websocket endpoint from the REST base URL:
// http becomes ws, https becomes wss, and token and session go in the query.
func StreamURL(baseURL, token, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/voice/stream/")
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}

	params := url.Values{}
	if token != "" {
		params.Set("token", token)
	}
	if sessionID != "" {
		params.Set("session", sessionID)
	}
	u.RawQuery = params.Encode()

	return u.String(), nil
}

// DialStream opens the voice stream for a session and starts reading events
func (c *Client) DialStream(ctx context.Context, sessionID string) (*StreamClient, error) {
	wsURL, err := StreamURL(c.baseURL, c.config.Token, sessionID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("User-Agent", c.config.UserAgent)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = c.config.Timeout

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		return nil, &TransportError{Op: "voice stream", StatusCode: statusCode, Message: "websocket dial failed", Err: err}
	}

	stream := &StreamClient{
		conn:   conn,
		logger: c.logger.With(slog.String("session_id", sessionID)),
		events: make(chan StreamEvent, 16),
		done:   make(chan struct{}),
	}

	stream.logger.Info("Voice stream connected")
	go stream.readLoop()

	return stream, nil
}

// SendAudio sends one audio fragment as a binary frame
func (s *StreamClient) SendAudio(fragment []byte) error {
	if len(fragment) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, fragment); err != nil {
		return fmt.Errorf("failed to send audio fragment: %w", err)
	}
	return nil
}

// SendJSON sends a control message as a text frame
func (s *StreamClient) SendJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to send control message: %w", err)
	}
	return nil
}

// Events returns decoded server messages. The channel is closed when the
// connection ends.
func (s *StreamClient) Events() <-chan StreamEvent {
	return s.events
}

func (s *StreamClient) readLoop() {
	defer close(s.events)

	for {
		msgType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Voice stream read failed", slog.String("error", err.Error()))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var event StreamEvent
		if err := json.Unmarshal(message, &event); err != nil {
			s.logger.Debug("Ignoring malformed stream event", slog.String("error", err.Error()))
			continue
		}
		event.Raw = append(json.RawMessage(nil), message...)

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

// Close sends a normal-closure frame and closes the connection
func (s *StreamClient) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		writeErr := s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Closing connection"),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()

		err = s.conn.Close()
		if err == nil && writeErr != nil && writeErr != websocket.ErrCloseSent {
			err = writeErr
		}
		s.logger.Info("Voice stream disconnected")
	})
	return err
}
