package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		token   string
		session string
		want    string
		wantErr bool
	}{
		{"http", "http://localhost:8000/api", "tok", "s1", "ws://localhost:8000/api/voice/stream/?session=s1&token=tok", false},
		{"https trailing slash", "https://example.com/api/", "", "s1", "wss://example.com/api/voice/stream/?session=s1", false},
		{"no params", "http://localhost:8000/api", "", "", "ws://localhost:8000/api/voice/stream/", false},
		{"bad scheme", "ftp://example.com", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StreamURL(tt.base, tt.token, tt.session)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialStreamExchangesFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/voice/stream/", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		assert.Equal(t, "sess-1", r.URL.Query().Get("session"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		assert.Equal(t, websocket.BinaryMessage, msgType)
		received <- data

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcript","text":"hello"}`))

		// Wait for the client to close
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL + "/api", Token: "secret", Timeout: 2 * time.Second}, testLogger(), nil)
	require.NoError(t, err)

	stream, err := client.DialStream(context.Background(), "sess-1")
	require.NoError(t, err)

	require.NoError(t, stream.SendAudio([]byte{1, 2, 3}))
	assert.NoError(t, stream.SendAudio(nil))

	select {
	case data := <-received:
		assert.Equal(t, []byte{1, 2, 3}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the audio frame")
	}

	select {
	case event := <-stream.Events():
		assert.Equal(t, "transcript", event.Type)
		assert.JSONEq(t, `{"type":"transcript","text":"hello"}`, string(event.Raw))
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())
}

func TestDialStreamRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL + "/api"}, testLogger(), nil)
	require.NoError(t, err)

	_, err = client.DialStream(context.Background(), "sess-1")
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusForbidden, terr.StatusCode)
}
