package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voice-chat-client/internal/capture"
	"github.com/skypro1111/voice-chat-client/internal/config"
	"github.com/skypro1111/voice-chat-client/internal/metrics"
	"github.com/skypro1111/voice-chat-client/internal/playback"
	"github.com/skypro1111/voice-chat-client/internal/transport"
	"github.com/skypro1111/voice-chat-client/internal/voicechat"
)

const (
	serviceName    = "voice-chat-client"
	serviceVersion = "1.0.0"
)

// ConversationSource exposes the conversation state
type ConversationSource interface {
	GetStats() voicechat.Stats
	Messages() []voicechat.Message
}

// PlaybackSource exposes the playback controller state
type PlaybackSource interface {
	GetStatus() playback.Status
}

// CaptureSource exposes the capture session counters
type CaptureSource interface {
	GetStats() capture.Stats
}

// BackendSource exposes the REST client counters
type BackendSource interface {
	GetStats() transport.ClientStats
}

// Components are the parts of the client the monitoring API reports on
type Components struct {
	Conversation ConversationSource
	Playback     PlaybackSource
	Capture      CaptureSource
	Backend      BackendSource
}

// HTTPServer provides HTTP API endpoints for monitoring the client
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	components Components
	metrics    *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new monitoring HTTP server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, components Components, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger.With(slog.String("component", "http")),
		config:     appConfig,
		components: components,
		metrics:    m,
		startTime:  time.Now(),
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, for serving on a custom listener
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	return mux
}

func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/conversation", h.withMetrics("/conversation", h.handleConversation))
	mux.HandleFunc("/playback", h.withMetrics("/playback", h.handlePlayback))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting monitoring HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping monitoring HTTP server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	components := map[string]any{}
	if h.components.Conversation != nil {
		stats := h.components.Conversation.GetStats()
		status := "started"
		if stats.SessionID == "" {
			status = "not_started"
		}
		components["conversation"] = map[string]any{
			"status":     status,
			"session_id": stats.SessionID,
			"recording":  stats.Recording,
		}
	}
	if h.components.Playback != nil {
		status := h.components.Playback.GetStatus()
		components["playback"] = map[string]any{
			"status":         status.State,
			"pending_resume": status.PendingResume,
		}
	}
	if h.components.Backend != nil {
		stats := h.components.Backend.GetStats()
		components["backend"] = map[string]any{
			"total_requests":  stats.TotalRequests,
			"failed_requests": stats.FailedRequests,
		}
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	}

	writeJSON(w, health)
}

func (h *HTTPServer) handleConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.components.Conversation == nil {
		http.Error(w, "Conversation not available", http.StatusServiceUnavailable)
		return
	}

	stats := h.components.Conversation.GetStats()
	messages := h.components.Conversation.Messages()

	writeJSON(w, map[string]any{
		"session_id":     stats.SessionID,
		"total_messages": len(messages),
		"timestamp":      time.Now().UTC(),
		"messages":       messages,
	})
}

func (h *HTTPServer) handlePlayback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.components.Playback == nil {
		http.Error(w, "Playback not available", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, h.components.Playback.GetStatus())
}

// handleConfig returns the configuration without the backend token
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sanitizedConfig := map[string]any{
		"backend": map[string]any{
			"base_url":   h.config.Backend.BaseURL,
			"timeout":    h.config.Backend.Timeout,
			"voice_id":   h.config.Backend.VoiceID,
			"session_id": h.config.Backend.SessionID,
			"user_agent": h.config.Backend.UserAgent,
			"has_token":  h.config.Backend.Token != "",
		},
		"capture": map[string]any{
			"source":            h.config.Capture.Source,
			"sample_rate":       h.config.Capture.SampleRate,
			"channels":          h.config.Capture.Channels,
			"frames_per_buffer": h.config.Capture.FramesPerBuffer,
		},
		"playback": map[string]any{
			"volume":               h.config.Playback.Volume,
			"muted":                h.config.Playback.Muted,
			"require_user_gesture": h.config.Playback.RequireUserGesture,
			"min_base64_length":    h.config.Playback.MinBase64Length,
			"default_mime_type":    h.config.Playback.DefaultMimeType,
		},
		"logging": map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, sanitizedConfig)
}

func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}
	if h.components.Conversation != nil {
		stats["conversation"] = h.components.Conversation.GetStats()
	}
	if h.components.Capture != nil {
		stats["capture"] = h.components.Capture.GetStats()
	}
	if h.components.Backend != nil {
		stats["backend"] = h.components.Backend.GetStats()
	}
	if h.components.Playback != nil {
		stats["playback"] = h.components.Playback.GetStatus()
	}

	writeJSON(w, stats)
}

func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "Voice Chat Client",
		"version": serviceVersion,
		"endpoints": map[string]any{
			"GET /":             "API documentation",
			"GET /health":       "Client health check",
			"GET /conversation": "Current conversation transcript",
			"GET /playback":     "Playback controller status",
			"GET /config":       "Client configuration",
			"GET /stats":        "Client statistics",
			"GET /metrics":      "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, apiDoc)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
