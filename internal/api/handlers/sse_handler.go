package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
)

// StreamAll is the path topic that subscribes to every topic
const StreamAll = "all"

// SSEHandler streams bus events to browsers as Server-Sent Events
type SSEHandler struct {
	bus       *services.EventBus
	heartbeat time.Duration
	logger    zerolog.Logger

	mu      sync.RWMutex
	clients map[string]int
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(bus *services.EventBus) *SSEHandler {
	return &SSEHandler{
		bus:       bus,
		heartbeat: 30 * time.Second,
		logger:    observability.Component("sse"),
		clients:   make(map[string]int),
	}
}

// WithHeartbeat sets the keep-alive interval
func (h *SSEHandler) WithHeartbeat(d time.Duration) *SSEHandler {
	h.heartbeat = d
	return h
}

// Stream handles GET /api/stream/{topic}
func (h *SSEHandler) Stream(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	if topic == "" {
		respondWithError(w, http.StatusBadRequest, "topic is required")
		return
	}
	if topic == StreamAll {
		topic = services.AllTopics
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := h.bus.Subscribe(r.Context(), topic)
	h.register(topic)
	defer h.unregister(topic)

	h.sendEvent(w, "connected", map[string]interface{}{
		"topic":     topic,
		"origin":    h.bus.Origin(),
		"timestamp": time.Now().UnixMilli(),
	})
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug().Str("topic", topic).Msg("Client disconnected")
			return
		case <-ticker.C:
			h.sendEvent(w, "heartbeat", map[string]interface{}{
				"timestamp": time.Now().UnixMilli(),
			})
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			h.sendEvent(w, event.Type, event)
			flusher.Flush()
		}
	}
}

func (h *SSEHandler) register(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[topic]++
	h.logger.Debug().Str("topic", topic).Int("total", h.clients[topic]).Msg("Client registered")
}

func (h *SSEHandler) unregister(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[topic]--
	if h.clients[topic] <= 0 {
		delete(h.clients, topic)
	}
}

// sendEvent writes one SSE frame
func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to marshal event data")
		return
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}

// ClientCount returns the number of connected clients
func (h *SSEHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, n := range h.clients {
		count += n
	}
	return count
}

