package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	alarms "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/domain"
)

// streamEvent is one SSE frame queued for a client.
type streamEvent struct {
	id   string
	data []byte
}

// SSEBroker fans out firings to connected clients. A client whose buffer is
// full misses the event. Sends and closes happen under mu, so a client can
// leave while a firing is being published.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan streamEvent]struct{}
	dropped uint64
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan streamEvent]struct{})}
}

// Notify publishes a firing to all subscribers.
func (b *SSEBroker) Notify(_ context.Context, firing alarms.Firing) {
	if b == nil {
		return
	}
	data, err := json.Marshal(firing)
	if err != nil {
		return
	}
	event := streamEvent{id: firing.ID, data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			b.dropped++
		}
	}
}

// Subscribe registers a new client channel.
func (b *SSEBroker) Subscribe() chan streamEvent {
	if b == nil {
		return nil
	}
	ch := make(chan streamEvent, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a client channel. Repeated calls are no-ops.
func (b *SSEBroker) Unsubscribe(ch chan streamEvent) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; !ok {
		return
	}
	delete(b.clients, ch)
	close(ch)
}

// Subscribers returns the number of connected clients.
func (b *SSEBroker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Dropped returns how many events were skipped for slow clients.
func (b *SSEBroker) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// StreamHandler serves the SSE firing stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /v1/alerts/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe()
	if ch == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer h.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(w, "id: %s\nevent: firing\ndata: %s\n\n", event.id, event.data)
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
