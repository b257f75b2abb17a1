package explorer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Event is pushed to explorer clients over Server-Sent Events.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Hub fans events out to connected SSE clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
}

// Client is a single SSE connection.
type Client struct {
	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]bool)}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.done)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case <-client.done:
		default:
			client.send(data)
		}
	}
}

// NewClient prepares w for streaming.
func NewClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &Client{
		writer:  w,
		flusher: flusher,
		done:    make(chan struct{}),
	}, nil
}

func (c *Client) send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.writer, "data: %s\n\n", data)
	c.flusher.Flush()
}

func (c *Client) ping() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.writer, ": ping\n\n")
	c.flusher.Flush()
}
