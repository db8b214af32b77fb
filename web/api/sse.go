package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SSEHub manages SSE connections
type SSEHub struct {
	broadcast  chan SSEEvent
	register   chan chan SSEEvent
	unregister chan chan SSEEvent
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewSSEHub creates a new SSE hub
func NewSSEHub() *SSEHub {
	return &SSEHub{
		broadcast:  make(chan SSEEvent, 16),
		register:   make(chan chan SSEEvent),
		unregister: make(chan chan SSEEvent),
		stop:       make(chan struct{}),
	}
}

// Run owns the client set; all mutation happens on this goroutine
func (h *SSEHub) Run() {
	clients := make(map[chan SSEEvent]struct{})
	for {
		select {
		case client := <-h.register:
			clients[client] = struct{}{}

		case client := <-h.unregister:
			if _, ok := clients[client]; ok {
				delete(clients, client)
				close(client)
			}

		case event := <-h.broadcast:
			for client := range clients {
				select {
				case client <- event:
				default:
					// Slow client, drop it
					delete(clients, client)
					close(client)
				}
			}

		case <-h.stop:
			for client := range clients {
				close(client)
			}
			return
		}
	}
}

// Broadcast sends an event to all clients
func (h *SSEHub) Broadcast(event SSEEvent) {
	select {
	case h.broadcast <- event:
	case <-h.stop:
	}
}

// Stop shuts the hub down and disconnects all clients
func (h *SSEHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		client := make(chan SSEEvent, 8)
		select {
		case s.sseHub.register <- client:
		case <-s.sseHub.stop:
			return
		}

		done := r.Context().Done()
		go func() {
			<-done
			select {
			case s.sseHub.unregister <- client:
			case <-s.sseHub.stop:
			}
		}()

		for event := range client {
			data, _ := json.Marshal(event.Data)
			fmt.Fprintf(w, "event: %s\n", event.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
