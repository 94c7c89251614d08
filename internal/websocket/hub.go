package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"marathon/pkg/models"
)

// Hub fans progress events out to every connected websocket client.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}

	events     <-chan models.ProgressEvent
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

func NewHub(events <-chan models.ProgressEvent) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		events:     events,
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run loops until ctx is cancelled or the event channel is closed, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("ws: client %s connected (total=%d)", c.conn.RemoteAddr(), n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				log.Printf("ws: client %s disconnected", c.conn.RemoteAddr())
			}
			h.mu.Unlock()

		case evt, ok := <-h.events:
			if !ok {
				return
			}
			h.broadcast(evt)
		}
	}
}

func (h *Hub) broadcast(evt models.ProgressEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Println("ws: marshal event:", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.readerID > 0 && c.readerID != evt.ReaderID {
			continue
		}
		select {
		case c.send <- data:
		default:
			// slow consumer
			log.Printf("ws: client %s send buffer full, removing", c.conn.RemoteAddr())
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
