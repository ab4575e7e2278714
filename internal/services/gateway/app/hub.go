package app

import (
	"context"
	"encoding/json"
	"log"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
)

const sendBuffer = 16

// Hub keeps the websocket clients and fans snapshots out to them.
// Publish never blocks the engine: a full broadcast queue drops the frame,
// a client with a full send buffer is dropped.
type Hub struct {
	current    func() messages.Snapshot
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *log.Logger
}

// NewHub takes the source of the snapshot sent to newly connected clients.
func NewHub(current func() messages.Snapshot, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		current:    current,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func encodeSnapshot(s messages.Snapshot) ([]byte, error) {
	return json.Marshal(map[string]any{"type": "snapshot", "payload": s})
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			if h.current != nil {
				if b, err := encodeSnapshot(h.current()); err == nil {
					c.send <- b
				}
			}
			h.logger.Printf("ws: client registered %s (%d total)", c.addr, len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Printf("ws: client unregistered %s", c.addr)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Printf("ws: client %s too slow, removing", c.addr)
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// Publish implements the engine's snapshot sink.
func (h *Hub) Publish(s messages.Snapshot) {
	s.Raised = nil
	b, err := encodeSnapshot(s)
	if err != nil {
		h.logger.Printf("ws: encode snapshot: %v", err)
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.logger.Printf("ws: broadcast queue full, snapshot %d dropped", s.Seq)
	}
}

