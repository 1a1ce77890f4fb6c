package internal

import (
	"context"
	"encoding/json"

	"onlineauth/internal/logging"
)

const EventOnlineCount = "online-count"

// Envelope is the message shape on the presence channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CountData is the payload of an online-count event.
type CountData struct {
	Count int `json:"count"`
}

// Hub owns every presence listener and the presence tracker. All state is
// touched only from the Run goroutine, so broadcasts go out in the order the
// connect and disconnect events arrived.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	requests   chan *Client
	done       chan struct{}

	clients  map[*Client]bool
	presence *PresenceTracker
	metrics  *Metrics
	logger   logging.Logger
}

func NewHub(metrics *Metrics, logger logging.Logger) *Hub {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		requests:   make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		presence:   NewPresenceTracker(),
		metrics:    metrics,
		logger:     logger,
	}
}

// Run processes hub events until ctx is cancelled. Remaining listeners are
// closed on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
			if client.userID != "" {
				h.presence.Connect(client.userID)
			}
			h.logger.Debug(ctx, "presence listener joined", "user_id", client.userID, "online", h.presence.ActiveCount())
			h.broadcastCount()
		case client := <-h.unregister:
			if !h.clients[client] {
				continue
			}
			h.remove(client)
			h.logger.Debug(ctx, "presence listener left", "user_id", client.userID, "online", h.presence.ActiveCount())
			if client.userID != "" {
				h.broadcastCount()
			}
		case client := <-h.requests:
			if !h.clients[client] {
				continue
			}
			select {
			case client.send <- countMessage(h.presence.ActiveCount()):
			default:
			}
		}
		h.metrics.SetPresence(len(h.clients), h.presence.ActiveCount())
	}
}

// Register adds a listener. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a listener; unknown or already dropped listeners are ignored.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// RequestCount asks the hub to send the current count to client alone.
func (h *Hub) RequestCount(client *Client) {
	select {
	case h.requests <- client:
	case <-h.done:
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// broadcastCount sends the count to every listener. Listeners that cannot keep
// up are dropped; when that releases a user the new count is sent again.
func (h *Hub) broadcastCount() {
	for {
		payload := countMessage(h.presence.ActiveCount())
		changed := false
		for client := range h.clients {
			select {
			case client.send <- payload:
			default:
				h.remove(client)
				if client.userID != "" {
					changed = true
				}
			}
		}
		if !changed {
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
	if client.userID != "" {
		h.presence.Disconnect(client.userID)
	}
}

func countMessage(count int) []byte {
	data, _ := json.Marshal(CountData{Count: count})
	payload, _ := json.Marshal(Envelope{Event: EventOnlineCount, Data: data})
	return payload
}
