// Package notify fans out action, refresh and session events to subscribers
// such as SSE clients.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Fantasim/minerstake/internal/config"
)

// Event types.
const (
	TypeActionSubmitted  = "action_submitted"
	TypeActionConfirmed  = "action_confirmed"
	TypeActionFailed     = "action_failed"
	TypePositionsUpdated = "positions_updated"
	TypeSessionChanged   = "session_changed"
	TypeClaimRecorded    = "claim_recorded"
)

// Event is one notification.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ActionData is the payload for action_* events.
type ActionData struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Target string `json:"target"`
	State  string `json:"state"`
	TxHash string `json:"txHash,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PositionsData is the payload for positions_updated events.
type PositionsData struct {
	Account      string `json:"account"`
	Version      uint64 `json:"version"`
	Count        int    `json:"count"`
	ActiveCount  int    `json:"activeCount"`
	TotalPending string `json:"totalPending"`
	TotalClaimed string `json:"totalClaimed"`
}

// SessionData is the payload for session_changed events.
type SessionData struct {
	Kind    string `json:"kind"`
	Account string `json:"account,omitempty"`
	ChainID int64  `json:"chainId"`
}

// ClaimData is the payload for claim_recorded events.
type ClaimData struct {
	TokenID      uint64 `json:"tokenId"`
	Amount       string `json:"amount"`
	AmountSource string `json:"amountSource"`
	TxHash       string `json:"txHash"`
}

// Publisher accepts events. *Hub implements it.
type Publisher interface {
	Broadcast(event Event)
}

// Hub broadcasts events to every subscriber.
type Hub struct {
	clients map[chan Event]struct{}
	mu      sync.RWMutex
}

// NewHub creates an event hub.
func NewHub() *Hub {
	slog.Info("event hub created")
	return &Hub{
		clients: make(map[chan Event]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes every subscriber.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("event hub running")
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}

	slog.Info("event hub stopped", "reason", ctx.Err())
}

// Subscribe registers a client and returns its event channel.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, config.EventHubBuffer)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	slog.Info("event client subscribed", "totalClients", clientCount)
	return ch
}

// Unsubscribe removes a client and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	clientCount := len(h.clients)
	h.mu.Unlock()

	slog.Info("event client unsubscribed", "totalClients", clientCount)
}

// Broadcast sends event to all clients without blocking; a full client
// channel drops the event for that client.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			slog.Warn("event dropped for slow client", "eventType", event.Type)
		}
	}

	slog.Debug("event broadcast",
		"type", event.Type,
		"clients", len(h.clients),
	)
}

// ClientCount returns the number of subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
