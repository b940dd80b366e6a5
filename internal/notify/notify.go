// Package notify fans pipeline events out to subscribers. Phases enqueue
// notifications without blocking on delivery; a background worker drains
// the queue and forwards each event to every subscriber, dropping it for
// subscribers whose channel is full rather than stalling the pipeline.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Fantasim/btcwalletsync/internal/config"
)

// EventType identifies the kind of payload carried by an Event.
type EventType string

const (
	EventTransactionDetected EventType = "transaction_detected"
	EventTransactionUpdated  EventType = "transaction_updated"
	EventBalanceChanged      EventType = "balance_changed"
	EventSyncCompleted       EventType = "sync_completed"
	EventSyncFailed          EventType = "sync_failed"
)

// Event is one notification emitted by the pipeline.
type Event struct {
	Type     EventType `json:"type"`
	WalletID string    `json:"walletId"`
	Data     any       `json:"data"`
}

// TransactionEventData is the payload for transaction_detected/_updated events.
type TransactionEventData struct {
	Txid          string `json:"txid"`
	Amount        int64  `json:"amount"`
	Confirmations int64  `json:"confirmations"`
}

// BalanceEventData is the payload for balance_changed events.
type BalanceEventData struct {
	NewBalance int64 `json:"newBalance"`
}

// SyncResultEventData is the payload for sync_completed/_failed events.
type SyncResultEventData struct {
	TransactionsProcessed int    `json:"transactionsProcessed"`
	Error                 string `json:"error,omitempty"`
}

// Hub queues events and fans them out to subscribers. Producers call
// Enqueue; a background worker started with Run drains the internal queue
// and calls broadcast so that a slow producer phase is never blocked by a
// slow subscriber.
type Hub struct {
	queue chan Event

	mu      sync.RWMutex
	clients map[chan Event]struct{}
}

// NewHub creates a notification hub.
func NewHub() *Hub {
	return &Hub{
		queue:   make(chan Event, config.NotificationChannelBuffer),
		clients: make(map[chan Event]struct{}),
	}
}

// Enqueue submits an event for delivery without blocking the caller unless
// the internal queue itself is full, in which case the event is dropped
// and logged — a sync run never stalls waiting on notification delivery.
func (h *Hub) Enqueue(event Event) {
	select {
	case h.queue <- event:
	default:
		slog.Warn("notification queue full, dropping event", "type", event.Type, "walletId", event.WalletID)
	}
}

// Run drains the queue and broadcasts each event until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for ch := range h.clients {
				close(ch)
				delete(h.clients, ch)
			}
			h.mu.Unlock()
			return
		case event := <-h.queue:
			h.broadcast(event)
		}
	}
}

// Subscribe registers a new consumer and returns a channel to receive events.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, config.NotificationChannelBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *Hub) broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			slog.Warn("notification dropped for slow subscriber", "type", event.Type)
		}
	}
}

// ClientCount returns the number of active subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
