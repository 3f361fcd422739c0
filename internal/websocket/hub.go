package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
)

// BalanceUpdate is pushed to an owner's sockets after a committed wallet movement.
type BalanceUpdate struct {
	WalletID      string `json:"wallet_id"`
	Balance       string `json:"balance"`
	BalanceMinor  int64  `json:"balance_minor"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type Hub struct {
	mu          sync.RWMutex
	clients     map[string]map[*Client]struct{}
	checkOrigin func(r *http.Request) bool
}

// NewHub accepts sockets from allowedOrigins, a comma separated list or "*".
func NewHub(allowedOrigins string) *Hub {
	return &Hub{
		clients:     make(map[string]map[*Client]struct{}),
		checkOrigin: OriginChecker(allowedOrigins),
	}
}

func (h *Hub) Register(ownerID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[ownerID] == nil {
		h.clients[ownerID] = make(map[*Client]struct{})
	}
	h.clients[ownerID][client] = struct{}{}
}

func (h *Hub) Unregister(ownerID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[ownerID] == nil {
		return
	}
	delete(h.clients[ownerID], client)
	if len(h.clients[ownerID]) == 0 {
		delete(h.clients, ownerID)
	}
}

func (h *Hub) Connected(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ownerID])
}

// BroadcastBalance never blocks: a client whose buffer is full misses the update.
func (h *Hub) BroadcastBalance(ownerID string, update BalanceUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[ownerID] {
		select {
		case client.send <- payload:
		default:
		}
	}
}
