// server/store/hub.go
package store

import "sync"

// Hub fans change signals out to the listeners of an owner. Signals are
// coalesced: a listener that has not drained its previous wake-up does not
// queue another one.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*hubListener]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*hubListener]struct{})}
}

type hubListener struct {
	hub     *Hub
	ownerID string
	topics  Topic
	ch      chan struct{}
	once    sync.Once
}

func (l *hubListener) Changes() <-chan struct{} { return l.ch }

func (l *hubListener) Close() {
	l.once.Do(func() { l.hub.unregister(l) })
}

// Register adds a listener for ownerID's changes on the given topics.
func (h *Hub) Register(ownerID string, topics Topic) Listener {
	l := &hubListener{hub: h, ownerID: ownerID, topics: topics, ch: make(chan struct{}, 1)}
	h.mu.Lock()
	if _, ok := h.clients[ownerID]; !ok {
		h.clients[ownerID] = make(map[*hubListener]struct{})
	}
	h.clients[ownerID][l] = struct{}{}
	h.mu.Unlock()
	return l
}

func (h *Hub) unregister(l *hubListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[l.ownerID]; ok {
		delete(set, l)
		if len(set) == 0 {
			delete(h.clients, l.ownerID)
		}
	}
}

// Broadcast wakes every listener of ownerID subscribed to one of topics.
func (h *Hub) Broadcast(ownerID string, topics Topic) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for l := range h.clients[ownerID] {
		if l.topics&topics != 0 {
			l.poke()
		}
	}
}

// BroadcastAll wakes every listener, used after a gap in change delivery.
func (h *Hub) BroadcastAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.clients {
		for l := range set {
			l.poke()
		}
	}
}

// Len reports the number of registered listeners.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

func (l *hubListener) poke() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}
