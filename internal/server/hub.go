package server

import (
	"sync"
)

// hub tracks the open websocket connections of every user
type hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*client]struct{}
	closed  bool
}

func newHub() *hub {
	return &hub{
		clients: map[int64]map[*client]struct{}{},
	}
}

// add registers c, it returns false once the hub is shut down
func (h *hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	set, ok := h.clients[c.userID]
	if !ok {
		set = map[*client]struct{}{}
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	wsConnections.Inc()
	return true
}

// remove unregisters c and closes its send channel, it is safe to call more than once
func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *hub) removeLocked(c *client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	wsConnections.Dec()
}

// sendTo queues frame for every connection of the given users and returns the number of
// connections reached. Connections whose buffer is full are dropped.
func (h *hub) sendTo(userIDs []int64, frame []byte) int {
	var delivered int
	var slow []*client

	h.mu.RLock()
	for _, id := range userIDs {
		for c := range h.clients[id] {
			select {
			case c.send <- frame:
				delivered++
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, c := range slow {
			c.logger.Warnf("Dropping slow connection of user %d", c.userID)
			h.removeLocked(c)
			slowClients.Inc()
		}
		h.mu.Unlock()
	}
	return delivered
}

// sendToConn queues frame for a single connection unless it was removed or its buffer is full
func (h *hub) sendToConn(c *client, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c.userID][c]; !ok {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// online returns the number of connections of a user
func (h *hub) online(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// shutdown closes every connection and refuses new ones
func (h *hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
}
