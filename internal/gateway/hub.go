package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"quantedge-ta/internal/model"
)

// Hub manages WebSocket clients and fans indicator results out to them.
// Confirmed results are cached per channel so a connecting client gets the
// current state immediately instead of waiting for the next bar close.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64 // last sequence number assigned to a confirmed envelope
	replay  *ReplayBuffer

	// Callbacks for metrics (optional)
	OnClientCount func(n int)
	OnDrop        func()
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
		replay:  NewReplayBuffer(1000),
	}
}

// BroadcastResults sends a batch of indicator results to all matching clients.
// Results that are neither ready nor live are skipped.
func (h *Hub) BroadcastResults(results []model.Result) {
	for i := range results {
		res := &results[i]
		if !res.Ready && !res.Live {
			continue
		}
		h.broadcastResult(res)
	}
}

func (h *Hub) broadcastResult(res *model.Result) {
	channel := res.PubSubChannel()
	data := res.JSON()

	fields := map[string]interface{}{
		"channel": channel,
		"data":    json.RawMessage(data),
		"ts":      time.Now().Format(time.RFC3339Nano),
	}

	h.mu.Lock()
	if !res.Live {
		h.seq++
		fields["seq"] = h.seq
		h.latest[channel] = latestEntry{Data: data, TS: time.Now()}
	}
	envelope, err := json.Marshal(fields)
	if err != nil {
		h.mu.Unlock()
		return
	}
	if !res.Live {
		h.replay.Push(h.seq, envelope)
	}
	for client := range h.clients {
		if !client.matchesResult(res) {
			continue
		}
		select {
		case client.send <- envelope:
		default:
			// Slow client — drop rather than block the compute path
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
	h.mu.Unlock()
}

// register adds a client to the hub.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// RemoveClient removes a client from the hub and closes its send channel.
// The close happens under the hub lock: every hub-side send (broadcast,
// initial state) also holds the lock and checks membership first, so no
// goroutine can race a send against the close.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client disconnected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// GetLatestAll returns a snapshot of all latest channel data.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// ReplaySince returns the buffered confirmed envelopes with seq greater
// than afterSeq, oldest first.
func (h *Hub) ReplaySince(afterSeq int64) [][]byte {
	return h.replay.Since(afterSeq)
}

// LastSeq returns the sequence number of the most recent confirmed envelope.
func (h *Hub) LastSeq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
