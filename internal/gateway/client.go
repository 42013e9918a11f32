package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"quantedge-ta/internal/model"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Per-client subscriptions: key = "symbol:interval"
	subMu sync.RWMutex
	subs  map[string]*subscription
}

type subscription struct {
	Symbol     string
	Interval   string
	Indicators map[string]bool // empty = all indicators for the series
}

// SubscribeMsg is the client → server subscription request.
type SubscribeMsg struct {
	Type       string   `json:"type"`
	Symbol     string   `json:"symbol"`
	Interval   string   `json:"interval"`
	Indicators []string `json:"indicators,omitempty"`
}

func (c *Client) sendInitialState() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	// The client may already be gone; its send channel closes under this
	// lock, so the membership check makes the sends below safe.
	if !c.hub.clients[c] {
		return
	}

	// Current seq is included so the client can request a gap replay
	// after a reconnect without double-counting these snapshots.
	seq := c.hub.seq
	for channel, entry := range c.hub.latest {
		envelope, _ := json.Marshal(map[string]interface{}{
			"channel": channel,
			"data":    json.RawMessage(entry.Data),
			"ts":      entry.TS.Format(time.RFC3339Nano),
			"initial": true,
			"seq":     seq,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: use NextWriter to batch queued messages
			// into a single WebSocket frame with newline separators
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			// Drain any queued messages into the same write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type     string `json:"type"`
			Ping     int64  `json:"ping"`
			AfterSeq int64  `json:"after_seq"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SUBSCRIBE":
			var subMsg SubscribeMsg
			if err := json.Unmarshal(msg, &subMsg); err != nil {
				continue
			}
			c.handleSubscribe(subMsg)

		case "UNSUBSCRIBE":
			var subMsg SubscribeMsg
			if err := json.Unmarshal(msg, &subMsg); err != nil {
				continue
			}
			c.handleUnsubscribe(subMsg)

		case "REPLAY":
			// Gap backfill after a reconnect or dropped messages
			c.sendReplay(base.AfterSeq)

		default:
			// Latency probe
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}

// sendReplay queues buffered confirmed envelopes with seq > afterSeq.
// Stops early if the client's queue fills up again.
func (c *Client) sendReplay(afterSeq int64) {
	for _, env := range c.hub.ReplaySince(afterSeq) {
		select {
		case c.send <- env:
		default:
			return
		}
	}
}

func (c *Client) handleSubscribe(msg SubscribeMsg) {
	if msg.Symbol == "" || msg.Interval == "" {
		return
	}

	sub := &subscription{
		Symbol:     msg.Symbol,
		Interval:   msg.Interval,
		Indicators: make(map[string]bool, len(msg.Indicators)),
	}
	for _, name := range msg.Indicators {
		sub.Indicators[name] = true
	}

	c.subMu.Lock()
	c.subs[sub.Symbol+":"+sub.Interval] = sub
	c.subMu.Unlock()
}

func (c *Client) handleUnsubscribe(msg SubscribeMsg) {
	c.subMu.Lock()
	delete(c.subs, msg.Symbol+":"+msg.Interval)
	c.subMu.Unlock()
}

// matchesResult reports whether this client should receive the given result.
// A client with no subscriptions receives everything.
func (c *Client) matchesResult(res *model.Result) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}

	sub, ok := c.subs[res.Symbol+":"+res.Interval]
	if !ok {
		return false
	}
	if len(sub.Indicators) == 0 {
		return true
	}
	return sub.Indicators[res.Name]
}
