package gateway

import (
	"encoding/json"
	"testing"

	"quantedge-ta/internal/model"
)

func testResult(name, symbol, interval string, live bool) model.Result {
	return model.Result{
		Name:     name,
		Symbol:   symbol,
		Interval: interval,
		OpenTime: 1700000000000,
		Value:    42.5,
		Ready:    true,
		Live:     live,
	}
}

// testClient registers a bare client with a buffered send channel,
// bypassing the WebSocket upgrade.
func testClient(h *Hub, bufSize int) *Client {
	c := &Client{
		send: make(chan []byte, bufSize),
		hub:  h,
		subs: make(map[string]*subscription),
	}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func TestHub_BroadcastCachesConfirmed(t *testing.T) {
	h := NewHub()

	res := testResult("SMA_20", "BTCUSDT", "1m", false)
	h.BroadcastResults([]model.Result{res})

	latest := h.GetLatestAll()
	data, ok := latest[res.PubSubChannel()]
	if !ok {
		t.Fatalf("expected latest entry for %s", res.PubSubChannel())
	}

	var got model.Result
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal cached result: %v", err)
	}
	if got.Name != "SMA_20" || got.Value != 42.5 {
		t.Errorf("cached result mismatch: %+v", got)
	}
}

func TestHub_LiveResultsNotCached(t *testing.T) {
	h := NewHub()

	h.BroadcastResults([]model.Result{testResult("EMA_21", "BTCUSDT", "1m", true)})

	if len(h.GetLatestAll()) != 0 {
		t.Errorf("live results should not be cached, got %d entries", len(h.GetLatestAll()))
	}
}

func TestHub_SkipsNotReady(t *testing.T) {
	h := NewHub()
	c := testClient(h, 4)

	res := testResult("RSI_14", "BTCUSDT", "1m", false)
	res.Ready = false
	h.BroadcastResults([]model.Result{res})

	if len(c.send) != 0 {
		t.Errorf("not-ready result should be skipped, got %d messages", len(c.send))
	}
}

func TestHub_DeliversEnvelope(t *testing.T) {
	h := NewHub()
	c := testClient(h, 4)

	res := testResult("SMA_20", "ETHUSDT", "5m", false)
	h.BroadcastResults([]model.Result{res})

	if len(c.send) != 1 {
		t.Fatalf("expected 1 message, got %d", len(c.send))
	}

	var envelope struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(<-c.send, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Channel != res.PubSubChannel() {
		t.Errorf("channel = %q, want %q", envelope.Channel, res.PubSubChannel())
	}
	var got model.Result
	if err := json.Unmarshal(envelope.Data, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.Symbol != "ETHUSDT" {
		t.Errorf("symbol = %q, want ETHUSDT", got.Symbol)
	}
}

func TestHub_SlowClientDrops(t *testing.T) {
	h := NewHub()
	drops := 0
	h.OnDrop = func() { drops++ }

	c := testClient(h, 1)

	h.BroadcastResults([]model.Result{
		testResult("SMA_20", "BTCUSDT", "1m", false),
		testResult("EMA_21", "BTCUSDT", "1m", false),
	})

	if len(c.send) != 1 {
		t.Errorf("expected 1 delivered message, got %d", len(c.send))
	}
	if drops != 1 {
		t.Errorf("expected 1 drop, got %d", drops)
	}
}

func TestClient_SubscriptionFiltering(t *testing.T) {
	h := NewHub()
	c := testClient(h, 8)

	// No subscriptions — receives everything
	res := testResult("SMA_20", "BTCUSDT", "1m", false)
	if !c.matchesResult(&res) {
		t.Error("client without subs should receive everything")
	}

	c.handleSubscribe(SubscribeMsg{
		Type: "SUBSCRIBE", Symbol: "BTCUSDT", Interval: "1m",
		Indicators: []string{"SMA_20"},
	})

	if !c.matchesResult(&res) {
		t.Error("subscribed series+indicator should match")
	}

	other := testResult("RSI_14", "BTCUSDT", "1m", false)
	if c.matchesResult(&other) {
		t.Error("unsubscribed indicator should not match")
	}

	otherSym := testResult("SMA_20", "ETHUSDT", "1m", false)
	if c.matchesResult(&otherSym) {
		t.Error("unsubscribed symbol should not match")
	}

	// Subscription without indicator list receives the whole series
	c.handleSubscribe(SubscribeMsg{Type: "SUBSCRIBE", Symbol: "ETHUSDT", Interval: "1m"})
	if !c.matchesResult(&otherSym) {
		t.Error("series-wide subscription should match any indicator")
	}

	c.handleUnsubscribe(SubscribeMsg{Symbol: "BTCUSDT", Interval: "1m"})
	if c.matchesResult(&res) {
		t.Error("unsubscribed series should not match")
	}
}

func TestHub_SeqAndReplay(t *testing.T) {
	h := NewHub()

	h.BroadcastResults([]model.Result{
		testResult("SMA_20", "BTCUSDT", "1m", false),
		testResult("EMA_21", "BTCUSDT", "1m", false),
		testResult("RSI_14", "BTCUSDT", "1m", true), // live, no seq
		testResult("RSI_14", "BTCUSDT", "1m", false),
	})

	if h.LastSeq() != 3 {
		t.Fatalf("LastSeq() = %d, want 3 (live results are unsequenced)", h.LastSeq())
	}

	replayed := h.ReplaySince(1)
	if len(replayed) != 2 {
		t.Fatalf("ReplaySince(1): expected 2 envelopes, got %d", len(replayed))
	}

	var envelope struct {
		Seq  int64           `json:"seq"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(replayed[0], &envelope); err != nil {
		t.Fatalf("unmarshal replayed envelope: %v", err)
	}
	if envelope.Seq != 2 {
		t.Errorf("first replayed seq = %d, want 2", envelope.Seq)
	}
	var got model.Result
	if err := json.Unmarshal(envelope.Data, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.Name != "EMA_21" {
		t.Errorf("first replayed result = %q, want EMA_21", got.Name)
	}
}

func TestClient_SendReplay(t *testing.T) {
	h := NewHub()

	h.BroadcastResults([]model.Result{
		testResult("SMA_20", "BTCUSDT", "1m", false),
		testResult("EMA_21", "BTCUSDT", "1m", false),
	})

	// Client connects after the broadcasts and asks for the gap
	c := testClient(h, 4)
	c.sendReplay(0)

	if len(c.send) != 2 {
		t.Errorf("expected 2 replayed messages, got %d", len(c.send))
	}
}

func TestHub_RemoveClient(t *testing.T) {
	h := NewHub()
	c := testClient(h, 4)

	if h.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", h.ClientCount())
	}

	h.RemoveClient(c)
	if h.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", h.ClientCount())
	}

	// Double remove is a no-op (channel already closed)
	h.RemoveClient(c)
}

func TestClient_InitialStateAfterRemove(t *testing.T) {
	h := NewHub()
	h.BroadcastResults([]model.Result{testResult("SMA_20", "BTCUSDT", "1m", false)})

	// A client that disconnects before its initial-state goroutine runs
	// must not panic by sending on its closed channel.
	c := testClient(h, 4)
	h.RemoveClient(c)
	c.sendInitialState()
}
