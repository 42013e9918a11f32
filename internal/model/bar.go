package model

import "encoding/json"

// Bar is one OHLCV bar for a symbol at a fixed interval (e.g. "1m", "1h").
// OpenTime is the bucket start in epoch milliseconds and identifies the bar:
// a repeat of the same open time is a repaint of the forming bar, a greater
// open time closes it.
type Bar struct {
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	OpenTime uint64  `json:"open_time"` // epoch ms, bucket start
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Forming  bool    `json:"forming"` // true while the bucket is still open
}

// Key returns a unique key for this bar's series: "symbol:interval".
func (b *Bar) Key() string {
	return b.Symbol + ":" + b.Interval
}

// StreamKey returns the Redis stream key: "bars:{interval}:{symbol}".
func (b *Bar) StreamKey() string {
	return "bars:" + b.Interval + ":" + b.Symbol
}

// PubSubChannel returns the live-update channel: "pub:bars:{interval}:{symbol}".
func (b *Bar) PubSubChannel() string {
	return "pub:bars:" + b.Interval + ":" + b.Symbol
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	j, _ := json.Marshal(b)
	return j
}
