package model

import "encoding/json"

// Result holds one computed indicator value for a symbol + interval.
// Band indicators carry the middle line in Value plus Upper/Lower; scalar
// indicators leave the band fields zero (omitted from JSON).
type Result struct {
	Name     string  `json:"name"` // e.g. "SMA_20", "EMA_21_hl2", "BB_20_2.5", "RSI_14"
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	OpenTime uint64  `json:"open_time"` // bar that produced this value, epoch ms
	Value    float64 `json:"value"`
	Upper    float64 `json:"upper,omitempty"`
	Lower    float64 `json:"lower,omitempty"`
	Ready    bool    `json:"ready"` // true once the indicator has converged
	Live     bool    `json:"live"`  // true for values from a forming bar
}

// StreamKey returns the Redis stream key: "ind:{name}:{interval}:{symbol}".
func (r *Result) StreamKey() string {
	return "ind:" + r.Name + ":" + r.Interval + ":" + r.Symbol
}

// LatestKey returns the key holding the most recent confirmed value:
// "ind:{name}:{interval}:latest:{symbol}".
func (r *Result) LatestKey() string {
	return "ind:" + r.Name + ":" + r.Interval + ":latest:" + r.Symbol
}

// PubSubChannel returns the live-update channel: "pub:ind:{name}:{interval}:{symbol}".
func (r *Result) PubSubChannel() string {
	return "pub:ind:" + r.Name + ":" + r.Interval + ":" + r.Symbol
}

// JSON returns the JSON-encoded result.
func (r *Result) JSON() []byte {
	j, _ := json.Marshal(r)
	return j
}
