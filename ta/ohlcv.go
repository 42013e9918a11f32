// Package ta provides streaming technical-analysis indicators over OHLCV
// price bars: SMA, EMA, Bollinger Bands, and RSI.
//
// Indicators are incremental: each Compute call folds exactly one bar into
// O(1) running state, never re-scanning history. Bar boundaries are
// detected by comparing open times — feeding a bar with the same open time
// as the previous call repaints (revises) the current bar, a greater open
// time advances the stream. Output is absent (comma-ok false) until enough
// data has been received for convergence.
//
// Indicator instances are not safe for concurrent mutation; each instance
// must be driven by a single goroutine. Distinct instances share no state.
package ta

// Ohlcv is the read-only bar capability consumed by all indicators.
//
// Implement it on your own kline/candle type to avoid per-tick conversion.
// Indicators accept any Ohlcv and extract the configured Source internally.
//
// OpenTime values must be non-decreasing between consecutive Compute calls
// on the same indicator: an equal value repaints the current bar, a greater
// value advances the window. Behaviour is undefined if open time decreases.
type Ohlcv interface {
	// Open returns the opening price of the bar.
	Open() float64
	// High returns the highest price during the bar.
	High() float64
	// Low returns the lowest price during the bar.
	Low() float64
	// Close returns the closing (or latest) price of the bar.
	Close() float64
	// OpenTime returns the bar open timestamp or sequence number,
	// used for bar boundary detection.
	OpenTime() uint64
}

// VolumeOhlcv is implemented by bar types that also carry trade volume.
// None of the core indicators consume volume; the interface exists so
// volume-dependent consumers can share the same bar types.
type VolumeOhlcv interface {
	Ohlcv
	Volume() float64
}

// VolumeOf returns the bar's volume, or 0 for bar types that do not
// implement VolumeOhlcv.
func VolumeOf(b Ohlcv) float64 {
	if v, ok := b.(VolumeOhlcv); ok {
		return v.Volume()
	}
	return 0
}

// Bar is a plain OHLCV value implementing Ohlcv. Feeds without their own
// candle type can use it directly.
type Bar struct {
	O, H, L, C float64
	V          float64
	T          uint64
}

func (b Bar) Open() float64    { return b.O }
func (b Bar) High() float64    { return b.H }
func (b Bar) Low() float64     { return b.L }
func (b Bar) Close() float64   { return b.C }
func (b Bar) Volume() float64  { return b.V }
func (b Bar) OpenTime() uint64 { return b.T }

var _ VolumeOhlcv = Bar{}
