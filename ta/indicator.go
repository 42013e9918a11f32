package ta

// Indicator is the uniform contract implemented by all streaming
// indicators. T is the output type: float64 for SMA, EMA and RSI,
// BandValue for Bollinger Bands.
//
// Compute feeds one bar and returns the updated value; the boolean is
// false until the indicator has converged. Value returns the last computed
// value without consuming a bar — a cached field read, no recomputation.
type Indicator[T any] interface {
	Compute(b Ohlcv) (T, bool)
	Value() (T, bool)
}

var (
	_ Indicator[float64]   = (*Sma)(nil)
	_ Indicator[float64]   = (*Ema)(nil)
	_ Indicator[float64]   = (*Rsi)(nil)
	_ Indicator[BandValue] = (*Bb)(nil)
)
