package ta

import (
	"fmt"
	"math"
)

// DefaultStdDev is the standard Bollinger Bands σ-multiplier.
const DefaultStdDev = 2.0

// BbConfig configures a Bb. Length is the window size in bars and must be
// positive. StdDev is the standard-deviation multiplier for the upper and
// lower bands; it must be positive and not NaN, and a zero value selects
// DefaultStdDev. The zero Source is Close.
type BbConfig struct {
	Length int
	Source Source
	StdDev float64
}

func (c BbConfig) validate() error {
	if c.Length < 1 {
		return fmt.Errorf("bb: length must be positive, got %d", c.Length)
	}
	if !c.Source.valid() {
		return fmt.Errorf("bb: invalid price source %d", int(c.Source))
	}
	if math.IsNaN(c.StdDev) {
		return fmt.Errorf("bb: std dev multiplier must not be NaN")
	}
	if c.StdDev < 0 {
		return fmt.Errorf("bb: std dev multiplier must be positive, got %v", c.StdDev)
	}
	return nil
}

func (c BbConfig) String() string {
	return fmt.Sprintf("BB(%d, %s, %g)", c.Length, c.Source, c.stdDev())
}

func (c BbConfig) stdDev() float64 {
	if c.StdDev == 0 {
		return DefaultStdDev
	}
	return c.StdDev
}

// BandValue is one Bollinger Bands output: the three bands are computed
// from the same window on the same tick, so they are always mutually
// consistent and Lower ≤ Middle ≤ Upper.
type BandValue struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Width returns upper − lower. Narrow width indicates consolidation
// (the Bollinger squeeze); wide width indicates high volatility.
func (v BandValue) Width() float64 {
	return v.Upper - v.Lower
}

func (v BandValue) String() string {
	return fmt.Sprintf("BB(u: %g, m: %g, l: %g)", v.Upper, v.Middle, v.Lower)
}

// Bb computes Bollinger Bands: an SMA middle band with upper and lower
// bands offset by StdDev times the population standard deviation of the
// window (divide by N, not N−1).
//
// Uses running sum and sum of squares for O(1) updates; the only
// non-constant work per tick is the square root. Output is absent until
// the window is full.
type Bb struct {
	cfg      BbConfig
	window   *priceWindow
	lenRecip float64
	mult     float64
	current  BandValue
	ok       bool
}

// NewBb creates a Bollinger Bands indicator, rejecting invalid
// configuration.
func NewBb(cfg BbConfig) (*Bb, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Bb{
		cfg:      cfg,
		window:   newPriceWindowWithSumSq(cfg.Length, cfg.Source),
		lenRecip: 1 / float64(cfg.Length),
		mult:     cfg.stdDev(),
	}, nil
}

// Config returns the configuration the indicator was built with.
func (b *Bb) Config() BbConfig { return b.cfg }

// Compute feeds one bar and returns the updated bands, or false until the
// window is full.
func (b *Bb) Compute(bar Ohlcv) (BandValue, bool) {
	b.window.add(bar)
	if b.window.ready() {
		mean := b.window.sum * b.lenRecip
		offset := math.Sqrt(b.window.variance()) * b.mult
		b.current = BandValue{
			Upper:  mean + offset,
			Middle: mean,
			Lower:  mean - offset,
		}
		b.ok = true
	}
	return b.current, b.ok
}

// Value returns the last computed bands without consuming a bar.
func (b *Bb) Value() (BandValue, bool) {
	return b.current, b.ok
}
