package ta

import "fmt"

// SmaConfig configures an Sma. Length is the window size in bars and must
// be positive. The zero Source is Close.
type SmaConfig struct {
	Length int
	Source Source
}

func (c SmaConfig) validate() error {
	if c.Length < 1 {
		return fmt.Errorf("sma: length must be positive, got %d", c.Length)
	}
	if !c.Source.valid() {
		return fmt.Errorf("sma: invalid price source %d", int(c.Source))
	}
	return nil
}

func (c SmaConfig) String() string {
	return fmt.Sprintf("SMA(%d, %s)", c.Length, c.Source)
}

// Sma is a Simple Moving Average: the unweighted mean of the last Length
// prices. Output is absent until the window is full; a window of length 1
// converges on the first bar.
//
// Uses a running sum for O(1) updates. Feeding a bar with an unchanged
// open time replaces the newest window entry instead of advancing.
type Sma struct {
	cfg      SmaConfig
	window   *priceWindow
	lenRecip float64
	current  float64
	ok       bool
}

// NewSma creates an SMA indicator, rejecting invalid configuration.
func NewSma(cfg SmaConfig) (*Sma, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Sma{
		cfg:      cfg,
		window:   newPriceWindow(cfg.Length, cfg.Source),
		lenRecip: 1 / float64(cfg.Length),
	}, nil
}

// Config returns the configuration the indicator was built with.
func (s *Sma) Config() SmaConfig { return s.cfg }

// Compute feeds one bar and returns the updated average, or false until
// the window is full.
func (s *Sma) Compute(b Ohlcv) (float64, bool) {
	s.window.add(b)
	if s.window.ready() {
		s.current = s.window.sum * s.lenRecip
		s.ok = true
	}
	return s.current, s.ok
}

// Value returns the last computed average without consuming a bar.
func (s *Sma) Value() (float64, bool) {
	return s.current, s.ok
}
