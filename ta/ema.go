package ta

import "fmt"

// EmaConfig configures an Ema. Length is the smoothing length in bars and
// must be positive. The zero Source is Close.
//
// EMA has infinite memory: the seed value (SMA of the first Length bars)
// influences every subsequent value. With EnforceConvergence set, Compute
// withholds output until the seed's residual weight has decayed below 1%,
// which for α = 2/(Length+1) takes 3·(Length+1) bars from the start of
// the series. Without enforcement, output begins as soon as the seed
// exists, after Length bars.
type EmaConfig struct {
	Length             int
	Source             Source
	EnforceConvergence bool
}

func (c EmaConfig) validate() error {
	if c.Length < 1 {
		return fmt.Errorf("ema: length must be positive, got %d", c.Length)
	}
	if !c.Source.valid() {
		return fmt.Errorf("ema: invalid price source %d", int(c.Source))
	}
	return nil
}

func (c EmaConfig) String() string {
	return fmt.Sprintf("EMA(%d, %s)", c.Length, c.Source)
}

// RequiredBarsToConverge returns the number of bars from the start of the
// series until output is emitted: 3·(Length+1) when convergence is
// enforced, else Length. Callers can use it to pre-fetch enough history.
func (c EmaConfig) RequiredBarsToConverge() int {
	if c.EnforceConvergence {
		return 3 * (c.Length + 1)
	}
	return c.Length
}

// Ema is an Exponential Moving Average with the standard smoothing factor
// α = 2/(Length+1):
//
//	value = α·price + (1−α)·previous
//
// The first Length bars accumulate an SMA seed; after seeding the SMA
// state is dropped and the EMA runs in O(1) memory. Repainting the
// current bar recomputes from the retained pre-update value, which is
// discarded only when the bar advances.
type Ema struct {
	cfg   EmaConfig
	alpha float64

	seed *Sma // nil once the seeding phase is over

	previous float64 // converged value before the current bar
	current  float64
	hasCur   bool

	lastOpenTime uint64
	seen         bool
	seenBars     int
	converged    bool

	// prev-close memory for the TrueRange source
	curClose    float64
	hasCurClose bool
	prevClose   float64
	hasPrev     bool
}

// NewEma creates an EMA indicator, rejecting invalid configuration.
func NewEma(cfg EmaConfig) (*Ema, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	seed, err := NewSma(SmaConfig{Length: cfg.Length, Source: cfg.Source})
	if err != nil {
		return nil, err
	}
	return &Ema{
		cfg:   cfg,
		alpha: 2 / float64(cfg.Length+1),
		seed:  seed,
	}, nil
}

// Config returns the configuration the indicator was built with.
func (e *Ema) Config() EmaConfig { return e.cfg }

// Compute feeds one bar and returns the updated value, or false until the
// indicator has converged.
func (e *Ema) Compute(b Ohlcv) (float64, bool) {
	advance := !e.seen || b.OpenTime() > e.lastOpenTime

	// Drop the seed SMA on the first advance past the seeding phase.
	if e.seed != nil && advance && e.seenBars >= e.cfg.Length {
		e.seed = nil
	}

	if e.seed != nil {
		e.current, e.hasCur = e.seed.Compute(b)
	} else {
		if advance {
			e.prevClose, e.hasPrev = e.curClose, e.hasCurClose
			e.previous = e.current
		}
		price := e.cfg.Source.extract(b, e.prevClose, e.hasPrev)
		e.current = e.alpha*(price-e.previous) + e.previous
		e.hasCur = true
	}

	if advance {
		e.lastOpenTime = b.OpenTime()
		e.seen = true
		if !e.converged {
			e.seenBars++
			if e.seenBars >= e.cfg.RequiredBarsToConverge() {
				e.converged = true
			}
		}
	}
	e.curClose, e.hasCurClose = b.Close(), true

	return e.Value()
}

// Value returns the last computed value without consuming a bar.
func (e *Ema) Value() (float64, bool) {
	if !e.converged || !e.hasCur {
		return 0, false
	}
	return e.current, true
}
