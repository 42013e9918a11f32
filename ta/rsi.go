package ta

import "fmt"

// RsiConfig configures an Rsi. Length is the smoothing length in bars and
// must be positive. The zero Source is Close.
//
// RSI uses Wilder's smoothing, which has infinite memory: the seed
// (simple mean of the first Length price changes) influences every
// subsequent value. Output begins at bar Length+1, one bar later than
// window indicators, because the first usable value needs a first delta
// plus Length subsequent deltas.
type RsiConfig struct {
	Length int
	Source Source
}

func (c RsiConfig) validate() error {
	if c.Length < 1 {
		return fmt.Errorf("rsi: length must be positive, got %d", c.Length)
	}
	if !c.Source.valid() {
		return fmt.Errorf("rsi: invalid price source %d", int(c.Source))
	}
	return nil
}

func (c RsiConfig) String() string {
	return fmt.Sprintf("RSI(%d, %s)", c.Length, c.Source)
}

// Rsi is the Relative Strength Index with Wilder's smoothing. It measures
// the speed and magnitude of recent price changes on a 0–100 scale;
// values above 70 are conventionally considered overbought, below 30
// oversold.
//
// After the seed, gains and losses are smoothed with
//
//	avgGain = (avgGain·(Length−1) + gain) / Length
//
// symmetric for losses, and RSI = 100 − 100/(1+RS) with RS =
// avgGain/avgLoss; RSI is 100 when avgLoss is 0. Repainting the current
// bar recomputes from the previous bar's averages without advancing.
type Rsi struct {
	cfg      RsiConfig
	lenRecip float64
	lenM1    float64

	prevPrice float64
	curPrice  float64

	// prev-close memory for the TrueRange source
	curClose    float64
	hasCurClose bool
	prevClose   float64
	hasPrev     bool

	// Seeding state: sums of the first Length gains/losses, with the
	// latest contribution retained so a repaint can undo-then-redo it.
	sumGain  float64
	sumLoss  float64
	lastGain float64
	lastLoss float64
	seenBars int

	// Active (Wilder) state: averages before the current bar are kept so
	// a repaint recomputes from them instead of compounding.
	active      bool
	prevAvgGain float64
	prevAvgLoss float64
	avgGain     float64
	avgLoss     float64

	current      float64
	hasCur       bool
	lastOpenTime uint64
	seen         bool
}

// NewRsi creates an RSI indicator, rejecting invalid configuration.
func NewRsi(cfg RsiConfig) (*Rsi, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Rsi{
		cfg:      cfg,
		lenRecip: 1 / float64(cfg.Length),
		lenM1:    float64(cfg.Length - 1),
	}, nil
}

// Config returns the configuration the indicator was built with.
func (r *Rsi) Config() RsiConfig { return r.cfg }

// Compute feeds one bar and returns the updated index, or false until the
// first Length price changes have been seen.
func (r *Rsi) Compute(b Ohlcv) (float64, bool) {
	advance := !r.seen || b.OpenTime() > r.lastOpenTime

	if advance {
		r.prevClose, r.hasPrev = r.curClose, r.hasCurClose
		r.prevPrice = r.curPrice
		r.lastOpenTime = b.OpenTime()
		r.seen = true
	}

	price := r.cfg.Source.extract(b, r.prevClose, r.hasPrev)
	r.curPrice = price
	r.curClose, r.hasCurClose = b.Close(), true

	switch {
	case r.active:
		if advance {
			r.prevAvgGain = r.avgGain
			r.prevAvgLoss = r.avgLoss
		}
		gain, loss := gainAndLoss(r.prevPrice, price)
		r.avgGain = (r.prevAvgGain*r.lenM1 + gain) * r.lenRecip
		r.avgLoss = (r.prevAvgLoss*r.lenM1 + loss) * r.lenRecip
		r.setCurrent(r.avgGain, r.avgLoss)

	case r.seenBars <= r.cfg.Length:
		// Seeding: accumulate the first Length deltas.
		if advance {
			if r.seenBars > 0 {
				r.lastGain, r.lastLoss = gainAndLoss(r.prevPrice, price)
				r.sumGain += r.lastGain
				r.sumLoss += r.lastLoss
			}
			r.seenBars++
		} else if r.seenBars > 1 {
			// Repaint: swap the latest delta's contribution.
			gain, loss := gainAndLoss(r.prevPrice, price)
			r.sumGain += gain - r.lastGain
			r.sumLoss += loss - r.lastLoss
			r.lastGain, r.lastLoss = gain, loss
		}
		if r.seenBars > r.cfg.Length {
			r.setCurrent(r.sumGain*r.lenRecip, r.sumLoss*r.lenRecip)
		}

	default:
		// Seeding complete; first advance switches to Wilder smoothing,
		// repaints of the seed-completing bar keep adjusting the sums.
		if advance {
			r.prevAvgGain = r.sumGain * r.lenRecip
			r.prevAvgLoss = r.sumLoss * r.lenRecip
			gain, loss := gainAndLoss(r.prevPrice, price)
			r.avgGain = (r.prevAvgGain*r.lenM1 + gain) * r.lenRecip
			r.avgLoss = (r.prevAvgLoss*r.lenM1 + loss) * r.lenRecip
			r.active = true
			r.setCurrent(r.avgGain, r.avgLoss)
		} else {
			gain, loss := gainAndLoss(r.prevPrice, price)
			r.sumGain += gain - r.lastGain
			r.sumLoss += loss - r.lastLoss
			r.lastGain, r.lastLoss = gain, loss
			r.setCurrent(r.sumGain*r.lenRecip, r.sumLoss*r.lenRecip)
		}
	}

	return r.Value()
}

// Value returns the last computed index without consuming a bar.
func (r *Rsi) Value() (float64, bool) {
	return r.current, r.hasCur
}

func (r *Rsi) setCurrent(avgGain, avgLoss float64) {
	r.current = rsiFromAverages(avgGain, avgLoss)
	r.hasCur = true
}

// rsiFromAverages maps smoothed averages to the 0–100 scale. avgLoss = 0
// means no downward movement in memory: RS is infinite and RSI is 100.
func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// gainAndLoss splits a price change into its positive and negative parts;
// one of the two is always zero.
func gainAndLoss(prev, cur float64) (gain, loss float64) {
	delta := cur - prev
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}
