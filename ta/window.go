package ta

// priceWindow is a fixed-capacity rolling window over extracted prices with
// O(1) running sum (and, when enabled, sum of squares). It owns the bar
// boundary detection shared by all window indicators: a bar with the same
// open time as the last one replaces the newest entry, a greater open time
// pushes a new entry and evicts the oldest once full.
//
// Uses a preallocated circular buffer for a zero-allocation hot path.
type priceWindow struct {
	size   int
	source Source

	buf   []float64 // circular, oldest at idx once count >= size
	idx   int       // next write position
	count int       // entries currently held (≤ size)

	// Maintained incrementally via add/subtract. May accumulate FP
	// rounding drift over very long runs, negligible for typical window
	// sizes on financial data.
	sum     float64
	sumSq   float64
	trackSq bool

	// curClose becomes prevClose when the window advances; TrueRange is
	// the only source that reads prevClose.
	curClose    float64
	hasCurClose bool
	prevClose   float64
	hasPrev     bool

	lastOpenTime uint64
	seen         bool
}

func newPriceWindow(size int, source Source) *priceWindow {
	return &priceWindow{
		size:   size,
		source: source,
		buf:    make([]float64, size),
	}
}

func newPriceWindowWithSumSq(size int, source Source) *priceWindow {
	w := newPriceWindow(size, source)
	w.trackSq = true
	return w
}

// add folds one bar into the window, deciding replace vs advance from the
// bar's open time.
func (w *priceWindow) add(b Ohlcv) {
	advance := !w.seen || b.OpenTime() > w.lastOpenTime

	if advance {
		w.prevClose, w.hasPrev = w.curClose, w.hasCurClose
		w.lastOpenTime = b.OpenTime()
		w.seen = true
	}

	price := w.source.extract(b, w.prevClose, w.hasPrev)
	w.curClose, w.hasCurClose = b.Close(), true

	if advance {
		if w.count == w.size {
			// Full: overwrite the oldest entry in place.
			w.remove(w.buf[w.idx])
			w.buf[w.idx] = price
			w.idx = (w.idx + 1) % w.size
		} else {
			w.buf[w.idx] = price
			w.idx = (w.idx + 1) % w.size
			w.count++
		}
	} else {
		// Repaint: the first add is always an advance, so count > 0 here.
		last := (w.idx - 1 + w.size) % w.size
		w.remove(w.buf[last])
		w.buf[last] = price
	}

	w.sum += price
	if w.trackSq {
		w.sumSq += price * price
	}
}

func (w *priceWindow) remove(old float64) {
	w.sum -= old
	if w.trackSq {
		w.sumSq -= old * old
	}
}

func (w *priceWindow) ready() bool {
	return w.count == w.size
}

// mean returns sum/size; only meaningful once ready.
func (w *priceWindow) mean() float64 {
	return w.sum / float64(w.size)
}

// variance returns the population variance (divide by N), clamped to ≥ 0
// to absorb floating-point cancellation. Only meaningful once ready and
// with sum-of-squares tracking enabled.
func (w *priceWindow) variance() float64 {
	mean := w.mean()
	v := w.sumSq/float64(w.size) - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

// values returns the window contents oldest→newest, for snapshots.
func (w *priceWindow) values() []float64 {
	out := make([]float64, w.count)
	start := 0
	if w.count == w.size {
		start = w.idx
	}
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(start+i)%w.size]
	}
	return out
}

// setValues restores the window contents oldest→newest and rebuilds the
// running accumulators.
func (w *priceWindow) setValues(vals []float64) {
	w.buf = make([]float64, w.size)
	w.count = len(vals)
	w.sum, w.sumSq = 0, 0
	for i, v := range vals {
		w.buf[i] = v
		w.sum += v
		if w.trackSq {
			w.sumSq += v * v
		}
	}
	w.idx = w.count % w.size
}
