package ta

import "fmt"

// Snapshot kinds.
const (
	KindSma = "SMA"
	KindEma = "EMA"
	KindBb  = "BB"
	KindRsi = "RSI"
)

// Snapshot holds the serialized running state of one indicator instance,
// used for checkpoint persistence. Restoring is only valid onto an
// instance constructed with the same kind, length and source.
type Snapshot struct {
	Kind   string `json:"kind"`
	Length int    `json:"length"`
	Source string `json:"source"`

	Window *WindowSnapshot `json:"window,omitempty"`

	Current   *float64   `json:"current,omitempty"`
	Bands     *BandValue `json:"bands,omitempty"`
	Converged bool       `json:"converged,omitempty"`
	SeenBars  int        `json:"seen_bars,omitempty"`

	// Scalar-state repaint bookkeeping (EMA, RSI)
	LastOpenTime *uint64  `json:"last_open_time,omitempty"`
	CurClose     *float64 `json:"cur_close,omitempty"`
	PrevClose    *float64 `json:"prev_close,omitempty"`
	Previous     float64  `json:"previous,omitempty"`

	// RSI state
	Active      bool    `json:"active,omitempty"`
	SumGain     float64 `json:"sum_gain,omitempty"`
	SumLoss     float64 `json:"sum_loss,omitempty"`
	LastGain    float64 `json:"last_gain,omitempty"`
	LastLoss    float64 `json:"last_loss,omitempty"`
	PrevAvgGain float64 `json:"prev_avg_gain,omitempty"`
	PrevAvgLoss float64 `json:"prev_avg_loss,omitempty"`
	AvgGain     float64 `json:"avg_gain,omitempty"`
	AvgLoss     float64 `json:"avg_loss,omitempty"`
	PrevPrice   float64 `json:"prev_price,omitempty"`
	CurPrice    float64 `json:"cur_price,omitempty"`
}

// WindowSnapshot is the serialized state of a rolling window: its contents
// oldest→newest plus the bar boundary bookkeeping it owns.
type WindowSnapshot struct {
	Values       []float64 `json:"values"`
	CurClose     *float64  `json:"cur_close,omitempty"`
	PrevClose    *float64  `json:"prev_close,omitempty"`
	LastOpenTime *uint64   `json:"last_open_time,omitempty"`
}

func (s Snapshot) check(kind string, length int, source Source) error {
	if s.Kind != kind {
		return fmt.Errorf("snapshot kind mismatch: have %q, want %q", s.Kind, kind)
	}
	if s.Length != length {
		return fmt.Errorf("snapshot length mismatch: have %d, want %d", s.Length, length)
	}
	if s.Source != source.String() {
		return fmt.Errorf("snapshot source mismatch: have %q, want %q", s.Source, source)
	}
	return nil
}

func (w *priceWindow) snapshot() *WindowSnapshot {
	ws := &WindowSnapshot{Values: w.values()}
	if w.hasCurClose {
		ws.CurClose = ptr(w.curClose)
	}
	if w.hasPrev {
		ws.PrevClose = ptr(w.prevClose)
	}
	if w.seen {
		ws.LastOpenTime = ptr(w.lastOpenTime)
	}
	return ws
}

func (w *priceWindow) restore(ws *WindowSnapshot) error {
	if ws == nil {
		return fmt.Errorf("snapshot missing window state")
	}
	if len(ws.Values) > w.size {
		return fmt.Errorf("snapshot window has %d values, capacity %d", len(ws.Values), w.size)
	}
	w.setValues(ws.Values)
	w.curClose, w.hasCurClose = deref(ws.CurClose)
	w.prevClose, w.hasPrev = deref(ws.PrevClose)
	w.lastOpenTime, w.seen = deref(ws.LastOpenTime)
	return nil
}

// Snapshot serializes the SMA state.
func (s *Sma) Snapshot() Snapshot {
	snap := Snapshot{
		Kind:   KindSma,
		Length: s.cfg.Length,
		Source: s.cfg.Source.String(),
		Window: s.window.snapshot(),
	}
	if s.ok {
		snap.Current = ptr(s.current)
	}
	return snap
}

// RestoreSnapshot restores SMA state from a checkpoint taken from an
// identically configured instance.
func (s *Sma) RestoreSnapshot(snap Snapshot) error {
	if err := snap.check(KindSma, s.cfg.Length, s.cfg.Source); err != nil {
		return err
	}
	if err := s.window.restore(snap.Window); err != nil {
		return err
	}
	s.current, s.ok = deref(snap.Current)
	return nil
}

// Snapshot serializes the EMA state, including the seed SMA's window while
// the seeding phase is still running.
func (e *Ema) Snapshot() Snapshot {
	snap := Snapshot{
		Kind:      KindEma,
		Length:    e.cfg.Length,
		Source:    e.cfg.Source.String(),
		SeenBars:  e.seenBars,
		Converged: e.converged,
		Previous:  e.previous,
	}
	if e.seed != nil {
		snap.Window = e.seed.window.snapshot()
	}
	if e.hasCur {
		snap.Current = ptr(e.current)
	}
	if e.seen {
		snap.LastOpenTime = ptr(e.lastOpenTime)
	}
	if e.hasCurClose {
		snap.CurClose = ptr(e.curClose)
	}
	if e.hasPrev {
		snap.PrevClose = ptr(e.prevClose)
	}
	return snap
}

// RestoreSnapshot restores EMA state from a checkpoint taken from an
// identically configured instance.
func (e *Ema) RestoreSnapshot(snap Snapshot) error {
	if err := snap.check(KindEma, e.cfg.Length, e.cfg.Source); err != nil {
		return err
	}
	if snap.Window != nil {
		seed, err := NewSma(SmaConfig{Length: e.cfg.Length, Source: e.cfg.Source})
		if err != nil {
			return err
		}
		if err := seed.window.restore(snap.Window); err != nil {
			return err
		}
		if snap.Current != nil {
			seed.current, seed.ok = *snap.Current, true
		}
		e.seed = seed
	} else {
		e.seed = nil
	}
	e.previous = snap.Previous
	e.current, e.hasCur = deref(snap.Current)
	e.seenBars = snap.SeenBars
	e.converged = snap.Converged
	e.lastOpenTime, e.seen = deref(snap.LastOpenTime)
	e.curClose, e.hasCurClose = deref(snap.CurClose)
	e.prevClose, e.hasPrev = deref(snap.PrevClose)
	return nil
}

// Snapshot serializes the Bollinger Bands state.
func (b *Bb) Snapshot() Snapshot {
	snap := Snapshot{
		Kind:   KindBb,
		Length: b.cfg.Length,
		Source: b.cfg.Source.String(),
		Window: b.window.snapshot(),
	}
	if b.ok {
		v := b.current
		snap.Bands = &v
	}
	return snap
}

// RestoreSnapshot restores Bollinger Bands state from a checkpoint taken
// from an identically configured instance.
func (b *Bb) RestoreSnapshot(snap Snapshot) error {
	if err := snap.check(KindBb, b.cfg.Length, b.cfg.Source); err != nil {
		return err
	}
	if err := b.window.restore(snap.Window); err != nil {
		return err
	}
	if snap.Bands != nil {
		b.current, b.ok = *snap.Bands, true
	} else {
		b.current, b.ok = BandValue{}, false
	}
	return nil
}

// Snapshot serializes the RSI state.
func (r *Rsi) Snapshot() Snapshot {
	snap := Snapshot{
		Kind:        KindRsi,
		Length:      r.cfg.Length,
		Source:      r.cfg.Source.String(),
		SeenBars:    r.seenBars,
		Active:      r.active,
		SumGain:     r.sumGain,
		SumLoss:     r.sumLoss,
		LastGain:    r.lastGain,
		LastLoss:    r.lastLoss,
		PrevAvgGain: r.prevAvgGain,
		PrevAvgLoss: r.prevAvgLoss,
		AvgGain:     r.avgGain,
		AvgLoss:     r.avgLoss,
		PrevPrice:   r.prevPrice,
		CurPrice:    r.curPrice,
	}
	if r.hasCur {
		snap.Current = ptr(r.current)
	}
	if r.seen {
		snap.LastOpenTime = ptr(r.lastOpenTime)
	}
	if r.hasCurClose {
		snap.CurClose = ptr(r.curClose)
	}
	if r.hasPrev {
		snap.PrevClose = ptr(r.prevClose)
	}
	return snap
}

// RestoreSnapshot restores RSI state from a checkpoint taken from an
// identically configured instance.
func (r *Rsi) RestoreSnapshot(snap Snapshot) error {
	if err := snap.check(KindRsi, r.cfg.Length, r.cfg.Source); err != nil {
		return err
	}
	r.seenBars = snap.SeenBars
	r.active = snap.Active
	r.sumGain, r.sumLoss = snap.SumGain, snap.SumLoss
	r.lastGain, r.lastLoss = snap.LastGain, snap.LastLoss
	r.prevAvgGain, r.prevAvgLoss = snap.PrevAvgGain, snap.PrevAvgLoss
	r.avgGain, r.avgLoss = snap.AvgGain, snap.AvgLoss
	r.prevPrice, r.curPrice = snap.PrevPrice, snap.CurPrice
	r.current, r.hasCur = deref(snap.Current)
	r.lastOpenTime, r.seen = deref(snap.LastOpenTime)
	r.curClose, r.hasCurClose = deref(snap.CurClose)
	r.prevClose, r.hasPrev = deref(snap.PrevClose)
	return nil
}

func ptr[T any](v T) *T { return &v }

func deref[T any](p *T) (T, bool) {
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}
