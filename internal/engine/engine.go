package engine

import (
	"fmt"
	"log"

	"quantedge-ta/internal/model"
	"quantedge-ta/ta"
)

// runner binds one indicator instance to its spec and precomputed name.
// Exactly one of scalar or band is set.
type runner struct {
	spec   Spec
	name   string
	scalar ta.Indicator[float64]
	band   *ta.Bb
}

// snapshotter is implemented by all core indicator types.
type snapshotter interface {
	Snapshot() ta.Snapshot
	RestoreSnapshot(ta.Snapshot) error
}

func newRunner(spec Spec) (*runner, error) {
	r := &runner{spec: spec, name: spec.Name()}
	var err error
	switch spec.Kind {
	case KindSMA:
		r.scalar, err = ta.NewSma(ta.SmaConfig{Length: spec.Length, Source: spec.Source})
	case KindEMA:
		r.scalar, err = ta.NewEma(ta.EmaConfig{
			Length:             spec.Length,
			Source:             spec.Source,
			EnforceConvergence: spec.EnforceConvergence,
		})
	case KindRSI:
		r.scalar, err = ta.NewRsi(ta.RsiConfig{Length: spec.Length, Source: spec.Source})
	case KindBB:
		r.band, err = ta.NewBb(ta.BbConfig{Length: spec.Length, Source: spec.Source, StdDev: spec.StdDev})
	default:
		err = fmt.Errorf("unknown indicator kind %q", spec.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("spec %s: %w", r.name, err)
	}
	return r, nil
}

// compute feeds one bar and fills the value fields of a result.
func (r *runner) compute(b ta.Ohlcv, res *model.Result) {
	res.Name = r.name
	if r.band != nil {
		v, ok := r.band.Compute(b)
		res.Value, res.Upper, res.Lower = v.Middle, v.Upper, v.Lower
		res.Ready = ok
		return
	}
	v, ok := r.scalar.Compute(b)
	res.Value = v
	res.Ready = ok
}

func (r *runner) snapshot() (ta.Snapshot, bool) {
	if r.band != nil {
		return r.band.Snapshot(), true
	}
	s, ok := r.scalar.(snapshotter)
	if !ok {
		return ta.Snapshot{}, false
	}
	return s.Snapshot(), true
}

func (r *runner) restore(snap ta.Snapshot) error {
	if r.band != nil {
		return r.band.RestoreSnapshot(snap)
	}
	s, ok := r.scalar.(snapshotter)
	if !ok {
		return fmt.Errorf("indicator %s does not support snapshots", r.name)
	}
	return s.RestoreSnapshot(snap)
}

// seriesRunners holds the live indicator instances for one symbol+interval.
type seriesRunners struct {
	runners []*runner
}

// Engine computes a fixed set of indicators across many series. Bars for a
// series must arrive in order; forming bars repaint, closed bars advance.
// Designed for single-goroutine usage, no locks needed.
type Engine struct {
	specs []Spec

	// state[bar.Key()] → per-series instances, created lazily.
	state map[string]*seriesRunners
}

// NewEngine creates an engine for the given validated specs.
func NewEngine(specs []Spec) *Engine {
	return &Engine{
		specs: specs,
		state: make(map[string]*seriesRunners, 64),
	}
}

// Specs returns the currently configured specs.
func (e *Engine) Specs() []Spec { return e.specs }

// SeriesCount returns how many symbol+interval series have live state.
func (e *Engine) SeriesCount() int { return len(e.state) }

// HasSeries reports whether the series identified by a bar key
// ("symbol:interval") already has live indicator state.
func (e *Engine) HasSeries(key string) bool {
	_, ok := e.state[key]
	return ok
}

// Process feeds one bar (forming or closed) and returns a result per
// configured indicator. Results from forming bars are marked Live.
func (e *Engine) Process(bar model.Bar) []model.Result {
	key := bar.Key()
	sr, exists := e.state[key]
	if !exists {
		sr = e.createSeries()
		e.state[key] = sr
	}

	tb := ta.Bar{
		O: bar.Open, H: bar.High, L: bar.Low, C: bar.Close,
		V: bar.Volume, T: bar.OpenTime,
	}

	results := make([]model.Result, len(sr.runners))
	for i, r := range sr.runners {
		res := &results[i]
		res.Symbol = bar.Symbol
		res.Interval = bar.Interval
		res.OpenTime = bar.OpenTime
		res.Live = bar.Forming
		r.compute(tb, res)
	}
	return results
}

// ProcessNamed feeds one bar only to the named indicator instances and
// returns their results. Instances not in names never see the bar, so
// replaying history to warm up freshly created indicators cannot repaint
// the windows of converged ones.
func (e *Engine) ProcessNamed(bar model.Bar, names map[string]bool) []model.Result {
	key := bar.Key()
	sr, exists := e.state[key]
	if !exists {
		sr = e.createSeries()
		e.state[key] = sr
	}

	tb := ta.Bar{
		O: bar.Open, H: bar.High, L: bar.Low, C: bar.Close,
		V: bar.Volume, T: bar.OpenTime,
	}

	var results []model.Result
	for _, r := range sr.runners {
		if !names[r.name] {
			continue
		}
		var res model.Result
		res.Symbol = bar.Symbol
		res.Interval = bar.Interval
		res.OpenTime = bar.OpenTime
		res.Live = bar.Forming
		r.compute(tb, &res)
		results = append(results, res)
	}
	return results
}

// createSeries creates fresh indicator instances for one series. Specs are
// validated up front, so construction errors cannot happen here; a spec
// that still fails to build is dropped rather than replaced, so a result
// name always means the indicator it says.
func (e *Engine) createSeries() *seriesRunners {
	runners := make([]*runner, 0, len(e.specs))
	for _, spec := range e.specs {
		r, err := newRunner(spec)
		if err != nil {
			log.Printf("[engine] dropping unbuildable spec %s: %v", spec.Name(), err)
			continue
		}
		runners = append(runners, r)
	}
	return &seriesRunners{runners: runners}
}
