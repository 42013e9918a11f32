package engine

import (
	"encoding/json"
	"log"
	"strconv"

	"quantedge-ta/ta"
)

// SeriesSnapshot holds indicator snapshots for a single symbol+interval.
type SeriesSnapshot struct {
	Symbol     string        `json:"symbol"`
	Interval   string        `json:"interval"`
	Indicators []ta.Snapshot `json:"indicators"`
}

// EngineSnapshot holds the full state of the engine at a checkpoint.
type EngineSnapshot struct {
	StreamID string           `json:"stream_id"` // bar stream position at checkpoint time
	Series   []SeriesSnapshot `json:"series"`
	Version  int              `json:"version"` // schema version for forward compat
}

// Marshal serializes the snapshot to JSON.
func (es *EngineSnapshot) Marshal() ([]byte, error) {
	return json.Marshal(es)
}

// UnmarshalSnapshot parses an engine snapshot from JSON.
func UnmarshalSnapshot(data []byte) (*EngineSnapshot, error) {
	var es EngineSnapshot
	if err := json.Unmarshal(data, &es); err != nil {
		return nil, err
	}
	return &es, nil
}

// Snapshot captures the full engine state. streamID records the consumer's
// position so replay can resume from the right spot.
func (e *Engine) Snapshot(streamID string) *EngineSnapshot {
	snap := &EngineSnapshot{
		StreamID: streamID,
		Version:  1,
		Series:   make([]SeriesSnapshot, 0, len(e.state)),
	}

	for key, sr := range e.state {
		ss := SeriesSnapshot{
			Indicators: make([]ta.Snapshot, 0, len(sr.runners)),
		}
		ss.Symbol, ss.Interval = splitSeriesKey(key)
		for _, r := range sr.runners {
			if s, ok := r.snapshot(); ok {
				ss.Indicators = append(ss.Indicators, s)
			}
		}
		snap.Series = append(snap.Series, ss)
	}
	return snap
}

// RestoreEngine rebuilds an engine from a snapshot. It is tolerant of spec
// changes: indicators are matched by name rather than by index, so matching
// ones get their state back, new ones start cold and removed ones are
// silently dropped.
func RestoreEngine(specs []Spec, snap *EngineSnapshot) *Engine {
	e := NewEngine(specs)

	for _, ss := range snap.Series {
		sr := e.createSeries()

		// Lookup keyed by kind:length:source, the identity the core
		// snapshot validation checks. The band multiplier is not part of
		// the key; a BB restored across multipliers recomputes its bands
		// on the next bar.
		lookup := make(map[string]ta.Snapshot, len(ss.Indicators))
		for _, s := range ss.Indicators {
			lookup[s.Kind+":"+strconv.Itoa(s.Length)+":"+s.Source] = s
		}

		restored, cold := 0, 0
		for _, r := range sr.runners {
			s, found := lookup[r.matchKey()]
			if !found {
				cold++
				continue
			}
			if err := r.restore(s); err != nil {
				// Non-fatal: leave this instance cold.
				cold++
				continue
			}
			restored++
		}
		if cold > 0 {
			log.Printf("[engine] series %s:%s: restored %d, cold-started %d indicators",
				ss.Symbol, ss.Interval, restored, cold)
		}

		e.state[ss.Symbol+":"+ss.Interval] = sr
	}
	return e
}

// matchKey identifies a runner for snapshot matching: kind:length:source.
func (r *runner) matchKey() string {
	return r.spec.Kind + ":" + strconv.Itoa(r.spec.Length) + ":" + r.spec.Source.String()
}

func splitSeriesKey(key string) (symbol, interval string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
