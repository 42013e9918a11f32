package engine

import (
	"log"

	"quantedge-ta/internal/model"
)

// BarReader is the interface needed for backfill reads from durable storage.
type BarReader interface {
	ReadAllBars(afterOpenTime uint64) ([]model.Bar, error)
}

// Restorer orchestrates engine state restoration on startup. It follows a
// priority chain: Redis snapshot → SQLite backfill → cold start.
type Restorer struct {
	specs []Spec
}

// NewRestorer creates a Restorer for the given specs.
func NewRestorer(specs []Spec) *Restorer {
	return &Restorer{specs: specs}
}

// RestoreFromSnap builds an engine from a snapshot, or cold-starts when
// snap is nil.
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) *Engine {
	if snap == nil {
		log.Println("[restorer] no snapshot found, cold starting engine")
		return NewEngine(r.specs)
	}

	log.Printf("[restorer] restoring from snapshot (version=%d, streamID=%s, series=%d)",
		snap.Version, snap.StreamID, len(snap.Series))
	return RestoreEngine(r.specs, snap)
}

// Backfill reads historical bars from durable storage and feeds them into
// the engine to warm up cold indicators. Call after restore and before the
// live consumer starts. If onResults is non-nil it receives the results per
// bar, so history streams can be populated alongside.
func (r *Restorer) Backfill(e *Engine, reader BarReader, onResults func([]model.Result)) int {
	if reader == nil {
		return 0
	}

	// The slowest spec dictates how much history each series needs.
	need := 0
	for _, s := range r.specs {
		if w := s.warmupBars(); w > need {
			need = w
		}
	}
	if need == 0 {
		return 0
	}

	bars, err := reader.ReadAllBars(0)
	if err != nil {
		log.Printf("[restorer] WARNING: backfill read failed: %v", err)
		return 0
	}

	// Keep only the last `need` bars per series; older history adds nothing
	// once the windows are full. Series restored from the snapshot are
	// already warm: replaying seen bars would repaint their newest slot
	// against a window of later data, emitting wrong Ready values.
	bySeries := make(map[string][]model.Bar)
	for _, b := range bars {
		if b.Forming {
			continue
		}
		key := b.Key()
		if e.HasSeries(key) {
			continue
		}
		bySeries[key] = append(bySeries[key], b)
	}

	total := 0
	for key, series := range bySeries {
		if len(series) > need {
			series = series[len(series)-need:]
		}
		for _, b := range series {
			results := e.Process(b)
			if onResults != nil && len(results) > 0 {
				onResults(results)
			}
		}
		total += len(series)
		log.Printf("[restorer] backfilled %d bars for %s", len(series), key)
	}

	if total > 0 {
		log.Printf("[restorer] backfilled %d total bars from storage", total)
	}
	return total
}
