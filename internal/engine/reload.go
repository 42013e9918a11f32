package engine

import "log"

// ReloadSpecs swaps in a new spec set while preserving accumulated state
// for indicators that survive the change. Matching is by name, so editing
// one spec only cold-starts that one instance per series.
// Returns how many instances were preserved plus the names of the specs
// that start cold, for targeted warm-up via ProcessNamed.
func (e *Engine) ReloadSpecs(newSpecs []Spec) (preserved int, created []string) {
	if specSetsEqual(e.specs, newSpecs) {
		e.specs = newSpecs
		for _, sr := range e.state {
			preserved += len(sr.runners)
		}
		log.Printf("[reload] specs unchanged, preserved %d instances across %d series",
			preserved, len(e.state))
		return preserved, nil
	}

	oldNames := make(map[string]bool, len(e.specs))
	for _, s := range e.specs {
		oldNames[s.Name()] = true
	}
	for _, s := range newSpecs {
		if !oldNames[s.Name()] {
			created = append(created, s.Name())
		}
	}

	for _, sr := range e.state {
		oldByName := make(map[string]*runner, len(sr.runners))
		for _, r := range sr.runners {
			oldByName[r.name] = r
		}

		runners := make([]*runner, 0, len(newSpecs))
		for _, spec := range newSpecs {
			name := spec.Name()
			if existing, ok := oldByName[name]; ok {
				runners = append(runners, existing)
				preserved++
				continue
			}
			r, err := newRunner(spec)
			if err != nil {
				continue
			}
			runners = append(runners, r)
		}
		sr.runners = runners
	}

	e.specs = newSpecs
	log.Printf("[reload] specs reloaded: %d specs, %d preserved, %d new",
		len(newSpecs), preserved, len(created))
	return preserved, created
}

// specSetsEqual reports whether two spec slices describe the same set of
// indicators, order-independent.
func specSetsEqual(a, b []Spec) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s.Name()] = true
	}
	for _, s := range b {
		if !set[s.Name()] {
			return false
		}
	}
	return true
}
