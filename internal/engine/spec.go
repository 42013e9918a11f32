package engine

import (
	"fmt"
	"strconv"
	"strings"

	"quantedge-ta/ta"
)

// Known indicator kinds.
const (
	KindSMA = "SMA"
	KindEMA = "EMA"
	KindBB  = "BB"
	KindRSI = "RSI"
)

// Spec describes a single indicator instance to run per series.
type Spec struct {
	Kind   string // "SMA", "EMA", "BB", "RSI"
	Length int
	Source ta.Source
	StdDev float64 // BB only; 0 means the default multiplier
	// EnforceConvergence withholds EMA output until the seed's residual
	// weight has decayed. Applied by the service from global config.
	EnforceConvergence bool
}

// Name returns the stable identifier used in stream keys and results,
// e.g. "SMA_20", "EMA_21_hl2", "BB_20_2.5", "RSI_14".
func (s Spec) Name() string {
	name := s.Kind + "_" + strconv.Itoa(s.Length)
	if s.Kind == KindBB && s.StdDev != 0 && s.StdDev != ta.DefaultStdDev {
		name += "_" + strconv.FormatFloat(s.StdDev, 'g', -1, 64)
	}
	if s.Source != ta.Close {
		name += "_" + s.Source.String()
	}
	return name
}

// ParseSpecs parses a comma-separated spec list as used in configuration,
// e.g. "SMA:20,EMA:21@hl2,BB:20:2.5,RSI:14,SMA:14@tr".
// Each entry is KIND:LENGTH[:STDDEV][@SOURCE]; STDDEV applies to BB only.
func ParseSpecs(raw string) ([]Spec, error) {
	var specs []Spec
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		var spec Spec
		if at := strings.IndexByte(entry, '@'); at >= 0 {
			src, err := ta.ParseSource(entry[at+1:])
			if err != nil {
				return nil, fmt.Errorf("spec %q: %w", entry, err)
			}
			spec.Source = src
			entry = entry[:at]
		}

		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("spec %q: want KIND:LENGTH[:STDDEV]", entry)
		}
		spec.Kind = strings.ToUpper(strings.TrimSpace(parts[0]))
		length, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("spec %q: bad length: %w", entry, err)
		}
		spec.Length = length

		if len(parts) == 3 {
			if spec.Kind != KindBB {
				return nil, fmt.Errorf("spec %q: only BB takes a stddev multiplier", entry)
			}
			k, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
			if err != nil {
				return nil, fmt.Errorf("spec %q: bad stddev: %w", entry, err)
			}
			spec.StdDev = k
		}

		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no indicator specs in %q", raw)
	}
	return specs, nil
}

// ValidateSpecs checks a spec set for errors, including duplicate names.
func ValidateSpecs(specs []Spec) error {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		switch s.Kind {
		case KindSMA, KindEMA, KindBB, KindRSI:
		default:
			return fmt.Errorf("unknown indicator kind %q", s.Kind)
		}
		if s.Length <= 0 {
			return fmt.Errorf("invalid length=%d for %s", s.Length, s.Kind)
		}
		if s.StdDev != 0 && s.Kind != KindBB {
			return fmt.Errorf("stddev set on non-BB spec %s", s.Name())
		}
		name := s.Name()
		if seen[name] {
			return fmt.Errorf("duplicate indicator spec %s", name)
		}
		seen[name] = true
	}
	return nil
}

// warmupBars returns how many closed bars this spec needs before it can
// produce output, used to size backfill reads.
func (s Spec) warmupBars() int {
	switch s.Kind {
	case KindRSI:
		return s.Length + 1
	case KindEMA:
		return ta.EmaConfig{Length: s.Length, EnforceConvergence: s.EnforceConvergence}.RequiredBarsToConverge()
	default:
		return s.Length
	}
}
