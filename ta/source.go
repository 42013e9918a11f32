package ta

import (
	"fmt"
	"math"
	"strings"
)

// Source selects which price to extract from a bar before feeding it into
// an indicator. The zero value is Close.
type Source int

const (
	// Close is the closing price (default).
	Close Source = iota
	// Open is the opening price.
	Open
	// High is the highest price.
	High
	// Low is the lowest price.
	Low
	// HL2 is the median price: (high + low) / 2.
	HL2
	// HLC3 is the typical price: (high + low + close) / 3.
	HLC3
	// OHLC4 is the average price: (open + high + low + close) / 4.
	OHLC4
	// HLCC4 is the weighted close: (high + low + 2·close) / 4.
	HLCC4
	// TrueRange is max(high − low, |high − prevClose|, |low − prevClose|).
	// On the first bar there is no previous close and it falls back to
	// high − low.
	TrueRange
)

func (s Source) String() string {
	switch s {
	case Close:
		return "close"
	case Open:
		return "open"
	case High:
		return "high"
	case Low:
		return "low"
	case HL2:
		return "hl2"
	case HLC3:
		return "hlc3"
	case OHLC4:
		return "ohlc4"
	case HLCC4:
		return "hlcc4"
	case TrueRange:
		return "tr"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// ParseSource parses a price source name as used in configuration strings.
// Accepts the String() forms, case-insensitive, plus "truerange" for tr.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "close", "":
		return Close, nil
	case "open":
		return Open, nil
	case "high":
		return High, nil
	case "low":
		return Low, nil
	case "hl2":
		return HL2, nil
	case "hlc3":
		return HLC3, nil
	case "ohlc4":
		return OHLC4, nil
	case "hlcc4":
		return HLCC4, nil
	case "tr", "truerange":
		return TrueRange, nil
	}
	return Close, fmt.Errorf("unknown price source %q", s)
}

func (s Source) valid() bool {
	return s >= Close && s <= TrueRange
}

// extract returns the selected price for the bar. prevClose is the close of
// the preceding bar (hasPrev false on the very first bar); only TrueRange
// consumes it.
func (s Source) extract(b Ohlcv, prevClose float64, hasPrev bool) float64 {
	switch s {
	case Open:
		return b.Open()
	case High:
		return b.High()
	case Low:
		return b.Low()
	case HL2:
		return (b.High() + b.Low()) / 2
	case HLC3:
		return (b.High() + b.Low() + b.Close()) / 3
	case OHLC4:
		return (b.Open() + b.High() + b.Low() + b.Close()) / 4
	case HLCC4:
		return (b.High() + b.Low() + b.Close() + b.Close()) / 4
	case TrueRange:
		hl := b.High() - b.Low()
		if !hasPrev {
			return hl
		}
		hc := math.Abs(b.High() - prevClose)
		lc := math.Abs(b.Low() - prevClose)
		return math.Max(hl, math.Max(hc, lc))
	default:
		return b.Close()
	}
}
