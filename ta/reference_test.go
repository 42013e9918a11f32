package ta

import (
	"math"
	"testing"
)

// refBars builds a deterministic hourly series long enough to push every
// indicator well past convergence. The shape mixes a slow swing, a fast
// swing and a small sawtooth so windows see both trend and chop.
func refBars(n int) []Bar {
	bars := make([]Bar, n)
	prevClose := 100.0
	for i := 0; i < n; i++ {
		c := 100 +
			10*math.Sin(float64(i)/50) +
			4*math.Sin(float64(i)/12) +
			0.1*float64(i%13)
		o := prevClose
		h := math.Max(o, c) + 0.6
		l := math.Min(o, c) - 0.4
		bars[i] = Bar{
			O: o, H: h, L: l, C: c, V: 1000 + float64(i%7)*250,
			T: 1700000000000 + uint64(i)*3600000,
		}
		prevClose = c
	}
	return bars
}

// Batch oracles, recomputed from scratch per bar. Slow but obviously
// correct, which is the point.

func oracleSMA(prices []float64, length int) (float64, bool) {
	if len(prices) < length {
		return 0, false
	}
	sum := 0.0
	for _, p := range prices[len(prices)-length:] {
		sum += p
	}
	return sum / float64(length), true
}

func oracleEMA(prices []float64, length int) (float64, bool) {
	if len(prices) < length {
		return 0, false
	}
	seed := 0.0
	for _, p := range prices[:length] {
		seed += p
	}
	v := seed / float64(length)
	alpha := 2.0 / float64(length+1)
	for _, p := range prices[length:] {
		v = alpha*(p-v) + v
	}
	return v, true
}

func oracleRSI(prices []float64, length int) (float64, bool) {
	if len(prices) < length+1 {
		return 0, false
	}
	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= length; i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(length)
	avgLoss /= float64(length)
	for i := length + 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(length-1) + gain) / float64(length)
		avgLoss = (avgLoss*float64(length-1) + loss) / float64(length)
	}
	if avgLoss == 0 {
		return 100, true
	}
	return 100 - 100/(1+avgGain/avgLoss), true
}

func oracleBB(prices []float64, length int, k float64) (BandValue, bool) {
	if len(prices) < length {
		return BandValue{}, false
	}
	win := prices[len(prices)-length:]
	mean := 0.0
	for _, p := range win {
		mean += p
	}
	mean /= float64(length)
	variance := 0.0
	for _, p := range win {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(length)
	off := k * math.Sqrt(variance)
	return BandValue{Upper: mean + off, Middle: mean, Lower: mean - off}, true
}

func TestSMA_MatchesOracleOverLongSeries(t *testing.T) {
	bars := refBars(744)
	sma, _ := NewSma(SmaConfig{Length: 20})

	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		closes = append(closes, b.C)
		got, ok := sma.Compute(b)
		want, wok := oracleSMA(closes, 20)
		if ok != wok {
			t.Fatalf("bar %d: presence %v, oracle %v", len(closes), ok, wok)
		}
		if ok {
			assertClose(t, "SMA vs oracle", got, want, 1e-7)
		}
	}
}

func TestSMA_HLC3_MatchesOracle(t *testing.T) {
	bars := refBars(200)
	sma, _ := NewSma(SmaConfig{Length: 14, Source: HLC3})

	prices := make([]float64, 0, len(bars))
	for _, b := range bars {
		prices = append(prices, (b.H+b.L+b.C)/3)
		got, ok := sma.Compute(b)
		want, wok := oracleSMA(prices, 14)
		if ok != wok {
			t.Fatalf("bar %d: presence %v, oracle %v", len(prices), ok, wok)
		}
		if ok {
			assertClose(t, "SMA(hlc3) vs oracle", got, want, 1e-7)
		}
	}
}

func TestSMA_TrueRange_MatchesOracle(t *testing.T) {
	// SMA over true range is an ATR-style average.
	bars := refBars(200)
	sma, _ := NewSma(SmaConfig{Length: 14, Source: TrueRange})

	trs := make([]float64, 0, len(bars))
	for i, b := range bars {
		tr := b.H - b.L
		if i > 0 {
			pc := bars[i-1].C
			tr = math.Max(tr, math.Max(math.Abs(b.H-pc), math.Abs(b.L-pc)))
		}
		trs = append(trs, tr)
		got, ok := sma.Compute(b)
		want, wok := oracleSMA(trs, 14)
		if ok != wok {
			t.Fatalf("bar %d: presence %v, oracle %v", i+1, ok, wok)
		}
		if ok {
			assertClose(t, "SMA(tr) vs oracle", got, want, 1e-7)
		}
	}
}

func TestEMA_MatchesOracleOverLongSeries(t *testing.T) {
	bars := refBars(744)
	ema, _ := NewEma(EmaConfig{Length: 20})

	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		closes = append(closes, b.C)
		got, ok := ema.Compute(b)
		want, wok := oracleEMA(closes, 20)
		if ok != wok {
			t.Fatalf("bar %d: presence %v, oracle %v", len(closes), ok, wok)
		}
		if ok {
			assertClose(t, "EMA vs oracle", got, want, 1e-7)
		}
	}
}

func TestRSI_MatchesOracleOverLongSeries(t *testing.T) {
	bars := refBars(744)
	rsi, _ := NewRsi(RsiConfig{Length: 14})

	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		closes = append(closes, b.C)
		got, ok := rsi.Compute(b)
		want, wok := oracleRSI(closes, 14)
		if ok != wok {
			t.Fatalf("bar %d: presence %v, oracle %v", len(closes), ok, wok)
		}
		if ok {
			assertClose(t, "RSI vs oracle", got, want, 1e-6)
		}
	}
}

func TestBB_MatchesOracleOverLongSeries(t *testing.T) {
	bars := refBars(744)
	bb, _ := NewBb(BbConfig{Length: 20})

	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		closes = append(closes, b.C)
		got, ok := bb.Compute(b)
		want, wok := oracleBB(closes, 20, 2.0)
		if ok != wok {
			t.Fatalf("bar %d: presence %v, oracle %v", len(closes), ok, wok)
		}
		if ok {
			assertClose(t, "BB middle vs oracle", got.Middle, want.Middle, 1e-7)
			assertClose(t, "BB upper vs oracle", got.Upper, want.Upper, 1e-6)
			assertClose(t, "BB lower vs oracle", got.Lower, want.Lower, 1e-6)
		}
	}
}

func TestRepaint_LongSeriesEquivalence(t *testing.T) {
	// Every bar arrives as three forming ticks before its final value; the
	// closed-bar history must match a clean feed exactly.
	bars := refBars(300)

	emaR, _ := NewEma(EmaConfig{Length: 21})
	emaC, _ := NewEma(EmaConfig{Length: 21})
	rsiR, _ := NewRsi(RsiConfig{Length: 14})
	rsiC, _ := NewRsi(RsiConfig{Length: 14})

	for _, b := range bars {
		for _, tick := range []float64{b.C - 1.3, b.C + 0.7, b.C} {
			fb := b
			fb.C = tick
			fb.H = math.Max(fb.H, tick)
			fb.L = math.Min(fb.L, tick)
			emaR.Compute(fb)
			rsiR.Compute(fb)
		}
		emaC.Compute(b)
		rsiC.Compute(b)
	}

	ev1, _ := emaR.Value()
	ev2, _ := emaC.Value()
	assertClose(t, "EMA long repaint equivalence", ev1, ev2, 1e-9)
	rv1, _ := rsiR.Value()
	rv2, _ := rsiC.Value()
	assertClose(t, "RSI long repaint equivalence", rv1, rv2, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Benchmarks
// ────────────────────────────────────────────────────────────

func BenchmarkSMA_Compute(b *testing.B) {
	bars := refBars(1024)
	sma, _ := NewSma(SmaConfig{Length: 20})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sma.Compute(bars[i%len(bars)])
	}
}

func BenchmarkEMA_Compute(b *testing.B) {
	bars := refBars(1024)
	ema, _ := NewEma(EmaConfig{Length: 20})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ema.Compute(bars[i%len(bars)])
	}
}

func BenchmarkRSI_Compute(b *testing.B) {
	bars := refBars(1024)
	rsi, _ := NewRsi(RsiConfig{Length: 14})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rsi.Compute(bars[i%len(bars)])
	}
}

func BenchmarkBB_Compute(b *testing.B) {
	bars := refBars(1024)
	bb, _ := NewBb(BbConfig{Length: 20})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.Compute(bars[i%len(bars)])
	}
}
