package ta

import (
	"encoding/json"
	"testing"
)

// roundTrip serializes through JSON to exercise the wire form, not just the
// in-memory struct copy.
func roundTrip(t *testing.T, snap Snapshot) Snapshot {
	t.Helper()
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var out Snapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestSMA_SnapshotRoundTrip(t *testing.T) {
	sma, _ := NewSma(SmaConfig{Length: 5})
	for i, p := range []float64{100, 102, 104, 103, 105, 101} {
		sma.Compute(tbar(uint64(i+1), p))
	}

	sma2, _ := NewSma(SmaConfig{Length: 5})
	if err := sma2.RestoreSnapshot(roundTrip(t, sma.Snapshot())); err != nil {
		t.Fatal(err)
	}

	v1, _ := sma.Value()
	v2, ok := sma2.Value()
	assertPresent(t, "restored SMA", ok)
	assertClose(t, "SMA round trip", v2, v1, 1e-12)

	// Restored instance must keep tracking, repaints included.
	sma.Compute(tbar(6, 99)) // repaint of last bar
	sma2.Compute(tbar(6, 99))
	sma.Compute(tbar(7, 107))
	sma2.Compute(tbar(7, 107))
	v1, _ = sma.Value()
	v2, _ = sma2.Value()
	assertClose(t, "SMA post-restore tracking", v2, v1, 1e-12)
}

func TestEMA_SnapshotRoundTrip_Active(t *testing.T) {
	ema, _ := NewEma(EmaConfig{Length: 5})
	for i, p := range []float64{100, 102, 104, 103, 105, 101, 106} {
		ema.Compute(tbar(uint64(i+1), p))
	}

	ema2, _ := NewEma(EmaConfig{Length: 5})
	if err := ema2.RestoreSnapshot(roundTrip(t, ema.Snapshot())); err != nil {
		t.Fatal(err)
	}

	v1, _ := ema.Value()
	v2, ok := ema2.Value()
	assertPresent(t, "restored EMA", ok)
	assertClose(t, "EMA round trip", v2, v1, 1e-12)

	ema.Compute(tbar(7, 104)) // repaint
	ema2.Compute(tbar(7, 104))
	ema.Compute(tbar(8, 108))
	ema2.Compute(tbar(8, 108))
	v1, _ = ema.Value()
	v2, _ = ema2.Value()
	assertClose(t, "EMA post-restore tracking", v2, v1, 1e-12)
}

func TestEMA_SnapshotRoundTrip_MidSeeding(t *testing.T) {
	// Checkpoint taken while the seed SMA is still accumulating.
	ema, _ := NewEma(EmaConfig{Length: 5})
	ema.Compute(tbar(1, 100))
	ema.Compute(tbar(2, 102))
	ema.Compute(tbar(3, 104))

	ema2, _ := NewEma(EmaConfig{Length: 5})
	if err := ema2.RestoreSnapshot(roundTrip(t, ema.Snapshot())); err != nil {
		t.Fatal(err)
	}

	// Finish seeding on both and run a few live bars.
	for i, p := range []float64{103, 105, 101, 106} {
		b := tbar(uint64(i+4), p)
		ema.Compute(b)
		ema2.Compute(b)
	}
	v1, ok1 := ema.Value()
	v2, ok2 := ema2.Value()
	if ok1 != ok2 {
		t.Fatalf("presence diverged: %v vs %v", ok1, ok2)
	}
	assertClose(t, "EMA mid-seed round trip", v2, v1, 1e-12)
}

func TestEMA_SnapshotPreservesConvergenceGate(t *testing.T) {
	ema, _ := NewEma(EmaConfig{Length: 3, EnforceConvergence: true})
	for i := 1; i <= 6; i++ { // converges at bar 12, still gated here
		ema.Compute(tbar(uint64(i), 100+float64(i)))
	}
	if _, ok := ema.Value(); ok {
		t.Fatal("EMA should still be gated")
	}

	ema2, _ := NewEma(EmaConfig{Length: 3, EnforceConvergence: true})
	if err := ema2.RestoreSnapshot(roundTrip(t, ema.Snapshot())); err != nil {
		t.Fatal(err)
	}
	if _, ok := ema2.Value(); ok {
		t.Fatal("restored EMA should still be gated")
	}

	for i := 7; i <= 12; i++ {
		b := tbar(uint64(i), 100+float64(i))
		ema.Compute(b)
		ema2.Compute(b)
	}
	v1, ok1 := ema.Value()
	v2, ok2 := ema2.Value()
	assertPresent(t, "EMA converged", ok1)
	assertPresent(t, "restored EMA converged", ok2)
	assertClose(t, "EMA gate round trip", v2, v1, 1e-12)
}

func TestBB_SnapshotRoundTrip(t *testing.T) {
	bb, _ := NewBb(BbConfig{Length: 4, StdDev: 2.5})
	for i, p := range []float64{50, 51.2, 49.8, 52.3, 50.9} {
		bb.Compute(tbar(uint64(i+1), p))
	}

	bb2, _ := NewBb(BbConfig{Length: 4, StdDev: 2.5})
	if err := bb2.RestoreSnapshot(roundTrip(t, bb.Snapshot())); err != nil {
		t.Fatal(err)
	}

	v1, _ := bb.Value()
	v2, ok := bb2.Value()
	assertPresent(t, "restored BB", ok)
	assertClose(t, "BB middle round trip", v2.Middle, v1.Middle, 1e-12)
	assertClose(t, "BB upper round trip", v2.Upper, v1.Upper, 1e-12)
	assertClose(t, "BB lower round trip", v2.Lower, v1.Lower, 1e-12)

	bb.Compute(tbar(6, 53.4))
	bb2.Compute(tbar(6, 53.4))
	v1, _ = bb.Value()
	v2, _ = bb2.Value()
	assertClose(t, "BB post-restore tracking", v2.Upper, v1.Upper, 1e-12)
}

func TestRSI_SnapshotRoundTrip_Active(t *testing.T) {
	prices := []float64{44.00, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10}
	rsi, _ := NewRsi(RsiConfig{Length: 5})
	for i, p := range prices {
		rsi.Compute(tbar(uint64(i+1), p))
	}

	rsi2, _ := NewRsi(RsiConfig{Length: 5})
	if err := rsi2.RestoreSnapshot(roundTrip(t, rsi.Snapshot())); err != nil {
		t.Fatal(err)
	}

	v1, _ := rsi.Value()
	v2, ok := rsi2.Value()
	assertPresent(t, "restored RSI", ok)
	assertClose(t, "RSI round trip", v2, v1, 1e-12)

	// Repaint then advance on both.
	rsi.Compute(tbar(7, 45.30))
	rsi2.Compute(tbar(7, 45.30))
	rsi.Compute(tbar(8, 45.42))
	rsi2.Compute(tbar(8, 45.42))
	v1, _ = rsi.Value()
	v2, _ = rsi2.Value()
	assertClose(t, "RSI post-restore tracking", v2, v1, 1e-12)
}

func TestRSI_SnapshotRoundTrip_MidSeeding(t *testing.T) {
	rsi, _ := NewRsi(RsiConfig{Length: 5})
	for i, p := range []float64{44.00, 44.34, 44.09} {
		rsi.Compute(tbar(uint64(i+1), p))
	}

	rsi2, _ := NewRsi(RsiConfig{Length: 5})
	if err := rsi2.RestoreSnapshot(roundTrip(t, rsi.Snapshot())); err != nil {
		t.Fatal(err)
	}

	for i, p := range []float64{43.61, 44.33, 44.83, 45.10} {
		b := tbar(uint64(i+4), p)
		rsi.Compute(b)
		rsi2.Compute(b)
	}
	v1, ok1 := rsi.Value()
	v2, ok2 := rsi2.Value()
	if ok1 != ok2 {
		t.Fatalf("presence diverged: %v vs %v", ok1, ok2)
	}
	assertClose(t, "RSI mid-seed round trip", v2, v1, 1e-12)
}

func TestSnapshot_RejectsMismatch(t *testing.T) {
	sma, _ := NewSma(SmaConfig{Length: 5})
	sma.Compute(tbar(1, 100))
	snap := sma.Snapshot()

	other, _ := NewSma(SmaConfig{Length: 10})
	if err := other.RestoreSnapshot(snap); err == nil {
		t.Error("length mismatch should be rejected")
	}

	bySrc, _ := NewSma(SmaConfig{Length: 5, Source: HL2})
	if err := bySrc.RestoreSnapshot(snap); err == nil {
		t.Error("source mismatch should be rejected")
	}

	ema, _ := NewEma(EmaConfig{Length: 5})
	if err := ema.RestoreSnapshot(snap); err == nil {
		t.Error("kind mismatch should be rejected")
	}

	// Oversized window payload.
	snap.Window.Values = []float64{1, 2, 3, 4, 5, 6, 7}
	fresh, _ := NewSma(SmaConfig{Length: 5})
	if err := fresh.RestoreSnapshot(snap); err == nil {
		t.Error("oversized window should be rejected")
	}
}
