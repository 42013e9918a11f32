package ta

import "testing"

func TestPriceWindow_FillThenSlide(t *testing.T) {
	w := newPriceWindow(3, Close)

	w.add(tbar(1, 10))
	w.add(tbar(2, 20))
	if w.ready() {
		t.Fatal("window should not be ready with 2 of 3 entries")
	}
	w.add(tbar(3, 30))
	if !w.ready() {
		t.Fatal("window should be ready")
	}
	assertClose(t, "sum after fill", w.sum, 60, 1e-9)
	assertClose(t, "mean after fill", w.mean(), 20, 1e-9)

	// Slide: evicts 10, admits 40.
	w.add(tbar(4, 40))
	assertClose(t, "sum after slide", w.sum, 90, 1e-9)
	assertClose(t, "mean after slide", w.mean(), 30, 1e-9)
}

func TestPriceWindow_RepaintReplacesNewest(t *testing.T) {
	w := newPriceWindow(3, Close)
	w.add(tbar(1, 10))
	w.add(tbar(2, 20))
	w.add(tbar(2, 25)) // repaint while filling
	if w.count != 2 {
		t.Fatalf("repaint must not grow the window: count=%d", w.count)
	}
	assertClose(t, "sum after fill repaint", w.sum, 35, 1e-9)

	w.add(tbar(3, 30))
	w.add(tbar(4, 40))
	w.add(tbar(4, 45)) // repaint while full
	if w.count != 3 {
		t.Fatalf("count=%d, want 3", w.count)
	}
	assertClose(t, "sum after full repaint", w.sum, 25+30+45, 1e-9)

	got := w.values()
	want := []float64{25, 30, 45}
	for i := range want {
		assertClose(t, "values order", got[i], want[i], 1e-9)
	}
}

func TestPriceWindow_SizeOne(t *testing.T) {
	w := newPriceWindow(1, Close)
	w.add(tbar(1, 10))
	if !w.ready() {
		t.Fatal("size-1 window ready after one bar")
	}
	assertClose(t, "size-1 mean", w.mean(), 10, 1e-9)
	w.add(tbar(1, 15))
	assertClose(t, "size-1 repaint", w.mean(), 15, 1e-9)
	w.add(tbar(2, 20))
	assertClose(t, "size-1 advance", w.mean(), 20, 1e-9)
}

func TestPriceWindow_Variance(t *testing.T) {
	w := newPriceWindowWithSumSq(4, Close)
	for i, p := range []float64{2, 4, 4, 6} {
		w.add(tbar(uint64(i+1), p))
	}
	// mean = 4, population variance = (4+0+0+4)/4 = 2
	assertClose(t, "variance", w.variance(), 2.0, 1e-9)

	// Identical values: cancellation must clamp at zero, never negative.
	w2 := newPriceWindowWithSumSq(3, Close)
	for i := 1; i <= 5; i++ {
		w2.add(tbar(uint64(i), 1234.5678))
	}
	if v := w2.variance(); v < 0 {
		t.Fatalf("variance went negative: %g", v)
	}
}

func TestPriceWindow_TrueRangePrevClose(t *testing.T) {
	// TR reads the close of the bar before the current one. A repaint of
	// the current bar must keep using that same prior close.
	w := newPriceWindow(2, TrueRange)

	// Bar 1: no prior close, TR = high − low = 2.
	w.add(Bar{O: 10, H: 11, L: 9, C: 10.5, T: 1})
	assertClose(t, "first TR", w.values()[0], 2, 1e-9)

	// Bar 2: prevClose = 10.5. high=14, low=12 → TR = max(2, 3.5, 1.5) = 3.5
	w.add(Bar{O: 12, H: 14, L: 12, C: 13, T: 2})
	assertClose(t, "TR with gap up", w.values()[1], 3.5, 1e-9)

	// Repaint bar 2 with a wider range. prevClose is still 10.5.
	// high=15, low=11 → TR = max(4, 4.5, 0.5) = 4.5
	w.add(Bar{O: 12, H: 15, L: 11, C: 12, T: 2})
	assertClose(t, "TR after repaint", w.values()[1], 4.5, 1e-9)

	// Advance: prevClose becomes bar 2's final close (12), not 13.
	// high=12.5, low=11.5 → TR = max(1, 0.5, 0.5) = 1
	w.add(Bar{O: 12, H: 12.5, L: 11.5, C: 12, T: 3})
	assertClose(t, "TR uses repainted close", w.values()[1], 1, 1e-9)
}

func TestPriceWindow_ValuesRoundTrip(t *testing.T) {
	w := newPriceWindowWithSumSq(4, Close)
	for i, p := range []float64{5, 7, 9, 11, 13} { // one eviction
		w.add(tbar(uint64(i+1), p))
	}

	w2 := newPriceWindowWithSumSq(4, Close)
	w2.setValues(w.values())
	assertClose(t, "restored sum", w2.sum, w.sum, 1e-9)
	assertClose(t, "restored sumSq", w2.sumSq, w.sumSq, 1e-9)
	if w2.count != w.count {
		t.Fatalf("restored count=%d, want %d", w2.count, w.count)
	}

	// Partial fill round trip keeps the write cursor consistent.
	w3 := newPriceWindow(5, Close)
	w3.add(tbar(1, 1))
	w3.add(tbar(2, 2))
	w4 := newPriceWindow(5, Close)
	w4.setValues(w3.values())
	w4.add(tbar(3, 3))
	got := w4.values()
	want := []float64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("values len=%d, want %d", len(got), len(want))
	}
	for i := range want {
		assertClose(t, "partial round trip", got[i], want[i], 1e-9)
	}
}
