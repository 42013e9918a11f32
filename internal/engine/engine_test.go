package engine

import (
	"math"
	"testing"

	"quantedge-ta/internal/model"
	"quantedge-ta/ta"
)

func makeBar(symbol string, openTime uint64, close float64) model.Bar {
	return model.Bar{
		Symbol:   symbol,
		Interval: "1m",
		OpenTime: openTime,
		Open:     close,
		High:     close + 1,
		Low:      close - 1,
		Close:    close,
		Volume:   100,
	}
}

func TestEngine_SMA20(t *testing.T) {
	e := NewEngine([]Spec{{Kind: KindSMA, Length: 20}})

	for i := 0; i < 25; i++ {
		results := e.Process(makeBar("BTCUSDT", uint64(i+1)*60000, 100.0))
		if len(results) != 1 {
			t.Fatalf("bar %d: expected 1 result, got %d", i, len(results))
		}
		r := results[0]
		if r.Name != "SMA_20" {
			t.Errorf("bar %d: expected name=SMA_20, got %s", i, r.Name)
		}
		if i < 19 {
			if r.Ready {
				t.Errorf("bar %d: expected Ready=false", i)
			}
			continue
		}
		if !r.Ready {
			t.Errorf("bar %d: expected Ready=true", i)
		}
		if math.Abs(r.Value-100.0) > 1e-9 {
			t.Errorf("bar %d: expected SMA=100.0, got %.4f", i, r.Value)
		}
	}
}

func TestEngine_MultiIndicator(t *testing.T) {
	specs := []Spec{
		{Kind: KindSMA, Length: 5},
		{Kind: KindEMA, Length: 5},
		{Kind: KindRSI, Length: 14},
		{Kind: KindBB, Length: 5, StdDev: 2.5},
	}
	if err := ValidateSpecs(specs); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(specs)

	for i := 0; i < 20; i++ {
		results := e.Process(makeBar("ETHUSDT", uint64(i+1)*60000, 100+float64(i)))
		if len(results) != 4 {
			t.Fatalf("bar %d: expected 4 results, got %d", i, len(results))
		}
	}
}

func TestEngine_BandResult(t *testing.T) {
	e := NewEngine([]Spec{{Kind: KindBB, Length: 3}})

	var last model.Result
	for i, p := range []float64{100, 102, 104} {
		last = e.Process(makeBar("BTCUSDT", uint64(i+1)*60000, p))[0]
	}
	if !last.Ready {
		t.Fatal("BB should be ready after 3 bars")
	}
	sigma := math.Sqrt(8.0 / 3.0)
	if math.Abs(last.Value-102.0) > 1e-9 {
		t.Errorf("middle: got %.6f, want 102", last.Value)
	}
	if math.Abs(last.Upper-(102+2*sigma)) > 1e-9 {
		t.Errorf("upper: got %.6f, want %.6f", last.Upper, 102+2*sigma)
	}
	if math.Abs(last.Lower-(102-2*sigma)) > 1e-9 {
		t.Errorf("lower: got %.6f, want %.6f", last.Lower, 102-2*sigma)
	}
}

func TestEngine_SeriesAreIndependent(t *testing.T) {
	e := NewEngine([]Spec{{Kind: KindSMA, Length: 3}})

	for i := 0; i < 3; i++ {
		e.Process(makeBar("BTCUSDT", uint64(i+1)*60000, 100))
		e.Process(makeBar("ETHUSDT", uint64(i+1)*60000, 200))
	}
	btc := e.Process(makeBar("BTCUSDT", 4*60000, 100))[0]
	eth := e.Process(makeBar("ETHUSDT", 4*60000, 200))[0]

	if math.Abs(btc.Value-100) > 1e-9 {
		t.Errorf("BTC SMA: got %.4f, want 100", btc.Value)
	}
	if math.Abs(eth.Value-200) > 1e-9 {
		t.Errorf("ETH SMA: got %.4f, want 200", eth.Value)
	}
	if e.SeriesCount() != 2 {
		t.Errorf("SeriesCount=%d, want 2", e.SeriesCount())
	}
}

func TestEngine_FormingBarsRepaint(t *testing.T) {
	e := NewEngine([]Spec{{Kind: KindSMA, Length: 3}})

	e.Process(makeBar("BTCUSDT", 60000, 100))
	e.Process(makeBar("BTCUSDT", 120000, 102))

	// Forming ticks of bar 3 repaint; only the last value counts.
	forming := makeBar("BTCUSDT", 180000, 90)
	forming.Forming = true
	r := e.Process(forming)[0]
	if !r.Live {
		t.Error("expected Live=true for a forming bar")
	}
	if math.Abs(r.Value-(100.0+102.0+90.0)/3.0) > 1e-9 {
		t.Errorf("live SMA: got %.4f", r.Value)
	}

	forming.Close = 110
	e.Process(forming)

	closed := makeBar("BTCUSDT", 180000, 104)
	r = e.Process(closed)[0]
	if r.Live {
		t.Error("expected Live=false for a closed bar")
	}
	if math.Abs(r.Value-(100.0+102.0+104.0)/3.0) > 1e-9 {
		t.Errorf("closed SMA after repaints: got %.4f", r.Value)
	}

	// Next bar slides from the closed value, untouched by the forming ticks.
	r = e.Process(makeBar("BTCUSDT", 240000, 106))[0]
	if math.Abs(r.Value-(102.0+104.0+106.0)/3.0) > 1e-9 {
		t.Errorf("SMA after advance: got %.4f", r.Value)
	}
}

func TestEngine_EMAConvergenceEnforced(t *testing.T) {
	e := NewEngine([]Spec{{Kind: KindEMA, Length: 3, EnforceConvergence: true}})

	for i := 0; i < 15; i++ {
		r := e.Process(makeBar("BTCUSDT", uint64(i+1)*60000, 100+float64(i)))[0]
		wantReady := i >= 11 // 3*(3+1) bars
		if r.Ready != wantReady {
			t.Errorf("bar %d: Ready=%v, want %v", i, r.Ready, wantReady)
		}
	}
}

func TestEngine_DropsUnbuildableSpec(t *testing.T) {
	// Validation normally rejects this; an engine handed it anyway must
	// drop the instance, never run a different indicator under its name.
	e := NewEngine([]Spec{
		{Kind: "MACD", Length: 14},
		{Kind: KindSMA, Length: 5},
	})

	results := e.Process(makeBar("BTCUSDT", 60000, 100))
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Name != "SMA_5" {
		t.Errorf("result name=%s, want SMA_5", results[0].Name)
	}
}

func TestParseSpecs(t *testing.T) {
	specs, err := ParseSpecs("SMA:20, EMA:21@hl2, BB:20:2.5, RSI:14, sma:14@tr")
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 5 {
		t.Fatalf("expected 5 specs, got %d", len(specs))
	}

	wantNames := []string{"SMA_20", "EMA_21_hl2", "BB_20_2.5", "RSI_14", "SMA_14_tr"}
	for i, want := range wantNames {
		if got := specs[i].Name(); got != want {
			t.Errorf("spec %d: name=%s, want %s", i, got, want)
		}
	}
	if specs[1].Source != ta.HL2 {
		t.Errorf("spec 1 source=%v, want hl2", specs[1].Source)
	}
	if specs[2].StdDev != 2.5 {
		t.Errorf("spec 2 stddev=%v, want 2.5", specs[2].StdDev)
	}
	if err := ValidateSpecs(specs); err != nil {
		t.Fatal(err)
	}
}

func TestParseSpecs_Errors(t *testing.T) {
	bad := []string{
		"",
		"SMA",
		"SMA:x",
		"SMA:20:2.0",       // stddev on non-BB
		"BB:20:abc",
		"EMA:21@median",
	}
	for _, raw := range bad {
		if _, err := ParseSpecs(raw); err == nil {
			t.Errorf("ParseSpecs(%q) should fail", raw)
		}
	}
}

func TestValidateSpecs_Errors(t *testing.T) {
	cases := [][]Spec{
		{{Kind: "MACD", Length: 12}},
		{{Kind: KindSMA, Length: 0}},
		{{Kind: KindSMA, Length: 5}, {Kind: KindSMA, Length: 5}},
		{{Kind: KindRSI, Length: 14, StdDev: 2}},
	}
	for i, specs := range cases {
		if err := ValidateSpecs(specs); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
