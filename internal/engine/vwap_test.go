package engine

import (
	"errors"
	"math"
	"testing"

	"vwap-band-bot/internal/types"
)

func almostEqual(a, b, relTol float64) bool {
	if a == b {
		return true
	}
	denom := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b)/denom <= relTol
}

func TestVWAPExactness(t *testing.T) {
	bars := []types.Bar{
		{Ts: 1, Open: 10.0, High: 10.5, Low: 9.8, Close: 10.2, Vol: 100},
		{Ts: 2, Open: 10.2, High: 10.9, Low: 10.1, Close: 10.7, Vol: 250},
		{Ts: 3, Open: 10.7, High: 10.8, Low: 10.2, Close: 10.3, Vol: 80},
		{Ts: 4, Open: 10.3, High: 11.2, Low: 10.3, Close: 11.0, Vol: 600},
		{Ts: 5, Open: 11.0, High: 11.1, Low: 10.6, Close: 10.8, Vol: 320},
	}

	v := newVWAPEngine()
	var sumVP, sumVol float64
	for i, bar := range bars {
		if err := v.ingest(bar); err != nil {
			t.Fatalf("ingest bar %d: %v", i, err)
		}
		sumVP += bar.TypicalPrice() * bar.Vol
		sumVol += bar.Vol

		got, ok := v.vwap()
		if !ok {
			t.Fatalf("vwap undefined after bar %d", i)
		}
		want := sumVP / sumVol
		if !almostEqual(got, want, 1e-9) {
			t.Errorf("bar %d: vwap = %v, want %v", i, got, want)
		}
	}
}

func TestVWAPUndefinedWithoutVolume(t *testing.T) {
	v := newVWAPEngine()
	if _, ok := v.vwap(); ok {
		t.Error("vwap should be undefined before any bar")
	}
	if _, ok := v.band(0.01); ok {
		t.Error("band should be undefined before any bar")
	}

	if err := v.ingest(types.Bar{Ts: 1, High: 10, Low: 9, Close: 9.5, Vol: 0}); err != nil {
		t.Fatalf("zero-volume bar should ingest: %v", err)
	}
	if _, ok := v.vwap(); ok {
		t.Error("vwap should stay undefined while cumulative volume is zero")
	}
}

func TestBandOrdering(t *testing.T) {
	v := newVWAPEngine()
	if err := v.ingest(types.Bar{Ts: 1, High: 10.5, Low: 9.8, Close: 10.2, Vol: 100}); err != nil {
		t.Fatal(err)
	}

	w, _ := v.vwap()
	for _, dev := range []float64{0, 0.0005, 0.01, 0.1, 1.5} {
		band, ok := v.band(dev)
		if !ok {
			t.Fatalf("band undefined for deviation %v", dev)
		}
		if band.Lower > w || w > band.Upper {
			t.Errorf("deviation %v: want lower <= vwap <= upper, got %v <= %v <= %v",
				dev, band.Lower, w, band.Upper)
		}
	}
}

// Scenario A: five identical bars hold VWAP constant at the typical price.
func TestVWAPConstantBars(t *testing.T) {
	v := newVWAPEngine()
	for i := 0; i < 5; i++ {
		bar := types.Bar{Ts: int64(i + 1), Open: 10.00, High: 10.50, Low: 9.80, Close: 10.20, Vol: 100}
		if err := v.ingest(bar); err != nil {
			t.Fatal(err)
		}

		got, _ := v.vwap()
		if !almostEqual(got, 30.5/3, 1e-9) {
			t.Fatalf("tick %d: vwap = %v, want %v", i+1, got, 30.5/3)
		}
	}

	band, _ := v.band(0.01)
	if !almostEqual(band.Lower, (30.5/3)*0.99, 1e-9) {
		t.Errorf("lower = %v, want %v", band.Lower, (30.5/3)*0.99)
	}
	if !almostEqual(band.Upper, (30.5/3)*1.01, 1e-9) {
		t.Errorf("upper = %v, want %v", band.Upper, (30.5/3)*1.01)
	}
}

// Scenario B: an out-of-order bar is rejected and leaves state untouched.
func TestOutOfOrderBarRejected(t *testing.T) {
	v := newVWAPEngine()
	if err := v.ingest(types.Bar{Ts: 100, High: 10.5, Low: 9.8, Close: 10.2, Vol: 100}); err != nil {
		t.Fatal(err)
	}
	before, _ := v.vwap()

	err := v.ingest(types.Bar{Ts: 50, High: 20, Low: 19, Close: 19.5, Vol: 500})
	if !errors.Is(err, types.ErrOutOfOrderBar) {
		t.Fatalf("expected ErrOutOfOrderBar, got %v", err)
	}

	// Equal timestamps are also rejected; ordering must be strict.
	err = v.ingest(types.Bar{Ts: 100, High: 20, Low: 19, Close: 19.5, Vol: 500})
	if !errors.Is(err, types.ErrOutOfOrderBar) {
		t.Fatalf("expected ErrOutOfOrderBar for duplicate timestamp, got %v", err)
	}

	after, _ := v.vwap()
	if before != after {
		t.Errorf("vwap changed after rejected bar: %v -> %v", before, after)
	}
	if v.count != 1 {
		t.Errorf("bar count changed after rejected bar: %d", v.count)
	}
}
