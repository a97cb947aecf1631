package engine

import (
	"vwap-band-bot/internal/types"
)

// vwapEngine accumulates session-cumulative VWAP from minute bars.
// State is a pure function of the ingested bar prefix, so identical bar
// sequences replay to identical VWAP values.
type vwapEngine struct {
	cumVolPrice float64
	cumVol      float64
	lastTs      int64
	count       int
}

func newVWAPEngine() *vwapEngine {
	return &vwapEngine{}
}

// ingest folds one bar into the cumulative state. Bars whose timestamp is
// not strictly greater than the last ingested one are rejected with
// types.ErrOutOfOrderBar and leave the state untouched.
func (v *vwapEngine) ingest(bar types.Bar) error {
	if v.count > 0 && bar.Ts <= v.lastTs {
		return types.ErrOutOfOrderBar
	}
	v.cumVolPrice += bar.TypicalPrice() * bar.Vol
	v.cumVol += bar.Vol
	v.lastTs = bar.Ts
	v.count++
	return nil
}

// vwap returns the current VWAP. ok is false until any volume has been seen.
func (v *vwapEngine) vwap() (float64, bool) {
	if v.cumVol <= 0 {
		return 0, false
	}
	return v.cumVolPrice / v.cumVol, true
}

// band computes the deviation envelope around the current VWAP. Pure; no
// side effects on engine state.
func (v *vwapEngine) band(deviation float64) (types.Band, bool) {
	w, ok := v.vwap()
	if !ok {
		return types.Band{}, false
	}
	return types.Band{
		Deviation: deviation,
		Upper:     w * (1 + deviation),
		Lower:     w * (1 - deviation),
	}, true
}
