package engine

import (
	"vwap-band-bot/internal/types"
)

// signalDetector evaluates the trend-and-band rules against the latest
// engine state. It emits at most one signal per tick; CLOSE always wins
// over BUY. A cooldown suppresses repeated BUYs while the dip condition
// stays continuously true.
type signalDetector struct {
	lookback     int // trend comparison distance k
	cooldownBars int
	unitQty      float64

	history    []float64 // vwap per accepted tick, append-only
	lastBuyBar int       // index in history of the last emitted BUY, -1 if none
}

func newSignalDetector(lookback, cooldownBars int, unitQty float64) *signalDetector {
	return &signalDetector{
		lookback:     lookback,
		cooldownBars: cooldownBars,
		unitQty:      unitQty,
		lastBuyBar:   -1,
	}
}

// observe appends the tick's VWAP to the trend history. Must be called once
// per accepted bar, before detect.
func (d *signalDetector) observe(vwap float64) {
	d.history = append(d.history, vwap)
}

// detect applies the rules in order:
//  1. trendUp = vwap[t] > vwap[t-k]; no signal without k+1 samples
//  2. uptrend dip: low touches the lower band -> BUY one unit
//  3. downtrend breakdown with a long position -> CLOSE (stop loss)
//  4. upper band touch with a long position and positive PnL -> CLOSE
//     (take profit, overrides any BUY from rule 2)
func (d *signalDetector) detect(bar types.Bar, band types.Band, positionQty, pl float64) *types.Signal {
	n := len(d.history)
	if n < d.lookback+1 {
		return nil
	}

	vwapNow := d.history[n-1]
	vwapPast := d.history[n-1-d.lookback]
	trendUp := vwapNow > vwapPast

	var sig *types.Signal

	if bar.Low <= band.Lower {
		if trendUp {
			if d.buyAllowed(n - 1) {
				sig = &types.Signal{
					Kind:     types.SignalBuy,
					Qty:      d.unitQty,
					SourceTs: bar.Ts,
					Reason:   "uptrend dip at lower band",
				}
			}
		} else if positionQty > 0 {
			sig = &types.Signal{
				Kind:     types.SignalClose,
				Qty:      positionQty,
				SourceTs: bar.Ts,
				Reason:   "downtrend breakdown, stop loss",
			}
		}
	}

	// Take profit: CLOSE takes priority over a BUY emitted the same tick.
	if positionQty > 0 && bar.High >= band.Upper && pl > 0 {
		sig = &types.Signal{
			Kind:     types.SignalClose,
			Qty:      positionQty,
			SourceTs: bar.Ts,
			Reason:   "upper band touch with profit, take profit",
		}
	}

	if sig != nil && sig.Kind == types.SignalBuy {
		d.lastBuyBar = n - 1
	}
	return sig
}

// buyAllowed enforces the debounce: a BUY may not re-fire within
// cooldownBars ticks of the previous one.
func (d *signalDetector) buyAllowed(tick int) bool {
	if d.lastBuyBar < 0 {
		return true
	}
	return tick-d.lastBuyBar >= d.cooldownBars
}
