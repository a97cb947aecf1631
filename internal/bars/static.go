package bars

import (
	"context"
	"math/rand"
	"time"

	"vwap-band-bot/internal/interfaces"
	"vwap-band-bot/internal/types"
)

const staticSessionBars = 390 // one regular US session of minute bars

// StaticSource generates a synthetic session for offline runs and demos.
// The walk is seeded, so a fixed seed replays the same session.
type StaticSource struct {
	rng *rand.Rand
}

var _ interfaces.BarSource = (*StaticSource)(nil)

func NewStaticSource(seed int64) *StaticSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &StaticSource{rng: rand.New(rand.NewSource(seed))}
}

// Fetch synthesizes a gently trending random walk of minute bars ending now.
// lookback and interval are ignored; the session length is fixed.
func (s *StaticSource) Fetch(ctx context.Context, symbol, lookback, interval string) ([]types.Bar, error) {
	n := staticSessionBars
	out := make([]types.Bar, 0, n)

	now := time.Now().Unix()
	start := now - int64(n*60)
	price := 20 + s.rng.Float64()*10

	for i := 0; i < n; i++ {
		drift := (s.rng.Float64() - 0.48) * 0.1
		open := price
		close := price + drift
		high := maxf(open, close) + s.rng.Float64()*0.05
		low := minf(open, close) - s.rng.Float64()*0.05
		out = append(out, types.Bar{
			Ts:    start + int64(i*60),
			Open:  open,
			High:  high,
			Low:   low,
			Close: close,
			Vol:   500 + s.rng.Float64()*2000,
		})
		price = close
	}
	return out, nil
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
