package interfaces

import (
	"context"

	"vwap-band-bot/internal/types"
)

// BarSource supplies an ordered, finite sequence of OHLCV bars for one
// trading session. An empty result is types.ErrDataEmpty.
type BarSource interface {
	Fetch(ctx context.Context, symbol, lookback, interval string) ([]types.Bar, error)
}

// BarFeed streams bars as they complete in live mode. The channel is closed
// when the feed stops or the session ends.
type BarFeed interface {
	Start(ctx context.Context, symbol string) (<-chan types.Bar, error)
	Stop(ctx context.Context)
}
