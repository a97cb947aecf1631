package bars

import (
	"context"
	"time"

	"vwap-band-bot/internal/interfaces"
	"vwap-band-bot/internal/logger"
	"vwap-band-bot/internal/types"
)

// ReplayFeed replays a fetched session through a paced channel, one bar per
// delay interval, so the engine consumes historic and live sessions through
// the same channel contract.
type ReplayFeed struct {
	source interfaces.BarSource
	delay  time.Duration

	lookback string
	interval string

	cancel context.CancelFunc
	done   chan struct{}

	// onBar, when set, is invoked after each delivered bar. Used for
	// progress reporting in the replay CLI.
	onBar func(i, total int)
}

var _ interfaces.BarFeed = (*ReplayFeed)(nil)

func NewReplayFeed(source interfaces.BarSource, delay time.Duration, lookback, interval string) *ReplayFeed {
	return &ReplayFeed{
		source:   source,
		delay:    delay,
		lookback: lookback,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// OnBar registers a per-bar progress callback. Must be called before Start.
func (r *ReplayFeed) OnBar(fn func(i, total int)) {
	r.onBar = fn
}

// Start fetches the session up front and streams it. The channel is closed
// after the last bar or on Stop/cancellation.
func (r *ReplayFeed) Start(ctx context.Context, symbol string) (<-chan types.Bar, error) {
	session, err := r.source.Fetch(ctx, symbol, r.lookback, r.interval)
	if err != nil {
		return nil, err
	}
	if len(session) == 0 {
		return nil, types.ErrDataEmpty
	}

	feedCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	out := make(chan types.Bar)
	go func() {
		defer close(out)
		defer close(r.done)

		logger.Info(feedCtx, "Replaying session",
			"symbol", symbol, "bars", len(session), "delay", r.delay.String())

		for i, bar := range session {
			select {
			case <-feedCtx.Done():
				return
			case out <- bar:
			}
			if r.onBar != nil {
				r.onBar(i+1, len(session))
			}
			if r.delay > 0 && i < len(session)-1 {
				select {
				case <-feedCtx.Done():
					return
				case <-time.After(r.delay):
				}
			}
		}
	}()
	return out, nil
}

// Stop halts the replay and waits for the stream goroutine to exit.
func (r *ReplayFeed) Stop(ctx context.Context) {
	if r.cancel == nil {
		return
	}
	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
	}
}
