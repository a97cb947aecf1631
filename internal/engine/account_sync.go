package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"vwap-band-bot/internal/interfaces"
	"vwap-band-bot/internal/logger"
	"vwap-band-bot/internal/metrics"
	"vwap-band-bot/internal/types"
)

// accountSync polls broker-reported balances, positions and open orders on
// a fixed interval and atomically replaces the shared snapshot. It is the
// only writer; the decision loop reads copies. Poll failures are logged and
// retried next interval; the poller never terminates the process.
type accountSync struct {
	broker   interfaces.Broker
	interval time.Duration
	timeout  time.Duration

	mu   sync.RWMutex
	snap *types.AccountSnapshot

	done chan struct{}
}

func newAccountSync(broker interfaces.Broker, interval, timeout time.Duration) *accountSync {
	return &accountSync{
		broker:   broker,
		interval: interval,
		timeout:  timeout,
		done:     make(chan struct{}),
	}
}

// start launches the poll loop. One cycle runs immediately so the ledger
// can be seeded before the first tick in real mode.
func (as *accountSync) start(ctx context.Context) {
	go func() {
		defer close(as.done)
		as.cycle(ctx)
		ticker := time.NewTicker(as.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				as.cycle(ctx)
			}
		}
	}()
}

// wait blocks until the poll loop has exited after its current cycle.
func (as *accountSync) wait() {
	<-as.done
}

// cycle fetches account truth and replaces the snapshot wholesale. No lock
// is held across the network calls; the replacement is fully formed before
// the write lock is taken.
func (as *accountSync) cycle(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, as.timeout)
	defer cancel()

	balances, err := as.broker.Balances(callCtx)
	if err != nil {
		as.fail(ctx, "balances", err)
		return
	}
	if !balances.Known {
		as.fail(ctx, "balances", types.Transient("balances", errCashUnknown))
		return
	}
	positions, err := as.broker.Positions(callCtx)
	if err != nil {
		as.fail(ctx, "positions", err)
		return
	}
	orders, err := as.broker.Orders(callCtx)
	if err != nil {
		as.fail(ctx, "orders", err)
		return
	}

	// Open means cancelable per the broker's own flag, not a guess from
	// status strings.
	open := make([]types.Order, 0, len(orders))
	for _, o := range orders {
		if o.Cancelable {
			open = append(open, o)
		}
	}

	next := &types.AccountSnapshot{
		Cash:        balances.Cash,
		TotalAssets: balances.TotalAssets,
		Positions:   positions,
		OpenOrders:  open,
		FetchedAt:   time.Now().Unix(),
	}

	as.mu.Lock()
	as.snap = next
	as.mu.Unlock()

	metrics.SyncCycles.WithLabelValues("ok").Inc()
	logger.Debug(ctx, "Account snapshot refreshed",
		"cash", balances.Cash,
		"total_assets", balances.TotalAssets,
		"positions", len(positions),
		"open_orders", len(open),
	)
}

func (as *accountSync) fail(ctx context.Context, stage string, err error) {
	metrics.SyncCycles.WithLabelValues("error").Inc()
	logger.Warn(ctx, "Account sync cycle failed, retrying next interval",
		"stage", stage, "error", err)
}

// snapshot returns a deep copy of the latest snapshot. ok is false before
// the first successful cycle.
func (as *accountSync) snapshot() (types.AccountSnapshot, bool) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	if as.snap == nil {
		return types.AccountSnapshot{}, false
	}
	return as.snap.Clone(), true
}

var errCashUnknown = errors.New("cash figure not present in balance response")
