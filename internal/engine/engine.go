package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"vwap-band-bot/internal/interfaces"
	"vwap-band-bot/internal/logger"
	"vwap-band-bot/internal/metrics"
	"vwap-band-bot/internal/store"
	"vwap-band-bot/internal/tradelog"
	"vwap-band-bot/internal/types"
)

const (
	commandQueueSize = 64
	tickStreamSize   = 64
)

// engine is the orchestrator: it drives the per-tick cycle and owns the
// concurrency boundary between the decision loop and the account poller.
// The tick loop itself is single-threaded; the only shared mutable state is
// the account snapshot inside accountSync.
type engine struct {
	symbol    string
	mode      types.ExecutionMode
	deviation float64
	autoTrade bool
	unitQty   float64

	vwap     *vwapEngine
	detector *signalDetector
	ledger   *positionLedger
	exec     *orderExecutor
	sync     *accountSync // nil in simulated mode

	cmds  chan types.Command
	ticks chan types.TickSnapshot

	mu         sync.RWMutex
	state      types.EngineState
	last       *types.TickSnapshot
	lastSignal *types.Signal

	stopRequested bool
}

func newEngine(cfg *store.Config, broker interfaces.Broker) *engine {
	mode := types.ModeSimulated
	initialCash := cfg.InitialCash
	if cfg.Mode == "REAL" {
		mode = types.ModeReal
		initialCash = 0 // seeded from the first account snapshot
	}

	ledger := newPositionLedger(cfg.Symbol, initialCash, cfg.AllowShort)
	exec := newOrderExecutor(mode, cfg.Symbol, broker, ledger,
		cfg.Order.Retries, cfg.Order.BackoffMs, cfg.Order.TimeoutSeconds)

	var acctSync *accountSync
	if mode == types.ModeReal {
		acctSync = newAccountSync(broker,
			time.Duration(cfg.PollSeconds)*time.Second,
			time.Duration(cfg.Order.TimeoutSeconds)*time.Second)
	}

	return &engine{
		symbol:    cfg.Symbol,
		mode:      mode,
		deviation: cfg.Signal.Deviation,
		autoTrade: cfg.AutoTradeDefault(),
		unitQty:   cfg.TradeQty,
		vwap:      newVWAPEngine(),
		detector:  newSignalDetector(cfg.Signal.Lookback, cfg.Signal.CooldownBars, cfg.TradeQty),
		ledger:    ledger,
		exec:      exec,
		sync:      acctSync,
		cmds:      make(chan types.Command, commandQueueSize),
		ticks:     make(chan types.TickSnapshot, tickStreamSize),
		state:     types.StateIdle,
	}
}

var _ interfaces.Engine = (*engine)(nil)

// Run consumes bars until the feed is exhausted, the context is cancelled,
// or a STOP command arrives. On stop, outstanding real orders are left to
// resolve asynchronously unless the user issued CANCEL_ALL.
func (e *engine) Run(ctx context.Context, bars <-chan types.Bar) error {
	e.setState(types.StateRunning)
	defer e.setState(types.StateStopped)

	if e.sync != nil {
		syncCtx, cancel := context.WithCancel(ctx)
		defer func() {
			cancel()
			e.sync.wait()
		}()
		e.sync.start(syncCtx)
	}

	logger.Info(ctx, "Session started", "symbol", e.symbol, "mode", e.mode, "auto_trade", e.autoTrade)

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Session cancelled", "symbol", e.symbol)
			return ctx.Err()
		case bar, ok := <-bars:
			if !ok {
				logger.Info(ctx, "Bar feed exhausted", "symbol", e.symbol)
				return nil
			}
			e.tick(ctx, bar)
			if e.stopRequested {
				logger.Info(ctx, "Session stopped by user", "symbol", e.symbol)
				return nil
			}
		}
	}
}

// tick runs one cycle: ingest, drain commands, detect, execute, publish.
func (e *engine) tick(ctx context.Context, bar types.Bar) {
	if err := e.vwap.ingest(bar); err != nil {
		if errors.Is(err, types.ErrOutOfOrderBar) {
			metrics.BarsOutOfOrder.WithLabelValues(e.symbol).Inc()
			logger.Warn(ctx, "Ignoring out-of-order bar", "symbol", e.symbol, "ts", bar.Ts)
			return
		}
		logger.ErrorWithErr(ctx, "Bar ingest failed", err, "symbol", e.symbol)
		return
	}
	metrics.BarsTotal.WithLabelValues(e.symbol).Inc()

	// Reconcile against broker truth before any decision is made.
	if e.sync != nil {
		if snap, ok := e.sync.snapshot(); ok {
			pos := snap.Positions[e.symbol]
			e.ledger.seed(snap.Cash, pos.Qty, pos.AvgPrice)
			e.ledger.adopt(ctx, snap)
			e.exec.refreshPending(snap.OpenOrders)
		}
	}

	e.drainCommands(ctx, bar)
	if e.stopRequested {
		e.publish(bar)
		return
	}

	vwapNow, ok := e.vwap.vwap()
	if !ok {
		// No volume yet; VWAP is undefined and no rule can fire.
		e.publish(bar)
		return
	}
	e.detector.observe(vwapNow)
	band, _ := e.vwap.band(e.deviation)

	if e.autoTrade {
		if sig := e.detector.detect(bar, band, e.ledger.qty, e.ledger.pl(bar.Close)); sig != nil {
			e.emit(ctx, *sig, bar, band, vwapNow)
		}
	}

	e.publish(bar)
}

// emit logs, journals and submits one signal.
func (e *engine) emit(ctx context.Context, sig types.Signal, bar types.Bar, band types.Band, vwapNow float64) {
	metrics.SignalsTotal.WithLabelValues(e.symbol, string(sig.Kind)).Inc()
	logger.Signal(ctx, e.symbol, string(sig.Kind), sig.Qty, sig.Reason)
	_ = tradelog.AppendSignal(tradelog.SignalEntry{
		Symbol: e.symbol,
		Kind:   string(sig.Kind),
		Qty:    sig.Qty,
		Price:  bar.Close,
		VWAP:   vwapNow,
		Upper:  band.Upper,
		Lower:  band.Lower,
		Reason: sig.Reason,
	})

	e.mu.Lock()
	s := sig
	e.lastSignal = &s
	e.mu.Unlock()

	if err := e.exec.submit(ctx, sig, bar); err != nil {
		logger.ErrorWithErr(ctx, "Signal execution failed", err, "symbol", e.symbol, "kind", sig.Kind)
	}
}

// drainCommands applies every queued user command. Presentation layers only
// ever talk to the engine through this queue.
func (e *engine) drainCommands(ctx context.Context, bar types.Bar) {
	for {
		select {
		case cmd := <-e.cmds:
			e.apply(ctx, cmd, bar)
		default:
			return
		}
	}
}

func (e *engine) apply(ctx context.Context, cmd types.Command, bar types.Bar) {
	switch cmd.Kind {
	case types.CmdBuy:
		e.emitManual(ctx, types.SignalBuy, e.unitQty, bar)
	case types.CmdSell:
		e.emitManual(ctx, types.SignalSell, e.unitQty, bar)
	case types.CmdClose:
		if e.ledger.qty != 0 {
			e.emitManual(ctx, types.SignalClose, e.ledger.qty, bar)
		}
	case types.CmdSetDeviation:
		dev := cmd.Value
		if dev < 0 {
			dev = 0
		}
		e.deviation = dev
		logger.Info(ctx, "Deviation updated", "symbol", e.symbol, "deviation", dev)
	case types.CmdToggleAuto:
		e.autoTrade = !e.autoTrade
		logger.Info(ctx, "Auto trade toggled", "symbol", e.symbol, "enabled", e.autoTrade)
	case types.CmdCancelAll:
		e.cancelAll(ctx)
	case types.CmdStop:
		e.stopRequested = true
	}
}

func (e *engine) emitManual(ctx context.Context, kind types.SignalKind, qty float64, bar types.Bar) {
	sig := types.Signal{Kind: kind, Qty: qty, SourceTs: bar.Ts, Reason: "manual"}
	w, _ := e.vwap.vwap()
	band, _ := e.vwap.band(e.deviation)
	e.emit(ctx, sig, bar, band, w)
}

func (e *engine) cancelAll(ctx context.Context) {
	if e.sync == nil {
		return // nothing pending in simulated mode
	}
	snap, ok := e.sync.snapshot()
	if !ok {
		logger.Warn(ctx, "Cancel all requested before first account snapshot")
		return
	}
	if err := e.exec.cancelAll(ctx, snap.OpenOrders); err != nil {
		logger.ErrorWithErr(ctx, "Cancel all finished with errors", err)
	}
}

// publish stores and streams the read-only snapshot for this tick.
func (e *engine) publish(bar types.Bar) {
	w, _ := e.vwap.vwap()
	band, _ := e.vwap.band(e.deviation)

	e.mu.Lock()
	snap := types.TickSnapshot{
		Symbol:     e.symbol,
		Ts:         bar.Ts,
		Price:      bar.Close,
		VWAP:       w,
		Band:       band,
		Position:   e.ledger.qty,
		AvgPrice:   e.ledger.avg,
		Cash:       e.ledger.cash,
		PL:         e.ledger.pl(bar.Close),
		LastSignal: e.lastSignal,
		AutoTrade:  e.autoTrade,
		State:      e.state,
	}
	e.last = &snap
	e.mu.Unlock()

	metrics.PositionQty.WithLabelValues(e.symbol).Set(snap.Position)

	// Non-blocking: a slow consumer drops frames, never stalls the loop.
	select {
	case e.ticks <- snap:
	default:
	}
}

func (e *engine) Enqueue(cmd types.Command) bool {
	select {
	case e.cmds <- cmd:
		return true
	default:
		return false
	}
}

func (e *engine) Snapshot() (types.TickSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return types.TickSnapshot{}, false
	}
	return *e.last, true
}

func (e *engine) Ticks() <-chan types.TickSnapshot {
	return e.ticks
}

func (e *engine) State() types.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *engine) setState(s types.EngineState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}
