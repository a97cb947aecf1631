package engine

import (
	"context"
	"errors"
	"time"

	"vwap-band-bot/internal/interfaces"
	"vwap-band-bot/internal/logger"
	"vwap-band-bot/internal/metrics"
	"vwap-band-bot/internal/tradelog"
	"vwap-band-bot/internal/types"
)

// orderExecutor translates signals into orders. The execution mode is fixed
// for the session: simulated fills are synchronous against the ledger, real
// submissions are acknowledged asynchronously and reconciled by the account
// poller.
type orderExecutor struct {
	mode   types.ExecutionMode
	symbol string
	broker interfaces.Broker
	ledger *positionLedger

	retries int
	backoff time.Duration
	timeout time.Duration

	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(time.Duration)

	// authFailed halts all further real submissions for the session.
	authFailed bool

	// pending maps side -> broker order id for idempotency: an identical
	// (symbol, side) submission is dropped while one is still open.
	pending map[types.Side]string
}

func newOrderExecutor(mode types.ExecutionMode, symbol string, broker interfaces.Broker, ledger *positionLedger, retries, backoffMs, timeoutSeconds int) *orderExecutor {
	return &orderExecutor{
		mode:    mode,
		symbol:  symbol,
		broker:  broker,
		ledger:  ledger,
		retries: retries,
		backoff: time.Duration(backoffMs) * time.Millisecond,
		timeout: time.Duration(timeoutSeconds) * time.Second,
		sleep:   time.Sleep,
		pending: make(map[types.Side]string),
	}
}

// submit executes a signal against the current bar. CLOSE of a long sells
// the whole position; CLOSE of a short buys it back.
func (oe *orderExecutor) submit(ctx context.Context, sig types.Signal, bar types.Bar) error {
	side := types.SideBuy
	qty := sig.Qty
	cover := false
	switch sig.Kind {
	case types.SignalSell:
		side = types.SideSell
	case types.SignalClose:
		if qty < 0 {
			side = types.SideBuy
			qty = -qty
			cover = true
		} else {
			side = types.SideSell
		}
	}
	if qty <= 0 {
		return nil
	}

	// Local rejection before any broker call.
	if side == types.SideSell && !oe.ledger.allowShort && qty > oe.ledger.qty+1e-9 {
		logger.Warn(ctx, "Sell exceeds held quantity", "symbol", oe.symbol, "qty", qty, "held", oe.ledger.qty)
		return types.ErrInsufficientPosition
	}

	metrics.OrdersTotal.WithLabelValues(oe.symbol, string(side), string(oe.mode)).Inc()

	if oe.mode == types.ModeSimulated {
		return oe.fillSimulated(ctx, sig, side, qty, bar.Close)
	}
	return oe.submitReal(ctx, sig, side, qty, cover, bar.Close)
}

// fillSimulated fills synchronously at the bar's close price. Failures here
// are programming defects, not recoverable conditions.
func (oe *orderExecutor) fillSimulated(ctx context.Context, sig types.Signal, side types.Side, qty, price float64) error {
	if err := oe.ledger.applyFill(side, qty, price); err != nil {
		return err
	}
	logger.Trade(ctx, oe.symbol, string(side), qty, price, "SIM", "reason", sig.Reason)
	_ = tradelog.Append(tradelog.Entry{
		Symbol: oe.symbol,
		Side:   string(side),
		Qty:    qty,
		Price:  price,
		Mode:   string(types.ModeSimulated),
		Reason: sig.Reason,
	})
	return nil
}

// submitReal places a broker order with bounded exponential backoff on
// transient failures. The fill is not applied here; the ledger is corrected
// from the next account snapshot.
func (oe *orderExecutor) submitReal(ctx context.Context, sig types.Signal, side types.Side, qty float64, cover bool, price float64) error {
	if oe.authFailed {
		logger.Warn(ctx, "Order dropped: authentication previously failed", "symbol", oe.symbol, "side", side)
		return types.ErrAuth
	}
	if id, ok := oe.pending[side]; ok {
		logger.Info(ctx, "Order dropped: identical order still pending",
			"symbol", oe.symbol, "side", side, "pending_order_id", id)
		return nil
	}

	req := types.OrderReq{
		Symbol:   oe.symbol,
		Side:     side,
		Qty:      qty,
		Kind:     "MARKET",
		Duration: "DAY",
		Cover:    cover,
		Tag:      sig.Reason,
	}

	var lastErr error
	delay := oe.backoff
	for attempt := 1; attempt <= oe.retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, oe.timeout)
		resp, err := oe.broker.PlaceOrder(callCtx, req)
		cancel()

		if err == nil {
			oe.pending[side] = resp.OrderID
			logger.Info(ctx, "Order placed", "symbol", oe.symbol, "side", side,
				"qty", qty, "order_id", resp.OrderID, "status", resp.Status)
			_ = tradelog.Append(tradelog.Entry{
				Symbol:  oe.symbol,
				Side:    string(side),
				Qty:     qty,
				Price:   price,
				OrderID: resp.OrderID,
				Mode:    string(types.ModeReal),
				Reason:  sig.Reason,
			})
			return nil
		}

		if errors.Is(err, types.ErrAuth) {
			oe.authFailed = true
			logger.ErrorWithErr(ctx, "Authentication failure: halting real submissions for this session", err, "symbol", oe.symbol)
			return err
		}
		if errors.Is(err, types.ErrOrderRejected) {
			logger.ErrorWithErr(ctx, "Order rejected by broker", err, "symbol", oe.symbol, "side", side)
			metrics.OrderFailures.WithLabelValues(oe.symbol, "rejected").Inc()
			return err
		}
		if !types.IsTransient(err) {
			metrics.OrderFailures.WithLabelValues(oe.symbol, "error").Inc()
			return err
		}

		lastErr = err
		if attempt < oe.retries {
			logger.Warn(ctx, "Transient order failure, retrying",
				"symbol", oe.symbol, "attempt", attempt, "backoff", delay.String(), "error", err)
			oe.sleep(delay)
			delay *= 2
		}
	}

	metrics.OrderFailures.WithLabelValues(oe.symbol, "transient_exhausted").Inc()
	logger.Warn(ctx, "Order submission abandoned after retries", "symbol", oe.symbol, "side", side, "error", lastErr)
	return lastErr
}

// refreshPending drops idempotency holds whose orders the broker no longer
// reports as open. Called once per tick with the latest snapshot.
func (oe *orderExecutor) refreshPending(openOrders []types.Order) {
	if len(oe.pending) == 0 {
		return
	}
	open := make(map[string]bool, len(openOrders))
	for _, o := range openOrders {
		open[o.ID] = true
	}
	for side, id := range oe.pending {
		if !open[id] {
			delete(oe.pending, side)
		}
	}
}

// cancelAll cancels every cancelable open order. Idempotent: terminal
// orders and not-found responses are skipped, not errors.
func (oe *orderExecutor) cancelAll(ctx context.Context, openOrders []types.Order) error {
	var lastErr error
	for _, o := range openOrders {
		if !o.Cancelable {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, oe.timeout)
		err := oe.broker.CancelOrder(callCtx, o.ID)
		cancel()
		if err != nil {
			logger.Warn(ctx, "Cancel failed", "order_id", o.ID, "error", err)
			lastErr = err
			continue
		}
		logger.Info(ctx, "Order cancelled", "order_id", o.ID, "symbol", o.Symbol)
	}
	return lastErr
}
