package engine

import (
	"context"
	"fmt"
	"math"

	"vwap-band-bot/internal/logger"
	"vwap-band-bot/internal/types"
)

// positionLedger is the authoritative cash/position/realized-PnL state.
// Confirmed fills are its only mutator; in real mode the account poller may
// overwrite it with broker truth via adopt.
type positionLedger struct {
	symbol     string
	cash       float64
	qty        float64 // signed; negative when short
	avg        float64 // meaningful only while qty != 0
	realized   float64
	allowShort bool
	seeded     bool
}

func newPositionLedger(symbol string, initialCash float64, allowShort bool) *positionLedger {
	return &positionLedger{
		symbol:     symbol,
		cash:       initialCash,
		allowShort: allowShort,
		seeded:     initialCash != 0,
	}
}

// seed initializes cash and position from the first broker snapshot in real
// mode. Subsequent calls are no-ops.
func (l *positionLedger) seed(cash, qty, avg float64) {
	if l.seeded {
		return
	}
	l.cash = cash
	l.qty = qty
	l.avg = avg
	l.seeded = true
}

// applyFill folds one confirmed fill into the ledger. BUY lowers cash and
// re-weights the average price; SELL realizes PnL against the average and
// raises cash. Selling beyond the held quantity is rejected unless shorting
// is enabled, in which case quantity goes negative with symmetric accounting.
func (l *positionLedger) applyFill(side types.Side, qty, price float64) error {
	if qty <= 0 || price <= 0 {
		return fmt.Errorf("invalid fill: qty=%.4f price=%.4f", qty, price)
	}

	signed := qty
	if side == types.SideSell {
		signed = -qty
	}

	if !l.allowShort && side == types.SideSell && qty > l.qty+1e-9 {
		return types.ErrInsufficientPosition
	}

	switch {
	case l.qty == 0 || sameSign(l.qty, signed):
		// Opening or adding: weighted average entry price.
		total := l.avg*math.Abs(l.qty) + price*qty
		l.qty += signed
		l.avg = total / math.Abs(l.qty)
	default:
		// Reducing or crossing through zero.
		closed := math.Min(qty, math.Abs(l.qty))
		if l.qty > 0 {
			l.realized += (price - l.avg) * closed
		} else {
			l.realized += (l.avg - price) * closed
		}
		l.qty += signed
		if l.qty == 0 {
			l.avg = 0
		} else if math.Abs(l.qty) < math.Abs(signed) {
			// Crossed zero: the remainder opens a fresh position at price.
			l.avg = price
		}
	}

	if side == types.SideBuy {
		l.cash -= qty * price
	} else {
		l.cash += qty * price
	}
	return nil
}

// unrealizedPnL marks the open position against currentPrice.
func (l *positionLedger) unrealizedPnL(currentPrice float64) float64 {
	if l.qty == 0 {
		return 0
	}
	return (currentPrice - l.avg) * l.qty
}

// pl is total session profit: realized plus mark-to-market.
func (l *positionLedger) pl(currentPrice float64) float64 {
	return l.realized + l.unrealizedPnL(currentPrice)
}

// adopt overwrites local belief with broker-reported truth, logging any
// drift beyond tolerance. The broker's average cost comes along with the
// quantity: a position adopted without its basis would mark unrealized PnL
// against zero. Never called in simulated mode.
func (l *positionLedger) adopt(ctx context.Context, snap types.AccountSnapshot) {
	const cashTol = 0.01
	pos := snap.Positions[l.symbol]

	if math.Abs(pos.Qty-l.qty) > 1e-9 {
		logger.Drift(ctx, l.symbol,
			"field", "position",
			"local", l.qty,
			"broker", pos.Qty,
		)
		l.qty = pos.Qty
		l.avg = pos.AvgPrice
		if l.qty == 0 {
			l.avg = 0
		}
	} else if l.qty != 0 && math.Abs(pos.AvgPrice-l.avg) > cashTol {
		logger.Drift(ctx, l.symbol,
			"field", "avg_price",
			"local", l.avg,
			"broker", pos.AvgPrice,
		)
		l.avg = pos.AvgPrice
	}
	if math.Abs(snap.Cash-l.cash) > cashTol {
		logger.Drift(ctx, l.symbol,
			"field", "cash",
			"local", l.cash,
			"broker", snap.Cash,
		)
		l.cash = snap.Cash
	}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
