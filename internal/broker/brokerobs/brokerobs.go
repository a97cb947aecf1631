package brokerobs

import (
	"context"

	"vwap-band-bot/internal/interfaces"
	"vwap-band-bot/internal/logger"
	"vwap-band-bot/internal/trace"
	"vwap-band-bot/internal/types"
)

// observableBroker wraps a Broker with logging and tracing. Log callsites
// skip one frame so entries point at the wrapped adapter, not this file.
type observableBroker struct {
	broker interfaces.Broker
}

var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap adds observability middleware around a broker adapter.
func Wrap(broker interfaces.Broker) interfaces.Broker {
	return &observableBroker{broker: broker}
}

func (ob *observableBroker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing order",
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Qty,
		"tag", req.Tag,
	)

	resp, err := ob.broker.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"symbol", req.Symbol,
			"side", req.Side,
			"qty", req.Qty,
		)
		return types.OrderResp{}, err
	}

	logger.InfoSkip(ctx, 1, "Order placed",
		"symbol", req.Symbol,
		"order_id", resp.OrderID,
		"status", resp.Status,
	)
	return resp, nil
}

func (ob *observableBroker) CancelOrder(ctx context.Context, id string) error {
	ctx, span := trace.StartSpan(ctx, "broker.CancelOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Cancelling order", "order_id", id)

	if err := ob.broker.CancelOrder(ctx, id); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to cancel order", err, "order_id", id)
		return err
	}

	logger.InfoSkip(ctx, 1, "Order cancelled", "order_id", id)
	return nil
}

func (ob *observableBroker) Balances(ctx context.Context) (types.Balances, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Balances")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching balances")

	balances, err := ob.broker.Balances(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch balances", err)
		return types.Balances{}, err
	}

	logger.DebugSkip(ctx, 1, "Balances fetched",
		"cash", balances.Cash,
		"total_assets", balances.TotalAssets,
		"known", balances.Known,
	)
	return balances, nil
}

func (ob *observableBroker) Positions(ctx context.Context) (map[string]types.Position, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Positions")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching positions")

	positions, err := ob.broker.Positions(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch positions", err)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Positions fetched", "count", len(positions))
	return positions, nil
}

func (ob *observableBroker) Orders(ctx context.Context) ([]types.Order, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Orders")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching orders")

	orders, err := ob.broker.Orders(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch orders", err)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Orders fetched", "count", len(orders))
	return orders, nil
}
