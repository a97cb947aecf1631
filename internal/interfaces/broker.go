package interfaces

import (
	"context"

	"vwap-band-bot/internal/types"
)

// Broker is the narrow contract the core depends on. Response schema
// decoding happens inside the adapter; the core only ever sees typed values.
type Broker interface {
	// PlaceOrder submits an order and returns the broker's acknowledgement.
	// The acknowledgement is not a fill; in real mode fills are reconciled
	// from account snapshots.
	PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)

	// CancelOrder cancels by broker order id. Cancelling an already-terminal
	// order is a no-op, not an error.
	CancelOrder(ctx context.Context, id string) error

	// Balances returns the typed cash/total-assets view of the account.
	Balances(ctx context.Context) (types.Balances, error)

	// Positions returns each holding's signed quantity and average cost.
	Positions(ctx context.Context) (map[string]types.Position, error)

	// Orders returns the current order book with the broker's cancelability
	// flag decoded for each order.
	Orders(ctx context.Context) ([]types.Order, error)
}
