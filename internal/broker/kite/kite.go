package kite

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"vwap-band-bot/internal/interfaces"
	"vwap-band-bot/internal/types"
)

// Client implements the Broker contract over the Kite Connect REST API.
// Used for Indian equities; the brokerage handles short covering as a plain
// buy, so OrderReq.Cover needs no special mapping here.
type Client struct {
	kc       *kiteconnect.Client
	exchange string
}

var _ interfaces.Broker = (*Client)(nil)

func NewClient(apiKey, accessToken, exchange string) *Client {
	if exchange == "" {
		exchange = "NSE"
	}
	kc := kiteconnect.New(apiKey)
	kc.SetAccessToken(accessToken)
	return &Client{kc: kc, exchange: exchange}
}

// PlaceOrder submits a regular market day order. Kite quantities are whole
// shares; fractional requests are rejected before any network call.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	qty := int(math.Round(req.Qty))
	if qty <= 0 || math.Abs(req.Qty-float64(qty)) > 1e-9 {
		return types.OrderResp{}, fmt.Errorf("%w: quantity %.4f is not a whole share count", types.ErrOrderRejected, req.Qty)
	}

	txn := kiteconnect.TransactionTypeBuy
	if req.Side == types.SideSell {
		txn = kiteconnect.TransactionTypeSell
	}

	resp, err := c.kc.PlaceOrder(kiteconnect.VarietyRegular, kiteconnect.OrderParams{
		Exchange:        c.exchange,
		Tradingsymbol:   req.Symbol,
		TransactionType: txn,
		OrderType:       kiteconnect.OrderTypeMarket,
		Product:         kiteconnect.ProductMIS,
		Validity:        kiteconnect.ValidityDay,
		Quantity:        qty,
		Tag:             req.Tag,
	})
	if err != nil {
		return types.OrderResp{}, classify("place_order", err)
	}
	return types.OrderResp{
		OrderID: resp.OrderID,
		Status:  "SUBMITTED",
		Message: "ok",
	}, nil
}

// CancelOrder cancels a regular-variety order by id.
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	_, err := c.kc.CancelOrder(kiteconnect.VarietyRegular, id, nil)
	if err != nil {
		return classify("cancel_order", err)
	}
	return nil
}

// Balances maps equity margins onto the typed balance view. Known is tied
// to the equity segment being enabled on the account.
func (c *Client) Balances(ctx context.Context) (types.Balances, error) {
	margins, err := c.kc.GetUserMargins()
	if err != nil {
		return types.Balances{}, classify("balances", err)
	}
	return types.Balances{
		Cash:        margins.Equity.Available.LiveBalance,
		TotalAssets: margins.Equity.Net,
		Known:       margins.Equity.Enabled,
	}, nil
}

// Positions returns the net day book by trading symbol, with the broker's
// average cost as the basis.
func (c *Client) Positions(ctx context.Context) (map[string]types.Position, error) {
	positions, err := c.kc.GetPositions()
	if err != nil {
		return nil, classify("positions", err)
	}
	out := make(map[string]types.Position, len(positions.Net))
	for _, p := range positions.Net {
		out[p.Tradingsymbol] = types.Position{
			Qty:      float64(p.Quantity),
			AvgPrice: p.AveragePrice,
		}
	}
	return out, nil
}

// Orders returns the day's order book. Kite has no explicit cancelable
// flag, so it is derived from the documented status values.
func (c *Client) Orders(ctx context.Context) ([]types.Order, error) {
	orders, err := c.kc.GetOrders()
	if err != nil {
		return nil, classify("orders", err)
	}
	out := make([]types.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, types.Order{
			ID:         o.OrderID,
			Symbol:     o.TradingSymbol,
			Side:       decodeSide(o.TransactionType),
			Qty:        o.Quantity,
			Status:     decodeStatus(o.Status),
			Cancelable: isOpenStatus(o.Status),
		})
	}
	return out, nil
}

func decodeSide(txn string) types.Side {
	if strings.EqualFold(txn, "SELL") {
		return types.SideSell
	}
	return types.SideBuy
}

func decodeStatus(status string) types.OrderStatus {
	switch strings.ToUpper(status) {
	case "COMPLETE":
		return types.OrderFilled
	case "CANCELLED":
		return types.OrderCancelled
	case "REJECTED":
		return types.OrderRejected
	default:
		return types.OrderPending
	}
}

func isOpenStatus(status string) bool {
	switch strings.ToUpper(status) {
	case "OPEN", "TRIGGER PENDING", "AMO REQ RECEIVED":
		return true
	}
	return false
}

// classify maps Kite API errors onto the domain taxonomy using the HTTP
// status the SDK reports. 403 covers expired or revoked access tokens.
func classify(op string, err error) error {
	var ke kiteconnect.Error
	if errors.As(err, &ke) {
		switch {
		case ke.Code == 401 || ke.Code == 403:
			return fmt.Errorf("%w: %s", types.ErrAuth, ke.Message)
		case ke.Code == 400:
			return fmt.Errorf("%w: %s", types.ErrOrderRejected, ke.Message)
		case ke.Code == 429 || ke.Code >= 500:
			return types.Transient(op, err)
		}
		return err
	}
	return types.Transient(op, err)
}
