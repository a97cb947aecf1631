package firstrade

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"vwap-band-bot/internal/api"
	"vwap-band-bot/internal/interfaces"
	"vwap-band-bot/internal/types"
)

// Client implements the Broker contract against an authenticated Session.
// Every response is decoded through typed structs; a missing cash figure is
// reported as unknown, never as zero.
type Client struct {
	sess *Session
}

var _ interfaces.Broker = (*Client)(nil)

func NewClient(sess *Session) *Client {
	return &Client{sess: sess}
}

// flexFloat decodes a JSON number that the brokerage serves either bare or
// as a quoted string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return fmt.Errorf("empty number")
	}
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

type balancesResponse struct {
	Result struct {
		MoneyMarketFund   *flexFloat `json:"money_market_fund"`
		TotalAccountValue *flexFloat `json:"total_account_value"`
	} `json:"result"`
	Error string `json:"error"`
}

// Balances returns the account's cash and total value. Known is false when
// the cash field is absent from the response, which callers must treat as a
// failed read rather than an empty account.
func (c *Client) Balances(ctx context.Context) (types.Balances, error) {
	resp, err := c.sess.client.GET(ctx,
		"/account/balances?account="+url.QueryEscape(c.sess.accountID),
		c.sess.authHeaders())
	if err != nil {
		return types.Balances{}, classify("balances", err)
	}

	var br balancesResponse
	if err := resp.ParseJSON(&br); err != nil {
		return types.Balances{}, fmt.Errorf("balances decode: %w", err)
	}
	if br.Error != "" {
		return types.Balances{}, types.Transient("balances", fmt.Errorf("%s", br.Error))
	}

	out := types.Balances{}
	if br.Result.MoneyMarketFund != nil {
		out.Cash = float64(*br.Result.MoneyMarketFund)
		out.Known = true
	}
	if br.Result.TotalAccountValue != nil {
		out.TotalAssets = float64(*br.Result.TotalAccountValue)
	}
	return out, nil
}

type positionsResponse struct {
	Items []struct {
		Symbol    string     `json:"symbol"`
		Quantity  flexFloat  `json:"quantity"`
		UnitPrice *flexFloat `json:"unit_price"`
	} `json:"items"`
	Error string `json:"error"`
}

// Positions returns every holding's signed quantity and average cost.
func (c *Client) Positions(ctx context.Context) (map[string]types.Position, error) {
	resp, err := c.sess.client.GET(ctx,
		"/account/positions?account="+url.QueryEscape(c.sess.accountID),
		c.sess.authHeaders())
	if err != nil {
		return nil, classify("positions", err)
	}

	var pr positionsResponse
	if err := resp.ParseJSON(&pr); err != nil {
		return nil, fmt.Errorf("positions decode: %w", err)
	}
	if pr.Error != "" {
		return nil, types.Transient("positions", fmt.Errorf("%s", pr.Error))
	}

	out := make(map[string]types.Position, len(pr.Items))
	for _, item := range pr.Items {
		if item.Symbol == "" {
			continue
		}
		pos := types.Position{Qty: float64(item.Quantity)}
		if item.UnitPrice != nil {
			pos.AvgPrice = float64(*item.UnitPrice)
		}
		out[item.Symbol] = pos
	}
	return out, nil
}

type ordersResponse struct {
	Items []struct {
		ID         string    `json:"id"`
		Symbol     string    `json:"symbol"`
		Side       string    `json:"transaction"`
		Quantity   flexFloat `json:"quantity"`
		Status     string    `json:"status"`
		Cancelable bool      `json:"cancelable"`
	} `json:"items"`
	Error string `json:"error"`
}

// Orders returns the order book. Cancelable carries the broker's own flag
// through unchanged.
func (c *Client) Orders(ctx context.Context) ([]types.Order, error) {
	resp, err := c.sess.client.GET(ctx,
		"/account/orders?account="+url.QueryEscape(c.sess.accountID),
		c.sess.authHeaders())
	if err != nil {
		return nil, classify("orders", err)
	}

	var or ordersResponse
	if err := resp.ParseJSON(&or); err != nil {
		return nil, fmt.Errorf("orders decode: %w", err)
	}
	if or.Error != "" {
		return nil, types.Transient("orders", fmt.Errorf("%s", or.Error))
	}

	out := make([]types.Order, 0, len(or.Items))
	for _, item := range or.Items {
		out = append(out, types.Order{
			ID:         item.ID,
			Symbol:     item.Symbol,
			Side:       decodeSide(item.Side),
			Qty:        float64(item.Quantity),
			Status:     decodeStatus(item.Status, item.Cancelable),
			Cancelable: item.Cancelable,
		})
	}
	return out, nil
}

type placeOrderResponse struct {
	Result struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	} `json:"result"`
	Error string `json:"error"`
}

// PlaceOrder submits a market day order. Covering a short uses the
// brokerage's buy-to-cover transaction type.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	form := url.Values{
		"account":     {c.sess.accountID},
		"symbol":      {req.Symbol},
		"transaction": {encodeSide(req)},
		"price_type":  {"2"}, // market
		"duration":    {"0"}, // day
		"quantity":    {strconv.FormatFloat(req.Qty, 'f', -1, 64)},
	}
	resp, err := c.sess.client.PostForm(ctx, "/order/place", form, c.sess.authHeaders())
	if err != nil {
		return types.OrderResp{}, classify("place_order", err)
	}

	var pr placeOrderResponse
	if err := resp.ParseJSON(&pr); err != nil {
		return types.OrderResp{}, fmt.Errorf("place order decode: %w", err)
	}
	if pr.Error != "" {
		return types.OrderResp{}, fmt.Errorf("%w: %s", types.ErrOrderRejected, pr.Error)
	}
	if pr.Result.OrderID == "" {
		return types.OrderResp{}, fmt.Errorf("%w: no order id in response", types.ErrOrderRejected)
	}
	return types.OrderResp{
		OrderID: pr.Result.OrderID,
		Status:  pr.Result.Status,
		Message: "ok",
	}, nil
}

// CancelOrder cancels by id. A not-found response means the order already
// reached a terminal state and is treated as success.
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	_, err := c.sess.client.DELETE(ctx,
		"/order/cancel?account="+url.QueryEscape(c.sess.accountID)+"&order="+url.QueryEscape(id),
		c.sess.authHeaders())
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return classify("cancel_order", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var se *api.StatusError
	return errors.As(err, &se) && se.Code == 404
}

// Firstrade transaction codes: B buy, S sell, BC buy to cover, SS sell short.
func encodeSide(req types.OrderReq) string {
	if req.Side == types.SideBuy {
		if req.Cover {
			return "BC"
		}
		return "B"
	}
	return "S"
}

func decodeSide(code string) types.Side {
	switch strings.ToUpper(code) {
	case "S", "SS":
		return types.SideSell
	default:
		return types.SideBuy
	}
}

func decodeStatus(code string, cancelable bool) types.OrderStatus {
	switch strings.ToLower(code) {
	case "filled", "e": // executed
		return types.OrderFilled
	case "cancelled", "canceled", "c":
		return types.OrderCancelled
	case "rejected", "r":
		return types.OrderRejected
	default:
		if cancelable {
			return types.OrderPending
		}
		return types.OrderFilled
	}
}
