package bars

import (
	"context"
	"fmt"
	"sort"
	"time"

	"vwap-band-bot/internal/api"
	"vwap-band-bot/internal/interfaces"
	"vwap-band-bot/internal/logger"
	"vwap-band-bot/internal/types"
)

const yahooChartBase = "https://query1.finance.yahoo.com"

// YahooSource fetches minute bars from the Yahoo Finance v8 chart API and
// filters them to the most recent trading day.
type YahooSource struct {
	client *api.Client
}

var _ interfaces.BarSource = (*YahooSource)(nil)

func NewYahooSource() *YahooSource {
	return &YahooSource{
		client: api.NewClient(
			api.WithBaseURL(yahooChartBase),
			api.WithTimeout(15*time.Second),
		),
	}
}

// chartResponse is the subset of the v8 chart payload we decode. Quote
// arrays use pointers because Yahoo emits JSON nulls for missing minutes.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Gmtoffset int64  `json:"gmtoffset"`
				Symbol    string `json:"symbol"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch pulls up to lookback of 1-minute bars and keeps only the last
// trading day present in the response. Minutes Yahoo reports as null are
// skipped. An empty day is types.ErrDataEmpty.
func (y *YahooSource) Fetch(ctx context.Context, symbol, lookback, interval string) ([]types.Bar, error) {
	if lookback == "" {
		lookback = "5d"
	}
	if interval == "" {
		interval = "1m"
	}

	u := fmt.Sprintf("/v8/finance/chart/%s?range=%s&interval=%s", symbol, lookback, interval)
	resp, err := y.client.GET(ctx, u, api.YahooFinanceHeaders())
	if err != nil {
		return nil, types.Transient("yahoo_chart", err)
	}

	var cr chartResponse
	if err := resp.ParseJSON(&cr); err != nil {
		return nil, fmt.Errorf("yahoo chart decode: %w", err)
	}
	if cr.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart error %s: %s", cr.Chart.Error.Code, cr.Chart.Error.Description)
	}
	if len(cr.Chart.Result) == 0 {
		return nil, types.ErrDataEmpty
	}

	result := cr.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil, types.ErrDataEmpty
	}
	quote := result.Indicators.Quote[0]

	n := len(result.Timestamp)
	for _, arr := range [][]*float64{quote.Open, quote.High, quote.Low, quote.Close, quote.Volume} {
		if len(arr) < n {
			n = len(arr)
		}
	}

	all := make([]types.Bar, 0, n)
	for i, ts := range result.Timestamp[:n] {
		// A null anywhere in the row means the minute had no trade data.
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil ||
			quote.Close[i] == nil || quote.Volume[i] == nil {
			continue
		}
		all = append(all, types.Bar{
			Ts:    ts,
			Open:  *quote.Open[i],
			High:  *quote.High[i],
			Low:   *quote.Low[i],
			Close: *quote.Close[i],
			Vol:   *quote.Volume[i],
		})
	}
	if len(all) == 0 {
		return nil, types.ErrDataEmpty
	}

	day := lastTradingDay(all, result.Meta.Gmtoffset)
	if len(day) == 0 {
		return nil, types.ErrDataEmpty
	}

	logger.Debug(ctx, "Fetched session bars",
		"symbol", symbol, "total", len(all), "session", len(day))
	return day, nil
}

// lastTradingDay keeps only bars on the same exchange-local calendar day as
// the newest bar. Ingest requires strictly increasing timestamps, so the
// slice is sorted first.
func lastTradingDay(all []types.Bar, gmtoffset int64) []types.Bar {
	sort.Slice(all, func(i, j int) bool { return all[i].Ts < all[j].Ts })

	lastDay := localDay(all[len(all)-1].Ts, gmtoffset)
	start := len(all)
	for start > 0 && localDay(all[start-1].Ts, gmtoffset) == lastDay {
		start--
	}
	return all[start:]
}

func localDay(ts, gmtoffset int64) int64 {
	return (ts + gmtoffset) / 86400
}
