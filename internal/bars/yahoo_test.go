package bars

import (
	"context"
	"encoding/json"
	"testing"

	"vwap-band-bot/internal/types"
)

const sampleChart = `{
  "chart": {
    "result": [{
      "meta": {"gmtoffset": -14400, "symbol": "ONDS"},
      "timestamp": [86340, 86400, 86460, 86520],
      "indicators": {
        "quote": [{
          "open":   [9.9, 10.0, null, 10.2],
          "high":   [10.0, 10.5, null, 10.6],
          "low":    [9.8, 9.8, null, 10.1],
          "close":  [9.95, 10.2, null, 10.4],
          "volume": [50, 100, null, 200]
        }]
      }
    }],
    "error": null
  }
}`

func TestChartDecode(t *testing.T) {
	var cr chartResponse
	if err := json.Unmarshal([]byte(sampleChart), &cr); err != nil {
		t.Fatal(err)
	}
	if len(cr.Chart.Result) != 1 {
		t.Fatalf("result count = %d", len(cr.Chart.Result))
	}
	r := cr.Chart.Result[0]
	if r.Meta.Gmtoffset != -14400 || r.Meta.Symbol != "ONDS" {
		t.Errorf("meta = %+v", r.Meta)
	}
	q := r.Indicators.Quote[0]
	if q.Open[2] != nil || q.Volume[2] != nil {
		t.Error("null minutes must decode to nil pointers")
	}
	if *q.Close[1] != 10.2 {
		t.Errorf("close[1] = %v", *q.Close[1])
	}
}

func TestChartErrorPayload(t *testing.T) {
	payload := `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`
	var cr chartResponse
	if err := json.Unmarshal([]byte(payload), &cr); err != nil {
		t.Fatal(err)
	}
	if cr.Chart.Error == nil || cr.Chart.Error.Code != "Not Found" {
		t.Errorf("error = %+v", cr.Chart.Error)
	}
}

func TestLastTradingDayFilter(t *testing.T) {
	// Two exchange-local days with gmtoffset 0: ts 86340 falls on day 0,
	// the rest on day 1.
	all := []types.Bar{
		{Ts: 86340, Close: 9.95, Vol: 50},
		{Ts: 86400, Close: 10.2, Vol: 100},
		{Ts: 86460, Close: 10.3, Vol: 150},
	}
	day := lastTradingDay(all, 0)
	if len(day) != 2 {
		t.Fatalf("kept %d bars, want 2", len(day))
	}
	if day[0].Ts != 86400 {
		t.Errorf("first kept bar ts = %d", day[0].Ts)
	}

	// A negative offset can pull the boundary bars back onto the prior day.
	day = lastTradingDay(all, -14400)
	if len(day) != 3 {
		t.Fatalf("with offset kept %d bars, want all 3 on one local day", len(day))
	}
}

func TestLastTradingDaySorts(t *testing.T) {
	all := []types.Bar{
		{Ts: 86460},
		{Ts: 86400},
	}
	day := lastTradingDay(all, 0)
	if len(day) != 2 || day[0].Ts != 86400 || day[1].Ts != 86460 {
		t.Errorf("bars not sorted: %+v", day)
	}
}

func TestStaticSourceDeterministicAndOrdered(t *testing.T) {
	a, err := NewStaticSource(42).Fetch(context.Background(), "ONDS", "", "")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := NewStaticSource(42).Fetch(context.Background(), "ONDS", "", "")

	if len(a) != staticSessionBars {
		t.Fatalf("bars = %d, want %d", len(a), staticSessionBars)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed diverged at bar %d", i)
		}
		if i > 0 && a[i].Ts <= a[i-1].Ts {
			t.Fatalf("timestamps not strictly increasing at %d", i)
		}
		if a[i].High < a[i].Low || a[i].High < a[i].Close || a[i].Low > a[i].Close {
			t.Fatalf("bar %d OHLC inconsistent: %+v", i, a[i])
		}
	}
}
