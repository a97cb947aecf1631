package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bars_ingested_total", Help: "Bars ingested by the VWAP engine"},
		[]string{"symbol"},
	)
	BarsOutOfOrder = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bars_out_of_order_total", Help: "Bars rejected for non-increasing timestamps"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Trading signals emitted"},
		[]string{"symbol", "kind"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted to the executor"},
		[]string{"symbol", "side", "mode"},
	)
	OrderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_failures_total", Help: "Order submissions that failed after retries"},
		[]string{"symbol", "reason"},
	)
	SyncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "account_sync_cycles_total", Help: "Account sync cycles by outcome"},
		[]string{"status"},
	)
	PositionQty = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "position_qty", Help: "Current signed position quantity"},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		BarsTotal, BarsOutOfOrder, SignalsTotal,
		OrdersTotal, OrderFailures, SyncCycles, PositionQty,
	)
}

// Serve exposes /metrics on addr in the background and returns the server so
// the caller can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
