package types

// Bar is a single OHLCV minute bar. Ts is a unix timestamp in seconds and
// must be strictly increasing within a session.
type Bar struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
}

// TypicalPrice is the per-bar price used to weight VWAP.
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// Band is the symmetric percentage envelope around VWAP.
type Band struct {
	Deviation float64 `json:"deviation"`
	Upper     float64 `json:"upper"`
	Lower     float64 `json:"lower"`
}

// ExecutionMode selects simulated or real order execution for the whole
// session. It is chosen once at startup and never changes at runtime.
type ExecutionMode string

const (
	ModeSimulated ExecutionMode = "SIM"
	ModeReal      ExecutionMode = "REAL"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SignalKind classifies a trading signal. CLOSE sells (or covers) the entire
// position and takes priority over BUY within a tick.
type SignalKind string

const (
	SignalBuy   SignalKind = "BUY"
	SignalSell  SignalKind = "SELL"
	SignalClose SignalKind = "CLOSE"
)

type Signal struct {
	Kind     SignalKind `json:"kind"`
	Qty      float64    `json:"qty"`
	SourceTs int64      `json:"source_ts"`
	Reason   string     `json:"reason"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Order is a broker-reported order. Cancelable is the broker's own flag and
// is the only authority on whether an order is still open.
type Order struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Qty        float64     `json:"qty"`
	Status     OrderStatus `json:"status"`
	Cancelable bool        `json:"cancelable"`
}

type OrderReq struct {
	Symbol   string
	Side     Side
	Qty      float64
	Kind     string // MARKET
	Duration string // DAY
	Cover    bool   // BUY that closes a short position
	Tag      string
}

type OrderResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Balances is the typed result of the broker's balance endpoint. Known is
// false when the adapter could not locate the cash figure in the response;
// callers must treat such a result as a failed cycle, never as zero cash.
type Balances struct {
	Cash        float64
	TotalAssets float64
	Known       bool
}

// Position is a broker-reported holding: signed quantity plus the broker's
// average cost. AvgPrice is the basis unrealized PnL is marked against; a
// quantity without its basis is not enough to judge profitability.
type Position struct {
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
}

// AccountSnapshot is broker-reported truth, produced only by the account
// poller and replaced wholesale on every successful cycle.
type AccountSnapshot struct {
	Cash        float64             `json:"cash"`
	TotalAssets float64             `json:"total_assets"`
	Positions   map[string]Position `json:"positions"`
	OpenOrders  []Order             `json:"open_orders"`
	FetchedAt   int64               `json:"fetched_at"`
}

// Clone returns a deep copy so readers never alias the poller's maps.
func (s AccountSnapshot) Clone() AccountSnapshot {
	out := s
	out.Positions = make(map[string]Position, len(s.Positions))
	for k, v := range s.Positions {
		out.Positions[k] = v
	}
	out.OpenOrders = make([]Order, len(s.OpenOrders))
	copy(out.OpenOrders, s.OpenOrders)
	return out
}

type EngineState string

const (
	StateIdle    EngineState = "IDLE"
	StateRunning EngineState = "RUNNING"
	StateStopped EngineState = "STOPPED"
)

// TickSnapshot is the read-only view published after every tick for external
// consumers (renderers, journals). It is a value copy; mutating it has no
// effect on the engine.
type TickSnapshot struct {
	Symbol     string      `json:"symbol"`
	Ts         int64       `json:"ts"`
	Price      float64     `json:"price"`
	VWAP       float64     `json:"vwap"`
	Band       Band        `json:"band"`
	Position   float64     `json:"position"`
	AvgPrice   float64     `json:"avg_price"`
	Cash       float64     `json:"cash"`
	PL         float64     `json:"pl"`
	LastSignal *Signal     `json:"last_signal,omitempty"`
	AutoTrade  bool        `json:"auto_trade"`
	State      EngineState `json:"state"`
}
